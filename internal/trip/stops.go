package trip

import (
	"errors"
	"fmt"
	"sort"

	"github.com/example/pet-ride/internal/models"
)

var ErrInvalidStopTransition = errors.New("invalid stop transition")

// StopEvent is a driver action on a single stop.
type StopEvent string

const (
	StopArrive StopEvent = "arrive"
	StopDepart StopEvent = "depart"
)

var stopTransitions = map[models.StopStatus]map[StopEvent]models.StopStatus{
	models.StopPending: {StopArrive: models.StopArrived},
	models.StopArrived: {StopDepart: models.StopDeparted},
}

// TransitionStop applies ev to a stop in status from. Statuses only move
// forward; anything else is ErrInvalidStopTransition.
func TransitionStop(from models.StopStatus, ev StopEvent) (models.StopStatus, error) {
	if from == "" {
		from = models.StopPending
	}
	to, ok := stopTransitions[from][ev]
	if !ok {
		return from, fmt.Errorf("%w: %s from %s", ErrInvalidStopTransition, ev, from)
	}
	return to, nil
}

// EventFor is the event that moves a stop out of status s. Departed stops
// have none.
func EventFor(s models.StopStatus) (StopEvent, bool) {
	switch s {
	case "", models.StopPending:
		return StopArrive, true
	case models.StopArrived:
		return StopDepart, true
	}
	return "", false
}

// NextStop is the first stop, by ascending order_index, that has not been
// departed. Only this stop may change status.
func NextStop(stops []models.Stop) (models.Stop, bool) {
	sorted := make([]models.Stop, len(stops))
	copy(sorted, stops)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].OrderIndex < sorted[j].OrderIndex })
	for _, s := range sorted {
		if s.Status != models.StopDeparted {
			return s, true
		}
	}
	return models.Stop{}, false
}

// StopPlan is the next stop action for an order.
type StopPlan struct {
	Stop  models.Stop
	Event StopEvent
	To    models.StopStatus
	// Geofenced is true when the action needs the driver at the stop.
	Geofenced bool
}

// PlanStop works out the only stop action currently allowed. ok is false
// once every stop is departed, including when there are no stops.
func PlanStop(stops []models.Stop) (StopPlan, bool, error) {
	next, ok := NextStop(stops)
	if !ok {
		return StopPlan{}, false, nil
	}
	ev, ok := EventFor(next.Status)
	if !ok {
		return StopPlan{}, false, fmt.Errorf("%w: stop %s has status %q", ErrInvalidStopTransition, next.ID, next.Status)
	}
	to, err := TransitionStop(next.Status, ev)
	if err != nil {
		return StopPlan{}, false, err
	}
	return StopPlan{Stop: next, Event: ev, To: to, Geofenced: ev == StopArrive}, true, nil
}

// CheckStopUpdate verifies that moving stopID to status to is the allowed
// next step for stops.
func CheckStopUpdate(stops []models.Stop, stopID string, to models.StopStatus) error {
	plan, ok, err := PlanStop(stops)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: all stops departed", ErrInvalidStopTransition)
	}
	if plan.Stop.ID != stopID {
		return fmt.Errorf("%w: stop %s must be handled before %s", ErrInvalidStopTransition, plan.Stop.ID, stopID)
	}
	if plan.To != to {
		return fmt.Errorf("%w: stop %s is %s, cannot become %s", ErrInvalidStopTransition, stopID, plan.Stop.Status, to)
	}
	return nil
}

// WithStopStatus returns a copy of stops with stopID set to status.
func WithStopStatus(stops []models.Stop, stopID string, status models.StopStatus) []models.Stop {
	out := make([]models.Stop, len(stops))
	copy(out, stops)
	for i := range out {
		if out[i].ID == stopID {
			out[i].Status = status
		}
	}
	return out
}
