package booking

import (
	"github.com/example/pet-ride/internal/models"
	"github.com/example/pet-ride/internal/route"
)

type State int

const (
	StateIdle State = iota
	StateSearching
	StateConfirmed
)

func (s State) String() string {
	switch s {
	case StateSearching:
		return "searching"
	case StateConfirmed:
		return "confirmed"
	default:
		return "idle"
	}
}

type EventKind string

const (
	EventSearching      EventKind = "searching"
	EventResumed        EventKind = "resumed"
	EventDriverFound    EventKind = "driver_found"
	EventDriverReleased EventKind = "driver_released"
	EventDriverArrived  EventKind = "driver_arrived"
	EventTripStarted    EventKind = "trip_started"
	EventCompleted      EventKind = "completed"
	EventCancelled      EventKind = "cancelled"
	EventNoDriver       EventKind = "no_driver"
	EventCancelFailed   EventKind = "cancel_failed"
)

// Event is delivered once per observed transition. Order is a copy of the
// snapshot that caused it.
type Event struct {
	Kind    EventKind
	OrderID string
	Order   *models.Order
	// Viewport is set on EventDriverFound and frames pickup and driver.
	Viewport *route.Viewport
	Err      error
}

type Listener interface {
	OnEvent(Event)
}

type ListenerFunc func(Event)

func (f ListenerFunc) OnEvent(e Event) { f(e) }
