// Package trip is the driver side of an order: previewing pending jobs,
// accepting one, and walking it through pickup, stops and dropoff.
package trip

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/example/pet-ride/internal/api"
	"github.com/example/pet-ride/internal/geo"
	"github.com/example/pet-ride/internal/logging"
	"github.com/example/pet-ride/internal/models"
	"github.com/example/pet-ride/internal/observability"
	"github.com/example/pet-ride/internal/places"
	"github.com/example/pet-ride/internal/scheduler"
)

const (
	taskJobPoll     = "trip.poll"
	taskLocation    = "trip.location"
	taskPaymentSync = "trip.payment"
)

var (
	ErrWrongStatus    = errors.New("action not allowed in the job's current status")
	ErrStopsRemaining = errors.New("stops remain before dropoff")
	ErrNotCollecting  = errors.New("no cash payment is being collected")
)

type Backend interface {
	PendingOrders(ctx context.Context, at models.Coord) ([]models.Order, error)
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	AcceptOrder(ctx context.Context, id string) (*models.Order, error)
	DeclineOrder(ctx context.Context, id string) (*models.Order, error)
	SetOrderStatus(ctx context.Context, id string, status models.OrderStatus) (*models.Order, error)
	PickupOrder(ctx context.Context, id string) (*models.Order, error)
	CompleteOrder(ctx context.Context, id string) (*models.Order, error)
	UpdateStopStatus(ctx context.Context, orderID, stopID string, status models.StopStatus) (*models.Order, error)
	PutMyLocation(ctx context.Context, at models.Coord) error
	SetDriverStatus(ctx context.Context, online bool) error
}

var _ Backend = (*api.Client)(nil)

type EventKind string

const (
	EventJobAccepted     EventKind = "job_accepted"
	EventArrived         EventKind = "arrived"
	EventTripStarted     EventKind = "trip_started"
	EventStopArrived     EventKind = "stop_arrived"
	EventStopDeparted    EventKind = "stop_departed"
	EventCollectCash     EventKind = "collect_cash"
	EventShowPromptPay   EventKind = "show_promptpay"
	EventPaymentReceived EventKind = "payment_received"
	EventJobCompleted    EventKind = "job_completed"
	// EventJobCancelled and EventJobReleased send the driver home.
	EventJobCancelled EventKind = "job_cancelled"
	EventJobReleased  EventKind = "job_released"
)

type Event struct {
	Kind    EventKind
	OrderID string
	Order   *models.Order
	Stop    *models.Stop
	// Amount is set when the driver collects or shows a payment.
	Amount float64
}

type Listener interface {
	OnEvent(Event)
}

type ListenerFunc func(Event)

func (f ListenerFunc) OnEvent(e Event) { f(e) }

type Options struct {
	PollInterval        time.Duration
	LocationInterval    time.Duration
	PaymentSyncInterval time.Duration
	GeofenceRadiusM     float64
}

func (o *Options) withDefaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = 5 * time.Second
	}
	if o.LocationInterval <= 0 {
		o.LocationInterval = 5 * time.Second
	}
	if o.PaymentSyncInterval <= 0 {
		o.PaymentSyncInterval = 3 * time.Second
	}
	if o.GeofenceRadiusM <= 0 {
		o.GeofenceRadiusM = geo.DefaultRadiusM
	}
}

type Controller struct {
	api      Backend
	jobs     *JobStore
	locator  places.Locator
	sched    *scheduler.Scheduler
	listener Listener
	logger   *slog.Logger
	opts     Options

	mu         sync.Mutex
	gen        uint64
	collecting bool
	online     bool
}

func NewController(b Backend, jobs *JobStore, loc places.Locator, sched *scheduler.Scheduler, l Listener, logger *slog.Logger, opts Options) *Controller {
	opts.withDefaults()
	if l == nil {
		l = ListenerFunc(func(Event) {})
	}
	return &Controller{
		api:      b,
		jobs:     jobs,
		locator:  loc,
		sched:    sched,
		listener: l,
		logger:   logging.OrDefault(logger).With("controller", "trip"),
		opts:     opts,
	}
}

func (c *Controller) Jobs() *JobStore { return c.jobs }

// SetOnline toggles availability. While online the driver's position is
// pushed on an interval.
func (c *Controller) SetOnline(ctx context.Context, online bool) error {
	if err := c.api.SetDriverStatus(ctx, online); err != nil {
		return fmt.Errorf("set driver status: %w", err)
	}
	c.mu.Lock()
	c.online = online
	c.mu.Unlock()
	if online {
		c.pushLocation(ctx)
		c.sched.Every(taskLocation, c.opts.LocationInterval, c.pushLocation)
	} else {
		c.sched.Stop(taskLocation)
	}
	c.logger.Info("driver availability changed", "online", online)
	return nil
}

func (c *Controller) Online() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

func (c *Controller) pushLocation(ctx context.Context) {
	pos, err := c.locator.CurrentPosition(ctx)
	if err != nil {
		c.logger.Warn("location unavailable", "error", err)
		return
	}
	if err := c.api.PutMyLocation(ctx, pos); err != nil {
		c.logger.Warn("location push failed", "error", err)
	}
}

// RefreshPending reloads the jobs a driver can preview, ranked for their
// current position.
func (c *Controller) RefreshPending(ctx context.Context) ([]models.Order, error) {
	pos, err := c.locator.CurrentPosition(ctx)
	if err != nil {
		return nil, fmt.Errorf("device position: %w", err)
	}
	jobs, err := c.api.PendingOrders(ctx, pos)
	if err != nil {
		return nil, fmt.Errorf("pending orders: %w", err)
	}
	c.jobs.SetPending(jobs)
	return c.jobs.Pending(), nil
}

// Accept claims a previewed job. Only one job may be active.
func (c *Controller) Accept(ctx context.Context, orderID string) (*models.Order, error) {
	if c.jobs.HasActive() {
		return nil, ErrJobAlreadyActive
	}
	o, err := c.api.AcceptOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("accept %s: %w", orderID, err)
	}
	if err := c.jobs.Activate(*o); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.collecting = false
	c.sched.Every(taskJobPoll, c.opts.PollInterval, func(ctx context.Context) { c.poll(ctx, gen) })
	c.mu.Unlock()

	c.transitioned(o)
	c.emit(Event{Kind: EventJobAccepted, OrderID: o.ID, Order: o})
	return o, nil
}

func (c *Controller) Decline(ctx context.Context, orderID string) error {
	if _, err := c.api.DeclineOrder(ctx, orderID); err != nil {
		return fmt.Errorf("decline %s: %w", orderID, err)
	}
	c.jobs.Remove(orderID)
	return nil
}

// active returns the active job and checks it is in status want.
func (c *Controller) active(want models.OrderStatus) (models.Order, error) {
	o, ok := c.jobs.Active()
	if !ok {
		return models.Order{}, ErrNoActiveJob
	}
	if o.Status != want {
		return o, fmt.Errorf("%w: job %s is %s", ErrWrongStatus, o.ID, o.Status)
	}
	return o, nil
}

// checkProximity gates an action on the driver being near target. kind
// labels the rejection metric.
func (c *Controller) checkProximity(ctx context.Context, kind, name string, target models.Coord) error {
	pos, err := c.locator.CurrentPosition(ctx)
	if err != nil {
		return fmt.Errorf("device position: %w", err)
	}
	d, err := geo.CheckGeofence(name, pos, target, c.opts.GeofenceRadiusM)
	if err != nil {
		observability.GeofenceRejections.WithLabelValues(kind).Inc()
		c.logger.Info("action rejected by geofence", "target", name, "distance_m", d)
		return err
	}
	return nil
}

// MarkArrived records arrival at pickup. The driver must be within the
// geofence radius of the pickup point.
func (c *Controller) MarkArrived(ctx context.Context) (*models.Order, error) {
	gen := c.generation()
	job, err := c.active(models.StatusAccepted)
	if err != nil {
		return nil, err
	}
	if err := c.checkProximity(ctx, "pickup", "pickup", job.Pickup()); err != nil {
		return nil, err
	}
	o, err := c.api.SetOrderStatus(ctx, job.ID, models.StatusArrived)
	if err != nil {
		return nil, fmt.Errorf("mark arrived: %w", err)
	}
	if err := c.commit(gen, o); err != nil {
		return nil, err
	}
	c.emit(Event{Kind: EventArrived, OrderID: o.ID, Order: o})
	return o, nil
}

// StartTrip picks up the pets and starts the ride.
func (c *Controller) StartTrip(ctx context.Context) (*models.Order, error) {
	gen := c.generation()
	job, err := c.active(models.StatusArrived)
	if err != nil {
		return nil, err
	}
	o, err := c.api.PickupOrder(ctx, job.ID)
	if err != nil {
		return nil, fmt.Errorf("pickup: %w", err)
	}
	if err := c.commit(gen, o); err != nil {
		return nil, err
	}
	c.emit(Event{Kind: EventTripStarted, OrderID: o.ID, Order: o})
	return o, nil
}

// AdvanceStop performs the next allowed stop action: arriving at the next
// stop (geofenced) or departing the stop the driver is at.
func (c *Controller) AdvanceStop(ctx context.Context) (*models.Stop, error) {
	gen := c.generation()
	job, err := c.active(models.StatusInProgress)
	if err != nil {
		return nil, err
	}
	plan, ok, err := PlanStop(job.Stops)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: no stops left on job %s", ErrInvalidStopTransition, job.ID)
	}
	if plan.Geofenced {
		name := fmt.Sprintf("stop %d", plan.Stop.OrderIndex+1)
		if err := c.checkProximity(ctx, "stop", name, plan.Stop.Coord()); err != nil {
			return nil, err
		}
	}
	o, err := c.api.UpdateStopStatus(ctx, job.ID, plan.Stop.ID, plan.To)
	if err != nil {
		return nil, fmt.Errorf("update stop %s: %w", plan.Stop.ID, err)
	}
	if len(o.Stops) == 0 {
		// some backends answer without the stop list
		o.Stops = WithStopStatus(job.Stops, plan.Stop.ID, plan.To)
	}
	if err := c.commit(gen, o); err != nil {
		return nil, err
	}

	stop := plan.Stop
	stop.Status = plan.To
	kind := EventStopArrived
	if plan.To == models.StopDeparted {
		kind = EventStopDeparted
	}
	c.emit(Event{Kind: kind, OrderID: o.ID, Order: o, Stop: &stop})
	return &stop, nil
}

// Complete finishes the ride at dropoff. Every stop must be departed and the
// driver must be at the dropoff point. Cash jobs wait for
// ConfirmCashCollected; PromptPay jobs complete and then wait for payment.
func (c *Controller) Complete(ctx context.Context) (*models.Order, error) {
	gen := c.generation()
	job, err := c.active(models.StatusInProgress)
	if err != nil {
		return nil, err
	}
	if plan, ok, err := PlanStop(job.Stops); err != nil {
		return nil, err
	} else if ok {
		return nil, fmt.Errorf("%w: stop %s is %s", ErrStopsRemaining, plan.Stop.ID, plan.Stop.Status)
	}
	if err := c.checkProximity(ctx, "dropoff", "dropoff", job.Dropoff()); err != nil {
		return nil, err
	}

	if job.PaymentMethod == models.PayCash {
		c.mu.Lock()
		if c.gen != gen {
			c.mu.Unlock()
			return nil, ended(job.ID)
		}
		c.collecting = true
		c.mu.Unlock()
		c.emit(Event{Kind: EventCollectCash, OrderID: job.ID, Order: &job, Amount: job.Price})
		return &job, nil
	}

	o, err := c.api.CompleteOrder(ctx, job.ID)
	if err != nil {
		return nil, fmt.Errorf("complete: %w", err)
	}
	if err := c.commit(gen, o); err != nil {
		return nil, err
	}
	if o.PaymentMethod == models.PayPromptPay && o.PaymentStatus != models.PaymentPaid {
		c.awaitPromptPay(gen, o)
		return o, nil
	}
	c.finish(Event{Kind: EventJobCompleted, OrderID: o.ID, Order: o})
	return o, nil
}

// ConfirmCashCollected completes a cash job once the driver has the money.
func (c *Controller) ConfirmCashCollected(ctx context.Context) (*models.Order, error) {
	c.mu.Lock()
	collecting := c.collecting
	gen := c.gen
	c.mu.Unlock()
	if !collecting {
		return nil, ErrNotCollecting
	}
	job, err := c.active(models.StatusInProgress)
	if err != nil {
		return nil, err
	}
	o, err := c.api.CompleteOrder(ctx, job.ID)
	if err != nil {
		return nil, fmt.Errorf("complete: %w", err)
	}
	if err := c.commit(gen, o); err != nil {
		return nil, err
	}
	c.finish(Event{Kind: EventJobCompleted, OrderID: o.ID, Order: o, Amount: o.Price})
	return o, nil
}

func (c *Controller) awaitPromptPay(gen uint64, o *models.Order) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.sched.Stop(taskJobPoll)
	id := o.ID
	c.sched.Every(taskPaymentSync, c.opts.PaymentSyncInterval, func(ctx context.Context) { c.syncPayment(ctx, gen, id) })
	c.mu.Unlock()
	c.emit(Event{Kind: EventShowPromptPay, OrderID: o.ID, Order: o, Amount: o.Price})
}

func (c *Controller) syncPayment(ctx context.Context, gen uint64, id string) {
	if !c.current(gen) {
		return
	}
	o, err := c.api.GetOrder(ctx, id)
	if err != nil {
		c.logger.Warn("payment sync failed", "order_id", id, "error", err)
		return
	}
	if o.PaymentStatus != models.PaymentPaid || !c.current(gen) {
		return
	}
	c.logger.Info("promptpay payment received", "order_id", id)
	c.finish(Event{Kind: EventPaymentReceived, OrderID: id, Order: o, Amount: o.Price})
}

func (c *Controller) generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

func (c *Controller) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen == gen
}

func (c *Controller) poll(ctx context.Context, gen uint64) {
	job, rev, ok := c.jobs.ActiveRev()
	if !ok || !c.current(gen) {
		return
	}
	o, err := c.api.GetOrder(ctx, job.ID)
	if err != nil {
		observability.OrderPolls.WithLabelValues("trip", "error").Inc()
		c.logger.Warn("job poll failed", "order_id", job.ID, "error", err)
		return
	}
	observability.OrderPolls.WithLabelValues("trip", "ok").Inc()
	if !c.current(gen) {
		observability.OrderPolls.WithLabelValues("trip", "stale").Inc()
		return
	}
	switch o.Status {
	case models.StatusCancelled:
		c.logger.Info("customer cancelled the job", "order_id", o.ID)
		c.transitioned(o)
		c.finish(Event{Kind: EventJobCancelled, OrderID: o.ID, Order: o})
	case models.StatusPending:
		c.logger.Info("job returned to pending", "order_id", o.ID)
		c.transitioned(o)
		c.finish(Event{Kind: EventJobReleased, OrderID: o.ID, Order: o})
	default:
		// a driver action may have landed while the poll was in flight
		if !c.jobs.UpdateActiveAt(*o, rev) {
			observability.OrderPolls.WithLabelValues("trip", "stale").Inc()
		}
	}
}

// commit saves a driver action's response as the active job. It fails when
// the job was cancelled, released or closed while the request was in flight,
// and the action must then emit nothing.
func (c *Controller) commit(gen uint64, o *models.Order) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen || !c.jobs.UpdateActive(*o) {
		c.logger.Info("response for an ended job dropped", "order_id", o.ID, "status", o.Status)
		return ended(o.ID)
	}
	c.transitioned(o)
	return nil
}

func ended(id string) error {
	return fmt.Errorf("%w: job %s ended while the request was in flight", ErrNoActiveJob, id)
}

func (c *Controller) transitioned(o *models.Order) {
	observability.Transitions.WithLabelValues("trip", string(o.Status)).Inc()
	c.logger.Info("job status", "order_id", o.ID, "status", o.Status)
}

// finish clears the active job and its tasks, then emits e.
func (c *Controller) finish(e Event) {
	c.mu.Lock()
	c.gen++
	c.collecting = false
	c.sched.Stop(taskJobPoll)
	c.sched.Stop(taskPaymentSync)
	c.mu.Unlock()
	c.jobs.ClearActive()
	c.emit(e)
}

// Close stops job tracking and location pushes.
func (c *Controller) Close() {
	c.mu.Lock()
	c.gen++
	c.sched.Stop(taskJobPoll)
	c.sched.Stop(taskPaymentSync)
	c.sched.Stop(taskLocation)
	c.mu.Unlock()
}

func (c *Controller) emit(e Event) {
	c.listener.OnEvent(e)
}
