// Package booking drives a customer's order from submission to completion.
//
// The server owns the order. The controller polls it, turns each observed
// status change into exactly one Event, and keeps the background tasks that
// belong to the current order (status poll, location sharing, no-driver
// deadline) alive only while that order is.
package booking

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/example/pet-ride/internal/api"
	"github.com/example/pet-ride/internal/draft"
	"github.com/example/pet-ride/internal/logging"
	"github.com/example/pet-ride/internal/models"
	"github.com/example/pet-ride/internal/observability"
	"github.com/example/pet-ride/internal/places"
	"github.com/example/pet-ride/internal/route"
	"github.com/example/pet-ride/internal/scheduler"
)

const (
	taskPoll     = "booking.poll"
	taskLocation = "booking.location"
	taskDeadline = "booking.deadline"
)

// Backend is the slice of the REST API the controller uses.
type Backend interface {
	CreateOrder(ctx context.Context, req api.CreateOrderRequest) (*models.Order, error)
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	CancelOrder(ctx context.Context, id string) (*models.Order, error)
	ActiveOrder(ctx context.Context, customerID string) (*models.Order, error)
	CreatePayment(ctx context.Context, req api.CreatePaymentRequest) (*models.Payment, error)
	Wallet(ctx context.Context) (*models.Wallet, error)
	PatchCustomerLocation(ctx context.Context, id string, at models.Coord) error
	DriverLocation(ctx context.Context, driverID string) (*models.DriverLocation, error)
}

var _ Backend = (*api.Client)(nil)

type Quoter interface {
	Quote(ctx context.Context, req api.EstimateRequest) (models.Quote, error)
}

type Options struct {
	CustomerID       string
	PollInterval     time.Duration
	LocationInterval time.Duration
	SearchTimeout    time.Duration
	// ShareLocationFor lists the payment methods for which the customer's
	// position is shared while a driver is being found.
	ShareLocationFor []models.PaymentMethod
	MapPadding       route.EdgePadding
}

func (o *Options) withDefaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = 3 * time.Second
	}
	if o.LocationInterval <= 0 {
		o.LocationInterval = 5 * time.Second
	}
	if o.SearchTimeout <= 0 {
		o.SearchTimeout = 300 * time.Second
	}
	if o.ShareLocationFor == nil {
		o.ShareLocationFor = []models.PaymentMethod{models.PayCash}
	}
}

type Controller struct {
	api      Backend
	quoter   Quoter
	draft    *draft.Store
	locator  places.Locator
	sched    *scheduler.Scheduler
	listener Listener
	logger   *slog.Logger
	opts     Options

	mu    sync.Mutex
	state State
	order *models.Order
	last  models.OrderStatus
	// gen changes whenever the tracked order is replaced or dropped. Results
	// carrying an older gen are discarded.
	gen           uint64
	pendingCancel string
}

func NewController(b Backend, q Quoter, store *draft.Store, loc places.Locator, sched *scheduler.Scheduler, l Listener, logger *slog.Logger, opts Options) *Controller {
	opts.withDefaults()
	if l == nil {
		l = ListenerFunc(func(Event) {})
	}
	return &Controller{
		api:      b,
		quoter:   q,
		draft:    store,
		locator:  loc,
		sched:    sched,
		listener: l,
		logger:   logging.OrDefault(logger).With("controller", "booking"),
		opts:     opts,
	}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Order returns a copy of the tracked order, or nil when idle.
func (c *Controller) Order() *models.Order {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.order == nil {
		return nil
	}
	o := *c.order
	return &o
}

func validateDraft(customerID string, s draft.Snapshot) error {
	switch {
	case s.Pickup == nil:
		return &ValidationError{Reason: ErrMissingPickup}
	case s.Dropoff == nil:
		return &ValidationError{Reason: ErrMissingDropoff}
	case s.VehicleType == "":
		return &ValidationError{Reason: ErrMissingVehicle}
	}
	// same rules the create call enforces, checked before anything is sent
	if err := api.Validate(orderRequest(customerID, s, 0)); err != nil {
		return &ValidationError{Reason: err}
	}
	return nil
}

func orderRequest(customerID string, s draft.Snapshot, price float64) api.CreateOrderRequest {
	req := api.CreateOrderRequest{
		CustomerID:     customerID,
		PickupLat:      s.Pickup.Latitude,
		PickupLng:      s.Pickup.Longitude,
		PickupAddress:  s.Pickup.Address,
		DropoffLat:     s.Dropoff.Latitude,
		DropoffLng:     s.Dropoff.Longitude,
		DropoffAddress: s.Dropoff.Address,
		VehicleType:    s.VehicleType,
		PetWeightKg:    s.PetWeightKg,
		PetIDs:         s.PetIDs,
		PassengerCount: s.PassengerCount,
		PaymentMethod:  s.PaymentMethod,
		Price:          price,
	}
	for i, st := range s.Stops {
		req.Stops = append(req.Stops, api.StopInput{OrderIndex: i, Lat: st.Latitude, Lng: st.Longitude, Address: st.Address})
	}
	return req
}

// Book submits the current draft and starts searching for a driver.
// Validation problems return a *ValidationError before any order exists.
func (c *Controller) Book(ctx context.Context) (*models.Order, error) {
	snap := c.draft.Snapshot()
	if err := validateDraft(c.opts.CustomerID, snap); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return nil, ErrActiveOrderExists
	}
	c.gen++
	gen := c.gen
	c.state = StateSearching
	c.mu.Unlock()

	o, err := c.submit(ctx, snap)
	if err != nil {
		c.mu.Lock()
		if c.gen == gen {
			c.state = StateIdle
		}
		c.mu.Unlock()
		return nil, err
	}

	c.mu.Lock()
	if c.gen != gen {
		// closed while the request was in flight
		c.mu.Unlock()
		return o, nil
	}
	c.order = o
	c.last = o.Status
	c.startTracking(gen, o, c.opts.SearchTimeout)
	c.mu.Unlock()

	c.logger.Info("order created", "order_id", o.ID, "price", o.Price, "payment_method", o.PaymentMethod)
	c.emit(Event{Kind: EventSearching, OrderID: o.ID, Order: copyOrder(o)})
	return copyOrder(o), nil
}

func (c *Controller) submit(ctx context.Context, snap draft.Snapshot) (*models.Order, error) {
	active, err := c.api.ActiveOrder(ctx, c.opts.CustomerID)
	if err != nil {
		return nil, fmt.Errorf("check active order: %w", err)
	}
	if active != nil {
		return nil, fmt.Errorf("%w: %s", ErrActiveOrderExists, active.ID)
	}

	var price float64
	q, err := c.quoter.Quote(ctx, api.EstimateRequest{
		PickupLat:   snap.Pickup.Latitude,
		PickupLng:   snap.Pickup.Longitude,
		DropoffLat:  snap.Dropoff.Latitude,
		DropoffLng:  snap.Dropoff.Longitude,
		VehicleType: snap.VehicleType,
		PetWeightKg: snap.PetWeightKg,
	})
	if err != nil {
		return nil, fmt.Errorf("quote: %w", err)
	}
	if q.Authoritative {
		price = q.Price
	}

	if snap.PaymentMethod == models.PayWallet {
		w, err := c.api.Wallet(ctx)
		if err != nil {
			return nil, fmt.Errorf("wallet: %w", err)
		}
		if w.Balance < q.Price {
			return nil, &ValidationError{Reason: ErrInsufficientBalance, Hint: HintTopUp}
		}
	}

	o, err := c.api.CreateOrder(ctx, orderRequest(c.opts.CustomerID, snap, price))
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	if _, err := c.api.CreatePayment(ctx, api.CreatePaymentRequest{OrderID: o.ID, Method: o.PaymentMethod, Amount: o.Price}); err != nil {
		c.logger.Warn("payment record not created", "order_id", o.ID, "error", err)
	}
	return o, nil
}

// Resume adopts the requester's active order, if the server has one. It
// returns nil when there is nothing to resume.
func (c *Controller) Resume(ctx context.Context) (*models.Order, error) {
	o, err := c.api.ActiveOrder(ctx, c.opts.CustomerID)
	if err != nil {
		return nil, fmt.Errorf("active order: %w", err)
	}
	if o == nil || o.Status.IsTerminal() {
		return nil, nil
	}

	c.mu.Lock()
	if c.order != nil && c.order.ID == o.ID {
		c.mu.Unlock()
		return copyOrder(o), nil
	}
	c.stopTasks()
	c.gen++
	gen := c.gen
	c.order = o
	c.last = o.Status
	if o.Status == models.StatusPending {
		c.state = StateSearching
	} else {
		c.state = StateConfirmed
	}
	remaining := c.opts.SearchTimeout
	if !o.CreatedAt.IsZero() {
		remaining -= time.Since(o.CreatedAt)
	}
	c.startTracking(gen, o, remaining)
	c.mu.Unlock()

	c.logger.Info("resuming active order", "order_id", o.ID, "status", o.Status)
	c.emit(Event{Kind: EventResumed, OrderID: o.ID, Order: copyOrder(o)})
	return copyOrder(o), nil
}

// Cancel resets to idle immediately and then asks the server to cancel. On
// failure EventCancelFailed is emitted and calling Cancel again retries.
func (c *Controller) Cancel(ctx context.Context) error {
	c.mu.Lock()
	var id string
	var snapshot *models.Order
	switch {
	case c.order != nil:
		id = c.order.ID
		snapshot = copyOrder(c.order)
		c.resetLocked()
	case c.pendingCancel != "":
		id = c.pendingCancel
	default:
		c.mu.Unlock()
		return ErrNoActiveOrder
	}
	c.pendingCancel = ""
	c.mu.Unlock()

	if snapshot != nil {
		c.draft.Reset()
		c.emit(Event{Kind: EventCancelled, OrderID: id, Order: snapshot})
	}

	if _, err := c.api.CancelOrder(ctx, id); err != nil {
		c.mu.Lock()
		if c.order == nil {
			c.pendingCancel = id
		}
		c.mu.Unlock()
		c.logger.Error("cancel failed", "order_id", id, "error", err)
		c.emit(Event{Kind: EventCancelFailed, OrderID: id, Err: err})
		return fmt.Errorf("cancel order %s: %w", id, err)
	}
	observability.Transitions.WithLabelValues("booking", string(models.StatusCancelled)).Inc()
	return nil
}

// Close stops every task owned by the controller. The draft is kept.
func (c *Controller) Close() {
	c.mu.Lock()
	c.resetLocked()
	c.mu.Unlock()
}

func (c *Controller) startTracking(gen uint64, o *models.Order, deadline time.Duration) {
	c.sched.Every(taskPoll, c.opts.PollInterval, func(ctx context.Context) { c.poll(ctx, gen) })
	switch o.Status {
	case models.StatusPending:
		if c.sharesWhileSearching(o.PaymentMethod) {
			c.startSharing(gen)
		}
		c.startDeadline(gen, deadline)
	case models.StatusArrived:
		c.startSharing(gen)
	}
}

func (c *Controller) startDeadline(gen uint64, d time.Duration) {
	if d < 0 {
		d = 0
	}
	c.sched.After(taskDeadline, d, func(ctx context.Context) { c.deadline(ctx, gen) })
}

func (c *Controller) startSharing(gen uint64) {
	if c.locator == nil {
		return
	}
	c.sched.Every(taskLocation, c.opts.LocationInterval, func(ctx context.Context) { c.shareLocation(ctx, gen) })
}

func (c *Controller) sharesWhileSearching(m models.PaymentMethod) bool {
	for _, x := range c.opts.ShareLocationFor {
		if x == m {
			return true
		}
	}
	return false
}

// startTracking, stopTasks and resetLocked run with c.mu held.
func (c *Controller) stopTasks() {
	c.sched.Stop(taskPoll)
	c.sched.Stop(taskLocation)
	c.sched.Stop(taskDeadline)
}

func (c *Controller) resetLocked() {
	c.stopTasks()
	c.gen++
	c.state = StateIdle
	c.order = nil
	c.last = ""
}

func (c *Controller) current(gen uint64) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen || c.order == nil {
		return "", false
	}
	return c.order.ID, true
}

func (c *Controller) poll(ctx context.Context, gen uint64) {
	id, ok := c.current(gen)
	if !ok {
		return
	}
	o, err := c.api.GetOrder(ctx, id)
	if err != nil {
		observability.OrderPolls.WithLabelValues("booking", "error").Inc()
		c.logger.Warn("order poll failed", "order_id", id, "error", err)
		return
	}
	observability.OrderPolls.WithLabelValues("booking", "ok").Inc()
	ev, after, ok := c.apply(gen, o)
	if !ok {
		return
	}
	if ev.Kind == EventDriverFound {
		ev.Viewport = c.frameDriver(ctx, o)
	}
	// a Cancel, Close or new booking during frameDriver supersedes ev
	if !c.settle(after, ev.Kind == EventCompleted || ev.Kind == EventCancelled) {
		observability.OrderPolls.WithLabelValues("booking", "stale").Inc()
		return
	}
	c.emit(ev)
}

// settle reports whether gen is still current and, if so, clears the draft
// when clear is set. Both happen under c.mu so a booking started in between
// keeps its draft. Draft listeners must not call back into the Controller.
func (c *Controller) settle(gen uint64, clear bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return false
	}
	if clear {
		c.draft.Reset()
	}
	return true
}

// apply folds one order snapshot into the controller. It reports the event
// to emit, if the snapshot changed the observed status, along with the
// generation that event belongs to.
func (c *Controller) apply(gen uint64, o *models.Order) (Event, uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen || c.order == nil || c.order.ID != o.ID {
		observability.OrderPolls.WithLabelValues("booking", "stale").Inc()
		return Event{}, 0, false
	}
	if o.Status == c.last {
		return Event{}, 0, false
	}
	// an acceptance without a driver is not usable yet
	if o.Status == models.StatusAccepted && o.DriverID == "" {
		return Event{}, 0, false
	}

	ev := Event{OrderID: o.ID, Order: copyOrder(o)}
	switch o.Status {
	case models.StatusCancelled:
		ev.Kind = EventCancelled
		c.resetLocked()
	case models.StatusCompleted:
		ev.Kind = EventCompleted
		c.resetLocked()
	case models.StatusPending:
		// the driver gave the job back
		ev.Kind = EventDriverReleased
		c.state = StateSearching
		c.sched.Stop(taskLocation)
		if c.sharesWhileSearching(o.PaymentMethod) {
			c.startSharing(gen)
		}
		c.startDeadline(gen, c.opts.SearchTimeout)
	case models.StatusAccepted:
		ev.Kind = EventDriverFound
		c.state = StateConfirmed
		c.sched.Stop(taskDeadline)
	case models.StatusArrived:
		ev.Kind = EventDriverArrived
		c.state = StateConfirmed
		c.sched.Stop(taskDeadline)
		c.startSharing(gen)
	case models.StatusInProgress:
		ev.Kind = EventTripStarted
		c.state = StateConfirmed
		c.sched.Stop(taskDeadline)
		c.sched.Stop(taskLocation)
	default:
		c.logger.Warn("unknown order status", "order_id", o.ID, "status", o.Status)
		return Event{}, 0, false
	}
	if !o.Status.IsTerminal() {
		c.order = o
		c.last = o.Status
	}
	observability.Transitions.WithLabelValues("booking", string(o.Status)).Inc()
	c.logger.Info("order status changed", "order_id", o.ID, "status", o.Status)
	return ev, c.gen, true
}

func (c *Controller) deadline(ctx context.Context, gen uint64) {
	c.mu.Lock()
	if c.gen != gen || c.state != StateSearching || c.order == nil {
		c.mu.Unlock()
		return
	}
	snapshot := copyOrder(c.order)
	c.resetLocked()
	c.mu.Unlock()

	c.logger.Info("no driver found", "order_id", snapshot.ID, "timeout", c.opts.SearchTimeout)
	// the order is dead either way; leaving it pending would block rebooking
	if _, err := c.api.CancelOrder(ctx, snapshot.ID); err != nil {
		c.logger.Warn("cancel after search timeout failed", "order_id", snapshot.ID, "error", err)
	}
	c.emit(Event{Kind: EventNoDriver, OrderID: snapshot.ID, Order: snapshot})
}

func (c *Controller) shareLocation(ctx context.Context, gen uint64) {
	id, ok := c.current(gen)
	if !ok {
		return
	}
	pos, err := c.locator.CurrentPosition(ctx)
	if err != nil {
		c.logger.Warn("location unavailable", "order_id", id, "error", err)
		return
	}
	if err := c.api.PatchCustomerLocation(ctx, id, pos); err != nil {
		c.logger.Warn("location share failed", "order_id", id, "error", err)
	}
}

func (c *Controller) frameDriver(ctx context.Context, o *models.Order) *route.Viewport {
	pts := []models.Coord{o.Pickup()}
	if d, err := c.api.DriverLocation(ctx, o.DriverID); err != nil {
		c.logger.Warn("driver location unavailable", "order_id", o.ID, "driver_id", o.DriverID, "error", err)
	} else if d != nil {
		pts = append(pts, d.Coord())
	}
	vp, ok := route.FitViewport(pts, c.opts.MapPadding)
	if !ok {
		return nil
	}
	return &vp
}

func (c *Controller) emit(e Event) {
	c.listener.OnEvent(e)
}

func copyOrder(o *models.Order) *models.Order {
	if o == nil {
		return nil
	}
	out := *o
	out.Stops = append([]models.Stop(nil), o.Stops...)
	return &out
}
