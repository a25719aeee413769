package trip

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/pet-ride/internal/geo"
	"github.com/example/pet-ride/internal/models"
	"github.com/example/pet-ride/internal/places"
	"github.com/example/pet-ride/internal/scheduler"
)

// metersNorth is roughly one meter of latitude in degrees.
const metersNorth = 1 / 111195.0

type fakeBackend struct {
	mu     sync.Mutex
	orders map[string]*models.Order
	calls  []string
	pushes int
	online bool

	// when set, SetOrderStatus signals statusEntered and waits for statusGate
	statusEntered chan struct{}
	statusGate    chan struct{}
}

func newFakeBackend(orders ...models.Order) *fakeBackend {
	f := &fakeBackend{orders: map[string]*models.Order{}}
	for i := range orders {
		o := orders[i]
		f.orders[o.ID] = &o
	}
	return f
}

func (f *fakeBackend) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *fakeBackend) snapshot(id string) (*models.Order, error) {
	o, ok := f.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s not found", id)
	}
	cp := *o
	cp.Stops = append([]models.Stop(nil), o.Stops...)
	return &cp, nil
}

func (f *fakeBackend) set(id string, fn func(o *models.Order)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f.orders[id])
}

func (f *fakeBackend) PendingOrders(context.Context, models.Coord) ([]models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Order
	for _, o := range f.orders {
		if o.Status == models.StatusPending {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (f *fakeBackend) GetOrder(_ context.Context, id string) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshot(id)
}

func (f *fakeBackend) setStatus(id string, s models.OrderStatus, call string) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(call)
	o, ok := f.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s not found", id)
	}
	o.Status = s
	return f.snapshot(id)
}

func (f *fakeBackend) AcceptOrder(_ context.Context, id string) (*models.Order, error) {
	f.set(id, func(o *models.Order) { o.DriverID = "d1" })
	return f.setStatus(id, models.StatusAccepted, "accept")
}

func (f *fakeBackend) DeclineOrder(_ context.Context, id string) (*models.Order, error) {
	f.mu.Lock()
	f.record("decline")
	f.mu.Unlock()
	return f.GetOrder(context.Background(), id)
}

func (f *fakeBackend) SetOrderStatus(_ context.Context, id string, s models.OrderStatus) (*models.Order, error) {
	if f.statusGate != nil {
		f.statusEntered <- struct{}{}
		<-f.statusGate
	}
	return f.setStatus(id, s, "status:"+string(s))
}

func (f *fakeBackend) PickupOrder(_ context.Context, id string) (*models.Order, error) {
	return f.setStatus(id, models.StatusInProgress, "pickup")
}

func (f *fakeBackend) CompleteOrder(_ context.Context, id string) (*models.Order, error) {
	return f.setStatus(id, models.StatusCompleted, "complete")
}

func (f *fakeBackend) UpdateStopStatus(_ context.Context, orderID, stopID string, s models.StopStatus) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("stop:" + stopID + ":" + string(s))
	o := f.orders[orderID]
	o.Stops = WithStopStatus(o.Stops, stopID, s)
	return f.snapshot(orderID)
}

func (f *fakeBackend) PutMyLocation(context.Context, models.Coord) error {
	f.mu.Lock()
	f.pushes++
	f.mu.Unlock()
	return nil
}

func (f *fakeBackend) SetDriverStatus(_ context.Context, online bool) error {
	f.mu.Lock()
	f.online = online
	f.mu.Unlock()
	return nil
}

func (f *fakeBackend) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) OnEvent(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) has(k EventKind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.Kind == k {
			return true
		}
	}
	return false
}

func (r *recorder) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []EventKind
	for _, e := range r.events {
		out = append(out, e.Kind)
	}
	return out
}

var (
	pickup  = models.Coord{Lat: 13.75, Lng: 100.50}
	stopA   = models.Coord{Lat: 13.755, Lng: 100.505}
	stopB   = models.Coord{Lat: 13.757, Lng: 100.51}
	dropoff = models.Coord{Lat: 13.76, Lng: 100.52}
)

func job(id string, method models.PaymentMethod, stops ...models.Stop) models.Order {
	return models.Order{
		ID: id, CustomerID: "c1", Status: models.StatusPending, Price: 150, PaymentMethod: method,
		PickupLat: pickup.Lat, PickupLng: pickup.Lng, DropoffLat: dropoff.Lat, DropoffLng: dropoff.Lng,
		Stops: stops,
	}
}

type harness struct {
	c       *Controller
	backend *fakeBackend
	gps     *places.StaticLocator
	sched   *scheduler.Scheduler
	events  *recorder
}

func newHarness(t *testing.T, orders ...models.Order) *harness {
	t.Helper()
	b := newFakeBackend(orders...)
	gps := places.NewStaticLocator(pickup)
	sched := scheduler.New(nil)
	t.Cleanup(sched.Close)
	rec := &recorder{}
	c := NewController(b, NewJobStore(), gps, sched, rec, nil, Options{
		PollInterval:        10 * time.Millisecond,
		LocationInterval:    10 * time.Millisecond,
		PaymentSyncInterval: 10 * time.Millisecond,
	})
	return &harness{c: c, backend: b, gps: gps, sched: sched, events: rec}
}

func TestMarkArrived_RejectedAt250m(t *testing.T) {
	h := newHarness(t, job("o1", models.PayCash))
	ctx := context.Background()
	_, err := h.c.Accept(ctx, "o1")
	require.NoError(t, err)

	h.gps.Move(models.Coord{Lat: pickup.Lat + 250*metersNorth, Lng: pickup.Lng})
	_, err = h.c.MarkArrived(ctx)
	var gerr *geo.GeofenceError
	require.ErrorAs(t, err, &gerr)
	assert.InDelta(t, 250, gerr.DistanceM, 1)
	assert.Equal(t, "pickup", gerr.Target)

	active, _ := h.c.Jobs().Active()
	assert.Equal(t, models.StatusAccepted, active.Status)
	assert.NotContains(t, h.backend.callLog(), "status:arrived")

	h.gps.Move(models.Coord{Lat: pickup.Lat + 150*metersNorth, Lng: pickup.Lng})
	o, err := h.c.MarkArrived(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.StatusArrived, o.Status)
}

func TestWalkthrough_StopsInOrderThenCash(t *testing.T) {
	h := newHarness(t, job("o1", models.PayCash,
		models.Stop{ID: "b", OrderIndex: 1, Lat: stopB.Lat, Lng: stopB.Lng, Status: models.StopPending},
		models.Stop{ID: "a", OrderIndex: 0, Lat: stopA.Lat, Lng: stopA.Lng, Status: models.StopPending},
	))
	ctx := context.Background()

	pending, err := h.c.RefreshPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	_, err = h.c.Accept(ctx, "o1")
	require.NoError(t, err)
	assert.Empty(t, h.c.Jobs().Pending())
	assert.True(t, h.sched.Active(taskJobPoll))

	_, err = h.c.StartTrip(ctx)
	assert.ErrorIs(t, err, ErrWrongStatus, "pickup requires arrival first")

	_, err = h.c.MarkArrived(ctx)
	require.NoError(t, err)
	_, err = h.c.StartTrip(ctx)
	require.NoError(t, err)

	_, err = h.c.Complete(ctx)
	assert.ErrorIs(t, err, ErrStopsRemaining)

	// still at pickup: stop a is ~800m away
	_, err = h.c.AdvanceStop(ctx)
	var gerr *geo.GeofenceError
	require.ErrorAs(t, err, &gerr)

	h.gps.Move(stopA)
	s, err := h.c.AdvanceStop(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", s.ID)
	assert.Equal(t, models.StopArrived, s.Status)

	// departing needs no fresh proximity check
	h.gps.Move(dropoff)
	s, err = h.c.AdvanceStop(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.StopDeparted, s.Status)

	_, err = h.c.AdvanceStop(ctx)
	require.ErrorAs(t, err, &gerr, "stop b needs the driver there")
	h.gps.Move(stopB)
	_, err = h.c.AdvanceStop(ctx)
	require.NoError(t, err)
	_, err = h.c.AdvanceStop(ctx)
	require.NoError(t, err)

	_, err = h.c.Complete(ctx)
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, "dropoff", gerr.Target)

	h.gps.Move(dropoff)
	_, err = h.c.Complete(ctx)
	require.NoError(t, err)
	assert.True(t, h.events.has(EventCollectCash))
	assert.NotContains(t, h.backend.callLog(), "complete", "cash is collected before completion")

	o, err := h.c.ConfirmCashCollected(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, o.Status)
	assert.False(t, h.c.Jobs().HasActive())
	assert.False(t, h.sched.Active(taskJobPoll))

	assert.Equal(t, []string{
		"accept", "status:arrived", "pickup",
		"stop:a:arrived", "stop:a:departed", "stop:b:arrived", "stop:b:departed",
		"complete",
	}, h.backend.callLog())
	_, err = h.c.ConfirmCashCollected(ctx)
	assert.ErrorIs(t, err, ErrNotCollecting)
}

func (h *harness) driveToDropoff(t *testing.T, id string) {
	t.Helper()
	ctx := context.Background()
	_, err := h.c.Accept(ctx, id)
	require.NoError(t, err)
	_, err = h.c.MarkArrived(ctx)
	require.NoError(t, err)
	_, err = h.c.StartTrip(ctx)
	require.NoError(t, err)
	h.gps.Move(dropoff)
}

func TestComplete_PromptPayWaitsForPayment(t *testing.T) {
	h := newHarness(t, job("o1", models.PayPromptPay))
	h.driveToDropoff(t, "o1")

	o, err := h.c.Complete(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, o.Status)
	assert.True(t, h.events.has(EventShowPromptPay))
	assert.True(t, h.sched.Active(taskPaymentSync))
	assert.False(t, h.sched.Active(taskJobPoll))

	time.Sleep(30 * time.Millisecond)
	assert.False(t, h.events.has(EventPaymentReceived))

	h.backend.set("o1", func(o *models.Order) { o.PaymentStatus = models.PaymentPaid })
	require.Eventually(t, func() bool { return h.events.has(EventPaymentReceived) }, time.Second, 5*time.Millisecond)
	assert.False(t, h.c.Jobs().HasActive())
	assert.False(t, h.sched.Active(taskPaymentSync))
}

func TestComplete_WalletCompletesImmediately(t *testing.T) {
	h := newHarness(t, job("o1", models.PayWallet))
	h.driveToDropoff(t, "o1")

	_, err := h.c.Complete(context.Background())
	require.NoError(t, err)
	assert.Equal(t, EventJobCompleted, h.events.kinds()[len(h.events.kinds())-1])
	assert.False(t, h.c.Jobs().HasActive())
	assert.Zero(t, h.sched.Len())
}

func TestPoll_DetectsCustomerCancellation(t *testing.T) {
	h := newHarness(t, job("o1", models.PayCard))
	_, err := h.c.Accept(context.Background(), "o1")
	require.NoError(t, err)

	h.backend.set("o1", func(o *models.Order) { o.Status = models.StatusCancelled })
	require.Eventually(t, func() bool { return h.events.has(EventJobCancelled) }, time.Second, 5*time.Millisecond)
	assert.False(t, h.c.Jobs().HasActive())
	assert.False(t, h.sched.Active(taskJobPoll))

	_, err = h.c.MarkArrived(context.Background())
	assert.ErrorIs(t, err, ErrNoActiveJob)
}

func TestMarkArrived_DroppedWhenCancelledInFlight(t *testing.T) {
	h := newHarness(t, job("o1", models.PayCash))
	_, err := h.c.Accept(context.Background(), "o1")
	require.NoError(t, err)

	h.backend.statusEntered = make(chan struct{}, 1)
	h.backend.statusGate = make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := h.c.MarkArrived(context.Background())
		done <- err
	}()
	select {
	case <-h.backend.statusEntered:
	case <-time.After(time.Second):
		t.Fatal("arrival was never sent")
	}

	h.backend.set("o1", func(o *models.Order) { o.Status = models.StatusCancelled })
	require.Eventually(t, func() bool { return h.events.has(EventJobCancelled) }, time.Second, 5*time.Millisecond)
	close(h.backend.statusGate)

	select {
	case err = <-done:
	case <-time.After(time.Second):
		t.Fatal("MarkArrived did not return")
	}
	assert.ErrorIs(t, err, ErrNoActiveJob)
	assert.Equal(t, []EventKind{EventJobAccepted, EventJobCancelled}, h.events.kinds())
	assert.False(t, h.c.Jobs().HasActive())
}

func TestCommit_RejectedAfterClose(t *testing.T) {
	h := newHarness(t, job("o1", models.PayCash))
	h.driveToDropoff(t, "o1")
	_, err := h.c.Complete(context.Background())
	require.NoError(t, err)

	gen := h.c.generation()
	h.c.Close()
	o, err := h.backend.CompleteOrder(context.Background(), "o1")
	require.NoError(t, err)
	assert.ErrorIs(t, h.c.commit(gen, o), ErrNoActiveJob)
	assert.NotContains(t, h.events.kinds(), EventJobCompleted)
}

func TestPoll_DetectsPendingReversion(t *testing.T) {
	h := newHarness(t, job("o1", models.PayCard))
	_, err := h.c.Accept(context.Background(), "o1")
	require.NoError(t, err)
	_, err = h.c.MarkArrived(context.Background())
	require.NoError(t, err)

	h.backend.set("o1", func(o *models.Order) { o.Status = models.StatusPending })
	require.Eventually(t, func() bool { return h.events.has(EventJobReleased) }, time.Second, 5*time.Millisecond)
	assert.False(t, h.c.Jobs().HasActive())
}

func TestAccept_OnlyOneActiveJob(t *testing.T) {
	h := newHarness(t, job("o1", models.PayCash), job("o2", models.PayCash))
	_, err := h.c.Accept(context.Background(), "o1")
	require.NoError(t, err)
	_, err = h.c.Accept(context.Background(), "o2")
	assert.ErrorIs(t, err, ErrJobAlreadyActive)
	assert.Equal(t, []string{"accept"}, h.backend.callLog())
	h.c.Close()
}

func TestSetOnline_PushesLocation(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.c.SetOnline(context.Background(), true))
	assert.True(t, h.c.Online())
	require.Eventually(t, func() bool {
		h.backend.mu.Lock()
		defer h.backend.mu.Unlock()
		return h.backend.pushes >= 3
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, h.c.SetOnline(context.Background(), false))
	assert.False(t, h.sched.Active(taskLocation))
	h.backend.mu.Lock()
	assert.False(t, h.backend.online)
	h.backend.mu.Unlock()
}

func TestDecline_RemovesFromPreview(t *testing.T) {
	h := newHarness(t, job("o1", models.PayCash))
	_, err := h.c.RefreshPending(context.Background())
	require.NoError(t, err)
	require.NoError(t, h.c.Decline(context.Background(), "o1"))
	assert.Empty(t, h.c.Jobs().Pending())
}
