package sandbox

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/pet-ride/internal/api"
	"github.com/example/pet-ride/internal/models"
	"github.com/example/pet-ride/internal/payments"
)

type capturePublisher struct {
	mu   sync.Mutex
	sent []models.DriverLocation
}

func (c *capturePublisher) PublishLocation(_ context.Context, d models.DriverLocation) error {
	c.mu.Lock()
	c.sent = append(c.sent, d)
	c.mu.Unlock()
	return nil
}

func (c *capturePublisher) Close() error { return nil }

func (c *capturePublisher) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

type env struct {
	srv     *Server
	url     string
	gateway *payments.LocalGateway
	pub     *capturePublisher
}

func newEnv(t *testing.T) *env {
	t.Helper()
	gw := payments.NewLocalGateway()
	pub := &capturePublisher{}
	srv := New(Deps{Gateway: gw, Publisher: pub}, Options{WalletBalance: 300})
	ts := httptest.NewServer(srv)
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	return &env{srv: srv, url: ts.URL, gateway: gw, pub: pub}
}

func (e *env) client(user string) *api.Client {
	return api.NewClient(e.url, api.WithTokenStore(api.NewMemoryTokenStore(user)))
}

func orderRequest(customer string, method models.PaymentMethod, stops ...api.StopInput) api.CreateOrderRequest {
	return api.CreateOrderRequest{
		CustomerID:    customer,
		PickupLat:     13.7500,
		PickupLng:     100.5000,
		DropoffLat:    13.7600,
		DropoffLng:    100.5200,
		Stops:         stops,
		VehicleType:   "sedan",
		PetWeightKg:   12,
		PetIDs:        []string{"pet1"},
		PaymentMethod: method,
	}
}

func requireStatus(t *testing.T, err error, code int) {
	t.Helper()
	var se *api.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, code, se.Code, se.Body)
}

func TestHealthzNeedsNoToken(t *testing.T) {
	e := newEnv(t)
	resp, err := http.Get(e.url + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestMissingTokenIsUnauthorized(t *testing.T) {
	e := newEnv(t)
	_, err := e.client("").VehicleTypes(context.Background())
	assert.ErrorIs(t, err, api.ErrUnauthorized)
}

func TestCreateOrder(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	c := e.client("c1")

	o, err := c.CreateOrder(ctx, orderRequest("c1", models.PayCash,
		api.StopInput{OrderIndex: 0, Lat: 13.755, Lng: 100.51, Address: "Groomer"}))
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, o.Status)
	assert.Greater(t, o.Price, 0.0, "server prices orders sent without a price")
	require.Len(t, o.Stops, 1)
	assert.NotEmpty(t, o.Stops[0].ID)
	assert.Equal(t, models.StopPending, o.Stops[0].Status)

	active, err := c.ActiveOrder(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, o.ID, active.ID)

	_, err = c.CreateOrder(ctx, orderRequest("c1", models.PayCash))
	requireStatus(t, err, http.StatusConflict)

	_, err = e.client("c2").CreateOrder(ctx, orderRequest("c1", models.PayCash))
	requireStatus(t, err, http.StatusForbidden)

	req := orderRequest("c2", models.PayCash)
	req.VehicleType = "rocket"
	_, err = e.client("c2").CreateOrder(ctx, req)
	requireStatus(t, err, http.StatusBadRequest)

	none, err := e.client("c3").ActiveOrder(ctx, "c3")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestEstimateMatchesFallbackFormula(t *testing.T) {
	e := newEnv(t)
	q, err := e.client("c1").Estimate(context.Background(), api.EstimateRequest{
		PickupLat: 13.75, PickupLng: 100.50, DropoffLat: 13.76, DropoffLng: 100.52,
		VehicleType: "sedan", PetWeightKg: 25,
	})
	require.NoError(t, err)
	assert.True(t, q.Authoritative)
	assert.Equal(t, 40.0, q.WeightSurcharge)
	assert.Equal(t, 1.0, q.SurgeMultiplier)

	vs, err := e.client("c1").VehicleTypes(context.Background())
	require.NoError(t, err)
	assert.Len(t, vs, 3)
}

func TestDriverLifecycleWithStops(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	cust, drv := e.client("c1"), e.client("d1")

	o, err := cust.CreateOrder(ctx, orderRequest("c1", models.PayCash,
		api.StopInput{OrderIndex: 1, Lat: 13.757, Lng: 100.512},
		api.StopInput{OrderIndex: 0, Lat: 13.755, Lng: 100.51}))
	require.NoError(t, err)
	first, second := o.SortedStops()[0], o.SortedStops()[1]

	_, err = drv.SetOrderStatus(ctx, o.ID, models.StatusArrived)
	requireStatus(t, err, http.StatusForbidden)

	o, err = drv.AcceptOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, "d1", o.DriverID)

	_, err = e.client("d2").AcceptOrder(ctx, o.ID)
	requireStatus(t, err, http.StatusConflict)

	_, err = drv.PickupOrder(ctx, o.ID)
	requireStatus(t, err, http.StatusConflict)

	_, err = drv.SetOrderStatus(ctx, o.ID, models.StatusArrived)
	require.NoError(t, err)
	o, err = drv.PickupOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, o.Status)

	_, err = drv.UpdateStopStatus(ctx, o.ID, second.ID, models.StopArrived)
	requireStatus(t, err, http.StatusConflict)
	_, err = drv.CompleteOrder(ctx, o.ID)
	requireStatus(t, err, http.StatusConflict)

	for _, st := range []models.Stop{first, second} {
		_, err = drv.UpdateStopStatus(ctx, o.ID, st.ID, models.StopDeparted)
		requireStatus(t, err, http.StatusConflict)
		_, err = drv.UpdateStopStatus(ctx, o.ID, st.ID, models.StopArrived)
		require.NoError(t, err)
		_, err = drv.UpdateStopStatus(ctx, o.ID, st.ID, models.StopDeparted)
		require.NoError(t, err)
	}

	o, err = drv.CompleteOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, o.Status)
	assert.Equal(t, models.PaymentPaid, o.PaymentStatus)

	_, err = cust.CancelOrder(ctx, o.ID)
	requireStatus(t, err, http.StatusConflict)
}

func TestPendingJobsRankedAndDeclined(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	far := orderRequest("c1", models.PayCash)
	far.PickupLat = 13.80
	farOrder, err := e.client("c1").CreateOrder(ctx, far)
	require.NoError(t, err)
	near, err := e.client("c2").CreateOrder(ctx, orderRequest("c2", models.PayCash))
	require.NoError(t, err)

	drv := e.client("d1")
	jobs, err := drv.PendingOrders(ctx, models.Coord{Lat: 13.75, Lng: 100.50})
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, near.ID, jobs[0].ID)
	assert.Equal(t, farOrder.ID, jobs[1].ID)

	_, err = drv.DeclineOrder(ctx, near.ID)
	require.NoError(t, err)
	jobs, err = drv.PendingOrders(ctx, models.Coord{Lat: 13.75, Lng: 100.50})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, farOrder.ID, jobs[0].ID)

	others, err := e.client("d2").PendingOrders(ctx, models.Coord{Lat: 13.75, Lng: 100.50})
	require.NoError(t, err)
	assert.Len(t, others, 2, "a decline only hides the job from that driver")
}

func TestDriverReleaseReturnsJobToPending(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	o, err := e.client("c1").CreateOrder(ctx, orderRequest("c1", models.PayCash))
	require.NoError(t, err)
	drv := e.client("d1")
	_, err = drv.AcceptOrder(ctx, o.ID)
	require.NoError(t, err)

	o, err = drv.DeclineOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, o.Status)
	assert.Empty(t, o.DriverID)
}

func TestWalletPayment(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	c := e.client("c1")

	req := orderRequest("c1", models.PayWallet)
	req.Price = 120
	o, err := c.CreateOrder(ctx, req)
	require.NoError(t, err)

	o, err = c.PayWallet(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPaid, o.PaymentStatus)
	w, err := c.Wallet(ctx)
	require.NoError(t, err)
	assert.Equal(t, 180.0, w.Balance)

	_, err = c.PayWallet(ctx, o.ID)
	require.NoError(t, err, "paying twice is a no-op")
	w, _ = c.Wallet(ctx)
	assert.Equal(t, 180.0, w.Balance)

	_, err = c.CancelOrder(ctx, o.ID)
	require.NoError(t, err)
	req.Price = 400
	big, err := c.CreateOrder(ctx, req)
	require.NoError(t, err)
	_, err = c.PayWallet(ctx, big.ID)
	requireStatus(t, err, http.StatusPaymentRequired)
}

func TestCardPaymentHoldCaptureAndRelease(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	c, drv := e.client("c1"), e.client("d1")

	o, err := c.CreateOrder(ctx, orderRequest("c1", models.PayCard))
	require.NoError(t, err)
	p, err := c.CreatePayment(ctx, api.CreatePaymentRequest{OrderID: o.ID, Method: models.PayCard, Amount: o.Price})
	require.NoError(t, err)
	require.NotEmpty(t, p.ClientSecret)
	again, err := c.CreatePayment(ctx, api.CreatePaymentRequest{OrderID: o.ID, Method: models.PayCard, Amount: o.Price})
	require.NoError(t, err)
	assert.Equal(t, p.ID, again.ID)

	_, err = drv.AcceptOrder(ctx, o.ID)
	require.NoError(t, err)
	_, err = drv.SetOrderStatus(ctx, o.ID, models.StatusArrived)
	require.NoError(t, err)
	_, err = drv.PickupOrder(ctx, o.ID)
	require.NoError(t, err)
	done, err := drv.CompleteOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPaid, done.PaymentStatus)
	intent := e.srv.intentFor(o.ID)
	assert.Equal(t, "succeeded", e.gateway.State(intent))

	second, err := c.CreateOrder(ctx, orderRequest("c1", models.PayCard))
	require.NoError(t, err)
	_, err = c.CreatePayment(ctx, api.CreatePaymentRequest{OrderID: second.ID, Method: models.PayCard, Amount: second.Price})
	require.NoError(t, err)
	_, err = c.CancelOrder(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, "canceled", e.gateway.State(e.srv.intentFor(second.ID)))
}

func TestPromptPayConfirmation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	c, drv := e.client("c1"), e.client("d1")

	o, err := c.CreateOrder(ctx, orderRequest("c1", models.PayPromptPay))
	require.NoError(t, err)
	for _, step := range []func() (*models.Order, error){
		func() (*models.Order, error) { return drv.AcceptOrder(ctx, o.ID) },
		func() (*models.Order, error) { return drv.SetOrderStatus(ctx, o.ID, models.StatusArrived) },
		func() (*models.Order, error) { return drv.PickupOrder(ctx, o.ID) },
		func() (*models.Order, error) { return drv.CompleteOrder(ctx, o.ID) },
	} {
		o, err = step()
		require.NoError(t, err)
	}
	assert.Equal(t, models.PaymentPending, o.PaymentStatus)

	resp, err := http.DefaultClient.Do(confirmRequest(t, e.url, o.ID, "c1"))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	o, err = drv.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPaid, o.PaymentStatus)
}

func confirmRequest(t *testing.T, base, orderID, user string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, base+"/orders/"+orderID+"/promptpay/confirm", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+user)
	return req
}

func TestDriverLocations(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	drv := e.client("d1")

	require.NoError(t, drv.SetDriverStatus(ctx, true))
	require.NoError(t, drv.PutMyLocation(ctx, models.Coord{Lat: 13.76, Lng: 100.51}))
	assert.Equal(t, 1, e.pub.count())

	d, err := e.client("c1").DriverLocation(ctx, "d1")
	require.NoError(t, err)
	assert.True(t, d.Online)
	assert.InDelta(t, 13.76, d.Lat, 1e-9)

	require.NoError(t, drv.SetDriverStatus(ctx, false))
	d, err = e.client("c1").DriverLocation(ctx, "d1")
	require.NoError(t, err)
	assert.False(t, d.Online)

	err = drv.PutMyLocation(ctx, models.Coord{Lat: 123, Lng: 100})
	requireStatus(t, err, http.StatusBadRequest)
}

func TestCustomerLocationPatch(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	c := e.client("c1")
	o, err := c.CreateOrder(ctx, orderRequest("c1", models.PayCash))
	require.NoError(t, err)

	require.NoError(t, c.PatchCustomerLocation(ctx, o.ID, models.Coord{Lat: 13.7501, Lng: 100.5001}))
	o, err = c.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	require.NotNil(t, o.CustomerLat)
	assert.InDelta(t, 13.7501, *o.CustomerLat, 1e-9)

	err = e.client("d1").PatchCustomerLocation(ctx, o.ID, models.Coord{Lat: 13.7, Lng: 100.5})
	requireStatus(t, err, http.StatusForbidden)
}
