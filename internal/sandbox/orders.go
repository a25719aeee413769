package sandbox

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/example/pet-ride/internal/api"
	"github.com/example/pet-ride/internal/models"
	"github.com/example/pet-ride/internal/observability"
	"github.com/example/pet-ride/internal/pricing"
	"github.com/example/pet-ride/internal/storage"
	"github.com/example/pet-ride/internal/trip"
)

var errConflict = errors.New("conflict")

// transitions lists the status changes the backend accepts.
var transitions = map[models.OrderStatus][]models.OrderStatus{
	models.StatusPending:    {models.StatusAccepted, models.StatusCancelled},
	models.StatusAccepted:   {models.StatusArrived, models.StatusPending, models.StatusCancelled},
	models.StatusArrived:    {models.StatusInProgress, models.StatusCancelled},
	models.StatusInProgress: {models.StatusCompleted, models.StatusCancelled},
}

func canMove(from, to models.OrderStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req api.CreateOrderRequest
	if !decode(w, r, &req) {
		return
	}
	user := userFrom(r.Context())
	if req.CustomerID != user {
		writeError(w, http.StatusForbidden, "customer_id does not match token")
		return
	}
	v, ok := s.vehicle(req.VehicleType)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown vehicle type "+req.VehicleType)
		return
	}

	s.orderMu.Lock()
	defer s.orderMu.Unlock()
	if _, err := s.store.ActiveForCustomer(r.Context(), user); err == nil {
		writeError(w, http.StatusConflict, "customer already has an active order")
		return
	} else if !errors.Is(err, storage.ErrNotFound) {
		s.storeError(w, r, err)
		return
	}

	now := s.now().UTC()
	o := &models.Order{
		ID:             uuid.NewString(),
		CustomerID:     user,
		PickupLat:      req.PickupLat,
		PickupLng:      req.PickupLng,
		PickupAddress:  req.PickupAddress,
		DropoffLat:     req.DropoffLat,
		DropoffLng:     req.DropoffLng,
		DropoffAddress: req.DropoffAddress,
		Status:         models.StatusPending,
		Price:          req.Price,
		PaymentMethod:  req.PaymentMethod,
		PaymentStatus:  models.PaymentPending,
		PetIDs:         req.PetIDs,
		PassengerCount: req.PassengerCount,
		VehicleType:    req.VehicleType,
		PetWeightKg:    req.PetWeightKg,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	for _, st := range req.Stops {
		o.Stops = append(o.Stops, models.Stop{
			ID:         uuid.NewString(),
			OrderIndex: st.OrderIndex,
			Lat:        st.Lat,
			Lng:        st.Lng,
			Address:    st.Address,
			Status:     models.StopPending,
		})
	}
	if o.Price <= 0 {
		o.Price = pricing.Approximate(v, o.Pickup(), o.Dropoff(), s.opts.Settings, o.PetWeightKg).Price
	}
	if err := s.store.CreateOrder(r.Context(), o); err != nil {
		s.storeError(w, r, err)
		return
	}
	observability.OrdersCreated.Inc()
	s.logger.Info("order created", "order_id", o.ID, "customer_id", user, "price", o.Price, "payment_method", o.PaymentMethod)
	writeJSON(w, http.StatusCreated, o)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := s.store.GetOrder(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleActiveOrder(w http.ResponseWriter, r *http.Request) {
	customer := r.URL.Query().Get("customer_id")
	if customer == "" {
		customer = userFrom(r.Context())
	}
	o, err := s.store.ActiveForCustomer(r.Context(), customer)
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// handlePendingOrders lists jobs the driver has not declined, nearest first.
func (s *Server) handlePendingOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, errLat := strconv.ParseFloat(q.Get("lat"), 64)
	lng, errLng := strconv.ParseFloat(q.Get("lng"), 64)
	if errLat != nil || errLng != nil {
		writeError(w, http.StatusBadRequest, "lat and lng are required")
		return
	}
	pending, err := s.store.ListByStatus(r.Context(), models.StatusPending)
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	driver := userFrom(r.Context())
	s.mu.Lock()
	open := pending[:0]
	for _, o := range pending {
		if !s.declined[o.ID][driver] {
			open = append(open, o)
		}
	}
	s.mu.Unlock()

	ranked := s.matcher.Rank(r.Context(), models.Coord{Lat: lat, Lng: lng}, open)
	out := make([]models.Order, 0, len(ranked))
	for _, c := range ranked {
		out = append(out, c.Order)
	}
	writeJSON(w, http.StatusOK, out)
}

type patchOrderRequest struct {
	Status      *models.OrderStatus `json:"status"`
	CustomerLat *float64            `json:"customer_lat" validate:"omitempty,latitude"`
	CustomerLng *float64            `json:"customer_lng" validate:"omitempty,longitude"`
}

func (s *Server) handlePatchOrder(w http.ResponseWriter, r *http.Request) {
	var req patchOrderRequest
	if !decode(w, r, &req) {
		return
	}
	user := userFrom(r.Context())
	s.mutate(w, r, func(ctx context.Context, o *models.Order) error {
		if req.CustomerLat != nil && req.CustomerLng != nil {
			if o.CustomerID != user {
				return fmt.Errorf("%w: only the customer shares their location", errForbidden)
			}
			o.CustomerLat, o.CustomerLng = req.CustomerLat, req.CustomerLng
		}
		if req.Status == nil || *req.Status == o.Status {
			return nil
		}
		to := *req.Status
		switch to {
		case models.StatusCancelled:
			if o.CustomerID != user && o.DriverID != user {
				return fmt.Errorf("%w: not a party to this order", errForbidden)
			}
		case models.StatusArrived, models.StatusPending:
			if o.DriverID != user {
				return fmt.Errorf("%w: not the assigned driver", errForbidden)
			}
		default:
			return fmt.Errorf("%w: status %s is set by its own action", errConflict, to)
		}
		if err := s.move(o, to); err != nil {
			return err
		}
		switch to {
		case models.StatusCancelled:
			s.releasePayment(ctx, o)
		case models.StatusPending:
			o.DriverID = ""
		}
		return nil
	})
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	driver := userFrom(r.Context())
	s.mutate(w, r, func(ctx context.Context, o *models.Order) error {
		if cur, err := s.store.ActiveForDriver(ctx, driver); err == nil && cur.ID != o.ID {
			return fmt.Errorf("%w: driver already has job %s", errConflict, cur.ID)
		}
		if err := s.move(o, models.StatusAccepted); err != nil {
			return err
		}
		o.DriverID = driver
		return nil
	})
}

// handleDecline hides a pending job from this driver, or hands back a job
// the driver had accepted.
func (s *Server) handleDecline(w http.ResponseWriter, r *http.Request) {
	driver := userFrom(r.Context())
	s.mutate(w, r, func(_ context.Context, o *models.Order) error {
		if o.Status == models.StatusAccepted && o.DriverID == driver {
			o.DriverID = ""
			return s.move(o, models.StatusPending)
		}
		s.mu.Lock()
		if s.declined[o.ID] == nil {
			s.declined[o.ID] = make(map[string]bool)
		}
		s.declined[o.ID][driver] = true
		s.mu.Unlock()
		return nil
	})
}

func (s *Server) handlePickup(w http.ResponseWriter, r *http.Request) {
	driver := userFrom(r.Context())
	s.mutate(w, r, func(_ context.Context, o *models.Order) error {
		if o.DriverID != driver {
			return fmt.Errorf("%w: not the assigned driver", errForbidden)
		}
		return s.move(o, models.StatusInProgress)
	})
}

// handleComplete settles cash and card orders on completion. PromptPay stays
// pending until the transfer is confirmed.
func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	driver := userFrom(r.Context())
	s.mutate(w, r, func(ctx context.Context, o *models.Order) error {
		if o.DriverID != driver {
			return fmt.Errorf("%w: not the assigned driver", errForbidden)
		}
		if plan, ok, err := trip.PlanStop(o.Stops); err != nil {
			return fmt.Errorf("%w: %v", errConflict, err)
		} else if ok {
			return fmt.Errorf("%w: stop %s is %s", errConflict, plan.Stop.ID, plan.Stop.Status)
		}
		if err := s.move(o, models.StatusCompleted); err != nil {
			return err
		}
		switch o.PaymentMethod {
		case models.PayCash:
			o.PaymentStatus = models.PaymentPaid
			s.markPayment(o.ID, models.PaymentPaid)
		case models.PayCard:
			if err := s.capturePayment(ctx, o); err != nil {
				s.logger.Warn("card capture failed", "order_id", o.ID, "error", err)
				o.PaymentStatus = models.PaymentFailed
				s.markPayment(o.ID, models.PaymentFailed)
				return nil
			}
			o.PaymentStatus = models.PaymentPaid
			s.markPayment(o.ID, models.PaymentPaid)
		}
		return nil
	})
}

func (s *Server) handleStopStatus(w http.ResponseWriter, r *http.Request) {
	var req api.StopStatusRequest
	if !decode(w, r, &req) {
		return
	}
	driver := userFrom(r.Context())
	stopID := mux.Vars(r)["stop_id"]
	s.mutate(w, r, func(_ context.Context, o *models.Order) error {
		if o.DriverID != driver {
			return fmt.Errorf("%w: not the assigned driver", errForbidden)
		}
		if o.Status != models.StatusInProgress {
			return fmt.Errorf("%w: order is %s", errConflict, o.Status)
		}
		if err := trip.CheckStopUpdate(o.Stops, stopID, req.Status); err != nil {
			return fmt.Errorf("%w: %v", errConflict, err)
		}
		o.Stops = trip.WithStopStatus(o.Stops, stopID, req.Status)
		return nil
	})
}

func (s *Server) move(o *models.Order, to models.OrderStatus) error {
	if !canMove(o.Status, to) {
		return fmt.Errorf("%w: cannot move order from %s to %s", errConflict, o.Status, to)
	}
	s.logger.Info("order status", "order_id", o.ID, "from", o.Status, "to", to)
	o.Status = to
	return nil
}

// mutate loads the order named in the path, applies fn and saves the result.
func (s *Server) mutate(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, o *models.Order) error) {
	ctx := r.Context()
	s.orderMu.Lock()
	defer s.orderMu.Unlock()
	o, err := s.store.GetOrder(ctx, mux.Vars(r)["id"])
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	if err := fn(ctx, o); err != nil {
		switch {
		case errors.Is(err, errForbidden):
			writeError(w, http.StatusForbidden, err.Error())
		case errors.Is(err, errConflict):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, errPaymentRequired):
			writeError(w, http.StatusPaymentRequired, err.Error())
		default:
			s.logger.Error("order update failed", "order_id", o.ID, "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	o.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateOrder(ctx, o); err != nil {
		s.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

var (
	errForbidden       = errors.New("forbidden")
	errPaymentRequired = errors.New("payment required")
)
