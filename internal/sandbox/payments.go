package sandbox

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/example/pet-ride/internal/api"
	"github.com/example/pet-ride/internal/models"
)

func (s *Server) balance(user string) float64 {
	b, ok := s.wallets[user]
	if !ok {
		b = s.opts.WalletBalance
		s.wallets[user] = b
	}
	return b
}

func (s *Server) handleWallet(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
	s.mu.Lock()
	b := s.balance(user)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, models.Wallet{UserID: user, Balance: b})
}

// handleCreatePayment registers the payment for an order. Card payments get
// a held PaymentIntent whose client secret goes back to the caller. Repeated
// calls return the existing record.
func (s *Server) handleCreatePayment(w http.ResponseWriter, r *http.Request) {
	var req api.CreatePaymentRequest
	if !decode(w, r, &req) {
		return
	}
	o, err := s.store.GetOrder(r.Context(), req.OrderID)
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	if o.CustomerID != userFrom(r.Context()) {
		writeError(w, http.StatusForbidden, "not the order's customer")
		return
	}

	s.mu.Lock()
	existing, ok := s.payments[o.ID]
	s.mu.Unlock()
	if ok {
		writeJSON(w, http.StatusOK, existing.Payment)
		return
	}

	amount := req.Amount
	if amount <= 0 {
		amount = o.Price
	}
	p := &payment{Payment: models.Payment{
		ID:      uuid.NewString(),
		OrderID: o.ID,
		Method:  req.Method,
		Amount:  amount,
		Status:  models.PaymentPending,
	}}
	if req.Method == models.PayCard {
		in, err := s.gateway.Hold(r.Context(), o.ID, amount, s.opts.Currency)
		if err != nil {
			s.logger.Error("payment hold failed", "order_id", o.ID, "error", err)
			writeError(w, http.StatusBadGateway, "payment provider unavailable")
			return
		}
		p.intentID = in.ID
		p.ClientSecret = in.ClientSecret
	}

	s.mu.Lock()
	if existing, ok := s.payments[o.ID]; ok {
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, existing.Payment)
		return
	}
	s.payments[o.ID] = p
	s.mu.Unlock()
	s.logger.Info("payment created", "order_id", o.ID, "method", p.Method, "amount", p.Amount)
	writeJSON(w, http.StatusCreated, p.Payment)
}

// handleConfirmPayment marks a transfer as received, as a bank callback would.
func (s *Server) handleConfirmPayment(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, func(_ context.Context, o *models.Order) error {
		if o.PaymentMethod != models.PayPromptPay {
			return fmt.Errorf("%w: order is paid by %s", errConflict, o.PaymentMethod)
		}
		o.PaymentStatus = models.PaymentPaid
		s.markPayment(o.ID, models.PaymentPaid)
		return nil
	})
}

func (s *Server) handlePayWallet(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
	s.mutate(w, r, func(_ context.Context, o *models.Order) error {
		if o.CustomerID != user {
			return fmt.Errorf("%w: not the order's customer", errForbidden)
		}
		if o.PaymentMethod != models.PayWallet {
			return fmt.Errorf("%w: order is paid by %s", errConflict, o.PaymentMethod)
		}
		if o.PaymentStatus == models.PaymentPaid {
			return nil
		}
		s.mu.Lock()
		b := s.balance(user)
		if b < o.Price {
			s.mu.Unlock()
			return fmt.Errorf("%w: balance %.2f below %.2f", errPaymentRequired, b, o.Price)
		}
		s.wallets[user] = b - o.Price
		s.mu.Unlock()
		o.PaymentStatus = models.PaymentPaid
		s.markPayment(o.ID, models.PaymentPaid)
		return nil
	})
}

func (s *Server) markPayment(orderID string, status models.PaymentStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.payments[orderID]; ok {
		p.Status = status
	}
}

func (s *Server) intentFor(orderID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.payments[orderID]; ok {
		return p.intentID
	}
	return ""
}

func (s *Server) capturePayment(ctx context.Context, o *models.Order) error {
	id := s.intentFor(o.ID)
	if id == "" {
		return fmt.Errorf("no card payment for order %s", o.ID)
	}
	return s.gateway.Capture(ctx, id)
}

// releasePayment drops a card hold when an order is cancelled.
func (s *Server) releasePayment(ctx context.Context, o *models.Order) {
	id := s.intentFor(o.ID)
	if id == "" {
		return
	}
	if err := s.gateway.Cancel(ctx, id); err != nil {
		s.logger.Warn("release card hold", "order_id", o.ID, "error", err)
		return
	}
	s.markPayment(o.ID, models.PaymentFailed)
}
