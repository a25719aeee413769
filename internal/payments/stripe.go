// Package payments issues the client secrets a payment sheet needs to take
// a card payment.
package payments

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/google/uuid"
	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
)

// Intent is a card payment awaiting the customer.
type Intent struct {
	ID           string
	ClientSecret string
}

// Gateway places a hold for an order and later captures or releases it.
type Gateway interface {
	Hold(ctx context.Context, orderID string, amount float64, currency string) (Intent, error)
	Capture(ctx context.Context, intentID string) error
	Cancel(ctx context.Context, intentID string) error
}

// MinorUnits converts a major currency amount to the smallest unit.
func MinorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// StripeClient is a thin wrapper around stripe-go for PaymentIntent hold/capture/cancel flows.
type StripeClient struct{}

// NewStripeClient sets the package-level stripe key.
func NewStripeClient(apiKey string) *StripeClient {
	stripe.Key = apiKey
	return &StripeClient{}
}

// Hold creates a PaymentIntent with capture_method=manual. The returned
// client secret goes to the customer's payment sheet.
func (s *StripeClient) Hold(ctx context.Context, orderID string, amount float64, currency string) (Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(MinorUnits(amount)),
		Currency: stripe.String(currency),
	}
	params.Context = ctx
	params.CaptureMethod = stripe.String(string(stripe.PaymentIntentCaptureMethodManual))
	params.AddMetadata("order_id", orderID)
	pi, err := paymentintent.New(params)
	if err != nil {
		return Intent{}, fmt.Errorf("stripe hold: %w", err)
	}
	return Intent{ID: pi.ID, ClientSecret: pi.ClientSecret}, nil
}

// Capture finalizes a previously-held PaymentIntent.
func (s *StripeClient) Capture(ctx context.Context, intentID string) error {
	params := &stripe.PaymentIntentCaptureParams{}
	params.Context = ctx
	_, err := paymentintent.Capture(intentID, params)
	return err
}

// Cancel releases the hold on a PaymentIntent.
func (s *StripeClient) Cancel(ctx context.Context, intentID string) error {
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx
	_, err := paymentintent.Cancel(intentID, params)
	return err
}

type heldIntent struct {
	orderID string
	amount  int64
	state   string
}

// LocalGateway stands in for Stripe when no API key is configured.
type LocalGateway struct {
	mu      sync.Mutex
	intents map[string]*heldIntent
}

func NewLocalGateway() *LocalGateway {
	return &LocalGateway{intents: make(map[string]*heldIntent)}
}

func (l *LocalGateway) Hold(_ context.Context, orderID string, amount float64, _ string) (Intent, error) {
	id := "pi_local_" + uuid.NewString()
	l.mu.Lock()
	l.intents[id] = &heldIntent{orderID: orderID, amount: MinorUnits(amount), state: "requires_capture"}
	l.mu.Unlock()
	return Intent{ID: id, ClientSecret: id + "_secret"}, nil
}

func (l *LocalGateway) Capture(_ context.Context, id string) error {
	return l.move(id, "requires_capture", "succeeded")
}

func (l *LocalGateway) Cancel(_ context.Context, id string) error {
	return l.move(id, "requires_capture", "canceled")
}

func (l *LocalGateway) move(id, from, to string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	in, ok := l.intents[id]
	if !ok {
		return fmt.Errorf("payment intent %s not found", id)
	}
	if in.state != from {
		return fmt.Errorf("payment intent %s is %s", id, in.state)
	}
	in.state = to
	return nil
}

// State reports an intent's state, for tests and diagnostics.
func (l *LocalGateway) State(id string) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if in, ok := l.intents[id]; ok {
		return in.state
	}
	return ""
}
