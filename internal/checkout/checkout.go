// Package checkout settles an order with the customer's chosen payment
// method. Card payments go through a payment sheet that is handed a
// backend-issued client secret; nothing here talks to a gateway.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/example/pet-ride/internal/api"
	"github.com/example/pet-ride/internal/logging"
	"github.com/example/pet-ride/internal/models"
)

var (
	ErrPaymentFailed   = errors.New("payment failed")
	ErrPaymentCanceled = errors.New("payment canceled")
	ErrNoClientSecret  = errors.New("backend issued no client secret")
)

type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeCanceled  Outcome = "canceled"
)

// Sheet is the third-party payment UI.
type Sheet interface {
	Present(ctx context.Context, clientSecret string, amount float64) (Outcome, error)
}

type Backend interface {
	PayWallet(ctx context.Context, id string) (*models.Order, error)
	CreatePayment(ctx context.Context, req api.CreatePaymentRequest) (*models.Payment, error)
}

// Result says how an order was settled. Collected is false when the driver
// takes the payment in person.
type Result struct {
	Method    models.PaymentMethod
	Collected bool
	PaymentID string
}

type Checkout struct {
	api    Backend
	sheet  Sheet
	logger *slog.Logger
}

func New(b Backend, sheet Sheet, logger *slog.Logger) *Checkout {
	return &Checkout{api: b, sheet: sheet, logger: logging.OrDefault(logger)}
}

// Pay settles o. Canceling the sheet returns ErrPaymentCanceled so the UI
// can offer the sheet again.
func (c *Checkout) Pay(ctx context.Context, o models.Order) (Result, error) {
	res := Result{Method: o.PaymentMethod}
	switch o.PaymentMethod {
	case models.PayCash, models.PayPromptPay:
		return res, nil
	case models.PayWallet:
		if _, err := c.api.PayWallet(ctx, o.ID); err != nil {
			return res, fmt.Errorf("wallet payment: %w", err)
		}
		res.Collected = true
		return res, nil
	case models.PayCard:
		return c.payCard(ctx, o)
	default:
		return res, fmt.Errorf("unsupported payment method %q", o.PaymentMethod)
	}
}

func (c *Checkout) payCard(ctx context.Context, o models.Order) (Result, error) {
	res := Result{Method: models.PayCard}
	if c.sheet == nil {
		return res, errors.New("card payment needs a payment sheet")
	}
	p, err := c.api.CreatePayment(ctx, api.CreatePaymentRequest{OrderID: o.ID, Method: models.PayCard, Amount: o.Price})
	if err != nil {
		return res, fmt.Errorf("create payment: %w", err)
	}
	if p.ClientSecret == "" {
		return res, ErrNoClientSecret
	}
	res.PaymentID = p.ID

	outcome, err := c.sheet.Present(ctx, p.ClientSecret, o.Price)
	if err != nil {
		return res, fmt.Errorf("payment sheet: %w", err)
	}
	c.logger.Info("payment sheet closed", "order_id", o.ID, "payment_id", p.ID, "outcome", outcome)
	switch outcome {
	case OutcomeSucceeded:
		res.Collected = true
		return res, nil
	case OutcomeCanceled:
		return res, ErrPaymentCanceled
	default:
		return res, ErrPaymentFailed
	}
}
