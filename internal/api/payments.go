package api

import (
	"context"
	"net/http"

	"github.com/example/pet-ride/internal/models"
)

// CreatePayment registers the payment record that accompanies an order. For
// card payments the response carries the client secret for the payment sheet.
func (c *Client) CreatePayment(ctx context.Context, req CreatePaymentRequest) (*models.Payment, error) {
	if err := Validate(req); err != nil {
		return nil, err
	}
	var p models.Payment
	if err := c.do(ctx, http.MethodPost, "/payments", req, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) Wallet(ctx context.Context) (*models.Wallet, error) {
	var w models.Wallet
	if err := c.do(ctx, http.MethodGet, "/wallet", nil, &w); err != nil {
		return nil, err
	}
	return &w, nil
}
