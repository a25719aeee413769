package api

import (
	"context"
	"net/http"

	"github.com/example/pet-ride/internal/models"
)

func (c *Client) Estimate(ctx context.Context, req EstimateRequest) (*models.Quote, error) {
	if err := Validate(req); err != nil {
		return nil, err
	}
	var q models.Quote
	if err := c.do(ctx, http.MethodPost, "/pricing/estimate", req, &q); err != nil {
		return nil, err
	}
	q.Authoritative = true
	return &q, nil
}

func (c *Client) VehicleTypes(ctx context.Context) ([]models.VehicleType, error) {
	var out []models.VehicleType
	if err := c.do(ctx, http.MethodGet, "/pricing/vehicle-types", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) PricingSettings(ctx context.Context) (*models.PricingSettings, error) {
	var s models.PricingSettings
	if err := c.do(ctx, http.MethodGet, "/pricing/settings", nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}
