package api

import (
	"context"
	"net/http"

	"github.com/example/pet-ride/internal/models"
)

func (c *Client) DriverLocations(ctx context.Context) ([]models.DriverLocation, error) {
	var out []models.DriverLocation
	if err := c.do(ctx, http.MethodGet, "/driver_locations/", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DriverLocation returns the live position of one driver, if it is known.
func (c *Client) DriverLocation(ctx context.Context, driverID string) (*models.DriverLocation, error) {
	all, err := c.DriverLocations(ctx)
	if err != nil {
		return nil, err
	}
	for i := range all {
		if all[i].DriverID == driverID {
			return &all[i], nil
		}
	}
	return nil, ErrNotFound
}

func (c *Client) PutMyLocation(ctx context.Context, at models.Coord) error {
	return c.do(ctx, http.MethodPut, "/driver_locations/me", at, nil)
}

func (c *Client) SetDriverStatus(ctx context.Context, online bool) error {
	return c.do(ctx, http.MethodPatch, "/drivers/status", DriverStatusRequest{Online: online}, nil)
}
