package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/example/pet-ride/internal/models"
)

func (c *Client) CreateOrder(ctx context.Context, req CreateOrderRequest) (*models.Order, error) {
	if err := Validate(req); err != nil {
		return nil, err
	}
	var o models.Order
	if err := c.do(ctx, http.MethodPost, "/orders", req, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

func (c *Client) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	var o models.Order
	if err := c.do(ctx, http.MethodGet, "/orders/"+url.PathEscape(id), nil, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

// PatchOrder sends a generic field patch such as {"status":"cancelled"}.
func (c *Client) PatchOrder(ctx context.Context, id string, fields map[string]any) (*models.Order, error) {
	var o models.Order
	if err := c.do(ctx, http.MethodPatch, "/orders/"+url.PathEscape(id), fields, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

func (c *Client) CancelOrder(ctx context.Context, id string) (*models.Order, error) {
	return c.PatchOrder(ctx, id, map[string]any{"status": models.StatusCancelled})
}

func (c *Client) SetOrderStatus(ctx context.Context, id string, status models.OrderStatus) (*models.Order, error) {
	return c.PatchOrder(ctx, id, map[string]any{"status": status})
}

func (c *Client) PatchCustomerLocation(ctx context.Context, id string, at models.Coord) error {
	_, err := c.PatchOrder(ctx, id, map[string]any{"customer_lat": at.Lat, "customer_lng": at.Lng})
	return err
}

func (c *Client) orderAction(ctx context.Context, id, action string) (*models.Order, error) {
	var o models.Order
	if err := c.do(ctx, http.MethodPost, "/orders/"+url.PathEscape(id)+"/"+action, nil, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

func (c *Client) AcceptOrder(ctx context.Context, id string) (*models.Order, error) {
	return c.orderAction(ctx, id, "accept")
}

func (c *Client) PickupOrder(ctx context.Context, id string) (*models.Order, error) {
	return c.orderAction(ctx, id, "pickup")
}

func (c *Client) CompleteOrder(ctx context.Context, id string) (*models.Order, error) {
	return c.orderAction(ctx, id, "complete")
}

func (c *Client) DeclineOrder(ctx context.Context, id string) (*models.Order, error) {
	return c.orderAction(ctx, id, "decline")
}

func (c *Client) PayWallet(ctx context.Context, id string) (*models.Order, error) {
	return c.orderAction(ctx, id, "pay-wallet")
}

func (c *Client) UpdateStopStatus(ctx context.Context, orderID, stopID string, status models.StopStatus) (*models.Order, error) {
	req := StopStatusRequest{Status: status}
	if err := Validate(req); err != nil {
		return nil, err
	}
	var o models.Order
	path := fmt.Sprintf("/orders/%s/stops/%s", url.PathEscape(orderID), url.PathEscape(stopID))
	if err := c.do(ctx, http.MethodPatch, path, req, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

// ActiveOrder returns the requester's non-terminal order, or nil if none.
func (c *Client) ActiveOrder(ctx context.Context, customerID string) (*models.Order, error) {
	var o models.Order
	err := c.do(ctx, http.MethodGet, "/orders/active?customer_id="+url.QueryEscape(customerID), nil, &o)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// PendingOrders lists jobs awaiting a driver, ranked for the given position.
func (c *Client) PendingOrders(ctx context.Context, at models.Coord) ([]models.Order, error) {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(at.Lat, 'f', 6, 64))
	q.Set("lng", strconv.FormatFloat(at.Lng, 'f', 6, 64))
	var out []models.Order
	if err := c.do(ctx, http.MethodGet, "/orders/pending?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}
