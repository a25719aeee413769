// Package storage persists orders for the sandbox backend.
package storage

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/example/pet-ride/internal/models"
)

var ErrNotFound = errors.New("order not found")

// OrderStore defines persistence operations for orders.
type OrderStore interface {
	CreateOrder(ctx context.Context, o *models.Order) error
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	UpdateOrder(ctx context.Context, o *models.Order) error
	// ActiveForCustomer returns the newest non-terminal order of a customer.
	ActiveForCustomer(ctx context.Context, customerID string) (*models.Order, error)
	// ActiveForDriver returns the newest non-terminal order assigned to a driver.
	ActiveForDriver(ctx context.Context, driverID string) (*models.Order, error)
	ListByStatus(ctx context.Context, status models.OrderStatus) ([]models.Order, error)
}

type MemoryStore struct {
	mu     sync.RWMutex
	orders map[string]*models.Order
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{orders: make(map[string]*models.Order)}
}

func (m *MemoryStore) CreateOrder(_ context.Context, o *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[o.ID]; ok {
		return errors.New("order already exists")
	}
	m.orders[o.ID] = clone(o)
	return nil
}

func (m *MemoryStore) GetOrder(_ context.Context, id string) (*models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(o), nil
}

func (m *MemoryStore) UpdateOrder(_ context.Context, o *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[o.ID]; !ok {
		return ErrNotFound
	}
	m.orders[o.ID] = clone(o)
	return nil
}

func (m *MemoryStore) ActiveForCustomer(_ context.Context, customerID string) (*models.Order, error) {
	return m.newestActive(func(o *models.Order) bool { return o.CustomerID == customerID })
}

func (m *MemoryStore) ActiveForDriver(_ context.Context, driverID string) (*models.Order, error) {
	return m.newestActive(func(o *models.Order) bool { return o.DriverID == driverID })
}

func (m *MemoryStore) newestActive(match func(*models.Order) bool) (*models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var best *models.Order
	for _, o := range m.orders {
		if o.Status.IsTerminal() || !match(o) {
			continue
		}
		if best == nil || o.CreatedAt.After(best.CreatedAt) {
			best = o
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	return clone(best), nil
}

func (m *MemoryStore) ListByStatus(_ context.Context, status models.OrderStatus) ([]models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Order
	for _, o := range m.orders {
		if o.Status == status {
			out = append(out, *clone(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func clone(o *models.Order) *models.Order {
	c := *o
	c.Stops = append([]models.Stop(nil), o.Stops...)
	c.PetIDs = append([]string(nil), o.PetIDs...)
	if o.CustomerLat != nil {
		v := *o.CustomerLat
		c.CustomerLat = &v
	}
	if o.CustomerLng != nil {
		v := *o.CustomerLng
		c.CustomerLng = &v
	}
	return &c
}
