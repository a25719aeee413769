package places

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/example/pet-ride/internal/draft"
	"github.com/example/pet-ride/internal/logging"
	"github.com/example/pet-ride/internal/models"
)

var ErrPermissionDenied = errors.New("location permission denied")

// Locator is the device GPS.
type Locator interface {
	CurrentPosition(ctx context.Context) (models.Coord, error)
}

// Geocoder resolves coordinates to places and free text to candidates.
type Geocoder interface {
	Reverse(ctx context.Context, at models.Coord) (models.Location, error)
	Search(ctx context.Context, query string, near *models.Coord) ([]models.Location, error)
}

// StaticLocator reports a position set by the caller. Used by the CLI and tests.
type StaticLocator struct {
	mu  sync.Mutex
	pos models.Coord
	err error
}

func NewStaticLocator(pos models.Coord) *StaticLocator {
	return &StaticLocator{pos: pos}
}

func (s *StaticLocator) Move(pos models.Coord) {
	s.mu.Lock()
	s.pos = pos
	s.mu.Unlock()
}

func (s *StaticLocator) Deny() {
	s.mu.Lock()
	s.err = ErrPermissionDenied
	s.mu.Unlock()
}

func (s *StaticLocator) CurrentPosition(context.Context) (models.Coord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos, s.err
}

// Resolver turns the device position into a named location.
type Resolver struct {
	locator  Locator
	geocoder Geocoder
	logger   *slog.Logger
}

func NewResolver(l Locator, g Geocoder, logger *slog.Logger) *Resolver {
	return &Resolver{locator: l, geocoder: g, logger: logging.OrDefault(logger)}
}

func (r *Resolver) Resolve(ctx context.Context) (models.Location, error) {
	pos, err := r.locator.CurrentPosition(ctx)
	if err != nil {
		return models.Location{}, fmt.Errorf("device position: %w", err)
	}
	loc, err := r.geocoder.Reverse(ctx, pos)
	if err != nil {
		r.logger.Warn("reverse geocode failed", "error", err)
		name := fmt.Sprintf("%.5f, %.5f", pos.Lat, pos.Lng)
		return models.Location{Name: name, Address: name, Latitude: pos.Lat, Longitude: pos.Lng}, nil
	}
	loc.Latitude, loc.Longitude = pos.Lat, pos.Lng
	return loc, nil
}

// SeedPickup fills the pickup slot from the device position if it is empty.
func (r *Resolver) SeedPickup(ctx context.Context, store *draft.Store) (bool, error) {
	if store.Snapshot().Pickup != nil {
		return false, nil
	}
	loc, err := r.Resolve(ctx)
	if err != nil {
		return false, err
	}
	return store.SetPickupIfEmpty(loc), nil
}

// Select hydrates the focused draft slot with a chosen search result.
func Select(store *draft.Store, loc models.Location) {
	store.SetFocused(loc)
}
