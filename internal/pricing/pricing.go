package pricing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/example/pet-ride/internal/api"
	"github.com/example/pet-ride/internal/geo"
	"github.com/example/pet-ride/internal/logging"
	"github.com/example/pet-ride/internal/models"
	"github.com/example/pet-ride/internal/observability"
)

const (
	// roadFactor stretches straight-line distance towards road distance.
	roadFactor  = 1.3
	avgSpeedKmh = 30.0
)

// WeightSurcharge is a step function of pet weight.
func WeightSurcharge(kg float64) float64 {
	switch {
	case kg > 30:
		return 60
	case kg > 20:
		return 40
	case kg > 10:
		return 20
	default:
		return 0
	}
}

// Fallback approximates a fare locally. It is display-only and never billed.
func Fallback(v models.VehicleType, distanceKm, durationMin, surge, weightKg float64) float64 {
	if surge <= 0 {
		surge = 1
	}
	raw := (v.BasePrice+distanceKm*v.PerKmRate+durationMin*v.PerMinRate)*surge + WeightSurcharge(weightKg)
	return math.Max(v.MinPrice, math.Round(raw))
}

// DefaultVehicleTypes are used when the catalog was never fetched.
func DefaultVehicleTypes() []models.VehicleType {
	return []models.VehicleType{
		{ID: "sedan", Name: "Sedan", BasePrice: 40, PerKmRate: 8, PerMinRate: 1.5, MinPrice: 80, MaxPets: 2},
		{ID: "suv", Name: "SUV", BasePrice: 60, PerKmRate: 10, PerMinRate: 2, MinPrice: 120, MaxPets: 4},
		{ID: "van", Name: "Van", BasePrice: 90, PerKmRate: 13, PerMinRate: 2.5, MinPrice: 180, MaxPets: 8},
	}
}

type Backend interface {
	Estimate(ctx context.Context, req api.EstimateRequest) (*models.Quote, error)
	VehicleTypes(ctx context.Context) ([]models.VehicleType, error)
	PricingSettings(ctx context.Context) (*models.PricingSettings, error)
}

// Estimator prefers the backend quote and falls back to Fallback when the
// backend is unreachable.
type Estimator struct {
	backend Backend
	logger  *slog.Logger

	mu       sync.RWMutex
	vehicles map[string]models.VehicleType
	settings models.PricingSettings
}

func NewEstimator(b Backend, logger *slog.Logger) *Estimator {
	e := &Estimator{backend: b, logger: logging.OrDefault(logger), settings: models.PricingSettings{SurgeMultiplier: 1}}
	e.setVehicles(DefaultVehicleTypes())
	return e
}

func (e *Estimator) setVehicles(vs []models.VehicleType) {
	m := make(map[string]models.VehicleType, len(vs))
	for _, v := range vs {
		m[v.ID] = v
	}
	e.mu.Lock()
	e.vehicles = m
	e.mu.Unlock()
}

// LoadCatalog refreshes the cached vehicle types and settings used by the
// fallback. Failures keep the previous values.
func (e *Estimator) LoadCatalog(ctx context.Context) error {
	vs, err := e.backend.VehicleTypes(ctx)
	if err != nil {
		return fmt.Errorf("vehicle types: %w", err)
	}
	if len(vs) > 0 {
		e.setVehicles(vs)
	}
	s, err := e.backend.PricingSettings(ctx)
	if err != nil {
		return fmt.Errorf("pricing settings: %w", err)
	}
	e.mu.Lock()
	e.settings = *s
	e.mu.Unlock()
	return nil
}

func (e *Estimator) Vehicle(id string) (models.VehicleType, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.vehicles[id]
	return v, ok
}

func (e *Estimator) Quote(ctx context.Context, req api.EstimateRequest) (models.Quote, error) {
	q, err := e.backend.Estimate(ctx, req)
	if err == nil {
		return *q, nil
	}
	if !unreachable(ctx, err) {
		return models.Quote{}, fmt.Errorf("estimate: %w", err)
	}
	v, ok := e.Vehicle(req.VehicleType)
	if !ok {
		return models.Quote{}, fmt.Errorf("estimate unavailable and unknown vehicle %q: %w", req.VehicleType, err)
	}
	e.logger.Warn("pricing backend unreachable, using local approximation", "error", err, "vehicle", req.VehicleType)
	observability.PricingFallbacks.Inc()

	e.mu.RLock()
	settings := e.settings
	e.mu.RUnlock()
	return Approximate(v, models.Coord{Lat: req.PickupLat, Lng: req.PickupLng}, models.Coord{Lat: req.DropoffLat, Lng: req.DropoffLng}, settings, req.PetWeightKg), nil
}

// unreachable reports whether err means the pricing service could not answer,
// as opposed to rejecting the request.
func unreachable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var se *api.StatusError
	switch {
	case errors.Is(err, api.ErrInvalidRequest), errors.Is(err, api.ErrUnauthorized), errors.Is(err, api.ErrNotFound):
		return false
	case errors.As(err, &se):
		return se.Code >= 500
	}
	return true
}

// Approximate builds a non-authoritative quote from straight-line distance.
func Approximate(v models.VehicleType, from, to models.Coord, s models.PricingSettings, weightKg float64) models.Quote {
	km := geo.Distance(from, to) / 1000 * roadFactor
	minutes := km / avgSpeedKmh * 60
	surge := s.SurgeMultiplier
	if surge <= 0 {
		surge = 1
	}
	return models.Quote{
		Price:           Fallback(v, km, minutes, surge, weightKg),
		DistanceKm:      km,
		DurationMin:     minutes,
		WeightSurcharge: WeightSurcharge(weightKg),
		SurgeMultiplier: surge,
		SurgeReasons:    s.SurgeReasons,
	}
}
