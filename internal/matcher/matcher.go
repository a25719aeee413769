// Package matcher ranks pending jobs for a driver by how soon the driver
// could reach each pickup.
package matcher

import (
	"context"
	"sort"

	"github.com/example/pet-ride/internal/geo"
	"github.com/example/pet-ride/internal/models"
	"github.com/example/pet-ride/internal/route"
)

// Candidate is a pending job scored for one driver.
type Candidate struct {
	Order      models.Order
	ETASeconds float64
	DistanceM  float64
}

type Service struct {
	Router          route.Router // optional OSRM router
	Cache           *route.Cache // optional route cache
	DefaultSpeedMps float64
	TopN            int
}

// EstimateSeconds is the straight-line travel time at speedMps.
func EstimateSeconds(from, to models.Coord, speedMps float64) float64 {
	if speedMps <= 0 {
		speedMps = 8
	}
	return geo.Distance(from, to) / speedMps
}

// Rank orders jobs by ETA from the driver to each pickup, nearest first, and
// keeps at most TopN.
func (s *Service) Rank(ctx context.Context, from models.Coord, jobs []models.Order) []Candidate {
	out := make([]Candidate, 0, len(jobs))
	for _, o := range jobs {
		out = append(out, Candidate{
			Order:      o,
			ETASeconds: s.eta(ctx, from, o.Pickup()),
			DistanceM:  geo.Distance(from, o.Pickup()),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ETASeconds != out[j].ETASeconds {
			return out[i].ETASeconds < out[j].ETASeconds
		}
		return out[i].Order.CreatedAt.Before(out[j].Order.CreatedAt)
	})
	if s.TopN > 0 && len(out) > s.TopN {
		out = out[:s.TopN]
	}
	return out
}

func (s *Service) eta(ctx context.Context, from, to models.Coord) float64 {
	pts := []models.Coord{from, to}
	if s.Cache != nil {
		if r, ok := s.Cache.Get(pts); ok {
			return r.DurationS
		}
	}
	if s.Router != nil {
		if r, err := s.Router.Route(ctx, pts); err == nil {
			if s.Cache != nil {
				s.Cache.Set(pts, r)
			}
			return r.DurationS
		}
		// fall through to the naive estimate
	}
	return EstimateSeconds(from, to, s.DefaultSpeedMps)
}
