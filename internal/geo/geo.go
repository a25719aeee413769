package geo

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/example/pet-ride/internal/models"
)

// Geo is the driver location index used by the sandbox handlers and matcher.
type Geo interface {
	Upsert(ctx context.Context, d models.DriverLocation) error
	Nearby(ctx context.Context, lat, lng float64, limit int) ([]models.DriverLocation, error)
	All(ctx context.Context) ([]models.DriverLocation, error)
	SetOnline(ctx context.Context, driverID string, online bool) error
}

type Index struct {
	mu      sync.RWMutex
	drivers map[string]models.DriverLocation
}

func NewIndex() *Index {
	return &Index{drivers: make(map[string]models.DriverLocation)}
}

func (g *Index) Upsert(_ context.Context, d models.DriverLocation) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if prev, ok := g.drivers[d.DriverID]; ok && !d.Online {
		d.Online = prev.Online
	}
	d.UpdatedAt = time.Now()
	g.drivers[d.DriverID] = d
	return nil
}

func (g *Index) SetOnline(_ context.Context, driverID string, online bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	d := g.drivers[driverID]
	d.DriverID = driverID
	d.Online = online
	d.UpdatedAt = time.Now()
	g.drivers[driverID] = d
	return nil
}

func (g *Index) All(_ context.Context) ([]models.DriverLocation, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]models.DriverLocation, 0, len(g.drivers))
	for _, d := range g.drivers {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DriverID < out[j].DriverID })
	return out, nil
}

// naive scan; fine for a sandbox fleet
func (g *Index) Nearby(_ context.Context, lat, lng float64, limit int) ([]models.DriverLocation, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	type pair struct {
		d    models.DriverLocation
		dist float64
	}
	arr := make([]pair, 0, len(g.drivers))
	for _, d := range g.drivers {
		if !d.Online {
			continue
		}
		arr = append(arr, pair{d, Haversine(lat, lng, d.Lat, d.Lng)})
	}
	sort.Slice(arr, func(i, j int) bool { return arr[i].dist < arr[j].dist })
	if limit > 0 && limit < len(arr) {
		arr = arr[:limit]
	}
	out := make([]models.DriverLocation, 0, len(arr))
	for _, p := range arr {
		out = append(out, p.d)
	}
	return out, nil
}

// Haversine distance in meters
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}

// Distance is Haversine over coordinates.
func Distance(a, b models.Coord) float64 {
	return Haversine(a.Lat, a.Lng, b.Lat, b.Lng)
}
