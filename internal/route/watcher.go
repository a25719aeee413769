package route

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/example/pet-ride/internal/draft"
	"github.com/example/pet-ride/internal/logging"
	"github.com/example/pet-ride/internal/models"
)

// Watcher re-resolves the route when the draft's waypoints change.
type Watcher struct {
	router Router
	cache  *Cache
	logger *slog.Logger

	mu      sync.Mutex
	version uint64
	have    bool
	current models.Route
}

func NewWatcher(r Router, cache *Cache, logger *slog.Logger) *Watcher {
	return &Watcher{router: r, cache: cache, logger: logging.OrDefault(logger)}
}

// Update returns the route for snap, querying the router only when the
// waypoints changed since the last call. changed reports a new route; a
// result for a draft older than the one already held returns the held route
// with changed false.
func (w *Watcher) Update(ctx context.Context, snap draft.Snapshot) (r models.Route, changed bool, err error) {
	w.mu.Lock()
	if w.have && w.version == snap.RouteVersion {
		r := w.current
		w.mu.Unlock()
		return r, false, nil
	}
	w.mu.Unlock()

	if snap.Pickup == nil || snap.Dropoff == nil {
		r, changed = w.store(snap.RouteVersion, models.Route{})
		return r, changed, nil
	}
	pts := snap.Waypoints()
	if w.cache != nil {
		if cached, ok := w.cache.Get(pts); ok {
			r, changed = w.store(snap.RouteVersion, cached)
			return r, changed, nil
		}
	}
	r, err = w.router.Route(ctx, pts)
	if err != nil {
		w.logger.Warn("route lookup failed", "waypoints", len(pts), "error", err)
		return models.Route{}, false, fmt.Errorf("route: %w", err)
	}
	if w.cache != nil {
		w.cache.Set(pts, r)
	}
	r, changed = w.store(snap.RouteVersion, r)
	return r, changed, nil
}

// store keeps r unless a newer draft version is already held. It returns
// the route now current and whether r became it.
func (w *Watcher) store(version uint64, r models.Route) (models.Route, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	// a slower lookup for an older draft must not overwrite a newer one
	if w.have && version < w.version {
		return w.current, false
	}
	w.version, w.current, w.have = version, r, true
	return r, true
}
