package places

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mmcloughlin/geohash"

	"github.com/example/pet-ride/internal/logging"
	"github.com/example/pet-ride/internal/models"
)

const (
	DefaultDebounce = 800 * time.Millisecond

	searchCacheTTL  = 10 * time.Minute
	searchCacheSize = 64
)

// ResultFunc receives the candidates for the latest query only.
type ResultFunc func(query string, results []models.Location, err error)

// Searcher debounces free-text place lookups.
type Searcher struct {
	geocoder Geocoder
	debounce time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	seq    uint64
	timer  *time.Timer
	cancel context.CancelFunc
	near   *models.Coord

	// cacheTTL and cacheSize bound the result cache.
	cache     map[string]searchEntry
	cacheTTL  time.Duration
	cacheSize int
}

type searchEntry struct {
	res []models.Location
	ts  time.Time
}

func NewSearcher(g Geocoder, debounce time.Duration, logger *slog.Logger) *Searcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Searcher{
		geocoder:  g,
		debounce:  debounce,
		logger:    logging.OrDefault(logger),
		cache:     make(map[string]searchEntry),
		cacheTTL:  searchCacheTTL,
		cacheSize: searchCacheSize,
	}
}

// Near biases subsequent searches around a position.
func (s *Searcher) Near(c models.Coord) {
	s.mu.Lock()
	s.near = &c
	s.mu.Unlock()
}

// Query schedules a lookup after the debounce window, superseding any pending
// or in-flight one. A blank query answers immediately with no results.
func (s *Searcher) Query(q string, deliver ResultFunc) {
	q = strings.TrimSpace(q)

	s.mu.Lock()
	s.seq++
	seq := s.seq
	s.stopLocked()
	if q == "" {
		s.mu.Unlock()
		deliver(q, nil, nil)
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	near := s.near
	s.timer = time.AfterFunc(s.debounce, func() { s.run(ctx, seq, q, near, deliver) })
	s.mu.Unlock()
}

// Cancel drops any pending or in-flight lookup.
func (s *Searcher) Cancel() {
	s.mu.Lock()
	s.seq++
	s.stopLocked()
	s.mu.Unlock()
}

func (s *Searcher) stopLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

func (s *Searcher) run(ctx context.Context, seq uint64, q string, near *models.Coord, deliver ResultFunc) {
	key := cacheKey(q, near)
	cached, ok := s.cached(key)

	var (
		res []models.Location
		err error
	)
	if ok {
		res = cached
	} else {
		res, err = s.geocoder.Search(ctx, q, near)
		if err == nil {
			s.remember(key, res)
		} else {
			s.logger.Warn("place search failed", "query", q, "error", err)
		}
	}

	s.mu.Lock()
	stale := seq != s.seq
	s.mu.Unlock()
	if stale || ctx.Err() != nil {
		return
	}
	deliver(q, res, err)
}

func (s *Searcher) cached(key string) ([]models.Location, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.cache[key]
	if !ok {
		return nil, false
	}
	if time.Since(e.ts) > s.cacheTTL {
		delete(s.cache, key)
		return nil, false
	}
	return e.res, true
}

// remember stores res, first dropping expired entries and then, if the
// cache is still full, the oldest one.
func (s *Searcher) remember(key string, res []models.Location) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if _, ok := s.cache[key]; !ok && len(s.cache) >= s.cacheSize {
		var oldest string
		var oldestTS time.Time
		for k, e := range s.cache {
			if now.Sub(e.ts) > s.cacheTTL {
				delete(s.cache, k)
				continue
			}
			if oldest == "" || e.ts.Before(oldestTS) {
				oldest, oldestTS = k, e.ts
			}
		}
		if len(s.cache) >= s.cacheSize {
			delete(s.cache, oldest)
		}
	}
	s.cache[key] = searchEntry{res: res, ts: now}
}

func cacheKey(q string, near *models.Coord) string {
	k := strings.ToLower(q)
	if near != nil {
		k += "@" + geohash.EncodeWithPrecision(near.Lat, near.Lng, 5)
	}
	return k
}
