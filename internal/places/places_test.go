package places

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/pet-ride/internal/draft"
	"github.com/example/pet-ride/internal/models"
)

type fakeGeocoder struct {
	searches atomic.Int32
	revErr   error
}

func (f *fakeGeocoder) Reverse(_ context.Context, at models.Coord) (models.Location, error) {
	if f.revErr != nil {
		return models.Location{}, f.revErr
	}
	return models.Location{Name: "Sukhumvit Soi 11", Address: "Sukhumvit Soi 11, Bangkok"}, nil
}

func (f *fakeGeocoder) Search(_ context.Context, q string, _ *models.Coord) ([]models.Location, error) {
	f.searches.Add(1)
	return []models.Location{{Name: q + " clinic", Latitude: 13.7, Longitude: 100.5}}, nil
}

func TestSearcher_DebouncesKeystrokes(t *testing.T) {
	g := &fakeGeocoder{}
	s := NewSearcher(g, 30*time.Millisecond, nil)

	var mu sync.Mutex
	var got []string
	deliver := func(q string, res []models.Location, err error) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, q)
	}
	for _, q := range []string{"v", "ve", "vet", "vet c"} {
		s.Query(q, deliver)
		time.Sleep(5 * time.Millisecond)
	}

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"vet c"}, got)
	assert.Equal(t, int32(1), g.searches.Load())
}

func TestSearcher_BlankQueryIsImmediateAndOffline(t *testing.T) {
	g := &fakeGeocoder{}
	s := NewSearcher(g, time.Hour, nil)

	called := false
	s.Query("   ", func(q string, res []models.Location, err error) {
		called = true
		assert.Empty(t, res)
		assert.NoError(t, err)
	})
	assert.True(t, called)
	assert.Zero(t, g.searches.Load())
}

func TestSearcher_CachesByQueryAndArea(t *testing.T) {
	g := &fakeGeocoder{}
	s := NewSearcher(g, time.Millisecond, nil)
	s.Near(models.Coord{Lat: 13.75, Lng: 100.5})

	done := make(chan []models.Location, 2)
	deliver := func(_ string, res []models.Location, _ error) { done <- res }
	s.Query("Vet", deliver)
	<-done
	s.Query("vet", deliver)
	res := <-done
	require.Len(t, res, 1)
	assert.Equal(t, int32(1), g.searches.Load())
}

func TestSearcher_CacheIsBounded(t *testing.T) {
	g := &fakeGeocoder{}
	s := NewSearcher(g, time.Millisecond, nil)
	s.cacheSize = 2

	done := make(chan []models.Location, 1)
	deliver := func(_ string, res []models.Location, _ error) { done <- res }
	for _, q := range []string{"vet", "groomer", "park"} {
		s.Query(q, deliver)
		<-done
		time.Sleep(2 * time.Millisecond)
	}
	s.mu.Lock()
	assert.Len(t, s.cache, 2)
	_, kept := s.cache["vet"]
	s.mu.Unlock()
	assert.False(t, kept, "the oldest entry is evicted first")

	s.Query("vet", deliver)
	<-done
	assert.Equal(t, int32(4), g.searches.Load())
}

func TestSearcher_CacheEntriesExpire(t *testing.T) {
	g := &fakeGeocoder{}
	s := NewSearcher(g, time.Millisecond, nil)
	s.cacheTTL = 10 * time.Millisecond

	done := make(chan []models.Location, 1)
	deliver := func(_ string, res []models.Location, _ error) { done <- res }
	s.Query("vet", deliver)
	<-done
	s.Query("vet", deliver)
	<-done
	assert.Equal(t, int32(1), g.searches.Load())

	time.Sleep(20 * time.Millisecond)
	s.Query("vet", deliver)
	<-done
	assert.Equal(t, int32(2), g.searches.Load())
}

func TestResolver_SeedPickupOnlyWhenEmpty(t *testing.T) {
	loc := NewStaticLocator(models.Coord{Lat: 13.7440, Lng: 100.5560})
	r := NewResolver(loc, &fakeGeocoder{}, nil)
	store := draft.NewStore()

	seeded, err := r.SeedPickup(context.Background(), store)
	require.NoError(t, err)
	assert.True(t, seeded)
	snap := store.Snapshot()
	assert.Equal(t, "Sukhumvit Soi 11", snap.Pickup.Name)
	assert.InDelta(t, 13.7440, snap.Pickup.Latitude, 1e-9)
	assert.Equal(t, draft.FieldDropoff, snap.Focus)

	seeded, err = r.SeedPickup(context.Background(), store)
	require.NoError(t, err)
	assert.False(t, seeded)
}

func TestResolver_PermissionAndReverseFailures(t *testing.T) {
	loc := NewStaticLocator(models.Coord{Lat: 13.7, Lng: 100.5})
	r := NewResolver(loc, &fakeGeocoder{revErr: errors.New("offline")}, nil)

	l, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "13.70000, 100.50000", l.Name)

	loc.Deny()
	_, err = r.Resolve(context.Background())
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestNominatimClient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "jsonv2", r.URL.Query().Get("format"))
		switch r.URL.Path {
		case "/search":
			assert.Equal(t, "siam paragon", r.URL.Query().Get("q"))
			w.Write([]byte(`[{"name":"Siam Paragon","display_name":"Siam Paragon, Rama I Rd","lat":"13.7462","lon":"100.5347"},{"display_name":"broken","lat":"x","lon":"1"}]`))
		case "/reverse":
			w.Write([]byte(`{"display_name":"Lumphini Park, Bangkok","lat":"13.73","lon":"100.54"}`))
		}
	}))
	defer server.Close()
	n := NewNominatimClient(server.URL)

	res, err := n.Search(context.Background(), "siam paragon", nil)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "Siam Paragon", res[0].Name)
	assert.InDelta(t, 100.5347, res[0].Longitude, 1e-9)

	l, err := n.Reverse(context.Background(), models.Coord{Lat: 13.73, Lng: 100.54})
	require.NoError(t, err)
	assert.Equal(t, "Lumphini Park", l.Name)
}

func TestSelect_HydratesFocusedSlot(t *testing.T) {
	store := draft.NewStore()
	Select(store, models.Location{Name: "Home"})
	Select(store, models.Location{Name: "Groomer"})
	snap := store.Snapshot()
	assert.Equal(t, "Home", snap.Pickup.Name)
	assert.Equal(t, "Groomer", snap.Dropoff.Name)
}
