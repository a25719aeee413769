package geo

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/pet-ride/internal/models"
)

func TestRedisGeo_UpsertNearbyAll(t *testing.T) {
	mr := miniredis.RunT(t)
	c := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer c.Close()
	g := NewRedisGeoFromClient(c, "drivers_geo")
	ctx := context.Background()

	require.NoError(t, g.Upsert(ctx, models.DriverLocation{DriverID: "d1", Lat: 13.7501, Lng: 100.5001, Online: true}))
	require.NoError(t, g.Upsert(ctx, models.DriverLocation{DriverID: "d2", Lat: 13.7510, Lng: 100.5010}))

	near, err := g.Nearby(ctx, 13.75, 100.5, 10)
	require.NoError(t, err)
	require.Len(t, near, 1)
	assert.Equal(t, "d1", near[0].DriverID)
	assert.InDelta(t, 13.7501, near[0].Lat, 1e-4)

	require.NoError(t, g.SetOnline(ctx, "d2", true))
	all, err := g.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	for _, d := range all {
		assert.True(t, d.Online, d.DriverID)
	}
}
