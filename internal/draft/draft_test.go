package draft

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/pet-ride/internal/models"
)

func TestSetFocused_AdvancesFromPickupToDropoff(t *testing.T) {
	s := NewStore()
	s.SetFocused(models.Location{Name: "Home", Latitude: 13.75, Longitude: 100.5})
	snap := s.Snapshot()
	require.NotNil(t, snap.Pickup)
	assert.Equal(t, "Home", snap.Pickup.Name)
	assert.Equal(t, FieldDropoff, snap.Focus)

	s.SetFocused(models.Location{Name: "Vet", Latitude: 13.76, Longitude: 100.52})
	snap = s.Snapshot()
	require.NotNil(t, snap.Dropoff)
	assert.Equal(t, "Vet", snap.Dropoff.Name)
	assert.Len(t, snap.Waypoints(), 2)
}

func TestSnapshotIsImmutable(t *testing.T) {
	s := NewStore()
	s.SetPickup(models.Location{Name: "A"})
	s.AddStop(models.Location{Name: "S1"})
	snap := s.Snapshot()

	snap.Pickup.Name = "mutated"
	snap.Stops[0].Name = "mutated"
	again := s.Snapshot()
	assert.Equal(t, "A", again.Pickup.Name)
	assert.Equal(t, "S1", again.Stops[0].Name)
}

func TestRouteVersionOnlyTracksWaypoints(t *testing.T) {
	s := NewStore()
	s.SetPickup(models.Location{Name: "A"})
	rv := s.Snapshot().RouteVersion
	s.SetVehicle("sedan")
	s.SetPets([]string{"p1"}, 12)
	assert.Equal(t, rv, s.Snapshot().RouteVersion)
	s.AddStop(models.Location{Name: "S"})
	assert.Greater(t, s.Snapshot().RouteVersion, rv)
}

func TestResetClearsEverything(t *testing.T) {
	s := NewStore()
	var seen []Snapshot
	s.Subscribe(func(sn Snapshot) { seen = append(seen, sn) })

	s.SetPickup(models.Location{Name: "A"})
	s.SetDropoff(models.Location{Name: "B"})
	s.SetVehicle("van")
	s.SetPaymentMethod(models.PayWallet)
	s.Reset()

	snap := s.Snapshot()
	assert.Nil(t, snap.Pickup)
	assert.Nil(t, snap.Dropoff)
	assert.Empty(t, snap.VehicleType)
	assert.Equal(t, models.PayCash, snap.PaymentMethod)
	assert.Len(t, seen, 5)
}

func TestRemoveStop(t *testing.T) {
	s := NewStore()
	s.AddStop(models.Location{Name: "S1"})
	s.AddStop(models.Location{Name: "S2"})
	s.AddStop(models.Location{Name: "S3"})
	s.RemoveStop(1)
	s.RemoveStop(9)
	stops := s.Snapshot().Stops
	require.Len(t, stops, 2)
	assert.Equal(t, "S3", stops[1].Name)
}
