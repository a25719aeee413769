// Package draft holds the in-progress booking before it becomes an order.
package draft

import (
	"sync"

	"github.com/example/pet-ride/internal/models"
)

type Field int

const (
	FieldPickup Field = iota
	FieldDropoff
)

// Snapshot is an immutable copy of the draft; read all fields from one
// snapshot rather than from the store field by field.
type Snapshot struct {
	Pickup         *models.Location
	Dropoff        *models.Location
	Stops          []models.Location
	VehicleType    string
	PetWeightKg    float64
	PetIDs         []string
	PassengerCount int
	PaymentMethod  models.PaymentMethod
	Focus          Field
	Version        uint64
	// RouteVersion changes only when pickup, dropoff or stops change.
	RouteVersion uint64
}

func (s Snapshot) Waypoints() []models.Coord {
	var out []models.Coord
	if s.Pickup != nil {
		out = append(out, s.Pickup.Coord())
	}
	for _, st := range s.Stops {
		out = append(out, st.Coord())
	}
	if s.Dropoff != nil {
		out = append(out, s.Dropoff.Coord())
	}
	return out
}

// Store is constructed per session and reset when a booking ends.
type Store struct {
	mu        sync.Mutex
	snap      Snapshot
	listeners []func(Snapshot)
}

func NewStore() *Store {
	return &Store{snap: Snapshot{PaymentMethod: models.PayCash}}
}

// Subscribe registers fn to receive every new snapshot.
func (s *Store) Subscribe(fn func(Snapshot)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.clone()
}

func (s *Store) update(routeChange bool, fn func(*Snapshot)) {
	s.mu.Lock()
	fn(&s.snap)
	s.snap.Version++
	if routeChange {
		s.snap.RouteVersion++
	}
	out := s.snap.clone()
	ls := append([]func(Snapshot){}, s.listeners...)
	s.mu.Unlock()
	for _, l := range ls {
		l(out)
	}
}

func (s *Store) SetPickup(l models.Location) {
	s.update(true, func(d *Snapshot) { d.Pickup = &l })
}

// SetPickupIfEmpty seeds the pickup slot unless the user already filled it.
func (s *Store) SetPickupIfEmpty(l models.Location) bool {
	s.mu.Lock()
	empty := s.snap.Pickup == nil
	s.mu.Unlock()
	if !empty {
		return false
	}
	set := false
	s.update(true, func(d *Snapshot) {
		if d.Pickup == nil {
			d.Pickup = &l
			d.Focus = FieldDropoff
			set = true
		}
	})
	return set
}

func (s *Store) SetDropoff(l models.Location) {
	s.update(true, func(d *Snapshot) { d.Dropoff = &l })
}

// SetFocused fills the focused slot and moves focus from pickup to dropoff.
func (s *Store) SetFocused(l models.Location) {
	s.update(true, func(d *Snapshot) {
		if d.Focus == FieldPickup {
			d.Pickup = &l
			d.Focus = FieldDropoff
			return
		}
		d.Dropoff = &l
	})
}

func (s *Store) Focus(f Field) {
	s.update(false, func(d *Snapshot) { d.Focus = f })
}

func (s *Store) AddStop(l models.Location) {
	s.update(true, func(d *Snapshot) { d.Stops = append(d.Stops, l) })
}

func (s *Store) RemoveStop(i int) {
	s.update(true, func(d *Snapshot) {
		if i < 0 || i >= len(d.Stops) {
			return
		}
		d.Stops = append(d.Stops[:i:i], d.Stops[i+1:]...)
	})
}

func (s *Store) SetVehicle(id string) {
	s.update(false, func(d *Snapshot) { d.VehicleType = id })
}

func (s *Store) SetPets(ids []string, weightKg float64) {
	s.update(false, func(d *Snapshot) {
		d.PetIDs = append([]string(nil), ids...)
		d.PetWeightKg = weightKg
	})
}

func (s *Store) SetPassengers(n int) {
	s.update(false, func(d *Snapshot) { d.PassengerCount = n })
}

func (s *Store) SetPaymentMethod(m models.PaymentMethod) {
	s.update(false, func(d *Snapshot) { d.PaymentMethod = m })
}

// Reset clears the draft after completion or cancellation.
func (s *Store) Reset() {
	s.update(true, func(d *Snapshot) {
		*d = Snapshot{PaymentMethod: models.PayCash, Version: d.Version, RouteVersion: d.RouteVersion}
	})
}

func (s Snapshot) clone() Snapshot {
	out := s
	if s.Pickup != nil {
		p := *s.Pickup
		out.Pickup = &p
	}
	if s.Dropoff != nil {
		d := *s.Dropoff
		out.Dropoff = &d
	}
	out.Stops = append([]models.Location(nil), s.Stops...)
	out.PetIDs = append([]string(nil), s.PetIDs...)
	return out
}
