package sandbox

import (
	"net/http"

	"github.com/example/pet-ride/internal/api"
	"github.com/example/pet-ride/internal/models"
	"github.com/example/pet-ride/internal/pricing"
)

func (s *Server) vehicle(id string) (models.VehicleType, bool) {
	for _, v := range s.opts.Vehicles {
		if v.ID == id {
			return v, true
		}
	}
	return models.VehicleType{}, false
}

// handleEstimate prices with the same formula the client falls back to.
func (s *Server) handleEstimate(w http.ResponseWriter, r *http.Request) {
	var req api.EstimateRequest
	if !decode(w, r, &req) {
		return
	}
	v, ok := s.vehicle(req.VehicleType)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown vehicle type "+req.VehicleType)
		return
	}
	q := pricing.Approximate(v,
		models.Coord{Lat: req.PickupLat, Lng: req.PickupLng},
		models.Coord{Lat: req.DropoffLat, Lng: req.DropoffLng},
		s.opts.Settings, req.PetWeightKg)
	writeJSON(w, http.StatusOK, q)
}

func (s *Server) handleVehicleTypes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.opts.Vehicles)
}

func (s *Server) handlePricingSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.opts.Settings)
}
