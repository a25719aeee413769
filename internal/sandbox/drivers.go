package sandbox

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/example/pet-ride/internal/api"
	"github.com/example/pet-ride/internal/models"
	"github.com/example/pet-ride/internal/observability"
)

type locationRequest struct {
	Lat float64 `json:"lat" validate:"latitude"`
	Lng float64 `json:"lng" validate:"longitude"`
}

func (s *Server) handleDriverLocations(w http.ResponseWriter, r *http.Request) {
	all, err := s.geo.All(r.Context())
	if err != nil {
		s.logger.Error("driver locations", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, all)
}

func (s *Server) handleDriverLocation(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	all, err := s.geo.All(r.Context())
	if err != nil {
		s.logger.Error("driver locations", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	for _, d := range all {
		if d.DriverID == id {
			writeJSON(w, http.StatusOK, d)
			return
		}
	}
	writeError(w, http.StatusNotFound, "driver not found")
}

func (s *Server) handlePutMyLocation(w http.ResponseWriter, r *http.Request) {
	var req locationRequest
	if !decode(w, r, &req) {
		return
	}
	d := models.DriverLocation{DriverID: userFrom(r.Context()), Lat: req.Lat, Lng: req.Lng, UpdatedAt: s.now().UTC()}
	s.mu.Lock()
	d.Online = s.online[d.DriverID]
	s.mu.Unlock()
	if err := s.geo.Upsert(r.Context(), d); err != nil {
		s.logger.Error("geo upsert", "driver_id", d.DriverID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if err := s.publisher.PublishLocation(r.Context(), d); err != nil {
		s.logger.Warn("publish location", "driver_id", d.DriverID, "error", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDriverStatus(w http.ResponseWriter, r *http.Request) {
	var req api.DriverStatusRequest
	if !decode(w, r, &req) {
		return
	}
	driver := userFrom(r.Context())
	if err := s.geo.SetOnline(r.Context(), driver, req.Online); err != nil {
		s.logger.Error("geo set online", "driver_id", driver, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.mu.Lock()
	if req.Online {
		s.online[driver] = true
	} else {
		delete(s.online, driver)
	}
	observability.DriversOnline.Set(float64(len(s.online)))
	s.mu.Unlock()
	s.logger.Info("driver status", "driver_id", driver, "online", req.Online)
	w.WriteHeader(http.StatusNoContent)
}
