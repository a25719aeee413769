// Package sandbox is an in-process backend that speaks the order, pricing,
// driver, payment and chat contract the client packages consume. Bearer
// tokens are taken as the caller's user id.
package sandbox

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/pet-ride/internal/api"
	"github.com/example/pet-ride/internal/geo"
	"github.com/example/pet-ride/internal/ingest"
	"github.com/example/pet-ride/internal/logging"
	"github.com/example/pet-ride/internal/matcher"
	"github.com/example/pet-ride/internal/models"
	"github.com/example/pet-ride/internal/payments"
	"github.com/example/pet-ride/internal/pricing"
	"github.com/example/pet-ride/internal/storage"
)

// Deps are the pluggable backends. Nil fields get in-memory defaults.
type Deps struct {
	Store     storage.OrderStore
	Geo       geo.Geo
	Publisher ingest.Publisher
	Gateway   payments.Gateway
	Matcher   *matcher.Service
	Logger    *slog.Logger
}

type Options struct {
	Vehicles      []models.VehicleType
	Settings      models.PricingSettings
	WalletBalance float64
	Currency      string
}

func (o *Options) withDefaults() {
	if len(o.Vehicles) == 0 {
		o.Vehicles = pricing.DefaultVehicleTypes()
	}
	if o.Settings.SurgeMultiplier <= 0 {
		o.Settings.SurgeMultiplier = 1
	}
	if o.Currency == "" {
		o.Currency = "thb"
	}
	if o.Settings.Currency == "" {
		o.Settings.Currency = o.Currency
	}
	if o.WalletBalance == 0 {
		o.WalletBalance = 500
	}
}

type Server struct {
	store     storage.OrderStore
	geo       geo.Geo
	publisher ingest.Publisher
	gateway   payments.Gateway
	matcher   *matcher.Service
	logger    *slog.Logger
	opts      Options
	hub       *chatHub
	mux       *mux.Router
	now       func() time.Time

	// orderMu serializes read-modify-write cycles on orders.
	orderMu sync.Mutex

	mu       sync.Mutex
	wallets  map[string]float64
	payments map[string]*payment // by order id
	declined map[string]map[string]bool
	online   map[string]bool
}

type payment struct {
	models.Payment
	intentID string
}

func New(d Deps, opts Options) *Server {
	opts.withDefaults()
	if d.Store == nil {
		d.Store = storage.NewMemoryStore()
	}
	if d.Geo == nil {
		d.Geo = geo.NewIndex()
	}
	if d.Publisher == nil {
		d.Publisher = ingest.Nop{}
	}
	if d.Gateway == nil {
		d.Gateway = payments.NewLocalGateway()
	}
	if d.Matcher == nil {
		d.Matcher = &matcher.Service{DefaultSpeedMps: 8, TopN: 10}
	}
	logger := logging.OrDefault(d.Logger)
	s := &Server{
		store:     d.Store,
		geo:       d.Geo,
		publisher: d.Publisher,
		gateway:   d.Gateway,
		matcher:   d.Matcher,
		logger:    logger,
		opts:      opts,
		hub:       newChatHub(logger),
		mux:       mux.NewRouter(),
		now:       time.Now,
		wallets:   make(map[string]float64),
		payments:  make(map[string]*payment),
		declined:  make(map[string]map[string]bool),
		online:    make(map[string]bool),
	}
	s.routes()
	s.registerMiddleware()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.Handler())

	a := s.mux.NewRoute().Subrouter()
	a.Use(s.authMiddleware)

	a.HandleFunc("/orders", s.handleCreateOrder).Methods(http.MethodPost)
	a.HandleFunc("/orders/active", s.handleActiveOrder).Methods(http.MethodGet)
	a.HandleFunc("/orders/pending", s.handlePendingOrders).Methods(http.MethodGet)
	a.HandleFunc("/orders/{id}", s.handleGetOrder).Methods(http.MethodGet)
	a.HandleFunc("/orders/{id}", s.handlePatchOrder).Methods(http.MethodPatch)
	a.HandleFunc("/orders/{id}/accept", s.handleAccept).Methods(http.MethodPost)
	a.HandleFunc("/orders/{id}/decline", s.handleDecline).Methods(http.MethodPost)
	a.HandleFunc("/orders/{id}/pickup", s.handlePickup).Methods(http.MethodPost)
	a.HandleFunc("/orders/{id}/complete", s.handleComplete).Methods(http.MethodPost)
	a.HandleFunc("/orders/{id}/pay-wallet", s.handlePayWallet).Methods(http.MethodPost)
	a.HandleFunc("/orders/{id}/promptpay/confirm", s.handleConfirmPayment).Methods(http.MethodPost)
	a.HandleFunc("/orders/{id}/stops/{stop_id}", s.handleStopStatus).Methods(http.MethodPatch)

	a.HandleFunc("/pricing/estimate", s.handleEstimate).Methods(http.MethodPost)
	a.HandleFunc("/pricing/vehicle-types", s.handleVehicleTypes).Methods(http.MethodGet)
	a.HandleFunc("/pricing/settings", s.handlePricingSettings).Methods(http.MethodGet)

	a.HandleFunc("/driver_locations/", s.handleDriverLocations).Methods(http.MethodGet)
	a.HandleFunc("/driver_locations/me", s.handlePutMyLocation).Methods(http.MethodPut)
	a.HandleFunc("/driver_locations/{id}", s.handleDriverLocation).Methods(http.MethodGet)
	a.HandleFunc("/drivers/status", s.handleDriverStatus).Methods(http.MethodPatch)

	a.HandleFunc("/payments", s.handleCreatePayment).Methods(http.MethodPost)
	a.HandleFunc("/wallet", s.handleWallet).Methods(http.MethodGet)

	a.HandleFunc("/ws/chat", s.handleChat)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

// Close drops every chat connection.
func (s *Server) Close() {
	s.hub.closeAll()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// decode reads a JSON body and checks its validate tags.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return false
	}
	if err := api.Validate(v); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

// storeError maps storage failures to responses.
func (s *Server) storeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "order not found")
		return
	}
	s.logger.Error("store failure", "path", r.URL.Path, "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}
