package models

import (
	"encoding/json"
	"sort"
	"time"
)

type Coord struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Location is a named coordinate held by the booking draft.
type Location struct {
	Name      string  `json:"name"`
	Address   string  `json:"address"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func (l Location) Coord() Coord { return Coord{Lat: l.Latitude, Lng: l.Longitude} }

type OrderStatus string

const (
	StatusPending    OrderStatus = "pending"
	StatusAccepted   OrderStatus = "accepted"
	StatusArrived    OrderStatus = "arrived"
	StatusInProgress OrderStatus = "in_progress"
	StatusCompleted  OrderStatus = "completed"
	StatusCancelled  OrderStatus = "cancelled"

	// statusPickedUp is an alias some backend versions still emit.
	statusPickedUp OrderStatus = "picked_up"
)

// UnmarshalJSON folds picked_up into in_progress.
func (s *OrderStatus) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*s = NormalizeStatus(OrderStatus(raw))
	return nil
}

func NormalizeStatus(s OrderStatus) OrderStatus {
	if s == statusPickedUp {
		return StatusInProgress
	}
	return s
}

func (s OrderStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type StopStatus string

const (
	StopPending  StopStatus = "pending"
	StopArrived  StopStatus = "arrived"
	StopDeparted StopStatus = "departed"
)

type Stop struct {
	ID         string     `json:"id"`
	OrderIndex int        `json:"order_index"`
	Lat        float64    `json:"lat"`
	Lng        float64    `json:"lng"`
	Address    string     `json:"address"`
	Status     StopStatus `json:"status"`
}

func (s Stop) Coord() Coord { return Coord{Lat: s.Lat, Lng: s.Lng} }

type PaymentMethod string

const (
	PayCash      PaymentMethod = "cash"
	PayPromptPay PaymentMethod = "promptpay"
	PayWallet    PaymentMethod = "wallet"
	PayCard      PaymentMethod = "card"
)

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentFailed  PaymentStatus = "failed"
)

// Order is the client's read-mostly mirror of the server-owned order.
type Order struct {
	ID             string        `json:"id"`
	CustomerID     string        `json:"customer_id"`
	DriverID       string        `json:"driver_id,omitempty"`
	PickupLat      float64       `json:"pickup_lat"`
	PickupLng      float64       `json:"pickup_lng"`
	PickupAddress  string        `json:"pickup_address"`
	DropoffLat     float64       `json:"dropoff_lat"`
	DropoffLng     float64       `json:"dropoff_lng"`
	DropoffAddress string        `json:"dropoff_address"`
	Stops          []Stop        `json:"stops,omitempty"`
	Status         OrderStatus   `json:"status"`
	Price          float64       `json:"price"`
	PaymentMethod  PaymentMethod `json:"payment_method"`
	PaymentStatus  PaymentStatus `json:"payment_status"`
	PetIDs         []string      `json:"pet_ids,omitempty"`
	PassengerCount int           `json:"passenger_count"`
	VehicleType    string        `json:"vehicle_type"`
	PetWeightKg    float64       `json:"pet_weight_kg"`
	CustomerLat    *float64      `json:"customer_lat,omitempty"`
	CustomerLng    *float64      `json:"customer_lng,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

func (o Order) Pickup() Coord  { return Coord{Lat: o.PickupLat, Lng: o.PickupLng} }
func (o Order) Dropoff() Coord { return Coord{Lat: o.DropoffLat, Lng: o.DropoffLng} }

// SortedStops returns a copy of the stops in ascending order_index.
func (o Order) SortedStops() []Stop {
	out := make([]Stop, len(o.Stops))
	copy(out, o.Stops)
	sort.SliceStable(out, func(i, j int) bool { return out[i].OrderIndex < out[j].OrderIndex })
	return out
}

type DriverLocation struct {
	DriverID  string    `json:"driver_id"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Online    bool      `json:"online"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (d DriverLocation) Coord() Coord { return Coord{Lat: d.Lat, Lng: d.Lng} }

type Role string

const (
	RoleCustomer Role = "customer"
	RoleDriver   Role = "driver"
)

// ChatMessage has no ID until the server has stored it. ClientID is the
// idempotency key stamped by the sender.
type ChatMessage struct {
	ID        string    `json:"id,omitempty"`
	ClientID  string    `json:"client_id,omitempty"`
	Message   string    `json:"message"`
	Role      Role      `json:"role"`
	UserID    string    `json:"user_id"`
	OrderID   string    `json:"order_id"`
	CreatedAt time.Time `json:"created_at"`
}

type VehicleType struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	BasePrice  float64 `json:"base_price"`
	PerKmRate  float64 `json:"per_km_rate"`
	PerMinRate float64 `json:"per_min_rate"`
	MinPrice   float64 `json:"min_price"`
	MaxPets    int     `json:"max_pets"`
}

type PricingSettings struct {
	SurgeMultiplier float64  `json:"surge_multiplier"`
	SurgeReasons    []string `json:"surge_reasons,omitempty"`
	Currency        string   `json:"currency"`
}

// Quote is a fare estimate. Only Authoritative quotes come from the backend.
type Quote struct {
	Price           float64  `json:"price"`
	DistanceKm      float64  `json:"distance_km"`
	DurationMin     float64  `json:"duration_min"`
	WeightSurcharge float64  `json:"weight_surcharge"`
	SurgeMultiplier float64  `json:"surge_multiplier"`
	SurgeReasons    []string `json:"surge_reasons,omitempty"`
	Authoritative   bool     `json:"-"`
}

type Payment struct {
	ID           string        `json:"id"`
	OrderID      string        `json:"order_id"`
	Method       PaymentMethod `json:"method"`
	Amount       float64       `json:"amount"`
	Status       PaymentStatus `json:"status"`
	ClientSecret string        `json:"client_secret,omitempty"`
}

type Wallet struct {
	UserID  string  `json:"user_id"`
	Balance float64 `json:"balance"`
}

type Congestion string

const (
	CongestionUnknown  Congestion = "unknown"
	CongestionLow      Congestion = "low"
	CongestionModerate Congestion = "moderate"
	CongestionHeavy    Congestion = "heavy"
	CongestionSevere   Congestion = "severe"
)

type RouteSegment struct {
	Points     []Coord    `json:"points"`
	Congestion Congestion `json:"congestion"`
}

type Route struct {
	Polyline  []Coord        `json:"polyline"`
	Segments  []RouteSegment `json:"segments,omitempty"`
	DistanceM float64        `json:"distance_m"`
	DurationS float64        `json:"duration_s"`
}
