package api

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/example/pet-ride/internal/models"
)

var validate = validator.New()

// Validate checks the struct tags of a request type. Failures wrap
// ErrInvalidRequest.
func Validate(v any) error {
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return nil
}

type StopInput struct {
	OrderIndex int     `json:"order_index" validate:"gte=0"`
	Lat        float64 `json:"lat" validate:"latitude"`
	Lng        float64 `json:"lng" validate:"longitude"`
	Address    string  `json:"address"`
}

type CreateOrderRequest struct {
	CustomerID     string               `json:"customer_id" validate:"required"`
	PickupLat      float64              `json:"pickup_lat" validate:"latitude"`
	PickupLng      float64              `json:"pickup_lng" validate:"longitude"`
	PickupAddress  string               `json:"pickup_address"`
	DropoffLat     float64              `json:"dropoff_lat" validate:"latitude"`
	DropoffLng     float64              `json:"dropoff_lng" validate:"longitude"`
	DropoffAddress string               `json:"dropoff_address"`
	Stops          []StopInput          `json:"stops,omitempty" validate:"dive"`
	VehicleType    string               `json:"vehicle_type" validate:"required"`
	PetWeightKg    float64              `json:"pet_weight_kg" validate:"gte=0"`
	PetIDs         []string             `json:"pet_ids,omitempty"`
	PassengerCount int                  `json:"passenger_count" validate:"gte=0"`
	PaymentMethod  models.PaymentMethod `json:"payment_method" validate:"required,oneof=cash promptpay wallet card"`
	Price          float64              `json:"price" validate:"gte=0"`
}

type EstimateRequest struct {
	PickupLat   float64 `json:"pickup_lat" validate:"latitude"`
	PickupLng   float64 `json:"pickup_lng" validate:"longitude"`
	DropoffLat  float64 `json:"dropoff_lat" validate:"latitude"`
	DropoffLng  float64 `json:"dropoff_lng" validate:"longitude"`
	VehicleType string  `json:"vehicle_type" validate:"required"`
	PetWeightKg float64 `json:"pet_weight_kg" validate:"gte=0"`
	MapProvider string  `json:"map_provider,omitempty"`
}

type CreatePaymentRequest struct {
	OrderID string               `json:"order_id" validate:"required"`
	Method  models.PaymentMethod `json:"method" validate:"required,oneof=cash promptpay wallet card"`
	Amount  float64              `json:"amount" validate:"gte=0"`
}

type StopStatusRequest struct {
	Status models.StopStatus `json:"status" validate:"required,oneof=pending arrived departed"`
}

type DriverStatusRequest struct {
	Online bool `json:"online"`
}
