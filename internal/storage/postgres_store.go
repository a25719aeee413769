package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/pet-ride/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS orders (
	id              TEXT PRIMARY KEY,
	customer_id     TEXT NOT NULL,
	driver_id       TEXT NOT NULL DEFAULT '',
	pickup_lat      DOUBLE PRECISION NOT NULL,
	pickup_lng      DOUBLE PRECISION NOT NULL,
	pickup_address  TEXT NOT NULL DEFAULT '',
	dropoff_lat     DOUBLE PRECISION NOT NULL,
	dropoff_lng     DOUBLE PRECISION NOT NULL,
	dropoff_address TEXT NOT NULL DEFAULT '',
	stops           JSONB NOT NULL DEFAULT '[]',
	status          TEXT NOT NULL,
	price           DOUBLE PRECISION NOT NULL DEFAULT 0,
	payment_method  TEXT NOT NULL,
	payment_status  TEXT NOT NULL,
	pet_ids         JSONB NOT NULL DEFAULT '[]',
	passenger_count INTEGER NOT NULL DEFAULT 0,
	vehicle_type    TEXT NOT NULL,
	pet_weight_kg   DOUBLE PRECISION NOT NULL DEFAULT 0,
	customer_lat    DOUBLE PRECISION,
	customer_lng    DOUBLE PRECISION,
	created_at      TIMESTAMPTZ NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS orders_customer_idx ON orders (customer_id, created_at DESC);
CREATE INDEX IF NOT EXISTS orders_status_idx ON orders (status);
`

const orderColumns = `id, customer_id, driver_id, pickup_lat, pickup_lng, pickup_address,
	dropoff_lat, dropoff_lng, dropoff_address, stops, status, price, payment_method,
	payment_status, pet_ids, passenger_count, vehicle_type, pet_weight_kg,
	customer_lat, customer_lng, created_at, updated_at`

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

// Migrate creates the orders table if it does not exist.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, schema)
	return err
}

func (p *PostgresStore) Close() error { return p.db.Close() }

func (p *PostgresStore) CreateOrder(ctx context.Context, o *models.Order) error {
	stops, pets, err := encodeLists(o)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `INSERT INTO orders(`+orderColumns+`)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)`,
		o.ID, o.CustomerID, o.DriverID, o.PickupLat, o.PickupLng, o.PickupAddress,
		o.DropoffLat, o.DropoffLng, o.DropoffAddress, stops, o.Status, o.Price, o.PaymentMethod,
		o.PaymentStatus, pets, o.PassengerCount, o.VehicleType, o.PetWeightKg,
		o.CustomerLat, o.CustomerLng, o.CreatedAt, o.UpdatedAt)
	return err
}

func (p *PostgresStore) UpdateOrder(ctx context.Context, o *models.Order) error {
	stops, _, err := encodeLists(o)
	if err != nil {
		return err
	}
	res, err := p.db.ExecContext(ctx, `UPDATE orders SET driver_id=$1, stops=$2, status=$3, price=$4,
		payment_status=$5, customer_lat=$6, customer_lng=$7, updated_at=$8 WHERE id=$9`,
		o.DriverID, stops, o.Status, o.Price, o.PaymentStatus, o.CustomerLat, o.CustomerLng, o.UpdatedAt, o.ID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id)
	return scanOrder(row)
}

func (p *PostgresStore) ActiveForCustomer(ctx context.Context, customerID string) (*models.Order, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE customer_id=$1 AND status NOT IN ('completed','cancelled')
		ORDER BY created_at DESC LIMIT 1`, customerID)
	return scanOrder(row)
}

func (p *PostgresStore) ActiveForDriver(ctx context.Context, driverID string) (*models.Order, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE driver_id=$1 AND status NOT IN ('completed','cancelled')
		ORDER BY created_at DESC LIMIT 1`, driverID)
	return scanOrder(row)
}

func (p *PostgresStore) ListByStatus(ctx context.Context, status models.OrderStatus) ([]models.Order, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE status=$1 ORDER BY created_at`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(s scanner) (*models.Order, error) {
	var (
		o         models.Order
		stops     []byte
		pets      []byte
		custLat   sql.NullFloat64
		custLng   sql.NullFloat64
		status    string
		method    string
		payStatus string
	)
	err := s.Scan(&o.ID, &o.CustomerID, &o.DriverID, &o.PickupLat, &o.PickupLng, &o.PickupAddress,
		&o.DropoffLat, &o.DropoffLng, &o.DropoffAddress, &stops, &status, &o.Price, &method,
		&payStatus, &pets, &o.PassengerCount, &o.VehicleType, &o.PetWeightKg,
		&custLat, &custLng, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	o.Status = models.NormalizeStatus(models.OrderStatus(status))
	o.PaymentMethod = models.PaymentMethod(method)
	o.PaymentStatus = models.PaymentStatus(payStatus)
	if err := json.Unmarshal(stops, &o.Stops); err != nil {
		return nil, fmt.Errorf("decode stops: %w", err)
	}
	if err := json.Unmarshal(pets, &o.PetIDs); err != nil {
		return nil, fmt.Errorf("decode pet_ids: %w", err)
	}
	if custLat.Valid && custLng.Valid {
		o.CustomerLat, o.CustomerLng = &custLat.Float64, &custLng.Float64
	}
	return &o, nil
}

func encodeLists(o *models.Order) (stops, pets []byte, err error) {
	s := o.Stops
	if s == nil {
		s = []models.Stop{}
	}
	if stops, err = json.Marshal(s); err != nil {
		return nil, nil, err
	}
	p := o.PetIDs
	if p == nil {
		p = []string{}
	}
	pets, err = json.Marshal(p)
	return stops, pets, err
}
