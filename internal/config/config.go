package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ServerConfig captures all tunable parameters for the sandbox backend.
// Values are primarily loaded from environment variables with sane defaults
// so the binary can run locally without excessive setup.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string

	KafkaBrokers []string
	KafkaTopic   string

	PGDSN string

	StripeAPIKey string
	Currency     string

	// RoutingURL enables road ETAs when ranking pending jobs.
	RoutingURL      string
	DefaultSpeedMps float64
	PendingJobsTopN int

	LogLevel      string
	RunMigrations bool
}

// ClientConfig drives the customer and driver controllers.
type ClientConfig struct {
	APIURL     string
	WSURL      string
	Token      string
	RoutingURL string
	PlacesURL  string

	HTTPTimeout time.Duration

	OrderPollInterval    time.Duration
	LocationPushInterval time.Duration
	DriverPollInterval   time.Duration
	PaymentSyncInterval  time.Duration
	SearchTimeout        time.Duration
	SearchDebounce       time.Duration

	GeofenceRadiusM float64

	LogLevel string
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:        ":8080",
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RedisGeoKey:     "drivers_geo",
		KafkaTopic:      "driver-locations",
		Currency:        "thb",
		DefaultSpeedMps: 8,
		PendingJobsTopN: 10,
		LogLevel:        "info",
	}
}

func defaultClientConfig() ClientConfig {
	return ClientConfig{
		APIURL:               "http://localhost:8080",
		RoutingURL:           "https://router.project-osrm.org",
		PlacesURL:            "https://nominatim.openstreetmap.org",
		HTTPTimeout:          10 * time.Second,
		OrderPollInterval:    3 * time.Second,
		LocationPushInterval: 5 * time.Second,
		DriverPollInterval:   5 * time.Second,
		PaymentSyncInterval:  3 * time.Second,
		SearchTimeout:        300 * time.Second,
		SearchDebounce:       800 * time.Millisecond,
		GeofenceRadiusM:      200,
		LogLevel:             "info",
	}
}

// loadEnvFile reads PETRIDE_ENV_FILE, or .env when APP_ENV=local. Variables
// already present in the environment win.
func loadEnvFile() error {
	if path := os.Getenv("PETRIDE_ENV_FILE"); path != "" {
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		return nil
	}
	if strings.EqualFold(os.Getenv("APP_ENV"), "local") {
		if _, err := os.Stat(".env"); err == nil {
			return godotenv.Load(".env")
		}
	}
	return nil
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error
	if err := loadEnvFile(); err != nil {
		errs = append(errs, err)
	}

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	cfg.PGDSN = os.Getenv("PG_DSN")
	cfg.StripeAPIKey = os.Getenv("STRIPE_API_KEY")
	setStringFromEnv(&cfg.Currency, "CURRENCY")

	cfg.RoutingURL = strings.TrimSpace(os.Getenv("ROUTING_URL"))
	setFloatFromEnv(&cfg.DefaultSpeedMps, "DEFAULT_SPEED_MPS", &errs)
	setIntFromEnv(&cfg.PendingJobsTopN, "PENDING_JOBS_TOP_N", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	if cfg.PendingJobsTopN <= 0 {
		errs = append(errs, fmt.Errorf("PENDING_JOBS_TOP_N must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

func LoadClientConfig() (ClientConfig, error) {
	cfg := defaultClientConfig()
	var errs []error
	if err := loadEnvFile(); err != nil {
		errs = append(errs, err)
	}

	setStringFromEnv(&cfg.APIURL, "PETRIDE_API_URL")
	setStringFromEnv(&cfg.WSURL, "PETRIDE_WS_URL")
	cfg.Token = strings.TrimSpace(os.Getenv("PETRIDE_TOKEN"))
	setStringFromEnv(&cfg.RoutingURL, "ROUTING_URL")
	setStringFromEnv(&cfg.PlacesURL, "PLACES_URL")

	setDurationFromEnv(&cfg.HTTPTimeout, "HTTP_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.OrderPollInterval, "ORDER_POLL_INTERVAL", &errs)
	setDurationFromEnv(&cfg.LocationPushInterval, "LOCATION_PUSH_INTERVAL", &errs)
	setDurationFromEnv(&cfg.DriverPollInterval, "DRIVER_POLL_INTERVAL", &errs)
	setDurationFromEnv(&cfg.PaymentSyncInterval, "PAYMENT_SYNC_INTERVAL", &errs)
	setDurationFromEnv(&cfg.SearchTimeout, "SEARCH_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.SearchDebounce, "SEARCH_DEBOUNCE", &errs)
	setFloatFromEnv(&cfg.GeofenceRadiusM, "GEOFENCE_RADIUS_M", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if cfg.WSURL == "" {
		cfg.WSURL = wsFromHTTP(cfg.APIURL)
	}
	for name, d := range map[string]time.Duration{
		"ORDER_POLL_INTERVAL":    cfg.OrderPollInterval,
		"LOCATION_PUSH_INTERVAL": cfg.LocationPushInterval,
		"DRIVER_POLL_INTERVAL":   cfg.DriverPollInterval,
		"PAYMENT_SYNC_INTERVAL":  cfg.PaymentSyncInterval,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be > 0", name))
		}
	}
	if cfg.GeofenceRadiusM <= 0 {
		errs = append(errs, fmt.Errorf("GEOFENCE_RADIUS_M must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

func wsFromHTTP(u string) string {
	switch {
	case strings.HasPrefix(u, "https://"):
		return "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		return "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
