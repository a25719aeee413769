// Command petride drives the booking and job controllers from a terminal.
//
//	petride book -pickup 13.75,100.50 -dropoff 13.76,100.52 -vehicle sedan -weight 5 -method cash
//	petride drive -lat 13.74 -lng 100.50
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/example/pet-ride/internal/api"
	"github.com/example/pet-ride/internal/config"
	"github.com/example/pet-ride/internal/logging"
	"github.com/example/pet-ride/internal/models"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	cfg, err := config.LoadClientConfig()
	logger := logging.NewLoggerTo(os.Stderr, cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch os.Args[1] {
	case "book":
		err = runBook(ctx, cfg, logger, os.Args[2:])
	case "drive":
		err = runDrive(ctx, cfg, logger, os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		logger.Error(os.Args[1]+" failed", "error", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: petride <book|drive> [flags]")
}

func newClient(cfg config.ClientConfig, token string, logger *slog.Logger) *api.Client {
	if token == "" {
		token = cfg.Token
	}
	return api.NewClient(cfg.APIURL,
		api.WithTimeout(cfg.HTTPTimeout),
		api.WithTokenStore(api.NewMemoryTokenStore(token)),
		api.WithUnauthorizedHook(func() { logger.Error("token rejected; log in again") }),
		api.WithLogger(logger))
}

// parseCoord reads "lat,lng".
func parseCoord(s string) (models.Coord, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return models.Coord{}, fmt.Errorf("want lat,lng, got %q", s)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return models.Coord{}, fmt.Errorf("latitude: %w", err)
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return models.Coord{}, fmt.Errorf("longitude: %w", err)
	}
	return models.Coord{Lat: lat, Lng: lng}, nil
}

// coordList is a repeatable -stop flag.
type coordList []models.Coord

func (c *coordList) String() string { return fmt.Sprint(*c) }

func (c *coordList) Set(v string) error {
	p, err := parseCoord(v)
	if err != nil {
		return err
	}
	*c = append(*c, p)
	return nil
}
