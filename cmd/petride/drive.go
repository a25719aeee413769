package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/pet-ride/internal/config"
	"github.com/example/pet-ride/internal/models"
	"github.com/example/pet-ride/internal/places"
	"github.com/example/pet-ride/internal/scheduler"
	"github.com/example/pet-ride/internal/trip"
)

// runDrive goes online, takes the best pending job and walks it to the end,
// teleporting the simulated device to each point on the way.
func runDrive(ctx context.Context, cfg config.ClientConfig, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("drive", flag.ContinueOnError)
	user := fs.String("user", "", "driver id (defaults to PETRIDE_TOKEN)")
	lat := fs.Float64("lat", 13.7563, "starting latitude")
	lng := fs.Float64("lng", 100.5018, "starting longitude")
	wait := fs.Duration("wait", 2*time.Minute, "how long to wait for a pending job")
	if err := fs.Parse(args); err != nil {
		return err
	}
	driver := *user
	if driver == "" {
		driver = cfg.Token
	}
	if driver == "" {
		return errors.New("a driver id is required (-user or PETRIDE_TOKEN)")
	}

	client := newClient(cfg, driver, logger)
	device := places.NewStaticLocator(models.Coord{Lat: *lat, Lng: *lng})
	sched := scheduler.New(logger)
	defer sched.Close()

	events := make(chan trip.Event, 16)
	tc := trip.NewController(client, trip.NewJobStore(), device, sched, trip.ListenerFunc(func(e trip.Event) {
		fmt.Printf("job: %s order=%s\n", e.Kind, e.OrderID)
		select {
		case events <- e:
		default:
		}
	}), logger, trip.Options{
		PollInterval:        cfg.DriverPollInterval,
		LocationInterval:    cfg.LocationPushInterval,
		PaymentSyncInterval: cfg.PaymentSyncInterval,
		GeofenceRadiusM:     cfg.GeofenceRadiusM,
	})
	defer tc.Close()

	if err := tc.SetOnline(ctx, true); err != nil {
		return err
	}
	defer func() {
		offCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tc.SetOnline(offCtx, false)
	}()

	job, err := waitForJob(ctx, tc, *wait)
	if err != nil {
		return err
	}
	if _, err := tc.Accept(ctx, job.ID); err != nil {
		return err
	}

	device.Move(job.Pickup())
	if _, err := tc.MarkArrived(ctx); err != nil {
		return err
	}
	if _, err := tc.StartTrip(ctx); err != nil {
		return err
	}
	for _, st := range job.SortedStops() {
		device.Move(st.Coord())
		for i := 0; i < 2; i++ {
			if _, err := tc.AdvanceStop(ctx); err != nil {
				return err
			}
		}
	}

	device.Move(job.Dropoff())
	o, err := tc.Complete(ctx)
	if err != nil {
		return err
	}
	switch o.PaymentMethod {
	case models.PayCash:
		fmt.Printf("collect %.2f in cash\n", o.Price)
		_, err = tc.ConfirmCashCollected(ctx)
		return err
	case models.PayPromptPay:
		fmt.Printf("show the PromptPay code for %.2f\n", o.Price)
		return awaitEvent(ctx, events, trip.EventPaymentReceived)
	}
	return nil
}

func waitForJob(ctx context.Context, tc *trip.Controller, wait time.Duration) (models.Order, error) {
	deadline := time.Now().Add(wait)
	for {
		jobs, err := tc.RefreshPending(ctx)
		if err != nil {
			return models.Order{}, err
		}
		if len(jobs) > 0 {
			return jobs[0], nil
		}
		if time.Now().After(deadline) {
			return models.Order{}, errors.New("no pending jobs")
		}
		select {
		case <-ctx.Done():
			return models.Order{}, ctx.Err()
		case <-time.After(3 * time.Second):
		}
	}
}

func awaitEvent(ctx context.Context, events <-chan trip.Event, kind trip.EventKind) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e := <-events:
			switch e.Kind {
			case kind:
				return nil
			case trip.EventJobCancelled, trip.EventJobReleased:
				return fmt.Errorf("job ended: %s", e.Kind)
			}
		}
	}
}
