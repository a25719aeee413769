package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/pet-ride/internal/booking"
	"github.com/example/pet-ride/internal/chat"
	"github.com/example/pet-ride/internal/checkout"
	"github.com/example/pet-ride/internal/config"
	"github.com/example/pet-ride/internal/draft"
	"github.com/example/pet-ride/internal/models"
	"github.com/example/pet-ride/internal/places"
	"github.com/example/pet-ride/internal/pricing"
	"github.com/example/pet-ride/internal/route"
	"github.com/example/pet-ride/internal/scheduler"
)

// approveSheet stands in for a card payment UI and approves every payment.
type approveSheet struct{}

func (approveSheet) Present(_ context.Context, secret string, amount float64) (checkout.Outcome, error) {
	fmt.Printf("card payment of %.2f approved (secret %s)\n", amount, secret)
	return checkout.OutcomeSucceeded, nil
}

func runBook(ctx context.Context, cfg config.ClientConfig, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("book", flag.ContinueOnError)
	var stops coordList
	user := fs.String("user", "", "customer id (defaults to PETRIDE_TOKEN)")
	pickupFlag := fs.String("pickup", "13.7563,100.5018", "device position, used as pickup")
	dropoffFlag := fs.String("dropoff", "", "dropoff lat,lng")
	vehicle := fs.String("vehicle", "sedan", "vehicle type id")
	weight := fs.Float64("weight", 0, "total pet weight in kg")
	method := fs.String("method", string(models.PayCash), "cash, promptpay, wallet or card")
	say := fs.String("say", "", "chat message to send once a driver is found")
	withRoute := fs.Bool("route", false, "print the route before booking")
	fs.Var(&stops, "stop", "intermediate stop lat,lng (repeatable)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	customer := *user
	if customer == "" {
		customer = cfg.Token
	}
	if customer == "" {
		return errors.New("a customer id is required (-user or PETRIDE_TOKEN)")
	}
	dropoff, err := parseCoord(*dropoffFlag)
	if err != nil {
		return fmt.Errorf("dropoff: %w", err)
	}

	client := newClient(cfg, customer, logger)
	geocoder := places.NewNominatimClient(cfg.PlacesURL)

	start, err := parseCoord(*pickupFlag)
	if err != nil {
		return fmt.Errorf("pickup: %w", err)
	}
	locator := places.NewStaticLocator(start)

	d := draft.NewStore()
	if _, err := places.NewResolver(locator, geocoder, logger).SeedPickup(ctx, d); err != nil {
		return fmt.Errorf("pickup: %w", err)
	}
	d.SetDropoff(models.Location{Name: "Dropoff", Latitude: dropoff.Lat, Longitude: dropoff.Lng})
	for i, s := range stops {
		d.AddStop(models.Location{Name: fmt.Sprintf("Stop %d", i+1), Latitude: s.Lat, Longitude: s.Lng})
	}
	d.SetVehicle(*vehicle)
	d.SetPets(nil, *weight)
	d.SetPaymentMethod(models.PaymentMethod(*method))

	estimator := pricing.NewEstimator(client, logger)
	if err := estimator.LoadCatalog(ctx); err != nil {
		logger.Warn("vehicle catalog unavailable, using defaults", "error", err)
	}

	if *withRoute {
		w := route.NewWatcher(route.NewOSRMClient(cfg.RoutingURL), route.NewCache(10*time.Minute), logger)
		r, _, err := w.Update(ctx, d.Snapshot())
		if err != nil {
			logger.Warn("route unavailable", "error", err)
		} else {
			fmt.Printf("route: %.1f km, %.0f min, %d segments\n", r.DistanceM/1000, r.DurationS/60, len(r.Segments))
		}
	}

	sched := scheduler.New(logger)
	defer sched.Close()
	talk := chat.NewTransport(cfg.WSURL+"/ws/chat",
		chat.WithToken(func() string { return customer }),
		chat.WithLogger(logger),
		chat.OnMessages(func(m []models.ChatMessage) {
			if len(m) == 0 {
				return
			}
			last := m[len(m)-1]
			fmt.Printf("chat [%s]: %s\n", last.Role, last.Message)
		}))
	defer talk.Close()

	done := make(chan booking.Event, 1)
	listener := booking.ListenerFunc(func(e booking.Event) {
		fmt.Printf("booking: %s order=%s\n", e.Kind, e.OrderID)
		switch e.Kind {
		case booking.EventDriverFound:
			if err := talk.Connect(ctx, chat.Key{OrderID: e.OrderID, UserID: customer, Role: models.RoleCustomer}); err != nil {
				logger.Warn("chat unavailable", "error", err)
			} else if *say != "" {
				_, _ = talk.Send(*say)
			}
		case booking.EventCompleted, booking.EventCancelled, booking.EventNoDriver:
			select {
			case done <- e:
			default:
			}
		}
	})

	bc := booking.NewController(client, estimator, d, locator, sched, listener, logger, booking.Options{
		CustomerID:       customer,
		PollInterval:     cfg.OrderPollInterval,
		LocationInterval: cfg.LocationPushInterval,
		SearchTimeout:    cfg.SearchTimeout,
	})
	defer bc.Close()

	o, err := bc.Resume(ctx)
	if err != nil {
		return err
	}
	if o == nil {
		if o, err = bc.Book(ctx); err != nil {
			var verr *booking.ValidationError
			if errors.As(err, &verr) && verr.Hint == booking.HintTopUp {
				return fmt.Errorf("%w: top up your wallet first", err)
			}
			return err
		}
		fmt.Printf("booked order %s for %.2f\n", o.ID, o.Price)
	} else {
		fmt.Printf("resumed order %s (%s)\n", o.ID, o.Status)
	}

	if o.PaymentMethod == models.PayWallet || o.PaymentMethod == models.PayCard {
		res, err := checkout.New(client, approveSheet{}, logger).Pay(ctx, *o)
		if err != nil {
			return fmt.Errorf("payment: %w", err)
		}
		fmt.Printf("paid by %s\n", res.Method)
	}

	select {
	case e := <-done:
		if e.Kind == booking.EventNoDriver {
			return errors.New("no driver found, try again")
		}
		return nil
	case <-ctx.Done():
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := bc.Cancel(cctx); err != nil {
			return fmt.Errorf("cancel: %w", err)
		}
		fmt.Println("order cancelled")
		return nil
	}
}
