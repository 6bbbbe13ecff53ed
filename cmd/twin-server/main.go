package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/signalsfoundry/congestion-twin/core"
	"github.com/signalsfoundry/congestion-twin/internal/config"
	"github.com/signalsfoundry/congestion-twin/internal/connectors"
	"github.com/signalsfoundry/congestion-twin/internal/httpapi"
	"github.com/signalsfoundry/congestion-twin/internal/logging"
	"github.com/signalsfoundry/congestion-twin/internal/observability"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "twin-server:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to config file (optional)")
	scenarioPath := flag.String("scenario", "", "path to scenario JSON (overrides config)")
	flag.Parse()

	// Best effort; a missing .env file is the normal case.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *scenarioPath != "" {
		cfg.ScenarioPath = *scenarioPath
	}

	log := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv(), log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	collector, err := observability.NewTwinCollector(nil)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	f, err := os.Open(cfg.ScenarioPath)
	if err != nil {
		return fmt.Errorf("open scenario: %w", err)
	}
	scn, err := core.LoadScenario(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("load scenario %q: %w", cfg.ScenarioPath, err)
	}

	sys := core.NewSystem(scn, core.SystemOptions{
		Seed:        cfg.Seed,
		TickRate:    cfg.TickRate,
		Logger:      log,
		TickMetrics: collector,
		Ingest:      collector,
	})
	log.Info(ctx, "system assembled",
		logging.Int("links", sys.Twin.LinkCount()),
		logging.Int("users", len(sys.Twin.AllUsers())),
		logging.String("scenario", cfg.ScenarioPath))

	sys.Controller.Start()
	defer sys.Controller.Stop()

	router := httpapi.NewServer(sys, log, collector).Router()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := sys.Stats.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if cfg.LiveFeed.Enabled {
		feed := connectors.NewSpeedFeed(sys.Adapter, sys.Clock, connectors.SpeedFeedConfig{
			URL:      cfg.LiveFeed.URL,
			Interval: secondsDuration(cfg.LiveFeed.IntervalSec),
			Timeout:  secondsDuration(cfg.LiveFeed.TimeoutSec),
		}, log)
		g.Go(func() error {
			err := feed.Run(gctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	if cfg.TomTomFeed.Enabled && cfg.TomTomFeed.APIKey != "" {
		feed := connectors.NewTomTomFeed(sys.Adapter, sys.Clock,
			connectors.TomTomTargets(sys.Twin.AllLinks()),
			connectors.TomTomFeedConfig{
				APIKey:   cfg.TomTomFeed.APIKey,
				Interval: secondsDuration(cfg.TomTomFeed.IntervalSec),
				Timeout:  secondsDuration(cfg.TomTomFeed.TimeoutSec),
			}, log)
		g.Go(func() error {
			err := feed.Run(gctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	g.Go(func() error {
		log.Info(gctx, "http server listening", logging.String("addr", cfg.HTTPAddr))
		if err := router.Start(cfg.HTTPAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return router.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info(context.Background(), "shutdown complete")
	return nil
}

func secondsDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
