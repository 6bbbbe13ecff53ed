package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/signalsfoundry/congestion-twin/core"
	"github.com/signalsfoundry/congestion-twin/internal/logging"
	"github.com/signalsfoundry/congestion-twin/timectrl"
)

// SpeedFeedConfig drives the generic JSON speed poller.
type SpeedFeedConfig struct {
	URL      string
	Source   string // observation source label, defaults to "live-api"
	Interval time.Duration
	Timeout  time.Duration
}

// SpeedFeed polls a public JSON endpoint and turns each response into a
// live speed observation for one link at a time, round-robin over the
// adapter's current live-mode set. It is a stand-in connector: the endpoint
// only needs to answer with a JSON object carrying a "unixtime" field (the
// world-time APIs do), and the speed is derived deterministically from it so
// demo runs are reproducible.
type SpeedFeed struct {
	adapter *core.FusionAdapter
	clock   timectrl.SimClock
	cfg     SpeedFeedConfig
	client  *http.Client
	log     logging.Logger

	cursor int
}

// NewSpeedFeed builds the poller. log may be nil.
func NewSpeedFeed(adapter *core.FusionAdapter, clock timectrl.SimClock, cfg SpeedFeedConfig, log logging.Logger) *SpeedFeed {
	if log == nil {
		log = logging.Noop()
	}
	if cfg.Source == "" {
		cfg.Source = "live-api"
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 2500 * time.Millisecond
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &SpeedFeed{
		adapter: adapter,
		clock:   clock,
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		log:     log,
	}
}

// Run polls until ctx is cancelled. Fetch failures are logged and retried on
// the next interval; they never terminate the loop.
func (f *SpeedFeed) Run(ctx context.Context) error {
	ticker := time.NewTicker(f.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := f.poll(ctx); err != nil {
				f.log.Warn(ctx, "speed feed poll failed", logging.Err(err))
			}
		}
	}
}

func (f *SpeedFeed) poll(ctx context.Context) error {
	targets := f.adapter.LiveLinks()
	if len(targets) == 0 {
		return nil
	}

	reqCtx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, f.cfg.URL, nil)
	if err != nil {
		return err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, f.cfg.URL)
	}

	var payload struct {
		Unixtime int64 `json:"unixtime"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("decode feed payload: %w", err)
	}
	seed := payload.Unixtime
	if seed == 0 {
		seed = time.Now().Unix()
	}

	linkID := targets[f.cursor%len(targets)]
	f.cursor++

	speed := 20.0 + float64(seed%70)
	f.adapter.Ingest(core.Observation{
		Source:     f.cfg.Source,
		LinkID:     linkID,
		Timestamp:  float64(f.clock.Now().UnixNano()) / 1e9,
		Metric:     core.MetricSpeedKmh,
		Value:      speed,
		Confidence: 0.8,
	})
	f.log.Debug(ctx, "live speed ingested",
		logging.String("link", linkID), logging.Float("speed_kmh", speed))
	return nil
}
