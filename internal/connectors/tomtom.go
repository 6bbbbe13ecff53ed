package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/signalsfoundry/congestion-twin/core"
	"github.com/signalsfoundry/congestion-twin/internal/logging"
	"github.com/signalsfoundry/congestion-twin/timectrl"
)

const (
	tomtomBaseURL    = "https://api.tomtom.com/traffic/services/4/flowSegmentData/absolute/10/json"
	tomtomSource     = "tomtom-api"
	tomtomCacheTTL   = 60 * time.Second
	tomtomRateLimit  = 10 * time.Second
	tomtomConfidence = 0.9
)

// TomTomTarget is one probe point of the flow-segment API, taken from the
// midpoint of a link's geometry.
type TomTomTarget struct {
	LinkID string
	Lat    float64
	Lon    float64
}

// TomTomTargets derives probe points for every link that carries geometry.
// Coordinates are [lat, lon] pairs; the middle vertex stands in for the
// segment midpoint.
func TomTomTargets(links []core.NetworkLink) []TomTomTarget {
	var targets []TomTomTarget
	for _, link := range links {
		if len(link.Coordinates) == 0 {
			continue
		}
		mid := link.Coordinates[len(link.Coordinates)/2]
		if len(mid) < 2 {
			continue
		}
		targets = append(targets, TomTomTarget{LinkID: link.ID, Lat: mid[0], Lon: mid[1]})
	}
	return targets
}

// TomTomFeedConfig drives the TomTom poller.
type TomTomFeedConfig struct {
	APIKey   string
	BaseURL  string // override for tests
	Interval time.Duration
	Timeout  time.Duration
}

// TomTomFeed polls the TomTom flow-segment API for each live-mode link with
// a known probe point. Responses are cached per link so a dashboard-paced
// poll loop does not burn through the API quota, and a 429 pauses all
// requests for a cooldown window.
type TomTomFeed struct {
	adapter *core.FusionAdapter
	clock   timectrl.SimClock
	cfg     TomTomFeedConfig
	client  *http.Client
	log     logging.Logger

	targets map[string]TomTomTarget

	cache       map[string]cachedSpeed
	backoffTill time.Time
}

type cachedSpeed struct {
	speed   float64
	fetched time.Time
}

// NewTomTomFeed builds the poller. log may be nil.
func NewTomTomFeed(adapter *core.FusionAdapter, clock timectrl.SimClock, targets []TomTomTarget, cfg TomTomFeedConfig, log logging.Logger) *TomTomFeed {
	if log == nil {
		log = logging.Noop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = tomtomBaseURL
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	byLink := make(map[string]TomTomTarget, len(targets))
	for _, t := range targets {
		byLink[t.LinkID] = t
	}
	return &TomTomFeed{
		adapter: adapter,
		clock:   clock,
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		log:     log,
		targets: byLink,
		cache:   make(map[string]cachedSpeed),
	}
}

// Run polls until ctx is cancelled.
func (f *TomTomFeed) Run(ctx context.Context) error {
	ticker := time.NewTicker(f.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			f.poll(ctx)
		}
	}
}

func (f *TomTomFeed) poll(ctx context.Context) {
	for _, linkID := range f.adapter.LiveLinks() {
		target, ok := f.targets[linkID]
		if !ok {
			continue
		}
		speed, err := f.speedFor(ctx, target)
		if err != nil {
			f.log.Warn(ctx, "tomtom poll failed",
				logging.String("link", linkID), logging.Err(err))
			continue
		}
		f.adapter.Ingest(core.Observation{
			Source:     tomtomSource,
			LinkID:     linkID,
			Timestamp:  float64(f.clock.Now().UnixNano()) / 1e9,
			Metric:     core.MetricSpeedKmh,
			Value:      speed,
			Confidence: tomtomConfidence,
		})
	}
}

// speedFor returns the cached speed when fresh, otherwise fetches. The rate
// backoff is checked before any network call.
func (f *TomTomFeed) speedFor(ctx context.Context, target TomTomTarget) (float64, error) {
	now := time.Now()
	if entry, ok := f.cache[target.LinkID]; ok && now.Sub(entry.fetched) < tomtomCacheTTL {
		return entry.speed, nil
	}
	if now.Before(f.backoffTill) {
		return 0, fmt.Errorf("rate limited until %s", f.backoffTill.Format(time.RFC3339))
	}

	reqCtx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	u := fmt.Sprintf("%s?point=%s&key=%s",
		f.cfg.BaseURL,
		url.QueryEscape(fmt.Sprintf("%f,%f", target.Lat, target.Lon)),
		url.QueryEscape(f.cfg.APIKey))
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, u, nil)
	if err != nil {
		return 0, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		f.backoffTill = now.Add(tomtomRateLimit)
		return 0, fmt.Errorf("rate limited by upstream")
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var payload struct {
		FlowSegmentData struct {
			CurrentSpeed  float64 `json:"currentSpeed"`
			FreeFlowSpeed float64 `json:"freeFlowSpeed"`
		} `json:"flowSegmentData"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, fmt.Errorf("decode flow segment: %w", err)
	}

	speed := payload.FlowSegmentData.CurrentSpeed
	f.cache[target.LinkID] = cachedSpeed{speed: speed, fetched: now}
	return speed, nil
}
