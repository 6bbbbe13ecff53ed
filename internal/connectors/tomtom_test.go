package connectors

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/signalsfoundry/congestion-twin/core"
)

func TestTomTomTargetsPickMidVertex(t *testing.T) {
	targets := TomTomTargets([]core.NetworkLink{
		{ID: "with_geo", Coordinates: [][]float64{{47.50, 19.04}, {47.51, 19.05}, {47.52, 19.06}}},
		{ID: "no_geo"},
		{ID: "bad_geo", Coordinates: [][]float64{{47.50}}},
	})
	if len(targets) != 1 {
		t.Fatalf("targets = %d, want 1", len(targets))
	}
	if targets[0].LinkID != "with_geo" || targets[0].Lat != 47.51 || targets[0].Lon != 19.05 {
		t.Errorf("target = %+v, want midpoint of with_geo", targets[0])
	}
}

func TestTomTomPollIngestsCurrentSpeed(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if !strings.Contains(r.URL.RawQuery, "key=test-key") {
			t.Errorf("missing api key in query %q", r.URL.RawQuery)
		}
		w.Write([]byte(`{"flowSegmentData": {"currentSpeed": 30, "freeFlowSpeed": 60}}`))
	}))
	defer srv.Close()

	adapter, twin, clock := newFeedFixture([]string{"link_ring"})
	feed := NewTomTomFeed(adapter, clock,
		[]TomTomTarget{{LinkID: "link_ring", Lat: 47.51, Lon: 19.05}},
		TomTomFeedConfig{APIKey: "test-key", BaseURL: srv.URL}, nil)

	feed.poll(context.Background())

	// 30 km/h on a 60 km/h primary link: half capacity, 400 of 800.
	link, _ := twin.GetLink("link_ring")
	if link.CurrentFlow != 400 {
		t.Errorf("CurrentFlow = %d, want 400", link.CurrentFlow)
	}
	if link.LastObservationSource != "tomtom-api" {
		t.Errorf("source = %q, want tomtom-api", link.LastObservationSource)
	}

	// Second poll inside the cache TTL serves from cache.
	feed.poll(context.Background())
	if calls != 1 {
		t.Errorf("upstream called %d times, want 1 (cached)", calls)
	}
}

func TestTomTomSkipsLinksWithoutTargets(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer srv.Close()

	adapter, _, clock := newFeedFixture([]string{"link_bridge"})
	feed := NewTomTomFeed(adapter, clock, nil,
		TomTomFeedConfig{APIKey: "k", BaseURL: srv.URL}, nil)

	feed.poll(context.Background())
	if calls != 0 {
		t.Errorf("upstream called %d times for untargeted link", calls)
	}
}

func TestTomTomRateLimitBackoff(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	adapter, twin, clock := newFeedFixture([]string{"link_ring"})
	feed := NewTomTomFeed(adapter, clock,
		[]TomTomTarget{{LinkID: "link_ring", Lat: 47.51, Lon: 19.05}},
		TomTomFeedConfig{APIKey: "k", BaseURL: srv.URL}, nil)

	feed.poll(context.Background())
	feed.poll(context.Background())

	if calls != 1 {
		t.Errorf("upstream called %d times, want 1 then backoff", calls)
	}
	link, _ := twin.GetLink("link_ring")
	if link.LastObservationSource != "" {
		t.Error("rate-limited poll mutated twin state")
	}
}
