package connectors

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/signalsfoundry/congestion-twin/core"
	"github.com/signalsfoundry/congestion-twin/timectrl"
)

func newFeedFixture(liveLinks []string) (*core.FusionAdapter, *core.CongestionTwin, *timectrl.ManualClock) {
	clock := timectrl.NewManualClock(time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC))
	scn := &core.Scenario{
		Links: []core.NetworkLink{
			{ID: "link_bridge", Name: "North Bridge", Capacity: 1000, BasePrice: 500, Type: "urban_highway"},
			{ID: "link_ring", Name: "Ring Road", Capacity: 800, BasePrice: 300, Type: "primary",
				Coordinates: [][]float64{{47.50, 19.04}, {47.51, 19.05}, {47.52, 19.06}}},
		},
		Policy: core.PolicyParams{CongestionTargetCI: 0.65, PriceSensitivityFactor: 1.0},
	}
	policy := core.NewPolicyState(scn.Policy)
	twin := core.NewCongestionTwin(scn, policy, clock)
	return core.NewFusionAdapter(twin, liveLinks), twin, clock
}

func TestSpeedFeedPollIngestsDerivedSpeed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"unixtime": 1700000025}`))
	}))
	defer srv.Close()

	adapter, twin, clock := newFeedFixture([]string{"link_bridge"})
	feed := NewSpeedFeed(adapter, clock, SpeedFeedConfig{URL: srv.URL}, nil)

	if err := feed.poll(context.Background()); err != nil {
		t.Fatalf("poll: %v", err)
	}

	// 1700000025 % 70 = 45, so the derived speed is 65 km/h. On a 90 km/h
	// free-flow highway that converts to 277 veh/h of a 1000 capacity.
	link, _ := twin.GetLink("link_bridge")
	if link.CurrentFlow != 277 {
		t.Errorf("CurrentFlow = %d, want 277", link.CurrentFlow)
	}
	if link.LastObservationSource != "live-api" {
		t.Errorf("source = %q, want live-api", link.LastObservationSource)
	}
}

func TestSpeedFeedRoundRobinsLiveLinks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"unixtime": 1700000025}`))
	}))
	defer srv.Close()

	adapter, twin, clock := newFeedFixture([]string{"link_bridge", "link_ring"})
	feed := NewSpeedFeed(adapter, clock, SpeedFeedConfig{URL: srv.URL}, nil)

	for i := 0; i < 2; i++ {
		if err := feed.poll(context.Background()); err != nil {
			t.Fatalf("poll %d: %v", i, err)
		}
	}

	for _, id := range []string{"link_bridge", "link_ring"} {
		link, _ := twin.GetLink(id)
		if link.LastObservationSource == "" {
			t.Errorf("link %s never fed", id)
		}
	}
}

func TestSpeedFeedNoLiveLinksNoFetch(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{"unixtime": 1}`))
	}))
	defer srv.Close()

	adapter, _, clock := newFeedFixture(nil)
	feed := NewSpeedFeed(adapter, clock, SpeedFeedConfig{URL: srv.URL}, nil)

	if err := feed.poll(context.Background()); err != nil {
		t.Fatalf("poll: %v", err)
	}
	if calls != 0 {
		t.Errorf("feed fetched %d times with empty live set", calls)
	}
}

func TestSpeedFeedUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	adapter, twin, clock := newFeedFixture([]string{"link_bridge"})
	feed := NewSpeedFeed(adapter, clock, SpeedFeedConfig{URL: srv.URL}, nil)

	if err := feed.poll(context.Background()); err == nil {
		t.Fatal("poll succeeded against failing upstream")
	}
	link, _ := twin.GetLink("link_bridge")
	if link.LastObservationSource != "" {
		t.Error("failed poll mutated twin state")
	}
}
