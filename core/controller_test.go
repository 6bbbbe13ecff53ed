package core

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/signalsfoundry/congestion-twin/timectrl"
)

func newTestController(scn *Scenario) (*SimulationController, *CongestionTwin, *PolicyState, *timectrl.VirtualClock) {
	clock := timectrl.NewVirtualClock(testEpoch)
	policy := NewPolicyState(scn.Policy)
	twin := NewCongestionTwin(scn, policy, clock)
	adapter := NewFusionAdapter(twin, scn.Policy.LiveModeLinks)

	genCfg := DefaultGeneratorConfig()
	genCfg.NoiseLevel = 0 // deterministic demand for assertions
	gen := NewTrafficGenerator(genCfg, clock, 1)

	cfg := DefaultControllerConfig()
	cfg.SinkLinkID = scn.Simulation.SinkLinkID
	cfg.SpillLinkIDs = scn.Simulation.SpillLinkIDs
	ctrl := NewSimulationController(twin, adapter, gen, policy, clock, cfg, nil, nil)
	return ctrl, twin, policy, clock
}

func TestStepRequiresPause(t *testing.T) {
	ctrl, _, _, _ := newTestController(testScenario())

	if err := ctrl.Step(); !errors.Is(err, ErrNotPaused) {
		t.Fatalf("Step while stopped = %v, want ErrNotPaused", err)
	}

	ctrl.Start()
	defer ctrl.Stop()
	if err := ctrl.Step(); !errors.Is(err, ErrNotPaused) {
		t.Fatalf("Step while running = %v, want ErrNotPaused", err)
	}

	ctrl.Pause()
	if err := ctrl.Step(); err != nil {
		t.Fatalf("Step while paused: %v", err)
	}
}

func TestStepAdvancesVirtualTimeOneTick(t *testing.T) {
	ctrl, twin, _, clock := newTestController(testScenario())
	// Enter the paused state directly: no background loop, so the clock
	// comparison below is exact.
	ctrl.mu.Lock()
	ctrl.state = ControllerPaused
	ctrl.mu.Unlock()

	before := clock.Now()
	if err := ctrl.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}
	advanced := clock.Now().Sub(before)
	if advanced != 500*time.Millisecond {
		t.Errorf("virtual time advanced %v per step, want one 2 Hz tick period", advanced)
	}
	if twin.TotalFlow() == 0 {
		t.Error("step produced no demand")
	}
}

func TestStartPausedNeverFreeRuns(t *testing.T) {
	ctrl, twin, _, clock := newTestController(testScenario())

	before := clock.Now()
	ctrl.StartPaused()
	defer ctrl.Stop()

	if ctrl.State() != ControllerPaused {
		t.Fatalf("state after StartPaused = %s", ctrl.State())
	}

	// Give the loop several poll intervals to take a tick if it were going to.
	time.Sleep(250 * time.Millisecond)
	if got := clock.Now(); !got.Equal(before) {
		t.Errorf("virtual time moved %v without a Step", got.Sub(before))
	}
	if twin.TotalFlow() != 0 {
		t.Error("demand generated without a Step")
	}

	if err := ctrl.Step(); err != nil {
		t.Fatalf("Step after StartPaused: %v", err)
	}
	if advanced := clock.Now().Sub(before); advanced != 500*time.Millisecond {
		t.Errorf("virtual time advanced %v per step, want one 2 Hz tick period", advanced)
	}
	if twin.TotalFlow() == 0 {
		t.Error("step produced no demand")
	}

	ctrl.Resume()
	if ctrl.State() != ControllerRunning {
		t.Fatalf("state after Resume = %s", ctrl.State())
	}
}

func TestSetSpeedClampsAndScalesClock(t *testing.T) {
	ctrl, _, _, clock := newTestController(testScenario())

	if got := ctrl.SetSpeed(1000); got != 50.0 {
		t.Errorf("SetSpeed(1000) = %v, want clamp at 50", got)
	}
	if clock.Scale() != 50.0 {
		t.Errorf("clock scale = %v, want 50", clock.Scale())
	}
	if got := ctrl.SetSpeed(0.001); got != 0.1 {
		t.Errorf("SetSpeed(0.001) = %v, want clamp at 0.1", got)
	}
	if got := ctrl.SetSpeed(4); got != 4.0 {
		t.Errorf("SetSpeed(4) = %v, want 4", got)
	}
}

func TestLifecycleTransitions(t *testing.T) {
	ctrl, _, _, _ := newTestController(testScenario())

	if ctrl.State() != ControllerStopped {
		t.Fatalf("initial state = %s", ctrl.State())
	}
	ctrl.Start()
	if ctrl.State() != ControllerRunning {
		t.Fatalf("state after Start = %s", ctrl.State())
	}
	ctrl.Pause()
	if ctrl.State() != ControllerPaused {
		t.Fatalf("state after Pause = %s", ctrl.State())
	}
	ctrl.Resume()
	if ctrl.State() != ControllerRunning {
		t.Fatalf("state after Resume = %s", ctrl.State())
	}
	ctrl.Stop()
	if ctrl.State() != ControllerStopped {
		t.Fatalf("state after Stop = %s", ctrl.State())
	}
	// Idempotent from the terminal state.
	ctrl.Stop()
	ctrl.Pause()
	if ctrl.State() != ControllerStopped {
		t.Fatalf("stopped controller left terminal state: %s", ctrl.State())
	}
}

func TestTickDivertsDemandUnderSurge(t *testing.T) {
	ctrl, twin, _, _ := newTestController(testScenario())

	// Drive the bridge into sustained congestion so its multiplier rises
	// well above 1.
	if err := twin.ApplyObservation("link_bridge", 1500, "operator", 0); err != nil {
		t.Fatalf("ApplyObservation: %v", err)
	}
	for i := 0; i < 200; i++ {
		twin.Recompute()
	}
	link, _ := twin.GetLink("link_bridge")
	if link.PriceMultiplier <= 1.0 {
		t.Fatalf("setup failed, multiplier = %v", link.PriceMultiplier)
	}
	wantPct := math.Min(0.9, (link.PriceMultiplier-1.0)*0.4)

	ctrl.runTick()

	after, _ := twin.GetLink("link_bridge")
	if after.LastDiversion <= 0 {
		t.Fatalf("LastDiversion = %v, want positive under surge pricing", after.LastDiversion)
	}
	// The ingested flow is truncated to an integer, so reconstruct the
	// fraction with a loose tolerance.
	base := float64(after.CurrentFlow) + after.LastDiversion
	gotPct := after.LastDiversion / base
	if math.Abs(gotPct-wantPct) > 0.01 {
		t.Errorf("diverted fraction = %v, want %v", gotPct, wantPct)
	}

	// Diverted demand from spill links lands on the sink as absorbed load.
	sink, _ := twin.GetLink("link_sink")
	if sink.LastDiversion >= 0 {
		t.Errorf("sink LastDiversion = %v, want negative (absorbed)", sink.LastDiversion)
	}
}

func TestTickSkipsLiveModeLinks(t *testing.T) {
	scn := testScenario()
	scn.Policy.LiveModeLinks = []string{"link_bridge"}
	ctrl, twin, _, _ := newTestController(scn)

	ctrl.runTick()

	bridge, _ := twin.GetLink("link_bridge")
	if bridge.CurrentFlow != 0 || bridge.LastObservationSource != "" {
		t.Errorf("live-mode link touched by generator: flow=%d source=%q",
			bridge.CurrentFlow, bridge.LastObservationSource)
	}
	ring, _ := twin.GetLink("link_ring")
	if ring.CurrentFlow == 0 {
		t.Error("simulation-controlled link got no generated demand")
	}
}

func TestAdaptSensitivityRampsUpUnderCongestion(t *testing.T) {
	scn := testScenario()
	scn.Links = scn.Links[:1] // single link so the network average follows it
	ctrl, twin, policy, _ := newTestController(scn)

	if err := twin.ApplyObservation("link_bridge", 1000, "operator", 0); err != nil {
		t.Fatalf("ApplyObservation: %v", err)
	}
	for i := 0; i < 100; i++ {
		twin.Recompute()
	}
	if twin.AvgCI() <= 0.85 {
		t.Fatalf("setup failed, avg CI = %v", twin.AvgCI())
	}

	before := policy.Sensitivity()
	ctrl.adaptSensitivity()
	if got := policy.Sensitivity(); math.Abs(got-(before+2.0)) > 1e-9 {
		t.Errorf("sensitivity = %v after adapt, want %v", got, before+2.0)
	}

	// Aggressiveness scales the step.
	ctrl.SetAggressiveness(0.2)
	mid := policy.Sensitivity()
	ctrl.adaptSensitivity()
	if got := policy.Sensitivity(); math.Abs(got-(mid+0.4)) > 1e-9 {
		t.Errorf("sensitivity = %v with LOW aggressiveness, want %v", got, mid+0.4)
	}
}

func TestAdaptSensitivityRelaxesWhenEmpty(t *testing.T) {
	scn := testScenario()
	scn.Links = scn.Links[:1]
	scn.Policy.PriceSensitivityFactor = 5.0
	ctrl, twin, policy, _ := newTestController(scn)

	if twin.AvgCI() >= 0.2 {
		t.Fatalf("setup failed, avg CI = %v", twin.AvgCI())
	}
	ctrl.adaptSensitivity()
	if got := policy.Sensitivity(); math.Abs(got-4.0) > 1e-9 {
		t.Errorf("sensitivity = %v on empty network, want 4.0", got)
	}
}

func TestStatusSnapshot(t *testing.T) {
	ctrl, _, _, _ := newTestController(testScenario())
	ctrl.SetSpeed(4)
	ctrl.SetAggressiveness(3.0)

	status := ctrl.Status()
	if status.State != ControllerStopped || status.Speed != 4.0 || status.Aggressiveness != 3.0 {
		t.Errorf("status = %+v", status)
	}
}
