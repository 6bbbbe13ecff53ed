package core

import (
	"time"

	"github.com/signalsfoundry/congestion-twin/internal/logging"
	"github.com/signalsfoundry/congestion-twin/timectrl"
)

// System is the explicit composition of the twin, the pricing policy, the
// ledger, the fusion adapter, the demand generator, and the tick scheduler.
// It is constructed once at startup and passed by reference to the surfaces
// that need it; there is no global singleton.
type System struct {
	Scenario   *Scenario
	Clock      *timectrl.VirtualClock
	Twin       *CongestionTwin
	Policy     *PolicyState
	Pricing    *PolicyEngine
	Ledger     *QuoteLedger
	Adapter    *FusionAdapter
	Generator  *TrafficGenerator
	Controller *SimulationController
	Stats      *StatsRecorder
}

// SystemOptions tunes system construction.
type SystemOptions struct {
	Start       time.Time // virtual clock origin; zero means time.Now()
	Seed        int64     // demand generator noise seed
	TickRate    float64   // ticks per second at speed 1.0
	Logger      logging.Logger
	TickMetrics TickMetrics
	Ingest      IngestRecorder
}

// NewSystem builds and wires every component from a validated scenario.
// Nothing is started; callers invoke Controller.Start and Stats.Run
// themselves.
func NewSystem(scn *Scenario, opts SystemOptions) *System {
	start := opts.Start
	if start.IsZero() {
		start = time.Now()
	}
	clock := timectrl.NewVirtualClock(start)

	policy := NewPolicyState(scn.Policy)
	twin := NewCongestionTwin(scn, policy, clock)
	adapter := NewFusionAdapter(twin, scn.Policy.LiveModeLinks)
	if opts.Ingest != nil {
		adapter.SetRecorder(opts.Ingest)
	}

	genCfg := DefaultGeneratorConfig()
	if scn.Simulation.DemandCycleSec > 0 {
		genCfg.CycleDuration = time.Duration(scn.Simulation.DemandCycleSec * float64(time.Second))
	}
	genCfg.EventLinks = scn.Simulation.EventLinks
	gen := NewTrafficGenerator(genCfg, clock, opts.Seed)

	pricing := NewPolicyEngine(policy, clock, secondsDuration(scn.Simulation.QuoteExpirySec))
	ledger := NewQuoteLedger(twin, pricing, clock, LedgerConfig{
		QuoteExpiry:       secondsDuration(scn.Simulation.QuoteExpirySec),
		ReservationExpiry: secondsDuration(scn.Simulation.ReservationExpirySec),
		Retention:         secondsDuration(scn.Simulation.ReservationRetentionSec),
	})

	ctrlCfg := DefaultControllerConfig()
	if opts.TickRate > 0 {
		ctrlCfg.TickRate = opts.TickRate
	}
	ctrlCfg.SinkLinkID = scn.Simulation.SinkLinkID
	ctrlCfg.SpillLinkIDs = scn.Simulation.SpillLinkIDs
	controller := NewSimulationController(twin, adapter, gen, policy, clock, ctrlCfg, opts.Logger, opts.TickMetrics)

	return &System{
		Scenario:   scn,
		Clock:      clock,
		Twin:       twin,
		Policy:     policy,
		Pricing:    pricing,
		Ledger:     ledger,
		Adapter:    adapter,
		Generator:  gen,
		Controller: controller,
		Stats:      NewStatsRecorder(twin, policy),
	}
}

func secondsDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
