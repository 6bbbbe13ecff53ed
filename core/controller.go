package core

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/signalsfoundry/congestion-twin/internal/logging"
	"github.com/signalsfoundry/congestion-twin/timectrl"
)

// ControllerState is the lifecycle state of the tick scheduler.
type ControllerState string

const (
	ControllerStopped ControllerState = "STOPPED"
	ControllerRunning ControllerState = "RUNNING"
	ControllerPaused  ControllerState = "PAUSED"
)

// ErrNotPaused is returned by Step when the loop is not paused.
var ErrNotPaused = errors.New("controller is not paused")

// Price-elasticity diversion: fraction of demand diverted per unit of excess
// multiplier, and the hard cap on the diverted share.
const (
	diversionRate = 0.4
	maxDiversion  = 0.9
)

// Adaptive sensitivity thresholds: the agent nudges the pricing sensitivity
// up when average congestion runs high and down when the network is empty.
var sensitivitySteps = []struct {
	aboveCI float64
	step    float64
}{
	{0.85, 2.0},
	{0.75, 0.5},
	{0.60, 0.1},
}

var sensitivityReliefs = []struct {
	belowCI float64
	step    float64
}{
	{0.20, -1.0},
	{0.30, -0.3},
	{0.40, -0.1},
}

const (
	pausePollInterval = 100 * time.Millisecond
	stopJoinTimeout   = 2 * time.Second
)

// ControllerConfig tunes the drive loop.
type ControllerConfig struct {
	TickRate     float64 // ticks per second at speed 1.0
	MinSpeed     float64
	MaxSpeed     float64
	SinkLinkID   string   // capacity-absorbing link receiving spillover
	SpillLinkIDs []string // links whose diverted demand spills onto the sink
}

// DefaultControllerConfig returns the demo pacing: 2 Hz, speed clamped to
// [0.1, 50].
func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{TickRate: 2.0, MinSpeed: 0.1, MaxSpeed: 50.0}
}

// TickMetrics receives per-tick measurements. Implemented by the
// observability collector; nil disables recording.
type TickMetrics interface {
	ObserveTickDuration(d time.Duration)
	SetNetworkGauges(avgCI float64, totalFlow, links int)
	SetSensitivity(v float64)
}

// SimulationController owns the only background thread of control in the
// core: a loop that generates simulated demand, applies price-elasticity
// diversion, routes the resulting flows through the fusion adapter, runs the
// twin recompute, and adapts the pricing sensitivity. It exposes
// pause/resume/speed/step controls and advances virtual time by
// real-elapsed x speed each iteration.
type SimulationController struct {
	twin    *CongestionTwin
	adapter *FusionAdapter
	gen     *TrafficGenerator
	policy  *PolicyState
	clock   *timectrl.VirtualClock
	log     logging.Logger
	metrics TickMetrics
	cfg     ControllerConfig

	spillSet map[string]struct{}

	mu               sync.Mutex
	state            ControllerState
	speed            float64
	aggressiveness   float64
	stop             chan struct{}
	done             chan struct{}
	lastTickDuration time.Duration
}

// NewSimulationController wires the drive loop. metrics may be nil.
func NewSimulationController(
	twin *CongestionTwin,
	adapter *FusionAdapter,
	gen *TrafficGenerator,
	policy *PolicyState,
	clock *timectrl.VirtualClock,
	cfg ControllerConfig,
	log logging.Logger,
	metrics TickMetrics,
) *SimulationController {
	if log == nil {
		log = logging.Noop()
	}
	if cfg.TickRate <= 0 {
		cfg.TickRate = 2.0
	}
	if cfg.MinSpeed <= 0 {
		cfg.MinSpeed = 0.1
	}
	if cfg.MaxSpeed <= cfg.MinSpeed {
		cfg.MaxSpeed = 50.0
	}
	spill := make(map[string]struct{}, len(cfg.SpillLinkIDs))
	for _, id := range cfg.SpillLinkIDs {
		spill[id] = struct{}{}
	}
	return &SimulationController{
		twin:           twin,
		adapter:        adapter,
		gen:            gen,
		policy:         policy,
		clock:          clock,
		log:            log,
		metrics:        metrics,
		cfg:            cfg,
		spillSet:       spill,
		state:          ControllerStopped,
		speed:          1.0,
		aggressiveness: 1.0,
	}
}

// State returns the current lifecycle state.
func (c *SimulationController) State() ControllerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Speed returns the current time-scale factor.
func (c *SimulationController) Speed() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.speed
}

// LastTickDuration returns how long the most recent tick's work took.
func (c *SimulationController) LastTickDuration() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastTickDuration
}

// SetAggressiveness scales the adaptive agent's sensitivity steps.
func (c *SimulationController) SetAggressiveness(v float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.aggressiveness = v
}

// Aggressiveness returns the adaptive agent scaling factor.
func (c *SimulationController) Aggressiveness() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.aggressiveness
}

// SetSpeed clamps factor to the configured range, applies it to loop pacing
// and to the virtual clock, and returns the applied value.
func (c *SimulationController) SetSpeed(factor float64) float64 {
	if factor < c.cfg.MinSpeed {
		factor = c.cfg.MinSpeed
	}
	if factor > c.cfg.MaxSpeed {
		factor = c.cfg.MaxSpeed
	}
	c.mu.Lock()
	c.speed = factor
	c.mu.Unlock()
	c.clock.SetScale(factor)
	return factor
}

// Start spawns the drive loop. No-op unless currently stopped.
func (c *SimulationController) Start() {
	c.mu.Lock()
	if c.state != ControllerStopped {
		c.mu.Unlock()
		return
	}
	c.state = ControllerRunning
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	stop, done := c.stop, c.done
	c.mu.Unlock()

	c.log.Info(context.Background(), "simulation started")
	go c.loop(stop, done)
}

// StartPaused spawns the drive loop already paused, so the first tick only
// ever happens through Step or an explicit Resume. No-op unless currently
// stopped.
func (c *SimulationController) StartPaused() {
	c.mu.Lock()
	if c.state != ControllerStopped {
		c.mu.Unlock()
		return
	}
	c.state = ControllerPaused
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	stop, done := c.stop, c.done
	c.mu.Unlock()

	c.log.Info(context.Background(), "simulation started paused")
	go c.loop(stop, done)
}

// Pause suspends ticking. The loop keeps polling for resume.
func (c *SimulationController) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == ControllerRunning {
		c.state = ControllerPaused
	}
}

// Resume continues ticking after a pause.
func (c *SimulationController) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == ControllerPaused {
		c.state = ControllerRunning
	}
}

// Step executes exactly one tick synchronously. Valid only while paused;
// virtual time advances by one nominal tick period.
func (c *SimulationController) Step() error {
	if c.State() != ControllerPaused {
		return ErrNotPaused
	}
	period := time.Duration(float64(time.Second) / c.cfg.TickRate)
	c.clock.Advance(period)
	c.runTick()
	return nil
}

// Stop terminates the loop from any state, joining it with a bounded
// timeout. If the loop does not exit in time it is detached and left to die
// with the process.
func (c *SimulationController) Stop() {
	c.mu.Lock()
	if c.state == ControllerStopped {
		c.mu.Unlock()
		return
	}
	c.state = ControllerStopped
	close(c.stop)
	done := c.done
	c.mu.Unlock()

	select {
	case <-done:
		c.log.Info(context.Background(), "simulation stopped")
	case <-time.After(stopJoinTimeout):
		c.log.Warn(context.Background(), "tick loop did not exit before timeout; detaching")
	}
}

func (c *SimulationController) loop(stop, done chan struct{}) {
	defer close(done)
	lastReal := time.Now()

	for {
		select {
		case <-stop:
			return
		default:
		}

		if c.State() == ControllerPaused {
			select {
			case <-stop:
				return
			case <-time.After(pausePollInterval):
			}
			lastReal = time.Now()
			continue
		}

		start := time.Now()
		c.clock.Advance(start.Sub(lastReal))
		lastReal = start

		c.runTick()

		elapsed := time.Since(start)
		c.mu.Lock()
		c.lastTickDuration = elapsed
		speed := c.speed
		c.mu.Unlock()

		period := time.Duration(float64(time.Second) / (c.cfg.TickRate * speed))
		if sleep := period - elapsed; sleep > 0 {
			select {
			case <-stop:
				return
			case <-time.After(sleep):
			}
		}
	}
}

// runTick executes one full tick. A panicking tick is logged and swallowed;
// the loop must keep driving the twin no matter what one tick's work did.
func (c *SimulationController) runTick() {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error(context.Background(), "tick panicked",
				logging.Any("panic", r))
		}
	}()

	start := time.Now()
	now := c.clock.Now()
	ts := unixSeconds(now)

	// 1. Demand generation and price-elasticity diversion for every link
	//    under simulation control. Live-mode links are fed by pollers, not
	//    by the generator.
	spillover := 0.0
	for _, link := range c.twin.AllLinks() {
		if c.adapter.IsLive(link.ID) {
			continue
		}
		baseFlow := float64(c.gen.Flow(link.ID, link.Capacity, now))

		shifted := 0.0
		if link.PriceMultiplier > 1.0 {
			excess := link.PriceMultiplier - 1.0
			pct := excess * diversionRate
			if pct > maxDiversion {
				pct = maxDiversion
			}
			shifted = baseFlow * pct
		}

		c.adapter.Ingest(Observation{
			Source:    "sim-gen",
			LinkID:    link.ID,
			Timestamp: ts,
			Metric:    MetricFlowVehPerHour,
			Value:     baseFlow - shifted,
		})
		c.twin.SetDiversion(link.ID, shifted)

		if _, ok := c.spillSet[link.ID]; ok {
			spillover += shifted
		}
	}

	// 2. Spillover absorption by the sink link.
	if c.cfg.SinkLinkID != "" && spillover > 0 && !c.adapter.IsLive(c.cfg.SinkLinkID) {
		if sink, ok := c.twin.GetLink(c.cfg.SinkLinkID); ok {
			c.adapter.Ingest(Observation{
				Source:    "sim-gen",
				LinkID:    sink.ID,
				Timestamp: ts,
				Metric:    MetricFlowVehPerHour,
				Value:     float64(sink.CurrentFlow) + spillover,
			})
			c.twin.SetDiversion(sink.ID, -spillover)
		}
	}

	// 3. Twin recompute: smoothing, forecast, pricing.
	c.twin.Recompute()

	// 4. Adaptive sensitivity.
	c.adaptSensitivity()

	if c.metrics != nil {
		c.metrics.ObserveTickDuration(time.Since(start))
		c.metrics.SetNetworkGauges(c.twin.AvgCI(), c.twin.TotalFlow(), c.twin.LinkCount())
		c.metrics.SetSensitivity(c.policy.Sensitivity())
	}
}

// adaptSensitivity nudges the pricing sensitivity up under sustained
// congestion and down when the network runs empty, scaled by the operator's
// aggressiveness setting.
func (c *SimulationController) adaptSensitivity() {
	avg := c.twin.AvgCI()

	step := 0.0
	switch {
	case avg > sensitivitySteps[len(sensitivitySteps)-1].aboveCI:
		for _, s := range sensitivitySteps {
			if avg > s.aboveCI {
				step = s.step
				break
			}
		}
	case avg < sensitivityReliefs[len(sensitivityReliefs)-1].belowCI:
		for _, s := range sensitivityReliefs {
			if avg < s.belowCI {
				step = s.step
				break
			}
		}
	}
	if step == 0 {
		return
	}

	step *= c.Aggressiveness()
	newSens := c.policy.NudgeSensitivity(step)
	c.log.Debug(context.Background(), "sensitivity adapted",
		logging.Any("avg_ci", avg), logging.Any("sensitivity", newSens))
}

// ControlStatus summarizes the scheduler for the status surface.
type ControlStatus struct {
	State          ControllerState `json:"state"`
	Speed          float64         `json:"speed"`
	Aggressiveness float64         `json:"aggressiveness"`
	LastTickMs     float64         `json:"last_tick_ms"`
}

// Status returns a consistent control-state snapshot.
func (c *SimulationController) Status() ControlStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ControlStatus{
		State:          c.state,
		Speed:          c.speed,
		Aggressiveness: c.aggressiveness,
		LastTickMs:     float64(c.lastTickDuration) / float64(time.Millisecond),
	}
}
