// Package plantsim is a physically plausible boiler plant simulator: it
// generates water/steam telemetry and per-pump physical/controller state
// each cycle, injecting a pump or sensor failure when InjectFailure is
// called, and frames
// them to the plant-link transport. Like the real plant it stands in for
// (spec.md §1), it is an external collaborator: internal/control never
// imports this package.
package plantsim

import (
	"bufio"
	"fmt"
	"math"
	"math/rand"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/zakarynichols/steamboiler/internal/config"
)

// FailureMode names the fault a simulator run can inject into one unit.
type FailureMode int

const (
	FailureNone FailureMode = iota
	FailureWaterStuck
	FailureSteamDrop
	FailurePumpStuckOpen
	FailurePumpStuckClosed
)

// Simulator drives one boiler plant's physics and reports it over conn.
type Simulator struct {
	cfg  config.Config
	rng  *rand.Rand
	conn net.Conn
	log  *logrus.Entry

	water float64
	steam float64

	pumpCommanded [config.MaxPumps]bool
	pumpPhysical  [config.MaxPumps]bool
	controllerLie [config.MaxPumps]bool

	failure     FailureMode
	failureUnit int
	cycle       int
}

// New creates a simulator starting at an empty, quiescent boiler. seed
// must be supplied by the caller since workflow scripts and
// deterministic tests cannot call time.Now() internally.
func New(cfg config.Config, conn net.Conn, seed int64) *Simulator {
	return &Simulator{
		cfg:  cfg,
		rng:  rand.New(rand.NewSource(seed)),
		conn: conn,
		log:  logrus.WithField("component", "plantsim"),
		water: 0,
		steam: 0,
	}
}

// InjectFailure arms a failure to appear on the given unit (pump index, or
// -1 for the water/steam sensors) starting on the next Tick.
func (s *Simulator) InjectFailure(mode FailureMode, unit int) {
	s.failure = mode
	s.failureUnit = unit
}

// Run ticks once every interval until stop is closed, reporting readings
// and reading back the controller's commands each cycle.
func (s *Simulator) Run(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	reader := bufio.NewReader(s.conn)

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.tick()
			s.report()
			s.readCommands(reader)
		}
	}
}

func (s *Simulator) tick() {
	s.cycle++

	netCapacity := 0.0
	for i := 0; i < s.cfg.PumpCount; i++ {
		if s.pumpPhysical[i] {
			netCapacity += s.cfg.PumpCapacity[i]
		}
	}

	delta := 5 * netCapacity - 5*s.steam
	s.water = clamp(s.water+delta+s.gaussian(0.3), 0, s.cfg.Capacity)

	target := s.cfg.MaxSteamRate * 0.5
	s.steam = clamp(s.steam+(target-s.steam)*0.1+s.gaussian(0.1), 0, s.cfg.MaxSteamRate)

	for i := 0; i < s.cfg.PumpCount; i++ {
		switch {
		case s.failure == FailurePumpStuckOpen && i == s.failureUnit:
			s.pumpPhysical[i] = true
		case s.failure == FailurePumpStuckClosed && i == s.failureUnit:
			s.pumpPhysical[i] = false
		default:
			s.pumpPhysical[i] = s.pumpCommanded[i]
		}
		s.controllerLie[i] = false
	}

	if s.failure == FailureWaterStuck {
		// handled in report(): water value itself is frozen
	}
	if s.failure == FailureSteamDrop {
		s.steam = math.Max(0, s.steam-s.cfg.MaxSteamRate*0.5)
	}
}

func (s *Simulator) report() {
	water := s.water
	if s.failure == FailureWaterStuck {
		water = s.cfg.NormalMidpoint() // frozen reading regardless of real level
	}

	s.send("LEVEL_v", -1, water, false)
	s.send("STEAM_v", -1, s.steam, false)
	for i := 0; i < s.cfg.PumpCount; i++ {
		s.send("PUMP_STATE_n_b", i, 0, s.pumpPhysical[i])
		s.send("PUMP_CONTROL_STATE_n_b", i, 0, s.pumpPhysical[i] != s.controllerLie[i])
	}
	fmt.Fprintf(s.conn, "TICK/{}\n")
}

func (s *Simulator) send(kind string, unit int, value float64, on bool) {
	if unit >= 0 {
		fmt.Fprintf(s.conn, "%s/%d/{\"value\":%g,\"on\":%v}\n", kind, unit, value, on)
	} else {
		fmt.Fprintf(s.conn, "%s/{\"value\":%g,\"on\":%v}\n", kind, value, on)
	}
}

// readCommands applies OPEN_PUMP_n / CLOSE_PUMP_n lines the controller
// wrote back for this cycle so the next tick's physics reflects them.
func (s *Simulator) readCommands(reader *bufio.Reader) {
	s.conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		var unit int
		if _, err := fmt.Sscanf(line, "OPEN_PUMP_n/%d/", &unit); err == nil {
			if unit >= 0 && unit < s.cfg.PumpCount {
				s.pumpCommanded[unit] = true
			}
			continue
		}
		if _, err := fmt.Sscanf(line, "CLOSE_PUMP_n/%d/", &unit); err == nil {
			if unit >= 0 && unit < s.cfg.PumpCount {
				s.pumpCommanded[unit] = false
			}
		}
	}
}

func (s *Simulator) gaussian(sigma float64) float64 {
	u1 := s.rng.Float64()
	u2 := s.rng.Float64()
	if u1 == 0 {
		u1 = 1e-6
	}
	return sigma * math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
