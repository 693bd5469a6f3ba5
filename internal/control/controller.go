// Package control implements the top-level mode/state machine (spec.md
// §4.1): it sequences extraction, fault diagnosis, mode-specific pump
// operation, and repair handshakes, and emits the actuator commands and
// mode announcement for one 5-second cycle.
package control

import (
	"math"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/zakarynichols/steamboiler/internal/config"
	"github.com/zakarynichols/steamboiler/internal/diagnosis"
	"github.com/zakarynichols/steamboiler/internal/message"
	"github.com/zakarynichols/steamboiler/internal/prediction"
	"github.com/zakarynichols/steamboiler/internal/repair"
)

// Mode is the controller's internal state (spec.md §3). It is a superset of
// message.Mode: Waiting and Initialisation are distinct here but collapse
// to the same outbound MODE_m=INITIALISATION (spec.md §9(c)).
type Mode int

const (
	ModeWaiting Mode = iota
	ModeInitialisation
	ModeNormal
	ModeDegraded
	ModeRescue
	ModeEmergencyStop
)

func (m Mode) String() string {
	switch m {
	case ModeWaiting:
		return "Waiting"
	case ModeInitialisation:
		return "Initialisation"
	case ModeNormal:
		return "Normal"
	case ModeDegraded:
		return "Degraded"
	case ModeRescue:
		return "Rescue"
	case ModeEmergencyStop:
		return "EmergencyStop"
	default:
		return "Unknown"
	}
}

func (m Mode) toMessageMode() message.Mode {
	switch m {
	case ModeNormal:
		return message.ModeNormal
	case ModeDegraded:
		return message.ModeDegraded
	case ModeRescue:
		return message.ModeRescue
	case ModeEmergencyStop:
		return message.ModeEmergencyStop
	default: // Waiting, Initialisation
		return message.ModeInitialisation
	}
}

// Controller owns all state for one boiler run (spec.md §3 "Ownership").
// It has no dependency beyond its Config, the per-cycle Mailbox, and the
// per-cycle Sink; neither the Mailbox nor the Sink is retained across
// Clock calls.
type Controller struct {
	cfg config.Config

	RunID uuid.UUID
	cycle int
	mode  Mode

	pumpCommanded [config.MaxPumps]bool
	pumpTracked   [config.MaxPumps]bool
	valveOpen     bool

	pumpFail       [config.MaxPumps]repair.Handshake
	controllerFail [config.MaxPumps]repair.Handshake
	waterFail      repair.Handshake
	steamFail      repair.Handshake

	waterStuckCount int
	steamStuckCount int

	previousWater float64
	previousSteam float64

	predictedMin float64
	predictedMax float64

	initFinished       bool
	initHighWaterStreak int

	bandsBuf [config.MaxPumps + 1]prediction.Band

	log *logrus.Entry
}

// New builds a controller in mode Waiting from a validated Config. The
// config must already satisfy Config.Validate (the harness validates once
// at load time); New panics on an invalid config rather than returning an
// error, matching this system's fail-fast posture toward configuration
// that would otherwise make every subsequent cycle meaningless.
func New(cfg config.Config) *Controller {
	if err := cfg.Validate(); err != nil {
		panic(err)
	}
	runID := uuid.New()
	c := &Controller{
		cfg:   cfg,
		mode:  ModeWaiting,
		RunID: runID,
		log:   logrus.WithField("run_id", runID),
	}
	c.predictedMin = 0
	c.predictedMax = cfg.Capacity
	return c
}

// Status returns the current mode, for display only (spec.md §4.1).
func (c *Controller) Status() string {
	return c.mode.String()
}

// Mode exposes the internal mode for tests and observability; not part of
// the wire protocol (which only ever sees toMessageMode's collapsed view).
func (c *Controller) Mode() Mode { return c.mode }

// RunIDString exposes RunID as a string for the status API, keeping
// internal/api free of a direct uuid dependency on the controller's type.
func (c *Controller) RunIDString() string { return c.RunID.String() }

// CycleNumber exposes the current cycle count so the harness's journal
// can stamp each persisted event against the cycle that produced it.
func (c *Controller) CycleNumber() int { return c.cycle }

// FromMessageMode recovers the internal Mode closest to a wire-level
// message.Mode, for the harness's websocket broadcast. Waiting and
// Initialisation are indistinguishable once collapsed, so both recover as
// Initialisation; this is display-only and never feeds back into Clock.
func FromMessageMode(m message.Mode) Mode {
	switch m {
	case message.ModeNormal:
		return ModeNormal
	case message.ModeDegraded:
		return ModeDegraded
	case message.ModeRescue:
		return ModeRescue
	case message.ModeEmergencyStop:
		return ModeEmergencyStop
	default:
		return ModeInitialisation
	}
}

// Clock runs exactly one cycle: extract, diagnose, execute, emit (spec.md
// §4.1). It is atomic — it reads in exactly once and writes to out in the
// deterministic order required by spec.md §5.
func (c *Controller) Clock(in *message.Mailbox, out message.Sink) {
	c.cycle++

	if c.mode == ModeEmergencyStop {
		out.Send(message.ModeMsg(message.ModeEmergencyStop))
		return
	}

	water, steam, pumpStates, controlStates, ok := c.extract(in)
	if !ok {
		c.log.Warn("transmission failure: malformed or incomplete inbound batch")
		c.mode = ModeEmergencyStop
		out.Send(message.ModeMsg(message.ModeEmergencyStop))
		return
	}

	c.updateStuckCounters(water, steam)

	if in.Has(message.KindPhysicalUnitsReady) {
		c.mode = c.postInitTarget()
	}

	if c.mode == ModeNormal || c.mode == ModeDegraded || c.mode == ModeRescue {
		c.diagnose(water, steam, pumpStates, controlStates, out)
	}

	switch c.mode {
	case ModeWaiting:
		if in.Has(message.KindSteamBoilerWaiting) {
			c.mode = ModeInitialisation
			c.runInitialisation(water, steam, out)
		}
	case ModeInitialisation:
		c.runInitialisation(water, steam, out)
	case ModeNormal:
		c.operate(water, steam, out)
	case ModeDegraded:
		c.processHandshakes(in, out)
		c.operate(water, steam, out)
		if c.mode == ModeDegraded && c.activeFailureCount() == 0 {
			c.mode = ModeNormal
		}
	case ModeRescue:
		estimate := c.rescueEstimate()
		c.processHandshakes(in, out)
		c.operate(estimate, steam, out)
		if c.mode == ModeRescue && !c.waterFail.Active() {
			if c.activeFailureCount() > 0 {
				c.mode = ModeDegraded
			} else {
				c.mode = ModeNormal
			}
		}
	}

	if c.mode == ModeDegraded || c.mode == ModeRescue || c.mode == ModeEmergencyStop {
		c.log.WithFields(logrus.Fields{"cycle": c.cycle, "mode": c.mode}).Warn("mode escalation")
	} else {
		c.log.WithFields(logrus.Fields{"cycle": c.cycle, "mode": c.mode, "water": water, "steam": steam}).Debug("cycle complete")
	}

	out.Send(message.ModeMsg(c.mode.toMessageMode()))

	c.previousWater = water
	c.previousSteam = steam
}

// extract reads the expected readings from the batch: exactly one LEVEL_v,
// exactly one STEAM_v, exactly PumpCount PUMP_STATE_n_b and
// PUMP_CONTROL_STATE_n_b (spec.md §4.1 step 1).
func (c *Controller) extract(in *message.Mailbox) (water, steam float64, pumpStates, controlStates [config.MaxPumps]bool, ok bool) {
	if in.Count(message.KindLevel) != 1 || in.Count(message.KindSteam) != 1 {
		return
	}
	lvl, _ := in.Find(message.KindLevel)
	stm, _ := in.Find(message.KindSteam)
	if math.IsNaN(lvl.Double) || math.IsInf(lvl.Double, 0) || math.IsNaN(stm.Double) || math.IsInf(stm.Double, 0) {
		return
	}
	if in.Count(message.KindPumpState) != c.cfg.PumpCount || in.Count(message.KindPumpControlState) != c.cfg.PumpCount {
		return
	}
	for i := 0; i < c.cfg.PumpCount; i++ {
		ps, found := in.FindUnit(message.KindPumpState, i)
		if !found {
			return
		}
		cs, found2 := in.FindUnit(message.KindPumpControlState, i)
		if !found2 {
			return
		}
		pumpStates[i] = ps.Bool
		controlStates[i] = cs.Bool
	}
	water = lvl.Double
	steam = stm.Double
	ok = true
	return
}

// updateStuckCounters maintains the water/steam StuckCounter (spec.md §3):
// resets on value change, independent of which mode is active.
func (c *Controller) updateStuckCounters(water, steam float64) {
	if water == c.previousWater {
		c.waterStuckCount++
	} else {
		c.waterStuckCount = 0
	}
	if steam == c.previousSteam {
		c.steamStuckCount++
	} else {
		c.steamStuckCount = 0
	}
}

// postInitTarget is the mode entered when PHYSICAL_UNITS_READY arrives:
// Normal unless a fault was already detected (spec.md §4.1 step 2).
func (c *Controller) postInitTarget() Mode {
	if c.waterFail.Active() {
		return ModeRescue
	}
	if c.activeFailureCount() > 0 {
		return ModeDegraded
	}
	return ModeNormal
}

// activeFailureCount is NumberOfFailures (spec.md §3): every non-water
// handshake currently away from NoFail.
func (c *Controller) activeFailureCount() int {
	n := 0
	for i := 0; i < c.cfg.PumpCount; i++ {
		if c.pumpFail[i].Active() {
			n++
		}
		if c.controllerFail[i].Active() {
			n++
		}
	}
	if c.steamFail.Active() {
		n++
	}
	return n
}

// diagnose computes each unit's candidate FailureType, disambiguates per
// pump against the water sensor's evidence, attributes faults, moves mode
// toward Degraded/Rescue/EmergencyStop, and emits detection messages for
// any handshake that newly entered FailDetected this cycle (spec.md §4.5,
// §4.6). When water and steam are attributed together the cycle ends in
// EmergencyStop and no detection message is emitted.
func (c *Controller) diagnose(water, steam float64, pumpStates, controlStates [config.MaxPumps]bool, out message.Sink) {
	steamType := diagnosis.NoFailure
	if c.steamFail.State == repair.NoFail {
		steamType = diagnosis.SteamCandidate(steam, c.previousSteam, c.cfg.MaxSteamRate, c.steamStuckCount-1)
	}
	waterType := diagnosis.NoFailure
	if c.waterFail.State == repair.NoFail {
		waterType = diagnosis.WaterCandidate(water, c.previousWater, c.cfg.Capacity, c.predictedMin, c.predictedMax, c.waterStuckCount-1)
	}

	var pumpFaulty, controllerFaulty [config.MaxPumps]bool
	for i := 0; i < c.cfg.PumpCount; i++ {
		if c.pumpFail[i].State == repair.NoFail {
			pumpFaulty[i] = diagnosis.ActuatorCandidate(pumpStates[i], c.pumpCommanded[i]) != diagnosis.NoFailure
		}
		if c.controllerFail[i].State == repair.NoFail {
			controllerFaulty[i] = diagnosis.ActuatorCandidate(controlStates[i], c.pumpCommanded[i]) != diagnosis.NoFailure
		}
	}

	waterAttributed := false
	actuatorAttributed := false
	anyActuatorEvidence := false

	for i := 0; i < c.cfg.PumpCount; i++ {
		if !pumpFaulty[i] && !controllerFaulty[i] {
			continue
		}
		anyActuatorEvidence = true
		a := diagnosis.Disambiguate(waterType, pumpFaulty[i], controllerFaulty[i], c.pumpCommanded[i], c.activeFailureCount())
		switch {
		case a.Pump:
			c.pumpFail[i].Detect(diagnosis.Stuck)
			actuatorAttributed = true
		case a.Controller:
			c.controllerFail[i].Detect(diagnosis.Stuck)
			actuatorAttributed = true
		case a.Water:
			waterAttributed = true
		}
	}

	if waterType != diagnosis.NoFailure && !waterAttributed && !anyActuatorEvidence {
		a := diagnosis.Disambiguate(waterType, false, false, true, c.activeFailureCount())
		waterAttributed = a.Water
	}

	steamAttributed := steamType != diagnosis.NoFailure

	if waterAttributed && steamAttributed {
		c.waterFail.Detect(waterType)
		c.steamFail.Detect(steamType)
		c.mode = ModeEmergencyStop
		return
	}

	if waterAttributed {
		c.waterFail.Detect(waterType)
		c.mode = ModeRescue
	}
	if steamAttributed {
		c.steamFail.Detect(steamType)
	}
	if (steamAttributed || actuatorAttributed) && c.mode != ModeRescue {
		c.mode = ModeDegraded
	}

	c.emitDetections(out)
}

func (c *Controller) emitDetections(out message.Sink) {
	if c.waterFail.EmitDetection() {
		out.Send(message.LevelFailureDetection())
	}
	if c.steamFail.EmitDetection() {
		out.Send(message.SteamFailureDetection())
	}
	for i := 0; i < c.cfg.PumpCount; i++ {
		if c.pumpFail[i].EmitDetection() {
			out.Send(message.PumpFailureDetection(i))
		}
		if c.controllerFail[i].EmitDetection() {
			out.Send(message.PumpControlFailureDetection(i))
		}
	}
}

// processHandshakes advances Ack/Repair for every active unit (spec.md
// §4.6), emitting the matching repair-acknowledgement on repair.
func (c *Controller) processHandshakes(in *message.Mailbox, out message.Sink) {
	c.waterFail.Ack(in.Has(message.KindLevelFailureAcknowledgement))
	if c.waterFail.Repair(in.Has(message.KindLevelRepaired)) {
		c.waterStuckCount = 0
		out.Send(message.LevelRepairedAck())
	}

	c.steamFail.Ack(in.Has(message.KindSteamOutcomeFailureAcknowledgement))
	if c.steamFail.Repair(in.Has(message.KindSteamRepaired)) {
		c.steamStuckCount = 0
		out.Send(message.SteamRepairedAck())
	}

	for i := 0; i < c.cfg.PumpCount; i++ {
		c.pumpFail[i].Ack(in.HasUnit(message.KindPumpFailureAcknowledgement, i))
		if c.pumpFail[i].Repair(in.HasUnit(message.KindPumpRepaired, i)) {
			out.Send(message.PumpRepairedAck(i))
		}
		c.controllerFail[i].Ack(in.HasUnit(message.KindPumpControlFailureAcknowledgement, i))
		if c.controllerFail[i].Repair(in.HasUnit(message.KindPumpControlRepaired, i)) {
			out.Send(message.PumpControlRepairedAck(i))
		}
	}
}

// rescueEstimate is the "current water level" substitute used while the
// water sensor is unhealthy (spec.md §4.3): previous min if the last
// observed level was below H, else previous max.
func (c *Controller) rescueEstimate() float64 {
	if c.previousWater < c.cfg.NormalMidpoint() {
		return c.predictedMin
	}
	return c.predictedMax
}

// operate is the pump-selection algorithm (spec.md §4.3): predict the band
// for every candidate pump count, choose the one closest to H, safety-gate
// against the limit band, and assign pumps in index order skipping faulty
// ones.
func (c *Controller) operate(water, steam float64, out message.Sink) {
	caps := c.cfg.PumpCapacity[:c.cfg.PumpCount]
	bands := c.bandsBuf[:c.cfg.PumpCount+1]
	prediction.Predict(bands, water, steam, c.cfg.MaxSteamRate, c.cfg.PumpCount, caps)

	k := prediction.Choose(bands, c.cfg.NormalMidpoint())
	chosen := bands[k]

	if chosen.Min <= c.cfg.LimitMin || chosen.Max >= c.cfg.LimitMax {
		c.log.WithFields(logrus.Fields{"min": chosen.Min, "max": chosen.Max}).Error("predicted water level breaches limit band")
		c.mode = ModeEmergencyStop
		return
	}

	count := 0
	for i := 0; i < c.cfg.PumpCount; i++ {
		if c.pumpFail[i].Active() {
			c.pumpCommanded[i] = false
			continue
		}
		c.pumpCommanded[i] = count < k
		if c.pumpCommanded[i] {
			count++
		}
	}
	c.emitPumpCommands(out)

	c.predictedMin = chosen.Min
	c.predictedMax = chosen.Max
}

func (c *Controller) emitPumpCommands(out message.Sink) {
	for i := 0; i < c.cfg.PumpCount; i++ {
		if c.pumpCommanded[i] != c.pumpTracked[i] {
			if c.pumpCommanded[i] {
				out.Send(message.OpenPump(i))
			} else {
				out.Send(message.ClosePump(i))
			}
			c.pumpTracked[i] = c.pumpCommanded[i]
		}
	}
}

func (c *Controller) commandAllPumps(on bool, out message.Sink) {
	for i := 0; i < c.cfg.PumpCount; i++ {
		c.pumpCommanded[i] = on
	}
	c.emitPumpCommands(out)
}

func (c *Controller) setValve(open bool, out message.Sink) {
	c.valveOpen = open
	out.Send(message.Valve())
}

// runInitialisation drives water into [N1,N2] before handing off to the
// physical-units-ready handshake (spec.md §4.2).
func (c *Controller) runInitialisation(water, steam float64, out message.Sink) {
	if steam != 0 {
		c.mode = ModeEmergencyStop
		return
	}
	if water < 0 || water > c.cfg.Capacity {
		c.mode = ModeEmergencyStop
		return
	}
	if c.waterStuckCount >= diagnosis.StuckThreshold {
		c.mode = ModeEmergencyStop
		return
	}

	switch {
	case water >= c.cfg.NormalMax:
		c.commandAllPumps(false, out)
		if !c.valveOpen {
			c.setValve(true, out)
		}
		if water >= c.previousWater {
			c.initHighWaterStreak++
		} else {
			c.initHighWaterStreak = 0
		}
		if c.initHighWaterStreak >= 2 {
			c.mode = ModeEmergencyStop
			return
		}
	case water <= c.cfg.NormalMin:
		c.commandAllPumps(true, out)
		if c.valveOpen {
			c.setValve(false, out)
		}
		c.initHighWaterStreak = 0
	default:
		c.commandAllPumps(false, out)
		if c.valveOpen {
			c.setValve(false, out)
		}
		c.initHighWaterStreak = 0
		c.initFinished = true
	}

	if c.initFinished {
		out.Send(message.ProgramReady())
	}
}
