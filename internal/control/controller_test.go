package control

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zakarynichols/steamboiler/internal/config"
	"github.com/zakarynichols/steamboiler/internal/message"
	"github.com/zakarynichols/steamboiler/internal/repair"
)

// testConfig matches spec.md §8's end-to-end scenario parameters.
func testConfig() config.Config {
	return config.Config{
		Capacity:     1000,
		NormalMin:    400,
		NormalMax:    600,
		LimitMin:     100,
		LimitMax:     900,
		MaxSteamRate: 10,
		PumpCount:    4,
		PumpCapacity: [config.MaxPumps]float64{4, 4, 4, 4},
	}
}

func pumpReadings(kind message.Kind, p int, states []bool) []message.Message {
	out := make([]message.Message, p)
	for i := 0; i < p; i++ {
		on := false
		if i < len(states) {
			on = states[i]
		}
		out[i] = message.Message{Kind: kind, Unit: i, Bool: on}
	}
	return out
}

func hasMode(sent []message.Message, m message.Mode) bool {
	for _, msg := range sent {
		if msg.Kind == message.KindMode && msg.Mode == m {
			return true
		}
	}
	return false
}

func hasKind(sent []message.Message, k message.Kind) bool {
	for _, msg := range sent {
		if msg.Kind == k {
			return true
		}
	}
	return false
}

func hasKindUnit(sent []message.Message, k message.Kind, unit int) bool {
	for _, msg := range sent {
		if msg.Kind == k && msg.Unit == unit {
			return true
		}
	}
	return false
}

// Scenario 1: initialisation, steam broken.
func TestScenarioInitialisationSteamBroken(t *testing.T) {
	cfg := testConfig()
	c := New(cfg)

	in := message.NewMailbox(append([]message.Message{
		message.SteamBoilerWaiting(),
		message.Level(450),
		message.Steam(-1),
	}, append(pumpReadings(message.KindPumpState, 4, nil), pumpReadings(message.KindPumpControlState, 4, nil)...)...))

	out := message.NewSliceSink()
	c.Clock(in, out)

	assert.True(t, hasMode(out.Sent, message.ModeEmergencyStop))
	assert.Equal(t, ModeEmergencyStop, c.mode)
}

// Scenario 2: nominal fill-to-ready.
func TestScenarioNominalFillToReady(t *testing.T) {
	cfg := testConfig()
	c := New(cfg)
	c.mode = ModeInitialisation

	in := message.NewMailbox(append([]message.Message{
		message.Level(0),
		message.Steam(0),
	}, append(pumpReadings(message.KindPumpState, 4, nil), pumpReadings(message.KindPumpControlState, 4, nil)...)...))

	out := message.NewSliceSink()
	c.Clock(in, out)

	for i := 0; i < 4; i++ {
		assert.True(t, hasKindUnit(out.Sent, message.KindOpenPump, i), "pump %d should open", i)
	}
	assert.False(t, c.valveOpen, "valve stays closed")
	assert.True(t, hasMode(out.Sent, message.ModeInitialisation))
	assert.NotEqual(t, ModeEmergencyStop, c.mode)
}

// Scenario 3: stable normal.
func TestScenarioStableNormal(t *testing.T) {
	cfg := testConfig()
	c := New(cfg)
	c.mode = ModeNormal

	in := message.NewMailbox(append([]message.Message{
		message.Level(500),
		message.Steam(5),
	}, append(pumpReadings(message.KindPumpState, 4, nil), pumpReadings(message.KindPumpControlState, 4, nil)...)...))

	out := message.NewSliceSink()
	c.Clock(in, out)

	require.True(t, hasMode(out.Sent, message.ModeNormal))
	assert.True(t, hasKindUnit(out.Sent, message.KindOpenPump, 0))
	assert.True(t, hasKindUnit(out.Sent, message.KindOpenPump, 1))
	assert.False(t, hasKindUnit(out.Sent, message.KindOpenPump, 2))
	assert.False(t, hasKindUnit(out.Sent, message.KindOpenPump, 3))
}

// Scenario 4: pump stuck open.
func TestScenarioPumpStuckOpen(t *testing.T) {
	cfg := testConfig()
	c := New(cfg)
	c.mode = ModeNormal

	in := message.NewMailbox(append([]message.Message{
		message.Level(500),
		message.Steam(5),
	}, append(pumpReadings(message.KindPumpState, 4, []bool{true, false, false, false}), pumpReadings(message.KindPumpControlState, 4, nil)...)...))

	out := message.NewSliceSink()
	c.Clock(in, out)

	assert.True(t, hasKindUnit(out.Sent, message.KindPumpFailureDetection, 0))
	assert.True(t, hasMode(out.Sent, message.ModeDegraded))
	assert.Equal(t, ModeDegraded, c.mode)
	assert.False(t, c.pumpCommanded[0], "P3: a faulty pump is always commanded closed")
}

// Scenario 5: water sensor drift across three consecutive identical readings.
func TestScenarioWaterSensorDrift(t *testing.T) {
	cfg := testConfig()
	c := New(cfg)
	c.mode = ModeNormal
	c.previousWater = 450
	c.previousSteam = 4
	c.predictedMin = 480
	c.predictedMax = 520

	steamReadings := []float64{4, 5, 6, 7}
	var out *message.SliceSink
	for i := 0; i < 4; i++ {
		in := message.NewMailbox(append([]message.Message{
			message.Level(500),
			message.Steam(steamReadings[i]),
		}, append(pumpReadings(message.KindPumpState, 4, c.pumpCommanded[:]), pumpReadings(message.KindPumpControlState, 4, c.pumpCommanded[:])...)...))
		out = message.NewSliceSink()
		c.Clock(in, out)
	}

	assert.True(t, hasKind(out.Sent, message.KindLevelFailureDetection))
	assert.True(t, hasMode(out.Sent, message.ModeRescue))
	assert.Equal(t, ModeRescue, c.mode)
}

// Scenario 6: water and steam simultaneously unrecoverable.
func TestScenarioWaterAndSteamSimultaneous(t *testing.T) {
	cfg := testConfig()
	c := New(cfg)
	c.mode = ModeNormal

	in := message.NewMailbox(append([]message.Message{
		message.Level(-1),
		message.Steam(-1),
	}, append(pumpReadings(message.KindPumpState, 4, nil), pumpReadings(message.KindPumpControlState, 4, nil)...)...))

	out := message.NewSliceSink()
	c.Clock(in, out)

	assert.True(t, hasMode(out.Sent, message.ModeEmergencyStop))
	assert.Equal(t, ModeEmergencyStop, c.mode)
}

// EmergencyStop is terminal and silent beyond the mode announcement.
func TestEmergencyStopIsTerminal(t *testing.T) {
	cfg := testConfig()
	c := New(cfg)
	c.mode = ModeEmergencyStop

	for i := 0; i < 3; i++ {
		in := message.NewMailbox(nil)
		out := message.NewSliceSink()
		c.Clock(in, out)
		require.Len(t, out.Sent, 1)
		assert.Equal(t, message.ModeEmergencyStop, out.Sent[0].Mode)
		assert.Equal(t, ModeEmergencyStop, c.mode)
	}
}

// A pump with an active fail-state is always commanded Off.
func TestFaultyPumpAlwaysOff(t *testing.T) {
	cfg := testConfig()
	c := New(cfg)
	c.mode = ModeDegraded
	c.pumpFail[1].State = repair.WaitingFailAck

	in := message.NewMailbox(append([]message.Message{
		message.Level(500),
		message.Steam(5),
	}, append(pumpReadings(message.KindPumpState, 4, []bool{false, false, false, false}), pumpReadings(message.KindPumpControlState, 4, nil)...)...))

	out := message.NewSliceSink()
	c.Clock(in, out)

	assert.False(t, c.pumpCommanded[1])
	assert.False(t, hasKindUnit(out.Sent, message.KindOpenPump, 1))
}

// Identical inbound batches from identical starting state produce
// identical outbound batches.
func TestIdenticalInboundProducesIdenticalOutbound(t *testing.T) {
	cfg := testConfig()
	c1 := New(cfg)
	c2 := New(cfg)
	c1.RunID = c2.RunID // only external nondeterminism is the run id
	c1.mode = ModeNormal
	c2.mode = ModeNormal

	makeIn := func() *message.Mailbox {
		return message.NewMailbox(append([]message.Message{
			message.Level(500),
			message.Steam(5),
		}, append(pumpReadings(message.KindPumpState, 4, nil), pumpReadings(message.KindPumpControlState, 4, nil)...)...))
	}

	out1 := message.NewSliceSink()
	out2 := message.NewSliceSink()
	c1.Clock(makeIn(), out1)
	c2.Clock(makeIn(), out2)

	assert.Equal(t, out1.Sent, out2.Sent)
}

func TestStatusReflectsMode(t *testing.T) {
	cfg := testConfig()
	c := New(cfg)
	assert.Equal(t, "Waiting", c.Status())
	c.mode = ModeNormal
	assert.Equal(t, "Normal", c.Status())
}

func TestConfigValidationRejectsBadBands(t *testing.T) {
	cfg := testConfig()
	cfg.NormalMin = cfg.NormalMax + 1
	assert.Panics(t, func() { New(cfg) })
}
