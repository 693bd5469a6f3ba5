package diagnosis

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSteamCandidateOutOfBounds(t *testing.T) {
	assert.Equal(t, OutOfBounds, SteamCandidate(-1, 0, 10, 0))
	assert.Equal(t, OutOfBounds, SteamCandidate(11, 10, 10, 0))
	assert.Equal(t, OutOfBounds, SteamCandidate(4, 5, 10, 0), "decrease is a failure per spec.md open question (a)")
}

func TestSteamCandidateSaturationExempt(t *testing.T) {
	assert.Equal(t, NoFailure, SteamCandidate(10, 10, 10, 5), "saturation at max steam rate is not stuck")
}

func TestSteamCandidateStuckAfterThreeIdentical(t *testing.T) {
	assert.Equal(t, NoFailure, SteamCandidate(5, 5, 10, 0))
	assert.Equal(t, NoFailure, SteamCandidate(5, 5, 10, 1))
	assert.Equal(t, Stuck, SteamCandidate(5, 5, 10, 2))
}

func TestWaterCandidateOutOfBounds(t *testing.T) {
	assert.Equal(t, OutOfBounds, WaterCandidate(-1, 0, 1000, 0, 0, 0))
	assert.Equal(t, OutOfBounds, WaterCandidate(1001, 1000, 1000, 0, 2000, 0))
}

func TestWaterCandidateStuck(t *testing.T) {
	assert.Equal(t, Stuck, WaterCandidate(500, 500, 1000, 400, 600, 2))
}

func TestWaterCandidateBelowAndAbovePredicted(t *testing.T) {
	assert.Equal(t, BelowPredicted, WaterCandidate(300, 450, 1000, 400, 600, 0))
	assert.Equal(t, AbovePredicted, WaterCandidate(700, 450, 1000, 400, 600, 0))
	assert.Equal(t, NoFailure, WaterCandidate(400, 450, 1000, 400, 600, 0), "within slack of predicted min")
}

func TestActuatorCandidate(t *testing.T) {
	assert.Equal(t, Stuck, ActuatorCandidate(true, false))
	assert.Equal(t, Stuck, ActuatorCandidate(false, true))
	assert.Equal(t, NoFailure, ActuatorCandidate(true, true))
	assert.Equal(t, NoFailure, ActuatorCandidate(false, false))
}

func TestDisambiguateControllerOnly(t *testing.T) {
	a := Disambiguate(NoFailure, false, true, true, 0)
	assert.Equal(t, Attribution{Controller: true}, a)
}

func TestDisambiguatePumpOnly(t *testing.T) {
	a := Disambiguate(NoFailure, true, false, true, 0)
	assert.Equal(t, Attribution{Pump: true}, a)
}

func TestDisambiguatePumpAndController(t *testing.T) {
	a := Disambiguate(NoFailure, true, true, true, 0)
	assert.Equal(t, Attribution{Pump: true}, a)
}

func TestDisambiguateWaterSensorWhenIsolated(t *testing.T) {
	a := Disambiguate(AbovePredicted, false, false, true, 0)
	assert.Equal(t, Attribution{Water: true}, a)
}

func TestDisambiguateDefersWhenTooManyOtherFailures(t *testing.T) {
	a := Disambiguate(AbovePredicted, false, false, true, 2)
	assert.Equal(t, Attribution{}, a, "ambiguous: defer attribution")
}

func TestDisambiguateStuckOpenPump(t *testing.T) {
	// water reads above predicted, pump commanded off but appears stuck on
	a := Disambiguate(AbovePredicted, true, false, false, 0)
	assert.Equal(t, Attribution{Pump: true}, a)
}

func TestDisambiguateStuckClosedPump(t *testing.T) {
	a := Disambiguate(BelowPredicted, true, false, true, 0)
	assert.Equal(t, Attribution{Pump: true}, a)
}

func TestDisambiguateControllerFalseAlarmBlamesPump(t *testing.T) {
	// rows 7/8: p false, c true, water direction matches commanded mismatch
	a := Disambiguate(AbovePredicted, false, true, false, 0)
	assert.Equal(t, Attribution{Pump: true}, a)
}

func TestDisambiguateDirectionMismatchFallsToWaterRow(t *testing.T) {
	// Above predicted but pump commanded on (consistent with pump running,
	// not stuck) and no actuator disagreement -> falls to row 4 guard.
	a := Disambiguate(AbovePredicted, false, false, true, 0)
	assert.Equal(t, Attribution{Water: true}, a)
}
