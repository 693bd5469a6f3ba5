// Package diagnosis classifies each physical unit's readings into a
// FailureType every cycle, and disambiguates which of several candidate
// units is actually at fault when their evidence disagrees (spec.md §4.5).
package diagnosis

// FailureType is the candidate classification for a single unit this
// cycle. It is reset to NoFailure when the unit's repair handshake returns
// to NoFail (spec.md §3).
type FailureType int

const (
	NoFailure FailureType = iota
	OutOfBounds
	Stuck
	BelowPredicted
	AbovePredicted
)

func (f FailureType) String() string {
	switch f {
	case OutOfBounds:
		return "OutOfBounds"
	case Stuck:
		return "Stuck"
	case BelowPredicted:
		return "BelowPredicted"
	case AbovePredicted:
		return "AbovePredicted"
	default:
		return "NoFailure"
	}
}

// StuckThreshold is the number of consecutive identical readings that
// constitutes a stuck sensor (spec.md §9(b): 3, applied uniformly to both
// water and steam).
const StuckThreshold = 3

// predictedSlack is the ±0.5 tolerance applied around the predicted band
// before a reading counts as BelowPredicted / AbovePredicted (spec.md §4.5).
const predictedSlack = 0.5

// SteamCandidate classifies the steam sensor. stuckCount is the number of
// consecutive prior cycles steam has equalled previousSteam (not counting
// this one); the caller (internal/control) maintains it, incrementing it on
// an unchanged reading and resetting it on a changed one.
func SteamCandidate(steam, previousSteam, maxSteam float64, stuckCount int) FailureType {
	if steam < 0 || steam > maxSteam || steam < previousSteam {
		return OutOfBounds
	}
	if steam == previousSteam && steam != maxSteam && stuckCount+1 >= StuckThreshold {
		return Stuck
	}
	return NoFailure
}

// WaterCandidate classifies the water sensor against its physical bounds,
// stuck-counter, and the predicted band from the previous cycle.
func WaterCandidate(water, previousWater, capacity, previousMin, previousMax float64, stuckCount int) FailureType {
	if water < 0 || water > capacity {
		return OutOfBounds
	}
	if water == previousWater && stuckCount+1 >= StuckThreshold {
		return Stuck
	}
	if water < previousMin-predictedSlack {
		return BelowPredicted
	}
	if water > previousMax+predictedSlack {
		return AbovePredicted
	}
	return NoFailure
}

// ActuatorCandidate classifies a pump or its controller: the only failure
// mode visible at this layer is a reported on/off state that disagrees with
// what was commanded (spec.md §4.5).
func ActuatorCandidate(reportedOn, commandedOn bool) FailureType {
	if reportedOn != commandedOn {
		return Stuck
	}
	return NoFailure
}

// Attribution is the outcome of disambiguating one pump index's candidate
// evidence against the water sensor's candidate evidence (spec.md §4.5
// table). At most one of the three fields is true; all false means the
// evidence is ambiguous and no attribution is made this cycle (it will be
// re-evaluated next cycle with fresh evidence).
type Attribution struct {
	Water      bool
	Pump       bool
	Controller bool
}

// Disambiguate applies the §4.5 table for one pump index i. waterType is
// the water sensor's candidate classification; pumpFaulty/controllerFaulty
// are whether pump i / controller i disagree with the commanded state;
// pumpCommandedOn is the commanded state of pump i this cycle;
// otherActiveFailures is the count of non-water failures already active,
// excluding any new attribution this cycle (used for the "at most steam"
// guard on row 4).
func Disambiguate(waterType FailureType, pumpFaulty, controllerFaulty, pumpCommandedOn bool, otherActiveFailures int) Attribution {
	waterFaulty := waterType != NoFailure

	// Rows 1-3: water sensor looks fine, blame whichever actuator disagrees.
	if !waterFaulty {
		switch {
		case !pumpFaulty && controllerFaulty:
			return Attribution{Controller: true}
		case pumpFaulty:
			return Attribution{Pump: true}
		default:
			return Attribution{}
		}
	}

	// Rows 5-10: water's deviation direction is consistent with a pump
	// stuck in a particular position, and at least one actuator disagrees
	// with the commanded state. The pump is blamed even if only the
	// controller disagreed, since the water evidence corroborates a pump
	// fault over a controller-reporting fault.
	if (pumpFaulty || controllerFaulty) {
		switch waterType {
		case AbovePredicted:
			if !pumpCommandedOn {
				return Attribution{Pump: true}
			}
		case BelowPredicted:
			if pumpCommandedOn {
				return Attribution{Pump: true}
			}
		}
	}

	// Row 4: no actuator disagrees, so the deviation is the water sensor's
	// own fault, but only if nothing else (besides possibly steam) is
	// already broken -- otherwise an already-faulty pump elsewhere could
	// be the true cause and we defer rather than guess.
	if !pumpFaulty && !controllerFaulty && otherActiveFailures <= 1 {
		return Attribution{Water: true}
	}

	return Attribution{}
}
