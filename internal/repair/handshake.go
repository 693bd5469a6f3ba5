// Package repair implements the per-unit repair handshake state machine
// (spec.md §4.6): NoFail -> FailDetected -> WaitingFailAck -> WaitingRepair
// -> NoFail. One Handshake instance tracks exactly one physical unit (the
// water sensor, the steam sensor, or one pump/controller); many instances
// run independently and in parallel across units.
package repair

import "github.com/zakarynichols/steamboiler/internal/diagnosis"

// FailState is the handshake's current substate for one unit.
type FailState int

const (
	NoFail FailState = iota
	FailDetected
	WaitingFailAck
	WaitingRepair
)

func (s FailState) String() string {
	switch s {
	case FailDetected:
		return "FailDetected"
	case WaitingFailAck:
		return "WaitingFailAck"
	case WaitingRepair:
		return "WaitingRepair"
	default:
		return "NoFail"
	}
}

// Handshake tracks one unit's fail-state and the FailureType that triggered
// it (spec.md §3: "Reset to NoFailure when fail-state returns to NoFail").
type Handshake struct {
	State FailState
	Type  diagnosis.FailureType
}

// Detect moves NoFail -> FailDetected when a non-NoFailure classification
// is attributed to this unit. It is a no-op outside NoFail, so repeated
// diagnosis hits while already in the handshake don't restart it.
func (h *Handshake) Detect(ft diagnosis.FailureType) {
	if h.State == NoFail && ft != diagnosis.NoFailure {
		h.State = FailDetected
		h.Type = ft
	}
}

// EmitDetection moves FailDetected -> WaitingFailAck and reports whether a
// detection message should be sent this cycle. Called immediately after
// Detect within the same cycle: FailDetected is a real but transient
// intermediate state (spec.md P4), never observed across a cycle boundary.
func (h *Handshake) EmitDetection() bool {
	if h.State == FailDetected {
		h.State = WaitingFailAck
		return true
	}
	return false
}

// Ack moves WaitingFailAck -> WaitingRepair when ackReceived is true (the
// plant's matching *_FAILURE_ACKNOWLEDGEMENT arrived this cycle).
func (h *Handshake) Ack(ackReceived bool) bool {
	if h.State == WaitingFailAck && ackReceived {
		h.State = WaitingRepair
		return true
	}
	return false
}

// Repair moves WaitingRepair -> NoFail when repairReceived is true (the
// plant's matching *_REPAIRED arrived this cycle), clearing Type and
// reporting that a repair-acknowledgement message should be sent.
func (h *Handshake) Repair(repairReceived bool) bool {
	if h.State == WaitingRepair && repairReceived {
		h.State = NoFail
		h.Type = diagnosis.NoFailure
		return true
	}
	return false
}

// Active reports whether this unit currently counts toward
// NumberOfFailures (spec.md §3): any state other than NoFail.
func (h *Handshake) Active() bool {
	return h.State != NoFail
}
