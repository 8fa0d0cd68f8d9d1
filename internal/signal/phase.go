package signal

// Phase is a state of the reconciliation state machine.
type Phase string

const (
	// PhasePending is the initial phase of a freshly created WorkItem.
	PhasePending Phase = "Pending"
	// PhaseEnriching covers topology fetch and owner-chain traversal.
	PhaseEnriching Phase = "Enriching"
	// PhaseClassifying covers characteristic detection.
	PhaseClassifying Phase = "Classifying"
	// PhaseCategorizing covers policy evaluation and the confidence cascade.
	PhaseCategorizing Phase = "Categorizing"
	// PhaseComplete is the successful terminal phase.
	PhaseComplete Phase = "Complete"
	// PhaseFailed is the terminal phase after the retry budget is exhausted
	// or an unrecoverable error occurred.
	PhaseFailed Phase = "Failed"
)

// Terminal reports whether the phase is absorbing. Reconciling an item in a
// terminal phase is a no-op.
func (p Phase) Terminal() bool {
	return p == PhaseComplete || p == PhaseFailed
}

// phaseOrder drives transition validation. Failed is reachable from any
// non-terminal phase and is not part of the forward order.
var phaseOrder = map[Phase]int{
	PhasePending:      0,
	PhaseEnriching:    1,
	PhaseClassifying:  2,
	PhaseCategorizing: 3,
	PhaseComplete:     4,
}

// Before reports whether p precedes next in the forward order. Failed has
// no position in the order and is never before or after anything.
func (p Phase) Before(next Phase) bool {
	from, okFrom := phaseOrder[p]
	to, okTo := phaseOrder[next]
	return okFrom && okTo && from < to
}

// CanTransition reports whether moving from p to next is a legal state
// machine transition: one step forward, or to Failed from any non-terminal
// phase.
func (p Phase) CanTransition(next Phase) bool {
	if p.Terminal() {
		return false
	}
	if next == PhaseFailed {
		return true
	}
	from, ok := phaseOrder[p]
	if !ok {
		return false
	}
	to, ok := phaseOrder[next]
	if !ok {
		return false
	}
	return to == from+1
}
