package escrow

// operation enumerates the state-changing operations of the engine.
type operation uint8

const (
	opFund operation = iota + 1
	opCancel
	opRelease
	opDispute
	opAutoRefund
	opResolveForSeller
	opResolveForBuyer
)

func (op operation) String() string {
	switch op {
	case opFund:
		return "fund"
	case opCancel:
		return "cancel"
	case opRelease:
		return "release"
	case opDispute:
		return "raise_dispute"
	case opAutoRefund:
		return "auto_refund"
	case opResolveForSeller, opResolveForBuyer:
		return "arbitrate"
	default:
		return "unknown"
	}
}

// nextState is the complete transition table. Any (state, operation) pair not
// listed is illegal.
func nextState(from State, op operation) (State, bool) {
	switch from {
	case StateCreated:
		switch op {
		case opFund:
			return StateFunded, true
		case opCancel:
			return StateCancelled, true
		}
	case StateFunded:
		switch op {
		case opRelease:
			return StateCompleted, true
		case opDispute:
			return StateInDispute, true
		case opAutoRefund:
			return StateRefunded, true
		}
	case StateInDispute:
		switch op {
		case opResolveForSeller:
			return StateCompleted, true
		case opResolveForBuyer:
			return StateRefunded, true
		}
	case StateCompleted, StateCancelled, StateRefunded, StateUnspecified:
	}
	return from, false
}
