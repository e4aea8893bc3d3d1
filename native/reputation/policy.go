package reputation

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Outcome describes how an escrow ended from one party's point of view.
type Outcome uint8

const (
	// OutcomeCompleted marks a successful release for both parties.
	OutcomeCompleted Outcome = iota + 1
	// OutcomeDisputeWon marks the party a dispute was resolved in favour of.
	OutcomeDisputeWon
	// OutcomeDisputeLost marks the party a dispute was resolved against.
	OutcomeDisputeLost
	// OutcomeExpired marks a time-lock refund. Timeouts carry no fault.
	OutcomeExpired
)

// String implements fmt.Stringer.
func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeDisputeWon:
		return "dispute_won"
	case OutcomeDisputeLost:
		return "dispute_lost"
	case OutcomeExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Policy captures the bounds and deltas applied by the trust ledger.
type Policy struct {
	Min             decimal.Decimal
	Max             decimal.Decimal
	Initial         decimal.Decimal
	CompletionBonus decimal.Decimal
	DisputePenalty  decimal.Decimal
}

// DefaultPolicy returns the 0..100 policy with a neutral starting score of 50.
func DefaultPolicy() Policy {
	return Policy{
		Min:             decimal.Zero,
		Max:             decimal.NewFromInt(100),
		Initial:         decimal.NewFromInt(50),
		CompletionBonus: decimal.NewFromInt(2),
		DisputePenalty:  decimal.NewFromInt(5),
	}
}

// Validate ensures the policy bounds are coherent.
func (p Policy) Validate() error {
	if !p.Min.LessThan(p.Max) {
		return errors.New("reputation: min score must be below max score")
	}
	if p.Initial.LessThan(p.Min) || p.Initial.GreaterThan(p.Max) {
		return fmt.Errorf("reputation: initial score %s outside [%s, %s]", p.Initial, p.Min, p.Max)
	}
	if p.CompletionBonus.IsNegative() {
		return errors.New("reputation: completion bonus must not be negative")
	}
	if p.DisputePenalty.IsNegative() {
		return errors.New("reputation: dispute penalty must not be negative")
	}
	return nil
}

// Clamp bounds v to the configured range.
func (p Policy) Clamp(v decimal.Decimal) decimal.Decimal {
	if v.LessThan(p.Min) {
		return p.Min
	}
	if v.GreaterThan(p.Max) {
		return p.Max
	}
	return v
}

// Delta returns the score adjustment applied for the outcome.
func (p Policy) Delta(o Outcome) decimal.Decimal {
	switch o {
	case OutcomeCompleted:
		return p.CompletionBonus
	case OutcomeDisputeLost:
		return p.DisputePenalty.Neg()
	default:
		return decimal.Zero
	}
}

// NewIdentity returns a fresh identity at the initial score.
func (p Policy) NewIdentity(id uuid.UUID, now time.Time) *Identity {
	return &Identity{
		ID:          id,
		TrustScore:  p.Initial,
		Roles:       []Role{},
		LastUpdated: now,
	}
}

// Settle returns a copy of ident with the outcome applied: counters are bumped
// and the score moves by Delta(o), clamped to the policy bounds.
func (p Policy) Settle(ident *Identity, o Outcome, now time.Time) *Identity {
	out := ident.Clone()
	if out == nil {
		return nil
	}
	out.TotalTransactions++
	switch o {
	case OutcomeCompleted, OutcomeDisputeWon:
		out.SuccessfulTransactions++
	}
	switch o {
	case OutcomeDisputeWon, OutcomeDisputeLost:
		out.DisputedTransactions++
	}
	out.TrustScore = p.Clamp(out.TrustScore.Add(p.Delta(o)))
	out.LastUpdated = now
	return out
}
