package escrow

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// State represents the lifecycle states of an escrow agreement.
type State uint8

const (
	// StateUnspecified is the pseudo-state preceding creation. It only appears
	// as the previous state of the first history entry.
	StateUnspecified State = iota
	StateCreated
	StateFunded
	StateInDispute
	StateCompleted
	StateCancelled
	StateRefunded
)

// Valid reports whether the state is one a stored escrow may hold.
func (s State) Valid() bool {
	switch s {
	case StateCreated, StateFunded, StateInDispute, StateCompleted, StateCancelled, StateRefunded:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transition is legal from s.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateCancelled, StateRefunded:
		return true
	default:
		return false
	}
}

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateUnspecified:
		return "None"
	case StateCreated:
		return "Created"
	case StateFunded:
		return "Funded"
	case StateInDispute:
		return "InDispute"
	case StateCompleted:
		return "Completed"
	case StateCancelled:
		return "Cancelled"
	case StateRefunded:
		return "Refunded"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// ParseState converts the textual state name (case-insensitive) to a State.
func ParseState(raw string) (State, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "none", "":
		return StateUnspecified, nil
	case "created":
		return StateCreated, nil
	case "funded":
		return StateFunded, nil
	case "indispute", "in_dispute":
		return StateInDispute, nil
	case "completed":
		return StateCompleted, nil
	case "cancelled":
		return StateCancelled, nil
	case "refunded":
		return StateRefunded, nil
	default:
		return StateUnspecified, fmt.Errorf("escrow: unknown state %q", raw)
	}
}

// MarshalText encodes the state by name so stored records stay readable.
func (s State) MarshalText() ([]byte, error) {
	if s != StateUnspecified && !s.Valid() {
		return nil, fmt.Errorf("escrow: invalid state %d", uint8(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(text []byte) error {
	parsed, err := ParseState(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Decision is an arbitrator's ballot on a dispute.
type Decision string

const (
	DecisionFavorBuyer  Decision = "favor_buyer"
	DecisionFavorSeller Decision = "favor_seller"
)

// Valid reports whether the decision is a supported ballot.
func (d Decision) Valid() bool {
	return d == DecisionFavorBuyer || d == DecisionFavorSeller
}

// String implements fmt.Stringer.
func (d Decision) String() string { return string(d) }

// ParseDecision normalises a textual ballot. "buyer", "refund", "seller" and
// "release" are accepted as shorthands.
func ParseDecision(raw string) (Decision, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(DecisionFavorBuyer), "buyer", "refund":
		return DecisionFavorBuyer, nil
	case string(DecisionFavorSeller), "seller", "release":
		return DecisionFavorSeller, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidDecision, raw)
	}
}

// Dispute is the arbitration sub-record present only while an escrow is
// InDispute.
type Dispute struct {
	RaisedBy uuid.UUID              `json:"raised_by"`
	OpenedAt time.Time              `json:"opened_at"`
	Panel    []uuid.UUID            `json:"panel"`
	Quorum   int                    `json:"quorum"`
	Votes    map[uuid.UUID]Decision `json:"votes"`
}

// Clone returns a deep copy of the dispute.
func (d *Dispute) Clone() *Dispute {
	if d == nil {
		return nil
	}
	clone := *d
	clone.Panel = append([]uuid.UUID(nil), d.Panel...)
	clone.Votes = make(map[uuid.UUID]Decision, len(d.Votes))
	for k, v := range d.Votes {
		clone.Votes[k] = v
	}
	return &clone
}

// OnPanel reports whether id is one of the assigned arbitrators.
func (d *Dispute) OnPanel(id uuid.UUID) bool {
	if d == nil {
		return false
	}
	for _, member := range d.Panel {
		if member == id {
			return true
		}
	}
	return false
}

// Tally is the final vote count recorded in history when a dispute resolves.
type Tally struct {
	FavorBuyer  int                    `json:"favor_buyer"`
	FavorSeller int                    `json:"favor_seller"`
	PanelSize   int                    `json:"panel_size"`
	Quorum      int                    `json:"quorum"`
	Votes       map[uuid.UUID]Decision `json:"votes"`
	Decision    Decision               `json:"decision"`
}

// Clone returns a deep copy of the tally.
func (t *Tally) Clone() *Tally {
	if t == nil {
		return nil
	}
	clone := *t
	clone.Votes = make(map[uuid.UUID]Decision, len(t.Votes))
	for k, v := range t.Votes {
		clone.Votes[k] = v
	}
	return &clone
}

// Transition is a single append-only audit entry. Actor is uuid.Nil for
// transitions performed by the system (time-lock refunds, arbitration).
type Transition struct {
	PreviousState State     `json:"previous_state"`
	NewState      State     `json:"new_state"`
	Actor         uuid.UUID `json:"actor"`
	Timestamp     time.Time `json:"timestamp"`
	Note          string    `json:"note,omitempty"`
	Tally         *Tally    `json:"tally,omitempty"`
	Digest        string    `json:"digest"`
}

// Settlement records where the escrowed funds went on a terminal transition.
type Settlement struct {
	Recipient uuid.UUID       `json:"recipient"`
	Amount    decimal.Decimal `json:"amount"`
	At        time.Time       `json:"at"`
}

// Escrow captures the immutable terms and runtime state of a single agreement.
//
// ReleasePIN never holds the cleartext PIN: it stores a salted digest which is
// wiped once the PIN has been consumed.
type Escrow struct {
	ID          uuid.UUID       `json:"id"`
	Version     uint64          `json:"version"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	BuyerID     uuid.UUID       `json:"buyer_id"`
	SellerID    uuid.UUID       `json:"seller_id"`
	Description string          `json:"description"`
	State       State           `json:"state"`
	CreatedAt   time.Time       `json:"created_at"`
	ExpiresAt   time.Time       `json:"expires_at"`
	FundedAt    *time.Time      `json:"funded_at,omitempty"`
	ClosedAt    *time.Time      `json:"closed_at,omitempty"`
	Escrowed    decimal.Decimal `json:"escrowed"`
	ReleasePIN  string          `json:"release_pin,omitempty"`
	PINConsumed bool            `json:"pin_consumed"`
	Dispute     *Dispute        `json:"dispute,omitempty"`
	Settlement  *Settlement     `json:"settlement,omitempty"`
	History     []Transition    `json:"history"`
}

// Clone returns a deep copy of the escrow object so callers can safely mutate
// the copy without affecting the stored instance.
func (e *Escrow) Clone() *Escrow {
	if e == nil {
		return nil
	}
	clone := *e
	if e.FundedAt != nil {
		at := *e.FundedAt
		clone.FundedAt = &at
	}
	if e.ClosedAt != nil {
		at := *e.ClosedAt
		clone.ClosedAt = &at
	}
	if e.Settlement != nil {
		settlement := *e.Settlement
		clone.Settlement = &settlement
	}
	clone.Dispute = e.Dispute.Clone()
	clone.History = make([]Transition, len(e.History))
	for i, entry := range e.History {
		entry.Tally = entry.Tally.Clone()
		clone.History[i] = entry
	}
	return &clone
}

// IsParty reports whether id is the buyer or the seller.
func (e *Escrow) IsParty(id uuid.UUID) bool {
	return id != uuid.Nil && (id == e.BuyerID || id == e.SellerID)
}

// Expired reports whether now lies strictly after the time-lock deadline.
func (e *Escrow) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}
