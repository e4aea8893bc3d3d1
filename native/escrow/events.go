package escrow

import (
	"strconv"
	"time"

	"github.com/google/uuid"

	"spazaescrow/core/types"
)

const (
	EventTypeEscrowCreated   = "escrow.created"
	EventTypeEscrowFunded    = "escrow.funded"
	EventTypeEscrowCancelled = "escrow.cancelled"
	EventTypeEscrowReleased  = "escrow.released"
	EventTypeEscrowDisputed  = "escrow.disputed"
	EventTypeEscrowVote      = "escrow.vote"
	EventTypeEscrowResolved  = "escrow.resolved"
	EventTypeEscrowExpired   = "escrow.expired"
)

type escrowEvent struct {
	evt *types.Event
}

func (e escrowEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e escrowEvent) Event() *types.Event { return e.evt }

// NewCreatedEvent returns the canonical event payload for a newly created
// escrow.
func NewCreatedEvent(e *Escrow) *types.Event { return newEscrowEvent(EventTypeEscrowCreated, e) }

// NewFundedEvent returns the payload emitted once the agreed amount is held.
func NewFundedEvent(e *Escrow) *types.Event { return newEscrowEvent(EventTypeEscrowFunded, e) }

// NewCancelledEvent returns the payload emitted when the buyer cancels an
// unfunded escrow.
func NewCancelledEvent(e *Escrow) *types.Event { return newEscrowEvent(EventTypeEscrowCancelled, e) }

// NewReleasedEvent returns the payload for a PIN-confirmed release to the seller.
func NewReleasedEvent(e *Escrow) *types.Event { return newEscrowEvent(EventTypeEscrowReleased, e) }

// NewDisputedEvent returns the payload emitted when a dispute is opened. The
// panel is listed as a comma separated attribute.
func NewDisputedEvent(e *Escrow) *types.Event {
	evt := newEscrowEvent(EventTypeEscrowDisputed, e)
	if e != nil && e.Dispute != nil {
		evt.Attributes["raisedBy"] = e.Dispute.RaisedBy.String()
		evt.Attributes["panel"] = joinIDs(e.Dispute.Panel)
		evt.Attributes["quorum"] = strconv.Itoa(e.Dispute.Quorum)
	}
	return evt
}

// NewVoteEvent returns the payload for a ballot that did not resolve the
// dispute.
func NewVoteEvent(e *Escrow, arbitrator uuid.UUID, decision Decision) *types.Event {
	evt := newEscrowEvent(EventTypeEscrowVote, e)
	evt.Attributes["arbitrator"] = arbitrator.String()
	evt.Attributes["decision"] = decision.String()
	if e != nil && e.Dispute != nil {
		evt.Attributes["votes"] = strconv.Itoa(len(e.Dispute.Votes))
	}
	return evt
}

// NewResolvedEvent returns the payload emitted when arbitration closes a
// dispute.
func NewResolvedEvent(e *Escrow, tally *Tally) *types.Event {
	evt := newEscrowEvent(EventTypeEscrowResolved, e)
	if tally != nil {
		evt.Attributes["decision"] = tally.Decision.String()
		evt.Attributes["favorBuyer"] = strconv.Itoa(tally.FavorBuyer)
		evt.Attributes["favorSeller"] = strconv.Itoa(tally.FavorSeller)
	}
	return evt
}

// NewExpiredEvent returns the payload emitted when the time-lock refunds the
// buyer.
func NewExpiredEvent(e *Escrow) *types.Event { return newEscrowEvent(EventTypeEscrowExpired, e) }

func newEscrowEvent(eventType string, e *Escrow) *types.Event {
	attrs := make(map[string]string)
	if e == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["id"] = e.ID.String()
	attrs["buyer"] = e.BuyerID.String()
	attrs["seller"] = e.SellerID.String()
	attrs["amount"] = e.Amount.String()
	attrs["currency"] = e.Currency
	attrs["state"] = e.State.String()
	attrs["version"] = strconv.FormatUint(e.Version, 10)
	attrs["expiresAt"] = e.ExpiresAt.UTC().Format(time.RFC3339)
	if e.Settlement != nil {
		attrs["recipient"] = e.Settlement.Recipient.String()
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}

func joinIDs(ids []uuid.UUID) string {
	out := make([]byte, 0, len(ids)*37)
	for i, id := range ids {
		if i > 0 {
			out = append(out, ',')
		}
		out = append(out, id.String()...)
	}
	return string(out)
}
