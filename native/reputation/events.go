package reputation

import (
	"github.com/shopspring/decimal"

	"spazaescrow/core/types"
)

const (
	// EventTypeScoreAdjusted is emitted when a resolution moves a trust score.
	EventTypeScoreAdjusted = "reputation.scoreAdjusted"
)

// NewScoreAdjustedEvent returns the canonical event payload for a settled
// identity. previous is the score before the adjustment.
func NewScoreAdjustedEvent(ident *Identity, previous decimal.Decimal, outcome Outcome) *types.Event {
	attrs := make(map[string]string)
	if ident == nil {
		return &types.Event{Type: EventTypeScoreAdjusted, Attributes: attrs}
	}
	attrs["identity"] = ident.ID.String()
	attrs["outcome"] = outcome.String()
	attrs["previous"] = previous.String()
	attrs["score"] = ident.TrustScore.String()
	attrs["level"] = LevelFor(ident.TrustScore).String()
	return &types.Event{Type: EventTypeScoreAdjusted, Attributes: attrs}
}
