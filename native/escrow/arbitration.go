package escrow

import (
	"fmt"

	"github.com/google/uuid"
)

// ArbitratorPolicy assigns the panel that arbitrates a dispute.
type ArbitratorPolicy interface {
	AssignPanel(esc *Escrow) ([]uuid.UUID, error)
}

// FixedPanel assigns the same roster to every dispute, minus any member who
// is a party to the escrow.
type FixedPanel struct {
	Members []uuid.UUID
}

// AssignPanel implements ArbitratorPolicy.
func (p FixedPanel) AssignPanel(esc *Escrow) ([]uuid.UUID, error) {
	seen := make(map[uuid.UUID]struct{}, len(p.Members))
	panel := make([]uuid.UUID, 0, len(p.Members))
	for _, member := range p.Members {
		if member == uuid.Nil {
			continue
		}
		if esc != nil && esc.IsParty(member) {
			continue
		}
		if _, dup := seen[member]; dup {
			continue
		}
		seen[member] = struct{}{}
		panel = append(panel, member)
	}
	if len(panel) == 0 {
		return nil, ErrPanelUnavailable
	}
	return panel, nil
}

// DefaultQuorum is a strict majority of the panel.
func DefaultQuorum(panelSize int) int {
	if panelSize <= 0 {
		return 0
	}
	return panelSize/2 + 1
}

func quorumFor(configured, panelSize int) int {
	if configured <= 0 || configured > panelSize {
		return DefaultQuorum(panelSize)
	}
	return configured
}

// Evaluate applies the resolution rule to the votes recorded on d. It reports
// false while the dispute remains open.
//
// Resolution starts once the number of distinct panel votes reaches the
// quorum. A side with more votes wins. A tied count waits for the outstanding
// panel members and, once the whole panel has voted, resolves for the buyer.
func Evaluate(d *Dispute) (*Tally, bool) {
	if d == nil || len(d.Panel) == 0 {
		return nil, false
	}
	tally := &Tally{
		PanelSize: len(d.Panel),
		Quorum:    quorumFor(d.Quorum, len(d.Panel)),
		Votes:     make(map[uuid.UUID]Decision, len(d.Votes)),
	}
	for _, member := range d.Panel {
		decision, ok := d.Votes[member]
		if !ok {
			continue
		}
		tally.Votes[member] = decision
		switch decision {
		case DecisionFavorBuyer:
			tally.FavorBuyer++
		case DecisionFavorSeller:
			tally.FavorSeller++
		}
	}
	cast := tally.FavorBuyer + tally.FavorSeller
	if cast < tally.Quorum {
		return tally, false
	}
	switch {
	case tally.FavorSeller > tally.FavorBuyer:
		tally.Decision = DecisionFavorSeller
	case tally.FavorBuyer > tally.FavorSeller:
		tally.Decision = DecisionFavorBuyer
	case cast == tally.PanelSize:
		tally.Decision = DecisionFavorBuyer
	default:
		return tally, false
	}
	return tally, true
}

// summary renders a tally for history notes, e.g. "favor_buyer 2-1 (panel 3)".
func (t *Tally) summary() string {
	if t == nil {
		return ""
	}
	winner, loser := t.FavorBuyer, t.FavorSeller
	if t.Decision == DecisionFavorSeller {
		winner, loser = loser, winner
	}
	return fmt.Sprintf("%s %d-%d (panel %d)", t.Decision, winner, loser, t.PanelSize)
}
