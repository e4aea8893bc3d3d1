package escrow

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
)

// canonicalEntry is the digest preimage of a history entry. Timestamps are
// normalised to UTC so the encoding survives storage round trips.
type canonicalEntry struct {
	PreviousState string    `json:"previous_state"`
	NewState      string    `json:"new_state"`
	Actor         uuid.UUID `json:"actor"`
	Timestamp     string    `json:"timestamp"`
	Note          string    `json:"note,omitempty"`
	Tally         *Tally    `json:"tally,omitempty"`
}

func entryDigest(prev string, entry Transition) (string, error) {
	payload, err := json.Marshal(canonicalEntry{
		PreviousState: entry.PreviousState.String(),
		NewState:      entry.NewState.String(),
		Actor:         entry.Actor,
		Timestamp:     entry.Timestamp.UTC().Format(time.RFC3339Nano),
		Note:          entry.Note,
		Tally:         entry.Tally,
	})
	if err != nil {
		return "", fmt.Errorf("escrow: encode history entry: %w", err)
	}
	prevBytes, err := hex.DecodeString(prev)
	if err != nil {
		return "", fmt.Errorf("escrow: decode history digest: %w", err)
	}
	return hex.EncodeToString(ethcrypto.Keccak256(prevBytes, payload)), nil
}

// appendTransition moves esc to the given state and appends the matching
// history entry in one step.
func appendTransition(esc *Escrow, to State, actor uuid.UUID, at time.Time, note string, tally *Tally) error {
	entry := Transition{
		PreviousState: esc.State,
		NewState:      to,
		Actor:         actor,
		Timestamp:     at.UTC(),
		Note:          note,
		Tally:         tally,
	}
	prev := ""
	if n := len(esc.History); n > 0 {
		prev = esc.History[n-1].Digest
	}
	digest, err := entryDigest(prev, entry)
	if err != nil {
		return err
	}
	entry.Digest = digest
	esc.History = append(esc.History, entry)
	esc.State = to
	return nil
}

// VerifyHistory recomputes the audit chain of esc and checks that every entry
// starts where the previous one ended and that the chain ends at the current
// state.
func VerifyHistory(esc *Escrow) error {
	if esc == nil {
		return fmt.Errorf("%w: nil escrow", ErrHistoryCorrupted)
	}
	if len(esc.History) == 0 {
		return fmt.Errorf("%w: empty history", ErrHistoryCorrupted)
	}
	prevDigest := ""
	prevState := StateUnspecified
	for i, entry := range esc.History {
		if entry.PreviousState != prevState {
			return fmt.Errorf("%w: entry %d starts at %s, expected %s", ErrHistoryCorrupted, i, entry.PreviousState, prevState)
		}
		want, err := entryDigest(prevDigest, entry)
		if err != nil {
			return err
		}
		if want != entry.Digest {
			return fmt.Errorf("%w: entry %d digest mismatch", ErrHistoryCorrupted, i)
		}
		prevDigest = entry.Digest
		prevState = entry.NewState
	}
	if prevState != esc.State {
		return fmt.Errorf("%w: chain ends at %s but escrow is %s", ErrHistoryCorrupted, prevState, esc.State)
	}
	return nil
}
