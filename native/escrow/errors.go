package escrow

import "errors"

var (
	// ErrInvalidAmount marks non-positive amounts and funding that does not
	// match the agreed amount exactly.
	ErrInvalidAmount = errors.New("escrow: invalid amount")
	// ErrInvalidState marks operations attempted from an illegal source state.
	ErrInvalidState = errors.New("escrow: invalid state")
	// ErrUnauthorized marks a wrong caller for the attempted action or a wrong PIN.
	ErrUnauthorized = errors.New("escrow: unauthorized")
	// ErrAlreadyConsumed marks reuse of a release PIN.
	ErrAlreadyConsumed = errors.New("escrow: release pin already consumed")
	// ErrNotFound marks unknown escrow identifiers.
	ErrNotFound = errors.New("escrow: not found")
	// ErrVersionConflict is returned when a concurrent mutation won the race.
	// Callers should re-read and retry.
	ErrVersionConflict = errors.New("escrow: version conflict")
	// ErrQuorumNotReached signals that a vote was recorded without resolving
	// the dispute. It is partial progress, not a failure.
	ErrQuorumNotReached = errors.New("escrow: quorum not reached")
	// ErrExpired marks operations attempted after the time-lock window.
	ErrExpired = errors.New("escrow: expired")

	// ErrInvalidDuration marks non-positive escrow durations.
	ErrInvalidDuration = errors.New("escrow: invalid duration")
	// ErrSameParty marks missing or identical buyer and seller ids.
	ErrSameParty = errors.New("escrow: buyer and seller must be distinct")
	// ErrInvalidCurrency marks malformed currency codes.
	ErrInvalidCurrency = errors.New("escrow: invalid currency")
	// ErrInvalidDecision marks ballots other than favor_buyer/favor_seller.
	ErrInvalidDecision = errors.New("escrow: invalid decision")
	// ErrPanelUnavailable is returned when no arbitrator panel can be assigned.
	ErrPanelUnavailable = errors.New("escrow: arbitrator panel unavailable")
	// ErrHistoryCorrupted is returned when the audit chain fails verification.
	ErrHistoryCorrupted = errors.New("escrow: history corrupted")
)

var errorKinds = []struct {
	err  error
	kind string
}{
	{ErrInvalidAmount, "InvalidAmount"},
	{ErrInvalidState, "InvalidState"},
	{ErrUnauthorized, "Unauthorized"},
	{ErrAlreadyConsumed, "AlreadyConsumed"},
	{ErrNotFound, "NotFound"},
	{ErrVersionConflict, "VersionConflict"},
	{ErrQuorumNotReached, "QuorumNotReached"},
	{ErrExpired, "Expired"},
	{ErrInvalidDuration, "InvalidDuration"},
	{ErrSameParty, "SameParty"},
	{ErrInvalidCurrency, "InvalidCurrency"},
	{ErrInvalidDecision, "InvalidDecision"},
	{ErrPanelUnavailable, "PanelUnavailable"},
	{ErrHistoryCorrupted, "HistoryCorrupted"},
}

// Kind returns the stable name of the error kind wrapped by err, "" for nil
// and "Internal" for errors outside the escrow taxonomy.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, entry := range errorKinds {
		if errors.Is(err, entry.err) {
			return entry.kind
		}
	}
	return "Internal"
}

// Retryable reports whether the caller should re-read and retry.
func Retryable(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}
