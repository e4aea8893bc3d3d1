package reputation

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Role identifies the capacity in which a participant was referenced by an
// escrow. A participant may hold several roles across escrows.
type Role string

const (
	RoleBuyer      Role = "buyer"
	RoleSeller     Role = "seller"
	RoleArbitrator Role = "arbitrator"
)

// Valid reports whether the role is one of the supported values.
func (r Role) Valid() bool {
	switch r {
	case RoleBuyer, RoleSeller, RoleArbitrator:
		return true
	default:
		return false
	}
}

// ParseRole normalises a textual role.
func ParseRole(raw string) (Role, error) {
	role := Role(strings.ToLower(strings.TrimSpace(raw)))
	if !role.Valid() {
		return "", fmt.Errorf("reputation: unknown role %q", raw)
	}
	return role, nil
}

// Identity is the persisted trust record of a single participant.
type Identity struct {
	ID                     uuid.UUID       `json:"id"`
	TrustScore             decimal.Decimal `json:"trust_score"`
	Roles                  []Role          `json:"roles"`
	TotalTransactions      uint32          `json:"total_transactions"`
	SuccessfulTransactions uint32          `json:"successful_transactions"`
	DisputedTransactions   uint32          `json:"disputed_transactions"`
	LastUpdated            time.Time       `json:"last_updated"`
	// Version counts committed writes. An identity handed to a repository
	// carries the version it will be stored at.
	Version uint64 `json:"version"`
}

// PriorVersion is the stored version a write of i replaces. Zero means the
// identity must be absent or predate versioning.
func (i *Identity) PriorVersion() uint64 {
	if i == nil || i.Version == 0 {
		return 0
	}
	return i.Version - 1
}

// Clone returns a deep copy of the identity.
func (i *Identity) Clone() *Identity {
	if i == nil {
		return nil
	}
	clone := *i
	clone.Roles = append([]Role(nil), i.Roles...)
	return &clone
}

// HasRole reports whether the identity has been referenced in the given role.
func (i *Identity) HasRole(role Role) bool {
	if i == nil {
		return false
	}
	for _, existing := range i.Roles {
		if existing == role {
			return true
		}
	}
	return false
}

// AddRole records role on the identity. It returns false when the role was
// already present. Roles are kept sorted so encodings stay deterministic.
func (i *Identity) AddRole(role Role) bool {
	if i == nil || !role.Valid() || i.HasRole(role) {
		return false
	}
	i.Roles = append(i.Roles, role)
	sort.Slice(i.Roles, func(a, b int) bool { return i.Roles[a] < i.Roles[b] })
	return true
}

// Level buckets a trust score into coarse tiers.
type Level uint8

const (
	LevelNewbie Level = iota
	LevelBronze
	LevelSilver
	LevelGold
	LevelPlatinum
	LevelTrusted
)

var (
	bronzeFloor   = decimal.NewFromInt(30)
	silverFloor   = decimal.NewFromInt(60)
	goldFloor     = decimal.NewFromInt(80)
	platinumFloor = decimal.NewFromInt(90)
	trustedFloor  = decimal.NewFromInt(96)
)

// LevelFor maps a score onto its tier.
func LevelFor(score decimal.Decimal) Level {
	switch {
	case score.LessThan(bronzeFloor):
		return LevelNewbie
	case score.LessThan(silverFloor):
		return LevelBronze
	case score.LessThan(goldFloor):
		return LevelSilver
	case score.LessThan(platinumFloor):
		return LevelGold
	case score.LessThan(trustedFloor):
		return LevelPlatinum
	default:
		return LevelTrusted
	}
}

// String implements fmt.Stringer.
func (l Level) String() string {
	switch l {
	case LevelNewbie:
		return "newbie"
	case LevelBronze:
		return "bronze"
	case LevelSilver:
		return "silver"
	case LevelGold:
		return "gold"
	case LevelPlatinum:
		return "platinum"
	case LevelTrusted:
		return "trusted"
	default:
		return "unknown"
	}
}

// RecommendedDays returns the escrow duration suggested for a party at this
// tier. Higher trust shortens the time-lock.
func (l Level) RecommendedDays() int {
	switch l {
	case LevelTrusted:
		return 1
	case LevelPlatinum:
		return 3
	case LevelGold:
		return 7
	case LevelSilver:
		return 14
	case LevelBronze:
		return 30
	default:
		return 60
	}
}
