package escrow

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"
	"lukechampine.com/blake3"
)

const (
	// DefaultPINDigits is the release PIN length used when the policy leaves it unset.
	DefaultPINDigits = 6
	MinPINDigits     = 4
	MaxPINDigits     = 10
)

// PINSource produces a numeric release PIN with the requested number of digits.
type PINSource func(digits int) (string, error)

// RandomPIN draws a uniformly distributed numeric PIN from crypto/rand.
func RandomPIN(digits int) (string, error) {
	if digits < MinPINDigits || digits > MaxPINDigits {
		return "", fmt.Errorf("escrow: pin length %d outside [%d,%d]", digits, MinPINDigits, MaxPINDigits)
	}
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits)), nil)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", fmt.Errorf("escrow: generate pin: %w", err)
	}
	return fmt.Sprintf("%0*s", digits, n.String()), nil
}

// pinDigest salts the PIN with the escrow id so identical PINs on different
// escrows never share a digest.
func pinDigest(id uuid.UUID, pin string) string {
	buf := make([]byte, 0, len(id)+len(pin))
	buf = append(buf, id[:]...)
	buf = append(buf, strings.TrimSpace(pin)...)
	sum := blake3.Sum256(buf)
	return hex.EncodeToString(sum[:])
}

func pinMatches(esc *Escrow, pin string) bool {
	if esc == nil || esc.ReleasePIN == "" || strings.TrimSpace(pin) == "" {
		return false
	}
	want := []byte(esc.ReleasePIN)
	got := []byte(pinDigest(esc.ID, pin))
	return subtle.ConstantTimeCompare(want, got) == 1
}
