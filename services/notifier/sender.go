package notifier

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
	"unicode"

	"golang.org/x/time/rate"

	"spazaescrow/observability"
	"spazaescrow/observability/logging"
)

var (
	// ErrRateLimited is returned when the send budget is exhausted.
	ErrRateLimited = errors.New("notifier: rate limited")
	// ErrInvalidPhone marks numbers that are not 7 to 15 digits.
	ErrInvalidPhone = errors.New("notifier: invalid phone number")
)

// Message is a text bound for a handset. Secret names a value inside Text that
// only the recipient may read; audit trails replace it.
type Message struct {
	Kind   string
	Text   string
	Secret string
}

// Redacted returns Text with every occurrence of Secret masked.
func (m Message) Redacted() string {
	if m.Secret == "" {
		return m.Text
	}
	return strings.ReplaceAll(m.Text, m.Secret, logging.RedactedValue)
}

// Sender delivers a text message and returns a provider message id.
type Sender interface {
	Send(ctx context.Context, phone string, msg Message) (string, error)
}

// SimulatedSender does not reach any network. Every accepted message is
// appended to an audit writer with the phone number and any secret masked.
type SimulatedSender struct {
	carrier  Carrier
	senderID string
	limiter  *rate.Limiter
	metrics  *observability.NotifierMetrics

	mu    sync.Mutex
	out   io.Writer
	nowFn func() time.Time
	seq   uint64
}

// NewSimulatedSender builds a sender throttled to perMinute messages with the
// given burst. A non-positive perMinute disables throttling.
func NewSimulatedSender(carrier Carrier, senderID string, out io.Writer, perMinute float64, burst int) *SimulatedSender {
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Limit(perMinute / 60)
	}
	if burst <= 0 {
		burst = 1
	}
	if strings.TrimSpace(senderID) == "" {
		senderID = "SPAZA"
	}
	if out == nil {
		out = io.Discard
	}
	return &SimulatedSender{
		carrier:  carrier,
		senderID: senderID,
		limiter:  rate.NewLimiter(limit, burst),
		metrics:  observability.Notifier(),
		out:      out,
		nowFn:    func() time.Time { return time.Now().UTC() },
	}
}

// SetNowFunc overrides the clock used for audit timestamps.
func (s *SimulatedSender) SetNowFunc(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	s.nowFn = now
}

// Carrier returns the network the sender simulates.
func (s *SimulatedSender) Carrier() Carrier { return s.carrier }

// Send implements Sender.
func (s *SimulatedSender) Send(ctx context.Context, phone string, msg Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := ValidatePhone(phone); err != nil {
		return "", err
	}
	if !s.limiter.Allow() {
		s.metrics.RecordThrottle(string(s.carrier))
		return "", ErrRateLimited
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.nowFn()
	s.seq++
	id := fmt.Sprintf("sms_%d_%d", now.Unix(), s.seq)
	line := fmt.Sprintf("[%s] %s | From: %s | To: %s | Id: %s | Message: %s\n",
		now.Format(time.RFC3339),
		s.carrier,
		s.senderID,
		logging.MaskPhone(phone),
		id,
		strings.ReplaceAll(msg.Redacted(), "\n", " "),
	)
	if _, err := io.WriteString(s.out, line); err != nil {
		return "", fmt.Errorf("notifier: write audit line: %w", err)
	}
	return id, nil
}

// ValidatePhone accepts an optional leading "+" followed by 7 to 15 digits,
// ignoring spaces and dashes.
func ValidatePhone(phone string) error {
	trimmed := strings.TrimSpace(phone)
	trimmed = strings.TrimPrefix(trimmed, "+")
	digits := 0
	for _, r := range trimmed {
		switch {
		case unicode.IsDigit(r):
			digits++
		case r == ' ' || r == '-':
		default:
			return fmt.Errorf("%w: %s", ErrInvalidPhone, logging.MaskPhone(phone))
		}
	}
	if digits < 7 || digits > 15 {
		return fmt.Errorf("%w: %s", ErrInvalidPhone, logging.MaskPhone(phone))
	}
	return nil
}
