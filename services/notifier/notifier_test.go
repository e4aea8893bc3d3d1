package notifier

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"spazaescrow/native/escrow"
	"spazaescrow/state"
	"spazaescrow/storage"
)

var fixedNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newSender(out io.Writer, perMinute float64, burst int) *SimulatedSender {
	sender := NewSimulatedSender(CarrierMTN, "SPAZA", out, perMinute, burst)
	sender.SetNowFunc(func() time.Time { return fixedNow })
	return sender
}

func TestSimulatedSenderMasksPhone(t *testing.T) {
	var buf bytes.Buffer
	sender := newSender(&buf, 0, 1)

	id, err := sender.Send(context.Background(), "+27821234567", Message{Text: "hello\nworld"})
	require.NoError(t, err)
	require.Equal(t, "sms_1772355600_1", id)

	line := buf.String()
	require.Contains(t, line, "[2026-03-01T09:00:00Z] MTN | From: SPAZA | To: +27*****4567")
	require.Contains(t, line, "Message: hello world")
	require.NotContains(t, line, "821234567")
}

func TestSimulatedSenderMasksSecret(t *testing.T) {
	var buf bytes.Buffer
	sender := newSender(&buf, 0, 1)

	msg := Message{Kind: KindPIN, Text: "Spaza Escrow PIN: 731044\nGive 731044 to the driver", Secret: "731044"}
	_, err := sender.Send(context.Background(), "0821234567", msg)
	require.NoError(t, err)

	line := buf.String()
	require.Contains(t, line, "Message: Spaza Escrow PIN: [REDACTED] Give [REDACTED] to the driver")
	require.NotContains(t, line, "731044")
	require.Contains(t, msg.Text, "731044", "the handset still receives the PIN")
}

func TestSimulatedSenderRateLimit(t *testing.T) {
	sender := newSender(io.Discard, 1, 1)

	_, err := sender.Send(context.Background(), "0821234567", Message{Text: "first"})
	require.NoError(t, err)
	_, err = sender.Send(context.Background(), "0821234567", Message{Text: "second"})
	require.ErrorIs(t, err, ErrRateLimited)
}

func TestSimulatedSenderRejectsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newSender(io.Discard, 0, 1).Send(ctx, "0821234567", Message{Text: "x"})
	require.ErrorIs(t, err, context.Canceled)
}

func TestValidatePhone(t *testing.T) {
	cases := map[string]bool{
		"+27821234567":     true,
		"082 123-4567":     true,
		"254712345678":     true,
		"12345":            false,
		"+2782abc4567":     false,
		"":                 false,
		"1234567890123456": false,
	}
	for phone, ok := range cases {
		err := ValidatePhone(phone)
		if ok {
			require.NoError(t, err, phone)
		} else {
			require.ErrorIs(t, err, ErrInvalidPhone, phone)
		}
	}
}

func TestParseCarrier(t *testing.T) {
	for raw, want := range map[string]Carrier{
		"MTN":                CarrierMTN,
		"vodacom":            CarrierVodacom,
		"M-Pesa":             CarrierSafaricom,
		"Safaricom (M-Pesa)": CarrierSafaricom,
		"orange money":       CarrierOrange,
	} {
		got, err := ParseCarrier(raw)
		require.NoError(t, err, raw)
		require.Equal(t, want, got)
	}
	_, err := ParseCarrier("telkom")
	require.Error(t, err)
}

type notifierFixture struct {
	engine   *escrow.Engine
	notifier *Notifier
	audit    *bytes.Buffer
	buyer    uuid.UUID
	seller   uuid.UUID
	panel    []uuid.UUID
}

func newNotifierFixture(t *testing.T) *notifierFixture {
	t.Helper()
	f := &notifierFixture{
		audit:  &bytes.Buffer{},
		buyer:  uuid.New(),
		seller: uuid.New(),
		panel:  []uuid.UUID{uuid.New(), uuid.New(), uuid.New()},
	}
	contacts := map[uuid.UUID]string{
		f.buyer:  "+27820000001",
		f.seller: "+27820000002",
	}
	for i, member := range f.panel {
		contacts[member] = "+2782000001" + string(rune('0'+i))
	}
	f.notifier = New(newSender(f.audit, 0, 10), contacts, quietLogger())

	f.engine = escrow.NewEngine(state.NewManager(storage.NewMemDB()))
	f.engine.SetLogger(quietLogger())
	f.engine.SetNowFunc(func() time.Time { return fixedNow })
	f.engine.SetPINSource(func(int) (string, error) { return "482913", nil })
	f.engine.SetArbitrators(escrow.FixedPanel{Members: f.panel})
	f.engine.SetEmitter(f.notifier)
	return f
}

func (f *notifierFixture) kinds() []string {
	var out []string
	for _, d := range f.notifier.Deliveries() {
		out = append(out, d.Kind)
	}
	return out
}

func TestNotifierHappyPath(t *testing.T) {
	f := newNotifierFixture(t)
	ctx := context.Background()
	amount := decimal.RequireFromString("150")

	res, err := f.engine.CreateEscrow(ctx, escrow.CreateParams{
		Amount: amount, Currency: "ZAR", BuyerID: f.buyer, SellerID: f.seller, DurationDays: 3,
	})
	require.NoError(t, err)
	_, err = f.notifier.SendPIN(ctx, res.Escrow, res.PIN)
	require.NoError(t, err)

	_, err = f.engine.Fund(ctx, res.Escrow.ID, amount)
	require.NoError(t, err)
	_, err = f.engine.ReleaseToSeller(ctx, res.Escrow.ID, res.PIN, fixedNow.Add(time.Hour))
	require.NoError(t, err)

	require.Equal(t, []string{KindPIN, KindFundsGuaranteed, KindPaymentReceived}, f.kinds())
	deliveries := f.notifier.Deliveries()
	require.Equal(t, f.buyer, deliveries[0].Recipient)
	require.Equal(t, f.seller, deliveries[1].Recipient)
	require.Equal(t, f.seller, deliveries[2].Recipient)

	log := f.audit.String()
	require.Contains(t, log, "Spaza Escrow PIN: [REDACTED]")
	require.Contains(t, log, "FUNDS GUARANTEED!")
	require.Contains(t, log, "PAYMENT RECEIVED!")
	require.Contains(t, log, res.Escrow.ID.String()[:8])
	require.NotContains(t, log, "482913", "the audit trail must never hold the cleartext PIN")
}

func TestNotifierDisputeAlertsPanel(t *testing.T) {
	f := newNotifierFixture(t)
	ctx := context.Background()
	amount := decimal.RequireFromString("80")

	res, err := f.engine.CreateEscrow(ctx, escrow.CreateParams{
		Amount: amount, Currency: "ZAR", BuyerID: f.buyer, SellerID: f.seller, DurationDays: 3,
	})
	require.NoError(t, err)
	_, err = f.engine.Fund(ctx, res.Escrow.ID, amount)
	require.NoError(t, err)
	_, err = f.engine.RaiseDispute(ctx, res.Escrow.ID, f.buyer, fixedNow)
	require.NoError(t, err)

	_, err = f.engine.CastVote(ctx, res.Escrow.ID, f.panel[0], escrow.DecisionFavorBuyer)
	require.ErrorIs(t, err, escrow.ErrQuorumNotReached)
	_, err = f.engine.CastVote(ctx, res.Escrow.ID, f.panel[1], escrow.DecisionFavorBuyer)
	require.NoError(t, err)

	require.Equal(t, []string{
		KindFundsGuaranteed,
		KindDisputeAlert, KindDisputeAlert, KindDisputeAlert,
		KindDisputeResolved, KindDisputeResolved,
	}, f.kinds())
	require.Contains(t, f.audit.String(), "Decision: favor_buyer")
}

func TestNotifierSkipsUnknownContacts(t *testing.T) {
	var buf bytes.Buffer
	n := New(newSender(&buf, 0, 1), nil, quietLogger())
	esc := &escrow.Escrow{ID: uuid.New(), BuyerID: uuid.New(), Amount: decimal.NewFromInt(5), Currency: "ZAR"}

	id, err := n.SendPIN(context.Background(), esc, "123456")
	require.NoError(t, err)
	require.Empty(t, id)
	require.Empty(t, buf.String())

	n.SetContact(esc.BuyerID, "0821234567")
	id, err = n.SendPIN(context.Background(), esc, "123456")
	require.NoError(t, err)
	require.NotEmpty(t, id)
}

func TestNotifierRecordsThrottledDelivery(t *testing.T) {
	buyer := uuid.New()
	n := New(newSender(io.Discard, 1, 1), map[uuid.UUID]string{buyer: "0821234567"}, quietLogger())
	esc := &escrow.Escrow{ID: uuid.New(), BuyerID: buyer, Amount: decimal.NewFromInt(5), Currency: "ZAR"}

	_, err := n.SendPIN(context.Background(), esc, "111111")
	require.NoError(t, err)
	_, err = n.SendPIN(context.Background(), esc, "222222")
	require.True(t, errors.Is(err, ErrRateLimited))

	deliveries := n.Deliveries()
	require.Len(t, deliveries, 2)
	require.ErrorIs(t, deliveries[1].Err, ErrRateLimited)
}
