package notifier

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"spazaescrow/core/events"
	"spazaescrow/core/types"
	"spazaescrow/native/escrow"
	"spazaescrow/observability"
)

// Message kinds used for metrics and delivery receipts.
const (
	KindPIN             = "pin"
	KindFundsGuaranteed = "funds_guaranteed"
	KindPaymentReceived = "payment_received"
	KindDisputeAlert    = "dispute_alert"
	KindDisputeResolved = "dispute_resolved"
	KindRefunded        = "refunded"
)

// Delivery records one message handed to the sender.
type Delivery struct {
	Kind      string
	Recipient uuid.UUID
	MessageID string
	Err       error
}

// Notifier turns escrow events into SMS messages for the affected
// participants. It implements events.Emitter.
type Notifier struct {
	sender   Sender
	contacts map[uuid.UUID]string
	logger   *slog.Logger
	metrics  *observability.NotifierMetrics
	carrier  string

	mu         sync.Mutex
	deliveries []Delivery
}

// New creates a notifier that resolves participants through contacts.
func New(sender Sender, contacts map[uuid.UUID]string, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	book := make(map[uuid.UUID]string, len(contacts))
	for id, phone := range contacts {
		book[id] = phone
	}
	carrier := "unknown"
	if sim, ok := sender.(*SimulatedSender); ok {
		carrier = string(sim.Carrier())
	}
	return &Notifier{
		sender:   sender,
		contacts: book,
		logger:   logger,
		metrics:  observability.Notifier(),
		carrier:  carrier,
	}
}

// SetContact registers or replaces the phone number of a participant.
func (n *Notifier) SetContact(id uuid.UUID, phone string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.contacts[id] = strings.TrimSpace(phone)
}

// Deliveries returns a copy of every delivery attempt so far.
func (n *Notifier) Deliveries() []Delivery {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Delivery, len(n.deliveries))
	copy(out, n.deliveries)
	return out
}

// SendPIN delivers the one-time release PIN to the buyer. It is the only path
// through which the cleartext PIN leaves the process.
func (n *Notifier) SendPIN(ctx context.Context, esc *escrow.Escrow, pin string) (string, error) {
	if esc == nil {
		return "", fmt.Errorf("notifier: escrow required")
	}
	msg := fmt.Sprintf("Spaza Escrow PIN: %s\nFor Escrow: %s\nAmount: %s %s\n\nGive this PIN to the delivery driver to release payment.\n\nReply HELP for support.",
		pin, shortID(esc.ID.String()), esc.Amount.String(), esc.Currency)
	return n.deliver(ctx, esc.BuyerID, Message{Kind: KindPIN, Text: msg, Secret: pin})
}

// Emit implements events.Emitter.
func (n *Notifier) Emit(evt events.Event) {
	payload, ok := evt.(events.Payload)
	if !ok {
		return
	}
	n.handle(context.Background(), payload.Event())
}

func (n *Notifier) handle(ctx context.Context, evt *types.Event) {
	if evt == nil {
		return
	}
	id := shortID(evt.Attr("id"))
	amount := strings.TrimSpace(evt.Attr("amount") + " " + evt.Attr("currency"))
	switch evt.Type {
	case escrow.EventTypeEscrowFunded:
		msg := fmt.Sprintf("FUNDS GUARANTEED!\nEscrow: %s\nAmount: %s\n\nBuyer has escrowed funds. You can safely deliver goods.\n\nReply DELIVERED when done.", id, amount)
		n.deliverTo(ctx, KindFundsGuaranteed, evt.Attr("seller"), msg)
	case escrow.EventTypeEscrowReleased:
		msg := fmt.Sprintf("PAYMENT RECEIVED!\nAmount: %s\nEscrow: %s\n\nFunds have been released to your account.\n\nThank you for using Spaza Safety!", amount, id)
		n.deliverTo(ctx, KindPaymentReceived, evt.Attr("seller"), msg)
	case escrow.EventTypeEscrowDisputed:
		msg := fmt.Sprintf("DISPUTE ALERT\nEscrow: %s\nAmount: %s\n\nPlease review and vote on this dispute.\n\nReply VOTE to participate.", id, amount)
		for _, member := range strings.Split(evt.Attr("panel"), ",") {
			n.deliverTo(ctx, KindDisputeAlert, member, msg)
		}
	case escrow.EventTypeEscrowResolved:
		msg := fmt.Sprintf("DISPUTE RESOLVED\nEscrow: %s\nAmount: %s\nDecision: %s", id, amount, evt.Attr("decision"))
		n.deliverTo(ctx, KindDisputeResolved, evt.Attr("buyer"), msg)
		n.deliverTo(ctx, KindDisputeResolved, evt.Attr("seller"), msg)
	case escrow.EventTypeEscrowExpired:
		msg := fmt.Sprintf("ESCROW EXPIRED\nEscrow: %s\nAmount: %s\n\nThe delivery window closed and your funds were returned.", id, amount)
		n.deliverTo(ctx, KindRefunded, evt.Attr("buyer"), msg)
	}
}

func (n *Notifier) deliverTo(ctx context.Context, kind, rawID, msg string) {
	id, err := uuid.Parse(strings.TrimSpace(rawID))
	if err != nil {
		return
	}
	if _, err := n.deliver(ctx, id, Message{Kind: kind, Text: msg}); err != nil {
		n.logger.WarnContext(ctx, "sms delivery failed", "kind", kind, "error", err)
	}
}

func (n *Notifier) deliver(ctx context.Context, recipient uuid.UUID, msg Message) (string, error) {
	kind := msg.Kind
	n.mu.Lock()
	phone, ok := n.contacts[recipient]
	n.mu.Unlock()
	if !ok || phone == "" {
		n.logger.DebugContext(ctx, "no contact for participant", "kind", kind, "participant", recipient.String())
		return "", nil
	}
	messageID, err := n.sender.Send(ctx, phone, msg)
	n.mu.Lock()
	n.deliveries = append(n.deliveries, Delivery{Kind: kind, Recipient: recipient, MessageID: messageID, Err: err})
	n.mu.Unlock()
	if err != nil {
		return "", err
	}
	n.metrics.RecordMessage(n.carrier, kind)
	n.logger.InfoContext(ctx, "sms sent", "kind", kind, "phone", phone, "carrier", n.carrier)
	return messageID, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

var _ events.Emitter = (*Notifier)(nil)
