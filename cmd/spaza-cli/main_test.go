package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"spazaescrow/native/escrow"
	"spazaescrow/native/reputation"
)

type cliHarness struct {
	t       *testing.T
	dir     string
	config  string
	buyer   uuid.UUID
	seller  uuid.UUID
	panel   []uuid.UUID
	smsPath string
}

func newHarness(t *testing.T, backend string) *cliHarness {
	t.Helper()
	h := &cliHarness{
		t:      t,
		dir:    t.TempDir(),
		buyer:  uuid.New(),
		seller: uuid.New(),
		panel:  []uuid.UUID{uuid.New(), uuid.New(), uuid.New()},
	}
	h.config = filepath.Join(h.dir, "spaza.toml")
	h.smsPath = filepath.Join(h.dir, "sms.log")
	panel := make([]string, len(h.panel))
	for i, id := range h.panel {
		panel[i] = fmt.Sprintf("%q", id.String())
	}
	body := fmt.Sprintf(`DataDir = %q

[Storage]
Backend = %q

[Arbitration]
Panel = [%s]

[Logging]
Level = "error"

[Notifications]
Enabled = true
Carrier = "vodacom"
AuditLog = %q

[Notifications.Contacts]
%q = "+27820000001"
%q = "+27820000002"
`, h.dir, backend, strings.Join(panel, ", "), h.smsPath, h.buyer.String(), h.seller.String())
	require.NoError(t, os.WriteFile(h.config, []byte(body), 0o600))
	return h
}

func (h *cliHarness) run(args ...string) (int, string, string) {
	h.t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(append([]string{"--config", h.config}, args...), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func (h *cliHarness) mustRun(args ...string) string {
	h.t.Helper()
	code, stdout, stderr := h.run(args...)
	require.Equalf(h.t, 0, code, "args %v stderr %s", args, stderr)
	return stdout
}

func (h *cliHarness) create(days string) createOutput {
	h.t.Helper()
	out := h.mustRun("create",
		"--buyer", h.buyer.String(),
		"--seller", h.seller.String(),
		"--amount", "1500",
		"--days", days,
		"--description", "bulk maize meal",
	)
	var created createOutput
	require.NoError(h.t, json.Unmarshal([]byte(out), &created))
	return created
}

func decodeEscrow(t *testing.T, raw string) *escrow.Escrow {
	t.Helper()
	var esc escrow.Escrow
	require.NoError(t, json.Unmarshal([]byte(raw), &esc))
	return &esc
}

func TestCLIReleaseLifecycle(t *testing.T) {
	h := newHarness(t, "bolt")

	created := h.create("30")
	require.Len(t, created.PIN, 6)
	require.Equal(t, escrow.StateCreated, created.Escrow.State)
	require.Empty(t, created.Escrow.ReleasePIN)
	id := created.Escrow.ID.String()

	funded := decodeEscrow(t, h.mustRun("fund", "--id", id, "--amount", "1500"))
	require.Equal(t, escrow.StateFunded, funded.State)

	released := decodeEscrow(t, h.mustRun("release", "--id", id, "--pin", created.PIN))
	require.Equal(t, escrow.StateCompleted, released.State)
	require.True(t, released.PINConsumed)

	got := decodeEscrow(t, h.mustRun("get", "--id", id, "--verify"))
	require.Equal(t, escrow.StateCompleted, got.State)
	require.Len(t, got.History, 3)

	var trust trustOutput
	require.NoError(t, json.Unmarshal([]byte(h.mustRun("trust", "--id", h.seller.String())), &trust))
	require.Equal(t, "52", trust.Identity.TrustScore.String())
	require.True(t, trust.Identity.HasRole(reputation.RoleSeller))

	code, _, stderr := h.run("release", "--id", id, "--pin", created.PIN)
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "Error: AlreadyConsumed")

	sms, err := os.ReadFile(h.smsPath)
	require.NoError(t, err)
	require.Contains(t, string(sms), "Spaza Escrow PIN: [REDACTED]")
	require.NotContains(t, string(sms), "Spaza Escrow PIN: "+created.PIN)
	require.Contains(t, string(sms), "FUNDS GUARANTEED!")
	require.Contains(t, string(sms), "PAYMENT RECEIVED!")
	require.NotContains(t, string(sms), "820000001")
}

func TestCLIDisputeAndVote(t *testing.T) {
	h := newHarness(t, "leveldb")
	created := h.create("30")
	id := created.Escrow.ID.String()
	h.mustRun("fund", "--id", id, "--amount", "1500")

	disputed := decodeEscrow(t, h.mustRun("dispute", "--id", id, "--by", h.buyer.String()))
	require.Equal(t, escrow.StateInDispute, disputed.State)
	require.Len(t, disputed.Dispute.Panel, 3)

	code, stdout, stderr := h.run("vote", "--id", id, "--arbitrator", h.panel[0].String(), "--decision", "refund")
	require.Equal(t, 0, code)
	require.Contains(t, stderr, "quorum not reached")
	require.Equal(t, escrow.StateInDispute, decodeEscrow(t, stdout).State)

	resolved := decodeEscrow(t, h.mustRun("vote", "--id", id, "--arbitrator", h.panel[1].String(), "--decision", "favor_buyer"))
	require.Equal(t, escrow.StateRefunded, resolved.State)
	require.Equal(t, h.buyer, resolved.Settlement.Recipient)

	code, _, stderr = h.run("vote", "--id", id, "--arbitrator", h.panel[2].String(), "--decision", "seller")
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "Error: InvalidState")
}

func TestCLISweepAndExport(t *testing.T) {
	h := newHarness(t, "bolt")
	created := h.create("1")
	id := created.Escrow.ID.String()
	h.mustRun("fund", "--id", id, "--amount", "1500")

	var early sweepOutput
	require.NoError(t, json.Unmarshal([]byte(h.mustRun("sweep", "--at", "+12h")), &early))
	require.Empty(t, early.Refunded)

	var swept sweepOutput
	require.NoError(t, json.Unmarshal([]byte(h.mustRun("sweep", "--at", "+48h")), &swept))
	require.Equal(t, []uuid.UUID{created.Escrow.ID}, swept.Refunded)

	var listed []*escrow.Escrow
	require.NoError(t, json.Unmarshal([]byte(h.mustRun("list", "--state", "refunded")), &listed))
	require.Len(t, listed, 1)

	exportDir := filepath.Join(h.dir, "out")
	out := h.mustRun("export", "--dir", exportDir, "--name", "history")
	require.Contains(t, out, "history.parquet")
	require.FileExists(t, filepath.Join(exportDir, "history.csv"))
	require.FileExists(t, filepath.Join(exportDir, "history.parquet"))
}

func TestCLIExpiredEscrowRefundsOnTouch(t *testing.T) {
	h := newHarness(t, "bolt")

	released := h.create("1")
	h.mustRun("fund", "--id", released.Escrow.ID.String(), "--amount", "1500")
	code, _, stderr := h.run("release", "--id", released.Escrow.ID.String(), "--pin", released.PIN, "--at", "+48h")
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "Error: InvalidState")
	got := decodeEscrow(t, h.mustRun("get", "--id", released.Escrow.ID.String()))
	require.Equal(t, escrow.StateRefunded, got.State)
	require.Equal(t, h.buyer, got.Settlement.Recipient)

	disputed := h.create("1")
	h.mustRun("fund", "--id", disputed.Escrow.ID.String(), "--amount", "1500")
	code, _, stderr = h.run("dispute", "--id", disputed.Escrow.ID.String(), "--by", h.seller.String(), "--at", "+48h")
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "Error: InvalidState")
	got = decodeEscrow(t, h.mustRun("get", "--id", disputed.Escrow.ID.String()))
	require.Equal(t, escrow.StateRefunded, got.State)

	// The buyer can still pay a late delivery.
	late := h.create("1")
	h.mustRun("fund", "--id", late.Escrow.ID.String(), "--amount", "1500")
	paid := decodeEscrow(t, h.mustRun("release", "--id", late.Escrow.ID.String(), "--pin", late.PIN,
		"--override", "--buyer", h.buyer.String(), "--at", "+48h"))
	require.Equal(t, escrow.StateCompleted, paid.State)
}

func TestCLISQLiteListsByState(t *testing.T) {
	h := newHarness(t, "sqlite")

	a, err := openApp(context.Background(), h.config, io.Discard)
	require.NoError(t, err)
	require.NotNil(t, a.byState, "sqlite backend should list through the state index")
	require.NoError(t, a.Close(context.Background()))

	short := h.create("1")
	h.mustRun("fund", "--id", short.Escrow.ID.String(), "--amount", "1500")
	long := h.create("30")
	h.mustRun("fund", "--id", long.Escrow.ID.String(), "--amount", "1500")
	pending := h.create("30")

	var swept sweepOutput
	require.NoError(t, json.Unmarshal([]byte(h.mustRun("sweep", "--at", "+48h")), &swept))
	require.Equal(t, []uuid.UUID{short.Escrow.ID}, swept.Refunded)

	var funded []*escrow.Escrow
	require.NoError(t, json.Unmarshal([]byte(h.mustRun("list", "--state", "funded")), &funded))
	require.Len(t, funded, 1)
	require.Equal(t, long.Escrow.ID, funded[0].ID)

	var created []*escrow.Escrow
	require.NoError(t, json.Unmarshal([]byte(h.mustRun("list", "--state", "created")), &created))
	require.Len(t, created, 1)
	require.Equal(t, pending.Escrow.ID, created[0].ID)

	var all []*escrow.Escrow
	require.NoError(t, json.Unmarshal([]byte(h.mustRun("list")), &all))
	require.Len(t, all, 3)
}

func TestCLIErrors(t *testing.T) {
	h := newHarness(t, "bolt")
	created := h.create("30")
	id := created.Escrow.ID.String()

	code, _, stderr := h.run("fund", "--id", id, "--amount", "1499.99")
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "Error: InvalidAmount")

	code, _, stderr = h.run("cancel", "--id", id, "--buyer", h.seller.String())
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "Error: Unauthorized")

	code, _, stderr = h.run("get", "--id", uuid.NewString())
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "Error: NotFound")

	code, _, stderr = h.run("get", "--id", "not-a-uuid")
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "--id must be a UUID")

	code, _, stderr = h.run("frobnicate")
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "Unknown command: frobnicate")
}

func TestCLIDemo(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"demo"}, &stdout, &stderr)
	require.Equalf(t, 0, code, "stderr: %s", stderr.String())

	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	require.Len(t, lines, 4)
	require.Contains(t, lines[0], "Created -> Funded -> Completed")
	require.Contains(t, lines[1], "Created -> Funded -> InDispute -> Refunded")
	require.Contains(t, lines[2], "Created -> Funded -> Refunded")
	require.Contains(t, lines[3], "Created -> Cancelled")
	require.Contains(t, lines[3], "InvalidState")
}
