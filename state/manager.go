package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"spazaescrow/native/escrow"
	"spazaescrow/native/reputation"
	"spazaescrow/storage"
)

var (
	escrowPrefix   = []byte("escrow/")
	identityPrefix = []byte("identity/")
)

func escrowKey(id uuid.UUID) []byte {
	return append(append([]byte(nil), escrowPrefix...), id.String()...)
}

func identityKey(id uuid.UUID) []byte {
	return append(append([]byte(nil), identityPrefix...), id.String()...)
}

// Manager persists escrows and identities as JSON documents on top of a
// key/value storage.Database. Escrow writes are compare-and-swap on the
// record version and commit identity updates in the same transaction.
type Manager struct {
	db storage.Database
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

// Close closes the underlying database.
func (m *Manager) Close() error {
	if m == nil || m.db == nil {
		return nil
	}
	return m.db.Close()
}

// GetEscrow loads the escrow stored under id.
func (m *Manager) GetEscrow(ctx context.Context, id uuid.UUID) (*escrow.Escrow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := m.db.Get(escrowKey(id))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", escrow.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return decodeEscrow(raw)
}

// PutEscrow stores esc if the stored version equals expectedVersion (0 meaning
// absent), together with the supplied identities.
func (m *Manager) PutEscrow(ctx context.Context, esc *escrow.Escrow, expectedVersion uint64, identities ...*reputation.Identity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if esc == nil || esc.ID == uuid.Nil {
		return fmt.Errorf("state: escrow id required")
	}
	if !esc.State.Valid() {
		return fmt.Errorf("state: refusing to store escrow in state %s", esc.State)
	}
	payload, err := json.Marshal(esc)
	if err != nil {
		return fmt.Errorf("state: encode escrow: %w", err)
	}
	encoded := make([][]byte, len(identities))
	for i, ident := range identities {
		if ident == nil || ident.ID == uuid.Nil {
			return fmt.Errorf("state: identity id required")
		}
		if encoded[i], err = json.Marshal(ident); err != nil {
			return fmt.Errorf("state: encode identity: %w", err)
		}
	}
	return m.db.Update(func(txn storage.Txn) error {
		raw, err := txn.Get(escrowKey(esc.ID))
		switch {
		case errors.Is(err, storage.ErrNotFound):
			if expectedVersion != 0 {
				return fmt.Errorf("%w: %s no longer exists", escrow.ErrVersionConflict, esc.ID)
			}
		case err != nil:
			return err
		default:
			current, err := decodeEscrow(raw)
			if err != nil {
				return err
			}
			if expectedVersion == 0 || current.Version != expectedVersion {
				return fmt.Errorf("%w: stored version %d, expected %d", escrow.ErrVersionConflict, current.Version, expectedVersion)
			}
		}
		if err := txn.Put(escrowKey(esc.ID), payload); err != nil {
			return err
		}
		for i, ident := range identities {
			if err := checkIdentityVersion(txn, ident); err != nil {
				return err
			}
			if err := txn.Put(identityKey(ident.ID), encoded[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// checkIdentityVersion fails with escrow.ErrVersionConflict unless the stored
// identity is still at the version ident was computed from.
func checkIdentityVersion(txn storage.Txn, ident *reputation.Identity) error {
	var stored uint64
	raw, err := txn.Get(identityKey(ident.ID))
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return err
	default:
		current, err := decodeIdentity(raw)
		if err != nil {
			return err
		}
		stored = current.Version
	}
	if stored != ident.PriorVersion() {
		return fmt.Errorf("%w: identity %s stored version %d, expected %d", escrow.ErrVersionConflict, ident.ID, stored, ident.PriorVersion())
	}
	return nil
}

// ListEscrows returns every stored escrow in key order.
func (m *Manager) ListEscrows(ctx context.Context) ([]*escrow.Escrow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []*escrow.Escrow
	err := m.db.Iterate(escrowPrefix, func(_, value []byte) error {
		esc, err := decodeEscrow(value)
		if err != nil {
			return err
		}
		out = append(out, esc)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetIdentity loads a trust record.
func (m *Manager) GetIdentity(ctx context.Context, id uuid.UUID) (*reputation.Identity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := m.db.Get(identityKey(id))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, reputation.ErrIdentityNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeIdentity(raw)
}

// PutIdentity stores a trust record if nobody wrote it since it was read.
func (m *Manager) PutIdentity(ctx context.Context, ident *reputation.Identity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ident == nil || ident.ID == uuid.Nil {
		return fmt.Errorf("state: identity id required")
	}
	payload, err := json.Marshal(ident)
	if err != nil {
		return fmt.Errorf("state: encode identity: %w", err)
	}
	return m.db.Update(func(txn storage.Txn) error {
		if err := checkIdentityVersion(txn, ident); err != nil {
			return err
		}
		return txn.Put(identityKey(ident.ID), payload)
	})
}

func decodeEscrow(raw []byte) (*escrow.Escrow, error) {
	esc := new(escrow.Escrow)
	if err := json.Unmarshal(raw, esc); err != nil {
		return nil, fmt.Errorf("state: decode escrow: %w", err)
	}
	return esc, nil
}

func decodeIdentity(raw []byte) (*reputation.Identity, error) {
	ident := new(reputation.Identity)
	if err := json.Unmarshal(raw, ident); err != nil {
		return nil, fmt.Errorf("state: decode identity: %w", err)
	}
	return ident, nil
}
