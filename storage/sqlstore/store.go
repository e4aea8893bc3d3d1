package sqlstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"spazaescrow/native/escrow"
	"spazaescrow/native/reputation"
)

// escrowRow stores the full record as JSON next to the columns needed for
// lookups and reporting.
type escrowRow struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Version   uint64    `gorm:"not null"`
	State     string    `gorm:"size:16;index"`
	BuyerID   uuid.UUID `gorm:"type:uuid;index"`
	SellerID  uuid.UUID `gorm:"type:uuid;index"`
	Amount    string    `gorm:"size:64;not null"`
	Currency  string    `gorm:"size:3"`
	ExpiresAt time.Time `gorm:"index"`
	Payload   string    `gorm:"type:text;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (escrowRow) TableName() string { return "escrows" }

type identityRow struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Version    uint64    `gorm:"not null;default:0"`
	TrustScore string    `gorm:"size:32;not null"`
	Payload    string    `gorm:"type:text;not null"`
	UpdatedAt  time.Time
}

func (identityRow) TableName() string { return "identities" }

// Store is an escrow.Repository backed by a SQL database through GORM.
type Store struct {
	db *gorm.DB
}

// Open connects to driver ("sqlite" or "postgres") using dsn and migrates the
// schema.
func Open(driver, dsn string) (*Store, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "sqlite", "sqlite3":
		dialector = sqlite.Open(dsn)
	case "postgres", "postgresql":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("sqlstore: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", driver, err)
	}
	return New(db)
}

// New wraps an existing connection and migrates the schema.
func New(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("sqlstore: nil database")
	}
	if err := db.AutoMigrate(&escrowRow{}, &identityRow{}); err != nil {
		return nil, fmt.Errorf("sqlstore: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// GetEscrow loads a single escrow.
func (s *Store) GetEscrow(ctx context.Context, id uuid.UUID) (*escrow.Escrow, error) {
	var row escrowRow
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", escrow.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return decodeEscrow(row.Payload)
}

// PutEscrow inserts (expectedVersion 0) or conditionally updates the escrow and
// writes identities in one transaction. Every write is conditional on the
// stored version.
func (s *Store) PutEscrow(ctx context.Context, esc *escrow.Escrow, expectedVersion uint64, identities ...*reputation.Identity) error {
	if esc == nil || esc.ID == uuid.Nil {
		return errors.New("sqlstore: escrow id required")
	}
	payload, err := json.Marshal(esc)
	if err != nil {
		return fmt.Errorf("sqlstore: encode escrow: %w", err)
	}
	identityRows := make([]identityRow, 0, len(identities))
	for _, ident := range identities {
		row, err := toIdentityRow(ident)
		if err != nil {
			return err
		}
		identityRows = append(identityRows, row)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if expectedVersion == 0 {
			row := escrowRow{
				ID:        esc.ID,
				Version:   esc.Version,
				State:     esc.State.String(),
				BuyerID:   esc.BuyerID,
				SellerID:  esc.SellerID,
				Amount:    esc.Amount.String(),
				Currency:  esc.Currency,
				ExpiresAt: esc.ExpiresAt,
				Payload:   string(payload),
				CreatedAt: esc.CreatedAt,
			}
			res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return fmt.Errorf("%w: %s already exists", escrow.ErrVersionConflict, esc.ID)
			}
		} else {
			res := tx.Model(&escrowRow{}).
				Where("id = ? AND version = ?", esc.ID, expectedVersion).
				Updates(map[string]any{
					"version": esc.Version,
					"state":   esc.State.String(),
					"payload": string(payload),
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return fmt.Errorf("%w: %s is not at version %d", escrow.ErrVersionConflict, esc.ID, expectedVersion)
			}
		}
		for i := range identityRows {
			if err := putIdentityRow(tx, identityRows[i], identities[i].PriorVersion()); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListEscrows returns every escrow ordered by creation time.
func (s *Store) ListEscrows(ctx context.Context) ([]*escrow.Escrow, error) {
	var rows []escrowRow
	if err := s.db.WithContext(ctx).Order("created_at asc").Order("id asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*escrow.Escrow, 0, len(rows))
	for _, row := range rows {
		esc, err := decodeEscrow(row.Payload)
		if err != nil {
			return nil, err
		}
		out = append(out, esc)
	}
	return out, nil
}

// ListByState returns the escrows currently in state, using the indexed
// column rather than decoding every payload.
func (s *Store) ListByState(ctx context.Context, state escrow.State) ([]*escrow.Escrow, error) {
	var rows []escrowRow
	if err := s.db.WithContext(ctx).Where("state = ?", state.String()).Order("expires_at asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*escrow.Escrow, 0, len(rows))
	for _, row := range rows {
		esc, err := decodeEscrow(row.Payload)
		if err != nil {
			return nil, err
		}
		out = append(out, esc)
	}
	return out, nil
}

// GetIdentity loads a trust record.
func (s *Store) GetIdentity(ctx context.Context, id uuid.UUID) (*reputation.Identity, error) {
	var row identityRow
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, reputation.ErrIdentityNotFound
	}
	if err != nil {
		return nil, err
	}
	ident := new(reputation.Identity)
	if err := json.Unmarshal([]byte(row.Payload), ident); err != nil {
		return nil, fmt.Errorf("sqlstore: decode identity: %w", err)
	}
	return ident, nil
}

// PutIdentity stores a trust record if its stored version is still the one
// ident was read at.
func (s *Store) PutIdentity(ctx context.Context, ident *reputation.Identity) error {
	row, err := toIdentityRow(ident)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return putIdentityRow(tx, row, ident.PriorVersion())
	})
}

// putIdentityRow updates the row at version prior, or inserts it when prior is
// zero and no row exists yet.
func putIdentityRow(tx *gorm.DB, row identityRow, prior uint64) error {
	res := tx.Model(&identityRow{}).
		Where("id = ? AND version = ?", row.ID, prior).
		Updates(map[string]any{
			"version":     row.Version,
			"trust_score": row.TrustScore,
			"payload":     row.Payload,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}
	if prior == 0 {
		res = tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			return nil
		}
	}
	return fmt.Errorf("%w: identity %s is not at version %d", escrow.ErrVersionConflict, row.ID, prior)
}

func toIdentityRow(ident *reputation.Identity) (identityRow, error) {
	if ident == nil || ident.ID == uuid.Nil {
		return identityRow{}, errors.New("sqlstore: identity id required")
	}
	payload, err := json.Marshal(ident)
	if err != nil {
		return identityRow{}, fmt.Errorf("sqlstore: encode identity: %w", err)
	}
	return identityRow{ID: ident.ID, Version: ident.Version, TrustScore: ident.TrustScore.String(), Payload: string(payload)}, nil
}

func decodeEscrow(payload string) (*escrow.Escrow, error) {
	esc := new(escrow.Escrow)
	if err := json.Unmarshal([]byte(payload), esc); err != nil {
		return nil, fmt.Errorf("sqlstore: decode escrow: %w", err)
	}
	return esc, nil
}
