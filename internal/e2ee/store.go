package e2ee

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/wolfman30/clinic-booking-platform/internal/apperr"
	"github.com/wolfman30/clinic-booking-platform/internal/identity"
)

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store keeps one key bundle per user.
type Store struct {
	db DB
}

func NewStore(db DB) *Store {
	if db == nil {
		panic("e2ee: db required")
	}
	return &Store{db: db}
}

const bundleColumns = `user_id, registration_id, identity_key, signed_pre_key, pre_keys, created_at, updated_at`

func scanBundle(row pgx.Row) (*Bundle, error) {
	var (
		b       Bundle
		signed  []byte
		preKeys []byte
	)
	if err := row.Scan(&b.UserID, &b.RegistrationID, &b.IdentityKey, &signed, &preKeys, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(signed, &b.SignedPreKey); err != nil {
		return nil, fmt.Errorf("decode signed prekey: %w", err)
	}
	b.PreKeys = []PreKey{}
	if len(preKeys) > 0 {
		if err := json.Unmarshal(preKeys, &b.PreKeys); err != nil {
			return nil, fmt.Errorf("decode prekeys: %w", err)
		}
	}
	return &b, nil
}

// Upsert replaces the user's bundle wholesale.
func (s *Store) Upsert(ctx context.Context, b *Bundle) (*Bundle, error) {
	signed, err := json.Marshal(b.SignedPreKey)
	if err != nil {
		return nil, fmt.Errorf("e2ee: encode signed prekey: %w", err)
	}
	preKeys := b.PreKeys
	if preKeys == nil {
		preKeys = []PreKey{}
	}
	encoded, err := json.Marshal(preKeys)
	if err != nil {
		return nil, fmt.Errorf("e2ee: encode prekeys: %w", err)
	}
	query := `
		INSERT INTO key_bundles (user_id, registration_id, identity_key, signed_pre_key, pre_keys)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE SET
			registration_id = EXCLUDED.registration_id,
			identity_key = EXCLUDED.identity_key,
			signed_pre_key = EXCLUDED.signed_pre_key,
			pre_keys = EXCLUDED.pre_keys,
			updated_at = now()
		RETURNING ` + bundleColumns
	saved, err := scanBundle(s.db.QueryRow(ctx, query, b.UserID, b.RegistrationID, b.IdentityKey, signed, encoded))
	if err != nil {
		return nil, fmt.Errorf("e2ee: upsert bundle: %w", err)
	}
	return saved, nil
}

// Get loads the bundle a user published.
func (s *Store) Get(ctx context.Context, userID string) (*Bundle, error) {
	b, err := scanBundle(s.db.QueryRow(ctx, `SELECT `+bundleColumns+` FROM key_bundles WHERE user_id = $1`, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("key bundle not found")
		}
		return nil, fmt.Errorf("e2ee: get bundle: %w", err)
	}
	return b, nil
}

// PeerUserID maps a doctor or patient profile onto its owning user.
func (s *Store) PeerUserID(ctx context.Context, role identity.Role, profileID uuid.UUID) (string, error) {
	var query string
	switch role {
	case identity.RoleDoctor:
		query = `SELECT user_id FROM doctors WHERE id = $1`
	case identity.RolePatient:
		query = `SELECT user_id FROM patients WHERE id = $1`
	default:
		return "", apperr.Invalid("valid role is required")
	}
	var userID string
	if err := s.db.QueryRow(ctx, query, profileID).Scan(&userID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", apperr.NotFound("user not found")
		}
		return "", fmt.Errorf("e2ee: resolve peer: %w", err)
	}
	if userID == "" {
		return "", apperr.NotFound("user not found")
	}
	return userID, nil
}
