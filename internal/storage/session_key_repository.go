package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alpaca-lotto/internal/models"
	"github.com/alpaca-lotto/internal/types"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// SessionKeyRepository handles session key persistence
type SessionKeyRepository struct {
	db *PostgresDB
}

// NewSessionKeyRepository creates a new session key repository
func NewSessionKeyRepository(db *PostgresDB) *SessionKeyRepository {
	return &SessionKeyRepository{db: db}
}

// Create inserts a new session key row
func (r *SessionKeyRepository) Create(ctx context.Context, key *models.SessionKey) error {
	if key.ID == "" {
		key.ID = uuid.New().String()
	}
	key.Owner = strings.ToLower(key.Owner)

	query := `
		INSERT INTO session_keys (id, owner_address, duration_seconds, created_at, expires_at, revoked, revoked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.Pool().Exec(ctx, query,
		key.ID,
		key.Owner,
		key.Duration,
		key.CreatedAt,
		key.ExpiresAt,
		key.Revoked,
		key.RevokedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create session key: %w", err)
	}

	return nil
}

// GetByID retrieves a session key by ID
func (r *SessionKeyRepository) GetByID(ctx context.Context, id string) (*models.SessionKey, error) {
	query := `
		SELECT id, owner_address, duration_seconds, created_at, expires_at, revoked, revoked_at
		FROM session_keys
		WHERE id = $1
	`

	var key models.SessionKey

	err := r.db.Pool().QueryRow(ctx, query, id).Scan(
		&key.ID,
		&key.Owner,
		&key.Duration,
		&key.CreatedAt,
		&key.ExpiresAt,
		&key.Revoked,
		&key.RevokedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sessionKeyNotFound(id)
		}
		return nil, fmt.Errorf("failed to get session key: %w", err)
	}

	return &key, nil
}

// ListByOwner retrieves all session keys for an owner address, newest first
func (r *SessionKeyRepository) ListByOwner(ctx context.Context, owner string) ([]*models.SessionKey, error) {
	query := `
		SELECT id, owner_address, duration_seconds, created_at, expires_at, revoked, revoked_at
		FROM session_keys
		WHERE owner_address = $1
		ORDER BY created_at DESC
	`

	rows, err := r.db.Pool().Query(ctx, query, strings.ToLower(owner))
	if err != nil {
		return nil, fmt.Errorf("failed to list session keys: %w", err)
	}
	defer rows.Close()

	var keys []*models.SessionKey
	for rows.Next() {
		var key models.SessionKey
		err := rows.Scan(
			&key.ID,
			&key.Owner,
			&key.Duration,
			&key.CreatedAt,
			&key.ExpiresAt,
			&key.Revoked,
			&key.RevokedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session key: %w", err)
		}
		keys = append(keys, &key)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating session keys: %w", err)
	}

	return keys, nil
}

// Revoke marks a session key as revoked. Revoking an already revoked key is a
// no-op so the operation stays idempotent.
func (r *SessionKeyRepository) Revoke(ctx context.Context, id string, at time.Time) error {
	query := `
		UPDATE session_keys
		SET revoked = TRUE, revoked_at = $2
		WHERE id = $1 AND revoked = FALSE
	`

	result, err := r.db.Pool().Exec(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("failed to revoke session key: %w", err)
	}

	if result.RowsAffected() == 0 {
		// Either the key does not exist or it was already revoked. Only the
		// former is an error.
		exists, err := r.Exists(ctx, id)
		if err != nil {
			return err
		}
		if !exists {
			return sessionKeyNotFound(id)
		}
	}

	return nil
}

// Exists checks if a session key exists by ID
func (r *SessionKeyRepository) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM session_keys WHERE id = $1)`

	err := r.db.Pool().QueryRow(ctx, query, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check session key existence: %w", err)
	}

	return exists, nil
}

// ListExpiringWithin returns non-revoked keys whose expiry falls inside
// [now, now+window). The sweeper uses this to surface expiring-soon warnings.
func (r *SessionKeyRepository) ListExpiringWithin(ctx context.Context, now time.Time, window time.Duration) ([]*models.SessionKey, error) {
	query := `
		SELECT id, owner_address, duration_seconds, created_at, expires_at, revoked, revoked_at
		FROM session_keys
		WHERE revoked = FALSE AND expires_at > $1 AND expires_at <= $2
		ORDER BY expires_at ASC
	`

	rows, err := r.db.Pool().Query(ctx, query, now, now.Add(window))
	if err != nil {
		return nil, fmt.Errorf("failed to list expiring session keys: %w", err)
	}
	defer rows.Close()

	var keys []*models.SessionKey
	for rows.Next() {
		var key models.SessionKey
		err := rows.Scan(
			&key.ID,
			&key.Owner,
			&key.Duration,
			&key.CreatedAt,
			&key.ExpiresAt,
			&key.Revoked,
			&key.RevokedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session key: %w", err)
		}
		keys = append(keys, &key)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating session keys: %w", err)
	}

	return keys, nil
}

// CountActive returns the number of keys that are neither revoked nor expired
// at the given instant. Feeds the active session key gauge.
func (r *SessionKeyRepository) CountActive(ctx context.Context, now time.Time) (int64, error) {
	var count int64
	query := `SELECT COUNT(*) FROM session_keys WHERE revoked = FALSE AND expires_at > $1`

	err := r.db.Pool().QueryRow(ctx, query, now).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count active session keys: %w", err)
	}

	return count, nil
}

// DeleteExpiredBefore prunes keys whose expiry passed before the cutoff.
// Revoked keys past the cutoff are pruned as well.
func (r *SessionKeyRepository) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM session_keys WHERE expires_at < $1`

	result, err := r.db.Pool().Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune expired session keys: %w", err)
	}

	return result.RowsAffected(), nil
}

func sessionKeyNotFound(id string) error {
	return &types.ServiceError{
		Code:    "SESSION_KEY_NOT_FOUND",
		Message: fmt.Sprintf("session key not found: %s", id),
		Details: map[string]interface{}{
			"session_key_id": id,
		},
	}
}
