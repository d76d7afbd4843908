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

// ReferralRepository handles referral program persistence
type ReferralRepository struct {
	db *PostgresDB
}

// NewReferralRepository creates a new referral repository
func NewReferralRepository(db *PostgresDB) *ReferralRepository {
	return &ReferralRepository{db: db}
}

// NewReferralCode generates a short shareable referral code
func NewReferralCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:8])
}

// Create inserts a referral user row. Returns false when the address is
// already registered, in which case the existing row is left untouched.
func (r *ReferralRepository) Create(ctx context.Context, user *models.ReferralUser) (bool, error) {
	user.Address = strings.ToLower(user.Address)
	if user.ReferralCode == "" {
		user.ReferralCode = NewReferralCode()
	}

	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now

	query := `
		INSERT INTO referral_users (address, referral_code, referred_by, points, tickets_purchased, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (address) DO NOTHING
	`

	result, err := r.db.Pool().Exec(ctx, query,
		user.Address,
		user.ReferralCode,
		user.ReferredBy,
		user.Points,
		user.TicketsPurchased,
		user.CreatedAt,
		user.UpdatedAt,
	)

	if err != nil {
		return false, fmt.Errorf("failed to create referral user: %w", err)
	}

	return result.RowsAffected() > 0, nil
}

// GetByAddress retrieves a referral user by wallet address
func (r *ReferralRepository) GetByAddress(ctx context.Context, address string) (*models.ReferralUser, error) {
	query := `
		SELECT address, referral_code, referred_by, points, tickets_purchased, created_at, updated_at
		FROM referral_users
		WHERE address = $1
	`

	var user models.ReferralUser

	err := r.db.Pool().QueryRow(ctx, query, strings.ToLower(address)).Scan(
		&user.Address,
		&user.ReferralCode,
		&user.ReferredBy,
		&user.Points,
		&user.TicketsPurchased,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, referralUserNotFound(address)
		}
		return nil, fmt.Errorf("failed to get referral user: %w", err)
	}

	return &user, nil
}

// GetByCode retrieves a referral user by their referral code
func (r *ReferralRepository) GetByCode(ctx context.Context, code string) (*models.ReferralUser, error) {
	query := `
		SELECT address, referral_code, referred_by, points, tickets_purchased, created_at, updated_at
		FROM referral_users
		WHERE referral_code = $1
	`

	var user models.ReferralUser

	err := r.db.Pool().QueryRow(ctx, query, strings.ToUpper(code)).Scan(
		&user.Address,
		&user.ReferralCode,
		&user.ReferredBy,
		&user.Points,
		&user.TicketsPurchased,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, referralUserNotFound(code)
		}
		return nil, fmt.Errorf("failed to get referral user by code: %w", err)
	}

	return &user, nil
}

// CreditPurchase credits a buyer with tickets and points, and their referrer
// with the bonus, in a single transaction. Buyers without a row or without a
// referrer are handled gracefully: the buyer update is skipped silently only
// if the row is missing, and the bonus update matches zero rows when there is
// no referrer.
func (r *ReferralRepository) CreditPurchase(ctx context.Context, address string, tickets, points, referrerBonus int64) error {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	address = strings.ToLower(address)
	now := time.Now()

	buyerQuery := `
		UPDATE referral_users
		SET points = points + $2, tickets_purchased = tickets_purchased + $3, updated_at = $4
		WHERE address = $1
	`

	if _, err := tx.Exec(ctx, buyerQuery, address, points, tickets, now); err != nil {
		return fmt.Errorf("failed to credit buyer: %w", err)
	}

	if referrerBonus > 0 {
		referrerQuery := `
			UPDATE referral_users
			SET points = points + $2, updated_at = $3
			WHERE address = (SELECT referred_by FROM referral_users WHERE address = $1)
		`

		if _, err := tx.Exec(ctx, referrerQuery, address, referrerBonus, now); err != nil {
			return fmt.Errorf("failed to credit referrer: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit purchase credit: %w", err)
	}

	return nil
}

// Leaderboard returns the top referral users ordered by points
func (r *ReferralRepository) Leaderboard(ctx context.Context, limit int) ([]*models.ReferralUser, error) {
	if limit <= 0 {
		limit = 10
	}

	query := `
		SELECT address, referral_code, referred_by, points, tickets_purchased, created_at, updated_at
		FROM referral_users
		ORDER BY points DESC, tickets_purchased DESC, address ASC
		LIMIT $1
	`

	rows, err := r.db.Pool().Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query leaderboard: %w", err)
	}
	defer rows.Close()

	var users []*models.ReferralUser
	for rows.Next() {
		var user models.ReferralUser
		err := rows.Scan(
			&user.Address,
			&user.ReferralCode,
			&user.ReferredBy,
			&user.Points,
			&user.TicketsPurchased,
			&user.CreatedAt,
			&user.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan referral user: %w", err)
		}
		users = append(users, &user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating leaderboard: %w", err)
	}

	return users, nil
}

// Count returns the total number of referral users
func (r *ReferralRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	query := `SELECT COUNT(*) FROM referral_users`

	err := r.db.Pool().QueryRow(ctx, query).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count referral users: %w", err)
	}

	return count, nil
}

func referralUserNotFound(key string) error {
	return &types.ServiceError{
		Code:    "USER_NOT_FOUND",
		Message: fmt.Sprintf("referral user not found: %s", key),
		Details: map[string]interface{}{
			"key": key,
		},
	}
}
