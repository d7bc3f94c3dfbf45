package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/workway/mcp-gateway/internal/model"
)

// Common errors for user repository operations.
var (
	ErrUserNotFound = errors.New("user not found")
	ErrEmailExists  = errors.New("email already exists")
)

const userColumns = `id, email, tier, runs_this_month, billing_cycle_start, created_at, updated_at`

// CreateUser inserts a new user into the database.
func (r *Repository) CreateUser(ctx context.Context, user *model.User) error {
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	if user.UpdatedAt.IsZero() {
		user.UpdatedAt = user.CreatedAt
	}
	if user.BillingCycleStart.IsZero() {
		user.BillingCycleStart = user.CreatedAt
	}
	if user.Tier == "" {
		user.Tier = model.TierFree
	}

	query := `
		INSERT INTO users (id, email, tier, runs_this_month, billing_cycle_start, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.pool.Exec(ctx, query,
		user.ID,
		user.Email,
		user.Tier,
		user.RunsThisMonth,
		user.BillingCycleStart,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrEmailExists
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

// GetUserByID retrieves a user by their ID.
func (r *Repository) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	user, err := scanUser(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user by ID: %w", err)
	}
	return user, nil
}

// GetUserByEmail retrieves a user by their email address.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`

	user, err := scanUser(r.pool.QueryRow(ctx, query, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}
	return user, nil
}

// GetUserByAccessToken resolves an externally issued access token to its user.
// Expired tokens are treated as absent.
func (r *Repository) GetUserByAccessToken(ctx context.Context, token string) (*model.User, error) {
	query := `
		SELECT u.id, u.email, u.tier, u.runs_this_month, u.billing_cycle_start, u.created_at, u.updated_at
		FROM access_tokens t
		JOIN users u ON u.id = t.user_id
		WHERE t.token = $1 AND (t.expires_at IS NULL OR t.expires_at > NOW())
	`

	user, err := scanUser(r.pool.QueryRow(ctx, query, token))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user by access token: %w", err)
	}
	return user, nil
}

// CreateAccessToken records an externally issued token for a user.
func (r *Repository) CreateAccessToken(ctx context.Context, token, userID string, expiresAt *time.Time) error {
	query := `
		INSERT INTO access_tokens (token, user_id, created_at, expires_at)
		VALUES ($1, $2, NOW(), $3)
	`

	if _, err := r.pool.Exec(ctx, query, token, userID, expiresAt); err != nil {
		return fmt.Errorf("failed to create access token: %w", err)
	}
	return nil
}

// ResetBillingCycle zeroes the run counter and restarts the cycle at now.
func (r *Repository) ResetBillingCycle(ctx context.Context, userID string, now time.Time) error {
	query := `
		UPDATE users
		SET runs_this_month = 0, billing_cycle_start = $2, updated_at = $2
		WHERE id = $1
	`

	tag, err := r.pool.Exec(ctx, query, userID, now)
	if err != nil {
		return fmt.Errorf("failed to reset billing cycle: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// IncrementRuns adds one run to the user's counter in a single statement.
func (r *Repository) IncrementRuns(ctx context.Context, userID string) error {
	query := `
		UPDATE users
		SET runs_this_month = runs_this_month + 1, updated_at = NOW()
		WHERE id = $1
	`

	tag, err := r.pool.Exec(ctx, query, userID)
	if err != nil {
		return fmt.Errorf("failed to increment runs: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func scanUser(row pgx.Row) (*model.User, error) {
	var user model.User
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.Tier,
		&user.RunsThisMonth,
		&user.BillingCycleStart,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// isUniqueViolation reports whether err is a PostgreSQL unique_violation (23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
