package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/throwlytics/backend/internal/models"
)

var (
	// ErrUserNotFound is returned when no user matches the lookup.
	ErrUserNotFound = errors.New("user not found")
	// ErrEmailTaken is returned when signing up with a registered email.
	ErrEmailTaken = errors.New("email already registered")
)

const userColumns = `id, name, email, password_hash, plan_type, monthly_token_limit, last_token_reset, created_at, updated_at`

// Repository handles user persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an auth repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	var plan string
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Password, &plan, &u.MonthlyTokenLimit, &u.LastTokenReset, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	u.PlanType = models.PlanType(plan)
	return &u, nil
}

// GetByEmail returns a user by email.
func (r *Repository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
}

// Create inserts a new FREE user.
func (r *Repository) Create(ctx context.Context, name, email, passwordHash string) (*models.User, error) {
	const q = `INSERT INTO users (name, email, password_hash, plan_type, monthly_token_limit)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + userColumns
	u, err := scanUser(r.pool.QueryRow(ctx, q, name, email, passwordHash, string(models.PlanFree), models.DefaultMonthlyTokenLimit))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}
