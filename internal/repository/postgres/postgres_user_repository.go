package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/honeynil/payment-ledger/internal/models"
	pkgerrors "github.com/honeynil/payment-ledger/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

type PostgresUserRepository struct {
	db *sql.DB
}

func NewPostgresUserRepository(db *sql.DB) *PostgresUserRepository {
	return &PostgresUserRepository{db: db}
}

func (r *PostgresUserRepository) Create(ctx context.Context, user *models.User) (err error) {
	ctx, span := otel.Tracer("user-repository").Start(ctx, "CreateUser")
	defer finishCall(span, "CreateUser", time.Now(), &err)

	if user == nil {
		return pkgerrors.ErrNilUser
	}
	if user.Email == "" {
		return pkgerrors.Validationf("email is required")
	}
	if user.PasswordHash == "" {
		return pkgerrors.Validationf("password_hash is required")
	}

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	query := `INSERT INTO users (email, password_hash) VALUES ($1, $2) RETURNING id, created_at`
	err = dbTx.QueryRowContext(ctx, query, user.Email, user.PasswordHash).Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		if rbErr := dbTx.Rollback(); rbErr != nil {
			slog.Error("rollback failed", "method", "CreateUser", "error", rbErr)
			return fmt.Errorf("rollback failed: %v; original error: %w", rbErr, err)
		}
		if isUniqueViolation(err) {
			return pkgerrors.ErrEmailAlreadyRegistered
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	if err = dbTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	span.SetAttributes(attribute.Int64("user_id", user.ID))
	return nil
}

func (r *PostgresUserRepository) GetByID(ctx context.Context, id int64) (_ *models.User, err error) {
	ctx, span := otel.Tracer("user-repository").Start(ctx, "GetUserByID")
	span.SetAttributes(attribute.Int64("user_id", id))
	defer finishCall(span, "GetUserByID", time.Now(), &err)

	query := `SELECT id, email, password_hash, created_at FROM users WHERE id = $1`
	var user models.User
	err = r.db.QueryRowContext(ctx, query, id).Scan(&user.ID, &user.Email, &user.PasswordHash, &user.CreatedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, pkgerrors.ErrUserNotFound
	case err != nil:
		return nil, fmt.Errorf("failed to get user by id: %w", err)
	}
	return &user, nil
}

func (r *PostgresUserRepository) GetByEmail(ctx context.Context, email string) (_ *models.User, err error) {
	ctx, span := otel.Tracer("user-repository").Start(ctx, "GetUserByEmail")
	defer finishCall(span, "GetUserByEmail", time.Now(), &err)

	if email == "" {
		return nil, pkgerrors.Validationf("email cannot be empty")
	}

	query := `SELECT id, email, password_hash, created_at FROM users WHERE email = $1`
	var user models.User
	err = r.db.QueryRowContext(ctx, query, email).Scan(&user.ID, &user.Email, &user.PasswordHash, &user.CreatedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, pkgerrors.ErrUserNotFound
	case err != nil:
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}
	return &user, nil
}

func (r *PostgresUserRepository) Count(ctx context.Context) (_ int64, err error) {
	ctx, span := otel.Tracer("user-repository").Start(ctx, "CountUsers")
	defer finishCall(span, "CountUsers", time.Now(), &err)

	var count int64
	if err = r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return count, nil
}
