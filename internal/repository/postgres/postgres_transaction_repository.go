package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/honeynil/payment-ledger/internal/models"
	pkgerrors "github.com/honeynil/payment-ledger/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

const transactionColumns = `id, user_id, amount, source_currency, target_currency, idempotency_key, rate, converted_amount, status, created_at, audit_hash`

type PostgresTransactionRepository struct {
	db *sql.DB
}

func NewPostgresTransactionRepository(db *sql.DB) *PostgresTransactionRepository {
	return &PostgresTransactionRepository{db: db}
}

// Create inserts tx and fills its ID. A row already holding the same
// (user_id, idempotency_key) makes the insert a no-op and the call returns
// ErrIdempotencyConflict.
func (r *PostgresTransactionRepository) Create(ctx context.Context, tx *models.Transaction) (err error) {
	ctx, span := otel.Tracer("transaction-repository").Start(ctx, "CreateTransaction")
	defer finishCall(span, "CreateTransaction", time.Now(), &err)

	if tx == nil {
		err = pkgerrors.ErrNilTransaction
		slog.Error("failed to create transaction", "method", "Create", "error", err)
		return err
	}

	if !tx.Status.Valid() {
		err = pkgerrors.ErrInvalidTransactionStatus
		slog.Error("invalid transaction status", "method", "Create", "status", tx.Status, "error", err)
		return err
	}

	if tx.Amount <= 0 {
		err = pkgerrors.Validationf("amount must be positive")
		slog.Error("amount must be positive", "method", "Create", "amount", tx.Amount, "error", err)
		return err
	}

	span.SetAttributes(
		attribute.Int64("user_id", tx.UserID),
		attribute.String("idempotency_key", tx.IdempotencyKey),
		attribute.Float64("amount", tx.Amount),
		attribute.String("source_currency", tx.SourceCurrency),
		attribute.String("target_currency", tx.TargetCurrency),
		attribute.String("status", string(tx.Status)),
	)

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Error("failed to begin transaction", "method", "Create", "error", err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	query := `INSERT INTO transactions (user_id, amount, source_currency, target_currency, idempotency_key, rate, converted_amount, status, created_at, audit_hash) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) ON CONFLICT (user_id, idempotency_key) DO NOTHING RETURNING id`
	var txID int64
	err = dbTx.QueryRowContext(ctx, query,
		tx.UserID, tx.Amount, tx.SourceCurrency, tx.TargetCurrency, tx.IdempotencyKey,
		tx.Rate, tx.ConvertedAmount, tx.Status, tx.CreatedAt, tx.AuditHash,
	).Scan(&txID)
	if err != nil {
		if rbErr := dbTx.Rollback(); rbErr != nil {
			slog.Error("rollback failed", "method", "Create", "error", rbErr)
			return fmt.Errorf("rollback failed: %v; original error: %w", rbErr, err)
		}
		if stderrors.Is(err, sql.ErrNoRows) || isUniqueViolation(err) {
			slog.Warn("idempotency key already used", "method", "Create", "user_id", tx.UserID, "idempotency_key", tx.IdempotencyKey)
			return pkgerrors.ErrIdempotencyConflict
		}
		slog.Error("failed to create transaction", "method", "Create", "user_id", tx.UserID, "idempotency_key", tx.IdempotencyKey, "error", err)
		return fmt.Errorf("failed to create transaction: %w", err)
	}

	if err = dbTx.Commit(); err != nil {
		slog.Error("failed to commit transaction", "method", "Create", "error", err)
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	tx.ID = txID
	slog.Info("transaction created", "method", "Create", "id", tx.ID, "user_id", tx.UserID, "idempotency_key", tx.IdempotencyKey, "status", tx.Status)
	return nil
}

func (r *PostgresTransactionRepository) GetByIdempotencyKey(ctx context.Context, userID int64, key string) (_ *models.Transaction, err error) {
	ctx, span := otel.Tracer("transaction-repository").Start(ctx, "GetTransactionByIdempotencyKey")
	span.SetAttributes(attribute.Int64("user_id", userID), attribute.String("idempotency_key", key))
	defer finishCall(span, "GetTransactionByIdempotencyKey", time.Now(), &err)

	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE user_id = $1 AND idempotency_key = $2`
	tx, err := scanTransaction(r.db.QueryRowContext(ctx, query, userID, key))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrTransactionNotFound
	}
	if err != nil {
		slog.Error("failed to get transaction by idempotency key", "method", "GetByIdempotencyKey", "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to get transaction by idempotency key: %w", err)
	}

	slog.Debug("transaction retrieved", "method", "GetByIdempotencyKey", "transaction_id", tx.ID, "user_id", userID)
	return tx, nil
}

// ListByUser returns the user's transactions, newest first. Rows created at
// the same instant keep their insertion order (higher id first).
func (r *PostgresTransactionRepository) ListByUser(ctx context.Context, userID int64) (_ []models.Transaction, err error) {
	ctx, span := otel.Tracer("transaction-repository").Start(ctx, "ListTransactionsByUser")
	span.SetAttributes(attribute.Int64("user_id", userID))
	defer finishCall(span, "ListTransactionsByUser", time.Now(), &err)

	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE user_id = $1 ORDER BY created_at DESC, id DESC`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		slog.Error("failed to list transactions", "method", "ListByUser", "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	transactions := make([]models.Transaction, 0)
	for rows.Next() {
		tx, scanErr := scanTransaction(rows)
		if scanErr != nil {
			err = scanErr
			slog.Error("failed to scan transaction", "method", "ListByUser", "user_id", userID, "error", err)
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		transactions = append(transactions, *tx)
	}
	if err = rows.Err(); err != nil {
		slog.Error("failed to iterate transactions", "method", "ListByUser", "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}

	slog.Info("transaction history retrieved", "method", "ListByUser", "user_id", userID, "count", len(transactions))
	return transactions, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*models.Transaction, error) {
	var (
		tx        models.Transaction
		auditHash sql.NullString
	)
	err := row.Scan(
		&tx.ID,
		&tx.UserID,
		&tx.Amount,
		&tx.SourceCurrency,
		&tx.TargetCurrency,
		&tx.IdempotencyKey,
		&tx.Rate,
		&tx.ConvertedAmount,
		&tx.Status,
		&tx.CreatedAt,
		&auditHash,
	)
	if err != nil {
		return nil, err
	}
	if auditHash.Valid {
		tx.AuditHash = &auditHash.String
	}
	return &tx, nil
}
