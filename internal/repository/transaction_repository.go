package repository

import (
	"context"

	"github.com/honeynil/payment-ledger/internal/models"
)

//go:generate mockgen -source=transaction_repository.go -destination=mocks/transaction_repository_mock.go -package=mocks

// TransactionRepository stores ledger transactions. Create must fail with an
// error matching pkg/errors.ErrIdempotencyConflict when a record with the
// same (user_id, idempotency_key) already exists.
type TransactionRepository interface {
	Create(ctx context.Context, tx *models.Transaction) error
	GetByIdempotencyKey(ctx context.Context, userID int64, key string) (*models.Transaction, error)
	ListByUser(ctx context.Context, userID int64) ([]models.Transaction, error)
}
