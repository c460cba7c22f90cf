package memory

import (
	"context"
	"slices"

	"github.com/honeynil/payment-ledger/internal/models"
	pkgerrors "github.com/honeynil/payment-ledger/pkg/errors"
)

type TransactionRepository struct {
	store *Store
}

func NewTransactionRepository(store *Store) *TransactionRepository {
	return &TransactionRepository{store: store}
}

func (r *TransactionRepository) Create(ctx context.Context, tx *models.Transaction) error {
	if tx == nil {
		return pkgerrors.ErrNilTransaction
	}
	if !tx.Status.Valid() {
		return pkgerrors.ErrInvalidTransactionStatus
	}
	if tx.Amount <= 0 {
		return pkgerrors.Validationf("amount must be positive")
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.users[tx.UserID]; !ok {
		return pkgerrors.ErrUserNotFound
	}
	key := idempotencyKey{userID: tx.UserID, key: tx.IdempotencyKey}
	if _, exists := r.store.keyIndex[key]; exists {
		return pkgerrors.ErrIdempotencyConflict
	}
	r.store.lastTxID++
	tx.ID = r.store.lastTxID
	r.store.transactions[tx.ID] = cloneTransaction(*tx)
	r.store.keyIndex[key] = tx.ID
	return nil
}

func (r *TransactionRepository) GetByIdempotencyKey(ctx context.Context, userID int64, key string) (*models.Transaction, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	id, ok := r.store.keyIndex[idempotencyKey{userID: userID, key: key}]
	if !ok {
		return nil, pkgerrors.ErrTransactionNotFound
	}
	tx := cloneTransaction(r.store.transactions[id])
	return &tx, nil
}

// ListByUser orders by creation time descending; equal timestamps fall back
// to insertion order, newest first.
func (r *TransactionRepository) ListByUser(ctx context.Context, userID int64) ([]models.Transaction, error) {
	r.store.mu.RLock()
	out := make([]models.Transaction, 0)
	for _, tx := range r.store.transactions {
		if tx.UserID == userID {
			out = append(out, cloneTransaction(tx))
		}
	}
	r.store.mu.RUnlock()

	slices.SortFunc(out, func(a, b models.Transaction) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		switch {
		case a.ID > b.ID:
			return -1
		case a.ID < b.ID:
			return 1
		}
		return 0
	})
	return out, nil
}
