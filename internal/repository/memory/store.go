// Package memory keeps the ledger in process memory. It honours the same
// uniqueness and ordering rules as the Postgres repositories and backs
// STORAGE_DRIVER=memory as well as the service and HTTP tests.
package memory

import (
	"sync"

	"github.com/honeynil/payment-ledger/internal/models"
)

type idempotencyKey struct {
	userID int64
	key    string
}

// Store is a thread-safe in-memory store shared by the user and transaction
// repositories.
type Store struct {
	mu           sync.RWMutex
	users        map[int64]models.User
	emailIndex   map[string]int64
	transactions map[int64]models.Transaction
	keyIndex     map[idempotencyKey]int64
	lastUserID   int64
	lastTxID     int64
}

func NewStore() *Store {
	return &Store{
		users:        make(map[int64]models.User),
		emailIndex:   make(map[string]int64),
		transactions: make(map[int64]models.Transaction),
		keyIndex:     make(map[idempotencyKey]int64),
	}
}

func cloneTransaction(tx models.Transaction) models.Transaction {
	if tx.AuditHash != nil {
		hash := *tx.AuditHash
		tx.AuditHash = &hash
	}
	return tx
}
