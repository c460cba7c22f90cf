package models

import "time"

type Transaction struct {
	ID              int64      `json:"id"`
	UserID          int64      `json:"user_id"`
	Amount          float64    `json:"amount"`
	SourceCurrency  string     `json:"source_currency"`
	TargetCurrency  string     `json:"target_currency"`
	IdempotencyKey  string     `json:"idempotency_key"`
	Rate            float64    `json:"rate"`
	ConvertedAmount float64    `json:"converted_amount"`
	Status          StatusType `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
	AuditHash       *string    `json:"audit_hash"`
}

type StatusType string

// Only StatusCompleted is produced today; pending and failed are reserved
// for an asynchronous settlement path.
const (
	StatusPending   StatusType = "PENDING"
	StatusCompleted StatusType = "COMPLETED"
	StatusFailed    StatusType = "FAILED"
)

func (s StatusType) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusFailed:
		return true
	}
	return false
}
