package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	stderrors "errors"

	"github.com/honeynil/payment-ledger/internal/conversion"
	"github.com/honeynil/payment-ledger/internal/infrastructure/kafka"
	"github.com/honeynil/payment-ledger/internal/infrastructure/observability"
	"github.com/honeynil/payment-ledger/internal/infrastructure/redis"
	"github.com/honeynil/payment-ledger/internal/models"
	"github.com/honeynil/payment-ledger/internal/repository"
	"github.com/honeynil/payment-ledger/internal/risk"
	pkgerrors "github.com/honeynil/payment-ledger/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	MaxIdempotencyKeyBytes = 255
	replayCacheTTL         = 24 * time.Hour
)

type CreateTransactionInput struct {
	Amount         float64
	SourceCurrency string
	TargetCurrency string
	IdempotencyKey string
}

type TransactionService interface {
	// CreateTransaction records a conversion once per (user, idempotency
	// key). replayed reports that an already stored record was returned.
	CreateTransaction(ctx context.Context, userID int64, in CreateTransactionInput) (tx *models.Transaction, replayed bool, err error)
	ListTransactions(ctx context.Context, userID int64) ([]models.Transaction, error)
}

type transactionService struct {
	transactionRepo repository.TransactionRepository
	resolver        *conversion.Resolver
	redisClient     redis.RedisClient
	kafkaProducer   kafka.KafkaProducer
	now             func() time.Time
}

func NewTransactionService(
	transactionRepo repository.TransactionRepository,
	resolver *conversion.Resolver,
	redisClient redis.RedisClient,
	kafkaProducer kafka.KafkaProducer,
) *transactionService {
	return &transactionService{
		transactionRepo: transactionRepo,
		resolver:        resolver,
		redisClient:     redisClient,
		kafkaProducer:   kafkaProducer,
		now:             time.Now,
	}
}

type transactionCreatedEvent struct {
	EventType       string            `json:"event_type"`
	TransactionID   int64             `json:"transaction_id"`
	UserID          int64             `json:"user_id"`
	Amount          float64           `json:"amount"`
	SourceCurrency  string            `json:"source_currency"`
	TargetCurrency  string            `json:"target_currency"`
	Rate            float64           `json:"rate"`
	ConvertedAmount float64           `json:"converted_amount"`
	Status          models.StatusType `json:"status"`
	RiskLevel       risk.Level        `json:"risk_level"`
	CreatedAt       time.Time         `json:"created_at"`
}

func (s *transactionService) CreateTransaction(ctx context.Context, userID int64, in CreateTransactionInput) (*models.Transaction, bool, error) {
	tracer := otel.Tracer("transaction-service")
	ctx, span := tracer.Start(ctx, "CreateTransaction")
	defer span.End()
	span.SetAttributes(attribute.Int64("user_id", userID), attribute.String("idempotency_key", in.IdempotencyKey))
	logger := observability.WithContext(ctx, "method", "CreateTransaction", "user_id", userID, "idempotency_key", in.IdempotencyKey)

	in, err := normalizeInput(in)
	if err != nil {
		span.SetStatus(codes.Error, "invalid input")
		logger.Warn("invalid transaction request", "error", err)
		return nil, false, err
	}

	existing, err := s.lookup(ctx, userID, in.IdempotencyKey)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "idempotency lookup failed")
		logger.Error("failed to look up idempotency key", "error", err)
		return nil, false, err
	}
	if existing != nil {
		observability.IdempotentReplays.Inc()
		span.SetAttributes(attribute.Bool("replayed", true), attribute.Int64("transaction_id", existing.ID))
		logger.Info("idempotent replay", "transaction_id", existing.ID)
		return existing, true, nil
	}

	conv := s.resolver.Convert(in.Amount, in.SourceCurrency, in.TargetCurrency)
	level := risk.Classify(in.Amount)
	tx := &models.Transaction{
		UserID:          userID,
		Amount:          in.Amount,
		SourceCurrency:  conv.Source,
		TargetCurrency:  conv.Target,
		IdempotencyKey:  in.IdempotencyKey,
		Rate:            conv.Rate,
		ConvertedAmount: conv.ConvertedAmount,
		Status:          models.StatusCompleted,
		CreatedAt:       s.now().UTC().Truncate(time.Microsecond),
	}
	hash := auditHash(tx)
	tx.AuditHash = &hash

	if err := s.transactionRepo.Create(ctx, tx); err != nil {
		if !stderrors.Is(err, pkgerrors.ErrIdempotencyConflict) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "transaction creation failed")
			logger.Error("failed to create transaction", "error", err)
			return nil, false, fmt.Errorf("failed to create transaction: %w", err)
		}

		// A concurrent request with the same key won the insert.
		winner, err := s.transactionRepo.GetByIdempotencyKey(ctx, userID, in.IdempotencyKey)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "conflict refetch failed")
			logger.Error("failed to fetch winning transaction", "error", err)
			return nil, false, fmt.Errorf("failed to fetch transaction after conflict: %w", err)
		}
		observability.IdempotentReplays.Inc()
		span.SetAttributes(attribute.Bool("replayed", true), attribute.Int64("transaction_id", winner.ID))
		logger.Info("insert lost idempotency race", "transaction_id", winner.ID)
		return winner, true, nil
	}

	observability.TransactionsCreated.WithLabelValues(string(level)).Inc()
	span.SetAttributes(
		attribute.Int64("transaction_id", tx.ID),
		attribute.String("risk_level", string(level)),
		attribute.String("rate_rationale", string(conv.Rationale)),
	)

	s.cache(ctx, tx)
	publishEvent(ctx, s.kafkaProducer, kafka.TopicTransactions, tx.ID, transactionCreatedEvent{
		EventType:       "transaction_created",
		TransactionID:   tx.ID,
		UserID:          tx.UserID,
		Amount:          tx.Amount,
		SourceCurrency:  tx.SourceCurrency,
		TargetCurrency:  tx.TargetCurrency,
		Rate:            tx.Rate,
		ConvertedAmount: tx.ConvertedAmount,
		Status:          tx.Status,
		RiskLevel:       level,
		CreatedAt:       tx.CreatedAt,
	})

	logger.Info("transaction created",
		"transaction_id", tx.ID,
		"rate", tx.Rate,
		"rate_rationale", conv.Rationale,
		"converted_amount", tx.ConvertedAmount,
		"risk_level", level)
	return tx, false, nil
}

func (s *transactionService) ListTransactions(ctx context.Context, userID int64) ([]models.Transaction, error) {
	tracer := otel.Tracer("transaction-service")
	ctx, span := tracer.Start(ctx, "ListTransactions")
	defer span.End()
	span.SetAttributes(attribute.Int64("user_id", userID))

	transactions, err := s.transactionRepo.ListByUser(ctx, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list failed")
		observability.WithContext(ctx, "method", "ListTransactions").Error("failed to list transactions", "user_id", userID, "error", err)
		return nil, err
	}
	return transactions, nil
}

func normalizeInput(in CreateTransactionInput) (CreateTransactionInput, error) {
	if math.IsNaN(in.Amount) || math.IsInf(in.Amount, 0) || in.Amount <= 0 {
		return in, pkgerrors.Validationf("amount must be a positive number")
	}
	in.SourceCurrency = conversion.NormalizeCurrency(in.SourceCurrency)
	if !conversion.ValidCurrency(in.SourceCurrency) {
		return in, pkgerrors.Validationf("source_currency must be at least 3 letters")
	}
	in.TargetCurrency = conversion.NormalizeCurrency(in.TargetCurrency)
	if !conversion.ValidCurrency(in.TargetCurrency) {
		return in, pkgerrors.Validationf("target_currency must be at least 3 letters")
	}
	if in.IdempotencyKey == "" {
		return in, pkgerrors.Validationf("idempotency_key is required")
	}
	if len(in.IdempotencyKey) > MaxIdempotencyKeyBytes {
		return in, pkgerrors.Validationf("idempotency_key must be at most %d bytes", MaxIdempotencyKeyBytes)
	}
	return in, nil
}

func replayCacheKey(userID int64, key string) string {
	return fmt.Sprintf("tx:%d:%s", userID, key)
}

// lookup returns the stored transaction for (userID, key), consulting the
// replay cache before the ledger. A nil transaction means none exists.
func (s *transactionService) lookup(ctx context.Context, userID int64, key string) (*models.Transaction, error) {
	logger := observability.WithContext(ctx, "method", "lookup", "user_id", userID)
	cacheKey := replayCacheKey(userID, key)

	cached, err := s.redisClient.Get(ctx, cacheKey)
	switch {
	case err == nil:
		var tx models.Transaction
		if err := json.Unmarshal([]byte(cached), &tx); err == nil {
			return &tx, nil
		}
		logger.Warn("discarding malformed cache entry", "key", cacheKey)
		if err := s.redisClient.Del(ctx, cacheKey); err != nil {
			logger.Warn("failed to delete cache entry", "key", cacheKey, "error", err)
		}
	case stderrors.Is(err, redis.ErrKeyNotFound):
	default:
		logger.Warn("replay cache unavailable", "key", cacheKey, "error", err)
	}

	tx, err := s.transactionRepo.GetByIdempotencyKey(ctx, userID, key)
	if stderrors.Is(err, pkgerrors.ErrTransactionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up transaction: %w", err)
	}
	s.cache(ctx, tx)
	return tx, nil
}

func (s *transactionService) cache(ctx context.Context, tx *models.Transaction) {
	payload, err := json.Marshal(tx)
	if err != nil {
		observability.WithContext(ctx, "method", "cache").Error("failed to marshal transaction", "transaction_id", tx.ID, "error", err)
		return
	}
	if err := s.redisClient.Set(ctx, replayCacheKey(tx.UserID, tx.IdempotencyKey), string(payload), replayCacheTTL); err != nil {
		observability.WithContext(ctx, "method", "cache").Warn("failed to cache transaction", "transaction_id", tx.ID, "error", err)
	}
}

// auditHash fingerprints the fields a transaction was created from.
func auditHash(tx *models.Transaction) string {
	fields := []string{
		strconv.FormatInt(tx.UserID, 10),
		strconv.FormatFloat(tx.Amount, 'f', -1, 64),
		tx.SourceCurrency,
		tx.TargetCurrency,
		tx.IdempotencyKey,
		tx.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	sum := sha256.Sum256([]byte(strings.Join(fields, "|")))
	return hex.EncodeToString(sum[:])
}
