package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/honeynil/payment-ledger/internal/conversion"
	kafkamocks "github.com/honeynil/payment-ledger/internal/infrastructure/kafka/mocks"
	"github.com/honeynil/payment-ledger/internal/infrastructure/redis"
	redismocks "github.com/honeynil/payment-ledger/internal/infrastructure/redis/mocks"
	"github.com/honeynil/payment-ledger/internal/models"
	"github.com/honeynil/payment-ledger/internal/repository/memory"
	repositorymocks "github.com/honeynil/payment-ledger/internal/repository/mocks"
	pkgerrors "github.com/honeynil/payment-ledger/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 1, 2, 3, 4, 5, 123456789, time.UTC)

// newMemoryLedger returns a transaction repository with one registered user.
func newMemoryLedger(t *testing.T) (*memory.TransactionRepository, int64) {
	t.Helper()
	store := memory.NewStore()
	user := &models.User{Email: "alice@example.com", PasswordHash: "hash"}
	require.NoError(t, memory.NewUserRepository(store).Create(context.Background(), user))
	return memory.NewTransactionRepository(store), user.ID
}

func TestTransactionService_CreateAndReplay(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	ctx := context.Background()
	txRepo, userID := newMemoryLedger(t)
	kafkaProducer := kafkamocks.NewMockKafkaProducer(ctrl)
	svc := NewTransactionService(txRepo, conversion.NewResolver(conversion.DefaultTable()), redis.NopClient{}, kafkaProducer)
	svc.now = func() time.Time { return fixedNow }

	kafkaProducer.EXPECT().Send(gomock.Any(), "transactions", int64(1), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, _ int64, value []byte) error {
			var event map[string]any
			require.NoError(t, json.Unmarshal(value, &event))
			assert.Equal(t, "transaction_created", event["event_type"])
			assert.Equal(t, "LOW", event["risk_level"])
			return nil
		}).Times(1)

	created, replayed, err := svc.CreateTransaction(ctx, userID, CreateTransactionInput{
		Amount:         100,
		SourceCurrency: " usd",
		TargetCurrency: "eur ",
		IdempotencyKey: "key-1",
	})
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Equal(t, int64(1), created.ID)
	assert.Equal(t, "USD", created.SourceCurrency)
	assert.Equal(t, "EUR", created.TargetCurrency)
	assert.Equal(t, 0.9, created.Rate)
	assert.Equal(t, 90.0, created.ConvertedAmount)
	assert.Equal(t, models.StatusCompleted, created.Status)
	assert.Equal(t, fixedNow.Truncate(time.Microsecond), created.CreatedAt)
	require.NotNil(t, created.AuditHash)
	assert.Len(t, *created.AuditHash, 64)

	replay, replayed, err := svc.CreateTransaction(ctx, userID, CreateTransactionInput{
		Amount:         500,
		SourceCurrency: "USD",
		TargetCurrency: "BTC",
		IdempotencyKey: "key-1",
	})
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, created, replay)

	list, err := svc.ListTransactions(ctx, userID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 100.0, list[0].Amount)
}

func TestTransactionService_ConcurrentSameKey(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	ctx := context.Background()
	txRepo, userID := newMemoryLedger(t)
	kafkaProducer := kafkamocks.NewMockKafkaProducer(ctrl)
	kafkaProducer.EXPECT().Send(gomock.Any(), "transactions", gomock.Any(), gomock.Any()).Return(nil).Times(1)
	svc := NewTransactionService(txRepo, conversion.NewResolver(conversion.DefaultTable()), redis.NopClient{}, kafkaProducer)

	const n = 20
	var (
		wg      sync.WaitGroup
		results = make([]*models.Transaction, n)
		fresh   = make([]bool, n)
		errs    = make([]error, n)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tx, replayed, err := svc.CreateTransaction(ctx, userID, CreateTransactionInput{
				Amount:         float64(10 + i),
				SourceCurrency: "USD",
				TargetCurrency: "EUR",
				IdempotencyKey: "same-key",
			})
			results[i], fresh[i], errs[i] = tx, !replayed, err
		}(i)
	}
	wg.Wait()

	created := 0
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0].ID, results[i].ID)
		assert.Equal(t, results[0].Amount, results[i].Amount)
		if fresh[i] {
			created++
		}
	}
	assert.Equal(t, 1, created)

	list, err := svc.ListTransactions(ctx, userID)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestTransactionService_ConflictRefetch(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	ctx := context.Background()
	txRepo := repositorymocks.NewMockTransactionRepository(ctrl)
	redisClient := redismocks.NewMockRedisClient(ctrl)
	kafkaProducer := kafkamocks.NewMockKafkaProducer(ctrl)
	svc := NewTransactionService(txRepo, conversion.NewResolver(conversion.DefaultTable()), redisClient, kafkaProducer)

	winner := &models.Transaction{ID: 5, UserID: 1, Amount: 42, SourceCurrency: "USD", TargetCurrency: "EUR", IdempotencyKey: "k", Status: models.StatusCompleted}

	gomock.InOrder(
		redisClient.EXPECT().Get(gomock.Any(), "tx:1:k").Return("", redis.ErrKeyNotFound),
		txRepo.EXPECT().GetByIdempotencyKey(gomock.Any(), int64(1), "k").Return(nil, pkgerrors.ErrTransactionNotFound),
		txRepo.EXPECT().Create(gomock.Any(), gomock.Any()).Return(pkgerrors.ErrIdempotencyConflict),
		txRepo.EXPECT().GetByIdempotencyKey(gomock.Any(), int64(1), "k").Return(winner, nil),
	)

	tx, replayed, err := svc.CreateTransaction(ctx, 1, CreateTransactionInput{Amount: 100, SourceCurrency: "USD", TargetCurrency: "EUR", IdempotencyKey: "k"})
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, winner, tx)
}

func TestTransactionService_CacheHit(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	txRepo := repositorymocks.NewMockTransactionRepository(ctrl)
	redisClient := redismocks.NewMockRedisClient(ctrl)
	svc := NewTransactionService(txRepo, conversion.NewResolver(conversion.DefaultTable()), redisClient, kafkamocks.NewMockKafkaProducer(ctrl))

	cached := models.Transaction{ID: 9, UserID: 1, Amount: 10, SourceCurrency: "USD", TargetCurrency: "EUR", IdempotencyKey: "k", Rate: 0.9, ConvertedAmount: 9, Status: models.StatusCompleted, CreatedAt: fixedNow}
	payload, err := json.Marshal(cached)
	require.NoError(t, err)
	redisClient.EXPECT().Get(gomock.Any(), "tx:1:k").Return(string(payload), nil)

	tx, replayed, err := svc.CreateTransaction(context.Background(), 1, CreateTransactionInput{Amount: 999, SourceCurrency: "USD", TargetCurrency: "EUR", IdempotencyKey: "k"})
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, int64(9), tx.ID)
	assert.Equal(t, 10.0, tx.Amount)
}

func TestTransactionService_CacheFailureFallsBackToLedger(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	txRepo := repositorymocks.NewMockTransactionRepository(ctrl)
	redisClient := redismocks.NewMockRedisClient(ctrl)
	kafkaProducer := kafkamocks.NewMockKafkaProducer(ctrl)
	svc := NewTransactionService(txRepo, conversion.NewResolver(conversion.DefaultTable()), redisClient, kafkaProducer)

	redisClient.EXPECT().Get(gomock.Any(), "tx:1:k").Return("", errors.New("redis down"))
	txRepo.EXPECT().GetByIdempotencyKey(gomock.Any(), int64(1), "k").Return(nil, pkgerrors.ErrTransactionNotFound)
	txRepo.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, tx *models.Transaction) error {
		tx.ID = 3
		return nil
	})
	redisClient.EXPECT().Set(gomock.Any(), "tx:1:k", gomock.Any(), 24*time.Hour).Return(errors.New("redis down"))
	kafkaProducer.EXPECT().Send(gomock.Any(), "transactions", int64(3), gomock.Any()).Return(errors.New("broker down"))

	tx, replayed, err := svc.CreateTransaction(context.Background(), 1, CreateTransactionInput{Amount: 15000, SourceCurrency: "USD", TargetCurrency: "JPY", IdempotencyKey: "k"})
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Equal(t, int64(3), tx.ID)
	assert.Equal(t, conversion.FallbackRate, tx.Rate)
	assert.Equal(t, 15000.0, tx.ConvertedAmount)
}

func TestTransactionService_StorageFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	txRepo := repositorymocks.NewMockTransactionRepository(ctrl)
	svc := NewTransactionService(txRepo, conversion.NewResolver(conversion.DefaultTable()), redis.NopClient{}, kafkamocks.NewMockKafkaProducer(ctrl))

	dbErr := errors.New("connection reset")
	txRepo.EXPECT().GetByIdempotencyKey(gomock.Any(), int64(1), "k").Return(nil, pkgerrors.ErrTransactionNotFound)
	txRepo.EXPECT().Create(gomock.Any(), gomock.Any()).Return(dbErr)

	_, _, err := svc.CreateTransaction(context.Background(), 1, CreateTransactionInput{Amount: 1, SourceCurrency: "USD", TargetCurrency: "EUR", IdempotencyKey: "k"})
	assert.ErrorIs(t, err, dbErr)
	assert.NotErrorIs(t, err, pkgerrors.ErrConflict)
}

func TestTransactionService_Validation(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	svc := NewTransactionService(
		repositorymocks.NewMockTransactionRepository(ctrl),
		conversion.NewResolver(conversion.DefaultTable()),
		redismocks.NewMockRedisClient(ctrl),
		kafkamocks.NewMockKafkaProducer(ctrl),
	)

	valid := CreateTransactionInput{Amount: 10, SourceCurrency: "USD", TargetCurrency: "EUR", IdempotencyKey: "k"}
	tests := []struct {
		name   string
		mutate func(*CreateTransactionInput)
	}{
		{"zero amount", func(in *CreateTransactionInput) { in.Amount = 0 }},
		{"negative amount", func(in *CreateTransactionInput) { in.Amount = -5 }},
		{"short source currency", func(in *CreateTransactionInput) { in.SourceCurrency = "US" }},
		{"non-letter target currency", func(in *CreateTransactionInput) { in.TargetCurrency = "EU1" }},
		{"empty idempotency key", func(in *CreateTransactionInput) { in.IdempotencyKey = "" }},
		{"oversized idempotency key", func(in *CreateTransactionInput) { in.IdempotencyKey = strings.Repeat("k", MaxIdempotencyKeyBytes+1) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := valid
			tt.mutate(&in)
			_, _, err := svc.CreateTransaction(context.Background(), 1, in)
			assert.ErrorIs(t, err, pkgerrors.ErrValidation)
		})
	}
}

func TestAuditHash(t *testing.T) {
	tx := &models.Transaction{
		UserID:         7,
		Amount:         100,
		SourceCurrency: "USD",
		TargetCurrency: "EUR",
		IdempotencyKey: "key-1",
		CreatedAt:      time.Date(2026, 1, 2, 3, 4, 5, 123456000, time.UTC),
	}
	assert.Equal(t, "cd2409a10ef2a65a0fd610178fbef30956caea1f79bf7ce0faa07495c95e15aa", auditHash(tx))

	other := *tx
	other.Amount = 100.5
	assert.NotEqual(t, auditHash(tx), auditHash(&other))
}
