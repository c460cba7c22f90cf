package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	stderrors "errors"

	"github.com/go-playground/validator/v10"
	"github.com/honeynil/payment-ledger/internal/infrastructure/kafka"
	"github.com/honeynil/payment-ledger/internal/infrastructure/observability"
	"github.com/honeynil/payment-ledger/internal/models"
	"github.com/honeynil/payment-ledger/internal/repository"
	pkgerrors "github.com/honeynil/payment-ledger/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/crypto/bcrypt"
)

const (
	MinPasswordLength = 8
	// bcrypt ignores everything past 72 bytes.
	MaxPasswordBytes = 72
)

type AuthService interface {
	Register(ctx context.Context, email, password string) (*models.User, error)
	Login(ctx context.Context, email, password string) (string, error)
	Authenticate(ctx context.Context, token string) (int64, error)
	CountUsers(ctx context.Context) (int64, error)
}

// TokenManager issues and verifies access tokens.
type TokenManager interface {
	Generate(userID int64) (string, error)
	Parse(token string) (int64, error)
}

type authService struct {
	userRepo      repository.UserRepository
	tokens        TokenManager
	kafkaProducer kafka.KafkaProducer
	validate      *validator.Validate
	hashCost      int
	dummyHash     []byte
}

func NewAuthService(
	userRepo repository.UserRepository,
	tokens TokenManager,
	kafkaProducer kafka.KafkaProducer,
	hashCost int,
) (*authService, error) {
	dummyHash, err := bcrypt.GenerateFromPassword([]byte("not-a-real-password"), hashCost)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare dummy hash: %w", err)
	}
	return &authService{
		userRepo:      userRepo,
		tokens:        tokens,
		kafkaProducer: kafkaProducer,
		validate:      validator.New(),
		hashCost:      hashCost,
		dummyHash:     dummyHash,
	}, nil
}

type userRegisteredEvent struct {
	EventType string    `json:"event_type"`
	UserID    int64     `json:"user_id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *authService) Register(ctx context.Context, email, password string) (*models.User, error) {
	tracer := otel.Tracer("auth-service")
	ctx, span := tracer.Start(ctx, "Register")
	defer span.End()
	logger := observability.WithContext(ctx, "method", "Register")

	email = strings.TrimSpace(email)
	if err := s.validate.Var(email, "required,email"); err != nil {
		span.SetStatus(codes.Error, "invalid email")
		return nil, pkgerrors.Validationf("email is not a valid address")
	}
	if len(password) < MinPasswordLength {
		span.SetStatus(codes.Error, "password too short")
		return nil, pkgerrors.Validationf("password must be at least %d characters", MinPasswordLength)
	}
	if len(password) > MaxPasswordBytes {
		span.SetStatus(codes.Error, "password too long")
		return nil, pkgerrors.Validationf("password must be at most %d bytes", MaxPasswordBytes)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.hashCost)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "password hashing failed")
		logger.Error("failed to hash password", "error", err)
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		Email:        email,
		PasswordHash: string(hash),
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		if stderrors.Is(err, pkgerrors.ErrEmailAlreadyRegistered) {
			span.SetStatus(codes.Error, "email already registered")
			logger.Warn("email already registered", "email", email)
			return nil, err
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "user creation failed")
		logger.Error("failed to create user", "email", email, "error", err)
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	span.SetAttributes(attribute.Int64("user_id", user.ID))

	publishEvent(ctx, s.kafkaProducer, kafka.TopicUsers, user.ID, userRegisteredEvent{
		EventType: "user_registered",
		UserID:    user.ID,
		Email:     user.Email,
		CreatedAt: user.CreatedAt,
	})

	logger.Info("user registered", "user_id", user.ID)
	return user, nil
}

func (s *authService) Login(ctx context.Context, email, password string) (string, error) {
	tracer := otel.Tracer("auth-service")
	ctx, span := tracer.Start(ctx, "Login")
	defer span.End()
	logger := observability.WithContext(ctx, "method", "Login")

	user, err := s.userRepo.GetByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if stderrors.Is(err, pkgerrors.ErrNotFound) || stderrors.Is(err, pkgerrors.ErrValidation) {
			// Keep the unknown-email path as slow as a wrong password.
			_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
			span.SetStatus(codes.Error, "invalid credentials")
			logger.Warn("login failed")
			return "", pkgerrors.ErrInvalidCredentials
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "user lookup failed")
		logger.Error("failed to look up user", "error", err)
		return "", fmt.Errorf("failed to look up user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		span.SetStatus(codes.Error, "invalid credentials")
		logger.Warn("login failed", "user_id", user.ID)
		return "", pkgerrors.ErrInvalidCredentials
	}

	token, err := s.tokens.Generate(user.ID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "token generation failed")
		logger.Error("failed to generate JWT", "user_id", user.ID, "error", err)
		return "", fmt.Errorf("failed to generate token: %w", err)
	}

	logger.Info("user logged in", "user_id", user.ID)
	return token, nil
}

// Authenticate resolves a bearer token to the id of an existing user.
func (s *authService) Authenticate(ctx context.Context, token string) (int64, error) {
	tracer := otel.Tracer("auth-service")
	ctx, span := tracer.Start(ctx, "Authenticate")
	defer span.End()

	userID, err := s.tokens.Parse(token)
	if err != nil {
		span.SetStatus(codes.Error, "invalid token")
		return 0, fmt.Errorf("%w: %v", pkgerrors.ErrInvalidCredentials, err)
	}

	if _, err := s.userRepo.GetByID(ctx, userID); err != nil {
		span.SetStatus(codes.Error, "token subject lookup failed")
		if stderrors.Is(err, pkgerrors.ErrNotFound) {
			return 0, pkgerrors.ErrInvalidCredentials
		}
		span.RecordError(err)
		observability.WithContext(ctx, "method", "Authenticate").Error("failed to look up token subject", "user_id", userID, "error", err)
		return 0, fmt.Errorf("failed to look up user: %w", err)
	}

	span.SetAttributes(attribute.Int64("user_id", userID))
	return userID, nil
}

func (s *authService) CountUsers(ctx context.Context) (int64, error) {
	tracer := otel.Tracer("auth-service")
	ctx, span := tracer.Start(ctx, "CountUsers")
	defer span.End()

	count, err := s.userRepo.Count(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "count failed")
		return 0, err
	}
	return count, nil
}

// publishEvent sends an event synchronously with the request context.
// Failures are logged and otherwise ignored.
func publishEvent(ctx context.Context, producer kafka.KafkaProducer, topic string, key int64, event any) {
	logger := observability.WithContext(ctx, "method", "publishEvent", "topic", topic, "key", key)
	payload, err := json.Marshal(event)
	if err != nil {
		logger.Error("failed to marshal kafka event", "error", err)
		return
	}
	if err := producer.Send(ctx, topic, key, payload); err != nil {
		logger.Error("failed to publish kafka event", "error", err)
	}
}
