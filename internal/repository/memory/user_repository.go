package memory

import (
	"context"
	"time"

	"github.com/honeynil/payment-ledger/internal/models"
	pkgerrors "github.com/honeynil/payment-ledger/pkg/errors"
)

type UserRepository struct {
	store *Store
}

func NewUserRepository(store *Store) *UserRepository {
	return &UserRepository{store: store}
}

func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	if user == nil {
		return pkgerrors.ErrNilUser
	}
	if user.Email == "" {
		return pkgerrors.Validationf("email is required")
	}
	if user.PasswordHash == "" {
		return pkgerrors.Validationf("password_hash is required")
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, exists := r.store.emailIndex[user.Email]; exists {
		return pkgerrors.ErrEmailAlreadyRegistered
	}
	r.store.lastUserID++
	user.ID = r.store.lastUserID
	user.CreatedAt = time.Now().UTC()
	r.store.users[user.ID] = *user
	r.store.emailIndex[user.Email] = user.ID
	return nil
}

func (r *UserRepository) GetByID(ctx context.Context, id int64) (*models.User, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	user, ok := r.store.users[id]
	if !ok {
		return nil, pkgerrors.ErrUserNotFound
	}
	return &user, nil
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	if email == "" {
		return nil, pkgerrors.Validationf("email cannot be empty")
	}
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	id, ok := r.store.emailIndex[email]
	if !ok {
		return nil, pkgerrors.ErrUserNotFound
	}
	user := r.store.users[id]
	return &user, nil
}

func (r *UserRepository) Count(ctx context.Context) (int64, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	return int64(len(r.store.users)), nil
}
