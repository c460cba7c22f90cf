package repository_test

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/honeynil/payment-ledger/internal/models"
	repository "github.com/honeynil/payment-ledger/internal/repository/postgres"
	pkgerrors "github.com/honeynil/payment-ledger/pkg/errors"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestPostgresUserRepository_Create(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()
	repo := repository.NewPostgresUserRepository(db)
	ctx := context.Background()

	t.Run("NilUser", func(t *testing.T) {
		err := repo.Create(ctx, nil)
		assert.ErrorIs(t, err, pkgerrors.ErrNilUser)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("EmailAlreadyRegistered", func(t *testing.T) {
		user := &models.User{Email: "a@x.com", PasswordHash: "hash"}
		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO users`)).
			WithArgs(user.Email, user.PasswordHash).
			WillReturnError(&pq.Error{Code: "23505"})
		mock.ExpectRollback()

		err := repo.Create(ctx, user)
		assert.ErrorIs(t, err, pkgerrors.ErrEmailAlreadyRegistered)
		assert.ErrorIs(t, err, pkgerrors.ErrConflict)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Success", func(t *testing.T) {
		user := &models.User{Email: "a@x.com", PasswordHash: "hash"}
		createdAt := time.Now().UTC()
		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO users (email, password_hash) VALUES ($1, $2) RETURNING id, created_at`)).
			WithArgs(user.Email, user.PasswordHash).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(1), createdAt))
		mock.ExpectCommit()

		err := repo.Create(ctx, user)
		assert.NoError(t, err)
		assert.Equal(t, int64(1), user.ID)
		assert.Equal(t, createdAt, user.CreatedAt)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("EmptyEmail", func(t *testing.T) {
		err := repo.Create(ctx, &models.User{PasswordHash: "hash"})
		assert.ErrorIs(t, err, pkgerrors.ErrValidation)
		assert.Contains(t, err.Error(), "email is required")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("EmptyPasswordHash", func(t *testing.T) {
		err := repo.Create(ctx, &models.User{Email: "a@x.com"})
		assert.ErrorIs(t, err, pkgerrors.ErrValidation)
		assert.Contains(t, err.Error(), "password_hash is required")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("RollbackError", func(t *testing.T) {
		user := &models.User{Email: "a@x.com", PasswordHash: "hash"}
		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO users`)).
			WithArgs(user.Email, user.PasswordHash).
			WillReturnError(fmt.Errorf("database error"))
		mock.ExpectRollback().WillReturnError(fmt.Errorf("rollback error"))

		err := repo.Create(ctx, user)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "rollback failed")
		assert.Contains(t, err.Error(), "database error")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("CommitError", func(t *testing.T) {
		user := &models.User{Email: "a@x.com", PasswordHash: "hash"}
		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO users`)).
			WithArgs(user.Email, user.PasswordHash).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(1), time.Now()))
		mock.ExpectCommit().WillReturnError(fmt.Errorf("commit error"))

		err := repo.Create(ctx, user)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to commit transaction")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresUserRepository_GetByID(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()
	repo := repository.NewPostgresUserRepository(db)
	ctx := context.Background()
	query := regexp.QuoteMeta(`SELECT id, email, password_hash, created_at FROM users WHERE id = $1`)

	t.Run("Success", func(t *testing.T) {
		expected := &models.User{ID: 1, Email: "a@x.com", PasswordHash: "hash", CreatedAt: time.Now().UTC()}
		mock.ExpectQuery(query).
			WithArgs(int64(1)).
			WillReturnRows(sqlmock.NewRows([]string{"id", "email", "password_hash", "created_at"}).
				AddRow(expected.ID, expected.Email, expected.PasswordHash, expected.CreatedAt))

		user, err := repo.GetByID(ctx, 1)
		assert.NoError(t, err)
		assert.Equal(t, expected, user)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("UserNotFound", func(t *testing.T) {
		mock.ExpectQuery(query).WithArgs(int64(1)).WillReturnError(sql.ErrNoRows)

		user, err := repo.GetByID(ctx, 1)
		assert.Nil(t, user)
		assert.ErrorIs(t, err, pkgerrors.ErrUserNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("DatabaseError", func(t *testing.T) {
		mock.ExpectQuery(query).WithArgs(int64(1)).WillReturnError(fmt.Errorf("database error"))

		user, err := repo.GetByID(ctx, 1)
		assert.Nil(t, user)
		assert.Contains(t, err.Error(), "failed to get user by id")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresUserRepository_GetByEmail(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()
	repo := repository.NewPostgresUserRepository(db)
	ctx := context.Background()
	query := regexp.QuoteMeta(`SELECT id, email, password_hash, created_at FROM users WHERE email = $1`)

	t.Run("Success", func(t *testing.T) {
		expected := &models.User{ID: 1, Email: "a@x.com", PasswordHash: "hash", CreatedAt: time.Now().UTC()}
		mock.ExpectQuery(query).
			WithArgs("a@x.com").
			WillReturnRows(sqlmock.NewRows([]string{"id", "email", "password_hash", "created_at"}).
				AddRow(expected.ID, expected.Email, expected.PasswordHash, expected.CreatedAt))

		user, err := repo.GetByEmail(ctx, "a@x.com")
		assert.NoError(t, err)
		assert.Equal(t, expected, user)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("EmptyEmail", func(t *testing.T) {
		user, err := repo.GetByEmail(ctx, "")
		assert.Nil(t, user)
		assert.Contains(t, err.Error(), "email cannot be empty")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("UserNotFound", func(t *testing.T) {
		mock.ExpectQuery(query).WithArgs("b@x.com").WillReturnError(sql.ErrNoRows)

		user, err := repo.GetByEmail(ctx, "b@x.com")
		assert.Nil(t, user)
		assert.ErrorIs(t, err, pkgerrors.ErrUserNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("DatabaseError", func(t *testing.T) {
		mock.ExpectQuery(query).WithArgs("a@x.com").WillReturnError(fmt.Errorf("database error"))

		user, err := repo.GetByEmail(ctx, "a@x.com")
		assert.Nil(t, user)
		assert.Contains(t, err.Error(), "failed to get user by email")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresUserRepository_Count(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()
	repo := repository.NewPostgresUserRepository(db)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM users`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(3)))
	count, err := repo.Count(ctx)
	assert.NoError(t, err)
	assert.Equal(t, int64(3), count)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM users`)).
		WillReturnError(fmt.Errorf("database error"))
	count, err = repo.Count(ctx)
	assert.Zero(t, count)
	assert.Contains(t, err.Error(), "failed to count users")
	assert.NoError(t, mock.ExpectationsWereMet())
}
