package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/arraniry/storepay/internal/apperrors"
	"github.com/arraniry/storepay/internal/models"
)

type UserRepo struct {
	DB DBTX
}

const upsertUser = `-- name: UpsertUser
INSERT INTO users (id, telegram_id, username, first_name, last_name)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (telegram_id) DO UPDATE
SET username = EXCLUDED.username, first_name = EXCLUDED.first_name, last_name = EXCLUDED.last_name
RETURNING id, created_at, telegram_id, username, first_name, last_name, balance, is_admin
`

func (r *UserRepo) UpsertUser(ctx context.Context, telegramID int64, username string, firstName string, lastName string) (models.User, error) {
	rows, _ := r.DB.Query(ctx, upsertUser, uuid.New(), telegramID, username, firstName, lastName)
	user, err := pgx.CollectOneRow(rows, rowToUser)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgerrcode.IsIntegrityConstraintViolation(pgErr.Code) {
			return user, apperrors.ErrUserAlreadyExists
		}
		return user, fmt.Errorf("db error: %w", err)
	}

	return user, nil
}

const getUserByID = `-- name: GetUserByID
SELECT id, created_at, telegram_id, username, first_name, last_name, balance, is_admin FROM users
WHERE id = $1
`

func (r *UserRepo) GetUserByID(ctx context.Context, userID uuid.UUID) (models.User, error) {
	rows, _ := r.DB.Query(ctx, getUserByID, userID)
	return collectUser(rows)
}

const getUserByTelegramID = `-- name: GetUserByTelegramID
SELECT id, created_at, telegram_id, username, first_name, last_name, balance, is_admin FROM users
WHERE telegram_id = $1
`

func (r *UserRepo) GetUserByTelegramID(ctx context.Context, telegramID int64) (models.User, error) {
	rows, _ := r.DB.Query(ctx, getUserByTelegramID, telegramID)
	return collectUser(rows)
}

func collectUser(rows pgx.Rows) (models.User, error) {
	user, err := pgx.CollectOneRow(rows, rowToUser)

	switch {
	case err == nil:
		return user, nil
	case errors.Is(err, pgx.ErrNoRows):
		return user, apperrors.ErrUserNotFound
	default:
		return user, fmt.Errorf("db error: %w", err)
	}
}

func rowToUser(row pgx.CollectableRow) (models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.CreatedAt, &u.TelegramID, &u.Username, &u.FirstName, &u.LastName, &u.Balance, &u.IsAdmin)
	return u, err
}
