package postgres

import (
	"context"
	"database/sql"
	"errors"

	"eventapp-telegram-bot/internal/features/account/models"
	"eventapp-telegram-bot/internal/features/account/repository"
)

// Repository reads EventApp users from the shared Postgres database.
type Repository struct {
	db *sql.DB
}

var _ repository.Repository = (*Repository)(nil)

func NewRepository(db *sql.DB) *Repository { return &Repository{db: db} }

func (r *Repository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	const q = `
SELECT id, email, COALESCE(name, ''), password_hash, telegram_id, COALESCE(telegram_username, ''), COALESCE(telegram_connected, false)
FROM users
WHERE lower(email) = lower($1)
LIMIT 1`
	var (
		u          models.User
		telegramID sql.NullInt64
	)
	err := r.db.QueryRowContext(ctx, q, email).Scan(
		&u.ID, &u.Email, &u.Name, &u.PasswordHash, &telegramID, &u.TelegramUsername, &u.TelegramConnected,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if telegramID.Valid {
		id := telegramID.Int64
		u.TelegramID = &id
	}
	return &u, nil
}
