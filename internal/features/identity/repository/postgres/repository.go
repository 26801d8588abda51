package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"eventapp-telegram-bot/internal/features/identity/models"
	"eventapp-telegram-bot/internal/features/identity/repository"
)

// uniqueViolation is the Postgres SQLSTATE for unique constraint failures.
const uniqueViolation = "23505"

// Repository stores linked identity records in telegram_sessions.
type Repository struct {
	db *sql.DB
}

var _ repository.Repository = (*Repository)(nil)

func NewRepository(db *sql.DB) *Repository { return &Repository{db: db} }

const recordColumns = `telegram_id, COALESCE(username, ''), COALESCE(first_name, ''), COALESCE(last_name, ''), COALESCE(language_code, ''), user_id, updated_at`

// Upsert is a single statement, so concurrent first contacts of one
// identity still produce exactly one row. user_id is deliberately absent
// from the update list.
func (r *Repository) Upsert(ctx context.Context, c models.ChatIdentity) (*models.Record, error) {
	const q = `
INSERT INTO telegram_sessions (telegram_id, username, first_name, last_name, language_code, updated_at)
VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), now())
ON CONFLICT (telegram_id) DO UPDATE SET
	username = EXCLUDED.username,
	first_name = EXCLUDED.first_name,
	last_name = EXCLUDED.last_name,
	language_code = EXCLUDED.language_code,
	updated_at = now()
RETURNING ` + recordColumns
	row := r.db.QueryRowContext(ctx, q, c.TelegramID, c.Username, c.FirstName, c.LastName, c.LanguageCode)
	return scanRecord(row)
}

func (r *Repository) GetByTelegramID(ctx context.Context, telegramID int64) (*models.Record, error) {
	q := `SELECT ` + recordColumns + ` FROM telegram_sessions WHERE telegram_id = $1`
	rec, err := scanRecord(r.db.QueryRowContext(ctx, q, telegramID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

// Link writes the link on both sides in one transaction: telegram_sessions.user_id
// and the Telegram columns of users. Nothing is visible unless all of it commits.
func (r *Repository) Link(ctx context.Context, c models.ChatIdentity, userID int64) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin link tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var other int64
	err = tx.QueryRowContext(ctx,
		`SELECT telegram_id FROM telegram_sessions WHERE user_id = $1 AND telegram_id <> $2 LIMIT 1`,
		userID, c.TelegramID,
	).Scan(&other)
	switch {
	case err == nil:
		return repository.ErrUserLinkedElsewhere
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("check existing link: %w", err)
	}

	const upsert = `
INSERT INTO telegram_sessions (telegram_id, username, first_name, last_name, language_code, user_id, updated_at)
VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), $6, now())
ON CONFLICT (telegram_id) DO UPDATE SET
	user_id = EXCLUDED.user_id,
	updated_at = now()
WHERE telegram_sessions.user_id IS NULL OR telegram_sessions.user_id = EXCLUDED.user_id
RETURNING COALESCE(username, '')`
	var username string
	err = tx.QueryRowContext(ctx, upsert,
		c.TelegramID, c.Username, c.FirstName, c.LastName, c.LanguageCode, userID,
	).Scan(&username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// The conflict row exists but its WHERE clause rejected the update.
			return repository.ErrAlreadyLinked
		}
		if isUniqueViolation(err) {
			return repository.ErrUserLinkedElsewhere
		}
		return fmt.Errorf("link telegram session: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE users SET telegram_id = $1, telegram_username = NULLIF($2, ''), telegram_connected = true WHERE id = $3`,
		c.TelegramID, username, userID,
	)
	if err != nil {
		return fmt.Errorf("mark user telegram connected: %w", err)
	}

	if err = tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return repository.ErrUserLinkedElsewhere
		}
		return fmt.Errorf("commit link tx: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*models.Record, error) {
	var (
		rec    models.Record
		userID sql.NullInt64
	)
	if err := row.Scan(&rec.TelegramID, &rec.Username, &rec.FirstName, &rec.LastName, &rec.LanguageCode, &userID, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	if userID.Valid {
		id := userID.Int64
		rec.UserID = &id
	}
	return &rec, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
