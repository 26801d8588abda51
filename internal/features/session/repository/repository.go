package repository

import (
	"context"
	"errors"

	"eventapp-telegram-bot/internal/features/session/models"
)

// ErrConflict is returned by Update when a concurrent writer changed the session first.
var ErrConflict = errors.New("session changed concurrently")

// UpdateFunc receives the current session (nil when absent) and returns the
// session to store. Returning nil deletes it; returning an error aborts
// without writing anything.
type UpdateFunc func(current *models.Session) (*models.Session, error)

// Store keeps conversation sessions keyed by chat platform id.
type Store interface {
	Get(ctx context.Context, telegramID int64) (*models.Session, error)
	Put(ctx context.Context, telegramID int64, s *models.Session) error
	Delete(ctx context.Context, telegramID int64) error
	// Update performs a read-modify-write of one key as a single step.
	Update(ctx context.Context, telegramID int64, fn UpdateFunc) error
}
