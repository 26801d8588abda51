package repository

import (
	"context"
	"errors"

	"eventapp-telegram-bot/internal/features/identity/models"
)

var (
	// ErrAlreadyLinked means the Telegram identity is linked to a different user.
	ErrAlreadyLinked = errors.New("telegram identity already linked to another user")
	// ErrUserLinkedElsewhere means the user is linked to a different Telegram identity.
	ErrUserLinkedElsewhere = errors.New("user already linked to another telegram identity")
)

// Repository persists linked identity records.
type Repository interface {
	// Upsert creates the record or refreshes its profile fields, never
	// touching the linked user, and returns the stored row.
	Upsert(ctx context.Context, identity models.ChatIdentity) (*models.Record, error)
	// GetByTelegramID returns nil when no record exists.
	GetByTelegramID(ctx context.Context, telegramID int64) (*models.Record, error)
	// Link sets the linked user in one transaction.
	Link(ctx context.Context, identity models.ChatIdentity, userID int64) error
}
