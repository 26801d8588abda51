package repository

import (
	"context"

	"eventapp-telegram-bot/internal/features/account/models"
)

// Repository reads EventApp accounts.
type Repository interface {
	// GetByEmail returns nil when no account has the email (case-insensitive).
	GetByEmail(ctx context.Context, email string) (*models.User, error)
}
