package service

import (
	"context"
	stderrors "errors"

	"eventapp-telegram-bot/internal/common/errors"
	"eventapp-telegram-bot/internal/common/logger"
	"eventapp-telegram-bot/internal/features/identity/models"
	"eventapp-telegram-bot/internal/features/identity/repository"
)

// Resolver reconciles inbound Telegram identities with linked identity records.
type Resolver struct {
	repo repository.Repository
}

func NewResolver(repo repository.Repository) *Resolver {
	return &Resolver{repo: repo}
}

// ResolveOrCreate creates the record on first contact and refreshes profile
// fields on every later contact. The linked user is never changed here.
func (r *Resolver) ResolveOrCreate(ctx context.Context, c models.ChatIdentity) (*models.Record, error) {
	if c.TelegramID == 0 {
		return nil, errors.NewValidationError("telegram_id", "must be set")
	}
	rec, err := r.repo.Upsert(ctx, c)
	if err != nil {
		return nil, errors.NewStorageError("resolve telegram identity", err).
			WithDetail("telegram_id", c.TelegramID)
	}
	return rec, nil
}

// Get returns the record for telegramID, or nil if it was never seen.
func (r *Resolver) Get(ctx context.Context, telegramID int64) (*models.Record, error) {
	rec, err := r.repo.GetByTelegramID(ctx, telegramID)
	if err != nil {
		return nil, errors.NewStorageError("load telegram identity", err).
			WithDetail("telegram_id", telegramID)
	}
	return rec, nil
}

// Link is the commit point of account linking.
func (r *Resolver) Link(ctx context.Context, c models.ChatIdentity, userID int64) error {
	err := r.repo.Link(ctx, c, userID)
	switch {
	case err == nil:
		logger.Info().
			Int64("telegram_id", c.TelegramID).
			Int64("user_id", userID).
			Msg("Telegram identity linked")
		return nil
	case stderrors.Is(err, repository.ErrAlreadyLinked):
		return errors.NewAlreadyLinkedError(c.TelegramID)
	case stderrors.Is(err, repository.ErrUserLinkedElsewhere):
		return errors.NewUserLinkedElsewhereError(userID)
	default:
		return errors.NewStorageError("link telegram identity", err).
			WithDetail("telegram_id", c.TelegramID).
			WithDetail("user_id", userID)
	}
}
