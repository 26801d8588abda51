package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"eventapp-telegram-bot/internal/features/session/models"
	"eventapp-telegram-bot/internal/features/session/repository"
)

const keyPrefix = "tg:session:"

// Store keeps sessions in Redis. Each write refreshes the key TTL, so the
// idle timeout is enforced by Redis expiry.
type Store struct {
	client      goredis.UniversalClient
	idleTimeout time.Duration
}

var _ repository.Store = (*Store)(nil)

func New(client goredis.UniversalClient, idleTimeout time.Duration) *Store {
	return &Store{client: client, idleTimeout: idleTimeout}
}

func (s *Store) key(telegramID int64) string {
	return fmt.Sprintf("%s%d", keyPrefix, telegramID)
}

func (s *Store) Get(ctx context.Context, telegramID int64) (*models.Session, error) {
	return s.load(ctx, s.client, s.key(telegramID))
}

func (s *Store) Put(ctx context.Context, telegramID int64, sess *models.Session) error {
	b, err := s.encode(sess)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(telegramID), b, s.idleTimeout).Err()
}

func (s *Store) Delete(ctx context.Context, telegramID int64) error {
	return s.client.Del(ctx, s.key(telegramID)).Err()
}

// Update runs fn inside WATCH/MULTI. If another client modifies the key
// between the read and the write, the transaction is discarded and
// repository.ErrConflict is returned.
func (s *Store) Update(ctx context.Context, telegramID int64, fn repository.UpdateFunc) error {
	key := s.key(telegramID)

	err := s.client.Watch(ctx, func(tx *goredis.Tx) error {
		cur, err := s.load(ctx, tx, key)
		if err != nil {
			return err
		}
		next, err := fn(cur)
		if err != nil {
			return err
		}

		var b []byte
		if next != nil {
			if b, err = s.encode(next); err != nil {
				return err
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			if next == nil {
				pipe.Del(ctx, key)
				return nil
			}
			pipe.Set(ctx, key, b, s.idleTimeout)
			return nil
		})
		return err
	}, key)

	if errors.Is(err, goredis.TxFailedErr) {
		return repository.ErrConflict
	}
	return err
}

// getter is satisfied by both the client and a WATCH transaction.
type getter interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
}

func (s *Store) load(ctx context.Context, c getter, key string) (*models.Session, error) {
	b, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var sess models.Session
	if err := json.Unmarshal(b, &sess); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", key, err)
	}
	return &sess, nil
}

func (s *Store) encode(sess *models.Session) ([]byte, error) {
	c := *sess
	c.UpdatedAt = time.Now().UTC()
	return json.Marshal(c)
}
