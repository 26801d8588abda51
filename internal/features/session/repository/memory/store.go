package memory

import (
	"context"
	"sync"
	"time"

	"eventapp-telegram-bot/internal/common/logger"
	"eventapp-telegram-bot/internal/features/session/models"
	"eventapp-telegram-bot/internal/features/session/repository"
)

type entry struct {
	session models.Session
	touched time.Time
}

// keyLock serializes Update calls for one telegram id. refs counts holders
// and waiters so the lock can be dropped from the map when unused.
type keyLock struct {
	mu   sync.Mutex
	refs int
}

// Store is a bounded in-process session store. Entries idle for longer than
// the idle timeout are invisible to readers and purged by Run. When the store
// is full, the least recently touched entry is evicted.
type Store struct {
	mu      sync.Mutex
	entries map[int64]*entry

	locksMu sync.Mutex
	locks   map[int64]*keyLock

	idleTimeout time.Duration
	maxEntries  int
	now         func() time.Time
	onEvict     func(n int)
}

var _ repository.Store = (*Store)(nil)

type Option func(*Store)

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithEvictionHook registers a callback invoked with the number of evicted entries.
func WithEvictionHook(fn func(n int)) Option {
	return func(s *Store) { s.onEvict = fn }
}

func New(idleTimeout time.Duration, maxEntries int, opts ...Option) *Store {
	s := &Store{
		entries:     make(map[int64]*entry),
		locks:       make(map[int64]*keyLock),
		idleTimeout: idleTimeout,
		maxEntries:  maxEntries,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Get(ctx context.Context, telegramID int64) (*models.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.get(telegramID), nil
}

func (s *Store) Put(ctx context.Context, telegramID int64, sess *models.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l := s.lockKey(telegramID)
	defer s.unlockKey(telegramID, l)
	s.put(telegramID, sess)
	return nil
}

func (s *Store) Delete(ctx context.Context, telegramID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l := s.lockKey(telegramID)
	defer s.unlockKey(telegramID, l)
	s.delete(telegramID)
	return nil
}

func (s *Store) Update(ctx context.Context, telegramID int64, fn repository.UpdateFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l := s.lockKey(telegramID)
	defer s.unlockKey(telegramID, l)

	next, err := fn(s.get(telegramID))
	if err != nil {
		return err
	}
	if next == nil {
		s.delete(telegramID)
		return nil
	}
	s.put(telegramID, next)
	return nil
}

// Len returns the number of stored entries, including expired ones not yet purged.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Run purges idle entries every interval until ctx is done.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Purge(); n > 0 {
				logger.Debug().Int("evicted", n).Msg("Purged idle sessions")
			}
		}
	}
}

// Purge removes idle entries and returns how many were removed.
func (s *Store) Purge() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.purgeLocked(s.now())
}

func (s *Store) get(telegramID int64) *models.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[telegramID]
	if !ok {
		return nil
	}
	if s.expired(e, s.now()) {
		delete(s.entries, telegramID)
		s.evicted(1)
		return nil
	}
	c := e.session
	return &c
}

func (s *Store) put(telegramID int64, sess *models.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if _, exists := s.entries[telegramID]; !exists && len(s.entries) >= s.maxEntries {
		if s.purgeLocked(now) == 0 {
			s.evictOldestLocked()
		}
	}
	c := *sess
	c.UpdatedAt = now
	s.entries[telegramID] = &entry{session: c, touched: now}
}

func (s *Store) delete(telegramID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, telegramID)
}

func (s *Store) expired(e *entry, now time.Time) bool {
	return now.Sub(e.touched) > s.idleTimeout
}

func (s *Store) purgeLocked(now time.Time) int {
	n := 0
	for id, e := range s.entries {
		if s.expired(e, now) {
			delete(s.entries, id)
			n++
		}
	}
	s.evicted(n)
	return n
}

func (s *Store) evictOldestLocked() {
	var (
		oldestID int64
		oldest   time.Time
		found    bool
	)
	for id, e := range s.entries {
		if !found || e.touched.Before(oldest) {
			oldestID, oldest, found = id, e.touched, true
		}
	}
	if found {
		delete(s.entries, oldestID)
		s.evicted(1)
	}
}

func (s *Store) evicted(n int) {
	if n > 0 && s.onEvict != nil {
		s.onEvict(n)
	}
}

func (s *Store) lockKey(telegramID int64) *keyLock {
	s.locksMu.Lock()
	l, ok := s.locks[telegramID]
	if !ok {
		l = &keyLock{}
		s.locks[telegramID] = l
	}
	l.refs++
	s.locksMu.Unlock()

	l.mu.Lock()
	return l
}

func (s *Store) unlockKey(telegramID int64, l *keyLock) {
	l.mu.Unlock()

	s.locksMu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(s.locks, telegramID)
	}
	s.locksMu.Unlock()
}
