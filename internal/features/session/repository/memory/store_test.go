package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventapp-telegram-bot/internal/features/session/models"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func TestStore_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	s := New(time.Minute, 10)

	got, err := s.Get(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, s.Put(ctx, 1, &models.Session{State: models.StateAwaitingEmail}))
	got, err = s.Get(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.StateAwaitingEmail, got.State)

	require.NoError(t, s.Delete(ctx, 1))
	got, err = s.Get(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStore_GetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := New(time.Minute, 10)
	require.NoError(t, s.Put(ctx, 1, &models.Session{State: models.StateAwaitingPassword, Email: "a@b.co"}))

	got, _ := s.Get(ctx, 1)
	got.Email = "mutated@b.co"

	again, _ := s.Get(ctx, 1)
	assert.Equal(t, "a@b.co", again.Email)
}

func TestStore_IdleTimeout(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	evicted := 0
	s := New(10*time.Minute, 10, WithClock(clock.Now), WithEvictionHook(func(n int) { evicted += n }))

	require.NoError(t, s.Put(ctx, 1, &models.Session{State: models.StateAwaitingEmail}))
	require.NoError(t, s.Put(ctx, 2, &models.Session{State: models.StateAwaitingEmail}))

	clock.Advance(9 * time.Minute)
	require.NoError(t, s.Put(ctx, 2, &models.Session{State: models.StateAwaitingEmail}))

	clock.Advance(2 * time.Minute)
	got, err := s.Get(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, got, "idle session must expire")

	got, err = s.Get(ctx, 2)
	require.NoError(t, err)
	assert.NotNil(t, got, "recently touched session must survive")
	assert.Equal(t, 1, evicted)

	clock.Advance(11 * time.Minute)
	assert.Equal(t, 1, s.Purge())
	assert.Equal(t, 0, s.Len())
}

func TestStore_BoundedEvictsLeastRecentlyTouched(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	s := New(time.Hour, 2, WithClock(clock.Now))

	require.NoError(t, s.Put(ctx, 1, &models.Session{State: models.StateAwaitingEmail}))
	clock.Advance(time.Second)
	require.NoError(t, s.Put(ctx, 2, &models.Session{State: models.StateAwaitingEmail}))
	clock.Advance(time.Second)
	require.NoError(t, s.Put(ctx, 3, &models.Session{State: models.StateAwaitingEmail}))

	assert.Equal(t, 2, s.Len())
	got, _ := s.Get(ctx, 1)
	assert.Nil(t, got)
	got, _ = s.Get(ctx, 3)
	assert.NotNil(t, got)
}

func TestStore_UpdateDeleteAndAbort(t *testing.T) {
	ctx := context.Background()
	s := New(time.Minute, 10)
	require.NoError(t, s.Put(ctx, 1, &models.Session{State: models.StateAwaitingEmail}))

	boom := errors.New("boom")
	err := s.Update(ctx, 1, func(cur *models.Session) (*models.Session, error) {
		return &models.Session{State: models.StateAwaitingPassword, Email: "x@y.z"}, boom
	})
	require.ErrorIs(t, err, boom)
	got, _ := s.Get(ctx, 1)
	assert.Equal(t, models.StateAwaitingEmail, got.State, "aborted update must not write")

	require.NoError(t, s.Update(ctx, 1, func(cur *models.Session) (*models.Session, error) {
		return nil, nil
	}))
	got, _ = s.Get(ctx, 1)
	assert.Nil(t, got)
}

func TestStore_UpdateIsAtomicPerKey(t *testing.T) {
	ctx := context.Background()
	s := New(time.Minute, 10)

	const writers = 50
	var wg sync.WaitGroup
	wg.Add(writers)
	for i := 0; i < writers; i++ {
		go func() {
			defer wg.Done()
			_ = s.Update(ctx, 42, func(cur *models.Session) (*models.Session, error) {
				next := &models.Session{State: models.StateAwaitingEmail}
				if cur != nil {
					next.Email = cur.Email
				}
				next.Email += "x"
				return next, nil
			})
		}()
	}
	wg.Wait()

	got, err := s.Get(ctx, 42)
	require.NoError(t, err)
	assert.Len(t, got.Email, writers)

	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	assert.Empty(t, s.locks, "key locks must be released")
}

func TestStore_RunStopsOnCancel(t *testing.T) {
	s := New(time.Millisecond, 10)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx, time.Millisecond)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}
