package bot

import (
	"context"
	"hash/fnv"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"eventapp-telegram-bot/internal/common/logger"
	"eventapp-telegram-bot/internal/metrics"
	"eventapp-telegram-bot/internal/service/telegram"
)

const (
	shardQueueSize = 64
	maxPollBackoff = 30 * time.Second
)

// UpdateSource long-polls the Bot API.
type UpdateSource interface {
	GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]telegram.Update, int64, error)
}

// Poller pulls updates and fans them out to a fixed set of shard workers.
// All events of one Telegram user land on the same shard, so they are
// handled in arrival order, while different users proceed in parallel.
type Poller struct {
	source     UpdateSource
	dispatcher *Dispatcher
	shards     int
	timeout    time.Duration
	metrics    metrics.Recorder
	log        zerolog.Logger
}

func NewPoller(source UpdateSource, dispatcher *Dispatcher, shards int, timeout time.Duration, recorder metrics.Recorder) *Poller {
	if shards <= 0 {
		shards = 1
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &Poller{
		source:     source,
		dispatcher: dispatcher,
		shards:     shards,
		timeout:    timeout,
		metrics:    recorder,
		log:        logger.Component("poller"),
	}
}

// shardIndex maps a Telegram user to a shard with FNV-1a.
func (p *Poller) shardIndex(telegramID int64) int {
	h := fnv.New32a()
	h.Write([]byte(strconv.FormatInt(telegramID, 10)))
	return int(h.Sum32() % uint32(p.shards))
}

// Run polls until ctx is cancelled, then drains queued events and returns.
func (p *Poller) Run(ctx context.Context) error {
	queues := make([]chan Event, p.shards)
	var wg sync.WaitGroup
	for i := range queues {
		queues[i] = make(chan Event, shardQueueSize)
		wg.Add(1)
		go func(q <-chan Event) {
			defer wg.Done()
			for ev := range q {
				// Events already accepted finish even during shutdown.
				p.dispatcher.Dispatch(context.WithoutCancel(ctx), ev)
			}
		}(queues[i])
	}
	defer func() {
		for _, q := range queues {
			close(q)
		}
		wg.Wait()
		p.log.Info().Msg("Poller stopped")
	}()

	p.log.Info().Int("shards", p.shards).Dur("timeout", p.timeout).Msg("Polling for updates")

	var offset int64
	backoff := time.Second
	for {
		updates, next, err := p.source.GetUpdates(ctx, offset, p.timeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.log.Warn().Err(err).Dur("retry_in", backoff).Msg("getUpdates failed")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, maxPollBackoff)
			continue
		}
		backoff = time.Second
		offset = next

		for _, u := range updates {
			ev, ok := EventFromUpdate(u)
			if !ok {
				continue
			}
			select {
			case queues[p.shardIndex(ev.From.TelegramID)] <- ev:
			case <-ctx.Done():
				p.metrics.RecordDroppedEvent("shutdown")
				return nil
			}
		}
	}
}
