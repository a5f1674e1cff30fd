// Package bus implements the notification bus on PostgreSQL LISTEN/NOTIFY.
// Delivery is at-most-once and best-effort: no persistence, no ordering
// across channels. Handlers must tolerate duplicated and dropped events;
// the fallback poller is the liveness backstop, not this bus.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"game-session-worker/internal/pkg/db"
)

// Handler consumes one notification payload. Handlers run on their own
// goroutine so a slow session never blocks dispatch for other sessions.
type Handler func(ctx context.Context, payload []byte)

// Bus publishes and subscribes to notification channels.
type Bus struct {
	pool *db.Pool

	mu       sync.RWMutex
	handlers map[string][]Handler
}

// New creates a new Bus backed by the given pool. Publishing uses pooled
// connections; the subscribe loop holds one dedicated connection.
func New(pool *db.Pool) *Bus {
	return &Bus{
		pool:     pool,
		handlers: make(map[string][]Handler),
	}
}

// Publish broadcasts a JSON-encoded payload on a channel.
func (b *Bus) Publish(ctx context.Context, channel string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	if _, err := b.pool.Exec(ctx, `SELECT pg_notify($1, $2)`, channel, string(data)); err != nil {
		return fmt.Errorf("failed to publish on %s: %w", channel, err)
	}
	return nil
}

// PublishTx broadcasts within an open transaction. Postgres delivers the
// notification only when the transaction commits, which ties completion
// events to the terminal write they announce.
func PublishTx(ctx context.Context, tx pgx.Tx, channel string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, channel, string(data)); err != nil {
		return fmt.Errorf("failed to publish on %s: %w", channel, err)
	}
	return nil
}

// Subscribe registers a handler for a channel. Must be called before Run.
func (b *Bus) Subscribe(channel string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[channel] = append(b.handlers[channel], h)
}

// Run listens for notifications until ctx is cancelled, reconnecting with
// exponential backoff on connection failure. A single listener error never
// crashes the worker.
func (b *Bus) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0 // retry forever
	bo.MaxInterval = 30 * time.Second

	for {
		connected, err := b.listen(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			bo.Reset()
		}

		wait := bo.NextBackOff()
		log.Warn().Err(err).Dur("retry_in", wait).Msg("Bus listener disconnected, reconnecting")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// listen opens the dedicated connection, issues LISTEN for every subscribed
// channel, and dispatches notifications until the connection breaks.
// Returns whether the connection was established.
func (b *Bus) listen(ctx context.Context) (bool, error) {
	conn, err := b.pool.ListenerConn(ctx)
	if err != nil {
		return false, err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = conn.Close(closeCtx)
	}()

	b.mu.RLock()
	channels := make([]string, 0, len(b.handlers))
	for ch := range b.handlers {
		channels = append(channels, ch)
	}
	b.mu.RUnlock()

	for _, ch := range channels {
		if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{ch}.Sanitize()); err != nil {
			return true, fmt.Errorf("failed to LISTEN on %s: %w", ch, err)
		}
	}

	log.Info().Strs("channels", channels).Msg("Bus listening")

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return true, err
		}

		b.mu.RLock()
		hs := b.handlers[n.Channel]
		b.mu.RUnlock()

		for _, h := range hs {
			go h(ctx, []byte(n.Payload))
		}
	}
}
