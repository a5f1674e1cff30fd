// Package poller implements the fallback poller: a fixed-interval scan for
// sessions stuck in pending_claim. The notification bus loses events to
// worker crashes and delivery gaps; this scan re-publishes claim events so
// no session is stranded forever.
package poller

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"game-session-worker/internal/model"
)

// Store lists sessions still waiting to be claimed.
type Store interface {
	ListPendingClaim(ctx context.Context, limit int) ([]string, error)
}

// Publisher re-broadcasts claim events.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload any) error
}

// Poller periodically re-publishes claim events for stuck sessions.
type Poller struct {
	store    Store
	pub      Publisher
	interval time.Duration
	batch    int
}

// New creates a new Poller.
func New(store Store, pub Publisher, interval time.Duration, batch int) *Poller {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if batch <= 0 {
		batch = 50
	}
	return &Poller{
		store:    store,
		pub:      pub,
		interval: interval,
		batch:    batch,
	}
}

// Run scans until ctx is cancelled. A failed scan is logged and retried on
// the next tick, never fatal.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.scan(ctx)
		}
	}
}

// scan re-publishes a claim event for each stuck session, oldest first.
func (p *Poller) scan(ctx context.Context) {
	ids, err := p.store.ListPendingClaim(ctx, p.batch)
	if err != nil {
		log.Error().Err(err).Msg("Fallback poller scan failed")
		return
	}
	if len(ids) == 0 {
		return
	}

	log.Info().Int("count", len(ids)).Msg("Re-publishing claim events for stuck sessions")

	for _, id := range ids {
		event := model.ClaimableEvent{SessionID: id}
		if err := p.pub.Publish(ctx, model.ChannelSessionClaimable, event); err != nil {
			log.Error().Err(err).Str("session_id", id).Msg("Failed to re-publish claim event")
		}
	}
}
