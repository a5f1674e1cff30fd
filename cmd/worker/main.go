// Package main is the entry point for the wager session worker.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"game-session-worker/internal/bus"
	"game-session-worker/internal/config"
	"game-session-worker/internal/game"
	"game-session-worker/internal/game/duel"
	"game-session-worker/internal/game/escalate"
	"game-session-worker/internal/game/ladder"
	"game-session-worker/internal/messenger"
	"game-session-worker/internal/pkg/db"
	"game-session-worker/internal/poller"
	"game-session-worker/internal/pricing"
	"game-session-worker/internal/repository"
	"game-session-worker/internal/worker"
)

func main() {
	// Configure zerolog
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// Load configuration
	cfg, err := config.Load("config")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log.Info().Msg("Configuration loaded successfully")

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database connection pool
	dbPool, err := db.NewPool(ctx, &cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer dbPool.Close()

	// Run database migrations
	if err := runMigrations(ctx, dbPool); err != nil {
		log.Fatal().Err(err).Msg("Failed to run database migrations")
	}

	// Initialize repositories
	sessionRepo := repository.NewSessionRepository(dbPool.Pool)
	payoutLedger := repository.NewPayoutLedger(dbPool.Pool)

	// Initialize game registry and register archetypes
	registry := game.NewRegistry()

	escalateGame := escalate.New(&escalate.Config{
		Factors:   cfg.Games.Escalate.Factors,
		MaxTurns:  cfg.Games.Escalate.MaxTurns,
		RoundSize: cfg.Games.Escalate.RoundSize,
	})
	if err := registry.Register(escalateGame); err != nil {
		log.Fatal().Err(err).Msg("Failed to register escalate archetype")
	}

	ladderGame := ladder.New(&ladder.Config{
		Multipliers:     cfg.Games.Ladder.Multipliers,
		CashoutFraction: cfg.Games.Ladder.CashoutFraction,
		LossRolls:       cfg.Games.Ladder.LossRolls,
		SuccessRolls:    cfg.Games.Ladder.SuccessRolls,
	})
	if err := registry.Register(ladderGame); err != nil {
		log.Fatal().Err(err).Msg("Failed to register ladder archetype")
	}

	tiers := make([]duel.Tier, len(cfg.Games.Duel.Tiers))
	for i, t := range cfg.Games.Duel.Tiers {
		tiers[i] = duel.Tier{MinScore: t.MinScore, Multiplier: t.Multiplier}
	}
	duelGame := duel.New(&duel.Config{
		ShotQuota:    cfg.Games.Duel.ShotQuota,
		Scoring:      cfg.Games.Duel.Scoring,
		HitThreshold: cfg.Games.Duel.HitThreshold,
		Tiers:        tiers,
	})
	if err := registry.Register(duelGame); err != nil {
		log.Fatal().Err(err).Msg("Failed to register duel archetype")
	}

	log.Info().
		Int("archetype_count", registry.Count()).
		Msg("Game archetypes registered")

	// Initialize notification bus
	notifyBus := bus.New(dbPool)

	// Initialize messenger (prompt delivery + turn intake)
	converter := pricing.New(cfg.Bot.DisplayRate, cfg.Bot.CurrencySymbol)
	msgr, err := messenger.New(&cfg.Bot, notifyBus, converter)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create messenger")
	}

	// Initialize worker (registers its bus handlers)
	w, err := worker.New(&worker.Dependencies{
		Repo:        sessionRepo,
		Ledger:      payoutLedger,
		Registry:    registry,
		Bus:         notifyBus,
		Prompter:    msgr,
		TurnTimeout: cfg.Worker.TurnTimeout,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create worker")
	}

	log.Info().Str("worker_id", w.ID()).Msg("Worker initialized")

	// Start bus listener
	go func() {
		if err := notifyBus.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("Bus listener stopped")
		}
	}()

	// Start fallback poller
	fallback := poller.New(sessionRepo, notifyBus, cfg.Worker.PollInterval, cfg.Worker.PollBatch)
	go fallback.Run(ctx)

	// Start messenger long polling
	go msgr.Start()

	// Periodic pool health check and stats log
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := dbPool.HealthCheck(ctx); err != nil {
					log.Error().Err(err).Msg("Database health check failed")
					continue
				}
				stats := dbPool.Stats()
				log.Debug().
					Int32("total_conns", stats.TotalConns()).
					Int32("idle_conns", stats.IdleConns()).
					Int32("acquired_conns", stats.AcquiredConns()).
					Msg("Connection pool stats")
			}
		}
	}()

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")

	cancel()
	msgr.Stop()
	w.Stop()
	log.Info().Msg("Worker stopped gracefully")
}

// runMigrations executes database migrations.
func runMigrations(ctx context.Context, pool *db.Pool) error {
	log.Info().Msg("Running database migrations...")

	// Migration 1: Create sessions table
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL DEFAULT 'pending_claim',
			archetype TEXT NOT NULL,
			stake BIGINT NOT NULL,
			payout BIGINT NOT NULL DEFAULT 0,
			state JSONB NOT NULL DEFAULT '{}',
			initiator_id BIGINT NOT NULL,
			initiator_name TEXT NOT NULL DEFAULT '',
			opponent_id BIGINT,
			opponent_name TEXT,
			chat_id BIGINT NOT NULL,
			claimed_by TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_sessions_status_created ON sessions(status, created_at);
	`)
	if err != nil {
		return err
	}
	log.Info().Msg("Migration 1: sessions table created")

	// Migration 2: Create payout ledger table
	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS session_payouts (
			id BIGSERIAL PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			status TEXT NOT NULL,
			stake BIGINT NOT NULL,
			payout BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_session_payouts_session ON session_payouts(session_id);
	`)
	if err != nil {
		return err
	}
	log.Info().Msg("Migration 2: session_payouts table created")

	log.Info().Msg("All migrations completed successfully")
	return nil
}
