// Package config provides configuration management using viper.
// It supports loading from YAML files and environment variable overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all worker configuration.
type Config struct {
	Bot      BotConfig      `mapstructure:"bot"`
	Database DatabaseConfig `mapstructure:"database"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Games    GamesConfig    `mapstructure:"games"`
}

// BotConfig holds Telegram bot configuration for the prompt messenger.
type BotConfig struct {
	Token string `mapstructure:"token"`
	// DisplayRate converts chips to display units, in hundredths of a
	// display unit per chip. Display only; all wagering math stays in chips.
	DisplayRate    int64  `mapstructure:"display_rate"`
	CurrencySymbol string `mapstructure:"currency_symbol"`
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	PoolSize        int           `mapstructure:"pool_size"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

// WorkerConfig holds session worker configuration.
type WorkerConfig struct {
	// PollInterval is the fallback poller scan interval. The notification
	// bus is best-effort; the poller is the liveness backstop.
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// PollBatch bounds how many stuck sessions one scan re-publishes.
	PollBatch int `mapstructure:"poll_batch"`
	// TurnTimeout is how long a player has to act on a prompt before the
	// session is force-finalized with a timeout outcome.
	TurnTimeout time.Duration `mapstructure:"turn_timeout"`
}

// GamesConfig holds per-archetype game tables. All multipliers and
// fractions are scaled integers in hundredths (100 = 1.00x).
type GamesConfig struct {
	Escalate EscalateConfig `mapstructure:"escalate"`
	Ladder   LadderConfig   `mapstructure:"ladder"`
	Duel     DuelConfig     `mapstructure:"duel"`
}

// EscalateConfig holds the escalating-stakes effect table.
type EscalateConfig struct {
	// Factors maps roll value to multiplier factor in hundredths, indexed
	// by roll-1. A factor of 0 is an immediate loss.
	Factors   []int64 `mapstructure:"factors"`
	MaxTurns  int     `mapstructure:"max_turns"`
	RoundSize int     `mapstructure:"round_size"`
}

// LadderConfig holds the round-progression tables.
type LadderConfig struct {
	// Multipliers is the per-round win multiplier in hundredths, indexed
	// by round-1; its length is the number of rounds.
	Multipliers []int64 `mapstructure:"multipliers"`
	// CashoutFraction is the fixed fraction of stake, in hundredths, paid
	// when the player cashes out after a failed round.
	CashoutFraction int64 `mapstructure:"cashout_fraction"`
	// LossRolls and SuccessRolls partition the roll alphabet; any roll in
	// neither class is a miss.
	LossRolls    []int `mapstructure:"loss_rolls"`
	SuccessRolls []int `mapstructure:"success_rolls"`
}

// Rounds returns the number of rounds in the ladder.
func (l *LadderConfig) Rounds() int {
	return len(l.Multipliers)
}

// DuelConfig holds the two-actor duel tables.
type DuelConfig struct {
	ShotQuota int    `mapstructure:"shot_quota"`
	Scoring   string `mapstructure:"scoring"` // "sum" or "hits"
	// HitThreshold is the minimum roll counted as a hit when Scoring is
	// "hits".
	HitThreshold int `mapstructure:"hit_threshold"`
	// Tiers maps the winner's score to a payout multiplier in hundredths.
	// The highest tier whose MinScore the winner reaches applies.
	Tiers []DuelTier `mapstructure:"tiers"`
}

// DuelTier is one row of the duel payout table.
type DuelTier struct {
	MinScore   int   `mapstructure:"min_score"`
	Multiplier int64 `mapstructure:"multiplier"`
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name,
	)
}

// Load reads configuration from file and environment variables.
// It looks for config.yaml in the config directory.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Configure viper
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Enable environment variable override
	// Environment variables use underscore separator and uppercase
	// e.g., BOT_TOKEN, DATABASE_HOST, WORKER_POLL_INTERVAL
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (optional - env vars can provide all config)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK - we can use env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Games.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks that the game tables are internally consistent.
func (g *GamesConfig) Validate() error {
	if len(g.Escalate.Factors) != 6 {
		return fmt.Errorf("games.escalate.factors must have 6 entries, got %d", len(g.Escalate.Factors))
	}
	if g.Escalate.MaxTurns <= 0 || g.Escalate.RoundSize <= 0 {
		return fmt.Errorf("games.escalate.max_turns and round_size must be positive")
	}
	if len(g.Ladder.Multipliers) == 0 {
		return fmt.Errorf("games.ladder.multipliers must not be empty")
	}
	for i := 1; i < len(g.Ladder.Multipliers); i++ {
		if g.Ladder.Multipliers[i] <= g.Ladder.Multipliers[i-1] {
			return fmt.Errorf("games.ladder.multipliers must be strictly increasing")
		}
	}
	for _, v := range g.Ladder.LossRolls {
		for _, w := range g.Ladder.SuccessRolls {
			if v == w {
				return fmt.Errorf("games.ladder roll %d is both a loss and a success", v)
			}
		}
	}
	if g.Duel.ShotQuota <= 0 {
		return fmt.Errorf("games.duel.shot_quota must be positive")
	}
	if g.Duel.Scoring != "sum" && g.Duel.Scoring != "hits" {
		return fmt.Errorf("games.duel.scoring must be \"sum\" or \"hits\", got %q", g.Duel.Scoring)
	}
	if len(g.Duel.Tiers) == 0 {
		return fmt.Errorf("games.duel.tiers must not be empty")
	}
	return nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Bot defaults
	v.SetDefault("bot.display_rate", 100)
	v.SetDefault("bot.currency_symbol", "💰")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "sessions")
	v.SetDefault("database.name", "sessions")
	v.SetDefault("database.pool_size", 20)
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")

	// Worker defaults
	v.SetDefault("worker.poll_interval", "30s")
	v.SetDefault("worker.poll_batch", 50)
	v.SetDefault("worker.turn_timeout", "60s")

	// Escalating-stakes defaults: roll 1 busts, higher rolls scale harder
	v.SetDefault("games.escalate.factors", []int64{0, 120, 150, 180, 200, 300})
	v.SetDefault("games.escalate.max_turns", 9)
	v.SetDefault("games.escalate.round_size", 3)

	// Ladder defaults: five rounds, 0.2x through 4.0x
	v.SetDefault("games.ladder.multipliers", []int64{20, 50, 100, 200, 400})
	v.SetDefault("games.ladder.cashout_fraction", 50)
	v.SetDefault("games.ladder.loss_rolls", []int{1})
	v.SetDefault("games.ladder.success_rolls", []int{5, 6})

	// Duel defaults
	v.SetDefault("games.duel.shot_quota", 3)
	v.SetDefault("games.duel.scoring", "sum")
	v.SetDefault("games.duel.hit_threshold", 4)
	v.SetDefault("games.duel.tiers", []map[string]any{
		{"min_score": 0, "multiplier": 100},
		{"min_score": 12, "multiplier": 150},
		{"min_score": 16, "multiplier": 200},
	})
}
