package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"energyquiz/session"
)

type Config struct {
	Port        string `env:"PORT" envDefault:"8080"`
	BindAddress string `env:"BIND_ADDRESS" envDefault:"localhost"`

	DBEnabled  bool   `env:"DB_ENABLED" envDefault:"true"`
	DBHost     string `env:"DB_HOST" envDefault:"localhost"`
	DBPort     string `env:"DB_PORT" envDefault:"5432"`
	DBUser     string `env:"DB_USER" envDefault:"energyquiz"`
	DBPassword string `env:"DB_PASSWORD" envDefault:"energyquiz"`
	DBName     string `env:"DB_NAME" envDefault:"energyquiz"`

	RedisEnabled     bool          `env:"REDIS_ENABLED" envDefault:"true"`
	RedisHost        string        `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort        string        `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword    string        `env:"REDIS_PASSWORD"`
	RedisDB          int           `env:"REDIS_DB" envDefault:"0"`
	SnapshotTTL      time.Duration `env:"SNAPSHOT_TTL" envDefault:"2h"`
	LeaderboardLimit int           `env:"LEADERBOARD_LIMIT" envDefault:"10"`

	NATSURL     string `env:"NATS_URL"` // empty disables event publishing
	NATSSubject string `env:"NATS_SUBJECT_PREFIX" envDefault:"quiz.session"`

	JWTSecret string        `env:"JWT_SECRET" envDefault:"your-secret-key-change-in-production"`
	SeatTTL   time.Duration `env:"SEAT_TTL" envDefault:"12h"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"console"` // console or json

	PollTimeout     time.Duration `env:"POLL_TIMEOUT" envDefault:"25s"`
	NotifyTimeout   time.Duration `env:"NOTIFY_TIMEOUT" envDefault:"2s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	QuestionSeed    uint64        `env:"QUESTION_SEED"` // 0 picks a random seed

	Game GameConfig `envPrefix:"GAME_"`
}

// GameConfig mirrors session.Rules.
type GameConfig struct {
	RoundLimit           int           `env:"ROUND_LIMIT" envDefault:"10"`
	TimeAttackRounds     int           `env:"TIME_ATTACK_ROUNDS" envDefault:"30"`
	RoundDuration        time.Duration `env:"ROUND_DURATION" envDefault:"20s"`
	TimerTick            time.Duration `env:"TIMER_TICK" envDefault:"100ms"`
	ResultDelay          time.Duration `env:"RESULT_DELAY" envDefault:"5s"`
	TimeAttackBudget     time.Duration `env:"TIME_ATTACK_BUDGET" envDefault:"90s"`
	TimeAttackBonus      time.Duration `env:"TIME_ATTACK_BONUS" envDefault:"3s"`
	SurvivalLives        int           `env:"SURVIVAL_LIVES" envDefault:"3"`
	MinPlayers           int           `env:"MIN_PLAYERS" envDefault:"2"`
	MaxPlayers           int           `env:"MAX_PLAYERS" envDefault:"8"`
	MaxUsernameLength    int           `env:"MAX_USERNAME_LENGTH" envDefault:"20"`
	FullCredit           int           `env:"FULL_CREDIT" envDefault:"100"`
	RangeCutoff          float64       `env:"RANGE_CUTOFF" envDefault:"0.5"`
	DifficultyStep       int           `env:"DIFFICULTY_STEP" envDefault:"3"`
	MaxDifficulty        int           `env:"MAX_DIFFICULTY" envDefault:"5"`
	DecreaseTimeBoost    float64       `env:"DECREASE_TIME_BOOST" envDefault:"1"`
	MaxGenerationRetries int           `env:"MAX_GENERATION_RETRIES" envDefault:"3"`
	GenerationBackoff    time.Duration `env:"GENERATION_BACKOFF" envDefault:"1s"`
}

// Load reads an optional .env file and parses the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file loaded")
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	g := c.Game
	switch {
	case g.RoundDuration <= 0 || g.TimerTick <= 0:
		return fmt.Errorf("invalid config: round duration and timer tick must be positive")
	case g.MinPlayers < 1:
		return fmt.Errorf("invalid config: GAME_MIN_PLAYERS must be at least 1")
	case g.MaxPlayers != 0 && g.MaxPlayers < g.MinPlayers:
		return fmt.Errorf("invalid config: GAME_MAX_PLAYERS below GAME_MIN_PLAYERS")
	case g.RangeCutoff <= 0:
		return fmt.Errorf("invalid config: GAME_RANGE_CUTOFF must be positive")
	}
	return nil
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return c.BindAddress + ":" + c.Port
}

// Rules converts the game settings into session rules.
func (c *Config) Rules() session.Rules {
	g := c.Game
	return session.Rules{
		RoundLimit:           g.RoundLimit,
		TimeAttackRounds:     g.TimeAttackRounds,
		RoundDuration:        g.RoundDuration,
		TimerTick:            g.TimerTick,
		ResultDelay:          g.ResultDelay,
		TimeAttackBudget:     g.TimeAttackBudget,
		TimeAttackBonus:      g.TimeAttackBonus,
		SurvivalLives:        g.SurvivalLives,
		MinPlayers:           g.MinPlayers,
		MaxPlayers:           g.MaxPlayers,
		MaxUsernameLength:    g.MaxUsernameLength,
		FullCredit:           g.FullCredit,
		RangeCutoff:          g.RangeCutoff,
		DifficultyStep:       g.DifficultyStep,
		MaxDifficulty:        g.MaxDifficulty,
		DecreaseTimeBoost:    g.DecreaseTimeBoost,
		MaxGenerationRetries: g.MaxGenerationRetries,
		GenerationBackoff:    g.GenerationBackoff,
	}
}

func InitDB(cfg *Config) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
		cfg.DBHost, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBPort)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return db, nil
}

func InitRedis(cfg *Config) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	return client
}
