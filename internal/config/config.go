package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Addr string `env:"LOBBY_ADDR" envDefault:":8080"`
	// DatabaseURL selects the postgres store; empty keeps lobbies in memory.
	DatabaseURL string `env:"LOBBY_DATABASE_URL"`

	LogLevel  string `env:"LOBBY_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOBBY_LOG_FORMAT" envDefault:"json"`

	DefaultLobby       string `env:"LOBBY_DEFAULT_CODE" envDefault:"main"`
	MaxRenameAttempts  int    `env:"LOBBY_MAX_RENAME_ATTEMPTS" envDefault:"1000"`
	InboxSize          int    `env:"LOBBY_INBOX_SIZE" envDefault:"64"`
	BroadcastOpenGames bool   `env:"LOBBY_BROADCAST_OPEN_GAMES" envDefault:"true"`
	PruneOnStart       bool   `env:"LOBBY_PRUNE_ON_START" envDefault:"true"`

	ReadTimeout     time.Duration `env:"LOBBY_WS_READ_TIMEOUT" envDefault:"10m"`
	WriteTimeout    time.Duration `env:"LOBBY_WS_WRITE_TIMEOUT" envDefault:"3s"`
	ShutdownTimeout time.Duration `env:"LOBBY_SHUTDOWN_TIMEOUT" envDefault:"10s"`
	OriginPatterns  []string      `env:"LOBBY_ORIGIN_PATTERNS" envSeparator:","`
}

// Load reads the optional dotenv files, then the environment. Variables
// already set in the environment win over dotenv values.
func Load(dotenvFiles ...string) (Config, error) {
	if len(dotenvFiles) == 0 {
		dotenvFiles = []string{".env"}
	}
	for _, file := range dotenvFiles {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", file, err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Addr == "" {
		return errors.New("config: LOBBY_ADDR is empty")
	}
	if c.DefaultLobby == "" {
		return errors.New("config: LOBBY_DEFAULT_CODE is empty")
	}
	if c.MaxRenameAttempts <= 0 {
		return fmt.Errorf("config: LOBBY_MAX_RENAME_ATTEMPTS must be positive, got %d", c.MaxRenameAttempts)
	}
	if c.InboxSize <= 0 {
		return fmt.Errorf("config: LOBBY_INBOX_SIZE must be positive, got %d", c.InboxSize)
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("config: unknown LOBBY_LOG_FORMAT %q", c.LogFormat)
	}
	return nil
}
