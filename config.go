package authstate

import (
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	goerrors "github.com/goliatone/go-errors"
)

// Store backends understood by the demo wiring
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
	StoreSQLite = "sqlite"
)

// Config holds the settings read from AUTHSTATE_* environment variables.
type Config struct {
	PendingEmailKey string        `env:"AUTHSTATE_PENDING_EMAIL_KEY" envDefault:"pending_signin_email"`
	PendingEmailTTL time.Duration `env:"AUTHSTATE_PENDING_EMAIL_TTL" envDefault:"1h"`

	Store           string `env:"AUTHSTATE_STORE"             envDefault:"memory"`
	MemoryStoreSize int    `env:"AUTHSTATE_MEMORY_STORE_SIZE" envDefault:"1024"`
	RedisAddr       string `env:"AUTHSTATE_REDIS_ADDR"        envDefault:"127.0.0.1:6379"`
	RedisDB         int    `env:"AUTHSTATE_REDIS_DB"          envDefault:"0"`
	RedisKeyPrefix  string `env:"AUTHSTATE_REDIS_PREFIX"      envDefault:"authstate:"`
	SQLiteDSN       string `env:"AUTHSTATE_SQLITE_DSN"        envDefault:"file:authstate.db?cache=shared"`

	HTTPAddr   string `env:"AUTHSTATE_HTTP_ADDR"   envDefault:":8572"`
	HTTPPrefix string `env:"AUTHSTATE_HTTP_PREFIX" envDefault:"/auth"`

	LinkBaseURL    string        `env:"AUTHSTATE_LINK_BASE_URL"    envDefault:"http://localhost:8572/finish-sign-in"`
	LinkSigningKey string        `env:"AUTHSTATE_LINK_SIGNING_KEY"`
	LinkTTL        time.Duration `env:"AUTHSTATE_LINK_TTL"         envDefault:"15m"`
}

// DefaultConfig returns the configuration used when nothing is set. It
// matches the envDefault tags. A zero PendingEmailTTL disables expiry.
func DefaultConfig() Config {
	return Config{
		PendingEmailKey: PendingEmailKey,
		PendingEmailTTL: time.Hour,
		Store:           StoreMemory,
		MemoryStoreSize: 1024,
		RedisAddr:       "127.0.0.1:6379",
		RedisKeyPrefix:  "authstate:",
		SQLiteDSN:       "file:authstate.db?cache=shared",
		HTTPAddr:        ":8572",
		HTTPPrefix:      "/auth",
		LinkBaseURL:     "http://localhost:8572/finish-sign-in",
		LinkTTL:         15 * time.Minute,
	}
}

// LoadConfigFromEnv parses the environment and fills anything left empty.
func LoadConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return DefaultConfig(), goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid authstate environment configuration")
	}
	return cfg.normalize(), nil
}

func (c Config) normalize() Config {
	def := DefaultConfig()

	if strings.TrimSpace(c.PendingEmailKey) == "" {
		c.PendingEmailKey = def.PendingEmailKey
	}
	if c.PendingEmailTTL < 0 {
		c.PendingEmailTTL = 0
	}

	c.Store = strings.ToLower(strings.TrimSpace(c.Store))
	if c.Store == "" {
		c.Store = def.Store
	}
	if c.MemoryStoreSize <= 0 {
		c.MemoryStoreSize = def.MemoryStoreSize
	}
	if c.RedisAddr == "" {
		c.RedisAddr = def.RedisAddr
	}
	if c.SQLiteDSN == "" {
		c.SQLiteDSN = def.SQLiteDSN
	}
	if c.HTTPAddr == "" {
		c.HTTPAddr = def.HTTPAddr
	}
	if c.HTTPPrefix == "" {
		c.HTTPPrefix = def.HTTPPrefix
	}
	if c.LinkBaseURL == "" {
		c.LinkBaseURL = def.LinkBaseURL
	}
	if c.LinkTTL <= 0 {
		c.LinkTTL = def.LinkTTL
	}
	return c
}
