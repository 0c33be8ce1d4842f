package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env        string `yaml:"env" env:"APP_ENV" env-default:"production"`
	LogLevel   string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	Version    string `yaml:"version" env:"APP_VERSION" env-default:"dev"`
	Commit     string `yaml:"commit" env:"APP_COMMIT" env-default:"none"`
	HTTPServer `yaml:"http_server"`
	GRPC       `yaml:"grpc"`
	DB         `yaml:"db"`
	Redis      `yaml:"redis"`
	Tokens     `yaml:"tokens"`
	RateLimit  `yaml:"rate_limit"`
}

type HTTPServer struct {
	Address        string        `yaml:"address" env:"HTTP_ADDR" env-default:":8080"`
	IdleTimeout    time.Duration `yaml:"idle_timeout" env:"HTTP_IDLE_TIMEOUT" env-default:"60s"`
	ReadTimeout    time.Duration `yaml:"read_timeout" env:"HTTP_READ_TIMEOUT" env-default:"10s"`
	WriteTimeout   time.Duration `yaml:"write_timeout" env:"HTTP_WRITE_TIMEOUT" env-default:"10s"`
	MaxBodyBytes   int64         `yaml:"max_body_bytes" env:"HTTP_MAX_BODY_BYTES" env-default:"1048576"`
	CORSOrigins    []string      `yaml:"cors_origins" env:"CORS_ORIGINS" env-separator:"," env-default:"http://localhost:3000"`
	TrustedProxies bool          `yaml:"trusted_proxies" env:"HTTP_TRUST_PROXY" env-default:"false"`
}

type GRPC struct {
	Address string `yaml:"address" env:"GRPC_ADDR" env-default:":9090"`
}

type DB struct {
	DSN string `yaml:"dsn" env:"PAYERBOOK_PG_DSN"`
}

type Redis struct {
	Address  string `yaml:"address" env:"REDIS_ADDR"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

type Tokens struct {
	AccessSecret  string        `yaml:"access_secret" env:"JWT_ACCESS_SECRET"`
	RefreshSecret string        `yaml:"refresh_secret" env:"JWT_REFRESH_SECRET"`
	Issuer        string        `yaml:"issuer" env:"JWT_ISSUER" env-default:"payerbook"`
	AccessTTL     time.Duration `yaml:"access_ttl" env:"ACCESS_TOKEN_TTL" env-default:"15m"`
	RefreshTTL    time.Duration `yaml:"refresh_ttl" env:"REFRESH_TOKEN_TTL" env-default:"168h"`
	BcryptCost    int           `yaml:"bcrypt_cost" env:"BCRYPT_COST" env-default:"10"`
}

type RateLimit struct {
	RPS   float64 `yaml:"rps" env:"AUTH_RATE_LIMIT_RPS" env-default:"5"`
	Burst int     `yaml:"burst" env:"AUTH_RATE_LIMIT_BURST" env-default:"10"`
}

// IsDevelopment reports whether the refresh cookie may drop the Secure flag.
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(strings.TrimSpace(c.Env), "development")
}

// Load reads the optional YAML file at path and overlays environment
// variables. An empty path reads the environment only.
func Load(path string) (*Config, error) {
	var cfg Config
	var err error
	if strings.TrimSpace(path) == "" {
		err = cleanenv.ReadEnv(&cfg)
	} else {
		err = cleanenv.ReadConfig(path, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.Tokens.AccessSecret) == "" || strings.TrimSpace(c.Tokens.RefreshSecret) == "" {
		return errors.New("config: JWT_ACCESS_SECRET and JWT_REFRESH_SECRET are required")
	}
	if c.Tokens.AccessSecret == c.Tokens.RefreshSecret {
		return errors.New("config: access and refresh secrets must differ")
	}
	if c.Tokens.AccessTTL <= 0 || c.Tokens.RefreshTTL <= 0 {
		return errors.New("config: token lifetimes must be positive")
	}
	if c.RateLimit.RPS < 0 || c.RateLimit.Burst < 0 {
		return errors.New("config: rate limit must not be negative")
	}
	return nil
}
