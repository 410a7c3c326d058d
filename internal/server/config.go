package server

import (
	"errors"
	"fmt"
	"net"

	"github.com/ulule/limiter/v3"
)

const (
	DefaultAddr    = "127.0.0.1:8080"
	DefaultDataDir = ".data"

	DefaultUserRateLimit = "20-M"
)

var ErrInvalidConfig = errors.New("invalid server config")

type Config struct {
	Http        HttpConfig `mapstructure:"http"`
	DataDir     string     `mapstructure:"data_dir"`
	InMemory    bool       `mapstructure:"in_memory"`
	RequireAuth bool       `mapstructure:"require_auth"`
	// UserRateLimit applies to registration and activation, e.g. "20-M".
	UserRateLimit string `mapstructure:"user_rate_limit"`
}

type HttpConfig struct {
	Addr     string `mapstructure:"addr"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

func DefaultConfig() *Config {
	return &Config{
		Http:          HttpConfig{Addr: DefaultAddr},
		DataDir:       DefaultDataDir,
		UserRateLimit: DefaultUserRateLimit,
	}
}

func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.Http.Addr); err != nil {
		return fmt.Errorf("%w: addr %q: %w", ErrInvalidConfig, c.Http.Addr, err)
	}
	if (c.Http.CertFile == "") != (c.Http.KeyFile == "") {
		return fmt.Errorf("%w: cert_file and key_file go together", ErrInvalidConfig)
	}
	if !c.InMemory && c.DataDir == "" {
		return fmt.Errorf("%w: data_dir is required", ErrInvalidConfig)
	}
	if c.UserRateLimit == "" {
		c.UserRateLimit = DefaultUserRateLimit
	}
	if _, err := limiter.NewRateFromFormatted(c.UserRateLimit); err != nil {
		return fmt.Errorf("%w: user_rate_limit %q: %w", ErrInvalidConfig, c.UserRateLimit, err)
	}
	return nil
}
