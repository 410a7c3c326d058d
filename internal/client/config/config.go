package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
	"github.com/gobox/gobox/internal/utils"
	"github.com/spf13/viper"
)

const (
	WatcherNotify = "notify"
	WatcherPoll   = "poll"
)

var (
	home, _            = os.UserHomeDir()
	DefaultConfigPath  = filepath.Join(home, ".gobox", "config.json")
	DefaultDataDir     = filepath.Join(home, ".gobox")
	DefaultWatchDir    = filepath.Join(home, "GoBox")
	DefaultServerURL   = "http://127.0.0.1:8080"
	DefaultControlAddr = "127.0.0.1:7939"

	DefaultSyncInterval = 30 * time.Second
	DefaultPollInterval = 2 * time.Second
	DefaultDebounce     = 500 * time.Millisecond
)

var (
	ErrNoWatchDir   = errors.New("config: watch_dir is required")
	ErrNoServerURL  = errors.New("config: server_url is required")
	ErrBadWatcher   = errors.New("config: watcher must be notify or poll")
	ErrBadInterval  = errors.New("config: intervals must be positive")
	ErrBadServerURL = errors.New("config: server_url must be an http(s) url")
)

type Config struct {
	WatchDir     string        `json:"watch_dir" mapstructure:"watch_dir"`
	DataDir      string        `json:"data_dir" mapstructure:"data_dir"`
	ServerURL    string        `json:"server_url" mapstructure:"server_url"`
	Username     string        `json:"username,omitempty" mapstructure:"username"`
	Password     string        `json:"password,omitempty" mapstructure:"password"`
	ControlAddr  string        `json:"control_addr" mapstructure:"control_addr"`
	SyncInterval time.Duration `json:"sync_interval" mapstructure:"sync_interval"`
	Watcher      string        `json:"watcher" mapstructure:"watcher"`
	PollInterval time.Duration `json:"poll_interval" mapstructure:"poll_interval"`
	Debounce     time.Duration `json:"debounce" mapstructure:"debounce"`
	Path         string        `json:"-" mapstructure:"-"`
}

// SetDefaults registers every key on v, which also lets AutomaticEnv find
// keys that were never set.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("watch_dir", DefaultWatchDir)
	v.SetDefault("data_dir", DefaultDataDir)
	v.SetDefault("server_url", DefaultServerURL)
	v.SetDefault("username", "")
	v.SetDefault("password", "")
	v.SetDefault("control_addr", DefaultControlAddr)
	v.SetDefault("sync_interval", DefaultSyncInterval)
	v.SetDefault("watcher", WatcherNotify)
	v.SetDefault("poll_interval", DefaultPollInterval)
	v.SetDefault("debounce", DefaultDebounce)
}

// FromViper builds a config from the merged flags, env and file of v.
func FromViper(v *viper.Viper) *Config {
	return &Config{
		WatchDir:     v.GetString("watch_dir"),
		DataDir:      v.GetString("data_dir"),
		ServerURL:    v.GetString("server_url"),
		Username:     v.GetString("username"),
		Password:     v.GetString("password"),
		ControlAddr:  v.GetString("control_addr"),
		SyncInterval: v.GetDuration("sync_interval"),
		Watcher:      v.GetString("watcher"),
		PollInterval: v.GetDuration("poll_interval"),
		Debounce:     v.GetDuration("debounce"),
		Path:         v.ConfigFileUsed(),
	}
}

// Validate checks the config and resolves paths to absolute ones. The watch
// directory must already exist.
func (c *Config) Validate() error {
	var err error

	if c.WatchDir == "" {
		return ErrNoWatchDir
	}
	if c.WatchDir, err = utils.ResolvePath(c.WatchDir); err != nil {
		return fmt.Errorf("config: watch_dir: %w", err)
	}
	if !utils.DirExists(c.WatchDir) {
		return fmt.Errorf("config: watch_dir %q is not a directory", c.WatchDir)
	}

	if c.DataDir == "" {
		c.DataDir = DefaultDataDir
	}
	if c.DataDir, err = utils.ResolvePath(c.DataDir); err != nil {
		return fmt.Errorf("config: data_dir: %w", err)
	}

	if c.Path != "" {
		if c.Path, err = utils.ResolvePath(c.Path); err != nil {
			return fmt.Errorf("config: path: %w", err)
		}
	}

	if c.ServerURL == "" {
		return ErrNoServerURL
	}
	u, err := url.Parse(c.ServerURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrBadServerURL, c.ServerURL)
	}

	if _, _, err := net.SplitHostPort(c.ControlAddr); err != nil {
		return fmt.Errorf("config: control_addr %q: %w", c.ControlAddr, err)
	}

	if c.Watcher == "" {
		c.Watcher = WatcherNotify
	}
	if c.Watcher != WatcherNotify && c.Watcher != WatcherPoll {
		return fmt.Errorf("%w: got %q", ErrBadWatcher, c.Watcher)
	}

	if c.SyncInterval <= 0 || c.PollInterval <= 0 || c.Debounce <= 0 {
		return ErrBadInterval
	}

	return nil
}

func (c *Config) LogFilePath() string {
	return filepath.Join(c.DataDir, "logs", "gobox.log")
}

// Save writes the config as JSON. The password is never written.
func (c *Config) Save(path string) error {
	if err := utils.EnsureParent(path); err != nil {
		return err
	}

	cp := *c
	cp.Password = ""
	data, err := json.MarshalIndent(&cp, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func LoadClientConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.Path = path
	return &cfg, nil
}
