package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gobox/gobox/internal/server"
	"github.com/gobox/gobox/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "GOBOX_SERVER"

var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "gobox-server",
		Short:   "GoBox development server",
		Version: version.Detailed(),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			srv, err := server.New(cfg)
			if err != nil {
				return err
			}

			cmd.SilenceUsage = true
			slog.Info("gobox server", "version", version.Version, "addr", cfg.Http.Addr, "inMemory", cfg.InMemory, "dataDir", cfg.DataDir)
			defer slog.Info("Bye!")
			return srv.Start(cmd.Context())
		},
	}

	flags := cmd.Flags()
	flags.SortFlags = false
	flags.StringP("bind", "b", server.DefaultAddr, "Address to bind the server")
	flags.StringP("data-dir", "d", server.DefaultDataDir, "Directory for blobs and the index")
	flags.Bool("in-memory", false, "Keep everything in memory")
	flags.Bool("require-auth", false, "Reject requests without basic auth credentials")
	flags.StringP("cert", "c", "", "Path to the certificate file")
	flags.StringP("key", "k", "", "Path to the key file")
	flags.String("config", "", "Path to a server config file")
	return cmd
}

func main() {
	// Setup logger
	opts := &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}
	handler := slog.NewTextHandler(os.Stdout, opts)
	logger := slog.New(handler)
	slog.SetDefault(logger)

	// Setup root context with signal handling
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// loadConfig layers an optional config file, GOBOX_SERVER_* env and flags over
// server.DefaultConfig.
func loadConfig(cmd *cobra.Command) (*server.Config, error) {
	v := viper.New()

	defaults := server.DefaultConfig()
	v.SetDefault("http.addr", defaults.Http.Addr)
	v.SetDefault("http.cert_file", "")
	v.SetDefault("http.key_file", "")
	v.SetDefault("data_dir", defaults.DataDir)
	v.SetDefault("in_memory", false)
	v.SetDefault("require_auth", false)
	v.SetDefault("user_rate_limit", defaults.UserRateLimit)

	if path, _ := cmd.Flags().GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config read '%s': %w", path, err)
		}
	}

	err := errors.Join(
		v.BindPFlag("http.addr", cmd.Flags().Lookup("bind")),
		v.BindPFlag("http.cert_file", cmd.Flags().Lookup("cert")),
		v.BindPFlag("http.key_file", cmd.Flags().Lookup("key")),
		v.BindPFlag("data_dir", cmd.Flags().Lookup("data-dir")),
		v.BindPFlag("in_memory", cmd.Flags().Lookup("in-memory")),
		v.BindPFlag("require_auth", cmd.Flags().Lookup("require-auth")),
	)
	if err != nil {
		return nil, err
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &server.Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config decode: %w", err)
	}
	return cfg, nil
}
