package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/gobox/gobox/internal/client/config"
	"github.com/gobox/gobox/internal/utils"
	"github.com/gobox/gobox/internal/version"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	envPrefix     = "GOBOX"
	envConfigPath = "GOBOX_CONFIG_PATH"
	logTimeFormat = "2006-01-02T15:04:05.000Z07:00"
)

const goboxArt = `
  __ _  ___ | |__   _____  __
 / _  |/ _ \| '_ \ / _ \ \/ /
| (_| | (_) | |_) | (_) >  <
 \__, |\___/|_.__/ \___/_/\_\
 |___/`

var (
	red   = color.New(color.FgHiRed, color.Bold).SprintFunc()
	green = color.New(color.FgHiGreen).SprintFunc()
	cyan  = color.New(color.FgHiCyan).SprintFunc()
)

// flagKeys maps cli flags to config keys. Flags a command does not define are
// skipped when binding.
var flagKeys = map[string]string{
	"watch-dir":     "watch_dir",
	"data-dir":      "data_dir",
	"server":        "server_url",
	"username":      "username",
	"control-addr":  "control_addr",
	"sync-interval": "sync_interval",
	"watcher":       "watcher",
	"poll-interval": "poll_interval",
}

var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "gobox",
		Short:         "GoBox file sync client",
		Version:       version.Detailed(),
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringP("config", "c", config.DefaultConfigPath, "GoBox config file")
	return cmd
}

func main() {
	slog.SetDefault(slog.New(newTerminalHandler(os.Stdout)))

	// Setup root context with signal handling
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %s\n", red("ERROR"), err)
		os.Exit(1)
	}
}

func newTerminalHandler(w *os.File) slog.Handler {
	return tint.NewHandler(w, &tint.Options{
		Level:      slog.LevelDebug,
		TimeFormat: logTimeFormat,
		NoColor:    !isatty.IsTerminal(w.Fd()),
	})
}

// setupFileLogging adds the log file next to the terminal output. The returned
// closer flushes and closes the file.
func setupFileLogging(logFile string) (io.Closer, error) {
	if err := utils.EnsureParent(logFile); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	logInterceptor := utils.NewLogInterceptor(file)
	fileHandler := slog.NewTextHandler(logInterceptor, &slog.HandlerOptions{
		Level: slog.LevelDebug,
		// the interceptor stamps every line already
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			return a
		},
	})

	slog.SetDefault(slog.New(utils.NewMultiLogHandler(newTerminalHandler(os.Stdout), fileHandler)))
	return closerFunc(func() error {
		return errors.Join(logInterceptor.Close(), file.Close())
	}), nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// loadConfig merges, lowest first: defaults, the config file, GOBOX_* env
// and the flags of cmd.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	v := viper.New()
	config.SetDefaults(v)

	path := resolveConfigPath(cmd)
	v.SetConfigFile(path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		enoent := errors.Is(err, os.ErrNotExist)
		_, ok := err.(viper.ConfigFileNotFoundError)
		if !enoent && !ok {
			return nil, fmt.Errorf("config read '%s': %w", path, err)
		}
	}

	var bindErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if key, ok := flagKeys[f.Name]; ok {
			bindErr = errors.Join(bindErr, v.BindPFlag(key, f))
		}
	})
	if bindErr != nil {
		return nil, bindErr
	}

	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	cfg := config.FromViper(v)
	cfg.Path = path
	return cfg, nil
}

func showGoBoxHeader() {
	color.New(color.FgHiCyan, color.Bold).Print(goboxArt + "\n\n")
}
