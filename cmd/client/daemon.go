package main

import (
	"log/slog"

	"github.com/gobox/gobox/internal/client"
	"github.com/gobox/gobox/internal/client/config"
	"github.com/gobox/gobox/internal/utils"
	"github.com/gobox/gobox/internal/version"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newDaemonCmd())
}

func newDaemonCmd() *cobra.Command {
	daemonCmd := &cobra.Command{
		Use:   "daemon",
		Short: "Start the GoBox sync daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			// all good now, show header
			cmd.SilenceUsage = true
			showGoBoxHeader()

			logs, err := setupFileLogging(cfg.LogFilePath())
			if err != nil {
				return err
			}
			defer logs.Close()

			slog.Info("gobox", "version", version.Version, "revision", version.Revision, "build", version.BuildDate)
			slog.Info("daemon config",
				"path", cfg.Path,
				"watchDir", cfg.WatchDir,
				"dataDir", cfg.DataDir,
				"server", cfg.ServerURL,
				"username", cfg.Username,
				"password", maskedPassword(cfg.Password),
				"watcher", cfg.Watcher,
			)

			daemon, err := client.NewDaemon(cfg)
			if err != nil {
				return err
			}

			defer slog.Info("Bye!")
			return daemon.Start(cmd.Context())
		},
	}

	flags := daemonCmd.Flags()
	flags.SortFlags = false
	flags.StringP("watch-dir", "w", config.DefaultWatchDir, "Directory to keep in sync")
	flags.StringP("data-dir", "d", config.DefaultDataDir, "Directory for the sync state and logs")
	flags.StringP("server", "s", config.DefaultServerURL, "GoBox server URL")
	flags.StringP("username", "u", "", "Username for the GoBox server")
	flags.StringP("control-addr", "a", config.DefaultControlAddr, "Address to bind the control server")
	flags.String("watcher", config.WatcherNotify, "Change detection backend, notify or poll")
	flags.Duration("sync-interval", config.DefaultSyncInterval, "Interval of the periodic sync")
	flags.Duration("poll-interval", config.DefaultPollInterval, "Scan interval of the poll watcher")

	return daemonCmd
}

func maskedPassword(password string) string {
	if password == "" {
		return ""
	}
	return utils.MaskSecret(password)
}
