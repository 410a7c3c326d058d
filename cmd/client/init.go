package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/gobox/gobox/internal/client/config"
	"github.com/gobox/gobox/internal/utils"
	"github.com/spf13/cobra"
)

var ErrAlreadyInitialized = errors.New("gobox already initialized")

func init() {
	rootCmd.AddCommand(newInitCmd())
}

func newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a GoBox config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := resolveConfigPath(cmd)
			if existing, err := config.LoadClientConfig(path); err == nil && !force {
				printConfig(cmd.OutOrStdout(), existing)
				return fmt.Errorf("%w, use --force to overwrite", ErrAlreadyInitialized)
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := utils.EnsureDir(cfg.WatchDir); err != nil {
				return fmt.Errorf("create watch dir: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			cmd.SilenceUsage = true
			if err := cfg.Save(path); err != nil {
				return err
			}
			cfg.Path = path

			fmt.Fprintln(cmd.OutOrStdout(), "GoBox initialized")
			printConfig(cmd.OutOrStdout(), cfg)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.SortFlags = false
	flags.StringP("watch-dir", "w", config.DefaultWatchDir, "Directory to keep in sync")
	flags.StringP("data-dir", "d", config.DefaultDataDir, "Directory for the sync state and logs")
	flags.StringP("server", "s", config.DefaultServerURL, "GoBox server URL")
	flags.StringP("username", "u", "", "Username for the GoBox server")
	flags.String("watcher", config.WatcherNotify, "Change detection backend, notify or poll")
	flags.BoolVarP(&force, "force", "f", false, "Overwrite an existing config file")

	return cmd
}

func printConfig(w io.Writer, cfg *config.Config) {
	fmt.Fprintf(w, "Config Path: %s\n", green(cfg.Path))
	fmt.Fprintf(w, "Watch Dir:   %s\n", cyan(cfg.WatchDir))
	fmt.Fprintf(w, "Data Dir:    %s\n", cyan(cfg.DataDir))
	fmt.Fprintf(w, "Server:      %s\n", cyan(cfg.ServerURL))
	if cfg.Username != "" {
		fmt.Fprintf(w, "Username:    %s\n", cyan(cfg.Username))
	}
}
