package main

import (
	"fmt"

	"github.com/gobox/gobox/internal/utils"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newConfigCmd())
}

func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the GoBox client config",
	}

	configCmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Print the resolved config file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := resolveConfigPath(cmd)
			if !utils.FileExists(path) {
				path += " (missing)"
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), path)
			return err
		},
	})

	configCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the config after merging file, env and defaults",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			printConfig(w, cfg)
			fmt.Fprintf(w, "Control:     %s\n", cyan(cfg.ControlAddr))
			fmt.Fprintf(w, "Watcher:     %s\n", cyan(cfg.Watcher))
			fmt.Fprintf(w, "Interval:    %s\n", cyan(cfg.SyncInterval))
			if cfg.Password != "" {
				fmt.Fprintf(w, "Password:    %s\n", utils.MaskSecret(cfg.Password))
			}
			return nil
		},
	})

	return configCmd
}
