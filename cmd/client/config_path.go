package main

import (
	"os"

	"github.com/gobox/gobox/internal/client/config"
	"github.com/spf13/cobra"
)

// resolveConfigPath honors, in order, an explicit --config flag, the
// GOBOX_CONFIG_PATH env var and the default path.
func resolveConfigPath(cmd *cobra.Command) string {
	if cfgFlag := cmd.Flag("config"); cfgFlag != nil && cfgFlag.Changed {
		return cfgFlag.Value.String()
	}

	if envPath := os.Getenv(envConfigPath); envPath != "" {
		return envPath
	}

	return config.DefaultConfigPath
}
