package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gobox/gobox/internal/client/config"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// parseDaemonFlags attaches a fresh daemon command to a fresh root and parses
// args, without running it.
func parseDaemonFlags(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	root := newRootCmd()
	cmd := newDaemonCmd()
	root.AddCommand(cmd)
	require.NoError(t, cmd.ParseFlags(args))
	return cmd
}

func isolateEnv(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	t.Setenv(envConfigPath, path)
	for _, key := range []string{"WATCH_DIR", "DATA_DIR", "SERVER_URL", "USERNAME", "PASSWORD", "CONTROL_ADDR", "WATCHER", "SYNC_INTERVAL"} {
		t.Setenv(envPrefix+"_"+key, "")
		os.Unsetenv(envPrefix + "_" + key)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := isolateEnv(t)

	cfg, err := loadConfig(parseDaemonFlags(t))
	require.NoError(t, err)

	assert.Equal(t, path, cfg.Path)
	assert.Equal(t, config.DefaultServerURL, cfg.ServerURL)
	assert.Equal(t, config.DefaultControlAddr, cfg.ControlAddr)
	assert.Equal(t, config.WatcherNotify, cfg.Watcher)
	assert.Equal(t, config.DefaultSyncInterval, cfg.SyncInterval)
	assert.Equal(t, config.DefaultDebounce, cfg.Debounce)
}

func TestLoadConfigJSON(t *testing.T) {
	path := isolateEnv(t)
	watchDir := t.TempDir()

	dummyConfig := `{
	"watch_dir": "` + filepath.ToSlash(watchDir) + `",
	"server_url": "https://files.example.com",
	"username": "alice",
	"watcher": "poll",
	"sync_interval": "10s"
}`
	require.NoError(t, os.WriteFile(path, []byte(dummyConfig), 0o644))

	cfg, err := loadConfig(parseDaemonFlags(t))
	require.NoError(t, err)

	assert.Equal(t, filepath.ToSlash(watchDir), cfg.WatchDir)
	assert.Equal(t, "https://files.example.com", cfg.ServerURL)
	assert.Equal(t, "alice", cfg.Username)
	assert.Equal(t, config.WatcherPoll, cfg.Watcher)
	assert.Equal(t, 10*time.Second, cfg.SyncInterval)
}

func TestLoadConfigPrecedence(t *testing.T) {
	path := isolateEnv(t)
	require.NoError(t, os.WriteFile(path, []byte(`{"server_url": "http://file:8080", "username": "from-file"}`), 0o644))
	t.Setenv("GOBOX_SERVER_URL", "http://env:8080")
	t.Setenv("GOBOX_USERNAME", "from-env")

	cfg, err := loadConfig(parseDaemonFlags(t, "--server", "http://flag:8080"))
	require.NoError(t, err)

	assert.Equal(t, "http://flag:8080", cfg.ServerURL)
	assert.Equal(t, "from-env", cfg.Username)
}

func TestLoadConfigBadFile(t *testing.T) {
	path := isolateEnv(t)
	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0o644))

	_, err := loadConfig(parseDaemonFlags(t))
	assert.Error(t, err)
}

func TestResolveConfigPath(t *testing.T) {
	t.Setenv(envConfigPath, "")
	os.Unsetenv(envConfigPath)

	root := newRootCmd()
	assert.Equal(t, config.DefaultConfigPath, resolveConfigPath(root))

	t.Setenv(envConfigPath, "/tmp/from-env.json")
	assert.Equal(t, "/tmp/from-env.json", resolveConfigPath(root))

	require.NoError(t, root.PersistentFlags().Set("config", "/tmp/from-flag.json"))
	assert.Equal(t, "/tmp/from-flag.json", resolveConfigPath(root))
}

func TestInitCommand(t *testing.T) {
	path := isolateEnv(t)
	watchDir := filepath.Join(t.TempDir(), "box")
	dataDir := filepath.Join(t.TempDir(), "data")
	args := []string{"init", "--watch-dir", watchDir, "--data-dir", dataDir, "--server", "http://127.0.0.1:9000", "--username", "alice"}

	out, err := runCmd(t, newInitCmd(), args...)
	require.NoError(t, err)
	assert.Contains(t, out, "GoBox initialized")
	assert.DirExists(t, watchDir)

	saved, err := config.LoadClientConfig(path)
	require.NoError(t, err)
	assert.Equal(t, watchDir, saved.WatchDir)
	assert.Equal(t, "http://127.0.0.1:9000", saved.ServerURL)
	assert.Equal(t, "alice", saved.Username)

	_, err = runCmd(t, newInitCmd(), args...)
	assert.ErrorIs(t, err, ErrAlreadyInitialized)

	_, err = runCmd(t, newInitCmd(), append(args, "--force")...)
	assert.NoError(t, err)
}

func TestConfigCommand(t *testing.T) {
	path := isolateEnv(t)

	out, err := runCmd(t, newConfigCmd(), "config", "path")
	require.NoError(t, err)
	assert.Equal(t, path+" (missing)\n", out)

	require.NoError(t, os.WriteFile(path, []byte(`{"server_url": "http://box:8080", "password": "hunter2"}`), 0o600))
	t.Setenv("GOBOX_WATCHER", "poll")

	out, err = runCmd(t, newConfigCmd(), "config", "path")
	require.NoError(t, err)
	assert.Equal(t, path+"\n", out)

	out, err = runCmd(t, newConfigCmd(), "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "http://box:8080")
	assert.Contains(t, out, "Watcher:     poll")
	assert.Contains(t, out, "hunt*****")
	assert.NotContains(t, out, "hunter2")
}

func TestCLI_UnreachableDaemonExitsNonZero(t *testing.T) {
	out, code := runCLI(t, "ctl", "status", "--control-addr", "127.0.0.1:1")
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "ERROR")
	assert.Contains(t, out, "127.0.0.1:1")
}

func TestCLI_UnknownCommand(t *testing.T) {
	_, code := runCLI(t, "frobnicate")
	assert.Equal(t, 1, code)
}
