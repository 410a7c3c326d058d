package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	cwd, err := os.Getwd()
	require.NoError(t, err)

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "empty", input: "", wantErr: true},
		{name: "home", input: "~", want: home},
		{name: "under home", input: "~/GoBox", want: filepath.Join(home, "GoBox")},
		{name: "relative", input: "./box/../data", want: filepath.Join(cwd, "data")},
		{name: "absolute", input: filepath.Join(cwd, "a", "..", "b"), want: filepath.Join(cwd, "b")},
		{name: "tilde inside a name", input: "~backup", want: filepath.Join(cwd, "~backup")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolvePath(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrEmptyPath)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEnsureParentAndExists(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "a", "b", "state.db")

	assert.False(t, DirExists(filepath.Dir(file)))
	require.NoError(t, EnsureParent(file))
	assert.True(t, DirExists(filepath.Dir(file)))
	require.NoError(t, EnsureParent(file), "existing parent")

	assert.False(t, FileExists(file))
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	assert.True(t, FileExists(file))
	assert.False(t, DirExists(file))
	assert.False(t, FileExists(dir))
}
