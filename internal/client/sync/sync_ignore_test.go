package sync

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncIgnoreList_DefaultAndCustomRules(t *testing.T) {
	baseDir := t.TempDir()
	ignore := NewSyncIgnoreList(baseDir)

	// defaults apply even without an ignore file
	ignore.Load()
	assert.Equal(t, 0, ignore.Rules())

	tests := []struct {
		path    string
		ignored bool
	}{
		{"notes/.DS_Store", true},
		{".git/config", true},
		{"draft.txt.swp", true},
		{"sub/.gobox-1234.tmp", true},
		{IgnoreFileName, true},
		{"notes/todo.txt", false},
		{"carlo.txt.conflicted", false},
		{"Pytt/diaco.txt", false},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.ignored, ignore.ShouldIgnore(tc.path), tc.path)
	}

	custom := []byte(`
# comment
**/*.log
private/**
`)
	require.NoError(t, os.WriteFile(filepath.Join(baseDir, IgnoreFileName), custom, 0o644))
	ignore.Load()

	assert.Equal(t, 3, ignore.Rules())
	assert.True(t, ignore.ShouldIgnore("deep/nested/debug.log"))
	assert.True(t, ignore.ShouldIgnore("private/file.txt"))
	assert.False(t, ignore.ShouldIgnore("public/file.txt"))
}

func TestSyncIgnoreList_WithoutLoad(t *testing.T) {
	ignore := NewSyncIgnoreList(t.TempDir())
	assert.True(t, ignore.ShouldIgnore(".DS_Store"))
	assert.False(t, ignore.ShouldIgnore("a.txt"))
}
