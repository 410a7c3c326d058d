package sync

import (
	"bufio"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gobox/gobox/internal/utils"
	gitignore "github.com/sabhiram/go-gitignore"
)

const IgnoreFileName = ".boxignore"

var defaultIgnoreLines = []string{
	// gobox
	IgnoreFileName,
	tempFilePattern,
	// VCS
	".git",
	".hg",
	".svn",
	// editors
	"*.swp",
	"*~",
	".idea",
	// General excludes
	"*.tmp",
	// OS-specific
	".DS_Store",
	"Thumbs.db",
	"desktop.ini",
}

// SyncIgnoreList decides which relative paths never take part in a sync.
type SyncIgnoreList struct {
	baseDir string
	ignore  *gitignore.GitIgnore
	rules   int
}

func NewSyncIgnoreList(baseDir string) *SyncIgnoreList {
	return &SyncIgnoreList{
		baseDir: baseDir,
		ignore:  gitignore.CompileIgnoreLines(defaultIgnoreLines...),
	}
}

// Load compiles the default rules plus the lines of the .boxignore file at the
// root of the watched directory, if there is one.
func (s *SyncIgnoreList) Load() {
	ignorePath := filepath.Join(s.baseDir, IgnoreFileName)
	ignoreLines := append([]string{}, defaultIgnoreLines...)
	s.rules = 0

	if utils.FileExists(ignorePath) {
		if file, err := os.Open(ignorePath); err != nil {
			slog.Warn("ignore file open", "path", ignorePath, "error", err)
		} else {
			defer file.Close()

			scanner := bufio.NewScanner(file)
			for scanner.Scan() {
				line := scanner.Text()
				if line != "" {
					ignoreLines = append(ignoreLines, line)
					s.rules++
				}
			}

			if err := scanner.Err(); err != nil {
				slog.Warn("ignore file read", "path", ignorePath, "error", err)
			} else {
				slog.Info("ignore file loaded", "path", ignorePath, "rules", s.rules)
			}
		}
	}

	s.ignore = gitignore.CompileIgnoreLines(ignoreLines...)
}

// ShouldIgnore takes a path relative to the watched root.
func (s *SyncIgnoreList) ShouldIgnore(path string) bool {
	return s.ignore.MatchesPath(path)
}

// Rules is the number of custom rules read from the ignore file.
func (s *SyncIgnoreList) Rules() int {
	return s.rules
}
