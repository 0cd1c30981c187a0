package util

import (
	"os"
	"path/filepath"
)

// FindGitRoot walks upward from start looking for a .git directory. It
// returns start unchanged when no repository root is found.
func FindGitRoot(start string) string {
	dir, err := filepath.Abs(start)
	if err != nil {
		return start
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return start
		}
		dir = parent
	}
}
