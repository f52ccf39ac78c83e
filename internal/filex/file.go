package filex

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// EnsureDir creates dir (and parents) when missing and returns its absolute path.
func EnsureDir(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("abs %s: %w", dir, err)
	}
	if err := os.MkdirAll(abs, 0o700); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", abs, err)
	}
	return abs, nil
}

// OwnerDBPath returns the path of the local database file for owner inside
// dataDir, creating dataDir when needed. Characters that are unsafe in file
// names are replaced by '_'.
func OwnerDBPath(dataDir, owner string) (string, error) {
	if owner == "" {
		return "", fmt.Errorf("empty owner")
	}
	dir, err := EnsureDir(dataDir)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, unsafeChars.ReplaceAllString(owner, "_")+".db"), nil
}
