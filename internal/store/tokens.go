package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// TokenList is the durable set of tracked base mints. Mints are only
// ever added; the file on disk is the source of truth across restarts.
type TokenList struct {
	path string

	mu    sync.Mutex
	order []string
	seen  map[string]bool
}

// NewTokenList builds a token list backed by the given file path.
func NewTokenList(path string) *TokenList {
	return &TokenList{path: path, seen: make(map[string]bool)}
}

// Load reads the token file from disk. A missing file is not an error.
func (l *TokenList) Load() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read token file: %w", err)
	}

	for _, line := range strings.Split(string(data), "\n") {
		mint := strings.TrimSpace(line)
		if mint == "" || l.seen[mint] {
			continue
		}
		l.order = append(l.order, mint)
		l.seen[mint] = true
	}
	return nil
}

// Add appends a mint if it is not already tracked, persisting it to the
// token file. It reports whether the mint was new.
func (l *TokenList) Add(mint string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.seen[mint] {
		return false, nil
	}

	dir := filepath.Dir(l.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return false, fmt.Errorf("create token dir: %w", err)
		}
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return false, fmt.Errorf("open token file: %w", err)
	}
	if _, err := f.WriteString(mint + "\n"); err != nil {
		f.Close()
		return false, fmt.Errorf("append token: %w", err)
	}
	if err := f.Close(); err != nil {
		return false, fmt.Errorf("close token file: %w", err)
	}

	l.order = append(l.order, mint)
	l.seen[mint] = true
	return true, nil
}

// Contains reports whether a mint is tracked.
func (l *TokenList) Contains(mint string) bool {
	l.mu.Lock()
	ok := l.seen[mint]
	l.mu.Unlock()
	return ok
}

// Snapshot returns the tracked mints in insertion order.
func (l *TokenList) Snapshot() []string {
	l.mu.Lock()
	out := make([]string, len(l.order))
	copy(out, l.order)
	l.mu.Unlock()
	return out
}

// Len returns the number of tracked mints.
func (l *TokenList) Len() int {
	l.mu.Lock()
	n := len(l.order)
	l.mu.Unlock()
	return n
}
