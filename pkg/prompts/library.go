// Package prompts loads agent prompts by name. Prompts are opaque markdown
// blobs stored as <name>.md in a directory.
package prompts

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is used when NewLibrary is given a non-positive size.
const DefaultCacheSize = 64

// DefaultPrompt is used when a named agent prompt is unavailable.
const DefaultPrompt = `You are an expert software engineering agent.
Read the task carefully, state your assumptions, and answer with concrete,
verifiable output.`

var (
	// ErrNotFound means no prompt file exists for the name.
	ErrNotFound    = errors.New("agent prompt not found")
	// ErrInvalidName means the name is empty or escapes the prompt directory.
	ErrInvalidName = errors.New("invalid agent prompt name")
)

// Library reads prompts on demand and caches them.
type Library struct {
	dir   string
	cache *lru.Cache[string, string]
}

// NewLibrary creates a library over dir. The directory may not exist.
func NewLibrary(dir string, size int) (*Library, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, string](size)
	if err != nil {
		return nil, fmt.Errorf("create prompt cache: %w", err)
	}
	return &Library{dir: dir, cache: cache}, nil
}

// Dir returns the prompt directory.
func (l *Library) Dir() string {
	return l.dir
}

// Get returns the prompt stored as <name>.md.
func (l *Library) Get(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if text, ok := l.cache.Get(name); ok {
		return text, nil
	}

	data, err := os.ReadFile(filepath.Join(l.dir, name+".md"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return "", fmt.Errorf("read agent prompt %s: %w", name, err)
	}

	text := string(data)
	l.cache.Add(name, text)
	return text, nil
}

// GetOrDefault returns the named prompt, or DefaultPrompt when it cannot be
// loaded or name is empty.
func (l *Library) GetOrDefault(name string) string {
	if name == "" {
		return DefaultPrompt
	}
	text, err := l.Get(name)
	if err != nil {
		return DefaultPrompt
	}
	return text
}

// Names lists the available prompt names, sorted.
func (l *Library) Names() ([]string, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".md"))
	}
	sort.Strings(names)
	return names, nil
}

// Purge drops all cached prompts.
func (l *Library) Purge() {
	l.cache.Purge()
}
