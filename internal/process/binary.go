package process

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
)

// binaryLookup holds the cached resolution of one executable.
type binaryLookup struct {
	once sync.Once
	path string
	err  error
}

// Locator resolves tool names to executable paths. Each name is looked up
// once for the lifetime of the Locator.
type Locator struct {
	mu      sync.Mutex
	entries map[string]*binaryLookup
}

func NewLocator() *Locator {
	return &Locator{entries: make(map[string]*binaryLookup)}
}

// Locate returns an executable path for name. Names containing a path
// separator are checked in place; bare names are searched in PATH.
func (l *Locator) Locate(name string) (string, error) {
	l.mu.Lock()
	e, ok := l.entries[name]
	if !ok {
		e = &binaryLookup{}
		l.entries[name] = e
	}
	l.mu.Unlock()

	e.once.Do(func() {
		e.path, e.err = lookup(name)
	})
	return e.path, e.err
}

// Available reports whether name resolves to an executable.
func (l *Locator) Available(name string) bool {
	_, err := l.Locate(name)
	return err == nil
}

// Reset drops every cached lookup.
func (l *Locator) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = make(map[string]*binaryLookup)
}

func lookup(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: empty name", ErrBinaryNotFound)
	}
	if strings.ContainsRune(name, filepath.Separator) || strings.ContainsRune(name, '/') {
		fi, err := os.Stat(name)
		if err != nil {
			return "", fmt.Errorf("%w: %s: %v", ErrBinaryNotFound, name, err)
		}
		if fi.IsDir() {
			return "", fmt.Errorf("%w: %s is a directory", ErrBinaryNotFound, name)
		}
		return name, nil
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrBinaryNotFound, name)
	}
	return path, nil
}

// MissingBinaryHint returns a user-facing message for a missing tool.
func MissingBinaryHint(name string) string {
	return "\"" + name + "\" is not installed or not in PATH. " +
		"Install it with your package manager or point the config at the binary."
}
