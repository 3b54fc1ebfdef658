package process

import (
	"bytes"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
)

const stderrTailSize = 500

// stderrLog forwards a child's stderr to the logger line by line and keeps
// the last few hundred bytes for error reporting.
type stderrLog struct {
	mu      sync.Mutex
	name    string
	partial []byte
	tail    []byte
}

func newStderrLog(name string) *stderrLog {
	return &stderrLog{name: name}
}

func (s *stderrLog) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tail = append(s.tail, p...)
	if over := len(s.tail) - stderrTailSize; over > 0 {
		s.tail = s.tail[over:]
	}

	s.partial = append(s.partial, p...)
	for {
		i := bytes.IndexByte(s.partial, '\n')
		if i < 0 {
			break
		}
		s.emit(s.partial[:i])
		s.partial = s.partial[i+1:]
	}
	return len(p), nil
}

// Flush logs any unterminated final line.
func (s *stderrLog) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.partial) > 0 {
		s.emit(s.partial)
		s.partial = nil
	}
}

func (s *stderrLog) emit(line []byte) {
	text := strings.TrimSpace(string(line))
	if text != "" {
		log.Warn(text, "process", s.name)
	}
}

// Tail returns the most recent stderr output.
func (s *stderrLog) Tail() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.TrimSpace(string(s.tail))
}
