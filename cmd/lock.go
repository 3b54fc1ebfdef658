/*
Copyright © 2025 blacktop

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/blacktop/harmonics/internal/process"
	"github.com/charmbracelet/log"
)

// playbackLockDir is shared by every harmonics process on the host.
var playbackLockDir = filepath.Join(os.TempDir(), "harmonics-playback.lock.d")

// lockContent stores structured information in the lock file
type lockContent struct {
	PID       int       `json:"pid"`
	StartTime time.Time `json:"start_time"`
	Hostname  string    `json:"hostname"`
	Source    string    `json:"source,omitempty"`
}

// Directory-based file locking for playback coordination (mkdir is atomic)
type playbackMutex struct {
	lockDir     string
	contentFile string
	source      string
}

func newPlaybackMutex(lockDir, source string) *playbackMutex {
	return &playbackMutex{
		lockDir:     lockDir,
		contentFile: filepath.Join(lockDir, "content.json"),
		source:      source,
	}
}

// acquirePlaybackLock waits until no other harmonics process is playing.
// With sequential playback disabled it returns immediately.
func acquirePlaybackLock(ctx context.Context, enabled bool, source string) (release func(), err error) {
	if !enabled {
		log.Debug("Sequential playback disabled, skipping global lock", "pid", os.Getpid())
		return func() {}, nil
	}

	lock := newPlaybackMutex(playbackLockDir, source)

	log.Debug("Attempting to acquire playback lock", "lockDir", lock.lockDir, "pid", os.Getpid())
	acquired := make(chan error, 1)
	go func() {
		acquired <- lock.acquireLock(ctx)
	}()

	select {
	case err := <-acquired:
		if err != nil {
			log.Debug("Failed to acquire playback lock", "lockDir", lock.lockDir, "error", err)
			return nil, err
		}
		log.Debug("Playback lock acquired", "lockDir", lock.lockDir, "pid", os.Getpid())
		return func() {
			lock.releaseLock()
			log.Debug("Playback lock released", "lockDir", lock.lockDir, "pid", os.Getpid())
		}, nil
	case <-ctx.Done():
		// The goroutine may still win the race; release whatever it gets.
		go func() {
			if err := <-acquired; err == nil {
				lock.releaseLock()
			}
		}()
		return nil, ctx.Err()
	}
}

// acquireLock attempts to get the global lock with retry using atomic directory creation
func (m *playbackMutex) acquireLock(ctx context.Context) error {
	for {
		err := os.Mkdir(m.lockDir, 0755)
		if err == nil {
			hostname, _ := os.Hostname()
			content := lockContent{
				PID:       os.Getpid(),
				StartTime: time.Now(),
				Hostname:  hostname,
				Source:    m.source,
			}
			if data, err := json.Marshal(content); err == nil {
				os.WriteFile(m.contentFile, data, 0644)
			}
			return nil
		}

		if !os.IsExist(err) {
			return fmt.Errorf("failed to create lock directory: %w", err)
		}

		if m.atomicCleanupStale() {
			log.Debug("Cleaned up stale playback lock, retrying", "lockDir", m.lockDir)
			continue
		}

		// Wait and retry with jitter to prevent synchronized attempts
		jitter := time.Duration(25+rand.Intn(50)) * time.Millisecond
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jitter):
		}
	}
}

func (m *playbackMutex) releaseLock() {
	os.Remove(m.contentFile)
	if err := os.Remove(m.lockDir); err != nil {
		// stale detection will clean it up
		log.Debug("Failed to remove lock directory", "lockDir", m.lockDir, "error", err)
	}
}

// holder returns the recorded lock owner, if readable.
func (m *playbackMutex) holder() (*lockContent, bool) {
	data, err := os.ReadFile(m.contentFile)
	if err != nil {
		return nil, false
	}
	var content lockContent
	if json.Unmarshal(data, &content) != nil {
		return nil, false
	}
	return &content, true
}

// atomicCleanupStale uses atomic rename to safely clean up stale directory locks
func (m *playbackMutex) atomicCleanupStale() bool {
	if !m.isStale() {
		return false
	}

	staleDir := m.lockDir + ".stale." + strconv.Itoa(os.Getpid()) + "." + strconv.FormatInt(time.Now().UnixNano(), 36)
	if err := os.Rename(m.lockDir, staleDir); err != nil {
		// Another process may have already cleaned it up or acquired the lock
		return false
	}
	if content, ok := (&playbackMutex{contentFile: filepath.Join(staleDir, "content.json")}).holder(); ok {
		log.Warn("Removed stale playback lock", "pid", content.PID, "source", content.Source)
	}
	os.RemoveAll(staleDir)
	return true
}

// isStale reports whether the lock owner is gone. Live owners are never timed
// out; a lock without readable metadata is stale after a grace period.
func (m *playbackMutex) isStale() bool {
	if content, ok := m.holder(); ok {
		return !process.IsAlive(content.PID)
	}

	const grace = 5 * time.Minute
	if fi, err := os.Stat(m.lockDir); err == nil {
		return time.Since(fi.ModTime()) > grace
	}
	return true
}
