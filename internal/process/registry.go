// Package process launches and supervises the external tools the pipeline
// depends on (ffmpeg, ffprobe, yt-dlp) and guarantees they are torn down.
package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	// Maximum number of live child processes (prevent runaway spawning)
	MaxProcesses = 64
	// Time a process gets to exit after SIGTERM before it is killed
	DefaultStopGrace = 3 * time.Second
)

var (
	ErrTooManyProcesses = errors.New("too many concurrent processes")
	ErrBinaryNotFound   = errors.New("binary not found")
	ErrAlreadyRunning   = errors.New("process already running")
)

// Proc is a child process tracked by a Registry.
type Proc struct {
	ID      string
	Name    string
	Started time.Time

	cmd    *exec.Cmd
	stderr *stderrLog
	done   chan struct{}
	err    error
}

// Pid returns the operating system process id.
func (p *Proc) Pid() int {
	return p.cmd.Process.Pid
}

// Done is closed once the process has exited and been reaped.
func (p *Proc) Done() <-chan struct{} {
	return p.done
}

// Err returns the exit error, including the tail of stderr. It is only
// meaningful after Done is closed.
func (p *Proc) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

// Alive reports whether the process is still running.
func (p *Proc) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return isProcessAlive(p.Pid())
	}
}

// stop asks the process to exit and kills it if it has not after grace.
func (p *Proc) stop(grace time.Duration) {
	select {
	case <-p.done:
		return
	default:
	}

	if err := terminate(p.cmd); err != nil {
		log.Debug("Failed to signal process", "name", p.Name, "pid", p.Pid(), "error", err)
	}

	t := time.NewTimer(grace)
	defer t.Stop()
	select {
	case <-p.done:
		log.Debug("Process terminated gracefully", "name", p.Name, "pid", p.Pid())
	case <-t.C:
		log.Warn("Process did not terminate gracefully, force killing", "name", p.Name, "pid", p.Pid())
		if err := kill(p.cmd); err != nil {
			log.Error("Failed to force kill process", "name", p.Name, "pid", p.Pid(), "error", err)
		}
		<-p.done
	}
}

// IsAlive reports whether a process with the given pid exists.
func IsAlive(pid int) bool {
	return isProcessAlive(pid)
}

// Registry tracks every child process so they can be destroyed
// individually or all at once on shutdown.
type Registry struct {
	mu       sync.RWMutex
	procs    map[string]*Proc
	maxProcs int
	grace    time.Duration
}

// NewRegistry creates an empty process registry.
func NewRegistry() *Registry {
	return &Registry{
		procs:    make(map[string]*Proc),
		maxProcs: MaxProcesses,
		grace:    DefaultStopGrace,
	}
}

// SetStopGrace changes how long Destroy waits before force killing.
func (r *Registry) SetStopGrace(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.grace = d
}

// Start launches cmd in its own process group, registers it and reaps it in
// the background. The returned reader carries the process stdout and must be
// closed by the caller.
func (r *Registry) Start(name string, cmd *exec.Cmd) (*Proc, *os.File, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Check capacity limit to prevent resource exhaustion
	if len(r.procs) >= r.maxProcs {
		log.Warn("Maximum concurrent processes reached, rejecting new process",
			"current", len(r.procs), "max", r.maxProcs)
		return nil, nil, ErrTooManyProcesses
	}

	// A raw pipe keeps stdout readable after Wait returns.
	stdout, w, err := os.Pipe()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	cmd.Stdout = w
	stderr := newStderrLog(name)
	cmd.Stderr = stderr
	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		stdout.Close()
		w.Close()
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
			return nil, nil, fmt.Errorf("%w: %s: %v", ErrBinaryNotFound, name, err)
		}
		return nil, nil, fmt.Errorf("failed to start %s: %w", name, err)
	}
	w.Close()

	p := &Proc{
		ID:      uuid.NewString(),
		Name:    name,
		Started: time.Now(),
		cmd:     cmd,
		stderr:  stderr,
		done:    make(chan struct{}),
	}
	r.procs[p.ID] = p

	go r.reap(p)

	log.Debug("Registered process", "id", p.ID, "name", name, "pid", p.Pid())
	return p, stdout, nil
}

func (r *Registry) reap(p *Proc) {
	err := p.cmd.Wait()
	p.stderr.Flush()
	runtime := time.Since(p.Started)
	if err != nil {
		if tail := p.stderr.Tail(); tail != "" {
			err = fmt.Errorf("%s: %w: %s", p.Name, err, tail)
		} else {
			err = fmt.Errorf("%s: %w", p.Name, err)
		}
		log.Debug("Process exited with error", "name", p.Name, "runtime", runtime, "error", err)
	} else {
		log.Debug("Process completed", "name", p.Name, "runtime", runtime)
	}
	p.err = err
	close(p.done)
	r.Unregister(p.ID)
}

// Unregister stops tracking a process without signalling it.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.procs[id]; ok {
		delete(r.procs, id)
		log.Debug("Cleaned up process tracking", "id", id)
	}
}

// Destroy terminates a process by id and waits for it to be reaped.
// It returns false if the id is unknown.
func (r *Registry) Destroy(id string) bool {
	r.mu.Lock()
	p, ok := r.procs[id]
	delete(r.procs, id)
	grace := r.grace
	r.mu.Unlock()

	if !ok {
		return false
	}
	log.Debug("Destroying process", "id", id, "name", p.Name)
	p.stop(grace)
	return true
}

// Get returns a tracked process.
func (r *Registry) Get(id string) (*Proc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.procs[id]
	return p, ok
}

// Active returns the number of tracked processes.
func (r *Registry) Active() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.procs)
}

// Shutdown terminates every tracked process in parallel.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	procs := r.procs
	r.procs = make(map[string]*Proc)
	grace := r.grace
	r.mu.Unlock()

	var g errgroup.Group
	for _, p := range procs {
		g.Go(func() error {
			p.stop(grace)
			return nil
		})
	}
	_ = g.Wait()

	log.Info("Process registry shutdown completed", "stopped", len(procs))
}

// Run executes a short-lived tool to completion and returns its stdout.
// Cancelling ctx destroys the process.
func (r *Registry) Run(ctx context.Context, name, path string, args ...string) ([]byte, error) {
	cmd := exec.Command(path, args...)
	p, stdout, err := r.Start(name, cmd)
	if err != nil {
		return nil, err
	}
	defer stdout.Close()

	stop := context.AfterFunc(ctx, func() { r.Destroy(p.ID) })
	defer stop()

	var out bytes.Buffer
	_, copyErr := io.Copy(&out, stdout)
	<-p.Done()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := p.Err(); err != nil {
		return nil, err
	}
	if copyErr != nil {
		return nil, fmt.Errorf("failed to read %s output: %w", name, copyErr)
	}
	return out.Bytes(), nil
}
