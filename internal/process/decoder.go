package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"maps"
	"os"
	"os/exec"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
)

// ChunkSize is the size of the PCM chunks produced by DecodeFile.
const ChunkSize = 8192

// Decoder runs ffmpeg to turn a media URL or file into s16le mono PCM.
// A Decoder owns at most one streaming process at a time.
type Decoder struct {
	ffmpeg string
	reg    *Registry

	mu      sync.Mutex
	proc    *Proc
	stdout  *os.File
	lastErr error
}

// NewDecoder returns a decoder using the ffmpeg executable at path.
func NewDecoder(ffmpegPath string, reg *Registry) *Decoder {
	return &Decoder{ffmpeg: ffmpegPath, reg: reg}
}

// SeekString formats seconds as H:MM:SS.mmm for ffmpeg's -ss option.
func SeekString(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	ms := int64(seconds * 1000)
	return fmt.Sprintf("%d:%02d:%02d.%03d",
		ms/3_600_000, ms%3_600_000/60_000, ms%60_000/1000, ms%1000)
}

func isRemote(input string) bool {
	lower := strings.ToLower(input)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// StreamOption customizes a CreateStream call.
type StreamOption func(*streamOptions)

type streamOptions struct {
	headers map[string]string
}

// WithHeaders sends extra HTTP headers with remote requests. Extractors
// hand these out for URLs that are signed against them.
func WithHeaders(h map[string]string) StreamOption {
	return func(o *streamOptions) { o.headers = h }
}

// HeaderArgs renders headers as an ffmpeg -headers option, sorted by key.
func HeaderArgs(headers map[string]string) []string {
	if len(headers) == 0 {
		return nil
	}
	var sb strings.Builder
	for _, k := range slices.Sorted(maps.Keys(headers)) {
		sb.WriteString(k)
		sb.WriteString(": ")
		sb.WriteString(headers[k])
		sb.WriteString("\r\n")
	}
	return []string{"-headers", sb.String()}
}

// Args builds the ffmpeg command line that decodes input to mono s16le PCM
// at sampleRate on stdout, starting seek seconds in.
func Args(input string, sampleRate int, seek float64) []string {
	return buildArgs(input, sampleRate, seek, nil)
}

func buildArgs(input string, sampleRate int, seek float64, headers map[string]string) []string {
	var args []string
	// Seek before -i for fast input seeking
	if seek > 0 {
		args = append(args, "-ss", SeekString(seek))
	}
	if isRemote(input) {
		args = append(args,
			"-reconnect", "1",
			"-reconnect_streamed", "1",
			"-reconnect_delay_max", "5",
		)
		args = append(args, HeaderArgs(headers)...)
	}
	return append(args,
		"-i", input,
		"-f", "s16le",
		"-ar", strconv.Itoa(sampleRate),
		"-ac", "1",
		"-loglevel", "warning",
		"pipe:1",
	)
}

// CreateStream starts ffmpeg on url. If a process is already running it
// does nothing and returns ErrAlreadyRunning. Cancelling ctx destroys the
// process.
func (d *Decoder) CreateStream(ctx context.Context, url string, sampleRate int, seek float64, opts ...StreamOption) error {
	var o streamOptions
	for _, opt := range opts {
		opt(&o)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.runningLocked() {
		log.Warn("FFmpeg process is already running", "url", url)
		return ErrAlreadyRunning
	}
	if d.stdout != nil {
		d.stdout.Close()
		d.stdout = nil
	}

	cmd := exec.Command(d.ffmpeg, buildArgs(url, sampleRate, seek, o.headers)...)
	proc, stdout, err := d.reg.Start("ffmpeg", cmd)
	if err != nil {
		return err
	}
	d.proc = proc
	d.stdout = stdout
	d.lastErr = nil

	log.Debug("Started ffmpeg stream", "pid", proc.Pid(), "sample_rate", sampleRate, "seek", seek)

	stop := context.AfterFunc(ctx, d.Destroy)
	go func() {
		<-proc.Done()
		stop()
		if err := proc.Err(); err != nil {
			// A failed exit still ends the stream normally for readers.
			log.Warn("FFmpeg process exited with error", "error", err)
			d.mu.Lock()
			if d.proc == proc {
				d.lastErr = err
			}
			d.mu.Unlock()
		}
	}()
	return nil
}

// Stdout returns the PCM stream of the running process, or nil.
func (d *Decoder) Stdout() io.ReadCloser {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stdout == nil {
		return nil
	}
	return d.stdout
}

// IsRunning reports whether the streaming process is alive.
func (d *Decoder) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.runningLocked()
}

func (d *Decoder) runningLocked() bool {
	return d.proc != nil && d.proc.Alive()
}

// Err returns the exit error of the last process, if it failed.
func (d *Decoder) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastErr
}

// Wait blocks until the streaming process exits and returns its exit error.
// It returns Err when no process is attached.
func (d *Decoder) Wait() error {
	d.mu.Lock()
	proc := d.proc
	d.mu.Unlock()
	if proc == nil {
		return d.Err()
	}
	<-proc.Done()
	return proc.Err()
}

// Destroy terminates the streaming process and closes its output. It is
// safe to call at any time and more than once.
func (d *Decoder) Destroy() {
	d.mu.Lock()
	proc := d.proc
	stdout := d.stdout
	d.proc = nil
	d.stdout = nil
	d.mu.Unlock()

	if proc != nil {
		d.reg.Destroy(proc.ID)
	}
	if stdout != nil {
		stdout.Close()
	}
}

// DecodeFile lazily decodes a local file, yielding PCM chunks of ChunkSize
// bytes (the last may be shorter). Stopping the iteration or cancelling ctx
// tears the process down.
func (d *Decoder) DecodeFile(ctx context.Context, path string, sampleRate int) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		if _, err := os.Stat(path); err != nil {
			yield(nil, fmt.Errorf("failed to open audio file: %w", err))
			return
		}

		cmd := exec.Command(d.ffmpeg, Args(path, sampleRate, 0)...)
		proc, stdout, err := d.reg.Start("ffmpeg", cmd)
		if err != nil {
			yield(nil, err)
			return
		}
		defer func() {
			stdout.Close()
			d.reg.Destroy(proc.ID)
		}()
		stop := context.AfterFunc(ctx, func() { d.reg.Destroy(proc.ID) })
		defer stop()

		for {
			buf := make([]byte, ChunkSize)
			n, err := io.ReadFull(stdout, buf)
			if n > 0 {
				if !yield(buf[:n], nil) {
					return
				}
			}
			if err == nil {
				continue
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			yield(nil, fmt.Errorf("failed to read decoded audio: %w", err))
			return
		}

		<-proc.Done()
		if err := ctx.Err(); err != nil {
			yield(nil, err)
			return
		}
		if err := proc.Err(); err != nil {
			yield(nil, fmt.Errorf("failed to decode %s: %w", path, err))
		}
	}
}
