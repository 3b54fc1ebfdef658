package process

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeScript creates an executable shell script standing in for a tool.
func writeScript(t *testing.T, name, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("Skipping shell script tool test on Windows")
	}
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755))
	return path
}

func execCommand(path string) *exec.Cmd {
	return exec.Command(path)
}

func newTestRegistry() *Registry {
	reg := NewRegistry()
	reg.SetStopGrace(500 * time.Millisecond)
	return reg
}

func TestSeekString(t *testing.T) {
	tests := []struct {
		seconds float64
		want    string
	}{
		{0, "0:00:00.000"},
		{1.5, "0:00:01.500"},
		{61.25, "0:01:01.250"},
		{3725.007, "1:02:05.007"},
		{-4, "0:00:00.000"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, SeekString(tt.seconds))
		})
	}
}

func TestArgs(t *testing.T) {
	t.Run("remote with seek", func(t *testing.T) {
		args := Args("https://example.com/a.webm", 48000, 12.5)
		joined := strings.Join(args, " ")

		assert.Equal(t, []string{"-ss", "0:00:12.500"}, args[:2])
		assert.Contains(t, joined, "-reconnect 1 -reconnect_streamed 1 -reconnect_delay_max 5")
		assert.Less(t, strings.Index(joined, "-ss"), strings.Index(joined, "-i "))
		assert.True(t, strings.HasSuffix(joined, "-i https://example.com/a.webm -f s16le -ar 48000 -ac 1 -loglevel warning pipe:1"))
	})

	t.Run("local file", func(t *testing.T) {
		args := Args("/music/track.flac", 44100, 0)
		assert.Equal(t, []string{
			"-i", "/music/track.flac",
			"-f", "s16le", "-ar", "44100", "-ac", "1",
			"-loglevel", "warning", "pipe:1",
		}, args)
	})

	t.Run("remote with headers", func(t *testing.T) {
		args := buildArgs("https://example.com/a", 48000, 0, map[string]string{
			"User-Agent": "ua",
			"Accept":     "*/*",
		})
		i := slices.Index(args, "-headers")
		require.GreaterOrEqual(t, i, 0)
		assert.Equal(t, "Accept: */*\r\nUser-Agent: ua\r\n", args[i+1])
		assert.Less(t, i, slices.Index(args, "-i"))
	})

	t.Run("headers ignored for files", func(t *testing.T) {
		args := buildArgs("/a.mp3", 48000, 0, map[string]string{"A": "b"})
		assert.NotContains(t, args, "-headers")
	})
}

func TestHeaderArgs(t *testing.T) {
	assert.Nil(t, HeaderArgs(nil))
	assert.Equal(t, []string{"-headers", "Cookie: x=1\r\n"}, HeaderArgs(map[string]string{"Cookie": "x=1"}))
}

func TestLocator(t *testing.T) {
	script := writeScript(t, "fake-tool", "exit 0")
	l := NewLocator()

	path, err := l.Locate(script)
	require.NoError(t, err)
	assert.Equal(t, script, path)

	// Results are cached for the lifetime of the locator.
	require.NoError(t, os.Remove(script))
	path, err = l.Locate(script)
	require.NoError(t, err)
	assert.Equal(t, script, path)

	l.Reset()
	_, err = l.Locate(script)
	assert.ErrorIs(t, err, ErrBinaryNotFound)

	_, err = l.Locate("definitely-not-a-real-binary-name")
	assert.ErrorIs(t, err, ErrBinaryNotFound)
	assert.False(t, l.Available(""))

	_, err = l.Locate(t.TempDir() + "/")
	assert.ErrorIs(t, err, ErrBinaryNotFound)

	assert.True(t, l.Available("sh"))
	assert.Contains(t, MissingBinaryHint("ffmpeg"), "ffmpeg")
}

func TestRegistryStartDestroy(t *testing.T) {
	script := writeScript(t, "sleeper", "exec sleep 30")
	reg := newTestRegistry()

	proc, stdout, err := reg.Start("sleeper", execCommand(script))
	require.NoError(t, err)
	defer stdout.Close()

	assert.Equal(t, 1, reg.Active())
	assert.True(t, proc.Alive())
	got, ok := reg.Get(proc.ID)
	require.True(t, ok)
	assert.Same(t, proc, got)

	assert.True(t, reg.Destroy(proc.ID))
	select {
	case <-proc.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process not reaped")
	}
	assert.False(t, proc.Alive())
	assert.Error(t, proc.Err())
	assert.Equal(t, 0, reg.Active())
	assert.False(t, reg.Destroy(proc.ID), "unknown ids are ignored")
}

func TestRegistryNaturalExitUnregisters(t *testing.T) {
	script := writeScript(t, "quick", "echo done")
	reg := newTestRegistry()

	proc, stdout, err := reg.Start("quick", execCommand(script))
	require.NoError(t, err)
	defer stdout.Close()

	<-proc.Done()
	assert.NoError(t, proc.Err())
	assert.Eventually(t, func() bool { return reg.Active() == 0 }, time.Second, 10*time.Millisecond)
}

func TestRegistryShutdown(t *testing.T) {
	script := writeScript(t, "sleeper", "exec sleep 30")
	reg := newTestRegistry()

	var procs []*Proc
	for range 3 {
		p, stdout, err := reg.Start("sleeper", execCommand(script))
		require.NoError(t, err)
		defer stdout.Close()
		procs = append(procs, p)
	}
	require.Equal(t, 3, reg.Active())

	reg.Shutdown()

	assert.Equal(t, 0, reg.Active())
	for _, p := range procs {
		select {
		case <-p.Done():
		default:
			t.Fatal("shutdown returned before process exited")
		}
	}
}

func TestRegistryCapacity(t *testing.T) {
	script := writeScript(t, "sleeper", "exec sleep 30")
	reg := newTestRegistry()
	reg.maxProcs = 1
	defer reg.Shutdown()

	_, stdout, err := reg.Start("sleeper", execCommand(script))
	require.NoError(t, err)
	defer stdout.Close()

	_, _, err = reg.Start("sleeper", execCommand(script))
	assert.ErrorIs(t, err, ErrTooManyProcesses)
}

func TestRegistryRun(t *testing.T) {
	reg := newTestRegistry()

	t.Run("captures stdout", func(t *testing.T) {
		script := writeScript(t, "tool", `echo "hello $1"`)
		out, err := reg.Run(context.Background(), "tool", script, "world")
		require.NoError(t, err)
		assert.Equal(t, "hello world\n", string(out))
	})

	t.Run("failure includes stderr", func(t *testing.T) {
		script := writeScript(t, "tool", "echo 'ERROR: no such video' >&2; exit 3")
		_, err := reg.Run(context.Background(), "tool", script)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no such video")
	})

	t.Run("cancel destroys process", func(t *testing.T) {
		script := writeScript(t, "tool", "exec sleep 30")
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()

		start := time.Now()
		_, err := reg.Run(ctx, "tool", script)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Less(t, time.Since(start), 5*time.Second)
		assert.Equal(t, 0, reg.Active())
	})
}

func TestDecoderStream(t *testing.T) {
	script := writeScript(t, "ffmpeg", "exec sleep 30")
	reg := newTestRegistry()
	dec := NewDecoder(script, reg)

	assert.False(t, dec.IsRunning())
	assert.Nil(t, dec.Stdout())

	require.NoError(t, dec.CreateStream(context.Background(), "https://example.com/a", 48000, 0))
	assert.True(t, dec.IsRunning())
	assert.NotNil(t, dec.Stdout())

	err := dec.CreateStream(context.Background(), "https://example.com/b", 48000, 0)
	assert.ErrorIs(t, err, ErrAlreadyRunning)
	assert.Equal(t, 1, reg.Active())

	dec.Destroy()
	dec.Destroy()
	assert.False(t, dec.IsRunning())
	assert.Nil(t, dec.Stdout())
	assert.Equal(t, 0, reg.Active())
}

func TestDecoderStreamReadsPCM(t *testing.T) {
	script := writeScript(t, "ffmpeg", "head -c 1000 /dev/zero")
	dec := NewDecoder(script, newTestRegistry())

	require.NoError(t, dec.CreateStream(context.Background(), "file.mp3", 48000, 0))
	stdout := dec.Stdout()
	require.NotNil(t, stdout)

	var total int
	buf := make([]byte, 256)
	for {
		n, err := stdout.Read(buf)
		total += n
		if err != nil {
			break
		}
	}
	assert.Equal(t, 1000, total)
	assert.NoError(t, dec.Wait())
	assert.False(t, dec.IsRunning())
	assert.NoError(t, dec.Err())
	dec.Destroy()
}

func TestDecoderWaitReportsFailure(t *testing.T) {
	script := writeScript(t, "ffmpeg", "echo 'Server returned 403 Forbidden' >&2; exit 1")
	dec := NewDecoder(script, newTestRegistry())

	require.NoError(t, dec.CreateStream(context.Background(), "https://example.com/a", 48000, 0))
	err := dec.Wait()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403 Forbidden")
	dec.Destroy()
}

func TestDecoderStreamCancel(t *testing.T) {
	script := writeScript(t, "ffmpeg", "exec sleep 30")
	reg := newTestRegistry()
	dec := NewDecoder(script, reg)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, dec.CreateStream(ctx, "https://example.com/a", 48000, 0))
	cancel()

	assert.Eventually(t, func() bool { return !dec.IsRunning() && reg.Active() == 0 },
		5*time.Second, 10*time.Millisecond)
}

func TestDecodeFile(t *testing.T) {
	input := filepath.Join(t.TempDir(), "in.ogg")
	require.NoError(t, os.WriteFile(input, []byte("not really audio"), 0644))

	t.Run("chunks", func(t *testing.T) {
		script := writeScript(t, "ffmpeg", "head -c 20000 /dev/zero")
		dec := NewDecoder(script, newTestRegistry())

		var sizes []int
		for chunk, err := range dec.DecodeFile(context.Background(), input, 48000) {
			require.NoError(t, err)
			sizes = append(sizes, len(chunk))
		}
		assert.Equal(t, []int{ChunkSize, ChunkSize, 20000 - 2*ChunkSize}, sizes)
	})

	t.Run("early break destroys process", func(t *testing.T) {
		script := writeScript(t, "ffmpeg", "exec cat /dev/zero")
		reg := newTestRegistry()
		dec := NewDecoder(script, reg)

		for chunk, err := range dec.DecodeFile(context.Background(), input, 48000) {
			require.NoError(t, err)
			assert.Len(t, chunk, ChunkSize)
			break
		}
		assert.Equal(t, 0, reg.Active())
	})

	t.Run("missing file", func(t *testing.T) {
		dec := NewDecoder("ffmpeg", newTestRegistry())
		for _, err := range dec.DecodeFile(context.Background(), "/does/not/exist.mp3", 48000) {
			assert.Error(t, err)
		}
	})

	t.Run("decoder failure", func(t *testing.T) {
		script := writeScript(t, "ffmpeg", "echo 'Invalid data found' >&2; exit 1")
		dec := NewDecoder(script, newTestRegistry())

		var errs []error
		for _, err := range dec.DecodeFile(context.Background(), input, 48000) {
			if err != nil {
				errs = append(errs, err)
			}
		}
		require.Len(t, errs, 1)
		assert.Contains(t, errs[0].Error(), "Invalid data found")
	})

	t.Run("missing binary", func(t *testing.T) {
		dec := NewDecoder(filepath.Join(t.TempDir(), "nope"), newTestRegistry())
		var got error
		for _, err := range dec.DecodeFile(context.Background(), input, 48000) {
			got = err
		}
		require.Error(t, got)
		assert.ErrorIs(t, got, ErrBinaryNotFound)
	})
}

func TestStderrLogTail(t *testing.T) {
	s := newStderrLog("tool")
	_, _ = s.Write([]byte("first line\nsecond "))
	_, _ = s.Write([]byte("line\n"))
	_, _ = s.Write([]byte(strings.Repeat("x", 600)))
	s.Flush()

	tail := s.Tail()
	assert.Len(t, tail, stderrTailSize)
	assert.True(t, strings.HasSuffix(tail, "xxx"))
}
