package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// CLITestRunner builds the harmonics binary once and runs it against fake
// ffmpeg/ffprobe/yt-dlp scripts.
type CLITestRunner struct {
	t      *testing.T
	binary string
	tools  string
	env    []string
}

func NewCLITestRunner(t *testing.T) *CLITestRunner {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	if runtime.GOOS == "windows" {
		t.Skip("Skipping shell script tool test on Windows")
	}

	dir := t.TempDir()
	binary := filepath.Join(dir, "harmonics")

	wd, err := os.Getwd()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	build := exec.CommandContext(ctx, "go", "build", "-o", binary, ".")
	build.Dir = wd
	build.Stderr = os.Stderr
	require.NoError(t, build.Run())

	r := &CLITestRunner{t: t, binary: binary, tools: t.TempDir()}
	missing := filepath.Join(r.tools, "missing")
	r.env = append(os.Environ(),
		"HARMONICS_FFPROBE="+missing,
		"HARMONICS_YTDLP="+missing,
	)
	return r
}

// tool writes a fake tool script and points harmonics at it.
func (r *CLITestRunner) tool(env, name, body string) {
	path := filepath.Join(r.tools, name)
	require.NoError(r.t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755))
	r.env = append(r.env, env+"="+path)
}

func (r *CLITestRunner) run(args ...string) (string, string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, r.binary, args...)
	cmd.Env = r.env
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

func writeInput(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "track.mp3")
	require.NoError(t, os.WriteFile(path, []byte("not decoded by the fake ffmpeg"), 0644))
	return path
}

func TestCLIRender(t *testing.T) {
	r := NewCLITestRunner(t)
	r.tool("HARMONICS_FFMPEG", "ffmpeg", "yes A | head -c 20000")

	out := filepath.Join(t.TempDir(), "out.wav")
	stdout, stderr, err := r.run("render", writeInput(t), "-o", out)
	require.NoError(t, err, stderr)

	assert.Contains(t, stdout, "Rendered")
	assert.Contains(t, stdout, "track")

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Len(t, data, 44+20000)
	assert.Equal(t, "RIFF", string(data[:4]))
	assert.Equal(t, uint32(20000), binary.LittleEndian.Uint32(data[40:44]))
}

func TestCLIRenderWithConfig(t *testing.T) {
	r := NewCLITestRunner(t)
	r.tool("HARMONICS_FFMPEG", "ffmpeg", `printf '\144\000\234\377'`)

	conf := filepath.Join(t.TempDir(), "harmonics.yml")
	require.NoError(t, os.WriteFile(conf, []byte("audio:\n  sample_rate: 16000\neffects:\n  volume: 2\n"), 0644))

	out := filepath.Join(t.TempDir(), "out.wav")
	_, stderr, err := r.run("--config", conf, "render", writeInput(t), "-o", out)
	require.NoError(t, err, stderr)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Len(t, data, 48)
	assert.Equal(t, uint32(16000), binary.LittleEndian.Uint32(data[24:28]))
	assert.Equal(t, int16(200), int16(binary.LittleEndian.Uint16(data[44:46])))
	assert.Equal(t, int16(-200), int16(binary.LittleEndian.Uint16(data[46:48])))

	// Flags win over the config file.
	_, stderr, err = r.run("--config", conf, "render", writeInput(t), "-o", out, "--volume", "1")
	require.NoError(t, err, stderr)
	data, err = os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, int16(100), int16(binary.LittleEndian.Uint16(data[44:46])))
}

func TestCLIResolveFile(t *testing.T) {
	r := NewCLITestRunner(t)
	r.tool("HARMONICS_FFMPEG", "ffmpeg", "exit 0")

	input := writeInput(t)
	stdout, stderr, err := r.run("resolve", input, "--url")
	require.NoError(t, err, stderr)
	assert.Contains(t, stdout, "file")
	assert.Contains(t, stdout, "track")
	assert.Contains(t, stdout, input)
}

func TestCLIProbe(t *testing.T) {
	r := NewCLITestRunner(t)
	r.tool("HARMONICS_FFPROBE", "ffprobe", `echo '{"format":{"duration":"125.4","tags":{"title":"Probed"}}}'`)

	stdout, stderr, err := r.run("probe", "https://radio.example/live.mp3")
	require.NoError(t, err, stderr)
	assert.Contains(t, stdout, "Probed")
	assert.Contains(t, stdout, "2:05")
}

func TestCLIErrors(t *testing.T) {
	r := NewCLITestRunner(t)
	r.env = append(r.env, "HARMONICS_FFMPEG="+filepath.Join(r.tools, "no-ffmpeg"))

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing ffmpeg", []string{"render", writeInput(t)}, "binary not found"},
		{"missing file", []string{"resolve", "/does/not/exist.mp3"}, "audio file not found"},
		{"bad pitch", []string{"render", writeInput(t), "--pitch", "wobble:1"}, "invalid pitch"},
		{"no args", []string{"play"}, "accepts 1 arg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, stderr, err := r.run(tt.args...)
			require.Error(t, err)
			assert.True(t, strings.Contains(stderr, tt.want), "stderr %q should contain %q", stderr, tt.want)
		})
	}
}
