package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/blacktop/harmonics/internal/effect"
	"github.com/blacktop/harmonics/internal/pitch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsNormalized(t *testing.T) {
	cfg := Default()
	want := *cfg
	cfg.Normalize()
	assert.Equal(t, want, *cfg)
}

func TestDefaultTransition(t *testing.T) {
	assert.Equal(t, pitch.DefaultTransition, Default().Audio.Transition)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "harmonics.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
audio:
  sample_rate: 44100
  pitch: "linear:1,2,10"
buffer:
  direct: true
  prebuffer_timeout: 5s
effects:
  volume: 0.8
  reverb_wet: 0.3
  eq_bands:
    - {frequency: 60, q: 0.7, gain: 6}
    - {frequency: 800, q: 1.5, gain: -3}
tools:
  ffmpeg: /opt/ffmpeg
cache:
  ttl: 1m
http:
  allowed_domains: [example.com]
`), 0644))

	t.Setenv("HARMONICS_YTDLP", "/opt/yt-dlp")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 44100, cfg.Audio.SampleRate)
	assert.Equal(t, "linear:1,2,10", cfg.Audio.Pitch)
	assert.Equal(t, 2*44100, cfg.Buffer.RingCapacity)
	assert.True(t, cfg.Buffer.Direct)
	assert.Equal(t, 5*time.Second, cfg.Buffer.PreBufferTimeout)
	assert.Equal(t, 0.8, cfg.Effects.Volume)
	assert.Equal(t, 0.3, cfg.Effects.ReverbWet)
	assert.Equal(t, 0.5, cfg.Effects.ReverbRoom, "unset keys keep defaults")
	assert.Equal(t, []effect.Band{
		{Frequency: 60, Q: 0.7, Gain: 6},
		{Frequency: 800, Q: 1.5, Gain: -3},
	}, cfg.Effects.Bands)
	assert.Equal(t, "/opt/ffmpeg", cfg.Tools.FFmpeg)
	assert.Equal(t, "/opt/yt-dlp", cfg.Tools.YTDLP)
	assert.Equal(t, time.Minute, cfg.Cache.TTL)
	assert.Equal(t, 2*time.Minute, cfg.Cache.YouTubeTTL)
	assert.Equal(t, []string{"example.com"}, cfg.HTTP.AllowedDomains)
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultSampleRate, cfg.Audio.SampleRate)

	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultSampleRate, cfg.Audio.SampleRate)
}

func TestLoadInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("audio: [unterminated"), 0644))
	_, err := Load(path)
	assert.ErrorContains(t, err, "failed to parse config")
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tools:\n  ffmpeg: /from/file\n"), 0644))
	t.Setenv("HARMONICS_FFMPEG", "/from/env")
	t.Setenv("HARMONICS_YTDLP_ARGS", "-f worstaudio")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/from/env", cfg.Tools.FFmpeg)
	assert.Equal(t, "-f worstaudio", cfg.Tools.YTDLPArgs)
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		mut   func(*Config)
		check func(t *testing.T, c *Config)
	}{
		{
			name: "sample rate bounds",
			mut:  func(c *Config) { c.Audio.SampleRate = 1000000 },
			check: func(t *testing.T, c *Config) {
				assert.Equal(t, MaxSampleRate, c.Audio.SampleRate)
			},
		},
		{
			name: "zero sample rate uses default",
			mut:  func(c *Config) { c.Audio.SampleRate = 0 },
			check: func(t *testing.T, c *Config) {
				assert.Equal(t, DefaultSampleRate, c.Audio.SampleRate)
			},
		},
		{
			name: "pitch bounds swapped",
			mut:  func(c *Config) { c.Audio.MinPitch, c.Audio.MaxPitch = 3, 0.2 },
			check: func(t *testing.T, c *Config) {
				assert.Equal(t, 0.2, c.Audio.MinPitch)
				assert.Equal(t, 3.0, c.Audio.MaxPitch)
			},
		},
		{
			name: "ring capacity bounded by sample rate",
			mut:  func(c *Config) { c.Buffer.RingCapacity = 10 },
			check: func(t *testing.T, c *Config) {
				assert.Equal(t, DefaultSampleRate/10, c.Buffer.RingCapacity)
			},
		},
		{
			name: "cutoffs",
			mut: func(c *Config) {
				c.Effects.LowPassCutoff = 100000
				c.Effects.HighPassCutoff = 5
			},
			check: func(t *testing.T, c *Config) {
				assert.Equal(t, float64(DefaultSampleRate/2-1), c.Effects.LowPassCutoff)
				assert.Equal(t, 20.0, c.Effects.HighPassCutoff)
			},
		},
		{
			name: "effect amounts",
			mut: func(c *Config) {
				c.Effects.Volume = -1
				c.Effects.ReverbWet = 4
				c.Effects.HighPassResonance = 1
			},
			check: func(t *testing.T, c *Config) {
				assert.Zero(t, c.Effects.Volume)
				assert.Equal(t, 1.0, c.Effects.ReverbWet)
				assert.Equal(t, 0.95, c.Effects.HighPassResonance)
			},
		},
		{
			name: "equalizer bands",
			mut: func(c *Config) {
				c.Effects.Bands = []effect.Band{
					{Frequency: 5, Q: 0, Gain: 40},
					{Frequency: 100000, Q: 50, Gain: -40},
				}
			},
			check: func(t *testing.T, c *Config) {
				assert.Equal(t, []effect.Band{
					{Frequency: 20, Q: 1, Gain: 24},
					{Frequency: float64(DefaultSampleRate/2 - 1), Q: 10, Gain: -24},
				}, c.Effects.Bands)
			},
		},
		{
			name: "durations",
			mut: func(c *Config) {
				c.Buffer.PreBufferTimeout = time.Hour
				c.Cache.TTL = -1
			},
			check: func(t *testing.T, c *Config) {
				assert.Equal(t, time.Minute, c.Buffer.PreBufferTimeout)
				assert.Equal(t, 5*time.Minute, c.Cache.TTL)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mut(c)
			c.Normalize()
			tt.check(t, c)
		})
	}
}
