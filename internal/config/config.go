// Package config loads harmonics settings from YAML with environment
// overrides for the external tool paths.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"time"

	"github.com/blacktop/harmonics/internal/effect"
	"github.com/blacktop/harmonics/internal/pitch"
	"gopkg.in/yaml.v3"
)

const (
	DefaultSampleRate = 48000
	MinSampleRate     = 8000
	MaxSampleRate     = 192000
)

// Config is the full set of knobs for a playback or render run.
type Config struct {
	Audio   AudioConfig   `yaml:"audio"`
	Buffer  BufferConfig  `yaml:"buffer"`
	Effects EffectsConfig `yaml:"effects"`
	Tools   ToolsConfig   `yaml:"tools"`
	Cache   CacheConfig   `yaml:"cache"`
	HTTP    HTTPConfig    `yaml:"http"`
}

type AudioConfig struct {
	SampleRate int `yaml:"sample_rate"`
	// Pitch is a pitch program in the pitch.Parse syntax.
	Pitch      string  `yaml:"pitch"`
	MinPitch   float64 `yaml:"min_pitch"`
	MaxPitch   float64 `yaml:"max_pitch"`
	Transition float64 `yaml:"transition"`
}

// BufferConfig controls how decoded audio is staged before effects.
type BufferConfig struct {
	// RingCapacity is in samples. Zero means two seconds of audio.
	RingCapacity int `yaml:"ring_capacity"`
	// Direct skips the ring buffer and feeds decoder output straight into
	// the effect reader.
	Direct           bool          `yaml:"direct"`
	PreBufferTimeout time.Duration `yaml:"prebuffer_timeout"`
	ReadyAttempts    int           `yaml:"ready_attempts"`
	ReadyInterval    time.Duration `yaml:"ready_interval"`
}

// EffectsConfig describes the default effect chain. Zero values disable
// the optional stages.
type EffectsConfig struct {
	Volume            float64 `yaml:"volume"`
	LowPassCutoff     float64 `yaml:"lowpass_cutoff"`
	HighPassCutoff    float64 `yaml:"highpass_cutoff"`
	HighPassResonance float64 `yaml:"highpass_resonance"`
	ReverbRoom        float64 `yaml:"reverb_room"`
	ReverbDamping     float64 `yaml:"reverb_damping"`
	ReverbWet         float64 `yaml:"reverb_wet"`
	BitCrush          float64 `yaml:"bitcrush"`
	// Bands configures the peaking equalizer. It is skipped when every
	// band has zero gain.
	Bands []effect.Band `yaml:"eq_bands"`
}

type ToolsConfig struct {
	FFmpeg  string `yaml:"ffmpeg"`
	FFprobe string `yaml:"ffprobe"`
	YTDLP   string `yaml:"yt_dlp"`
	// YTDLPArgs replaces the default yt-dlp format arguments.
	YTDLPArgs string `yaml:"yt_dlp_args"`
	// StopGrace is how long a child gets between SIGTERM and SIGKILL.
	StopGrace time.Duration `yaml:"stop_grace"`
}

type CacheConfig struct {
	TTL        time.Duration `yaml:"ttl"`
	YouTubeTTL time.Duration `yaml:"youtube_ttl"`
}

type HTTPConfig struct {
	AllowedDomains []string `yaml:"allowed_domains"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Audio: AudioConfig{
			SampleRate: DefaultSampleRate,
			Pitch:      "1",
			MinPitch:   0.5,
			MaxPitch:   2.0,
			Transition: pitch.DefaultTransition,
		},
		Buffer: BufferConfig{
			RingCapacity:     2 * DefaultSampleRate,
			PreBufferTimeout: 30 * time.Second,
			ReadyAttempts:    100,
			ReadyInterval:    100 * time.Millisecond,
		},
		Effects: EffectsConfig{
			Volume:            1.0,
			HighPassResonance: 0.5,
			ReverbRoom:        0.5,
			ReverbDamping:     0.5,
		},
		Tools: ToolsConfig{
			StopGrace: 2 * time.Second,
		},
		Cache: CacheConfig{
			TTL:        5 * time.Minute,
			YouTubeTTL: 2 * time.Minute,
		},
	}
}

// Load reads path over the defaults, applies environment overrides and
// normalizes the result. An empty path or a missing file yields the
// defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		}
	}
	cfg.applyEnv()
	cfg.Normalize()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Tools.FFmpeg = getEnv("HARMONICS_FFMPEG", c.Tools.FFmpeg)
	c.Tools.FFprobe = getEnv("HARMONICS_FFPROBE", c.Tools.FFprobe)
	c.Tools.YTDLP = getEnv("HARMONICS_YTDLP", c.Tools.YTDLP)
	c.Tools.YTDLPArgs = getEnv("HARMONICS_YTDLP_ARGS", c.Tools.YTDLPArgs)
}

// Normalize clamps every value into its usable range.
func (c *Config) Normalize() {
	d := Default()

	if c.Audio.SampleRate <= 0 {
		c.Audio.SampleRate = d.Audio.SampleRate
	}
	c.Audio.SampleRate = clampInt(c.Audio.SampleRate, MinSampleRate, MaxSampleRate)
	if c.Audio.Pitch == "" {
		c.Audio.Pitch = d.Audio.Pitch
	}
	c.Audio.MinPitch = clampFloat(orDefault(c.Audio.MinPitch, d.Audio.MinPitch), 0.1, 10)
	c.Audio.MaxPitch = clampFloat(orDefault(c.Audio.MaxPitch, d.Audio.MaxPitch), 0.1, 10)
	if c.Audio.MinPitch > c.Audio.MaxPitch {
		c.Audio.MinPitch, c.Audio.MaxPitch = c.Audio.MaxPitch, c.Audio.MinPitch
	}
	c.Audio.Transition = clampFloat(c.Audio.Transition, 0, 5)

	if c.Buffer.RingCapacity <= 0 {
		c.Buffer.RingCapacity = 2 * c.Audio.SampleRate
	}
	c.Buffer.RingCapacity = clampInt(c.Buffer.RingCapacity, c.Audio.SampleRate/10, 30*c.Audio.SampleRate)
	c.Buffer.PreBufferTimeout = clampDuration(orDefault(c.Buffer.PreBufferTimeout, d.Buffer.PreBufferTimeout), time.Second, time.Minute)
	c.Buffer.ReadyAttempts = clampInt(orDefault(c.Buffer.ReadyAttempts, d.Buffer.ReadyAttempts), 1, 1000)
	c.Buffer.ReadyInterval = clampDuration(orDefault(c.Buffer.ReadyInterval, d.Buffer.ReadyInterval), time.Millisecond, 5*time.Second)

	nyquist := float64(c.Audio.SampleRate) / 2
	c.Effects.Volume = clampFloat(c.Effects.Volume, 0, 10)
	c.Effects.LowPassCutoff = clampCutoff(c.Effects.LowPassCutoff, nyquist)
	c.Effects.HighPassCutoff = clampCutoff(c.Effects.HighPassCutoff, nyquist)
	c.Effects.HighPassResonance = clampFloat(c.Effects.HighPassResonance, 0, 0.95)
	c.Effects.ReverbRoom = clampFloat(c.Effects.ReverbRoom, 0, 1)
	c.Effects.ReverbDamping = clampFloat(c.Effects.ReverbDamping, 0, 1)
	c.Effects.ReverbWet = clampFloat(c.Effects.ReverbWet, 0, 1)
	c.Effects.BitCrush = clampFloat(c.Effects.BitCrush, 0, 1)
	for i, b := range c.Effects.Bands {
		c.Effects.Bands[i] = effect.Band{
			Frequency: clampFloat(b.Frequency, 20, nyquist-1),
			Q:         clampFloat(orDefault(b.Q, 1), 0.1, 10),
			Gain:      clampFloat(b.Gain, -24, 24),
		}
	}

	c.Tools.StopGrace = clampDuration(orDefault(c.Tools.StopGrace, d.Tools.StopGrace), 100*time.Millisecond, 30*time.Second)

	c.Cache.TTL = orDefault(c.Cache.TTL, d.Cache.TTL)
	c.Cache.YouTubeTTL = orDefault(c.Cache.YouTubeTTL, d.Cache.YouTubeTTL)
}

// getEnv returns the value of the environment variable key, or defaultValue if unset.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func orDefault[T int | float64 | time.Duration](v, def T) T {
	if v <= 0 {
		return def
	}
	return v
}

func clampInt(v, lo, hi int) int {
	return max(lo, min(v, hi))
}

func clampDuration(v, lo, hi time.Duration) time.Duration {
	return max(lo, min(v, hi))
}

func clampFloat(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return max(lo, min(v, hi))
}

// clampCutoff keeps 0 as "off" and otherwise bounds f to [20, nyquist).
func clampCutoff(f, nyquist float64) float64 {
	if f <= 0 || math.IsNaN(f) {
		return 0
	}
	return clampFloat(f, 20, nyquist-1)
}
