package resolver

import (
	"context"
	"fmt"

	"github.com/blacktop/harmonics/internal/process"
	"github.com/tidwall/gjson"
)

const probeUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

// ProbeInfo is the container metadata reported by ffprobe.
type ProbeInfo struct {
	DurationSeconds int
	Title           string
}

// Prober reads container metadata with ffprobe without decoding audio.
type Prober struct {
	path string
	reg  *process.Registry
}

func NewProber(path string, reg *process.Registry) *Prober {
	return &Prober{path: path, reg: reg}
}

// Args returns the ffprobe command line for url.
func (p *Prober) Args(url string) []string {
	return []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_entries", "format=duration:format_tags=title",
		"-user_agent", probeUserAgent,
		url,
	}
}

// Probe returns the duration and title of url.
func (p *Prober) Probe(ctx context.Context, url string) (*ProbeInfo, error) {
	out, err := p.reg.Run(ctx, "ffprobe", p.path, p.Args(url)...)
	if err != nil {
		return nil, fmt.Errorf("failed to probe %s: %w", url, err)
	}
	return ParseProbe(out)
}

// ParseProbe decodes ffprobe's JSON output. Missing fields yield zero
// values.
func ParseProbe(data []byte) (*ProbeInfo, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty ffprobe output")
	}
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("invalid ffprobe output: %q", truncate(string(data), 200))
	}
	format := gjson.GetBytes(data, "format")
	return &ProbeInfo{
		DurationSeconds: durationSeconds(format.Get("duration")),
		Title:           format.Get("tags.title").String(),
	}, nil
}
