package resolver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/blacktop/harmonics/internal/process"
	"github.com/charmbracelet/log"
	"github.com/tidwall/gjson"
)

// AudioFormat prefers progressive http audio over HLS manifests, which
// ffmpeg cannot seek in cheaply.
const AudioFormat = "bestaudio[protocol^=http][protocol!*=m3u8]/bestaudio[protocol=https]/bestaudio[ext!=m3u8]/bestaudio/best"

var errNoURL = errors.New("no url in yt-dlp output")

// YTDLP extracts audio stream information by running yt-dlp.
type YTDLP struct {
	path     string
	reg      *process.Registry
	override []string
}

// NewYTDLP returns an extractor running the yt-dlp executable at path.
// A non-empty override replaces the default format and flags; "-j" and the
// URL are always appended.
func NewYTDLP(path string, reg *process.Registry, override string) *YTDLP {
	return &YTDLP{
		path:     path,
		reg:      reg,
		override: strings.Fields(override),
	}
}

// Args returns the command line used to resolve url.
func (y *YTDLP) Args(url string) []string {
	if len(y.override) > 0 {
		args := append([]string{}, y.override...)
		return append(args, "-j", url)
	}
	return []string{
		"-f", AudioFormat,
		"-j",
		"--quiet",
		"--no-playlist",
		"--no-call-home",
		"--skip-download",
		url,
	}
}

// Extract runs yt-dlp for url and parses its JSON description.
func (y *YTDLP) Extract(ctx context.Context, url string) (*AudioInfo, error) {
	out, err := y.reg.Run(ctx, "yt-dlp", y.path, y.Args(url)...)
	if err != nil {
		return nil, err
	}
	info, err := ParseInfo(out)
	if err != nil {
		return nil, err
	}
	log.Debug("yt-dlp resolved", "url", url, "title", info.Title, "headers", len(info.HTTPHeaders))
	return info, nil
}

// ParseInfo decodes the first JSON document printed by yt-dlp -j.
func ParseInfo(data []byte) (*AudioInfo, error) {
	data = bytes.TrimSpace(data)
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		data = data[:i]
	}
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("invalid yt-dlp output: %q", truncate(string(data), 200))
	}

	root := gjson.ParseBytes(data)
	audioURL := root.Get("url").String()
	if audioURL == "" {
		return nil, errNoURL
	}

	title := root.Get("title").String()
	if title == "" {
		title = UnknownTitle
	}

	headers := make(map[string]string)
	root.Get("http_headers").ForEach(func(key, value gjson.Result) bool {
		headers[key.String()] = value.String()
		return true
	})

	return &AudioInfo{
		AudioURL:        audioURL,
		DurationSeconds: durationSeconds(root.Get("duration")),
		Title:           title,
		HTTPHeaders:     headers,
	}, nil
}

// durationSeconds accepts integer, fractional or quoted durations.
func durationSeconds(r gjson.Result) int {
	switch r.Type {
	case gjson.Number, gjson.String:
		d := r.Float()
		if d < 0 {
			return 0
		}
		return int(d)
	default:
		return 0
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
