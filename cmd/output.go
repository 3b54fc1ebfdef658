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
	"crypto/sha256"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/blacktop/harmonics/internal/pcm"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	keyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	valueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("250"))
)

// pollInterval is how long copyStream backs off on an empty read.
const pollInterval = 10 * time.Millisecond

// generateFilename creates a unique filename for rendered audio.
// Format: harmonics_{unix_millis}_{8char_hash}.{ext}
func generateFilename(source, ext string) string {
	millis := time.Now().UnixMilli()
	hash := sha256.Sum256([]byte(fmt.Sprintf("%d_%s", millis, source)))
	hashStr := fmt.Sprintf("%x", hash[:4]) // 8 hex chars
	return fmt.Sprintf("harmonics_%d_%s.%s", millis, hashStr, ext)
}

// formatDuration renders whole seconds as m:ss or h:mm:ss, and "live" for
// streams without a known length.
func formatDuration(seconds int) string {
	if seconds <= 0 {
		return "live"
	}
	d := time.Duration(seconds) * time.Second
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := seconds % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

type field struct {
	key   string
	value string
}

// formatFields renders a titled key/value block.
func formatFields(title string, fields ...field) string {
	width := 0
	for _, f := range fields {
		width = max(width, len(f.key))
	}
	var sb strings.Builder
	sb.WriteString(titleStyle.Render(title))
	for _, f := range fields {
		sb.WriteString("\n  ")
		sb.WriteString(keyStyle.Render(fmt.Sprintf("%-*s", width, f.key)))
		sb.WriteString("  ")
		sb.WriteString(valueStyle.Render(f.value))
	}
	return sb.String()
}

// formatRenderResult describes a finished render.
func formatRenderResult(path, title string, bytes, sampleRate int, elapsed time.Duration) string {
	seconds := pcm.SamplesToDuration(int64(bytes/pcm.BytesPerSample), sampleRate)
	return formatFields("Rendered",
		field{"file", path},
		field{"title", title},
		field{"audio", fmt.Sprintf("%.1fs @ %d Hz", seconds, sampleRate)},
		field{"took", elapsed.Round(time.Millisecond).String()},
	)
}

// copyStream copies r into w until r reports io.EOF. Empty reads are how the
// processed stream signals "not yet", so they are polled rather than treated
// as the end.
func copyStream(ctx context.Context, w io.Writer, r io.Reader) (int64, error) {
	buf := make([]byte, 32*1024)
	var total int64
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return total, werr
			}
			total += int64(n)
		}
		switch {
		case err == io.EOF:
			return total, nil
		case err != nil:
			return total, err
		case n == 0:
			select {
			case <-ctx.Done():
				return total, ctx.Err()
			case <-time.After(pollInterval):
			}
		}
	}
}
