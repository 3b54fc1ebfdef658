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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/blacktop/harmonics/internal/pcm"
	"github.com/blacktop/harmonics/internal/player"
	"github.com/caarlos0/ctrlc"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

var outputPath string

// renderCmd represents the render command
var renderCmd = &cobra.Command{
	Use:   "render <url|file>",
	Short: "Render processed audio to a WAV file",
	Example: `  harmonics render ./song.mp3 --pitch linear:1,1.5,30 -o out.wav
  harmonics render https://example.com/stream.mp3 --lowpass 800 -o ./renders/`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		svc := newServices()
		defer svc.Close()

		return ctrlc.Default.Run(ctx, func() error {
			return render(ctx, svc, args[0], outputPath)
		})
	},
}

func init() {
	addEffectFlags(renderCmd)
	renderCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output WAV file or directory (default: current directory)")
	rootCmd.AddCommand(renderCmd)
}

// renderTarget resolves the -o value into a file path. Directories and an
// empty value get a generated file name.
func renderTarget(raw, out string) string {
	if out == "" {
		return generateFilename(raw, "wav")
	}
	if fi, err := os.Stat(out); err == nil && fi.IsDir() {
		return filepath.Join(out, generateFilename(raw, "wav"))
	}
	return out
}

func render(ctx context.Context, svc *services, raw, out string) error {
	fn, err := player.PitchFunc(cfg)
	if err != nil {
		return fmt.Errorf("invalid pitch: %w", err)
	}

	start := time.Now()
	s, err := svc.player.Open(ctx, raw, player.Options{
		Chain: player.BuildChain(cfg, fn),
		Seek:  seek,
	})
	if err != nil {
		return err
	}
	defer s.Close()

	if !s.AwaitPreBuffering(0) {
		s.Close()
		if err := s.Wait(); err != nil {
			return err
		}
		return errors.New("no audio received from source")
	}

	fpath := renderTarget(raw, out)
	f, err := os.Create(fpath)
	if err != nil {
		return fmt.Errorf("failed to create WAV file: %w", err)
	}
	defer f.Close()

	w, err := pcm.NewWAVWriter(f, cfg.Audio.SampleRate)
	if err != nil {
		return err
	}
	n, err := copyStream(ctx, w, s.Reader())
	if err != nil {
		return fmt.Errorf("failed to render audio: %w", err)
	}
	if err := w.Close(); err != nil {
		return err
	}
	if err := s.Wait(); err != nil {
		log.Warn("Source ended with an error", "error", err)
	}

	log.Debug("Rendered audio", "path", fpath, "bytes", n)
	fmt.Println(formatRenderResult(fpath, s.Title(), w.Written(), cfg.Audio.SampleRate, time.Since(start)))
	return nil
}
