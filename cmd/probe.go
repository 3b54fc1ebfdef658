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
	"fmt"

	"github.com/blacktop/harmonics/internal/process"
	"github.com/blacktop/harmonics/internal/resolver"
	"github.com/caarlos0/ctrlc"
	"github.com/spf13/cobra"
)

// probeCmd represents the probe command
var probeCmd = &cobra.Command{
	Use:   "probe <url|file>",
	Short: "Read stream metadata with ffprobe",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc := newServices()
		defer svc.Close()

		if svc.deps.Prober == nil {
			return fmt.Errorf("%w: ffprobe\n%s", process.ErrBinaryNotFound, process.MissingBinaryHint("ffprobe"))
		}
		return ctrlc.Default.Run(cmd.Context(), func() error {
			out, err := probe(cmd.Context(), svc.deps.Prober, args[0])
			if err != nil {
				return err
			}
			fmt.Println(out)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(probeCmd)
}

func probe(ctx context.Context, p *resolver.Prober, target string) (string, error) {
	info, err := p.Probe(ctx, target)
	if err != nil {
		return "", err
	}
	title := info.Title
	if title == "" {
		title = resolver.UnknownTitle
	}
	return formatFields("Probe",
		field{"input", target},
		field{"title", title},
		field{"duration", formatDuration(info.DurationSeconds)},
	), nil
}
