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
	"strconv"

	"github.com/blacktop/harmonics/internal/source"
	"github.com/caarlos0/ctrlc"
	"github.com/spf13/cobra"
)

var showURL bool

// resolveCmd represents the resolve command
var resolveCmd = &cobra.Command{
	Use:   "resolve <url|file>",
	Short: "Show what a source resolves to without playing it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc := newServices()
		defer svc.Close()

		return ctrlc.Default.Run(cmd.Context(), func() error {
			out, err := resolve(cmd.Context(), svc.deps, args[0], showURL)
			if err != nil {
				return err
			}
			fmt.Println(out)
			return nil
		})
	},
}

func init() {
	resolveCmd.Flags().BoolVar(&showURL, "url", false, "Print the full stream URL")
	rootCmd.AddCommand(resolveCmd)
}

func resolve(ctx context.Context, deps source.Deps, raw string, full bool) (string, error) {
	src, err := source.New(raw, deps)
	if err != nil {
		return "", err
	}
	info, err := src.Resolve(ctx)
	if err != nil {
		return "", err
	}

	streamURL := info.URL
	if !full && len(streamURL) > 80 {
		streamURL = streamURL[:77] + "..."
	}
	return formatFields("Resolved",
		field{"source", src.ID()},
		field{"kind", string(src.Kind())},
		field{"title", info.Title},
		field{"duration", formatDuration(info.DurationSeconds)},
		field{"headers", strconv.Itoa(len(info.Headers))},
		field{"url", streamURL},
	), nil
}
