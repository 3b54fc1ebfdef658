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
	"time"

	"github.com/blacktop/harmonics/internal/effect"
	"github.com/blacktop/harmonics/internal/pcm"
	"github.com/blacktop/harmonics/internal/pitch"
	"github.com/blacktop/harmonics/internal/player"
	"github.com/caarlos0/ctrlc"
	"github.com/charmbracelet/log"
	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/speaker"
	"github.com/spf13/cobra"
)

const (
	// How often the live pitch program is sampled
	liveTick = 50 * time.Millisecond
	// Speaker latency
	speakerBuffer = 100 * time.Millisecond
)

var (
	pitchProgram string
	transition   float64
	volume       float64
	lowPass      float64
	highPass     float64
	reverbWet    float64
	bitCrush     float64
	direct       bool
	seek         float64

	livePitch  string
	sequential bool
)

// addEffectFlags registers the flags shared by play and render.
func addEffectFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&pitchProgram, "pitch", "p", "1", `Pitch program: "1.5", "linear:1,2,10", "oscillate:1,0.2,0.5", "steps:2:1,1.5,2"`)
	cmd.Flags().Float64Var(&transition, "transition", pitch.DefaultTransition, "Seconds to ramp between pitch values (0 switches instantly)")
	cmd.Flags().Float64Var(&volume, "volume", 1, "Output gain (1 is unchanged)")
	cmd.Flags().Float64Var(&lowPass, "lowpass", 0, "Low-pass cutoff in Hz (0 disables)")
	cmd.Flags().Float64Var(&highPass, "highpass", 0, "High-pass cutoff in Hz (0 disables)")
	cmd.Flags().Float64Var(&reverbWet, "reverb", 0, "Reverb wet mix 0-1 (0 disables)")
	cmd.Flags().Float64Var(&bitCrush, "bitcrush", 0, "Bit-crush quantization 0-1 (0 disables)")
	cmd.Flags().BoolVar(&direct, "direct", false, "Skip the ring buffer and feed the decoder straight into effects")
	cmd.Flags().Float64Var(&seek, "seek", 0, "Start position in seconds")
}

// playCmd represents the play command
var playCmd = &cobra.Command{
	Use:   "play <url|file>",
	Short: "Play audio through the effect chain",
	Example: `  harmonics play https://www.youtube.com/watch?v=dQw4w9WgXcQ --pitch 1.25
  harmonics play ./song.mp3 --live-pitch oscillate:1,0.3,0.2 --reverb 0.3`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		svc := newServices()
		defer svc.Close()

		return ctrlc.Default.Run(ctx, func() error {
			return play(ctx, svc, args[0])
		})
	},
}

func init() {
	addEffectFlags(playCmd)
	playCmd.Flags().StringVar(&livePitch, "live-pitch", "", "Pitch program sampled in real time while playing (overrides --pitch)")
	playCmd.Flags().BoolVar(&sequential, "sequential", false, "Wait for other harmonics processes to finish playing first")
	rootCmd.AddCommand(playCmd)
}

// sessionChain builds the effect chain for a command. With a live program
// the returned function drives the pitch until ctx ends.
func sessionChain(ctx context.Context) (*effect.Chain, error) {
	if livePitch == "" {
		fn, err := player.PitchFunc(cfg)
		if err != nil {
			return nil, fmt.Errorf("invalid pitch: %w", err)
		}
		return player.BuildChain(cfg, fn), nil
	}

	program, err := pitch.Parse(livePitch)
	if err != nil {
		return nil, fmt.Errorf("invalid live pitch: %w", err)
	}
	live := pitch.NewLive(program.At(0))
	go driveLive(ctx, live, program, liveTick)

	return player.BuildChain(cfg, pitch.SmoothedRealTime(live.Func(), cfg.Audio.Transition)), nil
}

// driveLive samples program against wall-clock time and publishes it.
func driveLive(ctx context.Context, live *pitch.Live, program pitch.Func, every time.Duration) {
	start := time.Now()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			live.Set(program.At(time.Since(start).Seconds()))
		}
	}
}

func play(ctx context.Context, svc *services, raw string) error {
	release, err := acquirePlaybackLock(ctx, sequential, raw)
	if err != nil {
		return err
	}
	defer release()

	chain, err := sessionChain(ctx)
	if err != nil {
		return err
	}

	done := make(chan struct{})
	s, err := svc.player.Open(ctx, raw, player.Options{
		Chain: chain,
		Seek:  seek,
		Callbacks: player.Callbacks{
			OnTitle: func(title string) { fmt.Println(formatFields("Now playing", field{"title", title})) },
			OnHang:  func() { log.Warn("Audio source stalled") },
		},
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

	streamer := pcm.NewStreamer(s.Reader(), cfg.Audio.SampleRate)
	sr := streamer.Format().SampleRate
	if err := speaker.Init(sr, sr.N(speakerBuffer)); err != nil {
		return fmt.Errorf("failed to initialize speaker: %w", err)
	}
	defer speaker.Close()

	speaker.Play(beep.Seq(streamer, beep.Callback(func() {
		close(done)
	})))

	select {
	case <-done:
	case <-ctx.Done():
		speaker.Clear()
		return ctx.Err()
	}

	if err := streamer.Err(); err != nil {
		return err
	}
	return s.Wait()
}
