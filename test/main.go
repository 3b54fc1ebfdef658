package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/blacktop/harmonics/internal/config"
	"github.com/blacktop/harmonics/internal/effect"
	"github.com/blacktop/harmonics/internal/pitch"
	"github.com/blacktop/harmonics/internal/player"
	"github.com/blacktop/harmonics/internal/process"
	"github.com/blacktop/harmonics/internal/source"
	"github.com/blacktop/harmonics/internal/stream"
	"github.com/caarlos0/ctrlc"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

var (
	depth float64
	rate  float64
)

// Example host: pulls 20ms frames at real-time pace, the way a voice or
// game audio callback would, while a control loop sweeps the pitch.
//
//	go run ./test https://example.com/track.mp3 | ffplay -f s16le -ar 48000 -ac 1 -
var hostCmd = &cobra.Command{
	Use:           "test <url|file>",
	Short:         "Stream a source to stdout through a host-paced reader",
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context(), args[0])
	},
}

func init() {
	hostCmd.Flags().Float64Var(&depth, "depth", 0.3, "pitch sweep depth")
	hostCmd.Flags().Float64Var(&rate, "rate", 0.1, "pitch sweep rate in Hz")
}

func main() {
	if err := hostCmd.ExecuteContext(context.Background()); err != nil {
		log.Fatal("Playback stopped", "error", err)
	}
}

func run(ctx context.Context, target string) error {
	cfg := config.Default()
	reg := process.NewRegistry()
	defer reg.Shutdown()
	p := player.New(cfg, reg, source.Deps{})
	defer p.Shutdown()

	live := pitch.NewLive(1)
	chain := effect.NewChain(effect.NewPitchShift(
		pitch.SmoothedRealTime(live.Func(), 0.1),
		float32(cfg.Audio.MinPitch), float32(cfg.Audio.MaxPitch),
	))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s, err := p.Open(ctx, target, player.Options{
		Chain: chain,
		Callbacks: player.Callbacks{
			OnTitle: func(title string) { log.Info("Streaming", "title", title) },
		},
	})
	if err != nil {
		return fmt.Errorf("failed to open source: %w", err)
	}
	if !s.AwaitPreBuffering(0) {
		return fmt.Errorf("source never became ready: %w", s.Wait())
	}

	host := s.HostStream(stream.CloseViaHang(func() { s.Close() }))
	defer host.Close()

	return ctrlc.Default.Run(ctx, func() error {
		return pump(ctx, host, live, depth, rate)
	})
}

func pump(ctx context.Context, host *stream.HostStream, live *pitch.Live, depth, rate float64) error {
	const frame = 20 * time.Millisecond
	frameBytes := host.SampleRate() * 2 * int(frame/time.Millisecond) / 1000

	ticker := time.NewTicker(frame)
	defer ticker.Stop()
	start := time.Now()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		t := time.Since(start).Seconds()
		live.Set(float32(1 + depth*math.Sin(2*math.Pi*rate*t)))

		data, err := host.Read(frameBytes)
		if errors.Is(err, io.EOF) {
			log.Info("Stream finished", "played", time.Since(start).Round(time.Second))
			return nil
		}
		if err != nil {
			return err
		}
		if _, err := os.Stdout.Write(data); err != nil {
			return err
		}
	}
}
