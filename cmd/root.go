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
	"os"

	"github.com/blacktop/harmonics/internal/config"
	"github.com/blacktop/harmonics/internal/player"
	"github.com/blacktop/harmonics/internal/process"
	"github.com/blacktop/harmonics/internal/resolver"
	"github.com/blacktop/harmonics/internal/source"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

var (
	cfgFile    string
	verbose    bool
	sampleRate int
	ffmpegPath string
	ytdlpPath  string

	// cfg is loaded before any subcommand runs.
	cfg = config.Default()
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "harmonics",
	Short: "Stream audio from the web with live pitch and effects",
	Long: `harmonics resolves audio from YouTube and the other sites yt-dlp supports,
direct HTTP streams and local files, decodes it with ffmpeg and plays or renders
it through a chain of effects (pitch, filters, reverb, volume).`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if verbose {
			log.SetLevel(log.DebugLevel)
		}
		loaded, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		cfg = loaded
		applyFlags(cmd, cfg)
		log.Debug("Loaded configuration", "file", cfgFile, "sample_rate", cfg.Audio.SampleRate, "direct", cfg.Buffer.Direct)
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "V", false, "Enable verbose debug logging")
	rootCmd.PersistentFlags().IntVar(&sampleRate, "sample-rate", config.DefaultSampleRate, "Output sample rate in Hz")
	rootCmd.PersistentFlags().StringVar(&ffmpegPath, "ffmpeg", "", "Path to the ffmpeg binary")
	rootCmd.PersistentFlags().StringVar(&ytdlpPath, "yt-dlp", "", "Path to the yt-dlp binary")
}

// applyFlags copies explicitly set flags over the loaded configuration.
func applyFlags(cmd *cobra.Command, c *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("sample-rate") {
		c.Audio.SampleRate = sampleRate
	}
	if flags.Changed("ffmpeg") {
		c.Tools.FFmpeg = ffmpegPath
	}
	if flags.Changed("yt-dlp") {
		c.Tools.YTDLP = ytdlpPath
	}
	if flags.Changed("pitch") {
		c.Audio.Pitch = pitchProgram
	}
	if flags.Changed("transition") {
		c.Audio.Transition = transition
	}
	if flags.Changed("volume") {
		c.Effects.Volume = volume
	}
	if flags.Changed("lowpass") {
		c.Effects.LowPassCutoff = lowPass
	}
	if flags.Changed("highpass") {
		c.Effects.HighPassCutoff = highPass
	}
	if flags.Changed("reverb") {
		c.Effects.ReverbWet = reverbWet
	}
	if flags.Changed("bitcrush") {
		c.Effects.BitCrush = bitCrush
	}
	if flags.Changed("direct") {
		c.Buffer.Direct = direct
	}
	c.Normalize()
}

func toolName(configured, fallback string) string {
	if configured != "" {
		return configured
	}
	return fallback
}

// services are the shared pieces every command builds on.
type services struct {
	reg    *process.Registry
	deps   source.Deps
	player *player.Player
}

func newServices() *services {
	locator := process.NewLocator()
	reg := process.NewRegistry()
	reg.SetStopGrace(cfg.Tools.StopGrace)

	deps := source.Deps{AllowedDomains: cfg.HTTP.AllowedDomains}
	if ytdlp, err := locator.Locate(toolName(cfg.Tools.YTDLP, "yt-dlp")); err == nil {
		cache := resolver.NewCache(resolver.NewYTDLP(ytdlp, reg, cfg.Tools.YTDLPArgs))
		cache.SetTTL(cfg.Cache.TTL, cfg.Cache.YouTubeTTL)
		deps.Cache = cache
	} else {
		log.Debug("yt-dlp unavailable, only direct URLs and files will play", "hint", process.MissingBinaryHint("yt-dlp"))
	}
	if ffprobe, err := locator.Locate(toolName(cfg.Tools.FFprobe, "ffprobe")); err == nil {
		deps.Prober = resolver.NewProber(ffprobe, reg)
	}

	return &services{
		reg:    reg,
		deps:   deps,
		player: player.New(cfg, reg, deps),
	}
}

// Close stops every session and then every child process.
func (s *services) Close() {
	s.player.Shutdown()
	s.reg.Shutdown()
}
