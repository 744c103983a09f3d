package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/vk/patchflow/internal/app"
	"github.com/vk/patchflow/internal/config"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

func usageError(err error) error {
	return &ExitError{Code: 2, Message: err.Error()}
}

// globals are the flags shared by every sub-command. They override the
// config file only when set.
type globals struct {
	configPath      string
	logLevel        string
	logFormat       string
	healthcheckPort int
}

func (g *globals) register(fs *pflag.FlagSet) {
	fs.StringVarP(&g.configPath, "config", "c", "", "Path to a YAML engine config file.")
	fs.StringVar(&g.logLevel, "log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	fs.StringVar(&g.logFormat, "log-format", "auto", "Log output format. Options: 'auto', 'text' or 'json'.")
	fs.IntVar(&g.healthcheckPort, "healthcheck-port", 0, "Port for the HTTP health check server. 0 is disabled.")
}

// load reads the config file and applies every flag the user set.
func (g *globals) load(cmd *cobra.Command, overrides ...func(*config.Config, *pflag.FlagSet)) (*config.Config, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, usageError(err)
	}
	fs := cmd.Flags()
	if fs.Changed("log-level") {
		cfg.Log.Level = g.logLevel
	}
	if fs.Changed("log-format") {
		cfg.Log.Format = g.logFormat
	}
	if fs.Changed("healthcheck-port") {
		cfg.HealthcheckPort = g.healthcheckPort
	}
	for _, o := range overrides {
		o(cfg, fs)
	}
	if err := cfg.Validate(); err != nil {
		return nil, usageError(err)
	}
	slog.Debug("Configuration resolved.", "config", g.configPath)
	return cfg, nil
}

// NewRootCommand builds the command tree. Logs and command output go to outW.
func NewRootCommand(outW io.Writer) *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:   "patchflow",
		Short: "patchflow - a real-time dataflow patching engine",
		Long: `patchflow loads visual dataflow patches written in HCL, compiles their
signal graph into a block renderer and runs their control graph in an
evaluation worker, publishing live metrics to a shared telemetry segment.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(outW)
	root.SetErr(outW)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error { return usageError(err) })
	g.register(root.PersistentFlags())

	root.AddCommand(newRunCommand(g, outW), newCheckCommand(g, outW), newTelemetryCommand(g, outW))
	return root
}

// Execute runs the command tree with args.
func Execute(ctx context.Context, outW io.Writer, args []string) error {
	root := NewRootCommand(outW)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

type runFlags struct {
	patch         string
	duration      time.Duration
	audioOut      string
	sampleRate    int
	blockSize     int
	channels      int
	tempo         float64
	telemetryPath string
	uplinkURL     string
}

func newRunCommand(g *globals, outW io.Writer) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run PATH...",
		Short: "Load a patch and render it in real time",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load(cmd, f.apply)
			if err != nil {
				return err
			}
			opts := app.RunOptions{Paths: args, Patch: f.patch, Duration: f.duration}
			if f.audioOut != "" {
				out, err := os.Create(f.audioOut)
				if err != nil {
					return fmt.Errorf("open audio output: %w", err)
				}
				defer out.Close()
				opts.Audio = out
			}
			return app.NewApp(outW, cfg).Run(cmd.Context(), opts)
		},
	}
	fs := cmd.Flags()
	fs.StringVarP(&f.patch, "patch", "p", "", "Name of the patch to run. Defaults to the first one found.")
	fs.DurationVarP(&f.duration, "duration", "d", 0, "Stop after this long. 0 runs until interrupted.")
	fs.StringVarP(&f.audioOut, "audio-out", "o", "", "Write rendered audio to this file as raw interleaved float32.")
	fs.IntVar(&f.sampleRate, "sample-rate", 0, "Override the sample rate.")
	fs.IntVar(&f.blockSize, "block-size", 0, "Override the render block size.")
	fs.IntVar(&f.channels, "channels", 0, "Override the number of output channels.")
	fs.Float64Var(&f.tempo, "tempo", 0, "Override the initial tempo in beats per minute.")
	fs.StringVar(&f.telemetryPath, "telemetry-path", "", "Map the telemetry segment from this file.")
	fs.StringVar(&f.uplinkURL, "uplink-url", "", "Mirror worker events to this Socket.IO server.")
	return cmd
}

func (f *runFlags) apply(cfg *config.Config, fs *pflag.FlagSet) {
	if fs.Changed("sample-rate") {
		cfg.Audio.SampleRate = f.sampleRate
	}
	if fs.Changed("block-size") {
		cfg.Audio.BlockSize = f.blockSize
	}
	if fs.Changed("channels") {
		cfg.Audio.Channels = f.channels
	}
	if fs.Changed("tempo") {
		cfg.Audio.Tempo = f.tempo
	}
	if fs.Changed("telemetry-path") {
		cfg.Telemetry.Path = f.telemetryPath
	}
	if fs.Changed("uplink-url") {
		cfg.Uplink.URL = f.uplinkURL
	}
}

func newCheckCommand(g *globals, outW io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "check PATH...",
		Short: "Compile patches and report their diagnostics",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load(cmd)
			if err != nil {
				return err
			}
			return app.NewApp(outW, cfg).Check(cmd.Context(), cmd.OutOrStdout(), args...)
		},
	}
}

func newTelemetryCommand(g *globals, outW io.Writer) *cobra.Command {
	opts := app.WatchOptions{}
	cmd := &cobra.Command{
		Use:   "telemetry [PATH]",
		Short: "Print the metrics of a running engine",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load(cmd)
			if err != nil {
				return err
			}
			if len(args) == 1 {
				opts.Path = args[0]
			}
			return app.NewApp(outW, cfg).Watch(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}
	cmd.Flags().DurationVarP(&opts.Interval, "interval", "i", 0, "Sampling interval. Defaults to the configured telemetry interval.")
	cmd.Flags().IntVarP(&opts.Count, "count", "n", 0, "Stop after this many samples. 0 reads until interrupted.")
	return cmd
}
