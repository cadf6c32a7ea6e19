package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"seniorvoice/internal/app"
	"seniorvoice/internal/config"
)

type options struct {
	backend string
	model   string
	verbose bool
}

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "seniorvoice",
		Short: "Voice commands for Tunisian seniors",
		Long: `seniorvoice transcribes short French / Tunisian Arabic voice clips and
turns them into structured commands (reminders, calls, weather, media...).

Configuration is read from the environment (ENGINE_BACKEND, WHISPER_MODEL,
UPSTREAM_API_KEY, LEXICON_PATH, TIMEZONE, ...); flags override it.

Examples:
  seniorvoice transcribe clip.wav
  seniorvoice parse "rappelle moi ghodwa sbah le docteur"
  seniorvoice process clip.wav --backend whispercpp --model small`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.backend, "backend", "", "engine backend (openai or whispercpp)")
	root.PersistentFlags().StringVar(&opts.model, "model", "", "speech model name")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging on stderr")

	root.AddCommand(
		newTranscribeCmd(opts),
		newParseCmd(opts),
		newProcessCmd(opts),
	)
	return root
}

func (o *options) services(cmd *cobra.Command) (*app.Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if o.backend != "" {
		cfg.EngineBackend = strings.ToLower(o.backend)
	}
	if o.model != "" {
		cfg.WhisperModel = o.model
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return app.New(cfg, o.logger(cmd.ErrOrStderr()), nil)
}

func (o *options) logger(w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if o.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func printJSON(w io.Writer, value any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(value)
}

func joinArgs(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}
