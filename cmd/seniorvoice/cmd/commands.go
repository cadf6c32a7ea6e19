package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"seniorvoice/internal/model"
	"seniorvoice/internal/nlu"
)

func newTranscribeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "transcribe <file.wav>",
		Short: "Transcribe a PCM16 WAV clip",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := opts.services(cmd)
			if err != nil {
				return err
			}
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			result, err := svc.Transcription.Transcribe(cmd.Context(), f)
			if err != nil {
				return fmt.Errorf("transcribe %s: %w", args[0], err)
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}
}

func newParseCmd(opts *options) *cobra.Command {
	var (
		confidence float64
		today      string
	)
	c := &cobra.Command{
		Use:   "parse <text...>",
		Short: "Parse a transcript into a command",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if confidence < 0 || confidence > 1 {
				return errors.New("--confidence must be within [0, 1]")
			}
			svc, err := opts.services(cmd)
			if err != nil {
				return err
			}
			parser := svc.Parser
			if today != "" {
				day, err := time.ParseInLocation("2006-01-02", today, parser.Location())
				if err != nil {
					return fmt.Errorf("--today: %w", err)
				}
				parser = nlu.NewParser(parser.Lexicon(),
					nlu.WithLocation(parser.Location()),
					nlu.WithClock(func() time.Time { return day.Add(12 * time.Hour) }),
				)
			}

			cmdOut := parser.Parse(joinArgs(args))
			cmdOut.Confidence = confidence
			return printJSON(cmd.OutOrStdout(), cmdOut)
		},
	}
	c.Flags().Float64Var(&confidence, "confidence", 0, "confidence to report in the command")
	c.Flags().StringVar(&today, "today", "", "reference date (YYYY-MM-DD) for relative days")
	return c
}

func newProcessCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "process <file.wav>",
		Short: "Transcribe a clip and parse it into a command",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := opts.services(cmd)
			if err != nil {
				return err
			}
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			result, err := svc.Pipeline.Process(cmd.Context(), f)
			if err != nil {
				return fmt.Errorf("process %s: %w", args[0], err)
			}
			return printJSON(cmd.OutOrStdout(), model.ProcessResponse{
				Command:  result.Command,
				RawText:  result.RawText,
				Language: result.Language,
				TimingsMS: model.PipelineTimings{
					Transcription: result.Timings.Transcription.Milliseconds(),
					Parse:         result.Timings.Parse.Milliseconds(),
					Total:         result.Timings.Total.Milliseconds(),
				},
			})
		},
	}
}
