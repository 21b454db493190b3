package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/geekxflood/olttrap/config"
	"github.com/geekxflood/olttrap/logging"
	"github.com/geekxflood/olttrap/publish"
	"github.com/geekxflood/olttrap/ruler"
	"github.com/geekxflood/olttrap/trapprocessor"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Stream trap documents through the extractor and publish alarms",
	Long: `Read a stream of concatenated trap documents, extract each one and
publish the alarms in the configured codec (publish.format) to the
configured output (publish.output).

When --config is given the file is watched and logging.level changes apply
without a restart.`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringP("input", "i", "-", "trap stream to read, - for stdin")
}

func runRun(cmd *cobra.Command, _ []string) error {
	input, _ := cmd.Flags().GetString("input")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var r io.Reader = cmd.InOrStdin()
	if input != "-" && input != "" {
		f, err := os.Open(filepath.Clean(input))
		if err != nil {
			return fmt.Errorf("failed to open input: %w", err)
		}
		defer f.Close()
		r = f
	}

	if cfgFile != "" {
		manager.OnConfigChange(applyLogLevel(manager))
		if err := manager.StartHotReload(ctx); err != nil {
			return err
		}
	}

	stats, err := runPipeline(ctx, manager, r, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	if stats.Failed > 0 {
		return fmt.Errorf("%d of %d alarms failed to publish", stats.Failed, stats.Received)
	}
	return nil
}

// runPipeline wires the publisher and processor described by cfg and
// drains r. A publish.output of "stdout" writes to stdout.
func runPipeline(ctx context.Context, cfg config.Provider, r io.Reader, stdout io.Writer) (trapprocessor.Stats, error) {
	format, err := cfg.GetString("publish.format", publish.FormatJSON)
	if err != nil {
		return trapprocessor.Stats{}, err
	}
	codec, err := publish.NewCodec(format)
	if err != nil {
		return trapprocessor.Stats{}, err
	}

	output, err := cfg.GetString("publish.output", "stdout")
	if err != nil {
		return trapprocessor.Stats{}, err
	}
	var publisher publish.Publisher
	if output == "stdout" {
		publisher = publish.NewWriterPublisher(stdout, codec)
	} else if publisher, err = publish.Open(output, codec); err != nil {
		return trapprocessor.Stats{}, err
	}

	runID := uuid.NewString()
	opts := []trapprocessor.Option{
		trapprocessor.WithLogger(logging.NewComponentLogger("trapprocessor", "pipeline").With("run_id", runID)),
	}
	if section, err := cfg.GetMap("rules"); err == nil {
		rules, err := ruler.New(section)
		if err != nil {
			_ = publisher.Close()
			return trapprocessor.Stats{}, err
		}
		if rules.Enabled() {
			logging.Info("alarm rules enabled", "rules", len(rules.Rules()))
			opts = append(opts, trapprocessor.WithRuler(rules))
		}
	}

	section, err := cfg.GetMap("processor")
	if err != nil {
		section = map[string]any{}
	}
	processor, err := trapprocessor.New(section, publisher, opts...)
	if err != nil {
		_ = publisher.Close()
		return trapprocessor.Stats{}, err
	}
	defer processor.Close()

	logging.Info("processing trap stream", "run_id", runID, "format", codec.Name(), "output", output)
	if err := processor.Run(ctx, r); err != nil && !errors.Is(err, context.Canceled) {
		return processor.Stats(), err
	}
	return processor.Stats(), nil
}

// applyLogLevel returns a reload callback that moves the global log level to
// the reloaded logging.level.
func applyLogLevel(cfg config.Provider) func(error) {
	return func(err error) {
		if err != nil {
			logging.Warn("configuration reload rejected", "error", err)
			return
		}
		level, err := cfg.GetString("logging.level")
		if err != nil {
			return
		}
		if err := logging.SetLevel(level); err != nil {
			logging.Warn("invalid log level after reload", "level", level, "error", err)
			return
		}
		logging.Info("log level updated", "level", level)
	}
}
