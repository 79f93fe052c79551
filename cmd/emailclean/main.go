// Command emailclean validates an email list file locally and writes the
// results as CSV or XLSX. It uses the same parser, validator and exporter
// as the server but keeps nothing.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/JonMunkholm/emailclean/internal/core"
	"github.com/JonMunkholm/emailclean/internal/logging"
	"github.com/joho/godotenv"
)

func main() {
	// A missing .env is normal for the CLI.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		if core.IsUserFacing(err) {
			fmt.Fprintln(os.Stderr, "emailclean:", core.FormatUserError(err))
		}
		fmt.Fprintln(os.Stderr, "emailclean:", err)
		os.Exit(1)
	}
}

// run is main without process globals so it can be tested.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	s, err := loadSettings(args, stderr)
	if err != nil {
		return err
	}
	logger := logging.New(stderr, s.LogLevel, s.LogFormat)

	format, err := outputFormat(s)
	if err != nil {
		return err
	}

	f, err := os.Open(s.Input)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	ds, err := core.ParseFile(s.Input, f)
	f.Close()
	if err != nil {
		return err
	}

	mapping := core.GuessMapping(ds.Headers)
	if s.EmailField != "" {
		mapping.EmailField = s.EmailField
	}
	if s.NameField != "" {
		mapping.NameField = s.NameField
	}
	if err := mapping.Validate(ds.Headers); err != nil {
		return err
	}

	resolver, err := core.NewResolver(s.Resolver, s.DoHEndpoint, s.Timeout)
	if err != nil {
		return err
	}
	runner := core.NewRunner(core.NewValidator(resolver), s.Workers)

	logger.Info("validating",
		"file", s.Input,
		"rows", len(ds.Rows),
		"email_column", mapping.EmailField,
		"name_column", mapping.NameField,
		"workers", s.Workers,
	)

	start := time.Now()
	nextStep := 10.0
	results, err := runner.Run(ctx, ds.Rows, mapping, func(completed, total int, percent float64) {
		if percent >= nextStep || completed == total {
			logger.Info("progress", "completed", completed, "total", total, "percent", fmt.Sprintf("%.0f", percent))
			for nextStep <= percent {
				nextStep += 10
			}
		}
	})
	if err != nil {
		return err
	}

	if err := writeOutput(s.Output, format, results, stdout); err != nil {
		return err
	}

	counts := core.Count(results)
	logger.Info("done",
		"total", counts.Total,
		"valid", counts.Valid,
		"invalid", counts.Invalid,
		"skipped", len(ds.Rows)-len(results),
		"duration", time.Since(start).Round(time.Millisecond),
		"output", s.Output,
	)
	return nil
}

// outputFormat takes -format, else the output file extension, else CSV.
func outputFormat(s settings) (core.ExportFormat, error) {
	if s.Format != "" {
		return core.ParseExportFormat(strings.ToLower(s.Format))
	}
	if strings.EqualFold(filepath.Ext(s.Output), ".xlsx") {
		return core.FormatXLSX, nil
	}
	return core.FormatCSV, nil
}

func writeOutput(path string, format core.ExportFormat, results []core.ValidationResult, stdout io.Writer) error {
	if path == "" || path == "-" {
		return core.Export(stdout, format, results)
	}

	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	if err := core.Export(out, format, results); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close output: %w", err)
	}
	return nil
}
