package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/labtrend/labtrend/internal/domain/labresult"
)

// Export formats accepted by --format.
const (
	formatJSON   = "json"
	formatPivot  = "pivot"
	formatFlags  = "flags"
	formatRanges = "ranges"
)

func writePayload(w io.Writer, p *labresult.Payload, format string) error {
	switch format {
	case formatJSON, "":
		return p.Encode(w)
	case formatPivot:
		return labresult.WritePivotCSV(w, p)
	case formatFlags:
		return labresult.WriteFlagsCSV(w, p)
	case formatRanges:
		return labresult.WriteRangesCSV(w, p)
	}
	return fmt.Errorf("unknown format %q (want json, pivot, flags or ranges)", format)
}

// withOutput calls fn with the file at path, or stdout when path is empty
// or "-".
func withOutput(path string, fn func(w io.Writer) error) error {
	if path == "" || path == "-" {
		return fn(os.Stdout)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := fn(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func readPayloadFile(path string) (*labresult.Payload, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return labresult.DecodePayload(f)
}

// checkLoadable rejects structurally broken payloads and logs dates that
// were kept verbatim during reconciliation.
func (a *app) checkLoadable(path string, p *labresult.Payload) error {
	warnings, err := labresult.CheckLoadable(p)
	if err != nil {
		return fmt.Errorf("payload %s is invalid: %w", path, err)
	}
	for _, w := range warnings {
		a.logger.Warn().Str("file", path).Err(w).Msg("loading non-canonical date")
	}
	return nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import [files...]",
		Short: "Reconcile CSV exports into the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			payloadPath, _ := cmd.Flags().GetString("payload")
			keepGoing, _ := cmd.Flags().GetBool("keep-going")
			if payloadPath == "" && len(args) == 0 {
				return fmt.Errorf("no input: pass CSV files or --payload")
			}

			a, err := loadApp(cmd, os.Stderr)
			if err != nil {
				return err
			}
			ctx := context.Background()
			svc, pool, err := a.openService(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			if payloadPath != "" {
				p, err := readPayloadFile(payloadPath)
				if err != nil {
					return err
				}
				if err := a.checkLoadable(payloadPath, p); err != nil {
					return err
				}
				if err := svc.LoadPayload(ctx, p); err != nil {
					return err
				}
				a.logger.Info().Str("file", payloadPath).Int("indicators", len(p.Indicators)).Msg("loaded payload")
			}
			if len(args) == 0 {
				return nil
			}
			report, err := svc.ImportFiles(ctx, args, keepGoing)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().String("payload", "", "Restore a JSON payload written by export")
	cmd.Flags().Bool("keep-going", false, "Skip unreadable files instead of aborting")
	return cmd
}

func normalizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "normalize",
		Short: "Merge stored alias indicators into their canonical names",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd, os.Stderr)
			if err != nil {
				return err
			}
			ctx := context.Background()
			svc, pool, err := a.openService(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			report, err := svc.MergeAliases(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the stored data as JSON or CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			format, _ := cmd.Flags().GetString("format")
			out, _ := cmd.Flags().GetString("out")

			a, err := loadApp(cmd, os.Stderr)
			if err != nil {
				return err
			}
			ctx := context.Background()
			svc, pool, err := a.openService(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			p, err := svc.Payload(ctx)
			if err != nil {
				return err
			}
			return withOutput(out, func(w io.Writer) error { return writePayload(w, p, format) })
		},
	}
	cmd.Flags().StringP("format", "f", formatJSON, "json, pivot, flags or ranges")
	cmd.Flags().StringP("out", "o", "", "Output file (default stdout)")
	return cmd
}

func reconcileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile files...",
		Short: "Reconcile CSV exports offline, without a database",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, _ := cmd.Flags().GetString("format")
			out, _ := cmd.Flags().GetString("out")
			keepGoing, _ := cmd.Flags().GetBool("keep-going")

			a, err := loadApp(cmd, os.Stderr)
			if err != nil {
				return err
			}
			p, report, err := reconcileFiles(context.Background(), a, args, keepGoing)
			if err != nil {
				return err
			}
			a.logger.Info().
				Int("files", report.Files).
				Strs("skipped", report.SkippedFiles).
				Int("records", report.Records).
				Int("dropped", report.Dropped).
				Msg("reconciled")
			return withOutput(out, func(w io.Writer) error { return writePayload(w, p, format) })
		},
	}
	cmd.Flags().StringP("format", "f", formatJSON, "json, pivot, flags or ranges")
	cmd.Flags().StringP("out", "o", "", "Output file (default stdout)")
	cmd.Flags().Bool("keep-going", false, "Skip unreadable files instead of aborting")
	return cmd
}

// reconcileFiles imports paths into an in-memory store and returns the
// resulting payload.
func reconcileFiles(ctx context.Context, a *app, paths []string, keepGoing bool) (*labresult.Payload, *labresult.ImportReport, error) {
	svc := labresult.NewService(labresult.NewMemoryRepo(), a.engine, a.logger)
	report, err := svc.ImportFiles(ctx, paths, keepGoing)
	if err != nil {
		return nil, nil, err
	}
	p, err := svc.Payload(ctx)
	if err != nil {
		return nil, nil, err
	}
	return p, report, nil
}

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check [payload.json]",
		Short: "Verify a payload file, or the stored data when no file is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var p *labresult.Payload
			if len(args) == 1 {
				var err error
				if p, err = readPayloadFile(args[0]); err != nil {
					return err
				}
			} else {
				a, err := loadApp(cmd, os.Stderr)
				if err != nil {
					return err
				}
				ctx := context.Background()
				svc, pool, err := a.openService(ctx)
				if err != nil {
					return err
				}
				defer pool.Close()
				if p, err = svc.Payload(ctx); err != nil {
					return err
				}
			}
			if err := labresult.Check(p); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %d indicators, %d dates\n", len(p.Indicators), len(p.Dates))
			return nil
		},
	}
}

func scheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Store the treatment start date and cycle length",
		RunE: func(cmd *cobra.Command, args []string) error {
			start, _ := cmd.Flags().GetString("start")
			cycle, _ := cmd.Flags().GetInt("cycle")

			a, err := loadApp(cmd, os.Stderr)
			if err != nil {
				return err
			}
			ctx := context.Background()
			svc, pool, err := a.openService(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := svc.SetSchedule(ctx, start, cycle); err != nil {
				return err
			}
			a.logger.Info().Str("start_date", start).Int("cycle_length_days", cycle).Msg("schedule saved")
			return nil
		},
	}
	cmd.Flags().String("start", "", "Treatment start date")
	cmd.Flags().Int("cycle", 0, "Cycle length in days")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("cycle")
	return cmd
}
