// Package feedback holds the feedback log commands.
package feedback

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/gridlens/gridlens/internal/app"
	"github.com/gridlens/gridlens/internal/conf"
	"github.com/gridlens/gridlens/internal/datastore/entities"
	"github.com/gridlens/gridlens/internal/errors"
	"github.com/gridlens/gridlens/internal/export/targets"
	fb "github.com/gridlens/gridlens/internal/feedback"
	"github.com/gridlens/gridlens/internal/logger"
)

// Command returns the feedback command group.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "feedback",
		Short: "Inspect and export annotator feedback logs",
	}
	cmd.AddCommand(statsCommand(settings), exportCommand(settings))
	return cmd
}

func statsCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print feedback log counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.Build(cmd.Context(), settings, app.Options{})
			if err != nil {
				return err
			}
			defer a.Close()

			st, err := a.Services.Feedback.Stats(cmd.Context())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), RenderStats(st))
			return err
		},
	}
}

// RenderStats formats stats as a table, one row per feedback type after
// the totals.
func RenderStats(st *fb.Stats) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"Metric", "Count"})
	tw.AppendRow(table.Row{"Total", st.TotalLogs})
	tw.AppendRow(table.Row{"Unused", st.UnusedLogs})
	tw.AppendRow(table.Row{"Used for training", st.UsedLogs})

	types := make([]string, 0, len(st.FeedbackTypeCounts))
	for t := range st.FeedbackTypeCounts {
		types = append(types, t)
	}
	slices.Sort(types)
	if len(types) > 0 {
		tw.AppendSeparator()
	}
	for _, t := range types {
		tw.AppendRow(table.Row{t, st.FeedbackTypeCounts[t]})
	}
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight, AlignHeader: text.AlignRight},
	})
	return tw.Render()
}

// ExportOptions selects what an export contains and where it goes.
type ExportOptions struct {
	Format string
	Unused bool
	// Target names a configured export target. Empty writes to Output.
	Target string
	// Output is a file path; empty or "-" means the command's stdout.
	Output string
}

func exportCommand(settings *conf.Settings) *cobra.Command {
	var opts ExportOptions
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export feedback logs as JSON or CSV",
		Long: `Export feedback logs and mark them as exported.

Examples:
  # Unused logs as CSV on stdout
  gridlens feedback export --format csv --unused

  # All logs as JSON to the configured SFTP server
  gridlens feedback export --target sftp`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.Build(cmd.Context(), settings, app.Options{})
			if err != nil {
				return err
			}
			defer a.Close()

			var target targets.Target
			if opts.Target != "" {
				exportSettings := settings.Export
				exportSettings.Local.Path = settings.ResolvePath(exportSettings.Local.Path)
				target, err = targets.FromSettings(&exportSettings, opts.Target, logger.Global().Module("export"))
				if err != nil {
					return err
				}
			}
			return RunExport(cmd.Context(), a.Services.Feedback, opts, target, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&opts.Format, "format", "f", fb.FormatJSON, "Export format: json or csv")
	cmd.Flags().BoolVar(&opts.Unused, "unused", false, "Only logs not yet used for training")
	cmd.Flags().StringVarP(&opts.Target, "target", "t", "", "Deliver to a configured target: local, sftp or ftp")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "Write to a file instead of stdout")
	return cmd
}

// RunExport renders the selected logs and delivers them to target, or to
// opts.Output (stdout when empty) if target is nil.
func RunExport(ctx context.Context, svc *fb.Service, opts ExportOptions, target targets.Target, stdout io.Writer) error {
	if opts.Format != fb.FormatJSON && opts.Format != fb.FormatCSV {
		return errors.Newf("unsupported export format %q", opts.Format).
			Component("cli").
			Category(errors.CategoryValidation).
			Build()
	}

	var (
		logs []entities.FeedbackLog
		err  error
	)
	if opts.Unused {
		logs, err = svc.ListUnused(ctx)
	} else {
		logs, err = svc.List(ctx, fb.Filter{})
	}
	if err != nil {
		return err
	}

	data, err := svc.Export(ctx, opts.Format, logs)
	if err != nil {
		return err
	}

	log := logger.Global().Module("cli")
	switch {
	case target != nil:
		name := fb.ExportFilename(opts.Format, time.Now())
		if err := target.Store(ctx, name, bytes.NewReader(data)); err != nil {
			return err
		}
		log.Info("feedback export delivered",
			logger.String("target", target.Name()),
			logger.String("file", name),
			logger.Int("count", len(logs)))
		_, err = fmt.Fprintf(stdout, "exported %s to %s (%d logs)\n", name, target.Name(), len(logs))
		return err
	case opts.Output != "" && opts.Output != "-":
		if err := os.WriteFile(opts.Output, data, 0o644); err != nil {
			return errors.New(err).
				Component("cli").
				Category(errors.CategoryFileIO).
				Context("path", opts.Output).
				Build()
		}
		log.Info("feedback export written", logger.String("path", opts.Output), logger.Int("count", len(logs)))
		return nil
	default:
		_, err = stdout.Write(data)
		return err
	}
}
