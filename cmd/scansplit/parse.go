package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/scansplit/internal/events"
	"github.com/JonMunkholm/scansplit/internal/report"
)

type parseOptions struct {
	OutDir       string
	Client       string
	ProgressRows int
	Quiet        bool
}

// stderrProgress prints parser progress lines.
type stderrProgress struct{ w io.Writer }

func (p stderrProgress) Push(level events.Level, message string) {
	fmt.Fprintf(p.w, "[%s] %s\n", level, message)
}

func newParseCmd() *cobra.Command {
	o := parseOptions{OutDir: "out", Client: report.DefaultClient}

	cmd := &cobra.Command{
		Use:   "parse [flags] FILE...",
		Short: "Parse reports into the four bucket CSV files",
		Long: `Parse one or more report exports in order. Rows are appended to
t1_normal.csv, t1_ajustada.csv, t2_normal.csv and t2_ajustada.csv in the
output directory; existing files are extended, never rewritten.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runParse(cmd, o, args)
		},
	}

	fs := cmd.Flags()
	fs.StringVarP(&o.OutDir, "out", "o", o.OutDir, "Directory for the bucket files")
	fs.StringVarP(&o.Client, "client", "c", o.Client, "Client label for reports that name none")
	fs.IntVar(&o.ProgressRows, "progress-rows", report.DefaultProgressRows, "Rows between progress lines")
	fs.BoolVarP(&o.Quiet, "quiet", "q", false, "Suppress progress output")
	return cmd
}

func runParse(cmd *cobra.Command, o parseOptions, files []string) error {
	if err := os.MkdirAll(o.OutDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	var progress report.Progress = stderrProgress{w: cmd.ErrOrStderr()}
	if o.Quiet {
		progress = nil
	}
	p := report.New(report.Options{
		OutputDir:     o.OutDir,
		DefaultClient: o.Client,
		Progress:      progress,
		ProgressRows:  o.ProgressRows,
	})

	total := report.Counts{}
	for _, path := range files {
		res, err := p.ParseFile(cmd.Context(), path)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		for b, n := range res.Rows {
			total[b] += n
		}
		slog.Info("report parsed",
			"file", res.File,
			"client", res.Client,
			"rows", res.Rows.String(),
			"malformed", res.Malformed,
			"rejected", res.Rejected,
			"duration", res.Duration,
		)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%d file(s) parsed into %s: %s\n", len(files), o.OutDir, total.String())
	return nil
}
