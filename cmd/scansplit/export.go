package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/scansplit/internal/export"
)

type exportOptions struct {
	Dir    string
	Format string
	Output string
}

func newExportCmd() *cobra.Command {
	o := exportOptions{Dir: "out", Format: "zip"}

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Package bucket files as a zip archive or an xlsx workbook",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd, o)
		},
	}

	fs := cmd.Flags()
	fs.StringVarP(&o.Dir, "dir", "d", o.Dir, "Directory holding the bucket files")
	fs.StringVarP(&o.Format, "format", "f", o.Format, "Output format: zip or xlsx")
	fs.StringVarP(&o.Output, "output", "o", "", "Output file (default: results.<format>, - for stdout)")
	return cmd
}

func runExport(cmd *cobra.Command, o exportOptions) error {
	var write func(io.Writer, string) error
	switch o.Format {
	case "zip":
		write = func(w io.Writer, dir string) error {
			_, err := export.WriteZip(w, dir)
			return err
		}
	case "xlsx":
		write = export.WriteWorkbook
	default:
		return fmt.Errorf("unknown format %q (want zip or xlsx)", o.Format)
	}

	// Fail before creating the output file.
	if ok, err := export.HasResults(o.Dir); err != nil {
		return err
	} else if !ok {
		return export.ErrNoResults
	}

	if o.Output == "-" {
		return write(cmd.OutOrStdout(), o.Dir)
	}
	if o.Output == "" {
		o.Output = "results." + o.Format
	}

	f, err := os.Create(o.Output)
	if err != nil {
		return fmt.Errorf("create %s: %w", o.Output, err)
	}
	if err := write(f, o.Dir); err != nil {
		f.Close()
		os.Remove(o.Output)
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", o.Output)
	return nil
}
