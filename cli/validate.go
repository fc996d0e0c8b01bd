package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/petal-labs/canvasflow/document"
	"github.com/petal-labs/canvasflow/graph"
	"github.com/petal-labs/canvasflow/loader"
)

// NewValidateCmd creates the "validate" subcommand.
func NewValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a workflow file without executing",
		Args:  cobra.ExactArgs(1),
		RunE:  runValidate,
	}

	addSessionFlags(cmd)
	cmd.Flags().String("format", "text", "Output format: text | json")
	cmd.Flags().Bool("strict", false, "Treat warnings and skipped entries as errors")

	return cmd
}

// validateOutput is the JSON form of a validation run.
type validateOutput struct {
	graph.Report
	Skipped []document.Warning `json:"skipped"`
}

func runValidate(cmd *cobra.Command, args []string) error {
	filePath := args[0]
	format, _ := cmd.Flags().GetString("format")
	strict, _ := cmd.Flags().GetBool("strict")
	if format != "text" && format != "json" {
		return exitError(exitUsage, "unknown format %q (use text or json)", format)
	}

	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	g, skipped, err := loader.Load(filePath, s.registry, s.logger)
	if err != nil {
		return loadError(filePath, err)
	}
	report := g.Validate()

	out := cmd.OutOrStdout()
	if format == "json" {
		if report.Diagnostics == nil {
			report.Diagnostics = []graph.Diagnostic{}
		}
		if skipped == nil {
			skipped = []document.Warning{}
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		_ = enc.Encode(validateOutput{Report: report, Skipped: skipped})
	} else {
		for _, w := range skipped {
			fmt.Fprintf(out, "SKIPPED [%s]: %s\n", w.Kind, w.Message)
		}
		printDiagnosticsText(out, report.Diagnostics)
	}

	if !report.Valid || (strict && (len(report.Warnings()) > 0 || len(skipped) > 0)) {
		return exitError(exitValidation, "validation failed")
	}
	return nil
}

// printDiagnosticsText writes diagnostics as formatted text lines followed by
// a summary. Used by both the validate and run commands.
func printDiagnosticsText(w io.Writer, diags []graph.Diagnostic) {
	errs, warns := 0, 0
	for _, d := range diags {
		if d.Severity == graph.SeverityError {
			errs++
		} else {
			warns++
		}
		sev := strings.ToUpper(d.Severity)
		if d.NodeID != "" {
			fmt.Fprintf(w, "%s [%s]: %s (at %s)\n", sev, d.Code, d.Message, d.NodeID)
		} else {
			fmt.Fprintf(w, "%s [%s]: %s\n", sev, d.Code, d.Message)
		}
	}

	switch {
	case errs == 0 && warns == 0:
		fmt.Fprintln(w, "Valid!")
	case errs == 0:
		fmt.Fprintf(w, "\nValid! (%s)\n", plural(warns, "warning"))
	default:
		fmt.Fprintf(w, "\n%s, %s\n", plural(errs, "error"), plural(warns, "warning"))
	}
}
