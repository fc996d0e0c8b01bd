package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/petal-labs/canvasflow/core"
	"github.com/petal-labs/canvasflow/registry"
)

// NewTypesCmd creates the "types" subcommand.
func NewTypesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "types [type]",
		Short: "List node types and their parameters",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runTypes,
	}

	addSessionFlags(cmd)
	cmd.Flags().String("category", "", "Only list types of this category")
	cmd.Flags().String("format", "text", "Output format: text | json")

	return cmd
}

// typeOutput is one node type with its ports and parameter surface.
type typeOutput struct {
	registry.TypeInfo
	Ports      core.Ports      `json:"ports"`
	Parameters []core.ParamDef `json:"parameters"`
	Error      string          `json:"error,omitempty"`
}

func runTypes(cmd *cobra.Command, args []string) error {
	category, _ := cmd.Flags().GetString("category")
	format, _ := cmd.Flags().GetString("format")
	if format != "text" && format != "json" {
		return exitError(exitUsage, "unknown format %q (use text or json)", format)
	}

	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	infos := s.registry.All()
	if category != "" {
		infos = s.registry.ByCategory(category)
	}
	if len(args) == 1 {
		meta, ok := s.registry.Metadata(args[0])
		if !ok {
			return exitError(exitValidation, "unknown node type %q", args[0])
		}
		infos = []registry.TypeInfo{{Type: args[0], Metadata: meta}}
	}

	types := make([]typeOutput, 0, len(infos))
	for _, info := range infos {
		t := typeOutput{TypeInfo: info}
		if n, ok := s.registry.Create(info.Type, "probe", core.Position{}); ok {
			t.Ports = n.Ports()
			params, err := n.ParameterDefinitions(cmd.Context())
			t.Parameters = params
			if err != nil {
				t.Error = err.Error()
			}
		}
		types = append(types, t)
	}

	out := cmd.OutOrStdout()
	if format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		_ = enc.Encode(types)
		return nil
	}

	current := ""
	for _, t := range types {
		if t.Category != current {
			if current != "" {
				fmt.Fprintln(out)
			}
			current = t.Category
			fmt.Fprintf(out, "%s:\n", strings.ToUpper(current))
		}
		fmt.Fprintf(out, "  %-14s %s\n", t.Type, t.DisplayName)
		if t.Description != "" {
			fmt.Fprintf(out, "  %-14s %s\n", "", t.Description)
		}
		for _, p := range t.Parameters {
			fmt.Fprintf(out, "    - %s (%s)%s\n", p.Name, p.Type, describeParam(p))
		}
		if t.Error != "" {
			fmt.Fprintf(out, "    ! %s\n", t.Error)
		}
	}
	return nil
}

func describeParam(p core.ParamDef) string {
	var parts []string
	if p.Default != nil && p.Default != "" {
		parts = append(parts, fmt.Sprintf("default %v", p.Default))
	}
	if p.Min != nil && p.Max != nil {
		parts = append(parts, fmt.Sprintf("range %g..%g", *p.Min, *p.Max))
	}
	if len(p.Options) > 0 {
		labels := make([]string, 0, len(p.Options))
		for _, o := range p.Options {
			labels = append(labels, fmt.Sprint(o.Value))
		}
		parts = append(parts, "one of "+strings.Join(labels, ", "))
	}
	if len(parts) == 0 {
		return ""
	}
	return ": " + strings.Join(parts, "; ")
}
