package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/petal-labs/canvasflow/plugin"
)

// NewPluginsCmd creates the "plugins" subcommand.
func NewPluginsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugins",
		Short: "List plugin node types",
		Args:  cobra.NoArgs,
		RunE:  runPlugins,
	}
	addSessionFlags(cmd)
	cmd.Flags().String("format", "text", "Output format: text | json")

	check := &cobra.Command{
		Use:   "check <manifest>",
		Short: "Check a plugin manifest without installing it",
		Args:  cobra.ExactArgs(1),
		RunE:  runPluginsCheck,
	}
	cmd.AddCommand(check)

	return cmd
}

func runPlugins(cmd *cobra.Command, _ []string) error {
	format, _ := cmd.Flags().GetString("format")
	if format != "text" && format != "json" {
		return exitError(exitUsage, "unknown format %q (use text or json)", format)
	}

	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	loaded := s.plugins.Loaded()
	out := cmd.OutOrStdout()
	if format == "json" {
		if loaded == nil {
			loaded = []plugin.Info{}
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		_ = enc.Encode(loaded)
		return nil
	}

	if len(loaded) == 0 {
		if s.settings.PluginsDir == "" {
			fmt.Fprintln(out, "No plugin directory configured.")
		} else {
			fmt.Fprintf(out, "No plugins in %s.\n", s.settings.PluginsDir)
		}
		return nil
	}
	for _, info := range loaded {
		fmt.Fprintf(out, "%-20s %-8s %s\n", info.NodeType, info.Source, info.Path)
	}
	return nil
}

func runPluginsCheck(cmd *cobra.Command, args []string) error {
	path := args[0]
	src, err := os.ReadFile(path) // #nosec G304 -- path from user CLI argument
	if err != nil {
		if os.IsNotExist(err) {
			return exitError(exitFileNotFound, "file not found: %s", path)
		}
		return exitError(exitRuntime, "reading manifest: %v", err)
	}
	specs, err := plugin.ParseManifest(path, src)
	if err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), err)
		return exitError(exitValidation, "invalid manifest: %s", path)
	}
	out := cmd.OutOrStdout()
	for _, spec := range specs {
		fmt.Fprintf(out, "%-20s %s\n", spec.Type, plural(len(spec.Params), "parameter"))
	}
	fmt.Fprintf(out, "%s OK\n", plural(len(specs), "node type"))
	return nil
}
