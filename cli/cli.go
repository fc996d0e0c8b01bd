// Package cli implements the canvasflow command line: running, validating
// and scheduling workflow files, and managing node types, plugins, run
// history and stored API keys.
package cli

import "github.com/spf13/cobra"

// AddCommands attaches every canvasflow subcommand to root.
func AddCommands(root *cobra.Command) {
	root.AddCommand(NewRunCmd())
	root.AddCommand(NewValidateCmd())
	root.AddCommand(NewScheduleCmd())
	root.AddCommand(NewNewCmd())
	root.AddCommand(NewTypesCmd())
	root.AddCommand(NewPluginsCmd())
	root.AddCommand(NewHistoryCmd())
	root.AddCommand(NewKeysCmd())
}
