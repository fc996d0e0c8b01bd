package cli

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/petal-labs/canvasflow/core"
	"github.com/petal-labs/canvasflow/graph"
	"github.com/petal-labs/canvasflow/loader"
	"github.com/petal-labs/canvasflow/nodes"
	"github.com/petal-labs/canvasflow/registry"
)

// starter is a small pipeline written by "new": a chain of node types, each
// fed by the previous one.
type starter struct {
	chain []string
	ports []string // input port of chain[i+1]
}

var starters = map[string]starter{
	"chat": {
		chain: []string{nodes.TypeUserInput, nodes.TypeOpenAI, nodes.TypeDisplay},
		ports: []string{"prompt", "data"},
	},
	"search": {
		chain: []string{nodes.TypeUserInput, nodes.TypeBraveSearch, nodes.TypeDisplay},
		ports: []string{"query", "data"},
	},
	"local": {
		chain: []string{nodes.TypeUserInput, nodes.TypeLocalLLM, nodes.TypeDisplay},
		ports: []string{"prompt", "data"},
	},
}

// NewNewCmd creates the "new" subcommand.
func NewNewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "new <file>",
		Short: "Write a starter workflow file",
		Args:  cobra.ExactArgs(1),
		RunE:  runNew,
	}
	cmd.Flags().String("template", "chat", "Starter pipeline: "+strings.Join(starterNames(), " | "))
	cmd.Flags().Bool("force", false, "Overwrite an existing file")
	return cmd
}

func runNew(cmd *cobra.Command, args []string) error {
	path := args[0]
	name, _ := cmd.Flags().GetString("template")
	force, _ := cmd.Flags().GetBool("force")

	st, ok := starters[name]
	if !ok {
		return exitError(exitUsage, "unknown template %q (use %s)", name, strings.Join(starterNames(), ", "))
	}
	if _, err := os.Stat(path); err == nil && !force {
		return exitError(exitUsage, "%s already exists (use --force to overwrite)", path)
	}

	reg := registry.New()
	nodes.RegisterBuiltins(reg, nodes.Deps{})
	g, err := buildStarter(reg, st)
	if err != nil {
		return exitError(exitRuntime, "%v", err)
	}
	if err := loader.Save(path, g, time.Now()); err != nil {
		return exitError(exitRuntime, "%v", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s workflow to %s\n", name, path)
	return nil
}

func buildStarter(reg *registry.Registry, st starter) (*graph.Graph, error) {
	g := graph.New()
	ids := make([]string, len(st.chain))
	for i, typ := range st.chain {
		ids[i] = fmt.Sprintf("%s-%d", typ, i+1)
		n, ok := reg.Create(typ, ids[i], core.Position{X: float64(100 + 250*i), Y: 100})
		if !ok {
			return nil, fmt.Errorf("unknown node type %q", typ)
		}
		if err := g.AddNode(n); err != nil {
			return nil, err
		}
	}
	for i, port := range st.ports {
		if _, err := g.Connect(ids[i], core.DefaultOutputPort, ids[i+1], port); err != nil {
			return nil, err
		}
	}
	return g, nil
}

func starterNames() []string {
	names := make([]string, 0, len(starters))
	for name := range starters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
