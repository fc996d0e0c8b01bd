package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/petal-labs/canvasflow/bus"
	"github.com/petal-labs/canvasflow/core"
	"github.com/petal-labs/canvasflow/credentials"
	"github.com/petal-labs/canvasflow/graph"
	"github.com/petal-labs/canvasflow/loader"
	"github.com/petal-labs/canvasflow/nodes"
	"github.com/petal-labs/canvasflow/otel"
	"github.com/petal-labs/canvasflow/runtime"
)

// NewRunCmd creates the "run" subcommand.
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <file>",
		Short: "Execute a workflow file",
		Args:  cobra.ExactArgs(1),
		RunE:  runRun,
	}

	addSessionFlags(cmd)
	addExecFlags(cmd)
	cmd.Flags().StringP("output", "o", "", "Write output to file (default: stdout)")
	cmd.Flags().String("format", "pretty", "Output format: pretty | json | text")

	return cmd
}

// addExecFlags registers the flags shared by run and schedule.
func addExecFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringP("input", "i", "", "Override the text of every user-input node")
	f.Duration("timeout", 5*time.Minute, "Execution timeout")
	f.String("history", "", "Record run events to this SQLite database")
	f.String("otel-endpoint", "", "Export traces to this OTLP/HTTP endpoint (host:port)")
	f.Bool("otel-insecure", false, "Disable TLS for the OTLP exporter")
	f.Bool("metrics", false, "Print run metrics to stderr when the run ends")
	f.Bool("events", false, "Stream run events to stderr")
}

func runRun(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	switch format {
	case "pretty", "json", "text":
	default:
		return exitError(exitUsage, "unknown format %q (use pretty, json, or text)", format)
	}

	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	g, err := loadWorkflowForRun(cmd, s, args[0])
	if err != nil {
		return err
	}

	result, runErr := executeWorkflow(cmd.Context(), cmd, s, g)
	if result.RunID == "" {
		return runErr
	}
	if err := writeOutput(cmd, g, result); err != nil {
		return err
	}
	return runErr
}

// loadWorkflowForRun reads, restores and validates a workflow. Skipped
// document entries are reported on stderr; a graph that fails validation
// stops here with its diagnostics.
func loadWorkflowForRun(cmd *cobra.Command, s *session, filePath string) (*graph.Graph, error) {
	g, warnings, err := loader.Load(filePath, s.registry, s.logger)
	if err != nil {
		return nil, loadError(filePath, err)
	}
	for _, w := range warnings {
		fmt.Fprintf(cmd.ErrOrStderr(), "WARNING [%s]: %s\n", w.Kind, w.Message)
	}

	if input, _ := cmd.Flags().GetString("input"); input != "" {
		for _, n := range g.Nodes() {
			if n.Type() == nodes.TypeUserInput {
				n.SetParameter("inputText", input)
			}
		}
	}

	if err := loader.Check(g); err != nil {
		var verr *loader.ValidationError
		if errors.As(err, &verr) {
			printDiagnosticsText(cmd.ErrOrStderr(), verr.Report.Diagnostics)
		}
		return nil, exitError(exitValidation, "%v", err)
	}
	return g, nil
}

// loadError maps a loader failure to its exit code.
func loadError(filePath string, err error) error {
	switch {
	case errors.Is(err, os.ErrNotExist):
		return exitError(exitFileNotFound, "file not found: %s", filePath)
	case errors.Is(err, loader.ErrUnrecognizedSchema):
		return exitError(exitWrongSchema, "%v", err)
	default:
		return exitError(exitValidation, "%v", err)
	}
}

// executeWorkflow runs g once with telemetry and optional history
// recording. The returned error is already an *ExitError.
func executeWorkflow(parent context.Context, cmd *cobra.Command, s *session, g *graph.Graph) (runtime.RunResult, error) {
	insecure, _ := cmd.Flags().GetBool("otel-insecure")
	metrics, _ := cmd.Flags().GetBool("metrics")
	streamEvents, _ := cmd.Flags().GetBool("events")

	tel, err := otel.Setup(parent, otel.Config{
		OTLPEndpoint: s.settings.OTLPEndpoint,
		Insecure:     insecure,
		Metrics:      metrics,
	})
	if err != nil {
		return runtime.RunResult{}, exitError(exitRuntime, "%v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(ctx); err != nil {
			s.logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	store, closeStore, err := openHistory(s.settings.HistoryDB)
	if err != nil {
		return runtime.RunResult{}, err
	}
	defer closeStore()

	eb := bus.NewMemBus(bus.MemBusConfig{SubscriberBufferSize: 1024})
	recorded := make(chan struct{})
	if store != nil {
		sub := eb.SubscribeAll()
		recorder := bus.NewStoreSubscriber(store, s.logger)
		go func() {
			defer close(recorded)
			recorder.Drain(context.Background(), sub)
		}()
	} else {
		close(recorded)
	}

	var printer runtime.EventHandler
	if streamEvents {
		printer = eventPrinter(cmd.ErrOrStderr())
	}

	ctx, cancel, timeout := runContext(parent, cmd)
	defer cancel()

	result, runErr := runtime.NewEngine(g, runtime.WithLogger(s.logger)).Run(ctx, runtime.RunOptions{
		EventHandler:          runtime.MultiEventHandler(tel.Handler(), printer),
		EventEmitterDecorator: tel.Decorator(),
		EventBus:              eb,
	})
	_ = eb.Close()
	<-recorded

	if metrics {
		if err := tel.WriteMetrics(parent, cmd.ErrOrStderr()); err != nil {
			s.logger.Warn("writing metrics failed", "error", err)
		}
	}
	if runErr != nil {
		return result, runRuntimeError(ctx, timeout, runErr)
	}
	return result, nil
}

// openHistory opens the event store a run is recorded to. An empty path
// records nothing.
func openHistory(path string) (bus.EventStore, func(), error) {
	if path == "" {
		return nil, func() {}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, nil, exitError(exitRuntime, "creating %s: %v", filepath.Dir(path), err)
	}
	store, err := bus.NewSQLiteEventStore(bus.SQLiteStoreConfig{DSN: path})
	if err != nil {
		return nil, nil, exitError(exitRuntime, "opening history: %v", err)
	}
	return store, func() { _ = store.Close() }, nil
}

func runContext(parent context.Context, cmd *cobra.Command) (context.Context, context.CancelFunc, time.Duration) {
	timeout, _ := cmd.Flags().GetDuration("timeout")
	ctx, cancel := context.WithTimeout(parent, timeout)
	return ctx, cancel, timeout
}

func runRuntimeError(ctx context.Context, timeout time.Duration, err error) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return exitError(exitTimeout, "execution timed out after %s", timeout)
	case errors.Is(err, credentials.ErrNotFound):
		return exitError(exitProvider, "execution failed: %v", err)
	default:
		return exitError(exitRuntime, "execution failed: %v", err)
	}
}

// eventPrinter writes one line per event.
func eventPrinter(w io.Writer) runtime.EventHandler {
	return func(e runtime.Event) {
		line := fmt.Sprintf("[%03d] %-13s", e.Seq, e.Kind)
		if e.NodeID != "" {
			line += fmt.Sprintf(" %s (%s)", e.NodeID, e.NodeType)
		}
		if msg, ok := e.Payload["error"].(string); ok {
			line += ": " + msg
		}
		fmt.Fprintln(w, line)
	}
}

// nodeOutput is one node's final state in JSON output.
type nodeOutput struct {
	ID     string      `json:"id"`
	Type   string      `json:"type"`
	Status core.Status `json:"status"`
	Result any         `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
}

type runOutput struct {
	Run   runtime.RunResult `json:"run"`
	Nodes []nodeOutput      `json:"nodes"`
}

// writeOutput formats the run's node results.
func writeOutput(cmd *cobra.Command, g *graph.Graph, result runtime.RunResult) error {
	format, _ := cmd.Flags().GetString("format")
	outputPath, _ := cmd.Flags().GetString("output")

	var output string
	switch format {
	case "json":
		out := runOutput{Run: result, Nodes: []nodeOutput{}}
		for _, n := range orderedNodes(g, result) {
			out.Nodes = append(out.Nodes, nodeOutput{
				ID:     n.ID(),
				Type:   n.Type(),
				Status: n.State().Status(),
				Result: n.State().Result(),
				Error:  n.State().Error(),
			})
		}
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return exitError(exitRuntime, "marshaling output: %v", err)
		}
		output = string(data)
	case "text":
		var parts []string
		for _, r := range displayResults(g, result) {
			if m, ok := r.(map[string]any); ok {
				if s, ok := m["formattedOutput"].(string); ok {
					parts = append(parts, s)
				}
			}
		}
		output = strings.Join(parts, "\n\n")
	default:
		output = formatPretty(g, result)
	}

	if outputPath != "" {
		if err := os.WriteFile(outputPath, []byte(output+"\n"), 0o600); err != nil {
			return exitError(exitRuntime, "writing output file: %v", err)
		}
		return nil
	}
	if output != "" {
		fmt.Fprintln(cmd.OutOrStdout(), output)
	}
	return nil
}

// formatPretty renders every display node result. A workflow without a
// completed display node shows the result of the last completed node.
func formatPretty(g *graph.Graph, result runtime.RunResult) string {
	var sb strings.Builder
	shown := displayResults(g, result)
	if len(shown) == 0 {
		if last := lastResult(g, result); last != nil {
			shown = []any{last}
		}
	}
	for i, r := range shown {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(nodes.Render(r))
	}

	if sb.Len() > 0 {
		sb.WriteString("\n\n")
	}
	if result.Success {
		fmt.Fprintf(&sb, "Run %s completed: %s in %s", result.RunID, plural(len(result.Order), "node"), result.Elapsed.Round(time.Millisecond))
	} else {
		fmt.Fprintf(&sb, "Run %s failed", result.RunID)
		if result.FailedNode != "" {
			fmt.Fprintf(&sb, " at node %s", result.FailedNode)
		}
	}
	return sb.String()
}

// orderedNodes returns the nodes in execution order, or in insertion order
// when no order was computed.
func orderedNodes(g *graph.Graph, result runtime.RunResult) []core.Node {
	if len(result.Order) == 0 {
		return g.Nodes()
	}
	out := make([]core.Node, 0, len(result.Order))
	for _, id := range result.Order {
		if n, ok := g.Node(id); ok {
			out = append(out, n)
		}
	}
	return out
}

func displayResults(g *graph.Graph, result runtime.RunResult) []any {
	var out []any
	for _, n := range orderedNodes(g, result) {
		if n.Type() == nodes.TypeDisplay && n.State().Status() == core.StatusCompleted {
			out = append(out, n.State().Result())
		}
	}
	return out
}

func lastResult(g *graph.Graph, result runtime.RunResult) any {
	var last any
	for _, n := range orderedNodes(g, result) {
		if n.State().Status() == core.StatusCompleted {
			last = n.State().Result()
		}
	}
	return last
}
