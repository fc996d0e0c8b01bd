package nodes

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/petal-labs/canvasflow/core"
	"github.com/petal-labs/canvasflow/llmprovider"
	"github.com/petal-labs/canvasflow/runtime"
)

// TypeLocalLLM is the registry type of LocalLLMNode.
const TypeLocalLLM = "local-llm"

var assistantPrefix = regexp.MustCompile(`(?i)^Assistant:\s*`)

// localStops end generation when the model starts the next user turn.
var localStops = []string{"\n\nUser:", "\nUser:"}

// LocalLLMNode generates text with a locally installed model.
type LocalLLMNode struct {
	core.BaseNode
	catalog ModelCatalog
	clients ClientFactory
	now     func() time.Time
}

// NewLocalLLMNode creates a local model node. The catalog supplies the
// model choices; a nil factory uses llmprovider.NewClient.
func NewLocalLLMNode(id string, pos core.Position, catalog ModelCatalog, clients ClientFactory) *LocalLLMNode {
	if clients == nil {
		clients = llmprovider.NewClient
	}
	return &LocalLLMNode{
		BaseNode: core.NewBaseNode(id, TypeLocalLLM, pos,
			core.Ports{Inputs: []string{"prompt"}, Outputs: []string{core.DefaultOutputPort}},
			core.Parameters{
				"selectedModel": "",
				"temperature":   0.7,
				"max_tokens":    2048.0,
				"systemPrompt":  "You are a helpful AI assistant.",
			}),
		catalog: catalog,
		clients: clients,
		now:     time.Now,
	}
}

// ParameterDefinitions lists the installed models as choices. A catalog
// failure still yields the definitions, with only the empty choice.
func (n *LocalLLMNode) ParameterDefinitions(ctx context.Context) ([]core.ParamDef, error) {
	choices := []core.Option{{Value: "", Label: "Select a model..."}}
	var listErr error
	if n.catalog != nil {
		models, err := n.catalog.Models(ctx)
		listErr = err
		for _, m := range models {
			choices = append(choices, core.Option{Value: m.Path, Label: fmt.Sprintf("%s (%s)", m.Name, m.SizeFormatted)})
		}
	}
	return []core.ParamDef{
		{Name: "selectedModel", Type: core.ParamSelect, Label: "Model", Default: "", Options: choices},
		{Name: "temperature", Type: core.ParamNumber, Label: "Temperature", Default: 0.7, Min: core.Bound(0), Max: core.Bound(2), Step: core.Bound(0.1)},
		{Name: "max_tokens", Type: core.ParamNumber, Label: "Max Tokens", Default: 2048.0, Min: core.Bound(1), Max: core.Bound(4096)},
		{Name: "systemPrompt", Type: core.ParamTextArea, Label: "System prompt", Default: "You are a helpful AI assistant."},
	}, listErr
}

// Execute returns {prompt, response, model, parameters, timestamp}.
func (n *LocalLLMNode) Execute(ctx context.Context, in core.Inputs) (any, error) {
	prompt, err := promptText(in, "prompt", "prompt")
	if err != nil {
		return nil, err
	}
	params := n.Params()
	selected := params.String("selectedModel")
	if selected == "" {
		return nil, fmt.Errorf("no model selected: choose one in the node parameters")
	}
	if !modelExists(selected) {
		return nil, fmt.Errorf("model file not found: %s", selected)
	}

	client, err := n.clients(llmprovider.Ollama, "")
	if err != nil {
		return nil, fmt.Errorf("local model runtime: %w", err)
	}

	temperature := floatParam(params, "temperature", 0.7)
	maxTokens := intParam(params, "max_tokens", 2048)
	resp, err := client.Complete(ctx, core.LLMRequest{
		Model:       modelID(selected),
		InputText:   localPrompt(params.String("systemPrompt"), prompt),
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
		Stop:        localStops,
	})
	if err != nil {
		return nil, fmt.Errorf("local model error: %w", err)
	}
	text := strings.TrimSpace(assistantPrefix.ReplaceAllString(strings.TrimSpace(resp.Text), ""))

	runtime.EmitOutput(ctx, map[string]any{"text": text})
	return map[string]any{
		"prompt":   prompt,
		"response": text,
		"model":    selected,
		"parameters": map[string]any{
			"temperature": temperature,
			"max_tokens":  maxTokens,
		},
		"timestamp": timestamp(n.now),
	}, nil
}

// localPrompt frames a single-turn transcript for completion-style models.
func localPrompt(system, prompt string) string {
	if system != "" {
		return system + "\n\nUser: " + prompt + "\n\nAssistant:"
	}
	return "User: " + prompt + "\n\nAssistant:"
}

var _ core.Node = (*LocalLLMNode)(nil)
