package nodes

import (
	"context"
	"fmt"
	"time"

	"github.com/petal-labs/canvasflow/core"
	"github.com/petal-labs/canvasflow/credentials"
	"github.com/petal-labs/canvasflow/llmprovider"
	"github.com/petal-labs/canvasflow/runtime"
)

// Hosted chat node types.
const (
	TypeOpenAI    = "openai"
	TypeGrok      = "grok"
	TypeAnthropic = "anthropic"
)

// ClientFactory builds an LLM client for a provider and API key.
type ClientFactory func(provider, apiKey string) (core.LLMClient, error)

// ChatSpec describes one hosted chat variant.
type ChatSpec struct {
	Type         string
	DisplayName  string
	Description  string
	Service      string // credentials service name
	Provider     string // llmprovider name
	Models       []core.Option
	DefaultModel string
	System       string
}

// ChatSpecs lists the hosted chat variants in registration order.
var ChatSpecs = []ChatSpec{
	{
		Type:        TypeOpenAI,
		DisplayName: "OpenAI",
		Description: "Generates text with the OpenAI API",
		Service:     "openai",
		Provider:    llmprovider.OpenAI,
		Models: options(
			"gpt-4o", "GPT-4o",
			"gpt-4o-mini", "GPT-4o Mini",
			"gpt-4-turbo", "GPT-4 Turbo",
			"gpt-3.5-turbo", "GPT-3.5 Turbo",
		),
		DefaultModel: "gpt-4o-mini",
		System:       "You are a helpful assistant.",
	},
	{
		Type:        TypeGrok,
		DisplayName: "Grok",
		Description: "Generates text with the xAI Grok API",
		Service:     "grok",
		Provider:    llmprovider.XAI,
		Models: options(
			"grok-beta", "Grok Beta",
			"grok-vision-beta", "Grok Vision Beta",
		),
		DefaultModel: "grok-beta",
		System:       "You are Grok, a chatbot inspired by the Hitchhiker's Guide to the Galaxy.",
	},
	{
		Type:        TypeAnthropic,
		DisplayName: "Anthropic",
		Description: "Generates text with the Anthropic Messages API",
		Service:     "anthropic",
		Provider:    llmprovider.Anthropic,
		Models: options(
			"claude-3-5-sonnet-latest", "Claude 3.5 Sonnet",
			"claude-3-5-haiku-latest", "Claude 3.5 Haiku",
		),
		DefaultModel: "claude-3-5-haiku-latest",
		System:       "You are a helpful assistant.",
	},
}

// ChatNode sends its prompt to a hosted chat model.
type ChatNode struct {
	core.BaseNode
	spec    ChatSpec
	keys    credentials.Store
	clients ClientFactory
	now     func() time.Time
}

// NewChatNode creates a chat node for spec. A nil factory uses
// llmprovider.NewClient.
func NewChatNode(id string, pos core.Position, spec ChatSpec, keys credentials.Store, clients ClientFactory) *ChatNode {
	if clients == nil {
		clients = llmprovider.NewClient
	}
	return &ChatNode{
		BaseNode: core.NewBaseNode(id, spec.Type, pos,
			core.Ports{Inputs: []string{"prompt"}, Outputs: []string{core.DefaultOutputPort}},
			core.Parameters{
				"model":        spec.DefaultModel,
				"temperature":  0.7,
				"max_tokens":   1000.0,
				"systemPrompt": spec.System,
			}),
		spec:    spec,
		keys:    keys,
		clients: clients,
		now:     time.Now,
	}
}

// ParameterDefinitions describes model, sampling and system prompt.
func (n *ChatNode) ParameterDefinitions(context.Context) ([]core.ParamDef, error) {
	return []core.ParamDef{
		{Name: "model", Type: core.ParamSelect, Label: "Model", Default: n.spec.DefaultModel, Options: n.spec.Models},
		{Name: "temperature", Type: core.ParamNumber, Label: "Temperature", Default: 0.7, Min: core.Bound(0), Max: core.Bound(2), Step: core.Bound(0.1)},
		{Name: "max_tokens", Type: core.ParamNumber, Label: "Max Tokens", Default: 1000.0, Min: core.Bound(1), Max: core.Bound(4000)},
		{Name: "systemPrompt", Type: core.ParamTextArea, Label: "System prompt", Default: n.spec.System},
	}, nil
}

// Execute returns {prompt, response, model, usage, timestamp}.
func (n *ChatNode) Execute(ctx context.Context, in core.Inputs) (any, error) {
	prompt, err := promptText(in, "prompt", "prompt")
	if err != nil {
		return nil, err
	}
	apiKey, err := lookupKey(ctx, n.keys, n.spec.Service, n.spec.DisplayName)
	if err != nil {
		return nil, err
	}
	client, err := n.clients(n.spec.Provider, apiKey)
	if err != nil {
		return nil, fmt.Errorf("%s client: %w", n.spec.DisplayName, err)
	}

	params := n.Params()
	model := params.String("model")
	if model == "" {
		model = n.spec.DefaultModel
	}
	temperature := floatParam(params, "temperature", 0.7)
	maxTokens := intParam(params, "max_tokens", 1000)

	resp, err := client.Complete(ctx, core.LLMRequest{
		Model:       model,
		System:      params.String("systemPrompt"),
		InputText:   prompt,
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("%s API error: %w", n.spec.DisplayName, err)
	}

	runtime.EmitOutput(ctx, map[string]any{"text": resp.Text, "provider": resp.Provider})
	return map[string]any{
		"prompt":    prompt,
		"response":  resp.Text,
		"model":     model,
		"usage":     usageMap(resp.Usage),
		"timestamp": timestamp(n.now),
	}, nil
}

var _ core.Node = (*ChatNode)(nil)

func usageMap(u core.LLMTokenUsage) map[string]any {
	return map[string]any{
		"prompt_tokens":     u.InputTokens,
		"completion_tokens": u.OutputTokens,
		"total_tokens":      u.TotalTokens,
	}
}
