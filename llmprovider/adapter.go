// Package llmprovider bridges iris LLM providers to canvasflow's
// core.LLMClient interface.
package llmprovider

import (
	"context"
	"fmt"
	"strings"

	iriscore "github.com/petal-labs/iris/core"

	"github.com/petal-labs/canvasflow/core"
)

// irisAdapter wraps an iris Provider to implement core.LLMClient.
type irisAdapter struct {
	provider iriscore.Provider
}

// Complete sends a synchronous completion request via the iris provider.
func (a *irisAdapter) Complete(ctx context.Context, req core.LLMRequest) (core.LLMResponse, error) {
	chatReq := a.toRequest(req)

	chatResp, err := a.provider.Chat(ctx, chatReq)
	if err != nil {
		return core.LLMResponse{}, fmt.Errorf("provider chat failed: %w", err)
	}
	if chatResp == nil {
		return core.LLMResponse{}, fmt.Errorf("provider chat failed: empty response")
	}

	return a.fromResponse(chatResp, req), nil
}

// toRequest converts a core.LLMRequest to an iris ChatRequest.
func (a *irisAdapter) toRequest(req core.LLMRequest) *iriscore.ChatRequest {
	messages := make([]iriscore.Message, 0, len(req.Messages)+2)

	if req.System != "" {
		messages = append(messages, iriscore.Message{
			Role:    iriscore.RoleSystem,
			Content: req.System,
		})
	}

	for _, m := range req.Messages {
		messages = append(messages, iriscore.Message{
			Role:    toIrisRole(m.Role),
			Content: m.Content,
		})
	}

	if req.InputText != "" {
		messages = append(messages, iriscore.Message{
			Role:    iriscore.RoleUser,
			Content: req.InputText,
		})
	}

	chatReq := &iriscore.ChatRequest{
		Model:    iriscore.ModelID(req.Model),
		Messages: messages,
	}

	if req.Temperature != nil {
		temp := float32(*req.Temperature)
		chatReq.Temperature = &temp
	}
	if req.MaxTokens != nil {
		maxTokens := *req.MaxTokens
		chatReq.MaxTokens = &maxTokens
	}

	return chatReq
}

// fromResponse converts an iris ChatResponse to a core.LLMResponse. Stop
// sequences are applied to the output here so every provider honours them.
func (a *irisAdapter) fromResponse(resp *iriscore.ChatResponse, req core.LLMRequest) core.LLMResponse {
	result := core.LLMResponse{
		Text:     truncateAtStop(resp.Output, req.Stop),
		Provider: a.provider.ID(),
		Model:    string(resp.Model),
		Status:   resp.Status,
		Usage: core.LLMTokenUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
		Meta: make(map[string]any),
	}
	if result.Model == "" {
		result.Model = req.Model
	}

	if resp.ID != "" {
		result.Meta["response_id"] = resp.ID
	}
	if resp.Reasoning != nil && len(resp.Reasoning.Summary) > 0 {
		result.Meta["reasoning"] = resp.Reasoning.Summary
	}

	return result
}

// truncateAtStop cuts text at the earliest stop sequence.
func truncateAtStop(text string, stops []string) string {
	cut := len(text)
	for _, s := range stops {
		if s == "" {
			continue
		}
		if i := strings.Index(text, s); i >= 0 && i < cut {
			cut = i
		}
	}
	return text[:cut]
}

// toIrisRole converts a string role to an iris Role constant.
func toIrisRole(role string) iriscore.Role {
	switch role {
	case "system":
		return iriscore.RoleSystem
	case "user":
		return iriscore.RoleUser
	case "assistant":
		return iriscore.RoleAssistant
	default:
		return iriscore.RoleUser
	}
}

// Compile-time interface check.
var _ core.LLMClient = (*irisAdapter)(nil)
