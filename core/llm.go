package core

import "context"

// LLMClient abstracts a single provider/model backend.
// Implementations adapt various LLM providers to this common interface.
type LLMClient interface {
	Complete(ctx context.Context, req LLMRequest) (LLMResponse, error)
}

// LLMRequest is the request structure for LLM completion.
type LLMRequest struct {
	Model       string       // provider model id
	System      string       // system prompt
	Messages    []LLMMessage // prior conversation, oldest first
	InputText   string       // final user turn
	Temperature *float64     // optional sampling temperature
	MaxTokens   *int         // optional: maximum output tokens
	Stop        []string     // optional stop sequences
}

// LLMMessage is a chat message.
type LLMMessage struct {
	Role    string // "system", "user", "assistant"
	Content string
}

// LLMResponse captures the output from an LLM call.
type LLMResponse struct {
	Text     string        // response text
	Provider string        // provider id that served the call
	Model    string        // model that produced the response
	Status   string        // provider-reported status, if any
	Usage    LLMTokenUsage // token consumption
	Meta     map[string]any
}

// LLMTokenUsage tracks token consumption for LLM calls.
type LLMTokenUsage struct {
	InputTokens  int `json:"prompt_tokens"`
	OutputTokens int `json:"completion_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Add combines two usage values.
func (u LLMTokenUsage) Add(other LLMTokenUsage) LLMTokenUsage {
	return LLMTokenUsage{
		InputTokens:  u.InputTokens + other.InputTokens,
		OutputTokens: u.OutputTokens + other.OutputTokens,
		TotalTokens:  u.TotalTokens + other.TotalTokens,
	}
}
