package llmprovider

import (
	"fmt"
	"strings"

	"github.com/petal-labs/iris/providers"
	// Auto-register common providers.
	_ "github.com/petal-labs/iris/providers/anthropic"
	_ "github.com/petal-labs/iris/providers/ollama"
	_ "github.com/petal-labs/iris/providers/openai"

	"github.com/petal-labs/canvasflow/core"
)

// Provider names understood by NewClient.
const (
	OpenAI    = "openai"
	Anthropic = "anthropic"
	XAI       = "xai"
	Ollama    = "ollama"
)

// NewClient creates a core.LLMClient for the named provider.
// It delegates to the iris provider registry to instantiate the underlying
// provider. Local providers such as ollama accept an empty key.
func NewClient(name, apiKey string) (core.LLMClient, error) {
	provider, err := providers.Create(strings.ToLower(name), apiKey)
	if err != nil {
		return nil, fmt.Errorf("creating provider %q: %w", name, err)
	}
	return &irisAdapter{provider: provider}, nil
}
