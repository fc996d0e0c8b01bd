package nodes

import (
	"time"

	"github.com/petal-labs/canvasflow/core"
	"github.com/petal-labs/canvasflow/credentials"
	"github.com/petal-labs/canvasflow/registry"
)

// Deps are the collaborators shared by the built-in variants.
type Deps struct {
	Credentials credentials.Store
	Clients     ClientFactory // nil uses llmprovider.NewClient
	Models      ModelCatalog
	HTTPClient  HTTPClient
	SearchURL   string           // overrides BraveSearchURL
	Now         func() time.Time // nil uses time.Now
}

// RegisterBuiltins registers every built-in variant into reg.
func RegisterBuiltins(reg *registry.Registry, deps Deps) {
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	reg.Register(TypeUserInput, func(id string, pos core.Position) core.Node {
		n := NewUserInputNode(id, pos)
		n.now = now
		return n
	}, registry.Metadata{
		DisplayName: "User Input",
		Description: "Enter text and pass it to downstream nodes",
		Category:    CategoryInput,
	})

	reg.Register(TypeBraveSearch, func(id string, pos core.Position) core.Node {
		return NewBraveSearchNode(id, pos, BraveSearchConfig{
			Credentials: deps.Credentials,
			HTTPClient:  deps.HTTPClient,
			BaseURL:     deps.SearchURL,
			Now:         now,
		})
	}, registry.Metadata{
		DisplayName: "Brave Search",
		Description: "Run a web search with the Brave Search API",
		Category:    CategoryDataSource,
	})

	for _, spec := range ChatSpecs {
		spec := spec
		reg.Register(spec.Type, func(id string, pos core.Position) core.Node {
			n := NewChatNode(id, pos, spec, deps.Credentials, deps.Clients)
			n.now = now
			return n
		}, registry.Metadata{
			DisplayName: spec.DisplayName,
			Description: spec.Description,
			Category:    CategoryAI,
		})
	}

	reg.Register(TypeLocalLLM, func(id string, pos core.Position) core.Node {
		n := NewLocalLLMNode(id, pos, deps.Models, deps.Clients)
		n.now = now
		return n
	}, registry.Metadata{
		DisplayName: "Local LLM",
		Description: "Generate text with a locally installed model",
		Category:    CategoryAI,
	})

	reg.Register(TypeDisplay, func(id string, pos core.Position) core.Node {
		n := NewDisplayNode(id, pos)
		n.now = now
		return n
	}, registry.Metadata{
		DisplayName: "Display",
		Description: "Show the workflow result",
		Category:    CategoryOutput,
	})
}
