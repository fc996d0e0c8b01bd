package nodes

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/petal-labs/canvasflow/core"
	"github.com/petal-labs/canvasflow/credentials"
	"github.com/petal-labs/canvasflow/runtime"
)

// TypeBraveSearch is the registry type of BraveSearchNode.
const TypeBraveSearch = "brave-search"

// BraveSearchURL is the Brave web search endpoint.
const BraveSearchURL = "https://api.search.brave.com/res/v1/web/search"

// BraveSearchNode runs a web search with the Brave Search API. The query
// arrives on the "query" port.
type BraveSearchNode struct {
	core.BaseNode
	keys    credentials.Store
	client  HTTPClient
	baseURL string
	now     func() time.Time
}

// BraveSearchConfig wires a BraveSearchNode to its collaborators.
type BraveSearchConfig struct {
	Credentials credentials.Store
	HTTPClient  HTTPClient // defaults to http.DefaultClient
	BaseURL     string     // defaults to BraveSearchURL
	Now         func() time.Time
}

// NewBraveSearchNode creates a search node.
func NewBraveSearchNode(id string, pos core.Position, cfg BraveSearchConfig) *BraveSearchNode {
	n := &BraveSearchNode{
		BaseNode: core.NewBaseNode(id, TypeBraveSearch, pos,
			core.Ports{Inputs: []string{"query"}, Outputs: []string{core.DefaultOutputPort}},
			core.Parameters{"count": 10.0, "safesearch": "moderate", "freshness": ""}),
		keys:    cfg.Credentials,
		client:  cfg.HTTPClient,
		baseURL: cfg.BaseURL,
		now:     cfg.Now,
	}
	if n.client == nil {
		n.client = http.DefaultClient
	}
	if n.baseURL == "" {
		n.baseURL = BraveSearchURL
	}
	return n
}

// ParameterDefinitions describes count, safesearch and freshness.
func (n *BraveSearchNode) ParameterDefinitions(context.Context) ([]core.ParamDef, error) {
	return []core.ParamDef{
		{Name: "count", Type: core.ParamNumber, Label: "Result count", Default: 10.0, Min: core.Bound(1), Max: core.Bound(20)},
		{Name: "safesearch", Type: core.ParamSelect, Label: "Safe search", Default: "moderate",
			Options: options("off", "Off", "moderate", "Moderate", "strict", "Strict")},
		{Name: "freshness", Type: core.ParamSelect, Label: "Freshness", Default: "",
			Options: options("", "Any time", "pd", "Past day", "pw", "Past week", "pm", "Past month", "py", "Past year")},
	}, nil
}

type braveResponse struct {
	Web struct {
		Results []map[string]any `json:"results"`
	} `json:"web"`
}

// Execute queries Brave and returns {query, results, totalCount, timestamp}.
func (n *BraveSearchNode) Execute(ctx context.Context, in core.Inputs) (any, error) {
	query, err := promptText(in, "query", "search query")
	if err != nil {
		return nil, err
	}
	apiKey, err := lookupKey(ctx, n.keys, "brave-search", "Brave Search")
	if err != nil {
		return nil, err
	}

	params := n.Params()
	count := intParam(params, "count", 10)
	if count < 1 {
		count = 1
	}
	if count > 20 {
		count = 20
	}
	q := url.Values{}
	q.Set("q", query)
	q.Set("count", strconv.Itoa(count))
	if v := params.String("safesearch"); v != "" {
		q.Set("safesearch", v)
	}
	if v := params.String("freshness"); v != "" {
		q.Set("freshness", v)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("brave search: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", apiKey)

	resp, err := n.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("brave search: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("brave search: read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("brave search api error: %d %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed braveResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("brave search: decode response: %w", err)
	}
	results := make([]any, 0, len(parsed.Web.Results))
	for _, r := range parsed.Web.Results {
		results = append(results, r)
	}

	runtime.EmitOutput(ctx, map[string]any{"query": query, "totalCount": len(results)})
	return map[string]any{
		"query":      query,
		"results":    results,
		"totalCount": len(results),
		"timestamp":  timestamp(n.now),
	}, nil
}

var _ core.Node = (*BraveSearchNode)(nil)
