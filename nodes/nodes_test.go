package nodes

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/petal-labs/canvasflow/core"
	"github.com/petal-labs/canvasflow/credentials"
	"github.com/petal-labs/canvasflow/graph"
	"github.com/petal-labs/canvasflow/registry"
	"github.com/petal-labs/canvasflow/runtime"
)

var fixedNow = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

const fixedStamp = "2026-01-02T03:04:05Z"

type fakeClient struct {
	provider string
	apiKey   string
	req      core.LLMRequest
	resp     core.LLMResponse
	err      error
}

func (f *fakeClient) Complete(_ context.Context, req core.LLMRequest) (core.LLMResponse, error) {
	f.req = req
	return f.resp, f.err
}

func (f *fakeClient) factory() ClientFactory {
	return func(provider, apiKey string) (core.LLMClient, error) {
		f.provider, f.apiKey = provider, apiKey
		return f, nil
	}
}

func TestUserInputNode(t *testing.T) {
	n := NewUserInputNode("u1", core.Position{})
	n.now = fixedNow

	if n.Validate() {
		t.Error("empty text validated")
	}
	n.SetParameter("inputText", "   ")
	if n.Validate() {
		t.Error("blank text validated")
	}
	n.SetParameter("inputText", "hello")
	if !n.Validate() {
		t.Error("text rejected")
	}

	out, err := n.Execute(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]any{"text": "hello", "timestamp": fixedStamp}
	if !reflect.DeepEqual(out, want) {
		t.Errorf("Execute = %v, want %v", out, want)
	}
	if p := n.Ports(); len(p.Inputs) != 0 || p.Outputs[0] != "output" {
		t.Errorf("ports = %+v", p)
	}
}

func TestBraveSearchNode(t *testing.T) {
	var got *http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"web":{"results":[{"title":"Go","url":"https://go.dev"},{"title":"Gopher"}]}}`))
	}))
	defer srv.Close()

	n := NewBraveSearchNode("b1", core.Position{}, BraveSearchConfig{
		Credentials: credentials.StaticStore{"brave-search": "bs-key"},
		HTTPClient:  srv.Client(),
		BaseURL:     srv.URL,
		Now:         fixedNow,
	})
	n.SetParameter("count", 50.0)
	n.SetParameter("freshness", "pw")

	out, err := n.Execute(context.Background(), core.Inputs{"query": map[string]any{"text": "golang"}})
	if err != nil {
		t.Fatal(err)
	}

	if got.Header.Get("X-Subscription-Token") != "bs-key" || got.Header.Get("Accept") != "application/json" {
		t.Errorf("headers = %v", got.Header)
	}
	q := got.URL.Query()
	if q.Get("q") != "golang" || q.Get("count") != "20" || q.Get("safesearch") != "moderate" || q.Get("freshness") != "pw" {
		t.Errorf("query = %v", q)
	}

	res := out.(map[string]any)
	if res["query"] != "golang" || res["totalCount"] != 2 || res["timestamp"] != fixedStamp {
		t.Errorf("result = %v", res)
	}
	if results := res["results"].([]any); results[0].(map[string]any)["title"] != "Go" {
		t.Errorf("results = %v", results)
	}
}

func TestBraveSearchNode_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad token", http.StatusUnauthorized)
	}))
	defer srv.Close()

	keys := credentials.StaticStore{"brave-search": "k"}
	n := NewBraveSearchNode("b1", core.Position{}, BraveSearchConfig{Credentials: keys, HTTPClient: srv.Client(), BaseURL: srv.URL})

	if _, err := n.Execute(context.Background(), core.Inputs{"query": "  "}); !errors.Is(err, ErrMissingInput) {
		t.Errorf("blank query err = %v", err)
	}
	_, err := n.Execute(context.Background(), core.Inputs{"query": "go"})
	if err == nil || !strings.Contains(err.Error(), "401") || !strings.Contains(err.Error(), "bad token") {
		t.Errorf("status err = %v", err)
	}

	noKey := NewBraveSearchNode("b2", core.Position{}, BraveSearchConfig{Credentials: credentials.StaticStore{}})
	if _, err := noKey.Execute(context.Background(), core.Inputs{"query": "go"}); !errors.Is(err, credentials.ErrNotFound) {
		t.Errorf("missing key err = %v", err)
	}
}

func TestChatNode(t *testing.T) {
	fake := &fakeClient{resp: core.LLMResponse{
		Text:     "HELLO",
		Provider: "openai",
		Usage:    core.LLMTokenUsage{InputTokens: 3, OutputTokens: 1, TotalTokens: 4},
	}}
	n := NewChatNode("c1", core.Position{}, ChatSpecs[0], credentials.StaticStore{"openai": "sk-1"}, fake.factory())
	n.now = fixedNow
	n.SetParameter("max_tokens", "256")

	out, err := n.Execute(context.Background(), core.Inputs{"prompt": map[string]any{"text": "say hello"}})
	if err != nil {
		t.Fatal(err)
	}
	if fake.provider != "openai" || fake.apiKey != "sk-1" {
		t.Errorf("factory got %q, %q", fake.provider, fake.apiKey)
	}
	if fake.req.Model != "gpt-4o-mini" || fake.req.System != "You are a helpful assistant." || fake.req.InputText != "say hello" {
		t.Errorf("request = %+v", fake.req)
	}
	if *fake.req.Temperature != 0.7 || *fake.req.MaxTokens != 256 {
		t.Errorf("sampling = %v, %v", *fake.req.Temperature, *fake.req.MaxTokens)
	}

	want := map[string]any{
		"prompt":    "say hello",
		"response":  "HELLO",
		"model":     "gpt-4o-mini",
		"usage":     map[string]any{"prompt_tokens": 3, "completion_tokens": 1, "total_tokens": 4},
		"timestamp": fixedStamp,
	}
	if !reflect.DeepEqual(out, want) {
		t.Errorf("Execute = %v, want %v", out, want)
	}
}

func TestChatNode_Errors(t *testing.T) {
	grok := ChatSpecs[1]
	fake := &fakeClient{err: errors.New("rate limited")}

	n := NewChatNode("g1", core.Position{}, grok, credentials.StaticStore{}, fake.factory())
	if _, err := n.Execute(context.Background(), core.Inputs{"prompt": "hi"}); !errors.Is(err, credentials.ErrNotFound) {
		t.Errorf("missing key err = %v", err)
	}

	n = NewChatNode("g1", core.Position{}, grok, credentials.StaticStore{"grok": "xk"}, fake.factory())
	if _, err := n.Execute(context.Background(), nil); !errors.Is(err, ErrMissingInput) {
		t.Errorf("missing prompt err = %v", err)
	}
	_, err := n.Execute(context.Background(), core.Inputs{"prompt": "hi"})
	if err == nil || !strings.Contains(err.Error(), "Grok API error: rate limited") {
		t.Errorf("client err = %v", err)
	}
	if fake.provider != "xai" || fake.req.Model != "grok-beta" {
		t.Errorf("provider %q model %q", fake.provider, fake.req.Model)
	}

	failing := func(string, string) (core.LLMClient, error) { return nil, errors.New("unknown provider") }
	n = NewChatNode("g2", core.Position{}, grok, credentials.StaticStore{"grok": "xk"}, failing)
	if _, err := n.Execute(context.Background(), core.Inputs{"prompt": "hi"}); err == nil {
		t.Error("factory error swallowed")
	}
}

func writeModel(t *testing.T, dir, name string, size int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, make([]byte, size), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDirCatalog(t *testing.T) {
	dir := t.TempDir()
	writeModel(t, dir, "zephyr.gguf", 2000)
	writeModel(t, dir, "nested/alpha.GGUF", 10)
	writeModel(t, dir, "readme.txt", 5)

	models, err := DirCatalog{Dir: dir}.Models(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(models) != 2 || models[0].Name != "alpha" || models[1].Name != "zephyr" {
		t.Fatalf("models = %+v", models)
	}
	if models[1].Size != 2000 || models[1].SizeFormatted != "2.0 kB" {
		t.Errorf("zephyr = %+v", models[1])
	}

	missing, err := DirCatalog{Dir: filepath.Join(dir, "absent")}.Models(context.Background())
	if err != nil || len(missing) != 0 {
		t.Errorf("missing dir = %v, %v", missing, err)
	}
}

func TestLocalLLMNode(t *testing.T) {
	dir := t.TempDir()
	path := writeModel(t, dir, "tiny-llama.gguf", 1)

	fake := &fakeClient{resp: core.LLMResponse{Text: "  Assistant: Sure.  "}}
	n := NewLocalLLMNode("l1", core.Position{}, DirCatalog{Dir: dir}, fake.factory())
	n.now = fixedNow

	defs, err := n.ParameterDefinitions(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	choices := defs[0].Options
	if len(choices) != 2 || choices[1].Value != path || choices[1].Label != "tiny-llama (1 B)" {
		t.Errorf("choices = %+v", choices)
	}

	if _, err := n.Execute(context.Background(), core.Inputs{"prompt": "hi"}); err == nil || !strings.Contains(err.Error(), "no model selected") {
		t.Errorf("unselected err = %v", err)
	}
	n.SetParameter("selectedModel", filepath.Join(dir, "gone.gguf"))
	if _, err := n.Execute(context.Background(), core.Inputs{"prompt": "hi"}); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("missing file err = %v", err)
	}

	n.SetParameter("selectedModel", path)
	out, err := n.Execute(context.Background(), core.Inputs{"prompt": "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if fake.provider != "ollama" || fake.apiKey != "" {
		t.Errorf("factory got %q, %q", fake.provider, fake.apiKey)
	}
	if fake.req.Model != "tiny-llama" {
		t.Errorf("model = %q", fake.req.Model)
	}
	if fake.req.InputText != "You are a helpful AI assistant.\n\nUser: hi\n\nAssistant:" {
		t.Errorf("prompt = %q", fake.req.InputText)
	}
	if !reflect.DeepEqual(fake.req.Stop, []string{"\n\nUser:", "\nUser:"}) || *fake.req.MaxTokens != 2048 {
		t.Errorf("request = %+v", fake.req)
	}

	res := out.(map[string]any)
	if res["response"] != "Sure." || res["model"] != path {
		t.Errorf("result = %v", res)
	}
}

func TestLocalPrompt_NoSystem(t *testing.T) {
	if got := localPrompt("", "hi"); got != "User: hi\n\nAssistant:" {
		t.Errorf("localPrompt = %q", got)
	}
}

func TestDisplayNode(t *testing.T) {
	chat := map[string]any{
		"prompt":   "p",
		"response": "r",
		"usage":    map[string]any{"total_tokens": 4},
	}
	search := map[string]any{"results": []any{
		map[string]any{"title": "One", "url": "https://one", "description": "first"},
		map[string]any{"name": "Two"},
		map[string]any{},
	}}

	tests := []struct {
		name string
		mode string
		data any
		want string
	}{
		{"formatted string", DisplayFormatted, "plain", "plain"},
		{"formatted chat", DisplayFormatted, chat, "AI response:\nr\n\nPrompt:\np\n\nUsage:\n  Tokens: 4"},
		{"formatted text", DisplayFormatted, map[string]any{"text": "t"}, "Text:\nt"},
		{"formatted search", DisplayFormatted, search, "Search results (3):\n\n1. One\n   first...\n   https://one\n\n2. Two\n\n3. Result"},
		{"formatted other", DisplayFormatted, map[string]any{"n": 1.0}, "Data:\n{\n  \"n\": 1\n}"},
		{"raw", DisplayRaw, map[string]any{"a": "b"}, "{\n  \"a\": \"b\"\n}"},
		{"text response", DisplayText, chat, "r"},
		{"text search", DisplayText, search, "1. One\n2. Two\n3. Result"},
		{"unknown mode", "fancy", "x", "x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := NewDisplayNode("d1", core.Position{})
			n.now = fixedNow
			n.SetParameter("displayMode", tt.mode)
			out, err := n.Execute(context.Background(), core.Inputs{"data": tt.data})
			if err != nil {
				t.Fatal(err)
			}
			res := out.(map[string]any)
			if res["formattedOutput"] != tt.want {
				t.Errorf("formattedOutput = %q, want %q", res["formattedOutput"], tt.want)
			}
		})
	}
}

func TestDisplayNode_NoData(t *testing.T) {
	n := NewDisplayNode("d1", core.Position{})
	if _, err := n.Execute(context.Background(), core.Inputs{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestRender(t *testing.T) {
	withStamp := map[string]any{"formattedOutput": "x", "showTimestamp": true, "timestamp": fixedStamp}
	if got := Render(withStamp); got != "=== Result ===\n\nx\n\n["+fixedStamp+"]" {
		t.Errorf("Render = %q", got)
	}
	withStamp["showTimestamp"] = false
	if got := Render(withStamp); got != "=== Result ===\n\nx" {
		t.Errorf("Render = %q", got)
	}
	if got := Render("plain"); got != "plain" {
		t.Errorf("Render = %q", got)
	}
}

func TestRegisterBuiltins(t *testing.T) {
	reg := registry.New()
	RegisterBuiltins(reg, Deps{})

	var types []string
	for _, info := range reg.All() {
		types = append(types, info.Type)
	}
	want := []string{"user-input", "brave-search", "openai", "grok", "anthropic", "local-llm", "display"}
	if !reflect.DeepEqual(types, want) {
		t.Errorf("types = %v, want %v", types, want)
	}
	if ai := reg.ByCategory(CategoryAI); len(ai) != 4 {
		t.Errorf("ai category = %v", ai)
	}
	for _, typ := range want {
		n, ok := reg.Create(typ, "x", core.Position{})
		if !ok || n.Type() != typ {
			t.Errorf("Create(%s) = %v, %v", typ, n, ok)
		}
	}
}

func TestWorkflow_InputChatDisplay(t *testing.T) {
	fake := &fakeClient{resp: core.LLMResponse{Text: "Bonjour"}}
	reg := registry.New()
	RegisterBuiltins(reg, Deps{
		Credentials: credentials.StaticStore{"openai": "sk"},
		Clients:     fake.factory(),
		Now:         fixedNow,
	})

	g := graph.New()
	for _, spec := range [][2]string{{"user-input", "in"}, {"openai", "ai"}, {"display", "out"}} {
		n, _ := reg.Create(spec[0], spec[1], core.Position{})
		if err := g.AddNode(n); err != nil {
			t.Fatal(err)
		}
	}
	in, _ := g.Node("in")
	in.SetParameter("inputText", "Translate hello")
	out, _ := g.Node("out")
	out.SetParameter("displayMode", DisplayText)
	if _, err := g.Connect("in", "output", "ai", "prompt"); err != nil {
		t.Fatal(err)
	}
	if _, err := g.Connect("ai", "output", "out", "data"); err != nil {
		t.Fatal(err)
	}

	res, err := runtime.NewEngine(g).Run(context.Background(), runtime.RunOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success {
		t.Fatalf("run failed: %+v", res)
	}
	if fake.req.InputText != "Translate hello" {
		t.Errorf("prompt = %q", fake.req.InputText)
	}
	shown := out.State().Result().(map[string]any)["formattedOutput"]
	if shown != "Bonjour" {
		t.Errorf("display = %v", shown)
	}
}
