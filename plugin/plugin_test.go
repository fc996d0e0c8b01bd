package plugin

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/petal-labs/canvasflow/core"
	"github.com/petal-labs/canvasflow/registry"
)

func constNode(typ string) registry.Constructor {
	return func(id string, pos core.Position) core.Node {
		return core.NewFuncNode(id, typ, pos, core.Ports{Outputs: []string{"output"}},
			func(context.Context, core.Inputs) (any, error) { return typ, nil })
	}
}

func TestLoader_Load(t *testing.T) {
	reg := registry.New()
	l := NewLoader(reg, nil)

	err := l.Load("greeter", Export{NodeType: "greet", Constructor: constNode("greet"), Description: "says hi"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	meta, ok := reg.Metadata("greet")
	if !ok {
		t.Fatal("greet not registered")
	}
	if meta.Category != Category || meta.DisplayName != "greet" || meta.Description != "says hi" {
		t.Errorf("metadata = %+v", meta)
	}

	node, ok := reg.Create("greet", "n1", core.Position{})
	if !ok {
		t.Fatal("Create failed")
	}
	out, err := node.Execute(context.Background(), nil)
	if err != nil || out != "greet" {
		t.Errorf("Execute = %v, %v", out, err)
	}

	loaded := l.Loaded()
	if len(loaded) != 1 || loaded[0].Name != "greeter" || loaded[0].Source != SourceGo {
		t.Errorf("Loaded = %+v", loaded)
	}
}

func TestLoader_LoadRejectsMalformed(t *testing.T) {
	tests := []struct {
		name   string
		plugin string
		exp    Export
	}{
		{"empty name", "", Export{NodeType: "x", Constructor: constNode("x")}},
		{"no type", "p", Export{Constructor: constNode("x")}},
		{"no constructor", "p", Export{NodeType: "x"}},
		{"type mismatch", "p", Export{NodeType: "x", Constructor: constNode("y")}},
		{"nil node", "p", Export{NodeType: "x", Constructor: func(string, core.Position) core.Node { return nil }}},
		{"panicking constructor", "p", Export{NodeType: "x", Constructor: func(string, core.Position) core.Node { panic("bad plugin") }}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := registry.New()
			l := NewLoader(reg, nil)
			err := l.Load(tt.plugin, tt.exp)
			if !errors.Is(err, ErrInvalidPlugin) {
				t.Fatalf("err = %v, want ErrInvalidPlugin", err)
			}
			if reg.Len() != 0 || len(l.Loaded()) != 0 {
				t.Errorf("registry len %d, loaded %d after rejection", reg.Len(), len(l.Loaded()))
			}
		})
	}
}

func TestLoader_ReloadReplaces(t *testing.T) {
	reg := registry.New()
	l := NewLoader(reg, nil)
	if err := l.Load("p", Export{NodeType: "a", Constructor: constNode("a")}); err != nil {
		t.Fatal(err)
	}
	if err := l.Load("p", Export{NodeType: "b", Constructor: constNode("b")}); err != nil {
		t.Fatal(err)
	}
	if reg.Has("a") || !reg.Has("b") {
		t.Errorf("has a=%v b=%v", reg.Has("a"), reg.Has("b"))
	}
	if got := l.Loaded(); len(got) != 1 || got[0].NodeType != "b" {
		t.Errorf("Loaded = %+v", got)
	}
}

func TestLoader_Unload(t *testing.T) {
	reg := registry.New()
	l := NewLoader(reg, nil)
	if err := l.Load("p", Export{NodeType: "a", Constructor: constNode("a")}); err != nil {
		t.Fatal(err)
	}
	existing, _ := reg.Create("a", "n1", core.Position{})

	if !l.Unload("p") {
		t.Fatal("Unload = false")
	}
	if l.Unload("p") {
		t.Error("second Unload = true")
	}
	if reg.Has("a") {
		t.Error("type still registered")
	}
	if _, ok := reg.Create("a", "n2", core.Position{}); ok {
		t.Error("Create succeeded after unload")
	}
	if out, err := existing.Execute(context.Background(), nil); err != nil || out != "a" {
		t.Errorf("existing node Execute = %v, %v", out, err)
	}
}

const shoutManifest = `
node "shout" {
  display_name = "Shout"
  description  = "Uppercases its input"
  template     = "{{ upper .Text }}{{ .Params.suffix }}"

  parameter "suffix" {
    type    = "text"
    label   = "Suffix"
    default = "!"
  }

  parameter "repeat" {
    type    = "number"
    default = "2"
    min     = 1
    max     = 5
  }
}

node "wrap" {
  inputs  = ["left", "right"]
  outputs = ["joined"]
  template = "{{ text .Inputs.left }}|{{ json .Inputs.right }}"

  parameter "mode" {
    type    = "select"
    options = ["a", "b"]
    default = "a"
  }
}
`

func TestLoadManifest(t *testing.T) {
	reg := registry.New()
	l := NewLoader(reg, nil)

	infos, err := l.LoadManifest("shout.hcl", []byte(shoutManifest))
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	if len(infos) != 2 || infos[0].Name != "shout" || infos[1].Name != "wrap" {
		t.Fatalf("infos = %+v", infos)
	}
	if infos[0].Source != SourceManifest || infos[0].Path != "shout.hcl" {
		t.Errorf("info = %+v", infos[0])
	}

	meta, _ := reg.Metadata("shout")
	if meta.DisplayName != "Shout" || meta.Category != Category {
		t.Errorf("metadata = %+v", meta)
	}

	node, ok := reg.Create("shout", "s1", core.Position{X: 1})
	if !ok {
		t.Fatal("Create shout failed")
	}
	params := node.Parameters()
	if params["suffix"] != "!" || params["repeat"] != 2.0 {
		t.Errorf("defaults = %v", params)
	}
	defs, err := node.ParameterDefinitions(context.Background())
	if err != nil || len(defs) != 2 {
		t.Fatalf("defs = %v, %v", defs, err)
	}
	if defs[1].Type != core.ParamNumber || *defs[1].Max != 5 {
		t.Errorf("repeat def = %+v", defs[1])
	}
	if defs[0].Label != "Suffix" {
		t.Errorf("suffix label = %q", defs[0].Label)
	}

	out, err := node.Execute(context.Background(), core.Inputs{"input": "hello"})
	if err != nil || out != "HELLO!" {
		t.Errorf("Execute = %v, %v", out, err)
	}

	wrap, _ := reg.Create("wrap", "w1", core.Position{})
	if p := wrap.Ports(); len(p.Inputs) != 2 || p.Outputs[0] != "joined" {
		t.Errorf("ports = %+v", p)
	}
	out, err = wrap.Execute(context.Background(), core.Inputs{
		"left":  map[string]any{"text": "x"},
		"right": []any{1.0, "two"},
	})
	if err != nil || out != `x|[1,"two"]` {
		t.Errorf("wrap Execute = %v, %v", out, err)
	}
}

func TestTemplateNode_MissingInputFails(t *testing.T) {
	specs, err := ParseManifest("m.hcl", []byte(`
node "pick" {
  template = "{{ .Inputs.input }}"
}`))
	if err != nil {
		t.Fatal(err)
	}
	node := specs[0].Constructor()("p1", core.Position{})
	if _, err := node.Execute(context.Background(), nil); err == nil {
		t.Fatal("expected error for missing input")
	}
}

func TestParseManifest_Invalid(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"syntax", `node "x" {`},
		{"no nodes", `# empty`},
		{"missing template", `node "x" {}`},
		{"bad template", `node "x" { template = "{{ .Broken" }`},
		{"unknown block", `node "x" {
  template = "ok"
  port "p" {}
}`},
		{"duplicate node", `node "x" { template = "a" }
node "x" { template = "b" }`},
		{"unknown param type", `node "x" {
  template = "a"
  parameter "p" { type = "color" }
}`},
		{"select without options", `node "x" {
  template = "a"
  parameter "p" { type = "select" }
}`},
		{"bad default", `node "x" {
  template = "a"
  parameter "p" {
    type    = "number"
    default = "many"
  }
}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseManifest("bad.hcl", []byte(tt.src))
			if !errors.Is(err, ErrInvalidPlugin) {
				t.Fatalf("err = %v, want ErrInvalidPlugin", err)
			}
		})
	}
}

func TestLoadManifest_AllOrNothing(t *testing.T) {
	reg := registry.New()
	l := NewLoader(reg, nil)
	_, err := l.LoadManifest("mixed.hcl", []byte(`
node "good" { template = "ok" }
node "bad" {
  template = "ok"
  parameter "p" { type = "color" }
}`))
	if err == nil {
		t.Fatal("expected error")
	}
	if reg.Has("good") {
		t.Error("good registered from a rejected manifest")
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"a.hcl":      `node "alpha" { template = "a" }`,
		"b.HCL":      `node "beta" { template = "b" }`,
		"broken.hcl": `node "gamma" {`,
		"notes.txt":  `node "ignored" { template = "x" }`,
	}
	for name, src := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(src), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "sub.hcl"), 0o700); err != nil {
		t.Fatal(err)
	}

	reg := registry.New()
	l := NewLoader(reg, nil)
	infos, err := l.LoadDir(dir)
	if err == nil || !strings.Contains(err.Error(), "broken.hcl") {
		t.Fatalf("err = %v, want broken.hcl failure", err)
	}
	if len(infos) != 2 || infos[0].NodeType != "alpha" || infos[1].NodeType != "beta" {
		t.Fatalf("infos = %+v", infos)
	}
	if reg.Has("ignored") || reg.Has("gamma") {
		t.Error("unexpected types registered")
	}
}

func TestLoadDir_Missing(t *testing.T) {
	l := NewLoader(registry.New(), nil)
	if _, err := l.LoadDir(filepath.Join(t.TempDir(), "absent")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("err = %v", err)
	}
}
