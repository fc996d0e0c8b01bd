package plugin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/template"

	"github.com/petal-labs/canvasflow/core"
	"github.com/petal-labs/canvasflow/registry"
)

// TemplateSpec is a checked manifest node block.
type TemplateSpec struct {
	Type        string
	DisplayName string
	Description string
	Ports       core.Ports
	Params      []core.ParamDef
	Defaults    core.Parameters

	tmpl *template.Template
}

// Constructor returns a registry constructor building TemplateNodes.
func (s *TemplateSpec) Constructor() registry.Constructor {
	return func(id string, pos core.Position) core.Node {
		return &TemplateNode{
			BaseNode: core.NewBaseNode(id, s.Type, pos, s.Ports, s.Defaults),
			spec:     s,
		}
	}
}

// templateData is what a manifest template sees.
type templateData struct {
	Inputs core.Inputs     // raw upstream values by port
	Params core.Parameters // node configuration
	Text   string          // first declared input port as text
}

var templateFuncs = template.FuncMap{
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
	"trim":  strings.TrimSpace,
	"text":  core.AsText,
	"json": func(v any) (string, error) {
		b, err := json.Marshal(v)
		return string(b), err
	},
}

func compileTemplate(name, src string) (*template.Template, error) {
	if strings.TrimSpace(src) == "" {
		return nil, errors.New("empty template")
	}
	tmpl, err := template.New(name).Funcs(templateFuncs).Option("missingkey=error").Parse(src)
	if err != nil {
		return nil, fmt.Errorf("template: %w", err)
	}
	return tmpl, nil
}

// TemplateNode renders its manifest template over its inputs and
// parameters. The result is the rendered string.
type TemplateNode struct {
	core.BaseNode
	spec *TemplateSpec
}

// ParameterDefinitions returns the parameters declared by the manifest.
func (n *TemplateNode) ParameterDefinitions(context.Context) ([]core.ParamDef, error) {
	return append([]core.ParamDef(nil), n.spec.Params...), nil
}

// Execute renders the template.
func (n *TemplateNode) Execute(_ context.Context, in core.Inputs) (any, error) {
	data := templateData{Inputs: in, Params: n.Parameters()}
	if in == nil {
		data.Inputs = core.Inputs{}
	}
	if ports := n.Ports(); len(ports.Inputs) > 0 {
		data.Text, _ = in.Text(ports.Inputs[0])
	}

	var buf bytes.Buffer
	if err := n.spec.tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("rendering template: %w", err)
	}
	return buf.String(), nil
}

var _ core.Node = (*TemplateNode)(nil)
