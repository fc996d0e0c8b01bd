package plugin

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"

	"github.com/petal-labs/canvasflow/core"
)

// ManifestExt is the file extension LoadDir picks up.
const ManifestExt = ".hcl"

// manifestFile is the top level of a manifest: one or more node blocks.
//
//	node "shout" {
//	  display_name = "Shout"
//	  template     = "{{ upper .Text }}{{ .Params.suffix }}"
//	  parameter "suffix" {
//	    type    = "text"
//	    default = "!"
//	  }
//	}
type manifestFile struct {
	Nodes []*manifestNode `hcl:"node,block"`
}

type manifestNode struct {
	Type        string           `hcl:"type,label"`
	DisplayName string           `hcl:"display_name,optional"`
	Description string           `hcl:"description,optional"`
	Inputs      []string         `hcl:"inputs,optional"`
	Outputs     []string         `hcl:"outputs,optional"`
	Template    string           `hcl:"template"`
	Parameters  []*manifestParam `hcl:"parameter,block"`
}

type manifestParam struct {
	Name    string    `hcl:"name,label"`
	Type    string    `hcl:"type,optional"`
	Label   string    `hcl:"label,optional"`
	Default cty.Value `hcl:"default,optional"`
	Options []string  `hcl:"options,optional"`
	Min     *float64  `hcl:"min,optional"`
	Max     *float64  `hcl:"max,optional"`
	Step    *float64  `hcl:"step,optional"`
}

// LoadManifest parses an HCL manifest and registers one template node type
// per node block. Each type is loaded as a plugin named after it. The
// manifest is checked as a whole: if any block is invalid nothing is
// registered.
func (l *Loader) LoadManifest(path string, src []byte) ([]Info, error) {
	specs, err := ParseManifest(path, src)
	if err != nil {
		return nil, err
	}

	infos := make([]Info, 0, len(specs))
	for _, spec := range specs {
		spec := spec
		exp := Export{
			NodeType:    spec.Type,
			Constructor: spec.Constructor(),
			DisplayName: spec.DisplayName,
			Description: spec.Description,
		}
		info := Info{Name: spec.Type, NodeType: spec.Type, Source: SourceManifest, Path: path}
		if err := l.register(info, exp); err != nil {
			return infos, err
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// LoadDir loads every manifest in dir, in file name order. A broken file
// does not stop the others; all failures are returned joined.
func (l *Loader) LoadDir(dir string) ([]Info, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading plugin directory %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ManifestExt) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var (
		infos []Info
		errs  []error
	)
	for _, name := range names {
		path := filepath.Join(dir, name)
		src, err := os.ReadFile(path) // #nosec G304 -- path from plugin directory listing
		if err != nil {
			errs = append(errs, err)
			continue
		}
		loaded, err := l.LoadManifest(path, src)
		if err != nil {
			l.logger.Warn("plugin manifest rejected", "path", path, "error", err)
			errs = append(errs, err)
		}
		infos = append(infos, loaded...)
	}
	return infos, errors.Join(errs...)
}

// ParseManifest decodes and checks a manifest without registering anything.
func ParseManifest(path string, src []byte) ([]*TemplateSpec, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("%w: parsing %s: %s", ErrInvalidPlugin, path, diags.Error())
	}

	var mf manifestFile
	if diags := gohcl.DecodeBody(file.Body, nil, &mf); diags.HasErrors() {
		return nil, fmt.Errorf("%w: decoding %s: %s", ErrInvalidPlugin, path, diags.Error())
	}
	if len(mf.Nodes) == 0 {
		return nil, fmt.Errorf("%w: %s declares no node blocks", ErrInvalidPlugin, path)
	}

	seen := make(map[string]bool, len(mf.Nodes))
	specs := make([]*TemplateSpec, 0, len(mf.Nodes))
	for _, n := range mf.Nodes {
		if seen[n.Type] {
			return nil, fmt.Errorf("%w: %s: node %q declared twice", ErrInvalidPlugin, path, n.Type)
		}
		seen[n.Type] = true

		spec, err := buildSpec(n)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: node %q: %v", ErrInvalidPlugin, path, n.Type, err)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func buildSpec(n *manifestNode) (*TemplateSpec, error) {
	if strings.TrimSpace(n.Type) == "" {
		return nil, errors.New("empty node type")
	}
	ports := core.Ports{Inputs: n.Inputs, Outputs: n.Outputs}
	if ports.Inputs == nil {
		ports.Inputs = []string{core.DefaultInputPort}
	}
	if ports.Outputs == nil {
		ports.Outputs = []string{core.DefaultOutputPort}
	}

	tmpl, err := compileTemplate(n.Type, n.Template)
	if err != nil {
		return nil, err
	}

	spec := &TemplateSpec{
		Type:        n.Type,
		DisplayName: n.DisplayName,
		Description: n.Description,
		Ports:       ports,
		Defaults:    core.Parameters{},
		tmpl:        tmpl,
	}
	for _, p := range n.Parameters {
		def, err := paramDef(p)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", p.Name, err)
		}
		spec.Params = append(spec.Params, def)
		if def.Default != nil {
			spec.Defaults[def.Name] = def.Default
		}
	}
	return spec, nil
}

func paramDef(p *manifestParam) (core.ParamDef, error) {
	typ := core.ParamType(p.Type)
	if typ == "" {
		typ = core.ParamText
	}

	var want cty.Type
	switch typ {
	case core.ParamText, core.ParamTextArea, core.ParamSelect:
		want = cty.String
	case core.ParamNumber:
		want = cty.Number
	case core.ParamBoolean:
		want = cty.Bool
	default:
		return core.ParamDef{}, fmt.Errorf("unknown type %q", p.Type)
	}
	if typ == core.ParamSelect && len(p.Options) == 0 {
		return core.ParamDef{}, errors.New("select parameter needs options")
	}

	def := core.ParamDef{
		Name:  p.Name,
		Type:  typ,
		Label: p.Label,
		Min:   p.Min,
		Max:   p.Max,
		Step:  p.Step,
	}
	if def.Label == "" {
		def.Label = p.Name
	}
	for _, opt := range p.Options {
		def.Options = append(def.Options, core.Option{Value: opt, Label: opt})
	}

	if p.Default.IsNull() {
		return def, nil
	}
	val, err := convert.Convert(p.Default, want)
	if err != nil {
		return core.ParamDef{}, fmt.Errorf("default: %w", err)
	}
	def.Default = ctyToGo(val)
	return def, nil
}

// ctyToGo converts a known primitive value to the Go types used in
// core.Parameters.
func ctyToGo(v cty.Value) any {
	if !v.IsKnown() || v.IsNull() {
		return nil
	}
	switch ty := v.Type(); {
	case ty.Equals(cty.String):
		return v.AsString()
	case ty.Equals(cty.Number):
		f, _ := v.AsBigFloat().Float64()
		return f
	case ty.Equals(cty.Bool):
		return v.True()
	}
	return nil
}
