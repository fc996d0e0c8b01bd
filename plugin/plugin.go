// Package plugin registers externally supplied node variants.
//
// A plugin is either a Go Export handed to Loader.Load by the embedding
// program, or an HCL manifest describing a template node. Nothing is ever
// compiled or evaluated beyond the manifest's text template.
package plugin

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/petal-labs/canvasflow/core"
	"github.com/petal-labs/canvasflow/registry"
)

// Category is the registry category assigned to every plugin node type.
const Category = "custom"

// ErrInvalidPlugin is returned for exports and manifests that cannot be
// registered.
var ErrInvalidPlugin = errors.New("invalid plugin")

// Export is what a plugin contributes: one node type and its constructor.
type Export struct {
	NodeType    string
	Constructor registry.Constructor
	DisplayName string
	Description string
}

// Source says where a loaded plugin came from.
type Source string

const (
	SourceGo       Source = "go"
	SourceManifest Source = "manifest"
)

// Info describes a loaded plugin.
type Info struct {
	Name     string    `json:"name"`
	NodeType string    `json:"node_type"`
	Source   Source    `json:"source"`
	Path     string    `json:"path,omitempty"`
	LoadedAt time.Time `json:"loaded_at"`
}

// Loader registers plugins into a registry and remembers what it loaded.
type Loader struct {
	reg    *registry.Registry
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	loaded map[string]Info
	order  []string
}

// NewLoader creates a Loader that registers into reg. A nil logger uses
// slog.Default().
func NewLoader(reg *registry.Registry, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		reg:    reg,
		logger: logger,
		now:    time.Now,
		loaded: make(map[string]Info),
	}
}

// Load validates exp and registers its node type under the plugin name.
// Loading a name again replaces the previous registration.
func (l *Loader) Load(name string, exp Export) error {
	if err := checkExport(name, exp); err != nil {
		return err
	}
	return l.register(Info{Name: name, NodeType: exp.NodeType, Source: SourceGo}, exp)
}

// Unload removes a plugin and its node type. Nodes already created keep
// working. It reports whether the plugin was loaded.
func (l *Loader) Unload(name string) bool {
	l.mu.Lock()
	info, ok := l.loaded[name]
	if ok {
		delete(l.loaded, name)
		for i, n := range l.order {
			if n == name {
				l.order = append(l.order[:i], l.order[i+1:]...)
				break
			}
		}
	}
	l.mu.Unlock()

	if !ok {
		return false
	}
	l.reg.Unregister(info.NodeType)
	l.logger.Info("plugin unloaded", "plugin", name, "node_type", info.NodeType)
	return true
}

// Loaded lists loaded plugins in load order.
func (l *Loader) Loaded() []Info {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Info, 0, len(l.order))
	for _, name := range l.order {
		out = append(out, l.loaded[name])
	}
	return out
}

func (l *Loader) register(info Info, exp Export) error {
	l.mu.Lock()
	prev, replacing := l.loaded[info.Name]
	info.LoadedAt = l.now()
	l.loaded[info.Name] = info
	if !replacing {
		l.order = append(l.order, info.Name)
	}
	l.mu.Unlock()

	if replacing && prev.NodeType != info.NodeType {
		l.reg.Unregister(prev.NodeType)
	}
	l.reg.Register(exp.NodeType, exp.Constructor, registry.Metadata{
		DisplayName: exp.DisplayName,
		Description: exp.Description,
		Category:    Category,
	})
	l.logger.Info("plugin loaded", "plugin", info.Name, "node_type", info.NodeType, "source", info.Source)
	return nil
}

// checkExport rejects incomplete exports and constructors that panic or
// build a node of the wrong type.
func checkExport(name string, exp Export) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty plugin name", ErrInvalidPlugin)
	case exp.NodeType == "":
		return fmt.Errorf("%w: plugin %s exports no node type", ErrInvalidPlugin, name)
	case exp.Constructor == nil:
		return fmt.Errorf("%w: plugin %s exports no constructor", ErrInvalidPlugin, name)
	}

	typ, err := probe(exp.Constructor)
	if err != nil {
		return fmt.Errorf("%w: plugin %s: %v", ErrInvalidPlugin, name, err)
	}
	if typ != exp.NodeType {
		return fmt.Errorf("%w: plugin %s constructor builds %q, expected %q", ErrInvalidPlugin, name, typ, exp.NodeType)
	}
	return nil
}

// probe builds a throwaway node and returns its type.
func probe(ctor registry.Constructor) (typ string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("constructor panicked: %v", r)
		}
	}()
	node := ctor("plugin-probe", core.Position{})
	if node == nil {
		return "", errors.New("constructor returned nil")
	}
	return node.Type(), nil
}
