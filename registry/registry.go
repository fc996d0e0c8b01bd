// Package registry maps node type ids to constructors and display metadata.
// It is the factory for every node instance in a canvasflow graph and is
// what editors query to build their node menus.
package registry

import (
	"sort"
	"sync"

	"github.com/petal-labs/canvasflow/core"
)

// DefaultCategory is assigned to types registered without a category.
const DefaultCategory = "default"

// Constructor builds a fresh node of one variant.
type Constructor func(id string, pos core.Position) core.Node

// Metadata is the display information of a node type.
type Metadata struct {
	DisplayName string `json:"display_name"`
	Description string `json:"description"`
	Category    string `json:"category"` // "input", "data-source", "ai", "output", "custom", ...
}

// TypeInfo pairs a type id with its metadata.
type TypeInfo struct {
	Type string `json:"type"`
	Metadata
}

type entry struct {
	ctor Constructor
	meta Metadata
}

var (
	defaultRegistry *Registry
	defaultOnce     sync.Once
)

// Default returns a process-wide registry. It starts empty; callers that
// want the built-in variants register them explicitly. Nothing in the
// engine requires this instance.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = New()
	})
	return defaultRegistry
}

// Registry holds all known node types. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	types map[string]entry
	order []string // preserves registration order
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		types: make(map[string]entry),
	}
}

// Register adds a node type. If a type with the same id already exists it is
// replaced and keeps its original position in All. A nil constructor is
// ignored.
func (r *Registry) Register(typeID string, ctor Constructor, meta Metadata) {
	if typeID == "" || ctor == nil {
		return
	}
	if meta.DisplayName == "" {
		meta.DisplayName = typeID
	}
	if meta.Category == "" {
		meta.Category = DefaultCategory
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.types[typeID]; !exists {
		r.order = append(r.order, typeID)
	}
	r.types[typeID] = entry{ctor: ctor, meta: meta}
}

// Unregister removes a node type. Nodes already created keep working since
// they hold no reference back to the registry.
func (r *Registry) Unregister(typeID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.types[typeID]; !exists {
		return false
	}
	delete(r.types, typeID)
	for i, name := range r.order {
		if name == typeID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Create instantiates a node of the given type. It returns false when the
// type is unknown; the caller decides whether that is fatal.
func (r *Registry) Create(typeID, id string, pos core.Position) (core.Node, bool) {
	r.mu.RLock()
	e, ok := r.types[typeID]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	// The constructor runs outside the lock so it may consult the registry.
	n := e.ctor(id, pos)
	if n == nil {
		return nil, false
	}
	return n, true
}

// Metadata returns the display information of a type.
func (r *Registry) Metadata(typeID string) (Metadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.types[typeID]
	return e.meta, ok
}

// Has returns true if the type id is registered.
func (r *Registry) Has(typeID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.types[typeID]
	return ok
}

// All returns all registered node types in registration order.
func (r *Registry) All() []TypeInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]TypeInfo, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, TypeInfo{Type: name, Metadata: r.types[name].meta})
	}
	return result
}

// ByCategory returns the types of one category in registration order.
func (r *Registry) ByCategory(category string) []TypeInfo {
	var result []TypeInfo
	for _, info := range r.All() {
		if info.Category == category {
			result = append(result, info)
		}
	}
	return result
}

// Categories returns the distinct categories, sorted.
func (r *Registry) Categories() []string {
	seen := make(map[string]struct{})
	for _, info := range r.All() {
		seen[info.Category] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of registered node types.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.types)
}
