// Package document converts between a live graph and its persisted form.
//
// The persisted form carries node identity, type, position and parameters
// plus the connections between ports. Execution state is never persisted,
// so a restored graph always starts idle.
package document

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/petal-labs/canvasflow/core"
	"github.com/petal-labs/canvasflow/graph"
	"github.com/petal-labs/canvasflow/registry"
)

// Version is written into every encoded document. It is informational: any
// version is accepted on decode.
const Version = "1.0"

// Document is the persisted workflow.
type Document struct {
	Version     string            `json:"version"`
	Nodes       []core.NodeDef    `json:"nodes"`
	Connections []core.Connection `json:"connections"`
	Metadata    Metadata          `json:"metadata"`
}

// Metadata describes a document. Counts reflect what was encoded.
type Metadata struct {
	Created         time.Time `json:"created"`
	NodeCount       int       `json:"nodeCount"`
	ConnectionCount int       `json:"connectionCount"`
}

// WarningKind classifies a skipped document entry.
type WarningKind string

const (
	WarnUnknownType        WarningKind = "unknown_type"
	WarnDuplicateNode      WarningKind = "duplicate_node"
	WarnInvalidNode        WarningKind = "invalid_node"
	WarnDanglingConnection WarningKind = "dangling_connection"
	WarnVersion            WarningKind = "version"
)

// Warning reports a document entry that was skipped while restoring.
type Warning struct {
	Kind    WarningKind `json:"kind"`
	ID      string      `json:"id"`
	Message string      `json:"message"`
}

func (w Warning) String() string {
	return w.Message
}

// Encode captures g as a document stamped with now.
func Encode(g *graph.Graph, now time.Time) Document {
	nodes := g.Nodes()
	conns := g.Connections()

	doc := Document{
		Version:     Version,
		Nodes:       make([]core.NodeDef, 0, len(nodes)),
		Connections: make([]core.Connection, 0, len(conns)),
		Metadata: Metadata{
			Created:         now.UTC(),
			NodeCount:       len(nodes),
			ConnectionCount: len(conns),
		},
	}
	for _, n := range nodes {
		doc.Nodes = append(doc.Nodes, n.Definition())
	}
	doc.Connections = append(doc.Connections, conns...)
	return doc
}

// Decode builds a new graph from doc. See Restore for the skipping rules.
func Decode(doc Document, reg *registry.Registry, logger *slog.Logger) (*graph.Graph, []Warning, error) {
	g := graph.New()
	warnings, err := Restore(g, doc, reg, logger)
	if err != nil {
		return nil, warnings, err
	}
	return g, warnings, nil
}

// Restore clears g and rebuilds it from doc.
//
// Nodes whose type the registry does not know, duplicate node ids and
// definitions a node refuses are skipped. Connections are restored only
// when both endpoints resolve in the rebuilt graph. Every skipped entry is
// logged and returned as a Warning; none of them is fatal. The only error
// is a graph held by a running engine.
func Restore(g *graph.Graph, doc Document, reg *registry.Registry, logger *slog.Logger) ([]Warning, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := g.Clear(); err != nil {
		return nil, err
	}

	var warnings []Warning
	warn := func(w Warning) {
		warnings = append(warnings, w)
		logger.Warn("skipping document entry", "kind", w.Kind, "id", w.ID, "reason", w.Message)
	}

	if doc.Version != "" && doc.Version != Version {
		warn(Warning{Kind: WarnVersion, ID: doc.Version, Message: fmt.Sprintf("document version %q differs from %q", doc.Version, Version)})
	}

	for _, def := range doc.Nodes {
		node, ok := reg.Create(def.Type, def.ID, def.Position)
		if !ok {
			warn(Warning{Kind: WarnUnknownType, ID: def.ID, Message: fmt.Sprintf("unknown node type: %s", def.Type)})
			continue
		}
		if err := node.Restore(def); err != nil {
			warn(Warning{Kind: WarnInvalidNode, ID: def.ID, Message: err.Error()})
			continue
		}
		if err := g.AddNode(node); err != nil {
			warn(Warning{Kind: WarnDuplicateNode, ID: def.ID, Message: err.Error()})
			continue
		}
	}

	for _, c := range doc.Connections {
		if err := g.AddConnection(c); err != nil {
			warn(Warning{Kind: WarnDanglingConnection, ID: c.ID, Message: fmt.Sprintf("connection %s skipped: %v", c, err)})
		}
	}

	nodes, conns := g.Len()
	logger.Debug("document restored", "nodes", nodes, "connections", conns, "skipped", len(warnings))
	return warnings, nil
}
