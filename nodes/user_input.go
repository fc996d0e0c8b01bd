package nodes

import (
	"context"
	"strings"
	"time"

	"github.com/petal-labs/canvasflow/core"
)

// TypeUserInput is the registry type of UserInputNode.
const TypeUserInput = "user-input"

// UserInputNode emits text typed by the user.
type UserInputNode struct {
	core.BaseNode
	now func() time.Time
}

// NewUserInputNode creates a user input node with an empty text.
func NewUserInputNode(id string, pos core.Position) *UserInputNode {
	return &UserInputNode{
		BaseNode: core.NewBaseNode(id, TypeUserInput, pos,
			core.Ports{Outputs: []string{core.DefaultOutputPort}},
			core.Parameters{"inputText": "", "label": "User Input"}),
		now: time.Now,
	}
}

// ParameterDefinitions describes the label and text fields.
func (n *UserInputNode) ParameterDefinitions(context.Context) ([]core.ParamDef, error) {
	return []core.ParamDef{
		{Name: "label", Type: core.ParamText, Label: "Label", Default: "User Input"},
		{Name: "inputText", Type: core.ParamTextArea, Label: "Input text", Default: ""},
	}, nil
}

// Validate requires non-blank text.
func (n *UserInputNode) Validate() bool {
	return strings.TrimSpace(n.Params().String("inputText")) != ""
}

// Execute returns {text, timestamp}.
func (n *UserInputNode) Execute(context.Context, core.Inputs) (any, error) {
	return map[string]any{
		"text":      n.Params().String("inputText"),
		"timestamp": timestamp(n.now),
	}, nil
}

var _ core.Node = (*UserInputNode)(nil)
