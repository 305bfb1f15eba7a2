// Package text provides a built-in case-mapping function node.
package text

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/wehubfusion/Daedalus/pkg/node"
)

// Operation selects the case transform applied by the node.
type Operation string

const (
	OpUpper Operation = "upper"
	OpLower Operation = "lower"
	OpTitle Operation = "title"
	OpTrim  Operation = "trim"
)

// SchemaIDFor returns the registry key for one operation, e.g.
// "builtin.text.upper".
func SchemaIDFor(op Operation) string {
	return "builtin.text." + string(op)
}

// Node applies a single text operation to its string input.
type Node struct {
	op Operation
}

// New creates a node for the given operation.
func New(op Operation) (*Node, error) {
	switch op {
	case OpUpper, OpLower, OpTitle, OpTrim:
		return &Node{op: op}, nil
	default:
		return nil, fmt.Errorf("unknown text operation %q", op)
	}
}

// RegisterAll adds every text operation to a registry.
func RegisterAll(registry *node.Registry) {
	for _, op := range []Operation{OpUpper, OpLower, OpTitle, OpTrim} {
		op := op
		registry.Register(SchemaIDFor(op), func() (node.Implementation, error) {
			return New(op)
		})
	}
}

func (n *Node) Kind() node.Kind { return node.KindFunction }

func (n *Node) Inputs() []node.InputPort {
	return []node.InputPort{{
		Name: "text",
		// Coerce anything stringable; reject structured values.
		Enforce: func(value interface{}) (interface{}, error) {
			switch v := value.(type) {
			case string:
				return v, nil
			case fmt.Stringer:
				return v.String(), nil
			case nil:
				return "", fmt.Errorf("text input is required")
			case bool, int, int64, float64:
				return fmt.Sprintf("%v", v), nil
			default:
				return nil, fmt.Errorf("cannot coerce %T to string", value)
			}
		},
	}}
}

func (n *Node) Outputs() []node.OutputPort {
	return []node.OutputPort{{Name: "text"}}
}

func (n *Node) HasSideEffects() bool { return false }

func (n *Node) Run(_ context.Context, inputs []interface{}) ([]interface{}, error) {
	text, ok := inputs[0].(string)
	if !ok {
		return nil, fmt.Errorf("expected string input, got %T", inputs[0])
	}

	switch n.op {
	case OpUpper:
		return []interface{}{strings.ToUpper(text)}, nil
	case OpLower:
		return []interface{}{strings.ToLower(text)}, nil
	case OpTitle:
		return []interface{}{cases.Title(language.Und).String(text)}, nil
	case OpTrim:
		return []interface{}{strings.TrimSpace(text)}, nil
	default:
		return nil, fmt.Errorf("unknown text operation %q", n.op)
	}
}
