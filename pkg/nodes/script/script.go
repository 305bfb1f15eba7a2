// Package script provides a built-in function node that runs a JavaScript
// expression over its input. It exists to exercise the node contract end to
// end; pipeline-specific nodes live in the surrounding catalog.
package script

import (
	"context"
	"fmt"

	"github.com/dop251/goja"

	"github.com/wehubfusion/Daedalus/pkg/node"
)

// SchemaID is the registry key of the script node.
const SchemaID = "builtin.script"

// removedGlobals are host-environment names a script must not see.
var removedGlobals = []string{
	"require", "module", "exports", "process", "global", "Buffer",
}

// Node evaluates a compiled JavaScript program with the node input bound to
// the global "input" and returns the program's final value as its single
// output.
type Node struct {
	program *goja.Program
	source  string
}

// New compiles the source once; each Run evaluates it on a fresh runtime.
func New(source string) (*Node, error) {
	program, err := goja.Compile("script", source, true)
	if err != nil {
		return nil, fmt.Errorf("failed to compile script: %w", err)
	}
	return &Node{program: program, source: source}, nil
}

// Register adds a factory for the script node to a registry. The source is
// fixed per registration; the catalog registers one schema per script.
func Register(registry *node.Registry, schemaID, source string) error {
	n, err := New(source)
	if err != nil {
		return err
	}
	registry.Register(schemaID, func() (node.Implementation, error) {
		return n, nil
	})
	return nil
}

func (n *Node) Kind() node.Kind { return node.KindFunction }

func (n *Node) Inputs() []node.InputPort {
	return []node.InputPort{{Name: "input", Optional: true}}
}

func (n *Node) Outputs() []node.OutputPort {
	return []node.OutputPort{{Name: "result"}}
}

func (n *Node) HasSideEffects() bool { return false }

// Run evaluates the program on a fresh sandboxed runtime.
func (n *Node) Run(_ context.Context, inputs []interface{}) ([]interface{}, error) {
	vm := goja.New()
	for _, name := range removedGlobals {
		if err := vm.Set(name, goja.Undefined()); err != nil {
			return nil, fmt.Errorf("failed to sandbox runtime: %w", err)
		}
	}

	var input interface{}
	if len(inputs) > 0 {
		input = inputs[0]
	}
	if err := vm.Set("input", input); err != nil {
		return nil, fmt.Errorf("failed to bind input: %w", err)
	}

	value, err := vm.RunProgram(n.program)
	if err != nil {
		return nil, fmt.Errorf("script failed: %w", err)
	}
	return []interface{}{value.Export()}, nil
}

// Preview returns the script result itself when it is small enough to show
// inline; structured results are summarized by the broadcast layer.
func (n *Node) Preview(_ int, value interface{}) interface{} {
	switch value.(type) {
	case nil:
		return nil
	case bool, int64, float64, string:
		return value
	default:
		return fmt.Sprintf("%T", value)
	}
}
