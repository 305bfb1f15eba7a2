// Package foreach provides the built-in iteration pair: a ForEach iterator
// that runs its body sub-graph once per item of a list input, and the Item
// helper that surfaces the current item inside the body.
package foreach

import (
	"context"
	"fmt"

	"github.com/wehubfusion/Daedalus/pkg/node"
)

const (
	// SchemaID is the registry key of the iterator node.
	SchemaID = "builtin.foreach"
	// ItemSchemaID is the registry key of the per-item helper node.
	ItemSchemaID = "builtin.foreach.item"
)

// Register adds both the iterator and its helper to a registry.
func Register(registry *node.Registry) {
	registry.Register(SchemaID, func() (node.Implementation, error) {
		return &ForEach{}, nil
	})
	registry.Register(ItemSchemaID, func() (node.Implementation, error) {
		return &Item{}, nil
	})
}

// ForEach iterates its body once per element of the "items" input. The body
// must contain exactly one Item node; each iteration injects the current
// element and its index into it.
type ForEach struct{}

func (f *ForEach) Kind() node.Kind { return node.KindIterator }

func (f *ForEach) Inputs() []node.InputPort {
	return []node.InputPort{{
		Name: "items",
		Enforce: func(value interface{}) (interface{}, error) {
			switch v := value.(type) {
			case []interface{}:
				return v, nil
			case nil:
				return nil, fmt.Errorf("items input is required")
			default:
				return nil, fmt.Errorf("items must be a list, got %T", value)
			}
		},
	}}
}

func (f *ForEach) Outputs() []node.OutputPort { return nil }

func (f *ForEach) HasSideEffects() bool { return false }

// RunIterator resolves the body's Item helper, then runs the body once per
// element, injecting the element and index before each iteration.
func (f *ForEach) RunIterator(ctx context.Context, inputs []interface{}, ic node.IteratorContext) error {
	items, ok := inputs[0].([]interface{})
	if !ok {
		return fmt.Errorf("items must be a list, got %T", inputs[0])
	}

	helper, err := ic.Helper(ItemSchemaID)
	if err != nil {
		return err
	}

	return ic.Run(ctx, items, func(item interface{}, index int) bool {
		ic.Inject(helper, 0, item)
		ic.Inject(helper, 1, index)
		return true
	})
}

// Item surfaces the iterator's current element and index to the body. Its
// inputs are engine-injected, so enforcement is bypassed.
type Item struct{}

func (i *Item) Kind() node.Kind { return node.KindIteratorHelper }

func (i *Item) Inputs() []node.InputPort {
	return []node.InputPort{
		{Name: "item", Optional: true},
		{Name: "index", Optional: true},
	}
}

func (i *Item) Outputs() []node.OutputPort {
	return []node.OutputPort{{Name: "item"}, {Name: "index"}}
}

func (i *Item) HasSideEffects() bool { return false }

func (i *Item) Run(_ context.Context, inputs []interface{}) ([]interface{}, error) {
	var item, index interface{}
	if len(inputs) > 0 {
		item = inputs[0]
	}
	if len(inputs) > 1 {
		index = inputs[1]
	}
	return []interface{}{item, index}, nil
}
