// Package node defines the contract between the engine and the node
// implementations supplied by the surrounding catalog. The engine treats
// every implementation as an opaque function with declared inputs and
// outputs; nothing here knows about any concrete node's algorithm.
package node

import (
	"context"

	"github.com/wehubfusion/Daedalus/pkg/graph"
)

// Kind classifies a node implementation.
type Kind int

const (
	// KindFunction is a plain node: inputs in, outputs out.
	KindFunction Kind = iota
	// KindIterator drives repeated execution of a nested body sub-graph
	// through an IteratorContext.
	KindIterator
	// KindIteratorHelper receives raw per-item values injected by an
	// enclosing iterator; its inputs bypass enforcement.
	KindIteratorHelper
)

func (k Kind) String() string {
	switch k {
	case KindFunction:
		return "function"
	case KindIterator:
		return "iterator"
	case KindIteratorHelper:
		return "iterator-helper"
	default:
		return "unknown"
	}
}

// EnforceFunc coerces and validates one input value before execution. It may
// return a converted value or an error rejecting the input.
type EnforceFunc func(value interface{}) (interface{}, error)

// InputPort describes one declared input of a node implementation.
type InputPort struct {
	Name     string
	Optional bool
	// Enforce is applied to the resolved value before dispatch; nil means
	// the value passes through unchanged.
	Enforce EnforceFunc
}

// OutputPort describes one declared output of a node implementation.
type OutputPort struct {
	Name string
}

// Implementation is the uniform contract every node satisfies. A node
// produces exactly len(Outputs()) values in declared order; the engine never
// inspects return values beyond that.
type Implementation interface {
	Kind() Kind
	Inputs() []InputPort
	Outputs() []OutputPort
	// HasSideEffects marks nodes that must run even when nothing consumes
	// their outputs; free side-effecting nodes are the run's terminals.
	HasSideEffects() bool
}

// Function is a node whose body runs on the worker pool. Bodies are assumed
// blocking or CPU-bound; they are not preempted by pause or abort.
type Function interface {
	Implementation
	Run(ctx context.Context, inputs []interface{}) ([]interface{}, error)
}

// BeforeFunc is invoked before each iteration with the current item and its
// zero-based index. It injects per-item values into the body's input scope
// (through IteratorContext.Inject) and returns false to end the loop early
// without error.
type BeforeFunc func(item interface{}, index int) bool

// IteratorContext is handed to an iterator node's body so it can drive its
// sub-graph. The engine implements it; node implementations only call it.
type IteratorContext interface {
	// Helper locates the single body node carrying the given schema id.
	// Iterator implementations use it to find the node that receives
	// per-item values. A missing helper is a contract violation.
	Helper(schemaID string) (graph.NodeID, error)

	// Inject binds a raw value to one input slot of a body node for the
	// current iteration, bypassing enforcement.
	Inject(id graph.NodeID, inputIndex int, value interface{})

	// Run executes the body once per item. Per-item failures are collected
	// and reported as one aggregate error after the loop; an abort stops
	// the loop immediately.
	Run(ctx context.Context, items []interface{}, before BeforeFunc) error
}

// Iterator is a node that fans out into repeated sub-executions of its body.
// It has no direct return value; outputs, if any, are broadcast as the
// iteration proceeds.
type Iterator interface {
	Implementation
	RunIterator(ctx context.Context, inputs []interface{}, ic IteratorContext) error
}

// Previewer is optionally implemented by nodes whose outputs have a client
// visualization. Preview returns a cheap summary of one output for the
// broadcast payload, or nil when the output has none. It is called off the
// execution hot path.
type Previewer interface {
	Preview(outputIndex int, value interface{}) interface{}
}
