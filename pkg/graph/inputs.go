package graph

// slotKind discriminates the two forms an input binding can take.
type slotKind int

const (
	slotLiteral slotKind = iota
	slotEdge
)

// InputSlot binds one input position of a node to either a literal value or
// another node's output.
type InputSlot struct {
	kind        slotKind
	value       interface{}
	source      NodeID
	outputIndex int
}

// Literal creates a slot carrying a constant value.
func Literal(value interface{}) InputSlot {
	return InputSlot{kind: slotLiteral, value: value}
}

// FromNode creates a slot referencing another node's output.
func FromNode(source NodeID, outputIndex int) InputSlot {
	return InputSlot{kind: slotEdge, source: source, outputIndex: outputIndex}
}

// IsLiteral reports whether the slot carries a constant value.
func (s InputSlot) IsLiteral() bool {
	return s.kind == slotLiteral
}

// Value returns the literal value. Only meaningful when IsLiteral is true.
func (s InputSlot) Value() interface{} {
	return s.value
}

// Source returns the referenced node and output index. Only meaningful when
// IsLiteral is false.
func (s InputSlot) Source() (NodeID, int) {
	return s.source, s.outputIndex
}

// InputMap owns the ordered input slots of each node. A map may chain to a
// parent scope: lookups fall back to the parent when the child carries no
// override for a node, so a sub-execution sees the outer bindings unless it
// shadows them locally.
type InputMap struct {
	parent *InputMap
	slots  map[NodeID][]InputSlot
}

// NewInputMap creates an empty top-level input map.
func NewInputMap() *InputMap {
	return &InputMap{slots: make(map[NodeID][]InputSlot)}
}

// Child creates an empty input map layered on top of this one.
func (m *InputMap) Child() *InputMap {
	return &InputMap{parent: m, slots: make(map[NodeID][]InputSlot)}
}

// Set replaces the full slot sequence for a node in this scope.
func (m *InputMap) Set(id NodeID, slots ...InputSlot) {
	m.slots[id] = slots
}

// Override replaces a single slot for a node in this scope, preserving the
// remaining slots visible from this scope. Used by iterator contexts to
// inject raw per-item values. The slot sequence grows as needed.
func (m *InputMap) Override(id NodeID, index int, slot InputSlot) {
	current, _ := m.Lookup(id)
	copied := make([]InputSlot, len(current))
	copy(copied, current)
	for len(copied) <= index {
		copied = append(copied, Literal(nil))
	}
	copied[index] = slot
	m.slots[id] = copied
}

// Lookup returns the ordered slots bound to a node, consulting the parent
// scope when this one has no entry.
func (m *InputMap) Lookup(id NodeID) ([]InputSlot, bool) {
	if slots, ok := m.slots[id]; ok {
		return slots, true
	}
	if m.parent != nil {
		return m.parent.Lookup(id)
	}
	return nil, false
}
