package engine

import (
	"fmt"
	"strings"

	"github.com/wehubfusion/Daedalus/pkg/graph"
	"github.com/wehubfusion/Daedalus/pkg/node"
	"github.com/wehubfusion/Daedalus/pkg/progress"
)

// ErrAborted is the control-flow error raised at suspension points after
// Kill. It propagates through every layer unchanged; it is never folded into
// a NodeExecutionError and a killed run emits no execution-error event.
var ErrAborted = progress.ErrAborted

// maxSnapshotString bounds how much of a string input the diagnostic
// snapshot keeps verbatim.
const maxSnapshotString = 256

// NodeExecutionError reports that a node body failed or violated its
// contract. PartialInputs is a best-effort serializable snapshot of the
// inputs at the time of failure. Once constructed, outer layers must not
// re-wrap it.
type NodeExecutionError struct {
	Node          graph.NodeID
	SchemaID      string
	Cause         error
	PartialInputs map[string]interface{}
}

func (e *NodeExecutionError) Error() string {
	if e.SchemaID != "" {
		return fmt.Sprintf("node %d (%s) failed: %v", e.Node, e.SchemaID, e.Cause)
	}
	return fmt.Sprintf("node %d failed: %v", e.Node, e.Cause)
}

func (e *NodeExecutionError) Unwrap() error {
	return e.Cause
}

func newNodeError(n *graph.Node, cause error) *NodeExecutionError {
	return &NodeExecutionError{Node: n.ID, SchemaID: n.SchemaID, Cause: cause}
}

func newNodeErrorWithInputs(n *graph.Node, cause error, ports []node.InputPort, values []interface{}) *NodeExecutionError {
	err := newNodeError(n, cause)
	err.PartialInputs = snapshotInputs(ports, values)
	return err
}

// snapshotInputs reduces the input values to something safe to serialize:
// primitives verbatim, structured values as a small descriptive summary.
func snapshotInputs(ports []node.InputPort, values []interface{}) map[string]interface{} {
	snapshot := make(map[string]interface{}, len(values))
	for i, v := range values {
		name := fmt.Sprintf("input[%d]", i)
		if i < len(ports) && ports[i].Name != "" {
			name = ports[i].Name
		}
		snapshot[name] = summarizeValue(v)
	}
	return snapshot
}

func summarizeValue(v interface{}) interface{} {
	switch t := v.(type) {
	case nil, bool, int, int32, int64, uint, uint32, uint64, float32, float64:
		return t
	case string:
		if len(t) > maxSnapshotString {
			return t[:maxSnapshotString] + "..."
		}
		return t
	case []interface{}:
		return fmt.Sprintf("array(len=%d)", len(t))
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
			if len(keys) == 8 {
				break
			}
		}
		return fmt.Sprintf("object(%d keys: %s)", len(t), strings.Join(keys, ", "))
	default:
		return fmt.Sprintf("%T", v)
	}
}

// IterationError aggregates the per-item failures of one iterator loop. It
// is raised only after the loop completes; individual item failures do not
// stop sibling iterations.
type IterationError struct {
	Iterator graph.NodeID
	Total    int
	Failures []error
}

func (e *IterationError) Error() string {
	messages := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		messages = append(messages, f.Error())
	}
	return fmt.Sprintf("iterator %d: %d of %d iterations failed: %s",
		e.Iterator, len(e.Failures), e.Total, strings.Join(messages, "; "))
}
