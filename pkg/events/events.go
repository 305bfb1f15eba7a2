// Package events defines the minimal event shapes the engine emits toward
// the transport layer, and the sinks that carry them.
package events

import (
	"time"

	"github.com/wehubfusion/Daedalus/pkg/graph"
)

// Type identifies an event kind on the wire.
type Type string

const (
	TypeNodeFinish       Type = "node-finish"
	TypeIteratorProgress Type = "iterator-progress-update"
	TypeExecutionError   Type = "execution-error"
	TypeFinish           Type = "finish"
)

// BlobReference replaces an inline payload that was too large to send. The
// payload is uploaded to blob storage and the event carries this pointer
// instead of the raw data.
type BlobReference struct {
	URL       string `json:"url"`
	SizeBytes int    `json:"sizeBytes"`
}

// NodeFinish reports that a node's output became (or already was) resident
// in cache. ExecutionTimeMs and Data are null for cache hits.
type NodeFinish struct {
	FinishedNodeIDs []graph.NodeID `json:"finishedNodeIds"`
	NodeID          graph.NodeID   `json:"nodeId"`
	ExecutionTimeMs *int64         `json:"executionTimeMs"`
	Data            interface{}    `json:"data"`
}

// IteratorProgress reports fractional completion of an iterator node.
// RunningNodeIDs is set while an iteration is in flight and null otherwise.
type IteratorProgress struct {
	Percent        float64        `json:"percent"`
	IteratorID     graph.NodeID   `json:"iteratorId"`
	RunningNodeIDs []graph.NodeID `json:"runningNodeIds,omitempty"`
}

// ExecutionError reports a failed run. A run emits at most one of these; an
// aborted run emits none.
type ExecutionError struct {
	Message       string `json:"message"`
	ExceptionText string `json:"exceptionText"`
}

// Finish reports a completed run.
type Finish struct {
	Message string `json:"message"`
}

// Event is the envelope published to sinks. Exactly one of the payload
// pointers is set, matching Type.
type Event struct {
	Type             Type              `json:"type"`
	RunID            string            `json:"runId,omitempty"`
	Timestamp        string            `json:"timestamp"`
	NodeFinish       *NodeFinish       `json:"nodeFinish,omitempty"`
	IteratorProgress *IteratorProgress `json:"iteratorProgress,omitempty"`
	ExecutionError   *ExecutionError   `json:"executionError,omitempty"`
	Finish           *Finish           `json:"finish,omitempty"`
}

func newEvent(t Type, runID string) Event {
	return Event{Type: t, RunID: runID, Timestamp: time.Now().Format(time.RFC3339)}
}

// NewNodeFinish builds a node-finish event for a freshly computed node.
func NewNodeFinish(runID string, finished []graph.NodeID, id graph.NodeID, elapsed time.Duration, data interface{}) Event {
	ms := elapsed.Milliseconds()
	e := newEvent(TypeNodeFinish, runID)
	e.NodeFinish = &NodeFinish{
		FinishedNodeIDs: finished,
		NodeID:          id,
		ExecutionTimeMs: &ms,
		Data:            data,
	}
	return e
}

// NewCacheHit builds the lightweight node-finish event emitted when a node's
// value was already cached: no execution time, no payload.
func NewCacheHit(runID string, finished []graph.NodeID, id graph.NodeID) Event {
	e := newEvent(TypeNodeFinish, runID)
	e.NodeFinish = &NodeFinish{
		FinishedNodeIDs: finished,
		NodeID:          id,
	}
	return e
}

// NewIteratorProgress builds an iterator-progress-update event.
func NewIteratorProgress(runID string, iterator graph.NodeID, percent float64, running []graph.NodeID) Event {
	e := newEvent(TypeIteratorProgress, runID)
	e.IteratorProgress = &IteratorProgress{
		Percent:        percent,
		IteratorID:     iterator,
		RunningNodeIDs: running,
	}
	return e
}

// NewExecutionError builds the single failure event of a run.
func NewExecutionError(runID, message, exceptionText string) Event {
	e := newEvent(TypeExecutionError, runID)
	e.ExecutionError = &ExecutionError{Message: message, ExceptionText: exceptionText}
	return e
}

// NewFinish builds the terminal success event of a run.
func NewFinish(runID, message string) Event {
	e := newEvent(TypeFinish, runID)
	e.Finish = &Finish{Message: message}
	return e
}
