package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/wehubfusion/Daedalus/pkg/events"
)

// NodeRecord is the persisted result of one node execution.
type NodeRecord struct {
	Status          string `json:"status"` // "success" or "failed"
	ExecutionTimeMs *int64 `json:"executionTimeMs,omitempty"`
}

// RunRecord is the shared result file of one run: a run-level status plus a
// record per executed node.
type RunRecord struct {
	Status  string                 `json:"status"` // "running", "finished" or "failed"
	Message string                 `json:"message,omitempty"`
	Error   string                 `json:"error,omitempty"`
	Nodes   map[string]*NodeRecord `json:"nodes"`
}

// ResultFilePath returns the standard blob path for a run's result file.
func ResultFilePath(runID string) string {
	return fmt.Sprintf("results/%s/results.json", runID)
}

// ResultRecorder is an event sink that materializes the run's result file in
// blob storage. Each append is a read-modify-write of the shared file,
// serialized by a local mutex. Compose it behind the transport sink with
// events.MultiSink.
type ResultRecorder struct {
	client BlobClient
	logger *zap.Logger
	mu     sync.Mutex
}

// NewResultRecorder creates a recorder over the given blob client.
func NewResultRecorder(client BlobClient, logger *zap.Logger) (*ResultRecorder, error) {
	if client == nil {
		return nil, fmt.Errorf("blob client cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResultRecorder{client: client, logger: logger}, nil
}

// Publish folds one event into the run's result file. Cache-hit node-finish
// events and iterator progress carry no new result data and are skipped.
func (r *ResultRecorder) Publish(ctx context.Context, event events.Event) error {
	switch event.Type {
	case events.TypeNodeFinish:
		if event.NodeFinish == nil || event.NodeFinish.ExecutionTimeMs == nil {
			return nil
		}
		return r.update(ctx, event.RunID, func(rec *RunRecord) {
			rec.Nodes[fmt.Sprintf("%d", event.NodeFinish.NodeID)] = &NodeRecord{
				Status:          "success",
				ExecutionTimeMs: event.NodeFinish.ExecutionTimeMs,
			}
		})
	case events.TypeExecutionError:
		return r.update(ctx, event.RunID, func(rec *RunRecord) {
			rec.Status = "failed"
			rec.Message = event.ExecutionError.Message
			rec.Error = event.ExecutionError.ExceptionText
		})
	case events.TypeFinish:
		return r.update(ctx, event.RunID, func(rec *RunRecord) {
			rec.Status = "finished"
			rec.Message = event.Finish.Message
		})
	default:
		return nil
	}
}

// Load fetches and parses a run's result file.
func (r *ResultRecorder) Load(ctx context.Context, runID string) (*RunRecord, error) {
	data, err := r.client.Download(ctx, ResultFilePath(runID))
	if err != nil {
		return nil, err
	}
	var rec RunRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse result file for run %s: %w", runID, err)
	}
	return &rec, nil
}

func (r *ResultRecorder) update(ctx context.Context, runID string, apply func(*RunRecord)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	blobPath := ResultFilePath(runID)
	rec := &RunRecord{Status: "running", Nodes: make(map[string]*NodeRecord)}
	if data, err := r.client.Download(ctx, blobPath); err == nil {
		if err := json.Unmarshal(data, rec); err != nil {
			r.logger.Warn("failed to parse existing result file, starting fresh",
				zap.String("blob_path", blobPath),
				zap.Error(err))
			rec = &RunRecord{Status: "running", Nodes: make(map[string]*NodeRecord)}
		}
		if rec.Nodes == nil {
			rec.Nodes = make(map[string]*NodeRecord)
		}
	}

	apply(rec)

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal result file for run %s: %w", runID, err)
	}
	if _, err := r.client.Upload(ctx, blobPath, data, map[string]string{"runId": runID}); err != nil {
		return fmt.Errorf("failed to write result file for run %s: %w", runID, err)
	}
	return nil
}
