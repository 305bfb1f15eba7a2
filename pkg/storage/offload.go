package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/wehubfusion/Daedalus/pkg/events"
)

// DefaultOffloadThreshold is the inline payload size limit. Broadcast
// payloads larger than this are uploaded to blob storage and the event
// carries a reference instead of the raw data.
const DefaultOffloadThreshold = 1536 * 1024

// OffloadingSink wraps a sink, replacing oversized node-finish payloads with
// a blob reference before forwarding.
type OffloadingSink struct {
	next      events.Sink
	client    BlobClient
	threshold int
	logger    *zap.Logger
}

// NewOffloadingSink creates the wrapper. A non-positive threshold falls back
// to DefaultOffloadThreshold.
func NewOffloadingSink(next events.Sink, client BlobClient, threshold int, logger *zap.Logger) (*OffloadingSink, error) {
	if next == nil {
		return nil, fmt.Errorf("next sink cannot be nil")
	}
	if client == nil {
		return nil, fmt.Errorf("blob client cannot be nil")
	}
	if threshold <= 0 {
		threshold = DefaultOffloadThreshold
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OffloadingSink{next: next, client: client, threshold: threshold, logger: logger}, nil
}

// Publish forwards the event, offloading the node-finish payload when it
// exceeds the threshold.
func (s *OffloadingSink) Publish(ctx context.Context, event events.Event) error {
	if event.Type != events.TypeNodeFinish || event.NodeFinish == nil || event.NodeFinish.Data == nil {
		return s.next.Publish(ctx, event)
	}

	data, err := json.Marshal(event.NodeFinish.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal broadcast payload: %w", err)
	}
	if len(data) <= s.threshold {
		return s.next.Publish(ctx, event)
	}

	blobPath := fmt.Sprintf("payloads/%s/%d.json", event.RunID, event.NodeFinish.NodeID)
	url, err := s.client.Upload(ctx, blobPath, data, map[string]string{"runId": event.RunID})
	if err != nil {
		return fmt.Errorf("failed to offload broadcast payload: %w", err)
	}

	s.logger.Debug("offloaded broadcast payload",
		zap.String("run_id", event.RunID),
		zap.Int("node", int(event.NodeFinish.NodeID)),
		zap.Int("size_bytes", len(data)))

	offloaded := *event.NodeFinish
	offloaded.Data = &events.BlobReference{URL: url, SizeBytes: len(data)}
	event.NodeFinish = &offloaded
	return s.next.Publish(ctx, event)
}
