package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// DefaultSubjectPrefix is the subject namespace run event streams are
// published under. The full subject is "<prefix>.<runId>".
const DefaultSubjectPrefix = "daedalus.events"

// NATSSink publishes the event stream of each run to its own NATS subject so
// the transport layer can fan events out to clients by run id.
type NATSSink struct {
	conn   *nats.Conn
	prefix string
	logger *zap.Logger
}

// NewNATSSink creates a sink over an established connection. An empty prefix
// falls back to DefaultSubjectPrefix.
func NewNATSSink(conn *nats.Conn, prefix string, logger *zap.Logger) (*NATSSink, error) {
	if conn == nil {
		return nil, errors.New("nats connection cannot be nil")
	}
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSSink{conn: conn, prefix: prefix, logger: logger}, nil
}

// Subject returns the subject a run's events are published to.
func (s *NATSSink) Subject(runID string) string {
	return fmt.Sprintf("%s.%s", s.prefix, runID)
}

// Publish serializes the event to JSON and publishes it on the run's subject.
func (s *NATSSink) Publish(_ context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	subject := s.Subject(event.RunID)
	if err := s.conn.Publish(subject, data); err != nil {
		s.logger.Error("failed to publish event",
			zap.String("subject", subject),
			zap.String("event_type", string(event.Type)),
			zap.Error(err))
		return fmt.Errorf("failed to publish event to %s: %w", subject, err)
	}
	s.logger.Debug("published event",
		zap.String("subject", subject),
		zap.String("event_type", string(event.Type)))
	return nil
}
