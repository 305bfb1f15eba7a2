package runner

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// ControlMessage is the run-control command the transport layer publishes.
type ControlMessage struct {
	RunID  string `json:"runId"`
	Action string `json:"action"` // "pause", "resume" or "kill"
}

// SubscribeControl listens for run-control commands on the given subject and
// forwards them to the matching run. Commands for unknown run ids are logged
// and dropped; a run that already finished cannot be controlled.
func (r *Runner) SubscribeControl(conn *nats.Conn, subject string) (*nats.Subscription, error) {
	if conn == nil {
		return nil, fmt.Errorf("nats connection cannot be nil")
	}
	return conn.Subscribe(subject, func(msg *nats.Msg) {
		r.handleControl(msg.Data)
	})
}

// handleControl decodes and dispatches one control message.
func (r *Runner) handleControl(data []byte) {
	var cmd ControlMessage
	if err := json.Unmarshal(data, &cmd); err != nil {
		r.logger.Warn("ignoring malformed control message", zap.Error(err))
		return
	}

	var err error
	switch cmd.Action {
	case "pause":
		err = r.Pause(cmd.RunID)
	case "resume":
		err = r.Resume(cmd.RunID)
	case "kill":
		err = r.Kill(cmd.RunID)
	default:
		r.logger.Warn("ignoring unknown control action",
			zap.String("action", cmd.Action),
			zap.String("run_id", cmd.RunID))
		return
	}
	if err != nil {
		r.logger.Warn("control command failed",
			zap.String("action", cmd.Action),
			zap.String("run_id", cmd.RunID),
			zap.Error(err))
	}
}
