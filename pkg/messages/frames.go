package messages

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/clawbot/coordinator/pkg/models"
)

// FrameType identifies a WebSocket frame exchanged between the
// coordinator and a connected bot.
type FrameType string

const (
	// Server -> bot
	FrameConnected    FrameType = "connected"
	FrameTaskAssigned FrameType = "task_assigned"
	FrameTaskCancel   FrameType = "task_cancel"
	FrameError        FrameType = "error"

	// Bot -> server
	FrameHeartbeat    FrameType = "heartbeat"
	FrameTaskProgress FrameType = "task_progress"
	FrameTaskComplete FrameType = "task_complete"
)

// Frame is the envelope for every message on a bot connection.
type Frame struct {
	Type      FrameType              `json:"type"`
	TaskID    string                 `json:"task_id,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Encode serializes the frame for the wire.
func (f *Frame) Encode() ([]byte, error) {
	return json.Marshal(f)
}

// DecodeFrame parses an inbound frame and rejects frames without a type.
func DecodeFrame(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	if f.Type == "" {
		return nil, fmt.Errorf("decode frame: missing type")
	}
	return &f, nil
}

// Connected creates the welcome frame sent once per connection.
func Connected(botID string) *Frame {
	return &Frame{
		Type:      FrameConnected,
		Payload:   map[string]interface{}{"bot_id": botID},
		Timestamp: time.Now().UTC(),
	}
}

// TaskAssigned creates the frame pushing a task to its assigned bot.
func TaskAssigned(task *models.Task) *Frame {
	return &Frame{
		Type:   FrameTaskAssigned,
		TaskID: task.ID,
		Payload: map[string]interface{}{
			"title":           task.Title,
			"description":     task.Description,
			"payload":         task.Payload,
			"timeout_seconds": task.TimeoutSeconds,
		},
		Timestamp: time.Now().UTC(),
	}
}

// TaskCancel creates the frame telling a bot to abort a task.
func TaskCancel(taskID string) *Frame {
	return &Frame{
		Type:      FrameTaskCancel,
		TaskID:    taskID,
		Timestamp: time.Now().UTC(),
	}
}

// Heartbeat creates a liveness frame. Both sides use the same shape.
func Heartbeat() *Frame {
	return &Frame{
		Type:      FrameHeartbeat,
		Timestamp: time.Now().UTC(),
	}
}

// TaskProgress creates the frame a bot sends when it starts working.
func TaskProgress(taskID string) *Frame {
	return &Frame{
		Type:      FrameTaskProgress,
		TaskID:    taskID,
		Timestamp: time.Now().UTC(),
	}
}

// TaskComplete creates the frame a bot sends when a task finishes.
// success=false carries the failure reason in errMsg.
func TaskComplete(taskID string, success bool, result, errMsg string) *Frame {
	payload := map[string]interface{}{"success": success}
	if result != "" {
		payload["result"] = result
	}
	if errMsg != "" {
		payload["error"] = errMsg
	}
	return &Frame{
		Type:      FrameTaskComplete,
		TaskID:    taskID,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// ErrorFrame creates the frame answering an unprocessable inbound frame.
func ErrorFrame(reason string) *Frame {
	return &Frame{
		Type:      FrameError,
		Payload:   map[string]interface{}{"error": reason},
		Timestamp: time.Now().UTC(),
	}
}

// CompletionResult extracts the success flag, result and error from a
// task_complete payload.
func (f *Frame) CompletionResult() (success bool, result string, errMsg string) {
	if f.Payload == nil {
		return false, "", "missing payload"
	}
	success, _ = f.Payload["success"].(bool)
	result, _ = f.Payload["result"].(string)
	errMsg, _ = f.Payload["error"].(string)
	return success, result, errMsg
}
