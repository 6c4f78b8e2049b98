package messages

import "time"

// Event represents a lifecycle event published to NATS so external
// systems can follow task and bot activity without polling the API.
type Event struct {
	Type      string                 `json:"type"` // "task.created", "bot.online", "workflow.completed", ...
	Source    string                 `json:"source"`
	EntityID  string                 `json:"entity_id"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Event type constants. Subjects on the bus are "events.<type>".
const (
	EventTaskCreated   = "task.created"
	EventTaskAssigned  = "task.assigned"
	EventTaskStarted   = "task.started"
	EventTaskCompleted = "task.completed"
	EventTaskFailed    = "task.failed"
	EventTaskCancelled = "task.cancelled"

	EventBotRegistered = "bot.registered"
	EventBotOnline     = "bot.online"
	EventBotOffline    = "bot.offline"

	EventWorkflowCreated   = "workflow.created"
	EventWorkflowCompleted = "workflow.completed"
)

// TaskEvent creates a task lifecycle event.
func TaskEvent(eventType, taskID, source string, data map[string]interface{}) *Event {
	return &Event{
		Type:      eventType,
		Source:    source,
		EntityID:  taskID,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// BotEvent creates a bot lifecycle event.
func BotEvent(eventType, botID, source string) *Event {
	return &Event{
		Type:      eventType,
		Source:    source,
		EntityID:  botID,
		Timestamp: time.Now().UTC(),
	}
}

// WorkflowEvent creates a workflow lifecycle event.
func WorkflowEvent(eventType, workflowID, source string, data map[string]interface{}) *Event {
	return &Event{
		Type:      eventType,
		Source:    source,
		EntityID:  workflowID,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}
