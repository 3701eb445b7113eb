package events

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// NotificationEvent is published after a notification row is written so that
// other portal services (mailer, websocket fan-out) can react to it.
type NotificationEvent struct {
	NotificationID string    `json:"notification_id"`
	Type           string    `json:"type"`
	RecipientID    string    `json:"recipient_id"`
	Title          string    `json:"title"`
	Message        string    `json:"message"`
	CreatedAt      time.Time `json:"created_at"`
}

// Marshal encodes the event as a protobuf Struct.
func (e NotificationEvent) Marshal() ([]byte, error) {
	st, err := structpb.NewStruct(map[string]interface{}{
		"notification_id": e.NotificationID,
		"type":            e.Type,
		"recipient_id":    e.RecipientID,
		"title":           e.Title,
		"message":         e.Message,
		"created_at":      e.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build notification event struct: %w", err)
	}
	return proto.Marshal(st)
}

func UnmarshalNotificationEvent(data []byte) (NotificationEvent, error) {
	var st structpb.Struct
	if err := proto.Unmarshal(data, &st); err != nil {
		return NotificationEvent{}, fmt.Errorf("failed to decode notification event: %w", err)
	}
	fields := st.GetFields()
	str := func(key string) string { return fields[key].GetStringValue() }

	e := NotificationEvent{
		NotificationID: str("notification_id"),
		Type:           str("type"),
		RecipientID:    str("recipient_id"),
		Title:          str("title"),
		Message:        str("message"),
	}
	if raw := str("created_at"); raw != "" {
		created, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return NotificationEvent{}, fmt.Errorf("invalid created_at %q: %w", raw, err)
		}
		e.CreatedAt = created
	}
	return e, nil
}

// TaskSubmissionPayload arrives as JSON on the submissions topic when a
// participant hands in work through another portal service.
type TaskSubmissionPayload struct {
	TaskID         uint   `json:"task_id"`
	SubmissionLink string `json:"submission_link"`
	SubmittedBy    string `json:"submitted_by,omitempty"`
}

// TaskSubmissionSchema guards the consumer against malformed producers.
const TaskSubmissionSchema = `{
  "type": "object",
  "required": ["task_id", "submission_link"],
  "properties": {
    "task_id": {"type": "integer", "minimum": 1},
    "submission_link": {"type": "string", "format": "uri"},
    "submitted_by": {"type": "string"}
  }
}`
