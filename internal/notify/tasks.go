// Package notify delivers committed allocation and event outcomes to
// downstream consumers, either through an asynq task queue or the log.
package notify

import (
	"encoding/json"
	"fmt"

	"github.com/hackletloose/hall-events/internal/model"
	"github.com/hibiken/asynq"
)

const (
	TypeSignupRequested = "signup:requested"
	TypeSignupCancelled = "signup:cancelled"
	TypeSignupPromoted  = "signup:promoted"
	TypeEventPublished  = "event:published"
	TypeEventReminder   = "event:reminder"

	// QueueName is the asynq queue every notification is enqueued on.
	QueueName = "notifications"
)

// ReminderPayload is the body of an event:reminder task. Password travels
// here only, so the delivery side can hand it to each recipient.
type ReminderPayload struct {
	Event      model.Event    `json:"event"`
	Password   string         `json:"password"`
	Recipients []model.Signup `json:"recipients"`
}

func newTask(taskType string, payload any) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", taskType, err)
	}
	return asynq.NewTask(taskType, body), nil
}

func reminderPayload(event model.Event, active []model.Signup) ReminderPayload {
	return ReminderPayload{Event: event, Password: event.Password, Recipients: active}
}
