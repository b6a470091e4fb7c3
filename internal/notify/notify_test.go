package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hackletloose/hall-events/internal/config"
	"github.com/hackletloose/hall-events/internal/model"
	"github.com/hibiken/asynq"
)

type enqueued struct {
	task *asynq.Task
	opts []asynq.Option
}

type fakeClient struct {
	tasks []enqueued
	err   error
}

func (f *fakeClient) EnqueueContext(_ context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, enqueued{task: task, opts: opts})
	return &asynq.TaskInfo{ID: "t1", Queue: QueueName}, nil
}

func (f *fakeClient) Close() error { return nil }

func optionValue(opts []asynq.Option, typ asynq.OptionType) (any, bool) {
	for _, o := range opts {
		if o.Type() == typ {
			return o.Value(), true
		}
	}
	return nil, false
}

func TestQueueNotifierEnqueuesOnNotificationsQueue(t *testing.T) {
	client := &fakeClient{}
	q := &QueueNotifier{client: client}
	ctx := context.Background()

	signup := model.Signup{ID: 7, EventID: "ev", UserID: "u", Side: model.SideAxis, Role: model.RoleTank, Status: model.StatusActive}
	if err := q.SignupRequested(ctx, model.SignupOutcome{Signup: signup, Status: model.StatusActive}); err != nil {
		t.Fatalf("SignupRequested: %v", err)
	}
	if err := q.SignupPromoted(ctx, signup); err != nil {
		t.Fatalf("SignupPromoted: %v", err)
	}
	if len(client.tasks) != 2 {
		t.Fatalf("tasks = %d, want 2", len(client.tasks))
	}

	first := client.tasks[0]
	if first.task.Type() != TypeSignupRequested {
		t.Errorf("type = %q, expected %q", first.task.Type(), TypeSignupRequested)
	}
	if v, _ := optionValue(first.opts, asynq.QueueOpt); v != QueueName {
		t.Errorf("queue = %v, expected %q", v, QueueName)
	}
	if v, _ := optionValue(first.opts, asynq.MaxRetryOpt); v != 5 {
		t.Errorf("max retry = %v, expected 5", v)
	}

	var got model.SignupOutcome
	if err := json.Unmarshal(first.task.Payload(), &got); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if got.Signup.ID != 7 || got.Status != model.StatusActive {
		t.Errorf("payload = %+v", got)
	}
	if client.tasks[1].task.Type() != TypeSignupPromoted {
		t.Errorf("second type = %q, expected %q", client.tasks[1].task.Type(), TypeSignupPromoted)
	}
}

func TestEventPayloadOmitsPassword(t *testing.T) {
	client := &fakeClient{}
	q := &QueueNotifier{client: client}
	event := model.Event{ID: "ev", Name: "Night Push", Password: "hunter2", StartsAt: time.Now()}
	if err := q.EventPublished(context.Background(), event); err != nil {
		t.Fatalf("EventPublished: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(client.tasks[0].task.Payload(), &raw); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if _, ok := raw["password"]; ok {
		t.Error("payload leaks the server password")
	}
}

func TestReminderTaskIsDeduplicated(t *testing.T) {
	client := &fakeClient{}
	q := &QueueNotifier{client: client}
	event := model.Event{ID: "ev"}
	active := []model.Signup{{ID: 1, DisplayName: "A", Side: model.SideAllies, Role: model.RoleCommander}}

	if err := q.EventReminder(context.Background(), event, active); err != nil {
		t.Fatalf("EventReminder: %v", err)
	}
	v, ok := optionValue(client.tasks[0].opts, asynq.TaskIDOpt)
	if !ok || v != "event:reminder:ev" {
		t.Errorf("task id = %v, expected event:reminder:ev", v)
	}

	client.err = asynq.ErrTaskIDConflict
	if err := q.EventReminder(context.Background(), event, active); err != nil {
		t.Errorf("duplicate reminder err = %v, expected nil", err)
	}

	client.err = errors.New("redis down")
	if err := q.SignupCancelled(context.Background(), model.CancelOutcome{}); err == nil {
		t.Error("enqueue failure should be returned")
	}
}

type captured struct {
	LogNotifier
	reminded model.Event
	reminder []model.Signup
	promoted *model.Signup
}

func (c *captured) SignupPromoted(_ context.Context, s model.Signup) error {
	c.promoted = &s
	return nil
}

func (c *captured) EventReminder(_ context.Context, e model.Event, active []model.Signup) error {
	c.reminded = e
	c.reminder = active
	return nil
}

func TestServeMuxDeliversDecodedPayloads(t *testing.T) {
	deliver := &captured{}
	mux := NewServeMux(deliver)
	ctx := context.Background()

	task, err := newTask(TypeSignupPromoted, model.Signup{ID: 3, UserID: "u"})
	if err != nil {
		t.Fatalf("newTask: %v", err)
	}
	if err := mux.ProcessTask(ctx, task); err != nil {
		t.Fatalf("ProcessTask: %v", err)
	}
	if deliver.promoted == nil || deliver.promoted.ID != 3 {
		t.Errorf("promoted = %+v", deliver.promoted)
	}

	active := []model.Signup{
		{ID: 1, EventID: "ev", UserID: "discord-41", DisplayName: "A", Status: model.StatusActive},
		{ID: 2, EventID: "ev", UserID: "discord-42", DisplayName: "B", Status: model.StatusActive},
	}
	task, _ = newTask(TypeEventReminder, reminderPayload(model.Event{ID: "ev", Password: "hunter2"}, active))
	if err := mux.ProcessTask(ctx, task); err != nil {
		t.Fatalf("ProcessTask reminder: %v", err)
	}
	if len(deliver.reminder) != 2 {
		t.Fatalf("reminder recipients = %+v", deliver.reminder)
	}
	if got := deliver.reminder[1]; got.UserID != "discord-42" || got.DisplayName != "B" || got.EventID != "ev" {
		t.Errorf("second recipient = %+v", got)
	}
	if deliver.reminded.Password != "hunter2" {
		t.Errorf("reminder password = %q, expected hunter2", deliver.reminded.Password)
	}

	err = mux.ProcessTask(ctx, asynq.NewTask(TypeSignupRequested, []byte("{")))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Errorf("malformed payload err = %v, expected SkipRetry", err)
	}
}

func TestNewFallsBackToLog(t *testing.T) {
	if _, ok := New(config.RedisConfig{Enabled: false}).(LogNotifier); !ok {
		t.Error("disabled redis should yield the log notifier")
	}
	if w := NewWorker(config.RedisConfig{Enabled: false}, LogNotifier{}); w != nil {
		t.Error("disabled redis should yield no worker")
	}
}
