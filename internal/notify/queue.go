package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/hackletloose/hall-events/internal/config"
	"github.com/hackletloose/hall-events/internal/model"
	"github.com/hackletloose/hall-events/internal/service"
	"github.com/hackletloose/hall-events/pkg/logger"
	"github.com/hibiken/asynq"
)

// Sink is a Notifier holding resources that must be released on shutdown.
type Sink interface {
	service.Notifier
	Close() error
}

// enqueuer is the subset of *asynq.Client the notifier needs.
type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// QueueNotifier turns outcomes into asynq tasks on the notifications queue.
type QueueNotifier struct {
	client enqueuer
}

var _ Sink = (*QueueNotifier)(nil)

// New returns a QueueNotifier when Redis is enabled and reachable, and falls
// back to the LogNotifier otherwise.
func New(cfg config.RedisConfig) Sink {
	if !cfg.Enabled {
		logger.Info().Msg("notifications go to the log (redis disabled)")
		return LogNotifier{}
	}
	q, err := NewQueueNotifier(cfg)
	if err != nil {
		logger.Warn().Err(err).Str("addr", cfg.Addr).Msg("redis unavailable, notifications go to the log")
		return LogNotifier{}
	}
	logger.Info().Str("addr", cfg.Addr).Msg("notification queue initialized")
	return q
}

// RedisOpt builds the asynq connection options from config.
func RedisOpt(cfg config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}

// NewQueueNotifier connects to Redis and verifies the connection.
func NewQueueNotifier(cfg config.RedisConfig) (*QueueNotifier, error) {
	opt := RedisOpt(cfg)
	client := asynq.NewClient(opt)

	inspector := asynq.NewInspector(opt)
	defer inspector.Close()
	if _, err := inspector.Queues(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &QueueNotifier{client: client}, nil
}

func (q *QueueNotifier) enqueue(ctx context.Context, taskType string, payload any, opts ...asynq.Option) error {
	task, err := newTask(taskType, payload)
	if err != nil {
		return err
	}
	opts = append([]asynq.Option{asynq.Queue(QueueName), asynq.MaxRetry(5)}, opts...)
	info, err := q.client.EnqueueContext(ctx, task, opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", taskType, err)
	}
	logger.Debug().Str("type", taskType).Str("task_id", info.ID).Msg("task enqueued")
	return nil
}

func (q *QueueNotifier) SignupRequested(ctx context.Context, o model.SignupOutcome) error {
	return q.enqueue(ctx, TypeSignupRequested, o)
}

func (q *QueueNotifier) SignupCancelled(ctx context.Context, o model.CancelOutcome) error {
	return q.enqueue(ctx, TypeSignupCancelled, o)
}

func (q *QueueNotifier) SignupPromoted(ctx context.Context, s model.Signup) error {
	return q.enqueue(ctx, TypeSignupPromoted, s)
}

func (q *QueueNotifier) EventPublished(ctx context.Context, e model.Event) error {
	return q.enqueue(ctx, TypeEventPublished, e)
}

// EventReminder enqueues at most one reminder task per event.
func (q *QueueNotifier) EventReminder(ctx context.Context, e model.Event, active []model.Signup) error {
	return q.enqueue(ctx, TypeEventReminder, reminderPayload(e, active), asynq.TaskID(TypeEventReminder+":"+e.ID))
}

// Close closes the asynq client.
func (q *QueueNotifier) Close() error {
	return q.client.Close()
}
