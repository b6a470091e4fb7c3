package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/hackletloose/hall-events/internal/config"
	"github.com/hackletloose/hall-events/internal/model"
	"github.com/hackletloose/hall-events/internal/service"
	"github.com/hackletloose/hall-events/pkg/logger"
	"github.com/hibiken/asynq"
)

// Worker consumes the notifications queue and hands each decoded outcome to
// a delivery Notifier.
type Worker struct {
	server  *asynq.Server
	mux     *asynq.ServeMux
	mu      sync.Mutex
	running bool
}

// NewWorker returns nil when Redis is disabled.
func NewWorker(cfg config.RedisConfig, deliver service.Notifier) *Worker {
	if !cfg.Enabled {
		return nil
	}
	server := asynq.NewServer(RedisOpt(cfg), asynq.Config{
		Concurrency: 4,
		Queues:      map[string]int{QueueName: 1},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			logger.Warn().Err(err).Str("type", task.Type()).Msg("notification task failed")
		}),
	})
	return &Worker{server: server, mux: NewServeMux(deliver)}
}

// NewServeMux routes every notification task type to deliver.
func NewServeMux(deliver service.Notifier) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeSignupRequested, func(ctx context.Context, t *asynq.Task) error {
		var o model.SignupOutcome
		if err := decode(t, &o); err != nil {
			return err
		}
		return deliver.SignupRequested(ctx, o)
	})
	mux.HandleFunc(TypeSignupCancelled, func(ctx context.Context, t *asynq.Task) error {
		var o model.CancelOutcome
		if err := decode(t, &o); err != nil {
			return err
		}
		return deliver.SignupCancelled(ctx, o)
	})
	mux.HandleFunc(TypeSignupPromoted, func(ctx context.Context, t *asynq.Task) error {
		var s model.Signup
		if err := decode(t, &s); err != nil {
			return err
		}
		return deliver.SignupPromoted(ctx, s)
	})
	mux.HandleFunc(TypeEventPublished, func(ctx context.Context, t *asynq.Task) error {
		var e model.Event
		if err := decode(t, &e); err != nil {
			return err
		}
		return deliver.EventPublished(ctx, e)
	})
	mux.HandleFunc(TypeEventReminder, func(ctx context.Context, t *asynq.Task) error {
		var p ReminderPayload
		if err := decode(t, &p); err != nil {
			return err
		}
		p.Event.Password = p.Password
		active := make([]model.Signup, 0, len(p.Recipients))
		for _, su := range p.Recipients {
			if su.Status == model.StatusActive && su.UserID != "" {
				active = append(active, su)
			}
		}
		return deliver.EventReminder(ctx, p.Event, active)
	})
	return mux
}

// decode fails with SkipRetry: a malformed payload never succeeds.
func decode(t *asynq.Task, v any) error {
	if err := json.Unmarshal(t.Payload(), v); err != nil {
		return fmt.Errorf("decode %s: %v: %w", t.Type(), err, asynq.SkipRetry)
	}
	return nil
}

// Start begins processing tasks in the background.
func (w *Worker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}
	if err := w.server.Start(w.mux); err != nil {
		return fmt.Errorf("start notification worker: %w", err)
	}
	w.running = true
	logger.Info().Str("queue", QueueName).Msg("notification worker started")
	return nil
}

// Stop waits for in-flight tasks and shuts the worker down.
func (w *Worker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	w.server.Shutdown()
	w.running = false
	logger.Info().Msg("notification worker shutdown complete")
}
