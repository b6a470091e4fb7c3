// Package repository defines the storage contract for events and the signup
// ledger. Implementations live in the postgres and sqlite subpackages.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hackletloose/hall-events/internal/model"
)

// ErrEventNotFound is returned when a referenced event does not exist.
var ErrEventNotFound = errors.New("event not found")

// ErrAlreadySignedUp is returned when the user already holds an active or
// waiting signup for the event.
var ErrAlreadySignedUp = errors.New("user already signed up for this event")

// ErrNotActivelySignedUp is returned when a cancel finds no matching signup.
var ErrNotActivelySignedUp = errors.New("user is not actively signed up")

// ErrStatusConflict is returned when a conditional status transition found
// the signup in a different state than expected.
var ErrStatusConflict = errors.New("signup status changed concurrently")

// ErrInvalidTransition is returned for a status change the signup lifecycle
// never allows, such as leaving cancelled.
var ErrInvalidTransition = errors.New("invalid signup status transition")

// EventStore persists event configuration.
type EventStore interface {
	CreateEvent(ctx context.Context, event *model.Event) error
	GetEvent(ctx context.Context, id string) (*model.Event, error)
	// ListEvents returns all events, newest start first.
	ListEvents(ctx context.Context) ([]model.Event, error)
	// DeleteEvent removes the event and all of its signups.
	DeleteEvent(ctx context.Context, id string) error
	// ListRecurrencesDue returns recurring events that started before now and
	// have not spawned their successor yet.
	ListRecurrencesDue(ctx context.Context, now time.Time) ([]model.Event, error)
	// ListRemindersDue returns events starting within [from, to] whose
	// reminder has not been sent.
	ListRemindersDue(ctx context.Context, from, to time.Time) ([]model.Event, error)
	MarkReminderSent(ctx context.Context, id string) error
}

// SignupReader is the read-only view of the ledger used by the query layer.
// Reads only observe committed transactions.
type SignupReader interface {
	// ListSignups returns the event's signups in ascending id order. An empty
	// status returns every entry.
	ListSignups(ctx context.Context, eventID string, status model.Status) ([]model.Signup, error)
	CountActive(ctx context.Context, eventID string, side model.Side, role model.Role) (int, error)
	HasOpenSignup(ctx context.Context, eventID, userID string) (bool, error)
}

// Tx is a unit of work over the ledger. Every method call inside one Tx
// commits or rolls back together.
type Tx interface {
	// LockEvent loads the event and holds it exclusively until the Tx ends.
	// All ledger mutations for an event go through its lock.
	LockEvent(ctx context.Context, id string) (*model.Event, error)
	CreateEvent(ctx context.Context, event *model.Event) error
	UpdateEvent(ctx context.Context, event *model.Event) error
	MarkSpawned(ctx context.Context, id string) error

	CountActive(ctx context.Context, eventID string, side model.Side, role model.Role) (int, error)
	// OpenSignup returns the user's active or waiting signup for the event,
	// or nil when there is none.
	OpenSignup(ctx context.Context, eventID, userID string) (*model.Signup, error)
	// LatestActiveSignup returns the user's highest-id active signup across
	// all events, or nil.
	LatestActiveSignup(ctx context.Context, userID string) (*model.Signup, error)
	// OldestWaiting returns the lowest-id waiting signup in the bucket, or nil.
	OldestWaiting(ctx context.Context, eventID string, side model.Side, role model.Role) (*model.Signup, error)
	// InsertSignup appends the signup and fills in its ID and CreatedAt.
	InsertSignup(ctx context.Context, signup *model.Signup) error
	// TransitionSignup moves the signup from one status to another and
	// returns ErrStatusConflict when it was not in the from state. Moves that
	// model.Status.CanTransition rejects fail with ErrInvalidTransition.
	TransitionSignup(ctx context.Context, id int64, from, to model.Status) error
}

// Store is the full storage backend.
type Store interface {
	EventStore
	SignupReader
	// WithTx runs fn in a transaction. The transaction commits when fn
	// returns nil and rolls back otherwise.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}
