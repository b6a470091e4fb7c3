// Package postgres implements the event and signup ledger on PostgreSQL.
// It uses pgx directly (no ORM).
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hackletloose/hall-events/internal/model"
	"github.com/hackletloose/hall-events/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	openSignupIndex         = "signups_one_open_per_user"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists events and signups in PostgreSQL.
type Store struct {
	db *pgxpool.Pool
}

var _ repository.Store = (*Store)(nil)

// New constructs a Store on an open pool. The schema must already exist
// (see database.MigratePostgres).
func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// Close releases the pool.
func (s *Store) Close() error {
	s.db.Close()
	return nil
}

// WithTx runs fn inside a transaction.
//
// Capacity checks and inserts are serialised per event: Tx.LockEvent takes
// a row-level lock with SELECT ... FOR UPDATE, so a second transaction for
// the same event blocks until the first commits or rolls back. Two requests
// can therefore never both observe the last free slot.
func (s *Store) WithTx(ctx context.Context, fn func(tx repository.Tx) error) (err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// ─── Events ───────────────────────────────────────────────────────────────────

const eventColumns = `id, name, description, server_info, password,
	infantry_squads_allies, tank_squads_allies, sniper_squads_allies, commanders_allies,
	infantry_squads_axis, tank_squads_axis, sniper_squads_axis, commanders_axis,
	briefing_at, starts_at, game_starts_at, recurrence, spawned_next, reminder_sent,
	created_at, updated_at`

func scanEvent(row pgx.Row) (*model.Event, error) {
	var (
		e          model.Event
		recurrence string
	)
	err := row.Scan(
		&e.ID, &e.Name, &e.Description, &e.ServerInfo, &e.Password,
		&e.Squads.Allies.InfantrySquads, &e.Squads.Allies.TankSquads, &e.Squads.Allies.SniperSquads, &e.Squads.Allies.Commanders,
		&e.Squads.Axis.InfantrySquads, &e.Squads.Axis.TankSquads, &e.Squads.Axis.SniperSquads, &e.Squads.Axis.Commanders,
		&e.BriefingAt, &e.StartsAt, &e.GameStartsAt, &recurrence, &e.SpawnedNext, &e.ReminderSent,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Recurrence = model.Recurrence(recurrence)
	return &e, nil
}

func collectEvents(rows pgx.Rows) ([]model.Event, error) {
	defer rows.Close()
	var events []model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, *e)
	}
	return events, rows.Err()
}

func getEvent(ctx context.Context, q querier, id string, lock bool) (*model.Event, error) {
	sql := `SELECT ` + eventColumns + ` FROM events WHERE id = $1`
	if lock {
		sql += ` FOR UPDATE`
	}
	e, err := scanEvent(q.QueryRow(ctx, sql, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrEventNotFound
		}
		return nil, fmt.Errorf("get event: %w", err)
	}
	return e, nil
}

func insertEvent(ctx context.Context, q querier, e *model.Event) error {
	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = e.CreatedAt
	_, err := q.Exec(ctx,
		`INSERT INTO events (`+eventColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11,
		         $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`,
		e.ID, e.Name, e.Description, e.ServerInfo, e.Password,
		e.Squads.Allies.InfantrySquads, e.Squads.Allies.TankSquads, e.Squads.Allies.SniperSquads, e.Squads.Allies.Commanders,
		e.Squads.Axis.InfantrySquads, e.Squads.Axis.TankSquads, e.Squads.Axis.SniperSquads, e.Squads.Axis.Commanders,
		e.BriefingAt, e.StartsAt, e.GameStartsAt, string(e.Recurrence), e.SpawnedNext, e.ReminderSent,
		e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// CreateEvent inserts a new event.
func (s *Store) CreateEvent(ctx context.Context, e *model.Event) error {
	return insertEvent(ctx, s.db, e)
}

// GetEvent returns a single event or ErrEventNotFound.
func (s *Store) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	return getEvent(ctx, s.db, id, false)
}

// ListEvents returns all events ordered by start time descending.
func (s *Store) ListEvents(ctx context.Context) ([]model.Event, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+eventColumns+` FROM events ORDER BY starts_at DESC, created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return collectEvents(rows)
}

// DeleteEvent removes the event; its signups go with it via ON DELETE CASCADE.
func (s *Store) DeleteEvent(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM events WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrEventNotFound
	}
	return nil
}

// ListRecurrencesDue returns recurring events that started before now and
// still need a successor.
func (s *Store) ListRecurrencesDue(ctx context.Context, now time.Time) ([]model.Event, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+eventColumns+`
		 FROM events
		 WHERE starts_at < $1
		   AND recurrence <> 'none'
		   AND spawned_next = FALSE
		 ORDER BY starts_at ASC`,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("list due recurrences: %w", err)
	}
	return collectEvents(rows)
}

// ListRemindersDue returns events starting in [from, to] without a reminder.
func (s *Store) ListRemindersDue(ctx context.Context, from, to time.Time) ([]model.Event, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+eventColumns+`
		 FROM events
		 WHERE starts_at BETWEEN $1 AND $2
		   AND reminder_sent = FALSE
		 ORDER BY starts_at ASC`,
		from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("list due reminders: %w", err)
	}
	return collectEvents(rows)
}

// MarkReminderSent flags the event so the reminder is not sent twice.
func (s *Store) MarkReminderSent(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE events SET reminder_sent = TRUE, updated_at = $2 WHERE id = $1`,
		id, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("mark reminder sent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrEventNotFound
	}
	return nil
}

// ─── Signups ──────────────────────────────────────────────────────────────────

const signupColumns = `id, event_id, user_id, display_name, side, role, status, created_at`

func scanSignup(row pgx.Row) (*model.Signup, error) {
	var (
		s                  model.Signup
		side, role, status string
	)
	if err := row.Scan(&s.ID, &s.EventID, &s.UserID, &s.DisplayName, &side, &role, &status, &s.CreatedAt); err != nil {
		return nil, err
	}
	s.Side = model.Side(side)
	s.Role = model.Role(role)
	s.Status = model.Status(status)
	return &s, nil
}

// querySignup returns nil, nil when the query yields no row.
func querySignup(ctx context.Context, q querier, sql string, args ...any) (*model.Signup, error) {
	s, err := scanSignup(q.QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return s, nil
}

func countActive(ctx context.Context, q querier, eventID string, side model.Side, role model.Role) (int, error) {
	var n int
	err := q.QueryRow(ctx,
		`SELECT COUNT(*) FROM signups
		 WHERE event_id = $1 AND side = $2 AND role = $3 AND status = 'active'`,
		eventID, string(side), string(role),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active signups: %w", err)
	}
	return n, nil
}

// ListSignups returns the event's signups in join order.
func (s *Store) ListSignups(ctx context.Context, eventID string, status model.Status) ([]model.Signup, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+signupColumns+`
		 FROM signups
		 WHERE event_id = $1 AND ($2 = '' OR status = $2)
		 ORDER BY id ASC`,
		eventID, string(status),
	)
	if err != nil {
		return nil, fmt.Errorf("list signups: %w", err)
	}
	defer rows.Close()

	var signups []model.Signup
	for rows.Next() {
		su, err := scanSignup(rows)
		if err != nil {
			return nil, fmt.Errorf("scan signup: %w", err)
		}
		signups = append(signups, *su)
	}
	return signups, rows.Err()
}

// CountActive counts active signups in one bucket.
func (s *Store) CountActive(ctx context.Context, eventID string, side model.Side, role model.Role) (int, error) {
	return countActive(ctx, s.db, eventID, side, role)
}

// HasOpenSignup reports whether the user holds an active or waiting signup.
func (s *Store) HasOpenSignup(ctx context.Context, eventID, userID string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM signups
		   WHERE event_id = $1 AND user_id = $2 AND status IN ('active', 'waiting')
		 )`,
		eventID, userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check open signup: %w", err)
	}
	return exists, nil
}

// ─── Transaction ──────────────────────────────────────────────────────────────

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) LockEvent(ctx context.Context, id string) (*model.Event, error) {
	return getEvent(ctx, t.tx, id, true)
}

func (t *pgTx) CreateEvent(ctx context.Context, e *model.Event) error {
	return insertEvent(ctx, t.tx, e)
}

func (t *pgTx) UpdateEvent(ctx context.Context, e *model.Event) error {
	e.UpdatedAt = time.Now().UTC()
	tag, err := t.tx.Exec(ctx,
		`UPDATE events SET
		   name = $2, description = $3, server_info = $4, password = $5,
		   infantry_squads_allies = $6, tank_squads_allies = $7, sniper_squads_allies = $8, commanders_allies = $9,
		   infantry_squads_axis = $10, tank_squads_axis = $11, sniper_squads_axis = $12, commanders_axis = $13,
		   briefing_at = $14, starts_at = $15, game_starts_at = $16, recurrence = $17,
		   reminder_sent = $18, updated_at = $19
		 WHERE id = $1`,
		e.ID, e.Name, e.Description, e.ServerInfo, e.Password,
		e.Squads.Allies.InfantrySquads, e.Squads.Allies.TankSquads, e.Squads.Allies.SniperSquads, e.Squads.Allies.Commanders,
		e.Squads.Axis.InfantrySquads, e.Squads.Axis.TankSquads, e.Squads.Axis.SniperSquads, e.Squads.Axis.Commanders,
		e.BriefingAt, e.StartsAt, e.GameStartsAt, string(e.Recurrence),
		e.ReminderSent, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrEventNotFound
	}
	return nil
}

func (t *pgTx) MarkSpawned(ctx context.Context, id string) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE events SET spawned_next = TRUE, updated_at = $2 WHERE id = $1`,
		id, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("mark event spawned: %w", err)
	}
	return nil
}

func (t *pgTx) CountActive(ctx context.Context, eventID string, side model.Side, role model.Role) (int, error) {
	return countActive(ctx, t.tx, eventID, side, role)
}

func (t *pgTx) OpenSignup(ctx context.Context, eventID, userID string) (*model.Signup, error) {
	s, err := querySignup(ctx, t.tx,
		`SELECT `+signupColumns+`
		 FROM signups
		 WHERE event_id = $1 AND user_id = $2 AND status IN ('active', 'waiting')
		 ORDER BY id DESC
		 LIMIT 1`,
		eventID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("find open signup: %w", err)
	}
	return s, nil
}

func (t *pgTx) LatestActiveSignup(ctx context.Context, userID string) (*model.Signup, error) {
	s, err := querySignup(ctx, t.tx,
		`SELECT `+signupColumns+`
		 FROM signups
		 WHERE user_id = $1 AND status = 'active'
		 ORDER BY id DESC
		 LIMIT 1`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("find latest active signup: %w", err)
	}
	return s, nil
}

func (t *pgTx) OldestWaiting(ctx context.Context, eventID string, side model.Side, role model.Role) (*model.Signup, error) {
	s, err := querySignup(ctx, t.tx,
		`SELECT `+signupColumns+`
		 FROM signups
		 WHERE event_id = $1 AND side = $2 AND role = $3 AND status = 'waiting'
		 ORDER BY id ASC
		 LIMIT 1`,
		eventID, string(side), string(role),
	)
	if err != nil {
		return nil, fmt.Errorf("find oldest waiting signup: %w", err)
	}
	return s, nil
}

func (t *pgTx) InsertSignup(ctx context.Context, s *model.Signup) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	err := t.tx.QueryRow(ctx,
		`INSERT INTO signups (event_id, user_id, display_name, side, role, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		s.EventID, s.UserID, s.DisplayName, string(s.Side), string(s.Role), string(s.Status), s.CreatedAt,
	).Scan(&s.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch {
			case pgErr.Code == codeUniqueViolation && pgErr.ConstraintName == openSignupIndex:
				return repository.ErrAlreadySignedUp
			case pgErr.Code == codeForeignKeyViolation:
				return repository.ErrEventNotFound
			}
		}
		return fmt.Errorf("insert signup: %w", err)
	}
	return nil
}

func (t *pgTx) TransitionSignup(ctx context.Context, id int64, from, to model.Status) error {
	if !from.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", repository.ErrInvalidTransition, from, to)
	}
	tag, err := t.tx.Exec(ctx,
		`UPDATE signups SET status = $3 WHERE id = $1 AND status = $2`,
		id, string(from), string(to),
	)
	if err != nil {
		return fmt.Errorf("update signup status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrStatusConflict
	}
	return nil
}
