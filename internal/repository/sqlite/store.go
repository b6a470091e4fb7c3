// Package sqlite provides a SQLite-backed event and signup ledger.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hackletloose/hall-events/internal/model"
	"github.com/hackletloose/hall-events/internal/repository"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

// Store persists events and signups in SQLite. The handle must come from
// database.OpenSQLite so the schema exists and writes are serialised.
type Store struct {
	sqlDB *sql.DB
}

var _ repository.Store = (*Store)(nil)

// New wraps an open SQLite handle.
func New(sqlDB *sql.DB) *Store {
	return &Store{sqlDB: sqlDB}
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// WithTx runs fn in a transaction. The handle has a single connection, so the
// transaction excludes every other reader and writer until it ends.
func (s *Store) WithTx(ctx context.Context, fn func(tx repository.Tx) error) (err error) {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(&sqliteTx{tx: tx}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

func toNullMillis(value *time.Time) sql.NullInt64 {
	if value == nil || value.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*value), Valid: true}
}

func fromNullMillis(value sql.NullInt64) *time.Time {
	if !value.Valid {
		return nil
	}
	t := fromMillis(value.Int64)
	return &t
}

// isConstraint reports whether err is the given extended constraint
// violation. Connections without extended result codes only report
// SQLITE_CONSTRAINT, so the message is checked as well.
func isConstraint(err error, code int, marker string) bool {
	var sqliteErr *msqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() {
	case code:
		return true
	case sqlite3lib.SQLITE_CONSTRAINT:
		return strings.Contains(sqliteErr.Error(), marker)
	}
	return false
}

// ─── Events ───────────────────────────────────────────────────────────────────

const eventColumns = `id, name, description, server_info, password,
	infantry_squads_allies, tank_squads_allies, sniper_squads_allies, commanders_allies,
	infantry_squads_axis, tank_squads_axis, sniper_squads_axis, commanders_axis,
	briefing_at, starts_at, game_starts_at, recurrence, spawned_next, reminder_sent,
	created_at, updated_at`

func scanEvent(row scanner) (*model.Event, error) {
	var (
		e                          model.Event
		recurrence                 string
		briefingAt, gameStartsAt   sql.NullInt64
		startsAt, created, updated int64
	)
	err := row.Scan(
		&e.ID, &e.Name, &e.Description, &e.ServerInfo, &e.Password,
		&e.Squads.Allies.InfantrySquads, &e.Squads.Allies.TankSquads, &e.Squads.Allies.SniperSquads, &e.Squads.Allies.Commanders,
		&e.Squads.Axis.InfantrySquads, &e.Squads.Axis.TankSquads, &e.Squads.Axis.SniperSquads, &e.Squads.Axis.Commanders,
		&briefingAt, &startsAt, &gameStartsAt, &recurrence, &e.SpawnedNext, &e.ReminderSent,
		&created, &updated,
	)
	if err != nil {
		return nil, err
	}
	e.Recurrence = model.Recurrence(recurrence)
	e.BriefingAt = fromNullMillis(briefingAt)
	e.StartsAt = fromMillis(startsAt)
	e.GameStartsAt = fromNullMillis(gameStartsAt)
	e.CreatedAt = fromMillis(created)
	e.UpdatedAt = fromMillis(updated)
	return &e, nil
}

func queryEvents(ctx context.Context, q querier, query string, args ...any) ([]model.Event, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
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

func getEvent(ctx context.Context, q querier, id string) (*model.Event, error) {
	e, err := scanEvent(q.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrEventNotFound
		}
		return nil, fmt.Errorf("get event: %w", err)
	}
	return e, nil
}

func insertEvent(ctx context.Context, q querier, e *model.Event) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	// Round-trip through millis so the caller's copy matches what is stored.
	e.CreatedAt = fromMillis(toMillis(e.CreatedAt))
	e.UpdatedAt = e.CreatedAt
	_, err := q.ExecContext(ctx,
		`INSERT INTO events (`+eventColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Name, e.Description, e.ServerInfo, e.Password,
		e.Squads.Allies.InfantrySquads, e.Squads.Allies.TankSquads, e.Squads.Allies.SniperSquads, e.Squads.Allies.Commanders,
		e.Squads.Axis.InfantrySquads, e.Squads.Axis.TankSquads, e.Squads.Axis.SniperSquads, e.Squads.Axis.Commanders,
		toNullMillis(e.BriefingAt), toMillis(e.StartsAt), toNullMillis(e.GameStartsAt),
		string(e.Recurrence), e.SpawnedNext, e.ReminderSent,
		toMillis(e.CreatedAt), toMillis(e.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// CreateEvent inserts one event.
func (s *Store) CreateEvent(ctx context.Context, e *model.Event) error {
	return insertEvent(ctx, s.sqlDB, e)
}

// GetEvent returns a single event or ErrEventNotFound.
func (s *Store) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	return getEvent(ctx, s.sqlDB, id)
}

// ListEvents returns all events, newest start first.
func (s *Store) ListEvents(ctx context.Context) ([]model.Event, error) {
	events, err := queryEvents(ctx, s.sqlDB,
		`SELECT `+eventColumns+` FROM events ORDER BY starts_at DESC, created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return events, nil
}

// DeleteEvent removes the event and its signups in one transaction.
func (s *Store) DeleteEvent(ctx context.Context, id string) (err error) {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM signups WHERE event_id = ?`, id); err != nil {
		return fmt.Errorf("delete signups: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	if err = requireRow(res, repository.ErrEventNotFound); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// ListRecurrencesDue returns recurring events that started before now and
// still need a successor.
func (s *Store) ListRecurrencesDue(ctx context.Context, now time.Time) ([]model.Event, error) {
	events, err := queryEvents(ctx, s.sqlDB,
		`SELECT `+eventColumns+`
		 FROM events
		 WHERE starts_at < ?
		   AND recurrence <> 'none'
		   AND spawned_next = 0
		 ORDER BY starts_at ASC`,
		toMillis(now),
	)
	if err != nil {
		return nil, fmt.Errorf("list due recurrences: %w", err)
	}
	return events, nil
}

// ListRemindersDue returns events starting in [from, to] without a reminder.
func (s *Store) ListRemindersDue(ctx context.Context, from, to time.Time) ([]model.Event, error) {
	events, err := queryEvents(ctx, s.sqlDB,
		`SELECT `+eventColumns+`
		 FROM events
		 WHERE starts_at BETWEEN ? AND ?
		   AND reminder_sent = 0
		 ORDER BY starts_at ASC`,
		toMillis(from), toMillis(to),
	)
	if err != nil {
		return nil, fmt.Errorf("list due reminders: %w", err)
	}
	return events, nil
}

// MarkReminderSent flags the event so the reminder is not sent twice.
func (s *Store) MarkReminderSent(ctx context.Context, id string) error {
	res, err := s.sqlDB.ExecContext(ctx,
		`UPDATE events SET reminder_sent = 1, updated_at = ? WHERE id = ?`,
		toMillis(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("mark reminder sent: %w", err)
	}
	return requireRow(res, repository.ErrEventNotFound)
}

func requireRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

// ─── Signups ──────────────────────────────────────────────────────────────────

const signupColumns = `id, event_id, user_id, display_name, side, role, status, created_at`

func scanSignup(row scanner) (*model.Signup, error) {
	var (
		s                  model.Signup
		side, role, status string
		created            int64
	)
	if err := row.Scan(&s.ID, &s.EventID, &s.UserID, &s.DisplayName, &side, &role, &status, &created); err != nil {
		return nil, err
	}
	s.Side = model.Side(side)
	s.Role = model.Role(role)
	s.Status = model.Status(status)
	s.CreatedAt = fromMillis(created)
	return &s, nil
}

// querySignup returns nil, nil when the query yields no row.
func querySignup(ctx context.Context, q querier, query string, args ...any) (*model.Signup, error) {
	s, err := scanSignup(q.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return s, nil
}

func countActive(ctx context.Context, q querier, eventID string, side model.Side, role model.Role) (int, error) {
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM signups
		 WHERE event_id = ? AND side = ? AND role = ? AND status = 'active'`,
		eventID, string(side), string(role),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active signups: %w", err)
	}
	return n, nil
}

// ListSignups returns the event's signups in join order.
func (s *Store) ListSignups(ctx context.Context, eventID string, status model.Status) ([]model.Signup, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT `+signupColumns+`
		 FROM signups
		 WHERE event_id = ? AND (? = '' OR status = ?)
		 ORDER BY id ASC`,
		eventID, string(status), string(status),
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
	return countActive(ctx, s.sqlDB, eventID, side, role)
}

// HasOpenSignup reports whether the user holds an active or waiting signup.
func (s *Store) HasOpenSignup(ctx context.Context, eventID, userID string) (bool, error) {
	var exists bool
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM signups
		   WHERE event_id = ? AND user_id = ? AND status IN ('active', 'waiting')
		 )`,
		eventID, userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check open signup: %w", err)
	}
	return exists, nil
}

// ─── Transaction ──────────────────────────────────────────────────────────────

type sqliteTx struct {
	tx *sql.Tx
}

// LockEvent reads the event. The single-connection handle already makes the
// transaction exclusive.
func (t *sqliteTx) LockEvent(ctx context.Context, id string) (*model.Event, error) {
	return getEvent(ctx, t.tx, id)
}

func (t *sqliteTx) CreateEvent(ctx context.Context, e *model.Event) error {
	return insertEvent(ctx, t.tx, e)
}

func (t *sqliteTx) UpdateEvent(ctx context.Context, e *model.Event) error {
	e.UpdatedAt = fromMillis(toMillis(time.Now()))
	res, err := t.tx.ExecContext(ctx,
		`UPDATE events SET
		   name = ?, description = ?, server_info = ?, password = ?,
		   infantry_squads_allies = ?, tank_squads_allies = ?, sniper_squads_allies = ?, commanders_allies = ?,
		   infantry_squads_axis = ?, tank_squads_axis = ?, sniper_squads_axis = ?, commanders_axis = ?,
		   briefing_at = ?, starts_at = ?, game_starts_at = ?, recurrence = ?,
		   reminder_sent = ?, updated_at = ?
		 WHERE id = ?`,
		e.Name, e.Description, e.ServerInfo, e.Password,
		e.Squads.Allies.InfantrySquads, e.Squads.Allies.TankSquads, e.Squads.Allies.SniperSquads, e.Squads.Allies.Commanders,
		e.Squads.Axis.InfantrySquads, e.Squads.Axis.TankSquads, e.Squads.Axis.SniperSquads, e.Squads.Axis.Commanders,
		toNullMillis(e.BriefingAt), toMillis(e.StartsAt), toNullMillis(e.GameStartsAt), string(e.Recurrence),
		e.ReminderSent, toMillis(e.UpdatedAt),
		e.ID,
	)
	if err != nil {
		return fmt.Errorf("update event: %w", err)
	}
	return requireRow(res, repository.ErrEventNotFound)
}

func (t *sqliteTx) MarkSpawned(ctx context.Context, id string) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE events SET spawned_next = 1, updated_at = ? WHERE id = ?`,
		toMillis(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("mark event spawned: %w", err)
	}
	return nil
}

func (t *sqliteTx) CountActive(ctx context.Context, eventID string, side model.Side, role model.Role) (int, error) {
	return countActive(ctx, t.tx, eventID, side, role)
}

func (t *sqliteTx) OpenSignup(ctx context.Context, eventID, userID string) (*model.Signup, error) {
	s, err := querySignup(ctx, t.tx,
		`SELECT `+signupColumns+`
		 FROM signups
		 WHERE event_id = ? AND user_id = ? AND status IN ('active', 'waiting')
		 ORDER BY id DESC
		 LIMIT 1`,
		eventID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("find open signup: %w", err)
	}
	return s, nil
}

func (t *sqliteTx) LatestActiveSignup(ctx context.Context, userID string) (*model.Signup, error) {
	s, err := querySignup(ctx, t.tx,
		`SELECT `+signupColumns+`
		 FROM signups
		 WHERE user_id = ? AND status = 'active'
		 ORDER BY id DESC
		 LIMIT 1`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("find latest active signup: %w", err)
	}
	return s, nil
}

func (t *sqliteTx) OldestWaiting(ctx context.Context, eventID string, side model.Side, role model.Role) (*model.Signup, error) {
	s, err := querySignup(ctx, t.tx,
		`SELECT `+signupColumns+`
		 FROM signups
		 WHERE event_id = ? AND side = ? AND role = ? AND status = 'waiting'
		 ORDER BY id ASC
		 LIMIT 1`,
		eventID, string(side), string(role),
	)
	if err != nil {
		return nil, fmt.Errorf("find oldest waiting signup: %w", err)
	}
	return s, nil
}

func (t *sqliteTx) InsertSignup(ctx context.Context, s *model.Signup) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	s.CreatedAt = fromMillis(toMillis(s.CreatedAt))
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO signups (event_id, user_id, display_name, side, role, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.EventID, s.UserID, s.DisplayName, string(s.Side), string(s.Role), string(s.Status), toMillis(s.CreatedAt),
	)
	if err != nil {
		switch {
		case isConstraint(err, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE, "UNIQUE"):
			return repository.ErrAlreadySignedUp
		case isConstraint(err, sqlite3lib.SQLITE_CONSTRAINT_FOREIGNKEY, "FOREIGN KEY"):
			return repository.ErrEventNotFound
		}
		return fmt.Errorf("insert signup: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("signup id: %w", err)
	}
	s.ID = id
	return nil
}

func (t *sqliteTx) TransitionSignup(ctx context.Context, id int64, from, to model.Status) error {
	if !from.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", repository.ErrInvalidTransition, from, to)
	}
	res, err := t.tx.ExecContext(ctx,
		`UPDATE signups SET status = ? WHERE id = ? AND status = ?`,
		string(to), id, string(from),
	)
	if err != nil {
		return fmt.Errorf("update signup status: %w", err)
	}
	return requireRow(res, repository.ErrStatusConflict)
}
