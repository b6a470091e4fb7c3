// Package storetest holds the behaviour every repository.Store must share.
// Backend packages run it from their own tests.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hackletloose/hall-events/internal/model"
	"github.com/hackletloose/hall-events/internal/repository"
)

// Run exercises store against the shared contract. newStore must return an
// empty store.
func Run(t *testing.T, newStore func(t *testing.T) repository.Store) {
	t.Run("EventRoundTrip", func(t *testing.T) { testEventRoundTrip(t, newStore(t)) })
	t.Run("SignupLedger", func(t *testing.T) { testSignupLedger(t, newStore(t)) })
	t.Run("OneOpenSignupPerUser", func(t *testing.T) { testOneOpenSignup(t, newStore(t)) })
	t.Run("TransitionConflict", func(t *testing.T) { testTransitionConflict(t, newStore(t)) })
	t.Run("CancelledIsTerminal", func(t *testing.T) { testCancelledIsTerminal(t, newStore(t)) })
	t.Run("RollbackOnError", func(t *testing.T) { testRollback(t, newStore(t)) })
	t.Run("DeleteCascades", func(t *testing.T) { testDeleteCascades(t, newStore(t)) })
	t.Run("DueQueries", func(t *testing.T) { testDueQueries(t, newStore(t)) })
}

func newEvent(start time.Time) *model.Event {
	briefing := start.Add(-time.Hour)
	return &model.Event{
		ID:          uuid.New().String(),
		Name:        "Foy",
		Description: "Weekly scrim",
		ServerInfo:  "eu-1",
		Password:    "pw",
		Squads: model.SquadConfig{
			Allies: model.SideConfig{InfantrySquads: 2, TankSquads: 1, Commanders: 1},
			Axis:   model.SideConfig{SniperSquads: 1, Commanders: 1},
		},
		BriefingAt: &briefing,
		StartsAt:   start,
		Recurrence: model.RecurrenceWeekly,
		CreatedAt:  time.Now().UTC(),
	}
}

func mustCreate(t *testing.T, store repository.Store, e *model.Event) {
	t.Helper()
	if err := store.CreateEvent(context.Background(), e); err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}
}

func insert(t *testing.T, store repository.Store, s model.Signup) model.Signup {
	t.Helper()
	err := store.WithTx(context.Background(), func(tx repository.Tx) error {
		return tx.InsertSignup(context.Background(), &s)
	})
	if err != nil {
		t.Fatalf("InsertSignup(%s): %v", s.UserID, err)
	}
	return s
}

func testEventRoundTrip(t *testing.T, store repository.Store) {
	ctx := context.Background()
	start := time.Now().Add(48 * time.Hour).Truncate(time.Second).UTC()
	e := newEvent(start)
	mustCreate(t, store, e)

	got, err := store.GetEvent(ctx, e.ID)
	if err != nil {
		t.Fatalf("GetEvent: %v", err)
	}
	if got.Name != e.Name || got.Password != "pw" || got.Squads != e.Squads || got.Recurrence != e.Recurrence {
		t.Errorf("event = %+v, want %+v", got, e)
	}
	if !got.StartsAt.Equal(start) || got.BriefingAt == nil || !got.BriefingAt.Equal(*e.BriefingAt) {
		t.Errorf("times = %v / %v", got.StartsAt, got.BriefingAt)
	}
	if got.GameStartsAt != nil {
		t.Errorf("game start = %v, want nil", got.GameStartsAt)
	}

	if _, err := store.GetEvent(ctx, "missing"); !errors.Is(err, repository.ErrEventNotFound) {
		t.Errorf("missing event err = %v, want ErrEventNotFound", err)
	}

	got.Name = "Foy (rescheduled)"
	got.Squads.Axis.Commanders = 2
	err = store.WithTx(ctx, func(tx repository.Tx) error {
		if _, err := tx.LockEvent(ctx, got.ID); err != nil {
			return err
		}
		return tx.UpdateEvent(ctx, got)
	})
	if err != nil {
		t.Fatalf("UpdateEvent: %v", err)
	}
	again, _ := store.GetEvent(ctx, e.ID)
	if again.Name != "Foy (rescheduled)" || again.Squads.Axis.Commanders != 2 {
		t.Errorf("updated event = %+v", again)
	}

	later := newEvent(start.Add(time.Hour))
	mustCreate(t, store, later)
	events, err := store.ListEvents(ctx)
	if err != nil || len(events) != 2 || events[0].ID != later.ID {
		t.Errorf("ListEvents = %d events, %v; want newest start first", len(events), err)
	}
}

func testSignupLedger(t *testing.T, store repository.Store) {
	ctx := context.Background()
	e := newEvent(time.Now().Add(time.Hour))
	mustCreate(t, store, e)

	a := insert(t, store, model.Signup{EventID: e.ID, UserID: "a", DisplayName: "A", Side: model.SideAllies, Role: model.RoleTank, Status: model.StatusActive})
	b := insert(t, store, model.Signup{EventID: e.ID, UserID: "b", DisplayName: "B", Side: model.SideAllies, Role: model.RoleTank, Status: model.StatusWaiting})
	c := insert(t, store, model.Signup{EventID: e.ID, UserID: "c", DisplayName: "C", Side: model.SideAllies, Role: model.RoleTank, Status: model.StatusWaiting})
	if !(a.ID < b.ID && b.ID < c.ID) {
		t.Fatalf("ids not increasing: %d %d %d", a.ID, b.ID, c.ID)
	}

	n, err := store.CountActive(ctx, e.ID, model.SideAllies, model.RoleTank)
	if err != nil || n != 1 {
		t.Errorf("CountActive = %d, %v; want 1", n, err)
	}
	if ok, _ := store.HasOpenSignup(ctx, e.ID, "c"); !ok {
		t.Error("c should hold an open signup")
	}

	err = store.WithTx(ctx, func(tx repository.Tx) error {
		oldest, err := tx.OldestWaiting(ctx, e.ID, model.SideAllies, model.RoleTank)
		if err != nil {
			return err
		}
		if oldest == nil || oldest.ID != b.ID {
			t.Errorf("OldestWaiting = %+v, want %d", oldest, b.ID)
		}
		latest, err := tx.LatestActiveSignup(ctx, "a")
		if err != nil {
			return err
		}
		if latest == nil || latest.ID != a.ID {
			t.Errorf("LatestActiveSignup = %+v, want %d", latest, a.ID)
		}
		none, err := tx.OpenSignup(ctx, e.ID, "zed")
		if err != nil {
			return err
		}
		if none != nil {
			t.Errorf("OpenSignup(zed) = %+v, want nil", none)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithTx: %v", err)
	}

	all, _ := store.ListSignups(ctx, e.ID, "")
	waiting, _ := store.ListSignups(ctx, e.ID, model.StatusWaiting)
	if len(all) != 3 || len(waiting) != 2 || waiting[0].ID != b.ID {
		t.Errorf("ListSignups all=%d waiting=%+v", len(all), waiting)
	}
}

func testOneOpenSignup(t *testing.T, store repository.Store) {
	ctx := context.Background()
	e := newEvent(time.Now().Add(time.Hour))
	mustCreate(t, store, e)

	first := insert(t, store, model.Signup{EventID: e.ID, UserID: "u", DisplayName: "U", Side: model.SideAxis, Role: model.RoleSniper, Status: model.StatusActive})
	err := store.WithTx(ctx, func(tx repository.Tx) error {
		return tx.InsertSignup(ctx, &model.Signup{EventID: e.ID, UserID: "u", DisplayName: "U", Side: model.SideAllies, Role: model.RoleTank, Status: model.StatusWaiting})
	})
	if !errors.Is(err, repository.ErrAlreadySignedUp) {
		t.Fatalf("second open signup err = %v, want ErrAlreadySignedUp", err)
	}

	err = store.WithTx(ctx, func(tx repository.Tx) error {
		return tx.TransitionSignup(ctx, first.ID, model.StatusActive, model.StatusCancelled)
	})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	insert(t, store, model.Signup{EventID: e.ID, UserID: "u", DisplayName: "U", Side: model.SideAllies, Role: model.RoleTank, Status: model.StatusActive})

	err = store.WithTx(ctx, func(tx repository.Tx) error {
		return tx.InsertSignup(ctx, &model.Signup{EventID: "missing", UserID: "v", DisplayName: "V", Side: model.SideAllies, Role: model.RoleTank, Status: model.StatusActive})
	})
	if !errors.Is(err, repository.ErrEventNotFound) {
		t.Errorf("orphan signup err = %v, want ErrEventNotFound", err)
	}
}

func testTransitionConflict(t *testing.T, store repository.Store) {
	ctx := context.Background()
	e := newEvent(time.Now().Add(time.Hour))
	mustCreate(t, store, e)
	s := insert(t, store, model.Signup{EventID: e.ID, UserID: "u", DisplayName: "U", Side: model.SideAllies, Role: model.RoleCommander, Status: model.StatusWaiting})

	err := store.WithTx(ctx, func(tx repository.Tx) error {
		return tx.TransitionSignup(ctx, s.ID, model.StatusActive, model.StatusCancelled)
	})
	if !errors.Is(err, repository.ErrStatusConflict) {
		t.Errorf("wrong from-state err = %v, want ErrStatusConflict", err)
	}
	waiting, _ := store.ListSignups(ctx, e.ID, model.StatusWaiting)
	if len(waiting) != 1 {
		t.Errorf("signup left waiting = %d, want 1", len(waiting))
	}
}

func testCancelledIsTerminal(t *testing.T, store repository.Store) {
	ctx := context.Background()
	e := newEvent(time.Now().Add(time.Hour))
	mustCreate(t, store, e)
	s := insert(t, store, model.Signup{EventID: e.ID, UserID: "u", DisplayName: "U", Side: model.SideAllies, Role: model.RoleCommander, Status: model.StatusCancelled})

	for _, to := range []model.Status{model.StatusActive, model.StatusWaiting} {
		err := store.WithTx(ctx, func(tx repository.Tx) error {
			return tx.TransitionSignup(ctx, s.ID, model.StatusCancelled, to)
		})
		if !errors.Is(err, repository.ErrInvalidTransition) {
			t.Errorf("cancelled -> %s err = %v, want ErrInvalidTransition", to, err)
		}
	}
	active := insert(t, store, model.Signup{EventID: e.ID, UserID: "v", DisplayName: "V", Side: model.SideAllies, Role: model.RoleCommander, Status: model.StatusActive})
	err := store.WithTx(ctx, func(tx repository.Tx) error {
		return tx.TransitionSignup(ctx, active.ID, model.StatusActive, model.StatusWaiting)
	})
	if !errors.Is(err, repository.ErrInvalidTransition) {
		t.Errorf("active -> waiting err = %v, want ErrInvalidTransition", err)
	}

	all, err := store.ListSignups(ctx, e.ID, "")
	if err != nil {
		t.Fatalf("ListSignups: %v", err)
	}
	for _, got := range all {
		if got.ID == s.ID && got.Status != model.StatusCancelled {
			t.Errorf("cancelled signup became %s", got.Status)
		}
		if got.ID == active.ID && got.Status != model.StatusActive {
			t.Errorf("active signup became %s", got.Status)
		}
	}
}

func testRollback(t *testing.T, store repository.Store) {
	ctx := context.Background()
	e := newEvent(time.Now().Add(time.Hour))
	mustCreate(t, store, e)

	boom := errors.New("boom")
	err := store.WithTx(ctx, func(tx repository.Tx) error {
		if err := tx.InsertSignup(ctx, &model.Signup{EventID: e.ID, UserID: "u", DisplayName: "U", Side: model.SideAllies, Role: model.RoleTank, Status: model.StatusActive}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithTx err = %v, want boom", err)
	}
	if all, _ := store.ListSignups(ctx, e.ID, ""); len(all) != 0 {
		t.Errorf("rolled back insert is visible: %+v", all)
	}
}

func testDeleteCascades(t *testing.T, store repository.Store) {
	ctx := context.Background()
	e := newEvent(time.Now().Add(time.Hour))
	mustCreate(t, store, e)
	insert(t, store, model.Signup{EventID: e.ID, UserID: "u", DisplayName: "U", Side: model.SideAllies, Role: model.RoleTank, Status: model.StatusActive})

	if err := store.DeleteEvent(ctx, e.ID); err != nil {
		t.Fatalf("DeleteEvent: %v", err)
	}
	if ok, _ := store.HasOpenSignup(ctx, e.ID, "u"); ok {
		t.Error("signup survived event deletion")
	}
	if err := store.DeleteEvent(ctx, e.ID); !errors.Is(err, repository.ErrEventNotFound) {
		t.Errorf("second delete err = %v, want ErrEventNotFound", err)
	}
}

func testDueQueries(t *testing.T, store repository.Store) {
	ctx := context.Background()
	now := time.Now().UTC()

	past := newEvent(now.Add(-time.Hour))
	once := newEvent(now.Add(-time.Hour))
	once.Recurrence = model.RecurrenceNone
	tomorrow := newEvent(now.Add(24 * time.Hour))
	for _, e := range []*model.Event{past, once, tomorrow} {
		mustCreate(t, store, e)
	}

	due, err := store.ListRecurrencesDue(ctx, now)
	if err != nil || len(due) != 1 || due[0].ID != past.ID {
		t.Fatalf("ListRecurrencesDue = %+v, %v; want only %s", due, err, past.ID)
	}
	err = store.WithTx(ctx, func(tx repository.Tx) error { return tx.MarkSpawned(ctx, past.ID) })
	if err != nil {
		t.Fatalf("MarkSpawned: %v", err)
	}
	if due, _ := store.ListRecurrencesDue(ctx, now); len(due) != 0 {
		t.Errorf("spawned event still due: %+v", due)
	}

	from, to := now.Add(23*time.Hour+45*time.Minute), now.Add(24*time.Hour+15*time.Minute)
	reminders, err := store.ListRemindersDue(ctx, from, to)
	if err != nil || len(reminders) != 1 || reminders[0].ID != tomorrow.ID {
		t.Fatalf("ListRemindersDue = %+v, %v; want only %s", reminders, err, tomorrow.ID)
	}
	if err := store.MarkReminderSent(ctx, tomorrow.ID); err != nil {
		t.Fatalf("MarkReminderSent: %v", err)
	}
	if reminders, _ := store.ListRemindersDue(ctx, from, to); len(reminders) != 0 {
		t.Errorf("reminded event still due: %+v", reminders)
	}
}
