package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hackletloose/hall-events/internal/database"
	"github.com/hackletloose/hall-events/internal/model"
	"github.com/hackletloose/hall-events/internal/repository"
	"github.com/hackletloose/hall-events/internal/repository/sqlite"
)

type recorder struct {
	mu        sync.Mutex
	requested []model.SignupOutcome
	cancelled []model.CancelOutcome
	promoted  []model.Signup
	published []model.Event
	reminders map[string][]model.Signup
	failNext  error
}

func (r *recorder) SignupRequested(_ context.Context, o model.SignupOutcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requested = append(r.requested, o)
	return nil
}

func (r *recorder) SignupCancelled(_ context.Context, o model.CancelOutcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelled = append(r.cancelled, o)
	return nil
}

func (r *recorder) SignupPromoted(_ context.Context, s model.Signup) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.promoted = append(r.promoted, s)
	return nil
}

func (r *recorder) EventPublished(_ context.Context, e model.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.published = append(r.published, e)
	return nil
}

func (r *recorder) EventReminder(_ context.Context, e model.Event, active []model.Signup) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failNext; err != nil {
		r.failNext = nil
		return err
	}
	if r.reminders == nil {
		r.reminders = make(map[string][]model.Signup)
	}
	r.reminders[e.ID] = active
	return nil
}

type fixture struct {
	store   repository.Store
	events  *EventService
	signups *SignupService
	notes   *recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	db, err := database.OpenSQLite(ctx, filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	store := sqlite.New(db)
	t.Cleanup(func() { _ = store.Close() })

	notes := &recorder{}
	return &fixture{
		store:   store,
		events:  NewEventService(store, notes),
		signups: NewSignupService(store, notes),
		notes:   notes,
	}
}

// createEvent stores an event with one tank squad (3 slots) and one
// commander per side, starting a week from now.
func (f *fixture) createEvent(t *testing.T, mutate func(*model.EventInput)) *model.Event {
	t.Helper()
	in := model.EventInput{
		Name:     "Sunday Offensive",
		StartsAt: time.Now().Add(7 * 24 * time.Hour).Truncate(time.Second),
		Squads: model.SquadConfig{
			Allies: model.SideConfig{TankSquads: 1, Commanders: 1},
			Axis:   model.SideConfig{TankSquads: 1, Commanders: 1},
		},
	}
	if mutate != nil {
		mutate(&in)
	}
	event, err := f.events.CreateEvent(context.Background(), in)
	if err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}
	return event
}

func (f *fixture) signup(t *testing.T, eventID, user string, side model.Side, role model.Role) *model.SignupOutcome {
	t.Helper()
	out, err := f.signups.RequestSignup(context.Background(), model.SignupRequest{
		EventID:     eventID,
		UserID:      user,
		DisplayName: "player " + user,
		Side:        side,
		Role:        role,
	})
	if err != nil {
		t.Fatalf("RequestSignup(%s): %v", user, err)
	}
	return out
}

func TestRequestSignupFillsThenQueues(t *testing.T) {
	f := newFixture(t)
	ev := f.createEvent(t, nil)

	want := []model.Status{model.StatusActive, model.StatusActive, model.StatusActive, model.StatusWaiting}
	for i, status := range want {
		out := f.signup(t, ev.ID, fmt.Sprintf("u%d", i), model.SideAllies, model.RoleTank)
		if out.Status != status {
			t.Errorf("signup %d status = %s, want %s", i, out.Status, status)
		}
		if out.Signup.ID == 0 {
			t.Errorf("signup %d has no id", i)
		}
	}

	n, err := f.signups.CountActive(context.Background(), ev.ID, model.SideAllies, model.RoleTank)
	if err != nil || n != 3 {
		t.Fatalf("CountActive = %d, %v; want 3", n, err)
	}
	// The other side's bucket is independent.
	out := f.signup(t, ev.ID, "axis-1", model.SideAxis, model.RoleTank)
	if out.Status != model.StatusActive {
		t.Errorf("axis tank status = %s, want active", out.Status)
	}
	if len(f.notes.requested) != 5 {
		t.Errorf("requested notifications = %d, want 5", len(f.notes.requested))
	}
}

func TestRequestSignupAlreadySignedUp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ev := f.createEvent(t, nil)
	f.signup(t, ev.ID, "alice", model.SideAllies, model.RoleTank)

	before, _ := f.signups.ListSignups(ctx, ev.ID, "")
	_, err := f.signups.RequestSignup(ctx, model.SignupRequest{
		EventID: ev.ID, UserID: "alice", Side: model.SideAxis, Role: model.RoleCommander,
	})
	if !errors.Is(err, repository.ErrAlreadySignedUp) {
		t.Fatalf("err = %v, want ErrAlreadySignedUp", err)
	}
	after, _ := f.signups.ListSignups(ctx, ev.ID, "")
	if len(after) != len(before) {
		t.Errorf("ledger grew from %d to %d", len(before), len(after))
	}

	if _, err := f.signups.CancelEventSignup(ctx, ev.ID, "alice"); err != nil {
		t.Fatalf("CancelEventSignup: %v", err)
	}
	out := f.signup(t, ev.ID, "alice", model.SideAxis, model.RoleCommander)
	if out.Status != model.StatusActive {
		t.Errorf("re-signup status = %s, want active", out.Status)
	}
}

func TestRequestSignupValidation(t *testing.T) {
	f := newFixture(t)
	ev := f.createEvent(t, nil)

	tests := []struct {
		name string
		req  model.SignupRequest
	}{
		{"missing user", model.SignupRequest{EventID: ev.ID, Side: model.SideAllies, Role: model.RoleTank}},
		{"bad side", model.SignupRequest{EventID: ev.ID, UserID: "u", Side: "soviets", Role: model.RoleTank}},
		{"bad role", model.SignupRequest{EventID: ev.ID, UserID: "u", Side: model.SideAllies, Role: "medic"}},
		{"missing event", model.SignupRequest{UserID: "u", Side: model.SideAllies, Role: model.RoleTank}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.signups.RequestSignup(context.Background(), tt.req)
			if !errors.Is(err, ErrInvalidInput) {
				t.Errorf("err = %v, want ErrInvalidInput", err)
			}
		})
	}

	_, err := f.signups.RequestSignup(context.Background(), model.SignupRequest{
		EventID: "missing", UserID: "u", Side: model.SideAllies, Role: model.RoleTank,
	})
	if !errors.Is(err, repository.ErrEventNotFound) {
		t.Errorf("unknown event err = %v, want ErrEventNotFound", err)
	}
}

func TestZeroCapacityRoleGoesToWaitlist(t *testing.T) {
	f := newFixture(t)
	ev := f.createEvent(t, nil)

	out := f.signup(t, ev.ID, "sniper", model.SideAllies, model.RoleSniper)
	if out.Status != model.StatusWaiting || out.Signup.Role != model.RoleWaitlist {
		t.Errorf("outcome = %s/%s, want waiting/waitlist", out.Signup.Role, out.Status)
	}
	out = f.signup(t, ev.ID, "bench", model.SideAxis, model.RoleWaitlist)
	if out.Status != model.StatusWaiting {
		t.Errorf("explicit waitlist status = %s, want waiting", out.Status)
	}
}

func TestCancelPromotesInJoinOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ev := f.createEvent(t, nil)

	f.signup(t, ev.ID, "cmd", model.SideAllies, model.RoleCommander)
	var waiting []int64
	for i := range 3 {
		// Interleave other buckets so the waiting ids are not contiguous.
		f.signup(t, ev.ID, fmt.Sprintf("tank-%d", i), model.SideAxis, model.RoleTank)
		out := f.signup(t, ev.ID, fmt.Sprintf("w%d", i), model.SideAllies, model.RoleCommander)
		waiting = append(waiting, out.Signup.ID)
	}

	leaving := "cmd"
	for i, wantID := range waiting {
		out, err := f.signups.CancelEventSignup(ctx, ev.ID, leaving)
		if err != nil {
			t.Fatalf("cancel %s: %v", leaving, err)
		}
		if out.Promoted == nil || out.Promoted.ID != wantID {
			t.Fatalf("cancel %d promoted %+v, want id %d", i, out.Promoted, wantID)
		}
		if out.Promoted.Status != model.StatusActive {
			t.Errorf("promoted status = %s, want active", out.Promoted.Status)
		}
		leaving = out.Promoted.UserID
	}

	n, _ := f.signups.CountActive(ctx, ev.ID, model.SideAllies, model.RoleCommander)
	if n != 1 {
		t.Errorf("commanders active = %d, want 1", n)
	}
	if len(f.notes.promoted) != len(waiting) {
		t.Errorf("promoted notifications = %d, want %d", len(f.notes.promoted), len(waiting))
	}
}

func TestCancelWaitingDoesNotPromote(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ev := f.createEvent(t, nil)

	f.signup(t, ev.ID, "a", model.SideAllies, model.RoleCommander)
	f.signup(t, ev.ID, "b", model.SideAllies, model.RoleCommander)
	f.signup(t, ev.ID, "c", model.SideAllies, model.RoleCommander)

	out, err := f.signups.CancelEventSignup(ctx, ev.ID, "b")
	if err != nil {
		t.Fatalf("CancelEventSignup: %v", err)
	}
	if out.Cancelled.Status != model.StatusCancelled || out.Promoted != nil {
		t.Errorf("outcome = %+v, want cancelled without promotion", out)
	}
	waiting, _ := f.signups.ListSignups(ctx, ev.ID, model.StatusWaiting)
	if len(waiting) != 1 || waiting[0].UserID != "c" {
		t.Errorf("waiting = %+v, want only c", waiting)
	}
}

func TestCancelSignupTargetsLatestActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.createEvent(t, nil)
	second := f.createEvent(t, nil)

	f.signup(t, first.ID, "alice", model.SideAllies, model.RoleTank)
	f.signup(t, second.ID, "alice", model.SideAxis, model.RoleTank)

	out, err := f.signups.CancelSignup(ctx, "alice")
	if err != nil {
		t.Fatalf("CancelSignup: %v", err)
	}
	if out.Cancelled.EventID != second.ID {
		t.Errorf("cancelled event = %s, want %s", out.Cancelled.EventID, second.ID)
	}
	if ok, _ := f.signups.HasOpenSignup(ctx, first.ID, "alice"); !ok {
		t.Error("signup for the first event should remain")
	}

	if _, err := f.signups.CancelSignup(ctx, "alice"); err != nil {
		t.Fatalf("second CancelSignup: %v", err)
	}
	if _, err := f.signups.CancelSignup(ctx, "alice"); !errors.Is(err, repository.ErrNotActivelySignedUp) {
		t.Errorf("third cancel err = %v, want ErrNotActivelySignedUp", err)
	}
}

func TestCancelSignupIgnoresWaiting(t *testing.T) {
	f := newFixture(t)
	ev := f.createEvent(t, nil)
	f.signup(t, ev.ID, "a", model.SideAxis, model.RoleCommander)
	f.signup(t, ev.ID, "b", model.SideAxis, model.RoleCommander)

	_, err := f.signups.CancelSignup(context.Background(), "b")
	if !errors.Is(err, repository.ErrNotActivelySignedUp) {
		t.Errorf("err = %v, want ErrNotActivelySignedUp", err)
	}
}

func TestConcurrentSignupsRespectCapacity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ev := f.createEvent(t, nil)

	const players = 20
	var wg sync.WaitGroup
	errs := make(chan error, players)
	for i := range players {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.signups.RequestSignup(ctx, model.SignupRequest{
				EventID: ev.ID,
				UserID:  fmt.Sprintf("p%02d", i),
				Side:    model.SideAllies,
				Role:    model.RoleTank,
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("RequestSignup: %v", err)
		}
	}

	active, _ := f.signups.ListSignups(ctx, ev.ID, model.StatusActive)
	waiting, _ := f.signups.ListSignups(ctx, ev.ID, model.StatusWaiting)
	if len(active) != 3 || len(waiting) != players-3 {
		t.Fatalf("active=%d waiting=%d, want 3 and %d", len(active), len(waiting), players-3)
	}
	for _, w := range waiting {
		for _, a := range active {
			if w.ID < a.ID {
				t.Errorf("waiting %d joined before active %d", w.ID, a.ID)
			}
		}
	}
}

func TestUpdateEventRebalances(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ev := f.createEvent(t, nil)

	for i := range 5 {
		f.signup(t, ev.ID, fmt.Sprintf("c%d", i), model.SideAxis, model.RoleCommander)
	}

	in := model.EventInput{
		Name:     ev.Name,
		StartsAt: ev.StartsAt,
		Squads: model.SquadConfig{
			Allies: ev.Squads.Allies,
			Axis:   model.SideConfig{TankSquads: 1, Commanders: 3},
		},
	}
	out, err := f.events.UpdateEvent(ctx, ev.ID, in)
	if err != nil {
		t.Fatalf("UpdateEvent: %v", err)
	}
	if len(out.Promoted) != 2 || out.Promoted[0].UserID != "c1" || out.Promoted[1].UserID != "c2" {
		t.Fatalf("promoted = %+v, want c1 and c2", out.Promoted)
	}

	// Shrinking keeps the existing actives.
	in.Squads.Axis.Commanders = 1
	out, err = f.events.UpdateEvent(ctx, ev.ID, in)
	if err != nil {
		t.Fatalf("UpdateEvent shrink: %v", err)
	}
	if len(out.Promoted) != 0 {
		t.Errorf("shrink promoted %d entries", len(out.Promoted))
	}
	n, _ := f.signups.CountActive(ctx, ev.ID, model.SideAxis, model.RoleCommander)
	if n != 3 {
		t.Errorf("active commanders = %d, want 3", n)
	}

	_, err = f.events.UpdateEvent(ctx, "missing", in)
	if !errors.Is(err, repository.ErrEventNotFound) {
		t.Errorf("update missing err = %v, want ErrEventNotFound", err)
	}
}

func TestCreateEventValidation(t *testing.T) {
	f := newFixture(t)
	start := time.Now().Add(time.Hour)
	tests := []struct {
		name string
		in   model.EventInput
	}{
		{"missing name", model.EventInput{StartsAt: start}},
		{"missing start", model.EventInput{Name: "x"}},
		{"negative squads", model.EventInput{Name: "x", StartsAt: start, Squads: model.SquadConfig{Axis: model.SideConfig{SniperSquads: -1}}}},
		{"too many squads", model.EventInput{Name: "x", StartsAt: start, Squads: model.SquadConfig{Allies: model.SideConfig{InfantrySquads: 51}}}},
		{"bad recurrence", model.EventInput{Name: "x", StartsAt: start, Recurrence: "yearly"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.events.CreateEvent(context.Background(), tt.in); !errors.Is(err, ErrInvalidInput) {
				t.Errorf("err = %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestDeleteEventRemovesLedger(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ev := f.createEvent(t, nil)
	f.signup(t, ev.ID, "a", model.SideAllies, model.RoleTank)

	if err := f.events.DeleteEvent(ctx, ev.ID); err != nil {
		t.Fatalf("DeleteEvent: %v", err)
	}
	if _, err := f.signups.ListSignups(ctx, ev.ID, ""); !errors.Is(err, repository.ErrEventNotFound) {
		t.Errorf("ListSignups after delete err = %v, want ErrEventNotFound", err)
	}
	if err := f.events.DeleteEvent(ctx, ev.ID); !errors.Is(err, repository.ErrEventNotFound) {
		t.Errorf("second delete err = %v, want ErrEventNotFound", err)
	}
}

func TestQueriesAreIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ev := f.createEvent(t, nil)
	f.signup(t, ev.ID, "a", model.SideAllies, model.RoleTank)
	f.signup(t, ev.ID, "b", model.SideAllies, model.RoleCommander)
	f.signup(t, ev.ID, "c", model.SideAllies, model.RoleCommander)

	first, err := f.signups.ListActiveSignups(ctx, ev.ID)
	if err != nil {
		t.Fatalf("ListActiveSignups: %v", err)
	}
	second, _ := f.signups.ListActiveSignups(ctx, ev.ID)
	if len(first) != 2 || len(second) != 2 {
		t.Fatalf("active entries = %d/%d, want 2", len(first), len(second))
	}
	if first[0].DisplayName != "player a" || first[1].DisplayName != "player b" {
		t.Errorf("entries = %+v, want join order", first)
	}

	if ok, _ := f.signups.HasOpenSignup(ctx, ev.ID, "c"); !ok {
		t.Error("waiting user should hold an open signup")
	}
	if ok, _ := f.signups.HasOpenSignup(ctx, ev.ID, "  c "); !ok {
		t.Error("padded user id should match the stored signup")
	}
	if _, err := f.signups.HasOpenSignup(ctx, ev.ID, "   "); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("blank user id err = %v, want ErrInvalidInput", err)
	}
	if ok, _ := f.signups.HasOpenSignup(ctx, ev.ID, "zed"); ok {
		t.Error("unknown user should not hold a signup")
	}
	if _, err := f.signups.ListActiveSignups(ctx, "missing"); !errors.Is(err, repository.ErrEventNotFound) {
		t.Errorf("unknown event err = %v, want ErrEventNotFound", err)
	}
}

func TestRosterAndOptions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ev := f.createEvent(t, func(in *model.EventInput) {
		in.Squads.Axis = model.SideConfig{}
	})
	f.signup(t, ev.ID, "a", model.SideAllies, model.RoleCommander)
	f.signup(t, ev.ID, "b", model.SideAllies, model.RoleCommander)
	f.signup(t, ev.ID, "c", model.SideAllies, model.RoleTank)

	roster, err := f.signups.Roster(ctx, ev.ID)
	if err != nil {
		t.Fatalf("Roster: %v", err)
	}
	allies := roster.Sides[0]
	if allies.Total != 2 || len(allies.Waiting) != 1 || allies.Waiting[0].UserID != "b" {
		t.Errorf("allies roster = %+v", allies)
	}

	opts, err := f.signups.SignupOptions(ctx, ev.ID, model.SideAllies)
	if err != nil {
		t.Fatalf("SignupOptions: %v", err)
	}
	want := []model.RoleOption{
		{Role: model.RoleTank, Capacity: 3, Active: 1, Full: false},
		{Role: model.RoleCommander, Capacity: 1, Active: 1, Full: true},
	}
	if len(opts) != len(want) {
		t.Fatalf("options = %+v, want %+v", opts, want)
	}
	for i := range want {
		if opts[i] != want[i] {
			t.Errorf("option %d = %+v, want %+v", i, opts[i], want[i])
		}
	}

	opts, _ = f.signups.SignupOptions(ctx, ev.ID, model.SideAxis)
	if len(opts) != 1 || opts[0].Role != model.RoleWaitlist {
		t.Errorf("axis options = %+v, want only waitlist", opts)
	}
}

func TestSpawnRecurrences(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	start := time.Now().Add(-2 * time.Hour).Truncate(time.Second)
	briefing := start.Add(-30 * time.Minute)
	src := f.createEvent(t, func(in *model.EventInput) {
		in.StartsAt = start
		in.BriefingAt = &briefing
		in.Recurrence = model.RecurrenceWeekly
	})
	f.createEvent(t, func(in *model.EventInput) { in.StartsAt = start })
	f.signup(t, src.ID, "a", model.SideAllies, model.RoleTank)

	spawned, err := f.events.SpawnRecurrences(ctx, time.Now())
	if err != nil {
		t.Fatalf("SpawnRecurrences: %v", err)
	}
	if len(spawned) != 1 {
		t.Fatalf("spawned = %d, want 1", len(spawned))
	}
	next := spawned[0]
	if !next.StartsAt.Equal(start.AddDate(0, 0, 7)) {
		t.Errorf("next start = %v, want %v", next.StartsAt, start.AddDate(0, 0, 7))
	}
	if next.BriefingAt == nil || !next.BriefingAt.Equal(briefing.AddDate(0, 0, 7)) {
		t.Errorf("next briefing = %v", next.BriefingAt)
	}
	if next.Recurrence != model.RecurrenceWeekly || next.Squads != src.Squads {
		t.Errorf("next config = %+v", next)
	}
	if signups, _ := f.signups.ListSignups(ctx, next.ID, ""); len(signups) != 0 {
		t.Errorf("spawned event carries %d signups", len(signups))
	}

	again, err := f.events.SpawnRecurrences(ctx, time.Now())
	if err != nil || len(again) != 0 {
		t.Errorf("second run spawned %d, err %v", len(again), err)
	}
	// Creation of both events plus the spawned one.
	if len(f.notes.published) != 3 {
		t.Errorf("published notifications = %d, want 3", len(f.notes.published))
	}
}

func TestSendReminders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now()
	soon := f.createEvent(t, func(in *model.EventInput) { in.StartsAt = now.Add(24 * time.Hour) })
	later := f.createEvent(t, func(in *model.EventInput) { in.StartsAt = now.Add(72 * time.Hour) })
	f.signup(t, soon.ID, "a", model.SideAllies, model.RoleCommander)
	f.signup(t, soon.ID, "b", model.SideAllies, model.RoleCommander)

	f.notes.failNext = errors.New("queue down")
	sent, err := f.events.SendReminders(ctx, now, 24*time.Hour, 15*time.Minute)
	if err != nil || sent != 0 {
		t.Fatalf("failed send = %d, %v; want 0", sent, err)
	}

	sent, err = f.events.SendReminders(ctx, now, 24*time.Hour, 15*time.Minute)
	if err != nil || sent != 1 {
		t.Fatalf("SendReminders = %d, %v; want 1", sent, err)
	}
	if got := f.notes.reminders[soon.ID]; len(got) != 1 || got[0].UserID != "a" {
		t.Errorf("reminder recipients = %+v, want only a", got)
	}
	if _, ok := f.notes.reminders[later.ID]; ok {
		t.Error("event outside the window was reminded")
	}

	sent, _ = f.events.SendReminders(ctx, now, 24*time.Hour, 15*time.Minute)
	if sent != 0 {
		t.Errorf("repeat run sent %d reminders", sent)
	}
}
