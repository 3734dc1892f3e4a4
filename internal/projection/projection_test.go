package projection

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"

	"goalline/internal/db"
	"goalline/internal/domain"
	"goalline/internal/events"
	"goalline/internal/goal"
	"goalline/internal/migrate"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestProjection(t *testing.T) *Projection {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if _, err := migrate.Migrate(context.Background(), conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return New(conn, zap.NewNop())
}

type recorder struct {
	t   *testing.T
	agg *goal.Aggregate
	at  time.Time
	out []domain.Event
}

func newRecorder(t *testing.T, id domain.GoalID) *recorder {
	return &recorder{t: t, agg: goal.New(id), at: t0}
}

func (r *recorder) ctx() goal.Context {
	r.at = r.at.Add(time.Minute)
	return goal.Context{Worker: "worker_a", At: r.at}
}

func (r *recorder) step(evt domain.Event, err error) domain.Event {
	r.t.Helper()
	if err != nil {
		r.t.Fatalf("transition: %v", err)
	}
	if err := r.agg.Apply(evt); err != nil {
		r.t.Fatalf("apply: %v", err)
	}
	r.out = append(r.out, evt)
	return evt
}

func (r *recorder) claim() domain.Claim {
	return domain.Claim{GoalID: r.agg.ID(), ClaimedBy: "worker_a", ClaimedAt: r.at, ClaimExpiresAt: r.at.Add(30 * time.Minute)}
}

func (r *recorder) add(objective string) {
	r.step(r.agg.Add(goal.AddInput{Objective: objective, ScopeIn: []string{"api"}}, r.ctx()))
}

func handleAll(t *testing.T, p *Projection, evts []domain.Event) {
	t.Helper()
	for _, evt := range evts {
		if err := p.Handle(context.Background(), evt); err != nil {
			t.Fatalf("handle %s v%d: %v", evt.Type, evt.Version, err)
		}
	}
}

func TestHandleTracksLifecycle(t *testing.T) {
	ctx := context.Background()
	p := newTestProjection(t)
	r := newRecorder(t, "goal_1")
	r.add("ship the api")
	c := r.ctx()
	r.step(r.agg.Start(r.claim(), c))
	handleAll(t, p, r.out)

	v, err := p.FindByID(ctx, "goal_1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if v.Status != domain.StatusDoing || v.Version != 2 || v.ClaimedBy != "worker_a" || v.ClaimExpiresAt == nil {
		t.Fatalf("unexpected row after start: %+v", v)
	}

	r.out = nil
	r.step(r.agg.SubmitForReview(r.ctx()))
	r.step(r.agg.Qualify(r.ctx()))
	handleAll(t, p, r.out)

	v, err = p.FindByID(ctx, "goal_1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if v.Status != domain.StatusQualified || v.ReviewTurns != 1 {
		t.Fatalf("unexpected row after qualify: %+v", v)
	}
	if v.ClaimedBy != "" || v.ClaimedAt != nil || v.ClaimExpiresAt != nil {
		t.Fatalf("qualify must clear claim columns: %+v", v)
	}
	if !v.UpdatedAt.Equal(r.at) {
		t.Fatalf("updated_at %s, want %s", v.UpdatedAt, r.at)
	}
}

func TestHandleIsIdempotent(t *testing.T) {
	ctx := context.Background()
	p := newTestProjection(t)
	r := newRecorder(t, "goal_1")
	r.add("ship")
	r.step(r.agg.Start(r.claim(), r.ctx()))
	r.step(r.agg.Pause("lunch", r.ctx()))
	handleAll(t, p, r.out)
	before, _ := p.FindByID(ctx, "goal_1")
	handleAll(t, p, r.out)
	after, _ := p.FindByID(ctx, "goal_1")
	if diff := cmp.Diff(before, after); diff != "" {
		t.Fatalf("replaying events changed the row (-before +after):\n%s", diff)
	}
	if after.Note != "lunch" {
		t.Fatalf("expected note to be projected, got %q", after.Note)
	}
}

func TestHandleRejectsGap(t *testing.T) {
	p := newTestProjection(t)
	r := newRecorder(t, "goal_1")
	r.add("ship")
	r.step(r.agg.Start(r.claim(), r.ctx()))
	r.step(r.agg.Pause("", r.ctx()))
	if err := p.Handle(context.Background(), r.out[0]); err != nil {
		t.Fatalf("handle added: %v", err)
	}
	if err := p.Handle(context.Background(), r.out[2]); err == nil {
		t.Fatal("expected an error when an event is skipped")
	}
}

func TestHandleFillsGapFromSource(t *testing.T) {
	ctx := context.Background()
	p := newTestProjection(t)
	log := events.NewFileLog(filepath.Join(t.TempDir(), "events"))
	p.Source = log

	r := newRecorder(t, "goal_1")
	r.add("ship")
	r.step(r.agg.Start(r.claim(), r.ctx()))
	r.step(r.agg.Pause("lunch", r.ctx()))
	r.step(r.agg.Resume(r.claim(), "", r.ctx()))
	for _, evt := range r.out {
		if _, err := log.Append(ctx, evt); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	// Only the added and resumed events are delivered; paused arrives last.
	handleAll(t, p, []domain.Event{r.out[0], r.out[3]})
	v, err := p.FindByID(ctx, "goal_1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if v.Status != domain.StatusDoing || v.Version != 4 || v.Note != "lunch" || v.ClaimedBy != "worker_a" {
		t.Fatalf("gap not filled from the log: %+v", v)
	}
	handleAll(t, p, []domain.Event{r.out[2]})
	again, _ := p.FindByID(ctx, "goal_1")
	if diff := cmp.Diff(v, again); diff != "" {
		t.Fatalf("late event changed the row (-before +after):\n%s", diff)
	}
}

func TestHandleCreatesRowFromSource(t *testing.T) {
	ctx := context.Background()
	p := newTestProjection(t)
	log := events.NewFileLog(filepath.Join(t.TempDir(), "events"))
	p.Source = log

	r := newRecorder(t, "goal_1")
	r.add("ship")
	r.step(r.agg.Start(r.claim(), r.ctx()))
	for _, evt := range r.out {
		if _, err := log.Append(ctx, evt); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	handleAll(t, p, r.out[1:])
	v, err := p.FindByID(ctx, "goal_1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if v.Status != domain.StatusDoing || v.Version != 2 || v.Objective != "ship" {
		t.Fatalf("unexpected row: %+v", v)
	}
}

func TestGapWithoutSourceIsTyped(t *testing.T) {
	p := newTestProjection(t)
	r := newRecorder(t, "goal_1")
	r.add("ship")
	r.step(r.agg.Start(r.claim(), r.ctx()))
	r.step(r.agg.Pause("", r.ctx()))
	handleAll(t, p, r.out[:1])
	err := p.Handle(context.Background(), r.out[2])
	var gap *GapError
	if !errors.As(err, &gap) || gap.Current != 1 || gap.Version != 3 {
		t.Fatalf("expected gap 1 -> 3, got %v", err)
	}
}

func TestHandleUnknownGoal(t *testing.T) {
	p := newTestProjection(t)
	r := newRecorder(t, "goal_1")
	r.add("ship")
	r.step(r.agg.Start(r.claim(), r.ctx()))
	if err := p.Handle(context.Background(), r.out[1]); err == nil {
		t.Fatal("expected an error for an event on an unknown goal")
	}
}

func TestResetClearsClaimAndNote(t *testing.T) {
	ctx := context.Background()
	p := newTestProjection(t)
	r := newRecorder(t, "goal_1")
	r.add("ship")
	r.step(r.agg.Start(r.claim(), r.ctx()))
	r.step(r.agg.Block("waiting on infra", r.ctx()))
	r.step(r.agg.Reset(r.ctx()))
	handleAll(t, p, r.out)
	v, err := p.FindByID(ctx, "goal_1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if v.Status != domain.StatusToDo || v.Note != "" || v.ClaimedBy != "" {
		t.Fatalf("unexpected row after reset: %+v", v)
	}
}

func TestFindByIDNotFound(t *testing.T) {
	p := newTestProjection(t)
	if _, err := p.FindByID(context.Background(), "goal_missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	ok, err := p.Exists(context.Background(), "goal_missing")
	if err != nil || ok {
		t.Fatalf("expected missing goal, got %v %v", ok, err)
	}
}

func TestListAndCount(t *testing.T) {
	ctx := context.Background()
	p := newTestProjection(t)
	for _, id := range []domain.GoalID{"goal_a", "goal_b", "goal_c"} {
		r := newRecorder(t, id)
		r.add("objective " + string(id))
		if id != "goal_c" {
			r.step(r.agg.Start(r.claim(), r.ctx()))
		}
		handleAll(t, p, r.out)
	}

	doing, err := p.List(ctx, Filter{Status: domain.StatusDoing})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(doing) != 2 {
		t.Fatalf("expected 2 doing goals, got %d", len(doing))
	}
	limited, err := p.List(ctx, Filter{Limit: 1})
	if err != nil || len(limited) != 1 {
		t.Fatalf("limit: %v %d", err, len(limited))
	}
	mine, err := p.List(ctx, Filter{ClaimedBy: "worker_a"})
	if err != nil || len(mine) != 2 {
		t.Fatalf("claimed_by filter: %v %d", err, len(mine))
	}

	counts, err := p.CountByStatus(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if counts[domain.StatusDoing] != 2 || counts[domain.StatusToDo] != 1 || counts[domain.StatusCompleted] != 0 {
		t.Fatalf("unexpected counts %v", counts)
	}
	if len(counts) != len(domain.Statuses) {
		t.Fatalf("expected every status in counts, got %v", counts)
	}
}

func TestRebuildMatchesLiveProjection(t *testing.T) {
	ctx := context.Background()
	log := events.NewFileLog(filepath.Join(t.TempDir(), "events"))
	live := newTestProjection(t)
	bus := events.NewBus()
	live.Subscribe(bus)

	for _, id := range []domain.GoalID{"goal_a", "goal_b"} {
		r := newRecorder(t, id)
		r.step(r.agg.Add(goal.AddInput{
			Objective: "objective",
			Planning:  &domain.PlanningContext{Invariants: []string{"no downtime"}},
		}, r.ctx()))
		r.step(r.agg.Start(r.claim(), r.ctx()))
		r.step(r.agg.SubmitForReview(r.ctx()))
		for _, evt := range r.out {
			if _, err := log.Append(ctx, evt); err != nil {
				t.Fatalf("append: %v", err)
			}
			if err := bus.Publish(ctx, evt); err != nil {
				t.Fatalf("publish: %v", err)
			}
		}
	}

	rebuilt := newTestProjection(t)
	stats, err := rebuilt.Rebuild(ctx, log)
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if stats.Goals != 2 || stats.Events != 6 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	want, _ := live.List(ctx, Filter{})
	got, _ := rebuilt.List(ctx, Filter{})
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("rebuilt projection differs (-live +rebuilt):\n%s", diff)
	}

	// A second rebuild over a populated table yields the same rows.
	if _, err := rebuilt.Rebuild(ctx, log); err != nil {
		t.Fatalf("second rebuild: %v", err)
	}
	again, _ := rebuilt.List(ctx, Filter{})
	if diff := cmp.Diff(want, again); diff != "" {
		t.Fatalf("second rebuild differs (-live +rebuilt):\n%s", diff)
	}
}
