package events

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/sync/errgroup"

	"goalline/internal/domain"
)

var testTime = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestLog(t *testing.T) *FileLog {
	t.Helper()
	l := NewFileLog(filepath.Join(t.TempDir(), "events"))
	l.Now = func() time.Time { return testTime }
	return l
}

func testEvent(id domain.GoalID, version uint64, typ domain.EventType, status domain.Status) domain.Event {
	return domain.Event{
		Type:        typ,
		AggregateID: id,
		Version:     version,
		Timestamp:   testTime.Add(time.Duration(version) * time.Minute),
		WorkerID:    "worker_a",
		Payload:     domain.EventPayload{Status: status},
	}
}

func TestAppendAndReadStream(t *testing.T) {
	ctx := context.Background()
	l := newTestLog(t)
	note := "waiting on review"
	want := []domain.Event{
		testEvent("goal_1", 1, domain.EventGoalAdded, domain.StatusToDo),
		testEvent("goal_1", 2, domain.EventGoalStarted, domain.StatusDoing),
		testEvent("goal_1", 3, domain.EventGoalPaused, domain.StatusPaused),
	}
	want[0].Payload.Objective = "ship it"
	want[2].Payload.Note = &note

	for i, evt := range want {
		seq, err := l.Append(ctx, evt)
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		if seq != uint64(i+1) {
			t.Fatalf("append %d: seq %d", i, seq)
		}
	}
	got, err := l.ReadStream(ctx, "goal_1")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("stream mismatch (-want +got):\n%s", diff)
	}
}

func TestAppendAssignsVersionWhenZero(t *testing.T) {
	ctx := context.Background()
	l := newTestLog(t)
	evt := testEvent("goal_1", 0, domain.EventGoalAdded, domain.StatusToDo)
	seq, err := l.Append(ctx, evt)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	got, err := l.ReadStream(ctx, "goal_1")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if seq != 1 || got[0].Version != 1 {
		t.Fatalf("expected version 1, got seq %d version %d", seq, got[0].Version)
	}
}

func TestAppendRejectsStaleVersion(t *testing.T) {
	ctx := context.Background()
	l := newTestLog(t)
	if _, err := l.Append(ctx, testEvent("goal_1", 1, domain.EventGoalAdded, domain.StatusToDo)); err != nil {
		t.Fatalf("append: %v", err)
	}
	_, err := l.Append(ctx, testEvent("goal_1", 1, domain.EventGoalStarted, domain.StatusDoing))
	if !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}
	if !errors.Is(err, domain.ErrConcurrentChange) {
		t.Fatalf("expected concurrent change code, got %v", err)
	}
	got, _ := l.ReadStream(ctx, "goal_1")
	if len(got) != 1 {
		t.Fatalf("rejected append must not be stored, got %d events", len(got))
	}
}

func TestReadStreamUnknownAggregateIsEmpty(t *testing.T) {
	got, err := newTestLog(t).ReadStream(context.Background(), "goal_missing")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", got)
	}
}

func TestReadStreamDetectsGap(t *testing.T) {
	ctx := context.Background()
	l := newTestLog(t)
	for v := uint64(1); v <= 3; v++ {
		if _, err := l.Append(ctx, testEvent("goal_1", v, domain.EventGoalAdded, domain.StatusToDo)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := os.Remove(filepath.Join(l.Root, "goal_1", "000002.json")); err != nil {
		t.Fatal(err)
	}
	if _, err := l.ReadStream(ctx, "goal_1"); err == nil || !strings.Contains(err.Error(), "gap") {
		t.Fatalf("expected gap error, got %v", err)
	}
}

func TestStoredFileCarriesBookkeeping(t *testing.T) {
	ctx := context.Background()
	l := newTestLog(t)
	if _, err := l.Append(ctx, testEvent("goal_1", 1, domain.EventGoalAdded, domain.StatusToDo)); err != nil {
		t.Fatalf("append: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(l.Root, "goal_1", "000001.json"))
	if err != nil {
		t.Fatal(err)
	}
	for _, field := range []string{`"seq": 1`, `"stored_at"`, `"aggregate_id": "goal_1"`} {
		if !strings.Contains(string(data), field) {
			t.Fatalf("expected %s in stored file:\n%s", field, data)
		}
	}
	entries, _ := os.ReadDir(filepath.Join(l.Root, "goal_1"))
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".tmp-") {
			t.Fatalf("temp file left behind: %s", e.Name())
		}
	}
}

func TestAppendRejectsUnsafeAggregateID(t *testing.T) {
	l := newTestLog(t)
	_, err := l.Append(context.Background(), testEvent("../escape", 1, domain.EventGoalAdded, domain.StatusToDo))
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestConcurrentAppendsNeverShareASequence(t *testing.T) {
	ctx := context.Background()
	l := newTestLog(t)
	const writers = 16
	var won atomic.Int32
	var g errgroup.Group
	for i := 0; i < writers; i++ {
		g.Go(func() error {
			_, err := l.Append(ctx, testEvent("goal_1", 1, domain.EventGoalAdded, domain.StatusToDo))
			if err == nil {
				won.Add(1)
				return nil
			}
			if errors.Is(err, ErrVersionConflict) {
				return nil
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("append: %v", err)
	}
	if won.Load() != 1 {
		t.Fatalf("expected exactly one winner, got %d", won.Load())
	}

	var g2 errgroup.Group
	for i := 0; i < writers; i++ {
		g2.Go(func() error {
			_, err := l.Append(ctx, testEvent("goal_2", 0, domain.EventGoalAdded, domain.StatusToDo))
			return err
		})
	}
	if err := g2.Wait(); err != nil {
		t.Fatalf("append: %v", err)
	}
	got, err := l.ReadStream(ctx, "goal_2")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != writers {
		t.Fatalf("expected %d events, got %d", writers, len(got))
	}
}

func TestAggregateIDs(t *testing.T) {
	ctx := context.Background()
	l := newTestLog(t)
	ids, err := l.AggregateIDs(ctx)
	if err != nil || len(ids) != 0 {
		t.Fatalf("expected no ids on empty log, got %v %v", ids, err)
	}
	for _, id := range []domain.GoalID{"goal_b", "goal_a"} {
		if _, err := l.Append(ctx, testEvent(id, 1, domain.EventGoalAdded, domain.StatusToDo)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := os.MkdirAll(filepath.Join(l.Root, "goal_empty"), 0o755); err != nil {
		t.Fatal(err)
	}
	ids, err = l.AggregateIDs(ctx)
	if err != nil {
		t.Fatalf("ids: %v", err)
	}
	if diff := cmp.Diff([]domain.GoalID{"goal_a", "goal_b"}, ids); diff != "" {
		t.Fatalf("ids mismatch (-want +got):\n%s", diff)
	}
}

func TestWatchDeliversNewEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l := newTestLog(t)
	if _, err := l.Append(ctx, testEvent("goal_1", 1, domain.EventGoalAdded, domain.StatusToDo)); err != nil {
		t.Fatalf("append: %v", err)
	}

	seen := make(chan domain.Event, 4)
	done := make(chan error, 1)
	go func() { done <- l.Watch(ctx, func(evt domain.Event) { seen <- evt }) }()

	// Give the watcher time to register before appending.
	time.Sleep(100 * time.Millisecond)
	if _, err := l.Append(ctx, testEvent("goal_1", 2, domain.EventGoalStarted, domain.StatusDoing)); err != nil {
		t.Fatalf("append: %v", err)
	}
	select {
	case evt := <-seen:
		if evt.Version != 2 || evt.Type != domain.EventGoalStarted {
			t.Fatalf("unexpected event %+v", evt)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for watched event")
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("watch: %v", err)
	}
}

func TestWatchDeliversNewAggregateOnceInOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l := newTestLog(t)

	seen := make(chan domain.Event, 16)
	done := make(chan error, 1)
	go func() { done <- l.Watch(ctx, func(evt domain.Event) { seen <- evt }) }()
	time.Sleep(100 * time.Millisecond)

	steps := []struct {
		typ    domain.EventType
		status domain.Status
	}{
		{domain.EventGoalAdded, domain.StatusToDo},
		{domain.EventGoalStarted, domain.StatusDoing},
		{domain.EventGoalPaused, domain.StatusPaused},
	}
	for i, s := range steps {
		if _, err := l.Append(ctx, testEvent("goal_new", uint64(i+1), s.typ, s.status)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	var versions []uint64
	for len(versions) < len(steps) {
		select {
		case evt := <-seen:
			versions = append(versions, evt.Version)
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out; got versions %v", versions)
		}
	}
	select {
	case evt := <-seen:
		t.Fatalf("event delivered twice: %+v", evt)
	case <-time.After(200 * time.Millisecond):
	}
	if diff := cmp.Diff([]uint64{1, 2, 3}, versions); diff != "" {
		t.Fatalf("versions mismatch (-want +got):\n%s", diff)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("watch: %v", err)
	}
}
