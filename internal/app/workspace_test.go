package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"goalline/internal/db"
	"goalline/internal/domain"
	"goalline/internal/engine"
)

func TestResolveWorkerIDOverride(t *testing.T) {
	id, err := ResolveWorkerID(t.TempDir(), "  agent-7 ")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if id != "agent-7" {
		t.Fatalf("expected override, got %q", id)
	}
}

func TestResolveWorkerIDPersists(t *testing.T) {
	ws := t.TempDir()
	first, err := ResolveWorkerID(ws, "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !strings.HasPrefix(string(first), "worker_") {
		t.Fatalf("unexpected generated id %q", first)
	}
	second, err := ResolveWorkerID(ws, "")
	if err != nil {
		t.Fatalf("resolve again: %v", err)
	}
	if first != second {
		t.Fatalf("worker id not stable: %q then %q", first, second)
	}
	if _, err := os.Stat(filepath.Join(db.Dir(ws), "worker-id")); err != nil {
		t.Fatalf("worker id file missing: %v", err)
	}
}

func TestOpenWiresProjection(t *testing.T) {
	ctx := context.Background()
	ws, err := Open(ctx, t.TempDir(), nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer ws.Close()
	res, err := ws.Engine.Add(ctx, engine.AddOptions{ID: "goal_1", Objective: "wire it", WorkerID: "worker_a"})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if res.ProjectionLagging {
		t.Fatalf("projection should be subscribed")
	}
	v, err := ws.Engine.Show(ctx, "goal_1")
	if err != nil || v.Status != domain.StatusToDo {
		t.Fatalf("show: %+v %v", v, err)
	}
	if _, err := os.Stat(filepath.Join(EventsDir(ws.Root), "goal_1", "000001.json")); err != nil {
		t.Fatalf("event file missing: %v", err)
	}
}
