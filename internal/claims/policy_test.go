package claims

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/sync/errgroup"

	"goalline/internal/clock"
	"goalline/internal/domain"
)

var start = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newPolicies(t *testing.T) map[string]*Policy {
	t.Helper()
	return map[string]*Policy{
		"memory": NewPolicy(NewMemoryStore(), clock.NewManual(start), 30),
		"file":   NewPolicy(NewFileStore(filepath.Join(t.TempDir(), "claims.json")), clock.NewManual(start), 30),
	}
}

func advance(p *Policy, d time.Duration) {
	p.Clock.(*clock.Manual).Advance(d)
}

func TestCanClaimRules(t *testing.T) {
	ctx := context.Background()
	for name, p := range newPolicies(t) {
		t.Run(name, func(t *testing.T) {
			d, err := p.CanClaim(ctx, "goal_1", "worker_a")
			if err != nil || !d.Allowed || d.Existing != nil {
				t.Fatalf("unclaimed goal: got %+v %v", d, err)
			}
			if _, err := p.CreateClaim(ctx, "goal_1", "worker_a"); err != nil {
				t.Fatalf("create: %v", err)
			}
			if d, _ := p.CanClaim(ctx, "goal_1", "worker_a"); !d.Allowed {
				t.Fatalf("owner must be allowed")
			}
			d, _ = p.CanClaim(ctx, "goal_1", "worker_b")
			if d.Allowed || d.Existing == nil || d.Existing.ClaimedBy != "worker_a" {
				t.Fatalf("other worker must be rejected with existing claim, got %+v", d)
			}
		})
	}
}

func TestExpiryBoundaryIsInclusive(t *testing.T) {
	ctx := context.Background()
	for name, p := range newPolicies(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := p.CreateClaim(ctx, "goal_1", "worker_a"); err != nil {
				t.Fatalf("create: %v", err)
			}
			advance(p, 30*time.Minute-time.Nanosecond)
			if d, _ := p.CanClaim(ctx, "goal_1", "worker_b"); d.Allowed {
				t.Fatalf("claim must still be active just before expiry")
			}
			advance(p, time.Nanosecond)
			if d, _ := p.CanClaim(ctx, "goal_1", "worker_b"); !d.Allowed {
				t.Fatalf("claim expiring exactly now must be treated as expired")
			}
			c, err := p.Current(ctx, "goal_1")
			if err != nil || c != nil {
				t.Fatalf("expired claim must not be current, got %+v %v", c, err)
			}
		})
	}
}

func TestCreateClaimConflict(t *testing.T) {
	ctx := context.Background()
	for name, p := range newPolicies(t) {
		t.Run(name, func(t *testing.T) {
			first, err := p.CreateClaim(ctx, "goal_1", "worker_a")
			if err != nil {
				t.Fatalf("create: %v", err)
			}
			_, err = p.CreateClaim(ctx, "goal_1", "worker_b")
			if !errors.Is(err, domain.ErrClaimConflict) {
				t.Fatalf("expected claim conflict, got %v", err)
			}
			want := fmt.Sprintf("Goal goal_1 is claimed by another worker until %s", first.ClaimExpiresAt.Format(time.RFC3339))
			if err.Error() != want {
				t.Fatalf("message mismatch:\nwant %s\ngot  %s", want, err.Error())
			}
		})
	}
}

func TestRefreshPreservesOrigin(t *testing.T) {
	ctx := context.Background()
	for name, p := range newPolicies(t) {
		t.Run(name, func(t *testing.T) {
			first, err := p.CreateClaim(ctx, "goal_1", "worker_a")
			if err != nil {
				t.Fatalf("create: %v", err)
			}
			advance(p, 10*time.Minute)
			refreshed, err := p.RefreshClaim(ctx, "goal_1", "worker_a")
			if err != nil {
				t.Fatalf("refresh: %v", err)
			}
			want := domain.Claim{
				GoalID:         "goal_1",
				ClaimedBy:      "worker_a",
				ClaimedAt:      first.ClaimedAt,
				ClaimExpiresAt: start.Add(40 * time.Minute),
			}
			if diff := cmp.Diff(want, refreshed); diff != "" {
				t.Fatalf("refreshed claim mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRefreshOverExpiredForeignClaimStartsNewLease(t *testing.T) {
	ctx := context.Background()
	for name, p := range newPolicies(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := p.CreateClaim(ctx, "goal_1", "worker_a"); err != nil {
				t.Fatalf("create: %v", err)
			}
			advance(p, 45*time.Minute)
			refreshed, err := p.RefreshClaim(ctx, "goal_1", "worker_b")
			if err != nil {
				t.Fatalf("refresh over expired claim: %v", err)
			}
			now := start.Add(45 * time.Minute)
			want := domain.Claim{
				GoalID:         "goal_1",
				ClaimedBy:      "worker_b",
				ClaimedAt:      now,
				ClaimExpiresAt: now.Add(30 * time.Minute),
			}
			if diff := cmp.Diff(want, refreshed); diff != "" {
				t.Fatalf("takeover claim mismatch (-want +got):\n%s", diff)
			}
			if d, _ := p.CanClaim(ctx, "goal_1", "worker_a"); d.Allowed {
				t.Fatalf("previous owner must now be rejected")
			}
		})
	}
}

func TestPrepareRefreshedClaimWithoutExisting(t *testing.T) {
	p := NewPolicy(NewMemoryStore(), clock.Fixed(start), 15)
	c := p.PrepareRefreshedClaim("goal_1", "worker_a", nil)
	if !c.ClaimedAt.Equal(start) || !c.ClaimExpiresAt.Equal(start.Add(15*time.Minute)) {
		t.Fatalf("unexpected claim %+v", c)
	}
	foreign := &domain.Claim{GoalID: "goal_1", ClaimedBy: "worker_b", ClaimedAt: start.Add(-time.Hour)}
	if c := p.PrepareRefreshedClaim("goal_1", "worker_a", foreign); !c.ClaimedAt.Equal(start) {
		t.Fatalf("a foreign claim must not lend its origin, got %+v", c)
	}
}

func TestPrepareHasNoSideEffects(t *testing.T) {
	ctx := context.Background()
	p := NewPolicy(NewMemoryStore(), clock.Fixed(start), 30)
	p.PrepareClaim("goal_1", "worker_a")
	if _, ok, _ := p.Store.Get(ctx, "goal_1"); ok {
		t.Fatalf("prepare must not store a claim")
	}
}

func TestReleaseClaim(t *testing.T) {
	ctx := context.Background()
	for name, p := range newPolicies(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := p.CreateClaim(ctx, "goal_1", "worker_a"); err != nil {
				t.Fatalf("create: %v", err)
			}
			if err := p.ReleaseClaim(ctx, "goal_1"); err != nil {
				t.Fatalf("release: %v", err)
			}
			if err := p.ReleaseClaim(ctx, "goal_1"); err != nil {
				t.Fatalf("second release: %v", err)
			}
			if d, _ := p.CanClaim(ctx, "goal_1", "worker_b"); !d.Allowed || d.Existing != nil {
				t.Fatalf("released goal must be free, got %+v", d)
			}
		})
	}
}

func TestDefaultDuration(t *testing.T) {
	p := NewPolicy(NewMemoryStore(), clock.Fixed(start), 0)
	if p.Duration != DefaultDuration {
		t.Fatalf("expected default duration, got %s", p.Duration)
	}
}

func TestFileStoreConcurrentUpdatesKeepEveryKey(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "claims.json")
	const goals = 24
	var g errgroup.Group
	for i := 0; i < goals; i++ {
		g.Go(func() error {
			// Separate store values share only the file, like separate processes.
			p := NewPolicy(NewFileStore(path), clock.Fixed(start), 30)
			_, err := p.CreateClaim(ctx, domain.GoalID(fmt.Sprintf("goal_%02d", i)), "worker_a")
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("create: %v", err)
	}
	all, err := NewFileStore(path).All(ctx)
	if err != nil {
		t.Fatalf("all: %v", err)
	}
	if len(all) != goals {
		t.Fatalf("expected %d claims, got %d", goals, len(all))
	}
}

func TestFileStorePersistsAcrossInstances(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "claims.json")
	p := NewPolicy(NewFileStore(path), clock.Fixed(start), 30)
	want, err := p.CreateClaim(ctx, "goal_1", "worker_a")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	got, ok, err := NewFileStore(path).Get(ctx, "goal_1")
	if err != nil || !ok {
		t.Fatalf("get: %v %v", ok, err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("claim mismatch (-want +got):\n%s", diff)
	}
}
