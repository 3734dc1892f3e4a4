package fslock

import (
	"path/filepath"
	"sync"
	"testing"
)

func TestAcquireSerializesHolders(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "x.lock")
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		holders int
		maxSeen int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l, err := Acquire(path)
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			mu.Lock()
			holders++
			if holders > maxSeen {
				maxSeen = holders
			}
			mu.Unlock()
			mu.Lock()
			holders--
			mu.Unlock()
			if err := l.Release(); err != nil {
				t.Errorf("release: %v", err)
			}
		}()
	}
	wg.Wait()
	if maxSeen != 1 {
		t.Fatalf("expected exclusive holders, saw %d at once", maxSeen)
	}
}

func TestReleaseTwiceIsSafe(t *testing.T) {
	l, err := Acquire(filepath.Join(t.TempDir(), "y.lock"))
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Release(); err != nil {
		t.Fatal(err)
	}
	if err := l.Release(); err != nil {
		t.Fatalf("second release: %v", err)
	}
}
