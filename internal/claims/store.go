package claims

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"goalline/internal/domain"
	"goalline/internal/fslock"
)

// Store persists at most one claim per goal.
type Store interface {
	Get(ctx context.Context, id domain.GoalID) (domain.Claim, bool, error)
	Put(ctx context.Context, claim domain.Claim) error
	Delete(ctx context.Context, id domain.GoalID) error
}

// MemoryStore keeps claims in a map.
type MemoryStore struct {
	mu     sync.Mutex
	claims map[domain.GoalID]domain.Claim
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{claims: map[domain.GoalID]domain.Claim{}}
}

func (s *MemoryStore) Get(_ context.Context, id domain.GoalID) (domain.Claim, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.claims[id]
	return c, ok, nil
}

func (s *MemoryStore) Put(_ context.Context, claim domain.Claim) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.claims[claim.GoalID] = claim
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id domain.GoalID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.claims, id)
	return nil
}

// FileStore keeps every claim in one JSON object keyed by goal id. Each
// mutation runs lock, read, modify, rename, unlock so concurrent processes
// never lose each other's updates.
type FileStore struct {
	Path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path}
}

func (s *FileStore) lockPath() string { return s.Path + ".lock" }

func (s *FileStore) Get(ctx context.Context, id domain.GoalID) (domain.Claim, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.Claim{}, false, err
	}
	all, err := s.read()
	if err != nil {
		return domain.Claim{}, false, domain.StorageFailure("read claim", err)
	}
	c, ok := all[id]
	return c, ok, nil
}

func (s *FileStore) Put(ctx context.Context, claim domain.Claim) error {
	return s.update(ctx, "store claim", func(all map[domain.GoalID]domain.Claim) {
		all[claim.GoalID] = claim
	})
}

func (s *FileStore) Delete(ctx context.Context, id domain.GoalID) error {
	return s.update(ctx, "release claim", func(all map[domain.GoalID]domain.Claim) {
		delete(all, id)
	})
}

// All returns every stored claim, expired ones included.
func (s *FileStore) All(ctx context.Context) (map[domain.GoalID]domain.Claim, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	all, err := s.read()
	if err != nil {
		return nil, domain.StorageFailure("read claims", err)
	}
	return all, nil
}

func (s *FileStore) update(ctx context.Context, operation string, fn func(map[domain.GoalID]domain.Claim)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	lock, err := fslock.Acquire(s.lockPath())
	if err != nil {
		return domain.StorageFailure(operation, err)
	}
	defer lock.Release()

	all, err := s.read()
	if err != nil {
		return domain.StorageFailure(operation, err)
	}
	fn(all)
	if err := s.write(all); err != nil {
		return domain.StorageFailure(operation, err)
	}
	return nil
}

func (s *FileStore) read() (map[domain.GoalID]domain.Claim, error) {
	all := map[domain.GoalID]domain.Claim{}
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return all, nil
		}
		return nil, err
	}
	if len(data) == 0 {
		return all, nil
	}
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(s.Path), err)
	}
	return all, nil
}

func (s *FileStore) write(all map[domain.GoalID]domain.Claim) error {
	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.Path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, s.Path)
}
