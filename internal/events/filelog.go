package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"time"

	"goalline/internal/domain"
	"goalline/internal/fslock"
)

const lockName = ".lock"

var eventFilePattern = regexp.MustCompile(`^(\d{6,})\.json$`)

// ErrVersionConflict is returned by Append when the event's version is not
// the next sequence number of its stream.
var ErrVersionConflict = errors.New("event version conflict")

// FileLog stores one JSON file per event under Root/<aggregate id>/<seq>.json.
type FileLog struct {
	Root string
	Now  func() time.Time
}

// NewFileLog returns a FileLog rooted at dir.
func NewFileLog(dir string) *FileLog {
	return &FileLog{Root: dir, Now: time.Now}
}

// storedEvent is the on-disk shape; Seq and StoredAt never leave this package.
type storedEvent struct {
	Seq      uint64    `json:"seq"`
	StoredAt time.Time `json:"stored_at"`
	domain.Event
}

func (l *FileLog) now() time.Time {
	if l.Now != nil {
		return l.Now().UTC()
	}
	return time.Now().UTC()
}

func (l *FileLog) streamDir(id domain.GoalID) (string, error) {
	if _, err := domain.ParseGoalID(string(id)); err != nil {
		return "", err
	}
	return filepath.Join(l.Root, string(id)), nil
}

// Append implements Log. Appends to one aggregate are serialized with an
// exclusive lock; each file is fully written before it becomes visible.
func (l *FileLog) Append(ctx context.Context, evt domain.Event) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if !evt.Type.Valid() {
		return 0, domain.InvalidInput("event type is required")
	}
	dir, err := l.streamDir(evt.AggregateID)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, domain.StorageFailure("append event", err)
	}
	lock, err := fslock.Acquire(filepath.Join(dir, lockName))
	if err != nil {
		return 0, domain.StorageFailure("append event", err)
	}
	defer lock.Release()

	last, err := lastSeq(dir)
	if err != nil {
		return 0, domain.StorageFailure("append event", err)
	}
	seq := last + 1
	if evt.Version == 0 {
		evt.Version = seq
	}
	if evt.Version != seq {
		return 0, fmt.Errorf("%w: %w", ErrVersionConflict, domain.ConcurrentChange(evt.AggregateID, evt.Version-1, last))
	}
	data, err := json.MarshalIndent(storedEvent{Seq: seq, StoredAt: l.now(), Event: evt}, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("marshal event: %w", err)
	}
	if err := writeExclusive(dir, eventFileName(seq), data); err != nil {
		if errors.Is(err, os.ErrExist) {
			return 0, fmt.Errorf("%w: %w", ErrVersionConflict, domain.ConcurrentChange(evt.AggregateID, evt.Version-1, seq))
		}
		return 0, domain.StorageFailure("append event", err)
	}
	return seq, nil
}

// ReadStream implements Log.
func (l *FileLog) ReadStream(ctx context.Context, id domain.GoalID) ([]domain.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir, err := l.streamDir(id)
	if err != nil {
		return nil, err
	}
	seqs, err := listSeqs(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []domain.Event{}, nil
		}
		return nil, domain.StorageFailure("read stream", err)
	}
	out := make([]domain.Event, 0, len(seqs))
	for i, seq := range seqs {
		if seq != uint64(i+1) {
			return nil, fmt.Errorf("goal %s: event sequence gap: expected %d got %d", id, i+1, seq)
		}
		se, err := readEventFile(filepath.Join(dir, eventFileName(seq)))
		if err != nil {
			return nil, domain.StorageFailure("read stream", err)
		}
		if se.Seq != seq || se.Version != seq {
			return nil, fmt.Errorf("goal %s: event file %d records seq %d version %d", id, seq, se.Seq, se.Version)
		}
		out = append(out, se.Event)
	}
	return out, nil
}

// AggregateIDs implements Log.
func (l *FileLog) AggregateIDs(ctx context.Context) ([]domain.GoalID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(l.Root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, domain.StorageFailure("list aggregates", err)
	}
	var ids []domain.GoalID
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		id, err := domain.ParseGoalID(e.Name())
		if err != nil {
			continue
		}
		seqs, err := listSeqs(filepath.Join(l.Root, e.Name()))
		if err != nil || len(seqs) == 0 {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func eventFileName(seq uint64) string {
	return fmt.Sprintf("%06d.json", seq)
}

func parseEventFileName(name string) (uint64, bool) {
	m := eventFilePattern.FindStringSubmatch(name)
	if m == nil {
		return 0, false
	}
	seq, err := strconv.ParseUint(m[1], 10, 64)
	if err != nil || seq == 0 {
		return 0, false
	}
	return seq, true
}

func listSeqs(dir string) ([]uint64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var seqs []uint64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if seq, ok := parseEventFileName(e.Name()); ok {
			seqs = append(seqs, seq)
		}
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	return seqs, nil
}

func lastSeq(dir string) (uint64, error) {
	seqs, err := listSeqs(dir)
	if err != nil {
		return 0, err
	}
	if len(seqs) == 0 {
		return 0, nil
	}
	return seqs[len(seqs)-1], nil
}

func readEventFile(path string) (storedEvent, error) {
	var se storedEvent
	data, err := os.ReadFile(path)
	if err != nil {
		return se, err
	}
	if err := json.Unmarshal(data, &se); err != nil {
		return se, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return se, nil
}

// writeExclusive writes data to a temp file, syncs it, then links it to name.
// The link fails with os.ErrExist if name is taken, so readers only ever see
// complete files.
func writeExclusive(dir, name string, data []byte) error {
	tmp, err := os.CreateTemp(dir, ".tmp-*")
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
	if err := os.Link(tmpName, filepath.Join(dir, name)); err != nil {
		return err
	}
	syncDir(dir)
	return nil
}

// syncDir flushes directory entries where the platform allows it.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
