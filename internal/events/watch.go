package events

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"goalline/internal/domain"
)

// Watch calls fn for every event file that appears under the log root until
// ctx is cancelled. Events already on disk when Watch starts are not replayed.
// Each event is delivered once and, per aggregate, in version order.
func (l *FileLog) Watch(ctx context.Context, fn func(domain.Event)) error {
	if err := os.MkdirAll(l.Root, 0o755); err != nil {
		return domain.StorageFailure("watch events", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch events: %w", err)
	}
	defer w.Close()

	if err := w.Add(l.Root); err != nil {
		return fmt.Errorf("watch %s: %w", l.Root, err)
	}
	entries, err := os.ReadDir(l.Root)
	if err != nil {
		return domain.StorageFailure("watch events", err)
	}
	st := &watchState{emitted: map[string]uint64{}, fn: fn}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(l.Root, e.Name())
		// Baseline before the watch is added; anything linked after it is
		// picked up by the catch-up below or by its Create event.
		base, err := lastSeq(dir)
		if err != nil {
			return domain.StorageFailure("watch events", err)
		}
		st.emitted[dir] = base
		if err := st.follow(w, dir); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watch events: %w", err)
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) {
				continue
			}
			if filepath.Dir(ev.Name) == filepath.Clean(l.Root) {
				info, err := os.Stat(ev.Name)
				if err != nil || !info.IsDir() {
					continue
				}
				if _, seen := st.emitted[ev.Name]; seen {
					continue
				}
				st.emitted[ev.Name] = 0
				if err := st.follow(w, ev.Name); err != nil {
					return err
				}
				continue
			}
			seq, ok := parseEventFileName(filepath.Base(ev.Name))
			if !ok {
				continue
			}
			if err := st.emitThrough(filepath.Dir(ev.Name), seq); err != nil {
				return err
			}
		}
	}
}

// watchState remembers the highest sequence delivered per aggregate dir.
type watchState struct {
	emitted map[string]uint64
	fn      func(domain.Event)
}

// follow adds dir to the watcher, then delivers whatever is already past the
// recorded baseline.
func (s *watchState) follow(w *fsnotify.Watcher, dir string) error {
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	last, err := lastSeq(dir)
	if err != nil {
		return domain.StorageFailure("watch events", err)
	}
	return s.emitThrough(dir, last)
}

func (s *watchState) emitThrough(dir string, upto uint64) error {
	for seq := s.emitted[dir] + 1; seq <= upto; seq++ {
		se, err := readEventFile(filepath.Join(dir, eventFileName(seq)))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return domain.StorageFailure("watch events", fmt.Errorf("%s: event %d missing before %d", filepath.Base(dir), seq, upto))
			}
			return domain.StorageFailure("watch events", err)
		}
		s.fn(se.Event)
		s.emitted[dir] = seq
	}
	return nil
}
