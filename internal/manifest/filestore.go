package manifest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"caravel/pkg/logging"
)

const headFileName = "HEAD"

// FileStore is a file-backed Store: one directory per unit, one yaml file
// per revision, and a HEAD pointer file naming the current head sequence.
// In production the root is a git worktree; the store itself only needs a
// directory.
//
// Appends are serialized by an in-process mutex and validated against the
// on-disk head, so concurrent appends resolve by conflict-and-retry, never
// by overwrite. The HEAD pointer is the source of truth: a revision file
// without a HEAD update (crashed append) is invisible and gets overwritten
// by the retry that re-earns the same sequence number.
type FileStore struct {
	mu sync.Mutex

	// root is the store's base directory.
	root string

	// debounce is how long the watcher waits for additional writes before
	// emitting a head-changed event.
	debounce time.Duration

	// pendingEvents tracks debounced head events per unit.
	pendingEvents map[string]*time.Timer
	watchMu       sync.Mutex
}

// NewFileStore creates the store, creating root if needed.
func NewFileStore(root string, debounce time.Duration) (*FileStore, error) {
	if debounce == 0 {
		debounce = 500 * time.Millisecond
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("creating manifest store root: %w", err)
	}
	return &FileStore{
		root:          root,
		debounce:      debounce,
		pendingEvents: make(map[string]*time.Timer),
	}, nil
}

func (s *FileStore) unitDir(unit string) string {
	return filepath.Join(s.root, unit)
}

func (s *FileStore) revisionPath(unit string, seq int64) string {
	return filepath.Join(s.unitDir(unit), fmt.Sprintf("revision-%06d.yaml", seq))
}

// headSeq reads the HEAD pointer for a unit; 0 means no history.
func (s *FileStore) headSeq(unit string) (int64, error) {
	data, err := os.ReadFile(filepath.Join(s.unitDir(unit), headFileName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	seq, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt HEAD for unit %s: %w", unit, err)
	}
	return seq, nil
}

// Head implements Store.
func (s *FileStore) Head(ctx context.Context, unit string) (Revision, error) {
	if err := ctx.Err(); err != nil {
		return Revision{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seq, err := s.headSeq(unit)
	if err != nil {
		return Revision{}, err
	}
	if seq == 0 {
		return Revision{}, fmt.Errorf("head of %s: %w", unit, ErrNotFound)
	}
	return s.readRevision(unit, seq)
}

// Get implements Store.
func (s *FileStore) Get(ctx context.Context, unit string, seq int64) (Revision, error) {
	if err := ctx.Err(); err != nil {
		return Revision{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readRevision(unit, seq)
}

func (s *FileStore) readRevision(unit string, seq int64) (Revision, error) {
	data, err := os.ReadFile(s.revisionPath(unit, seq))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Revision{}, fmt.Errorf("revision %d of %s: %w", seq, unit, ErrNotFound)
		}
		return Revision{}, err
	}

	var rev Revision
	if err := yaml.Unmarshal(data, &rev); err != nil {
		return Revision{}, fmt.Errorf("corrupt revision %d of %s: %w", seq, unit, err)
	}
	return rev, nil
}

// Append implements Store. The sequence number is assigned here, from the
// on-disk head, which keeps per-unit history strictly increasing and
// gapless no matter how many writers race.
func (s *FileStore) Append(ctx context.Context, unit string, priorSeq int64, rev Revision) (int64, error) {
	// Checked before any write so a cancelled append has no side effect.
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	head, err := s.headSeq(unit)
	if err != nil {
		return 0, err
	}
	if head != priorSeq {
		return 0, fmt.Errorf("append to %s: head is %d, expected %d: %w", unit, head, priorSeq, ErrConflict)
	}

	seq := head + 1
	rev.Unit = unit
	rev.Seq = seq
	rev.Parent = head
	if rev.CreatedAt.IsZero() {
		rev.CreatedAt = time.Now().UTC()
	}

	if err := os.MkdirAll(s.unitDir(unit), 0755); err != nil {
		return 0, err
	}

	data, err := yaml.Marshal(rev)
	if err != nil {
		return 0, err
	}

	// Temp-file-and-rename for both writes; readers never see a torn file.
	if err := writeFileAtomic(s.revisionPath(unit, seq), data); err != nil {
		return 0, err
	}
	if err := writeFileAtomic(filepath.Join(s.unitDir(unit), headFileName), []byte(strconv.FormatInt(seq, 10))); err != nil {
		return 0, err
	}

	logging.Debug("Manifest", "Appended revision %d for %s (commit %s)", seq, unit, rev.Commit)
	return seq, nil
}

// Units implements Store.
func (s *FileStore) Units(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}

	var units []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(s.root, e.Name(), headFileName)); err == nil {
			units = append(units, e.Name())
		}
	}
	return units, nil
}

// Watch implements Store using fsnotify on the store root and unit
// directories. HEAD writes are debounced per unit before an event is
// emitted.
func (s *FileStore) Watch(ctx context.Context, events chan<- HeadEvent) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	if err := watcher.Add(s.root); err != nil {
		watcher.Close()
		return err
	}
	// Watch existing unit directories; new ones are added as they appear.
	entries, err := os.ReadDir(s.root)
	if err == nil {
		for _, e := range entries {
			if e.IsDir() {
				if err := watcher.Add(filepath.Join(s.root, e.Name())); err != nil {
					logging.Warn("Manifest", "Failed to watch unit dir %s: %v", e.Name(), err)
				}
			}
		}
	}

	go s.processWatchEvents(ctx, watcher, events)

	logging.Info("Manifest", "Watching %s for head changes", s.root)
	return nil
}

func (s *FileStore) processWatchEvents(ctx context.Context, watcher *fsnotify.Watcher, events chan<- HeadEvent) {
	defer watcher.Close()
	defer s.cleanupPendingEvents()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			s.handleFsEvent(event, watcher, events)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logging.Error("Manifest", err, "Manifest store watcher error")
		}
	}
}

func (s *FileStore) handleFsEvent(event fsnotify.Event, watcher *fsnotify.Watcher, events chan<- HeadEvent) {
	// A new unit directory appeared: start watching it. The first append
	// writes HEAD right after creating the directory, which can land before
	// the watch is in place, so an existing HEAD counts as a head change.
	if event.Op&fsnotify.Create == fsnotify.Create {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := watcher.Add(event.Name); err != nil {
				logging.Warn("Manifest", "Failed to watch new unit dir %s: %v", event.Name, err)
				return
			}
			if _, err := os.Stat(filepath.Join(event.Name, headFileName)); err == nil {
				s.debounceHeadEvent(filepath.Base(event.Name), events)
			}
			return
		}
	}

	// Only HEAD pointer updates signal a head change.
	if filepath.Base(event.Name) != headFileName {
		return
	}
	if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}

	unit := filepath.Base(filepath.Dir(event.Name))
	s.debounceHeadEvent(unit, events)
}

// debounceHeadEvent coalesces rapid successive HEAD writes into one event.
func (s *FileStore) debounceHeadEvent(unit string, events chan<- HeadEvent) {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()

	if timer, ok := s.pendingEvents[unit]; ok {
		timer.Stop()
	}

	s.pendingEvents[unit] = time.AfterFunc(s.debounce, func() {
		s.watchMu.Lock()
		delete(s.pendingEvents, unit)
		s.watchMu.Unlock()

		seq, err := s.headSeq(unit)
		if err != nil || seq == 0 {
			return
		}

		select {
		case events <- HeadEvent{Unit: unit, Seq: seq, Timestamp: time.Now()}:
			logging.Debug("Manifest", "Emitted head event for %s (seq %d)", unit, seq)
		default:
			logging.Warn("Manifest", "Head event channel full, dropping event for %s", unit)
		}
	})
}

func (s *FileStore) cleanupPendingEvents() {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()

	for _, timer := range s.pendingEvents {
		timer.Stop()
	}
	s.pendingEvents = make(map[string]*time.Timer)
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
