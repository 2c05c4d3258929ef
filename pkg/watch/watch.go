// Package watch reports file system changes below a set of roots.
//
// A [Watcher] watches directory roots recursively, picking up directories
// created after it started, and can also watch single files. Events are
// delivered on a bounded channel; when the consumer falls behind, further
// events are dropped.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/macropower/watchdo/pkg/log"
)

// DefaultBufferSize is the default capacity of the event channel.
const DefaultBufferSize = 256

var (
	// ErrClosed is returned when adding a root to a closed [Watcher].
	ErrClosed = errors.New("watcher closed")

	// DefaultIgnoreDirs are directory names that are never watched.
	DefaultIgnoreDirs = []string{".git", ".hg", ".svn", ".idea", "node_modules", "__pycache__"}

	// DefaultIgnoreSuffixes are file name suffixes of editor and tool scratch
	// files whose changes are not reported.
	DefaultIgnoreSuffixes = []string{"~", ".swp", ".swx", ".pyc", ".pyo"}
)

// Event is a change below one of the watched roots.
type Event struct {
	// Path is the absolute path of the changed file or directory.
	Path string
	// Op is the kind of change.
	Op fsnotify.Op
}

func (e Event) String() string {
	return fmt.Sprintf("%s %q", e.Op, e.Path)
}

// Watcher watches roots for changes.
type Watcher struct {
	fsw            *fsnotify.Watcher
	events         chan Event
	errors         chan error
	done           chan struct{}
	dirs           map[string]struct{}
	files          map[string]struct{}
	ignoreDirs     []string
	ignoreSuffixes []string
	roots          []string
	bufferSize     int
	wg             sync.WaitGroup
	mu             sync.RWMutex
	closed         bool
}

// Option configures a [Watcher].
type Option func(*Watcher)

// WithBufferSize sets the capacity of the event channel.
func WithBufferSize(n int) Option {
	return func(w *Watcher) {
		w.bufferSize = n
	}
}

// WithIgnoreDirs replaces the directory names that are never watched.
func WithIgnoreDirs(names ...string) Option {
	return func(w *Watcher) {
		w.ignoreDirs = names
	}
}

// WithIgnoreSuffixes replaces the file name suffixes whose changes are not
// reported.
func WithIgnoreSuffixes(suffixes ...string) Option {
	return func(w *Watcher) {
		w.ignoreSuffixes = suffixes
	}
}

// New creates a new [Watcher] with no roots.
func New(opts ...Option) (*Watcher, error) {
	w := &Watcher{
		done:           make(chan struct{}),
		dirs:           make(map[string]struct{}),
		files:          make(map[string]struct{}),
		ignoreDirs:     DefaultIgnoreDirs,
		ignoreSuffixes: DefaultIgnoreSuffixes,
		bufferSize:     DefaultBufferSize,
	}
	for _, opt := range opts {
		opt(w)
	}

	if w.bufferSize <= 0 {
		w.bufferSize = DefaultBufferSize
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	w.fsw = fsw
	w.events = make(chan Event, w.bufferSize)
	w.errors = make(chan error, w.bufferSize)

	w.wg.Add(1)
	go w.loop()

	return w, nil
}

// Add starts watching root. Directories are watched recursively; for a file,
// only changes to that file are reported.
func (w *Watcher) Add(ctx context.Context, root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolve %q: %w", root, err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("add %q: %w", root, err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}

	if !info.IsDir() {
		err := w.watchDirLocked(filepath.Dir(abs))
		if err != nil {
			return err
		}

		w.files[abs] = struct{}{}

		log.WithContext(ctx).DebugContext(ctx, "added file watcher", slog.String("path", abs))

		return nil
	}

	w.roots = append(w.roots, abs)

	count, err := w.walkLocked(abs)
	if err != nil {
		return err
	}

	log.WithContext(ctx).DebugContext(ctx, "added directory watchers",
		slog.String("path", abs),
		slog.Int("count", count),
	)

	return nil
}

// Roots returns the watched directory roots and files.
func (w *Watcher) Roots() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	roots := slices.Clone(w.roots)
	for file := range w.files {
		roots = append(roots, file)
	}

	slices.Sort(roots)

	return roots
}

// Events returns the channel of change events. It is closed by
// [Watcher.Close].
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Errors returns the channel of watch errors. It is closed by
// [Watcher.Close].
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// Close stops the watcher and closes the event and error channels. It is safe
// to call more than once.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()

		return nil
	}

	w.closed = true
	close(w.done)
	w.mu.Unlock()

	w.wg.Wait()

	close(w.events)
	close(w.errors)

	err := w.fsw.Close()
	if err != nil {
		return fmt.Errorf("close fsnotify watcher: %w", err)
	}

	return nil
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return

		case evt, ok := <-w.fsw.Events:
			if !ok {
				return
			}

			w.handle(evt)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}

			w.sendError(err)
		}
	}
}

func (w *Watcher) handle(evt fsnotify.Event) {
	// Permission and timestamp changes do not change content.
	if evt.Op == fsnotify.Chmod {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.matchLocked(evt.Name) {
		return
	}

	if evt.Has(fsnotify.Create) {
		info, err := os.Stat(evt.Name)
		if err == nil && info.IsDir() && w.underRootLocked(evt.Name) {
			_, err := w.walkLocked(evt.Name)
			if err != nil {
				w.sendError(err)
			}
		}
	}

	select {
	case w.events <- Event{Path: evt.Name, Op: evt.Op}:
	default:
		// Full; the queued events already cause a restart.
	}
}

func (w *Watcher) matchLocked(path string) bool {
	if _, ok := w.files[path]; ok {
		return true
	}

	if !w.underRootLocked(path) {
		return false
	}

	base := filepath.Base(path)
	for _, suffix := range w.ignoreSuffixes {
		if strings.HasSuffix(base, suffix) {
			return false
		}
	}

	rel := path
	for _, root := range w.roots {
		if r, err := filepath.Rel(root, path); err == nil && !strings.HasPrefix(r, "..") {
			rel = r

			break
		}
	}

	for part := range strings.SplitSeq(rel, string(filepath.Separator)) {
		if slices.Contains(w.ignoreDirs, part) {
			return false
		}
	}

	return true
}

func (w *Watcher) underRootLocked(path string) bool {
	for _, root := range w.roots {
		if path == root || strings.HasPrefix(path, root+string(filepath.Separator)) {
			return true
		}
	}

	return false
}

func (w *Watcher) ignoredDir(path string) bool {
	return slices.Contains(w.ignoreDirs, filepath.Base(path))
}

func (w *Watcher) walkLocked(root string) (int, error) {
	count := 0

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Entries may vanish while walking.
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}

			return err
		}

		if !d.IsDir() {
			return nil
		}

		if path != root && w.ignoredDir(path) {
			return filepath.SkipDir
		}

		err = w.watchDirLocked(path)
		if err != nil {
			return err
		}

		count++

		return nil
	})
	if err != nil {
		return count, fmt.Errorf("walk %q: %w", root, err)
	}

	return count, nil
}

func (w *Watcher) watchDirLocked(dir string) error {
	if _, ok := w.dirs[dir]; ok {
		return nil
	}

	err := w.fsw.Add(dir)
	if err != nil {
		return fmt.Errorf("watch %q: %w", dir, err)
	}

	w.dirs[dir] = struct{}{}

	return nil
}

func (w *Watcher) sendError(err error) {
	select {
	case w.errors <- err:
	default:
	}
}
