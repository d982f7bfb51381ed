// Package watcher reports changes made to the sandbox outside the API
// (shell, sync tools, other mounts) as change events.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/mahmoud-eltahawy/webls/internal/events"
	"github.com/mahmoud-eltahawy/webls/internal/logging"
	"github.com/mahmoud-eltahawy/webls/internal/metrics"
	"github.com/mahmoud-eltahawy/webls/internal/sandbox"
)

// Publisher receives coalesced change events.
type Publisher interface {
	Publish(events.Event)
}

// Watcher watches every directory under the sandbox root. fsnotify is not
// recursive, so directories created later are added as they appear.
type Watcher struct {
	sb       *sandbox.Sandbox
	pub      Publisher
	debounce time.Duration

	fsw  *fsnotify.Watcher
	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a watcher. Notifications arriving within debounce of each
// other are published as one event.
func New(sb *sandbox.Sandbox, pub Publisher, debounce time.Duration) *Watcher {
	if debounce == 0 {
		debounce = 250 * time.Millisecond
	}
	return &Watcher{
		sb:       sb,
		pub:      pub,
		debounce: debounce,
		done:     make(chan struct{}),
	}
}

// Start registers the directory tree and begins watching.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.fsw = fsw
	if err := w.addTree(w.sb.Root()); err != nil {
		fsw.Close()
		return err
	}

	w.wg.Add(1)
	go w.loop(ctx)
	return nil
}

// Stop stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Stop() {
	select {
	case <-w.done:
		return
	default:
		close(w.done)
	}
	w.wg.Wait()
	if w.fsw != nil {
		w.fsw.Close()
	}
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			// Entries may vanish while walking.
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if p != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(p); err != nil {
			logging.Named("watcher").Warn("watch directory failed", zap.String("dir", p), zap.Error(err))
		}
		return nil
	})
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()

	pending := make(map[string]struct{})
	var flush <-chan time.Time
	var timer *time.Timer

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			dir, ok := w.handle(ev)
			if !ok {
				continue
			}
			pending[dir] = struct{}{}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				flush = timer.C
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logging.Named("watcher").Warn("watcher error", zap.Error(err))
		case <-flush:
			w.publish(pending)
			pending = make(map[string]struct{})
			timer = nil
			flush = nil
		}
	}
}

// handle records a notification and returns the client path of the
// directory whose listing changed.
func (w *Watcher) handle(ev fsnotify.Event) (string, bool) {
	metrics.RecordWatcherEvent(opName(ev.Op))

	if ev.Has(fsnotify.Create) {
		if info, err := os.Lstat(ev.Name); err == nil && info.IsDir() {
			w.addTree(ev.Name)
		}
	}
	if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) {
		return "", false
	}

	dir, err := w.sb.Rel(filepath.Dir(ev.Name))
	if err != nil {
		return "", false
	}
	return dir, true
}

func (w *Watcher) publish(pending map[string]struct{}) {
	if len(pending) == 0 {
		return
	}
	dirs := make([]string, 0, len(pending))
	for d := range pending {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)
	logging.Named("watcher").Debug("external change", zap.Strings("dirs", dirs))
	w.pub.Publish(events.Event{Type: events.EventExternal, Dirs: dirs})
}

func opName(op fsnotify.Op) string {
	switch {
	case op.Has(fsnotify.Create):
		return "create"
	case op.Has(fsnotify.Remove):
		return "remove"
	case op.Has(fsnotify.Rename):
		return "rename"
	case op.Has(fsnotify.Write):
		return "write"
	default:
		return "chmod"
	}
}
