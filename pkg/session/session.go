// Package session is the client's single store of UI state: the current
// directory, its listing, the selection clipboard and the refresh
// coordinator. Views read it and change it only through its methods.
package session

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/mahmoud-eltahawy/webls/pkg/logger"
	"github.com/mahmoud-eltahawy/webls/pkg/client"
	"github.com/mahmoud-eltahawy/webls/pkg/models"
	"github.com/mahmoud-eltahawy/webls/pkg/protocol"
	"github.com/mahmoud-eltahawy/webls/pkg/refresh"
	"github.com/mahmoud-eltahawy/webls/pkg/selection"
)

var (
	ErrLoginRequired   = errors.New("login required")
	ErrSelectionActive = errors.New("clear the selection first")
)

// Remote is the server API the session drives. *client.Client satisfies it.
type Remote interface {
	selection.Operations
	List(ctx context.Context, dir string) ([]models.Unit, error)
	MakeDirectory(ctx context.Context, p string) error
	Upload(ctx context.Context, files []client.UploadFile) (*protocol.UploadResponse, error)
	Login(ctx context.Context, password string) (*protocol.LoginResponse, error)
	HasCredential() bool
}

// Subscriber yields server change events. *client.EventStream satisfies it.
type Subscriber interface {
	Subscribe(ctx context.Context) <-chan protocol.ChangeEvent
}

// Options configures a session.
type Options struct {
	// OnListing is called whenever a fresh listing is published.
	OnListing func(dir string, units []models.Unit)
	// OnError is called when a background refresh fails.
	OnError func(dir string, err error)
	// Events, if set, is used by Watch.
	Events Subscriber
}

// Session owns all client state.
type Session struct {
	remote Remote
	opts   Options

	clip    *selection.Clipboard
	refresh *refresh.Coordinator

	mu      sync.RWMutex
	dir     string
	listing []models.Unit
	listErr error
}

// New creates a session at the root directory. Call Navigate or Refresh to
// load the first listing.
func New(remote Remote, opts Options) *Session {
	s := &Session{remote: remote, opts: opts}
	s.refresh = refresh.New(remote.List, s.publish, s.fail)
	s.clip = selection.New(guarded{s}, s.refresh)
	return s
}

// Close stops background refreshes.
func (s *Session) Close() {
	s.refresh.Close()
}

func (s *Session) publish(dir string, units []models.Unit) {
	s.mu.Lock()
	if dir != s.dir {
		s.mu.Unlock()
		return
	}
	sorted := make([]models.Unit, len(units))
	copy(sorted, units)
	models.SortUnits(sorted)
	s.listing = sorted
	s.listErr = nil
	s.mu.Unlock()

	if s.opts.OnListing != nil {
		s.opts.OnListing(dir, sorted)
	}
}

func (s *Session) fail(dir string, err error) {
	s.mu.Lock()
	if dir == s.dir {
		s.listErr = err
	}
	s.mu.Unlock()

	logger.Warn("listing failed", zap.String("dir", dir), zap.Error(err))
	if s.opts.OnError != nil {
		s.opts.OnError(dir, err)
	}
}

// CleanDir normalizes a client directory path. The root is "".
func CleanDir(dir string) string {
	dir = strings.Trim(path.Clean("/"+dir), "/")
	return dir
}

// Navigate changes the current directory. A plain selection is dropped; a
// held clipboard is kept. In-flight mutations are not cancelled.
func (s *Session) Navigate(dir string) {
	dir = CleanDir(dir)
	s.mu.Lock()
	changed := dir != s.dir
	s.dir = dir
	if changed {
		s.listing = nil
		s.listErr = nil
	}
	s.mu.Unlock()

	if changed {
		s.clip.OnNavigate()
	}
	s.refresh.SetDirectory(dir)
}

// Enter navigates into a child directory of the current listing.
func (s *Session) Enter(name string) error {
	u, err := s.lookup(name)
	if err != nil {
		return err
	}
	if !u.IsDir() {
		return fmt.Errorf("%w: %s", models.ErrNotADirectory, name)
	}
	s.Navigate(u.Path)
	return nil
}

// Back navigates to the parent directory.
func (s *Session) Back() {
	s.Navigate(path.Dir(s.Directory()))
}

// Home navigates to the root.
func (s *Session) Home() {
	s.Navigate("")
}

// Refresh re-lists the current directory in the background.
func (s *Session) Refresh() {
	s.refresh.Invalidate()
}

// Wait blocks until pending refreshes are done.
func (s *Session) Wait() {
	s.refresh.Wait()
}

// Directory returns the current directory.
func (s *Session) Directory() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dir
}

// Listing returns the current directory, its sorted listing and the last
// refresh error for it.
func (s *Session) Listing() (string, []models.Unit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	units := make([]models.Unit, len(s.listing))
	copy(units, s.listing)
	return s.dir, units, s.listErr
}

func (s *Session) lookup(name string) (models.Unit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.listing {
		if u.Name() == name || u.Path == name {
			return u, nil
		}
	}
	return models.Unit{}, fmt.Errorf("%w: %s", models.ErrNotFound, name)
}

// Selection returns the clipboard.
func (s *Session) Selection() *selection.Clipboard {
	return s.clip
}

// Toggle selects or deselects an entry of the current listing by name.
func (s *Session) Toggle(name string) error {
	u, err := s.lookup(name)
	if err != nil {
		return err
	}
	s.clip.Toggle(u)
	return nil
}

// Clear drops the selection and the clipboard mode.
func (s *Session) Clear() {
	s.clip.Clear()
}

// Copy holds the selection for a copy.
func (s *Session) Copy() error {
	return s.clip.EnterCopy()
}

// Cut holds the selection for a move.
func (s *Session) Cut() error {
	return s.clip.EnterCut()
}

// Paste copies or moves the held entries into the current directory.
func (s *Session) Paste(ctx context.Context) error {
	if !s.remote.HasCredential() {
		return ErrLoginRequired
	}
	return s.clip.Paste(ctx, s.Directory())
}

// Delete removes the selected entries.
func (s *Session) Delete(ctx context.Context) error {
	if !s.remote.HasCredential() {
		return ErrLoginRequired
	}
	return s.clip.Delete(ctx)
}

// MakeDirectory creates name in the current directory. It is only
// available while nothing is selected.
func (s *Session) MakeDirectory(ctx context.Context, name string) error {
	if s.clip.Len() > 0 {
		return ErrSelectionActive
	}
	if !s.remote.HasCredential() {
		return ErrLoginRequired
	}
	p := path.Join(s.Directory(), name)
	err := s.remote.MakeDirectory(ctx, p)
	s.refresh.Invalidate()
	return err
}

// Upload writes files into the current directory. File paths are taken
// relative to it.
func (s *Session) Upload(ctx context.Context, files []client.UploadFile) (*protocol.UploadResponse, error) {
	if !s.remote.HasCredential() {
		return nil, ErrLoginRequired
	}
	dir := s.Directory()
	placed := make([]client.UploadFile, len(files))
	for i, f := range files {
		placed[i] = client.UploadFile{Path: path.Join(dir, f.Path), Content: f.Content}
	}
	resp, err := s.remote.Upload(ctx, placed)
	s.refresh.Invalidate()
	return resp, err
}

// Login exchanges the shared secret for a credential.
func (s *Session) Login(ctx context.Context, password string) error {
	_, err := s.remote.Login(ctx, password)
	return err
}

// Watch invalidates the listing whenever the server reports a change in
// the current directory. It blocks until ctx is done.
func (s *Session) Watch(ctx context.Context) error {
	if s.opts.Events == nil {
		return errors.New("no event source configured")
	}
	for ev := range s.opts.Events.Subscribe(ctx) {
		if ev.Affects(s.Directory()) {
			logger.Debug("remote change", zap.String("type", ev.Type), zap.Strings("dirs", ev.Dirs))
			s.refresh.Invalidate()
		}
	}
	return ctx.Err()
}

// guarded refuses mutations until the remote holds a credential. Paste and
// Delete check first so a missing login does not cost the selection.
type guarded struct {
	s *Session
}

func (g guarded) Copy(ctx context.Context, sources []string, dest string) error {
	if !g.s.remote.HasCredential() {
		return ErrLoginRequired
	}
	return g.s.remote.Copy(ctx, sources, dest)
}

func (g guarded) Move(ctx context.Context, sources []string, dest string) error {
	if !g.s.remote.HasCredential() {
		return ErrLoginRequired
	}
	return g.s.remote.Move(ctx, sources, dest)
}

func (g guarded) Remove(ctx context.Context, paths []string) error {
	if !g.s.remote.HasCredential() {
		return ErrLoginRequired
	}
	return g.s.remote.Remove(ctx, paths)
}
