// Package selection holds the client's selected entries and the clipboard
// mode a paste resolves into a copy or a move.
//
// Invariant: the mode is Idle whenever the selection is empty. Entering
// Copy or Cut replaces the previous mode.
package selection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/mahmoud-eltahawy/webls/pkg/logger"
	"github.com/mahmoud-eltahawy/webls/pkg/models"
)

var (
	ErrPasteDisabled     = errors.New("paste disabled: clipboard is idle")
	ErrEmptySelection    = errors.New("selection is empty")
	ErrContainsDirectory = errors.New("selection contains a directory")
	ErrBusy              = errors.New("operation already in progress")
)

// Mode is the pending clipboard operation.
type Mode int

const (
	Idle Mode = iota
	Copy
	Cut
)

var modeNames = [...]string{"idle", "copy", "cut"}

func (m Mode) String() string {
	if m < 0 || int(m) >= len(modeNames) {
		return fmt.Sprintf("mode(%d)", int(m))
	}
	return modeNames[m]
}

func (m Mode) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

func (m *Mode) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	for i, name := range modeNames {
		if name == s {
			*m = Mode(i)
			return nil
		}
	}
	return fmt.Errorf("unknown clipboard mode %q", s)
}

// State is derived from the selection and the mode.
type State int

const (
	Empty State = iota
	Selecting
	ClipboardCopy
	ClipboardCut
)

func (s State) String() string {
	switch s {
	case Empty:
		return "empty"
	case Selecting:
		return "selecting"
	case ClipboardCopy:
		return "clipboard-copy"
	case ClipboardCut:
		return "clipboard-cut"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Operations performs the filesystem side of paste and delete.
type Operations interface {
	Copy(ctx context.Context, sources []string, dest string) error
	Move(ctx context.Context, sources []string, dest string) error
	Remove(ctx context.Context, paths []string) error
}

// Invalidator is told that the current listing is stale.
type Invalidator interface {
	Invalidate()
}

// Clipboard is the selection state machine. It is safe for concurrent use.
type Clipboard struct {
	ops     Operations
	refresh Invalidator

	mu       sync.Mutex
	units    map[string]models.Unit
	mode     Mode
	pasting  bool
	deleting bool
}

// New creates an empty clipboard. refresh may be nil.
func New(ops Operations, refresh Invalidator) *Clipboard {
	return &Clipboard{
		ops:     ops,
		refresh: refresh,
		units:   make(map[string]models.Unit),
	}
}

// Toggle adds the unit if absent and removes it otherwise. Removing the
// last unit resets the mode.
func (c *Clipboard) Toggle(u models.Unit) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.units[u.Path]; ok {
		delete(c.units, u.Path)
		if len(c.units) == 0 {
			c.mode = Idle
		}
		return
	}
	c.units[u.Path] = u
}

// Clear empties the selection and resets the mode.
func (c *Clipboard) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearLocked()
}

func (c *Clipboard) clearLocked() {
	c.units = make(map[string]models.Unit)
	c.mode = Idle
}

// OnNavigate is called when the displayed directory changes. Only an Idle
// selection is cleared: it belongs to the directory it was made in. A held
// Copy or Cut clipboard is kept so it can be pasted into the new directory.
func (c *Clipboard) OnNavigate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode == Idle {
		c.clearLocked()
	}
}

// EnterCopy holds the selection for a copy.
func (c *Clipboard) EnterCopy() error {
	return c.enter(Copy)
}

// EnterCut holds the selection for a move.
func (c *Clipboard) EnterCut() error {
	return c.enter(Cut)
}

func (c *Clipboard) enter(m Mode) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkFilesLocked(); err != nil {
		return err
	}
	c.mode = m
	return nil
}

func (c *Clipboard) checkFilesLocked() error {
	if len(c.units) == 0 {
		return ErrEmptySelection
	}
	if c.hasDirsLocked() {
		return ErrContainsDirectory
	}
	return nil
}

// Paste copies or moves the held entries into dest, depending on the mode.
// Whatever the outcome, the selection is cleared and the listing
// invalidated afterwards.
func (c *Clipboard) Paste(ctx context.Context, dest string) error {
	c.mu.Lock()
	mode := c.mode
	switch {
	case mode == Idle:
		c.mu.Unlock()
		return ErrPasteDisabled
	case c.pasting:
		c.mu.Unlock()
		return ErrBusy
	}
	if c.hasDirsLocked() {
		c.mu.Unlock()
		return ErrContainsDirectory
	}
	paths := c.pathsLocked()
	c.pasting = true
	c.mu.Unlock()

	var err error
	if mode == Copy {
		err = c.ops.Copy(ctx, paths, dest)
	} else {
		err = c.ops.Move(ctx, paths, dest)
	}

	c.finish(&c.pasting)
	if err != nil {
		logger.Warn("paste failed",
			zap.String("mode", mode.String()),
			zap.Strings("sources", paths),
			zap.String("destination", dest),
			zap.Error(err))
		return fmt.Errorf("%s into %q: %w", mode, dest, err)
	}
	logger.Debug("pasted",
		zap.String("mode", mode.String()),
		zap.Int("count", len(paths)),
		zap.String("destination", dest))
	return nil
}

// Delete removes the selected entries. It does not need a clipboard mode.
func (c *Clipboard) Delete(ctx context.Context) error {
	c.mu.Lock()
	if c.deleting {
		c.mu.Unlock()
		return ErrBusy
	}
	if err := c.checkFilesLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	paths := c.pathsLocked()
	c.deleting = true
	c.mu.Unlock()

	err := c.ops.Remove(ctx, paths)

	c.finish(&c.deleting)
	if err != nil {
		logger.Warn("delete failed", zap.Strings("paths", paths), zap.Error(err))
		return fmt.Errorf("delete: %w", err)
	}
	logger.Debug("deleted", zap.Int("count", len(paths)))
	return nil
}

func (c *Clipboard) finish(busy *bool) {
	c.mu.Lock()
	c.clearLocked()
	*busy = false
	c.mu.Unlock()

	if c.refresh != nil {
		c.refresh.Invalidate()
	}
}

// Busy reports whether a paste or a delete is in flight.
func (c *Clipboard) Busy() (pasting, deleting bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pasting, c.deleting
}

// Mode returns the current clipboard mode.
func (c *Clipboard) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// State returns the derived state.
func (c *Clipboard) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case len(c.units) == 0:
		return Empty
	case c.mode == Copy:
		return ClipboardCopy
	case c.mode == Cut:
		return ClipboardCut
	}
	return Selecting
}

// Contains reports whether a path is selected.
func (c *Clipboard) Contains(p string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.units[p]
	return ok
}

// Len returns the number of selected entries.
func (c *Clipboard) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.units)
}

// Selected returns the selection in display order.
func (c *Clipboard) Selected() []models.Unit {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unitsLocked()
}

// HasDirs reports whether any selected entry is a directory.
func (c *Clipboard) HasDirs() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasDirsLocked()
}

func (c *Clipboard) hasDirsLocked() bool {
	for _, u := range c.units {
		if u.IsDir() {
			return true
		}
	}
	return false
}

func (c *Clipboard) unitsLocked() []models.Unit {
	units := make([]models.Unit, 0, len(c.units))
	for _, u := range c.units {
		units = append(units, u)
	}
	models.SortUnits(units)
	return units
}

func (c *Clipboard) pathsLocked() []string {
	return models.Paths(c.unitsLocked())
}
