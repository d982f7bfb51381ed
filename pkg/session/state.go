package session

import "github.com/mahmoud-eltahawy/webls/pkg/selection"

// State is the part of a session worth keeping between runs.
type State struct {
	Dir       string             `json:"dir"`
	Selection selection.Snapshot `json:"selection"`
}

// Save returns the current directory and clipboard.
func (s *Session) Save() State {
	return State{Dir: s.Directory(), Selection: s.clip.Snapshot()}
}

// Restore puts the session back into a saved state and re-lists. The
// restored selection is kept even though the directory changes.
func (s *Session) Restore(st State) {
	dir := CleanDir(st.Dir)
	s.mu.Lock()
	s.dir = dir
	s.listing = nil
	s.listErr = nil
	s.mu.Unlock()

	s.clip.Restore(st.Selection)
	s.refresh.SetDirectory(dir)
}
