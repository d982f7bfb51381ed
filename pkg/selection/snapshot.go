package selection

import "github.com/mahmoud-eltahawy/webls/pkg/models"

// Snapshot is a serializable copy of the clipboard state.
type Snapshot struct {
	Units []models.Unit `json:"units"`
	Mode  Mode          `json:"mode"`
}

// Snapshot returns the current selection and mode.
func (c *Clipboard) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{Units: c.unitsLocked(), Mode: c.mode}
}

// Restore replaces the state with s. A mode that the restored selection
// could not have entered is reset to Idle.
func (c *Clipboard) Restore(s Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.units = make(map[string]models.Unit, len(s.Units))
	for _, u := range s.Units {
		c.units[u.Path] = u
	}
	c.mode = s.Mode
	if c.mode < Idle || c.mode > Cut || c.checkFilesLocked() != nil {
		c.mode = Idle
	}
}
