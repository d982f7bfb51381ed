// Package models contains the data types shared by the locker server and client.
package models

import (
	"encoding/json"
	"fmt"
	"path"
	"sort"
)

// Kind classifies a filesystem entry for display.
type Kind int

// Kinds in display order: directories first, plain files last.
const (
	KindDirectory Kind = iota
	KindVideo
	KindAudio
	KindFile
)

var kindNames = map[Kind]string{
	KindDirectory: "directory",
	KindVideo:     "video",
	KindAudio:     "audio",
	KindFile:      "file",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind maps a wire name back to a Kind.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown kind %q", s)
}

func (k Kind) MarshalJSON() ([]byte, error) {
	s, ok := kindNames[k]
	if !ok {
		return nil, fmt.Errorf("unknown kind %d", int(k))
	}
	return json.Marshal(s)
}

func (k *Kind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseKind(s)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Unit is one filesystem entry as shown to the user. Path is relative to
// the sandbox root, slash separated, without a leading slash.
type Unit struct {
	Path string `json:"path"`
	Kind Kind   `json:"kind"`
	Size int64  `json:"size,omitempty"`
}

// Name returns the last element of the unit's path.
func (u Unit) Name() string {
	if u.Path == "" {
		return ""
	}
	return path.Base(u.Path)
}

// IsDir reports whether the unit is a directory.
func (u Unit) IsDir() bool {
	return u.Kind == KindDirectory
}

// Equal compares units by path only.
func (u Unit) Equal(other Unit) bool {
	return u.Path == other.Path
}

// Less orders units by kind, then by name.
func (u Unit) Less(other Unit) bool {
	if u.Kind != other.Kind {
		return u.Kind < other.Kind
	}
	if u.Name() != other.Name() {
		return u.Name() < other.Name()
	}
	return u.Path < other.Path
}

// SortUnits sorts units in display order in place.
func SortUnits(units []Unit) {
	sort.SliceStable(units, func(i, j int) bool {
		return units[i].Less(units[j])
	})
}

// Paths returns the paths of the given units.
func Paths(units []Unit) []string {
	paths := make([]string, len(units))
	for i, u := range units {
		paths[i] = u.Path
	}
	return paths
}
