// Package lister enumerates the direct children of a sandboxed directory
// and classifies each entry for display.
package lister

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mahmoud-eltahawy/webls/internal/metrics"
	"github.com/mahmoud-eltahawy/webls/internal/sandbox"
	"github.com/mahmoud-eltahawy/webls/pkg/models"
)

var videoExts = map[string]bool{
	".mp4": true, ".mkv": true, ".webm": true, ".avi": true, ".mov": true,
	".m4v": true, ".wmv": true, ".flv": true, ".mpg": true, ".mpeg": true,
	".3gp": true,
}

var audioExts = map[string]bool{
	".mp3": true, ".flac": true, ".wav": true, ".ogg": true, ".m4a": true,
	".aac": true, ".opus": true, ".wma": true, ".aiff": true,
}

// Config holds Lister settings.
type Config struct {
	ShowHidden bool
}

// Lister reads directories inside a sandbox. Concurrent requests for the
// same directory share one read.
type Lister struct {
	sb         *sandbox.Sandbox
	showHidden bool
	group      singleflight.Group
}

// New creates a Lister bound to sb.
func New(sb *sandbox.Sandbox, cfg Config) *Lister {
	return &Lister{sb: sb, showHidden: cfg.ShowHidden}
}

// List returns the immediate children of dir, unsorted. It fails with
// ErrNotFound if dir does not exist and ErrNotADirectory if it is a file.
func (l *Lister) List(ctx context.Context, dir string) ([]models.Unit, error) {
	abs, err := l.sb.Resolve(dir)
	if err != nil {
		return nil, err
	}
	rel, err := l.sb.Rel(abs)
	if err != nil {
		return nil, err
	}

	ch := l.group.DoChan(abs, func() (any, error) {
		start := time.Now()
		units, err := l.read(abs, rel)
		metrics.RecordList(time.Since(start), err == nil)
		return units, err
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		shared := res.Val.([]models.Unit)
		units := make([]models.Unit, len(shared))
		copy(units, shared)
		return units, nil
	}
}

func (l *Lister) read(abs, rel string) ([]models.Unit, error) {
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("list %s: %w", rel, models.ErrNotFound)
		}
		return nil, fmt.Errorf("list %s: %w: %w", rel, models.ErrIO, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("list %s: %w", rel, models.ErrNotADirectory)
	}

	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w: %w", rel, models.ErrIO, err)
	}

	units := make([]models.Unit, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if !l.showHidden && strings.HasPrefix(name, ".") {
			continue
		}
		// Follow symlinks so links are shown as what they point at.
		fi, err := os.Stat(filepath.Join(abs, name))
		if err != nil {
			// Dangling link or entry removed mid-listing.
			continue
		}
		u := models.Unit{Path: path.Join(rel, name), Kind: Classify(name, fi.IsDir())}
		if !fi.IsDir() {
			u.Size = fi.Size()
		}
		units = append(units, u)
	}
	return units, nil
}

// Classify maps a directory entry to its display kind: directories first,
// then media by extension, then everything else as a plain file.
func Classify(name string, isDir bool) models.Kind {
	if isDir {
		return models.KindDirectory
	}
	ext := strings.ToLower(filepath.Ext(name))
	switch {
	case videoExts[ext]:
		return models.KindVideo
	case audioExts[ext]:
		return models.KindAudio
	}
	if ext == "" {
		return models.KindFile
	}
	mt := mime.TypeByExtension(ext)
	switch {
	case strings.HasPrefix(mt, "video/"):
		return models.KindVideo
	case strings.HasPrefix(mt, "audio/"):
		return models.KindAudio
	}
	return models.KindFile
}
