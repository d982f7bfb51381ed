// Package fileops performs the locker's filesystem mutations: remove, copy,
// move, directory creation and multipart upload. Every entry point resolves
// client paths through the sandbox before touching disk.
//
// Batch operations run their entries in order and stop at the first failure.
// Nothing is rolled back: a move whose delete half fails leaves the file at
// both source and destination.
package fileops

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/otiai10/copy"

	"github.com/mahmoud-eltahawy/webls/internal/sandbox"
	"github.com/mahmoud-eltahawy/webls/pkg/models"
)

// Config holds FileOps settings.
type Config struct {
	// MaxUploadSize caps the bytes written for a single upload field.
	// Zero means unlimited.
	MaxUploadSize int64
}

// FileOps mutates files inside a sandbox.
type FileOps struct {
	sb            *sandbox.Sandbox
	maxUploadSize int64

	removeFile func(string) error
}

// New creates a FileOps bound to sb.
func New(sb *sandbox.Sandbox, cfg Config) *FileOps {
	return &FileOps{
		sb:            sb,
		maxUploadSize: cfg.MaxUploadSize,
		removeFile:    os.Remove,
	}
}

// Remove deletes each file in order, stopping at the first failure.
// Directories are refused.
func (o *FileOps) Remove(ctx context.Context, paths []string) error {
	completed := make([]string, 0, len(paths))
	for i, p := range paths {
		if err := o.removeOne(ctx, p); err != nil {
			return &BatchError{Op: "remove", Path: p, Index: i, Completed: completed, Err: err}
		}
		completed = append(completed, p)
	}
	return nil
}

func (o *FileOps) removeOne(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	abs, err := o.sb.Resolve(p)
	if err != nil {
		return err
	}
	if _, err := o.regularFile(abs); err != nil {
		return err
	}
	return Classify(o.removeFile(abs))
}

// Copy copies each source file into destDir under its own name. An existing
// file of the same name is overwritten; copying a file onto itself fails
// with ErrAlreadyExists.
func (o *FileOps) Copy(ctx context.Context, sources []string, destDir string) error {
	return o.transfer(ctx, "copy", sources, destDir, false)
}

// Move copies each source into destDir and then deletes the source, one
// file at a time. It is not a rename: if the delete fails the file is left
// in both places and the batch stops.
func (o *FileOps) Move(ctx context.Context, sources []string, destDir string) error {
	return o.transfer(ctx, "move", sources, destDir, true)
}

func (o *FileOps) transfer(ctx context.Context, op string, sources []string, destDir string, deleteSource bool) error {
	if _, err := o.directory(destDir); err != nil {
		return &BatchError{Op: op, Path: destDir, Index: -1, Err: err}
	}

	completed := make([]string, 0, len(sources))
	for i, src := range sources {
		if err := o.transferOne(ctx, src, destDir, deleteSource); err != nil {
			return &BatchError{Op: op, Path: src, Index: i, Completed: completed, Err: err}
		}
		completed = append(completed, src)
	}
	return nil
}

func (o *FileOps) transferOne(ctx context.Context, src, destDir string, deleteSource bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	srcAbs, err := o.sb.Resolve(src)
	if err != nil {
		return err
	}
	if srcAbs == o.sb.Root() {
		return fmt.Errorf("root: %w", models.ErrIsDirectory)
	}
	srcInfo, err := o.regularFile(srcAbs)
	if err != nil {
		return err
	}

	// The target goes through the sandbox too: an existing link of the same
	// name must not carry the write outside the root.
	target, err := o.sb.Resolve(path.Join(destDir, filepath.Base(srcAbs)))
	if err != nil {
		return err
	}
	if targetInfo, err := os.Stat(target); err == nil {
		if os.SameFile(srcInfo, targetInfo) {
			return fmt.Errorf("%s is its own destination: %w", src, models.ErrAlreadyExists)
		}
		if targetInfo.IsDir() {
			return fmt.Errorf("destination %s: %w", filepath.Base(target), models.ErrIsDirectory)
		}
	}

	opts := copy.Options{
		OnSymlink:     func(string) copy.SymlinkAction { return copy.Deep },
		Sync:          true,
		PreserveTimes: true,
	}
	if err := copy.Copy(srcAbs, target, opts); err != nil {
		return Classify(fmt.Errorf("copy %s: %w", src, err))
	}

	if deleteSource {
		if err := o.removeFile(srcAbs); err != nil {
			return Classify(fmt.Errorf("delete %s after copy: %w", src, err))
		}
	}
	return nil
}

// MakeDirectory creates exactly one directory. The parent must exist.
func (o *FileOps) MakeDirectory(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	abs, err := o.sb.Resolve(p)
	if err != nil {
		return err
	}
	if abs == o.sb.Root() {
		return fmt.Errorf("root: %w", models.ErrAlreadyExists)
	}
	if err := os.Mkdir(abs, 0755); err != nil {
		return Classify(fmt.Errorf("mkdir %s: %w", p, err))
	}
	return nil
}

// regularFile stats abs (following a final symlink) and refuses
// directories.
func (o *FileOps) regularFile(abs string) (os.FileInfo, error) {
	info, err := os.Stat(abs)
	if err != nil {
		return nil, Classify(err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s: %w", filepath.Base(abs), models.ErrIsDirectory)
	}
	return info, nil
}

func (o *FileOps) directory(p string) (string, error) {
	abs, err := o.sb.Resolve(p)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", Classify(err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s: %w", p, models.ErrNotADirectory)
	}
	return abs, nil
}
