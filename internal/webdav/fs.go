package webdav

import (
	"context"
	"os"
	"strings"

	"golang.org/x/net/webdav"

	"github.com/mahmoud-eltahawy/webls/internal/sandbox"
	"github.com/mahmoud-eltahawy/webls/pkg/models"
)

// SandboxFS is a webdav.FileSystem whose every name goes through the
// sandbox, so WebDAV clients get the same escape protection as the API.
type SandboxFS struct {
	sb *sandbox.Sandbox
}

var _ webdav.FileSystem = (*SandboxFS)(nil)

func (f *SandboxFS) resolve(name string) (string, error) {
	return f.sb.Resolve(strings.TrimPrefix(name, "/"))
}

func (f *SandboxFS) Mkdir(ctx context.Context, name string, perm os.FileMode) error {
	p, err := f.resolve(name)
	if err != nil {
		return err
	}
	return os.Mkdir(p, perm)
}

func (f *SandboxFS) OpenFile(ctx context.Context, name string, flag int, perm os.FileMode) (webdav.File, error) {
	p, err := f.resolve(name)
	if err != nil {
		return nil, err
	}
	return os.OpenFile(p, flag, perm)
}

func (f *SandboxFS) RemoveAll(ctx context.Context, name string) error {
	p, err := f.resolve(name)
	if err != nil {
		return err
	}
	if p == f.sb.Root() {
		return models.ErrPathEscape
	}
	return os.RemoveAll(p)
}

func (f *SandboxFS) Rename(ctx context.Context, oldName, newName string) error {
	oldPath, err := f.resolve(oldName)
	if err != nil {
		return err
	}
	newPath, err := f.resolve(newName)
	if err != nil {
		return err
	}
	if oldPath == f.sb.Root() || newPath == f.sb.Root() {
		return models.ErrPathEscape
	}
	return os.Rename(oldPath, newPath)
}

func (f *SandboxFS) Stat(ctx context.Context, name string) (os.FileInfo, error) {
	p, err := f.resolve(name)
	if err != nil {
		return nil, err
	}
	return os.Stat(p)
}
