package fileops

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/mahmoud-eltahawy/webls/internal/sandbox"
	"github.com/mahmoud-eltahawy/webls/pkg/models"
)

func setup(t *testing.T) (*FileOps, string) {
	t.Helper()
	sb, err := sandbox.New(t.TempDir())
	if err != nil {
		t.Fatalf("sandbox: %v", err)
	}
	return New(sb, Config{}), sb.Root()
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func readFile(t *testing.T, root, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		t.Fatalf("read %s: %v", rel, err)
	}
	return string(data)
}

func exists(root, rel string) bool {
	_, err := os.Lstat(filepath.Join(root, filepath.FromSlash(rel)))
	return err == nil
}

func TestRemove(t *testing.T) {
	ops, root := setup(t)
	writeFile(t, root, "a.txt", "a")
	writeFile(t, root, "docs/b.txt", "b")

	if err := ops.Remove(context.Background(), []string{"a.txt", "docs/b.txt"}); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if exists(root, "a.txt") || exists(root, "docs/b.txt") {
		t.Error("files should be gone")
	}
	if !exists(root, "docs") {
		t.Error("parent directory should remain")
	}
}

func TestRemoveStopsAtMissingPath(t *testing.T) {
	ops, root := setup(t)
	writeFile(t, root, "first.txt", "1")
	writeFile(t, root, "third.txt", "3")

	err := ops.Remove(context.Background(), []string{"first.txt", "missing.txt", "third.txt"})
	if !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	var be *BatchError
	if !errors.As(err, &be) {
		t.Fatalf("expected *BatchError, got %T", err)
	}
	if be.Index != 1 || be.Path != "missing.txt" {
		t.Errorf("expected failure at index 1 (missing.txt), got %d (%s)", be.Index, be.Path)
	}
	if !reflect.DeepEqual(be.Completed, []string{"first.txt"}) {
		t.Errorf("unexpected completed list: %v", be.Completed)
	}

	if exists(root, "first.txt") {
		t.Error("entry before the failure should be deleted")
	}
	if got := readFile(t, root, "third.txt"); got != "3" {
		t.Errorf("entry after the failure should be untouched, got %q", got)
	}
}

func TestRemoveRefusesDirectory(t *testing.T) {
	ops, root := setup(t)
	if err := os.Mkdir(filepath.Join(root, "dir"), 0755); err != nil {
		t.Fatal(err)
	}

	err := ops.Remove(context.Background(), []string{"dir"})
	if !errors.Is(err, models.ErrIsDirectory) {
		t.Fatalf("expected ErrIsDirectory, got %v", err)
	}
	if !exists(root, "dir") {
		t.Error("directory must not be removed")
	}
}

func TestRemoveRejectsEscape(t *testing.T) {
	ops, _ := setup(t)
	err := ops.Remove(context.Background(), []string{"../../etc/passwd"})
	if !errors.Is(err, models.ErrPathEscape) {
		t.Fatalf("expected ErrPathEscape, got %v", err)
	}
}

func TestCopy(t *testing.T) {
	ops, root := setup(t)
	writeFile(t, root, "src/a.txt", "alpha")
	writeFile(t, root, "src/b.txt", "beta")
	writeFile(t, root, "dest/b.txt", "old")

	if err := ops.Copy(context.Background(), []string{"src/a.txt", "src/b.txt"}, "dest"); err != nil {
		t.Fatalf("Copy: %v", err)
	}

	if got := readFile(t, root, "dest/a.txt"); got != "alpha" {
		t.Errorf("dest/a.txt = %q", got)
	}
	if got := readFile(t, root, "dest/b.txt"); got != "beta" {
		t.Errorf("existing destination should be overwritten, got %q", got)
	}
	if !exists(root, "src/a.txt") || !exists(root, "src/b.txt") {
		t.Error("copy must keep sources")
	}
}

func TestCopyOntoItself(t *testing.T) {
	ops, root := setup(t)
	writeFile(t, root, "dir/a.txt", "keep me")

	err := ops.Copy(context.Background(), []string{"dir/a.txt"}, "dir")
	if !errors.Is(err, models.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	if got := readFile(t, root, "dir/a.txt"); got != "keep me" {
		t.Errorf("source must be intact, got %q", got)
	}
}

func TestCopyErrors(t *testing.T) {
	ops, root := setup(t)
	writeFile(t, root, "a.txt", "a")
	writeFile(t, root, "file", "f")
	if err := os.Mkdir(filepath.Join(root, "dir"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(root, "dest"), 0755); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		sources []string
		dest    string
		want    error
		index   int
	}{
		{"missing source", []string{"nope.txt"}, "dest", models.ErrNotFound, 0},
		{"directory source", []string{"a.txt", "dir"}, "dest", models.ErrIsDirectory, 1},
		{"missing destination", []string{"a.txt"}, "nowhere", models.ErrNotFound, -1},
		{"file destination", []string{"a.txt"}, "file", models.ErrNotADirectory, -1},
		{"escaping destination", []string{"a.txt"}, "../out", models.ErrPathEscape, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ops.Copy(context.Background(), tt.sources, tt.dest)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			var be *BatchError
			if !errors.As(err, &be) || be.Index != tt.index {
				t.Errorf("expected batch error at index %d, got %v", tt.index, err)
			}
		})
	}
}

func TestTransferRefusesLinkOutOfRoot(t *testing.T) {
	for _, op := range []string{"copy", "move"} {
		t.Run(op, func(t *testing.T) {
			ops, root := setup(t)
			outside := filepath.Join(t.TempDir(), "victim.txt")
			if err := os.WriteFile(outside, []byte("original"), 0644); err != nil {
				t.Fatal(err)
			}
			writeFile(t, root, "src/x.txt", "attacker")
			if err := os.Mkdir(filepath.Join(root, "dest"), 0755); err != nil {
				t.Fatal(err)
			}
			if err := os.Symlink(outside, filepath.Join(root, "dest", "x.txt")); err != nil {
				t.Skipf("symlinks unsupported: %v", err)
			}

			var err error
			if op == "copy" {
				err = ops.Copy(context.Background(), []string{"src/x.txt"}, "dest")
			} else {
				err = ops.Move(context.Background(), []string{"src/x.txt"}, "dest")
			}
			if !errors.Is(err, models.ErrPathEscape) {
				t.Fatalf("expected ErrPathEscape, got %v", err)
			}
			data, rerr := os.ReadFile(outside)
			if rerr != nil {
				t.Fatal(rerr)
			}
			if string(data) != "original" {
				t.Errorf("file outside root was overwritten: %q", data)
			}
			if got := readFile(t, root, "src/x.txt"); got != "attacker" {
				t.Errorf("source should be untouched, got %q", got)
			}
		})
	}
}

func TestMove(t *testing.T) {
	ops, root := setup(t)
	writeFile(t, root, "x.txt", "payload")
	writeFile(t, root, "y.txt", "second")
	if err := os.Mkdir(filepath.Join(root, "dest"), 0755); err != nil {
		t.Fatal(err)
	}

	if err := ops.Move(context.Background(), []string{"x.txt", "y.txt"}, "dest"); err != nil {
		t.Fatalf("Move: %v", err)
	}
	if exists(root, "x.txt") || exists(root, "y.txt") {
		t.Error("sources should be deleted after move")
	}
	if got := readFile(t, root, "dest/x.txt"); got != "payload" {
		t.Errorf("dest/x.txt = %q", got)
	}
}

func TestMoveIntoSameDirectoryKeepsFile(t *testing.T) {
	ops, root := setup(t)
	writeFile(t, root, "dir/x.txt", "only copy")

	err := ops.Move(context.Background(), []string{"dir/x.txt"}, "dir")
	if !errors.Is(err, models.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	if got := readFile(t, root, "dir/x.txt"); got != "only copy" {
		t.Errorf("file must survive, got %q", got)
	}
}

func TestMoveDeleteFailureLeavesDuplicate(t *testing.T) {
	ops, root := setup(t)
	writeFile(t, root, "x.txt", "duplicated content")
	writeFile(t, root, "z.txt", "never reached")
	if err := os.Mkdir(filepath.Join(root, "dest"), 0755); err != nil {
		t.Fatal(err)
	}

	deleteErr := fmt.Errorf("injected: %w", os.ErrPermission)
	ops.removeFile = func(string) error { return deleteErr }

	err := ops.Move(context.Background(), []string{"x.txt", "z.txt"}, "dest")
	if !errors.Is(err, deleteErr) {
		t.Fatalf("expected injected error, got %v", err)
	}
	if !errors.Is(err, models.ErrIO) {
		t.Errorf("expected ErrIO classification, got %v", err)
	}

	src := readFile(t, root, "x.txt")
	dst := readFile(t, root, "dest/x.txt")
	if src != dst || src != "duplicated content" {
		t.Errorf("expected identical content at both locations, got %q and %q", src, dst)
	}
	if exists(root, "dest/z.txt") {
		t.Error("batch must stop after the failed entry")
	}
}

func TestMakeDirectory(t *testing.T) {
	ops, root := setup(t)
	writeFile(t, root, "file", "f")

	if err := ops.MakeDirectory(context.Background(), "new"); err != nil {
		t.Fatalf("MakeDirectory: %v", err)
	}
	if info, err := os.Stat(filepath.Join(root, "new")); err != nil || !info.IsDir() {
		t.Fatalf("expected directory, got %v", err)
	}

	tests := []struct {
		path string
		want error
	}{
		{"new", models.ErrAlreadyExists},
		{"", models.ErrAlreadyExists},
		{"missing/child", models.ErrNotFound},
		{"file/child", models.ErrNotADirectory},
		{"../escape", models.ErrPathEscape},
	}
	for _, tt := range tests {
		if err := ops.MakeDirectory(context.Background(), tt.path); !errors.Is(err, tt.want) {
			t.Errorf("MakeDirectory(%q): expected %v, got %v", tt.path, tt.want, err)
		}
	}
}

func multipartBody(t *testing.T, fields [][2]string) *multipart.Reader {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, f := range fields {
		w, err := mw.CreateFormFile(f[0], filepath.Base(f[0]))
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(f[1])); err != nil {
			t.Fatal(err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return multipart.NewReader(&buf, mw.Boundary())
}

func TestUpload(t *testing.T) {
	ops, root := setup(t)
	writeFile(t, root, "docs/old.txt", "previous content that is longer")

	report, err := ops.Upload(context.Background(), multipartBody(t, [][2]string{
		{"docs/old.txt", "new"},
		{"fresh.bin", "0123456789"},
	}))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if len(report.Fields) != 2 {
		t.Fatalf("expected 2 fields, got %d", len(report.Fields))
	}
	if got := readFile(t, root, "docs/old.txt"); got != "new" {
		t.Errorf("existing file should be truncated, got %q", got)
	}
	if report.Fields[1].Bytes != 10 {
		t.Errorf("expected 10 bytes, got %d", report.Fields[1].Bytes)
	}
}

func TestUploadFieldsAreIndependent(t *testing.T) {
	ops, root := setup(t)

	report, err := ops.Upload(context.Background(), multipartBody(t, [][2]string{
		{"first.txt", "one"},
		{"../escape.txt", "bad"},
		{"missing/dir.txt", "bad"},
		{"last.txt", "three"},
	}))
	if !errors.Is(err, models.ErrPathEscape) {
		t.Fatalf("expected first field error to be ErrPathEscape, got %v", err)
	}
	if len(report.Fields) != 4 {
		t.Fatalf("expected 4 fields, got %d", len(report.Fields))
	}
	if !errors.Is(report.Fields[2].Err, models.ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing parent, got %v", report.Fields[2].Err)
	}
	if got := readFile(t, root, "first.txt"); got != "one" {
		t.Errorf("first.txt = %q", got)
	}
	if got := readFile(t, root, "last.txt"); got != "three" {
		t.Errorf("later fields should still be written, got %q", got)
	}
	if !reflect.DeepEqual(report.Written(), []string{"first.txt", "last.txt"}) {
		t.Errorf("unexpected written list: %v", report.Written())
	}
}

func TestUploadSizeLimit(t *testing.T) {
	sb, err := sandbox.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ops := New(sb, Config{MaxUploadSize: 4})

	report, err := ops.Upload(context.Background(), multipartBody(t, [][2]string{
		{"big.txt", "too large"},
		{"ok.txt", "tiny"},
	}))
	if !errors.Is(err, models.ErrBadRequest) {
		t.Fatalf("expected ErrBadRequest, got %v", err)
	}
	if report.Fields[1].Err != nil {
		t.Errorf("second field should succeed, got %v", report.Fields[1].Err)
	}
}
