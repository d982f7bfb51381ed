package fileops

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"

	"github.com/mahmoud-eltahawy/webls/pkg/models"
)

const uploadChunkSize = 32 * 1024

// PartReader yields multipart parts in stream order. *multipart.Reader
// satisfies it.
type PartReader interface {
	NextPart() (*multipart.Part, error)
}

// FieldResult is the outcome of writing one upload field.
type FieldResult struct {
	Path  string
	Bytes int64
	Err   error
}

// UploadReport lists every field seen in an upload, in stream order.
type UploadReport struct {
	Fields []FieldResult
}

// Err returns the first field error, or nil.
func (r *UploadReport) Err() error {
	for _, f := range r.Fields {
		if f.Err != nil {
			return f.Err
		}
	}
	return nil
}

// Written returns the paths of fields that were fully written.
func (r *UploadReport) Written() []string {
	var paths []string
	for _, f := range r.Fields {
		if f.Err == nil {
			paths = append(paths, f.Path)
		}
	}
	return paths
}

// Upload writes each multipart field to the file named by its form name,
// creating or truncating it. Fields are independent: a failing field is
// drained and recorded, and later fields are still written. Earlier writes
// are never rolled back. The returned error is the first field error, or a
// stream error that prevented reading further parts.
func (o *FileOps) Upload(ctx context.Context, parts PartReader) (*UploadReport, error) {
	report := &UploadReport{}
	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		part, err := parts.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return report, fmt.Errorf("read multipart stream: %w: %w", models.ErrBadRequest, err)
		}

		name := part.FormName()
		n, werr := o.writeField(ctx, name, part)
		if werr != nil {
			io.Copy(io.Discard, part)
		}
		part.Close()
		report.Fields = append(report.Fields, FieldResult{Path: name, Bytes: n, Err: werr})
	}
	return report, report.Err()
}

func (o *FileOps) writeField(ctx context.Context, name string, src io.Reader) (int64, error) {
	if name == "" {
		return 0, fmt.Errorf("upload field without a name: %w", models.ErrBadRequest)
	}
	abs, err := o.sb.Resolve(name)
	if err != nil {
		return 0, err
	}
	if abs == o.sb.Root() {
		return 0, fmt.Errorf("upload to root: %w", models.ErrIsDirectory)
	}

	f, err := os.OpenFile(abs, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return 0, Classify(fmt.Errorf("create %s: %w", name, err))
	}
	defer f.Close()

	w := bufio.NewWriterSize(f, uploadChunkSize)
	buf := make([]byte, uploadChunkSize)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		n, rerr := src.Read(buf)
		if n > 0 {
			if o.maxUploadSize > 0 && written+int64(n) > o.maxUploadSize {
				return written, fmt.Errorf("%s exceeds %d bytes: %w", name, o.maxUploadSize, models.ErrBadRequest)
			}
			if _, err := w.Write(buf[:n]); err != nil {
				return written, Classify(fmt.Errorf("write %s: %w", name, err))
			}
			if err := w.Flush(); err != nil {
				return written, Classify(fmt.Errorf("flush %s: %w", name, err))
			}
			written += int64(n)
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			return written, fmt.Errorf("read field %s: %w: %w", name, models.ErrBadRequest, rerr)
		}
	}
	if err := f.Close(); err != nil {
		return written, Classify(fmt.Errorf("close %s: %w", name, err))
	}
	return written, nil
}
