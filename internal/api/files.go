package api

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path"

	"go.uber.org/zap"

	"github.com/mahmoud-eltahawy/webls/internal/events"
	"github.com/mahmoud-eltahawy/webls/internal/fileops"
	"github.com/mahmoud-eltahawy/webls/internal/logging"
	"github.com/mahmoud-eltahawy/webls/internal/metrics"
	"github.com/mahmoud-eltahawy/webls/pkg/models"
	"github.com/mahmoud-eltahawy/webls/pkg/protocol"
)

// ─── Listing ────────────────────────────────────────────────────────────────

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	dir := r.PathValue("path")
	units, err := s.lister.List(r.Context(), dir)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	if units == nil {
		units = []models.Unit{}
	}
	s.sendJSON(w, http.StatusOK, protocol.ListResponse{Path: dir, Units: units})
}

// ─── Batch operations ───────────────────────────────────────────────────────

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	var req protocol.RemoveRequest
	if err := decodeJSON(r, w, &req); err != nil {
		s.sendError(w, r, err)
		return
	}
	if len(req.Paths) == 0 {
		s.sendError(w, r, fmt.Errorf("%w: no paths", models.ErrBadRequest))
		return
	}

	err := s.ops.Remove(r.Context(), req.Paths)
	s.respondBatch(w, r, events.EventRemove, req.Paths, err, func(done []string) []string {
		return protocol.ParentDirs(done)
	})
}

func (s *Server) handleCopy(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeTransfer(w, r)
	if !ok {
		return
	}
	err := s.ops.Copy(r.Context(), req.Sources, req.Destination)
	s.respondBatch(w, r, events.EventCopy, req.Sources, err, func(done []string) []string {
		return []string{req.Destination}
	})
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeTransfer(w, r)
	if !ok {
		return
	}
	err := s.ops.Move(r.Context(), req.Sources, req.Destination)
	s.respondBatch(w, r, events.EventMove, req.Sources, err, func(done []string) []string {
		return protocol.ParentDirs(done, req.Destination)
	})
}

func (s *Server) decodeTransfer(w http.ResponseWriter, r *http.Request) (protocol.TransferRequest, bool) {
	var req protocol.TransferRequest
	if err := decodeJSON(r, w, &req); err != nil {
		s.sendError(w, r, err)
		return req, false
	}
	if len(req.Sources) == 0 {
		s.sendError(w, r, fmt.Errorf("%w: no sources", models.ErrBadRequest))
		return req, false
	}
	return req, true
}

// respondBatch reports a fail-fast batch outcome. On failure the body still
// lists the completed entries so the client knows what already happened.
func (s *Server) respondBatch(w http.ResponseWriter, r *http.Request, op string, entries []string, err error, affected func(done []string) []string) {
	completed := entries
	var failed string
	if err != nil {
		completed = nil
		var be *fileops.BatchError
		if errors.As(err, &be) {
			completed = be.Completed
			if be.Index >= 0 {
				failed = be.Path
			}
		}
	}

	metrics.RecordFileOp(op, len(completed), err == nil)
	if len(completed) > 0 {
		s.publishEvent(op, completed, affected(completed))
	}

	logger := logging.WithContext(r.Context())
	if err == nil {
		logger.Info("batch completed", zap.String("op", op), zap.Int("count", len(completed)))
		s.sendJSON(w, http.StatusOK, protocol.BatchResponse{Completed: completed})
		return
	}

	code := statusFor(err)
	logger.Warn("batch stopped",
		zap.String("op", op),
		zap.Int("completed", len(completed)),
		zap.String("failed", failed),
		zap.Error(err))
	if completed == nil {
		completed = []string{}
	}
	s.sendJSON(w, code, protocol.BatchResponse{
		Completed: completed,
		Failed:    failed,
		Error:     s.publicMessage(err),
		Kind:      protocol.KindOf(err),
	})
}

// ─── Directories ────────────────────────────────────────────────────────────

func (s *Server) handleMkdir(w http.ResponseWriter, r *http.Request) {
	var req protocol.MkdirRequest
	if err := decodeJSON(r, w, &req); err != nil {
		s.sendError(w, r, err)
		return
	}

	err := s.ops.MakeDirectory(r.Context(), req.Path)
	metrics.RecordFileOp("mkdir", boolToInt(err == nil), err == nil)
	if err != nil {
		s.sendError(w, r, err)
		return
	}

	s.publishEvent(events.EventMkdir, []string{req.Path}, protocol.ParentDirs([]string{req.Path}))
	logging.WithContext(r.Context()).Info("directory created", zap.String("path", req.Path))
	s.sendJSON(w, http.StatusCreated, req)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// ─── Upload ─────────────────────────────────────────────────────────────────

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	mr, err := r.MultipartReader()
	if err != nil {
		s.sendError(w, r, fmt.Errorf("%w: %v", models.ErrBadRequest, err))
		return
	}

	report, err := s.ops.Upload(r.Context(), mr)
	if report == nil || len(report.Fields) == 0 {
		if err == nil {
			err = fmt.Errorf("%w: no upload fields", models.ErrBadRequest)
		}
		s.sendError(w, r, err)
		return
	}

	resp := protocol.UploadResponse{Fields: make([]protocol.UploadField, 0, len(report.Fields))}
	for _, f := range report.Fields {
		metrics.RecordUploadField(f.Bytes, f.Err == nil)
		field := protocol.UploadField{Path: f.Path, Bytes: f.Bytes}
		if f.Err != nil {
			field.Error = s.publicMessage(f.Err)
			field.Kind = protocol.KindOf(f.Err)
		}
		resp.Fields = append(resp.Fields, field)
	}

	if written := report.Written(); len(written) > 0 {
		s.publishEvent(events.EventUpload, written, protocol.ParentDirs(written))
	}

	code := http.StatusOK
	if err != nil {
		code = statusFor(err)
		logging.WithContext(r.Context()).Warn("upload incomplete",
			zap.Int("fields", len(report.Fields)),
			zap.Int("written", len(report.Written())),
			zap.Error(err))
	}
	s.sendJSON(w, code, resp)
}

// ─── Download ───────────────────────────────────────────────────────────────

// handleDownload serves a file with Range support for media players.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	p := r.PathValue("path")
	abs, err := s.sb.Resolve(p)
	if err != nil {
		metrics.RecordDownload(false)
		s.sendError(w, r, err)
		return
	}

	f, err := os.Open(abs)
	if err != nil {
		metrics.RecordDownload(false)
		s.sendError(w, r, fileops.Classify(fmt.Errorf("open %s: %w", p, err)))
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		metrics.RecordDownload(false)
		s.sendError(w, r, fileops.Classify(err))
		return
	}
	if info.IsDir() {
		metrics.RecordDownload(false)
		s.sendError(w, r, fmt.Errorf("%s: %w", p, models.ErrIsDirectory))
		return
	}

	metrics.RecordDownload(true)
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", path.Base(p)))
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}
