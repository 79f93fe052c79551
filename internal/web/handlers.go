package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/JonMunkholm/emailclean/internal/core"
	"github.com/go-chi/chi/v5"
)

// multipartOverhead is the slack allowed on top of the file size limit for
// multipart boundaries and other form fields.
const multipartOverhead = 1 << 20

// handleUpload parses an uploaded CSV or XLSX file and returns its headers
// with a suggested column mapping.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	maxSize := s.cfg.Upload.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+multipartOverhead)

	if err := r.ParseMultipartForm(multipartOverhead); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			err = fmt.Errorf("file too large: %w", err)
		} else {
			err = fmt.Errorf("%w: %v", core.ErrNoFile, err)
		}
		respondServiceError(w, r, err)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, r, core.ErrNoFile, http.StatusBadRequest)
		return
	}
	defer file.Close()

	info, err := s.service.ParseUpload(r.Context(), header.Filename, file)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, info)
}

// startRunRequest is the body of POST /api/uploads/{uploadID}/runs.
type startRunRequest struct {
	ListName   string `json:"list_name"`
	EmailField string `json:"email_field"`
	NameField  string `json:"name_field"`
}

// handleStartRun starts validating a parsed upload with the chosen columns.
func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	uploadID := chi.URLParam(r, "uploadID")

	var body startRunRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, r, fmt.Errorf("invalid request body: %w", err), http.StatusBadRequest)
		return
	}

	runID, err := s.service.StartRun(r.Context(), uploadID, core.RunRequest{
		ListName: body.ListName,
		Mapping: core.ColumnMapping{
			EmailField: body.EmailField,
			NameField:  body.NameField,
		},
	})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID})
}

// handleRunProgress streams run progress as server-sent events. The stream
// ends with a complete event once the run has finished.
func (s *Server) handleRunProgress(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	progressCh, err := s.service.SubscribeProgress(r.Context(), runID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, r, errors.New("streaming not supported"), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	eventID := 0
	for {
		select {
		case progress, ok := <-progressCh:
			if !ok {
				fmt.Fprintf(w, "event: complete\ndata: {}\n\n")
				flusher.Flush()
				return
			}
			data, err := json.Marshal(progress)
			if err != nil {
				continue
			}
			eventID++
			fmt.Fprintf(w, "id: %d\nevent: progress\ndata: %s\n\n", eventID, data)
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

// runResponse is a run's state: progress always, the result once finished.
type runResponse struct {
	Progress core.RunProgress `json:"progress"`
	Result   *core.RunResult  `json:"result,omitempty"`
}

// handleRunResult reports a run's progress and, when finished, its results.
func (s *Server) handleRunResult(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	progress, err := s.service.GetRunProgress(r.Context(), runID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	resp := runResponse{Progress: progress}
	res, err := s.service.GetRunResult(r.Context(), runID)
	switch {
	case err == nil:
		resp.Result = res
	case !errors.Is(err, core.ErrRunNotFinished):
		respondServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleExportRun downloads a finished run's results.
func (s *Server) handleExportRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	s.export(w, r, func(ctx context.Context, f core.ExportFormat, out io.Writer) error {
		return s.service.ExportRun(ctx, runID, f, out)
	})
}

// handleListLists returns the caller's saved lists, newest first.
func (s *Server) handleListLists(w http.ResponseWriter, r *http.Request) {
	lists, err := s.service.ListLists(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"lists": lists})
}

// handleGetList returns one saved list with its results.
func (s *Server) handleGetList(w http.ResponseWriter, r *http.Request) {
	id, ok := listID(w, r)
	if !ok {
		return
	}
	rec, err := s.service.GetList(r.Context(), id)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleExportList downloads a saved list's results.
func (s *Server) handleExportList(w http.ResponseWriter, r *http.Request) {
	id, ok := listID(w, r)
	if !ok {
		return
	}
	s.export(w, r, func(ctx context.Context, f core.ExportFormat, out io.Writer) error {
		return s.service.ExportList(ctx, id, f, out)
	})
}

// export renders into a buffer first so a failure can still be reported
// as a JSON error instead of a truncated download.
func (s *Server) export(w http.ResponseWriter, r *http.Request, write func(context.Context, core.ExportFormat, io.Writer) error) {
	format, err := core.ParseExportFormat(r.URL.Query().Get("format"))
	if err != nil {
		respondError(w, r, err, http.StatusBadRequest)
		return
	}

	var buf bytes.Buffer
	if err := write(r.Context(), format, &buf); err != nil {
		respondServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", format.FileName()))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

func listID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "listID"), 10, 64)
	if err != nil || id <= 0 {
		respondError(w, r, core.ErrListNotFound, http.StatusNotFound)
		return 0, false
	}
	return id, true
}

// healthResponse is the body of GET /healthz.
type healthResponse struct {
	Status string                `json:"status"`
	Runs   core.RunLimiterStatus `json:"runs"`
	Checks map[string]string     `json:"checks,omitempty"`
}

// handleHealth reports run slot usage and the result of each dependency
// check. Any failing check turns the response into a 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Runs: s.service.LimiterStatus()}
	status := http.StatusOK

	if len(s.checks) > 0 {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		resp.Checks = make(map[string]string, len(s.checks))
		for name, check := range s.checks {
			if err := check(ctx); err != nil {
				resp.Checks[name] = err.Error()
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
	}

	writeJSON(w, status, resp)
}
