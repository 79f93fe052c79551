package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/JonMunkholm/emailclean/internal/logging"
	"github.com/google/uuid"
)

// Service errors.
var (
	ErrNoFile          = errors.New("no file provided")
	ErrUploadNotFound  = errors.New("upload not found")
	ErrRunNotFound     = errors.New("run not found")
	ErrRunNotFinished  = errors.New("run not finished")
	ErrListNotYours    = errors.New("list belongs to another user")
	ErrListNameTooLong = errors.New("invalid list name: longer than 200 characters")
)

const maxListNameLen = 200

// Archiver copies run artifacts to durable storage. Failures are logged and
// never fail the run.
type Archiver interface {
	Archive(ctx context.Context, key, contentType string, data []byte) error
}

// ServiceConfig holds the limits a Service enforces.
type ServiceConfig struct {
	MaxFileSize     int64
	SessionTTL      time.Duration
	Workers         int
	MaxConcurrent   int
	MaxWaitTime     time.Duration
	ResultRetention time.Duration
}

// Service ties parsing, validation and persistence together for the HTTP
// layer. Upload sessions and runs live in memory; only completed lists reach
// the ListStore.
type Service struct {
	store    ListStore
	runner   *Runner
	limiter  *RunLimiter
	archiver Archiver
	cfg      ServiceConfig

	baseCtx   context.Context
	cancelAll context.CancelFunc
	wg        sync.WaitGroup

	mu      sync.RWMutex
	uploads map[string]*uploadSession
	runs    map[string]*activeRun
}

// ServiceOption customises a Service.
type ServiceOption func(*Service)

// WithArchiver enables archiving of source files and CSV exports.
func WithArchiver(a Archiver) ServiceOption {
	return func(s *Service) { s.archiver = a }
}

// NewService creates a Service backed by store, validating with v.
func NewService(store ListStore, v *Validator, cfg ServiceConfig, opts ...ServiceOption) *Service {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 30 * time.Minute
	}
	if cfg.ResultRetention <= 0 {
		cfg.ResultRetention = time.Hour
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		store:     store,
		runner:    NewRunner(v, cfg.Workers),
		limiter:   NewRunLimiter(cfg.MaxConcurrent, cfg.MaxWaitTime),
		cfg:       cfg,
		baseCtx:   ctx,
		cancelAll: cancel,
		uploads:   make(map[string]*uploadSession),
		runs:      make(map[string]*activeRun),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// UploadInfo describes a parsed upload waiting for a column mapping.
type UploadInfo struct {
	ID        string        `json:"upload_id"`
	FileName  string        `json:"file_name"`
	Headers   []string      `json:"headers"`
	RowCount  int           `json:"row_count"`
	Suggested ColumnMapping `json:"suggested_mapping"`
	ExpiresAt time.Time     `json:"expires_at"`
}

type uploadSession struct {
	info    UploadInfo
	dataset *Dataset
	raw     []byte
}

// ParseUpload reads and parses an uploaded file, keeping it in memory until
// a run is started or the session expires.
func (s *Service) ParseUpload(ctx context.Context, fileName string, r io.Reader) (UploadInfo, error) {
	if r == nil {
		return UploadInfo{}, ErrNoFile
	}

	raw, err := io.ReadAll(NewSizeLimitedReader(r, s.cfg.MaxFileSize))
	if err != nil {
		return UploadInfo{}, fmt.Errorf("read upload: %w", err)
	}
	if len(raw) == 0 {
		return UploadInfo{}, fmt.Errorf("%w: no header row", ErrEmptyFile)
	}

	ds, err := ParseFile(fileName, bytes.NewReader(raw))
	if err != nil {
		return UploadInfo{}, err
	}

	sess := &uploadSession{
		info: UploadInfo{
			ID:        uuid.New().String(),
			FileName:  filepath.Base(fileName),
			Headers:   ds.Headers,
			RowCount:  len(ds.Rows),
			Suggested: GuessMapping(ds.Headers),
			ExpiresAt: time.Now().Add(s.cfg.SessionTTL),
		},
		dataset: ds,
		raw:     raw,
	}

	s.mu.Lock()
	s.uploads[sess.info.ID] = sess
	s.mu.Unlock()

	id := sess.info.ID
	time.AfterFunc(s.cfg.SessionTTL, func() {
		s.mu.Lock()
		delete(s.uploads, id)
		s.mu.Unlock()
	})

	logging.FromContext(ctx).Info("upload parsed",
		"upload_id", id,
		"file", sess.info.FileName,
		"rows", sess.info.RowCount,
		"bytes", len(raw),
	)
	return sess.info, nil
}

func (s *Service) upload(id string) (*uploadSession, error) {
	s.mu.RLock()
	sess, ok := s.uploads[id]
	s.mu.RUnlock()
	if !ok || time.Now().After(sess.info.ExpiresAt) {
		return nil, ErrUploadNotFound
	}
	return sess, nil
}

// RunRequest starts validation of an upload.
type RunRequest struct {
	ListName string
	Mapping  ColumnMapping
}

type activeRun struct {
	id      string
	owner   string
	cancel  context.CancelFunc
	done    chan struct{}
	started time.Time
	log     *slog.Logger

	mu        sync.Mutex
	progress  RunProgress
	result    *RunResult
	listeners []chan RunProgress
}

// StartRun validates the mapping and starts a background run over the
// upload. The list owner is taken from ctx. It blocks while the run limiter
// is full and fails with ErrTooManyRuns if no slot frees up in time.
func (s *Service) StartRun(ctx context.Context, uploadID string, req RunRequest) (string, error) {
	sess, err := s.upload(uploadID)
	if err != nil {
		return "", err
	}

	mapping := ColumnMapping{
		EmailField: strings.TrimSpace(req.Mapping.EmailField),
		NameField:  strings.TrimSpace(req.Mapping.NameField),
	}
	if err := mapping.Validate(sess.dataset.Headers); err != nil {
		return "", err
	}

	name := strings.TrimSpace(req.ListName)
	if name == "" {
		name = strings.TrimSuffix(sess.info.FileName, filepath.Ext(sess.info.FileName))
	}
	if len(name) > maxListNameLen {
		return "", ErrListNameTooLong
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		return "", err
	}

	// Runs have no deadline of their own. Lookups are bounded by the
	// resolver timeout and only shutdown cancels a run.
	runCtx, cancel := context.WithCancel(s.baseCtx)
	run := &activeRun{
		id:      uuid.New().String(),
		owner:   OwnerFromContext(ctx),
		cancel:  cancel,
		done:    make(chan struct{}),
		started: time.Now(),
		progress: RunProgress{
			Phase:    PhaseStarting,
			FileName: sess.info.FileName,
		},
	}
	run.progress.RunID = run.id
	// Keeps the request id of the request that started the run.
	run.log = logging.WithFields(ctx, "run_id", run.id, "file", sess.info.FileName)
	run.log.Info("run started", "list_name", name, "rows", len(sess.dataset.Rows))

	s.mu.Lock()
	s.runs[run.id] = run
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.limiter.Release()
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				run.log.Error("panic in run", "panic", r)
				s.finish(run, &RunResult{
					RunID:    run.id,
					ListName: name,
					FileName: sess.info.FileName,
					Error:    fmt.Sprintf("internal error: %v", r),
				})
			}
		}()
		s.execute(runCtx, run, sess, name, mapping)
	}()

	return run.id, nil
}

func (s *Service) execute(ctx context.Context, run *activeRun, sess *uploadSession, name string, mapping ColumnMapping) {
	result := &RunResult{
		RunID:    run.id,
		ListName: name,
		FileName: sess.info.FileName,
	}

	run.update(func(p *RunProgress) { p.Phase = PhaseValidating })

	results, err := s.runner.Run(ctx, sess.dataset.Rows, mapping, func(completed, total int, percent float64) {
		run.update(func(p *RunProgress) {
			p.Completed = completed
			p.Total = total
			p.Percent = percent
		})
	})
	if err != nil {
		run.log.Error("run failed", "error", err)
		result.Error = err.Error()
		s.finish(run, result)
		return
	}

	counts := Count(results)
	result.Results = results
	result.Total = counts.Total
	result.Valid = counts.Valid
	result.Invalid = counts.Invalid
	result.Skipped = len(sess.dataset.Rows) - len(results)

	run.update(func(p *RunProgress) { p.Phase = PhaseSaving })

	saved, err := s.store.Save(ctx, NewListRecord(name, run.owner, results))
	if err != nil {
		run.log.Error("save list failed", "error", err)
		result.SaveError = err.Error()
	} else {
		result.ListID = saved.ID
	}

	if s.archiver != nil {
		s.archive(ctx, run, sess, results)
	}

	s.finish(run, result)
}

func (s *Service) archive(ctx context.Context, run *activeRun, sess *uploadSession, results []ValidationResult) {
	srcKey := fmt.Sprintf("runs/%s/source/%s", run.id, sess.info.FileName)
	if err := s.archiver.Archive(ctx, srcKey, "application/octet-stream", sess.raw); err != nil {
		run.log.Warn("archive source failed", "key", srcKey, "error", err)
	}

	var buf bytes.Buffer
	if err := ExportCSV(&buf, results); err != nil {
		run.log.Warn("archive export failed", "error", err)
		return
	}
	outKey := fmt.Sprintf("runs/%s/%s", run.id, FormatCSV.FileName())
	if err := s.archiver.Archive(ctx, outKey, FormatCSV.ContentType(), buf.Bytes()); err != nil {
		run.log.Warn("archive export failed", "key", outKey, "error", err)
	}
}

// finish records the result, delivers the final phase to every listener and
// closes their channels. Results are dropped after ResultRetention.
func (s *Service) finish(run *activeRun, result *RunResult) {
	result.Duration = time.Since(run.started)

	run.mu.Lock()
	if run.result != nil {
		run.mu.Unlock()
		return
	}
	run.result = result
	if result.Error != "" {
		run.progress.Phase = PhaseFailed
		run.progress.Error = result.Error
	} else {
		run.progress.Phase = PhaseComplete
		run.progress.Percent = 100
	}
	for _, ch := range run.listeners {
		// The final snapshot always arrives; a full buffer drops its oldest
		// update. Sends happen only under mu, so the second send never blocks.
		select {
		case ch <- run.progress:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- run.progress
		}
		close(ch)
	}
	run.listeners = nil
	run.mu.Unlock()
	close(run.done)

	run.log.Info("run finished",
		"list_id", result.ListID,
		"total", result.Total,
		"valid", result.Valid,
		"invalid", result.Invalid,
		"skipped", result.Skipped,
		"duration_ms", result.Duration.Milliseconds(),
		"error", result.Error,
		"save_error", result.SaveError,
	)

	id := run.id
	time.AfterFunc(s.cfg.ResultRetention, func() {
		s.mu.Lock()
		delete(s.runs, id)
		s.mu.Unlock()
	})
}

func (run *activeRun) update(fn func(*RunProgress)) {
	run.mu.Lock()
	defer run.mu.Unlock()
	fn(&run.progress)
	run.broadcast()
}

// broadcast sends the current progress to every listener. Caller holds mu.
func (run *activeRun) broadcast() {
	for _, ch := range run.listeners {
		select {
		case ch <- run.progress:
		default:
			// Listener is slow, skip this update
		}
	}
}

// run looks up a run visible to the owner in ctx.
func (s *Service) run(ctx context.Context, runID string) (*activeRun, error) {
	s.mu.RLock()
	run, ok := s.runs[runID]
	s.mu.RUnlock()
	if !ok || run.owner != OwnerFromContext(ctx) {
		return nil, ErrRunNotFound
	}
	return run, nil
}

// SubscribeProgress returns a channel that receives the current progress
// immediately and every update after it. The channel is closed when the run
// completes or fails.
func (s *Service) SubscribeProgress(ctx context.Context, runID string) (<-chan RunProgress, error) {
	run, err := s.run(ctx, runID)
	if err != nil {
		return nil, err
	}

	ch := make(chan RunProgress, 16)

	run.mu.Lock()
	defer run.mu.Unlock()
	ch <- run.progress
	if run.result != nil {
		close(ch)
		return ch, nil
	}
	run.listeners = append(run.listeners, ch)
	return ch, nil
}

// GetRunProgress returns the current progress without blocking.
func (s *Service) GetRunProgress(ctx context.Context, runID string) (RunProgress, error) {
	run, err := s.run(ctx, runID)
	if err != nil {
		return RunProgress{}, err
	}
	run.mu.Lock()
	defer run.mu.Unlock()
	return run.progress, nil
}

// GetRunResult returns the result of a finished run, or ErrRunNotFinished.
func (s *Service) GetRunResult(ctx context.Context, runID string) (*RunResult, error) {
	run, err := s.run(ctx, runID)
	if err != nil {
		return nil, err
	}
	run.mu.Lock()
	defer run.mu.Unlock()
	if run.result == nil {
		return nil, ErrRunNotFinished
	}
	return run.result, nil
}

// WaitRunResult blocks until the run finishes or ctx ends.
func (s *Service) WaitRunResult(ctx context.Context, runID string) (*RunResult, error) {
	run, err := s.run(ctx, runID)
	if err != nil {
		return nil, err
	}
	select {
	case <-run.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	run.mu.Lock()
	defer run.mu.Unlock()
	return run.result, nil
}

// ExportRun writes a finished run's results. It works even when saving the
// list failed.
func (s *Service) ExportRun(ctx context.Context, runID string, format ExportFormat, w io.Writer) error {
	res, err := s.GetRunResult(ctx, runID)
	if err != nil {
		return err
	}
	if res.Error != "" {
		return fmt.Errorf("run failed: %s", res.Error)
	}
	return Export(w, format, res.Results)
}

// ListLists returns the caller's saved lists, newest first.
func (s *Service) ListLists(ctx context.Context) ([]ListSummary, error) {
	recs, err := s.store.ListByOwner(ctx, OwnerFromContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("list lists: %w", err)
	}
	out := make([]ListSummary, len(recs))
	for i, rec := range recs {
		out[i] = rec.Summary()
	}
	return out, nil
}

// GetList returns one of the caller's lists.
func (s *Service) GetList(ctx context.Context, id int64) (EmailListRecord, error) {
	rec, err := s.store.GetByID(ctx, id)
	if err != nil {
		return EmailListRecord{}, err
	}
	if rec.UserID != OwnerFromContext(ctx) {
		return EmailListRecord{}, ErrListNotYours
	}
	return rec, nil
}

// ExportList writes a saved list's results.
func (s *Service) ExportList(ctx context.Context, id int64, format ExportFormat, w io.Writer) error {
	rec, err := s.GetList(ctx, id)
	if err != nil {
		return err
	}
	return Export(w, format, rec.Results)
}

// LimiterStatus reports run slot usage.
func (s *Service) LimiterStatus() RunLimiterStatus {
	return s.limiter.Status()
}

// WaitForRuns blocks until every background run has finished. If ctx ends
// first the remaining runs are cancelled and ctx.Err() is returned.
func (s *Service) WaitForRuns(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.cancelAll()
		<-done
		return ctx.Err()
	}
}
