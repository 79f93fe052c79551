package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

// memStore is a minimal ListStore for service tests.
type memStore struct {
	mu      sync.Mutex
	lists   []EmailListRecord
	saveErr error
	saves   int
}

func (m *memStore) Save(_ context.Context, rec EmailListRecord) (EmailListRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.saveErr != nil {
		return EmailListRecord{}, m.saveErr
	}
	rec.ID = int64(len(m.lists) + 1)
	rec.CreatedAt = time.Now()
	m.lists = append(m.lists, rec)
	return rec, nil
}

func (m *memStore) ListByOwner(_ context.Context, userID string) ([]EmailListRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []EmailListRecord
	for i := len(m.lists) - 1; i >= 0; i-- {
		if m.lists[i].UserID == userID {
			out = append(out, m.lists[i])
		}
	}
	return out, nil
}

func (m *memStore) GetByID(_ context.Context, id int64) (EmailListRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.lists {
		if l.ID == id {
			return l, nil
		}
	}
	return EmailListRecord{}, ErrListNotFound
}

type memArchiver struct {
	mu   sync.Mutex
	keys []string
}

func (a *memArchiver) Archive(_ context.Context, key, _ string, _ []byte) error {
	a.mu.Lock()
	a.keys = append(a.keys, key)
	a.mu.Unlock()
	return nil
}

const sampleCSV = "email,name\na@x.com,A\nnot-an-email,B\nc@y.org,\n"

func newTestService(t *testing.T, store ListStore, opts ...ServiceOption) *Service {
	t.Helper()
	res := newFakeResolver()
	res.mx["x.com"] = true
	svc := NewService(store, NewValidator(res), ServiceConfig{
		MaxFileSize:   1 << 20,
		MaxConcurrent: 2,
		MaxWaitTime:   100 * time.Millisecond,
	}, opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		svc.WaitForRuns(ctx)
	})
	return svc
}

func runToCompletion(t *testing.T, svc *Service, ctx context.Context, req RunRequest) *RunResult {
	t.Helper()
	up, err := svc.ParseUpload(ctx, "leads.csv", strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatalf("ParseUpload() error = %v", err)
	}
	runID, err := svc.StartRun(ctx, up.ID, req)
	if err != nil {
		t.Fatalf("StartRun() error = %v", err)
	}
	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	res, err := svc.WaitRunResult(waitCtx, runID)
	if err != nil {
		t.Fatalf("WaitRunResult() error = %v", err)
	}
	return res
}

func TestService_ParseUpload(t *testing.T) {
	svc := newTestService(t, &memStore{})

	up, err := svc.ParseUpload(context.Background(), "dir/leads.csv", strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatalf("ParseUpload() error = %v", err)
	}
	if up.ID == "" || up.FileName != "leads.csv" || up.RowCount != 3 {
		t.Errorf("UploadInfo = %+v", up)
	}
	if up.Suggested.EmailField != "email" || up.Suggested.NameField != "name" {
		t.Errorf("Suggested = %+v", up.Suggested)
	}
}

func TestService_ParseUploadErrors(t *testing.T) {
	svc := newTestService(t, &memStore{})
	ctx := context.Background()

	if _, err := svc.ParseUpload(ctx, "a.csv", nil); !errors.Is(err, ErrNoFile) {
		t.Errorf("nil reader error = %v, want ErrNoFile", err)
	}
	if _, err := svc.ParseUpload(ctx, "a.csv", strings.NewReader("")); !errors.Is(err, ErrEmptyFile) {
		t.Errorf("empty file error = %v, want ErrEmptyFile", err)
	}

	svc.cfg.MaxFileSize = 10
	_, err := svc.ParseUpload(ctx, "a.csv", strings.NewReader(sampleCSV))
	if MapError(err).Code != "FILE001" {
		t.Errorf("oversize error = %v, code %s, want FILE001", err, MapError(err).Code)
	}
}

func TestService_RunSavesListOnce(t *testing.T) {
	store := &memStore{}
	svc := newTestService(t, store)
	ctx := ContextWithOwner(context.Background(), "user-1")

	res := runToCompletion(t, svc, ctx, RunRequest{
		ListName: "March leads",
		Mapping:  ColumnMapping{EmailField: "email", NameField: "name"},
	})

	if res.Error != "" || res.SaveError != "" {
		t.Fatalf("run errors: %q / %q", res.Error, res.SaveError)
	}
	if res.Total != 3 || res.Valid != 1 || res.Invalid != 2 {
		t.Errorf("counts = %d/%d/%d, want 3/1/2", res.Total, res.Valid, res.Invalid)
	}
	if res.ListID != 1 {
		t.Errorf("ListID = %d, want 1", res.ListID)
	}
	if store.saves != 1 {
		t.Errorf("Save called %d times, want 1", store.saves)
	}

	rec := store.lists[0]
	if rec.Name != "March leads" || rec.UserID != "user-1" || len(rec.Results) != 3 {
		t.Errorf("saved record = %+v", rec)
	}

	lists, err := svc.ListLists(ctx)
	if err != nil || len(lists) != 1 || lists[0].ValidEmails != 1 {
		t.Errorf("ListLists() = %+v, %v", lists, err)
	}
}

func TestService_SaveFailureKeepsResults(t *testing.T) {
	store := &memStore{saveErr: errors.New("dial tcp: connection refused")}
	svc := newTestService(t, store)
	ctx := context.Background()

	res := runToCompletion(t, svc, ctx, RunRequest{Mapping: ColumnMapping{EmailField: "email"}})

	if res.Error != "" {
		t.Fatalf("run error = %q, want completed run", res.Error)
	}
	if !strings.Contains(res.SaveError, "connection refused") {
		t.Errorf("SaveError = %q", res.SaveError)
	}
	if res.ListID != 0 {
		t.Errorf("ListID = %d, want 0", res.ListID)
	}

	var buf bytes.Buffer
	if err := svc.ExportRun(ctx, res.RunID, FormatCSV, &buf); err != nil {
		t.Fatalf("ExportRun() error = %v", err)
	}
	if lines := strings.Count(buf.String(), "\n"); lines != 4 {
		t.Errorf("export has %d lines, want 4:\n%s", lines, buf.String())
	}
}

func TestService_DefaultListName(t *testing.T) {
	store := &memStore{}
	svc := newTestService(t, store)

	res := runToCompletion(t, svc, context.Background(), RunRequest{Mapping: ColumnMapping{EmailField: "email"}})
	if res.ListName != "leads" {
		t.Errorf("ListName = %q, want %q", res.ListName, "leads")
	}
}

func TestService_StartRunValidatesMapping(t *testing.T) {
	svc := newTestService(t, &memStore{})
	ctx := context.Background()

	up, err := svc.ParseUpload(ctx, "leads.csv", strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := svc.StartRun(ctx, up.ID, RunRequest{}); !errors.Is(err, ErrEmailFieldRequired) {
		t.Errorf("empty mapping error = %v", err)
	}
	if _, err := svc.StartRun(ctx, up.ID, RunRequest{Mapping: ColumnMapping{EmailField: "mail"}}); err == nil {
		t.Error("unknown column accepted")
	}
	if _, err := svc.StartRun(ctx, "missing", RunRequest{Mapping: ColumnMapping{EmailField: "email"}}); !errors.Is(err, ErrUploadNotFound) {
		t.Errorf("missing upload error = %v", err)
	}
	long := strings.Repeat("x", maxListNameLen+1)
	if _, err := svc.StartRun(ctx, up.ID, RunRequest{ListName: long, Mapping: ColumnMapping{EmailField: "email"}}); !errors.Is(err, ErrListNameTooLong) {
		t.Errorf("long name error = %v", err)
	}
}

func TestService_SubscribeProgress(t *testing.T) {
	svc := newTestService(t, &memStore{})
	ctx := context.Background()

	res := runToCompletion(t, svc, ctx, RunRequest{Mapping: ColumnMapping{EmailField: "email"}})

	// Subscribing after completion yields the final state then closes.
	ch, err := svc.SubscribeProgress(ctx, res.RunID)
	if err != nil {
		t.Fatalf("SubscribeProgress() error = %v", err)
	}
	var last RunProgress
	for p := range ch {
		last = p
	}
	if last.Phase != PhaseComplete || last.Percent != 100 || last.Total != 3 {
		t.Errorf("final progress = %+v", last)
	}
}

func TestService_RunsAreOwnerScoped(t *testing.T) {
	store := &memStore{}
	svc := newTestService(t, store)
	alice := ContextWithOwner(context.Background(), "alice")
	bob := ContextWithOwner(context.Background(), "bob")

	res := runToCompletion(t, svc, alice, RunRequest{Mapping: ColumnMapping{EmailField: "email"}})

	if _, err := svc.GetRunResult(bob, res.RunID); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("bob GetRunResult error = %v, want ErrRunNotFound", err)
	}
	if _, err := svc.GetList(bob, res.ListID); !errors.Is(err, ErrListNotYours) {
		t.Errorf("bob GetList error = %v, want ErrListNotYours", err)
	}
	if _, err := svc.GetList(alice, res.ListID); err != nil {
		t.Errorf("alice GetList error = %v", err)
	}
	lists, _ := svc.ListLists(bob)
	if len(lists) != 0 {
		t.Errorf("bob sees %d lists, want 0", len(lists))
	}
}

func TestService_ArchivesArtifacts(t *testing.T) {
	arch := &memArchiver{}
	svc := newTestService(t, &memStore{}, WithArchiver(arch))

	res := runToCompletion(t, svc, context.Background(), RunRequest{Mapping: ColumnMapping{EmailField: "email"}})

	want := []string{
		"runs/" + res.RunID + "/source/leads.csv",
		"runs/" + res.RunID + "/validated_emails.csv",
	}
	if strings.Join(arch.keys, ",") != strings.Join(want, ",") {
		t.Errorf("archived keys = %v, want %v", arch.keys, want)
	}
}

func TestService_GetRunResultWhileRunning(t *testing.T) {
	store := &memStore{}
	res := newFakeResolver()
	res.delay = 50 * time.Millisecond
	svc := NewService(store, NewValidator(res), ServiceConfig{})
	ctx := context.Background()

	up, err := svc.ParseUpload(ctx, "leads.csv", strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatal(err)
	}
	runID, err := svc.StartRun(ctx, up.ID, RunRequest{Mapping: ColumnMapping{EmailField: "email"}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.GetRunResult(ctx, runID); !errors.Is(err, ErrRunNotFinished) {
		t.Errorf("GetRunResult while running = %v, want ErrRunNotFinished", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := svc.WaitForRuns(waitCtx); err != nil {
		t.Fatalf("WaitForRuns() error = %v", err)
	}
	if _, err := svc.GetRunResult(ctx, runID); err != nil {
		t.Errorf("GetRunResult after wait = %v", err)
	}
}

// deadlineResolver records whether lookups ran under a deadline.
type deadlineResolver struct {
	mu          sync.Mutex
	hadDeadline bool
}

func (d *deadlineResolver) HasMX(ctx context.Context, _ string) (bool, error) {
	_, ok := ctx.Deadline()
	d.mu.Lock()
	d.hadDeadline = d.hadDeadline || ok
	d.mu.Unlock()
	return true, nil
}

func TestService_RunHasNoDeadline(t *testing.T) {
	res := &deadlineResolver{}
	svc := NewService(&memStore{}, NewValidator(res), ServiceConfig{})
	ctx := context.Background()

	up, err := svc.ParseUpload(ctx, "leads.csv", strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatal(err)
	}
	runID, err := svc.StartRun(ctx, up.ID, RunRequest{Mapping: ColumnMapping{EmailField: "email"}})
	if err != nil {
		t.Fatal(err)
	}
	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	result, err := svc.WaitRunResult(waitCtx, runID)
	if err != nil {
		t.Fatalf("WaitRunResult() error = %v", err)
	}
	if result.Error != "" || len(result.Results) != 3 {
		t.Errorf("result = %+v", result)
	}
	if res.hadDeadline {
		t.Error("lookups ran under a run-level deadline")
	}
}

func TestService_SlowSubscriberGetsFinalProgress(t *testing.T) {
	res := newFakeResolver()
	res.mx["x.com"] = true
	res.delay = time.Millisecond
	svc := NewService(&memStore{}, NewValidator(res), ServiceConfig{})
	ctx := context.Background()

	var b strings.Builder
	b.WriteString("email\n")
	for i := 0; i < 40; i++ {
		fmt.Fprintf(&b, "u%d@x.com\n", i)
	}
	up, err := svc.ParseUpload(ctx, "leads.csv", strings.NewReader(b.String()))
	if err != nil {
		t.Fatal(err)
	}
	runID, err := svc.StartRun(ctx, up.ID, RunRequest{Mapping: ColumnMapping{EmailField: "email"}})
	if err != nil {
		t.Fatal(err)
	}
	ch, err := svc.SubscribeProgress(ctx, runID)
	if err != nil {
		t.Fatalf("SubscribeProgress() error = %v", err)
	}

	// Not reading lets the buffer fill before the run ends.
	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := svc.WaitRunResult(waitCtx, runID); err != nil {
		t.Fatalf("WaitRunResult() error = %v", err)
	}

	var events []RunProgress
	for p := range ch {
		events = append(events, p)
	}
	last := events[len(events)-1]
	if last.Phase != PhaseComplete || last.Percent != 100 || last.Completed != 40 {
		t.Errorf("last of %d events = %+v, want complete at 100", len(events), last)
	}
	for i := 1; i < len(events); i++ {
		if events[i].Percent < events[i-1].Percent {
			t.Fatalf("progress went backwards at event %d", i)
		}
	}
}
