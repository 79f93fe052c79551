package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"
)

// fakeDoH answers MX queries for domains in mx with one record.
func fakeDoH(t *testing.T, mx ...string) string {
	t.Helper()
	known := map[string]bool{}
	for _, d := range mx {
		known[d] = true
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/dns-json")
		if known[r.URL.Query().Get("name")] {
			io.WriteString(w, `{"Status":0,"Answer":[{"name":"x","type":15,"data":"10 mx."}]}`)
			return
		}
		io.WriteString(w, `{"Status":3}`)
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

// ============================================================================
// Settings Tests
// ============================================================================

func TestLoadSettings_Defaults(t *testing.T) {
	s, err := loadSettings([]string{"leads.csv"}, io.Discard)
	if err != nil {
		t.Fatalf("loadSettings() error = %v", err)
	}
	if s.Input != "leads.csv" || s.Output != "-" || s.Workers != 1 || s.Resolver != "doh" || s.Timeout != 5*time.Second {
		t.Errorf("defaults = %+v", s)
	}
}

func TestLoadSettings_Precedence(t *testing.T) {
	cfgPath := writeFile(t, "emailclean.yaml", "workers: 3\nresolver: system\ntimeout: 2s\nemail: Mail\n")
	t.Setenv("EMAILCLEAN_RESOLVER", "doh")
	t.Setenv("EMAILCLEAN_DOH_ENDPOINT", "https://doh.example/resolve")

	s, err := loadSettings([]string{"-config", cfgPath, "-workers", "6", "in.csv"}, io.Discard)
	if err != nil {
		t.Fatalf("loadSettings() error = %v", err)
	}

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"flag beats file", s.Workers, 6},
		{"env beats file", s.Resolver, "doh"},
		{"env only", s.DoHEndpoint, "https://doh.example/resolve"},
		{"file only", s.Timeout, 2 * time.Second},
		{"file column", s.EmailField, "Mail"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}

func TestLoadSettings_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"no input", nil},
		{"two inputs", []string{"a.csv", "b.csv"}},
		{"zero workers", []string{"-workers", "0", "a.csv"}},
		{"missing config", []string{"-config", "/nonexistent/emailclean.yaml", "a.csv"}},
		{"unknown flag", []string{"-bogus", "a.csv"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := loadSettings(tt.args, io.Discard); err == nil {
				t.Error("loadSettings() succeeded, want error")
			}
		})
	}

	if _, err := loadSettings([]string{"-h"}, io.Discard); !errors.Is(err, flag.ErrHelp) {
		t.Errorf("-h error = %v, want flag.ErrHelp", err)
	}
}

// ============================================================================
// Run Tests
// ============================================================================

func TestRun_CSVToStdout(t *testing.T) {
	endpoint := fakeDoH(t, "x.com")
	in := writeFile(t, "leads.csv", "\ufeffEmail,Name\na@x.com,Ann\nb@nomx.org,Bob\nnope,Cy\n,Skipped\n")

	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{"-doh-endpoint", endpoint, "-workers", "2", in}, &stdout, &stderr)
	if err != nil {
		t.Fatalf("run() error = %v\n%s", err, stderr.String())
	}

	want := "Email,Name,Valid,Reason\n" +
		"a@x.com,Ann,Yes,\n" +
		"b@nomx.org,Bob,No,Invalid domain\n" +
		"nope,Cy,No,Invalid format\n"
	if stdout.String() != want {
		t.Errorf("stdout =\n%s\nwant\n%s", stdout.String(), want)
	}
	if !strings.Contains(stderr.String(), "skipped=1") {
		t.Errorf("summary log missing skipped count: %s", stderr.String())
	}
}

func TestRun_XLSXFromExtension(t *testing.T) {
	endpoint := fakeDoH(t, "x.com")
	in := writeFile(t, "leads.csv", "Contact,Who\na@x.com,Ann\n")
	out := filepath.Join(t.TempDir(), "clean.xlsx")

	err := run(context.Background(), []string{"-doh-endpoint", endpoint, "-email", "Contact", "-name", "Who", "-output", out, in}, io.Discard, io.Discard)
	if err != nil {
		t.Fatalf("run() error = %v", err)
	}

	f, err := excelize.OpenFile(out)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer f.Close()
	rows, err := f.GetRows("Results")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 || rows[1][0] != "a@x.com" || rows[1][1] != "Ann" || rows[1][2] != "Yes" {
		t.Errorf("rows = %v", rows)
	}
}

func TestRun_Errors(t *testing.T) {
	in := writeFile(t, "leads.csv", "Email\na@x.com\n")

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"missing file", []string{"/nonexistent/leads.csv"}, "open input"},
		{"unknown column", []string{"-email", "Mail", in}, "column not found"},
		{"bad format", []string{"-format", "pdf", in}, "unsupported export format"},
		{"bad resolver", []string{"-resolver", "carrier-pigeon", in}, "unknown dns resolver"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := run(context.Background(), tt.args, io.Discard, io.Discard)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("run() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestRun_Cancelled(t *testing.T) {
	endpoint := fakeDoH(t, "x.com")
	in := writeFile(t, "leads.csv", "Email\na@x.com\nb@x.com\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := run(ctx, []string{"-doh-endpoint", endpoint, in}, io.Discard, io.Discard)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("run() error = %v, want context.Canceled", err)
	}
}
