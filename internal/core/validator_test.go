package core

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeResolver answers from a table. Domains missing from both maps have
// no MX records.
type fakeResolver struct {
	mu     sync.Mutex
	mx     map[string]bool
	errs   map[string]error
	delay  time.Duration
	calls  []string
	active int
	peak   int
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{mx: map[string]bool{}, errs: map[string]error{}}
}

func (f *fakeResolver) HasMX(ctx context.Context, domain string) (bool, error) {
	f.mu.Lock()
	f.calls = append(f.calls, domain)
	f.active++
	if f.active > f.peak {
		f.peak = f.active
	}
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.active--
	if err, ok := f.errs[domain]; ok {
		return false, err
	}
	return f.mx[domain], nil
}

func (f *fakeResolver) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// ============================================================================
// Validator Tests
// ============================================================================

func TestValidSyntax(t *testing.T) {
	tests := []struct {
		email string
		want  bool
	}{
		{"a@x.com", true},
		{"first.last+tag@sub.example.co.uk", true},
		{"not-an-email", false},
		{"a@b", false},
		{"@x.com", false},
		{"a@.com", false},
		{"a b@x.com", false},
		{"a@@x.com", false},
		{"a@x.com ", false},
		{"a\u00a0b@x.com", false},
		{"a\vb@x.com", false},
		{"a@x\u2003y.com", false},
		{"a@x.com\u2028", false},
		{"\ufeffa@x.com", false},
		{"ü@bücher.de", true},
		{"", false},
	}
	for _, tt := range tests {
		if got := ValidSyntax(tt.email); got != tt.want {
			t.Errorf("ValidSyntax(%q) = %v, want %v", tt.email, got, tt.want)
		}
	}
}

func TestValidator_Validate(t *testing.T) {
	res := newFakeResolver()
	res.mx["x.com"] = true
	res.errs["down.net"] = errors.New("dns lookup down.net: unexpected status 503")

	v := NewValidator(res)
	tests := []struct {
		email      string
		wantValid  bool
		wantReason string
	}{
		{"a@x.com", true, ""},
		{"b@y.org", false, ReasonInvalidDomain},
		{"c@down.net", false, ReasonVerificationFailed},
		{"not-an-email", false, ReasonInvalidFormat},
	}
	for _, tt := range tests {
		got := v.Validate(context.Background(), tt.email)
		if got.Email != tt.email || got.IsValid != tt.wantValid || got.Reason != tt.wantReason {
			t.Errorf("Validate(%q) = %+v, want valid=%v reason=%q", tt.email, got, tt.wantValid, tt.wantReason)
		}
	}
}

func TestValidator_FormatFailureSkipsLookup(t *testing.T) {
	res := newFakeResolver()
	v := NewValidator(res)

	for _, email := range []string{"not-an-email", "a\u00a0b@x.com", "a\vb@x.com", "a@x\u2003y.com"} {
		got := v.Validate(context.Background(), email)
		if got.IsValid || got.Reason != ReasonInvalidFormat {
			t.Errorf("Validate(%q) = %+v, want %q", email, got, ReasonInvalidFormat)
		}
	}
	if n := res.callCount(); n != 0 {
		t.Errorf("resolver called %d times for malformed addresses, want 0", n)
	}
}

func TestValidator_DomainAfterFirstAt(t *testing.T) {
	res := newFakeResolver()
	v := NewValidator(res)

	v.Validate(context.Background(), "user@mail.example.com")
	if len(res.calls) != 1 || res.calls[0] != "mail.example.com" {
		t.Errorf("lookups = %q, want [mail.example.com]", res.calls)
	}
}

// ============================================================================
// DoHResolver Tests
// ============================================================================

func TestDoHResolver_HasMX(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("type") != "MX" {
			t.Errorf("type = %q, want MX", r.URL.Query().Get("type"))
		}
		w.Header().Set("Content-Type", "application/dns-json")
		switch r.URL.Query().Get("name") {
		case "x.com":
			w.Write([]byte(`{"Status":0,"Answer":[{"name":"x.com.","type":15,"TTL":300,"data":"10 mx.x.com."}]}`))
		case "empty.org":
			w.Write([]byte(`{"Status":0,"Answer":[]}`))
		case "nxdomain.org":
			w.Write([]byte(`{"Status":3}`))
		case "garbage.org":
			w.Write([]byte(`<html>`))
		default:
			http.Error(w, "upstream failure", http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	d := NewDoHResolver(srv.URL, time.Second)
	tests := []struct {
		domain  string
		want    bool
		wantErr bool
	}{
		{"x.com", true, false},
		{"empty.org", false, false},
		{"nxdomain.org", false, false},
		{"garbage.org", false, true},
		{"broken.org", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.domain, func(t *testing.T) {
			got, err := d.HasMX(context.Background(), tt.domain)
			if (err != nil) != tt.wantErr {
				t.Fatalf("HasMX(%q) error = %v, wantErr %v", tt.domain, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("HasMX(%q) = %v, want %v", tt.domain, got, tt.want)
			}
		})
	}
}

func TestDoHResolver_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte(`{"Answer":[{}]}`))
	}))
	defer srv.Close()

	v := NewValidator(NewDoHResolver(srv.URL, 20*time.Millisecond))
	got := v.Validate(context.Background(), "a@slow.com")
	if got.IsValid || got.Reason != ReasonVerificationFailed {
		t.Errorf("Validate on timeout = %+v, want %q", got, ReasonVerificationFailed)
	}
}

func TestNewResolver(t *testing.T) {
	if r, err := NewResolver("", "", time.Second); err != nil {
		t.Errorf("default resolver error = %v", err)
	} else if d, ok := r.(*DoHResolver); !ok || d.Endpoint != DefaultDoHEndpoint {
		t.Errorf("default resolver = %#v, want DoH at %s", r, DefaultDoHEndpoint)
	}
	if _, err := NewResolver("system", "", time.Second); err != nil {
		t.Errorf("system resolver error = %v", err)
	}
	if _, err := NewResolver("carrier-pigeon", "", time.Second); err == nil || !strings.Contains(err.Error(), "unknown dns resolver") {
		t.Errorf("unknown resolver error = %v", err)
	}
}
