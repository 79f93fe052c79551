package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"
)

// DefaultDoHEndpoint is the public DNS-over-HTTPS JSON resolver.
const DefaultDoHEndpoint = "https://dns.google/resolve"

// MXResolver reports whether a domain publishes MX records.
// A nil error with false means the lookup succeeded and found nothing;
// any error means the lookup itself could not be completed.
type MXResolver interface {
	HasMX(ctx context.Context, domain string) (bool, error)
}

// DoHResolver queries a DNS-over-HTTPS JSON endpoint (Google/Cloudflare
// style: ?name=<domain>&type=MX). Only the presence of Answer is consulted.
type DoHResolver struct {
	Endpoint string
	Client   *http.Client
}

// NewDoHResolver creates a resolver for endpoint with the given per-request
// timeout. An empty endpoint selects DefaultDoHEndpoint.
func NewDoHResolver(endpoint string, timeout time.Duration) *DoHResolver {
	if endpoint == "" {
		endpoint = DefaultDoHEndpoint
	}
	return &DoHResolver{
		Endpoint: endpoint,
		Client:   &http.Client{Timeout: timeout},
	}
}

type dohResponse struct {
	Status int               `json:"Status"`
	Answer []json.RawMessage `json:"Answer"`
}

// HasMX implements MXResolver.
func (d *DoHResolver) HasMX(ctx context.Context, domain string) (bool, error) {
	u, err := url.Parse(d.Endpoint)
	if err != nil {
		return false, fmt.Errorf("dns endpoint: %w", err)
	}
	q := u.Query()
	q.Set("name", domain)
	q.Set("type", "MX")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return false, fmt.Errorf("dns request: %w", err)
	}
	req.Header.Set("Accept", "application/dns-json")

	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return false, fmt.Errorf("dns lookup %s: %w", domain, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return false, fmt.Errorf("dns lookup %s: unexpected status %d", domain, resp.StatusCode)
	}

	var body dohResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return false, fmt.Errorf("dns lookup %s: decode response: %w", domain, err)
	}
	return len(body.Answer) > 0, nil
}

// SystemResolver uses the host's resolver through net.Resolver.
type SystemResolver struct {
	Resolver *net.Resolver
	Timeout  time.Duration
}

// HasMX implements MXResolver. NXDOMAIN and empty answers both count as
// "no MX records" rather than lookup failures.
func (s *SystemResolver) HasMX(ctx context.Context, domain string) (bool, error) {
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}
	r := s.Resolver
	if r == nil {
		r = net.DefaultResolver
	}

	records, err := r.LookupMX(ctx, domain)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			return false, nil
		}
		return false, fmt.Errorf("dns lookup %s: %w", domain, err)
	}
	return len(records) > 0, nil
}

// NewResolver builds the resolver named by kind ("doh" or "system").
func NewResolver(kind, endpoint string, timeout time.Duration) (MXResolver, error) {
	switch kind {
	case "", "doh":
		return NewDoHResolver(endpoint, timeout), nil
	case "system":
		return &SystemResolver{Timeout: timeout}, nil
	default:
		return nil, fmt.Errorf("unknown dns resolver: %q", kind)
	}
}
