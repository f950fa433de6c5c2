package api

import (
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthMiddleware(t *testing.T) {
	cases := []struct {
		name   string
		key    string
		method string
		target string
		header string
		want   int
	}{
		{"open when no key configured", "", http.MethodPost, "/track-item", "", http.StatusOK},
		{"health needs no key", "k3y", http.MethodGet, "/health", "", http.StatusOK},
		{"metrics needs no key", "k3y", http.MethodGet, "/metrics", "", http.StatusOK},
		{"listing without header", "k3y", http.MethodGet, "/tracked-items", "", http.StatusUnauthorized},
		{"legacy listing without header", "k3y", http.MethodGet, "/api/tracked-skins", "", http.StatusUnauthorized},
		{"scan with wrong key", "k3y", http.MethodPost, "/scan", "Bearer nope", http.StatusUnauthorized},
		{"basic scheme rejected", "k3y", http.MethodDelete, "/delete-item/abc", "Basic k3y", http.StatusUnauthorized},
		{"bearer accepted on update", "k3y", http.MethodPatch, "/update-data/abc", "Bearer k3y", http.StatusOK},
		{"stream with header", "k3y", http.MethodGet, "/ws/prices", "Bearer k3y", http.StatusOK},
		{"stream with query key", "k3y", http.MethodGet, "/ws/prices?api_key=k3y", "", http.StatusOK},
		{"stream with wrong query key", "k3y", http.MethodGet, "/ws/prices?api_key=nope", "", http.StatusUnauthorized},
		{"query key ignored off the stream", "k3y", http.MethodGet, "/tracked-items?api_key=k3y", "", http.StatusUnauthorized},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := &Server{apiKey: tc.key}
			req := httptest.NewRequest(tc.method, tc.target, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rr := httptest.NewRecorder()
			s.authMiddleware(okHandler()).ServeHTTP(rr, req)

			if rr.Code != tc.want {
				t.Fatalf("%s %s: got %d, want %d", tc.method, tc.target, rr.Code, tc.want)
			}
		})
	}
}

func TestCorsMiddleware_Headers(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := corsMiddleware(inner, "https://myapp.example.com")

	req := httptest.NewRequest(http.MethodGet, "/tracked-items", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	origin := rr.Header().Get("Access-Control-Allow-Origin")
	if origin != "https://myapp.example.com" {
		t.Fatalf("expected custom origin, got %q", origin)
	}

	allow := rr.Header().Get("Access-Control-Allow-Headers")
	if allow == "" {
		t.Fatal("expected Allow-Headers to include Authorization")
	}
}

func TestCorsMiddleware_Preflight(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("inner handler should not be called for OPTIONS")
	})
	handler := corsMiddleware(inner, "*")

	req := httptest.NewRequest(http.MethodOptions, "/tracked-items", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for preflight, got %d", rr.Code)
	}
}

func TestCorsMiddleware_AllowsMutatingMethods(t *testing.T) {
	handler := corsMiddleware(http.NotFoundHandler(), "")

	req := httptest.NewRequest(http.MethodOptions, "/update-data/abc", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	methods := rr.Header().Get("Access-Control-Allow-Methods")
	for _, m := range []string{"GET", "POST", "PATCH", "DELETE"} {
		if !strings.Contains(methods, m) {
			t.Fatalf("Allow-Methods %q is missing %s", methods, m)
		}
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatal("empty origin should default to *")
	}
}

func TestRateLimit_OnlyMutatingRequests(t *testing.T) {
	lim := &fakeLimiter{allow: 1}
	s := NewServer(Options{Store: newFakeStore(), Scanner: &fakeScanner{}, Limiter: lim})

	for i := 0; i < 3; i++ {
		if rr := do(t, s, http.MethodGet, "/tracked-items", ""); rr.Code != http.StatusOK {
			t.Fatalf("reads must not be limited, got %d", rr.Code)
		}
	}
	if lim.calls != 0 {
		t.Fatalf("limiter consulted for reads: %d", lim.calls)
	}

	if rr := do(t, s, http.MethodPost, "/track-item", `{"name":"a"}`); rr.Code != http.StatusCreated {
		t.Fatalf("first write should pass, got %d", rr.Code)
	}
	rr := do(t, s, http.MethodPost, "/track-item", `{"name":"b"}`)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") != "30" {
		t.Fatalf("expected Retry-After 30, got %q", rr.Header().Get("Retry-After"))
	}
}

func TestRateLimit_FailsOpen(t *testing.T) {
	s := NewServer(Options{Store: newFakeStore(), Limiter: &fakeLimiter{err: errDown}})

	if rr := do(t, s, http.MethodPost, "/track-item", `{"name":"a"}`); rr.Code != http.StatusCreated {
		t.Fatalf("limiter outage should not block writes, got %d", rr.Code)
	}
}

func TestClientIP(t *testing.T) {
	proxies := []netip.Prefix{
		netip.MustParsePrefix("10.0.0.0/8"),
		netip.MustParsePrefix("192.0.2.1/32"),
	}
	cases := []struct {
		name    string
		proxies []netip.Prefix
		remote  string
		xff     string
		want    string
	}{
		{"direct peer", nil, "198.51.100.4:5000", "", "198.51.100.4"},
		{"header ignored without proxies", nil, "198.51.100.4:5000", "203.0.113.9", "198.51.100.4"},
		{"header ignored from untrusted peer", proxies, "198.51.100.4:5000", "203.0.113.9", "198.51.100.4"},
		{"trusted proxy forwards client", proxies, "10.0.0.7:5000", "203.0.113.9", "203.0.113.9"},
		{"spoofed leftmost hop skipped", proxies, "10.0.0.7:5000", "1.2.3.4, 203.0.113.9", "203.0.113.9"},
		{"chain of trusted proxies", proxies, "10.0.0.7:5000", "203.0.113.9, 192.0.2.1, 10.1.1.1", "203.0.113.9"},
		{"only proxies in header", proxies, "10.0.0.7:5000", "10.2.2.2", "10.2.2.2"},
		{"trusted proxy without header", proxies, "10.0.0.7:5000", "", "10.0.0.7"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := &Server{proxies: tc.proxies}
			req := httptest.NewRequest(http.MethodPost, "/track-item", nil)
			req.RemoteAddr = tc.remote
			if tc.xff != "" {
				req.Header.Set("X-Forwarded-For", tc.xff)
			}
			if got := s.clientIP(req); got != tc.want {
				t.Fatalf("clientIP = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestRateLimit_SpoofedHeaderSharesPeerBudget(t *testing.T) {
	lim := &keyedLimiter{perKey: 1}
	s := NewServer(Options{Store: newFakeStore(), Scanner: &fakeScanner{}, Limiter: lim})

	for i, fwd := range []string{"203.0.113.1", "203.0.113.2"} {
		req := httptest.NewRequest(http.MethodPost, "/track-item", strings.NewReader(`{"name":"a"}`))
		req.RemoteAddr = "198.51.100.4:5000"
		req.Header.Set("X-Forwarded-For", fwd)
		rr := httptest.NewRecorder()
		s.Handler().ServeHTTP(rr, req)

		want := http.StatusCreated
		if i > 0 {
			want = http.StatusTooManyRequests
		}
		if rr.Code != want {
			t.Fatalf("request %d with X-Forwarded-For %s: got %d, want %d", i, fwd, rr.Code, want)
		}
	}
}
