package external

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

const skinportBody = `[
	{"market_hash_name": "AK-47 | Redline (Field-Tested)", "min_price": 9.5, "image": "https://cdn.example.com/ak.png"},
	{"market_hash_name": "AWP | Asiimov (Battle-Scarred)", "min_price": "41.20"},
	{"market_hash_name": "Sticker | Broken", "min_price": null},
	{"market_hash_name": "Case Key", "min_price": "n/a"},
	{"market_hash_name": "Zero Price", "min_price": 0},
	{"market_hash_name": 12345, "min_price": 1.0},
	{"min_price": 3.0}
]`

const backpackBody = `{
	"success": true,
	"items_list": {
		"M4A4 | Howl (Minimal Wear)": {
			"icon_url": "-9a81dlWLwJ2UUGcVs_nsVtzdOEdtWwKGZZLQHTxDZ7I56KU0Zwwo4NUX4oFJZEHLbXH5ApeO4YmlhxYQknCRvCo04DEVlxkKgpou-6kejhjxszFJTwW09izh4-HluPxDKjBl2hU18h0juDU-LP5gVO8v11uYz32JdKQdFNsMFnTrlLvwr3s0ZPtuMyZwHc2vXNw5H_Zlhe_0BpOcKUx0l5QIeiw",
			"price": {"24_hours": {"average": 1843.02, "median": 1800}}
		},
		"Glove Case Key": {
			"price": {"7_days": {"average": 2.5}}
		},
		"Operation Pass": "not an object"
	}
}`

func newTestClient(t *testing.T, url string, shape Shape) *FeedClient {
	t.Helper()
	c, err := NewFeedClient(FeedOptions{URL: url, Shape: shape, Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("NewFeedClient: %v", err)
	}
	return c
}

func TestFetchCurrentPrices_Skinport(t *testing.T) {
	var gotUA, gotAccept string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotAccept = r.Header.Get("Accept")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(skinportBody))
	}))
	defer srv.Close()

	quotes, err := newTestClient(t, srv.URL, ShapeSkinport).FetchCurrentPrices(context.Background())
	if err != nil {
		t.Fatalf("FetchCurrentPrices: %v", err)
	}

	if len(quotes) != 2 {
		t.Fatalf("expected 2 usable quotes, got %d: %+v", len(quotes), quotes)
	}
	ak := quotes["AK-47 | Redline (Field-Tested)"]
	if ak.Price != 9.5 || ak.ImageURL != "https://cdn.example.com/ak.png" {
		t.Fatalf("unexpected AK quote: %+v", ak)
	}
	if awp := quotes["AWP | Asiimov (Battle-Scarred)"]; awp.Price != 41.2 {
		t.Fatalf("string price should be parsed, got %+v", awp)
	}
	for _, name := range []string{"Sticker | Broken", "Case Key", "Zero Price"} {
		if _, ok := quotes[name]; ok {
			t.Fatalf("%q has a bad price and must be skipped", name)
		}
	}
	if !strings.Contains(gotUA, "Mozilla") || gotAccept != "application/json" {
		t.Fatalf("unexpected request headers: UA=%q Accept=%q", gotUA, gotAccept)
	}
}

func TestFetchCurrentPrices_Backpack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(backpackBody))
	}))
	defer srv.Close()

	quotes, err := newTestClient(t, srv.URL, ShapeBackpack).FetchCurrentPrices(context.Background())
	if err != nil {
		t.Fatalf("FetchCurrentPrices: %v", err)
	}
	if len(quotes) != 1 {
		t.Fatalf("expected 1 quote, got %d: %+v", len(quotes), quotes)
	}
	howl := quotes["M4A4 | Howl (Minimal Wear)"]
	if howl.Price != 1843.02 {
		t.Fatalf("expected 24h average, got %f", howl.Price)
	}
	if !strings.HasPrefix(howl.ImageURL, steamImageBase) {
		t.Fatalf("icon id should be expanded to a CDN URL, got %q", howl.ImageURL)
	}
}

func TestFetchCurrentPrices_Unavailable(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		shape  Shape
	}{
		{"rate limited", http.StatusTooManyRequests, `{"errors":[{"id":"rate_limit"}]}`, ShapeSkinport},
		{"forbidden", http.StatusForbidden, `denied`, ShapeSkinport},
		{"server error", http.StatusInternalServerError, `oops`, ShapeSkinport},
		{"object instead of array", http.StatusOK, `{"items": []}`, ShapeSkinport},
		{"html body", http.StatusOK, `<html>captcha</html>`, ShapeSkinport},
		{"backpack success false", http.StatusOK, `{"success": false}`, ShapeBackpack},
		{"backpack missing list", http.StatusOK, `{"success": true}`, ShapeBackpack},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			quotes, err := newTestClient(t, srv.URL, tc.shape).FetchCurrentPrices(context.Background())
			if !errors.Is(err, ErrFeedUnavailable) {
				t.Fatalf("expected ErrFeedUnavailable, got %v", err)
			}
			if quotes != nil {
				t.Fatalf("expected no quotes, got %+v", quotes)
			}
		})
	}
}

func TestFetchCurrentPrices_TimeoutIsUnavailable(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c, err := NewFeedClient(FeedOptions{URL: srv.URL, Timeout: 100 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	_, err = c.FetchCurrentPrices(context.Background())
	if !errors.Is(err, ErrFeedUnavailable) {
		t.Fatalf("expected ErrFeedUnavailable on hang, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatal("feed call was not bounded by the timeout")
	}
}

func TestFetchCurrentPrices_SingleRequestByDefault(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL, ShapeSkinport).FetchCurrentPrices(context.Background())
	if !errors.Is(err, ErrFeedUnavailable) {
		t.Fatalf("expected ErrFeedUnavailable, got %v", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("expected one request per cycle, got %d", hits.Load())
	}
}

func TestParseShape(t *testing.T) {
	if s, err := ParseShape(" Backpack "); err != nil || s != ShapeBackpack {
		t.Fatalf("ParseShape(backpack) = %q, %v", s, err)
	}
	if _, err := ParseShape("steam"); err == nil {
		t.Fatal("expected error for unknown shape")
	}
	if _, err := NewFeedClient(FeedOptions{URL: "http://x", Shape: "steam"}); err == nil {
		t.Fatal("expected constructor to reject unknown shape")
	}
	c, err := NewFeedClient(FeedOptions{URL: "http://x"})
	if err != nil || c.Shape() != ShapeSkinport {
		t.Fatalf("default shape should be skinport, got %v, %v", c, err)
	}
}

func TestParsePrice(t *testing.T) {
	cases := []struct {
		raw  string
		want float64
		ok   bool
	}{
		{`9.5`, 9.5, true},
		{`"12.30"`, 12.3, true},
		{`" 7 "`, 7, true},
		{`null`, 0, false},
		{``, 0, false},
		{`0`, 0, false},
		{`-3`, 0, false},
		{`"abc"`, 0, false},
		{`true`, 0, false},
		{`{"usd": 3}`, 0, false},
	}
	for _, tc := range cases {
		got, ok := parsePrice([]byte(tc.raw))
		if ok != tc.ok || got != tc.want {
			t.Fatalf("parsePrice(%s) = %v, %v; want %v, %v", tc.raw, got, ok, tc.want, tc.ok)
		}
	}
}
