package safefetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// noopValidator allows all hosts, so tests can hit loopback httptest
// servers. Address validation itself is covered in validate_test.go.
func noopValidator(context.Context, string) error { return nil }

func testFetcher(cfg Config) *Fetcher {
	if cfg.HostValidator == nil {
		cfg.HostValidator = noopValidator
	}
	if cfg.PerHostRPS == 0 {
		cfg.PerHostRPS = 1000
	}
	return New(cfg)
}

func TestFetch_BlocksLoopbackTarget(t *testing.T) {
	// WHAT: With the real validator, a loopback target is rejected before
	// any request is made.
	// WHY: The address check must precede network contact.
	f := New(Config{})
	_, err := f.Fetch(context.Background(), "http://127.0.0.1:9/whatever")
	if !errors.Is(err, ErrPrivateAddress) {
		t.Fatalf("got %v, want ErrPrivateAddress", err)
	}
}

func TestFetch_RedirectToPrivateBlocked(t *testing.T) {
	// WHAT: A redirect hop into private space fails with ErrPrivateAddress.
	// WHY: Open-redirect → SSRF is the common attack chain; every hop is
	// re-validated, not just the first target.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "http://169.254.169.254/latest/meta-data/", http.StatusFound)
	}))
	defer srv.Close()

	// Allow the first (httptest) hop, validate subsequent hops for real.
	first := true
	hopValidator := func(ctx context.Context, host string) error {
		if first {
			first = false
			return nil
		}
		return ValidateHost(ctx, host)
	}

	f := testFetcher(Config{HostValidator: hopValidator})
	_, err := f.Fetch(context.Background(), srv.URL)
	if !errors.Is(err, ErrPrivateAddress) {
		t.Fatalf("got %v, want ErrPrivateAddress", err)
	}
}

func TestFetch_Success(t *testing.T) {
	// WHAT: Plain GET returns body, status, content type and final URL.
	// WHY: Core fetch contract.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") == "" {
			t.Error("missing User-Agent")
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte("<html><body>hello</body></html>"))
	}))
	defer srv.Close()

	f := testFetcher(Config{})
	res, err := f.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if res.StatusCode != 200 {
		t.Errorf("status: got %d", res.StatusCode)
	}
	if !strings.Contains(string(res.Body), "hello") {
		t.Errorf("body: got %q", res.Body)
	}
	if !strings.HasPrefix(res.ContentType, "text/html") {
		t.Errorf("content type: got %q", res.ContentType)
	}
	if res.FinalURL != srv.URL {
		t.Errorf("final url: got %q", res.FinalURL)
	}
}

func TestFetch_ResponseTooLarge(t *testing.T) {
	// WHAT: A body over MaxBytes aborts with ErrResponseTooLarge.
	// WHY: Bounded memory on untrusted responses.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, 4096))
	}))
	defer srv.Close()

	f := testFetcher(Config{MaxBytes: 1024})
	_, err := f.Fetch(context.Background(), srv.URL)
	if !errors.Is(err, ErrResponseTooLarge) {
		t.Fatalf("got %v, want ErrResponseTooLarge", err)
	}
}

func TestFetch_TooManyRedirects(t *testing.T) {
	// WHAT: A redirect loop fails with ErrTooManyRedirects at the cap.
	// WHY: Bounded hop count.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, r.URL.Path+"x", http.StatusFound)
	}))
	defer srv.Close()

	f := testFetcher(Config{MaxRedirects: 3})
	_, err := f.Fetch(context.Background(), srv.URL+"/a")
	if !errors.Is(err, ErrTooManyRedirects) {
		t.Fatalf("got %v, want ErrTooManyRedirects", err)
	}
}

func TestFetch_RedirectFollowed(t *testing.T) {
	// WHAT: A bounded redirect chain is followed and FinalURL reflects the
	// landing page.
	// WHY: Manual hop handling must still deliver normal redirect behavior.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/start" {
			http.Redirect(w, r, "/end", http.StatusMovedPermanently)
			return
		}
		fmt.Fprint(w, "landed")
	}))
	defer srv.Close()

	f := testFetcher(Config{})
	res, err := f.Fetch(context.Background(), srv.URL+"/start")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if string(res.Body) != "landed" {
		t.Errorf("body: got %q", res.Body)
	}
	if !strings.HasSuffix(res.FinalURL, "/end") {
		t.Errorf("final url: got %q", res.FinalURL)
	}
}

func TestFetch_Timeout(t *testing.T) {
	// WHAT: A slow server trips ErrTimeout.
	// WHY: No operation may block past its deadline.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer srv.Close()

	f := testFetcher(Config{Timeout: 100 * time.Millisecond})
	_, err := f.Fetch(context.Background(), srv.URL)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("got %v, want ErrTimeout", err)
	}
}

func TestFetch_HostHeaderOverrides(t *testing.T) {
	// WHAT: Configured per-host headers are attached, and request options
	// can override Accept.
	// WHY: Some domains need auth headers; the native stage negotiates
	// markdown via Accept.
	var gotAuth, gotAccept string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotAccept = r.Header.Get("Accept")
	}))
	defer srv.Close()

	f := testFetcher(Config{
		HostHeaders: map[string]map[string]string{
			"127.0.0.1": {"Authorization": "Bearer tok"},
		},
	})
	_, err := f.Fetch(context.Background(), srv.URL, WithAccept("text/markdown"))
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("auth header: got %q", gotAuth)
	}
	if gotAccept != "text/markdown" {
		t.Errorf("accept header: got %q", gotAccept)
	}
}
