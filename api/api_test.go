package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pagemd/pagemd/canon"
	"github.com/pagemd/pagemd/engine"
	"github.com/pagemd/pagemd/ratelimit"
	"github.com/pagemd/pagemd/safefetch"
	"github.com/pagemd/pagemd/snapshot"
)

// fakeResolver scripts the service layer for handler tests.
type fakeResolver struct {
	res       *snapshot.Resolution
	err       error
	versions  []snapshot.Version
	lastMode  snapshot.Mode
	lastModel string
	calls     int
}

func (f *fakeResolver) Resolve(ctx context.Context, rawURL string, mode snapshot.Mode, trigger, modelOverride string) (*snapshot.Resolution, error) {
	f.calls++
	f.lastMode = mode
	f.lastModel = modelOverride
	if f.err != nil {
		return nil, f.err
	}
	if f.res != nil {
		return f.res, nil
	}
	cu, err := canon.Canonicalize(rawURL)
	if err != nil {
		return nil, err
	}
	return &snapshot.Resolution{
		Snapshot: &snapshot.Snapshot{
			URLHash:  cu.Hash,
			Markdown: "# Page\n",
			Version:  1,
		},
	}, nil
}

func (f *fakeResolver) History(ctx context.Context, urlHash string, limit int) ([]snapshot.Version, error) {
	return f.versions, nil
}

func postResolve(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/resolve", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "203.0.113.9:1234"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestResolve_OK(t *testing.T) {
	// WHAT: A valid resolve returns the resolution JSON.
	fake := &fakeResolver{}
	h := New(fake, nil, nil).Router()

	w := postResolve(t, h, `{"targetUrl":"https://example.com/a"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", w.Code, w.Body)
	}

	var got snapshot.Resolution
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Snapshot == nil || got.Snapshot.Version != 1 {
		t.Errorf("resolution = %+v", got)
	}
	if fake.lastMode != snapshot.ModeNormal {
		t.Errorf("default mode = %s, want normal", fake.lastMode)
	}
}

func TestResolve_ModelOverride(t *testing.T) {
	// WHAT: The optional modelOverride body field reaches the service, and
	// omitting it leaves the override empty.
	fake := &fakeResolver{}
	h := New(fake, nil, nil).Router()

	w := postResolve(t, h, `{"targetUrl":"https://example.com/a","modelOverride":"gemini-2.5-pro"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", w.Code, w.Body)
	}
	if fake.lastModel != "gemini-2.5-pro" {
		t.Errorf("model = %q, want gemini-2.5-pro", fake.lastModel)
	}

	if w := postResolve(t, h, `{"targetUrl":"https://example.com/a"}`); w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if fake.lastModel != "" {
		t.Errorf("model = %q, want empty", fake.lastModel)
	}
}

func TestResolve_BadRequests(t *testing.T) {
	// WHAT: Malformed bodies, missing URLs and unknown modes get 400.
	h := New(&fakeResolver{}, nil, nil).Router()

	for _, body := range []string{
		`{not json`,
		`{}`,
		`{"targetUrl":"https://example.com","mode":"eventually"}`,
	} {
		if w := postResolve(t, h, body); w.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, w.Code)
		}
	}
}

func TestResolve_ErrorMapping(t *testing.T) {
	// WHAT: Pipeline errors map onto the documented statuses.
	// WHY: Clients branch on these codes.
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("canonicalize: %w", canon.ErrUnsupportedScheme), http.StatusBadRequest},
		{fmt.Errorf("fetch: %w", safefetch.ErrPrivateAddress), http.StatusForbidden},
		{fmt.Errorf("run: %w", engine.ErrAllStagesFailed), http.StatusBadGateway},
		{fmt.Errorf("disk full"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		h := New(&fakeResolver{err: tc.err}, nil, nil).Router()
		w := postResolve(t, h, `{"targetUrl":"https://example.com"}`)
		if w.Code != tc.want {
			t.Errorf("%v: status = %d, want %d", tc.err, w.Code, tc.want)
		}
	}
}

func TestResolve_RateLimited(t *testing.T) {
	// WHAT: Over-quota clients get 429 with a Retry-After header and the
	// resolver is never called.
	limiter := ratelimit.New(ratelimit.Config{
		Read: ratelimit.Limits{PerHour: 1, PerDay: 10},
	})
	fake := &fakeResolver{}
	h := New(fake, limiter, nil).Router()

	if w := postResolve(t, h, `{"targetUrl":"https://example.com"}`); w.Code != http.StatusOK {
		t.Fatalf("first: status = %d", w.Code)
	}
	w := postResolve(t, h, `{"targetUrl":"https://example.com"}`)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second: status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}
	if fake.calls != 1 {
		t.Errorf("resolver calls = %d, want 1", fake.calls)
	}
}

func TestVersions_OK(t *testing.T) {
	// WHAT: The history endpoint returns the ordered version list.
	hash := strings.Repeat("ab", 32)
	fake := &fakeResolver{versions: []snapshot.Version{
		{URLHash: hash, Version: 2, Trigger: snapshot.TriggerRevalidate, MarkdownHash: strings.Repeat("c", 64)},
		{URLHash: hash, Version: 1, Trigger: snapshot.TriggerInitial, MarkdownHash: strings.Repeat("d", 64)},
	}}
	h := New(fake, nil, nil).Router()

	req := httptest.NewRequest(http.MethodGet, "/api/snapshots/"+hash+"/versions", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var got struct {
		URLHash  string             `json:"urlHash"`
		Versions []snapshot.Version `json:"versions"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.URLHash != hash || len(got.Versions) != 2 || got.Versions[0].Version != 2 {
		t.Errorf("response = %+v", got)
	}
}

func TestVersions_BadHash(t *testing.T) {
	// WHAT: Hashes must be 64 lowercase hex characters.
	h := New(&fakeResolver{}, nil, nil).Router()
	for _, hash := range []string{"zz", strings.Repeat("A", 64), strings.Repeat("a", 63)} {
		req := httptest.NewRequest(http.MethodGet, "/api/snapshots/"+hash+"/versions", nil)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Errorf("hash %q: status = %d, want 400", hash, w.Code)
		}
	}
}

func TestVersions_EmptyHistory(t *testing.T) {
	// WHAT: An unknown hash yields an empty list, not null and not 404.
	h := New(&fakeResolver{}, nil, nil).Router()
	req := httptest.NewRequest(http.MethodGet, "/api/snapshots/"+strings.Repeat("e", 64)+"/versions", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !bytes.Contains(w.Body.Bytes(), []byte(`"versions":[]`)) {
		t.Errorf("body = %s", w.Body)
	}
}

func TestHealthz(t *testing.T) {
	// WHAT: The health endpoint answers without dependencies.
	h := New(&fakeResolver{}, nil, nil).Router()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "ok") {
		t.Errorf("status = %d body = %s", w.Code, w.Body)
	}
}
