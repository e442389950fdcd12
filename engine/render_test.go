package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/pagemd/pagemd/mdconv"
	"github.com/pagemd/pagemd/safefetch"
)

type fakeRenderer struct {
	html      []byte
	err       error
	available bool
	rendered  []string
}

func (f *fakeRenderer) Available() bool { return f.available }

func (f *fakeRenderer) Render(ctx context.Context, pageURL string) ([]byte, error) {
	f.rendered = append(f.rendered, pageURL)
	return f.html, f.err
}

const renderedPage = `<html><head><title>SPA Page</title></head><body>
<article><h1>Rendered Content</h1>
<p>This paragraph only exists after client-side rendering has completed and
the framework has hydrated the page with its actual article text content.</p>
<p>A second paragraph keeps the candidate above the extraction floor with
enough sentences to be selected as the main content region of the page.</p>
</article></body></html>`

func TestBrowserEngine_RendersAndExtracts(t *testing.T) {
	// WHAT: Rendered DOM flows through extraction and conversion.
	// WHY: The browser stage exists for content invisible to plain fetches.
	r := &fakeRenderer{html: []byte(renderedPage), available: true}
	eng := NewBrowser(r, mdconv.New())
	eng.validate = noopValidator

	cand, err := eng.Extract(context.Background(), &Request{URL: canonFor(t, "https://spa.example.com/page")})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if !strings.Contains(cand.Markdown, "# Rendered Content") {
		t.Errorf("markdown missing heading:\n%s", cand.Markdown)
	}
	if cand.Title != "SPA Page" {
		t.Errorf("title = %q", cand.Title)
	}
	if len(r.rendered) != 1 || r.rendered[0] != "https://spa.example.com/page" {
		t.Errorf("rendered = %v", r.rendered)
	}
}

func TestBrowserEngine_SkipsWhenUnavailable(t *testing.T) {
	// WHAT: No browser capability means ErrSkipped, not a failure.
	eng := NewBrowser(&fakeRenderer{available: false}, mdconv.New())
	_, err := eng.Extract(context.Background(), &Request{URL: canonFor(t, "https://example.com")})
	if !errors.Is(err, ErrSkipped) {
		t.Errorf("got %v, want ErrSkipped", err)
	}
}

func TestBrowserEngine_ValidatesHost(t *testing.T) {
	// WHAT: Private targets are rejected before the browser ever navigates.
	// WHY: Chrome fetching an internal address would bypass the SSRF guard.
	r := &fakeRenderer{html: []byte(renderedPage), available: true}
	eng := NewBrowser(r, mdconv.New())

	_, err := eng.Extract(context.Background(), &Request{URL: canonFor(t, "http://169.254.169.254/latest/meta-data")})
	if !errors.Is(err, safefetch.ErrPrivateAddress) {
		t.Fatalf("got %v, want ErrPrivateAddress", err)
	}
	if len(r.rendered) != 0 {
		t.Error("renderer was invoked for a private target")
	}
}
