package engine

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/pagemd/pagemd/browser"
	"github.com/pagemd/pagemd/extract"
	"github.com/pagemd/pagemd/mdconv"
	"github.com/pagemd/pagemd/safefetch"
)

// Renderer is what the browser stage needs from the browser package. An
// interface so tests do not have to launch Chrome.
type Renderer interface {
	Available() bool
	Render(ctx context.Context, pageURL string) ([]byte, error)
}

// Browser renders the page in headless Chrome before extraction, picking up
// content that only exists after client-side rendering. Hosts are validated
// with the same rules as direct fetches: the browser must not become an
// SSRF bypass.
type Browser struct {
	renderer  Renderer
	converter *mdconv.Converter
	validate  func(ctx context.Context, host string) error
}

// NewBrowser creates the browser rendering engine.
func NewBrowser(r Renderer, c *mdconv.Converter) *Browser {
	return &Browser{renderer: r, converter: c, validate: safefetch.ValidateHost}
}

func (b *Browser) Name() string { return "browser" }

func (b *Browser) Extract(ctx context.Context, req *Request) (*Candidate, error) {
	if b.renderer == nil || !b.renderer.Available() {
		return nil, fmt.Errorf("%w: no browser", ErrSkipped)
	}

	u, err := url.Parse(req.URL.NormalizedURL)
	if err != nil {
		return nil, fmt.Errorf("engine: browser: %w", err)
	}
	if err := b.validate(ctx, u.Hostname()); err != nil {
		return nil, err
	}

	page, err := b.renderer.Render(ctx, req.URL.NormalizedURL)
	if err != nil {
		if errors.Is(err, browser.ErrUnavailable) {
			return nil, fmt.Errorf("%w: %v", ErrSkipped, err)
		}
		return nil, err
	}

	ext, err := extract.Extract(page, u)
	if err != nil {
		return nil, err
	}

	md, err := b.converter.Convert(ext.HTML, req.URL.NormalizedURL)
	if err != nil {
		return nil, err
	}

	stats := ext.Stats
	return &Candidate{
		Engine:     b.Name(),
		Markdown:   md,
		Title:      ext.Title,
		SourceText: ext.Text,
		Stats:      &stats,
	}, nil
}
