package engine

import (
	"context"
	"fmt"
	"net/url"

	"github.com/pagemd/pagemd/extract"
	"github.com/pagemd/pagemd/mdconv"
	"github.com/pagemd/pagemd/safefetch"
)

// Local is the workhorse stage: SSRF-safe fetch, main-content extraction,
// markdown conversion. No JavaScript execution.
type Local struct {
	fetcher   *safefetch.Fetcher
	converter *mdconv.Converter
}

// NewLocal creates the local extraction engine.
func NewLocal(f *safefetch.Fetcher, c *mdconv.Converter) *Local {
	return &Local{fetcher: f, converter: c}
}

func (l *Local) Name() string { return "local" }

func (l *Local) Extract(ctx context.Context, req *Request) (*Candidate, error) {
	res, err := l.fetcher.Fetch(ctx, req.URL.NormalizedURL)
	if err != nil {
		return nil, err
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, fmt.Errorf("engine: local: status %d", res.StatusCode)
	}

	base, err := url.Parse(res.FinalURL)
	if err != nil {
		return nil, fmt.Errorf("engine: local: final url: %w", err)
	}

	ext, err := extract.Extract(res.Body, base)
	if err != nil {
		return nil, err
	}

	md, err := l.converter.Convert(ext.HTML, res.FinalURL)
	if err != nil {
		return nil, err
	}

	stats := ext.Stats
	return &Candidate{
		Engine:     l.Name(),
		Markdown:   md,
		Title:      ext.Title,
		SourceText: ext.Text,
		Stats:      &stats,
	}, nil
}
