package engine

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pagemd/pagemd/mdconv"
)

// ReaderConfig describes one external URL-to-markdown service. These follow
// the jina.ai reader convention: GET <endpoint>/<target-url> returns the
// page as markdown.
type ReaderConfig struct {
	Name     string        `yaml:"name"`
	Endpoint string        `yaml:"endpoint"`
	APIKey   string        `yaml:"api_key"`
	Timeout  time.Duration `yaml:"timeout"`
	MaxBytes int64         `yaml:"max_bytes"`
}

// Reader proxies extraction through a hosted reader service. Useful for
// sites that block datacenter IPs but not the big reader providers.
type Reader struct {
	cfg    ReaderConfig
	client *http.Client
}

// NewReader creates a reader engine for one configured service.
func NewReader(cfg ReaderConfig) *Reader {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 10 << 20
	}
	return &Reader{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

func (r *Reader) Name() string { return "reader:" + r.cfg.Name }

func (r *Reader) Extract(ctx context.Context, req *Request) (*Candidate, error) {
	if r.cfg.Endpoint == "" {
		return nil, fmt.Errorf("%w: reader %s has no endpoint", ErrSkipped, r.cfg.Name)
	}

	target := strings.TrimRight(r.cfg.Endpoint, "/") + "/" + req.URL.NormalizedURL
	hreq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("engine: reader %s: %w", r.cfg.Name, err)
	}
	hreq.Header.Set("Accept", "text/markdown, text/plain;q=0.9")
	if r.cfg.APIKey != "" {
		hreq.Header.Set("Authorization", "Bearer "+r.cfg.APIKey)
	}

	resp, err := r.client.Do(hreq)
	if err != nil {
		return nil, fmt.Errorf("engine: reader %s: %w", r.cfg.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("engine: reader %s: HTTP %d: %s",
			r.cfg.Name, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, r.cfg.MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("engine: reader %s: read: %w", r.cfg.Name, err)
	}
	if int64(len(data)) > r.cfg.MaxBytes {
		return nil, fmt.Errorf("engine: reader %s: response exceeds %d bytes", r.cfg.Name, r.cfg.MaxBytes)
	}

	return &Candidate{
		Engine:   r.Name(),
		Markdown: mdconv.Postprocess(string(data)),
	}, nil
}

// Validate checks the configured endpoint, called once at startup rather
// than per request.
func (r *Reader) Validate() error {
	if r.cfg.Endpoint == "" {
		return nil
	}
	u, err := url.Parse(r.cfg.Endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("engine: reader %s: bad endpoint %q", r.cfg.Name, r.cfg.Endpoint)
	}
	return nil
}
