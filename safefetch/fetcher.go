package safefetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrResponseTooLarge is returned when the body exceeds the byte ceiling.
var ErrResponseTooLarge = errors.New("safefetch: response too large")

// ErrTooManyRedirects is returned when the redirect hop cap is exceeded.
var ErrTooManyRedirects = errors.New("safefetch: too many redirects")

// ErrTimeout is returned when the operation exceeds its deadline.
var ErrTimeout = errors.New("safefetch: timeout")

// ErrNetwork wraps transport-level failures other than timeouts.
var ErrNetwork = errors.New("safefetch: network error")

// Config configures a Fetcher.
type Config struct {
	Timeout        time.Duration // whole-operation bound. Default: 30s.
	MaxBytes       int64         // response body ceiling. Default: 10MB.
	MaxRedirects   int           // redirect hop cap. Default: 5.
	UserAgent      string
	AcceptLanguage string
	// HostHeaders maps a hostname to extra headers sent only to that host,
	// e.g. an Authorization header for a docs site behind auth.
	HostHeaders map[string]map[string]string
	// PerHostRPS throttles requests per target host. Default: 1 req/s,
	// burst 3.
	PerHostRPS float64
	// HostValidator validates the target host before each request and each
	// redirect hop. Default: ValidateHost. Overridable for tests.
	HostValidator func(ctx context.Context, host string) error
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 10 << 20
	}
	if c.MaxRedirects <= 0 {
		c.MaxRedirects = 5
	}
	if c.UserAgent == "" {
		c.UserAgent = "Mozilla/5.0 (compatible; pagemd/1.0)"
	}
	if c.AcceptLanguage == "" {
		c.AcceptLanguage = "en-US,en;q=0.8"
	}
	if c.PerHostRPS <= 0 {
		c.PerHostRPS = 1
	}
	if c.HostValidator == nil {
		c.HostValidator = ValidateHost
	}
}

// Result is the outcome of a fetch.
type Result struct {
	Body        []byte
	StatusCode  int
	ContentType string
	FinalURL    string // URL after redirects
	Header      http.Header
}

// Fetcher performs SSRF-validated GETs with manual redirect handling.
type Fetcher struct {
	client *http.Client
	cfg    Config

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New creates a Fetcher. Automatic redirect following is disabled: hops are
// walked manually so every Location can be re-validated first.
func New(cfg Config) *Fetcher {
	cfg.defaults()
	return &Fetcher{
		client: &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		cfg:      cfg,
		limiters: make(map[string]*rate.Limiter),
	}
}

// RequestOption tweaks a single fetch.
type RequestOption func(*http.Request)

// WithAccept overrides the Accept header, used by the native-markdown stage.
func WithAccept(accept string) RequestOption {
	return func(r *http.Request) { r.Header.Set("Accept", accept) }
}

// Fetch GETs rawURL, validating the address of the initial target and of
// every redirect hop before contact. The body read is capped at MaxBytes;
// exceeding the cap aborts with ErrResponseTooLarge instead of buffering.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, opts ...RequestOption) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	current := rawURL
	for hop := 0; ; hop++ {
		if hop > f.cfg.MaxRedirects {
			return nil, fmt.Errorf("%w: %d hops from %s", ErrTooManyRedirects, hop, rawURL)
		}

		u, err := url.Parse(current)
		if err != nil {
			return nil, fmt.Errorf("safefetch: parse %q: %w", current, err)
		}
		if err := f.cfg.HostValidator(ctx, u.Hostname()); err != nil {
			return nil, err
		}
		if err := f.hostLimiter(u.Hostname()).Wait(ctx); err != nil {
			return nil, classify(err)
		}

		resp, err := f.do(ctx, current, u.Hostname(), opts)
		if err != nil {
			return nil, classify(err)
		}

		if isRedirect(resp.StatusCode) {
			loc := resp.Header.Get("Location")
			resp.Body.Close()
			if loc == "" {
				return nil, fmt.Errorf("%w: redirect without Location", ErrNetwork)
			}
			next, err := u.Parse(loc)
			if err != nil {
				return nil, fmt.Errorf("safefetch: bad Location %q: %w", loc, err)
			}
			current = next.String()
			continue
		}

		body, err := readBounded(resp.Body, f.cfg.MaxBytes)
		resp.Body.Close()
		if err != nil {
			return nil, classify(err)
		}

		return &Result{
			Body:        body,
			StatusCode:  resp.StatusCode,
			ContentType: resp.Header.Get("Content-Type"),
			FinalURL:    current,
			Header:      resp.Header,
		}, nil
	}
}

func (f *Fetcher) do(ctx context.Context, target, host string, opts []RequestOption) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("safefetch: new request: %w", err)
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", f.cfg.AcceptLanguage)
	for k, v := range f.cfg.HostHeaders[host] {
		req.Header.Set(k, v)
	}
	for _, o := range opts {
		o(req)
	}
	return f.client.Do(req)
}

func (f *Fetcher) hostLimiter(host string) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.limiters[host]
	if !ok {
		l = rate.NewLimiter(rate.Limit(f.cfg.PerHostRPS), 3)
		f.limiters[host] = l
	}
	return l
}

// readBounded streams at most max bytes; one byte past the ceiling aborts.
func readBounded(r io.Reader, max int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > max {
		return nil, fmt.Errorf("%w: exceeds %d bytes", ErrResponseTooLarge, max)
	}
	return data, nil
}

func isRedirect(code int) bool {
	switch code {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

// classify maps transport errors onto the package's sentinel taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrResponseTooLarge) || errors.Is(err, ErrPrivateAddress) ||
		errors.Is(err, ErrDNSResolution) || errors.Is(err, ErrTooManyRedirects) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var ne interface{ Timeout() bool }
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	if strings.Contains(err.Error(), "context deadline exceeded") {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrNetwork, err)
}
