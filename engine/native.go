package engine

import (
	"context"
	"fmt"
	"mime"
	"regexp"
	"strings"

	"github.com/pagemd/pagemd/mdconv"
	"github.com/pagemd/pagemd/safefetch"
)

// nativeAccept asks servers that can serve markdown directly to do so.
const nativeAccept = "text/markdown, text/plain;q=0.9, text/html;q=0.5"

// Native asks the origin for markdown via Accept negotiation. Sites that
// serve their docs as markdown skip extraction and conversion entirely.
type Native struct {
	fetcher *safefetch.Fetcher
}

// NewNative creates the native-markdown engine over a shared fetcher.
func NewNative(f *safefetch.Fetcher) *Native {
	return &Native{fetcher: f}
}

func (n *Native) Name() string { return "native" }

func (n *Native) Extract(ctx context.Context, req *Request) (*Candidate, error) {
	res, err := n.fetcher.Fetch(ctx, req.URL.NormalizedURL, safefetch.WithAccept(nativeAccept))
	if err != nil {
		return nil, err
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, fmt.Errorf("engine: native: status %d", res.StatusCode)
	}

	body := string(res.Body)
	mediaType, _, _ := mime.ParseMediaType(res.ContentType)
	switch mediaType {
	case "text/markdown", "text/x-markdown", "text/plain":
	default:
		return nil, fmt.Errorf("%w: origin served %s", ErrSkipped, mediaType)
	}
	// The declared type alone is not trusted: an HTML page mislabeled
	// text/markdown would otherwise become a raw-HTML candidate with no
	// source text for the gate to compare against.
	if !LooksLikeMarkdown(body) {
		return nil, fmt.Errorf("%w: %s without markdown shape", ErrSkipped, mediaType)
	}

	return &Candidate{
		Engine:   n.Name(),
		Markdown: mdconv.Postprocess(body),
	}, nil
}

var markdownSignals = []*regexp.Regexp{
	regexp.MustCompile(`(?m)^#{1,6}\s+\S`),          // ATX headings
	regexp.MustCompile("(?m)^```"),                  // fenced code
	regexp.MustCompile(`\[[^\]]+\]\([^)]+\)`),       // inline links
	regexp.MustCompile(`(?m)^\s*[-*+]\s+\S`),        // bullet lists
	regexp.MustCompile(`(?m)^\s*\d+\.\s+\S`),        // ordered lists
	regexp.MustCompile(`(?m)^\|.*\|\s*$`),           // pipe tables
	regexp.MustCompile(`\*\*[^*\n]+\*\*|__[^_\n]+__`), // strong emphasis
}

// LooksLikeMarkdown reports whether text shows at least two distinct
// markdown constructs. One accidental hash line in prose is not enough.
func LooksLikeMarkdown(text string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}
	hits := 0
	for _, re := range markdownSignals {
		if re.MatchString(text) {
			hits++
			if hits >= 2 {
				return true
			}
		}
	}
	return false
}
