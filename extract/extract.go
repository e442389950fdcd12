// Package extract isolates the main content of an HTML page: boilerplate
// is stripped, candidate containers are scored, and the winner is returned
// with its title, plain text and structural stats for downstream quality
// comparison.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// ErrNoContent is returned when not even the document body yields text.
var ErrNoContent = errors.New("extract: no textual content")

// minCandidateText is the floor below which a candidate is not considered
// main content on its own.
const minCandidateText = 140

// Stats captures structural counts of the selected content, used by the
// quality gate for parity checks against the produced markdown.
type Stats struct {
	Links      int
	ListItems  int
	CodeBlocks int
	Tables     int
	Paragraphs int
	Headings   int
}

// Result is the outcome of content extraction.
type Result struct {
	Title string
	Text  string // visible plain text of the selection
	HTML  string // rendered HTML of the selection, links absolutized
	Stats Stats
}

// Extract finds the main content of page, resolving relative href/src
// against baseURL. Selection order: best-scoring candidate container →
// readability fallback → whole body.
func Extract(page []byte, baseURL *url.URL) (*Result, error) {
	doc, err := html.Parse(bytes.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("extract: parse: %w", err)
	}

	stripNonContent(doc)
	absolutize(doc, baseURL)

	gq := goquery.NewDocumentFromNode(doc)
	title := resolveTitle(gq)

	best := bestCandidate(gq)
	if best == nil {
		if r := tryReadability(page, baseURL); r != nil {
			if r.Title == "" {
				r.Title = title
			}
			return r, nil
		}
		best = findBody(doc)
	}
	if best == nil {
		return nil, ErrNoContent
	}

	text := collectText(best)
	if strings.TrimSpace(text) == "" {
		return nil, ErrNoContent
	}

	if title == "" {
		title = firstHeading(best)
	}

	return &Result{
		Title: title,
		Text:  text,
		HTML:  renderNode(best),
		Stats: collectStats(best),
	}, nil
}

// tryReadability runs go-shiori's readability port as a second opinion when
// the heuristic scorer found nothing above the floor.
func tryReadability(page []byte, baseURL *url.URL) *Result {
	article, err := readability.FromReader(bytes.NewReader(page), baseURL)
	if err != nil {
		return nil
	}
	text := strings.TrimSpace(article.TextContent)
	if len(text) < minCandidateText {
		return nil
	}
	stats := Stats{}
	if node, err := html.Parse(strings.NewReader(article.Content)); err == nil {
		stats = collectStats(node)
	}
	return &Result{
		Title: article.Title,
		Text:  text,
		HTML:  article.Content,
		Stats: stats,
	}
}

// resolveTitle applies the resolution order: Open Graph / Twitter meta,
// then <title>. The first-heading fallback is applied by the caller once
// the content candidate is known.
func resolveTitle(gq *goquery.Document) string {
	for _, sel := range []string{
		`meta[property="og:title"]`,
		`meta[name="twitter:title"]`,
	} {
		if v, ok := gq.Find(sel).First().Attr("content"); ok {
			if t := strings.TrimSpace(v); t != "" {
				return t
			}
		}
	}
	return strings.TrimSpace(gq.Find("title").First().Text())
}

func firstHeading(n *html.Node) string {
	var found string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if found != "" {
			return
		}
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.H1, atom.H2, atom.H3:
				found = strings.TrimSpace(collectText(n))
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return found
}

// nonContentAtoms are removed from the tree before any scoring.
var nonContentAtoms = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Iframe:   true,
	atom.Form:     true,
	atom.Button:   true,
	atom.Input:    true,
	atom.Select:   true,
	atom.Textarea: true,
	atom.Nav:      true,
	atom.Svg:      true,
	atom.Canvas:   true,
	atom.Template: true,
}

func stripNonContent(n *html.Node) {
	var next *html.Node
	for c := n.FirstChild; c != nil; c = next {
		next = c.NextSibling
		if c.Type == html.CommentNode ||
			(c.Type == html.ElementNode && nonContentAtoms[c.DataAtom]) {
			n.RemoveChild(c)
			continue
		}
		stripNonContent(c)
	}
}

// absolutize rewrites href and src attributes against base.
func absolutize(n *html.Node, base *url.URL) {
	if base == nil {
		return
	}
	if n.Type == html.ElementNode {
		for i, a := range n.Attr {
			if a.Key != "href" && a.Key != "src" {
				continue
			}
			val := strings.TrimSpace(a.Val)
			if val == "" || strings.HasPrefix(val, "#") ||
				strings.HasPrefix(val, "data:") || strings.HasPrefix(val, "javascript:") {
				continue
			}
			if ref, err := url.Parse(val); err == nil {
				n.Attr[i].Val = base.ResolveReference(ref).String()
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		absolutize(c, base)
	}
}

func findBody(doc *html.Node) *html.Node {
	var body *html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if body != nil {
			return
		}
		if n.Type == html.ElementNode && n.DataAtom == atom.Body {
			body = n
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return body
}

// collectText extracts visible text, space-joined.
func collectText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				if sb.Len() > 0 {
					sb.WriteByte(' ')
				}
				sb.WriteString(t)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

func renderNode(n *html.Node) string {
	var buf bytes.Buffer
	if err := html.Render(&buf, n); err != nil {
		return ""
	}
	return buf.String()
}

func collectStats(n *html.Node) Stats {
	var s Stats
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.A:
				s.Links++
			case atom.Li:
				s.ListItems++
			case atom.Pre:
				s.CodeBlocks++
			case atom.Table:
				s.Tables++
			case atom.P:
				s.Paragraphs++
			case atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
				s.Headings++
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return s
}
