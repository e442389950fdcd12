// Package mdconv converts extracted HTML fragments to markdown. The heavy
// lifting is done by html-to-markdown's commonmark and table plugins; this
// package owns the passes the converter does not: flattening collapsible
// sections, dropping javascript: links and data: images, sanitizing the
// fragment, and normalizing the final whitespace shape.
package mdconv

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Converter turns HTML fragments into normalized markdown.
type Converter struct {
	conv   *htmltomarkdown.Converter
	policy *bluemonday.Policy
}

// New creates a Converter with the commonmark and table plugins.
func New() *Converter {
	policy := bluemonday.UGCPolicy()
	policy.AllowAttrs("class").OnElements("code", "pre", "div", "span")
	policy.AllowElements("details", "summary", "figure", "figcaption")

	return &Converter{
		conv: htmltomarkdown.NewConverter(
			htmltomarkdown.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
		policy: policy,
	}
}

// Convert produces markdown for fragment. sourceURL (may be empty) anchors
// any remaining relative links.
func (c *Converter) Convert(fragment string, sourceURL string) (string, error) {
	pre, err := preprocess(fragment)
	if err != nil {
		return "", err
	}
	pre = c.policy.Sanitize(pre)

	var opts []htmltomarkdown.ConvertOptionFunc
	if sourceURL != "" {
		opts = append(opts, htmltomarkdown.WithDomain(sourceURL))
	}
	md, err := c.conv.ConvertString(pre, opts...)
	if err != nil {
		return "", fmt.Errorf("mdconv: convert: %w", err)
	}
	return Postprocess(md), nil
}

// preprocess rewrites the fragment DOM: <details> becomes a bold label plus
// body, javascript: anchors are unwrapped to their text, data: images are
// dropped.
func preprocess(fragment string) (string, error) {
	doc, err := html.Parse(strings.NewReader(fragment))
	if err != nil {
		return "", fmt.Errorf("mdconv: parse: %w", err)
	}
	rewrite(doc)

	var buf bytes.Buffer
	if err := html.Render(&buf, doc); err != nil {
		return "", fmt.Errorf("mdconv: render: %w", err)
	}
	return buf.String(), nil
}

func rewrite(n *html.Node) {
	var next *html.Node
	for c := n.FirstChild; c != nil; c = next {
		next = c.NextSibling

		if c.Type != html.ElementNode {
			continue
		}
		switch c.DataAtom {
		case atom.Details:
			flattenDetails(n, c)
			continue
		case atom.A:
			if strings.HasPrefix(strings.ToLower(strings.TrimSpace(attr(c, "href"))), "javascript:") {
				unwrap(n, c)
				continue
			}
		case atom.Img:
			if strings.HasPrefix(strings.ToLower(strings.TrimSpace(attr(c, "src"))), "data:") {
				n.RemoveChild(c)
				continue
			}
		}
		rewrite(c)
	}
}

// flattenDetails replaces <details><summary>label</summary>body</details>
// with <p><strong>label</strong></p> followed by the body nodes.
func flattenDetails(parent, details *html.Node) {
	var label string
	var bodyNodes []*html.Node
	for c := details.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.DataAtom == atom.Summary {
			label = textOf(c)
			continue
		}
		bodyNodes = append(bodyNodes, c)
	}
	if label == "" {
		label = "Details"
	}

	strong := &html.Node{Type: html.ElementNode, DataAtom: atom.Strong, Data: "strong"}
	strong.AppendChild(&html.Node{Type: html.TextNode, Data: label})
	p := &html.Node{Type: html.ElementNode, DataAtom: atom.P, Data: "p"}
	p.AppendChild(strong)

	parent.InsertBefore(p, details)
	for _, b := range bodyNodes {
		details.RemoveChild(b)
		parent.InsertBefore(b, details)
		rewrite(b)
	}
	parent.RemoveChild(details)
}

// unwrap replaces a node with its children.
func unwrap(parent, n *html.Node) {
	var next *html.Node
	for c := n.FirstChild; c != nil; c = next {
		next = c.NextSibling
		n.RemoveChild(c)
		parent.InsertBefore(c, n)
	}
	parent.RemoveChild(n)
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textOf(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.TrimSpace(sb.String())
}

var multiBlank = regexp.MustCompile(`\n{3,}`)

// Postprocess normalizes whitespace: 3+ blank lines collapse to one blank
// line, trailing per-line whitespace is trimmed, and the output ends with
// exactly one newline. Idempotent.
func Postprocess(md string) string {
	lines := strings.Split(md, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	out := strings.Join(lines, "\n")
	out = multiBlank.ReplaceAllString(out, "\n\n")
	out = strings.Trim(out, "\n")
	if out == "" {
		return ""
	}
	return out + "\n"
}
