package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// positiveSignals in id/class names raise a candidate's score.
var positiveSignals = []string{
	"article", "content", "main", "post", "entry", "body", "text", "story", "prose",
}

// negativeSignals mark navigation and chrome.
var negativeSignals = []string{
	"sidebar", "comment", "footer", "header", "menu", "nav", "banner",
	"ad-", "ads", "advert", "promo", "related", "share", "social",
	"breadcrumb", "pagination", "widget", "cookie", "popup", "modal",
}

// noisePhrases are boilerplate fragments that should not dominate content.
var noisePhrases = []string{
	"accept all cookies", "cookie settings", "privacy policy",
	"subscribe to our newsletter", "sign up", "log in", "advertisement",
	"all rights reserved", "terms of service",
}

// bestCandidate scans content containers and returns the highest-scoring
// node above the text floor, or nil when nothing qualifies.
func bestCandidate(gq *goquery.Document) *html.Node {
	var best *html.Node
	var bestScore float64

	gq.Find("article, main, section, div").Each(func(_ int, sel *goquery.Selection) {
		n := sel.Nodes[0]
		text := collectText(n)
		if len(text) < minCandidateText {
			return
		}
		score := scoreCandidate(n, sel, text)
		if score > bestScore {
			bestScore = score
			best = n
		}
	})
	return best
}

// scoreCandidate combines text mass, structure counts, attribute signals,
// link density and noise-phrase penalties into one comparable number.
func scoreCandidate(n *html.Node, sel *goquery.Selection, text string) float64 {
	textLen := len(text)
	stats := collectStats(n)

	score := logScale(textLen)
	score += float64(stats.Paragraphs) * 2
	score += float64(stats.Headings) * 1.5
	score += float64(sentenceCount(text)) * 0.5

	switch n.Data {
	case "article", "main":
		score += 8
	}

	attrs := strings.ToLower(attrString(sel))
	for _, sig := range positiveSignals {
		if strings.Contains(attrs, sig) {
			score += 5
			break
		}
	}
	for _, sig := range negativeSignals {
		if strings.Contains(attrs, sig) {
			score -= 12
			break
		}
	}

	// Link density: heavy anchor text means navigation, not prose.
	linkLen := len(collectLinkText(n))
	if textLen > 0 {
		density := float64(linkLen) / float64(textLen)
		if density > 0.5 {
			score -= 20
		} else {
			score *= 1 - density
		}
	}

	lower := strings.ToLower(text)
	for _, phrase := range noisePhrases {
		if strings.Contains(lower, phrase) {
			score -= 3
		}
	}

	return score
}

func attrString(sel *goquery.Selection) string {
	id, _ := sel.Attr("id")
	class, _ := sel.Attr("class")
	role, _ := sel.Attr("role")
	return id + " " + class + " " + role
}

// sentenceCount approximates sentences by terminal punctuation.
func sentenceCount(text string) int {
	count := 0
	for _, r := range text {
		switch r {
		case '.', '!', '?':
			count++
		}
	}
	return count
}

// logScale grows with text length but flattens out, so one giant text dump
// cannot outvote every structural signal.
func logScale(n int) float64 {
	if n <= 0 {
		return 0
	}
	scale := 1.0
	for v := n; v > 100; v /= 2 {
		scale++
	}
	return scale
}

// collectLinkText gathers only text inside anchors.
func collectLinkText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node, bool)
	walk = func(n *html.Node, inLink bool) {
		if n.Type == html.ElementNode && n.Data == "a" {
			inLink = true
		}
		if n.Type == html.TextNode && inLink {
			sb.WriteString(strings.TrimSpace(n.Data))
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, inLink)
		}
	}
	walk(n, false)
	return sb.String()
}
