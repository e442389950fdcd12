// Package quality scores a markdown candidate against signals from its
// source page and decides whether it is good enough to serve. Evaluate is a
// pure function: identical inputs always produce the identical report.
package quality

import (
	"regexp"
	"strings"

	"github.com/pagemd/pagemd/extract"
)

// Reason strings are stable identifiers surfaced in logs and reports.
const (
	ReasonTooShort      = "markdown_too_short"
	ReasonLowCoverage   = "low_coverage"
	ReasonBlocked       = "blocked_content"
	ReasonNoiseDump     = "noise_dump"
	ReasonScriptDump    = "script_dump"
	ReasonMissingTables = "missing_tables"
	ReasonMissingCode   = "missing_code"
	ReasonMissingLists  = "missing_lists"
	ReasonLowScore      = "low_score"
)

const (
	minWords      = 40
	minCoverage   = 0.25
	passThreshold = 0.6
	// listParityFloor is the source list-item count above which the
	// markdown must retain a proportional share of markers.
	listParityFloor = 5
)

// Input bundles a candidate with whatever source signals are available.
// SourceText, SourceTitle and Stats may be zero when the producing engine
// had no parsed source (native markdown, external readers).
type Input struct {
	Markdown    string
	SourceText  string
	SourceTitle string
	Stats       *extract.Stats
}

// Report is the gate's verdict. Transient: recomputed on every evaluation.
type Report struct {
	Passed   bool
	Score    float64
	Coverage float64
	Reasons  []string
}

// hardBlockPatterns identify pages that are challenge screens rather than
// content. Any match clamps the score.
var hardBlockPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(captcha|recaptcha|hcaptcha)\b`),
	regexp.MustCompile(`(?i)access (to this page has been )?denied`),
	regexp.MustCompile(`(?i)\b403 forbidden\b`),
	regexp.MustCompile(`(?i)rate.?limit(ed|ing)? (exceeded|reached)`),
	regexp.MustCompile(`(?i)are you a (robot|human)`),
	regexp.MustCompile(`(?i)checking your browser before accessing`),
	regexp.MustCompile(`(?i)enable (javascript|cookies) (and|to) continue`),
	regexp.MustCompile(`(?i)verify you are human`),
}

// noisePatterns are boilerplate that should not dominate the output.
var noisePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)accept all cookies`),
	regexp.MustCompile(`(?i)subscribe to (our|the) newsletter`),
	regexp.MustCompile(`(?i)sign in to continue`),
}

// chartCallPatterns flag mis-extracted charting scripts masquerading as
// prose: pages where an embedded Highcharts/Chart.js payload leaked into
// the extraction.
var chartCallPatterns = []*regexp.Regexp{
	regexp.MustCompile(`Highcharts\.\w+\(`),
	regexp.MustCompile(`new Chart\(`),
	regexp.MustCompile(`\.setOption\(\{`),
	regexp.MustCompile(`d3\.select\(`),
}

// Evaluate scores a candidate. Pure: no clock, no I/O, no randomness.
func Evaluate(in Input) Report {
	var reasons []string

	stripped := StripMarkdown(in.Markdown)
	words := len(strings.Fields(stripped))

	score := 0.0
	if words >= minWords {
		score += 0.35
	} else {
		reasons = append(reasons, ReasonTooShort)
	}

	coverage := coverageOf(stripped, in.SourceText, words)
	if coverage >= minCoverage {
		score += 0.25
	} else {
		reasons = append(reasons, ReasonLowCoverage)
	}

	score += 0.15 * titleOverlap(in.Markdown, in.SourceTitle)

	parityReasons := structureParity(in.Markdown, in.Stats)
	if len(parityReasons) == 0 {
		score += 0.25
	} else {
		reasons = append(reasons, parityReasons...)
	}

	hardBlocked := false
	lower := strings.ToLower(in.Markdown)
	for _, p := range hardBlockPatterns {
		if p.MatchString(lower) {
			hardBlocked = true
			reasons = append(reasons, ReasonBlocked)
			break
		}
	}

	noiseDump := false
	if words > 0 {
		noiseHits := 0
		for _, p := range noisePatterns {
			noiseHits += len(p.FindAllString(lower, -1))
		}
		// A handful of boilerplate phrases in a long page is normal; a
		// short page made of them is a dump.
		if noiseHits >= 3 && words < 200 {
			noiseDump = true
			reasons = append(reasons, ReasonNoiseDump)
		}
	}

	scriptDump := false
	if len(in.Markdown) > 20_000 {
		calls := 0
		for _, p := range chartCallPatterns {
			calls += len(p.FindAllString(in.Markdown, -1))
		}
		if calls >= 10 {
			scriptDump = true
			reasons = append(reasons, ReasonScriptDump)
		}
	}

	if hardBlocked || noiseDump || scriptDump {
		if score > 0.2 {
			score = 0.2
		}
	}

	passed := words >= minWords &&
		coverage >= minCoverage &&
		!hardBlocked && !noiseDump && !scriptDump &&
		score >= passThreshold

	if !passed && score < passThreshold && len(reasons) == 0 {
		reasons = append(reasons, ReasonLowScore)
	}

	return Report{
		Passed:   passed,
		Score:    score,
		Coverage: coverage,
		Reasons:  reasons,
	}
}

// coverageOf compares stripped markdown length against source text length.
// With no source text available, coverage degrades to a word-count floor.
func coverageOf(stripped, sourceText string, words int) float64 {
	src := strings.TrimSpace(sourceText)
	if src == "" {
		if words >= minWords {
			return 1.0
		}
		return float64(words) / float64(minWords)
	}
	c := float64(len(stripped)) / float64(len(src))
	if c > 1 {
		c = 1
	}
	return c
}

// titleOverlap measures token overlap between the markdown's first heading
// and the known source title. No title signal scores a neutral 0.5.
func titleOverlap(markdown, sourceTitle string) float64 {
	title := strings.TrimSpace(sourceTitle)
	heading := firstHeading(markdown)
	if title == "" || heading == "" {
		return 0.5
	}
	ht := tokenSet(heading)
	tt := tokenSet(title)
	if len(tt) == 0 {
		return 0.5
	}
	hits := 0
	for tok := range tt {
		if ht[tok] {
			hits++
		}
	}
	return float64(hits) / float64(len(tt))
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, f := range strings.Fields(strings.ToLower(s)) {
		f = strings.Trim(f, ".,:;!?\"'()[]")
		if len(f) > 2 {
			set[f] = true
		}
	}
	return set
}

func firstHeading(markdown string) string {
	for _, line := range strings.Split(markdown, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			return strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
		}
	}
	return ""
}

// structureParity verifies that structure present in the source survived
// conversion: tables, code blocks, and a proportional share of list items.
func structureParity(markdown string, stats *extract.Stats) []string {
	if stats == nil {
		return nil
	}
	var reasons []string
	if stats.Tables > 0 && !regexp.MustCompile(`(?m)^\s*\|.*\|`).MatchString(markdown) {
		reasons = append(reasons, ReasonMissingTables)
	}
	if stats.CodeBlocks > 0 && !strings.Contains(markdown, "```") {
		reasons = append(reasons, ReasonMissingCode)
	}
	if stats.ListItems >= listParityFloor {
		markers := regexp.MustCompile(`(?m)^\s*(?:[-*+]|\d+\.)\s`).FindAllString(markdown, -1)
		if len(markers) < stats.ListItems/3 {
			reasons = append(reasons, ReasonMissingLists)
		}
	}
	return reasons
}

var (
	codeFenceRe  = regexp.MustCompile("(?s)```.*?```")
	inlineCodeRe = regexp.MustCompile("`[^`]*`")
	linkRe       = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	imageRe      = regexp.MustCompile(`!\[([^\]]*)\]\([^)]*\)`)
	mdSyntaxRe   = regexp.MustCompile(`(?m)^[#>\-*+\s|]+|[*_~]{1,3}`)
)

// StripMarkdown reduces markdown to approximate plain text for word and
// coverage measurement.
func StripMarkdown(md string) string {
	out := codeFenceRe.ReplaceAllString(md, " ")
	out = imageRe.ReplaceAllString(out, "$1")
	out = linkRe.ReplaceAllString(out, "$1")
	out = inlineCodeRe.ReplaceAllString(out, " ")
	out = mdSyntaxRe.ReplaceAllString(out, " ")
	return strings.Join(strings.Fields(out), " ")
}
