package engine

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/pagemd/pagemd/mdconv"
	"github.com/pagemd/pagemd/quality"
)

// llmPrompt constrains the model to reshaping: it may reorganize and clean
// the draft against the source text, never invent content.
const llmPrompt = `You reformat web page content as clean markdown.
You are given a draft markdown conversion and the page's plain text.
Produce corrected markdown for the page's main content only.
Rules:
- Use ONLY information present in the inputs. Never add facts, links or text.
- Drop navigation, cookie banners, footers and other boilerplate.
- Preserve headings, lists, tables and code blocks from the source.
- Output raw markdown with no preamble and no code fence around the document.`

const llmMaxInput = 60_000

// LLM is the last rung: it refines the best failing draft with a language
// model. It never runs first, because it needs a draft to refine.
type LLM struct {
	client *genai.Client
	model  string
}

// NewLLM creates the refinement engine. A nil client (no API key configured)
// yields an engine that always skips.
func NewLLM(client *genai.Client, model string) *LLM {
	if model == "" {
		model = "gemini-2.0-flash"
	}
	return &LLM{client: client, model: model}
}

func (l *LLM) Name() string { return "llm" }

func (l *LLM) Extract(ctx context.Context, req *Request) (*Candidate, error) {
	if l.client == nil {
		return nil, fmt.Errorf("%w: llm not configured", ErrSkipped)
	}
	draft := req.BestDraft
	if draft == nil || strings.TrimSpace(draft.Markdown) == "" {
		return nil, fmt.Errorf("%w: no draft to refine", ErrSkipped)
	}

	source := draft.SourceText
	if source == "" {
		source = quality.StripMarkdown(draft.Markdown)
	}

	input := fmt.Sprintf("DRAFT MARKDOWN:\n%s\n\nPAGE PLAIN TEXT:\n%s",
		truncate(draft.Markdown, llmMaxInput), truncate(source, llmMaxInput))

	resp, err := l.client.Models.GenerateContent(ctx, l.modelFor(req),
		genai.Text(input),
		&genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(llmPrompt, genai.RoleUser),
			Temperature:       genai.Ptr[float32](0.1),
		})
	if err != nil {
		return nil, fmt.Errorf("engine: llm: %w", err)
	}

	md := strings.TrimSpace(resp.Text())
	if md == "" {
		return nil, fmt.Errorf("engine: llm: empty response")
	}
	md = stripOuterFence(md)

	// The draft's source signals still apply: the refinement is gated
	// against the same page it was derived from.
	return &Candidate{
		Engine:     l.Name(),
		Markdown:   mdconv.Postprocess(md),
		Title:      draft.Title,
		SourceText: draft.SourceText,
		Stats:      draft.Stats,
	}, nil
}

// modelFor picks the model for one attempt: a per-request override wins
// over the configured default.
func (l *LLM) modelFor(req *Request) string {
	if req.ModelOverride != "" {
		return req.ModelOverride
	}
	return l.model
}

// stripOuterFence removes a single markdown code fence wrapping the whole
// document, which models emit despite instructions.
func stripOuterFence(md string) string {
	if !strings.HasPrefix(md, "```") {
		return md
	}
	lines := strings.Split(md, "\n")
	if len(lines) < 2 || strings.TrimSpace(lines[len(lines)-1]) != "```" {
		return md
	}
	return strings.TrimSpace(strings.Join(lines[1:len(lines)-1], "\n"))
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
