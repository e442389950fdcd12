// Package engine runs the extraction ladder: an ordered list of engines each
// tries to turn a URL into markdown, the quality gate judges every attempt,
// and the first passing candidate wins. When every stage fails the gate, the
// best non-empty candidate is served flagged as low quality.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pagemd/pagemd/canon"
	"github.com/pagemd/pagemd/extract"
	"github.com/pagemd/pagemd/quality"
)

// ErrAllStagesFailed is returned when no engine produced any usable output.
var ErrAllStagesFailed = errors.New("engine: all stages failed")

// ErrSkipped marks an engine that declined to run (missing capability or
// configuration). Skips are not failures; the ladder just moves on.
var ErrSkipped = errors.New("engine: stage skipped")

// Request is the input to one engine attempt.
type Request struct {
	URL *canon.CanonicalURL

	// ModelOverride names a caller-requested model for the refinement
	// stage; empty means the configured default.
	ModelOverride string

	// BestDraft is the highest-scoring candidate from earlier stages, nil
	// on the first attempt. Refinement engines build on it.
	BestDraft *Candidate
}

// Candidate is one engine's output plus its gate verdict.
type Candidate struct {
	Engine     string
	Markdown   string
	Title      string
	SourceText string
	Stats      *extract.Stats
	Report     quality.Report
}

// Engine is one rung of the ladder.
type Engine interface {
	Name() string
	Extract(ctx context.Context, req *Request) (*Candidate, error)
}

// Config configures the orchestrator.
type Config struct {
	// StageTimeout bounds each engine attempt. Default: 45s.
	StageTimeout time.Duration

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.StageTimeout <= 0 {
		c.StageTimeout = 45 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Orchestrator walks the engines in order until one passes the gate.
type Orchestrator struct {
	cfg     Config
	engines []Engine
}

// NewOrchestrator creates an orchestrator over the given engines, tried in
// the given order.
func NewOrchestrator(cfg Config, engines ...Engine) *Orchestrator {
	cfg.defaults()
	return &Orchestrator{cfg: cfg, engines: engines}
}

// Run tries each engine in turn. The first candidate that passes the quality
// gate is returned immediately; later engines are never invoked. If every
// stage fails, the best non-empty candidate is returned with its engine name
// suffixed "_low_quality". With no candidate at all, ErrAllStagesFailed
// wraps the per-stage errors. modelOverride is passed through to the
// refinement stage; empty selects its configured default.
func (o *Orchestrator) Run(ctx context.Context, cu *canon.CanonicalURL, modelOverride string) (*Candidate, error) {
	log := o.cfg.Logger

	var best *Candidate
	var stageErrs []error

	req := &Request{URL: cu, ModelOverride: modelOverride}

	for _, eng := range o.engines {
		if ctx.Err() != nil {
			break
		}

		cand, err := o.attempt(ctx, eng, req)
		if err != nil {
			if errors.Is(err, ErrSkipped) {
				log.Debug("engine skipped", "engine", eng.Name(), "url", cu.DisplayURL)
			} else {
				log.Warn("engine failed", "engine", eng.Name(), "url", cu.DisplayURL, "error", err)
				stageErrs = append(stageErrs, fmt.Errorf("%s: %w", eng.Name(), err))
			}
			continue
		}

		cand.Report = quality.Evaluate(quality.Input{
			Markdown:    cand.Markdown,
			SourceText:  cand.SourceText,
			SourceTitle: cand.Title,
			Stats:       cand.Stats,
		})

		if cand.Report.Passed {
			log.Info("engine passed gate", "engine", cand.Engine,
				"url", cu.DisplayURL, "score", cand.Report.Score)
			return cand, nil
		}

		log.Info("engine failed gate", "engine", cand.Engine,
			"url", cu.DisplayURL, "score", cand.Report.Score,
			"reasons", strings.Join(cand.Report.Reasons, ","))

		if better(cand, best) {
			best = cand
			req.BestDraft = cand
		}
	}

	if best != nil && strings.TrimSpace(best.Markdown) != "" {
		best.Engine += "_low_quality"
		log.Warn("serving low-quality candidate", "engine", best.Engine,
			"url", cu.DisplayURL, "score", best.Report.Score)
		return best, nil
	}

	return nil, fmt.Errorf("%w: %w", ErrAllStagesFailed, errors.Join(stageErrs...))
}

// attempt runs one engine with a stage timeout and panic isolation: a
// misbehaving parser takes down its stage, not the ladder.
func (o *Orchestrator) attempt(ctx context.Context, eng Engine, req *Request) (cand *Candidate, err error) {
	stageCtx, cancel := context.WithTimeout(ctx, o.cfg.StageTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			cand = nil
			err = fmt.Errorf("engine %s panicked: %v", eng.Name(), r)
		}
	}()

	cand, err = eng.Extract(stageCtx, req)
	if err != nil {
		return nil, err
	}
	if cand == nil || strings.TrimSpace(cand.Markdown) == "" {
		return nil, fmt.Errorf("engine %s returned empty output", eng.Name())
	}
	if cand.Engine == "" {
		cand.Engine = eng.Name()
	}
	return cand, nil
}

// better orders fallback candidates: engine class first (external sources
// over rendered over fetched), gate score second.
func better(c, than *Candidate) bool {
	if than == nil {
		return true
	}
	cc, tc := classOf(c.Engine), classOf(than.Engine)
	if cc != tc {
		return cc > tc
	}
	return c.Report.Score > than.Report.Score
}

func classOf(name string) int {
	switch {
	case strings.HasPrefix(name, "reader:") || name == "llm":
		return 3
	case name == "browser":
		return 2
	case name == "local":
		return 1
	default:
		return 0
	}
}
