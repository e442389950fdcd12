package snapshot

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/pagemd/pagemd/canon"
	"github.com/pagemd/pagemd/engine"
)

// Mode selects cache behaviour for a resolve call.
type Mode string

const (
	// ModeNormal serves any existing snapshot immediately, stale or not.
	ModeNormal Mode = "normal"
	// ModeRevalidate always regenerates.
	ModeRevalidate Mode = "revalidate"
)

// ValidMode reports whether m is a known mode.
func ValidMode(m Mode) bool {
	return m == ModeNormal || m == ModeRevalidate
}

// Runner is the extraction ladder as the service sees it.
type Runner interface {
	Run(ctx context.Context, cu *canon.CanonicalURL, modelOverride string) (*engine.Candidate, error)
}

// Resolution is the outcome of a resolve call.
type Resolution struct {
	Snapshot        *Snapshot `json:"snapshot"`
	FromCache       bool      `json:"fromCache"`
	FallbackToCache bool      `json:"fallbackToCache,omitempty"`
	Warning         string    `json:"warning,omitempty"`
}

// Config configures the resolve service.
type Config struct {
	// TTL is how long a snapshot stays fresh; it only sets staleAt, which
	// clients may act on. Default: 7 days.
	TTL time.Duration

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.TTL <= 0 {
		c.TTL = 7 * 24 * time.Hour
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Service is the resolve front: cache lookups, single-flight regeneration,
// paired versioned writes, graceful revalidation fallback.
type Service struct {
	cfg    Config
	store  *Store
	runner Runner
	group  singleflight.Group
	now    func() time.Time
}

// NewService creates a Service over store and runner.
func NewService(cfg Config, store *Store, runner Runner) *Service {
	cfg.defaults()
	return &Service{cfg: cfg, store: store, runner: runner, now: time.Now}
}

// Resolve turns a raw URL into a snapshot. Normal mode returns an existing
// snapshot immediately; otherwise the extraction ladder runs, deduplicated
// per URL hash so concurrent callers share one execution. trigger overrides
// the recorded version trigger; empty means derive it (initial for a first
// resolve, revalidate otherwise). modelOverride selects the refinement
// model for this run; empty means the configured default.
func (s *Service) Resolve(ctx context.Context, rawURL string, mode Mode, trigger, modelOverride string) (*Resolution, error) {
	if !ValidMode(mode) {
		return nil, fmt.Errorf("snapshot: invalid mode %q", mode)
	}
	if trigger != "" && !ValidTrigger(trigger) {
		return nil, fmt.Errorf("snapshot: invalid trigger %q", trigger)
	}

	cu, err := canon.Canonicalize(rawURL)
	if err != nil {
		return nil, err
	}

	if mode == ModeNormal {
		snap, err := s.store.Get(ctx, cu.Hash)
		if err == nil {
			return &Resolution{Snapshot: snap, FromCache: true}, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}

	// Concurrent regenerations for the same hash collapse to one pipeline
	// run; attached callers receive the same resolution. The flight runs on
	// a context detached from the initiating request, so a caller hanging
	// up does not fail everyone attached behind it.
	v, err, _ := s.group.Do(cu.Hash, func() (any, error) {
		return s.regenerate(context.WithoutCancel(ctx), cu, mode, trigger, modelOverride)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Resolution), nil
}

func (s *Service) regenerate(ctx context.Context, cu *canon.CanonicalURL, mode Mode, trigger, modelOverride string) (*Resolution, error) {
	log := s.cfg.Logger

	prior, err := s.store.Get(ctx, cu.Hash)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	// A flight that just finished may have filled the cache between our
	// miss and this callback.
	if mode == ModeNormal && prior != nil {
		return &Resolution{Snapshot: prior, FromCache: true}, nil
	}

	cand, runErr := s.runner.Run(ctx, cu, modelOverride)
	if runErr != nil {
		if mode == ModeRevalidate && prior != nil {
			log.Warn("revalidation failed, serving cached snapshot",
				"url", cu.DisplayURL, "version", prior.Version, "error", runErr)
			if err := s.store.SetLastError(ctx, cu.Hash, runErr.Error()); err != nil {
				log.Error("recording revalidation failure", "error", err)
			}
			prior.LastError = runErr.Error()
			return &Resolution{
				Snapshot:        prior,
				FromCache:       true,
				FallbackToCache: true,
				Warning:         fmt.Sprintf("revalidation failed: %v", runErr),
			}, nil
		}
		return nil, runErr
	}

	if trigger == "" {
		if prior == nil {
			trigger = TriggerInitial
		} else {
			trigger = TriggerRevalidate
		}
	}

	now := s.now().UTC()
	sum := sha256.Sum256([]byte(cand.Markdown))
	snap := &Snapshot{
		URLHash:       cu.Hash,
		NormalizedURL: cu.NormalizedURL,
		DisplayURL:    cu.DisplayURL,
		Title:         cand.Title,
		Markdown:      cand.Markdown,
		MarkdownHash:  hex.EncodeToString(sum[:]),
		SourceEngine:  cand.Engine,
		TokenEstimate: int64(len(cand.Markdown) / 4),
		FetchedAt:     now,
		StaleAt:       now.Add(s.cfg.TTL),
	}

	if err := s.store.Save(ctx, snap, trigger); err != nil {
		return nil, err
	}

	log.Info("snapshot saved", "url", cu.DisplayURL, "engine", cand.Engine,
		"version", snap.Version, "trigger", trigger)
	return &Resolution{Snapshot: snap}, nil
}

// History returns the version trail for urlHash, newest first.
func (s *Service) History(ctx context.Context, urlHash string, limit int) ([]Version, error) {
	return s.store.ListVersions(ctx, urlHash, limit)
}
