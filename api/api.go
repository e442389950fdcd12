// Package api is the HTTP front door: resolve, version history, health.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pagemd/pagemd/canon"
	"github.com/pagemd/pagemd/engine"
	"github.com/pagemd/pagemd/ratelimit"
	"github.com/pagemd/pagemd/safefetch"
	"github.com/pagemd/pagemd/snapshot"
)

// Resolver is the snapshot service as the handlers see it.
type Resolver interface {
	Resolve(ctx context.Context, rawURL string, mode snapshot.Mode, trigger, modelOverride string) (*snapshot.Resolution, error)
	History(ctx context.Context, urlHash string, limit int) ([]snapshot.Version, error)
}

// Server holds the HTTP handlers and their dependencies.
type Server struct {
	resolver Resolver
	limiter  *ratelimit.Limiter
	log      *slog.Logger
}

// New creates the API server. limiter may be nil to disable quotas (tests).
func New(resolver Resolver, limiter *ratelimit.Limiter, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{resolver: resolver, limiter: limiter, log: log}
}

// Router builds the chi router with the standard middleware stack.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.handleHealth)
	r.Post("/api/resolve", s.handleResolve)
	r.Get("/api/snapshots/{hash}/versions", s.handleVersions)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// resolveRequest is the POST /api/resolve body.
type resolveRequest struct {
	TargetURL     string `json:"targetUrl"`
	Mode          string `json:"mode"`
	Trigger       string `json:"trigger,omitempty"`
	ModelOverride string `json:"modelOverride,omitempty"`
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if req.TargetURL == "" {
		writeError(w, http.StatusBadRequest, errors.New("targetUrl is required"))
		return
	}

	mode := snapshot.Mode(req.Mode)
	if req.Mode == "" {
		mode = snapshot.ModeNormal
	}
	if !snapshot.ValidMode(mode) {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid mode %q", req.Mode))
		return
	}

	op := ratelimit.OpRead
	if mode == snapshot.ModeRevalidate {
		op = ratelimit.OpRevalidate
	}
	if s.limiter != nil {
		if d := s.limiter.Allow(ratelimit.KeyFromRequest(r), op); !d.Allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(d.RetryAfter.Round(time.Second).Seconds())))
			writeError(w, http.StatusTooManyRequests, errors.New("rate limit exceeded"))
			return
		}
	}

	res, err := s.resolver.Resolve(r.Context(), req.TargetURL, mode, req.Trigger, req.ModelOverride)
	if err != nil {
		s.writeResolveError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// writeResolveError maps the pipeline error taxonomy onto HTTP statuses.
func (s *Server) writeResolveError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, canon.ErrInvalidURL), errors.Is(err, canon.ErrUnsupportedScheme):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, safefetch.ErrPrivateAddress):
		s.log.Warn("blocked private target", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusForbidden, errors.New("target address is not allowed"))
	case errors.Is(err, engine.ErrAllStagesFailed):
		writeError(w, http.StatusBadGateway, err)
	default:
		s.log.Error("resolve failed", "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("internal error"))
	}
}

var hashRe = regexp.MustCompile(`^[0-9a-f]{64}$`)

func (s *Server) handleVersions(w http.ResponseWriter, r *http.Request) {
	hash := chi.URLParam(r, "hash")
	if !hashRe.MatchString(hash) {
		writeError(w, http.StatusBadRequest, errors.New("invalid url hash"))
		return
	}

	versions, err := s.resolver.History(r.Context(), hash, queryInt(r, "limit", 0))
	if err != nil {
		s.log.Error("history failed", "hash", hash, "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("internal error"))
		return
	}
	if versions == nil {
		versions = []snapshot.Version{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"urlHash":  hash,
		"versions": versions,
	})
}

// requestLogger logs one line per request with status and latency.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
