package search

import (
	"context"
	"log/slog"
	"strings"
)

// Service is the facade that tries the engine first and falls back to the store.
type Service struct {
	engine   Engine
	fallback Searcher
	logger   *slog.Logger
}

// NewService creates a search service. engine may be nil if Meilisearch is
// not configured.
func NewService(engine Engine, fallback Searcher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{engine: engine, fallback: fallback, logger: logger.With("component", "search")}
}

// Search tries the engine if healthy, otherwise falls back to the store.
// Errors degrade to an empty response.
func (s *Service) Search(ctx context.Context, q Query) Response {
	q.Text = strings.TrimSpace(q.Text)
	if q.Text == "" {
		return Response{Results: []Result{}, Query: q.Text}
	}
	if s.engine != nil && s.engine.Healthy() {
		results, total, err := s.engine.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.logger.Warn("engine search failed, falling back to store", "error", err)
	}

	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.logger.Error("store search failed", "error", err)
		return Response{Results: []Result{}, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// Enabled reports whether writes to the engine are worth queueing.
func (s *Service) Enabled() bool {
	return s.engine != nil
}

// IndexTask pushes one task to the engine. A missing engine is a no-op.
func (s *Service) IndexTask(ctx context.Context, rec TaskRecord) error {
	if s.engine == nil {
		return nil
	}
	return s.engine.IndexTask(ctx, rec)
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
