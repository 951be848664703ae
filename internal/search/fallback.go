package search

import (
	"context"
	"fmt"
	"strings"

	"taskhub/api/internal/store"
)

// StoreSearcher runs searches against the primary store. It is always
// available, so it backs the Meilisearch engine when that is unhealthy.
type StoreSearcher struct {
	repo store.Repository
}

func NewStoreSearcher(repo store.Repository) *StoreSearcher {
	return &StoreSearcher{repo: repo}
}

func (s *StoreSearcher) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	var tasks []store.Task
	err := s.repo.WithTx(ctx, func(tx store.Queries) error {
		var err error
		tasks, err = tx.SearchTasks(ctx, q.OrganizationID, q.Text, q.limit())
		return err
	})
	if err != nil {
		return nil, 0, fmt.Errorf("store search: %w", err)
	}
	results := make([]Result, 0, len(tasks))
	for _, task := range tasks {
		results = append(results, Result{
			ID:        task.ID,
			ProjectID: task.ProjectID,
			Title:     task.Title,
			Snippet:   snippet(task.Description, q.Text),
			Status:    task.Status,
		})
	}
	return results, len(results), nil
}

const snippetWidth = 120

// snippet cuts a window of text around the first match of needle.
func snippet(text, needle string) string {
	text = strings.TrimSpace(text)
	if len(text) <= snippetWidth {
		return text
	}
	start := 0
	if i := strings.Index(strings.ToLower(text), strings.ToLower(strings.TrimSpace(needle))); i > snippetWidth/2 {
		start = i - snippetWidth/2
	}
	end := min(start+snippetWidth, len(text))
	// keep cuts on rune boundaries
	for start > 0 && !isRuneStart(text[start]) {
		start--
	}
	for end < len(text) && !isRuneStart(text[end]) {
		end++
	}
	out := text[start:end]
	if start > 0 {
		out = "…" + out
	}
	if end < len(text) {
		out += "…"
	}
	return out
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
