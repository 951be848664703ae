// Package search finds tasks by text, preferring Meilisearch and falling back
// to the primary store.
package search

import "context"

// Result is a single task hit returned to the caller.
type Result struct {
	ID        string `json:"id"`
	ProjectID string `json:"projectId"`
	Title     string `json:"title"`
	Snippet   string `json:"snippet"`
	Status    string `json:"status"`
}

// Query describes a search request. Results never cross OrganizationID.
type Query struct {
	OrganizationID string
	Text           string
	Limit          int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a task search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
}

// Engine is an external index that can also accept writes.
type Engine interface {
	Searcher
	Healthy() bool
	IndexTask(ctx context.Context, rec TaskRecord) error
}

// TaskRecord is the data we index for a task.
type TaskRecord struct {
	ID             string `json:"id"`
	OrganizationID string `json:"organizationId"`
	ProjectID      string `json:"projectId"`
	Title          string `json:"title"`
	Description    string `json:"description"`
	Status         string `json:"status"`
}

const defaultLimit = 20

func (q Query) limit() int {
	if q.Limit <= 0 || q.Limit > 100 {
		return defaultLimit
	}
	return q.Limit
}
