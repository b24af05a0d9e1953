// Package authority talks to the linked-data lookup service under test.
package authority

import "context"

// Result is one term returned by an authority.
type Result struct {
	ID    string `json:"id"`
	URI   string `json:"uri"`
	Label string `json:"label"`
}

// Performance is the timing breakdown the service reports when asked for
// performance data.
type Performance struct {
	ActionTimeMS        float64 `json:"action_time_ms"`
	RetrieveTimeMS      float64 `json:"retrieve_time_ms"`
	GraphLoadTimeMS     float64 `json:"graph_load_time_ms"`
	NormalizationTimeMS float64 `json:"normalization_time_ms"`
	SizeBytes           int64   `json:"fetched_bytes"`
}

// SearchRequest queries an authority for matching terms.
type SearchRequest struct {
	Authority    string
	Subauthority string
	Query        string
	MaxRecords   int
}

// SearchResponse holds ranked search hits.
type SearchResponse struct {
	Results     []Result    `json:"results"`
	Performance Performance `json:"performance"`
}

// FindRequest fetches a single term by URI or identifier.
type FindRequest struct {
	Authority    string
	Subauthority string
	Identifier   string
}

// FindResponse holds a fetched term.
type FindResponse struct {
	Result      Result      `json:"result"`
	Performance Performance `json:"performance"`
}

// Client is the authority lookup surface exercised by scenarios.
type Client interface {
	Search(ctx context.Context, req SearchRequest) (*SearchResponse, error)
	Find(ctx context.Context, req FindRequest) (*FindResponse, error)
	SearchURL(req SearchRequest) string
	FindURL(req FindRequest) string
}
