package model

import "time"

// PerformanceRecord is one durable timing sample for an authority request.
type PerformanceRecord struct {
	ID                  int64     `json:"id,omitempty"`
	Authority           string    `json:"authority"`
	Action              Action    `json:"action"`
	Timestamp           time.Time `json:"timestamp"`
	ActionTimeMS        float64   `json:"action_time_ms"`
	SizeBytes           int64     `json:"size_bytes"`
	RetrieveTimeMS      float64   `json:"retrieve_time_ms"`
	GraphLoadTimeMS     float64   `json:"graph_load_time_ms"`
	NormalizationTimeMS float64   `json:"normalization_time_ms"`
}
