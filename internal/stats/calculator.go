package stats

import (
	"slices"

	"github.com/sells-group/authority-monitor/internal/model"
)

// Metric is one timing dimension of a performance record.
type Metric string

const (
	Retrieve      Metric = "retrieve"
	GraphLoad     Metric = "graph_load"
	Normalization Metric = "normalization"
	FullRequest   Metric = "full_request"
)

// Metrics lists every metric in display order.
var Metrics = []Metric{Retrieve, GraphLoad, Normalization, FullRequest}

// Stats maps aggregate names (see Key) to values.
type Stats map[string]float64

// Aggregate kinds.
const (
	Avg  = "avg"
	Low  = "min"
	High = "max"
	P10  = "10th"
	P90  = "90th"
)

// Key names the aggregate kind for a metric, e.g. "retrieve_avg_ms".
func Key(m Metric, kind string) string {
	return string(m) + "_" + kind + "_ms"
}

// CountKey holds the number of records a Stats value was computed from.
const CountKey = "count"

// Calculator computes statistics over one record set. Sorted samples are
// cached per metric so the percentile kinds share one sort.
type Calculator struct {
	records []model.PerformanceRecord
	sorted  map[Metric][]float64
}

// NewCalculator wraps records without copying or mutating them.
func NewCalculator(records []model.PerformanceRecord) *Calculator {
	return &Calculator{records: records, sorted: make(map[Metric][]float64, len(Metrics))}
}

// Count returns the number of records.
func (c *Calculator) Count() int {
	return len(c.records)
}

// Samples returns the ascending samples for m.
func (c *Calculator) Samples(m Metric) []float64 {
	if s, ok := c.sorted[m]; ok {
		return s
	}
	s := make([]float64, len(c.records))
	for i, r := range c.records {
		s[i] = value(r, m)
	}
	slices.Sort(s)
	c.sorted[m] = s
	return s
}

// Stats computes averages for every metric, plus min, max and the 10th/90th
// percentiles when withPercentiles is set.
func (c *Calculator) Stats(withPercentiles bool) Stats {
	out := Stats{CountKey: float64(c.Count())}
	for _, m := range Metrics {
		s := c.Samples(m)
		out[Key(m, Avg)] = Average(s)
		if !withPercentiles {
			continue
		}
		out[Key(m, Low)] = Min(s)
		out[Key(m, High)] = Max(s)
		out[Key(m, P10)] = Percentile10(s)
		out[Key(m, P90)] = Percentile90(s)
	}
	return out
}

func value(r model.PerformanceRecord, m Metric) float64 {
	switch m {
	case Retrieve:
		return r.RetrieveTimeMS
	case GraphLoad:
		return r.GraphLoadTimeMS
	case Normalization:
		return r.NormalizationTimeMS
	default:
		return r.ActionTimeMS
	}
}

// BytesPerMS returns response throughput. A single record yields its own
// size/time ratio; several yield the mean of per-record ratios. Records with no
// action time are skipped.
func BytesPerMS(records []model.PerformanceRecord) float64 {
	if len(records) == 1 {
		r := records[0]
		if r.ActionTimeMS <= 0 {
			return 0
		}
		return float64(r.SizeBytes) / r.ActionTimeMS
	}
	var sum float64
	var n int
	for _, r := range records {
		if r.ActionTimeMS <= 0 {
			continue
		}
		sum += float64(r.SizeBytes) / r.ActionTimeMS
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
