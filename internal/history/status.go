// Package history classifies each authority's daily availability from stored
// scenario results.
package history

// Status is the availability class of one authority on one day.
type Status string

const (
	NoData            Status = "no_data"
	FullyUp           Status = "fully_up"
	MostlyUp          Status = "mostly_up"
	ExcessiveTimeouts Status = "timeouts"
	BarelyUp          Status = "barely_up"
	Down              Status = "down"
)

// mostlyUpBadRatio is the largest bad share that still counts as mostly up.
const mostlyUpBadRatio = 1 - 0.95

// Determine classifies a day's counts. timeout counts the subset of bad
// results that timed out. The checks overlap, so their order is significant.
func Determine(good, unknown, bad, timeout int) Status {
	total := good + unknown + bad
	switch {
	case total == 0:
		return NoData
	case good == total:
		return FullyUp
	case bad == total:
		return Down
	case unknown == total:
		return BarelyUp
	case float64(timeout)/float64(total) > 0.5:
		return ExcessiveTimeouts
	case float64(bad)/float64(total) < mostlyUpBadRatio:
		return MostlyUp
	default:
		return BarelyUp
	}
}
