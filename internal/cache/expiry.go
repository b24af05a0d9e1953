package cache

import "time"

const expiryLead = 5 * time.Minute

// NextExpiry returns the instant cached daily aggregates should expire: five
// minutes before offsetHour in loc, today if that hour has not yet been
// reached (allowing the five-minute lead), tomorrow otherwise. The result is
// always after now.
func NextExpiry(now time.Time, loc *time.Location, offsetHour int) time.Time {
	if loc == nil {
		loc = time.Local
	}
	local := now.In(loc)
	day := local
	if local.Add(expiryLead).Hour() >= offsetHour {
		day = local.AddDate(0, 0, 1)
	}
	deadline := expiryOn(day, offsetHour)
	for !deadline.After(now) {
		day = day.AddDate(0, 0, 1)
		deadline = expiryOn(day, offsetHour)
	}
	return deadline
}

func expiryOn(day time.Time, offsetHour int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), offsetHour, 0, 0, 0, day.Location()).Add(-expiryLead)
}
