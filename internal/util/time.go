package util

import "time"

// Provider quota days roll over at midnight Pacific time.
var pacificLocation *time.Location

func init() {
	var err error
	pacificLocation, err = time.LoadLocation("America/Los_Angeles")
	if err != nil {
		pacificLocation = time.FixedZone("PST", -8*60*60)
	}
}

func ToPacific(t time.Time) time.Time {
	return t.In(pacificLocation)
}

// NextQuotaReset returns the first Pacific midnight strictly after now.
func NextQuotaReset(now time.Time) time.Time {
	pt := now.In(pacificLocation)
	return time.Date(pt.Year(), pt.Month(), pt.Day()+1, 0, 0, 0, 0, pacificLocation)
}

// TimePtr returns a pointer to a copy of t.
func TimePtr(t time.Time) *time.Time {
	return &t
}
