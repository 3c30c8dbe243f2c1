package extent

import (
	"fmt"
	"strings"
	"time"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04:05"

	defaultStartTime = "00:00:00"
	defaultEndTime   = "23:59:59"
)

// Temporal is a validated temporal extent composed from calendar dates
// and optional times of day.
type Temporal struct {
	start time.Time
	end   time.Time
}

// NewTemporal builds a temporal extent from start/end calendar dates
// ("2006-01-02") and optional times of day ("15:04:05"). Empty times
// default to 00:00:00 and 23:59:59 respectively. The composed start
// must not be after the composed end.
func NewTemporal(startDate, endDate, startTime, endTime string) (*Temporal, error) {
	if startTime == "" {
		startTime = defaultStartTime
	}
	if endTime == "" {
		endTime = defaultEndTime
	}

	start, err := composeUTC(startDate, startTime)
	if err != nil {
		return nil, fmt.Errorf("%w: start: %v", ErrInvalidExtent, err)
	}
	end, err := composeUTC(endDate, endTime)
	if err != nil {
		return nil, fmt.Errorf("%w: end: %v", ErrInvalidExtent, err)
	}

	if start.After(end) {
		return nil, fmt.Errorf("%w: start %s is after end %s", ErrInvalidExtent,
			start.Format(time.RFC3339), end.Format(time.RFC3339))
	}

	return &Temporal{start: start, end: end}, nil
}

func composeUTC(date, tod string) (time.Time, error) {
	d, err := time.Parse(dateLayout, strings.TrimSpace(date))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD", date)
	}
	t, err := time.Parse(timeLayout, strings.TrimSpace(tod))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: want HH:MM:SS", tod)
	}
	return time.Date(d.Year(), d.Month(), d.Day(), t.Hour(), t.Minute(), t.Second(), 0, time.UTC), nil
}

// Start returns the composed start timestamp in UTC.
func (t *Temporal) Start() time.Time { return t.start }

// End returns the composed end timestamp in UTC.
func (t *Temporal) End() time.Time { return t.end }

// Canonical returns the catalog temporal range string
// "start,end" in RFC3339 UTC.
func (t *Temporal) Canonical() string {
	return t.start.Format(time.RFC3339) + "," + t.end.Format(time.RFC3339)
}

// Equal reports whether two temporal extents cover the same instant range.
func (t *Temporal) Equal(other *Temporal) bool {
	if t == nil || other == nil {
		return t == other
	}
	return t.start.Equal(other.start) && t.end.Equal(other.end)
}
