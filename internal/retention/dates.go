package retention

import (
	"regexp"
	"time"
)

type datePattern struct {
	re     *regexp.Regexp
	layout string
}

// Ordered most specific first. Digits may not touch either side of a match.
var datePatterns = []datePattern{
	{regexp.MustCompile(`(?:^|[^0-9])([0-9]{8})_[0-9]{6}(?:[^0-9]|$)`), "20060102"},
	{regexp.MustCompile(`(?:^|[^0-9])([0-9]{4}-[0-9]{2}-[0-9]{2})(?:[^0-9]|$)`), "2006-01-02"},
	{regexp.MustCompile(`(?:^|[^0-9])([0-9]{8})(?:[^0-9]|$)`), "20060102"},
}

// DateFromName extracts the calendar date embedded in a file name as
// yyyyMMdd_HHmmss, yyyy-MM-dd or yyyyMMdd. The result is midnight in loc.
func DateFromName(name string, loc *time.Location) (time.Time, bool) {
	if loc == nil {
		loc = time.Local
	}
	for _, p := range datePatterns {
		m := p.re.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		if date, err := time.ParseInLocation(p.layout, m[1], loc); err == nil {
			return date, true
		}
	}
	return time.Time{}, false
}
