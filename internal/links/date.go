package links

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/noahxzhu/timetable-notify/internal/model"
)

var (
	numericDateRegex = regexp.MustCompile(`(\d{1,2})[.\-/](\d{1,2})`)
	monthNameRegex   = regexp.MustCompile(`(\d{1,2})\s*(января|февраля|марта|апреля|мая|июня|июля|августа|сентября|октября|ноября|декабря)`)

	genitiveMonths = map[string]time.Month{
		"января":   time.January,
		"февраля":  time.February,
		"марта":    time.March,
		"апреля":   time.April,
		"мая":      time.May,
		"июня":     time.June,
		"июля":     time.July,
		"августа":  time.August,
		"сентября": time.September,
		"октября":  time.October,
		"ноября":   time.November,
		"декабря":  time.December,
	}
)

// MaxNearOffset is the furthest day offset Near looks at.
const MaxNearOffset = 2

// Date recovers the day a document is for from its filename and description.
// The year is always taken from now, so a January file published in
// December is dated in the past.
func Date(link model.Link, now time.Time) (time.Time, bool) {
	text := link.Filename + " " + link.Description
	year := now.Year()
	loc := now.Location()

	if m := numericDateRegex.FindStringSubmatch(text); m != nil {
		day, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		if d, ok := validDate(year, time.Month(month), day, loc); ok {
			return d, true
		}
	}

	m := monthNameRegex.FindStringSubmatch(strings.ToLower(text))
	if m == nil {
		return time.Time{}, false
	}
	day, _ := strconv.Atoi(m[1])
	month, ok := genitiveMonths[m[2]]
	if !ok {
		return time.Time{}, false
	}
	return validDate(year, month, day, loc)
}

func validDate(year int, month time.Month, day int, loc *time.Location) (time.Time, bool) {
	if month < time.January || month > time.December || day < 1 {
		return time.Time{}, false
	}
	d := time.Date(year, month, day, 0, 0, 0, 0, loc)
	if d.Month() != month || d.Day() != day {
		return time.Time{}, false
	}
	return d, true
}

// Dated is a link together with the day it was published for.
type Dated struct {
	Link model.Link
	Date time.Time
}

// Near maps day offsets from today (0 = today, up to MaxNearOffset) to the
// document dated that day. When several links carry the same date the last
// one wins.
func Near(links []model.Link, now time.Time) map[int]Dated {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	result := make(map[int]Dated)
	for _, l := range links {
		d, ok := Date(l, now)
		if !ok {
			continue
		}
		offset := daysBetween(today, d)
		if offset >= 0 && offset <= MaxNearOffset {
			result[offset] = Dated{Link: l, Date: d}
		}
	}
	return result
}

// daysBetween counts calendar days from a to b, both at local midnight.
func daysBetween(a, b time.Time) int {
	ua := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	ub := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(ub.Sub(ua).Hours() / 24)
}
