// Package links finds timetable documents on the source page and picks the
// one to use.
package links

import (
	"strings"

	"github.com/noahxzhu/timetable-notify/internal/model"
)

const academicYearMarker = "уч год"

var monthMarkers = []string{"декабр", "январ"}

// Select picks the current timetable: the academic-year master file if
// listed, else the first December/January file, else the last link.
func Select(links []model.Link) (model.Link, bool) {
	if len(links) == 0 {
		return model.Link{}, false
	}

	for _, l := range links {
		if strings.Contains(strings.ToLower(l.Description), academicYearMarker) {
			return l, true
		}
	}

	for _, l := range links {
		desc := strings.ToLower(l.Description)
		for _, m := range monthMarkers {
			if strings.Contains(desc, m) {
				return l, true
			}
		}
	}

	return links[len(links)-1], true
}
