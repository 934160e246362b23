// Package diff compares a freshly extracted schedule with the last one sent
// for the same group.
package diff

import (
	"strings"

	"github.com/noahxzhu/timetable-notify/internal/model"
)

// Change is a new entry annotated with which of its fields differ from the
// entry with the same pair label in the previous schedule.
type Change struct {
	Entry model.Entry

	Time    bool
	Subject bool
	Teacher bool
	Room    bool
}

// Any reports whether at least one field changed.
func (c Change) Any() bool {
	return c.Time || c.Subject || c.Teacher || c.Room
}

// Compare annotates every entry of current. previous may be nil. Entries are
// matched by trimmed pair label; an entry without a counterpart is reported
// unchanged. Entries with neither subject nor teacher are dropped.
func Compare(current, previous model.Schedule) []Change {
	byPair := make(map[string]model.Entry, len(previous))
	for _, e := range previous {
		byPair[strings.TrimSpace(e.Pair)] = trimmed(e)
	}

	changes := make([]Change, 0, len(current))
	for _, e := range current {
		e = trimmed(e)
		if e.Subject == "" && e.Teacher == "" {
			continue
		}

		c := Change{Entry: e}
		if old, ok := byPair[e.Pair]; ok {
			c.Time = old.Time != e.Time
			c.Subject = old.Subject != e.Subject
			c.Teacher = old.Teacher != e.Teacher
			c.Room = old.Room != e.Room
		}
		changes = append(changes, c)
	}
	return changes
}

func trimmed(e model.Entry) model.Entry {
	return model.Entry{
		Pair:    strings.TrimSpace(e.Pair),
		Time:    strings.TrimSpace(e.Time),
		Subject: strings.TrimSpace(e.Subject),
		Teacher: strings.TrimSpace(e.Teacher),
		Room:    strings.TrimSpace(e.Room),
	}
}
