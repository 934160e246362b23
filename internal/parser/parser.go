// Package parser extracts one group's timetable out of a schedule grid.
//
// The sheet layout it understands: a group label somewhere in a header row
// marks the group's column; below it every slot takes two rows, the lesson
// row (pair number, time, subject, room) and the teacher row.
package parser

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/noahxzhu/timetable-notify/internal/model"
)

// Column positions shared by every group in the sheet.
const (
	pairCol = 1
	timeCol = 3

	// roomOffset is relative to the group's own column.
	roomOffset = 3
)

// groupHeaderMarker appears in the header row of the next group block.
const groupHeaderMarker = "группа"

var pairIndexRegex = regexp.MustCompile(`^(\d+)(?:[.,]0+)?$`)

// NormalizeGroup lowercases s and drops all whitespace. Group labels are
// compared and stored in this form.
func NormalizeGroup(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return unicode.ToLower(r)
	}, s)
}

// Locate returns the first cell, scanning rows top to bottom and columns
// left to right, whose normalized text starts with the normalized query.
func Locate(grid model.Grid, query string) (row, col int, ok bool) {
	target := NormalizeGroup(query)
	for r, cells := range grid {
		for c, cell := range cells {
			cell = strings.TrimSpace(cell)
			if cell == "" {
				continue
			}
			if strings.HasPrefix(NormalizeGroup(cell), target) {
				return r, c, true
			}
		}
	}
	return -1, -1, false
}

// Extract walks down from the anchor cell and returns the group's entries.
// It never fails: a missing or malformed block yields an empty schedule.
func Extract(grid model.Grid, anchorRow, anchorCol int) model.Schedule {
	schedule := model.Schedule{}
	if anchorRow < 0 || anchorCol < 0 {
		return schedule
	}

	for r := anchorRow + 1; r < len(grid); {
		row := grid[r]

		if r > anchorRow+1 && strings.Contains(strings.ToLower(strings.Join(row, " ")), groupHeaderMarker) {
			break
		}

		if anchorCol >= len(row) {
			r++
			continue
		}
		subject := strings.TrimSpace(row[anchorCol])
		if subject == "" {
			r++
			continue
		}

		pair := strings.TrimSpace(grid.Cell(r, pairCol))
		index, ok := parsePairIndex(pair)
		if !ok {
			r++
			continue
		}
		// A second "1" means we ran into another block of the sheet.
		if len(schedule) > 0 && index == "1" {
			break
		}

		schedule = append(schedule, model.Entry{
			Pair:    pair,
			Time:    strings.TrimSpace(grid.Cell(r, timeCol)),
			Subject: subject,
			Teacher: strings.TrimSpace(grid.Cell(r+1, anchorCol)),
			Room:    roomAt(grid, r, anchorCol+roomOffset),
		})
		r += 2
	}

	return schedule
}

// ParseGroup locates query in grid and extracts its schedule. A group that
// is not present yields an empty schedule.
func ParseGroup(grid model.Grid, query string) model.Schedule {
	row, col, ok := Locate(grid, query)
	if !ok {
		return model.Schedule{}
	}
	return Extract(grid, row, col)
}

// parsePairIndex accepts "3", "3.0" and "3,00" and returns the integer part
// without leading zeros.
func parsePairIndex(value string) (string, bool) {
	if value == "" {
		return "", false
	}
	m := pairIndexRegex.FindStringSubmatch(value)
	if m == nil {
		return "", false
	}
	digits := strings.TrimLeft(m[1], "0")
	if digits == "" {
		digits = "0"
	}
	return digits, true
}

func roomAt(grid model.Grid, row, col int) string {
	for _, r := range []int{row, row + 1} {
		if room := strings.TrimSpace(grid.Cell(r, col)); room != "" {
			return room
		}
	}
	return ""
}
