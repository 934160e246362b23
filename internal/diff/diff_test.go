package diff

import (
	"testing"

	"github.com/noahxzhu/timetable-notify/internal/model"
)

func sample() model.Schedule {
	return model.Schedule{
		{Pair: "1", Time: "08:30", Subject: "Математика", Teacher: "Иванов И.И.", Room: "204"},
		{Pair: "2", Time: "10:10", Subject: "История", Teacher: "Сидорова А.А.", Room: "115"},
		{Pair: "3", Time: "11:50", Subject: "Литература", Teacher: "", Room: ""},
	}
}

func TestCompare_NoPrevious(t *testing.T) {
	changes := Compare(sample(), nil)
	if len(changes) != 3 {
		t.Fatalf("len = %d, want 3", len(changes))
	}
	for i, c := range changes {
		if c.Any() {
			t.Errorf("change %d flagged without a previous schedule: %+v", i, c)
		}
	}
}

func TestCompare_AgainstItself(t *testing.T) {
	s := sample()
	for i, c := range Compare(s, s) {
		if c.Any() {
			t.Errorf("change %d flagged against itself: %+v", i, c)
		}
	}
}

func TestCompare_FieldChanges(t *testing.T) {
	previous := sample()
	current := model.Schedule{
		{Pair: "1", Time: "08:30", Subject: "Математика", Teacher: "Петров П.П.", Room: "204"},
		{Pair: "2", Time: "10:20", Subject: "История", Teacher: "Сидорова А.А.", Room: "115.0"},
		{Pair: "4", Time: "13:30", Subject: "Физкультура", Teacher: "Белов Б.Б.", Room: "зал"},
	}

	changes := Compare(current, previous)
	if len(changes) != 3 {
		t.Fatalf("len = %d, want 3", len(changes))
	}

	want := []Change{
		{Entry: current[0], Teacher: true},
		{Entry: current[1], Time: true, Room: true},
		{Entry: current[2]},
	}
	for i := range want {
		if changes[i] != want[i] {
			t.Errorf("change %d = %+v, want %+v", i, changes[i], want[i])
		}
	}
}

func TestCompare_MatchesByPairNotPosition(t *testing.T) {
	previous := sample()
	current := model.Schedule{previous[2], previous[0]}

	for i, c := range Compare(current, previous) {
		if c.Any() {
			t.Errorf("change %d flagged after reordering: %+v", i, c)
		}
	}
}

func TestCompare_TrimsBeforeComparing(t *testing.T) {
	previous := model.Schedule{{Pair: "1 ", Subject: "Математика", Teacher: "Иванов "}}
	current := model.Schedule{{Pair: " 1", Subject: " Математика", Teacher: "Иванов"}}

	changes := Compare(current, previous)
	if len(changes) != 1 {
		t.Fatalf("len = %d, want 1", len(changes))
	}
	if changes[0].Any() {
		t.Errorf("whitespace-only difference flagged: %+v", changes[0])
	}
	if changes[0].Entry.Pair != "1" {
		t.Errorf("pair = %q, want trimmed %q", changes[0].Entry.Pair, "1")
	}
}

func TestCompare_PairLabelsAreRaw(t *testing.T) {
	previous := model.Schedule{{Pair: "1.0", Subject: "Математика"}}
	current := model.Schedule{{Pair: "1", Subject: "Физика"}}

	changes := Compare(current, previous)
	if changes[0].Any() {
		t.Errorf("%q and %q matched; labels must compare as raw strings", "1", "1.0")
	}
}

func TestCompare_DropsEmptyEntries(t *testing.T) {
	current := model.Schedule{
		{Pair: "1", Time: "08:30", Room: "204"},
		{Pair: "2", Teacher: "Иванов И.И."},
	}
	changes := Compare(current, nil)
	if len(changes) != 1 || changes[0].Entry.Pair != "2" {
		t.Errorf("Compare = %+v, want only pair 2", changes)
	}
}
