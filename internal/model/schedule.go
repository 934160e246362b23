package model

// Grid is a spreadsheet read into memory: rows of trimmed cell strings.
// Rows may have different lengths; blank cells are "".
type Grid [][]string

// Cell returns the cell at (row, col) or "" when out of range.
func (g Grid) Cell(row, col int) string {
	if row < 0 || row >= len(g) || col < 0 || col >= len(g[row]) {
		return ""
	}
	return g[row][col]
}

// Entry is one timetable slot (a "pair") for a group.
type Entry struct {
	Pair    string `json:"pair"` // raw label from the sheet, e.g. "1" or "1.0"
	Time    string `json:"time"`
	Subject string `json:"subject"`
	Teacher string `json:"teacher"`
	Room    string `json:"room"`
}

// Schedule is the ordered list of entries for one group, in sheet order.
type Schedule []Entry

// Clone returns an independent copy.
func (s Schedule) Clone() Schedule {
	if s == nil {
		return nil
	}
	out := make(Schedule, len(s))
	copy(out, s)
	return out
}

// Link describes one downloadable document found on the source page.
type Link struct {
	URL         string `json:"url"`
	Filename    string `json:"filename"`
	Description string `json:"description"`
}

// Subscription binds a chat to a group.
type Subscription struct {
	ChatID        int64  `json:"chat_id"`
	Group         string `json:"group"`
	Notifications bool   `json:"notifications"`
}

// State is everything the service persists between runs.
type State struct {
	Chats     map[int64]Subscription `json:"chats"`
	LastFile  *string                `json:"last_schedule_file"`
	LastHash  *string                `json:"last_schedule_hash"`
	Baselines map[string]Schedule    `json:"last_schedules_by_group"` // keyed by normalized group
}

// NewState returns an empty state with initialized maps.
func NewState() *State {
	return &State{
		Chats:     map[int64]Subscription{},
		Baselines: map[string]Schedule{},
	}
}

// Clone returns a deep copy of the state.
func (s *State) Clone() *State {
	out := NewState()
	for id, sub := range s.Chats {
		out.Chats[id] = sub
	}
	for g, sched := range s.Baselines {
		out.Baselines[g] = sched.Clone()
	}
	if s.LastFile != nil {
		v := *s.LastFile
		out.LastFile = &v
	}
	if s.LastHash != nil {
		v := *s.LastHash
		out.LastHash = &v
	}
	return out
}
