package model

import "time"

// MinutesPerDay is the exclusive upper bound of a minute-of-day value and the
// largest allowed interval end.
const MinutesPerDay = 24 * 60

// Interval is a half-open range [Start, End) in minutes since midnight.
type Interval struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Valid reports whether 0 <= Start < End <= MinutesPerDay.
func (iv Interval) Valid() bool {
	return iv.Start >= 0 && iv.Start < iv.End && iv.End <= MinutesPerDay
}

// Contains reports whether other lies entirely inside iv.
func (iv Interval) Contains(other Interval) bool {
	return other.Start >= iv.Start && other.End <= iv.End
}

// Overlaps uses half-open semantics: touching intervals do not overlap.
func (iv Interval) Overlaps(other Interval) bool {
	return iv.Start < other.End && other.Start < iv.End
}

type Weekday string

const (
	Mon Weekday = "Mon"
	Tue Weekday = "Tue"
	Wed Weekday = "Wed"
	Thu Weekday = "Thu"
	Fri Weekday = "Fri"
	Sat Weekday = "Sat"
	Sun Weekday = "Sun"
)

// Weekdays lists every day in calendar order.
var Weekdays = [7]Weekday{Mon, Tue, Wed, Thu, Fri, Sat, Sun}

// Week holds one student's merged busy intervals per day.
type Week map[Weekday][]Interval

// NewWeek returns a week with an empty (non-nil) collection for every day.
func NewWeek() Week {
	w := make(Week, len(Weekdays))
	for _, d := range Weekdays {
		w[d] = []Interval{}
	}
	return w
}

func (w Week) Clone() Week {
	out := make(Week, len(w))
	for d, ivs := range w {
		out[d] = append([]Interval{}, ivs...)
	}
	return out
}

// Snapshot is the whole store keyed by canonical student name. Its JSON form
// is the persisted file format.
type Snapshot map[string]Week

func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for name, week := range s {
		out[name] = week.Clone()
	}
	return out
}

type ChangeType string

const (
	ChangeStudentAdded   ChangeType = "student.added"
	ChangeBusyAdded      ChangeType = "busy.added"
	ChangeStudentRemoved ChangeType = "student.removed"
)

// Change describes one applied mutation of the store.
type Change struct {
	EventID    string     `json:"event_id"`
	Type       ChangeType `json:"type"`
	Student    string     `json:"student"`
	Day        Weekday    `json:"day,omitempty"`
	Start      string     `json:"start,omitempty"`
	End        string     `json:"end,omitempty"`
	OccurredAt time.Time  `json:"occurred_at"`
}
