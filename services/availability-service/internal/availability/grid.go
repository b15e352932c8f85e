package availability

import (
	"slices"

	"github.com/md-rashed-zaman/freeslots/services/availability-service/internal/model"
	"github.com/md-rashed-zaman/freeslots/services/availability-service/internal/normalize"
)

const (
	DefaultStartTime   = "09:00"
	DefaultEndTime     = "20:00"
	DefaultSlotMinutes = 15
	DefaultMode        = "free"
)

// Query selects the days, window and slot size of a grid. Mode is carried
// for API compatibility; only "free" grids are produced.
type Query struct {
	Days        []string
	StartTime   string
	EndTime     string
	SlotMinutes int
	Mode        string
	// Students restricts the grid to these names. Empty means every student.
	Students []string
}

type Slot struct {
	Start string   `json:"start"`
	End   string   `json:"end"`
	Names []string `json:"names"`
}

type Grid struct {
	Days []model.Weekday          `json:"days"`
	Grid map[model.Weekday][]Slot `json:"grid"`
}

// BuildGrid reports, for each requested day and each slot of the window,
// which students are free for the whole slot. Any invalid day, time or slot
// size fails the whole request. An inverted or empty window gives every day
// an empty slot list.
func BuildGrid(snap model.Snapshot, q Query) (Grid, error) {
	days := make([]model.Weekday, 0, len(q.Days))
	for _, raw := range q.Days {
		d, err := normalize.Day(raw)
		if err != nil {
			return Grid{}, err
		}
		days = append(days, d)
	}

	start, err := normalize.ParseTime(q.StartTime)
	if err != nil {
		return Grid{}, err
	}
	end, err := normalize.ParseTime(q.EndTime)
	if err != nil {
		return Grid{}, err
	}
	if q.SlotMinutes <= 0 {
		return Grid{}, model.InvalidInput("slot_minutes must be positive")
	}

	names, err := selectStudents(snap, q.Students)
	if err != nil {
		return Grid{}, err
	}

	window := model.Interval{Start: start, End: end}
	free := make(map[string]map[model.Weekday][]model.Interval, len(names))
	for _, name := range names {
		free[name] = make(map[model.Weekday][]model.Interval, len(days))
		for _, d := range days {
			free[name][d] = Subtract(window, snap[name][d])
		}
	}

	slots := Slots(start, end, q.SlotMinutes)
	out := Grid{Days: days, Grid: make(map[model.Weekday][]Slot, len(days))}
	for _, d := range days {
		if _, done := out.Grid[d]; done {
			continue
		}
		row := make([]Slot, 0, len(slots))
		for _, s := range slots {
			cell := Slot{
				Start: normalize.FormatTime(s.Start),
				End:   normalize.FormatTime(s.End),
				Names: []string{},
			}
			for _, name := range names {
				if Covers(free[name][d], s) {
					cell.Names = append(cell.Names, name)
				}
			}
			row = append(row, cell)
		}
		out.Grid[d] = row
	}
	return out, nil
}

// selectStudents returns the snapshot's names in ascending order, limited to
// the requested ones when any are given. Unknown requested names are ignored.
func selectStudents(snap model.Snapshot, requested []string) ([]string, error) {
	var wanted map[string]bool
	if len(requested) > 0 {
		wanted = make(map[string]bool, len(requested))
		for _, raw := range requested {
			name, err := normalize.Name(raw)
			if err != nil {
				return nil, err
			}
			wanted[name] = true
		}
	}

	names := make([]string, 0, len(snap))
	for name := range snap {
		if wanted == nil || wanted[name] {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names, nil
}
