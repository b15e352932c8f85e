// Package normalize canonicalizes the student names, weekday labels and
// HH:MM times accepted by the API.
package normalize

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/md-rashed-zaman/freeslots/services/availability-service/internal/model"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var dayAliases = map[string]model.Weekday{
	"Mon":  model.Mon,
	"Tue":  model.Tue,
	"Wed":  model.Wed,
	"Thu":  model.Thu,
	"Fri":  model.Fri,
	"Sat":  model.Sat,
	"Sun":  model.Sun,
	"Tues": model.Tue,
	"Thur": model.Thu,
}

// Name collapses runs of whitespace to one space and title-cases each word
// using Unicode word boundaries, so "o'brien" gives "O'brien".
func Name(raw string) (string, error) {
	name := strings.Join(strings.Fields(raw), " ")
	if name == "" {
		return "", model.InvalidInput("Name cannot be empty.")
	}
	// A Caser is stateful, so each call gets its own.
	return cases.Title(language.Und).String(name), nil
}

// ParseTime converts "H:MM" or "HH:MM" into minutes since midnight.
func ParseTime(raw string) (int, error) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) != 2 || !isDigits(parts[0]) || !isDigits(parts[1]) {
		return 0, model.InvalidInput("Time must be HH:MM")
	}
	h, errH := strconv.Atoi(parts[0])
	m, errM := strconv.Atoi(parts[1])
	if errH != nil || errM != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, model.InvalidInput("Invalid time.")
	}
	return h*60 + m, nil
}

// FormatTime renders minutes since midnight as zero-padded "HH:MM".
// MinutesPerDay renders as "24:00".
func FormatTime(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// Day maps a day label to its canonical weekday. Only the first three
// letters are significant, case-insensitively: "tuesday", "TUES" and "tue"
// all give Tue.
func Day(raw string) (model.Weekday, error) {
	d := []rune(capitalize(strings.TrimSpace(raw)))
	if len(d) >= 3 {
		d = d[:3]
	}
	day, ok := dayAliases[string(d)]
	if !ok {
		return "", model.InvalidInput("Invalid day '%s'", raw)
	}
	return day, nil
}

func capitalize(s string) string {
	r := []rune(strings.ToLower(s))
	if len(r) == 0 {
		return ""
	}
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
