// Package scheduling turns a doctor's working-hour sessions into bookable
// slot labels and maps labels onto calendar instants.
package scheduling

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultStepMinutes is the slot granularity used when none is configured.
const DefaultStepMinutes = 15

const minutesPerDay = 24 * 60

// Session is one contiguous working window, From inclusive and To exclusive.
type Session struct {
	Enabled bool   `json:"enabled"`
	From    string `json:"from"`
	To      string `json:"to"`
}

// Timing is the pair of sessions a doctor configures.
type Timing struct {
	SessionOne Session `json:"sessionOne"`
	SessionTwo Session `json:"sessionTwo"`
}

// Sessions returns both sessions in display order.
func (t Timing) Sessions() []Session {
	return []Session{t.SessionOne, t.SessionTwo}
}

// Bookable reports whether at least one enabled session yields a slot.
func (t Timing) Bookable(step int) bool {
	return len(GenerateSlots(t, step)) > 0
}

// Validate checks a timing before it is stored. Every enabled session needs a
// parseable from < to and at least one session must be enabled.
func (t Timing) Validate() error {
	enabled := 0
	for i, s := range t.Sessions() {
		if !s.Enabled {
			continue
		}
		enabled++
		from, okFrom := ParseClock(s.From)
		to, okTo := ParseClock(s.To)
		if !okFrom || !okTo {
			return fmt.Errorf("session %d: times must be HH:mm", i+1)
		}
		if to <= from {
			return fmt.Errorf("session %d: from must be before to", i+1)
		}
	}
	if enabled == 0 {
		return fmt.Errorf("at least one session must be enabled")
	}
	return nil
}

// Normalized rewrites enabled session bounds into 24-hour HH:mm form.
func (t Timing) Normalized() Timing {
	norm := func(s Session) Session {
		if m, ok := ParseClock(s.From); ok {
			s.From = formatClock24(m)
		}
		if m, ok := ParseClock(s.To); ok {
			s.To = formatClock24(m)
		}
		return s
	}
	return Timing{SessionOne: norm(t.SessionOne), SessionTwo: norm(t.SessionTwo)}
}

// ParseClock returns minutes since midnight for "H:mm"/"HH:mm" (24-hour) or
// the legacy "h:mm AM"/"hh:mm PM" form. Both slot labels and stored session
// bounds go through it.
func ParseClock(value string) (int, bool) {
	v := strings.TrimSpace(value)
	if v == "" {
		return 0, false
	}

	upper := strings.ToUpper(v)
	meridiem := ""
	if strings.HasSuffix(upper, "AM") || strings.HasSuffix(upper, "PM") {
		meridiem = upper[len(upper)-2:]
		v = strings.TrimSpace(v[:len(v)-2])
	}

	hourPart, minutePart, found := strings.Cut(v, ":")
	if !found || len(hourPart) < 1 || len(hourPart) > 2 || len(minutePart) != 2 {
		return 0, false
	}
	hh, err := strconv.Atoi(hourPart)
	if err != nil || !allDigits(hourPart) {
		return 0, false
	}
	mm, err := strconv.Atoi(minutePart)
	if err != nil || !allDigits(minutePart) || mm > 59 {
		return 0, false
	}

	if meridiem == "" {
		if hh > 23 {
			return 0, false
		}
		return hh*60 + mm, true
	}

	if hh < 1 || hh > 12 {
		return 0, false
	}
	if hh == 12 {
		hh = 0
	}
	if meridiem == "PM" {
		hh += 12
	}
	return hh*60 + mm, true
}

// FormatSlotLabel renders minutes since midnight as "hh:mm AM|PM".
func FormatSlotLabel(minutes int) string {
	if minutes < 0 {
		return ""
	}
	hh24 := (minutes / 60) % 24
	mm := minutes % 60
	meridiem := "AM"
	if hh24 >= 12 {
		meridiem = "PM"
	}
	hh12 := hh24 % 12
	if hh12 == 0 {
		hh12 = 12
	}
	return fmt.Sprintf("%02d:%02d %s", hh12, mm, meridiem)
}

// CanonicalLabel normalizes a client supplied label ("9:15 am", "09:15") to
// the generator's form. ok is false when the label does not parse.
func CanonicalLabel(label string) (string, bool) {
	m, ok := ParseClock(label)
	if !ok {
		return "", false
	}
	return FormatSlotLabel(m), true
}

// SlotsForRange emits labels every step minutes in [from, to). Malformed
// bounds, a non-positive step or an empty range yield nil.
func SlotsForRange(from, to string, step int) []string {
	start, okFrom := ParseClock(from)
	end, okTo := ParseClock(to)
	if !okFrom || !okTo || step <= 0 || end <= start {
		return nil
	}
	out := make([]string, 0, (end-start)/step+1)
	for m := start; m < end && m < minutesPerDay; m += step {
		out = append(out, FormatSlotLabel(m))
	}
	return out
}

// GenerateSlots concatenates the labels of every enabled session and drops
// duplicates, keeping the first occurrence.
func GenerateSlots(t Timing, step int) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, s := range t.Sessions() {
		if !s.Enabled {
			continue
		}
		for _, label := range SlotsForRange(s.From, s.To, step) {
			if _, dup := seen[label]; dup {
				continue
			}
			seen[label] = struct{}{}
			out = append(out, label)
		}
	}
	return out
}

// Contains reports whether label is one of slots.
func Contains(slots []string, label string) bool {
	for _, s := range slots {
		if s == label {
			return true
		}
	}
	return false
}

func formatClock24(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
