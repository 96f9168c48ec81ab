package scheduling

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClock(t *testing.T) {
	tests := []struct {
		in   string
		want int
		ok   bool
	}{
		{"09:00", 540, true},
		{"9:05", 545, true},
		{"23:59", 1439, true},
		{"00:00", 0, true},
		{"24:00", 0, false},
		{"12:00 AM", 0, true},
		{"12:30 PM", 750, true},
		{"01:15 pm", 795, true},
		{"9:15am", 555, true},
		{"13:00 PM", 0, false},
		{"0:30 AM", 0, false},
		{"9:5", 0, false},
		{"09:60", 0, false},
		{"+9:00", 0, false},
		{"", 0, false},
		{"noon", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseClock(tt.in)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestFormatSlotLabel(t *testing.T) {
	assert.Equal(t, "12:00 AM", FormatSlotLabel(0))
	assert.Equal(t, "09:15 AM", FormatSlotLabel(555))
	assert.Equal(t, "12:00 PM", FormatSlotLabel(720))
	assert.Equal(t, "05:45 PM", FormatSlotLabel(1065))
	assert.Equal(t, "", FormatSlotLabel(-1))
}

func TestCanonicalLabel(t *testing.T) {
	label, ok := CanonicalLabel("9:15 am")
	require.True(t, ok)
	assert.Equal(t, "09:15 AM", label)

	label, ok = CanonicalLabel("14:30")
	require.True(t, ok)
	assert.Equal(t, "02:30 PM", label)

	_, ok = CanonicalLabel("later")
	assert.False(t, ok)
}

func TestSlotsForRangeScenario(t *testing.T) {
	got := SlotsForRange("09:00", "09:45", 15)
	assert.Equal(t, []string{"09:00 AM", "09:15 AM", "09:30 AM"}, got)
}

func TestSlotsForRangeDegenerate(t *testing.T) {
	assert.Empty(t, SlotsForRange("10:00", "09:00", 15))
	assert.Empty(t, SlotsForRange("10:00", "10:00", 15))
	assert.Empty(t, SlotsForRange("bad", "11:00", 15))
	assert.Empty(t, SlotsForRange("10:00", "11:00", 0))
	assert.Empty(t, SlotsForRange("10:00", "11:00", -15))
}

func TestSlotsForRangeLegacyBounds(t *testing.T) {
	got := SlotsForRange("05:00 PM", "06:00 PM", 30)
	assert.Equal(t, []string{"05:00 PM", "05:30 PM"}, got)
}

func TestGenerateSlotsDedupesOverlap(t *testing.T) {
	timing := Timing{
		SessionOne: Session{Enabled: true, From: "09:00", To: "10:00"},
		SessionTwo: Session{Enabled: true, From: "09:30", To: "10:30"},
	}
	got := GenerateSlots(timing, 15)
	assert.Equal(t, []string{
		"09:00 AM", "09:15 AM", "09:30 AM", "09:45 AM", "10:00 AM", "10:15 AM",
	}, got)
}

func TestGenerateSlotsBothDisabled(t *testing.T) {
	timing := Timing{
		SessionOne: Session{Enabled: false, From: "09:00", To: "12:00"},
		SessionTwo: Session{Enabled: false, From: "17:00", To: "19:00"},
	}
	assert.Empty(t, GenerateSlots(timing, 15))
	assert.False(t, timing.Bookable(15))
}

func TestGenerateSlotsSkipsMalformedSession(t *testing.T) {
	timing := Timing{
		SessionOne: Session{Enabled: true, From: "9am", To: "12:00"},
		SessionTwo: Session{Enabled: true, From: "17:00", To: "17:30"},
	}
	assert.Equal(t, []string{"05:00 PM", "05:15 PM"}, GenerateSlots(timing, 15))
}

func TestGenerateSlotsProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 500; i++ {
		oneFrom := rng.Intn(12 * 60)
		oneTo := oneFrom + rng.Intn(6*60)
		twoFrom := oneTo + rng.Intn(3*60)
		twoTo := twoFrom + rng.Intn(4*60)
		if twoTo >= minutesPerDay {
			twoTo = minutesPerDay - 1
		}
		timing := Timing{
			SessionOne: Session{Enabled: rng.Intn(4) != 0, From: formatClock24(oneFrom), To: formatClock24(oneTo)},
			SessionTwo: Session{Enabled: rng.Intn(4) != 0, From: formatClock24(twoFrom), To: formatClock24(twoTo)},
		}
		step := []int{5, 10, 15, 20, 30}[rng.Intn(5)]
		slots := GenerateSlots(timing, step)

		prev := -1
		seen := map[string]bool{}
		for _, label := range slots {
			require.False(t, seen[label], "duplicate label %s", label)
			seen[label] = true

			m, ok := ParseClock(label)
			require.True(t, ok)
			require.Greater(t, m, prev, "labels must be strictly ordered")
			prev = m

			inside := false
			for _, s := range timing.Sessions() {
				from, _ := ParseClock(s.From)
				to, _ := ParseClock(s.To)
				if s.Enabled && m >= from && m < to {
					inside = true
				}
			}
			require.True(t, inside, "label %s outside every enabled session", label)
		}
	}
}

func TestTimingValidate(t *testing.T) {
	ok := Timing{SessionOne: Session{Enabled: true, From: "09:00", To: "12:00"}}
	assert.NoError(t, ok.Validate())

	none := Timing{}
	assert.Error(t, none.Validate())

	inverted := Timing{SessionTwo: Session{Enabled: true, From: "18:00", To: "17:00"}}
	assert.Error(t, inverted.Validate())

	garbage := Timing{SessionOne: Session{Enabled: true, From: "morning", To: "12:00"}}
	assert.Error(t, garbage.Validate())
}

func TestTimingNormalized(t *testing.T) {
	timing := Timing{SessionOne: Session{Enabled: true, From: "9:00 AM", To: "01:30 PM"}}
	norm := timing.Normalized()
	assert.Equal(t, "09:00", norm.SessionOne.From)
	assert.Equal(t, "13:30", norm.SessionOne.To)
}
