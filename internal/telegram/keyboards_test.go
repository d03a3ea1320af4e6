package telegram

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMonthKeyboard_SkipsPastMonths(t *testing.T) {
	now := time.Date(2025, 5, 20, 10, 0, 0, 0, time.UTC)

	current := callbacks(MonthKeyboard(2025, now))
	assert.Equal(t, cbMonthPrefix+"5", current[0])
	assert.NotContains(t, current, cbMonthPrefix+"4")

	next := callbacks(MonthKeyboard(2026, now))
	assert.Equal(t, cbMonthPrefix+"1", next[0])
	assert.Contains(t, next, cbMonthPrefix+"12")
}

func TestDayKeyboard(t *testing.T) {
	now := time.Date(2025, 5, 20, 10, 0, 0, 0, time.UTC)

	may := callbacks(DayKeyboard(2025, 5, now))
	assert.Equal(t, cbDayPrefix+"20", may[0])
	assert.Contains(t, may, cbDayPrefix+"31")
	assert.Equal(t, cbTaskCancel, may[len(may)-1])

	feb := callbacks(DayKeyboard(2028, 2, now))
	assert.Contains(t, feb, cbDayPrefix+"29")
	assert.NotContains(t, feb, cbDayPrefix+"30")
}

func TestDateAllowed(t *testing.T) {
	now := time.Date(2025, 5, 20, 23, 59, 0, 0, time.UTC)

	assert.True(t, dateAllowed(2025, 5, 20, now))
	assert.False(t, dateAllowed(2025, 5, 19, now))
	assert.False(t, dateAllowed(2025, 2, 30, now))
	assert.False(t, dateAllowed(2025, 13, 1, now))
	assert.True(t, dateAllowed(2026, 1, 1, now))
}

func TestYearKeyboard(t *testing.T) {
	kb := YearKeyboard(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	got := callbacks(kb)
	assert.Equal(t, []string{
		cbYearPrefix + "2025", cbYearPrefix + "2026", cbYearPrefix + "2027",
		cbYearPrefix + "2028", cbYearPrefix + "2029", cbYearPrefix + "2030",
		cbTaskCancel,
	}, got)
	assert.Len(t, kb.InlineKeyboard, 3)
}

func TestHourKeyboard(t *testing.T) {
	kb := HourKeyboard()
	assert.Len(t, callbacks(kb), 25)
	assert.Equal(t, "00:00", kb.InlineKeyboard[0][0].Text)
	assert.Equal(t, "23:00", kb.InlineKeyboard[5][3].Text)
}

func TestModerationKeyboard_Navigation(t *testing.T) {
	assert.Equal(t, []string{"mod:approve:7", "mod:reject:7", cbModCancel},
		callbacks(ModerationKeyboard(7, 0, false, false)))
	assert.Equal(t, []string{"mod:approve:7", "mod:reject:7", "mod:page:1", "mod:page:3", cbModCancel},
		callbacks(ModerationKeyboard(7, 2, true, true)))
}

func TestRecipientToggleKeyboard_Marks(t *testing.T) {
	roster := []RosterEntry{{Name: "Аня"}, {Name: "Борис"}}
	kb := RecipientToggleKeyboard(roster, map[int]bool{1: true})
	assert.Equal(t, "⬜ Аня", kb.InlineKeyboard[0][0].Text)
	assert.Equal(t, "✅ Борис", kb.InlineKeyboard[1][0].Text)
}
