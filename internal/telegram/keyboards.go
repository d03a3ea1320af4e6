package telegram

import (
	"fmt"
	"time"
)

const (
	cbMenuProjects      = "menu:projects"
	cbMenuProfile       = "menu:profile"
	cbMenuTasks         = "menu:tasks"
	cbMenuLeave         = "menu:leave"
	cbMenuCreateProject = "menu:create_project"
	cbMenuVolunteers    = "menu:volunteers"
	cbMenuSendTask      = "menu:send_task"
	cbMenuPhotos        = "menu:photos"

	cbRoleVolunteer = "reg:role:volunteer"
	cbRoleOrganizer = "reg:role:organizer"

	cbRosterPrefix = "roster:"

	cbProjPagePrefix = "proj:page:"
	cbProjJoinPrefix = "proj:join:"
	cbProjClose      = "proj:close"

	cbLeavePrefix = "leave:"
	cbLeaveCancel = "leave:cancel"

	cbDispatchProjectPrefix = "dispatch:project:"
	cbRecipientsAll         = "rcpt:all"
	cbRecipientsOne         = "rcpt:one"
	cbRecipientsMany        = "rcpt:many"
	cbRecipientPickPrefix   = "rcpt:pick:"
	cbRecipientTogglePrefix = "rcpt:toggle:"
	cbRecipientsDone        = "rcpt:done"
	cbYearPrefix            = "cal:year:"
	cbMonthPrefix           = "cal:month:"
	cbDayPrefix             = "cal:day:"
	cbHourPrefix            = "cal:hour:"
	cbTaskConfirm           = "task:confirm"
	cbTaskCancel            = "task:cancel"

	cbTaskAcceptPrefix  = "task:accept:"
	cbTaskDeclinePrefix = "task:decline:"
	cbTaskDonePrefix    = "task:done:"
	cbDoneYes           = "done:yes"
	cbDoneNo            = "done:no"

	cbModApprovePrefix = "mod:approve:"
	cbModRejectPrefix  = "mod:reject:"
	cbModPagePrefix    = "mod:page:"
	cbModCancel        = "mod:cancel"
	cbRatePrefix       = "rate:"
	cbRateSkip         = "rate:skip"
)

var monthNames = [...]string{
	"Январь", "Февраль", "Март", "Апрель", "Май", "Июнь",
	"Июль", "Август", "Сентябрь", "Октябрь", "Ноябрь", "Декабрь",
}

func button(text, data string) InlineKeyboardButton {
	return InlineKeyboardButton{Text: text, CallbackData: data}
}

func inline(rows ...[]InlineKeyboardButton) *InlineKeyboardMarkup {
	return &InlineKeyboardMarkup{InlineKeyboard: rows}
}

// grid lays buttons out perRow to a row.
func grid(buttons []InlineKeyboardButton, perRow int) [][]InlineKeyboardButton {
	var rows [][]InlineKeyboardButton
	for len(buttons) > 0 {
		n := perRow
		if n > len(buttons) {
			n = len(buttons)
		}
		rows = append(rows, buttons[:n])
		buttons = buttons[n:]
	}
	return rows
}

func VolunteerMenuKeyboard() *InlineKeyboardMarkup {
	return inline(
		[]InlineKeyboardButton{button("📋 Проекты", cbMenuProjects), button("👤 Профиль", cbMenuProfile)},
		[]InlineKeyboardButton{button("🗂 Мои задания", cbMenuTasks)},
		[]InlineKeyboardButton{button("🚪 Покинуть проект", cbMenuLeave)},
	)
}

func OrganizerMenuKeyboard() *InlineKeyboardMarkup {
	return inline(
		[]InlineKeyboardButton{button("➕ Создать проект", cbMenuCreateProject)},
		[]InlineKeyboardButton{button("👥 Волонтёры", cbMenuVolunteers), button("📨 Отправить задание", cbMenuSendTask)},
		[]InlineKeyboardButton{button("🖼 Проверить фото", cbMenuPhotos)},
	)
}

func ContactKeyboard() *ReplyKeyboardMarkup {
	return &ReplyKeyboardMarkup{
		Keyboard:        [][]KeyboardButton{{{Text: "📱 Отправить номер", RequestContact: true}}},
		ResizeKeyboard:  true,
		OneTimeKeyboard: true,
	}
}

func RoleKeyboard() *InlineKeyboardMarkup {
	return inline([]InlineKeyboardButton{
		button("🙋 Волонтёр", cbRoleVolunteer),
		button("🏢 Организатор", cbRoleOrganizer),
	})
}

func cancelTaskRow() []InlineKeyboardButton {
	return []InlineKeyboardButton{button("❌ Отмена", cbTaskCancel)}
}

func RecipientModeKeyboard() *InlineKeyboardMarkup {
	return inline(
		[]InlineKeyboardButton{button("👥 Всем", cbRecipientsAll)},
		[]InlineKeyboardButton{button("👤 Одному", cbRecipientsOne), button("✅ Нескольким", cbRecipientsMany)},
		cancelTaskRow(),
	)
}

func RecipientPickKeyboard(roster []RosterEntry) *InlineKeyboardMarkup {
	var rows [][]InlineKeyboardButton
	for i, e := range roster {
		rows = append(rows, []InlineKeyboardButton{button(e.Name, fmt.Sprintf("%s%d", cbRecipientPickPrefix, i))})
	}
	rows = append(rows, cancelTaskRow())
	return inline(rows...)
}

func RecipientToggleKeyboard(roster []RosterEntry, selected map[int]bool) *InlineKeyboardMarkup {
	var rows [][]InlineKeyboardButton
	for i, e := range roster {
		mark := "⬜"
		if selected[i] {
			mark = "✅"
		}
		rows = append(rows, []InlineKeyboardButton{
			button(mark+" "+e.Name, fmt.Sprintf("%s%d", cbRecipientTogglePrefix, i)),
		})
	}
	rows = append(rows, []InlineKeyboardButton{button("Готово", cbRecipientsDone)}, cancelTaskRow())
	return inline(rows...)
}

// YearKeyboard offers the current year and the five after it.
func YearKeyboard(now time.Time) *InlineKeyboardMarkup {
	var buttons []InlineKeyboardButton
	for y := now.Year(); y <= now.Year()+5; y++ {
		buttons = append(buttons, button(fmt.Sprint(y), fmt.Sprintf("%s%d", cbYearPrefix, y)))
	}
	rows := grid(buttons, 3)
	rows = append(rows, cancelTaskRow())
	return inline(rows...)
}

// MonthKeyboard skips months already over in the current year.
func MonthKeyboard(year int, now time.Time) *InlineKeyboardMarkup {
	var buttons []InlineKeyboardButton
	for m := 1; m <= 12; m++ {
		if year == now.Year() && m < int(now.Month()) {
			continue
		}
		buttons = append(buttons, button(monthNames[m-1], fmt.Sprintf("%s%d", cbMonthPrefix, m)))
	}
	rows := grid(buttons, 3)
	rows = append(rows, cancelTaskRow())
	return inline(rows...)
}

// DayKeyboard skips days already over in the current month.
func DayKeyboard(year, month int, now time.Time) *InlineKeyboardMarkup {
	var buttons []InlineKeyboardButton
	for d := 1; d <= daysIn(year, month); d++ {
		if !dateAllowed(year, month, d, now) {
			continue
		}
		buttons = append(buttons, button(fmt.Sprint(d), fmt.Sprintf("%s%d", cbDayPrefix, d)))
	}
	rows := grid(buttons, 5)
	rows = append(rows, cancelTaskRow())
	return inline(rows...)
}

func HourKeyboard() *InlineKeyboardMarkup {
	var buttons []InlineKeyboardButton
	for hr := 0; hr < 24; hr++ {
		buttons = append(buttons, button(fmt.Sprintf("%02d:00", hr), fmt.Sprintf("%s%d", cbHourPrefix, hr)))
	}
	rows := grid(buttons, 4)
	rows = append(rows, cancelTaskRow())
	return inline(rows...)
}

func ConfirmTaskKeyboard() *InlineKeyboardMarkup {
	return inline([]InlineKeyboardButton{button("✅ Отправить", cbTaskConfirm), button("❌ Отмена", cbTaskCancel)})
}

func TaskResponseKeyboard(taskID uint) *InlineKeyboardMarkup {
	return inline([]InlineKeyboardButton{
		button("✅ Принять", fmt.Sprintf("%s%d", cbTaskAcceptPrefix, taskID)),
		button("❌ Отказаться", fmt.Sprintf("%s%d", cbTaskDeclinePrefix, taskID)),
	})
}

func TaskDoneKeyboard(taskID uint) *InlineKeyboardMarkup {
	return inline([]InlineKeyboardButton{button("🏁 Готово", fmt.Sprintf("%s%d", cbTaskDonePrefix, taskID))})
}

func YesNoKeyboard() *InlineKeyboardMarkup {
	return inline([]InlineKeyboardButton{button("Да", cbDoneYes), button("Нет", cbDoneNo)})
}

func ModerationKeyboard(photoID uint, page int, hasPrev, hasNext bool) *InlineKeyboardMarkup {
	rows := [][]InlineKeyboardButton{{
		button("✅ Одобрить", fmt.Sprintf("%s%d", cbModApprovePrefix, photoID)),
		button("❌ Отклонить", fmt.Sprintf("%s%d", cbModRejectPrefix, photoID)),
	}}
	var nav []InlineKeyboardButton
	if hasPrev {
		nav = append(nav, button("⬅️ Назад", fmt.Sprintf("%s%d", cbModPagePrefix, page-1)))
	}
	if hasNext {
		nav = append(nav, button("Вперёд ➡️", fmt.Sprintf("%s%d", cbModPagePrefix, page+1)))
	}
	if len(nav) > 0 {
		rows = append(rows, nav)
	}
	rows = append(rows, []InlineKeyboardButton{button("Завершить", cbModCancel)})
	return inline(rows...)
}

func RatingKeyboard() *InlineKeyboardMarkup {
	var buttons []InlineKeyboardButton
	for r := 1; r <= 5; r++ {
		buttons = append(buttons, button(fmt.Sprint(r), fmt.Sprintf("%s%d", cbRatePrefix, r)))
	}
	return inline(buttons, []InlineKeyboardButton{button("Пропустить", cbRateSkip)})
}

func daysIn(year, month int) int {
	return time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// dateAllowed reports whether the calendar date exists and is not before
// now's date.
func dateAllowed(year, month, day int, now time.Time) bool {
	if month < 1 || month > 12 || day < 1 || day > daysIn(year, month) {
		return false
	}
	d := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return !d.Before(today)
}
