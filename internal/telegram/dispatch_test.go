package telegram

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CleanUpAlmaty/CleanUpAlmatyBot/internal/models"
)

type dispatchFixture struct {
	org        *models.User
	project    *models.Project
	volunteers []*models.User
}

func newDispatchFixture(t *testing.T, hs *harness) dispatchFixture {
	t.Helper()
	f := dispatchFixture{org: hs.user(t, 10, true)}
	f.project = hs.project(t, f.org, "Чистый парк")
	for _, id := range []int64{21, 22, 23} {
		v := hs.user(t, id, false)
		hs.member(t, v, f.project)
		f.volunteers = append(f.volunteers, v)
	}
	return f
}

// authorTask walks the organizer through the whole authoring dialogue with
// a 2025-06-01 09:00-17:00 deadline and no photo.
func authorTask(t *testing.T, hs *harness, f dispatchFixture, recipients string) {
	t.Helper()
	hs.press(10, cbMenuSendTask)
	require.Equal(t, StepTaskProject, hs.step(10))
	hs.press(10, fmt.Sprintf("%s%d", cbDispatchProjectPrefix, f.project.ID))
	require.Equal(t, StepTaskRecipients, hs.step(10))
	hs.press(10, recipients)
	require.Equal(t, StepTaskText, hs.step(10))
	hs.text(10, "Убрать мусор в парке")
	require.Equal(t, StepTaskYear, hs.step(10))
	hs.press(10, cbYearPrefix+"2025")
	require.Equal(t, StepTaskMonth, hs.step(10))
	hs.press(10, cbMonthPrefix+"6")
	require.Equal(t, StepTaskDay, hs.step(10))
	hs.press(10, cbDayPrefix+"1")
	require.Equal(t, StepTaskStartHour, hs.step(10))
	hs.press(10, cbHourPrefix+"9")
	require.Equal(t, StepTaskEndHour, hs.step(10))
	hs.press(10, cbHourPrefix+"17")
	require.Equal(t, StepTaskPhoto, hs.step(10))
	hs.text(10, "/skip")
	require.Equal(t, StepTaskConfirm, hs.step(10))
}

func TestDispatch_AllRecipients(t *testing.T) {
	hs := newHarness(t)
	f := newDispatchFixture(t, hs)

	authorTask(t, hs, f, cbRecipientsAll)
	hs.press(10, cbTaskConfirm)

	assert.Equal(t, StepIdle, hs.step(10))
	assert.Contains(t, hs.bot.last(t, 10).Text, "Задание отправлено 3 волонтёрам из 3!")

	var task models.Task
	require.NoError(t, hs.db.Preload("Assignments").First(&task).Error)
	assert.Equal(t, "Убрать мусор в парке", task.Text)
	assert.Equal(t, "09:00", task.StartTime)
	assert.Equal(t, "17:00", task.EndTime)
	assert.Equal(t, models.TaskStatusOpen, task.Status)
	require.Len(t, task.Assignments, 3)
	for _, a := range task.Assignments {
		assert.Equal(t, models.AssignmentAssigned, a.Status)
	}

	for _, v := range f.volunteers {
		msg := hs.bot.last(t, *v.TelegramID)
		assert.Contains(t, msg.Text, "Убрать мусор в парке")
		assert.Contains(t, msg.Text, "01.06.2025")
		assert.Contains(t, callbacks(msg.Markup), fmt.Sprintf("%s%d", cbTaskAcceptPrefix, task.ID))
	}
}

func TestDispatch_FailedDeliveryDoesNotStopOthers(t *testing.T) {
	hs := newHarness(t)
	f := newDispatchFixture(t, hs)
	hs.bot.failChats[22] = true

	authorTask(t, hs, f, cbRecipientsAll)
	hs.press(10, cbTaskConfirm)

	summary := hs.bot.last(t, 10).Text
	assert.Contains(t, summary, "Задание отправлено 2 волонтёрам из 3!")
	assert.Contains(t, summary, "user-22")
	assert.NotEmpty(t, hs.bot.to(21))
	assert.NotEmpty(t, hs.bot.to(23))
}

func TestDispatch_PickOne(t *testing.T) {
	hs := newHarness(t)
	f := newDispatchFixture(t, hs)

	hs.press(10, cbMenuSendTask)
	hs.press(10, fmt.Sprintf("%s%d", cbDispatchProjectPrefix, f.project.ID))
	hs.press(10, cbRecipientsOne)
	require.Equal(t, StepTaskPickOne, hs.step(10))

	hs.press(10, cbRecipientPickPrefix+"7")
	assert.Equal(t, StepTaskPickOne, hs.step(10), "index outside the roster")

	hs.press(10, cbRecipientPickPrefix+"1")
	require.Equal(t, StepTaskText, hs.step(10))

	recipients := hs.state.Get(10).Task.Recipients()
	require.Len(t, recipients, 1)
	assert.Equal(t, f.volunteers[1].ID, recipients[0].UserID)
}

func TestDispatch_PickManyRequiresSelection(t *testing.T) {
	hs := newHarness(t)
	f := newDispatchFixture(t, hs)

	hs.press(10, cbMenuSendTask)
	hs.press(10, fmt.Sprintf("%s%d", cbDispatchProjectPrefix, f.project.ID))
	hs.press(10, cbRecipientsMany)
	require.Equal(t, StepTaskPickMany, hs.step(10))

	hs.press(10, cbRecipientsDone)
	assert.Equal(t, StepTaskPickMany, hs.step(10))
	assert.True(t, hs.bot.saw(10, "хотя бы одного"))

	hs.press(10, cbRecipientTogglePrefix+"0")
	hs.press(10, cbRecipientTogglePrefix+"2")
	hs.press(10, cbRecipientTogglePrefix+"0")
	assert.Equal(t, []string{
		cbRecipientTogglePrefix + "0", cbRecipientTogglePrefix + "1", cbRecipientTogglePrefix + "2",
		cbRecipientsDone, cbTaskCancel,
	}, callbacks(hs.bot.last(t, 10).Markup))

	hs.press(10, cbRecipientsDone)
	require.Equal(t, StepTaskText, hs.step(10))
	recipients := hs.state.Get(10).Task.Recipients()
	require.Len(t, recipients, 1)
	assert.Equal(t, f.volunteers[2].ID, recipients[0].UserID)
}

func TestDispatch_EndHourMustFollowStart(t *testing.T) {
	hs := newHarness(t)
	hs.user(t, 10, true)
	hs.state.Set(10, &Session{Step: StepTaskEndHour, Task: &TaskDraft{
		Roster: []RosterEntry{{UserID: 1}}, Selected: map[int]bool{0: true},
		Text: "x", Year: 2025, Month: 6, Day: 1, StartHour: 12,
	}})

	hs.press(10, cbHourPrefix+"12")
	assert.Equal(t, StepTaskEndHour, hs.step(10))
	assert.Contains(t, hs.bot.last(t, 10).Text, "должно быть позже 12:00")

	hs.press(10, cbHourPrefix+"8")
	assert.Equal(t, StepTaskEndHour, hs.step(10))

	hs.press(10, cbHourPrefix+"13")
	assert.Equal(t, StepTaskPhoto, hs.step(10))
	assert.Equal(t, 13, hs.state.Get(10).Task.EndHour)
}

func TestDispatch_PastDatesRefused(t *testing.T) {
	hs := newHarness(t)
	hs.state.Set(10, &Session{Step: StepTaskMonth, Task: &TaskDraft{Text: "x", Year: 2025}})

	hs.press(10, cbMonthPrefix+"4")
	assert.Equal(t, StepTaskMonth, hs.step(10))

	hs.press(10, cbMonthPrefix+"5")
	require.Equal(t, StepTaskDay, hs.step(10))

	hs.press(10, cbDayPrefix+"19")
	assert.Equal(t, StepTaskDay, hs.step(10))

	hs.press(10, cbDayPrefix+"20")
	assert.Equal(t, StepTaskStartHour, hs.step(10))
}

func taskPhotoSession() *Session {
	return &Session{Step: StepTaskPhoto, Task: &TaskDraft{
		ProjectTitle: "Чистый парк",
		Roster:       []RosterEntry{{UserID: 1, Name: "user-21"}},
		Selected:     map[int]bool{0: true},
		Text:         "x", Year: 2025, Month: 6, Day: 1, StartHour: 9, EndHour: 17,
	}}
}

func TestDispatch_PhotoDownloadRetried(t *testing.T) {
	hs := newHarness(t)
	hs.state.Set(10, taskPhotoSession())
	hs.bot.serve("task-img", []byte("jpeg"), context.DeadlineExceeded, &APIError{Code: 502})

	hs.photo(10, "task-img")

	require.Equal(t, StepTaskConfirm, hs.step(10))
	assert.Equal(t, 3, hs.bot.fetches["task-img"])
	draft := hs.state.Get(10).Task
	assert.Equal(t, "task-img", draft.ImageFileID)
	data, err := hs.store.Read(draft.ImagePath)
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg"), data)
	assert.Contains(t, hs.bot.last(t, 10).Text, "Фото: есть")
}

func TestDispatch_EmptyPhotoRejected(t *testing.T) {
	hs := newHarness(t)
	hs.state.Set(10, taskPhotoSession())
	hs.bot.serve("empty", []byte{})

	hs.photo(10, "empty")

	assert.Equal(t, StepTaskPhoto, hs.step(10))
	assert.Equal(t, 1, hs.bot.fetches["empty"])
	assert.Empty(t, hs.state.Get(10).Task.ImagePath)
	assert.Contains(t, hs.bot.last(t, 10).Text, "Файл пустой")
}

func TestDispatch_CancelButton(t *testing.T) {
	hs := newHarness(t)
	hs.state.Set(10, taskPhotoSession())

	hs.press(10, cbTaskCancel)

	assert.Equal(t, StepIdle, hs.step(10))
	assert.Contains(t, hs.bot.last(t, 10).Text, "Создание задания отменено")
}

func TestDispatch_MenuButtonAbandonsAuthoring(t *testing.T) {
	hs := newHarness(t)
	hs.user(t, 10, true)
	hs.state.Set(10, &Session{Step: StepTaskText, Task: &TaskDraft{
		Roster: []RosterEntry{{UserID: 1}}, Selected: map[int]bool{0: true},
	}})

	hs.press(10, cbMenuProfile)

	assert.Equal(t, StepIdle, hs.step(10))
	assert.Contains(t, hs.bot.last(t, 10).Text, "Рейтинг")
}

func TestDispatch_NonOrganizerRefused(t *testing.T) {
	hs := newHarness(t)
	hs.user(t, 21, false)

	hs.press(21, cbMenuSendTask)

	assert.Equal(t, StepIdle, hs.step(21))
	assert.Contains(t, hs.bot.last(t, 21).Text, "нет прав организатора")
}
