package telegram

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CleanUpAlmaty/CleanUpAlmatyBot/internal/models"
)

type moderationFixture struct {
	org       *models.User
	volunteer *models.User
	task      *models.Task
	photo     *models.Photo
}

func newModerationFixture(t *testing.T, hs *harness) moderationFixture {
	t.Helper()
	f := moderationFixture{org: hs.user(t, 10, true), volunteer: hs.user(t, 21, false)}
	project := hs.project(t, f.org, "Чистый берег")
	f.task = hs.assignment(t, project, f.volunteer, testNow.AddDate(0, 0, 1), models.AssignmentPhotoPending)
	f.photo = hs.pendingPhoto(t, f.task, f.volunteer)
	return f
}

func TestModeration_Reject(t *testing.T) {
	hs := newHarness(t)
	f := newModerationFixture(t, hs)

	hs.text(10, "/moderate_photos")
	require.Equal(t, StepModBrowse, hs.step(10))
	shown := hs.bot.last(t, 10)
	require.NotNil(t, shown.Photo)
	assert.Equal(t, "proof-file", shown.Photo.FileID)
	assert.Contains(t, shown.Text, "user-21")
	assert.Contains(t, callbacks(shown.Markup), fmt.Sprintf("%s%d", cbModRejectPrefix, f.photo.ID))

	hs.press(10, fmt.Sprintf("%s%d", cbModRejectPrefix, f.photo.ID))

	assert.Equal(t, StepIdle, hs.step(10))
	assert.True(t, hs.bot.saw(10, "Фото отклонено"))
	assert.Contains(t, hs.bot.last(t, 10).Text, "Нет фото, ожидающих проверки")
	assert.True(t, hs.bot.saw(21, "отклонено"))

	var photo models.Photo
	require.NoError(t, hs.db.First(&photo, f.photo.ID).Error)
	assert.Equal(t, models.PhotoStatusRejected, photo.Status)
	assert.NotNil(t, photo.ModeratedAt)
	assert.Nil(t, photo.Rating)

	var volunteer models.User
	require.NoError(t, hs.db.First(&volunteer, f.volunteer.ID).Error)
	assert.Zero(t, volunteer.Rating)

	var a models.TaskAssignment
	require.NoError(t, hs.db.Where("task_id = ?", f.task.ID).First(&a).Error)
	assert.Equal(t, models.AssignmentRejected, a.Status)
}

func TestModeration_ApproveAndRate(t *testing.T) {
	hs := newHarness(t)
	f := newModerationFixture(t, hs)

	hs.text(10, "/moderate_photos")
	hs.press(10, fmt.Sprintf("%s%d", cbModApprovePrefix, f.photo.ID))
	require.Equal(t, StepModRate, hs.step(10))
	assert.False(t, hs.bot.saw(21, "одобрено"), "volunteer hears about approval after rating")

	hs.press(10, cbRatePrefix+"9")
	assert.Equal(t, StepModRate, hs.step(10))

	hs.press(10, cbRatePrefix+"4")
	assert.Equal(t, StepIdle, hs.step(10))
	assert.True(t, hs.bot.saw(10, "Оценка 4 сохранена"))
	assert.True(t, hs.bot.saw(21, "одобрено"))
	assert.True(t, hs.bot.saw(21, "+8 к рейтингу"))

	var volunteer models.User
	require.NoError(t, hs.db.First(&volunteer, f.volunteer.ID).Error)
	assert.Equal(t, 8, volunteer.Rating)

	var photo models.Photo
	require.NoError(t, hs.db.First(&photo, f.photo.ID).Error)
	assert.Equal(t, models.PhotoStatusApproved, photo.Status)
	require.NotNil(t, photo.Rating)
	assert.Equal(t, 4, *photo.Rating)

	var task models.Task
	require.NoError(t, hs.db.Preload("Assignments").First(&task, f.task.ID).Error)
	assert.Equal(t, models.TaskStatusCompleted, task.Status)
	require.Len(t, task.Assignments, 1)
	assert.Equal(t, models.AssignmentApproved, task.Assignments[0].Status)
	assert.Equal(t, 4, task.Assignments[0].Rating)
}

func TestModeration_SkipRating(t *testing.T) {
	hs := newHarness(t)
	f := newModerationFixture(t, hs)

	hs.text(10, "/moderate_photos")
	hs.press(10, fmt.Sprintf("%s%d", cbModApprovePrefix, f.photo.ID))
	hs.press(10, cbRateSkip)

	assert.Equal(t, StepIdle, hs.step(10))
	assert.True(t, hs.bot.saw(21, "одобрено"))
	assert.False(t, hs.bot.saw(21, "к рейтингу"))

	var volunteer models.User
	require.NoError(t, hs.db.First(&volunteer, f.volunteer.ID).Error)
	assert.Zero(t, volunteer.Rating)
}

func TestModeration_Pages(t *testing.T) {
	hs := newHarness(t)
	f := newModerationFixture(t, hs)
	for i := 0; i < 5; i++ {
		hs.pendingPhoto(t, f.task, f.volunteer)
	}

	hs.press(10, cbMenuPhotos)
	first := hs.bot.last(t, 10)
	assert.Contains(t, first.Text, "стр. 1 из 2")
	assert.Contains(t, callbacks(first.Markup), cbModPagePrefix+"1")

	hs.press(10, cbModPagePrefix+"1")
	second := hs.bot.last(t, 10)
	assert.Contains(t, second.Text, "стр. 2 из 2")
	assert.Contains(t, callbacks(second.Markup), fmt.Sprintf("%s%d", cbModApprovePrefix, f.photo.ID))
	assert.Equal(t, StepModBrowse, hs.step(10))

	hs.press(10, cbModCancel)
	assert.Equal(t, StepIdle, hs.step(10))
}

func TestModeration_AlreadyModerated(t *testing.T) {
	hs := newHarness(t)
	f := newModerationFixture(t, hs)
	hs.text(10, "/moderate_photos")
	require.NoError(t, hs.db.Model(f.photo).Update("status", models.PhotoStatusRejected).Error)

	hs.press(10, fmt.Sprintf("%s%d", cbModApprovePrefix, f.photo.ID))

	assert.True(t, hs.bot.saw(10, "уже проверено"))
	assert.Equal(t, StepIdle, hs.step(10))
}

func TestModeration_OtherOrganizersPhoto(t *testing.T) {
	hs := newHarness(t)
	f := newModerationFixture(t, hs)
	hs.user(t, 11, true)
	hs.state.Set(11, &Session{Step: StepModBrowse})

	hs.press(11, fmt.Sprintf("%s%d", cbModApprovePrefix, f.photo.ID))

	assert.True(t, hs.bot.saw(11, "Фото не найдено"))
	var photo models.Photo
	require.NoError(t, hs.db.First(&photo, f.photo.ID).Error)
	assert.Equal(t, models.PhotoStatusPending, photo.Status)
}

func TestModeration_VolunteerRefused(t *testing.T) {
	hs := newHarness(t)
	hs.user(t, 21, false)

	hs.text(21, "/moderate_photos")

	assert.Equal(t, StepIdle, hs.step(21))
	assert.Contains(t, hs.bot.last(t, 21).Text, "нет прав организатора")
}

func TestModeration_LeavingRatingStillNotifiesVolunteer(t *testing.T) {
	tests := []struct {
		name  string
		leave func(hs *harness)
	}{
		{name: "cancel command", leave: func(hs *harness) { hs.text(10, "/cancel") }},
		{name: "menu button", leave: func(hs *harness) { hs.press(10, cbMenuProfile) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hs := newHarness(t)
			f := newModerationFixture(t, hs)

			hs.text(10, "/moderate_photos")
			hs.press(10, fmt.Sprintf("%s%d", cbModApprovePrefix, f.photo.ID))
			require.Equal(t, StepModRate, hs.step(10))
			require.False(t, hs.bot.saw(21, "одобрено"))

			tt.leave(hs)

			assert.NotEqual(t, StepModRate, hs.step(10))
			assert.True(t, hs.bot.saw(21, "одобрено"))
			assert.False(t, hs.bot.saw(21, "к рейтингу"))

			var photo models.Photo
			require.NoError(t, hs.db.First(&photo, f.photo.ID).Error)
			assert.Equal(t, models.PhotoStatusApproved, photo.Status)
			assert.Nil(t, photo.Rating)

			var volunteer models.User
			require.NoError(t, hs.db.First(&volunteer, f.volunteer.ID).Error)
			assert.Zero(t, volunteer.Rating)
		})
	}
}
