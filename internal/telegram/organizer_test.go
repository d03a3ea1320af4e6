package telegram

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CleanUpAlmaty/CleanUpAlmatyBot/internal/models"
)

func TestProjectCreation(t *testing.T) {
	hs := newHarness(t)
	hs.user(t, adminTelegramID, false)
	org := hs.user(t, 10, true)

	hs.press(10, cbMenuCreateProject)
	require.Equal(t, StepProjTitle, hs.step(10))
	hs.text(10, "Посадка деревьев")
	require.Equal(t, StepProjDescription, hs.step(10))
	hs.text(10, "")
	require.Equal(t, StepProjDescription, hs.step(10))
	hs.text(10, "Сажаем клёны вдоль арыка")
	require.Equal(t, StepProjCity, hs.step(10))
	hs.text(10, "Алматы")
	require.Equal(t, StepProjTags, hs.step(10))
	hs.text(10, "экология, #Парки, экология")
	assert.Equal(t, StepIdle, hs.step(10))
	assert.True(t, hs.bot.saw(10, "отправлен на модерацию"))

	var project models.Project
	require.NoError(t, hs.db.Preload("Tags").Where("creator_id = ?", org.ID).First(&project).Error)
	assert.Equal(t, "Посадка деревьев", project.Title)
	assert.Equal(t, models.ProjectStatusPending, project.Status)
	var tags []string
	for _, tag := range project.Tags {
		tags = append(tags, tag.Name)
	}
	assert.ElementsMatch(t, []string{"экология", "парки"}, tags)

	assert.True(t, hs.bot.saw(adminTelegramID, "Новый проект на модерации"))
	assert.True(t, hs.bot.saw(adminTelegramID, "Посадка деревьев"))
}

func TestProjectCreation_SkipTags(t *testing.T) {
	hs := newHarness(t)
	hs.user(t, 10, true)
	hs.state.Set(10, &Session{Step: StepProjTags, Project: ProjectDraft{
		Title: "Уборка", Description: "d", City: "Алматы",
	}})

	hs.text(10, "/skip")

	assert.Equal(t, StepIdle, hs.step(10))
	var project models.Project
	require.NoError(t, hs.db.Preload("Tags").First(&project).Error)
	assert.Empty(t, project.Tags)
}

func TestProjectCreation_PendingOrganizer(t *testing.T) {
	hs := newHarness(t)
	u := hs.user(t, 10, false)
	org := "ЭкоАлматы"
	require.NoError(t, hs.db.Model(u).Update("organization_name", &org).Error)

	hs.press(10, cbMenuCreateProject)

	assert.Equal(t, StepIdle, hs.step(10))
	assert.Contains(t, hs.bot.last(t, 10).Text, "ещё на рассмотрении")
}

func TestRoster(t *testing.T) {
	hs := newHarness(t)
	org := hs.user(t, 10, true)
	project := hs.project(t, org, "Чистый парк")
	empty := hs.project(t, org, "Пустой")
	v := hs.user(t, 21, false)
	hs.member(t, v, project)

	hs.press(10, cbMenuVolunteers)
	buttons := callbacks(hs.bot.last(t, 10).Markup)
	assert.ElementsMatch(t, []string{
		fmt.Sprintf("%s%d", cbRosterPrefix, project.ID),
		fmt.Sprintf("%s%d", cbRosterPrefix, empty.ID),
	}, buttons)

	hs.press(10, fmt.Sprintf("%s%d", cbRosterPrefix, project.ID))
	assert.Contains(t, hs.bot.last(t, 10).Text, "1. user-21")

	hs.press(10, fmt.Sprintf("%s%d", cbRosterPrefix, empty.ID))
	assert.Contains(t, hs.bot.last(t, 10).Text, "пока нет волонтёров")
}

func TestOrgCommand(t *testing.T) {
	hs := newHarness(t)
	hs.user(t, 10, true)
	hs.user(t, 21, false)

	hs.text(10, "/org")
	assert.Contains(t, callbacks(hs.bot.last(t, 10).Markup), cbMenuSendTask)

	hs.text(21, "/org")
	assert.Contains(t, hs.bot.last(t, 21).Text, "нет прав организатора")
}
