package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/CleanUpAlmaty/CleanUpAlmatyBot/internal/models"
	"github.com/CleanUpAlmaty/CleanUpAlmatyBot/internal/services"
)

func (h *UpdateHandler) startProjectCreation(ctx context.Context, in *Input, s *Session) (Step, error) {
	if _, ok := h.requireOrganizer(ctx, in); !ok {
		return StepIdle, nil
	}
	h.reply(ctx, in, "Введите название проекта:", nil)
	return StepProjTitle, nil
}

func (h *UpdateHandler) onProjTitle(ctx context.Context, in *Input, s *Session) (Step, error) {
	if in.Text == "" {
		h.reply(ctx, in, "Название не может быть пустым. Введите название проекта:", nil)
		return StepProjTitle, nil
	}
	s.Project.Title = in.Text
	h.reply(ctx, in, "Опишите проект:", nil)
	return StepProjDescription, nil
}

func (h *UpdateHandler) onProjDescription(ctx context.Context, in *Input, s *Session) (Step, error) {
	if s.Project.Title == "" {
		return StepIdle, errSessionExpired
	}
	if in.Text == "" {
		h.reply(ctx, in, "Описание не может быть пустым. Опишите проект:", nil)
		return StepProjDescription, nil
	}
	s.Project.Description = in.Text
	h.reply(ctx, in, "В каком городе проходит проект?", nil)
	return StepProjCity, nil
}

func (h *UpdateHandler) onProjCity(ctx context.Context, in *Input, s *Session) (Step, error) {
	if s.Project.Title == "" {
		return StepIdle, errSessionExpired
	}
	if in.Text == "" {
		h.reply(ctx, in, "Укажите город:", nil)
		return StepProjCity, nil
	}
	s.Project.City = in.Text
	h.reply(ctx, in, "Укажите теги через запятую (например: экология, парки) или /skip:", nil)
	return StepProjTags, nil
}

func (h *UpdateHandler) onProjTags(ctx context.Context, in *Input, s *Session) (Step, error) {
	if s.Project.Title == "" || s.Project.City == "" {
		return StepIdle, errSessionExpired
	}
	var tags []string
	if in.Command != "skip" {
		if in.Text == "" {
			h.reply(ctx, in, "Введите теги через запятую или /skip:", nil)
			return StepProjTags, nil
		}
		tags = services.ParseTags(in.Text)
	}

	user, ok, err := h.currentUser(ctx, in)
	if err != nil || !ok {
		return StepIdle, err
	}
	project, err := h.projects.Create(ctx, user.ID, services.CreateProjectInput{
		Title:       s.Project.Title,
		Description: s.Project.Description,
		City:        s.Project.City,
		Tags:        tags,
	})
	if errors.Is(err, services.ErrNotOrganizer) {
		h.reply(ctx, in, "⛔ У вас нет прав организатора.", nil)
		return StepIdle, nil
	}
	if err != nil {
		return StepIdle, err
	}

	h.reply(ctx, in, fmt.Sprintf("✅ Проект «%s» создан и отправлен на модерацию.", esc(project.Title)), OrganizerMenuKeyboard())
	return StepIdle, nil
}

func (h *UpdateHandler) showRosterProjects(ctx context.Context, in *Input, s *Session) (Step, error) {
	user, ok := h.requireOrganizer(ctx, in)
	if !ok {
		return StepIdle, nil
	}
	projects, err := h.projects.ListByCreator(ctx, user.ID, models.ProjectStatusApproved)
	if err != nil {
		return StepIdle, err
	}
	if len(projects) == 0 {
		h.reply(ctx, in, "У вас нет одобренных проектов.", nil)
		return StepIdle, nil
	}
	var rows [][]InlineKeyboardButton
	for _, p := range projects {
		rows = append(rows, []InlineKeyboardButton{button(p.Title, fmt.Sprintf("%s%d", cbRosterPrefix, p.ID))})
	}
	h.reply(ctx, in, "Выберите проект:", inline(rows...))
	return StepIdle, nil
}

func (h *UpdateHandler) showRoster(ctx context.Context, in *Input, s *Session) (Step, error) {
	user, ok := h.requireOrganizer(ctx, in)
	if !ok {
		return StepIdle, nil
	}
	projectID, ok := callbackID(in.Callback, cbRosterPrefix)
	if !ok {
		h.reply(ctx, in, msgStaleButton, nil)
		return StepIdle, nil
	}
	project, err := h.projects.Get(ctx, projectID)
	if errors.Is(err, services.ErrNotFound) || (err == nil && project.CreatorID != user.ID) {
		h.reply(ctx, in, "Проект не найден.", nil)
		return StepIdle, nil
	}
	if err != nil {
		return StepIdle, err
	}

	volunteers, err := h.projects.Volunteers(ctx, projectID)
	if err != nil {
		return StepIdle, err
	}
	if len(volunteers) == 0 {
		h.edit(ctx, in, fmt.Sprintf("В проекте «%s» пока нет волонтёров.", esc(project.Title)), nil)
		return StepIdle, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "👥 Волонтёры проекта «%s»:\n\n", esc(project.Title))
	for i, v := range volunteers {
		fmt.Fprintf(&b, "%d. %s · ⭐ %d\n", i+1, esc(v.Name), v.Rating)
	}
	h.edit(ctx, in, b.String(), nil)
	return StepIdle, nil
}
