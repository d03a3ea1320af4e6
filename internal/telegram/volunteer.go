package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/CleanUpAlmaty/CleanUpAlmatyBot/internal/models"
	"github.com/CleanUpAlmaty/CleanUpAlmatyBot/internal/services"
)

func (h *UpdateHandler) cmdProjects(ctx context.Context, in *Input, s *Session) (Step, error) {
	if len(in.Args) > 0 {
		s.Filter.City = in.Args[0]
	}
	if len(in.Args) > 1 {
		s.Filter.Tag = in.Args[1]
	}
	return h.browse(ctx, in, s)
}

func (h *UpdateHandler) startBrowse(ctx context.Context, in *Input, s *Session) (Step, error) {
	return h.browse(ctx, in, s)
}

func (h *UpdateHandler) browse(ctx context.Context, in *Input, s *Session) (Step, error) {
	user, ok, err := h.currentUser(ctx, in)
	if err != nil || !ok {
		return StepIdle, err
	}
	return h.showProjectsPage(ctx, in, s, user)
}

func (h *UpdateHandler) showProjectsPage(ctx context.Context, in *Input, s *Session, user *models.User) (Step, error) {
	projects, page, err := h.projects.ListAvailable(ctx, user.ID, s.Filter, s.Page, h.opts.ProjectsPerPage)
	if err != nil {
		return StepIdle, err
	}
	if page.Total == 0 {
		h.edit(ctx, in, "Сейчас нет доступных проектов.", nil)
		return StepIdle, nil
	}
	if len(projects) == 0 {
		s.Page = 0
		return h.showProjectsPage(ctx, in, s, user)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📋 <b>Доступные проекты</b> (стр. %d из %d)\n", page.Page+1, page.Pages())
	if s.Filter.City != "" || s.Filter.Tag != "" {
		fmt.Fprintf(&b, "Фильтр: %s\n", esc(strings.TrimSpace(s.Filter.City+" "+s.Filter.Tag)))
	}
	var rows [][]InlineKeyboardButton
	for _, p := range projects {
		fmt.Fprintf(&b, "\n<b>%s</b>\n📍 %s\n%s\n", esc(p.Title), esc(p.City), esc(p.Description))
		if len(p.Tags) > 0 {
			tags := make([]string, 0, len(p.Tags))
			for _, t := range p.Tags {
				tags = append(tags, "#"+esc(t.Name))
			}
			b.WriteString(strings.Join(tags, " ") + "\n")
		}
		rows = append(rows, []InlineKeyboardButton{button("➕ "+p.Title, fmt.Sprintf("%s%d", cbProjJoinPrefix, p.ID))})
	}

	var nav []InlineKeyboardButton
	if page.HasPrev() {
		nav = append(nav, button("⬅️ Назад", fmt.Sprintf("%s%d", cbProjPagePrefix, page.Page-1)))
	}
	if page.HasNext() {
		nav = append(nav, button("Вперёд ➡️", fmt.Sprintf("%s%d", cbProjPagePrefix, page.Page+1)))
	}
	if len(nav) > 0 {
		rows = append(rows, nav)
	}
	rows = append(rows, []InlineKeyboardButton{button("Закрыть", cbProjClose)})

	h.edit(ctx, in, b.String(), inline(rows...))
	return StepBrowseProjects, nil
}

func (h *UpdateHandler) onBrowseProjects(ctx context.Context, in *Input, s *Session) (Step, error) {
	if in.Callback == "" || foreignCallback(in, "proj:") {
		return StepIdle, errPass
	}
	user, ok, err := h.currentUser(ctx, in)
	if err != nil || !ok {
		return StepIdle, err
	}

	if in.Callback == cbProjClose {
		h.edit(ctx, in, "Список проектов закрыт.", nil)
		return StepIdle, nil
	}
	if page, ok := callbackArg(in.Callback, cbProjPagePrefix); ok {
		s.Page = page
		return h.showProjectsPage(ctx, in, s, user)
	}
	projectID, ok := callbackID(in.Callback, cbProjJoinPrefix)
	if !ok {
		h.reply(ctx, in, msgStaleButton, nil)
		return StepBrowseProjects, nil
	}

	membership, err := h.projects.Join(ctx, user.ID, projectID)
	switch {
	case errors.Is(err, services.ErrProjectCapReached):
		h.reply(ctx, in, "⚠️ Вы уже участвуете в максимально допустимом числе проектов. "+
			"Чтобы присоединиться к новому, сначала покиньте текущий.", nil)
		return StepIdle, nil
	case errors.Is(err, services.ErrAlreadyJoined):
		h.reply(ctx, in, "Вы уже участвуете в этом проекте.", nil)
		return StepIdle, nil
	case errors.Is(err, services.ErrNotFound):
		h.reply(ctx, in, "Проект больше недоступен.", nil)
		return StepIdle, nil
	case err != nil:
		return StepIdle, err
	}

	in.log.Info("volunteer joined project", zap.Uint("project_id", projectID))
	h.edit(ctx, in, fmt.Sprintf("✅ Вы присоединились к проекту «%s»!", esc(membership.Project.Title)), nil)
	return StepIdle, nil
}

func (h *UpdateHandler) startLeave(ctx context.Context, in *Input, s *Session) (Step, error) {
	user, ok, err := h.currentUser(ctx, in)
	if err != nil || !ok {
		return StepIdle, err
	}
	memberships, err := h.projects.Memberships(ctx, user.ID)
	if err != nil {
		return StepIdle, err
	}
	if len(memberships) == 0 {
		h.reply(ctx, in, "Вы не участвуете ни в одном проекте.", nil)
		return StepIdle, nil
	}

	var rows [][]InlineKeyboardButton
	for _, m := range memberships {
		rows = append(rows, []InlineKeyboardButton{button("🚪 "+m.Project.Title, fmt.Sprintf("%s%d", cbLeavePrefix, m.ProjectID))})
	}
	rows = append(rows, []InlineKeyboardButton{button("Отмена", cbLeaveCancel)})
	h.reply(ctx, in, "Какой проект вы хотите покинуть?", inline(rows...))
	return StepLeavePick, nil
}

func (h *UpdateHandler) onLeavePick(ctx context.Context, in *Input, s *Session) (Step, error) {
	if in.Callback == "" || foreignCallback(in, cbLeavePrefix) {
		return StepIdle, errPass
	}
	if in.Callback == cbLeaveCancel {
		h.edit(ctx, in, "Отменено.", nil)
		return StepIdle, nil
	}
	projectID, ok := callbackID(in.Callback, cbLeavePrefix)
	if !ok {
		h.reply(ctx, in, msgStaleButton, nil)
		return StepLeavePick, nil
	}
	user, ok, err := h.currentUser(ctx, in)
	if err != nil || !ok {
		return StepIdle, err
	}

	err = h.projects.Leave(ctx, user.ID, projectID)
	if errors.Is(err, services.ErrNotFound) {
		h.edit(ctx, in, "Вы уже не участвуете в этом проекте.", nil)
		return StepIdle, nil
	}
	if err != nil {
		return StepIdle, err
	}
	h.edit(ctx, in, "Вы покинули проект.", nil)
	return StepIdle, nil
}

func (h *UpdateHandler) showProfile(ctx context.Context, in *Input, s *Session) (Step, error) {
	user, ok, err := h.currentUser(ctx, in)
	if err != nil || !ok {
		return StepIdle, err
	}
	memberships, err := h.projects.Memberships(ctx, user.ID)
	if err != nil {
		return StepIdle, err
	}

	role := "волонтёр"
	switch {
	case user.IsOrganizer:
		role = "организатор"
	case user.HasPendingOrganizerRequest():
		role = "волонтёр (заявка на организатора на рассмотрении)"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "👤 <b>%s</b>\n📱 %s\nРоль: %s\n", esc(user.Name), esc(user.Phone), role)
	if user.OrganizationName != nil && *user.OrganizationName != "" {
		fmt.Fprintf(&b, "Организация: %s\n", esc(*user.OrganizationName))
	}
	fmt.Fprintf(&b, "⭐ Рейтинг: %d\n", user.Rating)
	if len(memberships) > 0 {
		b.WriteString("\nПроекты:\n")
		for _, m := range memberships {
			fmt.Fprintf(&b, "• %s\n", esc(m.Project.Title))
		}
	}
	h.reply(ctx, in, b.String(), nil)
	return StepIdle, nil
}

var assignmentLabels = map[string]string{
	models.AssignmentAccepted:     "в работе",
	models.AssignmentPhotoPending: "ждёт фото",
}

func (h *UpdateHandler) showMyTasks(ctx context.Context, in *Input, s *Session) (Step, error) {
	user, ok, err := h.currentUser(ctx, in)
	if err != nil || !ok {
		return StepIdle, err
	}
	assignments, err := h.tasks.ActiveForVolunteer(ctx, user.ID)
	if err != nil {
		return StepIdle, err
	}
	if len(assignments) == 0 {
		h.reply(ctx, in, "У вас нет активных заданий.", nil)
		return StepIdle, nil
	}

	var b strings.Builder
	b.WriteString("🗂 <b>Ваши задания</b>\n")
	var rows [][]InlineKeyboardButton
	for _, a := range assignments {
		fmt.Fprintf(&b, "\n#%d · %s\n%s\n📅 %s, %s-%s · %s\n",
			a.TaskID, esc(a.Task.Project.Title), esc(a.Task.Text),
			a.Task.DeadlineDate.Format("02.01.2006"), a.Task.StartTime, a.Task.EndTime,
			assignmentLabels[a.Status])
		rows = append(rows, []InlineKeyboardButton{
			button(fmt.Sprintf("🏁 Задание #%d выполнено", a.TaskID), fmt.Sprintf("%s%d", cbTaskDonePrefix, a.TaskID)),
		})
	}
	h.reply(ctx, in, b.String(), inline(rows...))
	return StepIdle, nil
}

func (h *UpdateHandler) acceptTask(ctx context.Context, in *Input, s *Session) (Step, error) {
	taskID, ok := callbackID(in.Callback, cbTaskAcceptPrefix)
	if !ok {
		h.reply(ctx, in, msgStaleButton, nil)
		return StepIdle, nil
	}
	user, ok, err := h.currentUser(ctx, in)
	if err != nil || !ok {
		return StepIdle, err
	}
	_, err = h.tasks.Accept(ctx, taskID, user.ID)
	if h.assignmentGone(ctx, in, err) {
		return StepIdle, nil
	}
	if err != nil {
		return StepIdle, err
	}
	h.edit(ctx, in, "✅ Вы приняли задание. Когда выполните его, нажмите «Готово» и отправьте фото.", TaskDoneKeyboard(taskID))
	return StepIdle, nil
}

func (h *UpdateHandler) declineTask(ctx context.Context, in *Input, s *Session) (Step, error) {
	taskID, ok := callbackID(in.Callback, cbTaskDeclinePrefix)
	if !ok {
		h.reply(ctx, in, msgStaleButton, nil)
		return StepIdle, nil
	}
	user, ok, err := h.currentUser(ctx, in)
	if err != nil || !ok {
		return StepIdle, err
	}
	_, err = h.tasks.Decline(ctx, taskID, user.ID)
	if h.assignmentGone(ctx, in, err) {
		return StepIdle, nil
	}
	if err != nil {
		return StepIdle, err
	}
	h.edit(ctx, in, "Вы отказались от задания.", nil)
	return StepIdle, nil
}

// assignmentGone answers lookups of missing or already answered assignments.
func (h *UpdateHandler) assignmentGone(ctx context.Context, in *Input, err error) bool {
	switch {
	case errors.Is(err, services.ErrNotFound):
		h.reply(ctx, in, "Задание не найдено.", nil)
		return true
	case errors.Is(err, services.ErrInvalidTransition):
		h.reply(ctx, in, "Вы уже ответили на это задание.", nil)
		return true
	}
	return false
}

func (h *UpdateHandler) startCompletion(ctx context.Context, in *Input, s *Session) (Step, error) {
	taskID, ok := callbackID(in.Callback, cbTaskDonePrefix)
	if !ok {
		h.reply(ctx, in, msgStaleButton, nil)
		return StepIdle, nil
	}
	user, ok, err := h.currentUser(ctx, in)
	if err != nil || !ok {
		return StepIdle, err
	}
	a, err := h.tasks.Assignment(ctx, taskID, user.ID)
	if errors.Is(err, services.ErrNotFound) {
		h.reply(ctx, in, "Задание не найдено.", nil)
		return StepIdle, nil
	}
	if err != nil {
		return StepIdle, err
	}

	s.TaskID = taskID
	open := a.Status == models.AssignmentAccepted || a.Status == models.AssignmentPhotoPending
	if open && services.TaskExpired(&a.Task, h.clock()) {
		h.reply(ctx, in, "⌛ Срок выполнения задания истёк.", nil)
		return StepIdle, nil
	}
	switch a.Status {
	case models.AssignmentAccepted:
		h.reply(ctx, in, "Вы выполнили задание?", YesNoKeyboard())
		return StepCompleteConfirm, nil
	case models.AssignmentPhotoPending:
		h.reply(ctx, in, "📸 Отправьте фото, подтверждающее выполнение.", nil)
		return StepProofPhoto, nil
	}
	h.reply(ctx, in, "Это задание уже закрыто.", nil)
	return StepIdle, nil
}

func (h *UpdateHandler) onCompleteConfirm(ctx context.Context, in *Input, s *Session) (Step, error) {
	if s.TaskID == 0 {
		return StepIdle, errSessionExpired
	}
	if foreignCallback(in, "done:") {
		return StepIdle, errPass
	}
	switch in.Callback {
	case cbDoneNo:
		h.edit(ctx, in, "Хорошо. Нажмите «Готово», когда выполните задание.", nil)
		return StepIdle, nil
	case cbDoneYes:
	default:
		h.reply(ctx, in, "Ответьте кнопкой: вы выполнили задание?", YesNoKeyboard())
		return StepCompleteConfirm, nil
	}

	user, ok, err := h.currentUser(ctx, in)
	if err != nil || !ok {
		return StepIdle, err
	}
	_, err = h.tasks.Complete(ctx, s.TaskID, user.ID)
	if errors.Is(err, services.ErrTaskExpired) {
		h.edit(ctx, in, "⌛ Срок выполнения задания истёк.", nil)
		return StepIdle, nil
	}
	if errors.Is(err, services.ErrNotFound) || errors.Is(err, services.ErrInvalidTransition) {
		h.edit(ctx, in, "Это задание уже нельзя отметить выполненным.", nil)
		return StepIdle, nil
	}
	if err != nil {
		return StepIdle, err
	}
	h.edit(ctx, in, "👍 Отлично! Теперь отправьте фото, подтверждающее выполнение.", nil)
	return StepProofPhoto, nil
}

func (h *UpdateHandler) onProofPhoto(ctx context.Context, in *Input, s *Session) (Step, error) {
	if s.TaskID == 0 {
		return StepIdle, errSessionExpired
	}
	if in.Callback != "" {
		return StepIdle, errPass
	}
	if in.Photo == nil {
		h.reply(ctx, in, "Пожалуйста, отправьте фотографию.", nil)
		return StepProofPhoto, nil
	}
	user, ok, err := h.currentUser(ctx, in)
	if err != nil || !ok {
		return StepIdle, err
	}

	if _, err := h.photos.CheckUpload(ctx, s.TaskID, user.ID); err != nil {
		return h.proofRefused(ctx, in, err)
	}
	data, err := h.download(ctx, in.log, in.Photo.FileID)
	if errors.Is(err, services.ErrEmptyPayload) {
		h.reply(ctx, in, "Файл пустой. Отправьте другое фото.", nil)
		return StepProofPhoto, nil
	}
	if err != nil {
		in.log.Warn("proof photo download failed", zap.Error(err))
		h.reply(ctx, in, "Не удалось загрузить фото. Попробуйте отправить его ещё раз.", nil)
		return StepProofPhoto, nil
	}

	photo, err := h.photos.Submit(ctx, services.SubmitPhotoInput{
		VolunteerID: user.ID,
		TelegramID:  in.UserID,
		TaskID:      s.TaskID,
		FileID:      in.Photo.FileID,
		Data:        data,
	})
	switch {
	case errors.Is(err, services.ErrEmptyPayload):
		h.reply(ctx, in, "Файл пустой. Отправьте другое фото.", nil)
		return StepProofPhoto, nil
	case errors.Is(err, services.ErrNotifyFailed):
		h.reply(ctx, in, "Фото сохранено, но организатора не удалось уведомить. "+
			"Он увидит его в списке на проверку.", nil)
		return StepIdle, nil
	case err != nil:
		return h.proofRefused(ctx, in, err)
	}

	in.log.Info("proof photo submitted", zap.Uint("photo_id", photo.ID), zap.Uint("task_id", s.TaskID))
	h.reply(ctx, in, "✅ Фото отправлено организатору на проверку.", nil)
	return StepIdle, nil
}

func (h *UpdateHandler) proofRefused(ctx context.Context, in *Input, err error) (Step, error) {
	switch {
	case errors.Is(err, services.ErrTaskExpired):
		h.reply(ctx, in, "⌛ Срок выполнения задания истёк, фото больше не принимается.", nil)
		return StepIdle, nil
	case errors.Is(err, services.ErrNotFound), errors.Is(err, services.ErrInvalidTransition):
		h.reply(ctx, in, "Это задание больше не ожидает фото.", nil)
		return StepIdle, nil
	}
	return StepIdle, err
}
