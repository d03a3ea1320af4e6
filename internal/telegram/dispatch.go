package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/CleanUpAlmaty/CleanUpAlmatyBot/internal/media"
	"github.com/CleanUpAlmaty/CleanUpAlmatyBot/internal/models"
	"github.com/CleanUpAlmaty/CleanUpAlmatyBot/internal/services"
)

// DispatchResult is the delivery outcome for one task recipient.
type DispatchResult struct {
	Recipient RosterEntry
	MessageID int64
	Err       error
}

func (h *UpdateHandler) startDispatch(ctx context.Context, in *Input, s *Session) (Step, error) {
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
		rows = append(rows, []InlineKeyboardButton{button(p.Title, fmt.Sprintf("%s%d", cbDispatchProjectPrefix, p.ID))})
	}
	rows = append(rows, cancelTaskRow())
	h.reply(ctx, in, "📨 Для какого проекта задание?", inline(rows...))
	s.Task = &TaskDraft{}
	return StepTaskProject, nil
}

// foreignCallback reports whether the input is a button press that belongs
// to another flow.
func foreignCallback(in *Input, prefixes ...string) bool {
	if in.Callback == "" {
		return false
	}
	for _, p := range prefixes {
		if strings.HasPrefix(in.Callback, p) {
			return false
		}
	}
	return true
}

func (h *UpdateHandler) onTaskProject(ctx context.Context, in *Input, s *Session) (Step, error) {
	if s.Task == nil {
		return StepIdle, errSessionExpired
	}
	if foreignCallback(in, cbDispatchProjectPrefix) {
		return StepIdle, errPass
	}
	projectID, ok := callbackID(in.Callback, cbDispatchProjectPrefix)
	if !ok {
		h.reply(ctx, in, "Выберите проект кнопкой выше.", nil)
		return StepTaskProject, nil
	}

	user, ok, err := h.currentUser(ctx, in)
	if err != nil || !ok {
		return StepIdle, err
	}
	project, err := h.projects.Get(ctx, projectID)
	if errors.Is(err, services.ErrNotFound) ||
		(err == nil && (project.CreatorID != user.ID || project.Status != models.ProjectStatusApproved)) {
		h.edit(ctx, in, "Проект недоступен.", nil)
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

	roster := make([]RosterEntry, 0, len(volunteers))
	for _, v := range volunteers {
		chatID, hasChat := v.ChatID()
		roster = append(roster, RosterEntry{UserID: v.ID, Name: v.Name, ChatID: chatID, HasChat: hasChat})
	}
	s.Task.ProjectID = project.ID
	s.Task.ProjectTitle = project.Title
	s.Task.Roster = roster

	h.edit(ctx, in, fmt.Sprintf("Проект «%s». Кому отправить задание?", esc(project.Title)), RecipientModeKeyboard())
	return StepTaskRecipients, nil
}

func (h *UpdateHandler) onTaskRecipients(ctx context.Context, in *Input, s *Session) (Step, error) {
	if s.Task == nil || len(s.Task.Roster) == 0 {
		return StepIdle, errSessionExpired
	}
	if foreignCallback(in, "rcpt:") {
		return StepIdle, errPass
	}
	d := s.Task
	switch in.Callback {
	case cbRecipientsAll:
		d.Mode = RecipientsAll
		d.Selected = make(map[int]bool, len(d.Roster))
		for i := range d.Roster {
			d.Selected[i] = true
		}
		return h.askTaskText(ctx, in)
	case cbRecipientsOne:
		d.Mode = RecipientsOne
		h.edit(ctx, in, "Выберите волонтёра:", RecipientPickKeyboard(d.Roster))
		return StepTaskPickOne, nil
	case cbRecipientsMany:
		d.Mode = RecipientsMany
		d.Selected = map[int]bool{}
		h.edit(ctx, in, "Отметьте волонтёров и нажмите «Готово»:", RecipientToggleKeyboard(d.Roster, d.Selected))
		return StepTaskPickMany, nil
	}
	h.reply(ctx, in, "Выберите получателей кнопкой выше.", nil)
	return StepTaskRecipients, nil
}

func (h *UpdateHandler) onTaskPickOne(ctx context.Context, in *Input, s *Session) (Step, error) {
	if s.Task == nil || len(s.Task.Roster) == 0 {
		return StepIdle, errSessionExpired
	}
	if foreignCallback(in, cbRecipientPickPrefix) {
		return StepIdle, errPass
	}
	i, ok := callbackArg(in.Callback, cbRecipientPickPrefix)
	if !ok || i < 0 || i >= len(s.Task.Roster) {
		h.reply(ctx, in, "Выберите волонтёра из списка.", nil)
		return StepTaskPickOne, nil
	}
	s.Task.Selected = map[int]bool{i: true}
	return h.askTaskText(ctx, in)
}

func (h *UpdateHandler) onTaskPickMany(ctx context.Context, in *Input, s *Session) (Step, error) {
	if s.Task == nil || len(s.Task.Roster) == 0 {
		return StepIdle, errSessionExpired
	}
	if foreignCallback(in, cbRecipientTogglePrefix, cbRecipientsDone) {
		return StepIdle, errPass
	}
	d := s.Task
	if d.Selected == nil {
		d.Selected = map[int]bool{}
	}

	if in.Callback == cbRecipientsDone {
		if len(d.Recipients()) == 0 {
			h.reply(ctx, in, "Выберите хотя бы одного волонтёра.", nil)
			return StepTaskPickMany, nil
		}
		return h.askTaskText(ctx, in)
	}

	i, ok := callbackArg(in.Callback, cbRecipientTogglePrefix)
	if !ok || i < 0 || i >= len(d.Roster) {
		h.reply(ctx, in, "Отметьте волонтёров кнопками выше.", nil)
		return StepTaskPickMany, nil
	}
	if d.Selected[i] {
		delete(d.Selected, i)
	} else {
		d.Selected[i] = true
	}
	h.edit(ctx, in, "Отметьте волонтёров и нажмите «Готово»:", RecipientToggleKeyboard(d.Roster, d.Selected))
	return StepTaskPickMany, nil
}

func (h *UpdateHandler) askTaskText(ctx context.Context, in *Input) (Step, error) {
	h.edit(ctx, in, "✏️ Введите текст задания:", inline(cancelTaskRow()))
	return StepTaskText, nil
}

func (h *UpdateHandler) onTaskText(ctx context.Context, in *Input, s *Session) (Step, error) {
	if s.Task == nil || len(s.Task.Recipients()) == 0 {
		return StepIdle, errSessionExpired
	}
	if in.Callback != "" {
		return StepIdle, errPass
	}
	if strings.TrimSpace(in.Text) == "" {
		h.reply(ctx, in, "Текст задания не может быть пустым. Введите текст:", inline(cancelTaskRow()))
		return StepTaskText, nil
	}
	s.Task.Text = in.Text
	h.reply(ctx, in, "📅 Выберите год дедлайна:", YearKeyboard(h.clock()))
	return StepTaskYear, nil
}

func (h *UpdateHandler) onTaskYear(ctx context.Context, in *Input, s *Session) (Step, error) {
	if s.Task == nil || s.Task.Text == "" {
		return StepIdle, errSessionExpired
	}
	if foreignCallback(in, cbYearPrefix) {
		return StepIdle, errPass
	}
	now := h.clock()
	year, ok := callbackArg(in.Callback, cbYearPrefix)
	if !ok || year < now.Year() || year > now.Year()+5 {
		h.reply(ctx, in, "Выберите год кнопкой:", YearKeyboard(now))
		return StepTaskYear, nil
	}
	s.Task.Year = year
	h.edit(ctx, in, "📅 Выберите месяц:", MonthKeyboard(year, now))
	return StepTaskMonth, nil
}

func (h *UpdateHandler) onTaskMonth(ctx context.Context, in *Input, s *Session) (Step, error) {
	if s.Task == nil || s.Task.Year == 0 {
		return StepIdle, errSessionExpired
	}
	if foreignCallback(in, cbMonthPrefix) {
		return StepIdle, errPass
	}
	now := h.clock()
	month, ok := callbackArg(in.Callback, cbMonthPrefix)
	if !ok || month < 1 || month > 12 || (s.Task.Year == now.Year() && month < int(now.Month())) {
		h.reply(ctx, in, "Выберите месяц кнопкой:", MonthKeyboard(s.Task.Year, now))
		return StepTaskMonth, nil
	}
	s.Task.Month = month
	h.edit(ctx, in, fmt.Sprintf("📅 %s %d. Выберите день:", monthNames[month-1], s.Task.Year),
		DayKeyboard(s.Task.Year, month, now))
	return StepTaskDay, nil
}

func (h *UpdateHandler) onTaskDay(ctx context.Context, in *Input, s *Session) (Step, error) {
	if s.Task == nil || s.Task.Month == 0 {
		return StepIdle, errSessionExpired
	}
	if foreignCallback(in, cbDayPrefix) {
		return StepIdle, errPass
	}
	now := h.clock()
	day, ok := callbackArg(in.Callback, cbDayPrefix)
	if !ok || !dateAllowed(s.Task.Year, s.Task.Month, day, now) {
		h.reply(ctx, in, "Выберите день кнопкой:", DayKeyboard(s.Task.Year, s.Task.Month, now))
		return StepTaskDay, nil
	}
	s.Task.Day = day
	h.edit(ctx, in, "🕘 Выберите время начала:", HourKeyboard())
	return StepTaskStartHour, nil
}

func (h *UpdateHandler) onTaskStartHour(ctx context.Context, in *Input, s *Session) (Step, error) {
	if s.Task == nil || s.Task.Day == 0 {
		return StepIdle, errSessionExpired
	}
	if foreignCallback(in, cbHourPrefix) {
		return StepIdle, errPass
	}
	hour, ok := callbackArg(in.Callback, cbHourPrefix)
	if !ok || hour < 0 || hour > 23 {
		h.reply(ctx, in, "Выберите время начала кнопкой:", HourKeyboard())
		return StepTaskStartHour, nil
	}
	s.Task.StartHour = hour
	h.edit(ctx, in, fmt.Sprintf("🕘 Начало в %s. Выберите время окончания:", services.FormatHour(hour)), HourKeyboard())
	return StepTaskEndHour, nil
}

func (h *UpdateHandler) onTaskEndHour(ctx context.Context, in *Input, s *Session) (Step, error) {
	if s.Task == nil || s.Task.Day == 0 {
		return StepIdle, errSessionExpired
	}
	if foreignCallback(in, cbHourPrefix) {
		return StepIdle, errPass
	}
	hour, ok := callbackArg(in.Callback, cbHourPrefix)
	if !ok || hour < 0 || hour > 23 {
		h.reply(ctx, in, "Выберите время окончания кнопкой:", HourKeyboard())
		return StepTaskEndHour, nil
	}
	if hour <= s.Task.StartHour {
		h.reply(ctx, in, fmt.Sprintf("Время окончания должно быть позже %s. Выберите ещё раз:",
			services.FormatHour(s.Task.StartHour)), HourKeyboard())
		return StepTaskEndHour, nil
	}
	s.Task.EndHour = hour
	h.edit(ctx, in, "🖼 Прикрепите фото к заданию или отправьте /skip.", inline(cancelTaskRow()))
	return StepTaskPhoto, nil
}

func (h *UpdateHandler) onTaskPhoto(ctx context.Context, in *Input, s *Session) (Step, error) {
	if s.Task == nil || s.Task.EndHour == 0 {
		return StepIdle, errSessionExpired
	}
	if in.Callback != "" {
		return StepIdle, errPass
	}
	if in.Command == "skip" {
		return h.askTaskConfirm(ctx, in, s.Task)
	}
	if in.Photo == nil {
		h.reply(ctx, in, "Отправьте фото или /skip, чтобы продолжить без него.", inline(cancelTaskRow()))
		return StepTaskPhoto, nil
	}

	data, err := h.download(ctx, in.log, in.Photo.FileID)
	if errors.Is(err, services.ErrEmptyPayload) {
		h.reply(ctx, in, "Файл пустой. Отправьте другое фото или /skip.", inline(cancelTaskRow()))
		return StepTaskPhoto, nil
	}
	if err != nil {
		in.log.Warn("task photo download failed", zap.Error(err))
		h.reply(ctx, in, "Не удалось загрузить фото. Попробуйте ещё раз или /skip.", inline(cancelTaskRow()))
		return StepTaskPhoto, nil
	}
	path, err := h.store.Save(ctx, media.CategoryTasks, in.UserID, in.Photo.FileID, h.clock(), data)
	if err != nil {
		return StepIdle, fmt.Errorf("save task photo: %w", err)
	}
	if s.Task.ImagePath != "" {
		if err := h.store.Remove(s.Task.ImagePath); err != nil {
			in.log.Warn("remove replaced task photo failed", zap.Error(err))
		}
	}
	s.Task.ImagePath = path
	s.Task.ImageFileID = in.Photo.FileID
	return h.askTaskConfirm(ctx, in, s.Task)
}

func (h *UpdateHandler) askTaskConfirm(ctx context.Context, in *Input, d *TaskDraft) (Step, error) {
	var names []string
	for _, r := range d.Recipients() {
		names = append(names, esc(r.Name))
	}
	photo := "нет"
	if d.ImageFileID != "" {
		photo = "есть"
	}
	h.reply(ctx, in, fmt.Sprintf(
		"<b>Проверьте задание</b>\n\nПроект: %s\nПолучатели: %s\nСрок: %s, %s-%s\nФото: %s\n\n%s",
		esc(d.ProjectTitle), strings.Join(names, ", "),
		d.deadline().Format("02.01.2006"), services.FormatHour(d.StartHour), services.FormatHour(d.EndHour),
		photo, esc(d.Text),
	), ConfirmTaskKeyboard())
	return StepTaskConfirm, nil
}

func (d *TaskDraft) deadline() time.Time {
	return time.Date(d.Year, time.Month(d.Month), d.Day, 0, 0, 0, 0, time.UTC)
}

func (h *UpdateHandler) onTaskConfirm(ctx context.Context, in *Input, s *Session) (Step, error) {
	if s.Task == nil || s.Task.EndHour == 0 {
		return StepIdle, errSessionExpired
	}
	if in.Callback != cbTaskConfirm {
		if in.Callback != "" {
			return StepIdle, errPass
		}
		h.reply(ctx, in, "Нажмите «Отправить» или «Отмена».", ConfirmTaskKeyboard())
		return StepTaskConfirm, nil
	}

	user, ok, err := h.currentUser(ctx, in)
	if err != nil || !ok {
		return StepIdle, err
	}
	d := s.Task
	recipients := d.Recipients()
	var ids []uint
	for _, r := range recipients {
		if r.HasChat {
			ids = append(ids, r.UserID)
		}
	}
	if len(ids) == 0 {
		h.edit(ctx, in, "Никто из выбранных волонтёров не доступен в Telegram. Задание не создано.", nil)
		return StepIdle, nil
	}

	task, err := h.tasks.Create(ctx, services.CreateTaskInput{
		ProjectID:    d.ProjectID,
		CreatorID:    user.ID,
		Text:         d.Text,
		ImagePath:    d.ImagePath,
		ImageFileID:  d.ImageFileID,
		Deadline:     d.deadline(),
		StartHour:    d.StartHour,
		EndHour:      d.EndHour,
		VolunteerIDs: ids,
	})
	if errors.Is(err, services.ErrNotFound) || errors.Is(err, services.ErrForbidden) || errors.Is(err, services.ErrInvalidInput) {
		in.log.Info("task rejected", zap.Error(err))
		h.edit(ctx, in, "Не удалось создать задание: проект или получатели больше недоступны.", nil)
		return StepIdle, nil
	}
	if err != nil {
		return StepIdle, err
	}

	results := h.dispatchTask(ctx, in.log, task, recipients)
	sent := 0
	var failed []string
	for _, r := range results {
		if r.Err == nil {
			sent++
		} else {
			failed = append(failed, esc(r.Recipient.Name))
		}
	}
	summary := fmt.Sprintf("✅ Задание отправлено %d волонтёрам из %d!", sent, len(results))
	if len(failed) > 0 {
		summary += "\nНе доставлено: " + strings.Join(failed, ", ")
	}
	h.edit(ctx, in, summary, nil)
	return StepIdle, nil
}

var errNoChat = errors.New("recipient has no telegram chat")

// dispatchTask sends the task prompt to every recipient concurrently. One
// failed delivery does not stop the others.
func (h *UpdateHandler) dispatchTask(ctx context.Context, log *zap.Logger, task *models.Task, recipients []RosterEntry) []DispatchResult {
	results := make([]DispatchResult, len(recipients))
	text := taskMessage(task)

	var g errgroup.Group
	g.SetLimit(h.opts.SendConcurrency)
	for i, r := range recipients {
		i, r := i, r
		results[i].Recipient = r
		if !r.HasChat {
			results[i].Err = errNoChat
			continue
		}
		g.Go(func() error {
			if task.ImageFileID != "" {
				if _, err := h.client.SendPhoto(ctx, r.ChatID, InputFile{FileID: task.ImageFileID}, "", nil); err != nil {
					log.Warn("send task photo failed", zap.Uint("volunteer_id", r.UserID), zap.Error(err))
				}
			}
			id, err := h.client.SendMessage(ctx, r.ChatID, text, TaskResponseKeyboard(task.ID))
			results[i].MessageID = id
			results[i].Err = err
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		if r.Err != nil {
			log.Warn("task delivery failed",
				zap.Uint("task_id", task.ID), zap.Uint("volunteer_id", r.Recipient.UserID), zap.Error(r.Err))
		}
	}
	return results
}

func taskMessage(task *models.Task) string {
	return fmt.Sprintf("📌 <b>Новое задание</b> в проекте «%s»\n\n%s\n\n📅 Срок: %s, %s-%s",
		esc(task.Project.Title), esc(task.Text),
		task.DeadlineDate.Format("02.01.2006"), task.StartTime, task.EndTime)
}
