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

func (h *UpdateHandler) startModeration(ctx context.Context, in *Input, s *Session) (Step, error) {
	user, ok := h.requireOrganizer(ctx, in)
	if !ok {
		return StepIdle, nil
	}
	s.Page = 0
	return h.showModerationPage(ctx, in, s, user)
}

// showModerationPage presents the first pending photo of the current page.
// A page that emptied out falls back to the last non-empty one.
func (h *UpdateHandler) showModerationPage(ctx context.Context, in *Input, s *Session, user *models.User) (Step, error) {
	photos, page, err := h.photos.PendingForOrganizer(ctx, user.ID, s.Page, h.opts.PhotosPerPage)
	if err != nil {
		return StepIdle, err
	}
	if page.Total == 0 {
		h.reply(ctx, in, "🎉 Нет фото, ожидающих проверки.", nil)
		return StepIdle, nil
	}
	if len(photos) == 0 {
		s.Page = page.Pages() - 1
		return h.showModerationPage(ctx, in, s, user)
	}

	photo := photos[0]
	s.PhotoID = photo.ID

	var b strings.Builder
	fmt.Fprintf(&b, "📸 Фото #%d (стр. %d из %d)\n", photo.ID, page.Page+1, page.Pages())
	fmt.Fprintf(&b, "Волонтёр: %s\nПроект: %s\n", esc(photo.Volunteer.Name), esc(photo.Project.Title))
	if photo.Task != nil {
		fmt.Fprintf(&b, "Задание: %s\n", esc(truncate(photo.Task.Text, 200)))
	}
	fmt.Fprintf(&b, "Загружено: %s", photo.UploadedAt.Format("02.01.2006 15:04"))

	kb := ModerationKeyboard(photo.ID, page.Page, page.HasPrev(), page.HasNext())
	file := InputFile{FileID: photo.FileID}
	if file.FileID == "" {
		data, err := h.store.Read(photo.FilePath)
		if err != nil {
			return StepIdle, fmt.Errorf("read photo %d: %w", photo.ID, err)
		}
		file = InputFile{Name: "photo.jpg", Data: data}
	}
	if _, err := h.client.SendPhoto(ctx, in.ChatID, file, b.String(), kb); err != nil {
		in.log.Warn("send moderation photo failed", zap.Uint("photo_id", photo.ID), zap.Error(err))
		h.reply(ctx, in, b.String(), kb)
	}
	return StepModBrowse, nil
}

func (h *UpdateHandler) onModBrowse(ctx context.Context, in *Input, s *Session) (Step, error) {
	if foreignCallback(in, "mod:") {
		return StepIdle, errPass
	}
	if in.Callback == "" {
		h.reply(ctx, in, "Используйте кнопки под фото или /cancel.", nil)
		return StepModBrowse, nil
	}
	user, ok := h.requireOrganizer(ctx, in)
	if !ok {
		return StepIdle, nil
	}

	if in.Callback == cbModCancel {
		h.reply(ctx, in, "Проверка завершена.", nil)
		return StepIdle, nil
	}
	if page, ok := callbackArg(in.Callback, cbModPagePrefix); ok {
		s.Page = page
		return h.showModerationPage(ctx, in, s, user)
	}

	approve := strings.HasPrefix(in.Callback, cbModApprovePrefix)
	prefix := cbModRejectPrefix
	if approve {
		prefix = cbModApprovePrefix
	}
	photoID, ok := callbackID(in.Callback, prefix)
	if !ok {
		h.reply(ctx, in, msgStaleButton, nil)
		return StepModBrowse, nil
	}
	photo, err := h.photos.Get(ctx, photoID)
	if errors.Is(err, services.ErrNotFound) || (err == nil && photo.Project.CreatorID != user.ID) {
		h.reply(ctx, in, "Фото не найдено.", nil)
		return h.showModerationPage(ctx, in, s, user)
	}
	if err != nil {
		return StepIdle, err
	}

	if approve {
		_, err = h.photos.Approve(ctx, photoID)
	} else {
		_, err = h.photos.Reject(ctx, photoID, "")
	}
	if errors.Is(err, services.ErrConflict) {
		h.reply(ctx, in, "Это фото уже проверено.", nil)
		return h.showModerationPage(ctx, in, s, user)
	}
	if err != nil {
		return StepIdle, err
	}

	in.log.Info("photo moderated", zap.Uint("photo_id", photoID), zap.Bool("approved", approve))
	if !approve {
		h.reply(ctx, in, "❌ Фото отклонено. Волонтёр получит уведомление.", nil)
		return h.showModerationPage(ctx, in, s, user)
	}
	s.PhotoID = photoID
	h.reply(ctx, in, "✅ Фото одобрено! Оцените работу от 1 до 5:", RatingKeyboard())
	return StepModRate, nil
}

func (h *UpdateHandler) onModRate(ctx context.Context, in *Input, s *Session) (Step, error) {
	if s.PhotoID == 0 {
		return StepIdle, errSessionExpired
	}
	if foreignCallback(in, cbRatePrefix) {
		return StepIdle, errPass
	}

	var rating *int
	switch {
	case in.Callback == cbRateSkip, in.Command == "skip":
	default:
		n, ok := callbackArg(in.Callback, cbRatePrefix)
		if !ok {
			h.reply(ctx, in, "Выберите оценку кнопкой или пропустите:", RatingKeyboard())
			return StepModRate, nil
		}
		rating = &n
	}

	_, err := h.photos.Rate(ctx, s.PhotoID, rating)
	switch {
	case errors.Is(err, services.ErrInvalidRating):
		h.reply(ctx, in, "Оценка должна быть от 1 до 5:", RatingKeyboard())
		return StepModRate, nil
	case errors.Is(err, services.ErrConflict), errors.Is(err, services.ErrNotFound):
		h.reply(ctx, in, "Оценку для этого фото уже нельзя изменить.", nil)
	case err != nil:
		return StepIdle, err
	case rating != nil:
		h.edit(ctx, in, fmt.Sprintf("⭐ Оценка %d сохранена.", *rating), nil)
	default:
		h.edit(ctx, in, "Оценка пропущена.", nil)
	}

	user, ok := h.requireOrganizer(ctx, in)
	if !ok {
		return StepIdle, nil
	}
	s.PhotoID = 0
	return h.showModerationPage(ctx, in, s, user)
}

// settleRating closes an approval whose rating prompt the organizer left
// for another command or button. The photo stays unrated and the volunteer
// gets the approval notice.
func (h *UpdateHandler) settleRating(ctx context.Context, in *Input, s *Session) {
	if s.Step != StepModRate || s.PhotoID == 0 {
		return
	}
	photoID := s.PhotoID
	s.PhotoID = 0
	_, err := h.photos.Rate(ctx, photoID, nil)
	if err != nil && !errors.Is(err, services.ErrConflict) && !errors.Is(err, services.ErrNotFound) {
		in.log.Warn("settle unrated photo failed", zap.Uint("photo_id", photoID), zap.Error(err))
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
