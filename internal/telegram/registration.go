package telegram

import (
	"context"
	"errors"
	"fmt"

	"github.com/CleanUpAlmaty/CleanUpAlmatyBot/internal/services"
)

func (h *UpdateHandler) onRegName(ctx context.Context, in *Input, s *Session) (Step, error) {
	if in.Text == "" {
		h.reply(ctx, in, "Пожалуйста, введите ваше имя.", nil)
		return StepRegName, nil
	}
	s.Name = in.Text
	h.reply(ctx, in, fmt.Sprintf("Приятно познакомиться, %s! Поделитесь номером телефона:", esc(s.Name)), ContactKeyboard())
	return StepRegPhone, nil
}

func (h *UpdateHandler) onRegPhone(ctx context.Context, in *Input, s *Session) (Step, error) {
	if s.Name == "" {
		return StepIdle, errSessionExpired
	}
	if in.Contact == nil {
		h.reply(ctx, in, "Нажмите кнопку «📱 Отправить номер», чтобы поделиться контактом.", ContactKeyboard())
		return StepRegPhone, nil
	}
	if in.Contact.UserID != 0 && in.Contact.UserID != in.UserID {
		h.reply(ctx, in, "Пожалуйста, отправьте свой собственный контакт.", ContactKeyboard())
		return StepRegPhone, nil
	}
	phone, err := services.NormalizePhone(in.Contact.PhoneNumber)
	if err != nil {
		h.reply(ctx, in, "Не удалось распознать номер телефона. Попробуйте ещё раз.", ContactKeyboard())
		return StepRegPhone, nil
	}
	s.Phone = phone

	h.reply(ctx, in, "Спасибо! Номер сохранён.", ReplyKeyboardRemove{RemoveKeyboard: true})
	h.reply(ctx, in, "Кем вы хотите быть?", RoleKeyboard())
	return StepRegRole, nil
}

func (h *UpdateHandler) onRegRole(ctx context.Context, in *Input, s *Session) (Step, error) {
	if s.Name == "" || s.Phone == "" {
		return StepIdle, errSessionExpired
	}
	switch in.Callback {
	case cbRoleVolunteer:
		return h.register(ctx, in, s, "")
	case cbRoleOrganizer:
		h.edit(ctx, in, "Введите название вашей организации:", nil)
		return StepRegOrg, nil
	}
	h.reply(ctx, in, "Выберите роль с помощью кнопок:", RoleKeyboard())
	return StepRegRole, nil
}

func (h *UpdateHandler) onRegOrg(ctx context.Context, in *Input, s *Session) (Step, error) {
	if s.Name == "" || s.Phone == "" {
		return StepIdle, errSessionExpired
	}
	if in.Text == "" {
		h.reply(ctx, in, "Название организации не может быть пустым. Введите его ещё раз:", nil)
		return StepRegOrg, nil
	}
	return h.register(ctx, in, s, in.Text)
}

func (h *UpdateHandler) register(ctx context.Context, in *Input, s *Session, org string) (Step, error) {
	user, err := h.users.Register(ctx, services.RegisterInput{
		TelegramID:       in.UserID,
		Name:             s.Name,
		Phone:            s.Phone,
		OrganizationName: org,
	})
	switch {
	case errors.Is(err, services.ErrConflict):
		h.reply(ctx, in, "Этот номер телефона или аккаунт уже зарегистрирован. Отправьте /start.", nil)
		return StepIdle, nil
	case errors.Is(err, services.ErrInvalidPhone):
		h.reply(ctx, in, "Номер телефона некорректен. Начните заново: /start", nil)
		return StepIdle, nil
	case err != nil:
		return StepIdle, err
	}

	if org != "" {
		h.reply(ctx, in, "✅ Регистрация завершена! Заявка на статус организатора отправлена администратору. "+
			"Мы сообщим вам о решении.", nil)
		return StepIdle, nil
	}
	h.reply(ctx, in, "✅ Регистрация завершена!", nil)
	h.sendMenu(ctx, in, user)
	return StepIdle, nil
}
