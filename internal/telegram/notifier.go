package telegram

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/CleanUpAlmaty/CleanUpAlmatyBot/internal/models"
	"github.com/CleanUpAlmaty/CleanUpAlmatyBot/internal/services"
)

// UserDirectory resolves the people a notification is addressed to.
type UserDirectory interface {
	Admin(ctx context.Context) (*models.User, error)
	Get(ctx context.Context, id uint) (*models.User, error)
}

// FileReader loads stored media by its relative path.
type FileReader interface {
	Read(relPath string) ([]byte, error)
}

// Notifier delivers domain events as Telegram messages.
type Notifier struct {
	client Messenger
	users  UserDirectory
	files  FileReader
	logger *zap.Logger
}

var _ services.Notifier = (*Notifier)(nil)

var errNoChatID = errors.New("user has no telegram chat")

func NewNotifier(client Messenger, users UserDirectory, files FileReader, logger *zap.Logger) *Notifier {
	return &Notifier{client: client, users: users, files: files, logger: logger}
}

func (n *Notifier) send(ctx context.Context, to *models.User, text string, markup interface{}) error {
	chatID, ok := to.ChatID()
	if !ok {
		return fmt.Errorf("notify user %d: %w", to.ID, errNoChatID)
	}
	_, err := n.client.SendMessage(ctx, chatID, text, markup)
	return err
}

func (n *Notifier) admin(ctx context.Context) (*models.User, error) {
	admin, err := n.users.Admin(ctx)
	if errors.Is(err, services.ErrNotFound) {
		return nil, services.ErrNoAdmin
	}
	return admin, err
}

// resolve returns the preloaded user or loads it by id.
func (n *Notifier) resolve(ctx context.Context, preloaded *models.User, id uint) (*models.User, error) {
	if preloaded != nil && preloaded.ID == id {
		return preloaded, nil
	}
	return n.users.Get(ctx, id)
}

func (n *Notifier) OrganizerRequested(ctx context.Context, user *models.User) error {
	admin, err := n.admin(ctx)
	if err != nil {
		return err
	}
	org := ""
	if user.OrganizationName != nil {
		org = *user.OrganizationName
	}
	return n.send(ctx, admin, fmt.Sprintf(
		"🆕 <b>Заявка на статус организатора</b>\n\nИмя: %s\nТелефон: %s\nОрганизация: %s\n\nРешение принимается в панели администратора.",
		esc(user.Name), esc(user.Phone), esc(org)), nil)
}

func (n *Notifier) OrganizerStatusChanged(ctx context.Context, user *models.User, approved bool) error {
	if approved {
		return n.send(ctx, user, "🎉 Ваша заявка одобрена! Теперь вы организатор. Меню организатора: /org", OrganizerMenuKeyboard())
	}
	return n.send(ctx, user, "😔 Ваша заявка на статус организатора отклонена.", nil)
}

func (n *Notifier) ProjectSubmitted(ctx context.Context, project *models.Project) error {
	admin, err := n.admin(ctx)
	if err != nil {
		return err
	}
	creator, err := n.resolve(ctx, &project.Creator, project.CreatorID)
	if err != nil {
		return err
	}
	return n.send(ctx, admin, fmt.Sprintf(
		"🆕 <b>Новый проект на модерации</b>\n\n%s\n📍 %s\nОрганизатор: %s\n\n%s",
		esc(project.Title), esc(project.City), esc(creator.Name), esc(project.Description)), nil)
}

func (n *Notifier) ProjectStatusChanged(ctx context.Context, project *models.Project) error {
	creator, err := n.resolve(ctx, &project.Creator, project.CreatorID)
	if err != nil {
		return err
	}
	var text string
	switch project.Status {
	case models.ProjectStatusApproved:
		text = fmt.Sprintf("✅ Ваш проект «%s» одобрен и виден волонтёрам.", esc(project.Title))
	case models.ProjectStatusRejected:
		text = fmt.Sprintf("❌ Ваш проект «%s» отклонён.", esc(project.Title))
	default:
		return nil
	}
	return n.send(ctx, creator, text, nil)
}

// PhotoSubmitted shows the new proof photo to the organizer of its project.
func (n *Notifier) PhotoSubmitted(ctx context.Context, photo *models.Photo) error {
	organizer, err := n.resolve(ctx, &photo.Project.Creator, photo.Project.CreatorID)
	if err != nil {
		return err
	}
	chatID, ok := organizer.ChatID()
	if !ok {
		return fmt.Errorf("notify organizer %d: %w", organizer.ID, errNoChatID)
	}

	caption := fmt.Sprintf("📸 Новый фотоотчёт от %s\nПроект: %s", esc(photo.Volunteer.Name), esc(photo.Project.Title))
	if photo.Task != nil {
		caption += "\nЗадание: " + esc(truncate(photo.Task.Text, 200))
	}
	caption += "\n\nПроверить: /moderate_photos"

	file := InputFile{FileID: photo.FileID}
	if file.FileID == "" {
		data, err := n.files.Read(photo.FilePath)
		if err != nil {
			return fmt.Errorf("read photo %d: %w", photo.ID, err)
		}
		file = InputFile{Name: "photo.jpg", Data: data}
	}
	_, err = n.client.SendPhoto(ctx, chatID, file, caption, nil)
	return err
}

func (n *Notifier) PhotoModerated(ctx context.Context, photo *models.Photo) error {
	volunteer, err := n.resolve(ctx, &photo.Volunteer, photo.VolunteerID)
	if err != nil {
		return err
	}
	var text string
	switch photo.Status {
	case models.PhotoStatusApproved:
		text = fmt.Sprintf("✅ Ваше фото по проекту «%s» одобрено!", esc(photo.Project.Title))
		if photo.Rating != nil {
			text += fmt.Sprintf("\nОценка: %d ⭐", *photo.Rating)
			if photo.RatingGain > 0 {
				text += fmt.Sprintf(" (+%d к рейтингу)", photo.RatingGain)
			}
		}
	case models.PhotoStatusRejected:
		text = fmt.Sprintf("❌ Ваше фото по проекту «%s» отклонено.", esc(photo.Project.Title))
		if photo.Feedback != "" {
			text += "\nКомментарий: " + esc(photo.Feedback)
		}
	default:
		return nil
	}
	return n.send(ctx, volunteer, text, nil)
}
