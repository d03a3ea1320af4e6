// Package jobs runs scheduled background work.
package jobs

import (
	"context"
	"fmt"
	"html"
	"time"

	"github.com/CleanUpAlmaty/CleanUpAlmatyBot/internal/models"
	"github.com/CleanUpAlmaty/CleanUpAlmatyBot/internal/services"

	"go.uber.org/zap"
)

const runTimeout = 5 * time.Minute

type DueLister interface {
	DueOn(ctx context.Context, date time.Time) ([]models.TaskAssignment, error)
}

type Sender interface {
	SendMessage(ctx context.Context, chatID int64, text string, markup interface{}) (int64, error)
}

// Reminders tells volunteers about accepted assignments due today.
type Reminders struct {
	tasks  DueLister
	sender Sender
	clock  services.Clock
	logger *zap.Logger
}

func NewReminders(tasks DueLister, sender Sender, clock services.Clock, logger *zap.Logger) *Reminders {
	return &Reminders{tasks: tasks, sender: sender, clock: clock, logger: logger}
}

// Run sends one reminder per due assignment and returns how many went out.
// A failed send is logged and does not stop the rest.
func (r *Reminders) Run(ctx context.Context) (int, error) {
	today := r.clock()
	due, err := r.tasks.DueOn(ctx, today)
	if err != nil {
		return 0, fmt.Errorf("list due assignments: %w", err)
	}

	sent := 0
	for i := range due {
		a := &due[i]
		chatID, ok := a.Volunteer.ChatID()
		if !ok {
			continue
		}
		if _, err := r.sender.SendMessage(ctx, chatID, reminderText(a), nil); err != nil {
			r.logger.Warn("reminder not delivered",
				zap.Uint("task_id", a.TaskID), zap.Uint("volunteer_id", a.VolunteerID), zap.Error(err))
			continue
		}
		sent++
	}
	r.logger.Info("deadline reminders sent", zap.Int("due", len(due)), zap.Int("sent", sent))
	return sent, nil
}

func reminderText(a *models.TaskAssignment) string {
	text := fmt.Sprintf("⏰ <b>Напоминание</b>\n\nСегодня последний день задания «%s»", html.EscapeString(a.Task.Text))
	if a.Task.Project.Title != "" {
		text += fmt.Sprintf(" по проекту «%s»", html.EscapeString(a.Task.Project.Title))
	}
	text += fmt.Sprintf(".\nВремя: %s–%s.\n\nПосле выполнения откройте «Мои задания» в меню (/start) и отправьте фото.",
		a.Task.StartTime, a.Task.EndTime)
	return text
}

func (r *Reminders) runScheduled() {
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()
	if _, err := r.Run(ctx); err != nil {
		r.logger.Error("deadline reminders failed", zap.Error(err))
	}
}
