package services

import (
	"context"
	"errors"

	"github.com/CleanUpAlmaty/CleanUpAlmatyBot/internal/models"
)

// Notifier receives domain events that somebody other than the acting user
// has to hear about. Implementations live next to their transport.
type Notifier interface {
	OrganizerRequested(ctx context.Context, user *models.User) error
	OrganizerStatusChanged(ctx context.Context, user *models.User, approved bool) error
	ProjectSubmitted(ctx context.Context, project *models.Project) error
	ProjectStatusChanged(ctx context.Context, project *models.Project) error
	PhotoSubmitted(ctx context.Context, photo *models.Photo) error
	PhotoModerated(ctx context.Context, photo *models.Photo) error
}

type NopNotifier struct{}

func (NopNotifier) OrganizerRequested(context.Context, *models.User) error { return nil }
func (NopNotifier) OrganizerStatusChanged(context.Context, *models.User, bool) error {
	return nil
}
func (NopNotifier) ProjectSubmitted(context.Context, *models.Project) error     { return nil }
func (NopNotifier) ProjectStatusChanged(context.Context, *models.Project) error { return nil }
func (NopNotifier) PhotoSubmitted(context.Context, *models.Photo) error         { return nil }
func (NopNotifier) PhotoModerated(context.Context, *models.Photo) error         { return nil }

// MultiNotifier fans every event out to all members and joins their errors.
type MultiNotifier []Notifier

func (m MultiNotifier) each(fn func(n Notifier) error) error {
	var errs []error
	for _, n := range m {
		if err := fn(n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiNotifier) OrganizerRequested(ctx context.Context, user *models.User) error {
	return m.each(func(n Notifier) error { return n.OrganizerRequested(ctx, user) })
}

func (m MultiNotifier) OrganizerStatusChanged(ctx context.Context, user *models.User, approved bool) error {
	return m.each(func(n Notifier) error { return n.OrganizerStatusChanged(ctx, user, approved) })
}

func (m MultiNotifier) ProjectSubmitted(ctx context.Context, project *models.Project) error {
	return m.each(func(n Notifier) error { return n.ProjectSubmitted(ctx, project) })
}

func (m MultiNotifier) ProjectStatusChanged(ctx context.Context, project *models.Project) error {
	return m.each(func(n Notifier) error { return n.ProjectStatusChanged(ctx, project) })
}

func (m MultiNotifier) PhotoSubmitted(ctx context.Context, photo *models.Photo) error {
	return m.each(func(n Notifier) error { return n.PhotoSubmitted(ctx, photo) })
}

func (m MultiNotifier) PhotoModerated(ctx context.Context, photo *models.Photo) error {
	return m.each(func(n Notifier) error { return n.PhotoModerated(ctx, photo) })
}

// ErrNoAdmin is returned by notifiers when there is no staff user to address.
// Callers treat it as a non-event.
var ErrNoAdmin = errors.New("no admin configured")
