package ws

import (
	"context"

	"github.com/CleanUpAlmaty/CleanUpAlmatyBot/internal/models"
	"github.com/CleanUpAlmaty/CleanUpAlmatyBot/internal/services"
)

const (
	EventOrganizerRequested     = "organizer_requested"
	EventOrganizerStatusChanged = "organizer_status_changed"
	EventProjectSubmitted       = "project_submitted"
	EventProjectStatusChanged   = "project_status_changed"
	EventPhotoSubmitted         = "photo_submitted"
	EventPhotoModerated         = "photo_moderated"
)

type userEvent struct {
	UserID       uint   `json:"user_id"`
	Name         string `json:"name"`
	Organization string `json:"organization,omitempty"`
	Approved     *bool  `json:"approved,omitempty"`
}

type projectEvent struct {
	ProjectID uint   `json:"project_id"`
	Title     string `json:"title"`
	City      string `json:"city"`
	Status    string `json:"status"`
}

type photoEvent struct {
	PhotoID     uint   `json:"photo_id"`
	ProjectID   uint   `json:"project_id"`
	TaskID      *uint  `json:"task_id,omitempty"`
	VolunteerID uint   `json:"volunteer_id"`
	Status      string `json:"status"`
	Rating      *int   `json:"rating,omitempty"`
	FilePath    string `json:"file_path"`
}

// EventNotifier mirrors domain notifications onto the admin feed.
type EventNotifier struct {
	hub   *Hub
	clock services.Clock
}

var _ services.Notifier = (*EventNotifier)(nil)

func NewEventNotifier(hub *Hub, clock services.Clock) *EventNotifier {
	return &EventNotifier{hub: hub, clock: clock}
}

func (n *EventNotifier) publish(typ string, data interface{}) error {
	n.hub.Broadcast(TopicAdmin, Event{Type: typ, Data: data, At: n.clock()})
	return nil
}

func newUserEvent(u *models.User) userEvent {
	ev := userEvent{UserID: u.ID, Name: u.Name}
	if u.OrganizationName != nil {
		ev.Organization = *u.OrganizationName
	}
	return ev
}

func (n *EventNotifier) OrganizerRequested(_ context.Context, user *models.User) error {
	return n.publish(EventOrganizerRequested, newUserEvent(user))
}

func (n *EventNotifier) OrganizerStatusChanged(_ context.Context, user *models.User, approved bool) error {
	ev := newUserEvent(user)
	ev.Approved = &approved
	return n.publish(EventOrganizerStatusChanged, ev)
}

func (n *EventNotifier) ProjectSubmitted(_ context.Context, p *models.Project) error {
	return n.publish(EventProjectSubmitted, projectEvent{ProjectID: p.ID, Title: p.Title, City: p.City, Status: p.Status})
}

func (n *EventNotifier) ProjectStatusChanged(_ context.Context, p *models.Project) error {
	return n.publish(EventProjectStatusChanged, projectEvent{ProjectID: p.ID, Title: p.Title, City: p.City, Status: p.Status})
}

func newPhotoEvent(p *models.Photo) photoEvent {
	return photoEvent{
		PhotoID:     p.ID,
		ProjectID:   p.ProjectID,
		TaskID:      p.TaskID,
		VolunteerID: p.VolunteerID,
		Status:      p.Status,
		Rating:      p.Rating,
		FilePath:    p.FilePath,
	}
}

func (n *EventNotifier) PhotoSubmitted(_ context.Context, photo *models.Photo) error {
	return n.publish(EventPhotoSubmitted, newPhotoEvent(photo))
}

func (n *EventNotifier) PhotoModerated(_ context.Context, photo *models.Photo) error {
	return n.publish(EventPhotoModerated, newPhotoEvent(photo))
}
