package models

import "time"

type Task struct {
	ID        uint    `gorm:"primaryKey" json:"id"`
	ProjectID uint    `gorm:"not null;index" json:"project_id"`
	Project   Project `gorm:"foreignKey:ProjectID;constraint:OnDelete:CASCADE" json:"project,omitempty"`
	CreatorID uint    `gorm:"not null;index" json:"creator_id"`
	Creator   User    `gorm:"foreignKey:CreatorID;constraint:OnDelete:CASCADE" json:"-"`
	Text      string  `gorm:"type:text;not null" json:"text"`
	ImagePath string  `gorm:"size:500" json:"image_path,omitempty"`
	// ImageFileID is the messenger-side id of the attached image, reused when
	// the task is forwarded to volunteers.
	ImageFileID  string           `gorm:"size:255" json:"-"`
	DeadlineDate time.Time        `gorm:"type:date;not null;index" json:"deadline_date"`
	StartTime    string           `gorm:"size:5;not null" json:"start_time"`
	EndTime      string           `gorm:"size:5;not null" json:"end_time"`
	Status       string           `gorm:"size:20;not null;default:'open'" json:"status"`
	Assignments  []TaskAssignment `gorm:"foreignKey:TaskID" json:"assignments,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
}

const (
	TaskStatusOpen       = "open"
	TaskStatusInProgress = "in_progress"
	TaskStatusCompleted  = "completed"
)

type TaskAssignment struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	TaskID      uint       `gorm:"not null;uniqueIndex:idx_task_volunteer" json:"task_id"`
	Task        Task       `gorm:"foreignKey:TaskID;constraint:OnDelete:CASCADE" json:"task,omitempty"`
	VolunteerID uint       `gorm:"not null;uniqueIndex:idx_task_volunteer;index" json:"volunteer_id"`
	Volunteer   User       `gorm:"foreignKey:VolunteerID;constraint:OnDelete:CASCADE" json:"volunteer,omitempty"`
	Status      string     `gorm:"size:20;not null;default:'assigned';index" json:"status"`
	Accepted    bool       `gorm:"not null;default:false" json:"accepted"`
	Completed   bool       `gorm:"not null;default:false" json:"completed"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Rating      int        `gorm:"not null;default:0" json:"rating"`
	Feedback    string     `gorm:"type:text" json:"feedback,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

const (
	AssignmentAssigned     = "assigned"
	AssignmentAccepted     = "accepted"
	AssignmentDeclined     = "declined"
	AssignmentPhotoPending = "photo_pending"
	AssignmentApproved     = "approved"
	AssignmentRejected     = "rejected"
)
