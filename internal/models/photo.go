package models

import "time"

type Photo struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	VolunteerID uint       `gorm:"not null;index" json:"volunteer_id"`
	Volunteer   User       `gorm:"foreignKey:VolunteerID;constraint:OnDelete:CASCADE" json:"volunteer,omitempty"`
	ProjectID   uint       `gorm:"not null;index" json:"project_id"`
	Project     Project    `gorm:"foreignKey:ProjectID;constraint:OnDelete:CASCADE" json:"project,omitempty"`
	TaskID      *uint      `gorm:"index" json:"task_id,omitempty"`
	Task        *Task      `gorm:"foreignKey:TaskID;constraint:OnDelete:CASCADE" json:"task,omitempty"`
	FilePath    string     `gorm:"size:500;not null" json:"file_path"`
	FileID      string     `gorm:"size:255" json:"-"`
	Status      string     `gorm:"size:20;not null;default:'pending';index" json:"status"`
	Rating      *int       `json:"rating,omitempty"`
	Feedback    string     `gorm:"type:text" json:"feedback,omitempty"`
	UploadedAt  time.Time  `gorm:"not null;index" json:"uploaded_at"`
	ModeratedAt *time.Time `json:"moderated_at,omitempty"`

	// RatingGain is what the last Rate call actually added to the
	// volunteer's rating after clamping. Not stored.
	RatingGain int `gorm:"-" json:"rating_gain,omitempty"`
}

const (
	PhotoStatusPending  = "pending"
	PhotoStatusApproved = "approved"
	PhotoStatusRejected = "rejected"
)
