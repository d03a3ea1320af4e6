package models

import "time"

type Project struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Title       string    `gorm:"size:255;not null" json:"title"`
	Description string    `gorm:"type:text" json:"description"`
	City        string    `gorm:"size:100;not null;index" json:"city"`
	CreatorID   uint      `gorm:"not null;index" json:"creator_id"`
	Creator     User      `gorm:"foreignKey:CreatorID;constraint:OnDelete:CASCADE" json:"creator,omitempty"`
	Status      string    `gorm:"size:20;not null;default:'pending';index" json:"status"`
	Tags        []Tag     `gorm:"many2many:project_tags;constraint:OnDelete:CASCADE" json:"tags,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

const (
	ProjectStatusPending  = "pending"
	ProjectStatusApproved = "approved"
	ProjectStatusRejected = "rejected"
)

type Tag struct {
	ID   uint   `gorm:"primaryKey" json:"id"`
	Name string `gorm:"size:50;not null;uniqueIndex" json:"name"`
}

type VolunteerProject struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	VolunteerID uint      `gorm:"not null;uniqueIndex:idx_volunteer_project" json:"volunteer_id"`
	Volunteer   User      `gorm:"foreignKey:VolunteerID;constraint:OnDelete:CASCADE" json:"volunteer,omitempty"`
	ProjectID   uint      `gorm:"not null;uniqueIndex:idx_volunteer_project;index" json:"project_id"`
	Project     Project   `gorm:"foreignKey:ProjectID;constraint:OnDelete:CASCADE" json:"project,omitempty"`
	JoinedAt    time.Time `json:"joined_at"`
	IsActive    bool      `gorm:"not null;default:true" json:"is_active"`
}
