package models

import "time"

type User struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	TelegramID       *int64    `gorm:"uniqueIndex" json:"telegram_id,omitempty"`
	Name             string    `gorm:"size:255;not null" json:"name"`
	Phone            string    `gorm:"size:16;not null;uniqueIndex" json:"phone"`
	IsOrganizer      bool      `gorm:"not null;default:false" json:"is_organizer"`
	IsStaff          bool      `gorm:"not null;default:false" json:"is_staff"`
	OrganizationName *string   `gorm:"size:255" json:"organization_name,omitempty"`
	Rating           int       `gorm:"not null;default:0" json:"rating"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// HasPendingOrganizerRequest reports whether the user asked for organizer
// rights and has not been approved yet.
func (u *User) HasPendingOrganizerRequest() bool {
	return !u.IsOrganizer && u.OrganizationName != nil && *u.OrganizationName != ""
}

func (u *User) ChatID() (int64, bool) {
	if u.TelegramID == nil {
		return 0, false
	}
	return *u.TelegramID, true
}
