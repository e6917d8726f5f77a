package models

import "time"

// Patient is found-or-created at session start from clinician-supplied
// identifying details.
type Patient struct {
	BaseModel
	FirstName   string    `gorm:"not null" json:"first_name"`
	LastName    string    `gorm:"not null" json:"last_name"`
	DateOfBirth time.Time `gorm:"not null" json:"date_of_birth"`
}
