package models

import (
	"time"

	"github.com/google/uuid"
)

// ConversationStatus is the lifecycle state of a Conversation.
type ConversationStatus string

const (
	ConversationActive     ConversationStatus = "active"
	ConversationEnded      ConversationStatus = "ended"
	ConversationEndedError ConversationStatus = "ended_error"
	ConversationSummarized ConversationStatus = "summarized"
)

// IsTerminal reports whether the status is one of the terminal states:
// ended, ended_error, summarized.
func (s ConversationStatus) IsTerminal() bool {
	switch s {
	case ConversationEnded, ConversationEndedError, ConversationSummarized:
		return true
	default:
		return false
	}
}

// Conversation represents a single live or completed interpreter session.
type Conversation struct {
	BaseModel
	UserID    uuid.UUID          `gorm:"type:uuid;not null;index" json:"user_id"`
	PatientID uuid.UUID          `gorm:"type:uuid;not null;index" json:"patient_id"`
	Status    ConversationStatus `gorm:"not null;default:active;index" json:"status"`

	// PatientLanguage reflects the most recently detected non-English
	// language of a patient utterance; it never becomes "en".
	PatientLanguage string `gorm:"not null" json:"patient_language"`

	StartTime time.Time  `gorm:"not null" json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`
}
