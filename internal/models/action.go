package models

import "github.com/google/uuid"

// ActionStatus is shared by Note, FollowUp and Prescription.
type ActionStatus string

const (
	ActionPending   ActionStatus = "pending"
	ActionConfirmed ActionStatus = "confirmed"
	ActionCancelled ActionStatus = "cancelled"
)

// Note is a clinician annotation captured via the take_note command.
type Note struct {
	BaseModel
	ConversationID uuid.UUID    `gorm:"type:uuid;not null;index" json:"conversation_id"`
	Text           string       `gorm:"type:text;not null" json:"text"`
	Status         ActionStatus `gorm:"not null;default:confirmed" json:"status"`
}

// FollowUp is a scheduling instruction captured via schedule_follow_up.
type FollowUp struct {
	BaseModel
	ConversationID uuid.UUID    `gorm:"type:uuid;not null;index" json:"conversation_id"`
	Reason         string       `gorm:"type:text;not null" json:"reason"`
	DueDate        string       `gorm:"not null" json:"due_date"`
	Status         ActionStatus `gorm:"not null;default:pending" json:"status"`
}

// Prescription is a medication order captured via write_prescription.
type Prescription struct {
	BaseModel
	ConversationID uuid.UUID    `gorm:"type:uuid;not null;index" json:"conversation_id"`
	Medication     string       `gorm:"not null" json:"medication"`
	Dosage         string       `gorm:"not null" json:"dosage"`
	Frequency      string       `gorm:"not null" json:"frequency"`
	Status         ActionStatus `gorm:"not null;default:pending" json:"status"`
}

// ActionType discriminates the typed payload carried by an AggregatedAction.
type ActionType string

const (
	ActionTypeNote         ActionType = "note"
	ActionTypeFollowUp     ActionType = "followup"
	ActionTypePrescription ActionType = "prescription"
)

// AggregatedAction is a read-side projection unifying Note, FollowUp and
// Prescription for display; it is never persisted.
type AggregatedAction struct {
	ID             uuid.UUID    `json:"id"`
	ConversationID uuid.UUID    `json:"conversation_id"`
	Type           ActionType   `json:"type"`
	Status         ActionStatus `json:"status"`
	CreatedAt      string       `json:"created_at"`
	UpdatedAt      string       `json:"updated_at"`
	Data           any          `json:"data"`
}
