package models

import "github.com/google/uuid"

// Summary is 1:1 with a Conversation, produced on request_summary or at
// session end.
type Summary struct {
	BaseModel
	ConversationID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex" json:"conversation_id"`
	Content        string    `gorm:"type:text;not null" json:"content"`
}

// MedicalHistory is 1:1 with a Conversation, produced at session start and
// on request_medical_history by having the model condense the patient's
// prior conversations (their earlier histories and patient utterances).
type MedicalHistory struct {
	BaseModel
	ConversationID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex" json:"conversation_id"`
	Content        string    `gorm:"type:text;not null" json:"content"`
}
