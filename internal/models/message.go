package models

import (
	"time"

	"github.com/google/uuid"
)

// SenderType classifies who produced a Message.
type SenderType string

const (
	SenderUser        SenderType = "user"
	SenderPatient     SenderType = "patient"
	SenderTranslation SenderType = "translation"
)

// Message is an append-only record of an utterance or its translation.
type Message struct {
	BaseModel
	ConversationID uuid.UUID  `gorm:"type:uuid;not null;index" json:"conversation_id"`
	SenderType     SenderType `gorm:"not null" json:"sender_type"`
	Language       string     `gorm:"not null" json:"language"`
	OriginalText   string     `gorm:"type:text;not null" json:"original_text"`
	TranslatedText string     `gorm:"type:text" json:"translated_text,omitempty"`

	// OriginalMessageID is set only when SenderType == translation; it
	// points at the Message this one was derived from.
	OriginalMessageID *uuid.UUID `gorm:"type:uuid;index" json:"original_message_id,omitempty"`

	Timestamp time.Time `gorm:"not null" json:"timestamp"`
}
