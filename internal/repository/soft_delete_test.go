package repository

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/yourusername/medinterp/internal/models"
)

// setupTestDB creates an in-memory SQLite database for testing
func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err, "Failed to connect to test database")

	err = db.AutoMigrate(
		&models.User{},
		&models.Patient{},
		&models.Conversation{},
		&models.Message{},
		&models.Note{},
		&models.FollowUp{},
		&models.Prescription{},
		&models.Summary{},
		&models.MedicalHistory{},
	)
	require.NoError(t, err, "Failed to migrate test database")

	return db
}

func TestUserSoftDelete(t *testing.T) {
	db := setupTestDB(t)
	repo := NewUserRepository(db)

	user := &models.User{
		Email:        "clinician@example.com",
		PasswordHash: "hashedpassword",
		Name:         "Dr. Test",
		Role:         "clinician",
	}
	err := repo.Create(user)
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, user.ID)

	err = repo.Delete(user.ID)
	require.NoError(t, err)

	_, err = repo.GetByID(user.ID)
	assert.Error(t, err, "Soft-deleted user should not be retrievable")

	var deletedUser models.User
	err = db.Unscoped().First(&deletedUser, "id = ?", user.ID).Error
	require.NoError(t, err, "User should still exist in database")
	assert.True(t, deletedUser.DeletedAt.Valid, "DeletedAt should be valid")
}

func TestConversationSoftDelete(t *testing.T) {
	db := setupTestDB(t)
	conversationRepo := NewConversationRepository(db)
	userRepo := NewUserRepository(db)
	patientRepo := NewPatientRepository(db)

	user := &models.User{Email: "clinician@example.com", PasswordHash: "x", Name: "Dr. Test"}
	require.NoError(t, userRepo.Create(user))

	patient := &models.Patient{FirstName: "Jane", LastName: "Doe", DateOfBirth: time.Now().AddDate(-40, 0, 0)}
	require.NoError(t, patientRepo.Create(patient))

	conversation := &models.Conversation{
		UserID:          user.ID,
		PatientID:       patient.ID,
		Status:          models.ConversationActive,
		PatientLanguage: "es",
		StartTime:       time.Now(),
	}
	err := conversationRepo.Create(conversation)
	require.NoError(t, err)

	err = conversationRepo.Delete(conversation.ID)
	require.NoError(t, err)

	_, err = conversationRepo.GetByID(conversation.ID)
	assert.Error(t, err, "Soft-deleted conversation should not be retrievable")

	var deletedConv models.Conversation
	err = db.Unscoped().First(&deletedConv, "id = ?", conversation.ID).Error
	require.NoError(t, err, "Conversation should still exist in database")
	assert.True(t, deletedConv.DeletedAt.Valid, "DeletedAt should be valid")
}

func TestMessageAppendOnlyOrdering(t *testing.T) {
	db := setupTestDB(t)
	messageRepo := NewMessageRepository(db)
	userRepo := NewUserRepository(db)
	patientRepo := NewPatientRepository(db)
	conversationRepo := NewConversationRepository(db)

	user := &models.User{Email: "clinician2@example.com", PasswordHash: "x", Name: "Dr. Test"}
	require.NoError(t, userRepo.Create(user))
	patient := &models.Patient{FirstName: "Jane", LastName: "Doe", DateOfBirth: time.Now().AddDate(-40, 0, 0)}
	require.NoError(t, patientRepo.Create(patient))
	conversation := &models.Conversation{UserID: user.ID, PatientID: patient.ID, Status: models.ConversationActive, StartTime: time.Now()}
	require.NoError(t, conversationRepo.Create(conversation))

	first := &models.Message{ConversationID: conversation.ID, SenderType: models.SenderUser, Language: "en", OriginalText: "How are you feeling?", Timestamp: time.Now()}
	require.NoError(t, messageRepo.Create(first))

	second := &models.Message{ConversationID: conversation.ID, SenderType: models.SenderTranslation, Language: "es", OriginalText: "¿Cómo se siente?", OriginalMessageID: &first.ID, Timestamp: time.Now().Add(time.Second)}
	require.NoError(t, messageRepo.Create(second))

	messages, err := messageRepo.ListByConversationID(conversation.ID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, first.ID, messages[0].ID, "messages must be returned in chronological order")
	assert.Equal(t, models.SenderTranslation, messages[1].SenderType)
	assert.Equal(t, first.ID, *messages[1].OriginalMessageID)
}

func TestSummaryUpsert(t *testing.T) {
	db := setupTestDB(t)
	summaryRepo := NewSummaryRepository(db)
	conversationID := uuid.New()

	require.NoError(t, summaryRepo.Upsert(&models.Summary{ConversationID: conversationID, Content: "first draft"}))
	require.NoError(t, summaryRepo.Upsert(&models.Summary{ConversationID: conversationID, Content: "final draft"}))

	s, err := summaryRepo.GetByConversationID(conversationID)
	require.NoError(t, err)
	assert.Equal(t, "final draft", s.Content, "a second summary for the same conversation should replace, not duplicate")
}
