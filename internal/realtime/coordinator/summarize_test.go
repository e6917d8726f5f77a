package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/yourusername/medinterp/internal/config"
	"github.com/yourusername/medinterp/internal/models"
	"github.com/yourusername/medinterp/internal/realtime/hub"
	"github.com/yourusername/medinterp/internal/repository"
)

func setupCoordinatorTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.User{}, &models.Patient{}, &models.Conversation{}, &models.Message{},
		&models.Note{}, &models.FollowUp{}, &models.Prescription{},
		&models.Summary{}, &models.MedicalHistory{},
	))
	return db
}

func newTestCoordinator(t *testing.T) (*Coordinator, *repository.Repositories) {
	db := setupCoordinatorTestDB(t)
	repos := repository.NewRepositories(db)
	c := New(&config.Config{}, repos, hub.New(), nil, nil, nil)
	return c, repos
}

func TestFormatTranscriptPrefixesSenderAndLanguage(t *testing.T) {
	now := time.Now()
	originalID := uuid.New()
	messages := []models.Message{
		{BaseModel: models.BaseModel{ID: originalID}, SenderType: models.SenderPatient, Language: "es", OriginalText: "Me duele la cabeza", Timestamp: now},
		{SenderType: models.SenderTranslation, Language: "en", OriginalText: "My head hurts", OriginalMessageID: &originalID, Timestamp: now.Add(time.Second)},
	}

	out := formatTranscript(messages)
	require.Contains(t, out, "patient (es): Me duele la cabeza")
	require.Contains(t, out, "translation (en, translated): My head hurts")
}

func TestFormatActionsBlockEmptyWhenNoActions(t *testing.T) {
	require.Equal(t, "", formatActionsBlock(nil, nil, nil))
}

func TestFormatActionsBlockListsEachKind(t *testing.T) {
	notes := []models.Note{{Text: "patient reports headache"}}
	prescriptions := []models.Prescription{{Medication: "Ibuprofen", Dosage: "200mg", Frequency: "daily"}}
	followUps := []models.FollowUp{{Reason: "recheck BP", DueDate: "2026-08-01"}}

	out := formatActionsBlock(notes, prescriptions, followUps)
	require.Contains(t, out, "--- Recorded Actions ---")
	require.Contains(t, out, "Note: patient reports headache")
	require.Contains(t, out, "Prescription: Ibuprofen 200mg daily")
	require.Contains(t, out, "Follow-up due 2026-08-01: recheck BP")
}

// TestEndAndSummarizeEmptyConversationSkipsSummary exercises the
// empty-conversation boundary: no messages and no actions ends the
// conversation without ever calling the LLM or creating a Summary record.
func TestEndAndSummarizeEmptyConversationSkipsSummary(t *testing.T) {
	c, repos := newTestCoordinator(t)

	user := &models.User{Email: "dr@example.com", PasswordHash: "x", Name: "Dr. Test"}
	require.NoError(t, repos.User.Create(user))
	patient := &models.Patient{FirstName: "Jane", LastName: "Doe", DateOfBirth: time.Now().AddDate(-40, 0, 0)}
	require.NoError(t, repos.Patient.Create(patient))
	conversation := &models.Conversation{UserID: user.ID, PatientID: patient.ID, Status: models.ConversationActive, PatientLanguage: "es", StartTime: time.Now()}
	require.NoError(t, repos.Conversation.Create(conversation))

	result, err := c.EndAndSummarize(context.Background(), conversation.ID)
	require.NoError(t, err)
	require.Equal(t, models.ConversationEnded, result.Status)
	require.Nil(t, result.Summary)

	_, err = repos.Summary.GetByConversationID(conversation.ID)
	require.Error(t, err, "no Summary record should be created for an empty conversation")

	updated, err := repos.Conversation.GetByID(conversation.ID)
	require.NoError(t, err)
	require.Equal(t, models.ConversationEnded, updated.Status)
	require.NotNil(t, updated.EndTime)
}

func TestEndAndSummarizeMissingConversationReturnsNotFound(t *testing.T) {
	c, _ := newTestCoordinator(t)
	_, err := c.EndAndSummarize(context.Background(), uuid.New())
	require.ErrorIs(t, err, ErrNotFound)
}
