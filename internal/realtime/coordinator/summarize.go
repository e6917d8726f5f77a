package coordinator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/yourusername/medinterp/internal/logger"
	"github.com/yourusername/medinterp/internal/models"
	"github.com/yourusername/medinterp/internal/realtime/hub"
	"github.com/yourusername/medinterp/internal/repository"
)

// EndAndSummarizeResult is returned to the client issuing end_session.
type EndAndSummarizeResult struct {
	ConversationID uuid.UUID                 `json:"conversationId"`
	Status         models.ConversationStatus `json:"status"`
	Summary        *string                   `json:"summary"`
}

// EndAndSummarize implements the end-and-summarize algorithm.
func (c *Coordinator) EndAndSummarize(ctx context.Context, conversationID uuid.UUID) (*EndAndSummarizeResult, error) {
	log := logger.WithComponent("coordinator")

	conversation, err := c.repos.Conversation.GetByID(conversationID)
	if err != nil {
		return nil, ErrNotFound
	}

	// Step 1: concurrently fetch messages, notes, prescriptions, follow-ups.
	// A fetch failure degrades to an empty slice rather than aborting the
	// whole summarize, but is logged via the group's captured error.
	var (
		messages      []models.Message
		notes         []models.Note
		prescriptions []models.Prescription
		followUps     []models.FollowUp
	)
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		messages, err = c.repos.Message.ListByConversationID(conversationID)
		return err
	})
	g.Go(func() error {
		var err error
		notes, err = c.repos.Note.ListByConversationID(conversationID)
		return err
	})
	g.Go(func() error {
		var err error
		prescriptions, err = c.repos.Prescription.ListByConversationID(conversationID)
		return err
	})
	g.Go(func() error {
		var err error
		followUps, err = c.repos.FollowUp.ListByConversationID(conversationID)
		return err
	})
	if err := g.Wait(); err != nil {
		log.Warn().Err(err).Str("conversation_id", conversationID.String()).Msg("partial fetch failure while assembling end-of-conversation context")
	}

	hasActions := len(notes) > 0 || len(prescriptions) > 0 || len(followUps) > 0

	now := time.Now()

	// Step 7: nothing to summarize.
	if len(messages) == 0 && !hasActions {
		conversation.Status = models.ConversationEnded
		conversation.EndTime = &now
		if err := c.repos.Conversation.Update(conversation); err != nil {
			return nil, fmt.Errorf("update conversation: %w", err)
		}
		return &EndAndSummarizeResult{ConversationID: conversationID, Status: conversation.Status}, nil
	}

	// Step 2-3: format transcript + recorded actions.
	transcript := formatTranscript(messages)
	transcript += formatActionsBlock(notes, prescriptions, followUps)

	if loggable, err := c.pii.RedactPII(ctx, transcript, conversation.PatientLanguage); err == nil {
		log.Debug().Str("conversation_id", conversationID.String()).Str("transcript_preview", loggable).Msg("assembled transcript for summarization")
	}

	// Step 4.
	summaryText := c.llm.Summarize(ctx, transcript)

	// Step 6: LLM failure.
	if summaryText == "" {
		conversation.Status = models.ConversationEndedError
		conversation.EndTime = &now
		if err := c.repos.Conversation.Update(conversation); err != nil {
			return nil, fmt.Errorf("update conversation: %w", err)
		}
		log.Warn().Str("conversation_id", conversationID.String()).Msg("summary generation failed, conversation ended_error")
		return &EndAndSummarizeResult{ConversationID: conversationID, Status: conversation.Status}, nil
	}

	// Step 5: upsert the summary and flip the conversation status in one
	// transaction, so a partial failure cannot leave a Summary row behind a
	// conversation stuck at active.
	conversation.Status = models.ConversationSummarized
	conversation.EndTime = &now
	if err := c.repos.Transaction(func(tx *repository.Repositories) error {
		if err := tx.Summary.Upsert(&models.Summary{ConversationID: conversationID, Content: summaryText}); err != nil {
			return err
		}
		return tx.Conversation.Update(conversation)
	}); err != nil {
		return nil, fmt.Errorf("finalize summary: %w", err)
	}

	// Step 8.
	c.hub.BroadcastMessage(conversationID, hub.Envelope{
		Type:    "summary_data",
		Payload: map[string]any{"conversationId": conversationID, "summary": summaryText},
	})

	return &EndAndSummarizeResult{ConversationID: conversationID, Status: conversation.Status, Summary: &summaryText}, nil
}

func formatTranscript(messages []models.Message) string {
	var sb strings.Builder
	for _, m := range messages {
		body := m.OriginalText
		prefix := fmt.Sprintf("%s (%s)", m.SenderType, m.Language)
		if m.SenderType == models.SenderTranslation {
			prefix = fmt.Sprintf("%s (%s, translated)", m.SenderType, m.Language)
		}
		sb.WriteString(prefix)
		sb.WriteString(": ")
		sb.WriteString(body)
		sb.WriteString("\n")
	}
	return sb.String()
}

func formatActionsBlock(notes []models.Note, prescriptions []models.Prescription, followUps []models.FollowUp) string {
	if len(notes) == 0 && len(prescriptions) == 0 && len(followUps) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("\n--- Recorded Actions ---\n")
	for _, n := range notes {
		sb.WriteString(fmt.Sprintf("Note: %s\n", n.Text))
	}
	for _, p := range prescriptions {
		sb.WriteString(fmt.Sprintf("Prescription: %s %s %s\n", p.Medication, p.Dosage, p.Frequency))
	}
	for _, f := range followUps {
		sb.WriteString(fmt.Sprintf("Follow-up due %s: %s\n", f.DueDate, f.Reason))
	}
	return sb.String()
}
