// Package coordinator implements the Conversation Coordinator: the
// top-level per-conversation state machine that creates conversation
// records, launches the realtime pipeline, drives end/summarize, and owns
// cleanup.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yourusername/medinterp/internal/config"
	"github.com/yourusername/medinterp/internal/logger"
	"github.com/yourusername/medinterp/internal/models"
	"github.com/yourusername/medinterp/internal/realtime/commands"
	"github.com/yourusername/medinterp/internal/realtime/hub"
	"github.com/yourusername/medinterp/internal/realtime/llmops"
	"github.com/yourusername/medinterp/internal/realtime/tts"
	"github.com/yourusername/medinterp/internal/repository"
	"github.com/yourusername/medinterp/internal/security"
)

var (
	ErrNotFound     = fmt.Errorf("not found")
	ErrUnauthorized = fmt.Errorf("unauthorized")
)

// Coordinator owns every live ConversationState by identity (a map keyed by
// conversation ID) and hands workers the ID plus narrow service handles
// rather than the state object itself.
type Coordinator struct {
	cfg   *config.Config
	repos *repository.Repositories
	hub   *hub.Hub
	llm   *llmops.Client
	tts   *tts.Client
	exec  *commands.Executor
	pii   *security.PresidioClient

	mu     sync.Mutex
	states map[uuid.UUID]*ConversationState
}

func New(cfg *config.Config, repos *repository.Repositories, h *hub.Hub, llm *llmops.Client, ttsClient *tts.Client, pii *security.PresidioClient) *Coordinator {
	exec := commands.NewExecutor(repos.Note, repos.FollowUp, repos.Prescription, h)

	c := &Coordinator{
		cfg:    cfg,
		repos:  repos,
		hub:    h,
		llm:    llm,
		tts:    ttsClient,
		exec:   exec,
		pii:    pii,
		states: make(map[uuid.UUID]*ConversationState),
	}

	exec.OnRequestSummary = func(conversationID uuid.UUID) {
		go c.EndAndSummarize(context.Background(), conversationID)
	}
	exec.OnRequestMedicalHistory = func(conversationID uuid.UUID) {
		go c.generateMedicalHistory(context.Background(), conversationID)
	}

	return c
}

// Hub exposes the Notification Hub so API handlers can register/remove
// control-channel clients directly.
func (c *Coordinator) Hub() *hub.Hub { return c.hub }

// StartSessionInput mirrors the start_new_session control-channel payload.
type StartSessionInput struct {
	UserID       uuid.UUID
	PatientFirst string
	PatientLast  string
	PatientDOB   time.Time
}

// StartSessionResult is returned to the issuing client.
type StartSessionResult struct {
	ConversationID uuid.UUID `json:"conversationId"`
	PatientID      uuid.UUID `json:"patientId"`
	StartTime      time.Time `json:"startTime"`
}

// StartSession finds-or-creates the Patient, creates an active Conversation,
// and asynchronously launches medical-history generation.
func (c *Coordinator) StartSession(ctx context.Context, in StartSessionInput) (*StartSessionResult, error) {
	log := logger.WithComponent("coordinator")

	dob := in.PatientDOB.UTC().Truncate(24 * time.Hour)
	patient, err := c.repos.Patient.FindByNameAndDOB(in.PatientFirst, in.PatientLast, dob)
	if err != nil {
		patient = &models.Patient{
			FirstName:   in.PatientFirst,
			LastName:    in.PatientLast,
			DateOfBirth: dob,
		}
		if err := c.repos.Patient.Create(patient); err != nil {
			return nil, fmt.Errorf("create patient: %w", err)
		}
	}

	now := time.Now()
	conversation := &models.Conversation{
		UserID:          in.UserID,
		PatientID:       patient.ID,
		Status:          models.ConversationActive,
		PatientLanguage: "es",
		StartTime:       now,
	}
	if err := c.repos.Conversation.Create(conversation); err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}

	log.Info().Str("conversation_id", conversation.ID.String()).Str("patient_id", patient.ID.String()).Msg("session started")

	go c.generateMedicalHistory(context.Background(), conversation.ID)

	return &StartSessionResult{
		ConversationID: conversation.ID,
		PatientID:      patient.ID,
		StartTime:      now,
	}, nil
}

// generateMedicalHistory asks the model to condense this patient's medical
// history from any prior conversations and broadcasts medical_history_data
// once ready.
func (c *Coordinator) generateMedicalHistory(ctx context.Context, conversationID uuid.UUID) {
	log := logger.WithComponent("coordinator")

	conversation, err := c.repos.Conversation.GetByID(conversationID)
	if err != nil {
		return
	}

	raw := c.collectPriorMedicalHistory(conversation.PatientID, conversationID)
	if raw == "" {
		raw = "No prior medical history is on file for this patient."
	}

	content := c.llm.CondenseMedicalHistory(ctx, raw)
	if content == "" {
		log.Debug().Str("conversation_id", conversationID.String()).Msg("medical history generation skipped, empty LLM result")
		return
	}

	history := &models.MedicalHistory{ConversationID: conversationID, Content: content}
	if err := c.repos.MedicalHistory.Upsert(history); err != nil {
		log.Warn().Err(err).Msg("failed to persist medical history")
		return
	}

	c.hub.BroadcastMessage(conversationID, hub.Envelope{
		Type:    "medical_history_data",
		Payload: map[string]any{"conversationId": conversationID, "content": content},
	})
}

// collectPriorMedicalHistory assembles raw material for CondenseMedicalHistory
// from every other conversation this patient has had: any previously
// condensed MedicalHistory those conversations already produced, plus the
// patient's own utterances from each. excludeConversationID is the
// brand-new conversation generateMedicalHistory was called for, which can
// never itself have prior content.
func (c *Coordinator) collectPriorMedicalHistory(patientID, excludeConversationID uuid.UUID) string {
	log := logger.WithComponent("coordinator")

	priorConversations, err := c.repos.Conversation.ListByPatientID(patientID)
	if err != nil || len(priorConversations) == 0 {
		return ""
	}

	var sb strings.Builder
	for _, conv := range priorConversations {
		if conv.ID == excludeConversationID {
			continue
		}
		if existing, err := c.repos.MedicalHistory.GetByConversationID(conv.ID); err == nil && existing.Content != "" {
			sb.WriteString("Previously recorded history: ")
			sb.WriteString(existing.Content)
			sb.WriteString("\n")
		}

		messages, err := c.repos.Message.ListByConversationID(conv.ID)
		if err != nil {
			log.Debug().Err(err).Str("conversation_id", conv.ID.String()).Msg("failed to load prior conversation messages")
			continue
		}
		for _, m := range messages {
			if m.SenderType != models.SenderPatient {
				continue
			}
			sb.WriteString(m.OriginalText)
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

// ConversationSelected is returned by SelectConversation.
type ConversationSelected struct {
	ConversationID  uuid.UUID                 `json:"conversationId"`
	IsActive        bool                      `json:"isActive"`
	Status          models.ConversationStatus `json:"status"`
	Summary         *string                   `json:"summary"`
	PatientLanguage string                    `json:"patientLanguage"`
}

// SelectConversation verifies ownership and registers client with the hub.
func (c *Coordinator) SelectConversation(userID, conversationID uuid.UUID, client *hub.Client) (*ConversationSelected, error) {
	conversation, err := c.repos.Conversation.GetByID(conversationID)
	if err != nil {
		return nil, ErrNotFound
	}
	if conversation.UserID != userID {
		return nil, ErrUnauthorized
	}

	c.hub.RegisterClient(client, conversationID)

	var summary *string
	if s, err := c.repos.Summary.GetByConversationID(conversationID); err == nil {
		summary = &s.Content
	}

	return &ConversationSelected{
		ConversationID:  conversation.ID,
		IsActive:        !conversation.Status.IsTerminal(),
		Status:          conversation.Status,
		Summary:         summary,
		PatientLanguage: conversation.PatientLanguage,
	}, nil
}

func (c *Coordinator) ListConversations(userID uuid.UUID, limit, offset int) ([]models.Conversation, error) {
	if limit == 0 {
		limit = 20
	}
	return c.repos.Conversation.ListByUserID(userID, limit, offset)
}

func (c *Coordinator) GetMessages(conversationID uuid.UUID) ([]models.Message, error) {
	return c.repos.Message.ListByConversationID(conversationID)
}

func (c *Coordinator) GetActions(conversationID uuid.UUID) ([]models.AggregatedAction, error) {
	notes, err := c.repos.Note.ListByConversationID(conversationID)
	if err != nil {
		return nil, err
	}
	followUps, err := c.repos.FollowUp.ListByConversationID(conversationID)
	if err != nil {
		return nil, err
	}
	prescriptions, err := c.repos.Prescription.ListByConversationID(conversationID)
	if err != nil {
		return nil, err
	}
	return commands.AggregateActions(notes, followUps, prescriptions), nil
}

// GetSummary returns nil for a conversation that has no summary yet; a
// repository failure is reported so it can't masquerade as "no summary".
func (c *Coordinator) GetSummary(conversationID uuid.UUID) (*string, error) {
	s, err := c.repos.Summary.GetByConversationID(conversationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		log := logger.WithComponent("coordinator")
		log.Warn().Err(err).Str("conversation_id", conversationID.String()).Msg("failed to load summary")
		return nil, err
	}
	return &s.Content, nil
}

func (c *Coordinator) GetMedicalHistory(conversationID uuid.UUID) (*string, error) {
	h, err := c.repos.MedicalHistory.GetByConversationID(conversationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		log := logger.WithComponent("coordinator")
		log.Warn().Err(err).Str("conversation_id", conversationID.String()).Msg("failed to load medical history")
		return nil, err
	}
	return &h.Content, nil
}

// SubmitChatMessage enqueues clinician-typed text onto the same
// per-conversation pipeline queue the audio path uses, so a typed message
// and an in-flight transcription can never interleave. It does
// not require an audio client to have attached first.
func (c *Coordinator) SubmitChatMessage(conversationID uuid.UUID, text string) {
	state := c.getOrCreateState(conversationID)
	state.enqueue(text)
}

// getOrCreateState returns the ConversationState for conversationID,
// creating it and starting its pipeline worker on first use. It does NOT
// start the conversation's realtime resources (Transcoder/STT Session);
// callers that need those call AttachAudioClient, whose
// startResourcesOnce fires regardless of whether this function or
// AttachAudioClient created the state first. This is the single shared
// lazy-create path for both the Audio Channel and a chat_message arriving
// before any audio client has attached.
func (c *Coordinator) getOrCreateState(conversationID uuid.UUID) *ConversationState {
	c.mu.Lock()
	defer c.mu.Unlock()

	state, ok := c.states[conversationID]
	if !ok {
		state = newConversationState(conversationID)
		c.states[conversationID] = state
		go c.runPipelineWorker(state)
	}
	return state
}

// HandleClientDisconnected tears down a conversation's in-memory realtime
// state once the hub has zero remaining clients for it.
func (c *Coordinator) HandleClientDisconnected(conversationID uuid.UUID) {
	if c.hub.ClientCount(conversationID) > 0 {
		return
	}
	c.forceTeardown(conversationID)
}

// forceTeardown removes a conversation's in-memory state and releases its
// Transcoder and STT Session regardless of how many control clients remain
// subscribed. Fatal per-conversation failures (a dead Transcoder) must land
// here, not on the client-count-gated HandleClientDisconnected path.
func (c *Coordinator) forceTeardown(conversationID uuid.UUID) {
	c.mu.Lock()
	state, ok := c.states[conversationID]
	if ok {
		delete(c.states, conversationID)
	}
	c.mu.Unlock()

	if ok {
		state.teardown()
	}
}
