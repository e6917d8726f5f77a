package coordinator

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/yourusername/medinterp/internal/logger"
	"github.com/yourusername/medinterp/internal/models"
	"github.com/yourusername/medinterp/internal/realtime/hub"
)

// runPipelineWorker drains one conversation's utterance queue in arrival
// order; a new utterance does not begin step 6 until the prior utterance's
// step 6 has completed. A panic while processing one utterance is recovered
// per job so the worker keeps draining the queue.
func (c *Coordinator) runPipelineWorker(state *ConversationState) {
	log := logger.WithComponent("pipeline")
	for {
		select {
		case job := <-state.jobs:
			func() {
				defer func() {
					if r := recover(); r != nil {
						log.Warn().Interface("panic", r).Str("conversation_id", state.ConversationID.String()).Msg("Recovered from panic while processing an utterance")
					}
				}()
				c.processUtterance(context.Background(), state.ConversationID, job.transcript)
			}()
		case <-state.closing:
			return
		}
	}
}

// processUtterance implements the Post-Transcription Pipeline.
// Empty transcripts are dropped before any broadcast.
func (c *Coordinator) processUtterance(ctx context.Context, conversationID uuid.UUID, transcript string) {
	if transcript == "" {
		return
	}

	log := logger.WithComponent("pipeline")

	// Step 1: language detection.
	detected := c.llm.DetectLanguage(ctx, transcript)

	// PII redaction runs after language detection so the Presidio analyzer
	// can be pointed at the NLP model matching the actual speaker's
	// language, rather than one fixed language for every conversation. Only
	// the redacted form ever reaches logs; the raw transcript itself is
	// still persisted to Message below, since redaction here is a logging
	// safeguard, not a data-retention policy.
	if loggable, err := c.pii.RedactPII(ctx, transcript, detected); err == nil {
		log.Debug().Str("conversation_id", conversationID.String()).Str("transcript", loggable).Msg("utterance received")
	}

	// Step 2: sender classification.
	senderType := models.SenderPatient
	if detected == "en" || detected == "unknown" {
		senderType = models.SenderUser
	}

	// Step 3: command detection, fire-and-forget, clinician utterances only.
	if senderType == models.SenderUser {
		go c.runCommandDetection(context.Background(), conversationID, transcript)
	}

	// Step 4: load conversation.
	conversation, err := c.repos.Conversation.GetByID(conversationID)
	if err != nil {
		log.Warn().Err(err).Str("conversation_id", conversationID.String()).Msg("conversation missing, aborting utterance")
		return
	}
	if conversation.Status.IsTerminal() {
		return
	}

	// Step 5.
	c.hub.BroadcastMessage(conversationID, hub.Envelope{Type: "transcription_started"})

	// Step 6: persist original message.
	original := &models.Message{
		ConversationID: conversationID,
		SenderType:     senderType,
		Language:       detected,
		OriginalText:   transcript,
		Timestamp:      time.Now(),
	}
	if err := c.repos.Message.Create(original); err != nil {
		log.Error().Err(err).Msg("failed to persist original message")
		c.hub.BroadcastMessage(conversationID, hub.Envelope{Type: "error", Payload: map[string]string{"message": "failed to save message"}})
		return
	}
	c.hub.BroadcastMessage(conversationID, hub.Envelope{Type: "new_message", Payload: original})

	// Step 7: translation decision.
	translatedText, targetLang := "", ""
	switch {
	case senderType == models.SenderPatient && detected != "en" && detected != "unknown":
		if detected != conversation.PatientLanguage {
			conversation.PatientLanguage = detected
			if err := c.repos.Conversation.Update(conversation); err != nil {
				log.Warn().Err(err).Msg("failed to persist patientLanguage switch")
			}
		}
		targetLang = "en"
		c.hub.BroadcastMessage(conversationID, hub.Envelope{Type: "translation_started"})
		translatedText = c.llm.Translate(ctx, transcript, detected, targetLang)
	case senderType == models.SenderUser && conversation.PatientLanguage != "" && conversation.PatientLanguage != "en":
		targetLang = conversation.PatientLanguage
		c.hub.BroadcastMessage(conversationID, hub.Envelope{Type: "translation_started"})
		translatedText = c.llm.Translate(ctx, transcript, "en", targetLang)
	}

	if translatedText != "" {
		if loggable, err := c.pii.RedactPII(ctx, translatedText, targetLang); err == nil {
			log.Debug().Str("conversation_id", conversationID.String()).Str("translation", loggable).Msg("utterance translated")
		}
	}

	// Step 8: persist translation.
	ttsText, ttsLang := transcript, detected
	if translatedText != "" {
		translationMsg := &models.Message{
			ConversationID:    conversationID,
			SenderType:        models.SenderTranslation,
			Language:          targetLang,
			OriginalText:      translatedText,
			OriginalMessageID: &original.ID,
			Timestamp:         time.Now(),
		}
		if err := c.repos.Message.Create(translationMsg); err != nil {
			log.Warn().Err(err).Msg("failed to persist translation, proceeding to TTS anyway")
		} else {
			c.hub.BroadcastMessage(conversationID, hub.Envelope{Type: "new_message", Payload: translationMsg})
		}
		ttsText, ttsLang = translatedText, targetLang
	}

	// Step 9: synthesize TTS.
	audioBase64, err := c.tts.Synthesize(ctx, ttsText, ttsLang)
	if err != nil {
		log.Warn().Err(err).Msg("TTS synthesis failed, degrading gracefully")
	} else if audioBase64 != "" {
		c.hub.BroadcastMessage(conversationID, hub.Envelope{
			Type: "tts_audio",
			Payload: map[string]any{
				"audioBase64":       audioBase64,
				"format":            "audio/mpeg",
				"originalMessageId": original.ID,
			},
		})
	}

	// Step 10.
	c.hub.BroadcastMessage(conversationID, hub.Envelope{Type: "processing_completed"})
}

// runCommandDetection is the independent command-detection branch, never
// awaited by the main sequence. The execution result, error statuses
// included, is broadcast as command_executed; a detection failure is only
// logged.
func (c *Coordinator) runCommandDetection(ctx context.Context, conversationID uuid.UUID, transcript string) {
	log := logger.WithComponent("pipeline")

	detected, err := c.llm.DetectCommand(ctx, transcript)
	if err != nil {
		log.Debug().Err(err).Msg("command detection failed")
		return
	}
	if detected == nil {
		return
	}

	result := c.exec.Execute(conversationID, detected.ToolName, detected.Arguments)
	c.hub.BroadcastMessage(conversationID, hub.Envelope{Type: "command_executed", Payload: result})
}
