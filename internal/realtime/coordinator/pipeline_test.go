package coordinator

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/medinterp/internal/config"
	"github.com/yourusername/medinterp/internal/models"
	"github.com/yourusername/medinterp/internal/realtime/hub"
	"github.com/yourusername/medinterp/internal/realtime/llmops"
	"github.com/yourusername/medinterp/internal/realtime/tts"
	"github.com/yourusername/medinterp/internal/repository"
	"github.com/yourusername/medinterp/internal/security"
)

// fakeLLM routes on the system prompt the same way the real provider would
// see it: one handler backing language detection, translation, command
// detection and summarization for a whole test.
type fakeLLM struct {
	language  string
	translate string
	command   string // raw assistant text, "" means "none"
	summary   string
}

func (f *fakeLLM) serve(t *testing.T) *llmops.Client {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			System []struct {
				Text string `json:"text"`
			} `json:"system"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		system := ""
		if len(body.System) > 0 {
			system = body.System[0].Text
		}

		text := ""
		switch {
		case strings.Contains(system, "ISO 639-1"):
			text = f.language
		case strings.Contains(system, "Translate"):
			text = f.translate
		case strings.Contains(system, "clinical commands"):
			text = f.command
			if text == "" {
				text = "none"
			}
		case strings.Contains(system, "summarize"):
			text = f.summary
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":          "msg_test",
			"type":        "message",
			"role":        "assistant",
			"model":       "claude-3-5-haiku-latest",
			"content":     []map[string]any{{"type": "text", "text": text}},
			"stop_reason": "end_turn",
			"usage":       map[string]int{"input_tokens": 1, "output_tokens": 1},
		})
	}))
	t.Cleanup(srv.Close)

	return llmops.NewClient("test-key", "claude-3-5-haiku-latest", option.WithBaseURL(srv.URL))
}

// newPipelineCoordinator wires a Coordinator against sqlite repos, a fake
// LLM, a disabled PII client and a TTS client with no credentials, so every
// pipeline step short of actual speech synthesis runs for real.
func newPipelineCoordinator(t *testing.T, llm *fakeLLM) (*Coordinator, *repository.Repositories) {
	t.Helper()

	db := setupCoordinatorTestDB(t)
	repos := repository.NewRepositories(db)
	pii := security.NewPresidioClient(security.NewPresidioConfig(), zerolog.Nop())
	c := New(&config.Config{}, repos, hub.New(), llm.serve(t), tts.NewClient("", "", ""), pii)
	return c, repos
}

// subscribeClient attaches a real websocket client to the hub for
// conversationID and returns the client-side conn the test reads broadcast
// envelopes from.
func subscribeClient(t *testing.T, c *Coordinator, conversationID uuid.UUID) *websocket.Conn {
	t.Helper()

	var serverConn *websocket.Conn
	ready := make(chan struct{})
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		serverConn = conn
		close(ready)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	clientConn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { clientConn.Close() })
	<-ready

	c.Hub().RegisterClient(hub.NewClient(serverConn), conversationID)
	return clientConn
}

func createActiveConversation(t *testing.T, repos *repository.Repositories, patientLanguage string) *models.Conversation {
	t.Helper()

	user := &models.User{Email: "dr@example.com", PasswordHash: "x", Name: "Dr. Test"}
	require.NoError(t, repos.User.Create(user))
	patient := &models.Patient{FirstName: "Jane", LastName: "Doe", DateOfBirth: time.Now().AddDate(-40, 0, 0)}
	require.NoError(t, repos.Patient.Create(patient))
	conversation := &models.Conversation{
		UserID:          user.ID,
		PatientID:       patient.ID,
		Status:          models.ConversationActive,
		PatientLanguage: patientLanguage,
		StartTime:       time.Now(),
	}
	require.NoError(t, repos.Conversation.Create(conversation))
	return conversation
}

func readEnvelope(t *testing.T, conn *websocket.Conn) hub.Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var envelope hub.Envelope
	require.NoError(t, conn.ReadJSON(&envelope))
	return envelope
}

// TestProcessUtterancePatientSpanish walks a Spanish patient utterance
// through the full pipeline: the subscribed client observes, in order,
// transcription_started, the patient's new_message, translation_started,
// the derived translation new_message referencing the original, and
// processing_completed. TTS is skipped (no credentials), which the pipeline
// treats as a graceful degrade rather than an error.
func TestProcessUtterancePatientSpanish(t *testing.T) {
	llm := &fakeLLM{language: "es", translate: "My head hurts"}
	c, repos := newPipelineCoordinator(t, llm)
	conversation := createActiveConversation(t, repos, "es")
	conn := subscribeClient(t, c, conversation.ID)

	c.processUtterance(t.Context(), conversation.ID, "Me duele la cabeza")

	require.Equal(t, "transcription_started", readEnvelope(t, conn).Type)

	original := readEnvelope(t, conn)
	require.Equal(t, "new_message", original.Type)
	payload := original.Payload.(map[string]any)
	require.Equal(t, "patient", payload["sender_type"])
	require.Equal(t, "es", payload["language"])
	require.Equal(t, "Me duele la cabeza", payload["original_text"])
	originalID := payload["id"].(string)

	require.Equal(t, "translation_started", readEnvelope(t, conn).Type)

	translation := readEnvelope(t, conn)
	require.Equal(t, "new_message", translation.Type)
	payload = translation.Payload.(map[string]any)
	require.Equal(t, "translation", payload["sender_type"])
	require.Equal(t, "en", payload["language"])
	require.Equal(t, "My head hurts", payload["original_text"])
	require.Equal(t, originalID, payload["original_message_id"], "translation must reference the original message")

	require.Equal(t, "processing_completed", readEnvelope(t, conn).Type)

	messages, err := repos.Message.ListByConversationID(conversation.ID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	require.Equal(t, models.SenderPatient, messages[0].SenderType)
	require.Equal(t, models.SenderTranslation, messages[1].SenderType)
	require.Equal(t, messages[0].ID, *messages[1].OriginalMessageID)
}

// TestProcessUtteranceClinicianTranslatesToPatientLanguage covers the
// clinician leg: English in, patientLanguage out.
func TestProcessUtteranceClinicianTranslatesToPatientLanguage(t *testing.T) {
	llm := &fakeLLM{language: "en", translate: "¿Dónde le duele?"}
	c, repos := newPipelineCoordinator(t, llm)
	conversation := createActiveConversation(t, repos, "es")
	conn := subscribeClient(t, c, conversation.ID)

	c.processUtterance(t.Context(), conversation.ID, "Where does it hurt?")

	require.Equal(t, "transcription_started", readEnvelope(t, conn).Type)

	original := readEnvelope(t, conn)
	require.Equal(t, "new_message", original.Type)
	payload := original.Payload.(map[string]any)
	require.Equal(t, "user", payload["sender_type"])
	require.Equal(t, "en", payload["language"])

	require.Equal(t, "translation_started", readEnvelope(t, conn).Type)

	translation := readEnvelope(t, conn)
	require.Equal(t, "new_message", translation.Type)
	payload = translation.Payload.(map[string]any)
	require.Equal(t, "translation", payload["sender_type"])
	require.Equal(t, "es", payload["language"])
}

// TestProcessUtteranceLanguageSwitch covers a patient switching language
// mid-conversation: the stored patientLanguage follows the newly detected
// code, so subsequent clinician utterances translate into it.
func TestProcessUtteranceLanguageSwitch(t *testing.T) {
	llm := &fakeLLM{language: "fr", translate: "My head hurts"}
	c, repos := newPipelineCoordinator(t, llm)
	conversation := createActiveConversation(t, repos, "es")
	subscribeClient(t, c, conversation.ID)

	c.processUtterance(t.Context(), conversation.ID, "J'ai mal à la tête")

	updated, err := repos.Conversation.GetByID(conversation.ID)
	require.NoError(t, err)
	require.Equal(t, "fr", updated.PatientLanguage)
}

// TestProcessUtteranceUnknownLanguageNoTranslation: a detection answer that
// isn't a two-letter code classifies the sender as the clinician; with the
// patient language unset there is nothing to translate into, so exactly one
// message row is written.
func TestProcessUtteranceUnknownLanguageNoTranslation(t *testing.T) {
	llm := &fakeLLM{language: "Esperanto?"}
	c, repos := newPipelineCoordinator(t, llm)
	conversation := createActiveConversation(t, repos, "")
	conn := subscribeClient(t, c, conversation.ID)

	c.processUtterance(t.Context(), conversation.ID, "mi havas kapdoloron")

	require.Equal(t, "transcription_started", readEnvelope(t, conn).Type)
	original := readEnvelope(t, conn)
	require.Equal(t, "new_message", original.Type)
	require.Equal(t, "user", original.Payload.(map[string]any)["sender_type"])
	require.Equal(t, "unknown", original.Payload.(map[string]any)["language"])
	require.Equal(t, "processing_completed", readEnvelope(t, conn).Type)

	messages, err := repos.Message.ListByConversationID(conversation.ID)
	require.NoError(t, err)
	require.Len(t, messages, 1)
}

// TestProcessUtteranceEmptyTranscriptIsDropped: nothing is broadcast and
// nothing is persisted. The sentinel broadcast proves the read isn't just
// racing an in-flight envelope.
func TestProcessUtteranceEmptyTranscriptIsDropped(t *testing.T) {
	llm := &fakeLLM{language: "es"}
	c, repos := newPipelineCoordinator(t, llm)
	conversation := createActiveConversation(t, repos, "es")
	conn := subscribeClient(t, c, conversation.ID)

	c.processUtterance(t.Context(), conversation.ID, "")

	c.hub.BroadcastMessage(conversation.ID, hub.Envelope{Type: "sentinel"})
	require.Equal(t, "sentinel", readEnvelope(t, conn).Type)

	messages, err := repos.Message.ListByConversationID(conversation.ID)
	require.NoError(t, err)
	require.Empty(t, messages)
}

// TestProcessUtteranceTerminalConversationIsDropped: once a conversation is
// terminal, a late-arriving utterance produces no broadcasts and no rows.
func TestProcessUtteranceTerminalConversationIsDropped(t *testing.T) {
	llm := &fakeLLM{language: "es"}
	c, repos := newPipelineCoordinator(t, llm)
	conversation := createActiveConversation(t, repos, "es")
	conversation.Status = models.ConversationSummarized
	require.NoError(t, repos.Conversation.Update(conversation))
	conn := subscribeClient(t, c, conversation.ID)

	c.processUtterance(t.Context(), conversation.ID, "Me duele la cabeza")

	c.hub.BroadcastMessage(conversation.ID, hub.Envelope{Type: "sentinel"})
	require.Equal(t, "sentinel", readEnvelope(t, conn).Type)

	messages, err := repos.Message.ListByConversationID(conversation.ID)
	require.NoError(t, err)
	require.Empty(t, messages)
}

// TestEndAndSummarizeHappyPath: a conversation with messages and a note is
// summarized; the status flips to summarized and GetSummary returns the
// persisted content.
func TestEndAndSummarizeHappyPath(t *testing.T) {
	llm := &fakeLLM{summary: "Patient reported a headache; ibuprofen prescribed."}
	c, repos := newPipelineCoordinator(t, llm)
	conversation := createActiveConversation(t, repos, "es")
	conn := subscribeClient(t, c, conversation.ID)

	require.NoError(t, repos.Message.Create(&models.Message{
		ConversationID: conversation.ID, SenderType: models.SenderPatient,
		Language: "es", OriginalText: "Me duele la cabeza", Timestamp: time.Now(),
	}))
	require.NoError(t, repos.Note.Create(&models.Note{
		ConversationID: conversation.ID, Text: "patient reports headache", Status: models.ActionConfirmed,
	}))

	result, err := c.EndAndSummarize(t.Context(), conversation.ID)
	require.NoError(t, err)
	require.Equal(t, models.ConversationSummarized, result.Status)
	require.NotNil(t, result.Summary)
	require.Equal(t, llm.summary, *result.Summary)

	envelope := readEnvelope(t, conn)
	require.Equal(t, "summary_data", envelope.Type)
	require.Equal(t, llm.summary, envelope.Payload.(map[string]any)["summary"])

	stored, err := c.GetSummary(conversation.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.Equal(t, llm.summary, *stored)

	updated, err := repos.Conversation.GetByID(conversation.ID)
	require.NoError(t, err)
	require.Equal(t, models.ConversationSummarized, updated.Status)
	require.NotNil(t, updated.EndTime)
}

// TestEndAndSummarizeLLMFailure: an empty summary flips the conversation to
// ended_error and persists no Summary row.
func TestEndAndSummarizeLLMFailure(t *testing.T) {
	llm := &fakeLLM{summary: ""}
	c, repos := newPipelineCoordinator(t, llm)
	conversation := createActiveConversation(t, repos, "es")

	require.NoError(t, repos.Message.Create(&models.Message{
		ConversationID: conversation.ID, SenderType: models.SenderPatient,
		Language: "es", OriginalText: "Me duele la cabeza", Timestamp: time.Now(),
	}))

	result, err := c.EndAndSummarize(t.Context(), conversation.ID)
	require.NoError(t, err)
	require.Equal(t, models.ConversationEndedError, result.Status)
	require.Nil(t, result.Summary)

	_, err = repos.Summary.GetByConversationID(conversation.ID)
	require.Error(t, err, "no Summary record on LLM failure")
}

// TestTranscoderFatalErrorTearsDownWithClientsAttached: a transcoder that
// dies mid-conversation is fatal for that conversation's realtime state
// even while control clients remain subscribed; the clients themselves stay
// registered with the hub. The transcoder binary is stubbed with /bin/false
// so the subprocess exits nonzero immediately.
func TestTranscoderFatalErrorTearsDownWithClientsAttached(t *testing.T) {
	upgrader := websocket.Upgrader{}
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(upstream.Close)

	cfg := &config.Config{
		STTAPIKey:  "test-key",
		STTWSURL:   "ws" + strings.TrimPrefix(upstream.URL, "http"),
		STTModel:   "test-model",
		FFmpegPath: "/bin/false",
	}
	db := setupCoordinatorTestDB(t)
	repos := repository.NewRepositories(db)
	pii := security.NewPresidioClient(security.NewPresidioConfig(), zerolog.Nop())
	c := New(cfg, repos, hub.New(), (&fakeLLM{}).serve(t), tts.NewClient("", "", ""), pii)

	conversation := createActiveConversation(t, repos, "es")
	subscribeClient(t, c, conversation.ID)

	c.AttachAudioClient(t.Context(), conversation.ID)

	require.Eventually(t, func() bool {
		c.mu.Lock()
		_, ok := c.states[conversation.ID]
		c.mu.Unlock()
		return !ok
	}, 3*time.Second, 20*time.Millisecond,
		"a fatal transcoder error must tear the conversation down even with clients attached")

	require.Positive(t, c.hub.ClientCount(conversation.ID),
		"teardown releases realtime resources, not the hub registration")
}

// TestProcessUtteranceClinicianCommandBranch: a clinician utterance that
// names a command produces command_executed and action_created events in
// addition to the normal message broadcasts. The command branch runs
// concurrently with the main sequence, so the test collects envelopes and
// asserts on the set rather than a strict order.
func TestProcessUtteranceClinicianCommandBranch(t *testing.T) {
	llm := &fakeLLM{
		language: "en",
		command:  `{"tool_name": "take_note", "arguments": {"note_content": "patient reports headache"}}`,
	}
	c, repos := newPipelineCoordinator(t, llm)
	conversation := createActiveConversation(t, repos, "")
	conn := subscribeClient(t, c, conversation.ID)

	c.processUtterance(t.Context(), conversation.ID, "Clara take a note patient reports headache")

	seen := map[string]hub.Envelope{}
	for len(seen) < 5 {
		envelope := readEnvelope(t, conn)
		seen[envelope.Type] = envelope
	}

	require.Contains(t, seen, "transcription_started")
	require.Contains(t, seen, "new_message")
	require.Contains(t, seen, "processing_completed")

	executed := seen["command_executed"].Payload.(map[string]any)
	require.Equal(t, "success", executed["status"])
	require.Equal(t, "take_note", executed["name"])

	created := seen["action_created"].Payload.(map[string]any)
	require.Equal(t, "note", created["type"])
	require.Equal(t, "patient reports headache", created["data"].(map[string]any)["content"])

	notes, err := repos.Note.ListByConversationID(conversation.ID)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	require.Equal(t, "patient reports headache", notes[0].Text)
}

// TestStartSessionReusesPatient: two sessions for the same name+DOB share
// one patient record, and each conversation starts active with the default
// patient language.
func TestStartSessionReusesPatient(t *testing.T) {
	llm := &fakeLLM{}
	c, repos := newPipelineCoordinator(t, llm)

	user := &models.User{Email: "dr@example.com", PasswordHash: "x", Name: "Dr. Test"}
	require.NoError(t, repos.User.Create(user))

	dob := time.Date(1986, 3, 14, 0, 0, 0, 0, time.UTC)
	in := StartSessionInput{UserID: user.ID, PatientFirst: "Jane", PatientLast: "Doe", PatientDOB: dob}

	first, err := c.StartSession(t.Context(), in)
	require.NoError(t, err)
	second, err := c.StartSession(t.Context(), in)
	require.NoError(t, err)

	require.Equal(t, first.PatientID, second.PatientID)
	require.NotEqual(t, first.ConversationID, second.ConversationID)

	conversation, err := repos.Conversation.GetByID(first.ConversationID)
	require.NoError(t, err)
	require.Equal(t, models.ConversationActive, conversation.Status)
	require.Equal(t, "es", conversation.PatientLanguage)
}
