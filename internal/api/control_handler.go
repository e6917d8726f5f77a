package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/yourusername/medinterp/internal/config"
	"github.com/yourusername/medinterp/internal/logger"
	appMiddleware "github.com/yourusername/medinterp/internal/middleware"
	"github.com/yourusername/medinterp/internal/realtime/coordinator"
	"github.com/yourusername/medinterp/internal/realtime/hub"
)

var controlUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ControlHandler serves the Control Channel: the authenticated JSON
// WebSocket a clinician's browser uses to drive a conversation.
type ControlHandler struct {
	coord *coordinator.Coordinator
	cfg   *config.Config
}

func NewControlHandler(coord *coordinator.Coordinator, cfg *config.Config) *ControlHandler {
	return &ControlHandler{coord: coord, cfg: cfg}
}

// controlInbound is the union of every field any inbound message type uses.
type controlInbound struct {
	Type           string `json:"type"`
	FirstName      string `json:"firstName"`
	LastName       string `json:"lastName"`
	DOB            string `json:"dob"`
	ConversationID string `json:"conversationId"`
	Text           string `json:"text"`
}

// controlSession tracks per-connection state the stateless inbound payloads
// don't always carry (chat_message has no conversationId of its own).
type controlSession struct {
	userID  uuid.UUID
	current uuid.UUID
	hasConv bool
}

func (h *ControlHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("control-handler")

	claims, authErr := appMiddleware.AuthenticateQueryToken(h.cfg.JWTSecret, r)
	if authErr != nil {
		code := 5000
		reason := "internal verification failure"
		if appMiddleware.IsTokenInvalid(authErr) {
			code = 4001
			reason = "invalid or missing token"
		} else {
			log.Error().Err(authErr).Msg("token verification failed unexpectedly")
		}

		conn, err := controlUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
		conn.Close()
		return
	}

	conn, err := controlUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("control channel upgrade failed")
		return
	}
	defer conn.Close()

	// All writes to this connection go through client.WriteJSON: hub
	// broadcasts arrive from pipeline goroutines while this read loop
	// replies to inbound messages, and the transport allows only one
	// concurrent writer.
	client := hub.NewClient(conn)
	sess := &controlSession{userID: claims.UserID}

	defer func() {
		h.coord.Hub().RemoveClient(client)
		if sess.hasConv {
			h.coord.HandleClientDisconnected(sess.current)
		}
	}()

	log.Info().Str("user_id", claims.UserID.String()).Msg("control channel connected")

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Err(err).Msg("control channel read ended")
			}
			return
		}

		var msg controlInbound
		if err := json.Unmarshal(data, &msg); err != nil {
			writeJSON(client, map[string]string{"type": "error", "text": "invalid JSON"})
			continue
		}

		switch msg.Type {
		case "start_new_session":
			h.handleStartSession(r.Context(), client, sess, msg)
		case "select_conversation":
			h.handleSelectConversation(client, sess, msg)
		case "get_conversations":
			h.sendConversationList(client, sess.userID)
		case "get_messages":
			h.handleGetMessages(client, msg)
		case "get_actions":
			h.handleGetActions(client, msg)
		case "get_summary":
			h.handleGetSummary(client, msg)
		case "get_medical_history":
			h.handleGetMedicalHistory(client, msg)
		case "end_session":
			h.handleEndSession(r.Context(), client, msg)
		case "chat_message":
			h.handleChatMessage(client, sess, msg)
		default:
			writeJSON(client, map[string]string{"type": "error", "text": "unknown message type"})
		}
	}
}

func (h *ControlHandler) handleStartSession(ctx context.Context, client *hub.Client, sess *controlSession, msg controlInbound) {
	dob, err := time.Parse("2006-01-02", msg.DOB)
	if err != nil {
		writeJSON(client, map[string]string{"type": "error", "text": "invalid dob"})
		return
	}

	result, err := h.coord.StartSession(ctx, coordinator.StartSessionInput{
		UserID:       sess.userID,
		PatientFirst: msg.FirstName,
		PatientLast:  msg.LastName,
		PatientDOB:   dob,
	})
	if err != nil {
		writeJSON(client, map[string]string{"type": "error", "text": "failed to start session"})
		return
	}

	sess.current = result.ConversationID
	sess.hasConv = true

	// Subscribe the issuing client immediately so asynchronous broadcasts
	// for the new conversation (medical_history_data in particular) reach
	// it without waiting for an explicit select_conversation.
	h.coord.Hub().RegisterClient(client, result.ConversationID)

	writeJSON(client, map[string]any{"type": "session_started", "payload": result})
	h.sendConversationList(client, sess.userID)
}

func (h *ControlHandler) sendConversationList(client *hub.Client, userID uuid.UUID) {
	conversations, err := h.coord.ListConversations(userID, 50, 0)
	if err != nil {
		writeJSON(client, map[string]string{"type": "error", "text": "failed to list conversations"})
		return
	}
	writeJSON(client, map[string]any{"type": "conversation_list", "payload": conversations})
}

func (h *ControlHandler) handleSelectConversation(client *hub.Client, sess *controlSession, msg controlInbound) {
	id, err := uuid.Parse(msg.ConversationID)
	if err != nil {
		writeJSON(client, map[string]string{"type": "error", "text": "invalid conversationId"})
		return
	}

	selected, err := h.coord.SelectConversation(sess.userID, id, client)
	if err != nil {
		writeJSON(client, map[string]string{"type": "error", "text": "cannot select conversation"})
		return
	}

	sess.current = id
	sess.hasConv = true

	writeJSON(client, map[string]any{"type": "conversation_selected", "payload": selected})
}

func (h *ControlHandler) handleGetMessages(client *hub.Client, msg controlInbound) {
	id, err := uuid.Parse(msg.ConversationID)
	if err != nil {
		writeJSON(client, map[string]string{"type": "error", "text": "invalid conversationId"})
		return
	}
	messages, err := h.coord.GetMessages(id)
	if err != nil {
		writeJSON(client, map[string]string{"type": "error", "text": "failed to load messages"})
		return
	}
	writeJSON(client, map[string]any{"type": "message_list", "payload": messages})
}

func (h *ControlHandler) handleGetActions(client *hub.Client, msg controlInbound) {
	id, err := uuid.Parse(msg.ConversationID)
	if err != nil {
		writeJSON(client, map[string]string{"type": "error", "text": "invalid conversationId"})
		return
	}
	actions, err := h.coord.GetActions(id)
	if err != nil {
		writeJSON(client, map[string]string{"type": "error", "text": "failed to load actions"})
		return
	}
	writeJSON(client, map[string]any{"type": "action_list", "payload": actions})
}

func (h *ControlHandler) handleGetSummary(client *hub.Client, msg controlInbound) {
	id, err := uuid.Parse(msg.ConversationID)
	if err != nil {
		writeJSON(client, map[string]string{"type": "error", "text": "invalid conversationId"})
		return
	}
	summary, err := h.coord.GetSummary(id)
	if err != nil {
		writeJSON(client, map[string]string{"type": "error", "text": "failed to load summary"})
		return
	}
	writeJSON(client, map[string]any{"type": "summary_data", "payload": map[string]any{"conversationId": id, "summary": summary}})
}

func (h *ControlHandler) handleGetMedicalHistory(client *hub.Client, msg controlInbound) {
	id, err := uuid.Parse(msg.ConversationID)
	if err != nil {
		writeJSON(client, map[string]string{"type": "error", "text": "invalid conversationId"})
		return
	}
	content, err := h.coord.GetMedicalHistory(id)
	if err != nil {
		writeJSON(client, map[string]string{"type": "error", "text": "failed to load medical history"})
		return
	}
	writeJSON(client, map[string]any{"type": "medical_history_data", "payload": map[string]any{"conversationId": id, "content": content}})
}

func (h *ControlHandler) handleEndSession(ctx context.Context, client *hub.Client, msg controlInbound) {
	id, err := uuid.Parse(msg.ConversationID)
	if err != nil {
		writeJSON(client, map[string]string{"type": "error", "text": "invalid conversationId"})
		return
	}
	result, err := h.coord.EndAndSummarize(ctx, id)
	if err != nil {
		writeJSON(client, map[string]string{"type": "error", "text": "failed to end session"})
		return
	}
	writeJSON(client, map[string]any{"type": "session_ended_and_summarized", "payload": result})
}

func (h *ControlHandler) handleChatMessage(client *hub.Client, sess *controlSession, msg controlInbound) {
	if !sess.hasConv {
		writeJSON(client, map[string]string{"type": "error", "text": "no conversation selected"})
		return
	}
	h.coord.SubmitChatMessage(sess.current, msg.Text)
	writeJSON(client, map[string]any{"type": "message_received", "payload": map[string]string{"text": msg.Text}})
}

func writeJSON(client *hub.Client, v any) {
	if err := client.WriteJSON(v); err != nil {
		log := logger.WithComponent("control-handler")
		log.Debug().Err(err).Msg("write failed")
	}
}
