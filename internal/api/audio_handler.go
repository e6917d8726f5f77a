package api

import (
	"encoding/base64"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/yourusername/medinterp/internal/logger"
	"github.com/yourusername/medinterp/internal/realtime/coordinator"
)

var audioUpgrader = websocket.Upgrader{
	ReadBufferSize:  8192,
	WriteBufferSize: 8192,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// AudioHandler serves the Audio Channel: the unauthenticated WebSocket a
// browser streams recorded PCM/container chunks over.
type AudioHandler struct {
	coord *coordinator.Coordinator
}

func NewAudioHandler(coord *coordinator.Coordinator) *AudioHandler {
	return &AudioHandler{coord: coord}
}

type audioInbound struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

func (h *AudioHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("audio-handler")

	conversationIDStr := r.URL.Query().Get("conversationId")
	if conversationIDStr == "" {
		conn, err := audioUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(1008, "missing conversationId"), time.Now().Add(time.Second))
		conn.Close()
		return
	}

	conversationID, err := uuid.Parse(conversationIDStr)
	if err != nil {
		conn, upErr := audioUpgrader.Upgrade(w, r, nil)
		if upErr != nil {
			return
		}
		conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(1008, "invalid conversationId"), time.Now().Add(time.Second))
		conn.Close()
		return
	}

	conn, err := audioUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("audio channel upgrade failed")
		return
	}
	defer conn.Close()

	ctx := r.Context()
	state := h.coord.AttachAudioClient(ctx, conversationID)

	writeAudioJSON(conn, map[string]string{"type": "backend_connected", "status": state.ConnectionStatus()})

	defer h.coord.HandleClientDisconnected(conversationID)

	for {
		var msg audioInbound
		if err := conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Err(err).Str("conversation_id", conversationID.String()).Msg("audio channel read ended")
			}
			return
		}

		switch msg.Type {
		case "input_audio_buffer.append":
			chunk, err := base64.StdEncoding.DecodeString(msg.Audio)
			if err != nil {
				continue
			}
			if err := h.coord.WriteAudioChunk(state, chunk); err != nil {
				log.Debug().Err(err).Msg("dropped audio chunk")
			}
		case "input_audio_buffer.finalize":
			if err := h.coord.FinalizeAudio(state); err != nil {
				log.Debug().Err(err).Msg("finalize failed")
			}
		case "input_audio_buffer.pause":
			h.coord.PauseAudio(state)
		case "input_audio_buffer.resume":
			h.coord.ResumeAudio(state)
		}
	}
}

func writeAudioJSON(conn *websocket.Conn, v any) {
	if err := conn.WriteJSON(v); err != nil {
		log := logger.WithComponent("audio-handler")
		log.Debug().Err(err).Msg("write failed")
	}
}
