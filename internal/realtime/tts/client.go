// Package tts synthesizes speech for a single chosen utterance text, using a
// Cartesia-style framed WebSocket protocol.
package tts

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yourusername/medinterp/internal/logger"
)

const (
	cartesiaVersion = "2024-06-10"
	defaultModel    = "sonic-3"
	sampleRate      = 24000
)

// Client synthesizes one utterance at a time; the Post-Transcription
// Pipeline calls Synthesize once per completed utterance rather than
// streaming token-by-token, since the input text is already final.
type Client struct {
	apiKey  string
	wsURL   string
	voiceID string
}

func NewClient(wsURL, apiKey, voiceID string) *Client {
	return &Client{wsURL: wsURL, apiKey: apiKey, voiceID: voiceID}
}

// Synthesize returns base64-encoded PCM audio for text, using language as a
// voice hint. Empty text yields empty audio without opening a connection.
func (c *Client) Synthesize(ctx context.Context, text, language string) (string, error) {
	if text == "" {
		return "", nil
	}
	if c.apiKey == "" {
		return "", fmt.Errorf("tts: API key not configured")
	}

	log := logger.WithComponent("tts")

	url := fmt.Sprintf("%s?api_key=%s&cartesia_version=%s", c.wsURL, c.apiKey, cartesiaVersion)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return "", fmt.Errorf("tts: dial: %w", err)
	}
	defer conn.Close()

	ctxID := fmt.Sprintf("ctx_%d", time.Now().UnixMilli())
	payload := map[string]any{
		"model_id":   defaultModel,
		"transcript": text,
		"voice": map[string]any{
			"mode": "id",
			"id":   c.voiceID,
		},
		"output_format": map[string]any{
			"container":   "raw",
			"encoding":    "pcm_s16le",
			"sample_rate": sampleRate,
		},
		"context_id": ctxID,
		"language":   language,
	}
	if err := conn.WriteJSON(payload); err != nil {
		return "", fmt.Errorf("tts: send: %w", err)
	}

	var audio []byte
	deadline := time.Now().Add(15 * time.Second)
	for {
		conn.SetReadDeadline(deadline)
		_, message, err := conn.ReadMessage()
		if err != nil {
			if len(audio) > 0 {
				break
			}
			return "", fmt.Errorf("tts: read: %w", err)
		}

		var response struct {
			Type      string `json:"type"`
			Data      string `json:"data"`
			Done      bool   `json:"done"`
			ContextID string `json:"context_id"`
			Error     string `json:"error"`
		}
		if err := json.Unmarshal(message, &response); err != nil {
			continue
		}
		if response.Error != "" {
			log.Warn().Str("error", response.Error).Msg("TTS provider error")
			break
		}
		if response.Type == "chunk" && response.Data != "" {
			chunk, err := base64.StdEncoding.DecodeString(response.Data)
			if err == nil {
				audio = append(audio, chunk...)
			}
		}
		if response.Done {
			break
		}
	}

	if len(audio) == 0 {
		return "", nil
	}
	return base64.StdEncoding.EncodeToString(audio), nil
}
