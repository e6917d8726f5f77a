// Package stt maintains the realtime speech-to-text WebSocket session that
// the Coordinator owns, one per live conversation.
package stt

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/yourusername/medinterp/internal/logger"
)

// State is the Realtime STT Session connection lifecycle.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateOpen         State = "open"
	StateCooling      State = "cooling"
	StateTerminal     State = "terminal"
)

const maxCooldown = 30 * time.Second

// CompletedEvent is a finalized utterance from the upstream STT provider.
type CompletedEvent struct {
	Transcript string
}

// Session owns exactly one upstream WebSocket connection for one conversation.
// It is exclusively owned by the coordinator's ConversationState; no other
// component may hold a reference across a teardown.
type Session struct {
	wsURL    string
	apiKey   string
	model    string
	language string

	// HasClients reports whether the conversation still has subscribed
	// control-channel clients; a scheduled reconnect with zero clients goes
	// terminal instead of reconnecting.
	HasClients func() bool

	OnOpen      func()
	OnClosed    func()
	OnRetrying  func(err error, cooldown time.Duration)
	OnCompleted func(CompletedEvent)
	OnTerminal  func()

	mu               sync.Mutex
	conn             *websocket.Conn
	state            State
	paused           bool
	reconnectAttempt int

	ctx    context.Context
	cancel context.CancelFunc
}

func New(wsURL, apiKey, model, language string) *Session {
	return &Session{
		wsURL:    wsURL,
		apiKey:   apiKey,
		model:    model,
		language: language,
		state:    StateDisconnected,
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connect dials the upstream session and starts the read loop. It may be
// called again after a close/error triggers a scheduled reconnect.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateTerminal {
		s.mu.Unlock()
		return fmt.Errorf("stt: session is terminal")
	}
	s.state = StateConnecting
	s.mu.Unlock()

	log := logger.WithComponent("stt")

	header := http.Header{}
	header.Set("Authorization", "Bearer "+s.apiKey)
	header.Set("OpenAI-Beta", "realtime=v1")

	url := s.wsURL
	if s.model != "" {
		url = fmt.Sprintf("%s?intent=transcription", s.wsURL)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		s.transitionToCooling(err)
		return err
	}

	s.mu.Lock()
	s.conn = conn
	s.state = StateOpen
	s.reconnectAttempt = 0
	connCtx, cancel := context.WithCancel(ctx)
	s.ctx = connCtx
	s.cancel = cancel
	s.mu.Unlock()

	if err := s.sendConfig(); err != nil {
		log.Error().Err(err).Msg("failed to send transcription_session.update")
		s.transitionToCooling(err)
		return err
	}

	if s.OnOpen != nil {
		s.OnOpen()
	}

	go s.readLoop(connCtx, conn)
	return nil
}

func (s *Session) sendConfig() error {
	frame := map[string]any{
		"type": "transcription_session.update",
		"session": map[string]any{
			"input_audio_transcription": map[string]any{
				"model":    s.model,
				"language": s.language,
			},
			"turn_detection": map[string]any{
				"type":                "server_vad",
				"threshold":           0.5,
				"prefix_padding_ms":   300,
				"silence_duration_ms": 500,
				"create_response":     false,
			},
			"include": []string{"item.input_audio_transcription.logprobs"},
		},
	}
	return s.writeJSON(frame)
}

func (s *Session) writeJSON(v any) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("stt: not connected")
	}
	return conn.WriteJSON(v)
}

// SendAudio forwards one PCM chunk, base64-encoded, unless paused or not open.
func (s *Session) SendAudio(pcm []byte) error {
	s.mu.Lock()
	paused := s.paused
	state := s.state
	s.mu.Unlock()

	if paused || state != StateOpen {
		return nil
	}

	return s.writeJSON(map[string]any{
		"type":  "input_audio_buffer.append",
		"audio": base64.StdEncoding.EncodeToString(pcm),
	})
}

// Commit sends input_audio_buffer.commit; called exactly once per Transcoder
// "finished" event.
func (s *Session) Commit() error {
	return s.writeJSON(map[string]any{"type": "input_audio_buffer.commit"})
}

// Pause stops audio forwarding without tearing down the connection.
func (s *Session) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
}

// Resume re-enables audio forwarding.
func (s *Session) Resume() {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
}

func (s *Session) readLoop(ctx context.Context, conn *websocket.Conn) {
	log := logger.WithComponent("stt")
	defer func() {
		if r := recover(); r != nil {
			log.Warn().Interface("panic", r).Msg("Recovered from panic in STT read loop")
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			closeErr, isClose := err.(*websocket.CloseError)
			if isClose && closeErr.Code == websocket.CloseNormalClosure {
				s.mu.Lock()
				s.state = StateDisconnected
				s.mu.Unlock()
				if s.OnClosed != nil {
					s.OnClosed()
				}
				return
			}
			s.transitionToCooling(err)
			return
		}

		var frame struct {
			Type       string `json:"type"`
			Transcript string `json:"transcript"`
			Error      struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}

		switch frame.Type {
		case "transcription_session.created":
			log.Debug().Msg("transcription session created")
		case "conversation.item.input_audio_transcription.completed":
			if s.OnCompleted != nil {
				s.OnCompleted(CompletedEvent{Transcript: frame.Transcript})
			}
		case "error":
			log.Warn().Str("message", frame.Error.Message).Msg("upstream STT error frame")
		}

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// transitionToCooling schedules a reconnect with exponential backoff, capped
// at 30s, reset on the next successful open.
func (s *Session) transitionToCooling(cause error) {
	s.mu.Lock()
	if s.state == StateTerminal {
		s.mu.Unlock()
		return
	}
	s.state = StateCooling
	s.reconnectAttempt++
	attempt := s.reconnectAttempt
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.mu.Unlock()

	delay := backoffDelay(attempt)
	if s.OnRetrying != nil {
		s.OnRetrying(cause, delay)
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				log := logger.WithComponent("stt")
				log.Warn().Interface("panic", r).Msg("Recovered from panic in STT reconnect")
			}
		}()

		time.Sleep(delay)

		if s.HasClients != nil && !s.HasClients() {
			s.mu.Lock()
			s.state = StateTerminal
			s.mu.Unlock()
			if s.OnTerminal != nil {
				s.OnTerminal()
			}
			return
		}

		ctx := s.ctx
		if ctx == nil {
			ctx = context.Background()
		}
		_ = s.Connect(ctx)
	}()
}

// backoffDelay computes min(30s, 2^attempt * 1s) via an exponential
// backoff.ExponentialBackOff configured with no randomization so the
// sequence is deterministic and test-observable. The first failure is
// attempt 1, which must yield 2s (2^1), so the generator starts at 2s
// rather than at the library's default 500ms initial interval.
func backoffDelay(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * time.Second
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = maxCooldown
	// The constructor already seeded the current interval from the default;
	// Reset re-seeds it from the 2s configured above.
	b.Reset()

	var d time.Duration
	for i := 0; i < attempt; i++ {
		d = b.NextBackOff()
	}
	if d > maxCooldown || d == backoff.Stop {
		d = maxCooldown
	}
	return d
}

// Destroy forcibly ends the session; no further events are emitted and no
// reconnect is scheduled.
func (s *Session) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateTerminal
	if s.cancel != nil {
		s.cancel()
	}
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}
