package coordinator

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/yourusername/medinterp/internal/logger"
	"github.com/yourusername/medinterp/internal/realtime/hub"
	"github.com/yourusername/medinterp/internal/realtime/stt"
	"github.com/yourusername/medinterp/internal/realtime/transcoder"
)

// AttachAudioClient returns the ConversationState for conversationID,
// creating it on first use (shared with SubmitChatMessage's lazy-create
// path in coordinator.go), and ensures its Transcoder + Realtime STT
// Session are started exactly once regardless of which entry point
// reaches the state first.
func (c *Coordinator) AttachAudioClient(ctx context.Context, conversationID uuid.UUID) *ConversationState {
	state := c.getOrCreateState(conversationID)
	state.startResourcesOnce.Do(func() {
		c.startRealtimeResources(ctx, state)
	})
	return state
}

// startRealtimeResources builds the conversation's Transcoder and Realtime
// STT Session exactly once (see AttachAudioClient's startResourcesOnce).
// One long-lived Transcoder is shared across any number of STT reconnects
// within the conversation's lifetime; no PCM reaches a cooling/connecting
// session because SendAudio no-ops outside StateOpen, and the client's
// single upload stream is never interrupted just because the upstream STT
// leg is cycling.
func (c *Coordinator) startRealtimeResources(ctx context.Context, state *ConversationState) {
	log := logger.WithComponent("coordinator")
	conversationID := state.ConversationID

	// A missing upstream key is a construction-time config error: refuse to
	// connect at all instead of feeding the retry loop empty credentials.
	if c.cfg.STTAPIKey == "" {
		log.Error().Str("conversation_id", conversationID.String()).Msg("STT API key not configured, realtime transcription disabled")
		c.hub.BroadcastMessage(conversationID, hub.Envelope{Type: "error", Payload: map[string]string{"message": "transcription is not configured"}})
		return
	}

	tc := transcoder.New(c.cfg.FFmpegPath)
	session := stt.New(c.cfg.STTWSURL, c.cfg.STTAPIKey, c.cfg.STTModel, "")

	state.mu.Lock()
	state.Transcoder = tc
	state.STT = session
	state.IsConnecting = true
	state.mu.Unlock()

	session.HasClients = func() bool { return c.hub.ClientCount(conversationID) > 0 }

	session.OnOpen = func() {
		state.mu.Lock()
		state.IsConnected = true
		state.IsConnecting = false
		state.ReconnectionAttempts = 0
		state.CooldownUntil = time.Time{}
		state.mu.Unlock()
		c.hub.BroadcastMessage(conversationID, hub.Envelope{Type: "openai_connected"})
	}
	session.OnClosed = func() {
		state.mu.Lock()
		state.IsConnected = false
		state.mu.Unlock()
		c.hub.BroadcastMessage(conversationID, hub.Envelope{Type: "openai_disconnected"})
	}
	session.OnRetrying = func(err error, cooldown time.Duration) {
		state.mu.Lock()
		state.IsConnected = false
		state.IsConnecting = false
		state.ReconnectionAttempts++
		state.CooldownUntil = time.Now().Add(cooldown)
		state.mu.Unlock()
		c.hub.BroadcastMessage(conversationID, hub.Envelope{Type: "error", Payload: map[string]string{"message": "retrying"}})
	}
	session.OnCompleted = func(ev stt.CompletedEvent) {
		state.enqueue(ev.Transcript)
	}
	session.OnTerminal = func() {
		state.mu.Lock()
		state.IsConnected = false
		state.mu.Unlock()
	}

	if err := tc.Start(); err != nil {
		log.Error().Err(err).Str("conversation_id", conversationID.String()).Msg("transcoder failed to start")
		c.hub.BroadcastMessage(conversationID, hub.Envelope{Type: "error", Payload: map[string]string{"message": "transcoder failed to start"}})
		return
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Warn().Interface("panic", r).Str("conversation_id", conversationID.String()).Msg("Recovered from panic in PCM consumer")
			}
		}()

		for {
			select {
			case chunk, ok := <-tc.Data:
				if !ok {
					return
				}
				state.mu.Lock()
				paused := state.IsPaused
				state.mu.Unlock()
				if paused {
					continue
				}
				if err := session.SendAudio(chunk); err != nil {
					log.Debug().Err(err).Msg("failed to forward PCM to STT")
				}
			case <-tc.Finished:
				// Finished can race chunks still buffered on Data; forward
				// those before the commit so the tail of the utterance isn't
				// cut off.
				for drained := false; !drained; {
					select {
					case chunk := <-tc.Data:
						state.mu.Lock()
						paused := state.IsPaused
						state.mu.Unlock()
						if !paused {
							if err := session.SendAudio(chunk); err != nil {
								log.Debug().Err(err).Msg("failed to forward PCM to STT")
							}
						}
					default:
						drained = true
					}
				}
				if err := session.Commit(); err != nil {
					log.Debug().Err(err).Msg("failed to commit input buffer")
				}
				return
			case err := <-tc.Err:
				log.Error().Err(err).Str("conversation_id", conversationID.String()).Msg("transcoder error, tearing down conversation")
				c.hub.BroadcastMessage(conversationID, hub.Envelope{Type: "error", Payload: map[string]string{"message": "audio transcoding failed"}})
				c.forceTeardown(conversationID)
				return
			case <-state.closing:
				return
			}
		}
	}()

	if err := session.Connect(ctx); err != nil {
		log.Error().Err(err).Str("conversation_id", conversationID.String()).Msg("STT session failed to connect")
	}
}

// WriteAudioChunk forwards one container/codec chunk from the audio channel
// into the conversation's Transcoder.
func (c *Coordinator) WriteAudioChunk(state *ConversationState, chunk []byte) error {
	state.mu.Lock()
	tc := state.Transcoder
	state.mu.Unlock()
	if tc == nil || !tc.IsReadyForData() {
		return transcoder.ErrNotReady
	}
	return tc.WriteChunk(chunk)
}

// FinalizeAudio closes the transcoder's input, triggering its finished event
// and the downstream commit.
func (c *Coordinator) FinalizeAudio(state *ConversationState) error {
	state.mu.Lock()
	tc := state.Transcoder
	state.mu.Unlock()
	if tc == nil {
		return nil
	}
	return tc.FinalizeInput()
}

// PauseAudio sets isPaused; transcoder data is dropped, not buffered, until
// resume.
func (c *Coordinator) PauseAudio(state *ConversationState) {
	state.mu.Lock()
	state.IsPaused = true
	session := state.STT
	state.mu.Unlock()
	if session != nil {
		session.Pause()
	}
}

func (c *Coordinator) ResumeAudio(state *ConversationState) {
	state.mu.Lock()
	state.IsPaused = false
	session := state.STT
	state.mu.Unlock()
	if session != nil {
		session.Resume()
	}
}
