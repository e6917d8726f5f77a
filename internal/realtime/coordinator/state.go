package coordinator

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yourusername/medinterp/internal/realtime/stt"
	"github.com/yourusername/medinterp/internal/realtime/transcoder"
)

// utteranceJob is one completed transcript queued for the Post-Transcription
// Pipeline. Conversations process utterances strictly in arrival order.
type utteranceJob struct {
	transcript string
}

// ConversationState is the in-memory lifecycle record for one live
// conversation's realtime resources. It is owned exclusively by the
// Coordinator's state map; nothing else may hold a reference across a
// teardown.
type ConversationState struct {
	ConversationID uuid.UUID

	mu                   sync.Mutex
	Transcoder           *transcoder.Transcoder
	STT                  *stt.Session
	IsConnected          bool
	IsConnecting         bool
	CooldownUntil        time.Time
	ReconnectionAttempts int
	IsPaused             bool

	jobs    chan utteranceJob
	closing chan struct{}

	// startResourcesOnce guards startRealtimeResources so it runs exactly
	// once per conversation regardless of which entry point (the Audio
	// Channel attaching, or a chat_message arriving first and creating the
	// state ahead of any audio client) observes the state first.
	startResourcesOnce sync.Once
	teardownOnce       sync.Once
}

func newConversationState(conversationID uuid.UUID) *ConversationState {
	return &ConversationState{
		ConversationID: conversationID,
		jobs:           make(chan utteranceJob, 64),
		closing:        make(chan struct{}),
	}
}

// enqueue submits an utterance for sequential processing. Never blocks the
// STT read loop for long: the channel is buffered and the worker drains it
// one utterance at a time.
func (s *ConversationState) enqueue(transcript string) {
	select {
	case s.jobs <- utteranceJob{transcript: transcript}:
	case <-s.closing:
	}
}

// ConnectionStatus reports the upstream STT leg's state in the vocabulary
// the audio channel's backend_connected frame uses.
func (s *ConversationState) ConnectionStatus() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.IsConnected:
		return "openai_connected"
	case s.IsConnecting:
		return "openai_connecting"
	default:
		return "openai_disconnected"
	}
}

// teardown closes the closing channel so the pipeline worker and the PCM
// consumer exit, then stops the transcoder and destroys the STT session.
func (s *ConversationState) teardown() {
	s.teardownOnce.Do(func() {
		close(s.closing)

		s.mu.Lock()
		tc := s.Transcoder
		session := s.STT
		s.mu.Unlock()

		if tc != nil {
			tc.Stop()
		}
		if session != nil {
			session.Destroy()
		}
	})
}
