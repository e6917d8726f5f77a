package api

import (
	"github.com/yourusername/medinterp/internal/config"
	"github.com/yourusername/medinterp/internal/realtime/coordinator"
	"github.com/yourusername/medinterp/internal/services"
)

// Handlers holds all HTTP and WebSocket handlers wired to the clinician
// account services and the realtime Coordinator.
type Handlers struct {
	Auth         *AuthHandler
	User         *UserHandler
	Conversation *ConversationHandler
	Control      *ControlHandler
	Audio        *AudioHandler
}

func NewHandlers(svc *services.Services, coord *coordinator.Coordinator, cfg *config.Config) *Handlers {
	return &Handlers{
		Auth:         NewAuthHandler(svc.Auth),
		User:         NewUserHandler(svc.User),
		Conversation: NewConversationHandler(coord),
		Control:      NewControlHandler(coord, cfg),
		Audio:        NewAudioHandler(coord),
	}
}
