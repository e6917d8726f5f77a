package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Log is the package-wide logger. Init must run before anything else logs.
var Log zerolog.Logger

// Init configures Log for the process. Development mode gets a colorized
// console writer with caller info; production gets line-delimited JSON on
// stdout for collection by whatever's scraping the container's logs.
func Init(isDevelopment bool) {
	zerolog.TimeFieldFormat = time.RFC3339

	if isDevelopment {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
		}
		Log = zerolog.New(output).With().Timestamp().Caller().Logger()
		return
	}
	Log = zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// WithComponent tags a logger with the subsystem emitting the message
// (e.g. "coordinator", "stt", "security").
func WithComponent(component string) zerolog.Logger {
	return Log.With().Str("component", component).Logger()
}

// WithRequestID tags a logger with the inbound HTTP request ID so a
// request's log lines can be grepped together.
func WithRequestID(requestID string) zerolog.Logger {
	return Log.With().Str("request_id", requestID).Logger()
}

// WithSessionID tags a logger with a conversation ID, used across the
// realtime pipeline and its upstream STT/TTS connections.
func WithSessionID(sessionID string) zerolog.Logger {
	return Log.With().Str("session_id", sessionID).Logger()
}

// WithUserID tags a logger with the authenticated clinician's user ID.
func WithUserID(userID string) zerolog.Logger {
	return Log.With().Str("user_id", userID).Logger()
}
