package main

import (
	"encoding/json"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"

	"github.com/yourusername/medinterp/internal/api"
	"github.com/yourusername/medinterp/internal/config"
	"github.com/yourusername/medinterp/internal/database"
	"github.com/yourusername/medinterp/internal/logger"
	appMiddleware "github.com/yourusername/medinterp/internal/middleware"
	"github.com/yourusername/medinterp/internal/realtime/coordinator"
	"github.com/yourusername/medinterp/internal/realtime/hub"
	"github.com/yourusername/medinterp/internal/realtime/llmops"
	"github.com/yourusername/medinterp/internal/realtime/tts"
	"github.com/yourusername/medinterp/internal/repository"
	"github.com/yourusername/medinterp/internal/security"
	"github.com/yourusername/medinterp/internal/services"
)

func main() {
	if err := godotenv.Load(); err != nil {
		// Not an error - we might be using system env vars
	}

	cfg := config.Load()

	logger.Init(cfg.IsDevelopment())
	log := logger.WithComponent("main")

	log.Info().Msg("Starting medical interpreter backend")

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}

	if err := database.Migrate(db); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}

	repos := repository.NewRepositories(db)
	svc := services.NewServices(repos, cfg)

	llmClient := llmops.NewClient(cfg.AnthropicKey, cfg.AnthropicModel)
	ttsClient := tts.NewClient(cfg.TTSWSURL, cfg.TTSAPIKey, cfg.TTSVoiceID)
	notificationHub := hub.New()

	piiConfig := security.NewPresidioConfig().
		WithEnabled(cfg.PresidioEnabled).
		WithURLs(cfg.PresidioAnalyzerURL, cfg.PresidioAnonymizerURL)
	piiClient := security.NewPresidioClient(piiConfig, logger.WithComponent("security"))

	coord := coordinator.New(cfg, repos, notificationHub, llmClient, ttsClient, piiClient)

	handlers := api.NewHandlers(svc, coord, cfg)

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(appMiddleware.RequestLogger)
	r.Use(middleware.Recoverer)

	corsOrigins := []string{"http://localhost:5173", "http://localhost:5174"}
	if cfg.IsProduction() {
		corsOrigins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"service": "Medical Interpreter API",
			"status":  "running",
			"version": "1.0.0",
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", handlers.Auth.Register)
			r.Post("/login", handlers.Auth.Login)
			r.Post("/refresh", handlers.Auth.RefreshToken)

			r.Group(func(r chi.Router) {
				r.Use(appMiddleware.JWTAuth(cfg.JWTSecret))
				r.Get("/me", handlers.User.GetMe)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(appMiddleware.JWTAuth(cfg.JWTSecret))

			r.Route("/users", func(r chi.Router) {
				r.Get("/me", handlers.User.GetMe)
				r.Put("/me", handlers.User.UpdateMe)
			})

			r.Route("/conversations", func(r chi.Router) {
				r.Get("/", handlers.Conversation.List)
				r.Get("/{id}/actions", handlers.Conversation.GetActions)
			})
		})
	})

	// Control Channel: path root, authenticated via ?token= rather than an
	// Authorization header.
	r.Get("/", handlers.Control.HandleWebSocket)

	// Audio Channel: no bearer auth, authorization assumed from an outer layer.
	r.Get("/transcription", handlers.Audio.HandleWebSocket)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	log.Info().Str("port", port).Str("env", cfg.Env).Msg("Server starting")
	log.Info().Msgf("Control channel: ws://localhost:%s/?token=<jwt>", port)
	log.Info().Msgf("Audio channel: ws://localhost:%s/transcription?conversationId=<id>", port)

	if err := http.ListenAndServe(":"+port, r); err != nil {
		log.Fatal().Err(err).Msg("Server failed to start")
	}
}
