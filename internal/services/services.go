package services

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/yourusername/medinterp/internal/config"
	"github.com/yourusername/medinterp/internal/logger"
	"github.com/yourusername/medinterp/internal/middleware"
	"github.com/yourusername/medinterp/internal/models"
	"github.com/yourusername/medinterp/internal/repository"
)

// Common errors
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserExists         = errors.New("user already exists")
	ErrNotFound           = errors.New("not found")
	ErrUnauthorized       = errors.New("unauthorized")
)

// Services holds the clinician account services. Conversation, patient and
// action orchestration lives in internal/realtime/coordinator instead, since
// that package also owns the in-memory realtime state those operations touch.
type Services struct {
	Auth *AuthService
	User *UserService
}

func NewServices(repos *repository.Repositories, cfg *config.Config) *Services {
	return &Services{
		Auth: NewAuthService(repos.User, cfg),
		User: NewUserService(repos.User),
	}
}

// ==================== Auth Service ====================

type AuthService struct {
	userRepo *repository.UserRepository
	cfg      *config.Config
}

func NewAuthService(userRepo *repository.UserRepository, cfg *config.Config) *AuthService {
	return &AuthService{userRepo: userRepo, cfg: cfg}
}

// RegisterInput holds clinician registration data.
type RegisterInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// LoginInput holds login data.
type LoginInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthResponse contains authentication tokens and user info.
type AuthResponse struct {
	User         *models.User `json:"user"`
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	ExpiresAt    time.Time    `json:"expires_at"`
}

// Register creates a new clinician account.
func (s *AuthService) Register(input RegisterInput) (*AuthResponse, error) {
	log := logger.WithComponent("auth-service")

	existing, err := s.userRepo.GetByEmail(input.Email)
	if err == nil && existing != nil {
		return nil, ErrUserExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		log.Error().Err(err).Msg("Failed to hash password")
		return nil, err
	}

	user := &models.User{
		Email:        input.Email,
		PasswordHash: string(hash),
		Name:         input.Name,
		Role:         "clinician",
	}

	if err := s.userRepo.Create(user); err != nil {
		log.Error().Err(err).Str("email", input.Email).Msg("Failed to create user")
		return nil, err
	}

	log.Info().Str("user_id", user.ID.String()).Str("email", input.Email).Msg("User registered")
	return s.generateTokens(user)
}

// Login authenticates a clinician and returns tokens.
func (s *AuthService) Login(input LoginInput) (*AuthResponse, error) {
	log := logger.WithComponent("auth-service")

	user, err := s.userRepo.GetByEmail(input.Email)
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(input.Password)); err != nil {
		log.Debug().Str("email", input.Email).Msg("Invalid password attempt")
		return nil, ErrInvalidCredentials
	}

	log.Info().Str("user_id", user.ID.String()).Msg("User logged in")
	return s.generateTokens(user)
}

// RefreshToken generates new tokens from a valid refresh token.
func (s *AuthService) RefreshToken(refreshToken string) (*AuthResponse, error) {
	log := logger.WithComponent("auth-service")

	claims, err := middleware.ParseToken(s.cfg.JWTSecret, refreshToken)
	if err != nil {
		return nil, ErrUnauthorized
	}

	user, err := s.userRepo.GetByID(claims.UserID)
	if err != nil {
		return nil, ErrUnauthorized
	}

	log.Debug().Str("user_id", user.ID.String()).Msg("Token refreshed")
	return s.generateTokens(user)
}

func (s *AuthService) generateTokens(user *models.User) (*AuthResponse, error) {
	expiresAt := time.Now().Add(24 * time.Hour)

	accessClaims := &middleware.Claims{
		UserID: user.ID,
		Email:  user.Email,
		Role:   user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	accessToken := jwt.NewWithClaims(jwt.SigningMethodHS256, accessClaims)
	accessTokenString, err := accessToken.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return nil, err
	}

	refreshClaims := &middleware.Claims{
		UserID: user.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(7 * 24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	refreshToken := jwt.NewWithClaims(jwt.SigningMethodHS256, refreshClaims)
	refreshTokenString, err := refreshToken.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return nil, err
	}

	return &AuthResponse{
		User:         user,
		AccessToken:  accessTokenString,
		RefreshToken: refreshTokenString,
		ExpiresAt:    expiresAt,
	}, nil
}

// ==================== User Service ====================

type UserService struct {
	userRepo *repository.UserRepository
}

func NewUserService(userRepo *repository.UserRepository) *UserService {
	return &UserService{userRepo: userRepo}
}

func (s *UserService) GetByID(id uuid.UUID) (*models.User, error) {
	return s.userRepo.GetByID(id)
}

// Update updates a clinician's profile information.
func (s *UserService) Update(id uuid.UUID, name string) (*models.User, error) {
	log := logger.WithComponent("user-service")

	user, err := s.userRepo.GetByID(id)
	if err != nil {
		return nil, ErrNotFound
	}

	user.Name = name

	if err := s.userRepo.Update(user); err != nil {
		log.Error().Err(err).Str("user_id", id.String()).Msg("Failed to update user")
		return nil, err
	}

	return user, nil
}
