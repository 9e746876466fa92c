package service

import (
	"context"
	"log"
	"net/mail"
	"strings"
	"time"

	"civicvoice-backend/apperrors"
	"civicvoice-backend/auth"
	"civicvoice-backend/models"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// UserStore is the persistence contract for accounts.
// Implemented by repository.UserRepository.
type UserStore interface {
	Create(ctx context.Context, user *models.User) error
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// TokenStore tracks revoked token ids.
// Implemented by repository.TokenRepository.
type TokenStore interface {
	Revoke(ctx context.Context, jti string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// AuthService handles registration, login and the token lifecycle
type AuthService struct {
	users  UserStore
	tokens TokenStore

	secret        []byte
	accessTTL     time.Duration
	refreshWindow time.Duration
}

// NewAuthService creates a new auth service
func NewAuthService(users UserStore, tokens TokenStore, secret string, accessTTL, refreshWindow time.Duration) *AuthService {
	return &AuthService{
		users:         users,
		tokens:        tokens,
		secret:        []byte(secret),
		accessTTL:     accessTTL,
		refreshWindow: refreshWindow,
	}
}

// RegisterRequest represents a registration request
type RegisterRequest struct {
	Name     string
	Email    string
	Password string
}

// Register creates a new account with a bcrypt-hashed password
func (s *AuthService) Register(ctx context.Context, req RegisterRequest) (*models.User, error) {
	problems := map[string]string{}
	if strings.TrimSpace(req.Name) == "" {
		problems["name"] = "name is required"
	} else if len(req.Name) > 255 {
		problems["name"] = "name must be at most 255 characters"
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		problems["email"] = "a valid email is required"
	}
	if len(req.Password) < 6 {
		problems["password"] = "password must be at least 6 characters"
	}
	if len(problems) > 0 {
		return nil, apperrors.Validation(problems)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	user := &models.User{
		Name:         req.Name,
		Email:        strings.ToLower(req.Email),
		PasswordHash: string(hash),
		Role:         models.RoleUser,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, wrapStoreErr(err)
	}
	return user, nil
}

// TokenResult is the token envelope returned by login and refresh
type TokenResult struct {
	AccessToken string       `json:"access_token"`
	TokenType   string       `json:"token_type"`
	ExpiresIn   int          `json:"expires_in"`
	User        *models.User `json:"user"`
}

// Login verifies credentials and issues an access token
func (s *AuthService) Login(ctx context.Context, email, password string) (*TokenResult, error) {
	user, err := s.users.GetByEmail(ctx, strings.ToLower(email))
	if err != nil {
		// Same failure for unknown email and bad password
		return nil, apperrors.Unauthorized("invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, apperrors.Unauthorized("invalid credentials")
	}
	return s.issue(user)
}

func (s *AuthService) issue(user *models.User) (*TokenResult, error) {
	token, _, err := auth.Issue(s.secret, user, s.accessTTL)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	return &TokenResult{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresIn:   int(s.accessTTL.Seconds()),
		User:        user,
	}, nil
}

// Me returns the account for an authenticated user id
func (s *AuthService) Me(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	return user, nil
}

// Refresh exchanges a token that is valid, or expired within the refresh
// window, for a fresh one. The presented token's id is revoked so it cannot
// be replayed.
func (s *AuthService) Refresh(ctx context.Context, rawToken string) (*TokenResult, error) {
	claims, err := auth.ParseAllowExpired(s.secret, rawToken)
	if err != nil {
		return nil, apperrors.Unauthorized("invalid token")
	}
	if claims.IssuedAt == nil || time.Since(claims.IssuedAt.Time) > s.refreshWindow {
		return nil, apperrors.Unauthorized("token too old to refresh")
	}

	revoked, err := s.tokens.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	if revoked {
		return nil, apperrors.Unauthorized("token revoked")
	}

	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return nil, apperrors.Unauthorized("invalid token")
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, apperrors.Unauthorized("invalid token")
	}

	if err := s.tokens.Revoke(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
		// The new token is still issued; the old one dies at expiry.
		log.Printf("Warning: failed to revoke refreshed token %s: %v", claims.ID, err)
	}

	return s.issue(user)
}

// Logout revokes the presented token's id
func (s *AuthService) Logout(ctx context.Context, claims *auth.Claims) error {
	if err := s.tokens.Revoke(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
		return apperrors.Internal(err)
	}
	return nil
}
