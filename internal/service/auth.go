package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sakif/snippetvault/internal/apperror"
	"github.com/sakif/snippetvault/internal/auth"
	"github.com/sakif/snippetvault/internal/model"
	"github.com/sakif/snippetvault/internal/repository"
)

// APITokenTTL is the lifetime of tokens handed to the CLI.
const APITokenTTL = 30 * 24 * time.Hour

// AuthService turns a GitHub identity into a user record and a JWT.
//
//	AuthHandler (HTTP) → AuthService → UserRepository
//	                               ↘ TokenService (JWT)
//
// Cookies, redirects and the OAuth state check stay in the handler.
type AuthService struct {
	users  repository.UserRepository
	tokens *auth.TokenService
	logger *slog.Logger
}

// NewAuthService creates an AuthService storing users in users and signing
// with tokens.
func NewAuthService(users repository.UserRepository, tokens *auth.TokenService, logger *slog.Logger) *AuthService {
	return &AuthService{
		users:  users,
		tokens: tokens,
		logger: logger,
	}
}

// AuthResult bundles the user and the issued JWT for the handler.
type AuthResult struct {
	User  *model.User
	Token string
}

// LoginOrRegisterGitHub upserts on the GitHub id, which GitHub guarantees is
// stable: the first login inserts, later ones refresh login, email and
// avatar. The internal user id never changes, so neither does snippet
// ownership.
func (s *AuthService) LoginOrRegisterGitHub(ctx context.Context, ghUser *auth.GitHubUser) (*AuthResult, error) {
	if ghUser == nil {
		return nil, fmt.Errorf("service/auth: GitHub user must not be nil")
	}

	user := &model.User{
		GitHubID:  ghUser.ID,
		Login:     ghUser.Login,
		Email:     ghUser.Email,
		AvatarURL: ghUser.AvatarURL,
	}
	if err := s.users.Upsert(ctx, user); err != nil {
		return nil, fmt.Errorf("service/auth: upserting user (githubID=%d): %w", ghUser.ID, err)
	}

	s.logger.Info("user authenticated via GitHub",
		slog.String("user_id", user.ID),
		slog.String("login", user.Login),
	)

	token, err := s.tokens.Generate(user.ID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: generating token for user %s: %w", user.ID, err)
	}
	return &AuthResult{User: user, Token: token}, nil
}

// GetUserByID backs GET /api/me.
func (s *AuthService) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	if id == "" {
		return nil, apperror.AuthRequired()
	}
	user, err := s.users.GetUserByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service/auth: fetching user %s: %w", id, err)
	}
	return user, nil
}

// IssueAPIToken signs a long-lived bearer token for an already
// authenticated user, e.g. for snippetctl.
func (s *AuthService) IssueAPIToken(ctx context.Context, userID string) (string, time.Time, error) {
	if _, err := s.GetUserByID(ctx, userID); err != nil {
		return "", time.Time{}, err
	}
	token, err := s.tokens.GenerateWithDuration(userID, APITokenTTL)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("service/auth: generating API token: %w", err)
	}
	s.logger.Info("API token issued", slog.String("user_id", userID))
	return token, time.Now().Add(APITokenTTL).UTC(), nil
}

// ValidateToken returns the user id a JWT was issued to.
func (s *AuthService) ValidateToken(tokenStr string) (string, error) {
	userID, err := s.tokens.Validate(tokenStr)
	if err != nil {
		return "", fmt.Errorf("service/auth: %w", err)
	}
	return userID, nil
}

// SessionTTL is how long the cookie set after login should live.
func (s *AuthService) SessionTTL() time.Duration {
	return s.tokens.TTL()
}
