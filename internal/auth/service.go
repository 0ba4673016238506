package auth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/kozaktomas/pixpursuit/internal/database"
	"github.com/kozaktomas/pixpursuit/internal/logging"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("incorrect username or password")
	ErrNotVerified        = errors.New("email address is not verified")
)

// Service registers users and exchanges credentials for tokens.
type Service struct {
	users   database.UserWriter
	tokens  *Tokens
	mailer  Mailer // nil when mail is not configured
	baseURL string
	cost    int
	log     zerolog.Logger
}

// NewService creates the account service. Without a mailer new accounts are
// verified immediately.
func NewService(users database.UserWriter, tokens *Tokens, mailer Mailer, baseURL string) *Service {
	return &Service{
		users:   users,
		tokens:  tokens,
		mailer:  mailer,
		baseURL: strings.TrimRight(baseURL, "/"),
		cost:    bcrypt.DefaultCost,
		log:     logging.Component("auth"),
	}
}

// Tokens returns the token signer shared with the HTTP middleware.
func (s *Service) Tokens() *Tokens {
	return s.tokens
}

// Register creates an account and mails a verification link.
func (s *Service) Register(ctx context.Context, username, email, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	user := &database.User{
		Username: username,
		Password: string(hash),
		Email:    email,
		Verified: s.mailer == nil,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return err
	}
	if s.mailer == nil {
		s.log.Info().Str("user", username).Msg("user registered without email verification")
		return nil
	}

	token, err := s.tokens.Issue(username, VerifyToken)
	if err != nil {
		return err
	}
	link := fmt.Sprintf("%s/api/v1/verify-email?token=%s", s.baseURL, url.QueryEscape(token))
	if err := s.mailer.SendVerification(ctx, email, username, link); err != nil {
		return fmt.Errorf("send verification email: %w", err)
	}
	s.log.Info().Str("user", username).Msg("user registered, verification sent")
	return nil
}

// Login checks the password and returns a token pair.
func (s *Service) Login(ctx context.Context, username, password string) (TokenPair, error) {
	user, err := s.users.GetUser(ctx, username)
	if errors.Is(err, database.ErrNotFound) {
		return TokenPair{}, ErrInvalidCredentials
	}
	if err != nil {
		return TokenPair{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)) != nil {
		return TokenPair{}, ErrInvalidCredentials
	}
	if !user.Verified {
		return TokenPair{}, ErrNotVerified
	}
	return s.tokens.Pair(user.Username)
}

// Refresh exchanges a refresh token for a new pair.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	username, err := s.tokens.Verify(refreshToken, RefreshToken)
	if err != nil {
		return TokenPair{}, err
	}
	if _, err := s.users.GetUser(ctx, username); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return TokenPair{}, ErrInvalidToken
		}
		return TokenPair{}, err
	}
	return s.tokens.Pair(username)
}

// VerifyEmail marks the account named in a verification token as verified.
func (s *Service) VerifyEmail(ctx context.Context, token string) (string, error) {
	username, err := s.tokens.Verify(token, VerifyToken)
	if err != nil {
		return "", err
	}
	if err := s.users.SetUserVerified(ctx, username); err != nil {
		return "", err
	}
	return username, nil
}
