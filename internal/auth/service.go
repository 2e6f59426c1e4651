// Package auth registers users, issues bearer tokens and resolves them back to
// a user id. Tokens are random hex strings; only an 8-character lookup prefix
// and a bcrypt hash of the whole token are stored.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/JakeFAU/linkscraper/internal/clock/system"
	"github.com/JakeFAU/linkscraper/internal/id/uuid"
	"github.com/JakeFAU/linkscraper/internal/scraper"
)

const (
	// TokenPrefixLen is the number of leading token characters stored in clear
	// for session lookup.
	TokenPrefixLen = 8
	// MinPasswordLen is the shortest accepted password.
	MinPasswordLen = 6
	// DefaultTokenTTL is how long an issued token stays valid.
	DefaultTokenTTL = 7 * 24 * time.Hour

	tokenBytes = 24
)

var (
	// ErrInvalidCredentials is returned when email or password do not match.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidToken is returned for missing, malformed, unknown or expired tokens.
	ErrInvalidToken = errors.New("invalid token")
)

// ValidationError reports unusable registration or login input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// Token is an issued bearer token.
type Token struct {
	Value     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      scraper.User `json:"user"`
}

// Config tunes token issuance. Zero values take defaults.
type Config struct {
	TokenTTL   time.Duration
	BcryptCost int
	Clock      scraper.Clock
	IDs        scraper.IDGenerator
	Logger     *zap.Logger
}

// Service implements registration, login and token resolution.
type Service struct {
	users  scraper.UserStore
	ttl    time.Duration
	cost   int
	clock  scraper.Clock
	ids    scraper.IDGenerator
	logger *zap.Logger
}

// NewService constructs a Service over users.
func NewService(users scraper.UserStore, cfg Config) (*Service, error) {
	if users == nil {
		return nil, errors.New("user store is required")
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = DefaultTokenTTL
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	if cfg.BcryptCost < bcrypt.MinCost || cfg.BcryptCost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost must be in [%d, %d], got %d", bcrypt.MinCost, bcrypt.MaxCost, cfg.BcryptCost)
	}
	if cfg.Clock == nil {
		cfg.Clock = system.New()
	}
	if cfg.IDs == nil {
		cfg.IDs = uuid.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Service{
		users:  users,
		ttl:    cfg.TokenTTL,
		cost:   cfg.BcryptCost,
		clock:  cfg.Clock,
		ids:    cfg.IDs,
		logger: cfg.Logger.Named("auth"),
	}, nil
}

// Register creates an account and signs it in. A taken email surfaces as
// scraper.ErrDuplicate.
func (s *Service) Register(ctx context.Context, email, password string) (Token, error) {
	email = strings.TrimSpace(email)
	if _, err := mail.ParseAddress(email); err != nil || len(email) > 255 {
		return Token{}, &ValidationError{Message: "Please provide a valid email"}
	}
	if len(password) < MinPasswordLen {
		return Token{}, &ValidationError{Message: fmt.Sprintf("Password must be at least %d characters long", MinPasswordLen)}
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return Token{}, fmt.Errorf("hash password: %w", err)
	}
	user, err := s.users.CreateUser(ctx, scraper.User{Email: email, PasswordHash: string(hash)})
	if err != nil {
		return Token{}, fmt.Errorf("create user: %w", err)
	}
	s.logger.Info("user registered", zap.Int64("user_id", user.ID))
	return s.issue(ctx, user)
}

// Login verifies credentials and issues a new token.
func (s *Service) Login(ctx context.Context, email, password string) (Token, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return Token{}, &ValidationError{Message: "Email and password are required"}
	}
	user, err := s.users.GetUserByEmail(ctx, email)
	if errors.Is(err, scraper.ErrNotFound) {
		return Token{}, ErrInvalidCredentials
	}
	if err != nil {
		return Token{}, fmt.Errorf("lookup user: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return Token{}, ErrInvalidCredentials
	}
	return s.issue(ctx, user)
}

// Resolve maps a raw bearer token to its user id.
func (s *Service) Resolve(ctx context.Context, raw string) (int64, error) {
	if len(raw) < TokenPrefixLen {
		return 0, ErrInvalidToken
	}
	sessions, err := s.users.GetSessionsByPrefix(ctx, raw[:TokenPrefixLen])
	if err != nil {
		return 0, fmt.Errorf("lookup sessions: %w", err)
	}
	now := s.clock.Now()
	for _, sess := range sessions {
		if !sess.ExpiresAt.After(now) {
			continue
		}
		if bcrypt.CompareHashAndPassword([]byte(sess.TokenHash), []byte(raw)) == nil {
			return sess.UserID, nil
		}
	}
	return 0, ErrInvalidToken
}

// Me returns the account behind userID.
func (s *Service) Me(ctx context.Context, userID int64) (scraper.User, error) {
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return scraper.User{}, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

func (s *Service) issue(ctx context.Context, user scraper.User) (Token, error) {
	raw, err := newToken()
	if err != nil {
		return Token{}, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(raw), s.cost)
	if err != nil {
		return Token{}, fmt.Errorf("hash token: %w", err)
	}
	id, err := s.ids.NewID()
	if err != nil {
		return Token{}, fmt.Errorf("session id: %w", err)
	}
	now := s.clock.Now()
	sess := scraper.Session{
		ID:          id,
		UserID:      user.ID,
		TokenPrefix: raw[:TokenPrefixLen],
		TokenHash:   string(hash),
		ExpiresAt:   now.Add(s.ttl),
		CreatedAt:   now,
	}
	if err := s.users.CreateSession(ctx, sess); err != nil {
		return Token{}, fmt.Errorf("store session: %w", err)
	}
	return Token{Value: raw, ExpiresAt: sess.ExpiresAt, User: user}, nil
}

func newToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
