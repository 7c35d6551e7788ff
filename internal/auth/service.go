package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"dbis/internal/audit"
	dErrors "dbis/pkg/domain-errors"
	"dbis/pkg/platform/sentinel"
)

const accessTokenTTL = time.Hour

// TokenIssuer signs access tokens.
type TokenIssuer interface {
	GenerateAccessToken(userID uuid.UUID, roles []string, expiresIn time.Duration) (string, error)
}

// AuditPublisher records auth actions for the audit trail.
type AuditPublisher interface {
	Emit(ctx context.Context, base audit.Event) error
}

// Service handles registration and login.
type Service struct {
	users  Store
	tokens TokenIssuer
	clock  func() time.Time
	logger *slog.Logger
	audit  AuditPublisher
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) { s.audit = publisher }
}

func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewService constructs the auth service.
func NewService(users Store, tokens TokenIssuer, opts ...Option) *Service {
	s := &Service{
		users:  users,
		tokens: tokens,
		clock:  time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TokenPair is a successful authentication result.
type TokenPair struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
	User        *User     `json:"user"`
}

// Register creates an account and signs the first token.
func (s *Service) Register(ctx context.Context, email, password string) (*TokenPair, error) {
	user, err := NewUser(email, password, s.clock())
	if err != nil {
		return nil, err
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "email is already registered")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "storage failure")
	}

	s.emit(ctx, audit.Event{UserID: user.ID.String(), Action: audit.ActionUserRegistered})
	return s.issue(user)
}

// Login verifies credentials and signs a token. Unknown email and wrong
// password produce the same error.
func (s *Service) Login(ctx context.Context, email, password string) (*TokenPair, error) {
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid credentials")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "storage failure")
	}
	if !user.CheckPassword(password) {
		s.logger.WarnContext(ctx, "failed login attempt", "user_id", user.ID)
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid credentials")
	}

	s.emit(ctx, audit.Event{UserID: user.ID.String(), Action: audit.ActionUserLoggedIn})
	return s.issue(user)
}

func (s *Service) issue(user *User) (*TokenPair, error) {
	token, err := s.tokens.GenerateAccessToken(uuid.UUID(user.ID), user.Roles, accessTokenTTL)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to sign token")
	}
	return &TokenPair{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresAt:   s.clock().Add(accessTokenTTL),
		User:        user,
	}, nil
}

func (s *Service) emit(ctx context.Context, event audit.Event) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Emit(ctx, event); err != nil {
		s.logger.Warn("audit emit failed", "action", event.Action, "error", err)
	}
}
