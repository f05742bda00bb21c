package auth

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/jwalitptl/consult-api/internal/model"
	"github.com/jwalitptl/consult-api/internal/repository"
	"github.com/jwalitptl/consult-api/internal/validation"
	"github.com/jwalitptl/consult-api/pkg/errors"
	"github.com/jwalitptl/consult-api/pkg/logger"
	"github.com/jwalitptl/consult-api/pkg/metrics"
	"github.com/jwalitptl/consult-api/pkg/security"
)

var (
	ErrInvalidCredentials = stderrors.New("invalid credentials")
	ErrInvalidToken       = stderrors.New("invalid session token")
)

const (
	DefaultSessionTTL = 24 * time.Hour

	invalidCredentialsMessage = "Invalid username or password"
)

type Config struct {
	Secret string
	TTL    time.Duration
}

type sessionClaims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// LoginResult is what a successful login hands to the transport layer
type LoginResult struct {
	User    *model.User
	Session *model.Session
	Token   string
}

type Service struct {
	users     repository.UserRepository
	sessions  repository.SessionRepository
	hasher    security.PasswordHasher
	validator *validation.Validator
	metrics   *metrics.Metrics
	logger    *logger.Logger
	secret    []byte
	ttl       time.Duration
	now       func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

// dummyPassword is hashed once so unknown users cost the same as wrong passwords
const dummyPassword = "consult-api-dummy-password"

func NewService(users repository.UserRepository, sessions repository.SessionRepository,
	hasher security.PasswordHasher, v *validation.Validator, m *metrics.Metrics, cfg Config, log *logger.Logger) *Service {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		users:     users,
		sessions:  sessions,
		hasher:    hasher,
		validator: v,
		metrics:   m,
		logger:    log.With("auth"),
		secret:    []byte(cfg.Secret),
		ttl:       ttl,
		now:       time.Now,
	}
}

func (s *Service) unknownUserHash() string {
	s.dummyOnce.Do(func() {
		hash, err := s.hasher.Hash(dummyPassword)
		if err != nil {
			s.logger.Error(err, "failed to prepare dummy password hash")
			return
		}
		s.dummyHash = hash
	})
	return s.dummyHash
}

// TTL is the lifetime of sessions and their cookies
func (s *Service) TTL() time.Duration {
	return s.ttl
}

func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// Register creates a clinician account; the role defaults to doctor
func (s *Service) Register(ctx context.Context, req *model.RegisterRequest) (*model.User, error) {
	req.Username = strings.TrimSpace(req.Username)
	req.Name = strings.TrimSpace(req.Name)
	if err := s.validator.Register(req); err != nil {
		return nil, err
	}

	username := normalizeUsername(req.Username)
	if _, err := s.users.GetByUsername(ctx, username); err == nil {
		return nil, errors.Conflict("Username already exists", nil)
	} else if !stderrors.Is(err, repository.ErrNotFound) {
		return nil, errors.NewInternal(fmt.Errorf("failed to look up user: %w", err))
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to hash password: %w", err))
	}

	user := &model.User{
		ID:           uuid.New(),
		Username:     username,
		PasswordHash: hash,
		Name:         req.Name,
		Role:         model.RoleDoctor,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.users.Create(ctx, user); err != nil {
		if stderrors.Is(err, repository.ErrConflict) {
			return nil, errors.Conflict("Username already exists", err)
		}
		return nil, errors.NewInternal(fmt.Errorf("failed to create user: %w", err))
	}

	s.logger.Info("user registered", "user_id", user.ID.String(), "role", user.Role)
	return user, nil
}

// Login checks the credentials and opens a server-side session. Unknown users
// and wrong passwords are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, req *model.LoginRequest) (*LoginResult, error) {
	if err := s.validator.Login(req); err != nil {
		s.observeLogin("invalid_request")
		return nil, err
	}

	username := normalizeUsername(req.Username)
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if stderrors.Is(err, repository.ErrNotFound) {
			_ = s.hasher.Compare(s.unknownUserHash(), req.Password)
			s.logger.Info("login failed: unknown user", "username", username)
			s.observeLogin("unknown_user")
			return nil, invalidCredentials()
		}
		s.observeLogin("error")
		return nil, errors.NewInternal(fmt.Errorf("failed to look up user: %w", err))
	}

	if err := s.hasher.Compare(user.PasswordHash, req.Password); err != nil {
		if stderrors.Is(err, security.ErrMalformedHash) {
			s.logger.Error(err, "stored password hash is malformed", "user_id", user.ID.String())
		} else {
			s.logger.Info("login failed: wrong password", "user_id", user.ID.String())
		}
		s.observeLogin("wrong_password")
		return nil, invalidCredentials()
	}

	now := s.now().UTC()
	session := &model.Session{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		s.observeLogin("error")
		return nil, errors.NewInternal(fmt.Errorf("failed to create session: %w", err))
	}

	token, err := s.signToken(session)
	if err != nil {
		s.observeLogin("error")
		return nil, errors.NewInternal(err)
	}

	s.observeLogin("success")
	s.logger.Info("user logged in", "user_id", user.ID.String())
	return &LoginResult{User: user, Session: session, Token: token}, nil
}

// Authenticate resolves a cookie token to its user. Every failure is a 401.
func (s *Service) Authenticate(ctx context.Context, token string) (*model.User, *model.Session, error) {
	claims, err := s.parseToken(token)
	if err != nil {
		return nil, nil, &errors.AppError{Code: errors.ErrUnauthorized, Message: "Unauthorized", Err: err}
	}

	session, err := s.sessions.Get(ctx, claims.SessionID)
	if err != nil {
		if stderrors.Is(err, repository.ErrNotFound) {
			return nil, nil, &errors.AppError{Code: errors.ErrUnauthorized, Message: "Unauthorized", Err: err}
		}
		return nil, nil, errors.NewInternal(fmt.Errorf("failed to load session: %w", err))
	}
	if session.Expired(s.now()) || session.UserID.String() != claims.Subject {
		return nil, nil, errors.Unauthorized("")
	}

	user, err := s.users.Get(ctx, session.UserID)
	if err != nil {
		if stderrors.Is(err, repository.ErrNotFound) {
			return nil, nil, errors.Unauthorized("")
		}
		return nil, nil, errors.NewInternal(fmt.Errorf("failed to load user: %w", err))
	}
	return user, session, nil
}

// Logout removes the session behind token. Unknown or invalid tokens are not an error.
func (s *Service) Logout(ctx context.Context, token string) error {
	claims, err := s.parseToken(token)
	if err != nil {
		return nil
	}
	if err := s.sessions.Delete(ctx, claims.SessionID); err != nil && !stderrors.Is(err, repository.ErrNotFound) {
		return errors.NewInternal(fmt.Errorf("failed to delete session: %w", err))
	}
	return nil
}

func (s *Service) signToken(session *model.Session) (string, error) {
	claims := sessionClaims{
		SessionID: session.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   session.UserID.String(),
			IssuedAt:  jwt.NewNumericDate(session.CreatedAt),
			ExpiresAt: jwt.NewNumericDate(session.ExpiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, nil
}

func (s *Service) parseToken(token string) (*sessionClaims, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}
	claims := &sessionClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.SessionID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (s *Service) observeLogin(outcome string) {
	if s.metrics != nil {
		s.metrics.LoginAttempts.WithLabelValues(outcome).Inc()
	}
}

func invalidCredentials() *errors.AppError {
	return &errors.AppError{
		Code:    errors.ErrUnauthorized,
		Message: invalidCredentialsMessage,
		Err:     ErrInvalidCredentials,
	}
}
