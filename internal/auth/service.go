package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/strefethen/medassist-go/internal/clock"
	"github.com/strefethen/medassist-go/internal/logging"
	"github.com/strefethen/medassist-go/internal/validation"
)

// ServiceConfig configures token issuing.
type ServiceConfig struct {
	JWTSecret  string
	SessionTTL time.Duration
}

// Service registers accounts, issues sessions and authenticates tokens.
type Service struct {
	repo     *Repository
	hasher   PasswordHasher
	validate *validator.Validate
	clock    clock.Clock
	cfg      ServiceConfig
	logger   *zerolog.Logger
}

// NewService creates a Service.
func NewService(repo *Repository, hasher PasswordHasher, clk clock.Clock, cfg ServiceConfig, logger *zerolog.Logger) *Service {
	if clk == nil {
		clk = clock.System{}
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 7 * 24 * time.Hour
	}
	return &Service{
		repo:     repo,
		hasher:   hasher,
		validate: validation.New(),
		clock:    clk,
		cfg:      cfg,
		logger:   logging.OrNop(logger),
	}
}

// Register creates an account and signs it in.
func (s *Service) Register(ctx context.Context, input RegisterInput) (*Session, error) {
	input.Name = strings.TrimSpace(input.Name)
	input.Email = NormalizeEmail(input.Email)
	input.City = strings.TrimSpace(input.City)
	input.Phone = strings.TrimSpace(input.Phone)
	if input.Role == "" {
		input.Role = RolePatient
	}
	if err := validation.Check(s.validate, input); err != nil {
		return nil, err
	}
	if input.City == "" {
		input.City = DefaultCity
	}

	hash, err := s.hasher.Hash(input.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	account := Account{
		ID:        uuid.New().String(),
		Name:      input.Name,
		Email:     input.Email,
		Role:      input.Role,
		City:      input.City,
		Phone:     input.Phone,
		CreatedAt: s.clock.Now().UTC(),
	}
	if err := s.repo.CreateAccount(ctx, account, hash); err != nil {
		return nil, err
	}

	s.logger.Info().Str("user_id", account.ID).Str("role", string(account.Role)).Msg("account registered")
	return s.issue(ctx, account)
}

// Login checks credentials and issues a new session.
func (s *Service) Login(ctx context.Context, input LoginInput) (*Session, error) {
	input.Email = NormalizeEmail(input.Email)
	if err := validation.Check(s.validate, input); err != nil {
		return nil, err
	}

	account, hash, err := s.repo.GetAccountByEmail(ctx, input.Email)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, ErrInvalidCredentials
	}
	if err := s.hasher.Compare(hash, input.Password); err != nil {
		return nil, ErrInvalidCredentials
	}

	return s.issue(ctx, *account)
}

func (s *Service) issue(ctx context.Context, account Account) (*Session, error) {
	now := s.clock.Now()
	expiresAt := now.Add(s.cfg.SessionTTL)
	sessionID := uuid.New().String()

	if err := s.repo.CreateSession(ctx, sessionID, account.ID, expiresAt, now); err != nil {
		return nil, err
	}

	token, err := GenerateToken(s.cfg.JWTSecret, TokenPayload{
		Sub:       account.ID,
		Email:     account.Email,
		Role:      account.Role,
		SessionID: sessionID,
	}, now, expiresAt)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}

	return &Session{Token: token, ExpiresAt: expiresAt.UTC(), User: account}, nil
}

// Authenticate resolves a bearer token into the user it was issued to. The
// token must verify and its session must still exist.
func (s *Service) Authenticate(ctx context.Context, token string) (User, error) {
	payload, err := VerifyToken(s.cfg.JWTSecret, token, s.clock.Now)
	if err != nil {
		return User{}, err
	}

	active, err := s.repo.SessionActive(ctx, payload.SessionID, payload.Sub, s.clock.Now())
	if err != nil {
		return User{}, err
	}
	if !active {
		return User{}, ErrSessionRevoked
	}

	return User{
		ID:        payload.Sub,
		Email:     payload.Email,
		Role:      payload.Role,
		SessionID: payload.SessionID,
	}, nil
}

// Logout revokes the session behind user.
func (s *Service) Logout(ctx context.Context, user User) error {
	return s.repo.DeleteSession(ctx, user.SessionID)
}

// Me returns the stored account of user.
func (s *Service) Me(ctx context.Context, user User) (*Account, error) {
	account, err := s.repo.GetAccount(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, ErrAccountNotFound
	}
	return account, nil
}

// ListPatients returns every patient account.
func (s *Service) ListPatients(ctx context.Context) ([]Account, error) {
	return s.repo.ListByRole(ctx, RolePatient)
}

// PatientExists reports whether identity names a patient account.
func (s *Service) PatientExists(ctx context.Context, identity string) (bool, error) {
	account, _, err := s.repo.GetAccountByEmail(ctx, NormalizeEmail(identity))
	if err != nil {
		return false, err
	}
	return account != nil && account.Role == RolePatient, nil
}

// PatientPhone returns the phone number on the patient account named by
// identity, or "" when there is no such patient.
func (s *Service) PatientPhone(ctx context.Context, identity string) (string, error) {
	account, _, err := s.repo.GetAccountByEmail(ctx, NormalizeEmail(identity))
	if err != nil {
		return "", err
	}
	if account == nil || account.Role != RolePatient {
		return "", nil
	}
	return account.Phone, nil
}

// PurgeExpiredSessions deletes sessions that are past their expiry.
func (s *Service) PurgeExpiredSessions(ctx context.Context) (int64, error) {
	purged, err := s.repo.DeleteExpiredSessions(ctx, s.clock.Now())
	if err != nil {
		return 0, err
	}
	if purged > 0 {
		s.logger.Debug().Int64("purged", purged).Msg("expired sessions removed")
	}
	return purged, nil
}

// IsAuthError reports whether err means the caller is not authenticated.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrTokenExpired) || errors.Is(err, ErrTokenInvalid) || errors.Is(err, ErrSessionRevoked)
}
