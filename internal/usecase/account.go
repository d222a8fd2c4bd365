package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/example/retina-grade/internal/logging"
	"github.com/example/retina-grade/internal/repository"
)

const sessionKeyPrefix = "session:"

var (
	// ErrInvalidCredentials is returned by Login when authentication fails.
	ErrInvalidCredentials = errors.New("invalid username or password")
	// ErrInvalidAccount is returned when registration input breaks the account rules.
	ErrInvalidAccount = errors.New("invalid account details")
)

// UserRepository defines the persistence operations needed by the account flows.
type UserRepository interface {
	Create(ctx context.Context, user *repository.User) error
	FindByUsername(ctx context.Context, username string) (*repository.User, error)
}

// TokenIssuer signs session tokens.
type TokenIssuer interface {
	Issue(subject, sessionID string) (string, time.Time, error)
	TTL() time.Duration
}

// Session is an established login.
type Session struct {
	ID        string
	Token     string
	ExpiresAt time.Time
}

// AccountUseCase implements registration, authentication and sessions.
type AccountUseCase struct {
	repo     UserRepository
	sessions Cache
	tokens   TokenIssuer
	logger   *zap.Logger
	hashCost int
	redisRetrier
}

// NewAccountUseCase constructs a new use case instance.
func NewAccountUseCase(repo UserRepository, sessions Cache, tokens TokenIssuer, logger *zap.Logger) *AccountUseCase {
	logger = logger.Named("account_usecase")
	return &AccountUseCase{
		repo:         repo,
		sessions:     sessions,
		tokens:       tokens,
		logger:       logger,
		hashCost:     bcrypt.DefaultCost,
		redisRetrier: newRedisRetrier(logger),
	}
}

// Register stores a new account. Usernames are compared byte for byte.
func (uc *AccountUseCase) Register(ctx context.Context, username, password string) error {
	if username == "" || password == "" {
		return fmt.Errorf("%w: username and password are required", ErrInvalidAccount)
	}
	// bcrypt only looks at the first 72 bytes.
	if len(password) > 72 {
		return fmt.Errorf("%w: password must be at most 72 bytes", ErrInvalidAccount)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), uc.hashCost)
	if err != nil {
		return logging.NewOperationError("usecase.hash_password", username, err)
	}
	user := &repository.User{
		Username:     username,
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC(),
	}
	if err := uc.repo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateUsername) {
			return repository.ErrDuplicateUsername
		}
		return err
	}
	uc.logger.Info("account registered", zap.String("username", username))
	return nil
}

// Authenticate reports whether the credentials exactly match a stored account.
// It only errors when the store cannot be consulted.
func (uc *AccountUseCase) Authenticate(ctx context.Context, username, password string) (bool, error) {
	user, err := uc.repo.FindByUsername(ctx, username)
	if errors.Is(err, repository.ErrUserNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	err = bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	if err != nil {
		return false, logging.NewOperationError("usecase.compare_password", username, err)
	}
	return true, nil
}

// Login authenticates and opens a session that lasts as long as the token.
func (uc *AccountUseCase) Login(ctx context.Context, username, password string) (*Session, error) {
	ok, err := uc.Authenticate(ctx, username, password)
	if err != nil {
		return nil, err
	}
	if !ok {
		uc.logger.Info("login rejected", zap.String("username", username))
		return nil, ErrInvalidCredentials
	}

	sessionID := uuid.NewString()
	token, expiresAt, err := uc.tokens.Issue(username, sessionID)
	if err != nil {
		return nil, logging.NewOperationError("usecase.issue_token", sessionID, err)
	}
	if err := uc.withRedisRetry(ctx, sessionID, "cache.set.session", func() error {
		return uc.sessions.Set(ctx, sessionKeyPrefix+sessionID, username, uc.tokens.TTL())
	}); err != nil {
		return nil, err
	}

	logging.WithOperation(uc.logger, "usecase.login", sessionID).Info("session opened", zap.String("username", username))
	return &Session{ID: sessionID, Token: token, ExpiresAt: expiresAt}, nil
}

// Logout closes a session; tokens bound to it stop working immediately.
func (uc *AccountUseCase) Logout(ctx context.Context, sessionID string) error {
	return uc.withRedisRetry(ctx, sessionID, "cache.del.session", func() error {
		return uc.sessions.Del(ctx, sessionKeyPrefix+sessionID)
	})
}

// SessionActive reports whether the session is still open.
func (uc *AccountUseCase) SessionActive(ctx context.Context, sessionID string) (bool, error) {
	var active bool
	err := uc.withRedisRetry(ctx, sessionID, "cache.exists.session", func() error {
		exists, err := uc.sessions.Exists(ctx, sessionKeyPrefix+sessionID)
		if err != nil {
			return err
		}
		active = exists
		return nil
	})
	return active, err
}
