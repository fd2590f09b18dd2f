package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var (
	// ErrEmailTaken indicates the email already has an account.
	ErrEmailTaken = errors.New("users: email already registered")
	// ErrInvalidCredentials covers unknown email and wrong password alike.
	ErrInvalidCredentials = errors.New("users: invalid credentials")
	// ErrAccountDisabled indicates a deactivated account.
	ErrAccountDisabled = errors.New("users: account disabled")
	// ErrUnknownUser indicates no active account for the identifier.
	ErrUnknownUser = errors.New("users: unknown user")
	// ErrInvalidInput indicates a malformed email or empty password.
	ErrInvalidInput = errors.New("users: invalid input")

	errMissingDatabase   = errors.New("users: database connection required")
	errMissingIDProvider = errors.New("users: id provider required")
)

// IDProvider issues identifiers for new users and devices.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies of the account service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service manages accounts and device registrations.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewService constructs the account service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.IDProvider == nil {
		return nil, errMissingIDProvider
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: cfg.Database, clock: clock, idProvider: cfg.IDProvider, logger: logger}, nil
}

// Register creates a new account with a bcrypt-hashed password.
func (s *Service) Register(ctx context.Context, email, password string) (User, error) {
	normalized, err := normalizeEmail(email)
	if err != nil {
		return User{}, err
	}
	if password == "" {
		return User{}, fmt.Errorf("%w: empty password", ErrInvalidInput)
	}

	var existing User
	err = s.db.WithContext(ctx).Where("email = ?", normalized).Take(&existing).Error
	if err == nil {
		return User{}, ErrEmailTaken
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, fmt.Errorf("users: email lookup: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, fmt.Errorf("users: hash password: %w", err)
	}

	id, err := s.idProvider.NewID()
	if err != nil {
		return User{}, fmt.Errorf("users: generate id: %w", err)
	}

	user := User{
		ID:           id,
		Email:        normalized,
		PasswordHash: string(hash),
		IsActive:     true,
		CreatedAt:    s.clock().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		// The unique index closes the lookup/create race.
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return User{}, ErrEmailTaken
		}
		return User{}, fmt.Errorf("users: create account: %w", err)
	}

	s.logger.Info("account registered", zap.String("user_id", user.ID))
	return user, nil
}

// Authenticate verifies email + password. Unknown email and wrong
// password are indistinguishable to the caller.
func (s *Service) Authenticate(ctx context.Context, email, password string) (User, error) {
	normalized, err := normalizeEmail(email)
	if err != nil {
		return User{}, ErrInvalidCredentials
	}

	var user User
	err = s.db.WithContext(ctx).Where("email = ?", normalized).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, ErrInvalidCredentials
	}
	if err != nil {
		return User{}, fmt.Errorf("users: account lookup: %w", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return User{}, ErrInvalidCredentials
	}
	if !user.IsActive {
		return User{}, ErrAccountDisabled
	}
	return user, nil
}

// GetActive returns the active account for the id, for refresh-token
// exchange.
func (s *Service) GetActive(ctx context.Context, userID string) (User, error) {
	if userID == "" {
		return User{}, ErrUnknownUser
	}
	var user User
	err := s.db.WithContext(ctx).Where("id = ? AND is_active = ?", userID, true).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, ErrUnknownUser
	}
	if err != nil {
		return User{}, fmt.Errorf("users: account lookup: %w", err)
	}
	return user, nil
}

// RegisterDevice records a named client installation for the user.
func (s *Service) RegisterDevice(ctx context.Context, userID, name string) (Device, error) {
	if userID == "" {
		return Device{}, ErrUnknownUser
	}
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return Device{}, fmt.Errorf("%w: empty device name", ErrInvalidInput)
	}

	id, err := s.idProvider.NewID()
	if err != nil {
		return Device{}, fmt.Errorf("users: generate id: %w", err)
	}

	device := Device{
		ID:        id,
		UserID:    userID,
		Name:      trimmed,
		CreatedAt: s.clock().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&device).Error; err != nil {
		return Device{}, fmt.Errorf("users: create device: %w", err)
	}

	s.logger.Info("device registered", zap.String("user_id", userID), zap.String("device_id", device.ID))
	return device, nil
}

func normalizeEmail(email string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(email))
	if normalized == "" || !strings.Contains(normalized, "@") {
		return "", fmt.Errorf("%w: malformed email", ErrInvalidInput)
	}
	return normalized, nil
}
