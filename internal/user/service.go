// internal/user/service.go
package user

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/asaigon/storefront/internal/logger"
	"github.com/asaigon/storefront/internal/storage"
	"github.com/asaigon/storefront/internal/types/user"
	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrUserExists       = errors.New("user already exists")
	ErrInvalidCreds     = errors.New("invalid credentials")
	ErrPasswordTooShort = errors.New("password must be at least 8 characters")
	ErrLoginRequired    = errors.New("login is required")
	ErrLoginNotAdmin    = errors.New("admin login is taken by a customer account")
)

// Claims is the JWT payload. Role is informational; authorization reads the
// role from the store.
type Claims struct {
	jwt.RegisteredClaims
	Role user.Role `json:"role"`
}

type Service struct {
	repo      UserRepository
	jwtSecret []byte
	jwtTTL    time.Duration
}

func NewService(repo UserRepository, jwtSecret []byte, jwtTTL time.Duration) *Service {
	return &Service{repo: repo, jwtSecret: jwtSecret, jwtTTL: jwtTTL}
}

func (s *Service) Register(ctx context.Context, login, password string) (*user.User, error) {
	return s.create(ctx, login, password, user.RoleCustomer)
}

func (s *Service) create(ctx context.Context, login, password string, role user.Role) (*user.User, error) {
	if login == "" {
		return nil, ErrLoginRequired
	}
	if len(password) < 8 {
		return nil, ErrPasswordTooShort
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	u := &user.User{
		ID:           uuid.NewString(),
		Login:        login,
		PasswordHash: string(hash),
		Role:         role,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.repo.Create(ctx, u); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return nil, ErrUserExists
		}
		return nil, err
	}
	return u, nil
}

// EnsureAdmin creates the configured admin account on first start.
func (s *Service) EnsureAdmin(ctx context.Context, login, password string) error {
	existing, err := s.repo.FindByLogin(ctx, login)
	switch {
	case err == nil && existing.Role == user.RoleAdmin:
		return nil
	case err == nil:
		return fmt.Errorf("%w: %q", ErrLoginNotAdmin, login)
	case !errors.Is(err, storage.ErrNotFound):
		return fmt.Errorf("look up admin: %w", err)
	}
	if _, err := s.create(ctx, login, password, user.RoleAdmin); err != nil {
		return fmt.Errorf("create admin: %w", err)
	}
	logger.Log.Info("admin account created", zap.String("login", login))
	return nil
}

func (s *Service) Authenticate(ctx context.Context, login, password string) (string, error) {
	u, err := s.repo.FindByLogin(ctx, login)
	if err != nil {
		return "", ErrInvalidCreds
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return "", ErrInvalidCreds
	}
	now := time.Now().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   login,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.jwtTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Role: u.Role,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", err
	}
	return signed, nil
}
