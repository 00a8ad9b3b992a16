package user

import (
	"context"
	"fmt"
	"time"

	passwordvalidator "github.com/wagslane/go-password-validator"
	"golang.org/x/crypto/bcrypt"

	"whisker/infrastructure"
	"whisker/pkg/jwt"
)

const minPasswordEntropy = 50

// UseCase is the identity collaborator consumed by the chat core: resolve a
// user by name, verify a password, look up the authenticated principal.
type UseCase interface {
	Register(ctx context.Context, username, password string) (*User, string, error)
	Login(ctx context.Context, username, password string) (*User, string, error)
	Resolve(ctx context.Context, username string) (*User, error)
	ByID(ctx context.Context, id int64) (*User, error)
	VerifyPassword(user *User, password string) bool
	UpdatePreferences(ctx context.Context, userID int64, description, imageFile string) error
}

type Service struct {
	repo   Repository
	tokens *jwt.JWT
}

func NewService(repo Repository, tokens *jwt.JWT) *Service {
	return &Service{repo: repo, tokens: tokens}
}

func (s *Service) Register(ctx context.Context, username, password string) (*User, string, error) {
	if username == "" || password == "" {
		return nil, "", infrastructure.ErrInvalidInput
	}
	if err := passwordvalidator.Validate(password, minPasswordEntropy); err != nil {
		return nil, "", infrastructure.ErrWeakPassword
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", fmt.Errorf("failed to hash password: %w", err)
	}

	newUser := &User{
		Username:     username,
		PasswordHash: string(hashed),
		Description:  "default",
		ImageFile:    "default",
		RegTime:      time.Now(),
	}

	created, err := s.repo.Create(ctx, newUser)
	if err != nil {
		return nil, "", err
	}

	token, err := s.tokens.GenerateToken(created.ID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate token: %w", err)
	}
	return created, token, nil
}

func (s *Service) Login(ctx context.Context, username, password string) (*User, string, error) {
	u, err := s.repo.ByUsername(ctx, username)
	if err != nil {
		return nil, "", infrastructure.ErrUnauthorized
	}
	if !s.VerifyPassword(u, password) {
		return nil, "", infrastructure.ErrUnauthorized
	}

	token, err := s.tokens.GenerateToken(u.ID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate token: %w", err)
	}
	return u, token, nil
}

func (s *Service) Resolve(ctx context.Context, username string) (*User, error) {
	return s.repo.ByUsername(ctx, username)
}

func (s *Service) ByID(ctx context.Context, id int64) (*User, error) {
	return s.repo.ByID(ctx, id)
}

func (s *Service) VerifyPassword(user *User, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) == nil
}

func (s *Service) UpdatePreferences(ctx context.Context, userID int64, description, imageFile string) error {
	return s.repo.UpdatePreferences(ctx, userID, description, imageFile)
}
