package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/mflix/internal/model"
	appErr "github.com/xxxsen/mflix/internal/pkg/errors"
	"github.com/xxxsen/mflix/internal/pkg/jwt"
	"github.com/xxxsen/mflix/internal/pkg/password"
	"github.com/xxxsen/mflix/internal/repo"
)

type AuthService struct {
	users     *repo.UserRepo
	sessions  *repo.SessionRepo
	jwtSecret []byte
	jwtTTL    time.Duration
}

func NewAuthService(users *repo.UserRepo, sessions *repo.SessionRepo, secret []byte, ttl time.Duration) *AuthService {
	return &AuthService{users: users, sessions: sessions, jwtSecret: secret, jwtTTL: ttl}
}

func (s *AuthService) Register(ctx context.Context, name, email, plainPassword string) (*model.User, error) {
	name = strings.TrimSpace(name)
	email = normalizeEmail(email)
	if name == "" || email == "" || len(plainPassword) < 8 {
		return nil, appErr.ErrInvalid
	}
	hash, err := password.Hash(plainPassword)
	if err != nil {
		return nil, err
	}
	user := &model.User{
		Name:     name,
		Email:    email,
		Password: hash,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Login verifies the credentials and makes the returned token the user's
// only valid session.
func (s *AuthService) Login(ctx context.Context, email, plainPassword string) (*model.User, string, error) {
	email = normalizeEmail(email)
	user, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, appErr.ErrNotFound) {
		return nil, "", appErr.ErrUnauthorized
	}
	if err != nil {
		return nil, "", err
	}
	if err := password.Compare(user.Password, plainPassword); err != nil {
		return nil, "", appErr.ErrUnauthorized
	}
	token, err := jwt.GenerateToken(user.Email, user.Email, s.jwtSecret, s.jwtTTL)
	if err != nil {
		return nil, "", err
	}
	if _, err := s.sessions.Upsert(ctx, user.Email, token); err != nil {
		return nil, "", err
	}
	logutil.GetLogger(ctx).Info("user logged in", zap.String("email", user.Email))
	return user, token, nil
}

func (s *AuthService) Logout(ctx context.Context, userID string) error {
	if _, err := s.sessions.DeleteByUser(ctx, userID); err != nil {
		return err
	}
	return nil
}

// ValidateSession accepts token only while it is the stored session of userID.
func (s *AuthService) ValidateSession(ctx context.Context, userID, token string) error {
	session, err := s.sessions.Get(ctx, userID)
	if err != nil {
		return err
	}
	if session == nil || session.JWT != token {
		return appErr.ErrUnauthorized
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
