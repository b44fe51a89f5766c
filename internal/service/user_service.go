package service

import (
	"context"

	"github.com/xxxsen/mflix/internal/model"
	appErr "github.com/xxxsen/mflix/internal/pkg/errors"
	"github.com/xxxsen/mflix/internal/pkg/password"
	"github.com/xxxsen/mflix/internal/repo"
)

type UserService struct {
	users *repo.UserRepo
}

func NewUserService(users *repo.UserRepo) *UserService {
	return &UserService{users: users}
}

func (s *UserService) Get(ctx context.Context, email string) (*model.User, error) {
	return s.users.GetByEmail(ctx, email)
}

func (s *UserService) UpdatePreferences(ctx context.Context, email string, prefs map[string]interface{}) (*model.User, error) {
	ok, err := s.users.UpdatePreferences(ctx, email, prefs)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, appErr.ErrNotFound
	}
	return s.users.GetByEmail(ctx, email)
}

// DeleteAccount removes the user and its session after re-checking the password.
func (s *UserService) DeleteAccount(ctx context.Context, email, plainPassword string) error {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	if err := password.Compare(user.Password, plainPassword); err != nil {
		return appErr.ErrUnauthorized
	}
	ok, err := s.users.Delete(ctx, email)
	if err != nil {
		return err
	}
	if !ok {
		return appErr.ErrNotFound
	}
	return nil
}
