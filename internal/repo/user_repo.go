package repo

import (
	"context"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/mflix/internal/docstore"
	"github.com/xxxsen/mflix/internal/model"
	appErr "github.com/xxxsen/mflix/internal/pkg/errors"
)

const UsersCollection = "users"

type UserRepo struct {
	users    *docstore.KeyedStore[model.User]
	sessions *SessionRepo
}

func NewUserRepo(db docstore.Database, sessions *SessionRepo) *UserRepo {
	return &UserRepo{
		users:    docstore.NewKeyedStore[model.User](db.Collection(UsersCollection), "email"),
		sessions: sessions,
	}
}

func (r *UserRepo) EnsureIndexes(ctx context.Context) error {
	return r.users.EnsureIndexes(ctx)
}

// Create fails with appErr.ErrAlreadyExists when the email is taken.
func (r *UserRepo) Create(ctx context.Context, user *model.User) error {
	if user == nil || user.Email == "" {
		return appErr.ErrInvalid
	}
	return r.users.InsertIfAbsent(ctx, user)
}

func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	user, err := r.users.Get(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, appErr.ErrNotFound
	}
	return user, nil
}

func (r *UserRepo) UpdatePreferences(ctx context.Context, email string, prefs map[string]interface{}) (bool, error) {
	if prefs == nil {
		return false, appErr.ErrInvalid
	}
	return r.users.UpdateField(ctx, email, nil, "preferences", prefs)
}

// Delete removes the user's session before the user record itself.
func (r *UserRepo) Delete(ctx context.Context, email string) (bool, error) {
	if _, err := r.sessions.DeleteByUser(ctx, email); err != nil {
		return false, err
	}
	ok, err := r.users.DeleteByKey(ctx, email, nil)
	if err != nil {
		return false, err
	}
	if !ok {
		logutil.GetLogger(ctx).Info("delete of unknown user", zap.String("email", email))
	}
	return ok, nil
}
