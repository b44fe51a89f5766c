package repo

import (
	"context"

	"github.com/xxxsen/mflix/internal/docstore"
	"github.com/xxxsen/mflix/internal/model"
	appErr "github.com/xxxsen/mflix/internal/pkg/errors"
)

const SessionsCollection = "sessions"

type SessionRepo struct {
	sessions *docstore.KeyedStore[model.Session]
}

func NewSessionRepo(db docstore.Database) *SessionRepo {
	return &SessionRepo{
		sessions: docstore.NewKeyedStore[model.Session](db.Collection(SessionsCollection), "user_id"),
	}
}

func (r *SessionRepo) EnsureIndexes(ctx context.Context) error {
	return r.sessions.EnsureIndexes(ctx)
}

// Upsert stores token as the only session of userID, replacing any previous one.
func (r *SessionRepo) Upsert(ctx context.Context, userID, token string) (docstore.UpsertResult, error) {
	if userID == "" || token == "" {
		return docstore.UpsertResult{}, appErr.ErrInvalid
	}
	return r.sessions.Upsert(ctx, userID, map[string]interface{}{"jwt": token})
}

// Get returns nil when the user has no session.
func (r *SessionRepo) Get(ctx context.Context, userID string) (*model.Session, error) {
	return r.sessions.Get(ctx, userID)
}

func (r *SessionRepo) DeleteByUser(ctx context.Context, userID string) (bool, error) {
	return r.sessions.DeleteByKey(ctx, userID, nil)
}
