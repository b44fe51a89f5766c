package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/mflix/internal/repo"
	"github.com/xxxsen/mflix/internal/testutil"
)

type testServices struct {
	auth     *AuthService
	users    *UserService
	comments *CommentService
	sessions *repo.SessionRepo
	userRepo *repo.UserRepo
}

func setupServices(t *testing.T, cacheTTL time.Duration) *testServices {
	t.Helper()
	db, cleanup := testutil.OpenTestDB(t)
	t.Cleanup(cleanup)
	sessions := repo.NewSessionRepo(db)
	users := repo.NewUserRepo(db, sessions)
	comments := repo.NewCommentRepo(db)
	ctx := context.Background()
	require.NoError(t, sessions.EnsureIndexes(ctx))
	require.NoError(t, users.EnsureIndexes(ctx))
	require.NoError(t, comments.EnsureIndexes(ctx))
	return &testServices{
		auth:     NewAuthService(users, sessions, []byte("test-secret"), time.Hour),
		users:    NewUserService(users),
		comments: NewCommentService(comments, users, 2, cacheTTL),
		sessions: sessions,
		userRepo: users,
	}
}
