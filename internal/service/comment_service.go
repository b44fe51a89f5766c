package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/mflix/internal/model"
	appErr "github.com/xxxsen/mflix/internal/pkg/errors"
	"github.com/xxxsen/mflix/internal/pkg/timeutil"
	"github.com/xxxsen/mflix/internal/repo"
)

const (
	defaultCommentPageSize = 20
	maxCommentPageSize     = 100
	maxCommentLength       = 5000
)

type CommentService struct {
	comments *repo.CommentRepo
	users    *repo.UserRepo
	limit    int
	cache    *expirable.LRU[int, []model.Critic]
}

// NewCommentService ranks the top limit commenters. A positive cacheTTL keeps
// the ranking for that long; otherwise every call hits the store.
func NewCommentService(comments *repo.CommentRepo, users *repo.UserRepo, limit int, cacheTTL time.Duration) *CommentService {
	s := &CommentService{comments: comments, users: users, limit: limit}
	if cacheTTL > 0 {
		s.cache = expirable.NewLRU[int, []model.Critic](8, nil, cacheTTL)
	}
	return s
}

func (s *CommentService) Add(ctx context.Context, email, movieID, text string) (*model.Comment, error) {
	text = strings.TrimSpace(text)
	if movieID == "" || text == "" || len(text) > maxCommentLength {
		return nil, appErr.ErrInvalid
	}
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	comment := &model.Comment{
		ID:      uuid.NewString(),
		Name:    user.Name,
		Email:   user.Email,
		MovieID: movieID,
		Text:    text,
		Date:    timeutil.Now(),
	}
	if err := s.comments.Create(ctx, comment); err != nil {
		return nil, err
	}
	s.invalidate()
	return comment, nil
}

func (s *CommentService) Update(ctx context.Context, email, id, text string) (*model.Comment, error) {
	text = strings.TrimSpace(text)
	if text == "" || len(text) > maxCommentLength {
		return nil, appErr.ErrInvalid
	}
	ok, err := s.comments.Update(ctx, id, email, text)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, s.missReason(ctx, id)
	}
	return s.comments.GetByID(ctx, id)
}

func (s *CommentService) Delete(ctx context.Context, email, id string) error {
	ok, err := s.comments.Delete(ctx, id, email)
	if err != nil {
		return err
	}
	if !ok {
		return s.missReason(ctx, id)
	}
	s.invalidate()
	return nil
}

func (s *CommentService) ListByMovie(ctx context.Context, movieID string, limit, offset int) ([]model.Comment, error) {
	if movieID == "" || offset < 0 {
		return nil, appErr.ErrInvalid
	}
	if limit <= 0 {
		limit = defaultCommentPageSize
	}
	if limit > maxCommentPageSize {
		limit = maxCommentPageSize
	}
	return s.comments.ListByMovie(ctx, movieID, limit, offset)
}

func (s *CommentService) MostActiveCommenters(ctx context.Context) ([]model.Critic, error) {
	if s.cache != nil {
		if cached, ok := s.cache.Get(s.limit); ok {
			logutil.GetLogger(ctx).Debug("leaderboard cache hit", zap.Int("limit", s.limit))
			return append([]model.Critic(nil), cached...), nil
		}
	}
	critics, err := s.comments.TopCommenters(ctx, s.limit)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.Add(s.limit, append([]model.Critic(nil), critics...))
	}
	return critics, nil
}

// missReason tells apart a missing comment from one owned by someone else
// after an owner gated write matched nothing.
func (s *CommentService) missReason(ctx context.Context, id string) error {
	if _, err := s.comments.GetByID(ctx, id); err != nil {
		return err
	}
	return appErr.ErrForbidden
}

func (s *CommentService) invalidate() {
	if s.cache != nil {
		s.cache.Purge()
	}
}
