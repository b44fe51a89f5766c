package repo

import (
	"context"

	"github.com/xxxsen/mflix/internal/docstore"
	"github.com/xxxsen/mflix/internal/model"
	appErr "github.com/xxxsen/mflix/internal/pkg/errors"
	"github.com/xxxsen/mflix/internal/pkg/timeutil"
)

const CommentsCollection = "comments"

type CommentRepo struct {
	comments *docstore.KeyedStore[model.Comment]
}

func NewCommentRepo(db docstore.Database) *CommentRepo {
	return &CommentRepo{
		comments: docstore.NewKeyedStore[model.Comment](db.Collection(CommentsCollection), "_id"),
	}
}

func (r *CommentRepo) EnsureIndexes(ctx context.Context) error {
	return r.comments.EnsureIndexes(ctx)
}

func (r *CommentRepo) Create(ctx context.Context, comment *model.Comment) error {
	if comment == nil || comment.ID == "" {
		return appErr.ErrInvalid
	}
	return r.comments.InsertIfAbsent(ctx, comment)
}

func (r *CommentRepo) GetByID(ctx context.Context, id string) (*model.Comment, error) {
	comment, err := r.comments.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if comment == nil {
		return nil, appErr.ErrNotFound
	}
	return comment, nil
}

// ListByMovie returns the comments of a movie, newest first.
func (r *CommentRepo) ListByMovie(ctx context.Context, movieID string, limit, offset int) ([]model.Comment, error) {
	return r.comments.Find(ctx, docstore.Filter{"movie_id": movieID}, docstore.FindOptions{
		SortField: "date",
		Desc:      true,
		Limit:     int64(limit),
		Skip:      int64(offset),
	})
}

// Update rewrites the text of a comment owned by email and bumps its date.
func (r *CommentRepo) Update(ctx context.Context, id, email, text string) (bool, error) {
	if id == "" {
		return false, appErr.ErrInvalid
	}
	return r.comments.UpdateFields(ctx, id, docstore.Filter{"email": email}, map[string]interface{}{
		"text": text,
		"date": timeutil.Now(),
	})
}

func (r *CommentRepo) Delete(ctx context.Context, id, email string) (bool, error) {
	if id == "" {
		return false, appErr.ErrInvalid
	}
	return r.comments.DeleteByKey(ctx, id, docstore.Filter{"email": email})
}

func (r *CommentRepo) TopCommenters(ctx context.Context, k int) ([]model.Critic, error) {
	items, err := r.comments.TopKByGroupCount(ctx, "email", k)
	if err != nil {
		return nil, err
	}
	critics := make([]model.Critic, 0, len(items))
	for _, item := range items {
		critics = append(critics, model.Critic{Email: item.Key, NumComments: item.Count})
	}
	return critics, nil
}
