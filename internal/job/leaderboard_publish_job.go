package job

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/mflix/internal/filestore"
	"github.com/xxxsen/mflix/internal/model"
)

type CommenterRanking interface {
	TopCommenters(ctx context.Context, k int) ([]model.Critic, error)
}

type LeaderboardSnapshot struct {
	GeneratedAt time.Time      `json:"generated_at"`
	Limit       int            `json:"limit"`
	Critics     []model.Critic `json:"critics"`
}

// LeaderboardPublishJob writes the current most active commenters ranking
// to the file store under a fixed key.
type LeaderboardPublishJob struct {
	ranking CommenterRanking
	store   filestore.Store
	key     string
	limit   int
	now     func() time.Time
}

func NewLeaderboardPublishJob(ranking CommenterRanking, store filestore.Store, key string, limit int) *LeaderboardPublishJob {
	return &LeaderboardPublishJob{ranking: ranking, store: store, key: key, limit: limit, now: time.Now}
}

func (j *LeaderboardPublishJob) Name() string {
	return "leaderboard_publish"
}

func (j *LeaderboardPublishJob) Run(ctx context.Context) error {
	critics, err := j.ranking.TopCommenters(ctx, j.limit)
	if err != nil {
		return err
	}
	data, err := json.Marshal(LeaderboardSnapshot{
		GeneratedAt: j.now().UTC(),
		Limit:       j.limit,
		Critics:     critics,
	})
	if err != nil {
		return err
	}
	if err := j.store.Save(ctx, j.key, bytes.NewReader(data), int64(len(data))); err != nil {
		return err
	}
	logutil.GetLogger(ctx).Info("leaderboard published",
		zap.String("store", j.store.Type()),
		zap.String("key", j.key),
		zap.Int("critics", len(critics)),
	)
	return nil
}
