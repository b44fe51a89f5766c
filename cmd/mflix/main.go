package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logger"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/common/webapi"
	"go.uber.org/zap"

	"github.com/xxxsen/mflix/internal/config"
	"github.com/xxxsen/mflix/internal/docstore"
	"github.com/xxxsen/mflix/internal/filestore"
	"github.com/xxxsen/mflix/internal/handler"
	"github.com/xxxsen/mflix/internal/job"
	"github.com/xxxsen/mflix/internal/middleware"
	"github.com/xxxsen/mflix/internal/repo"
	"github.com/xxxsen/mflix/internal/schedule"
	"github.com/xxxsen/mflix/internal/service"
)

type repos struct {
	users    *repo.UserRepo
	sessions *repo.SessionRepo
	comments *repo.CommentRepo
}

func main() {
	var configPath string
	var limit int

	rootCmd := &cobra.Command{
		Use:   "mflix",
		Short: "mflix catalog backend",
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.json")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run mflix server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			ctx := context.Background()
			db, r, err := openRepos(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeDatabase(db)
			if err := ensureIndexes(ctx, r); err != nil {
				return err
			}
			return runServer(cfg, r)
		},
	}

	indexCmd := &cobra.Command{
		Use:   "index",
		Short: "create collections and unique indexes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			ctx := context.Background()
			db, r, err := openRepos(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeDatabase(db)
			if err := ensureIndexes(ctx, r); err != nil {
				return err
			}
			logutil.GetLogger(ctx).Info("indexes ensured", zap.String("driver", cfg.Database.Driver))
			return nil
		},
	}

	leaderboardCmd := &cobra.Command{
		Use:   "leaderboard",
		Short: "print the most active commenters",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if limit <= 0 {
				limit = cfg.Leaderboard.Limit
			}
			ctx := context.Background()
			db, r, err := openRepos(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeDatabase(db)
			critics, err := r.comments.TopCommenters(ctx, limit)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(critics)
		},
	}
	leaderboardCmd.Flags().IntVar(&limit, "limit", 0, "number of commenters, defaults to leaderboard.limit")

	rootCmd.AddCommand(runCmd, indexCmd, leaderboardCmd)

	if err := rootCmd.Execute(); err != nil {
		logutil.GetLogger(context.Background()).Fatal("startup error", zap.Error(err))
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return nil, fmt.Errorf("--config is required")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	logger.Init(
		cfg.LogConfig.File,
		cfg.LogConfig.Level,
		int(cfg.LogConfig.FileCount),
		int(cfg.LogConfig.FileSize),
		int(cfg.LogConfig.KeepDays),
		cfg.LogConfig.Console,
	)
	logutil.GetLogger(context.Background()).Info("config loaded", zap.String("config", path))
	return cfg, nil
}

func openRepos(ctx context.Context, cfg *config.Config) (docstore.Database, *repos, error) {
	openCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	db, err := docstore.Open(openCtx, cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	sessions := repo.NewSessionRepo(db)
	return db, &repos{
		users:    repo.NewUserRepo(db, sessions),
		sessions: sessions,
		comments: repo.NewCommentRepo(db),
	}, nil
}

func ensureIndexes(ctx context.Context, r *repos) error {
	if err := r.users.EnsureIndexes(ctx); err != nil {
		return fmt.Errorf("ensure user indexes: %w", err)
	}
	if err := r.sessions.EnsureIndexes(ctx); err != nil {
		return fmt.Errorf("ensure session indexes: %w", err)
	}
	if err := r.comments.EnsureIndexes(ctx); err != nil {
		return fmt.Errorf("ensure comment indexes: %w", err)
	}
	return nil
}

func closeDatabase(db docstore.Database) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.Close(ctx); err != nil {
		logutil.GetLogger(ctx).Error("close database failed", zap.Error(err))
	}
}

func runServer(cfg *config.Config, r *repos) error {
	logutil.GetLogger(context.Background()).Info(
		"starting server",
		zap.Int("port", cfg.Port),
		zap.String("driver", cfg.Database.Driver),
		zap.String("database", cfg.Database.Name),
	)

	jwtSecret := []byte(cfg.JWTSecret)
	authService := service.NewAuthService(r.users, r.sessions, jwtSecret, time.Hour*time.Duration(cfg.JWTTTLHours))
	userService := service.NewUserService(r.users)
	commentService := service.NewCommentService(r.comments, r.users, cfg.Leaderboard.Limit,
		time.Duration(cfg.Leaderboard.CacheTTLSeconds)*time.Second)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Leaderboard.PublishCron != "" {
		store, err := filestore.New(cfg.FileStore)
		if err != nil {
			return fmt.Errorf("init file store: %w", err)
		}
		scheduler := schedule.NewCronScheduler(time.Minute)
		publish := job.NewLeaderboardPublishJob(r.comments, store, cfg.Leaderboard.PublishKey, cfg.Leaderboard.Limit)
		if err := scheduler.AddJob(publish, cfg.Leaderboard.PublishCron); err != nil {
			return fmt.Errorf("schedule leaderboard publish: %w", err)
		}
		scheduler.Start(ctx)
		defer scheduler.Stop()
	}

	deps := handler.RouterDeps{
		Users:            handler.NewUserHandler(authService, userService),
		Comments:         handler.NewCommentHandler(commentService),
		Sessions:         authService,
		JWTSecret:        jwtSecret,
		CommentRateLimit: time.Duration(cfg.CommentRateLimitSeconds) * time.Second,
	}

	addr := fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	engine, err := webapi.NewEngine(
		"/api/v1",
		addr,
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.RequestID(),
			middleware.CORS(cfg.CORS),
			gzip.Gzip(gzip.DefaultCompression),
		),
	)
	if err != nil {
		return fmt.Errorf("init web engine: %w", err)
	}
	logutil.GetLogger(context.Background()).Info("http server listening", zap.String("addr", addr))

	go func() {
		if err := engine.Run(); err != nil && err != http.ErrServerClosed {
			logutil.GetLogger(context.Background()).Error("server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logutil.GetLogger(context.Background()).Info("server stopping...")
	return nil
}
