package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/mflix/internal/middleware"
)

type RouterDeps struct {
	Users            *UserHandler
	Comments         *CommentHandler
	Sessions         middleware.SessionValidator
	JWTSecret        []byte
	CommentRateLimit time.Duration
}

func RegisterRoutes(api *gin.RouterGroup, deps RouterDeps) {
	api.POST("/user/register", deps.Users.Register)
	api.POST("/user/login", deps.Users.Login)
	api.GET("/movies/:movie_id/comments", deps.Comments.List)
	api.GET("/comments/leaderboard", deps.Comments.Leaderboard)

	authGroup := api.Group("")
	authGroup.Use(middleware.JWTAuth(deps.JWTSecret, deps.Sessions))
	authGroup.POST("/user/logout", deps.Users.Logout)
	authGroup.GET("/user/me", deps.Users.Me)
	authGroup.PUT("/user/preferences", deps.Users.UpdatePreferences)
	authGroup.DELETE("/user", deps.Users.Delete)

	commentGroup := authGroup.Group("")
	commentGroup.Use(middleware.RateLimit(deps.CommentRateLimit))
	commentGroup.POST("/movies/:movie_id/comments", deps.Comments.Create)
	commentGroup.PUT("/comments/:id", deps.Comments.Update)
	commentGroup.DELETE("/comments/:id", deps.Comments.Delete)
}
