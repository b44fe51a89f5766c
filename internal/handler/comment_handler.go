package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/mflix/internal/pkg/errcode"
	"github.com/xxxsen/mflix/internal/pkg/response"
	"github.com/xxxsen/mflix/internal/service"
)

type CommentHandler struct {
	comments *service.CommentService
}

func NewCommentHandler(comments *service.CommentService) *CommentHandler {
	return &CommentHandler{comments: comments}
}

type commentRequest struct {
	Text string `json:"text"`
}

func (h *CommentHandler) List(c *gin.Context) {
	limit, err := queryInt(c, "limit")
	if err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid limit")
		return
	}
	offset, err := queryInt(c, "offset")
	if err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid offset")
		return
	}
	comments, err := h.comments.ListByMovie(c.Request.Context(), c.Param("movie_id"), limit, offset)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, comments)
}

func (h *CommentHandler) Create(c *gin.Context) {
	var req commentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	comment, err := h.comments.Add(c.Request.Context(), getUserID(c), c.Param("movie_id"), req.Text)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, comment)
}

func (h *CommentHandler) Update(c *gin.Context) {
	var req commentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	comment, err := h.comments.Update(c.Request.Context(), getUserID(c), c.Param("id"), req.Text)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, comment)
}

func (h *CommentHandler) Delete(c *gin.Context) {
	if err := h.comments.Delete(c.Request.Context(), getUserID(c), c.Param("id")); err != nil {
		handleError(c, err)
		return
	}
	response.OK(c)
}

func (h *CommentHandler) Leaderboard(c *gin.Context) {
	critics, err := h.comments.MostActiveCommenters(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, critics)
}

func queryInt(c *gin.Context, name string) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
