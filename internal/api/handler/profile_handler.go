package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/timeline-fanout/internal/model"
	"github.com/d60-Lab/timeline-fanout/pkg/response"
)

type profileRequest struct {
	FollowerCount *int64     `json:"follower_count" binding:"required,min=0"`
	LastActiveAt  *time.Time `json:"last_active_at"`
}

// UpsertProfile 写入扇出画像（导入或校正粉丝数）
// @Summary 写入用户扇出画像
// @Tags 用户
// @Accept json
// @Produce json
// @Param user_id path string true "用户ID"
// @Param request body profileRequest true "画像"
// @Success 200 {object} response.Response{data=model.UserFanoutProfile}
// @Failure 400 {object} response.Response
// @Router /api/v1/users/{user_id}/profile [put]
func (h *Handler) UpsertProfile(c *gin.Context) {
	var req profileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	p := &model.UserFanoutProfile{UserID: c.Param("user_id"), FollowerCount: *req.FollowerCount}
	if req.LastActiveAt != nil {
		p.LastActiveAt = *req.LastActiveAt
	}
	if err := h.relService.UpsertProfile(c.Request.Context(), p); err != nil {
		response.InternalError(c, err)
		return
	}
	response.Success(c, p)
}

// MarkActive 记录用户活跃
// @Summary 记录活跃
// @Tags 用户
// @Param user_id path string true "用户ID"
// @Success 200 {object} response.Response
// @Router /api/v1/users/{user_id}/active [post]
func (h *Handler) MarkActive(c *gin.Context) {
	if err := h.relService.MarkActive(c.Request.Context(), c.Param("user_id"), time.Now()); err != nil {
		response.InternalError(c, err)
		return
	}
	response.Success(c, nil)
}
