package handler

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/timeline-fanout/internal/service"
	"github.com/d60-Lab/timeline-fanout/pkg/response"
)

// followRequest 关注边：from 的时间线接收 to 的帖子
type followRequest struct {
	FromUserID string `json:"from_user_id" binding:"required,max=36"`
	ToUserID   string `json:"to_user_id" binding:"required,max=36"`
}

type listQuery struct {
	Page     int `form:"page,default=1" binding:"min=1"`
	PageSize int `form:"page_size,default=10" binding:"min=1,max=100"`
}

// Follow 建立关注边。不回填历史：普通作者只推送之后发布的帖子，
// 大 V 的帖子在粉丝下次重建时间线时合并进来。
// @Summary 关注作者
// @Tags 关系链
// @Accept json
// @Produce json
// @Param request body followRequest true "关注边"
// @Success 200 {object} response.Response{data=map[string]bool}
// @Failure 400 {object} response.Response
// @Failure 500 {object} response.Response
// @Router /api/v1/relations/follow [post]
func (h *Handler) Follow(c *gin.Context) {
	var req followRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	created, err := h.relService.Follow(c.Request.Context(), req.FromUserID, req.ToUserID)
	if err != nil {
		relationError(c, err)
		return
	}
	response.Success(c, gin.H{"followed": created})
}

// Unfollow 删除关注边；已推送进时间线的帖子保留
// @Summary 取消关注
// @Tags 关系链
// @Accept json
// @Produce json
// @Param request body followRequest true "关注边"
// @Success 200 {object} response.Response{data=map[string]bool}
// @Failure 400 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /api/v1/relations/unfollow [post]
func (h *Handler) Unfollow(c *gin.Context) {
	var req followRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	removed, err := h.relService.Unfollow(c.Request.Context(), req.FromUserID, req.ToUserID)
	if err != nil {
		relationError(c, err)
		return
	}
	if !removed {
		response.NotFound(c, "follow relation not found")
		return
	}
	response.Success(c, gin.H{"removed": true})
}

// ListFollowing 某用户关注的作者（读时合并的大 V 候选来自这里）
// @Summary 查询关注列表
// @Tags 关系链
// @Param user_id path string true "用户ID"
// @Param page query int false "页码" default(1)
// @Param page_size query int false "每页数量" default(10)
// @Success 200 {object} response.Response{data=map[string]interface{}}
// @Failure 400 {object} response.Response
// @Router /api/v1/relations/{user_id}/following [get]
func (h *Handler) ListFollowing(c *gin.Context) {
	h.listRelations(c, h.relService.ListFollowing)
}

// ListFans 某作者的粉丝，来自异步冗余的粉丝表，可能短暂落后于关注表
// @Summary 查询粉丝列表
// @Tags 关系链
// @Param user_id path string true "用户ID"
// @Param page query int false "页码" default(1)
// @Param page_size query int false "每页数量" default(10)
// @Success 200 {object} response.Response{data=map[string]interface{}}
// @Failure 400 {object} response.Response
// @Router /api/v1/relations/{user_id}/fans [get]
func (h *Handler) ListFans(c *gin.Context) {
	h.listRelations(c, h.relService.ListFans)
}

type listFunc func(ctx context.Context, userID string, page, pageSize int) ([]string, error)

func (h *Handler) listRelations(c *gin.Context, list listFunc) {
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	ids, err := list(c.Request.Context(), c.Param("user_id"), q.Page, q.PageSize)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Success(c, gin.H{"page": q.Page, "page_size": q.PageSize, "list": ids})
}

func relationError(c *gin.Context, err error) {
	if errors.Is(err, service.ErrFollowSelf) {
		response.BadRequest(c, err.Error())
		return
	}
	response.InternalError(c, err)
}
