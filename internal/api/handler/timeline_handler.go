package handler

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/timeline-fanout/internal/feed"
	"github.com/d60-Lab/timeline-fanout/internal/service"
	"github.com/d60-Lab/timeline-fanout/pkg/response"
)

// GetTimeline 读取用户时间线（推模式条目 + 大 V 帖子读时合并）
// @Summary 读取时间线
// @Tags 时间线
// @Produce json
// @Param user_id path string true "用户ID"
// @Param page_size query int false "每页数量" default(20)
// @Param cursor query string false "上一页返回的 next_cursor"
// @Success 200 {object} response.Response{data=service.Page}
// @Failure 400 {object} response.Response
// @Failure 503 {object} response.Response
// @Router /api/v1/timeline/{user_id} [get]
func (h *Handler) GetTimeline(c *gin.Context) {
	userID := c.Param("user_id")
	pageSize := 0
	if v := c.Query("page_size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			response.BadRequest(c, "invalid page_size")
			return
		}
		pageSize = n
	}

	page, err := h.reader.GetTimeline(c.Request.Context(), userID, pageSize, c.Query("cursor"))
	switch {
	case err == nil:
		response.Success(c, page)
	case errors.Is(err, feed.ErrInvalidCursor):
		response.BadRequest(c, err.Error())
	case errors.Is(err, service.ErrStoreUnavailable):
		response.ServiceUnavailable(c, err)
	default:
		response.InternalError(c, err)
	}
}

// TimelineStats 读路径命中与重建计数
// @Summary 读路径统计
// @Tags 时间线
// @Produce json
// @Success 200 {object} response.Response{data=service.ReaderStats}
// @Router /api/v1/timeline/stats [get]
func (h *Handler) TimelineStats(c *gin.Context) {
	response.Success(c, h.reader.Stats())
}
