package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/timeline-fanout/internal/event"
	"github.com/d60-Lab/timeline-fanout/internal/service"
	"github.com/d60-Lab/timeline-fanout/pkg/response"
)

// PostCreated 同步处理一条帖子事件（管理与联调入口，正常流量走消息流）
// @Summary 同步扇出一条帖子
// @Tags 事件
// @Accept json
// @Produce json
// @Param request body event.PostCreated true "帖子事件"
// @Success 200 {object} response.Response{data=service.DispatchResult}
// @Failure 400 {object} response.Response
// @Failure 422 {object} response.Response
// @Failure 503 {object} response.Response
// @Router /api/v1/events/post-created [post]
func (h *Handler) PostCreated(c *gin.Context) {
	var ev event.PostCreated
	if err := c.ShouldBindJSON(&ev); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	res, err := h.dispatcher.OnPostCreated(c.Request.Context(), &ev)
	switch {
	case err == nil:
		response.Success(c, res)
	case errors.Is(err, service.ErrMalformedEvent):
		response.BadRequest(c, err.Error())
	case errors.Is(err, service.ErrUnknownAuthor):
		response.Unprocessable(c, err.Error())
	default:
		// 部分粉丝可能已写入，重放是安全的
		response.ServiceUnavailable(c, err)
	}
}

type createPostRequest struct {
	AuthorID   string `json:"author_id" binding:"required,max=36"`
	ContentRef string `json:"content_ref" binding:"max=255"`
}

// CreatePost 模拟帖子服务发帖：生成帖子 ID 并投递到消息流，由消费者异步扇出
// @Summary 发帖（投递事件）
// @Tags 事件
// @Accept json
// @Produce json
// @Param request body createPostRequest true "帖子"
// @Success 202 {object} response.Response{data=event.PostCreated}
// @Failure 400 {object} response.Response
// @Failure 500 {object} response.Response
// @Router /api/v1/posts [post]
func (h *Handler) CreatePost(c *gin.Context) {
	var req createPostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	ev, err := h.publisher.Publish(c.Request.Context(), req.AuthorID, req.ContentRef)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Accepted(c, ev)
}
