package chat

import (
	"net/http"
	"strconv"

	"omdchat/internal/errs"
	"omdchat/internal/middleware"

	"github.com/gin-gonic/gin"
)

// Handler 消息相关的 HTTP 处理器
type Handler struct {
	messages *Service
}

// NewHandler 创建消息处理器
func NewHandler(messages *Service) *Handler {
	return &Handler{messages: messages}
}

type sendMessageRequest struct {
	ReceiverID string `json:"receiver_id" binding:"required"`
	Content    string `json:"content" binding:"required"`
}

// Send 发送消息。消息先落库再推送，响应里返回服务端分配的消息ID
func (h *Handler) Send(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	accountID := middleware.CurrentAccountID(c)
	msg, err := h.messages.SendMessage(c.Request.Context(), accountID, req.ReceiverID, req.Content)
	if err != nil {
		c.JSON(errs.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, msg)
}

// History 分页拉取与某个好友的聊天记录，拉取即已读
func (h *Handler) History(c *gin.Context) {
	peerID := c.Param("peerId")
	if peerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少 peerId 参数"})
		return
	}

	pageNum, _ := strconv.Atoi(c.DefaultQuery("page_num", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	accountID := middleware.CurrentAccountID(c)
	page, err := h.messages.FetchAndMarkRead(c.Request.Context(), accountID, peerID, pageNum, pageSize)
	if err != nil {
		c.JSON(errs.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, page)
}

// Unread 未读消息数。带 peer_id 时统计单个好友，否则统计全部
func (h *Handler) Unread(c *gin.Context) {
	accountID := middleware.CurrentAccountID(c)

	if peerID := c.Query("peer_id"); peerID != "" {
		count, err := h.messages.UnreadCountByPeer(c.Request.Context(), accountID, peerID)
		if err != nil {
			c.JSON(errs.HTTPStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"peer_id": peerID, "unread": count})
		return
	}

	count, err := h.messages.UnreadCount(c.Request.Context(), accountID)
	if err != nil {
		c.JSON(errs.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread": count})
}
