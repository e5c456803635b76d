package friend

import (
	"log"
	"net/http"
	"strconv"

	"omdchat/internal/chat"
	"omdchat/internal/errs"
	"omdchat/internal/middleware"
	"omdchat/internal/model"
	"omdchat/internal/presence"

	"github.com/gin-gonic/gin"
)

// Handler 好友关系的 HTTP 处理器。列表接口会借助消息服务补齐
// 每个好友的未读数和最后一条消息，借助在线状态服务补齐在线标记。
type Handler struct {
	friends  *Service
	messages *chat.Service
	tracker  *presence.Tracker
}

// NewHandler 创建好友处理器
func NewHandler(friends *Service, messages *chat.Service, tracker *presence.Tracker) *Handler {
	return &Handler{friends: friends, messages: messages, tracker: tracker}
}

type friendActionRequest struct {
	PeerID string `json:"peer_id" binding:"required"`
}

// bindPeer 解析带 peer_id 的请求体
func bindPeer(c *gin.Context) (string, bool) {
	var req friendActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少 peer_id 参数"})
		return "", false
	}
	return req.PeerID, true
}

// Request 发起好友申请
func (h *Handler) Request(c *gin.Context) {
	peerID, ok := bindPeer(c)
	if !ok {
		return
	}
	accountID := middleware.CurrentAccountID(c)
	if err := h.friends.RequestFriend(c.Request.Context(), accountID, peerID); err != nil {
		c.JSON(errs.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "好友申请已发送"})
}

// Accept 同意好友申请
func (h *Handler) Accept(c *gin.Context) {
	peerID, ok := bindPeer(c)
	if !ok {
		return
	}
	accountID := middleware.CurrentAccountID(c)
	if err := h.friends.AcceptFriend(c.Request.Context(), accountID, peerID); err != nil {
		c.JSON(errs.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "已同意好友申请"})
}

// Reject 拒绝好友申请
func (h *Handler) Reject(c *gin.Context) {
	peerID, ok := bindPeer(c)
	if !ok {
		return
	}
	accountID := middleware.CurrentAccountID(c)
	if err := h.friends.RejectFriend(c.Request.Context(), accountID, peerID); err != nil {
		c.JSON(errs.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "已拒绝好友申请"})
}

// ReRequest 被拒后重新申请
func (h *Handler) ReRequest(c *gin.Context) {
	peerID, ok := bindPeer(c)
	if !ok {
		return
	}
	accountID := middleware.CurrentAccountID(c)
	if err := h.friends.ReRequest(c.Request.Context(), accountID, peerID); err != nil {
		c.JSON(errs.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "好友申请已重新发送"})
}

// Block 拉黑用户
func (h *Handler) Block(c *gin.Context) {
	peerID, ok := bindPeer(c)
	if !ok {
		return
	}
	accountID := middleware.CurrentAccountID(c)
	if err := h.friends.BlockUser(c.Request.Context(), accountID, peerID); err != nil {
		c.JSON(errs.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "已拉黑该用户"})
}

// Unblock 解除拉黑
func (h *Handler) Unblock(c *gin.Context) {
	peerID, ok := bindPeer(c)
	if !ok {
		return
	}
	accountID := middleware.CurrentAccountID(c)
	if err := h.friends.Unblock(c.Request.Context(), accountID, peerID); err != nil {
		c.JSON(errs.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "已解除拉黑"})
}

// Delete 删除好友
func (h *Handler) Delete(c *gin.Context) {
	peerID, ok := bindPeer(c)
	if !ok {
		return
	}
	accountID := middleware.CurrentAccountID(c)
	if err := h.friends.DeleteFriend(c.Request.Context(), accountID, peerID); err != nil {
		c.JSON(errs.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "已删除好友"})
}

// Status 查询与某个账号的关系状态
func (h *Handler) Status(c *gin.Context) {
	peerID := c.Query("peer_id")
	if peerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少 peer_id 参数"})
		return
	}
	accountID := middleware.CurrentAccountID(c)
	edge, err := h.friends.QueryStatus(c.Request.Context(), accountID, peerID)
	if err != nil {
		c.JSON(errs.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	if edge == nil {
		c.JSON(http.StatusOK, gin.H{"status": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": edge.Status, "edge": edge})
}

// List 分页查询好友列表，附带未读数、最后一条消息和在线标记
func (h *Handler) List(c *gin.Context) {
	accountID := middleware.CurrentAccountID(c)
	pageNum, pageSize := pageParams(c)

	status := c.DefaultQuery("status", model.EdgeAccepted)
	page, err := h.friends.ListFriends(c.Request.Context(), accountID, status, pageNum, pageSize)
	if err != nil {
		c.JSON(errs.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	h.enrich(c, accountID, page.Items)
	c.JSON(http.StatusOK, page)
}

// Requests 分页查询收到的好友申请
func (h *Handler) Requests(c *gin.Context) {
	accountID := middleware.CurrentAccountID(c)
	pageNum, pageSize := pageParams(c)

	page, err := h.friends.ListIncomingRequests(c.Request.Context(), accountID, pageNum, pageSize)
	if err != nil {
		c.JSON(errs.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, page)
}

// Online 查询某个好友是否在线
func (h *Handler) Online(c *gin.Context) {
	peerID := c.Query("peer_id")
	if peerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少 peer_id 参数"})
		return
	}
	online, err := h.tracker.IsOnline(c.Request.Context(), peerID)
	if err != nil {
		c.JSON(errs.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"peer_id": peerID, "online": online})
}

// enrich 逐个补齐未读数和最后一条消息。补齐失败只记日志，
// 列表本身照常返回。
func (h *Handler) enrich(c *gin.Context, accountID string, items []FriendEntry) {
	ctx := c.Request.Context()
	for i := range items {
		peerID := items[i].Edge.PeerID
		unread, err := h.messages.UnreadCountByPeer(ctx, accountID, peerID)
		if err != nil {
			log.Printf("统计账号 %s 与 %s 的未读消息失败: %v", accountID, peerID, err)
		} else {
			items[i].UnreadCount = unread
		}
		last, err := h.messages.LastMessage(ctx, accountID, peerID)
		if err != nil {
			log.Printf("查询账号 %s 与 %s 的最后消息失败: %v", accountID, peerID, err)
		} else {
			items[i].LastMessage = last
		}
	}
}

// pageParams 解析分页参数
func pageParams(c *gin.Context) (int, int) {
	pageNum, _ := strconv.Atoi(c.DefaultQuery("page_num", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	return pageNum, pageSize
}
