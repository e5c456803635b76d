package user

import (
	"net/http"

	"omdchat/internal/errs"
	"omdchat/internal/middleware"

	"github.com/gin-gonic/gin"
)

// Handler 账号相关的 HTTP 处理器
type Handler struct {
	accounts *AccountService
}

// NewHandler 创建账号处理器
func NewHandler(accounts *AccountService) *Handler {
	return &Handler{accounts: accounts}
}

// Register 处理注册
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID, err := h.accounts.Register(c.Request.Context(), &req)
	if err != nil {
		c.JSON(errs.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "用户注册成功",
		"user_id": userID,
	})
}

// Login 处理登录
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := h.accounts.Login(c.Request.Context(), &req)
	if err != nil {
		c.JSON(errs.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// Logout 处理登出
func (h *Handler) Logout(c *gin.Context) {
	accountID := middleware.CurrentAccountID(c)
	if err := h.accounts.Logout(c.Request.Context(), accountID); err != nil {
		c.JSON(errs.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "退出登录成功"})
}

// GetUserInfo 获取当前账号信息
func (h *Handler) GetUserInfo(c *gin.Context) {
	accountID := middleware.CurrentAccountID(c)
	u, err := h.accounts.LookupAccount(c.Request.Context(), accountID)
	if err != nil {
		c.JSON(errs.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, u)
}

// SearchUsers 搜索账号
func (h *Handler) SearchUsers(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		query = c.Query("username")
	}

	users, err := h.accounts.SearchUsers(c.Request.Context(), query)
	if err != nil {
		c.JSON(errs.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, users)
}

// UpdatePassword 修改密码，返回重新签发的令牌
func (h *Handler) UpdatePassword(c *gin.Context) {
	var req UpdatePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	accountID := middleware.CurrentAccountID(c)
	token, err := h.accounts.UpdatePassword(c.Request.Context(), accountID, &req)
	if err != nil {
		c.JSON(errs.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}
