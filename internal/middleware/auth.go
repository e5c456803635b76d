package middleware

import (
	"net/http"
	"strings"

	"omdchat/internal/errs"
	"omdchat/internal/session"

	"github.com/gin-gonic/gin"
)

// AccountIDKey 认证中间件写入 gin 上下文的账号ID键名
const AccountIDKey = "accountID"

// Auth 认证中间件。令牌在边界处解析一次：签名+过期的无状态校验，
// 加上存储映射一致性的有状态校验，通过后把账号ID放进上下文，
// 后续处理显式取用，不做任何隐式线程绑定。
func Auth(sessions *session.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "未提供认证token"})
			c.Abort()
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if !(len(parts) == 2 && parts[0] == "Bearer") {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "无效的token格式"})
			c.Abort()
			return
		}

		accountID, err := sessions.Validate(c.Request.Context(), parts[1])
		if err != nil {
			c.JSON(errs.HTTPStatus(err), gin.H{"error": err.Error()})
			c.Abort()
			return
		}

		c.Set(AccountIDKey, accountID)
		c.Next()
	}
}

// CurrentAccountID 从 gin 上下文取当前账号ID
func CurrentAccountID(c *gin.Context) string {
	id, _ := c.Get(AccountIDKey)
	s, _ := id.(string)
	return s
}
