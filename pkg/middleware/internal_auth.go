package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// InternalTokenHeader 服务间调用共享令牌请求头
const InternalTokenHeader = "X-Internal-Token"

// InternalAuth 服务间内部令牌校验中间件
// 上游网关负责终端用户的身份认证，这里只保护 service-to-service 路由
func InternalAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			// 未配置令牌时放行（本地开发模式）
			c.Next()
			return
		}
		got := c.GetHeader(InternalTokenHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "无效的内部令牌"})
			return
		}
		c.Next()
	}
}
