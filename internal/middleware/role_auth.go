package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"mind-namo-go/internal/model"
)

// RequireRole 检查当前参与方是否具有指定角色。
// 此中间件必须在 AuthMiddleware 之后使用。
func RequireRole(role model.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		party, ok := CurrentParty(c)
		if !ok {
			// AuthMiddleware 未能成功解析，这是一个服务器内部错误
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "无法获取参与方信息"})
			return
		}
		if party.Role != role {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "权限不足，需要 " + string(role) + " 角色"})
			return
		}
		c.Next()
	}
}
