// Package middleware 提供了处理 HTTP 请求的中间件。
package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"mind-namo-go/internal/model"
	"mind-namo-go/pkg/token"
)

// partyKey 是当前参与方在 Gin 上下文中的键。
const partyKey = "party"

// PartyFromClaims 把令牌中的身份转换为参与方。
func PartyFromClaims(claims *token.CustomClaims) (model.Party, error) {
	party := model.Party{ID: claims.PartyID, Name: claims.Name, Role: model.Role(claims.Role)}
	if strings.TrimSpace(party.ID) == "" {
		return model.Party{}, errors.New("token has no party id")
	}
	if !party.Role.Valid() {
		return model.Party{}, errors.New("token has an unknown role")
	}
	return party, nil
}

// AuthMiddleware 创建一个 Gin 中间件，用于 JWT 认证。
// 它会从请求头中提取 token，验证其有效性，并将当前参与方存入 Gin 的上下文中。
func AuthMiddleware(jwtManager *token.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "请求未包含授权头"})
			return
		}

		// Token 通常以 "Bearer <token>" 的形式提供
		const bearerPrefix = "Bearer "
		if !strings.HasPrefix(authHeader, bearerPrefix) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "无效的授权头格式"})
			return
		}
		tokenString := strings.TrimPrefix(authHeader, bearerPrefix)

		claims, err := jwtManager.VerifyToken(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "无效或已过期的 token"})
			return
		}
		party, err := PartyFromClaims(claims)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		c.Set(partyKey, party)
		c.Set("claims", claims)
		c.Next()
	}
}

// CurrentParty 返回 AuthMiddleware 存入的参与方。
func CurrentParty(c *gin.Context) (model.Party, bool) {
	v, ok := c.Get(partyKey)
	if !ok {
		return model.Party{}, false
	}
	party, ok := v.(model.Party)
	return party, ok
}
