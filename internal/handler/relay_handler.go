package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"mind-namo-go/internal/middleware"
	"mind-namo-go/internal/model"
	"mind-namo-go/pkg/log"
	"mind-namo-go/pkg/token"
)

var (
	upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true // 允许所有来源
		},
	}
)

// ConnServer 接管一条已认证的 WebSocket 连接。
type ConnServer interface {
	ServeConn(ctx context.Context, conn *websocket.Conn, party model.Party)
}

// RelayHandler 负责把 WebSocket 连接接入实时中继。
type RelayHandler struct {
	relay      ConnServer
	jwtManager *token.JWTManager
	ctx        context.Context
}

// NewRelayHandler 创建一个新的 RelayHandler。ctx 在服务关闭时取消。
func NewRelayHandler(ctx context.Context, relay ConnServer, jwtManager *token.JWTManager) *RelayHandler {
	return &RelayHandler{relay: relay, jwtManager: jwtManager, ctx: ctx}
}

// Handle 校验路径中的令牌并升级连接，直到连接关闭才返回。
func (h *RelayHandler) Handle(c *gin.Context) {
	claims, err := h.jwtManager.VerifyToken(c.Param("token"))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "无效的 token", "data": nil})
		return
	}
	actor, err := middleware.PartyFromClaims(claims)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": err.Error(), "data": nil})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	h.relay.ServeConn(h.ctx, conn, actor)
}
