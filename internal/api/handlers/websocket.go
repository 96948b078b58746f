package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"debate_live/internal/middleware"
	"debate_live/internal/service"
)

// 定義 WebSocket 升級器
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // 跨來源限制交給 CORS 設定
	},
}

// WebSocketHandler 處理 WebSocket 連接
type WebSocketHandler struct {
	hub *service.Hub
	log *slog.Logger
}

// NewWebSocketHandler 創建一個新的 WebSocketHandler 實例
func NewWebSocketHandler(hub *service.Hub, log *slog.Logger) *WebSocketHandler {
	return &WebSocketHandler{hub: hub, log: log}
}

// HandleWebSocket 處理 WebSocket 連接請求
// 連線建立後不屬於任何房間，由客戶端送出 join-room 加入
func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	// 從上下文中獲取用戶身份
	identity, ok := middleware.Identity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	// 升級 HTTP 連接為 WebSocket 連接
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("Websocket upgrade failed", "user", identity.UserID, "error", err)
		return
	}

	h.hub.ServeConn(c.Request.Context(), conn, identity)
}
