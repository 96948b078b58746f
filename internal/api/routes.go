package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/samber/lo"

	"debate_live/internal/api/handlers"
	"debate_live/internal/middleware"
	"debate_live/internal/service"
)

// Options 是路由層需要的設定
type Options struct {
	PublicURL    string
	AllowOrigins []string
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
	}
	if len(origins) == 0 || lo.Contains(origins, "*") {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = origins
	cfg.AllowCredentials = true
	return cfg
}

func SetupRoutes(r *gin.Engine, services *service.Services, opts Options, log *slog.Logger) {
	r.Use(cors.New(corsConfig(opts.AllowOrigins)))

	// 初始化 handlers
	authHandler := handlers.NewAuthHandler(services.User, log)
	roomHandler := handlers.NewRoomHandler(services.Room, opts.PublicURL, log)
	wsHandler := handlers.NewWebSocketHandler(services.Hub, log)

	// API 路由群組
	api := r.Group("/api")

	// 處理 404 錯誤
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "找不到該路徑",
		})
	})

	// 公開路由
	{
		// 用戶認證相關
		api.POST("/guest", authHandler.Guest)
		api.POST("/register", authHandler.Register)
		api.POST("/login", authHandler.Login)

		// 基本的健康檢查
		api.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{
				"status":   "ok",
				"online":   services.Hub.Online(),
				"accounts": services.User.AccountsEnabled(),
			})
		})

		api.GET("/rooms/:id/qr", roomHandler.QRCode)
	}

	// 需要身份的路由，沒有 token 時以匿名身份處理
	identified := api.Group("/")
	identified.Use(middleware.AuthMiddleware(services.User, false))
	{
		// 辯論室相關
		rooms := identified.Group("/rooms")
		{
			// 基本操作
			rooms.GET("", roomHandler.ListRooms)   // 獲取房間列表
			rooms.POST("", roomHandler.CreateRoom) // 創建房間
			rooms.GET("/:id", roomHandler.GetRoom) // 獲取房間信息

			// 房間資料
			rooms.POST("/:id/votes", roomHandler.Vote)          // 投票
			rooms.POST("/:id/entries", roomHandler.AppendEntry) // 保存發言或聊天
			rooms.GET("/:id/changes", roomHandler.Changes)      // 訂閱變更
			rooms.GET("/:id/online", roomHandler.Online)        // 在線成員
		}

		// WebSocket 連接
		identified.GET("/ws", wsHandler.HandleWebSocket)
	}
}
