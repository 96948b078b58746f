package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/skip2/go-qrcode"

	"debate_live/internal/middleware"
	"debate_live/internal/protocol"
	"debate_live/internal/service"
)

const (
	streamPingPeriod = 15 * time.Second
	qrSize           = 320
)

// RoomHandler 處理與辯論房間相關的請求
type RoomHandler struct {
	roomService *service.RoomService
	publicURL   string
	log         *slog.Logger
}

// NewRoomHandler 創建一個新的 RoomHandler 實例
// publicURL 用於產生邀請連結，為空時使用請求的 Host
func NewRoomHandler(roomService *service.RoomService, publicURL string, log *slog.Logger) *RoomHandler {
	return &RoomHandler{
		roomService: roomService,
		publicURL:   strings.TrimRight(publicURL, "/"),
		log:         log,
	}
}

// CreateRoom 處理創建新房間的請求
func (h *RoomHandler) CreateRoom(c *gin.Context) {
	var input struct {
		Topic string `json:"topic" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err)
		return
	}

	identity, _ := middleware.Identity(c)
	room, err := h.roomService.CreateRoom(c.Request.Context(), input.Topic, identity)
	if err != nil {
		respondError(c, h.log, "create_room", err)
		return
	}

	c.JSON(http.StatusCreated, room)
}

// ListRooms 列出房間，mine=true 時只列出自己建立的
func (h *RoomHandler) ListRooms(c *gin.Context) {
	createdBy := c.Query("createdBy")
	if c.Query("mine") == "true" {
		identity, _ := middleware.Identity(c)
		createdBy = identity.UserID
	}

	rooms, err := h.roomService.ListRooms(c.Request.Context(), createdBy)
	if err != nil {
		respondError(c, h.log, "list_rooms", err)
		return
	}

	c.JSON(http.StatusOK, rooms)
}

// GetRoom 處理獲取房間訊息的請求，包含完整的對話紀錄
func (h *RoomHandler) GetRoom(c *gin.Context) {
	room, err := h.roomService.GetRoom(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.log, "get_room", err)
		return
	}

	c.JSON(http.StatusOK, room)
}

// Vote 為正方或反方加一票，回傳最新票數
func (h *RoomHandler) Vote(c *gin.Context) {
	var input struct {
		Side protocol.Side `json:"side" binding:"required,oneof=pro con"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err)
		return
	}

	votes, err := h.roomService.Vote(c.Request.Context(), c.Param("id"), input.Side)
	if err != nil {
		respondError(c, h.log, "add_vote", err)
		return
	}

	c.JSON(http.StatusOK, votes)
}

// AppendEntry 保存一條紀錄，沒有帶來源的訊息視為請求者本人的發言
func (h *RoomHandler) AppendEntry(c *gin.Context) {
	var entry protocol.Entry
	if err := c.ShouldBindJSON(&entry); err != nil {
		badRequest(c, err)
		return
	}
	if entry.Origin == "" {
		identity, _ := middleware.Identity(c)
		entry.Origin = identity.Origin()
	}

	added, err := h.roomService.AppendEntry(c.Request.Context(), c.Param("id"), entry)
	if err != nil {
		respondError(c, h.log, "append_entry", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"added": added})
}

// Changes 以 Server-Sent Events 推送房間的持久化變更
// 回應標頭送出時訂閱已經生效
func (h *RoomHandler) Changes(c *gin.Context) {
	roomID := c.Param("id")
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	changes, err := h.roomService.Subscribe(ctx, roomID)
	if err != nil {
		respondError(c, h.log, "subscribe", err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	h.log.Debug("Change stream opened", "room", roomID)
	defer h.log.Debug("Change stream closed", "room", roomID)

	ticker := time.NewTicker(streamPingPeriod)
	defer ticker.Stop()

	c.Stream(func(io.Writer) bool {
		select {
		case change, ok := <-changes:
			if !ok {
				return false
			}
			c.SSEvent("change", change)
			return true
		case <-ticker.C:
			c.SSEvent("ping", time.Now().Unix())
			return true
		case <-ctx.Done():
			return false
		}
	})
}

// QRCode 回傳房間邀請連結的 QR code（PNG）
func (h *RoomHandler) QRCode(c *gin.Context) {
	room, err := h.roomService.GetRoom(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.log, "qr_code", err)
		return
	}

	png, err := qrcode.Encode(h.inviteLink(c, room.ID), qrcode.Medium, qrSize)
	if err != nil {
		respondError(c, h.log, "qr_code", err)
		return
	}

	c.Header("Cache-Control", "public, max-age=86400")
	c.Data(http.StatusOK, "image/png", png)
}

func (h *RoomHandler) inviteLink(c *gin.Context, roomID string) string {
	base := h.publicURL
	if base == "" {
		scheme := "http"
		if c.Request.TLS != nil {
			scheme = "https"
		}
		base = scheme + "://" + c.Request.Host
	}
	return base + "/rooms/" + url.PathEscape(roomID)
}

// Online 回傳目前在房間內的連線成員
func (h *RoomHandler) Online(c *gin.Context) {
	users := h.roomService.Online(c.Param("id"))
	if users == nil {
		users = []protocol.Identity{}
	}
	c.JSON(http.StatusOK, users)
}
