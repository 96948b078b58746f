package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"debate_live/internal/apperrors"
	"debate_live/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second // 必須小於 pongWait
	maxMessageSize = 8192
	sendBuffer     = 256
)

// Client 代表一個 WebSocket 客戶端連接
type Client struct {
	conn     *websocket.Conn   // WebSocket 連接
	identity protocol.Identity // 連線者身份
	send     chan []byte       // 消息發送通道，用於異步傳送消息
	room     string            // 目前所在房間，受 Hub.mu 保護
}

func NewClient(conn *websocket.Conn, identity protocol.Identity) *Client {
	return &Client{
		conn:     conn,
		identity: identity,
		send:     make(chan []byte, sendBuffer), // 設置緩衝大小為 256 的消息通道
	}
}

func (c *Client) Identity() protocol.Identity { return c.identity }

// trySend 不阻塞地把資料放進送出通道，通道已滿時回傳 false
func (c *Client) trySend(data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// ServeConn 處理一條已升級的 WebSocket 連線，直到連線結束才返回
func (h *Hub) ServeConn(ctx context.Context, conn *websocket.Conn, identity protocol.Identity) {
	client := NewClient(conn, identity)
	h.Register(client)

	h.log.Info("Client connected", "user", identity.UserID, "anonymous", identity.Anonymous)

	// 啟動讀寫處理
	go h.writePump(client)
	h.readPump(ctx, client)
}

// readPump 持續監聽並處理從客戶端接收的消息
func (h *Hub) readPump(ctx context.Context, c *Client) {
	defer func() {
		h.Disconnect(c)
		h.log.Info("Client disconnected", "user", c.identity.UserID)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Warn("Websocket unexpected close", "user", c.identity.UserID, "error", err)
			}
			return
		}
		h.handle(ctx, c, message)
	}
}

// writePump 處理向客戶端發送消息的邏輯
func (h *Hub) writePump(c *Client) {
	// 設置心跳檢查計時器
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub 已關閉通道
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			// 發送心跳包
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handle 解析一則客戶端訊息並交給 Hub 處理
func (h *Hub) handle(ctx context.Context, c *Client, message []byte) {
	evt, err := protocol.Decode(message)
	if err != nil {
		h.log.Debug("Rejected client event", "user", c.identity.UserID, "error", err)
		// 盡量取出 ack 編號回覆錯誤，讓客戶端不必等到逾時
		var env protocol.Envelope
		if json.Unmarshal(message, &env) == nil && env.Ack != 0 {
			h.reply(c, env.Ack, nil, err)
		}
		return
	}

	var entry *protocol.Entry
	switch p := evt.Payload.(type) {
	case protocol.RoomRequest:
		if evt.Type == protocol.TypeJoinRoom {
			err = h.Join(ctx, c, p.RoomID)
		} else {
			err = h.Leave(c, p.RoomID)
		}
	case protocol.EntryMessage, protocol.TypingStatus:
		entry, err = h.Publish(c, evt)
	default:
		// 只有伺服器能送出的事件
		err = apperrors.ErrInvalidEvent
	}

	if err != nil {
		h.log.Debug("Client event failed", "user", c.identity.UserID, "type", evt.Type, "error", err)
	}
	if evt.Type.Acknowledged() && evt.Ack != 0 {
		h.reply(c, evt.Ack, entry, err)
	}
}

func (h *Hub) reply(c *Client, ack uint64, entry *protocol.Entry, err error) {
	result := protocol.AckResult{OK: err == nil, Entry: entry}
	if err != nil {
		result.Code = apperrors.CodeOf(err)
		result.Error = err.Error()
	}
	data, encErr := protocol.Encode(protocol.TypeAck, ack, result)
	if encErr != nil {
		h.log.Error("Encode ack failed", "error", encErr)
		return
	}
	h.Send(c, data)
}
