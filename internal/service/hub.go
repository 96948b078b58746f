package service

import (
	"context"
	"html"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/samber/lo"

	"debate_live/internal/apperrors"
	"debate_live/internal/protocol"
	"debate_live/internal/store"
)

// roomState 是一個房間在伺服器記憶體中的狀態
// mu 讓同一房間的發布依序進行，seq 是房間內的到達序號
type roomState struct {
	mu      sync.Mutex
	members map[*Client]struct{}
	seq     uint64
}

// Hub 管理所有連線、房間成員以及房間內的事件分發
//
// 成員變動在 mu 的寫鎖下進行；發布只拿讀鎖加上房間鎖，
// 因此不同房間可以同時發布，而同一房間內到達順序就是送達順序。
// 送出通道只會在寫鎖下關閉，所以持有讀鎖時寫入通道是安全的。
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	rooms   map[string]*roomState

	store  store.Store // 可為 nil，此時不檢查房間是否存在
	policy *bluemonday.Policy
	log    *slog.Logger
}

// NewHub 創建並初始化新的 Hub
func NewHub(st store.Store, log *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		rooms:   make(map[string]*roomState),
		store:   st,
		policy:  bluemonday.StrictPolicy(),
		log:     log,
	}
}

// Register 登記一個已建立的連線
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

// Disconnect 移除連線，若仍在房間內會通知其他成員
// 重複呼叫沒有作用
func (h *Hub) Disconnect(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; !ok {
		return
	}
	if c.room != "" {
		h.leaveLocked(c)
	}
	h.removeLocked(c)
}

// Join 加入房間；已在該房間內時不做任何事，在其他房間時先離開
func (h *Hub) Join(ctx context.Context, c *Client, roomID string) error {
	if !h.registered(c) {
		return apperrors.ErrNotConnected
	}
	if h.store != nil {
		if _, err := h.store.GetRoom(ctx, roomID); err != nil {
			return err
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; !ok {
		return apperrors.ErrNotConnected
	}
	if c.room == roomID {
		return nil
	}
	if c.room != "" {
		h.leaveLocked(c)
	}

	r, ok := h.rooms[roomID]
	if !ok {
		r = &roomState{members: make(map[*Client]struct{})}
		h.rooms[roomID] = r
	}
	r.members[c] = struct{}{}
	c.room = roomID

	h.log.Info("Client joined room", "room", roomID, "user", c.identity.UserID, "members", len(r.members))

	var kicked []*Client
	if data, err := protocol.Encode(protocol.TypeUserJoined, 0, protocol.Presence{RoomID: roomID, User: c.identity}); err == nil {
		kicked = append(kicked, fanout(r, c, data)...)
	}
	if data, err := protocol.Encode(protocol.TypeRoomUsers, 0, protocol.RoomUsers{RoomID: roomID, Users: members(r)}); err == nil {
		if !c.trySend(data) {
			kicked = append(kicked, c)
		}
	}
	h.dropLocked(kicked)
	return nil
}

// Leave 離開目前的房間
func (h *Hub) Leave(c *Client, roomID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; !ok {
		return apperrors.ErrNotConnected
	}
	if c.room == "" || c.room != roomID {
		return apperrors.ErrRoomNotJoined
	}
	h.leaveLocked(c)
	return nil
}

// Publish 把事件分發給同房間的其他成員（不回送給發送者）
// 聊天與辯論發言會蓋上房間序號與伺服器時間，並回傳蓋章後的 Entry
func (h *Hub) Publish(c *Client, evt protocol.Event) (*protocol.Entry, error) {
	var (
		roomID string
		entry  *protocol.Entry
	)
	switch p := evt.Payload.(type) {
	case protocol.EntryMessage:
		msg, err := h.prepareEntry(c, evt.Type, p)
		if err != nil {
			return nil, err
		}
		roomID, entry = p.RoomID, &msg
	case protocol.TypingStatus:
		roomID = p.RoomID
	default:
		return nil, apperrors.ErrInvalidEvent
	}

	h.mu.RLock()
	if _, ok := h.clients[c]; !ok {
		h.mu.RUnlock()
		return nil, apperrors.ErrNotConnected
	}
	if c.room != roomID {
		h.mu.RUnlock()
		return nil, apperrors.ErrRoomNotJoined
	}
	r := h.rooms[roomID]

	r.mu.Lock()
	var payload any = evt.Payload
	if entry != nil {
		r.seq++
		entry.Seq = r.seq
		entry.Timestamp = time.Now().UTC()
		payload = protocol.EntryMessage{RoomID: roomID, Message: *entry}
	}
	data, err := protocol.Encode(evt.Type, 0, payload)
	var kicked []*Client
	if err == nil {
		kicked = fanout(r, c, data)
	}
	r.mu.Unlock()
	h.mu.RUnlock()

	if err != nil {
		return nil, err
	}
	h.drop(kicked)
	return entry, nil
}

// Send 直接送資料給單一連線，用於 ack
func (h *Hub) Send(c *Client, data []byte) {
	h.mu.RLock()
	_, ok := h.clients[c]
	full := ok && !c.trySend(data)
	h.mu.RUnlock()

	if full {
		h.drop([]*Client{c})
	}
}

// Members 回傳房間內的成員
func (h *Hub) Members(roomID string) []protocol.Identity {
	h.mu.RLock()
	defer h.mu.RUnlock()

	r, ok := h.rooms[roomID]
	if !ok {
		return nil
	}
	return members(r)
}

// Online 回傳目前的連線數量
func (h *Hub) Online() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) prepareEntry(c *Client, t protocol.EventType, p protocol.EntryMessage) (protocol.Entry, error) {
	msg := p.Message
	msg.RoomID = p.RoomID

	switch t {
	case protocol.TypeChatMessage:
		// 聊天訊息的來源一律是發送者本人
		msg.Origin = c.identity.Origin()
		// 去掉標籤後還原實體，內容以純文字保存
		msg.Content = strings.TrimSpace(html.UnescapeString(h.policy.Sanitize(msg.Content)))
		if msg.Content == "" {
			return msg, apperrors.ErrInvalidEvent
		}
	case protocol.TypeDebateMessage:
		if !msg.IsTurn() {
			return msg, apperrors.ErrInvalidEvent
		}
	default:
		return msg, apperrors.ErrInvalidEvent
	}
	return msg, nil
}

func (h *Hub) registered(c *Client) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[c]
	return ok
}

// leaveLocked 需持有 mu 的寫鎖
func (h *Hub) leaveLocked(c *Client) {
	roomID := c.room
	c.room = ""

	r, ok := h.rooms[roomID]
	if !ok {
		return
	}
	delete(r.members, c)
	if len(r.members) == 0 {
		delete(h.rooms, roomID)
		return
	}

	h.log.Info("Client left room", "room", roomID, "user", c.identity.UserID, "members", len(r.members))

	data, err := protocol.Encode(protocol.TypeUserLeft, 0, protocol.Presence{RoomID: roomID, User: c.identity})
	if err != nil {
		return
	}
	h.dropLocked(fanout(r, c, data))
}

// removeLocked 需持有 mu 的寫鎖
func (h *Hub) removeLocked(c *Client) {
	delete(h.clients, c)
	close(c.send)
}

// dropLocked 斷開送出緩衝已滿的連線，需持有 mu 的寫鎖
func (h *Hub) dropLocked(kicked []*Client) {
	for _, c := range kicked {
		if _, ok := h.clients[c]; !ok {
			continue
		}
		h.log.Warn("Client send buffer full, disconnecting", "user", c.identity.UserID, "room", c.room)
		if c.room != "" {
			h.leaveLocked(c)
		}
		h.removeLocked(c)
	}
}

func (h *Hub) drop(kicked []*Client) {
	if len(kicked) == 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropLocked(kicked)
}

// fanout 把資料送給房間內除了 except 以外的成員，回傳緩衝已滿的連線
func fanout(r *roomState, except *Client, data []byte) []*Client {
	var full []*Client
	for m := range r.members {
		if m == except {
			continue
		}
		if !m.trySend(data) {
			full = append(full, m)
		}
	}
	return full
}

func members(r *roomState) []protocol.Identity {
	users := lo.MapToSlice(r.members, func(c *Client, _ struct{}) protocol.Identity {
		return c.identity
	})
	sort.Slice(users, func(i, j int) bool { return users[i].UserID < users[j].UserID })
	return users
}
