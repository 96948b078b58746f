package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"debate_live/internal/apperrors"
	"debate_live/internal/protocol"
)

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
)

// ErrEventOverflow 表示呼叫端來不及讀取事件，連線會被關閉，
// 重新連線後由快照補回遺漏的內容
var ErrEventOverflow = errors.New("event buffer full")

// Conn 是一條已建立的連線，同一時間最多在一個房間內
type Conn struct {
	ws   *websocket.Conn
	opts Options
	log  *slog.Logger

	writeMu sync.Mutex
	joinMu  sync.Mutex // 加入與離開依序進行

	mu      sync.Mutex
	room    string
	nextAck uint64
	pending map[uint64]chan protocol.AckResult

	events    chan protocol.Event
	done      chan struct{}
	closeOnce sync.Once
	err       error
}

func newConn(ws *websocket.Conn, opts Options, log *slog.Logger) *Conn {
	c := &Conn{
		ws:      ws,
		opts:    opts,
		log:     log,
		pending: make(map[uint64]chan protocol.AckResult),
		events:  make(chan protocol.Event, opts.EventBuffer),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Events 回傳伺服器推送的事件，連線結束時關閉
func (c *Conn) Events() <-chan protocol.Event { return c.events }

// Done 在連線結束時關閉
func (c *Conn) Done() <-chan struct{} { return c.done }

// Err 回傳連線結束的原因
func (c *Conn) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Room 回傳目前所在的房間，不在房間時為空字串
func (c *Conn) Room() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

func (c *Conn) setRoom(roomID string) {
	c.mu.Lock()
	c.room = roomID
	c.mu.Unlock()
}

// Join 加入房間並等待伺服器確認
// 已在其他房間時先離開；已在同一房間時不做任何事
func (c *Conn) Join(ctx context.Context, roomID string) error {
	c.joinMu.Lock()
	defer c.joinMu.Unlock()

	current := c.Room()
	if current == roomID {
		return nil
	}
	if current != "" {
		if err := c.leave(ctx, current); err != nil && !errors.Is(err, apperrors.ErrRoomNotJoined) {
			return err
		}
	}

	if _, err := c.request(ctx, protocol.TypeJoinRoom, protocol.RoomRequest{RoomID: roomID}); err != nil {
		return err
	}
	c.setRoom(roomID)
	return nil
}

// Leave 離開房間並等待伺服器確認
func (c *Conn) Leave(ctx context.Context, roomID string) error {
	c.joinMu.Lock()
	defer c.joinMu.Unlock()

	if c.Room() != roomID {
		return apperrors.ErrRoomNotJoined
	}
	return c.leave(ctx, roomID)
}

func (c *Conn) leave(ctx context.Context, roomID string) error {
	_, err := c.request(ctx, protocol.TypeLeaveRoom, protocol.RoomRequest{RoomID: roomID})
	if err == nil || errors.Is(err, apperrors.ErrRoomNotJoined) {
		c.setRoom("")
	}
	return err
}

// SendChat 在目前房間送出聊天訊息，回傳伺服器蓋章後的 Entry
func (c *Conn) SendChat(ctx context.Context, content string) (protocol.Entry, error) {
	room := c.Room()
	if room == "" {
		return protocol.Entry{}, apperrors.ErrRoomNotJoined
	}
	return c.sendEntry(ctx, protocol.TypeChatMessage, protocol.NewEntry(room, "", content))
}

// SendTurn 在目前房間送出一段辯論發言
func (c *Conn) SendTurn(ctx context.Context, entry protocol.Entry) (protocol.Entry, error) {
	room := c.Room()
	if room == "" {
		return protocol.Entry{}, apperrors.ErrRoomNotJoined
	}
	entry.RoomID = room
	return c.sendEntry(ctx, protocol.TypeDebateMessage, entry)
}

func (c *Conn) sendEntry(ctx context.Context, t protocol.EventType, entry protocol.Entry) (protocol.Entry, error) {
	res, err := c.request(ctx, t, protocol.EntryMessage{RoomID: entry.RoomID, Message: entry})
	if err != nil {
		return protocol.Entry{}, err
	}
	if res.Entry == nil {
		return entry, nil
	}
	return *res.Entry, nil
}

// SendTyping 送出輸入中狀態，不等待確認
func (c *Conn) SendTyping(side protocol.Side, isTyping bool) error {
	room := c.Room()
	if room == "" {
		return apperrors.ErrRoomNotJoined
	}
	data, err := protocol.Encode(protocol.TypeDebateTyping, 0, protocol.TypingStatus{RoomID: room, Side: side, IsTyping: isTyping})
	if err != nil {
		return err
	}
	return c.write(data)
}

// Close 關閉連線
func (c *Conn) Close() error {
	c.writeMu.Lock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()

	c.shutdown(apperrors.ErrNotConnected)
	return nil
}

func (c *Conn) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// request 送出需要確認的事件並等待回覆
func (c *Conn) request(ctx context.Context, t protocol.EventType, payload any) (protocol.AckResult, error) {
	ch := make(chan protocol.AckResult, 1)
	c.mu.Lock()
	c.nextAck++
	id := c.nextAck
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	data, err := protocol.Encode(t, id, payload)
	if err != nil {
		return protocol.AckResult{}, err
	}
	if err := c.write(data); err != nil {
		return protocol.AckResult{}, err
	}

	timer := time.NewTimer(c.opts.AckTimeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		return res, res.Err()
	case <-c.done:
		return protocol.AckResult{}, apperrors.ErrNotConnected
	case <-ctx.Done():
		return protocol.AckResult{}, ctx.Err()
	case <-timer.C:
		return protocol.AckResult{}, fmt.Errorf("%s: no ack within %s", t, c.opts.AckTimeout)
	}
}

func (c *Conn) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.isClosed() {
		return apperrors.ErrNotConnected
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		c.shutdown(err)
		return fmt.Errorf("%w: %v", apperrors.ErrNotConnected, err)
	}
	return nil
}

func (c *Conn) readLoop() {
	defer close(c.events)

	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPingHandler(func(appData string) error {
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		err := c.ws.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.shutdown(err)
			return
		}

		evt, err := protocol.Decode(data)
		if err != nil {
			c.log.Warn("Dropping invalid server event", "error", err)
			continue
		}

		if evt.Type == protocol.TypeAck {
			c.resolve(evt.Ack, evt.Payload.(protocol.AckResult))
			continue
		}

		select {
		case c.events <- evt:
		default:
			c.log.Warn("Event buffer full, closing connection", "type", evt.Type, "room", c.Room())
			c.shutdown(ErrEventOverflow)
			return
		}
	}
}

func (c *Conn) resolve(id uint64, res protocol.AckResult) {
	c.mu.Lock()
	ch, ok := c.pending[id]
	c.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- res:
	default:
	}
}

func (c *Conn) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.err = err
		_ = c.ws.Close()
		close(c.done)
	})
}
