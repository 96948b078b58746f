// Package protocol 定義 WebSocket 上傳輸的事件格式。
//
// 所有事件都包在 Envelope 裡，Type 決定 Payload 的結構；
// 事件種類是封閉的，未知的 Type 或不合法的欄位會在邊界被拒絕。
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"

	"debate_live/internal/apperrors"
)

// EventType 事件種類
type EventType string

const (
	TypeJoinRoom      EventType = "join-room"
	TypeLeaveRoom     EventType = "leave-room"
	TypeChatMessage   EventType = "chat-message"
	TypeDebateMessage EventType = "debate-message"
	TypeDebateTyping  EventType = "debate-typing"
	TypeUserJoined    EventType = "user-joined"
	TypeUserLeft      EventType = "user-left"
	TypeRoomUsers     EventType = "room-users"
	TypeAck           EventType = "ack"
)

// Acknowledged 回報此類事件是否需要回覆確認
func (t EventType) Acknowledged() bool {
	switch t {
	case TypeJoinRoom, TypeLeaveRoom, TypeChatMessage, TypeDebateMessage:
		return true
	default:
		return false
	}
}

// Envelope 是線路上的外層結構
type Envelope struct {
	Type    EventType       `json:"type"`
	Ack     uint64          `json:"ack,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// RoomRequest 用於 join-room / leave-room
type RoomRequest struct {
	RoomID string `json:"roomId" validate:"required,max=64,excludesall=/:"`
}

// EntryMessage 用於 chat-message / debate-message
type EntryMessage struct {
	RoomID  string `json:"roomId" validate:"required,max=64,excludesall=/:"`
	Message Entry  `json:"message"`
}

// TypingStatus 用於 debate-typing，不需要確認
type TypingStatus struct {
	RoomID   string `json:"roomId" validate:"required,max=64,excludesall=/:"`
	Side     Side   `json:"side" validate:"required,oneof=pro con"`
	IsTyping bool   `json:"isTyping"`
}

// Presence 用於 user-joined / user-left
type Presence struct {
	RoomID string   `json:"roomId" validate:"required"`
	User   Identity `json:"user"`
}

// RoomUsers 加入房間後伺服器送給加入者的成員清單
type RoomUsers struct {
	RoomID string     `json:"roomId" validate:"required"`
	Users  []Identity `json:"users"`
}

// AckResult 是對需要確認的事件的回覆
type AckResult struct {
	OK    bool           `json:"ok"`
	Code  apperrors.Code `json:"code,omitempty"`
	Error string         `json:"error,omitempty"`
	Entry *Entry         `json:"entry,omitempty"`
}

// Err 把回覆還原成錯誤
func (a AckResult) Err() error {
	if a.OK {
		return nil
	}
	if a.Code == apperrors.CodeNone {
		return apperrors.FromCode(apperrors.CodeInternal, a.Error)
	}
	return apperrors.FromCode(a.Code, a.Error)
}

// Event 是解碼後的事件，Payload 為上面其中一種具體型別
type Event struct {
	Type    EventType
	Ack     uint64
	Payload any
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("origin", func(fl validator.FieldLevel) bool {
		return Origin(fl.Field().String()).Valid()
	})
	return v
}

// Validate 檢查 payload 的欄位
func Validate(payload any) error {
	if err := validate.Struct(payload); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrInvalidEvent, err)
	}
	return nil
}

// Decode 解析並驗證一個事件
func Decode(data []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Event{}, fmt.Errorf("%w: %v", apperrors.ErrInvalidEvent, err)
	}

	var payload any
	switch env.Type {
	case TypeJoinRoom, TypeLeaveRoom:
		payload = &RoomRequest{}
	case TypeChatMessage, TypeDebateMessage:
		payload = &EntryMessage{}
	case TypeDebateTyping:
		payload = &TypingStatus{}
	case TypeUserJoined, TypeUserLeft:
		payload = &Presence{}
	case TypeRoomUsers:
		payload = &RoomUsers{}
	case TypeAck:
		payload = &AckResult{}
	default:
		return Event{}, fmt.Errorf("%w: unknown type %q", apperrors.ErrInvalidEvent, env.Type)
	}

	if len(env.Payload) == 0 {
		return Event{}, fmt.Errorf("%w: missing payload for %q", apperrors.ErrInvalidEvent, env.Type)
	}
	if err := json.Unmarshal(env.Payload, payload); err != nil {
		return Event{}, fmt.Errorf("%w: %v", apperrors.ErrInvalidEvent, err)
	}
	// ack 的內容由伺服器產生，不做欄位檢查
	if env.Type != TypeAck {
		if err := Validate(payload); err != nil {
			return Event{}, err
		}
	}

	return Event{Type: env.Type, Ack: env.Ack, Payload: deref(payload)}, nil
}

// Encode 將事件編碼為 JSON
func Encode(t EventType, ack uint64, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: t, Ack: ack, Payload: raw})
}

func deref(p any) any {
	switch v := p.(type) {
	case *RoomRequest:
		return *v
	case *EntryMessage:
		return *v
	case *TypingStatus:
		return *v
	case *Presence:
		return *v
	case *RoomUsers:
		return *v
	case *AckResult:
		return *v
	default:
		return p
	}
}
