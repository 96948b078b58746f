package protocol

import (
	"time"

	"github.com/google/uuid"
)

// Entry 是一條聊天訊息或辯論發言，送出後不可修改
//
// ID 由發出端產生，用於傳輸層與存儲之間的去重。
// Seq 與 Timestamp 由伺服器的分發路由在收到時蓋上，聊天訊息的 Origin 也由伺服器決定，
// 顯示順序以 Seq 為準，而不是客戶端的時鐘。
type Entry struct {
	ID        string    `json:"id" validate:"required,max=64"`
	RoomID    string    `json:"roomId,omitempty"`
	Seq       uint64    `json:"seq,omitempty"`
	Origin    Origin    `json:"origin" validate:"omitempty,origin"`
	Content   string    `json:"content" validate:"required,max=4000"`
	Timestamp time.Time `json:"timestamp"`
}

// NewEntry 建立一條新的 Entry
func NewEntry(roomID string, origin Origin, content string) Entry {
	return Entry{
		ID:        uuid.NewString(),
		RoomID:    roomID,
		Origin:    origin,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
}

// IsTurn 判斷是否為辯論角色的發言
func (e Entry) IsTurn() bool {
	_, ok := e.Origin.Persona()
	return ok
}
