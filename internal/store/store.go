// Package store 是房間持久化資料的存取層。
//
// 每個房間是一份文件（主題、票數、對話紀錄、建立者），
// 並支援以房間為單位的即時訂閱。實作包含記憶體、Badger、
// PostgreSQL（搭配 Redis 通知）以及透過 HTTP 存取伺服器的 Remote。
package store

import (
	"context"
	"time"

	"debate_live/internal/protocol"
)

// Votes 是房間的投票統計，只增不減
type Votes struct {
	Pro uint64 `json:"pro"`
	Con uint64 `json:"con"`
}

// Add 回傳加上一票後的結果
func (v Votes) Add(side protocol.Side) Votes {
	if side == protocol.SidePro {
		v.Pro++
	} else {
		v.Con++
	}
	return v
}

// Document 對應 rooms/{roomId} 這份文件
type Document struct {
	ID        string           `json:"id"`
	Topic     string           `json:"topic"`
	Votes     Votes            `json:"votes"`
	Entries   []protocol.Entry `json:"chat"`
	CreatedBy string           `json:"createdBy"`
	CreatedAt time.Time        `json:"createdAt"`
}

// Change 是訂閱者收到的增量更新
// Votes 為替換後的完整票數，Entry 為新增的一條紀錄
type Change struct {
	RoomID string          `json:"roomId"`
	Votes  *Votes          `json:"votes,omitempty"`
	Entry  *protocol.Entry `json:"entry,omitempty"`
}

// Store 定義房間文件的讀寫與訂閱
type Store interface {
	// CreateRoom 建立房間，ID 為空時由存儲產生
	CreateRoom(ctx context.Context, doc Document) (Document, error)
	GetRoom(ctx context.Context, roomID string) (Document, error)
	// ListRooms 列出房間（不含對話紀錄），createdBy 為空時列出全部
	ListRooms(ctx context.Context, createdBy string) ([]Document, error)
	AddVote(ctx context.Context, roomID string, side protocol.Side) (Votes, error)
	// AppendEntry 附加一條紀錄，同一個 ID 只會寫入一次；重複時回傳 false
	AppendEntry(ctx context.Context, roomID string, entry protocol.Entry) (bool, error)
	// Subscribe 訂閱房間的變更，ctx 結束時關閉回傳的 channel
	Subscribe(ctx context.Context, roomID string) (<-chan Change, error)
	Close() error
}

// Notifier 負責把變更廣播給訂閱者
type Notifier interface {
	Publish(ctx context.Context, change Change) error
	Subscribe(ctx context.Context, roomID string) (<-chan Change, error)
	Close() error
}

const subscriberBuffer = 64
