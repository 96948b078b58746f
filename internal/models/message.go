package models

import (
	"time"
)

// Entry 代表房間對話紀錄中的一條，聊天與辯論發言共用
// Pos 是寫入順序，EntryID 由發出端產生並用於去重
type Entry struct {
	Pos       uint64    `gorm:"primaryKey;autoIncrement" json:"-"`
	EntryID   string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"id"`
	RoomID    string    `gorm:"type:varchar(64);index;not null" json:"room_id"`
	Seq       uint64    `json:"seq"`
	Origin    string    `gorm:"type:varchar(160);not null" json:"origin"`
	Content   string    `gorm:"type:text" json:"content"`
	Timestamp time.Time `json:"timestamp"`
}
