package models

import (
	"time"
)

// Room 表示一個辯論房間
type Room struct {
	ID        string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Topic     string    `gorm:"type:text;not null" json:"topic"`
	VotesPro  uint64    `gorm:"not null;default:0" json:"votes_pro"`
	VotesCon  uint64    `gorm:"not null;default:0" json:"votes_con"`
	CreatedBy string    `gorm:"type:varchar(128);index" json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Entries   []Entry   `gorm:"foreignKey:RoomID;constraint:OnDelete:CASCADE" json:"entries,omitempty"`
}

// VoteColumn 回傳某一方票數對應的欄位名稱
func VoteColumn(side string) string {
	if side == "pro" {
		return "votes_pro"
	}
	return "votes_con"
}
