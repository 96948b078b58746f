// Package apperrors 定義整個系統共用的錯誤類型。
//
// 連線、房間、生成與持久化四類錯誤都在這裡定義，
// 伺服器與客戶端透過 Code 在 WebSocket 上傳遞同一組錯誤值。
package apperrors

import (
	"errors"
	"fmt"
)

var (
	ErrNotConnected     = errors.New("not connected")
	ErrRoomNotJoined    = errors.New("room not joined")
	ErrRoomNotFound     = errors.New("room not found")
	ErrInvalidEvent     = errors.New("invalid event")
	ErrAlreadyRunning   = errors.New("debate already running")
	ErrNotRunning       = errors.New("debate not running")
	ErrEmptyGeneration  = errors.New("generator returned no usable text")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrUsersUnavailable = errors.New("user accounts are not configured")
)

// ConnectionError 表示傳輸層握手在重試次數用盡後仍然失敗
type ConnectionError struct {
	Attempts int
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// GenerationError 包裝生成服務的失敗或空白輸出
type GenerationError struct {
	Side string
	Err  error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generate %s argument: %v", e.Side, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// PersistenceError 包裝持久化存儲的讀寫失敗
// Op 例如 "hydrate"、"append_entry"、"add_vote"
type PersistenceError struct {
	Op     string
	RoomID string
	Err    error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s (room %s): %v", e.Op, e.RoomID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Code 是錯誤在線路上的表示
type Code string

const (
	CodeNone         Code = ""
	CodeNotConnected Code = "not_connected"
	CodeNotJoined    Code = "room_not_joined"
	CodeRoomNotFound Code = "room_not_found"
	CodeInvalidEvent Code = "invalid_event"
	CodeUnauthorized Code = "unauthorized"
	CodeInternal     Code = "internal"
)

// CodeOf 把錯誤轉成線路代碼
func CodeOf(err error) Code {
	switch {
	case err == nil:
		return CodeNone
	case errors.Is(err, ErrNotConnected):
		return CodeNotConnected
	case errors.Is(err, ErrRoomNotJoined):
		return CodeNotJoined
	case errors.Is(err, ErrRoomNotFound):
		return CodeRoomNotFound
	case errors.Is(err, ErrInvalidEvent):
		return CodeInvalidEvent
	case errors.Is(err, ErrUnauthorized):
		return CodeUnauthorized
	default:
		return CodeInternal
	}
}

// FromCode 把線路代碼還原成對應的錯誤值
func FromCode(code Code, detail string) error {
	switch code {
	case CodeNone:
		return nil
	case CodeNotConnected:
		return ErrNotConnected
	case CodeNotJoined:
		return ErrRoomNotJoined
	case CodeRoomNotFound:
		return ErrRoomNotFound
	case CodeInvalidEvent:
		return fmt.Errorf("%w: %s", ErrInvalidEvent, detail)
	case CodeUnauthorized:
		return ErrUnauthorized
	default:
		return fmt.Errorf("server error: %s", detail)
	}
}

// UserMessage 回傳給終端使用者看的簡短訊息，不含內部細節
func UserMessage(err error) string {
	var (
		connErr *ConnectionError
		genErr  *GenerationError
		perErr  *PersistenceError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &connErr):
		return "無法連線到伺服器，請重新整理頁面"
	case errors.Is(err, ErrNotConnected):
		return "尚未連線，請稍後再試"
	case errors.Is(err, ErrRoomNotJoined):
		return "尚未加入此房間"
	case errors.Is(err, ErrRoomNotFound):
		return "房間不存在"
	case errors.Is(err, ErrInvalidEvent):
		return "訊息格式錯誤"
	case errors.Is(err, ErrAlreadyRunning):
		return "辯論已在進行中"
	case errors.Is(err, ErrNotRunning):
		return "辯論尚未開始"
	case errors.Is(err, ErrUnauthorized):
		return "請先登入"
	case errors.Is(err, ErrUsersUnavailable):
		return "此伺服器未開放帳號註冊"
	case errors.As(err, &genErr):
		return "生成論點失敗"
	case errors.As(err, &perErr):
		if perErr.Op == "hydrate" {
			return "無法載入房間資料，請重新整理頁面"
		}
		return "資料儲存失敗，訊息可能不會保留"
	default:
		return "發生錯誤，請稍後再試"
	}
}
