package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"debate_live/internal/apperrors"
	"debate_live/internal/protocol"
	"debate_live/internal/store"
)

var ErrEmptyTopic = errors.New("topic is required")

const maxTopicLength = 500

type RoomService struct {
	store store.Store
	hub   *Hub
	log   *slog.Logger
}

func NewRoomService(st store.Store, hub *Hub, log *slog.Logger) *RoomService {
	return &RoomService{store: st, hub: hub, log: log}
}

// CreateRoom 建立新的辯論房間，票數從零開始
func (s *RoomService) CreateRoom(ctx context.Context, topic string, createdBy protocol.Identity) (store.Document, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" || len(topic) > maxTopicLength {
		return store.Document{}, ErrEmptyTopic
	}

	doc, err := s.store.CreateRoom(ctx, store.Document{Topic: topic, CreatedBy: createdBy.UserID})
	if err != nil {
		return store.Document{}, err
	}

	s.log.Info("Room created", "room", doc.ID, "user", createdBy.UserID)
	return doc, nil
}

func (s *RoomService) GetRoom(ctx context.Context, roomID string) (store.Document, error) {
	return s.store.GetRoom(ctx, roomID)
}

// ListRooms 列出某位使用者建立的房間，createdBy 為空時列出全部
func (s *RoomService) ListRooms(ctx context.Context, createdBy string) ([]store.Document, error) {
	rooms, err := s.store.ListRooms(ctx, createdBy)
	if err != nil {
		return nil, err
	}
	if rooms == nil {
		rooms = []store.Document{}
	}
	return rooms, nil
}

func (s *RoomService) Vote(ctx context.Context, roomID string, side protocol.Side) (store.Votes, error) {
	if !side.Valid() {
		return store.Votes{}, apperrors.ErrInvalidEvent
	}
	votes, err := s.store.AddVote(ctx, roomID, side)
	if err != nil {
		return store.Votes{}, err
	}

	s.log.Debug("Vote recorded", "room", roomID, "side", side, "pro", votes.Pro, "con", votes.Con)
	return votes, nil
}

// AppendEntry 保存一條紀錄；同一個 ID 重複寫入時回傳 false
func (s *RoomService) AppendEntry(ctx context.Context, roomID string, entry protocol.Entry) (bool, error) {
	if err := protocol.Validate(entry); err != nil {
		return false, err
	}
	if entry.Origin == "" {
		return false, apperrors.ErrInvalidEvent
	}
	return s.store.AppendEntry(ctx, roomID, entry)
}

// Subscribe 訂閱房間的持久化變更
func (s *RoomService) Subscribe(ctx context.Context, roomID string) (<-chan store.Change, error) {
	if _, err := s.store.GetRoom(ctx, roomID); err != nil {
		return nil, err
	}
	return s.store.Subscribe(ctx, roomID)
}

// Online 獲取指定房間的在線成員
func (s *RoomService) Online(roomID string) []protocol.Identity {
	return s.hub.Members(roomID)
}
