package store

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"debate_live/internal/apperrors"
	"debate_live/internal/protocol"
)

var ErrRoomExists = errors.New("room already exists")

type memoryRoom struct {
	doc  Document
	seen map[string]struct{}
}

// Memory 是行程內的存儲，用於測試與單機模式
type Memory struct {
	mu       sync.RWMutex
	rooms    map[string]*memoryRoom
	notifier Notifier
}

func NewMemory(log *slog.Logger) *Memory {
	return &Memory{
		rooms:    make(map[string]*memoryRoom),
		notifier: NewLocalNotifier(log),
	}
}

func (m *Memory) CreateRoom(ctx context.Context, doc Document) (Document, error) {
	doc = prepareDocument(doc)

	m.mu.Lock()
	if _, ok := m.rooms[doc.ID]; ok {
		m.mu.Unlock()
		return Document{}, ErrRoomExists
	}
	m.rooms[doc.ID] = &memoryRoom{doc: doc, seen: make(map[string]struct{})}
	m.mu.Unlock()

	return doc, nil
}

func (m *Memory) GetRoom(_ context.Context, roomID string) (Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	room, ok := m.rooms[roomID]
	if !ok {
		return Document{}, apperrors.ErrRoomNotFound
	}
	doc := room.doc
	doc.Entries = append([]protocol.Entry(nil), room.doc.Entries...)
	return doc, nil
}

func (m *Memory) ListRooms(_ context.Context, createdBy string) ([]Document, error) {
	m.mu.RLock()
	docs := lo.FilterMap(lo.Values(m.rooms), func(r *memoryRoom, _ int) (Document, bool) {
		doc := r.doc
		doc.Entries = nil
		return doc, createdBy == "" || doc.CreatedBy == createdBy
	})
	m.mu.RUnlock()

	sortNewestFirst(docs)
	return docs, nil
}

func (m *Memory) AddVote(ctx context.Context, roomID string, side protocol.Side) (Votes, error) {
	m.mu.Lock()
	room, ok := m.rooms[roomID]
	if !ok {
		m.mu.Unlock()
		return Votes{}, apperrors.ErrRoomNotFound
	}
	room.doc.Votes = room.doc.Votes.Add(side)
	votes := room.doc.Votes
	m.mu.Unlock()

	return votes, m.notifier.Publish(ctx, Change{RoomID: roomID, Votes: &votes})
}

func (m *Memory) AppendEntry(ctx context.Context, roomID string, entry protocol.Entry) (bool, error) {
	m.mu.Lock()
	room, ok := m.rooms[roomID]
	if !ok {
		m.mu.Unlock()
		return false, apperrors.ErrRoomNotFound
	}
	if _, dup := room.seen[entry.ID]; dup {
		m.mu.Unlock()
		return false, nil
	}
	entry.RoomID = roomID
	room.seen[entry.ID] = struct{}{}
	room.doc.Entries = append(room.doc.Entries, entry)
	m.mu.Unlock()

	return true, m.notifier.Publish(ctx, Change{RoomID: roomID, Entry: &entry})
}

func (m *Memory) Subscribe(ctx context.Context, roomID string) (<-chan Change, error) {
	return m.notifier.Subscribe(ctx, roomID)
}

func (m *Memory) Close() error { return m.notifier.Close() }

// prepareDocument 補上新房間的預設欄位
func prepareDocument(doc Document) Document {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	doc.Topic = strings.TrimSpace(doc.Topic)
	doc.Entries = nil
	return doc
}

func sortNewestFirst(docs []Document) {
	sort.SliceStable(docs, func(i, j int) bool {
		return docs[i].CreatedAt.After(docs[j].CreatedAt)
	})
}
