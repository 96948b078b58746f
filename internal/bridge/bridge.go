// Package bridge 讓本地的房間狀態與持久化存儲保持一致。
//
// Session 開啟時先訂閱、再讀一次快照，之後持續合併即時變更：
// 票數直接取代，紀錄以 Entry.ID 去重後附加。寫入失敗不會中斷即時流程，
// 只有讀取快照失敗會讓 Open 回傳錯誤。
package bridge

import (
	"context"
	"log/slog"
	"sync"

	"debate_live/internal/apperrors"
	"debate_live/internal/protocol"
	"debate_live/internal/store"
)

const updateBuffer = 64

type Session struct {
	store  store.Store
	roomID string
	log    *slog.Logger

	mu      sync.Mutex
	doc     store.Document
	seen    map[string]struct{}
	updates chan store.Change

	cancel context.CancelFunc
	done   chan struct{}
}

// Open 訂閱房間並載入快照
func Open(ctx context.Context, st store.Store, roomID string, log *slog.Logger) (*Session, error) {
	subCtx, cancel := context.WithCancel(context.Background())

	changes, err := st.Subscribe(subCtx, roomID)
	if err != nil {
		cancel()
		return nil, &apperrors.PersistenceError{Op: "hydrate", RoomID: roomID, Err: err}
	}

	doc, err := st.GetRoom(ctx, roomID)
	if err != nil {
		cancel()
		return nil, &apperrors.PersistenceError{Op: "hydrate", RoomID: roomID, Err: err}
	}

	s := &Session{
		store:   st,
		roomID:  roomID,
		log:     log.With("room", roomID),
		doc:     store.Document{ID: doc.ID, Topic: doc.Topic, Votes: doc.Votes, CreatedBy: doc.CreatedBy, CreatedAt: doc.CreatedAt},
		seen:    make(map[string]struct{}),
		updates: make(chan store.Change, updateBuffer),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	for _, e := range doc.Entries {
		s.applyEntry(e, false)
	}

	go s.listen(changes)
	return s, nil
}

func (s *Session) listen(changes <-chan store.Change) {
	defer close(s.done)
	for change := range changes {
		if change.Votes != nil {
			s.applyVotes(*change.Votes)
		}
		if change.Entry != nil {
			s.applyEntry(*change.Entry, true)
		}
	}
}

// Apply 合併一條從傳輸層收到的紀錄，已見過的 ID 會被忽略
func (s *Session) Apply(entry protocol.Entry) bool {
	return s.applyEntry(entry, true)
}

// Record 合併並保存自己送出的紀錄；保存失敗回傳 PersistenceError，本地狀態保留
func (s *Session) Record(ctx context.Context, entry protocol.Entry) error {
	s.applyEntry(entry, true)

	if _, err := s.store.AppendEntry(ctx, s.roomID, entry); err != nil {
		s.log.Warn("Persist entry failed", "op", "append_entry", "entry", entry.ID, "error", err)
		return &apperrors.PersistenceError{Op: "append_entry", RoomID: s.roomID, Err: err}
	}
	return nil
}

// CastVote 為一方投一票
func (s *Session) CastVote(ctx context.Context, side protocol.Side) (store.Votes, error) {
	if !side.Valid() {
		return store.Votes{}, apperrors.ErrInvalidEvent
	}
	votes, err := s.store.AddVote(ctx, s.roomID, side)
	if err != nil {
		s.log.Warn("Persist vote failed", "op", "add_vote", "side", side, "error", err)
		return s.Votes(), &apperrors.PersistenceError{Op: "add_vote", RoomID: s.roomID, Err: err}
	}
	s.applyVotes(votes)
	return s.Votes(), nil
}

// Updates 回傳實際改變了本地狀態的變更，消費太慢時會丟棄
func (s *Session) Updates() <-chan store.Change { return s.updates }

func (s *Session) Topic() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Topic
}

func (s *Session) Votes() store.Votes {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Votes
}

func (s *Session) Entries() []protocol.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.Entry(nil), s.doc.Entries...)
}

// Document 回傳目前的房間狀態
func (s *Session) Document() store.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := s.doc
	doc.Entries = append([]protocol.Entry(nil), s.doc.Entries...)
	return doc
}

// Close 結束訂閱
func (s *Session) Close() {
	s.cancel()
	<-s.done
}

// applyVotes 取代本地票數；每一方只會增加，過期的變更不會讓票數倒退
func (s *Session) applyVotes(v store.Votes) {
	s.mu.Lock()
	cur := s.doc.Votes
	next := store.Votes{Pro: max(cur.Pro, v.Pro), Con: max(cur.Con, v.Con)}
	changed := next != cur
	s.doc.Votes = next
	s.mu.Unlock()

	if changed {
		s.notify(store.Change{RoomID: s.roomID, Votes: &next})
	}
}

func (s *Session) applyEntry(e protocol.Entry, notify bool) bool {
	s.mu.Lock()
	if _, ok := s.seen[e.ID]; ok {
		s.mu.Unlock()
		return false
	}
	s.seen[e.ID] = struct{}{}
	s.doc.Entries = append(s.doc.Entries, e)
	s.mu.Unlock()

	if notify {
		s.notify(store.Change{RoomID: s.roomID, Entry: &e})
	}
	return true
}

func (s *Session) notify(c store.Change) {
	select {
	case s.updates <- c:
	default:
	}
}

// Winner 依票數判定勝方："pro"、"con" 或 "tie"
func Winner(v store.Votes) string {
	switch {
	case v.Pro > v.Con:
		return string(protocol.SidePro)
	case v.Con > v.Pro:
		return string(protocol.SideCon)
	default:
		return "tie"
	}
}
