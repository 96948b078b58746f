package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/pb"
	"github.com/google/uuid"

	"debate_live/internal/apperrors"
	"debate_live/internal/protocol"
)

// Badger 以內嵌的 BadgerDB 保存房間
//
// 鍵的格式：
//
//	room:{id}:meta          房間資訊與票數
//	room:{id}:n             最後一條紀錄的位置
//	room:{id}:e:{pos}       對話紀錄，位置補零到 20 位以保持字典序
//	room:{id}:i:{entryID}   去重索引
//	room:{id}:sub:{uuid}    訂閱登記用的暫時標記
//
// 訂閱直接使用 BadgerDB 的 Subscribe，不需要額外的 Notifier。
type Badger struct {
	db  *badger.DB
	log *slog.Logger
}

const (
	maxTxnRetries    = 5
	subscribeTimeout = 5 * time.Second
	markerInterval   = 20 * time.Millisecond
)

func NewBadger(db *badger.DB, log *slog.Logger) *Badger {
	return &Badger{db: db, log: log}
}

type badgerMeta struct {
	ID        string    `json:"id"`
	Topic     string    `json:"topic"`
	Votes     Votes     `json:"votes"`
	CreatedBy string    `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
}

func roomPrefix(id string) string { return "room:" + id + ":" }
func metaKey(id string) []byte { return []byte(roomPrefix(id) + "meta") }
func counterKey(id string) []byte { return []byte(roomPrefix(id) + "n") }
func entryPrefix(id string) string { return roomPrefix(id) + "e:" }
func indexKey(id, eid string) []byte { return []byte(roomPrefix(id) + "i:" + eid) }
func markerKey(id, sub string) []byte { return []byte(roomPrefix(id) + "sub:" + sub) }
func entryKey(id string, pos uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", entryPrefix(id), pos))
}

// update 在寫入衝突時重試
func (b *Badger) update(fn func(txn *badger.Txn) error) error {
	var err error
	for i := 0; i < maxTxnRetries; i++ {
		err = b.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func (b *Badger) CreateRoom(_ context.Context, doc Document) (Document, error) {
	doc = prepareDocument(doc)
	meta := badgerMeta{
		ID:        doc.ID,
		Topic:     doc.Topic,
		CreatedBy: doc.CreatedBy,
		CreatedAt: doc.CreatedAt,
	}

	err := b.update(func(txn *badger.Txn) error {
		if _, err := txn.Get(metaKey(doc.ID)); err == nil {
			return ErrRoomExists
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return setJSON(txn, metaKey(doc.ID), meta)
	})
	if err != nil {
		return Document{}, err
	}
	return doc, nil
}

func (b *Badger) GetRoom(_ context.Context, roomID string) (Document, error) {
	var doc Document
	err := b.db.View(func(txn *badger.Txn) error {
		meta, err := getMeta(txn, roomID)
		if err != nil {
			return err
		}
		doc = meta.document()

		prefix := []byte(entryPrefix(roomID))
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var entry protocol.Entry
			if err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &entry)
			}); err != nil {
				return err
			}
			doc.Entries = append(doc.Entries, entry)
		}
		return nil
	})
	return doc, err
}

func (b *Badger) ListRooms(_ context.Context, createdBy string) ([]Document, error) {
	var docs []Document
	err := b.db.View(func(txn *badger.Txn) error {
		prefix := []byte("room:")
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			if !strings.HasSuffix(string(item.Key()), ":meta") {
				continue
			}
			var meta badgerMeta
			if err := item.Value(func(v []byte) error {
				return json.Unmarshal(v, &meta)
			}); err != nil {
				return err
			}
			if createdBy == "" || meta.CreatedBy == createdBy {
				docs = append(docs, meta.document())
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortNewestFirst(docs)
	return docs, nil
}

func (b *Badger) AddVote(_ context.Context, roomID string, side protocol.Side) (Votes, error) {
	var votes Votes
	err := b.update(func(txn *badger.Txn) error {
		meta, err := getMeta(txn, roomID)
		if err != nil {
			return err
		}
		meta.Votes = meta.Votes.Add(side)
		votes = meta.Votes
		return setJSON(txn, metaKey(roomID), meta)
	})
	return votes, err
}

func (b *Badger) AppendEntry(_ context.Context, roomID string, entry protocol.Entry) (bool, error) {
	entry.RoomID = roomID
	added := false
	err := b.update(func(txn *badger.Txn) error {
		added = false
		if _, err := getMeta(txn, roomID); err != nil {
			return err
		}
		if _, err := txn.Get(indexKey(roomID, entry.ID)); err == nil {
			return nil
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		pos, err := getCounter(txn, roomID)
		if err != nil {
			return err
		}
		pos++

		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, pos)
		if err := txn.Set(counterKey(roomID), buf); err != nil {
			return err
		}
		if err := txn.Set(indexKey(roomID, entry.ID), buf); err != nil {
			return err
		}
		if err := setJSON(txn, entryKey(roomID, pos), entry); err != nil {
			return err
		}
		added = true
		return nil
	})
	return added, err
}

// Subscribe 監聽房間前綴下的寫入，meta 的變動轉成票數更新，紀錄轉成新增
//
// BadgerDB 在背景 goroutine 中才登記訂閱，因此回傳前會反覆寫入一個
// 帶 TTL 的標記鍵，直到回呼收到它為止，確保之後的寫入都會被送出。
func (b *Badger) Subscribe(ctx context.Context, roomID string) (<-chan Change, error) {
	if err := b.db.View(func(txn *badger.Txn) error {
		_, err := getMeta(txn, roomID)
		return err
	}); err != nil {
		return nil, err
	}

	marker := markerKey(roomID, uuid.NewString())
	ready := make(chan struct{})
	var readyOnce sync.Once
	ended := make(chan error, 1)

	subCtx, cancel := context.WithCancel(ctx)
	out := make(chan Change, subscriberBuffer)
	match := []pb.Match{{Prefix: []byte(roomPrefix(roomID))}}
	go func() {
		defer close(out)
		defer cancel()
		err := b.db.Subscribe(subCtx, func(kvs *badger.KVList) error {
			for _, kv := range kvs.Kv {
				if bytes.Equal(kv.Key, marker) {
					readyOnce.Do(func() { close(ready) })
					continue
				}
				change, ok := b.decodeChange(roomID, kv.Key, kv.Value)
				if !ok {
					continue
				}
				select {
				case out <- change:
				case <-subCtx.Done():
					return subCtx.Err()
				}
			}
			return nil
		}, match)
		if err != nil && !errors.Is(err, context.Canceled) {
			b.log.Warn("Badger subscription ended", "room", roomID, "error", err)
		}
		ended <- err
	}()

	if err := b.awaitMarker(subCtx, marker, ready, ended); err != nil {
		cancel()
		return nil, err
	}
	if err := b.db.Update(func(txn *badger.Txn) error { return txn.Delete(marker) }); err != nil {
		b.log.Debug("Cannot delete subscription marker", "room", roomID, "error", err)
	}
	return out, nil
}

// awaitMarker 重複寫入標記鍵，直到訂閱收到它
func (b *Badger) awaitMarker(ctx context.Context, marker []byte, ready <-chan struct{}, ended <-chan error) error {
	deadline := time.NewTimer(subscribeTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(markerInterval)
	defer ticker.Stop()

	for {
		if err := b.db.Update(func(txn *badger.Txn) error {
			return txn.SetEntry(badger.NewEntry(marker, nil).WithTTL(time.Minute))
		}); err != nil {
			return fmt.Errorf("failed to register subscription: %w", err)
		}
		select {
		case <-ready:
			return nil
		case err := <-ended:
			if err == nil {
				err = errors.New("subscription closed before it was registered")
			}
			return fmt.Errorf("failed to register subscription: %w", err)
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return errors.New("timed out registering badger subscription")
		case <-ticker.C:
		}
	}
}

func (b *Badger) decodeChange(roomID string, key, value []byte) (Change, bool) {
	k := string(key)
	switch {
	case strings.HasSuffix(k, ":meta"):
		var meta badgerMeta
		if err := json.Unmarshal(value, &meta); err != nil {
			b.log.Warn("Invalid room meta in badger", "key", k, "error", err)
			return Change{}, false
		}
		votes := meta.Votes
		return Change{RoomID: roomID, Votes: &votes}, true
	case strings.HasPrefix(k, entryPrefix(roomID)):
		var entry protocol.Entry
		if err := json.Unmarshal(value, &entry); err != nil {
			b.log.Warn("Invalid entry in badger", "key", k, "error", err)
			return Change{}, false
		}
		return Change{RoomID: roomID, Entry: &entry}, true
	default:
		return Change{}, false
	}
}

// Close 不關閉底層的 DB，由開啟它的一方負責
func (b *Badger) Close() error { return nil }

func (m badgerMeta) document() Document {
	return Document{
		ID:        m.ID,
		Topic:     m.Topic,
		Votes:     m.Votes,
		CreatedBy: m.CreatedBy,
		CreatedAt: m.CreatedAt,
	}
}

func getMeta(txn *badger.Txn, roomID string) (badgerMeta, error) {
	var meta badgerMeta
	item, err := txn.Get(metaKey(roomID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return meta, apperrors.ErrRoomNotFound
	}
	if err != nil {
		return meta, err
	}
	err = item.Value(func(v []byte) error {
		return json.Unmarshal(v, &meta)
	})
	return meta, err
}

func getCounter(txn *badger.Txn, roomID string) (uint64, error) {
	item, err := txn.Get(counterKey(roomID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var pos uint64
	err = item.Value(func(v []byte) error {
		pos = binary.BigEndian.Uint64(v)
		return nil
	})
	return pos, err
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, data)
}
