package store

import (
	"context"
	"errors"

	"github.com/samber/lo"
	"gorm.io/gorm"

	"debate_live/internal/apperrors"
	"debate_live/internal/models"
	"debate_live/internal/protocol"
	"debate_live/internal/repository"
)

// Postgres 以 PostgreSQL 保存房間，變更透過 Notifier 廣播
// 多台伺服器共用資料庫時，Notifier 應為 RedisNotifier
type Postgres struct {
	repos    *repository.Repositories
	notifier Notifier
}

func NewPostgres(repos *repository.Repositories, notifier Notifier) *Postgres {
	return &Postgres{repos: repos, notifier: notifier}
}

func (p *Postgres) CreateRoom(_ context.Context, doc Document) (Document, error) {
	doc = prepareDocument(doc)
	room := &models.Room{
		ID:        doc.ID,
		Topic:     doc.Topic,
		CreatedBy: doc.CreatedBy,
		CreatedAt: doc.CreatedAt,
	}
	if err := p.repos.Room.Create(room); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return Document{}, ErrRoomExists
		}
		return Document{}, err
	}
	return doc, nil
}

func (p *Postgres) GetRoom(_ context.Context, roomID string) (Document, error) {
	room, err := p.repos.Room.FindByID(roomID)
	if err != nil {
		return Document{}, mapNotFound(err)
	}
	doc := roomToDocument(*room)
	doc.Entries = lo.Map(room.Entries, func(e models.Entry, _ int) protocol.Entry {
		return entryFromModel(e)
	})
	return doc, nil
}

func (p *Postgres) ListRooms(_ context.Context, createdBy string) ([]Document, error) {
	rooms, err := p.repos.Room.FindByCreator(createdBy)
	if err != nil {
		return nil, err
	}
	return lo.Map(rooms, func(r models.Room, _ int) Document {
		return roomToDocument(r)
	}), nil
}

func (p *Postgres) AddVote(ctx context.Context, roomID string, side protocol.Side) (Votes, error) {
	room, err := p.repos.Room.IncrementVote(roomID, models.VoteColumn(string(side)))
	if err != nil {
		return Votes{}, mapNotFound(err)
	}
	votes := Votes{Pro: room.VotesPro, Con: room.VotesCon}
	return votes, p.notifier.Publish(ctx, Change{RoomID: roomID, Votes: &votes})
}

func (p *Postgres) AppendEntry(ctx context.Context, roomID string, entry protocol.Entry) (bool, error) {
	exists, err := p.repos.Room.Exists(roomID)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, apperrors.ErrRoomNotFound
	}

	entry.RoomID = roomID
	added, err := p.repos.Entry.CreateIfAbsent(entryToModel(entry))
	if err != nil || !added {
		return false, err
	}
	return true, p.notifier.Publish(ctx, Change{RoomID: roomID, Entry: &entry})
}

func (p *Postgres) Subscribe(ctx context.Context, roomID string) (<-chan Change, error) {
	return p.notifier.Subscribe(ctx, roomID)
}

func (p *Postgres) Close() error { return p.notifier.Close() }

func mapNotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperrors.ErrRoomNotFound
	}
	return err
}

func roomToDocument(r models.Room) Document {
	return Document{
		ID:        r.ID,
		Topic:     r.Topic,
		Votes:     Votes{Pro: r.VotesPro, Con: r.VotesCon},
		CreatedBy: r.CreatedBy,
		CreatedAt: r.CreatedAt,
	}
}

func entryToModel(e protocol.Entry) *models.Entry {
	return &models.Entry{
		EntryID:   e.ID,
		RoomID:    e.RoomID,
		Seq:       e.Seq,
		Origin:    string(e.Origin),
		Content:   e.Content,
		Timestamp: e.Timestamp,
	}
}

func entryFromModel(m models.Entry) protocol.Entry {
	return protocol.Entry{
		ID:        m.EntryID,
		RoomID:    m.RoomID,
		Seq:       m.Seq,
		Origin:    protocol.Origin(m.Origin),
		Content:   m.Content,
		Timestamp: m.Timestamp,
	}
}
