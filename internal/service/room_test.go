package service

import (
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"debate_live/internal/apperrors"
	"debate_live/internal/protocol"
	"debate_live/internal/store"
)

func newRoomService() *RoomService {
	st := store.NewMemory(slog.Default())
	return NewRoomService(st, NewHub(st, slog.Default()), slog.Default())
}

func TestRoomService_CreateAndList(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	rooms := newRoomService()
	alice := protocol.Identity{UserID: "user-1", Name: "Alice"}

	doc, err := rooms.CreateRoom(ctx, "  Should homework be banned?  ", alice)
	req.NoError(err)
	req.Equal("Should homework be banned?", doc.Topic)
	req.Equal(store.Votes{}, doc.Votes)
	req.Equal("user-1", doc.CreatedBy)

	mine, err := rooms.ListRooms(ctx, "user-1")
	req.NoError(err)
	req.Len(mine, 1)

	others, err := rooms.ListRooms(ctx, "user-2")
	req.NoError(err)
	req.NotNil(others)
	req.Empty(others)
}

func TestRoomService_RejectsBadTopics(t *testing.T) {
	req := require.New(t)
	rooms := newRoomService()

	_, err := rooms.CreateRoom(context.Background(), "   ", protocol.Identity{UserID: "u"})
	req.ErrorIs(err, ErrEmptyTopic)
	_, err = rooms.CreateRoom(context.Background(), strings.Repeat("x", maxTopicLength+1), protocol.Identity{UserID: "u"})
	req.ErrorIs(err, ErrEmptyTopic)
}

func TestRoomService_VoteAndAppend(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	rooms := newRoomService()
	doc, err := rooms.CreateRoom(ctx, "topic", protocol.Identity{UserID: "u"})
	req.NoError(err)

	_, err = rooms.Vote(ctx, doc.ID, protocol.Side("maybe"))
	req.ErrorIs(err, apperrors.ErrInvalidEvent)
	votes, err := rooms.Vote(ctx, doc.ID, protocol.SideCon)
	req.NoError(err)
	req.Equal(store.Votes{Con: 1}, votes)

	entry := protocol.NewEntry(doc.ID, "", "no origin")
	_, err = rooms.AppendEntry(ctx, doc.ID, entry)
	req.ErrorIs(err, apperrors.ErrInvalidEvent)

	entry.Origin = protocol.OriginSystem
	added, err := rooms.AppendEntry(ctx, doc.ID, entry)
	req.NoError(err)
	req.True(added)

	_, err = rooms.Subscribe(ctx, "missing")
	req.ErrorIs(err, apperrors.ErrRoomNotFound)
}
