package service

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"debate_live/internal/apperrors"
	"debate_live/internal/protocol"
	"debate_live/internal/store"
)

func newTestClient(h *Hub, id string) *Client {
	c := NewClient(nil, protocol.Identity{UserID: id, Name: id})
	h.Register(c)
	return c
}

// drain 取出目前已排入送出通道的所有事件
func drain(t *testing.T, c *Client) []protocol.Event {
	t.Helper()
	var events []protocol.Event
	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				return events
			}
			evt, err := protocol.Decode(data)
			require.NoError(t, err)
			events = append(events, evt)
		default:
			return events
		}
	}
}

func ofType(events []protocol.Event, t protocol.EventType) []protocol.Event {
	var out []protocol.Event
	for _, e := range events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func chat(roomID, content string) protocol.Event {
	return protocol.Event{
		Type: protocol.TypeChatMessage,
		Payload: protocol.EntryMessage{
			RoomID:  roomID,
			Message: protocol.NewEntry(roomID, protocol.HumanOrigin("someone"), content),
		},
	}
}

// assertMembership 檢查每個連線最多在一個房間內，且與 c.room 一致
func assertMembership(t *testing.T, h *Hub, clients []*Client, step string) {
	t.Helper()
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range clients {
		var in []string
		for id, r := range h.rooms {
			if _, ok := r.members[c]; ok {
				in = append(in, id)
			}
		}
		require.LessOrEqual(t, len(in), 1, "%s: %s is in rooms %v", step, c.identity.UserID, in)
		if _, registered := h.clients[c]; !registered {
			require.Empty(t, in, "%s: disconnected %s still in a room", step, c.identity.UserID)
			continue
		}
		if c.room == "" {
			require.Empty(t, in, step)
		} else {
			require.Equal(t, []string{c.room}, in, step)
		}
	}
}

func TestHub_RandomJoinLeaveKeepsAtMostOneRoom(t *testing.T) {
	h := NewHub(nil, slog.Default())
	rng := rand.New(rand.NewSource(42))
	rooms := []string{"r1", "r2", "r3"}
	clients := make([]*Client, 5)
	for i := range clients {
		clients[i] = newTestClient(h, fmt.Sprintf("u%d", i))
	}

	for step := 0; step < 1000; step++ {
		i := rng.Intn(len(clients))
		c := clients[i]
		room := rooms[rng.Intn(len(rooms))]
		label := fmt.Sprintf("step %d", step)

		switch op := rng.Intn(10); {
		case op < 5:
			err := h.Join(context.Background(), c, room)
			if !h.registered(c) {
				require.ErrorIs(t, err, apperrors.ErrNotConnected, label)
			} else {
				require.NoError(t, err, label)
				require.Equal(t, room, c.room, label)
			}
		case op < 9:
			err := h.Leave(c, room)
			if err == nil {
				require.Empty(t, c.room, label)
			}
		default:
			h.Disconnect(c)
			// 斷線的位置換上新的連線
			clients[i] = newTestClient(h, fmt.Sprintf("u%d-%d", i, step))
			assertMembership(t, h, []*Client{c}, label)
		}

		for _, c := range clients {
			drain(t, c)
		}
		assertMembership(t, h, clients, label)
	}
}

func TestHub_JoinRequiresConnection(t *testing.T) {
	req := require.New(t)
	h := NewHub(nil, slog.Default())
	c := NewClient(nil, protocol.Identity{UserID: "u1"})

	// Given a client that never connected
	err := h.Join(context.Background(), c, "r1")
	req.ErrorIs(err, apperrors.ErrNotConnected)

	// And one that disconnected
	h.Register(c)
	h.Disconnect(c)
	err = h.Join(context.Background(), c, "r1")
	req.ErrorIs(err, apperrors.ErrNotConnected)
}

func TestHub_PublishFansOutWithoutEchoOrCrossRoomLeak(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	h := NewHub(nil, slog.Default())
	alice, bob, carol := newTestClient(h, "alice"), newTestClient(h, "bob"), newTestClient(h, "carol")

	req.NoError(h.Join(ctx, alice, "r1"))
	req.NoError(h.Join(ctx, bob, "r1"))
	req.NoError(h.Join(ctx, carol, "r2"))
	drain(t, alice)
	drain(t, bob)
	drain(t, carol)

	// When alice chats in r1
	entry, err := h.Publish(alice, chat("r1", "hi"))
	req.NoError(err)

	// Then bob gets it once, alice gets no echo and carol nothing
	got := ofType(drain(t, bob), protocol.TypeChatMessage)
	req.Len(got, 1)
	msg := got[0].Payload.(protocol.EntryMessage)
	req.Equal(entry.ID, msg.Message.ID)
	req.Equal(protocol.HumanOrigin("alice"), msg.Message.Origin)
	req.Empty(drain(t, alice))
	req.Empty(drain(t, carol))
}

func TestHub_PublishStampsIncreasingSeq(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	h := NewHub(nil, slog.Default())
	alice, bob := newTestClient(h, "alice"), newTestClient(h, "bob")
	req.NoError(h.Join(ctx, alice, "r1"))
	req.NoError(h.Join(ctx, bob, "r1"))

	var last uint64
	for i := 0; i < 5; i++ {
		entry, err := h.Publish(alice, chat("r1", "msg"))
		req.NoError(err)
		req.Greater(entry.Seq, last)
		req.False(entry.Timestamp.IsZero())
		last = entry.Seq
	}

	got := ofType(drain(t, bob), protocol.TypeChatMessage)
	req.Len(got, 5)
	for i, evt := range got {
		req.Equal(uint64(i+1), evt.Payload.(protocol.EntryMessage).Message.Seq)
	}
}

func TestHub_JoinIsIdempotent(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	h := NewHub(nil, slog.Default())
	alice, bob := newTestClient(h, "alice"), newTestClient(h, "bob")
	req.NoError(h.Join(ctx, bob, "r1"))
	req.NoError(h.Join(ctx, alice, "r1"))
	drain(t, bob)

	// When alice joins the same room again
	req.NoError(h.Join(ctx, alice, "r1"))

	// Then nobody sees a second presence event
	req.Empty(drain(t, bob))
	req.Len(h.Members("r1"), 2)
}

func TestHub_JoinAnotherRoomLeavesThePrevious(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	h := NewHub(nil, slog.Default())
	alice, bob := newTestClient(h, "alice"), newTestClient(h, "bob")
	req.NoError(h.Join(ctx, bob, "r1"))
	req.NoError(h.Join(ctx, alice, "r1"))
	drain(t, bob)

	// When alice switches to r2
	req.NoError(h.Join(ctx, alice, "r2"))

	// Then bob sees her leave and she no longer receives r1 traffic
	left := ofType(drain(t, bob), protocol.TypeUserLeft)
	req.Len(left, 1)
	req.Equal("alice", left[0].Payload.(protocol.Presence).User.UserID)

	drain(t, alice)
	_, err := h.Publish(bob, chat("r1", "still here?"))
	req.NoError(err)
	req.Empty(drain(t, alice))

	// And publishing into the old room is rejected
	_, err = h.Publish(alice, chat("r1", "hello"))
	req.ErrorIs(err, apperrors.ErrRoomNotJoined)
}

func TestHub_JoinSendsMemberListToJoiner(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	h := NewHub(nil, slog.Default())
	alice, bob := newTestClient(h, "alice"), newTestClient(h, "bob")
	req.NoError(h.Join(ctx, alice, "r1"))
	drain(t, alice)

	req.NoError(h.Join(ctx, bob, "r1"))

	users := ofType(drain(t, bob), protocol.TypeRoomUsers)
	req.Len(users, 1)
	req.Equal([]string{"alice", "bob"}, userIDs(users[0].Payload.(protocol.RoomUsers).Users))

	joined := ofType(drain(t, alice), protocol.TypeUserJoined)
	req.Len(joined, 1)
	req.Equal("bob", joined[0].Payload.(protocol.Presence).User.UserID)
}

func TestHub_LeaveErrors(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	h := NewHub(nil, slog.Default())
	alice := newTestClient(h, "alice")

	req.ErrorIs(h.Leave(alice, "r1"), apperrors.ErrRoomNotJoined)

	req.NoError(h.Join(ctx, alice, "r1"))
	req.ErrorIs(h.Leave(alice, "r2"), apperrors.ErrRoomNotJoined)
	req.NoError(h.Leave(alice, "r1"))
	req.Empty(h.Members("r1"))
}

func TestHub_LateJoinerDoesNotReceiveEarlierEvents(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	h := NewHub(nil, slog.Default())
	alice, bob := newTestClient(h, "alice"), newTestClient(h, "bob")
	req.NoError(h.Join(ctx, alice, "r1"))

	_, err := h.Publish(alice, chat("r1", "before"))
	req.NoError(err)
	req.NoError(h.Join(ctx, bob, "r1"))

	req.Empty(ofType(drain(t, bob), protocol.TypeChatMessage))
}

func TestHub_TypingIsForwardedUnstamped(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	h := NewHub(nil, slog.Default())
	driver, viewer := newTestClient(h, "driver"), newTestClient(h, "viewer")
	req.NoError(h.Join(ctx, driver, "r1"))
	req.NoError(h.Join(ctx, viewer, "r1"))
	drain(t, viewer)

	entry, err := h.Publish(driver, protocol.Event{
		Type:    protocol.TypeDebateTyping,
		Payload: protocol.TypingStatus{RoomID: "r1", Side: protocol.SidePro, IsTyping: true},
	})
	req.NoError(err)
	req.Nil(entry)

	got := ofType(drain(t, viewer), protocol.TypeDebateTyping)
	req.Len(got, 1)
	req.True(got[0].Payload.(protocol.TypingStatus).IsTyping)
}

func TestHub_RejectsBadEntries(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	h := NewHub(nil, slog.Default())
	alice := newTestClient(h, "alice")
	req.NoError(h.Join(ctx, alice, "r1"))

	// chat that is only markup
	_, err := h.Publish(alice, chat("r1", "<script></script>"))
	req.ErrorIs(err, apperrors.ErrInvalidEvent)

	// debate message from a human origin
	_, err = h.Publish(alice, protocol.Event{
		Type: protocol.TypeDebateMessage,
		Payload: protocol.EntryMessage{
			RoomID:  "r1",
			Message: protocol.NewEntry("r1", protocol.HumanOrigin("alice"), "not a persona"),
		},
	})
	req.ErrorIs(err, apperrors.ErrInvalidEvent)
}

func TestHub_ChatIsSanitized(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	h := NewHub(nil, slog.Default())
	alice, bob := newTestClient(h, "alice"), newTestClient(h, "bob")
	req.NoError(h.Join(ctx, alice, "r1"))
	req.NoError(h.Join(ctx, bob, "r1"))

	entry, err := h.Publish(alice, chat("r1", "<b>bold</b> move"))
	req.NoError(err)
	req.Equal("bold move", entry.Content)

	// Plain text keeps its symbols instead of HTML entities
	entry, err = h.Publish(alice, chat("r1", "5 > 3 & so on <i>really</i>"))
	req.NoError(err)
	req.Equal("5 > 3 & so on really", entry.Content)
	got := ofType(drain(t, bob), protocol.TypeChatMessage)
	req.Equal("5 > 3 & so on really", got[len(got)-1].Payload.(protocol.EntryMessage).Message.Content)
}

func TestHub_SlowConsumerIsDisconnected(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	h := NewHub(nil, slog.Default())
	alice, bob := newTestClient(h, "alice"), newTestClient(h, "bob")
	req.NoError(h.Join(ctx, alice, "r1"))
	req.NoError(h.Join(ctx, bob, "r1"))
	drain(t, alice)

	// Given bob never reads
	for i := 0; i < sendBuffer+1; i++ {
		_, err := h.Publish(alice, chat("r1", "spam"))
		req.NoError(err)
	}

	// Then he is dropped from the hub and alice is told he left
	req.Equal(1, h.Online())
	req.Len(h.Members("r1"), 1)
	left := ofType(drain(t, alice), protocol.TypeUserLeft)
	req.Len(left, 1)
	req.ErrorIs(h.Join(ctx, bob, "r1"), apperrors.ErrNotConnected)
}

func TestHub_JoinChecksRoomExists(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	st := store.NewMemory(slog.Default())
	h := NewHub(st, slog.Default())
	alice := newTestClient(h, "alice")

	req.ErrorIs(h.Join(ctx, alice, "missing"), apperrors.ErrRoomNotFound)

	doc, err := st.CreateRoom(ctx, store.Document{Topic: "t"})
	req.NoError(err)
	req.NoError(h.Join(ctx, alice, doc.ID))
}

func TestHub_DisconnectNotifiesRoom(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	h := NewHub(nil, slog.Default())
	alice, bob := newTestClient(h, "alice"), newTestClient(h, "bob")
	req.NoError(h.Join(ctx, alice, "r1"))
	req.NoError(h.Join(ctx, bob, "r1"))
	drain(t, alice)

	h.Disconnect(bob)
	h.Disconnect(bob)

	req.Len(ofType(drain(t, alice), protocol.TypeUserLeft), 1)
	drain(t, bob)
	_, ok := <-bob.send
	req.False(ok)
}

func userIDs(users []protocol.Identity) []string {
	ids := make([]string, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.UserID)
	}
	return ids
}
