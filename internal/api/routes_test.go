package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"debate_live/internal/apperrors"
	"debate_live/internal/bridge"
	"debate_live/internal/client"
	"debate_live/internal/protocol"
	"debate_live/internal/service"
	"debate_live/internal/store"
	"debate_live/internal/utils"
)

type testServer struct {
	url      string
	services *service.Services
	store    *store.Memory
}

func newTestServer(t *testing.T) *testServer {
	gin.SetMode(gin.TestMode)
	st := store.NewMemory(slog.Default())
	services := service.NewServices(st, nil, utils.NewTokenManager("test-secret", time.Hour), slog.Default())

	r := gin.New()
	SetupRoutes(r, services, Options{PublicURL: "https://debate.example"}, slog.Default())

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testServer{url: srv.URL, services: services, store: st}
}

// guest 透過 API 取得訪客 token
func (ts *testServer) guest(t *testing.T, name string) (string, protocol.Identity) {
	body, _ := json.Marshal(map[string]string{"name": name})
	resp, err := http.Post(ts.url+"/api/guest", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Token string            `json:"token"`
		User  protocol.Identity `json:"user"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out.Token, out.User
}

func (ts *testServer) remote(t *testing.T, token string) *store.Remote {
	r := store.NewRemote(ts.url, token, slog.Default())
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func (ts *testServer) manager(t *testing.T, token string) *client.Manager {
	m := client.NewManager(client.Options{
		URL:        "ws" + strings.TrimPrefix(ts.url, "http") + "/api/ws",
		Token:      token,
		RetryDelay: 10 * time.Millisecond,
		AckTimeout: 2 * time.Second,
	}, slog.Default())
	t.Cleanup(func() { _ = m.Disconnect() })
	return m
}

func TestHealthAndNoRoute(t *testing.T) {
	req := require.New(t)
	ts := newTestServer(t)

	resp, err := http.Get(ts.url + "/api/health")
	req.NoError(err)
	resp.Body.Close()
	req.Equal(http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.url + "/api/nowhere")
	req.NoError(err)
	resp.Body.Close()
	req.Equal(http.StatusNotFound, resp.StatusCode)
}

func TestRemote_RoundTrip(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	ts := newTestServer(t)
	token, alice := ts.guest(t, "Alice")
	remote := ts.remote(t, token)

	// Given a room created through the API
	doc, err := remote.CreateRoom(ctx, store.Document{Topic: "  Is remote work better?  "})
	req.NoError(err)
	req.NotEmpty(doc.ID)
	req.Equal("Is remote work better?", doc.Topic)
	req.Equal(alice.UserID, doc.CreatedBy)

	// When votes and entries are written
	votes, err := remote.AddVote(ctx, doc.ID, protocol.SidePro)
	req.NoError(err)
	req.Equal(store.Votes{Pro: 1}, votes)

	entry := protocol.NewEntry(doc.ID, protocol.PersonaOrigin(protocol.SidePro), "Flexibility matters.")
	added, err := remote.AppendEntry(ctx, doc.ID, entry)
	req.NoError(err)
	req.True(added)
	added, err = remote.AppendEntry(ctx, doc.ID, entry)
	req.NoError(err)
	req.False(added)

	// Then the document reflects them exactly once
	got, err := remote.GetRoom(ctx, doc.ID)
	req.NoError(err)
	req.Equal(store.Votes{Pro: 1}, got.Votes)
	req.Len(got.Entries, 1)
	req.Equal(entry.ID, got.Entries[0].ID)

	rooms, err := remote.ListRooms(ctx, alice.UserID)
	req.NoError(err)
	req.Len(rooms, 1)
	rooms, err = remote.ListRooms(ctx, "someone-else")
	req.NoError(err)
	req.Empty(rooms)
}

func TestRemote_ErrorsKeepTheirIdentity(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	ts := newTestServer(t)
	remote := ts.remote(t, "")

	_, err := remote.GetRoom(ctx, "missing")
	req.ErrorIs(err, apperrors.ErrRoomNotFound)

	_, err = remote.AddVote(ctx, "missing", protocol.SidePro)
	req.ErrorIs(err, apperrors.ErrRoomNotFound)

	_, err = ts.remote(t, "not-a-token").ListRooms(ctx, "")
	req.ErrorIs(err, apperrors.ErrUnauthorized)

	_, err = remote.Subscribe(ctx, "missing")
	req.ErrorIs(err, apperrors.ErrRoomNotFound)
}

func TestRemote_AppendEntryDefaultsToRequesterOrigin(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	ts := newTestServer(t)
	token, bob := ts.guest(t, "Bob")
	remote := ts.remote(t, token)

	doc, err := remote.CreateRoom(ctx, store.Document{Topic: "tabs or spaces"})
	req.NoError(err)

	entry := protocol.NewEntry(doc.ID, "", "tabs, obviously")
	_, err = remote.AppendEntry(ctx, doc.ID, entry)
	req.NoError(err)

	got, err := remote.GetRoom(ctx, doc.ID)
	req.NoError(err)
	req.Equal(bob.Origin(), got.Entries[0].Origin)
}

func TestBridge_VotePropagatesThroughChangeStream(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	ts := newTestServer(t)
	tokenA, _ := ts.guest(t, "A")
	tokenB, _ := ts.guest(t, "B")

	doc, err := ts.remote(t, tokenA).CreateRoom(ctx, store.Document{Topic: "cats vs dogs"})
	req.NoError(err)

	// Given two sessions, each talking to the server over HTTP
	a, err := bridge.Open(ctx, ts.remote(t, tokenA), doc.ID, slog.Default())
	req.NoError(err)
	defer a.Close()
	b, err := bridge.Open(ctx, ts.remote(t, tokenB), doc.ID, slog.Default())
	req.NoError(err)
	defer b.Close()

	// When session A votes con and records a turn
	_, err = a.CastVote(ctx, protocol.SideCon)
	req.NoError(err)
	turn := protocol.NewEntry(doc.ID, protocol.PersonaOrigin(protocol.SideCon), "Dogs need walks.")
	req.NoError(a.Record(ctx, turn))

	// Then session B observes both through the live subscription
	req.Eventually(func() bool {
		return b.Votes() == store.Votes{Con: 1} && len(b.Entries()) == 1
	}, 3*time.Second, 20*time.Millisecond)
	req.Equal("cats vs dogs", b.Topic())
}

func TestWebSocket_ChatFanout(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	ts := newTestServer(t)
	tokenA, alice := ts.guest(t, "Alice")
	tokenB, _ := ts.guest(t, "Bob")

	doc, err := ts.remote(t, tokenA).CreateRoom(ctx, store.Document{Topic: "pineapple on pizza"})
	req.NoError(err)

	a, err := ts.manager(t, tokenA).Connect(ctx)
	req.NoError(err)
	b, err := ts.manager(t, tokenB).Connect(ctx)
	req.NoError(err)

	// Given both sessions joined the room
	req.NoError(a.Join(ctx, doc.ID))
	req.NoError(b.Join(ctx, doc.ID))
	req.Eventually(func() bool {
		return len(ts.services.Room.Online(doc.ID)) == 2
	}, 2*time.Second, 10*time.Millisecond)

	// When alice chats
	sent, err := a.SendChat(ctx, "hello <b>room</b>")
	req.NoError(err)
	req.Equal(alice.Origin(), sent.Origin)

	// Then bob receives the sanitized message
	timeout := time.After(2 * time.Second)
	for {
		select {
		case evt := <-b.Events():
			if evt.Type != protocol.TypeChatMessage {
				continue
			}
			msg := evt.Payload.(protocol.EntryMessage)
			req.Equal(sent.ID, msg.Message.ID)
			req.Equal("hello room", msg.Message.Content)
			return
		case <-timeout:
			req.FailNow("chat message not delivered")
		}
	}
}

func TestRequestGuestToken(t *testing.T) {
	req := require.New(t)
	ts := newTestServer(t)

	token, identity, err := client.RequestGuestToken(context.Background(), ts.url, "Carol")

	req.NoError(err)
	req.Equal("Carol", identity.Name)
	req.True(identity.Anonymous)
	peeked, err := utils.PeekIdentity(token)
	req.NoError(err)
	req.Equal(identity, peeked)
}

func TestWebSocket_JoinUnknownRoom(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	ts := newTestServer(t)
	token, _ := ts.guest(t, "Alice")

	conn, err := ts.manager(t, token).Connect(ctx)
	req.NoError(err)

	req.ErrorIs(conn.Join(ctx, "does-not-exist"), apperrors.ErrRoomNotFound)
}

func TestWebSocket_RejectsBadToken(t *testing.T) {
	req := require.New(t)
	ts := newTestServer(t)

	_, err := ts.manager(t, "forged").Connect(context.Background())

	var connErr *apperrors.ConnectionError
	req.ErrorAs(err, &connErr)
	req.ErrorIs(err, apperrors.ErrUnauthorized)
	req.Equal(1, connErr.Attempts)
}

func TestQRCode(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	ts := newTestServer(t)

	doc, err := ts.store.CreateRoom(ctx, store.Document{Topic: "qr"})
	req.NoError(err)

	resp, err := http.Get(ts.url + "/api/rooms/" + doc.ID + "/qr")
	req.NoError(err)
	defer resp.Body.Close()
	req.Equal(http.StatusOK, resp.StatusCode)
	req.Equal("image/png", resp.Header.Get("Content-Type"))

	resp, err = http.Get(ts.url + "/api/rooms/missing/qr")
	req.NoError(err)
	resp.Body.Close()
	req.Equal(http.StatusNotFound, resp.StatusCode)
}
