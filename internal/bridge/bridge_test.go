package bridge

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"debate_live/internal/apperrors"
	"debate_live/internal/protocol"
	"debate_live/internal/storage"
	"debate_live/internal/store"
)

func newRoom(t *testing.T) (*store.Memory, string) {
	st := store.NewMemory(slog.Default())
	doc, err := st.CreateRoom(context.Background(), store.Document{Topic: "remote work", CreatedBy: "u1"})
	require.NoError(t, err)
	return st, doc.ID
}

func TestSession_VotePropagatesToOtherSession(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	st, roomID := newRoom(t)

	// Given two sessions on the same room
	a, err := Open(ctx, st, roomID, slog.Default())
	req.NoError(err)
	defer a.Close()
	b, err := Open(ctx, st, roomID, slog.Default())
	req.NoError(err)
	defer b.Close()

	// When session A votes pro
	votes, err := a.CastVote(ctx, protocol.SidePro)
	req.NoError(err)
	req.Equal(store.Votes{Pro: 1}, votes)

	// Then session B sees the new tally through its subscription
	req.Eventually(func() bool {
		return b.Votes() == store.Votes{Pro: 1, Con: 0}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSession_BadgerVoteRightAfterOpenIsNotLost(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	db, err := storage.NewBadgerDB("", slog.Default())
	req.NoError(err)
	defer db.Close()
	st := store.NewBadger(db, slog.Default())

	for i := 0; i < 20; i++ {
		doc, err := st.CreateRoom(ctx, store.Document{Topic: "remote work"})
		req.NoError(err)

		// Given a session that has just hydrated a badger room
		s, err := Open(ctx, st, doc.ID, slog.Default())
		req.NoError(err)

		// When another writer votes immediately
		_, err = st.AddVote(ctx, doc.ID, protocol.SidePro)
		req.NoError(err)

		// Then the session picks the vote up
		req.Eventually(func() bool {
			return s.Votes().Pro == 1
		}, time.Second, 5*time.Millisecond, "iteration %d", i)
		s.Close()
	}
}

func TestSession_RecordedEntryReachesOtherSessionOnce(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	st, roomID := newRoom(t)

	a, err := Open(ctx, st, roomID, slog.Default())
	req.NoError(err)
	defer a.Close()
	b, err := Open(ctx, st, roomID, slog.Default())
	req.NoError(err)
	defer b.Close()

	entry := protocol.NewEntry(roomID, protocol.PersonaOrigin(protocol.SidePro), "Commutes waste time.")
	req.NoError(a.Record(ctx, entry))

	// The same entry arriving over the transport is not duplicated
	req.Eventually(func() bool { return len(b.Entries()) == 1 }, 2*time.Second, 10*time.Millisecond)
	req.False(b.Apply(entry))
	req.Len(b.Entries(), 1)
	req.Len(a.Entries(), 1)
}

func TestSession_HydratesExistingTranscript(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	st, roomID := newRoom(t)

	first := protocol.NewEntry(roomID, protocol.OriginSystem, "welcome")
	_, err := st.AppendEntry(ctx, roomID, first)
	req.NoError(err)
	_, err = st.AddVote(ctx, roomID, protocol.SideCon)
	req.NoError(err)

	s, err := Open(ctx, st, roomID, slog.Default())
	req.NoError(err)
	defer s.Close()

	req.Equal("remote work", s.Topic())
	req.Equal(store.Votes{Con: 1}, s.Votes())
	req.Equal([]string{first.ID}, entryIDs(s.Entries()))
}

func TestSession_HydrateFailureIsFatal(t *testing.T) {
	req := require.New(t)
	st := store.NewMemory(slog.Default())

	_, err := Open(context.Background(), st, "missing", slog.Default())

	var perr *apperrors.PersistenceError
	req.True(errors.As(err, &perr))
	req.Equal("hydrate", perr.Op)
	req.ErrorIs(err, apperrors.ErrRoomNotFound)
}

type failingStore struct {
	store.Store
}

func (failingStore) AppendEntry(context.Context, string, protocol.Entry) (bool, error) {
	return false, errors.New("write rejected")
}

func (failingStore) AddVote(context.Context, string, protocol.Side) (store.Votes, error) {
	return store.Votes{}, errors.New("write rejected")
}

func TestSession_WriteFailuresAreNonFatal(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	st, roomID := newRoom(t)

	s, err := Open(ctx, failingStore{Store: st}, roomID, slog.Default())
	req.NoError(err)
	defer s.Close()

	entry := protocol.NewEntry(roomID, protocol.PersonaOrigin(protocol.SideCon), "Offices build culture.")
	err = s.Record(ctx, entry)

	var perr *apperrors.PersistenceError
	req.True(errors.As(err, &perr))
	req.Equal("append_entry", perr.Op)
	// the local transcript keeps the entry
	req.Len(s.Entries(), 1)

	_, err = s.CastVote(ctx, protocol.SidePro)
	req.True(errors.As(err, &perr))
	req.Equal("add_vote", perr.Op)
	req.Equal(store.Votes{}, s.Votes())
}

func TestSession_VotesNeverGoBackwards(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	st, roomID := newRoom(t)
	s, err := Open(ctx, st, roomID, slog.Default())
	req.NoError(err)
	defer s.Close()

	s.applyVotes(store.Votes{Pro: 3, Con: 1})
	s.applyVotes(store.Votes{Pro: 2, Con: 2})

	req.Equal(store.Votes{Pro: 3, Con: 2}, s.Votes())
}

func TestWinner(t *testing.T) {
	req := require.New(t)
	req.Equal("pro", Winner(store.Votes{Pro: 2, Con: 1}))
	req.Equal("con", Winner(store.Votes{Pro: 0, Con: 1}))
	req.Equal("tie", Winner(store.Votes{}))
}

func entryIDs(entries []protocol.Entry) []string {
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.ID)
	}
	return ids
}
