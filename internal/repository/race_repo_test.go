package repository

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liverace/backend/internal/broadcast"
	"github.com/liverace/backend/internal/db"
	"github.com/liverace/backend/internal/model"
)

func newTestStore(t *testing.T) (*RaceStore, *broadcast.Registry) {
	t.Helper()
	testDB, err := db.NewTestDB()
	require.NoError(t, err)
	t.Cleanup(func() { testDB.Close() })

	groups := broadcast.NewRegistry()
	return NewRaceStore(testDB, groups), groups
}

func nextEvent(t *testing.T, sub *broadcast.Subscription) broadcast.Event {
	t.Helper()
	select {
	case ev, ok := <-sub.C():
		require.True(t, ok, "subscription closed unexpectedly")
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for group event")
		return broadcast.Event{}
	}
}

func TestCreateAndLoad(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, "abc123", "srb2kart", "Beat the game")
	require.NoError(t, err)
	assert.Equal(t, "abc123", created.ID)
	assert.Equal(t, "srb2kart", created.CategoryID)
	assert.Equal(t, int64(1), created.Version)
	assert.Equal(t, int64(1), created.RendersVersion)

	loaded, err := store.Load(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, created.Version, loaded.Version)

	st, err := loaded.DecodeState()
	require.NoError(t, err)
	assert.Equal(t, "open", st.Status)
	assert.Equal(t, "Beat the game", st.Goal)
	assert.Empty(t, st.Entrants)
}

func TestLoadNotFound(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.Load(context.Background(), "missing")
	assert.ErrorIs(t, err, model.ErrRaceNotFound)
}

func TestApplyMessagePublishesChat(t *testing.T) {
	store, groups := newTestStore(t)
	ctx := context.Background()

	_, err := store.Create(ctx, "abc123", "srb2kart", "")
	require.NoError(t, err)

	sub := groups.Get("abc123").Subscribe()
	actor := model.UserIdentity{ID: "u1", Name: "alice"}

	snap, err := store.ApplyAction(ctx, "abc123", "message", actor, json.RawMessage(`{"text":"gl!"}`))
	require.NoError(t, err)
	// Chat does not touch race state.
	assert.Equal(t, int64(1), snap.Version)

	ev := nextEvent(t, sub)
	assert.Equal(t, broadcast.EventChatMessage, ev.Type)
	require.NotNil(t, ev.Message)
	assert.Equal(t, "alice", ev.Message.Author)
	assert.Equal(t, "gl!", ev.Message.Message)
	assert.False(t, ev.Message.IsSystem)
	assert.False(t, ev.Message.IsBot)

	history, err := store.ChatHistory(ctx, "abc123")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "gl!", history[0].Message)
}

func TestApplyMessageBlankRejected(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.Create(ctx, "abc123", "srb2kart", "")
	require.NoError(t, err)

	_, err = store.ApplyAction(ctx, "abc123", "message",
		model.UserIdentity{ID: "u1", Name: "alice"}, json.RawMessage(`{"text":"   "}`))
	msgs, safe := model.SafeMessages(err)
	require.True(t, safe)
	assert.Equal(t, []string{"Message cannot be blank."}, msgs)

	history, err := store.ChatHistory(ctx, "abc123")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestApplyJoinBumpsVersionAndNotifies(t *testing.T) {
	store, groups := newTestStore(t)
	ctx := context.Background()

	_, err := store.Create(ctx, "abc123", "srb2kart", "")
	require.NoError(t, err)

	sub := groups.Get("abc123").Subscribe()

	snap, err := store.ApplyAction(ctx, "abc123", "join",
		model.UserIdentity{ID: "u1", Name: "alice"}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), snap.Version)

	st, err := snap.DecodeState()
	require.NoError(t, err)
	assert.Contains(t, st.Entrants, "alice")

	dataEv := nextEvent(t, sub)
	assert.Equal(t, broadcast.EventRaceData, dataEv.Type)
	assert.Equal(t, int64(2), dataEv.Version)

	chatEv := nextEvent(t, sub)
	assert.Equal(t, broadcast.EventChatMessage, chatEv.Type)
	require.NotNil(t, chatEv.Message)
	assert.True(t, chatEv.Message.IsSystem)
	assert.Equal(t, "alice joins the race.", chatEv.Message.Message)
}

func TestApplyRejectedActionLeavesRaceUnchanged(t *testing.T) {
	store, groups := newTestStore(t)
	ctx := context.Background()

	_, err := store.Create(ctx, "abc123", "srb2kart", "")
	require.NoError(t, err)

	sub := groups.Get("abc123").Subscribe()

	// Ready without joining first.
	_, err = store.ApplyAction(ctx, "abc123", "ready",
		model.UserIdentity{ID: "u1", Name: "alice"}, nil)
	_, safe := model.SafeMessages(err)
	require.True(t, safe)

	snap, err := store.Load(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.Version)

	select {
	case ev := <-sub.C():
		t.Fatalf("rejected mutation must not publish, got %v", ev.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestApplyUnknownAction(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.Create(ctx, "abc123", "srb2kart", "")
	require.NoError(t, err)

	_, err = store.ApplyAction(ctx, "abc123", "quack",
		model.UserIdentity{ID: "u1", Name: "alice"}, nil)
	assert.ErrorIs(t, err, model.ErrUnknownAction)
}

func TestSetInfo(t *testing.T) {
	store, groups := newTestStore(t)
	ctx := context.Background()

	_, err := store.Create(ctx, "abc123", "srb2kart", "")
	require.NoError(t, err)

	sub := groups.Get("abc123").Subscribe()
	bot := model.BotIdentity{
		ClientID: "client-1",
		Bot:      model.Bot{ID: "b1", Name: "KartBot", ClientID: "client-1", CategoryID: "srb2kart", Active: true},
	}

	snap, err := store.ApplyAction(ctx, "abc123", "setinfo", bot, json.RawMessage(`{"info":"Seed: 4411"}`))
	require.NoError(t, err)
	assert.Equal(t, int64(2), snap.Version)

	st, err := snap.DecodeState()
	require.NoError(t, err)
	assert.Equal(t, "Seed: 4411", st.Info)

	dataEv := nextEvent(t, sub)
	assert.Equal(t, broadcast.EventRaceData, dataEv.Type)

	chatEv := nextEvent(t, sub)
	require.NotNil(t, chatEv.Message)
	assert.True(t, chatEv.Message.IsSystem)
	assert.True(t, chatEv.Message.IsBot)
	assert.Equal(t, "KartBot updated the race information.", chatEv.Message.Message)
}

func TestUpdateRenders(t *testing.T) {
	store, groups := newTestStore(t)
	ctx := context.Background()

	_, err := store.Create(ctx, "abc123", "srb2kart", "")
	require.NoError(t, err)

	sub := groups.Get("abc123").Subscribe()

	snap, err := store.UpdateRenders(ctx, "abc123", json.RawMessage(`{"entrants_html":"<ol></ol>"}`))
	require.NoError(t, err)
	assert.Equal(t, int64(2), snap.RendersVersion)
	assert.Equal(t, int64(1), snap.Version)

	ev := nextEvent(t, sub)
	assert.Equal(t, broadcast.EventRaceRenders, ev.Type)
	assert.Equal(t, int64(2), ev.Version)

	_, err = store.UpdateRenders(ctx, "missing", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, model.ErrRaceNotFound)
}

func TestChatHistoryOrderAndMissingRace(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.Create(ctx, "abc123", "srb2kart", "")
	require.NoError(t, err)

	actor := model.UserIdentity{ID: "u1", Name: "alice"}
	for _, text := range []string{"first", "second", "third"} {
		_, err := store.ApplyAction(ctx, "abc123", "message", actor,
			json.RawMessage(`{"text":"`+text+`"}`))
		require.NoError(t, err)
	}

	history, err := store.ChatHistory(ctx, "abc123")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "first", history[0].Message)
	assert.Equal(t, "second", history[1].Message)
	assert.Equal(t, "third", history[2].Message)

	// A race that never existed has an empty history, not an error.
	missing, err := store.ChatHistory(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestBotRepository(t *testing.T) {
	testDB, err := db.NewTestDB()
	require.NoError(t, err)
	defer testDB.Close()

	repo := NewBotRepository(testDB)
	ctx := context.Background()

	bot := model.Bot{ID: "b1", Name: "KartBot", ClientID: "client-1", CategoryID: "srb2kart", Active: true}
	require.NoError(t, repo.Create(ctx, bot))

	found, err := repo.Lookup(ctx, "client-1", "srb2kart")
	require.NoError(t, err)
	assert.Equal(t, bot, found)

	_, err = repo.Lookup(ctx, "client-1", "other-category")
	assert.ErrorIs(t, err, model.ErrBotNotFound)

	_, err = repo.Lookup(ctx, "client-2", "srb2kart")
	assert.ErrorIs(t, err, model.ErrBotNotFound)

	require.NoError(t, repo.Deactivate(ctx, "b1"))
	_, err = repo.Lookup(ctx, "client-1", "srb2kart")
	assert.ErrorIs(t, err, model.ErrBotNotFound)

	assert.ErrorIs(t, repo.Deactivate(ctx, "nope"), model.ErrBotNotFound)
}
