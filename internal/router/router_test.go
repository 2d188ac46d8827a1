package router

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"

	"github.com/Tyrowin/corpchat/internal/chat"
	"github.com/Tyrowin/corpchat/internal/groups"
	"github.com/Tyrowin/corpchat/internal/history"
	"github.com/Tyrowin/corpchat/internal/hub"
	"github.com/Tyrowin/corpchat/internal/hub/mocks"
	"github.com/Tyrowin/corpchat/internal/identity"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type recordingSession struct {
	mu       sync.Mutex
	payloads [][]byte
}

func (s *recordingSession) Send(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads = append(s.payloads, payload)
	return nil
}

func (s *recordingSession) Close() error { return nil }

func (s *recordingSession) frames(t *testing.T) []map[string]any {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]map[string]any, 0, len(s.payloads))
	for _, p := range s.payloads {
		var frame map[string]any
		require.NoError(t, json.Unmarshal(p, &frame))
		out = append(out, frame)
	}
	return out
}

type fixture struct {
	accounts *identity.Store
	groups   *groups.Directory
	log      *history.Log
	registry *hub.Registry
	router   *Router
	ids      map[string]string
}

func newFixture(t *testing.T, logCapacity int, usernames ...string) *fixture {
	t.Helper()
	logger := logs.GetLoggerFromLevel(slog.LevelDebug)

	f := &fixture{
		accounts: identity.NewStore(logger),
		log:      history.NewLog(logCapacity, logger),
		registry: hub.NewRegistry(logger),
		ids:      make(map[string]string),
	}
	f.groups = groups.NewDirectory(f.accounts, logger)
	f.router = New(f.accounts, f.groups, f.log, f.registry, logger, 50)

	for _, name := range usernames {
		account, err := f.accounts.Create(identity.Registration{
			Username:     name,
			Email:        name + "@example.com",
			FullName:     name,
			PasswordHash: "hash",
		})
		require.NoError(t, err)
		f.ids[name] = account.ID
	}
	return f
}

func (f *fixture) connect(name string) *recordingSession {
	session := &recordingSession{}
	f.registry.Register(f.ids[name], session)
	return session
}

func TestSubmit_DirectMessageEchoesToSender(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, 0, "alice", "bob")
	alice, bob := f.connect("alice"), f.connect("bob")

	msg, err := f.router.Submit(context.Background(), f.ids["alice"], Draft{Content: "hi", RecipientID: f.ids["bob"]})
	req.NoError(err)
	req.Equal("alice", msg.SenderName)
	req.Equal(chat.MessageTypePersonal, msg.Type())

	for _, s := range []*recordingSession{alice, bob} {
		frames := s.frames(t)
		req.Len(frames, 1)
		req.Equal(msg.ID, frames[0]["id"])
		req.Equal("hi", frames[0]["content"])
		req.Equal(f.ids["bob"], frames[0]["recipient_id"])
		req.Nil(frames[0]["group_id"])
	}
}

func TestSubmit_OfflineRecipientStillPersisted(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, 0, "alice", "bob")

	msg, err := f.router.Submit(context.Background(), f.ids["alice"], Draft{Content: "later", RecipientID: f.ids["bob"]})
	req.NoError(err)

	got, err := f.router.History(context.Background(), f.ids["bob"], Query{RecipientID: f.ids["alice"]})
	req.NoError(err)
	req.Len(got, 1)
	req.Equal(msg.ID, got[0].ID)
}

func TestSubmit_GroupMessageReachesEveryMember(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, 0, "alice", "bob", "carol", "dave")
	alice, bob, carol, dave := f.connect("alice"), f.connect("bob"), f.connect("carol"), f.connect("dave")

	group, err := f.groups.Create(f.ids["alice"], "Team", "", []string{f.ids["bob"], f.ids["carol"]})
	req.NoError(err)

	msg, err := f.router.Submit(context.Background(), f.ids["bob"], Draft{Content: "standup", GroupID: group.ID})
	req.NoError(err)
	req.Equal(chat.MessageTypeGroup, msg.Type())

	for _, s := range []*recordingSession{alice, bob, carol} {
		frames := s.frames(t)
		req.Len(frames, 1)
		req.Equal(group.ID, frames[0]["group_id"])
		req.Equal("group", frames[0]["type"])
	}
	req.Empty(dave.frames(t))
}

func TestSubmit_RejectsBeforeAnyMutation(t *testing.T) {
	f := newFixture(t, 0, "alice", "bob", "carol")
	group, err := f.groups.Create(f.ids["alice"], "Team", "", []string{f.ids["bob"]})
	require.NoError(t, err)

	tests := []struct {
		name   string
		sender string
		draft  Draft
		want   error
	}{
		{"no target", "alice", Draft{Content: "x"}, chat.ErrValidation},
		{"both targets", "alice", Draft{Content: "x", RecipientID: "bob", GroupID: group.ID}, chat.ErrValidation},
		{"empty content", "alice", Draft{Content: "  ", RecipientID: "bob"}, chat.ErrValidation},
		{"unknown sender", "ghost", Draft{Content: "x", RecipientID: "bob"}, chat.ErrNotFound},
		{"unknown recipient", "alice", Draft{Content: "x", RecipientID: "ghost"}, chat.ErrNotFound},
		{"unknown group", "alice", Draft{Content: "x", GroupID: "missing"}, chat.ErrNotFound},
		{"non-member", "carol", Draft{Content: "x", GroupID: group.ID}, chat.ErrForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			sender := f.ids[tt.sender]
			if sender == "" {
				sender = tt.sender
			}
			if id, ok := f.ids[tt.draft.RecipientID]; ok {
				tt.draft.RecipientID = id
			}

			_, err := f.router.Submit(context.Background(), sender, tt.draft)
			req.ErrorIs(err, tt.want)
			req.Zero(f.log.Count())
		})
	}
}

func TestSubmit_AttachmentWithoutText(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, 0, "alice", "bob")
	bob := f.connect("bob")

	attachment := &chat.Attachment{URL: "/files/abc.png", Name: "diagram.png", Size: 42}
	msg, err := f.router.Submit(context.Background(), f.ids["alice"], Draft{RecipientID: f.ids["bob"], Attachment: attachment})
	req.NoError(err)
	req.Equal("diagram.png", msg.Attachment.Name)

	frames := bob.frames(t)
	req.Len(frames, 1)
	req.Equal("/files/abc.png", frames[0]["file_url"])
	req.EqualValues(42, frames[0]["file_size"])
}

func TestSubmit_DeadSessionDoesNotFailSubmission(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	f := newFixture(t, 0, "alice", "bob")
	alice := f.connect("alice")

	dead := mocks.NewMockSession(ctrl)
	dead.EXPECT().Send(gomock.Any()).Return(hub.ErrSendBufferFull)
	dead.EXPECT().Close().Return(nil)
	f.registry.Register(f.ids["bob"], dead)

	_, err := f.router.Submit(context.Background(), f.ids["alice"], Draft{Content: "hi", RecipientID: f.ids["bob"]})
	req.NoError(err)
	req.Len(alice.frames(t), 1)
	req.False(f.registry.Online(f.ids["bob"]))
	req.Equal(1, f.log.Count())
}

func TestSubmit_LogExhausted(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, 1, "alice", "bob")
	bob := f.connect("bob")

	_, err := f.router.Submit(context.Background(), f.ids["alice"], Draft{Content: "1", RecipientID: f.ids["bob"]})
	req.NoError(err)
	_, err = f.router.Submit(context.Background(), f.ids["alice"], Draft{Content: "2", RecipientID: f.ids["bob"]})
	req.ErrorIs(err, chat.ErrLogExhausted)
	req.Len(bob.frames(t), 1)
}

func TestSubmit_CancelledContext(t *testing.T) {
	f := newFixture(t, 0, "alice", "bob")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.router.Submit(ctx, f.ids["alice"], Draft{Content: "x", RecipientID: f.ids["bob"]})
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, f.log.Count())
}

func TestTyping_NotPersistedAndNotEchoed(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, 0, "alice", "bob", "carol")
	alice, bob, carol := f.connect("alice"), f.connect("bob"), f.connect("carol")

	target, err := chat.NewTarget(f.ids["bob"], "")
	req.NoError(err)
	req.NoError(f.router.Typing(context.Background(), f.ids["alice"], target))

	req.Empty(alice.frames(t))
	frames := bob.frames(t)
	req.Len(frames, 1)
	req.Equal("typing", frames[0]["type"])
	req.Equal(f.ids["alice"], frames[0]["user_id"])

	group, err := f.groups.Create(f.ids["alice"], "Team", "", []string{f.ids["bob"]})
	req.NoError(err)
	groupTarget, err := chat.NewTarget("", group.ID)
	req.NoError(err)
	req.NoError(f.router.Typing(context.Background(), f.ids["bob"], groupTarget))
	req.Len(alice.frames(t), 1)
	req.Len(bob.frames(t), 1)

	req.ErrorIs(f.router.Typing(context.Background(), f.ids["carol"], groupTarget), chat.ErrForbidden)
	req.Empty(carol.frames(t))
	req.Zero(f.log.Count())
}

func TestAnnounce(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, 0, "admin", "bob", "carol")
	sessions := []*recordingSession{f.connect("admin"), f.connect("bob"), f.connect("carol")}

	delivered, err := f.router.Announce(context.Background(), f.ids["admin"], "maintenance at noon")
	req.NoError(err)
	req.Equal(3, delivered)
	for _, s := range sessions {
		frames := s.frames(t)
		req.Len(frames, 1)
		req.Equal("announcement", frames[0]["type"])
		req.Equal("maintenance at noon", frames[0]["content"])
	}

	_, err = f.router.Announce(context.Background(), f.ids["bob"], "hello")
	req.ErrorIs(err, chat.ErrForbidden)

	_, err = f.router.Announce(context.Background(), f.ids["admin"], " ")
	req.ErrorIs(err, chat.ErrValidation)
	req.Zero(f.log.Count())
}

func TestHistory(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, 0, "alice", "bob", "carol")
	ctx := context.Background()

	group, err := f.groups.Create(f.ids["alice"], "Team", "", []string{f.ids["bob"]})
	req.NoError(err)

	for i, d := range []struct {
		sender string
		draft  Draft
	}{
		{"alice", Draft{Content: "a->b", RecipientID: f.ids["bob"]}},
		{"bob", Draft{Content: "b->a", RecipientID: f.ids["alice"]}},
		{"carol", Draft{Content: "c->a", RecipientID: f.ids["alice"]}},
		{"bob", Draft{Content: "team", GroupID: group.ID}},
	} {
		_, err := f.router.Submit(ctx, f.ids[d.sender], d.draft)
		req.NoError(err, "draft %d", i)
	}

	pair, err := f.router.History(ctx, f.ids["alice"], Query{RecipientID: f.ids["bob"]})
	req.NoError(err)
	req.Len(pair, 2)
	req.Equal("a->b", pair[0].Content)

	all, err := f.router.History(ctx, f.ids["alice"], Query{})
	req.NoError(err)
	req.Len(all, 3)

	window, err := f.router.History(ctx, f.ids["alice"], Query{Limit: 1})
	req.NoError(err)
	req.Len(window, 1)
	req.Equal("c->a", window[0].Content)

	team, err := f.router.History(ctx, f.ids["bob"], Query{GroupID: group.ID})
	req.NoError(err)
	req.Len(team, 1)

	_, err = f.router.History(ctx, f.ids["carol"], Query{GroupID: group.ID})
	req.ErrorIs(err, chat.ErrForbidden)

	_, err = f.router.History(ctx, f.ids["alice"], Query{GroupID: group.ID, RecipientID: f.ids["bob"]})
	req.ErrorIs(err, chat.ErrValidation)
}
