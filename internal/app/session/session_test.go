package session

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"messenger/internal/app/message"
	"messenger/internal/app/store"
	"messenger/internal/configs"
	"messenger/internal/pkg/errs"
	"messenger/internal/protocol"
)

// fakeSink records broadcast frames; it can be flipped to fail every send.
type fakeSink struct {
	frames [][]byte
	fail   bool
}

func (f *fakeSink) Send(frame []byte) error {
	if f.fail {
		return errors.New("peer gone")
	}
	f.frames = append(f.frames, frame)
	return nil
}

// messages decodes the recorded frames back into message records.
func (f *fakeSink) messages(t *testing.T) []message.Message {
	t.Helper()

	var result []message.Message
	for _, frame := range f.frames {
		p, err := protocol.Decode(frame)
		require.NoError(t, err)

		addition, ok := p.(protocol.MessageLogAddition)
		require.True(t, ok, "broadcast frames must be MESSAGE_LOG_ADDITION")

		m, err := message.ParseLogString(addition.Content)
		require.NoError(t, err)
		result = append(result, m)
	}
	return result
}

func testConfig() *configs.AppConfig {
	return &configs.AppConfig{
		Environment: "development",
		ServerName:  "Test Server",
		Port:        configs.StandardPort,
		Session: configs.SessionConfig{
			ServerUser: configs.ServerUserConfig{Name: "server", Password: "admin"},
			Database: configs.DatabaseConfig{
				AllowUserCreation:      true,
				MessageCharacterLimit:  20,
				UsernameCharacterLimit: 10,
				MaxShownMessages:       5,
			},
			Announcements: configs.AnnouncementConfig{
				Join:        "{user} has joined.",
				Leave:       "{user} has left.",
				AbruptLeave: "{user} left unexpectedly.",
			},
		},
	}
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "messenger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	m, err := NewManager(st, testConfig())
	require.NoError(t, err)

	require.NoError(t, m.CreateUser(context.Background(), "alice", "pw1"))
	require.NoError(t, m.CreateUser(context.Background(), "bob", "pw2"))

	return m
}

func login(t *testing.T, m *Manager, name, secret string) (uuid.UUID, *fakeSink) {
	t.Helper()

	connID := uuid.New()
	sink := &fakeSink{}
	_, err := m.Login(context.Background(), name, secret, connID, sink)
	require.NoError(t, err)

	return connID, sink
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	_, badUserErr := m.Login(ctx, "nobody", "pw1", uuid.New(), &fakeSink{})
	require.Error(t, badUserErr)

	_, badPassErr := m.Login(ctx, "alice", "wrong", uuid.New(), &fakeSink{})
	require.Error(t, badPassErr)

	// Wrong username and wrong password are indistinguishable to the client.
	assert.Equal(t, badUserErr.Error(), badPassErr.Error())

	var customErr *errs.CustomError
	require.ErrorAs(t, badUserErr, &customErr)
	assert.Equal(t, errs.ErrInvalidCredentials, customErr.Code)
}

func TestSingleLoginPerAccount(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	connA, _ := login(t, m, "alice", "pw1")

	bound, ok := m.UserFor(connA)
	require.True(t, ok)
	assert.Equal(t, "alice", bound.Name)

	_, err := m.Login(ctx, "alice", "pw1", uuid.New(), &fakeSink{})
	require.Error(t, err)

	var customErr *errs.CustomError
	require.ErrorAs(t, err, &customErr)
	assert.Equal(t, errs.ErrAccountInUse, customErr.Code)
	assert.Equal(t, 1, m.ActiveSessions())

	// After logout the account is free again.
	name, err := m.Logout(connA)
	require.NoError(t, err)
	assert.Equal(t, "alice", name)

	_, err = m.Login(ctx, "alice", "pw1", uuid.New(), &fakeSink{})
	assert.NoError(t, err)
}

func TestLogoutWithoutSession(t *testing.T) {
	m := newTestManager(t)

	_, err := m.Logout(uuid.New())
	require.Error(t, err)

	var customErr *errs.CustomError
	require.ErrorAs(t, err, &customErr)
	assert.Equal(t, errs.ErrNotLoggedIn, customErr.Code)
}

func TestCreateUserRules(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		username string
		wantCode int
	}{
		{name: "too long", username: strings.Repeat("x", 11), wantCode: errs.ErrUsernameTooLong},
		{name: "taken", username: "alice", wantCode: errs.ErrUsernameTaken},
		{name: "colon", username: "a:b", wantCode: errs.ErrInvalidCharacter},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := m.CreateUser(ctx, tt.username, "secret")
			require.Error(t, err)

			var customErr *errs.CustomError
			require.ErrorAs(t, err, &customErr)
			assert.Equal(t, tt.wantCode, customErr.Code)
		})
	}

	// None of the rejected names may be logged in afterwards.
	_, err := m.Login(ctx, "a:b", "secret", uuid.New(), &fakeSink{})
	assert.Error(t, err)
}

func TestMessageLimitEnforced(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	connA, _ := login(t, m, "alice", "pw1")

	require.NoError(t, m.LogMessage(ctx, "short enough", connA))
	before, err := m.LatestMessage(ctx)
	require.NoError(t, err)

	err = m.LogMessage(ctx, strings.Repeat("x", 21), connA)
	require.Error(t, err)

	var customErr *errs.CustomError
	require.ErrorAs(t, err, &customErr)
	assert.Equal(t, errs.ErrMessageTooLong, customErr.Code)

	after, err := m.LatestMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after, "rejected message must not reach the log")
}

func TestMessageOrdering(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	connA, _ := login(t, m, "alice", "pw1")

	contents := []string{"one", "two", "three", "four"}
	for _, c := range contents {
		require.NoError(t, m.LogMessage(ctx, c, connA))
	}

	recent, err := m.RecentMessages(ctx, len(contents))
	require.NoError(t, err)
	require.Len(t, recent, len(contents))

	for i, msg := range recent {
		assert.Equal(t, contents[i], msg.Content)
		assert.Equal(t, "alice", msg.Sender.Name)
		if i > 0 {
			assert.Greater(t, msg.ID, recent[i-1].ID)
		}
	}
}

func TestRecentMessagesWindow(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	connA, _ := login(t, m, "alice", "pw1")
	for _, c := range []string{"one", "two", "three"} {
		require.NoError(t, m.LogMessage(ctx, c, connA))
	}

	// Window of two: the most recent two, oldest first.
	recent, err := m.RecentMessages(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "two", recent[0].Content)
	assert.Equal(t, "three", recent[1].Content)

	// Non-positive limit falls back to max_shown_messages.
	all, err := m.RecentMessages(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestBroadcastFanOut(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	connA, sinkA := login(t, m, "alice", "pw1")
	_, sinkB := login(t, m, "bob", "pw2")

	require.NoError(t, m.LogMessage(ctx, "hi", connA))

	for _, sink := range []*fakeSink{sinkA, sinkB} {
		msgs := sink.messages(t)
		require.Len(t, msgs, 1)
		assert.Equal(t, "hi", msgs[0].Content)
		assert.Equal(t, "alice", msgs[0].Sender.Name)
	}
}

func TestBroadcastSurvivesDeadPeer(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	connA, sinkA := login(t, m, "alice", "pw1")
	_, sinkB := login(t, m, "bob", "pw2")
	sinkB.fail = true

	require.NoError(t, m.LogMessage(ctx, "hi", connA))

	msgs := sinkA.messages(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hi", msgs[0].Content)
}

func TestAnnouncements(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	_, sinkA := login(t, m, "alice", "pw1")

	require.NoError(t, m.AnnounceJoin(ctx, "alice"))
	require.NoError(t, m.AnnounceAbruptLeave(ctx, "bob"))

	msgs := sinkA.messages(t)
	require.Len(t, msgs, 2)

	assert.Equal(t, "alice has joined.", msgs[0].Content)
	assert.Equal(t, "server", msgs[0].Sender.Name)
	assert.Equal(t, "bob left unexpectedly.", msgs[1].Content)
	assert.Equal(t, "server", msgs[1].Sender.Name)
}

func TestSystemMessagesSkipLengthLimit(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	long := strings.Repeat("y", 40)
	require.NoError(t, m.LogSystemMessage(ctx, long))

	latest, err := m.LatestMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, long, latest.Content)
}
