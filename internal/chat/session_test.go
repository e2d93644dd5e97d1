package chat

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/customermindiq/affchat/internal/api"
	"github.com/customermindiq/affchat/internal/domain"
	"github.com/customermindiq/affchat/internal/store"
)

func newTestManager(f *fakeAPI, state store.StateStore) (*SessionManager, *MessageStore) {
	msgs := NewMessageStore()
	return NewSessionManager(f, msgs, testAffiliate, state, testLog()), msgs
}

func TestCreateSession_Success(t *testing.T) {
	f := newFakeAPI()
	m, msgs := newTestManager(f, nil)

	id, err := m.CreateSession(context.Background(), "Billing question", "I was charged twice")
	require.NoError(t, err)
	assert.Equal(t, "sess_123", id)

	sess, ok := m.Session()
	require.True(t, ok)
	assert.Equal(t, "sess_123", sess.ID)
	assert.Equal(t, domain.StatusWaiting, sess.Status)
	assert.Equal(t, domain.PriorityNormal, sess.Priority)
	assert.Equal(t, "Billing question", sess.Subject)

	all := msgs.Messages()
	require.Len(t, all, 1)
	assert.Equal(t, domain.SenderAffiliate, all[0].SenderType)
	assert.Equal(t, "I was charged twice", all[0].Content)
	assert.True(t, strings.HasPrefix(all[0].ID, "local-"))

	require.Len(t, f.creates, 1)
	assert.Equal(t, testAffiliate, f.creates[0].aff)
	assert.Equal(t, "Billing question", f.creates[0].subject)
}

func TestCreateSession_FailureLeavesNothing(t *testing.T) {
	f := newFakeAPI()
	f.setCreate("", &api.Error{StatusCode: 200, Message: "desk closed"})
	m, msgs := newTestManager(f, nil)

	_, err := m.CreateSession(context.Background(), "s", "m")
	var cerr *CreationError
	require.ErrorAs(t, err, &cerr)
	var apiErr *api.Error
	assert.ErrorAs(t, err, &apiErr)

	_, ok := m.Session()
	assert.False(t, ok)
	assert.Equal(t, 0, msgs.Len())
}

func TestCreateSession_Blank(t *testing.T) {
	m, _ := newTestManager(newFakeAPI(), nil)
	_, err := m.CreateSession(context.Background(), " ", "m")
	assert.ErrorIs(t, err, ErrEmptyMessage)
}

func TestCreateSession_OnlyOne(t *testing.T) {
	m, _ := newTestManager(newFakeAPI(), nil)
	_, err := m.CreateSession(context.Background(), "s", "m")
	require.NoError(t, err)

	_, err = m.CreateSession(context.Background(), "s2", "m2")
	assert.ErrorIs(t, err, ErrSessionActive)
}

func TestCreateSession_CancelledIsStale(t *testing.T) {
	f := newFakeAPI()
	f.block = make(chan struct{})
	m, msgs := newTestManager(f, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := m.CreateSession(ctx, "s", "m")
		errc <- err
	}()
	<-f.started
	cancel()

	assert.ErrorIs(t, <-errc, ErrStale)
	_, ok := m.Session()
	assert.False(t, ok)
	assert.Equal(t, 0, msgs.Len())
}

func TestLoadMessages_ReplacesAndSetsStatus(t *testing.T) {
	f := newFakeAPI()
	m, msgs := newTestManager(f, nil)
	_, err := m.CreateSession(context.Background(), "s", "hello")
	require.NoError(t, err)

	f.history = &api.History{
		Messages: []domain.ChatMessage{affiliateMsg("m1", "hello"), adminMsg("m2", "hi Jane")},
		Status:   domain.StatusActive,
	}
	got, status, err := m.LoadMessages(context.Background(), "sess_123")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, status)
	assert.Equal(t, []string{"hello", "hi Jane"}, contents(got))
	assert.Equal(t, []string{"hello", "hi Jane"}, contents(msgs.Messages()))
	assert.Equal(t, domain.StatusActive, m.Status())
}

func TestLoadMessages_UnknownStatusKept(t *testing.T) {
	f := newFakeAPI()
	m, _ := newTestManager(f, nil)
	_, err := m.CreateSession(context.Background(), "s", "hello")
	require.NoError(t, err)

	_, status, err := m.LoadMessages(context.Background(), "sess_123")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusWaiting, status)
}

func TestLoadMessages_FailureLeavesStore(t *testing.T) {
	f := newFakeAPI()
	m, msgs := newTestManager(f, nil)
	_, err := m.CreateSession(context.Background(), "s", "hello")
	require.NoError(t, err)

	f.historyErr = errors.New("boom")
	_, _, err = m.LoadMessages(context.Background(), "sess_123")
	var herr *HistoryLoadError
	require.ErrorAs(t, err, &herr)
	assert.Equal(t, "sess_123", herr.SessionID)
	assert.Equal(t, []string{"hello"}, contents(msgs.Messages()))
}

func TestLoadMessages_WrongSession(t *testing.T) {
	m, _ := newTestManager(newFakeAPI(), nil)
	_, _, err := m.LoadMessages(context.Background(), "other")
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestLoadMessages_KeepsPushDuringFetch(t *testing.T) {
	f := newFakeAPI()
	m, msgs := newTestManager(f, nil)
	_, err := m.CreateSession(context.Background(), "s", "hello")
	require.NoError(t, err)

	f.block = make(chan struct{})
	f.history = &api.History{Messages: []domain.ChatMessage{affiliateMsg("m1", "hello")}}

	done := make(chan error, 1)
	go func() {
		_, _, err := m.LoadMessages(context.Background(), "sess_123")
		done <- err
	}()
	<-f.started
	msgs.Append(adminMsg("m2", "pushed"))
	close(f.block)

	require.NoError(t, <-done)
	assert.Equal(t, []string{"hello", "pushed"}, contents(msgs.Messages()))
}

func TestSendMessage_UsesServerID(t *testing.T) {
	f := newFakeAPI()
	f.setSend("m42", nil)
	m, msgs := newTestManager(f, nil)
	_, err := m.CreateSession(context.Background(), "s", "hello")
	require.NoError(t, err)

	id, err := m.SendMessage(context.Background(), "more detail")
	require.NoError(t, err)
	assert.Equal(t, "m42", id)

	all := msgs.Messages()
	require.Len(t, all, 2)
	assert.Equal(t, "m42", all[1].ID)
	assert.Equal(t, domain.SenderAffiliate, all[1].SenderType)
	assert.Equal(t, "sess_123", all[1].SessionID)

	// The server echo is a duplicate.
	assert.False(t, msgs.Append(affiliateMsg("m42", "more detail")))
}

func TestSendMessage_LocalIDFallback(t *testing.T) {
	f := newFakeAPI()
	m, msgs := newTestManager(f, nil)
	m.now = func() time.Time { return time.Unix(0, 99) }
	_, err := m.CreateSession(context.Background(), "s", "hello")
	require.NoError(t, err)
	m.now = func() time.Time { return time.Unix(0, 100) }

	id, err := m.SendMessage(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, "local-100", id)
	assert.Equal(t, 2, msgs.Len())
}

func TestSendMessage_Failure(t *testing.T) {
	f := newFakeAPI()
	m, msgs := newTestManager(f, nil)
	_, err := m.CreateSession(context.Background(), "s", "hello")
	require.NoError(t, err)

	f.setSend("", errors.New("timeout"))
	_, err = m.SendMessage(context.Background(), "x")
	var serr *SendError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "sess_123", serr.SessionID)
	assert.Equal(t, 1, msgs.Len())
}

func TestSendMessage_NoSession(t *testing.T) {
	m, _ := newTestManager(newFakeAPI(), nil)
	_, err := m.SendMessage(context.Background(), "x")
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestSendMessage_ClearedWhileInFlight(t *testing.T) {
	f := newFakeAPI()
	m, msgs := newTestManager(f, nil)
	_, err := m.CreateSession(context.Background(), "s", "hello")
	require.NoError(t, err)

	f.block = make(chan struct{})
	f.setSend("m9", nil)
	done := make(chan error, 1)
	go func() {
		_, err := m.SendMessage(context.Background(), "late")
		done <- err
	}()
	<-f.started
	m.Clear()
	close(f.block)

	assert.ErrorIs(t, <-done, ErrStale)
	assert.Equal(t, 0, msgs.Len())
}

func TestResumeAndState(t *testing.T) {
	state := store.NewMemoryStateStore()
	m, _ := newTestManager(newFakeAPI(), state)

	_, err := m.CreateSession(context.Background(), "s", "hello")
	require.NoError(t, err)
	v, ok, _ := state.Get(store.LastSessionKey("aff_1"))
	require.True(t, ok)
	assert.Equal(t, "sess_123", v)

	// A new process picks the session back up.
	m2, _ := newTestManager(newFakeAPI(), state)
	id, ok := m2.ResumeLast()
	assert.True(t, ok)
	assert.Equal(t, "sess_123", id)
	assert.Equal(t, "sess_123", m2.SessionID())
	assert.Equal(t, domain.SessionStatus(""), m2.Status())

	m2.Clear()
	_, ok, _ = state.Get(store.LastSessionKey("aff_1"))
	assert.False(t, ok)
}

func TestResume_Conflicts(t *testing.T) {
	m, _ := newTestManager(newFakeAPI(), nil)
	require.NoError(t, m.Resume("s1"))
	require.NoError(t, m.Resume("s1"))
	assert.ErrorIs(t, m.Resume("s2"), ErrSessionActive)
	assert.ErrorIs(t, m.Resume(""), ErrNoSession)

	_, ok := m.ResumeLast()
	assert.False(t, ok)
}

func TestAccepts(t *testing.T) {
	m, _ := newTestManager(newFakeAPI(), nil)
	other := adminMsg("x", "y")
	other.SessionID = "other"
	assert.False(t, m.Accepts(other))
	assert.False(t, m.Accepts(adminMsg("w", "unbound")))

	require.NoError(t, m.Resume("s1"))
	assert.False(t, m.Accepts(other))

	mine := adminMsg("x", "y")
	mine.SessionID = "s1"
	assert.True(t, m.Accepts(mine))
	assert.True(t, m.Accepts(adminMsg("z", "no session id")))
}
