package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/chattingus/realtime/internal/auth"
	"github.com/chattingus/realtime/internal/event"
	"github.com/chattingus/realtime/internal/fanout"
	"github.com/chattingus/realtime/internal/ierr"
	"github.com/chattingus/realtime/internal/notify"
	"github.com/chattingus/realtime/internal/store"
	"github.com/chattingus/realtime/internal/topic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) CreateMessage(ctx context.Context, roomID, senderID, content, messageType string) (store.Message, error) {
	args := m.Called(ctx, roomID, senderID, content, messageType)
	return args.Get(0).(store.Message), args.Error(1)
}

func (m *mockStore) MarkMessageRead(ctx context.Context, messageID string) error {
	args := m.Called(ctx, messageID)
	return args.Error(0)
}

func (m *mockStore) CreateComment(ctx context.Context, streamID, userID, text string) (store.Comment, error) {
	args := m.Called(ctx, streamID, userID, text)
	return args.Get(0).(store.Comment), args.Error(1)
}

func (m *mockStore) CreateReaction(ctx context.Context, streamID, userID, reactionType string) (store.Reaction, error) {
	args := m.Called(ctx, streamID, userID, reactionType)
	return args.Get(0).(store.Reaction), args.Error(1)
}

func (m *mockStore) GetStream(ctx context.Context, streamID string) (store.Stream, error) {
	args := m.Called(ctx, streamID)
	return args.Get(0).(store.Stream), args.Error(1)
}

func (m *mockStore) GetOrCreateViewer(ctx context.Context, streamID, userID string) (store.Viewer, error) {
	args := m.Called(ctx, streamID, userID)
	return args.Get(0).(store.Viewer), args.Error(1)
}

func (m *mockStore) MarkViewerLeft(ctx context.Context, streamID, userID string) error {
	args := m.Called(ctx, streamID, userID)
	return args.Error(0)
}

func (m *mockStore) CreateNotification(ctx context.Context, n store.NewNotification) (store.Notification, error) {
	args := m.Called(ctx, n)
	return args.Get(0).(store.Notification), args.Error(1)
}

func (m *mockStore) GetPreferences(ctx context.Context, userID string) (store.Preferences, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(store.Preferences), args.Error(1)
}

type mockPushSender struct {
	mock.Mock
}

func (m *mockPushSender) SendPush(ctx context.Context, tokens []string, title, body string, data map[string]string) error {
	args := m.Called(ctx, tokens, title, body, data)
	return args.Error(0)
}

type mockEmailSender struct {
	mock.Mock
}

func (m *mockEmailSender) SendEmail(ctx context.Context, recipient, subject, body string) error {
	args := m.Called(ctx, recipient, subject, body)
	return args.Error(0)
}

type fixture struct {
	coordinator *Coordinator
	registry    *fanout.InMemoryRegistry
	store       *mockStore
	push        *mockPushSender
	email       *mockEmailSender
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := zap.NewNop()
	st := &mockStore{}
	push := &mockPushSender{}
	email := &mockEmailSender{}

	registry := fanout.NewInMemoryRegistry(logger)
	dispatcher := fanout.NewDispatcher(logger, registry)
	preferences := notify.NewPreferenceCache(st, time.Minute)
	t.Cleanup(preferences.Stop)

	return &fixture{
		coordinator: New(logger, st, registry, dispatcher, preferences, push, email),
		registry:    registry,
		store:       st,
		push:        push,
		email:       email,
	}
}

func (f *fixture) connect(t *testing.T, userID string) *fanout.Connection {
	t.Helper()

	conn, err := f.registry.Register(auth.Identity{UserID: userID, Username: "user-" + userID})
	require.NoError(t, err)

	return conn
}

func receive[T any](t *testing.T, conn *fanout.Connection) T {
	t.Helper()

	var payload T
	select {
	case frame := <-conn.Outbound():
		require.NoError(t, json.Unmarshal(frame, &payload))
	case <-time.After(time.Second):
		t.Fatal("expected a frame, got none")
	}

	return payload
}

func assertNoFrame(t *testing.T, conn *fanout.Connection) {
	t.Helper()

	select {
	case frame, ok := <-conn.Outbound():
		if ok {
			t.Fatalf("expected no frame, got %s", frame)
		}
	default:
	}
}

func TestCoordinator_OnChatMessageSent(t *testing.T) {
	t.Run("persists then broadcasts with the committed id", func(t *testing.T) {
		f := newFixture(t)

		a := f.connect(t, "a")
		b := f.connect(t, "b")
		require.NoError(t, f.coordinator.OnChatJoin(a, "42"))
		require.NoError(t, f.coordinator.OnChatJoin(b, "42"))

		// Drain the presence frames emitted by the joins.
		receive[event.UserStatus](t, a)
		receive[event.UserStatus](t, a)
		receive[event.UserStatus](t, b)

		createdAt := time.Now()
		f.store.On("CreateMessage", mock.Anything, "42", "a", "hi", "text").
			Return(store.Message{
				ID:          "m-1",
				RoomID:      "42",
				SenderID:    "a",
				Content:     "hi",
				MessageType: "text",
				CreatedAt:   createdAt,
			}, nil).Once()

		message, err := f.coordinator.OnChatMessageSent(context.Background(), a, "42", "hi", "text")
		require.NoError(t, err)
		assert.Equal(t, "m-1", message.ID)

		for _, conn := range []*fanout.Connection{a, b} {
			got := receive[event.ChatMessage](t, conn)
			assert.Equal(t, event.TypeChatMessage, got.Type)
			assert.Equal(t, "hi", got.Message)
			assert.Equal(t, "m-1", got.MessageID)
			assert.Equal(t, "user-a", got.Sender)
			assert.Equal(t, "a", got.SenderID)
		}

		f.store.AssertExpectations(t)
	})

	t.Run("persistence failure aborts the broadcast", func(t *testing.T) {
		f := newFixture(t)

		a := f.connect(t, "a")
		b := f.connect(t, "b")
		require.NoError(t, f.coordinator.OnChatJoin(a, "42"))
		require.NoError(t, f.coordinator.OnChatJoin(b, "42"))
		receive[event.UserStatus](t, a)
		receive[event.UserStatus](t, a)
		receive[event.UserStatus](t, b)

		f.store.On("CreateMessage", mock.Anything, "42", "a", "hi", "text").
			Return(store.Message{}, ierr.New(ierr.ErrorCodePersistenceFailure, errors.New("db down"))).Once()

		_, err := f.coordinator.OnChatMessageSent(context.Background(), a, "42", "hi", "text")
		require.Error(t, err)

		assertNoFrame(t, a)
		assertNoFrame(t, b)
	})

	t.Run("sequential sends are observed in order", func(t *testing.T) {
		f := newFixture(t)

		a := f.connect(t, "a")
		b := f.connect(t, "b")
		require.NoError(t, f.coordinator.OnChatJoin(a, "42"))
		require.NoError(t, f.coordinator.OnChatJoin(b, "42"))
		receive[event.UserStatus](t, a)
		receive[event.UserStatus](t, a)
		receive[event.UserStatus](t, b)

		f.store.On("CreateMessage", mock.Anything, "42", "a", "first", "text").
			Return(store.Message{ID: "m-1", Content: "first", MessageType: "text"}, nil).Once()
		f.store.On("CreateMessage", mock.Anything, "42", "a", "second", "text").
			Return(store.Message{ID: "m-2", Content: "second", MessageType: "text"}, nil).Once()

		_, err := f.coordinator.OnChatMessageSent(context.Background(), a, "42", "first", "text")
		require.NoError(t, err)
		_, err = f.coordinator.OnChatMessageSent(context.Background(), a, "42", "second", "text")
		require.NoError(t, err)

		first := receive[event.ChatMessage](t, b)
		second := receive[event.ChatMessage](t, b)
		assert.Equal(t, "m-1", first.MessageID)
		assert.Equal(t, "m-2", second.MessageID)
	})
}

func TestCoordinator_OnReadReceipt(t *testing.T) {
	t.Run("unknown message id is ignored, receipt still broadcast", func(t *testing.T) {
		f := newFixture(t)

		a := f.connect(t, "a")
		require.NoError(t, f.coordinator.OnChatJoin(a, "42"))
		receive[event.UserStatus](t, a)

		f.store.On("MarkMessageRead", mock.Anything, "missing").
			Return(ierr.New(ierr.ErrorCodeNotFound, errors.New("unknown message id"))).Once()

		err := f.coordinator.OnReadReceipt(context.Background(), a, "42", "missing")
		require.NoError(t, err)

		got := receive[event.MessageRead](t, a)
		assert.Equal(t, "missing", got.MessageID)
	})

	t.Run("store failure aborts the broadcast", func(t *testing.T) {
		f := newFixture(t)

		a := f.connect(t, "a")
		require.NoError(t, f.coordinator.OnChatJoin(a, "42"))
		receive[event.UserStatus](t, a)

		f.store.On("MarkMessageRead", mock.Anything, "m-1").
			Return(ierr.New(ierr.ErrorCodePersistenceFailure, errors.New("db down"))).Once()

		err := f.coordinator.OnReadReceipt(context.Background(), a, "42", "m-1")
		require.Error(t, err)
		assertNoFrame(t, a)
	})
}

func TestCoordinator_Presence(t *testing.T) {
	f := newFixture(t)

	a := f.connect(t, "a")
	b := f.connect(t, "b")
	require.NoError(t, f.coordinator.OnChatJoin(a, "42"))

	online := receive[event.UserStatus](t, a)
	assert.Equal(t, "a", online.UserID)
	assert.Equal(t, "online", online.Status)

	require.NoError(t, f.coordinator.OnChatJoin(b, "42"))
	receive[event.UserStatus](t, a)
	receive[event.UserStatus](t, b)

	f.coordinator.OnDisconnect(context.Background(), b)

	offline := receive[event.UserStatus](t, a)
	assert.Equal(t, "b", offline.UserID)
	assert.Equal(t, "offline", offline.Status)

	// The departed connection receives nothing further.
	assertNoFrame(t, b)
}

func TestCoordinator_StaleEviction(t *testing.T) {
	t.Run("queue overflow runs the full disconnect side effects", func(t *testing.T) {
		f := newFixture(t)

		a := f.connect(t, "a")
		b := f.connect(t, "b")
		require.NoError(t, f.coordinator.OnChatJoin(a, "42"))
		require.NoError(t, f.coordinator.OnChatJoin(b, "42"))
		receive[event.UserStatus](t, a)
		receive[event.UserStatus](t, a)
		receive[event.UserStatus](t, b)

		// b never drains its queue; keep broadcasting until it overflows
		// and the dispatcher drops it.
		for i := 0; i < 100 && f.registry.Count(topic.Chat("42")) == 2; i++ {
			f.coordinator.OnTyping(a, "42", true)
			receive[event.UserTyping](t, a)
		}

		require.Equal(t, 1, f.registry.Count(topic.Chat("42")))

		offline := receive[event.UserStatus](t, a)
		assert.Equal(t, "b", offline.UserID)
		assert.Equal(t, "offline", offline.Status)
	})

	t.Run("overflowed viewer leaves the count and the viewer row", func(t *testing.T) {
		f := newFixture(t)
		stream := store.Stream{ID: "7", StreamerID: "s", Status: store.StreamStatusLive}

		a := f.connect(t, "a")
		b := f.connect(t, "b")

		f.store.On("GetOrCreateViewer", mock.Anything, "7", mock.Anything).
			Return(store.Viewer{}, nil).Twice()
		f.store.On("MarkViewerLeft", mock.Anything, "7", "b").Return(nil).Once()

		require.NoError(t, f.coordinator.OnLiveJoin(context.Background(), a, stream))
		receive[event.ViewerCount](t, a)
		require.NoError(t, f.coordinator.OnLiveJoin(context.Background(), b, stream))
		receive[event.ViewerCount](t, a)
		receive[event.ViewerCount](t, b)

		for i := 0; i < 100 && f.registry.Count(topic.Live("7")) == 2; i++ {
			f.coordinator.OnViewerUpdate("7")
			receive[event.ViewerCount](t, a)
		}

		require.Equal(t, 1, f.registry.Count(topic.Live("7")))

		count := receive[event.ViewerCount](t, a)
		assert.Equal(t, 1, count.Count)

		f.store.AssertExpectations(t)
	})
}

func TestCoordinator_LiveViewers(t *testing.T) {
	stream := store.Stream{ID: "7", StreamerID: "s", Status: store.StreamStatusLive}

	t.Run("viewer count tracks topic cardinality", func(t *testing.T) {
		f := newFixture(t)

		a := f.connect(t, "a")
		b := f.connect(t, "b")

		f.store.On("GetOrCreateViewer", mock.Anything, "7", mock.Anything).
			Return(store.Viewer{}, nil).Twice()
		f.store.On("MarkViewerLeft", mock.Anything, "7", "b").Return(nil).Once()

		require.NoError(t, f.coordinator.OnLiveJoin(context.Background(), a, stream))
		count := receive[event.ViewerCount](t, a)
		assert.Equal(t, 1, count.Count)

		require.NoError(t, f.coordinator.OnLiveJoin(context.Background(), b, stream))
		count = receive[event.ViewerCount](t, a)
		assert.Equal(t, 2, count.Count)
		receive[event.ViewerCount](t, b)

		f.coordinator.OnDisconnect(context.Background(), b)
		count = receive[event.ViewerCount](t, a)
		assert.Equal(t, 1, count.Count)

		f.store.AssertExpectations(t)
	})

	t.Run("viewer row failure rolls the join back", func(t *testing.T) {
		f := newFixture(t)

		a := f.connect(t, "a")

		f.store.On("GetOrCreateViewer", mock.Anything, "7", "a").
			Return(store.Viewer{}, ierr.New(ierr.ErrorCodePersistenceFailure, errors.New("db down"))).Once()

		err := f.coordinator.OnLiveJoin(context.Background(), a, stream)
		require.Error(t, err)
		assert.Equal(t, 0, f.registry.Count(topic.Live("7")))
	})
}

func TestCoordinator_Milestones(t *testing.T) {
	t.Run("crossing detection", func(t *testing.T) {
		threshold, crossed := crossedMilestone(9, 10)
		assert.True(t, crossed)
		assert.Equal(t, 10, threshold)

		threshold, crossed = crossedMilestone(8, 12)
		assert.True(t, crossed)
		assert.Equal(t, 10, threshold)

		_, crossed = crossedMilestone(10, 11)
		assert.False(t, crossed)

		_, crossed = crossedMilestone(3, 4)
		assert.False(t, crossed)
	})

	t.Run("tenth viewer notifies the streamer", func(t *testing.T) {
		f := newFixture(t)
		stream := store.Stream{ID: "7", StreamerID: "s", Status: store.StreamStatusLive}

		streamer := f.connect(t, "s")
		require.NoError(t, f.coordinator.OnNotifyJoin(streamer))

		f.store.On("GetOrCreateViewer", mock.Anything, "7", mock.Anything).
			Return(store.Viewer{}, nil).Times(10)
		f.store.On("GetPreferences", mock.Anything, "s").
			Return(store.DefaultPreferences("s"), nil).Once()
		f.store.On("CreateNotification", mock.Anything, store.NewNotification{
			RecipientID: "s",
			Type:        store.NotificationMilestone,
			ObjectType:  "stream",
			ObjectID:    "7",
		}).Return(store.Notification{ID: "n-1", RecipientID: "s", Type: store.NotificationMilestone}, nil).Once()

		for i := range 10 {
			viewer := f.connect(t, fmt.Sprintf("viewer-%d", i))
			require.NoError(t, f.coordinator.OnLiveJoin(context.Background(), viewer, stream))
		}

		got := receive[event.Notification](t, streamer)
		assert.Equal(t, "n-1", got.Notification.ID)
		assert.Equal(t, store.NotificationMilestone, got.Notification.Type)

		f.store.AssertExpectations(t)
	})
}

func TestCoordinator_OnStreamEnded(t *testing.T) {
	f := newFixture(t)
	stream := store.Stream{ID: "7", StreamerID: "s", Status: store.StreamStatusLive}

	a := f.connect(t, "a")
	f.store.On("GetOrCreateViewer", mock.Anything, "7", "a").Return(store.Viewer{}, nil).Once()
	require.NoError(t, f.coordinator.OnLiveJoin(context.Background(), a, stream))
	receive[event.ViewerCount](t, a)

	f.coordinator.OnStreamEnded("7")

	got := receive[event.StreamEnded](t, a)
	assert.Equal(t, event.TypeStreamEnded, got.Type)
	assert.Equal(t, "7", got.StreamID)

	assert.Equal(t, 0, f.registry.Count(topic.Live("7")))
}

func TestCoordinator_TargetedSignaling(t *testing.T) {
	f := newFixture(t)
	liveKey := topic.Live("7")

	x := f.connect(t, "x")
	y := f.connect(t, "y")
	z := f.connect(t, "z")

	for _, conn := range []*fanout.Connection{x, y, z} {
		_, err := f.registry.Join(liveKey, conn)
		require.NoError(t, err)
	}

	f.coordinator.OnWebRTCAnswer(y, "7", "v=0", "x")

	got := receive[event.WebRTCSignal](t, x)
	assert.Equal(t, event.SignalAnswer, got.SignalType)
	assert.Equal(t, "y", got.SenderID)
	assert.Equal(t, "x", got.TargetID)

	assertNoFrame(t, y)
	assertNoFrame(t, z)

	// Offers are not addressed: everyone receives them.
	f.coordinator.OnWebRTCOffer(x, "7", "v=1")
	receive[event.WebRTCSignal](t, x)
	receive[event.WebRTCSignal](t, y)
	receive[event.WebRTCSignal](t, z)
}
