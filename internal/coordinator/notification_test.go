package coordinator

import (
	"context"
	"errors"
	"testing"

	"github.com/chattingus/realtime/internal/auth"
	"github.com/chattingus/realtime/internal/event"
	"github.com/chattingus/realtime/internal/ierr"
	"github.com/chattingus/realtime/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestCoordinator_NotifyUser(t *testing.T) {
	t.Run("self-notification is suppressed entirely", func(t *testing.T) {
		f := newFixture(t)

		recipient := f.connect(t, "a")
		require.NoError(t, f.coordinator.OnNotifyJoin(recipient))

		notification, err := f.coordinator.NotifyUser(context.Background(), NotifyRequest{
			RecipientID: "a",
			Sender:      auth.Identity{UserID: "a", Username: "alice"},
			Type:        store.NotificationLike,
			ObjectType:  "post",
			ObjectID:    "9",
		})

		require.NoError(t, err)
		assert.Empty(t, notification.ID)
		assertNoFrame(t, recipient)
		f.store.AssertNotCalled(t, "CreateNotification", mock.Anything, mock.Anything)
		f.store.AssertNotCalled(t, "GetPreferences", mock.Anything, mock.Anything)
	})

	t.Run("disabled in-app preference short-circuits", func(t *testing.T) {
		f := newFixture(t)

		recipient := f.connect(t, "b")
		require.NoError(t, f.coordinator.OnNotifyJoin(recipient))

		f.store.On("GetPreferences", mock.Anything, "b").
			Return(store.Preferences{
				UserID: "b",
				Flags:  map[string]bool{"like_in_app": false},
			}, nil).Once()

		notification, err := f.coordinator.NotifyUser(context.Background(), NotifyRequest{
			RecipientID: "b",
			Sender:      auth.Identity{UserID: "a", Username: "alice"},
			Type:        store.NotificationLike,
			ObjectType:  "post",
			ObjectID:    "9",
		})

		require.NoError(t, err)
		assert.Empty(t, notification.ID)
		assertNoFrame(t, recipient)
		f.store.AssertNotCalled(t, "CreateNotification", mock.Anything, mock.Anything)
	})

	t.Run("fans out in-app, push and email when enabled", func(t *testing.T) {
		f := newFixture(t)

		recipient := f.connect(t, "b")
		require.NoError(t, f.coordinator.OnNotifyJoin(recipient))

		f.store.On("GetPreferences", mock.Anything, "b").
			Return(store.Preferences{
				UserID:    "b",
				FCMTokens: []string{"token-1", "token-2"},
				Email:     "b@example.com",
				FullName:  "Bob",
			}, nil).Once()
		f.store.On("CreateNotification", mock.Anything, mock.Anything).
			Return(store.Notification{ID: "n-1", RecipientID: "b", Type: store.NotificationFollow}, nil).Once()

		f.push.On("SendPush", mock.Anything, []string{"token-1", "token-2"}, "ChattingUs",
			"alice started following you", mock.Anything).Return(nil).Once()
		f.email.On("SendEmail", mock.Anything, "b@example.com",
			"ChattingUs - alice started following you", mock.Anything).Return(nil).Once()

		notification, err := f.coordinator.NotifyUser(context.Background(), NotifyRequest{
			RecipientID: "b",
			Sender:      auth.Identity{UserID: "a", Username: "alice"},
			Type:        store.NotificationFollow,
			ObjectType:  "user",
		})

		require.NoError(t, err)
		assert.Equal(t, "n-1", notification.ID)

		got := receive[event.Notification](t, recipient)
		assert.Equal(t, "n-1", got.Notification.ID)
		assert.Equal(t, "alice started following you", got.Notification.Text)
		assert.Equal(t, "/profile/alice/", got.Notification.Link)
		assert.Equal(t, "a", got.Notification.Sender.ID)
		assert.False(t, got.Notification.IsRead)

		f.coordinator.sideChannels.Wait()
		f.push.AssertExpectations(t)
		f.email.AssertExpectations(t)
	})

	t.Run("side-channel failure does not retract the broadcast", func(t *testing.T) {
		f := newFixture(t)

		recipient := f.connect(t, "b")
		require.NoError(t, f.coordinator.OnNotifyJoin(recipient))

		f.store.On("GetPreferences", mock.Anything, "b").
			Return(store.Preferences{
				UserID:    "b",
				FCMTokens: []string{"token-1"},
			}, nil).Once()
		f.store.On("CreateNotification", mock.Anything, mock.Anything).
			Return(store.Notification{ID: "n-2", RecipientID: "b", Type: store.NotificationLike}, nil).Once()

		f.push.On("SendPush", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(errors.New("fcm unreachable")).Once()

		notification, err := f.coordinator.NotifyUser(context.Background(), NotifyRequest{
			RecipientID: "b",
			Sender:      auth.Identity{UserID: "a", Username: "alice"},
			Type:        store.NotificationLike,
			ObjectType:  "post",
			ObjectID:    "9",
		})

		require.NoError(t, err)
		assert.Equal(t, "n-2", notification.ID)

		got := receive[event.Notification](t, recipient)
		assert.Equal(t, "n-2", got.Notification.ID)

		f.coordinator.sideChannels.Wait()
		f.push.AssertExpectations(t)
	})

	t.Run("persistence failure surfaces and nothing is broadcast", func(t *testing.T) {
		f := newFixture(t)

		recipient := f.connect(t, "b")
		require.NoError(t, f.coordinator.OnNotifyJoin(recipient))

		f.store.On("GetPreferences", mock.Anything, "b").
			Return(store.DefaultPreferences("b"), nil).Once()
		f.store.On("CreateNotification", mock.Anything, mock.Anything).
			Return(store.Notification{}, ierr.New(ierr.ErrorCodePersistenceFailure, errors.New("db down"))).Once()

		_, err := f.coordinator.NotifyUser(context.Background(), NotifyRequest{
			RecipientID: "b",
			Sender:      auth.Identity{UserID: "a", Username: "alice"},
			Type:        store.NotificationLike,
		})

		require.Error(t, err)
		assertNoFrame(t, recipient)
	})

	t.Run("no push without device tokens", func(t *testing.T) {
		f := newFixture(t)

		f.store.On("GetPreferences", mock.Anything, "c").
			Return(store.DefaultPreferences("c"), nil).Once()
		f.store.On("CreateNotification", mock.Anything, mock.Anything).
			Return(store.Notification{ID: "n-3", RecipientID: "c", Type: store.NotificationMention}, nil).Once()

		_, err := f.coordinator.NotifyUser(context.Background(), NotifyRequest{
			RecipientID: "c",
			Sender:      auth.Identity{UserID: "a", Username: "alice"},
			Type:        store.NotificationMention,
		})

		require.NoError(t, err)

		f.coordinator.sideChannels.Wait()
		f.push.AssertNotCalled(t, "SendPush", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		f.email.AssertNotCalled(t, "SendEmail", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}
