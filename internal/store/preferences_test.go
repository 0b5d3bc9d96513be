package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPreferencesIsEnabled(t *testing.T) {
	t.Run("absent pair defaults to enabled", func(t *testing.T) {
		prefs := DefaultPreferences("u")

		assert.True(t, prefs.IsEnabled(NotificationLike, ChannelPush))
		assert.True(t, prefs.IsEnabled(NotificationMilestone, ChannelInApp))
	})

	t.Run("explicit flags win over the default", func(t *testing.T) {
		prefs := Preferences{
			UserID: "u",
			Flags: map[string]bool{
				"like_push":    false,
				"like_email":   true,
				"follow_email": false,
			},
		}

		assert.False(t, prefs.IsEnabled(NotificationLike, ChannelPush))
		assert.True(t, prefs.IsEnabled(NotificationLike, ChannelEmail))
		assert.False(t, prefs.IsEnabled(NotificationFollow, ChannelEmail))
		assert.True(t, prefs.IsEnabled(NotificationLike, ChannelInApp))
	})
}

func TestStreamAccepting(t *testing.T) {
	assert.True(t, Stream{Status: StreamStatusLive}.Accepting())
	assert.True(t, Stream{Status: StreamStatusWaiting}.Accepting())
	assert.False(t, Stream{Status: StreamStatusEnded}.Accepting())
	assert.False(t, Stream{Status: ""}.Accepting())
}
