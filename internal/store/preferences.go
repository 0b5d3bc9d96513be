package store

// Channel is a notification delivery channel.
type Channel string

const (
	ChannelPush  Channel = "push"
	ChannelEmail Channel = "email"
	ChannelInApp Channel = "in_app"
)

// Notification types emitted by the main backend.
const (
	NotificationLike      = "like"
	NotificationComment   = "comment"
	NotificationFollow    = "follow"
	NotificationMessage   = "message"
	NotificationMention   = "mention"
	NotificationLive      = "live"
	NotificationMilestone = "milestone"
)

// Preferences is the per-user notification matrix: one boolean per
// (type, channel) pair plus registered push device tokens. Pairs absent
// from Flags fall back to enabled.
type Preferences struct {
	UserID    string
	Flags     map[string]bool
	FCMTokens []string
	Email     string
	FullName  string
}

// DefaultPreferences is used when a user has no stored preference row.
func DefaultPreferences(userID string) Preferences {
	return Preferences{UserID: userID}
}

func (p Preferences) IsEnabled(notificationType string, channel Channel) bool {
	enabled, ok := p.Flags[notificationType+"_"+string(channel)]
	if !ok {
		return true
	}
	return enabled
}
