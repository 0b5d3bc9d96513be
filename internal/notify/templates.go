package notify

import (
	"fmt"
	"time"

	"github.com/chattingus/realtime/internal/store"
)

// Text renders the human-readable notification line. senderName is
// empty for system notifications.
func Text(notificationType, senderName string) string {
	if senderName == "" {
		switch notificationType {
		case store.NotificationMilestone:
			return "Your live stream reached a new viewer milestone"
		default:
			return "You have a new notification"
		}
	}

	switch notificationType {
	case store.NotificationLike:
		return senderName + " liked your post"
	case store.NotificationComment:
		return senderName + " commented on your post"
	case store.NotificationFollow:
		return senderName + " started following you"
	case store.NotificationMessage:
		return senderName + " sent you a message"
	case store.NotificationMention:
		return senderName + " mentioned you"
	case store.NotificationLive:
		return senderName + " is live now"
	default:
		return "New notification"
	}
}

// Link maps the related object to its frontend URL.
func Link(objectType, objectID, senderUsername string) string {
	switch objectType {
	case "post", "comment":
		return "/posts/" + objectID + "/"
	case "reel":
		return "/reels/" + objectID + "/"
	case "story":
		return "/stories/" + objectID + "/"
	case "stream":
		return "/live/" + objectID + "/"
	case "message":
		return "/chat/" + objectID + "/"
	case "user":
		return "/profile/" + senderUsername + "/"
	default:
		return ""
	}
}

// TimeAgo renders a coarse human-readable age for a notification.
func TimeAgo(createdAt, now time.Time) string {
	diff := now.Sub(createdAt)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	case diff < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
	default:
		return createdAt.Format("Jan 02")
	}
}
