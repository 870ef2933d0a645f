package session

import (
	"fmt"
	"time"

	"github.com/codesynq/collab.go/pkg/protocol"
)

const (
	GuestName  = "Guest User"
	GuestPhoto = "https://via.placeholder.com/40/666/ffffff?text=G"
)

// GuestIdentity synthesizes an identity for a user who is not signed in.
// Two guests created in the same millisecond collide.
func GuestIdentity(now time.Time) protocol.Identity {
	return protocol.Identity{
		UID:         fmt.Sprintf("guest-%d", now.UnixMilli()),
		DisplayName: GuestName,
		Photo:       GuestPhoto,
	}
}

// IsGuest reports whether uid was produced by GuestIdentity.
func IsGuest(uid string) bool {
	var ms int64
	_, err := fmt.Sscanf(uid, "guest-%d", &ms)
	return err == nil
}
