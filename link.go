package collab

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/codesynq/collab.go/pkg/constants"
)

// RoomParam is the query parameter a share link carries the room id in.
const RoomParam = "room"

// ShareLink returns base with the room query parameter set to roomID.
func ShareLink(base, roomID string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("share link base %q: %w", base, err)
	}
	q := u.Query()
	q.Set(RoomParam, roomID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ParseShareLink returns the room id in s, which is either a share link or
// a bare room id.
func ParseShareLink(s string) (string, error) {
	s = strings.TrimSpace(s)
	if !strings.Contains(s, "://") && !strings.ContainsAny(s, "?=/") {
		if s == "" {
			return "", constants.ErrInvalidRoomID
		}
		return s, nil
	}

	u, err := url.Parse(s)
	if err != nil {
		return "", fmt.Errorf("%w: %v", constants.ErrInvalidRoomID, err)
	}
	room := strings.TrimSpace(u.Query().Get(RoomParam))
	if room == "" {
		return "", fmt.Errorf("%w: link has no %s parameter", constants.ErrInvalidRoomID, RoomParam)
	}
	return room, nil
}
