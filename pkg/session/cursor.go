package session

import (
	"sort"
	"unicode/utf16"

	"github.com/codesynq/collab.go/pkg/clock"
)

// Palette is the set of cursor colors. A member always gets the same one.
var Palette = []string{"#FF6B6B", "#4ECDC4", "#45B7D1", "#96CEB4", "#FFEAA7", "#DDA0DD", "#98D8C8", "#F7DC6F"}

// RemoteCursor is another member's caret, shown only in Freestyle.
type RemoteCursor struct {
	MemberID   string
	MemberName string
	Line       int
	Ch         int
	Color      string
}

// ColorFor picks a palette color from a 32-bit rolling hash of id over its
// UTF-16 code units (h = h*31 + c, wrapping).
func ColorFor(id string) string {
	var h int32
	for _, c := range utf16.Encode([]rune(id)) {
		h = (h << 5) - h + int32(c)
	}
	n := int64(h)
	if n < 0 {
		n = -n
	}
	return Palette[n%int64(len(Palette))]
}

type cursorEntry struct {
	cursor RemoteCursor
	timer  clock.Timer
	gen    uint64
}

// cursorSet tracks remote cursors and their expiry timers. It is not safe
// for concurrent use; Session guards it with its lock.
type cursorSet struct {
	entries map[string]*cursorEntry
	gen     uint64
}

func newCursorSet() *cursorSet {
	return &cursorSet{entries: make(map[string]*cursorEntry)}
}

// put records c and returns the generation the expiry timer must match.
func (cs *cursorSet) put(c RemoteCursor) (uint64, *cursorEntry) {
	cs.gen++
	e, ok := cs.entries[c.MemberID]
	if !ok {
		e = &cursorEntry{}
		cs.entries[c.MemberID] = e
	}
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.cursor = c
	e.gen = cs.gen
	return cs.gen, e
}

// expire removes the cursor for id if gen is still current.
func (cs *cursorSet) expire(id string, gen uint64) bool {
	e, ok := cs.entries[id]
	if !ok || e.gen != gen {
		return false
	}
	delete(cs.entries, id)
	return true
}

func (cs *cursorSet) remove(id string) bool {
	e, ok := cs.entries[id]
	if !ok {
		return false
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	delete(cs.entries, id)
	return true
}

// clear stops every timer and forgets every cursor. It reports whether
// anything was removed.
func (cs *cursorSet) clear() bool {
	had := len(cs.entries) > 0
	for id, e := range cs.entries {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(cs.entries, id)
	}
	return had
}

// list returns the cursors sorted by member id.
func (cs *cursorSet) list() []RemoteCursor {
	out := make([]RemoteCursor, 0, len(cs.entries))
	for _, e := range cs.entries {
		out = append(out, e.cursor)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MemberID < out[j].MemberID })
	return out
}
