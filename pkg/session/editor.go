package session

import (
	"strings"
	"sync"
	"unicode/utf8"
)

// Position is a caret location. Line and Ch are 0-based; Ch counts runes,
// not bytes.
type Position struct {
	Line int
	Ch   int
}

// Editor is the editing surface a Session drives. SetText replaces the
// whole document; implementations may report it as a change event, which
// the session recognizes and does not rebroadcast.
type Editor interface {
	Text() string
	SetText(text string)
	Cursor() Position
	SetCursor(pos Position)
	SetReadOnly(readOnly bool)
	Language() string
	SetLanguage(lang string)
}

// Clamp moves pos onto the nearest valid location in text.
func Clamp(text string, pos Position) Position {
	lines := strings.Split(text, "\n")
	if pos.Line < 0 {
		return Position{}
	}
	if pos.Line >= len(lines) {
		last := len(lines) - 1
		return Position{Line: last, Ch: utf8.RuneCountInString(lines[last])}
	}
	if pos.Ch < 0 {
		pos.Ch = 0
	}
	if n := utf8.RuneCountInString(lines[pos.Line]); pos.Ch > n {
		pos.Ch = n
	}
	return pos
}

// Buffer is an in-memory Editor. User edits go through Type and Replace,
// which respect the read-only flag; SetText is the programmatic path and
// always applies.
type Buffer struct {
	mu       sync.Mutex
	text     string
	cursor   Position
	readOnly bool
	language string
	onChange func()
}

var _ Editor = (*Buffer)(nil)

func NewBuffer(text, language string) *Buffer {
	return &Buffer{text: text, language: language}
}

// OnChange sets a callback fired after every text change, including
// SetText, the way editor widgets report programmatic changes too.
func (b *Buffer) OnChange(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onChange = fn
}

func (b *Buffer) Text() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.text
}

func (b *Buffer) SetText(text string) {
	b.mu.Lock()
	b.text = text
	b.cursor = Clamp(text, b.cursor)
	fn := b.onChange
	b.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// Type appends s at the end of the document as a user edit. It reports
// false, changing nothing, when the buffer is read-only.
func (b *Buffer) Type(s string) bool {
	b.mu.Lock()
	if b.readOnly {
		b.mu.Unlock()
		return false
	}
	b.text += s
	b.cursor = Clamp(b.text, Position{Line: strings.Count(b.text, "\n"), Ch: 1 << 30})
	fn := b.onChange
	b.mu.Unlock()

	if fn != nil {
		fn()
	}
	return true
}

// Replace swaps the whole document as a user edit, subject to read-only.
func (b *Buffer) Replace(text string) bool {
	b.mu.Lock()
	if b.readOnly {
		b.mu.Unlock()
		return false
	}
	b.text = text
	b.cursor = Clamp(text, b.cursor)
	fn := b.onChange
	b.mu.Unlock()

	if fn != nil {
		fn()
	}
	return true
}

func (b *Buffer) Cursor() Position {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cursor
}

func (b *Buffer) SetCursor(pos Position) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cursor = Clamp(b.text, pos)
}

func (b *Buffer) SetReadOnly(readOnly bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.readOnly = readOnly
}

func (b *Buffer) ReadOnly() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.readOnly
}

func (b *Buffer) Language() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.language
}

func (b *Buffer) SetLanguage(lang string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.language = lang
}
