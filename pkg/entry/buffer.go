// Package entry holds the characters typed at the lock prompt.
package entry

// DefaultCapacity is the number of characters a Buffer accepts by default.
// shadow(5) suggests 127 is enough for any password.
const DefaultCapacity = 127

// Buffer is an ordered, capacity limited sequence of typed characters.
// Keystrokes past the capacity are dropped.
//
// The zero value is not usable, create a Buffer with New.
type Buffer struct {
	runes []rune
}

// New creates an empty buffer that holds at most capacity characters.
// A capacity below one falls back to DefaultCapacity.
func New(capacity int) *Buffer {
	if capacity < 1 {
		capacity = DefaultCapacity
	}

	return &Buffer{runes: make([]rune, 0, capacity)}
}

// Append adds r to the end of the buffer.
// It returns false, leaving the buffer unchanged, when the buffer is full.
func (b *Buffer) Append(r rune) bool {
	if b.Full() {
		return false
	}

	b.runes = append(b.runes, r)
	return true
}

// Backspace removes the last character. It reports whether a character was removed.
func (b *Buffer) Backspace() bool {
	if len(b.runes) == 0 {
		return false
	}

	b.runes[len(b.runes)-1] = 0
	b.runes = b.runes[:len(b.runes)-1]
	return true
}

// Clear empties the buffer and overwrites the characters it held.
func (b *Buffer) Clear() {
	clear(b.runes[:cap(b.runes)])
	b.runes = b.runes[:0]
}

func (b *Buffer) Len() int {
	return len(b.runes)
}

func (b *Buffer) Cap() int {
	return cap(b.runes)
}

func (b *Buffer) Full() bool {
	return len(b.runes) == cap(b.runes)
}

// String returns the typed characters.
func (b *Buffer) String() string {
	return string(b.runes)
}
