// Package history keeps the bounded navigation log of activated items.
package history

import "tabhop/internal/hop"

const (
	DefaultCapacity   = 200
	DefaultBackWindow = 10
)

// Log is an append log with a cursor. Recording while the cursor is behind the
// end discards the forward entries. Not safe for concurrent use.
type Log struct {
	items    []hop.ItemID
	cursor   int
	capacity int
}

// New returns an empty log. capacity <= 0 uses DefaultCapacity.
func New(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{cursor: -1, capacity: capacity}
}

// Record appends id and moves the cursor to the end.
//
// When the cursor is behind the last entry (after StepBack) the log branches: the
// entry at the cursor and everything after it are replaced by id, so [a b c d] with
// the cursor on c becomes [a b e]. id is not appended when it repeats the preceding
// entry. The oldest entries are evicted over capacity.
func (l *Log) Record(id hop.ItemID) {
	keep := l.cursor + 1
	if l.cursor < len(l.items)-1 {
		keep = l.cursor
	}
	l.items = l.items[:max(0, keep)]
	if n := len(l.items); n > 0 && l.items[n-1] == id {
		l.cursor = n - 1
		return
	}
	l.items = append(l.items, id)
	if over := len(l.items) - l.capacity; over > 0 {
		l.items = append(l.items[:0], l.items[over:]...)
	}
	l.cursor = len(l.items) - 1
}

// StepBack moves one entry back, but never further than maxBack entries behind the
// most recent one. ok=false means the cursor is at that boundary and did not move.
func (l *Log) StepBack(maxBack int) (hop.ItemID, bool) {
	if maxBack < 0 {
		maxBack = 0
	}
	minIndex := max(0, len(l.items)-1-maxBack)
	if l.cursor <= minIndex {
		return "", false
	}
	l.cursor = max(minIndex, l.cursor-1)
	return l.items[l.cursor], true
}

// StepForward moves one entry forward. ok=false at the last entry.
func (l *Log) StepForward() (hop.ItemID, bool) {
	if l.cursor >= len(l.items)-1 {
		return "", false
	}
	l.cursor++
	return l.items[l.cursor], true
}

func (l *Log) Reset() {
	l.items = l.items[:0]
	l.cursor = -1
}

func (l *Log) Len() int      { return len(l.items) }
func (l *Log) Cursor() int   { return l.cursor }
func (l *Log) Capacity() int { return l.capacity }

// Current returns the entry at the cursor.
func (l *Log) Current() (hop.ItemID, bool) {
	if l.cursor < 0 || l.cursor >= len(l.items) {
		return "", false
	}
	return l.items[l.cursor], true
}

// Items returns a copy of the stored entries, oldest first.
func (l *Log) Items() []hop.ItemID {
	return append([]hop.ItemID(nil), l.items...)
}
