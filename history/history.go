// Package history is a linear snapshot stack with an undo/redo cursor.
package history

// DefaultLimit bounds the number of snapshots a History keeps.
const DefaultLimit = 100

// History stores snapshots of type T. Snapshots are treated as immutable
// values; the stack never modifies an entry once it has been committed.
type History[T any] struct {
	entries []T
	cursor  int
	limit   int
}

// New creates a history holding only initial. A limit <= 0 keeps every entry.
func New[T any](initial T, limit int) *History[T] {
	return &History[T]{entries: []T{initial}, limit: limit}
}

// Current returns the snapshot at the cursor.
func (h *History[T]) Current() T {
	return h.entries[h.cursor]
}

// Commit drops any redo tail, appends s and moves the cursor onto it.
func (h *History[T]) Commit(s T) {
	h.entries = append(h.entries[:h.cursor+1:h.cursor+1], s)
	if h.limit > 0 && len(h.entries) > h.limit {
		drop := len(h.entries) - h.limit
		h.entries = append([]T{}, h.entries[drop:]...)
	}
	h.cursor = len(h.entries) - 1
}

// Undo steps back one entry if possible and returns the current snapshot.
func (h *History[T]) Undo() T {
	if h.CanUndo() {
		h.cursor--
	}
	return h.entries[h.cursor]
}

// Redo steps forward one entry if possible and returns the current snapshot.
func (h *History[T]) Redo() T {
	if h.CanRedo() {
		h.cursor++
	}
	return h.entries[h.cursor]
}

func (h *History[T]) CanUndo() bool { return h.cursor > 0 }

func (h *History[T]) CanRedo() bool { return h.cursor < len(h.entries)-1 }

// Reset clears the stack down to a single entry.
func (h *History[T]) Reset(initial T) {
	h.entries = []T{initial}
	h.cursor = 0
}

// Len returns the number of stored snapshots.
func (h *History[T]) Len() int { return len(h.entries) }

// Cursor returns the index of the current snapshot.
func (h *History[T]) Cursor() int { return h.cursor }
