// Package arena provides per-worker scratch memory: a bump allocator with
// nested scopes (grounded on Slidescape's arena_t/temp_memory_t push/pop
// design) and a fixed-block allocator sized for pyramid tile pixel
// buffers (internal/loader hands these to the tile cache).
package arena

import (
	"fmt"

	"github.com/cytoslide/slidecore/internal/slideerr"
)

// Arena is a bump allocator over a single backing slice. Each worker
// thread owns one; it is not safe for concurrent use.
type Arena struct {
	buf       []byte
	used      int
	tempCount int
}

// New allocates an arena with the given capacity.
func New(size int) *Arena {
	return &Arena{buf: make([]byte, size)}
}

// Push reserves n bytes and returns a slice over them. The slice is only
// valid until the enclosing scope ends or the arena is reset.
func (a *Arena) Push(n int) ([]byte, error) {
	if a.used+n > len(a.buf) {
		return nil, fmt.Errorf("%w: arena exhausted (used %d, want %d, cap %d)",
			slideerr.ErrOutOfMemory, a.used, n, len(a.buf))
	}
	start := a.used
	a.used += n
	return a.buf[start:a.used], nil
}

// Scope is a token returned by Begin and consumed by End, implementing
// the nested temp-memory scopes original_source's arena_t supports via
// temp_count/used snapshots.
type Scope struct {
	arena     *Arena
	savedUsed int
	index     int
}

// Begin opens a nested scope. Any bytes pushed after Begin are released
// when the matching End is called, provided scopes are closed in LIFO
// order (the same discipline begin_temp_memory/end_temp_memory enforce
// via temp_index).
func (a *Arena) Begin() Scope {
	s := Scope{arena: a, savedUsed: a.used, index: a.tempCount}
	a.tempCount++
	return s
}

// End releases everything pushed since the matching Begin. Calling End
// out of LIFO order panics, matching the ASSERT in end_temp_memory: scope
// mismanagement is a programming error, not a runtime condition to
// recover from.
func (s Scope) End() {
	if s.arena.tempCount == 0 || s.index != s.arena.tempCount-1 {
		panic("arena: scope ended out of order")
	}
	s.arena.tempCount--
	s.arena.used = s.savedUsed
}

// Reset discards all allocations and scopes. Only safe to call when no
// Scope is outstanding.
func (a *Arena) Reset() {
	a.used = 0
	a.tempCount = 0
}

// Used reports bytes currently allocated.
func (a *Arena) Used() int { return a.used }

// Cap reports the arena's total capacity.
func (a *Arena) Cap() int { return len(a.buf) }
