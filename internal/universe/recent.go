package universe

import "yellorn/internal/protocol"

// recentEvents is a fixed-size ring of informational events carried in
// snapshots. Not safe for concurrent use; the engine lock guards it.
type recentEvents struct {
	buf  []protocol.EventRecord
	next int
	full bool
}

func newRecentEvents(size int) *recentEvents {
	if size < 0 {
		size = 0
	}
	return &recentEvents{buf: make([]protocol.EventRecord, size)}
}

func (r *recentEvents) add(rec protocol.EventRecord) {
	if len(r.buf) == 0 {
		return
	}
	r.buf[r.next] = rec
	r.next++
	if r.next == len(r.buf) {
		r.next = 0
		r.full = true
	}
}

// list returns the events oldest first. The result is never nil.
func (r *recentEvents) list() []protocol.EventRecord {
	if !r.full {
		out := make([]protocol.EventRecord, r.next)
		copy(out, r.buf[:r.next])
		return out
	}
	out := make([]protocol.EventRecord, 0, len(r.buf))
	out = append(out, r.buf[r.next:]...)
	out = append(out, r.buf[:r.next]...)
	return out
}
