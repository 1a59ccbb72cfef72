package rooms

import "slidesync/internal/protocol"

// HistoryCapacity bounds a room's message history.
const HistoryCapacity = 1000

// messageRing is a fixed-capacity FIFO that overwrites its oldest entry.
type messageRing struct {
	buf   []protocol.RoomMessage
	start int
	size  int
}

func newMessageRing(capacity int) *messageRing {
	return &messageRing{buf: make([]protocol.RoomMessage, capacity)}
}

func (r *messageRing) push(msg protocol.RoomMessage) {
	if r.size < len(r.buf) {
		r.buf[(r.start+r.size)%len(r.buf)] = msg
		r.size++
		return
	}
	r.buf[r.start] = msg
	r.start = (r.start + 1) % len(r.buf)
}

func (r *messageRing) len() int {
	return r.size
}

// items returns the messages oldest first.
func (r *messageRing) items() []protocol.RoomMessage {
	out := make([]protocol.RoomMessage, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}
