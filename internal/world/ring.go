package world

// chatRing is a fixed-capacity ring buffer of chat messages. When full,
// a push evicts the oldest entry.
type chatRing struct {
	buf  []ChatMessage
	head int // index of the oldest entry
	size int
}

func newChatRing(capacity int) *chatRing {
	if capacity < 1 {
		capacity = 1
	}
	return &chatRing{buf: make([]ChatMessage, capacity)}
}

// push appends a message, evicting the oldest when at capacity.
func (r *chatRing) push(m ChatMessage) {
	if r.size < len(r.buf) {
		r.buf[(r.head+r.size)%len(r.buf)] = m
		r.size++
		return
	}
	r.buf[r.head] = m
	r.head = (r.head + 1) % len(r.buf)
}

// snapshot returns the buffered messages oldest-first as a fresh slice.
func (r *chatRing) snapshot() []ChatMessage {
	out := make([]ChatMessage, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	return out
}
