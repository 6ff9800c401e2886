package events

import "sync"

type message struct {
	Kind string
	Data []byte
	prev *message
}

// buffer is a bounded FIFO of pending events. When full, the oldest
// message is dropped so a stuck writer cannot grow memory without limit.
type buffer struct {
	lock    sync.Mutex
	head    *message
	tail    *message
	size    int
	limit   int
	dropped int64
}

func newBuffer(limit int) *buffer {
	return &buffer{limit: limit}
}

func (b *buffer) PushBack(msg *message) {
	b.lock.Lock()
	defer b.lock.Unlock()

	if b.limit > 0 && b.size >= b.limit {
		b.popLocked()
		b.dropped++
	}

	if b.head == nil {
		b.head = msg
		b.tail = msg
	} else {
		b.tail.prev = msg
		b.tail = msg
	}
	b.size++
}

func (b *buffer) Pop() *message {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.popLocked()
}

func (b *buffer) popLocked() *message {
	if b.head == nil {
		return nil
	}
	tmp := b.head
	if b.head.prev != nil {
		b.head = b.head.prev
	} else {
		// removing the last one
		b.head = nil
		b.tail = nil
	}
	b.size--
	return tmp
}

func (b *buffer) Size() int {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.size
}

func (b *buffer) Dropped() int64 {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.dropped
}
