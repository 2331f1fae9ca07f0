package collab

import "sync"

// command runs on the room goroutine.
type command func()

// mailbox is the room's FIFO inbox.
//
// Any goroutine may enqueue; only the room goroutine dequeues. The signal
// channel (buffer 1) coalesces wake-ups so the room can select on it
// alongside its tickers.
type mailbox struct {
	mu     sync.Mutex
	cmds   []command
	closed bool
	signal chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{
		cmds:   make([]command, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue appends a command. Returns false once the mailbox is closed.
func (m *mailbox) Enqueue(c command) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false
	}
	m.cmds = append(m.cmds, c)
	select {
	case m.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes the front command without blocking.
func (m *mailbox) TryDequeue() (command, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.cmds) == 0 {
		return nil, false
	}
	c := m.cmds[0]
	// Clear the slot so the closure can be collected.
	m.cmds[0] = nil
	if len(m.cmds) == 1 {
		m.cmds = m.cmds[:0]
	} else {
		m.cmds = m.cmds[1:]
	}
	return c, true
}

// Wait returns a channel that fires when commands may be available. It is
// closed by Close.
func (m *mailbox) Wait() <-chan struct{} {
	return m.signal
}

// Len returns the number of queued commands.
func (m *mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.cmds)
}

// Close rejects further commands and wakes the reader.
func (m *mailbox) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.closed = true
	close(m.signal)
}
