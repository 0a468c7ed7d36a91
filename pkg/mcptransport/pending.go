package mcptransport

import (
	"sync"
)

type reply struct {
	msg *Message
	err error
}

// pendingTable maps correlation keys to single-fire reply channels.
type pendingTable struct {
	mu      sync.Mutex
	entries map[string]chan reply
}

func newPendingTable() *pendingTable {
	return &pendingTable{entries: make(map[string]chan reply)}
}

// register reserves key. It returns false when a request with the same key is
// already outstanding.
func (p *pendingTable) register(key string) (<-chan reply, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, dup := p.entries[key]; dup {
		return nil, false
	}
	ch := make(chan reply, 1)
	p.entries[key] = ch
	return ch, true
}

// resolve delivers msg to the waiter registered under key and removes it.
func (p *pendingTable) resolve(key string, msg *Message) bool {
	p.mu.Lock()
	ch, ok := p.entries[key]
	if ok {
		delete(p.entries, key)
	}
	p.mu.Unlock()
	if ok {
		ch <- reply{msg: msg}
	}
	return ok
}

// forget drops key without delivering anything, so a late response is
// treated as unsolicited.
func (p *pendingTable) forget(key string) {
	p.mu.Lock()
	delete(p.entries, key)
	p.mu.Unlock()
}

// failAll fails every outstanding request with err and empties the table.
func (p *pendingTable) failAll(err error) {
	p.mu.Lock()
	entries := p.entries
	p.entries = make(map[string]chan reply)
	p.mu.Unlock()
	for _, ch := range entries {
		ch <- reply{err: err}
	}
}

func (p *pendingTable) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}
