package protocol

import (
	"strings"
	"sync"
)

// pendingRequest is one caller waiting for a reply.
type pendingRequest struct {
	name  string
	done  chan struct{}
	once  sync.Once
	reply *Message
}

func newPendingRequest(name string) *pendingRequest {
	return &pendingRequest{name: name, done: make(chan struct{})}
}

// resolve stores msg and wakes the waiter. Later replies are ignored.
func (p *pendingRequest) resolve(msg *Message) {
	p.once.Do(func() {
		p.reply = msg
		close(p.done)
	})
}

// registry indexes pending requests by expected name.
// Untagged commands can share a name, so each name maps to a list.
type registry struct {
	mu      sync.Mutex
	pending map[string][]*pendingRequest
}

func newRegistry() *registry {
	return &registry{pending: make(map[string][]*pendingRequest)}
}

func (r *registry) add(p *pendingRequest) {
	r.mu.Lock()
	r.pending[p.name] = append(r.pending[p.name], p)
	r.mu.Unlock()
}

func (r *registry) remove(p *pendingRequest) {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.pending[p.name]
	for i, q := range list {
		if q == p {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(r.pending, p.name)
		return
	}
	r.pending[p.name] = list
}

// resolveName completes every request waiting on name.
func (r *registry) resolveName(name string, msg *Message) int {
	r.mu.Lock()
	list := r.pending[name]
	delete(r.pending, name)
	r.mu.Unlock()

	for _, p := range list {
		p.resolve(msg)
	}
	return len(list)
}

// resolveContaining completes every request whose name occurs in text.
// Only AT echo logs use this path.
func (r *registry) resolveContaining(text string, msg *Message) int {
	r.mu.Lock()
	var matched []*pendingRequest
	for name, list := range r.pending {
		if name != "" && strings.Contains(text, name) {
			matched = append(matched, list...)
			delete(r.pending, name)
		}
	}
	r.mu.Unlock()

	for _, p := range matched {
		p.resolve(msg)
	}
	return len(matched)
}

// drain removes and returns every pending request.
func (r *registry) drain() []*pendingRequest {
	r.mu.Lock()
	defer r.mu.Unlock()

	var all []*pendingRequest
	for _, list := range r.pending {
		all = append(all, list...)
	}
	r.pending = make(map[string][]*pendingRequest)
	return all
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, list := range r.pending {
		n += len(list)
	}
	return n
}
