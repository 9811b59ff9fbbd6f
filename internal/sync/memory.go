package sync

import (
	"context"
	"errors"
	stdsync "sync"
)

// MemoryHub is an in-process Transport. Every connection made through the
// same hub shares its rooms, which makes it the backbone of the adapter
// tests.
//
// Delivery is synchronous: Publish invokes every matching subscriber,
// including the publisher's own, before returning. Handlers may publish
// again from inside a delivery. The flip side is that subscriber handlers
// run on the publisher's goroutine: a service that publishes while holding
// a lock its own inbound handlers also take must be the only such service
// on the hub, or two of them publishing concurrently can deadlock on each
// other's locks. Multi-replica setups go through the relay transport.
type MemoryHub struct {
	mu    stdsync.Mutex
	rooms map[string]*memoryRoom
}

// NewMemoryHub returns an empty hub.
func NewMemoryHub() *MemoryHub {
	return &MemoryHub{rooms: make(map[string]*memoryRoom)}
}

// Connect implements Transport. It never fails.
func (h *MemoryHub) Connect(_ context.Context, opts ClientOptions) (Connection, error) {
	return &memoryConn{hub: h, clientID: opts.ClientID}, nil
}

func (h *MemoryHub) room(name string) *memoryRoom {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[name]
	if !ok {
		r = &memoryRoom{
			members: make(map[string][]byte),
		}
		h.rooms[name] = r
	}
	return r
}

type memoryRoom struct {
	mu       stdsync.Mutex
	channels []*memoryChannel
	members  map[string][]byte
	order    []string
}

func (r *memoryRoom) broadcast(topic string, data []byte) {
	r.mu.Lock()
	var handlers []func([]byte)
	for _, ch := range r.channels {
		if fn, ok := ch.handlers[topic]; ok {
			handlers = append(handlers, fn)
		}
	}
	r.mu.Unlock()
	// Handlers run outside the room lock so they can publish in turn.
	payload := append([]byte(nil), data...)
	for _, fn := range handlers {
		fn(payload)
	}
}

func (r *memoryRoom) membershipChanged() {
	r.mu.Lock()
	var fns []func()
	for _, ch := range r.channels {
		if ch.presenceFn != nil {
			fns = append(fns, ch.presenceFn)
		}
	}
	r.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

type memoryConn struct {
	hub      *MemoryHub
	clientID string

	mu       stdsync.Mutex
	closed   bool
	channels map[string]*memoryChannel
	stateFns []func(ConnectionEvent)
}

func (c *memoryConn) OnStateChange(fn func(ConnectionEvent)) {
	c.mu.Lock()
	c.stateFns = append(c.stateFns, fn)
	c.mu.Unlock()
}

func (c *memoryConn) Channel(name string) Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channels == nil {
		c.channels = make(map[string]*memoryChannel)
	}
	if ch, ok := c.channels[name]; ok {
		return ch
	}
	ch := &memoryChannel{
		room:     c.hub.room(name),
		clientID: c.clientID,
		state:    ChannelDetached,
		handlers: make(map[string]func([]byte)),
	}
	c.channels[name] = ch
	return ch
}

func (c *memoryConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	channels := make([]*memoryChannel, 0, len(c.channels))
	for _, ch := range c.channels {
		channels = append(channels, ch)
	}
	fns := append([]func(ConnectionEvent){}, c.stateFns...)
	c.mu.Unlock()

	for _, ch := range channels {
		ch.detach()
	}
	for _, fn := range fns {
		fn(EventDisconnected)
	}
	return nil
}

type memoryChannel struct {
	room     *memoryRoom
	clientID string

	state      ChannelState
	handlers   map[string]func([]byte)
	stateFns   []func(ChannelState)
	presenceFn func()
	entered    bool
}

var errDetached = errors.New("channel detached")

func (ch *memoryChannel) Attach(_ context.Context) error {
	r := ch.room
	r.mu.Lock()
	if ch.state != ChannelAttached {
		ch.state = ChannelAttached
		r.channels = append(r.channels, ch)
	}
	fns := append([]func(ChannelState){}, ch.stateFns...)
	r.mu.Unlock()
	for _, fn := range fns {
		fn(ChannelAttached)
	}
	return nil
}

func (ch *memoryChannel) State() ChannelState {
	ch.room.mu.Lock()
	defer ch.room.mu.Unlock()
	return ch.state
}

func (ch *memoryChannel) OnStateChange(fn func(ChannelState)) {
	ch.room.mu.Lock()
	ch.stateFns = append(ch.stateFns, fn)
	ch.room.mu.Unlock()
}

func (ch *memoryChannel) Publish(_ context.Context, topic string, data []byte) error {
	ch.room.mu.Lock()
	attached := ch.state == ChannelAttached
	ch.room.mu.Unlock()
	if !attached {
		return errDetached
	}
	ch.room.broadcast(topic, data)
	return nil
}

func (ch *memoryChannel) Subscribe(topic string, handler func(data []byte)) {
	ch.room.mu.Lock()
	ch.handlers[topic] = handler
	ch.room.mu.Unlock()
}

func (ch *memoryChannel) Unsubscribe() {
	ch.detach()
}

func (ch *memoryChannel) detach() {
	r := ch.room
	r.mu.Lock()
	wasEntered := ch.entered
	ch.entered = false
	if ch.state == ChannelDetached {
		r.mu.Unlock()
		return
	}
	ch.state = ChannelDetached
	ch.handlers = make(map[string]func([]byte))
	for i, other := range r.channels {
		if other == ch {
			r.channels = append(r.channels[:i], r.channels[i+1:]...)
			break
		}
	}
	if wasEntered {
		delete(r.members, ch.clientID)
		for i, id := range r.order {
			if id == ch.clientID {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
	}
	fns := append([]func(ChannelState){}, ch.stateFns...)
	r.mu.Unlock()
	for _, fn := range fns {
		fn(ChannelDetached)
	}
	if wasEntered {
		r.membershipChanged()
	}
}

func (ch *memoryChannel) Presence() Presence {
	return &memoryPresence{ch: ch}
}

type memoryPresence struct {
	ch *memoryChannel
}

func (p *memoryPresence) Enter(_ context.Context, data []byte) error {
	r := p.ch.room
	r.mu.Lock()
	if p.ch.state != ChannelAttached {
		r.mu.Unlock()
		return errDetached
	}
	if !p.ch.entered {
		p.ch.entered = true
		r.order = append(r.order, p.ch.clientID)
	}
	r.members[p.ch.clientID] = append([]byte(nil), data...)
	r.mu.Unlock()
	r.membershipChanged()
	return nil
}

func (p *memoryPresence) Leave(_ context.Context) error {
	r := p.ch.room
	r.mu.Lock()
	if !p.ch.entered {
		r.mu.Unlock()
		return nil
	}
	p.ch.entered = false
	delete(r.members, p.ch.clientID)
	for i, id := range r.order {
		if id == p.ch.clientID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.mu.Unlock()
	r.membershipChanged()
	return nil
}

func (p *memoryPresence) Subscribe(fn func()) {
	r := p.ch.room
	r.mu.Lock()
	p.ch.presenceFn = fn
	r.mu.Unlock()
}

func (p *memoryPresence) Get(_ context.Context) ([]Member, error) {
	r := p.ch.room
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Member, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, Member{ClientID: id, Data: append([]byte(nil), r.members[id]...)})
	}
	return out, nil
}
