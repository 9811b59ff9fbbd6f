package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	stdsync "sync"
	"time"

	"github.com/coder/websocket"
)

// Wire envelope exchanged with the relay. Clients send publish/enter/leave;
// the relay fans out message and presence frames.
type envelope struct {
	Action   string          `json:"action"`
	Topic    string          `json:"topic,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
	ClientID string          `json:"clientId,omitempty"`
	Members  []wireMember    `json:"members,omitempty"`
}

const (
	actionPublish  = "publish"
	actionEnter    = "enter"
	actionLeave    = "leave"
	actionMessage  = "message"
	actionPresence = "presence"
)

type wireMember struct {
	ClientID string          `json:"clientId"`
	Data     json.RawMessage `json:"data,omitempty"`
}

const wsWriteTimeout = 5 * time.Second

// WSTransport is the Transport backed by a relay server over websocket.
// The actual dial happens per channel at Attach time, because the room name
// is part of the dial URL.
type WSTransport struct{}

// NewWSTransport returns a websocket transport.
func NewWSTransport() *WSTransport {
	return &WSTransport{}
}

// Connect implements Transport. It only records the client options; network
// activity starts when a channel attaches.
func (t *WSTransport) Connect(_ context.Context, opts ClientOptions) (Connection, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("relay url is empty")
	}
	if _, err := url.Parse(opts.URL); err != nil {
		return nil, fmt.Errorf("parse relay url: %w", err)
	}
	return &wsConn{opts: opts}, nil
}

type wsConn struct {
	opts ClientOptions

	mu       stdsync.Mutex
	closed   bool
	channels map[string]*wsChannel
	stateFns []func(ConnectionEvent)
}

func (c *wsConn) OnStateChange(fn func(ConnectionEvent)) {
	c.mu.Lock()
	c.stateFns = append(c.stateFns, fn)
	c.mu.Unlock()
}

func (c *wsConn) Channel(name string) Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channels == nil {
		c.channels = make(map[string]*wsChannel)
	}
	if ch, ok := c.channels[name]; ok {
		return ch
	}
	ch := &wsChannel{
		conn:     c,
		room:     name,
		state:    ChannelDetached,
		handlers: make(map[string]func([]byte)),
	}
	c.channels[name] = ch
	return ch
}

func (c *wsConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	channels := make([]*wsChannel, 0, len(c.channels))
	for _, ch := range c.channels {
		channels = append(channels, ch)
	}
	c.mu.Unlock()
	for _, ch := range channels {
		ch.close(websocket.StatusNormalClosure, "")
	}
	return nil
}

func (c *wsConn) notify(ev ConnectionEvent) {
	c.mu.Lock()
	fns := append([]func(ConnectionEvent){}, c.stateFns...)
	c.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

type wsChannel struct {
	conn *wsConn
	room string

	mu         stdsync.Mutex
	ws         *websocket.Conn
	state      ChannelState
	handlers   map[string]func([]byte)
	stateFns   []func(ChannelState)
	presenceFn func()
	members    []Member
}

func (ch *wsChannel) dialURL() (string, error) {
	u, err := url.Parse(ch.conn.opts.URL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("room", ch.room)
	q.Set("client", ch.conn.opts.ClientID)
	q.Set("key", ch.conn.opts.Key)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (ch *wsChannel) Attach(ctx context.Context) error {
	ch.mu.Lock()
	if ch.state == ChannelAttached {
		ch.mu.Unlock()
		return nil
	}
	ch.state = ChannelAttaching
	ch.mu.Unlock()
	ch.notifyState(ChannelAttaching)

	target, err := ch.dialURL()
	if err != nil {
		ch.fail()
		return fmt.Errorf("relay url: %w", err)
	}
	ws, _, err := websocket.Dial(ctx, target, nil)
	if err != nil {
		ch.fail()
		return fmt.Errorf("dial relay: %w", err)
	}

	ch.mu.Lock()
	ch.ws = ws
	ch.state = ChannelAttached
	ch.mu.Unlock()
	ch.notifyState(ChannelAttached)

	go ch.readLoop(ws)
	return nil
}

func (ch *wsChannel) fail() {
	ch.mu.Lock()
	ch.state = ChannelFailed
	ch.mu.Unlock()
	ch.notifyState(ChannelFailed)
}

func (ch *wsChannel) notifyState(st ChannelState) {
	ch.mu.Lock()
	fns := append([]func(ChannelState){}, ch.stateFns...)
	ch.mu.Unlock()
	for _, fn := range fns {
		fn(st)
	}
}

func (ch *wsChannel) State() ChannelState {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.state
}

func (ch *wsChannel) OnStateChange(fn func(ChannelState)) {
	ch.mu.Lock()
	ch.stateFns = append(ch.stateFns, fn)
	ch.mu.Unlock()
}

func (ch *wsChannel) send(ctx context.Context, env envelope) error {
	ch.mu.Lock()
	ws := ch.ws
	attached := ch.state == ChannelAttached
	ch.mu.Unlock()
	if !attached || ws == nil {
		return errDetached
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return ws.Write(wctx, websocket.MessageText, data)
}

func (ch *wsChannel) Publish(ctx context.Context, topic string, data []byte) error {
	return ch.send(ctx, envelope{
		Action:   actionPublish,
		Topic:    topic,
		Data:     json.RawMessage(data),
		ClientID: ch.conn.opts.ClientID,
	})
}

func (ch *wsChannel) Subscribe(topic string, handler func(data []byte)) {
	ch.mu.Lock()
	ch.handlers[topic] = handler
	ch.mu.Unlock()
}

func (ch *wsChannel) Unsubscribe() {
	ch.mu.Lock()
	ch.handlers = make(map[string]func([]byte))
	ch.mu.Unlock()
	ch.close(websocket.StatusNormalClosure, "")
}

func (ch *wsChannel) close(code websocket.StatusCode, reason string) {
	ch.mu.Lock()
	ws := ch.ws
	ch.ws = nil
	already := ch.state == ChannelDetached
	ch.state = ChannelDetached
	ch.mu.Unlock()
	if ws != nil {
		_ = ws.Close(code, reason)
	}
	if !already {
		ch.notifyState(ChannelDetached)
	}
}

func (ch *wsChannel) readLoop(ws *websocket.Conn) {
	for {
		_, data, err := ws.Read(context.Background())
		if err != nil {
			ch.mu.Lock()
			stale := ch.ws != ws
			ch.mu.Unlock()
			if !stale {
				ch.close(websocket.StatusNormalClosure, "")
				ch.conn.notify(EventDisconnected)
			}
			return
		}
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		ch.dispatch(env)
	}
}

func (ch *wsChannel) dispatch(env envelope) {
	switch env.Action {
	case actionMessage:
		ch.mu.Lock()
		handler := ch.handlers[env.Topic]
		ch.mu.Unlock()
		if handler != nil {
			handler([]byte(env.Data))
		}
	case actionPresence:
		members := make([]Member, 0, len(env.Members))
		for _, m := range env.Members {
			members = append(members, Member{ClientID: m.ClientID, Data: []byte(m.Data)})
		}
		ch.mu.Lock()
		ch.members = members
		fn := ch.presenceFn
		ch.mu.Unlock()
		if fn != nil {
			fn()
		}
	}
}

func (ch *wsChannel) Presence() Presence {
	return &wsPresence{ch: ch}
}

type wsPresence struct {
	ch *wsChannel
}

func (p *wsPresence) Enter(ctx context.Context, data []byte) error {
	return p.ch.send(ctx, envelope{
		Action:   actionEnter,
		Data:     json.RawMessage(data),
		ClientID: p.ch.conn.opts.ClientID,
	})
}

func (p *wsPresence) Leave(ctx context.Context) error {
	err := p.ch.send(ctx, envelope{
		Action:   actionLeave,
		ClientID: p.ch.conn.opts.ClientID,
	})
	if err == errDetached {
		return nil
	}
	return err
}

func (p *wsPresence) Subscribe(fn func()) {
	p.ch.mu.Lock()
	p.ch.presenceFn = fn
	p.ch.mu.Unlock()
}

// Get returns the member list from the latest presence frame. The relay
// pushes a fresh frame on every join and leave, so the cache tracks the
// room without a round trip.
func (p *wsPresence) Get(_ context.Context) ([]Member, error) {
	p.ch.mu.Lock()
	defer p.ch.mu.Unlock()
	out := make([]Member, len(p.ch.members))
	copy(out, p.ch.members)
	return out, nil
}
