package sync

import "context"

// The transport is treated as a black-box pub/sub primitive: connections
// with lifecycle events, named channels with publish/subscribe, and presence
// membership per channel. The in-process hub in memory.go and the websocket
// client in wstransport.go both satisfy these interfaces.

// ConnectionEvent reports a transport connection transition.
type ConnectionEvent string

const (
	EventConnecting   ConnectionEvent = "connecting"
	EventConnected    ConnectionEvent = "connected"
	EventDisconnected ConnectionEvent = "disconnected"
	EventFailed       ConnectionEvent = "failed"
)

// ChannelState reports the attach lifecycle of one channel.
type ChannelState string

const (
	ChannelAttaching ChannelState = "attaching"
	ChannelAttached  ChannelState = "attached"
	ChannelFailed    ChannelState = "failed"
	ChannelDetached  ChannelState = "detached"
)

// ClientOptions identifies a client to the transport.
type ClientOptions struct {
	URL      string
	Key      string
	ClientID string
}

// Transport establishes connections. Connect blocks until the connection is
// usable or fails; the adapter always calls it off the caller's goroutine.
type Transport interface {
	Connect(ctx context.Context, opts ClientOptions) (Connection, error)
}

// Connection is one established client connection.
type Connection interface {
	// OnStateChange registers a callback for transitions after the initial
	// successful connect. Callbacks may fire on transport goroutines.
	OnStateChange(fn func(ConnectionEvent))
	// Channel returns the named channel, creating its local handle if needed.
	Channel(name string) Channel
	// Close tears the connection down. Safe to call more than once.
	Close() error
}

// Channel is a named pub/sub stream with presence.
type Channel interface {
	// Attach makes the channel ready for publishing. Messages published
	// before the attached state are dropped by the transport, which is why
	// the adapter gates on State.
	Attach(ctx context.Context) error
	State() ChannelState
	OnStateChange(fn func(ChannelState))
	Publish(ctx context.Context, topic string, data []byte) error
	Subscribe(topic string, handler func(data []byte))
	Unsubscribe()
	Presence() Presence
}

// Member is one present client on a channel.
type Member struct {
	ClientID string
	Data     []byte
}

// Presence tracks channel membership.
type Presence interface {
	Enter(ctx context.Context, data []byte) error
	Leave(ctx context.Context) error
	// Subscribe registers a callback invoked on every membership change.
	// Handlers re-fetch the full member list instead of diffing events.
	Subscribe(fn func())
	Get(ctx context.Context) ([]Member, error)
}
