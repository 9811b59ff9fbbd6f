package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"strings"
	stdsync "sync"
	"time"

	"github.com/google/uuid"

	"github.com/surnin/schedule-planner/internal/application"
)

// DefaultSettleDelay is how long a freshly attached client waits before
// asking peers for existing data. The pause lets the subscription fan-out
// settle so the eventual data-response is not raced by the attach itself.
const DefaultSettleDelay = 1500 * time.Millisecond

// Reconciler is the inbound half of the sync channel: the adapter hands
// every accepted remote update to these methods. application.PlannerService
// satisfies the interface.
type Reconciler interface {
	ApplySchedule(ctx context.Context, schedule application.Schedule)
	ApplySettingsPatch(ctx context.Context, patch application.SettingsPatch)
	ApplyCellTags(ctx context.Context, tags application.CellTags)
	ApplyAuthState(ctx context.Context, authenticated bool, admins []application.Admin)
	ApplySnapshot(ctx context.Context, snapshot application.Snapshot)
	SnapshotState() application.Snapshot
	IsLocalDataDefault() bool
}

// Config selects the room one adapter participates in. Connect treats a
// disabled config or a blank key or room as "sync off" and stays quiet.
type Config struct {
	URL     string
	APIKey  string
	RoomID  string
	Enabled bool
}

func (c Config) normalized() Config {
	c.URL = strings.TrimSpace(c.URL)
	c.APIKey = strings.TrimSpace(c.APIKey)
	c.RoomID = strings.TrimSpace(c.RoomID)
	return c
}

func (c Config) usable() bool {
	return c.Enabled && c.APIKey != "" && c.RoomID != ""
}

// Options configures a new Adapter. Transport and Reconciler are required;
// everything else has a sensible default.
type Options struct {
	Transport   Transport
	Reconciler  Reconciler
	Logger      *slog.Logger
	Now         func() time.Time
	ClientID    func() string
	DisplayName func() string
	SettleDelay time.Duration
}

// Adapter connects the planner state to a shared room. It implements
// application.Publisher for the outbound direction and feeds inbound
// messages through the Reconciler. All exported methods are safe for
// concurrent use.
type Adapter struct {
	transport   Transport
	reconciler  Reconciler
	logger      *slog.Logger
	now         func() time.Time
	newClientID func() string
	newName     func() string
	settleDelay time.Duration

	mu          stdsync.Mutex
	generation  uint64
	cfg         Config
	state       application.ConnectionState
	conn        Connection
	channel     Channel
	presence    Presence
	clientID    string
	displayName string
	lastApplied map[string]time.Time
	online      []string
	settleTimer *time.Timer
	onPush      func(title, message string)
	onState     func(application.ConnectionState)
}

// New builds an adapter in the disconnected state.
func New(opts Options) *Adapter {
	if opts.Transport == nil {
		panic("sync: Transport is required")
	}
	if opts.Reconciler == nil {
		panic("sync: Reconciler is required")
	}
	a := &Adapter{
		transport:   opts.Transport,
		reconciler:  opts.Reconciler,
		logger:      opts.Logger,
		now:         opts.Now,
		newClientID: opts.ClientID,
		newName:     opts.DisplayName,
		settleDelay: opts.SettleDelay,
		state:       application.ConnectionDisconnected,
		lastApplied: make(map[string]time.Time),
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	if a.now == nil {
		a.now = time.Now
	}
	if a.newClientID == nil {
		a.newClientID = func() string {
			return "user-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
		}
	}
	if a.newName == nil {
		a.newName = func() string {
			return fmt.Sprintf("Пользователь %d", rand.Intn(1000))
		}
	}
	if a.settleDelay <= 0 {
		a.settleDelay = DefaultSettleDelay
	}
	return a
}

// SetOnPush registers a callback invoked for every remote push-notification.
func (a *Adapter) SetOnPush(fn func(title, message string)) {
	a.mu.Lock()
	a.onPush = fn
	a.mu.Unlock()
}

// SetOnStateChange registers a callback invoked on every connection state
// transition. The callback runs without the adapter lock held.
func (a *Adapter) SetOnStateChange(fn func(application.ConnectionState)) {
	a.mu.Lock()
	a.onState = fn
	a.mu.Unlock()
}

// State reports the current connection state.
func (a *Adapter) State() application.ConnectionState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// ClientID reports the identity the adapter stamps outbound messages with.
// Empty while disconnected.
func (a *Adapter) ClientID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.clientID
}

// OnlineUsers lists the display names currently present in the room,
// sorted for stable rendering.
func (a *Adapter) OnlineUsers() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.online))
	copy(out, a.online)
	return out
}

// Connect establishes the room connection described by cfg. Calling it again
// with the same config while connected or connecting is a no-op; a changed
// config or a failed state tears the old connection down and rebuilds. The
// handshake runs on a background goroutine, so Connect returns immediately.
func (a *Adapter) Connect(ctx context.Context, cfg Config) {
	cfg = cfg.normalized()
	if !cfg.usable() {
		a.logger.DebugContext(ctx, "sync disabled", slog.Bool("enabled", cfg.Enabled))
		return
	}
	a.mu.Lock()
	if a.cfg == cfg && (a.state == application.ConnectionConnected || a.state == application.ConnectionConnecting) {
		a.mu.Unlock()
		return
	}
	gen := a.invalidateLocked()
	conn, ch, timer := a.conn, a.channel, a.settleTimer
	a.conn, a.channel, a.presence, a.settleTimer = nil, nil, nil, nil
	a.cfg = cfg
	a.clientID = a.newClientID()
	a.displayName = a.newName()
	a.lastApplied = make(map[string]time.Time)
	a.online = nil
	a.setStateLocked(application.ConnectionConnecting)
	clientID := a.clientID
	a.mu.Unlock()

	a.teardown(conn, ch, timer)
	a.logger.InfoContext(ctx, "sync connecting",
		slog.String("room", cfg.RoomID), slog.String("client_id", clientID))
	go a.establish(gen, cfg)
}

// Disconnect leaves the room and tears the connection down. Idempotent.
func (a *Adapter) Disconnect(ctx context.Context) {
	a.mu.Lock()
	a.invalidateLocked()
	conn, ch, timer := a.conn, a.channel, a.settleTimer
	a.conn, a.channel, a.presence, a.settleTimer = nil, nil, nil, nil
	a.cfg = Config{}
	a.clientID = ""
	a.online = nil
	a.setStateLocked(application.ConnectionDisconnected)
	a.mu.Unlock()

	a.teardown(conn, ch, timer)
	a.logger.InfoContext(ctx, "sync disconnected")
}

// invalidateLocked bumps the generation so callbacks captured by an older
// connection become no-ops, and returns the new generation.
func (a *Adapter) invalidateLocked() uint64 {
	a.generation++
	return a.generation
}

func (a *Adapter) teardown(conn Connection, ch Channel, timer *time.Timer) {
	if timer != nil {
		timer.Stop()
	}
	if ch != nil {
		leaveCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := ch.Presence().Leave(leaveCtx); err != nil {
			a.logger.Debug("presence leave failed", slog.String("error", err.Error()))
		}
		cancel()
		ch.Unsubscribe()
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			a.logger.Debug("connection close failed", slog.String("error", err.Error()))
		}
	}
}

func (a *Adapter) setStateLocked(state application.ConnectionState) {
	if a.state == state {
		return
	}
	a.state = state
	if fn := a.onState; fn != nil {
		go fn(state)
	}
}

// current reports whether gen is still the live connection.
func (a *Adapter) current(gen uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.generation == gen
}

func (a *Adapter) establish(gen uint64, cfg Config) {
	ctx := context.Background()
	a.mu.Lock()
	clientID := a.clientID
	a.mu.Unlock()

	conn, err := a.transport.Connect(ctx, ClientOptions{URL: cfg.URL, Key: cfg.APIKey, ClientID: clientID})
	a.mu.Lock()
	if a.generation != gen {
		a.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		a.setStateLocked(application.ConnectionFailed)
		a.mu.Unlock()
		a.logger.Warn("sync connect failed", slog.String("error", err.Error()))
		return
	}
	a.conn = conn
	a.setStateLocked(application.ConnectionConnected)
	a.mu.Unlock()

	conn.OnStateChange(func(ev ConnectionEvent) {
		a.handleConnectionEvent(gen, ev)
	})

	ch := conn.Channel(cfg.RoomID)
	pr := ch.Presence()
	a.mu.Lock()
	if a.generation != gen {
		a.mu.Unlock()
		conn.Close()
		return
	}
	a.channel = ch
	a.presence = pr
	a.mu.Unlock()

	ch.OnStateChange(func(st ChannelState) {
		a.handleChannelState(gen, st)
	})
	a.subscribe(gen, ch)
	pr.Subscribe(func() {
		a.refreshPresence(gen, pr)
	})

	if err := ch.Attach(ctx); err != nil {
		a.logger.Warn("channel attach failed",
			slog.String("room", cfg.RoomID), slog.String("error", err.Error()))
		a.mu.Lock()
		if a.generation == gen {
			a.setStateLocked(application.ConnectionFailed)
		}
		a.mu.Unlock()
		return
	}
	if !a.current(gen) {
		return
	}

	a.mu.Lock()
	name := a.displayName
	a.mu.Unlock()
	data, _ := json.Marshal(PresenceData{
		Username: name,
		JoinedAt: a.now().UTC().Format(time.RFC3339Nano),
	})
	if err := pr.Enter(ctx, data); err != nil {
		a.logger.Debug("presence enter failed", slog.String("error", err.Error()))
	}
	a.refreshPresence(gen, pr)
	a.scheduleDataRequest(gen)
}

func (a *Adapter) handleConnectionEvent(gen uint64, ev ConnectionEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.generation != gen {
		return
	}
	switch ev {
	case EventConnected:
		a.setStateLocked(application.ConnectionConnected)
	case EventConnecting:
		a.setStateLocked(application.ConnectionConnecting)
	case EventDisconnected:
		a.setStateLocked(application.ConnectionDisconnected)
	case EventFailed:
		a.setStateLocked(application.ConnectionFailed)
	}
}

func (a *Adapter) handleChannelState(gen uint64, st ChannelState) {
	if !a.current(gen) {
		return
	}
	if st == ChannelFailed {
		a.logger.Warn("channel failed")
		a.mu.Lock()
		if a.generation == gen {
			a.setStateLocked(application.ConnectionFailed)
		}
		a.mu.Unlock()
	}
}

// scheduleDataRequest arms the one-shot bootstrap request fired a settle
// delay after attach.
func (a *Adapter) scheduleDataRequest(gen uint64) {
	a.mu.Lock()
	if a.generation != gen {
		a.mu.Unlock()
		return
	}
	if a.settleTimer != nil {
		a.settleTimer.Stop()
	}
	a.settleTimer = time.AfterFunc(a.settleDelay, func() {
		if !a.current(gen) {
			return
		}
		a.RequestExistingData(context.Background())
	})
	a.mu.Unlock()
}

// RequestExistingData asks attached peers to send their current state.
// Any populated peer answers with a data-response snapshot.
func (a *Adapter) RequestExistingData(ctx context.Context) {
	a.publish(ctx, TopicDataRequest, "", func(st Stamp) any {
		return DataRequestPayload{Type: "request_all_data", Stamp: st}
	})
}

// SendTestMessage publishes a round-trip probe into the room.
func (a *Adapter) SendTestMessage(ctx context.Context) {
	a.publish(ctx, TopicTestMessage, "", func(st Stamp) any {
		return TestPayload{Test: true, Stamp: st}
	})
}

// PublishScheduleUpdate broadcasts the full schedule map.
func (a *Adapter) PublishScheduleUpdate(ctx context.Context, schedule application.Schedule) {
	a.publish(ctx, TopicScheduleUpdate, streamSchedule, func(st Stamp) any {
		return SchedulePayload{Schedule: schedule, Stamp: st}
	})
}

// PublishCellTagsUpdate broadcasts the full cell tag map.
func (a *Adapter) PublishCellTagsUpdate(ctx context.Context, tags application.CellTags) {
	a.publish(ctx, TopicCellTagsUpdate, streamCellTags, func(st Stamp) any {
		return CellTagsPayload{CellTags: tags, Stamp: st}
	})
}

// PublishSettingsUpdate broadcasts a shared-settings patch.
func (a *Adapter) PublishSettingsUpdate(ctx context.Context, patch application.SettingsPatch) {
	a.publish(ctx, TopicSettingsUpdate, streamSettings, func(st Stamp) any {
		return SettingsPayload{Settings: patch, Stamp: st}
	})
}

// PublishAuthState broadcasts the lock state and admin roster.
func (a *Adapter) PublishAuthState(ctx context.Context, authenticated bool, admins []application.Admin) {
	a.publish(ctx, TopicAuthStateUpdate, "", func(st Stamp) any {
		return AuthStatePayload{IsAuthenticated: authenticated, Admins: admins, Stamp: st}
	})
}

// SendPushNotification broadcasts a notification to every room member.
func (a *Adapter) SendPushNotification(ctx context.Context, title, message string) {
	a.publish(ctx, TopicPushNotification, "", func(st Stamp) any {
		return PushPayload{Title: title, Message: message, Stamp: st}
	})
}

// publish stamps and sends one message. It silently drops the message when
// the connection is not both connected and attached; offline edits are
// already persisted locally and reconverge through the bootstrap exchange.
// For stream-tracked topics the local watermark advances to the outbound
// timestamp so a delayed echo can never be mistaken for newer remote state.
func (a *Adapter) publish(ctx context.Context, topic, stream string, body func(Stamp) any) {
	a.mu.Lock()
	ch := a.channel
	if a.state != application.ConnectionConnected || ch == nil || ch.State() != ChannelAttached {
		a.mu.Unlock()
		a.logger.DebugContext(ctx, "publish skipped, not attached", slog.String("topic", topic))
		return
	}
	ts := a.now().UTC()
	st := Stamp{Timestamp: ts.Format(time.RFC3339Nano), UserID: a.clientID}
	if stream != "" {
		a.lastApplied[stream] = ts
	}
	a.mu.Unlock()

	data, err := json.Marshal(body(st))
	if err != nil {
		a.logger.Warn("marshal outbound message failed",
			slog.String("topic", topic), slog.String("error", err.Error()))
		return
	}
	if err := ch.Publish(ctx, topic, data); err != nil {
		a.logger.Warn("publish failed",
			slog.String("topic", topic), slog.String("error", err.Error()))
		return
	}
	a.logger.DebugContext(ctx, "published", slog.String("topic", topic))
}

func (a *Adapter) subscribe(gen uint64, ch Channel) {
	ch.Subscribe(TopicScheduleUpdate, func(data []byte) {
		var p SchedulePayload
		if !a.decode(gen, TopicScheduleUpdate, data, &p, &p.Stamp) {
			return
		}
		if p.Schedule == nil || !a.advance(gen, streamSchedule, p.Timestamp) {
			return
		}
		a.reconciler.ApplySchedule(context.Background(), p.Schedule)
	})
	ch.Subscribe(TopicSettingsUpdate, func(data []byte) {
		var p SettingsPayload
		if !a.decode(gen, TopicSettingsUpdate, data, &p, &p.Stamp) {
			return
		}
		if !a.advance(gen, streamSettings, p.Timestamp) {
			return
		}
		a.reconciler.ApplySettingsPatch(context.Background(), p.Settings)
	})
	ch.Subscribe(TopicCellTagsUpdate, func(data []byte) {
		var p CellTagsPayload
		if !a.decode(gen, TopicCellTagsUpdate, data, &p, &p.Stamp) {
			return
		}
		if p.CellTags == nil || !a.advance(gen, streamCellTags, p.Timestamp) {
			return
		}
		a.reconciler.ApplyCellTags(context.Background(), p.CellTags)
	})
	ch.Subscribe(TopicAuthStateUpdate, func(data []byte) {
		var p AuthStatePayload
		if !a.decode(gen, TopicAuthStateUpdate, data, &p, &p.Stamp) {
			return
		}
		a.reconciler.ApplyAuthState(context.Background(), p.IsAuthenticated, p.Admins)
	})
	ch.Subscribe(TopicTestMessage, func(data []byte) {
		var p TestPayload
		if !a.decode(gen, TopicTestMessage, data, &p, &p.Stamp) {
			return
		}
		a.logger.Info("test message received", slog.String("from", p.UserID))
	})
	ch.Subscribe(TopicPushNotification, func(data []byte) {
		var p PushPayload
		if !a.decode(gen, TopicPushNotification, data, &p, &p.Stamp) {
			return
		}
		a.mu.Lock()
		fn := a.onPush
		a.mu.Unlock()
		if fn != nil {
			fn(p.Title, p.Message)
		}
	})
	ch.Subscribe(TopicDataRequest, func(data []byte) {
		var p DataRequestPayload
		if !a.decode(gen, TopicDataRequest, data, &p, &p.Stamp) {
			return
		}
		a.logger.Debug("data request received", slog.String("from", p.UserID))
		snapshot := a.reconciler.SnapshotState()
		a.publish(context.Background(), TopicDataResponse, "", func(st Stamp) any {
			return DataResponsePayload{Type: "all_data", Data: snapshot, Stamp: st}
		})
	})
	ch.Subscribe(TopicDataResponse, func(data []byte) {
		var p DataResponsePayload
		if !a.decode(gen, TopicDataResponse, data, &p, &p.Stamp) {
			return
		}
		// A populated client keeps its own state; only a client still on
		// factory defaults adopts the offered snapshot wholesale.
		if !a.reconciler.IsLocalDataDefault() {
			a.logger.Debug("data response ignored, local data present")
			return
		}
		ts, err := time.Parse(time.RFC3339Nano, p.Timestamp)
		if err != nil {
			return
		}
		a.mu.Lock()
		if a.generation != gen {
			a.mu.Unlock()
			return
		}
		a.lastApplied[streamSchedule] = ts
		a.lastApplied[streamSettings] = ts
		a.lastApplied[streamCellTags] = ts
		a.mu.Unlock()
		a.logger.Info("adopting snapshot from peer", slog.String("from", p.UserID))
		a.reconciler.ApplySnapshot(context.Background(), p.Data)
	})
}

// decode unmarshals an inbound message and drops it when it is stale, has
// no stamp, or the adapter published it itself.
func (a *Adapter) decode(gen uint64, topic string, data []byte, dst any, stamp *Stamp) bool {
	if err := json.Unmarshal(data, dst); err != nil {
		a.logger.Warn("drop malformed message",
			slog.String("topic", topic), slog.String("error", err.Error()))
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.generation != gen {
		return false
	}
	if stamp.UserID == "" || stamp.UserID == a.clientID {
		return false
	}
	return true
}

// advance applies the last-write-wins rule for one stream: only a strictly
// newer timestamp moves the watermark forward and lets the update through.
// Equal or older timestamps, and unparseable ones, are dropped.
func (a *Adapter) advance(gen uint64, stream, timestamp string) bool {
	ts, err := time.Parse(time.RFC3339Nano, timestamp)
	if err != nil {
		a.logger.Debug("drop message with bad timestamp",
			slog.String("stream", stream), slog.String("timestamp", timestamp))
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.generation != gen {
		return false
	}
	if last, ok := a.lastApplied[stream]; ok && !ts.After(last) {
		return false
	}
	a.lastApplied[stream] = ts
	return true
}

func (a *Adapter) refreshPresence(gen uint64, pr Presence) {
	if !a.current(gen) {
		return
	}
	members, err := pr.Get(context.Background())
	if err != nil {
		a.logger.Debug("presence get failed", slog.String("error", err.Error()))
		return
	}
	names := make([]string, 0, len(members))
	for _, m := range members {
		var d PresenceData
		if err := json.Unmarshal(m.Data, &d); err == nil && d.Username != "" {
			names = append(names, d.Username)
			continue
		}
		names = append(names, m.ClientID)
	}
	sort.Strings(names)
	a.mu.Lock()
	if a.generation == gen {
		a.online = names
	}
	a.mu.Unlock()
}
