package sync

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	stdsync "sync"
	"testing"
	"time"

	"github.com/surnin/schedule-planner/internal/application"
)

// reconcilerStub records every accepted remote update.
type reconcilerStub struct {
	mu        stdsync.Mutex
	schedules []application.Schedule
	patches   []application.SettingsPatch
	cellTags  []application.CellTags
	auth      []bool
	snapshots []application.Snapshot

	snapshot  application.Snapshot
	isDefault bool
}

func (r *reconcilerStub) ApplySchedule(_ context.Context, schedule application.Schedule) {
	r.mu.Lock()
	r.schedules = append(r.schedules, schedule)
	r.mu.Unlock()
}

func (r *reconcilerStub) ApplySettingsPatch(_ context.Context, patch application.SettingsPatch) {
	r.mu.Lock()
	r.patches = append(r.patches, patch)
	r.mu.Unlock()
}

func (r *reconcilerStub) ApplyCellTags(_ context.Context, tags application.CellTags) {
	r.mu.Lock()
	r.cellTags = append(r.cellTags, tags)
	r.mu.Unlock()
}

func (r *reconcilerStub) ApplyAuthState(_ context.Context, authenticated bool, _ []application.Admin) {
	r.mu.Lock()
	r.auth = append(r.auth, authenticated)
	r.mu.Unlock()
}

func (r *reconcilerStub) ApplySnapshot(_ context.Context, snapshot application.Snapshot) {
	r.mu.Lock()
	r.snapshots = append(r.snapshots, snapshot)
	r.isDefault = false
	r.mu.Unlock()
}

func (r *reconcilerStub) SnapshotState() application.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot
}

func (r *reconcilerStub) IsLocalDataDefault() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.isDefault
}

func (r *reconcilerStub) scheduleCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.schedules)
}

func (r *reconcilerStub) lastSchedule() application.Schedule {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.schedules) == 0 {
		return nil
	}
	return r.schedules[len(r.schedules)-1]
}

func (r *reconcilerStub) snapshotCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snapshots)
}

// testClock is a mutable time source for stamping outbound messages.
type testClock struct {
	mu  stdsync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, time.January, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func testConfig() Config {
	return Config{APIKey: "key", RoomID: "room-1", Enabled: true}
}

func newTestAdapter(t *testing.T, hub *MemoryHub, name string, rec Reconciler) *Adapter {
	t.Helper()
	return New(Options{
		Transport:   hub,
		Reconciler:  rec,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		ClientID:    func() string { return "user-" + name },
		DisplayName: func() string { return name },
		SettleDelay: time.Hour, // bootstrap requests are sent explicitly in tests
	})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func connect(t *testing.T, a *Adapter) {
	t.Helper()
	a.Connect(context.Background(), testConfig())
	waitFor(t, "adapter connected", func() bool {
		return a.State() == application.ConnectionConnected
	})
}

// rawPeer joins the room directly through the hub so tests can publish
// frames with hand-built stamps.
func rawPeer(t *testing.T, hub *MemoryHub, clientID string) Channel {
	t.Helper()
	conn, err := hub.Connect(context.Background(), ClientOptions{ClientID: clientID})
	if err != nil {
		t.Fatalf("hub connect: %v", err)
	}
	ch := conn.Channel("room-1")
	if err := ch.Attach(context.Background()); err != nil {
		t.Fatalf("attach: %v", err)
	}
	return ch
}

func publishSchedule(t *testing.T, ch Channel, userID string, ts time.Time, schedule application.Schedule) {
	t.Helper()
	payload, err := json.Marshal(SchedulePayload{
		Schedule: schedule,
		Stamp:    Stamp{Timestamp: ts.UTC().Format(time.RFC3339Nano), UserID: userID},
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := ch.Publish(context.Background(), TopicScheduleUpdate, payload); err != nil {
		t.Fatalf("publish: %v", err)
	}
}

func TestAdapter_SelfEchoSuppression(t *testing.T) {
	t.Parallel()

	hub := NewMemoryHub()
	recA, recB := &reconcilerStub{}, &reconcilerStub{}
	a := newTestAdapter(t, hub, "a", recA)
	b := newTestAdapter(t, hub, "b", recB)
	connect(t, a)
	connect(t, b)

	a.PublishScheduleUpdate(context.Background(), application.Schedule{"Alice-2024-01-01": "morning"})

	waitFor(t, "peer applies the schedule", func() bool { return recB.scheduleCount() == 1 })
	if recA.scheduleCount() != 0 {
		t.Fatal("expected the publisher to drop its own echo")
	}
	if got := recB.lastSchedule()["Alice-2024-01-01"]; got != "morning" {
		t.Fatalf("unexpected schedule at peer: %v", recB.lastSchedule())
	}
}

func TestAdapter_LastWriteWins(t *testing.T) {
	t.Parallel()

	base := time.Date(2024, time.January, 1, 12, 0, 0, 0, time.UTC)

	t.Run("strictly newer timestamps apply in order", func(t *testing.T) {
		t.Parallel()
		hub := NewMemoryHub()
		rec := &reconcilerStub{}
		a := newTestAdapter(t, hub, "a", rec)
		connect(t, a)
		peer := rawPeer(t, hub, "rogue")

		publishSchedule(t, peer, "rogue", base.Add(time.Second), application.Schedule{"k": "v1"})
		publishSchedule(t, peer, "rogue", base.Add(2*time.Second), application.Schedule{"k": "v2"})
		waitFor(t, "two applies", func() bool { return rec.scheduleCount() == 2 })
		if got := rec.lastSchedule()["k"]; got != "v2" {
			t.Fatalf("expected v2 last, got %q", got)
		}
	})

	t.Run("equal timestamp replay is dropped", func(t *testing.T) {
		t.Parallel()
		hub := NewMemoryHub()
		rec := &reconcilerStub{}
		a := newTestAdapter(t, hub, "a", rec)
		connect(t, a)
		peer := rawPeer(t, hub, "rogue")

		ts := base.Add(100 * time.Second)
		publishSchedule(t, peer, "rogue", ts, application.Schedule{"k": "first"})
		waitFor(t, "first apply", func() bool { return rec.scheduleCount() == 1 })

		publishSchedule(t, peer, "rogue", ts, application.Schedule{"k": "replay"})
		publishSchedule(t, peer, "rogue", base.Add(99*time.Second), application.Schedule{"k": "stale"})
		// A strictly newer message still gets through afterwards.
		publishSchedule(t, peer, "rogue", ts.Add(time.Nanosecond), application.Schedule{"k": "newer"})

		waitFor(t, "newer apply", func() bool { return rec.scheduleCount() == 2 })
		if got := rec.lastSchedule()["k"]; got != "newer" {
			t.Fatalf("expected equal and older drops, got %q", got)
		}
	})

	t.Run("own publish advances the watermark", func(t *testing.T) {
		t.Parallel()
		hub := NewMemoryHub()
		rec := &reconcilerStub{}
		clock := newTestClock()
		a := New(Options{
			Transport:   hub,
			Reconciler:  rec,
			Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
			Now:         clock.Now,
			ClientID:    func() string { return "user-a" },
			DisplayName: func() string { return "a" },
			SettleDelay: time.Hour,
		})
		connect(t, a)
		peer := rawPeer(t, hub, "rogue")

		clock.Set(base.Add(100 * time.Second))
		a.PublishScheduleUpdate(context.Background(), application.Schedule{"k": "mine"})

		// A delayed foreign message stamped no later than our own write
		// must not overwrite it.
		publishSchedule(t, peer, "rogue", base.Add(100*time.Second), application.Schedule{"k": "tie"})
		publishSchedule(t, peer, "rogue", base.Add(50*time.Second), application.Schedule{"k": "old"})
		if rec.scheduleCount() != 0 {
			t.Fatalf("expected stale foreign writes dropped, got %v", rec.lastSchedule())
		}

		publishSchedule(t, peer, "rogue", base.Add(101*time.Second), application.Schedule{"k": "fresh"})
		waitFor(t, "fresh apply", func() bool { return rec.scheduleCount() == 1 })
	})

	t.Run("independent streams keep independent watermarks", func(t *testing.T) {
		t.Parallel()
		hub := NewMemoryHub()
		rec := &reconcilerStub{}
		a := newTestAdapter(t, hub, "a", rec)
		connect(t, a)
		peer := rawPeer(t, hub, "rogue")

		publishSchedule(t, peer, "rogue", base.Add(10*time.Second), application.Schedule{"k": "v"})
		waitFor(t, "schedule apply", func() bool { return rec.scheduleCount() == 1 })

		// Cell tags stamped earlier than the schedule watermark still apply.
		payload, _ := json.Marshal(CellTagsPayload{
			CellTags: application.CellTags{"k": {"important"}},
			Stamp:    Stamp{Timestamp: base.Add(5 * time.Second).UTC().Format(time.RFC3339Nano), UserID: "rogue"},
		})
		if err := peer.Publish(context.Background(), TopicCellTagsUpdate, payload); err != nil {
			t.Fatalf("publish tags: %v", err)
		}
		waitFor(t, "tags apply", func() bool {
			rec.mu.Lock()
			defer rec.mu.Unlock()
			return len(rec.cellTags) == 1
		})
	})

	t.Run("unparseable timestamp is dropped", func(t *testing.T) {
		t.Parallel()
		hub := NewMemoryHub()
		rec := &reconcilerStub{}
		a := newTestAdapter(t, hub, "a", rec)
		connect(t, a)
		peer := rawPeer(t, hub, "rogue")

		payload, _ := json.Marshal(SchedulePayload{
			Schedule: application.Schedule{"k": "v"},
			Stamp:    Stamp{Timestamp: "yesterday", UserID: "rogue"},
		})
		if err := peer.Publish(context.Background(), TopicScheduleUpdate, payload); err != nil {
			t.Fatalf("publish: %v", err)
		}
		publishSchedule(t, peer, "rogue", base, application.Schedule{"k": "ok"})
		waitFor(t, "valid apply", func() bool { return rec.scheduleCount() == 1 })
		if got := rec.lastSchedule()["k"]; got != "ok" {
			t.Fatalf("expected only the valid message, got %q", got)
		}
	})
}

func TestAdapter_PublishGating(t *testing.T) {
	t.Parallel()

	t.Run("disabled config never connects", func(t *testing.T) {
		t.Parallel()
		hub := NewMemoryHub()
		a := newTestAdapter(t, hub, "a", &reconcilerStub{})

		a.Connect(context.Background(), Config{APIKey: "key", RoomID: "room-1", Enabled: false})
		if a.State() != application.ConnectionDisconnected {
			t.Fatalf("expected disconnected, got %s", a.State())
		}
		// Publishing while disconnected is a silent no-op.
		a.PublishScheduleUpdate(context.Background(), application.Schedule{"k": "v"})
	})

	t.Run("blank key or room is sync off", func(t *testing.T) {
		t.Parallel()
		hub := NewMemoryHub()
		a := newTestAdapter(t, hub, "a", &reconcilerStub{})

		a.Connect(context.Background(), Config{APIKey: "  ", RoomID: "room-1", Enabled: true})
		if a.State() != application.ConnectionDisconnected {
			t.Fatalf("expected disconnected, got %s", a.State())
		}
	})

	t.Run("reconnect with the same config is a no-op", func(t *testing.T) {
		t.Parallel()
		hub := NewMemoryHub()
		a := newTestAdapter(t, hub, "a", &reconcilerStub{})
		connect(t, a)
		id := a.ClientID()

		a.Connect(context.Background(), testConfig())
		if a.ClientID() != id {
			t.Fatal("expected the existing connection to be kept")
		}
	})
}

func TestAdapter_Bootstrap(t *testing.T) {
	t.Parallel()

	donorSnapshot := application.Snapshot{
		Settings: application.DefaultSettings(),
		Schedule: application.Schedule{"Ильвина-2024-01-01": "night"},
		CellTags: application.CellTags{"Ильвина-2024-01-01": {"overtime"}},
	}

	t.Run("fresh client adopts a populated peer's snapshot", func(t *testing.T) {
		t.Parallel()
		hub := NewMemoryHub()
		fresh := &reconcilerStub{isDefault: true}
		populated := &reconcilerStub{isDefault: false, snapshot: donorSnapshot}
		c := newTestAdapter(t, hub, "c", fresh)
		d := newTestAdapter(t, hub, "d", populated)
		connect(t, c)
		connect(t, d)

		c.RequestExistingData(context.Background())

		waitFor(t, "snapshot adopted", func() bool { return fresh.snapshotCount() == 1 })
		fresh.mu.Lock()
		got := fresh.snapshots[0]
		fresh.mu.Unlock()
		if got.Schedule["Ильвина-2024-01-01"] != "night" {
			t.Fatalf("unexpected snapshot %v", got.Schedule)
		}
		// The responder never adopts anything itself.
		if populated.snapshotCount() != 0 {
			t.Fatal("expected the donor to keep its own data")
		}
	})

	t.Run("populated client refuses a snapshot", func(t *testing.T) {
		t.Parallel()
		hub := NewMemoryHub()
		populated := &reconcilerStub{isDefault: false}
		donor := &reconcilerStub{isDefault: false, snapshot: donorSnapshot}
		c := newTestAdapter(t, hub, "c", populated)
		d := newTestAdapter(t, hub, "d", donor)
		connect(t, c)
		connect(t, d)

		c.RequestExistingData(context.Background())

		// The data-response arrives synchronously on the memory hub, so the
		// absence of an adoption is immediately observable.
		if populated.snapshotCount() != 0 {
			t.Fatal("expected populated client to refuse the snapshot")
		}
	})

	t.Run("attach fires the data request after the settle delay", func(t *testing.T) {
		t.Parallel()
		hub := NewMemoryHub()
		fresh := &reconcilerStub{isDefault: true}
		donor := &reconcilerStub{isDefault: false, snapshot: donorSnapshot}
		d := newTestAdapter(t, hub, "d", donor)
		connect(t, d)

		c := New(Options{
			Transport:   hub,
			Reconciler:  fresh,
			Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
			ClientID:    func() string { return "user-c" },
			DisplayName: func() string { return "c" },
			SettleDelay: 10 * time.Millisecond,
		})
		connect(t, c)

		waitFor(t, "automatic bootstrap", func() bool { return fresh.snapshotCount() == 1 })
	})
}

func TestAdapter_Presence(t *testing.T) {
	t.Parallel()

	hub := NewMemoryHub()
	a := newTestAdapter(t, hub, "Аня", &reconcilerStub{})
	b := newTestAdapter(t, hub, "Боря", &reconcilerStub{})
	connect(t, a)
	connect(t, b)

	waitFor(t, "both members visible", func() bool { return len(a.OnlineUsers()) == 2 })
	users := a.OnlineUsers()
	if users[0] != "Аня" || users[1] != "Боря" {
		t.Fatalf("unexpected member list %v", users)
	}

	b.Disconnect(context.Background())
	waitFor(t, "member left", func() bool { return len(a.OnlineUsers()) == 1 })
	if got := a.OnlineUsers(); got[0] != "Аня" {
		t.Fatalf("unexpected member list after leave %v", got)
	}
}

func TestAdapter_Disconnect(t *testing.T) {
	t.Parallel()

	hub := NewMemoryHub()
	rec := &reconcilerStub{}
	a := newTestAdapter(t, hub, "a", rec)
	connect(t, a)
	peer := rawPeer(t, hub, "rogue")

	a.Disconnect(context.Background())
	a.Disconnect(context.Background()) // idempotent

	if a.State() != application.ConnectionDisconnected {
		t.Fatalf("expected disconnected, got %s", a.State())
	}
	if a.ClientID() != "" {
		t.Fatal("expected identity cleared")
	}

	// Messages published after the disconnect never reach the reconciler.
	publishSchedule(t, peer, "rogue", time.Now(), application.Schedule{"k": "v"})
	if rec.scheduleCount() != 0 {
		t.Fatal("expected no applies after disconnect")
	}

	// Reconnecting with the same config works because Disconnect resets it.
	connect(t, a)
	if a.ClientID() == "" {
		t.Fatal("expected a fresh identity after reconnect")
	}
}

func TestAdapter_AuthStateAndPush(t *testing.T) {
	t.Parallel()

	hub := NewMemoryHub()
	recA, recB := &reconcilerStub{}, &reconcilerStub{}
	a := newTestAdapter(t, hub, "a", recA)
	b := newTestAdapter(t, hub, "b", recB)

	var pushMu stdsync.Mutex
	var pushes []string
	b.SetOnPush(func(title, _ string) {
		pushMu.Lock()
		pushes = append(pushes, title)
		pushMu.Unlock()
	})

	connect(t, a)
	connect(t, b)

	a.PublishAuthState(context.Background(), false, []application.Admin{{Name: "Admin", Password: "5521"}})
	waitFor(t, "auth state applied", func() bool {
		recB.mu.Lock()
		defer recB.mu.Unlock()
		return len(recB.auth) == 1 && !recB.auth[0]
	})
	recA.mu.Lock()
	selfApplied := len(recA.auth)
	recA.mu.Unlock()
	if selfApplied != 0 {
		t.Fatal("expected auth self-echo dropped")
	}

	a.SendPushNotification(context.Background(), "Расписание обновлено!", "Изменения опубликованы.")
	waitFor(t, "push delivered", func() bool {
		pushMu.Lock()
		defer pushMu.Unlock()
		return len(pushes) == 1 && pushes[0] == "Расписание обновлено!"
	})
}
