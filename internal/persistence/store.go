// Package persistence defines the durable key-value layer the planner writes
// through on every state change. Values are JSON documents; a missing or
// corrupted value always falls back to the caller supplied default so a
// damaged store never takes the application down.
package persistence

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/surnin/schedule-planner/internal/application"
)

// Storage keys. They deliberately keep the names the browser build used for
// its localStorage entries so exported state stays recognizable.
const (
	KeySettings       = "schedule-planner-settings"
	KeySchedule       = "schedule-planner-data"
	KeyCellTags       = "schedule-planner-tags"
	KeyFlexibleShifts = "schedule-planner-flexible-shifts"
	KeyViewState      = "schedule-planner-view-state"
	KeyAuthenticated  = "schedule-planner-auth"
)

// KV is the minimal durable contract the state store needs.
type KV interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
}

// StateStore wraps a KV with the typed load-on-init / write-through
// operations the services use. Load methods never fail: storage and parse
// errors are logged and the provided default is returned.
type StateStore struct {
	kv     KV
	logger *slog.Logger
}

// NewStateStore wires a typed store over the given KV.
func NewStateStore(kv KV, logger *slog.Logger) *StateStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &StateStore{kv: kv, logger: logger}
}

func load[T any](s *StateStore, ctx context.Context, key string, def T) T {
	raw, ok, err := s.kv.Get(ctx, key)
	if err != nil {
		s.logger.WarnContext(ctx, "state load failed, using default", "key", key, "error", err)
		return def
	}
	if !ok || raw == "" {
		return def
	}
	var decoded T
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		s.logger.WarnContext(ctx, "state parse failed, using default", "key", key, "error", err)
		return def
	}
	return decoded
}

func save[T any](s *StateStore, ctx context.Context, key string, value T) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.kv.Set(ctx, key, string(raw))
}

func (s *StateStore) LoadSettings(ctx context.Context, def application.Settings) application.Settings {
	return load(s, ctx, KeySettings, def)
}

func (s *StateStore) SaveSettings(ctx context.Context, settings application.Settings) error {
	return save(s, ctx, KeySettings, settings)
}

func (s *StateStore) LoadSchedule(ctx context.Context) application.Schedule {
	return load(s, ctx, KeySchedule, application.Schedule{})
}

func (s *StateStore) SaveSchedule(ctx context.Context, schedule application.Schedule) error {
	return save(s, ctx, KeySchedule, schedule)
}

func (s *StateStore) LoadCellTags(ctx context.Context) application.CellTags {
	return load(s, ctx, KeyCellTags, application.CellTags{})
}

func (s *StateStore) SaveCellTags(ctx context.Context, tags application.CellTags) error {
	return save(s, ctx, KeyCellTags, tags)
}

func (s *StateStore) LoadFlexibleShifts(ctx context.Context) application.FlexibleShifts {
	return load(s, ctx, KeyFlexibleShifts, application.FlexibleShifts{})
}

func (s *StateStore) SaveFlexibleShifts(ctx context.Context, shifts application.FlexibleShifts) error {
	return save(s, ctx, KeyFlexibleShifts, shifts)
}

func (s *StateStore) LoadViewState(ctx context.Context, def application.ViewState) application.ViewState {
	return load(s, ctx, KeyViewState, def)
}

func (s *StateStore) SaveViewState(ctx context.Context, view application.ViewState) error {
	return save(s, ctx, KeyViewState, view)
}

func (s *StateStore) LoadAuthenticated(ctx context.Context, def bool) bool {
	return load(s, ctx, KeyAuthenticated, def)
}

func (s *StateStore) SaveAuthenticated(ctx context.Context, authenticated bool) error {
	return save(s, ctx, KeyAuthenticated, authenticated)
}

// MemoryKV is an in-process KV used by tests and by replicas that opt out of
// durability.
type MemoryKV struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryKV returns an empty in-memory KV.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{values: make(map[string]string)}
}

func (m *MemoryKV) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.values[key]
	return value, ok, nil
}

func (m *MemoryKV) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}
