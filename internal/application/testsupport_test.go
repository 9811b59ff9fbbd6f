package application

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"
)

// memStore is an in-memory StateStore for service tests.
type memStore struct {
	settings *Settings
	schedule Schedule
	cellTags CellTags
	flexible FlexibleShifts
	view     *ViewState
	auth     *bool
}

func (m *memStore) LoadSettings(_ context.Context, def Settings) Settings {
	if m.settings == nil {
		return def
	}
	return m.settings.Clone()
}

func (m *memStore) SaveSettings(_ context.Context, settings Settings) error {
	clone := settings.Clone()
	m.settings = &clone
	return nil
}

func (m *memStore) LoadSchedule(_ context.Context) Schedule {
	if m.schedule == nil {
		return Schedule{}
	}
	return m.schedule.Clone()
}

func (m *memStore) SaveSchedule(_ context.Context, schedule Schedule) error {
	m.schedule = schedule.Clone()
	return nil
}

func (m *memStore) LoadCellTags(_ context.Context) CellTags {
	if m.cellTags == nil {
		return CellTags{}
	}
	return m.cellTags.Clone()
}

func (m *memStore) SaveCellTags(_ context.Context, tags CellTags) error {
	m.cellTags = tags.Clone()
	return nil
}

func (m *memStore) LoadFlexibleShifts(_ context.Context) FlexibleShifts {
	if m.flexible == nil {
		return FlexibleShifts{}
	}
	return m.flexible.Clone()
}

func (m *memStore) SaveFlexibleShifts(_ context.Context, shifts FlexibleShifts) error {
	m.flexible = shifts.Clone()
	return nil
}

func (m *memStore) LoadViewState(_ context.Context, def ViewState) ViewState {
	if m.view == nil {
		return def
	}
	return *m.view
}

func (m *memStore) SaveViewState(_ context.Context, view ViewState) error {
	clone := view
	m.view = &clone
	return nil
}

func (m *memStore) LoadAuthenticated(_ context.Context, def bool) bool {
	if m.auth == nil {
		return def
	}
	return *m.auth
}

func (m *memStore) SaveAuthenticated(_ context.Context, authenticated bool) error {
	clone := authenticated
	m.auth = &clone
	return nil
}

// recordingPublisher captures everything the service broadcasts.
type recordingPublisher struct {
	schedules  []Schedule
	cellTags   []CellTags
	settings   []SettingsPatch
	authStates []bool
	pushes     []string
}

func (p *recordingPublisher) PublishScheduleUpdate(_ context.Context, schedule Schedule) {
	p.schedules = append(p.schedules, schedule)
}

func (p *recordingPublisher) PublishCellTagsUpdate(_ context.Context, tags CellTags) {
	p.cellTags = append(p.cellTags, tags)
}

func (p *recordingPublisher) PublishSettingsUpdate(_ context.Context, patch SettingsPatch) {
	p.settings = append(p.settings, patch)
}

func (p *recordingPublisher) PublishAuthState(_ context.Context, authenticated bool, _ []Admin) {
	p.authStates = append(p.authStates, authenticated)
}

func (p *recordingPublisher) SendPushNotification(_ context.Context, title, _ string) {
	p.pushes = append(p.pushes, title)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(t *testing.T, store *memStore, now func() time.Time) *PlannerService {
	t.Helper()
	if store == nil {
		store = &memStore{}
	}
	if now == nil {
		now = func() time.Time {
			return time.Date(2024, time.January, 1, 12, 0, 0, 0, time.UTC)
		}
	}
	return NewPlannerService(context.Background(), store, now, quietLogger())
}

// serviceOnWeek returns a service whose view window starts at the given
// Monday, keeping composite keys deterministic.
func serviceOnWeek(t *testing.T, store *memStore, startDate string) *PlannerService {
	t.Helper()
	svc := newTestService(t, store, nil)
	svc.SetStartDate(context.Background(), startDate)
	return svc
}
