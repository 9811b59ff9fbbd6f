package testfixtures

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/surnin/schedule-planner/internal/application"
	"github.com/surnin/schedule-planner/internal/persistence"
)

// QuietLogger returns a logger that discards everything. Tests that assert
// on behaviour rather than log output use it to keep go test silent.
func QuietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// SettingsOption customizes a settings fixture.
type SettingsOption func(*application.Settings)

// WithEmployees replaces the employee roster.
func WithEmployees(employees ...application.Employee) SettingsOption {
	return func(s *application.Settings) {
		s.Employees = employees
	}
}

// WithAdmins replaces the admin roster.
func WithAdmins(admins ...application.Admin) SettingsOption {
	return func(s *application.Settings) {
		s.Admins = admins
	}
}

// WithWebsocket enables the sync channel configuration.
func WithWebsocket(roomID, apiKey string) SettingsOption {
	return func(s *application.Settings) {
		s.Websocket = application.WebsocketConfig{
			RoomID:  roomID,
			APIKey:  apiKey,
			Enabled: true,
		}
	}
}

// NewSettingsFixture returns factory defaults with overrides applied.
func NewSettingsFixture(opts ...SettingsOption) application.Settings {
	settings := application.DefaultSettings()
	for _, opt := range opts {
		opt(&settings)
	}
	return settings
}

// NewPlannerService builds a service over an in-memory store, seeded with
// the supplied settings when non-nil.
func NewPlannerService(t *testing.T, clock *Clock, settings *application.Settings) *application.PlannerService {
	t.Helper()
	if clock == nil {
		clock = NewClock(time.Time{})
	}
	ctx := context.Background()
	store := persistence.NewStateStore(persistence.NewMemoryKV(), QuietLogger())
	if settings != nil {
		if err := store.SaveSettings(ctx, *settings); err != nil {
			t.Fatalf("seed settings: %v", err)
		}
	}
	return application.NewPlannerService(ctx, store, clock.NowFunc(), QuietLogger())
}

// PopulatedSchedule returns a small non-default schedule keyed by the
// default roster and the reference week.
func PopulatedSchedule() application.Schedule {
	return application.Schedule{
		"Ильвина-2024-01-01": "morning",
		"Ильвина-2024-01-02": "day",
		"Инесса-2024-01-01":  "night",
	}
}

// PopulatedCellTags returns cell tags matching PopulatedSchedule.
func PopulatedCellTags() application.CellTags {
	return application.CellTags{
		"Ильвина-2024-01-01": {"important"},
		"Инесса-2024-01-01":  {"training", "overtime"},
	}
}
