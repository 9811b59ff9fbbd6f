package application

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// StateStore is the durable state boundary. Loads never fail: the
// persistence layer falls back to the supplied default and logs the cause.
// persistence.StateStore implements the interface.
type StateStore interface {
	LoadSettings(ctx context.Context, def Settings) Settings
	SaveSettings(ctx context.Context, settings Settings) error
	LoadSchedule(ctx context.Context) Schedule
	SaveSchedule(ctx context.Context, schedule Schedule) error
	LoadCellTags(ctx context.Context) CellTags
	SaveCellTags(ctx context.Context, tags CellTags) error
	LoadFlexibleShifts(ctx context.Context) FlexibleShifts
	SaveFlexibleShifts(ctx context.Context, shifts FlexibleShifts) error
	LoadViewState(ctx context.Context, def ViewState) ViewState
	SaveViewState(ctx context.Context, view ViewState) error
	LoadAuthenticated(ctx context.Context, def bool) bool
	SaveAuthenticated(ctx context.Context, authenticated bool) error
}

// Publisher is the outbound half of the sync channel. All methods are
// fire-and-forget: delivery problems are the adapter's concern, never the
// caller's.
type Publisher interface {
	PublishScheduleUpdate(ctx context.Context, schedule Schedule)
	PublishCellTagsUpdate(ctx context.Context, tags CellTags)
	PublishSettingsUpdate(ctx context.Context, patch SettingsPatch)
	PublishAuthState(ctx context.Context, authenticated bool, admins []Admin)
	SendPushNotification(ctx context.Context, title, message string)
}

// PlannerService owns the shared schedule state: settings, schedule cells,
// cell tags, flexible shift times, view state and the authentication flag.
// Every mutation is written through to the persistent store before it is
// published; every remote update reaches this state only via the Apply
// methods, which implement the reconciliation policy.
type PlannerService struct {
	mu        sync.Mutex
	store     StateStore
	publisher Publisher
	now       func() time.Time
	logger    *slog.Logger

	settings      Settings
	schedule      Schedule
	cellTags      CellTags
	flexible      FlexibleShifts
	view          ViewState
	authenticated bool

	defaults Settings
}

// NewPlannerService loads persisted state (falling back to factory defaults)
// and returns a ready service. The publisher is attached separately because
// the sync adapter needs the service first.
func NewPlannerService(ctx context.Context, store StateStore, now func() time.Time, logger *slog.Logger) *PlannerService {
	if now == nil {
		now = time.Now
	}
	s := &PlannerService{
		store:    store,
		now:      now,
		logger:   defaultLogger(logger),
		defaults: DefaultSettings(),
	}
	s.settings = store.LoadSettings(ctx, DefaultSettings())
	s.schedule = store.LoadSchedule(ctx)
	s.cellTags = store.LoadCellTags(ctx)
	s.flexible = store.LoadFlexibleShifts(ctx)
	s.view = store.LoadViewState(ctx, DefaultViewState())
	s.authenticated = store.LoadAuthenticated(ctx, true)
	if s.view.ViewPeriod <= 0 {
		s.view.ViewPeriod = DefaultViewPeriod
	}
	if s.view.SelectedPosition == "" {
		s.view.SelectedPosition = PositionAll
	}
	return s
}

// SetPublisher attaches the sync channel. Safe to leave unset; the service
// then operates purely locally.
func (s *PlannerService) SetPublisher(p Publisher) {
	s.mu.Lock()
	s.publisher = p
	s.mu.Unlock()
}

func (s *PlannerService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "PlannerService", operation, attrs...)
}

// unlockedLocked reports the gate state. An empty admin roster means open
// editing for anyone, not "nobody can edit".
func (s *PlannerService) unlockedLocked() bool {
	return len(s.settings.Admins) == 0 || s.authenticated
}

// Unlocked reports whether mutations are currently allowed.
func (s *PlannerService) Unlocked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unlockedLocked()
}

func (s *PlannerService) requireUnlockedLocked() error {
	if !s.unlockedLocked() {
		return ErrLocked
	}
	return nil
}

// dateIndexLocked builds the mapper over the current rolling window.
func (s *PlannerService) dateIndexLocked() DateIndex {
	return NewDateIndex(s.view.StartDate, s.now)
}

// DateKey resolves a position-filtered display index and day offset into the
// composite date key.
func (s *PlannerService) DateKey(filteredIndex, dayOffset int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	employeeID := ResolveEmployeeID(s.settings.Employees, s.view.SelectedPosition, filteredIndex)
	return s.dateIndexLocked().Key(employeeID, dayOffset)
}

// Settings returns a deep copy of the current settings.
func (s *PlannerService) Settings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings.Clone()
}

// ViewState returns the current display state.
func (s *PlannerService) ViewState() ViewState {
	s.mu.Lock()
	defer s.mu.Unlock()
	view := s.view
	view.SelectedCells = append([]string(nil), s.view.SelectedCells...)
	if view.SelectedDay != nil {
		day := *s.view.SelectedDay
		view.SelectedDay = &day
	}
	return view
}

func (s *PlannerService) persistViewLocked(ctx context.Context) {
	if err := s.store.SaveViewState(ctx, s.view); err != nil {
		s.loggerWith(ctx, "persistView").ErrorContext(ctx, "failed to persist view state", "error", err)
	}
}

// SetCurrentView switches between grid and timeline rendering.
func (s *PlannerService) SetCurrentView(ctx context.Context, view ViewMode) error {
	if view != ViewModeGrid && view != ViewModeTimeline {
		return fmt.Errorf("unknown view mode %q", view)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.view.CurrentView = view
	// Entering the timeline with nothing selected lands on the first day.
	if view == ViewModeTimeline && s.view.SelectedDay == nil {
		day := 0
		s.view.SelectedDay = &day
	}
	s.persistViewLocked(ctx)
	return nil
}

// SetSelectedDay records the highlighted day offset; nil clears it.
func (s *PlannerService) SetSelectedDay(ctx context.Context, day *int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.view.SelectedDay = day
	s.persistViewLocked(ctx)
}

// SetStartDate moves the rolling window. Invalid dates are accepted here and
// self-healed by the date index on the next lookup.
func (s *PlannerService) SetStartDate(ctx context.Context, startDate string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.view.StartDate = startDate
	s.persistViewLocked(ctx)
}

// SetViewPeriod changes the rolling window length in days.
func (s *PlannerService) SetViewPeriod(ctx context.Context, days int) error {
	if days <= 0 {
		return fmt.Errorf("view period must be positive, got %d", days)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.view.ViewPeriod = days
	s.persistViewLocked(ctx)
	return nil
}

// SetSelectedPosition changes the roster filter. Composite keys are built
// from employee identity, so existing schedule entries are unaffected.
func (s *PlannerService) SetSelectedPosition(ctx context.Context, position string) {
	if position == "" {
		position = PositionAll
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.view.SelectedPosition = position
	s.persistViewLocked(ctx)
}

// SetBulkEditMode toggles multi-select editing; switching it off drops the
// current selection. Requires the gate to be open.
func (s *PlannerService) SetBulkEditMode(ctx context.Context, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireUnlockedLocked(); err != nil {
		return err
	}
	s.view.BulkEditMode = enabled
	s.view.SelectedCells = nil
	s.persistViewLocked(ctx)
	return nil
}

// ConnectionSettings returns the sync channel configuration.
func (s *PlannerService) ConnectionSettings() WebsocketConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings.Websocket
}
