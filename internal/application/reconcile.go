package application

import (
	"context"
	"slices"
)

// SettingsPatch is the partial settings object carried by settings-update
// messages. A nil field means "absent": the local value is retained. Only
// shared configuration travels here, never computed or view fields.
type SettingsPatch struct {
	Employees    *[]Employee           `json:"employees,omitempty"`
	Positions    *[]string             `json:"positions,omitempty"`
	ShiftTypes   *map[string]ShiftType `json:"shiftTypes,omitempty"`
	Tags         *map[string]Tag       `json:"tags,omitempty"`
	WorkingHours *WorkingHours         `json:"workingHours,omitempty"`
	Websocket    *WebsocketConfig      `json:"websocket,omitempty"`
	Telegram     *TelegramConfig       `json:"telegram,omitempty"`
	Admins       *[]Admin              `json:"admins,omitempty"`
	Debug        *bool                 `json:"debug,omitempty"`
}

// PatchFromSettings builds a full patch carrying every recognized field.
func PatchFromSettings(settings Settings) SettingsPatch {
	clone := settings.Clone()
	return SettingsPatch{
		Employees:    &clone.Employees,
		Positions:    &clone.Positions,
		ShiftTypes:   &clone.ShiftTypes,
		Tags:         &clone.Tags,
		WorkingHours: &clone.WorkingHours,
		Websocket:    &clone.Websocket,
		Telegram:     &clone.Telegram,
		Admins:       &clone.Admins,
		Debug:        &clone.Debug,
	}
}

func adminsEqual(a, b []Admin) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ApplySettingsPatch merges an inbound settings update. Each recognized
// field replaces the local value only when present; absent fields are left
// alone. When the incoming admin roster differs from the local one the
// authentication flag is forced off: a removed admin must not keep a
// privileged session, and a new roster makes everyone re-prove identity.
func (s *PlannerService) ApplySettingsPatch(ctx context.Context, patch SettingsPatch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applySettingsPatchLocked(ctx, patch)
}

func (s *PlannerService) applySettingsPatchLocked(ctx context.Context, patch SettingsPatch) {
	if patch.Employees != nil {
		s.settings.Employees = append([]Employee(nil), (*patch.Employees)...)
	}
	if patch.Positions != nil {
		s.settings.Positions = append([]string(nil), (*patch.Positions)...)
	}
	if patch.ShiftTypes != nil {
		shiftTypes := make(map[string]ShiftType, len(*patch.ShiftTypes))
		for k, v := range *patch.ShiftTypes {
			shiftTypes[k] = v
		}
		s.settings.ShiftTypes = shiftTypes
	}
	if patch.Tags != nil {
		tags := make(map[string]Tag, len(*patch.Tags))
		for k, v := range *patch.Tags {
			tags[k] = v
		}
		s.settings.Tags = tags
	}
	if patch.WorkingHours != nil {
		s.settings.WorkingHours = *patch.WorkingHours
	}
	if patch.Websocket != nil {
		s.settings.Websocket = *patch.Websocket
	}
	if patch.Telegram != nil {
		s.settings.Telegram = *patch.Telegram
	}
	if patch.Debug != nil {
		s.settings.Debug = *patch.Debug
	}
	if patch.Admins != nil {
		if !adminsEqual(*patch.Admins, s.settings.Admins) {
			s.settings.Admins = append([]Admin(nil), (*patch.Admins)...)
			s.setAuthenticatedLocked(ctx, false)
		}
	}
	s.persistSettingsLocked(ctx)
}

// ApplySchedule replaces the whole schedule map with an inbound one.
// Conflict resolution is last-write-wins at whole-object granularity; the
// sync adapter's timestamp check has already decided this update is newer.
func (s *PlannerService) ApplySchedule(ctx context.Context, schedule Schedule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedule = schedule.Clone()
	s.persistScheduleLocked(ctx)
}

// ApplyCellTags replaces the whole cell tag map with an inbound one.
func (s *PlannerService) ApplyCellTags(ctx context.Context, tags CellTags) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cellTags = tags.Clone()
	s.persistCellTagsLocked(ctx)
}

// ApplyAuthState applies a remote lock/unlock broadcast together with the
// roster it was issued under.
func (s *PlannerService) ApplyAuthState(ctx context.Context, authenticated bool, admins []Admin) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(admins) > 0 {
		s.settings.Admins = append([]Admin(nil), admins...)
		s.persistSettingsLocked(ctx)
	}
	s.setAuthenticatedLocked(ctx, authenticated)
}

// SnapshotState bundles the shared state for a data-response.
func (s *PlannerService) SnapshotState() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Settings: s.settings.Clone(),
		Schedule: s.schedule.Clone(),
		CellTags: s.cellTags.Clone(),
	}
}

// ApplySnapshot installs a peer's full snapshot during bootstrap catch-up.
// The caller has already established that local state is still default.
func (s *PlannerService) ApplySnapshot(ctx context.Context, snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applySettingsPatchLocked(ctx, PatchFromSettings(snapshot.Settings))
	s.schedule = snapshot.Schedule.Clone()
	s.cellTags = snapshot.CellTags.Clone()
	s.persistScheduleLocked(ctx)
	s.persistCellTagsLocked(ctx)
}

// IsLocalDataDefault is the bootstrap heuristic deciding whether this client
// may accept a peer's snapshot. It holds when nothing has been scheduled or
// tagged and the data-bearing settings are still structurally the factory
// defaults. Deliberately conservative: when in doubt, local data is treated
// as real and a snapshot is refused.
func (s *PlannerService) IsLocalDataDefault() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.schedule) > 0 || len(s.cellTags) > 0 {
		return false
	}
	if !slices.Equal(s.settings.Positions, s.defaults.Positions) {
		return false
	}
	if !slices.Equal(s.settings.Employees, s.defaults.Employees) {
		return false
	}
	if len(s.settings.ShiftTypes) > len(s.defaults.ShiftTypes) {
		return false
	}
	if len(s.settings.Tags) > len(s.defaults.Tags) {
		return false
	}
	for key := range s.settings.ShiftTypes {
		if _, ok := s.defaults.ShiftTypes[key]; !ok {
			return false
		}
	}
	for key := range s.settings.Tags {
		if _, ok := s.defaults.Tags[key]; !ok {
			return false
		}
	}
	return true
}
