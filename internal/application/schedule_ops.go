package application

import (
	"context"
	"slices"
)

// ShiftClear is the sentinel shift type that removes a cell. An empty string
// behaves identically.
const ShiftClear = "clear"

func (s *PlannerService) persistScheduleLocked(ctx context.Context) {
	if err := s.store.SaveSchedule(ctx, s.schedule); err != nil {
		s.loggerWith(ctx, "persistSchedule").ErrorContext(ctx, "failed to persist schedule", "error", err)
	}
}

func (s *PlannerService) persistCellTagsLocked(ctx context.Context) {
	if err := s.store.SaveCellTags(ctx, s.cellTags); err != nil {
		s.loggerWith(ctx, "persistCellTags").ErrorContext(ctx, "failed to persist cell tags", "error", err)
	}
}

func (s *PlannerService) persistFlexibleLocked(ctx context.Context) {
	if err := s.store.SaveFlexibleShifts(ctx, s.flexible); err != nil {
		s.loggerWith(ctx, "persistFlexibleShifts").ErrorContext(ctx, "failed to persist flexible shifts", "error", err)
	}
}

// ScheduleByDate returns the shift type key at the employee's day, or ""
// when the cell is unscheduled.
func (s *PlannerService) ScheduleByDate(employeeID string, dayOffset int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.schedule[s.dateIndexLocked().Key(employeeID, dayOffset)]
}

// SetScheduleByDate assigns a shift type to one cell. ShiftClear (or an
// empty value) removes the entry together with its cell tags. The schedule
// map always reflects only the latest call per key.
func (s *PlannerService) SetScheduleByDate(ctx context.Context, employeeID string, dayOffset int, shiftType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireUnlockedLocked(); err != nil {
		return err
	}

	key := s.dateIndexLocked().Key(employeeID, dayOffset)
	tagsChanged := false
	if shiftType == ShiftClear || shiftType == "" {
		delete(s.schedule, key)
		if _, ok := s.cellTags[key]; ok {
			delete(s.cellTags, key)
			tagsChanged = true
		}
	} else {
		if _, ok := s.settings.ShiftTypes[shiftType]; !ok {
			return ErrNotFound
		}
		s.schedule[key] = shiftType
	}

	s.persistScheduleLocked(ctx)
	if tagsChanged {
		s.persistCellTagsLocked(ctx)
	}
	s.publishScheduleLocked(ctx)
	if tagsChanged {
		s.publishCellTagsLocked(ctx)
	}
	return nil
}

// CellTagsByDate returns the tag keys attached to one cell.
func (s *PlannerService) CellTagsByDate(employeeID string, dayOffset int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := s.dateIndexLocked().Key(employeeID, dayOffset)
	return append([]string(nil), s.cellTags[key]...)
}

// SetCellTagsByDate replaces the tag list on one cell. An empty list removes
// the entry instead of storing an empty slice.
func (s *PlannerService) SetCellTagsByDate(ctx context.Context, employeeID string, dayOffset int, tags []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireUnlockedLocked(); err != nil {
		return err
	}

	key := s.dateIndexLocked().Key(employeeID, dayOffset)
	if len(tags) == 0 {
		delete(s.cellTags, key)
	} else {
		s.cellTags[key] = append([]string(nil), tags...)
	}
	s.persistCellTagsLocked(ctx)
	s.publishCellTagsLocked(ctx)
	return nil
}

// ToggleCellTag adds the tag to the cell when absent and removes it when
// present, deleting the entry once the last tag is gone.
func (s *PlannerService) ToggleCellTag(ctx context.Context, employeeID string, dayOffset int, tag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireUnlockedLocked(); err != nil {
		return err
	}

	key := s.dateIndexLocked().Key(employeeID, dayOffset)
	current := s.cellTags[key]
	if idx := slices.Index(current, tag); idx >= 0 {
		current = slices.Delete(append([]string(nil), current...), idx, idx+1)
	} else {
		current = append(append([]string(nil), current...), tag)
	}
	if len(current) == 0 {
		delete(s.cellTags, key)
	} else {
		s.cellTags[key] = current
	}
	s.persistCellTagsLocked(ctx)
	s.publishCellTagsLocked(ctx)
	return nil
}

// FlexibleShiftByDate returns the per-occurrence time range for a flexible
// cell, reporting absence through ok. Orphaned entries whose schedule cell no
// longer references a flexible shift type are ignored.
func (s *PlannerService) FlexibleShiftByDate(employeeID string, dayOffset int) (FlexibleShift, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := s.dateIndexLocked().Key(employeeID, dayOffset)
	shiftType, ok := s.settings.ShiftTypes[s.schedule[key]]
	if !ok || !shiftType.IsFlexible {
		return FlexibleShift{}, false
	}
	data, ok := s.flexible[key]
	return data, ok
}

// SetFlexibleShift stores the confirmed time range for one flexible cell.
func (s *PlannerService) SetFlexibleShift(ctx context.Context, employeeID string, dayOffset int, data FlexibleShift) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireUnlockedLocked(); err != nil {
		return err
	}

	key := s.dateIndexLocked().Key(employeeID, dayOffset)
	s.flexible[key] = data
	s.persistFlexibleLocked(ctx)
	return nil
}

// CellUpdate is one entry of a bulk edit.
type CellUpdate struct {
	EmployeeID string
	DayOffset  int
	ShiftType  string
	ClearTags  bool
}

// BulkUpdateCells applies a batch of cell edits and publishes the result
// once, keeping multi-select edits to a single channel message per stream.
func (s *PlannerService) BulkUpdateCells(ctx context.Context, updates []CellUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireUnlockedLocked(); err != nil {
		return err
	}

	// Validate the whole batch first so a bad entry leaves nothing applied,
	// matching the single-cell path.
	for _, update := range updates {
		if update.ShiftType == ShiftClear || update.ShiftType == "" {
			continue
		}
		if _, ok := s.settings.ShiftTypes[update.ShiftType]; !ok {
			return ErrNotFound
		}
	}

	tagsChanged := false
	index := s.dateIndexLocked()
	for _, update := range updates {
		key := index.Key(update.EmployeeID, update.DayOffset)
		if update.ShiftType == ShiftClear || update.ShiftType == "" {
			delete(s.schedule, key)
			if update.ClearTags {
				if _, ok := s.cellTags[key]; ok {
					delete(s.cellTags, key)
					tagsChanged = true
				}
			}
		} else {
			s.schedule[key] = update.ShiftType
		}
	}

	s.persistScheduleLocked(ctx)
	s.publishScheduleLocked(ctx)
	if tagsChanged {
		s.persistCellTagsLocked(ctx)
		s.publishCellTagsLocked(ctx)
	}
	return nil
}

// ClearAll wipes schedule, cell tags and flexible shift data, resets the
// editing view state, and announces the now-empty maps to peers.
func (s *PlannerService) ClearAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireUnlockedLocked(); err != nil {
		return err
	}

	s.schedule = Schedule{}
	s.cellTags = CellTags{}
	s.flexible = FlexibleShifts{}
	s.view.CurrentView = ViewModeGrid
	s.view.SelectedDay = nil
	s.view.BulkEditMode = false
	s.view.SelectedCells = nil

	s.persistScheduleLocked(ctx)
	s.persistCellTagsLocked(ctx)
	s.persistFlexibleLocked(ctx)
	s.persistViewLocked(ctx)
	s.publishScheduleLocked(ctx)
	s.publishCellTagsLocked(ctx)
	return nil
}

// Schedule returns a copy of the full schedule map.
func (s *PlannerService) Schedule() Schedule {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.schedule.Clone()
}

// CellTags returns a copy of the full cell tag map.
func (s *PlannerService) CellTags() CellTags {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cellTags.Clone()
}

func (s *PlannerService) publishScheduleLocked(ctx context.Context) {
	if s.publisher == nil {
		return
	}
	s.publisher.PublishScheduleUpdate(ctx, s.schedule.Clone())
}

func (s *PlannerService) publishCellTagsLocked(ctx context.Context) {
	if s.publisher == nil {
		return
	}
	s.publisher.PublishCellTagsUpdate(ctx, s.cellTags.Clone())
}

func (s *PlannerService) publishSettingsLocked(ctx context.Context) {
	if s.publisher == nil {
		return
	}
	s.publisher.PublishSettingsUpdate(ctx, PatchFromSettings(s.settings))
}

func (s *PlannerService) publishAuthStateLocked(ctx context.Context) {
	if s.publisher == nil {
		return
	}
	s.publisher.PublishAuthState(ctx, s.authenticated, append([]Admin(nil), s.settings.Admins...))
}
