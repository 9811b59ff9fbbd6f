package application

import (
	"context"
	"strings"
)

func (s *PlannerService) persistSettingsLocked(ctx context.Context) {
	if err := s.store.SaveSettings(ctx, s.settings); err != nil {
		s.loggerWith(ctx, "persistSettings").ErrorContext(ctx, "failed to persist settings", "error", err)
	}
}

// mutateSettings runs fn under the gate, then persists and publishes the
// updated settings in one place.
func (s *PlannerService) mutateSettings(ctx context.Context, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireUnlockedLocked(); err != nil {
		return err
	}
	if err := fn(); err != nil {
		return err
	}
	s.persistSettingsLocked(ctx)
	s.publishSettingsLocked(ctx)
	return nil
}

// AddEmployee appends a roster entry.
func (s *PlannerService) AddEmployee(ctx context.Context, employee Employee) error {
	if strings.TrimSpace(employee.Name) == "" {
		vErr := &ValidationError{}
		vErr.add("name", "name is required")
		return vErr
	}
	return s.mutateSettings(ctx, func() error {
		s.settings.Employees = append(s.settings.Employees, employee)
		return nil
	})
}

// UpdateEmployee replaces the roster entry at index. Schedule keys are built
// from the employee name, so renaming detaches previously entered cells;
// this mirrors the data model, not a bug to fix here.
func (s *PlannerService) UpdateEmployee(ctx context.Context, index int, employee Employee) error {
	return s.mutateSettings(ctx, func() error {
		if index < 0 || index >= len(s.settings.Employees) {
			return ErrNotFound
		}
		s.settings.Employees[index] = employee
		return nil
	})
}

// RemoveEmployee drops the roster entry at index.
func (s *PlannerService) RemoveEmployee(ctx context.Context, index int) error {
	return s.mutateSettings(ctx, func() error {
		if index < 0 || index >= len(s.settings.Employees) {
			return ErrNotFound
		}
		s.settings.Employees = append(s.settings.Employees[:index], s.settings.Employees[index+1:]...)
		return nil
	})
}

// AddPosition appends a position to the catalog.
func (s *PlannerService) AddPosition(ctx context.Context, position string) error {
	if strings.TrimSpace(position) == "" {
		vErr := &ValidationError{}
		vErr.add("position", "position is required")
		return vErr
	}
	return s.mutateSettings(ctx, func() error {
		for _, existing := range s.settings.Positions {
			if existing == position {
				return nil
			}
		}
		s.settings.Positions = append(s.settings.Positions, position)
		return nil
	})
}

// UpdatePosition renames the catalog entry at index.
func (s *PlannerService) UpdatePosition(ctx context.Context, index int, position string) error {
	return s.mutateSettings(ctx, func() error {
		if index < 0 || index >= len(s.settings.Positions) {
			return ErrNotFound
		}
		s.settings.Positions[index] = position
		return nil
	})
}

// RemovePosition drops a catalog entry and clears it from any employee that
// referenced it.
func (s *PlannerService) RemovePosition(ctx context.Context, index int) error {
	return s.mutateSettings(ctx, func() error {
		if index < 0 || index >= len(s.settings.Positions) {
			return ErrNotFound
		}
		removed := s.settings.Positions[index]
		s.settings.Positions = append(s.settings.Positions[:index], s.settings.Positions[index+1:]...)
		for i, emp := range s.settings.Employees {
			if emp.Position == removed {
				s.settings.Employees[i].Position = ""
			}
		}
		return nil
	})
}

// AddShiftType registers a shift type under key.
func (s *PlannerService) AddShiftType(ctx context.Context, key string, shiftType ShiftType) error {
	if strings.TrimSpace(key) == "" {
		vErr := &ValidationError{}
		vErr.add("key", "key is required")
		return vErr
	}
	return s.mutateSettings(ctx, func() error {
		s.settings.ShiftTypes[key] = shiftType
		return nil
	})
}

// UpdateShiftType replaces the shift type stored under key.
func (s *PlannerService) UpdateShiftType(ctx context.Context, key string, shiftType ShiftType) error {
	return s.mutateSettings(ctx, func() error {
		if _, ok := s.settings.ShiftTypes[key]; !ok {
			return ErrNotFound
		}
		s.settings.ShiftTypes[key] = shiftType
		return nil
	})
}

// RemoveShiftType drops the shift type under key. Existing schedule entries
// referencing it become dangling and render as unknown; they are not swept.
func (s *PlannerService) RemoveShiftType(ctx context.Context, key string) error {
	return s.mutateSettings(ctx, func() error {
		if _, ok := s.settings.ShiftTypes[key]; !ok {
			return ErrNotFound
		}
		delete(s.settings.ShiftTypes, key)
		return nil
	})
}

// AddTag registers a tag under key.
func (s *PlannerService) AddTag(ctx context.Context, key string, tag Tag) error {
	if strings.TrimSpace(key) == "" {
		vErr := &ValidationError{}
		vErr.add("key", "key is required")
		return vErr
	}
	return s.mutateSettings(ctx, func() error {
		s.settings.Tags[key] = tag
		return nil
	})
}

// UpdateTag replaces the tag stored under key.
func (s *PlannerService) UpdateTag(ctx context.Context, key string, tag Tag) error {
	return s.mutateSettings(ctx, func() error {
		if _, ok := s.settings.Tags[key]; !ok {
			return ErrNotFound
		}
		s.settings.Tags[key] = tag
		return nil
	})
}

// RemoveTag drops the tag under key.
func (s *PlannerService) RemoveTag(ctx context.Context, key string) error {
	return s.mutateSettings(ctx, func() error {
		if _, ok := s.settings.Tags[key]; !ok {
			return ErrNotFound
		}
		delete(s.settings.Tags, key)
		return nil
	})
}

// SetWorkingHours changes the timeline view bounds.
func (s *PlannerService) SetWorkingHours(ctx context.Context, hours WorkingHours) error {
	return s.mutateSettings(ctx, func() error {
		s.settings.WorkingHours = hours
		return nil
	})
}

// SetWebsocketConfig changes the sync channel credentials. The caller is
// responsible for reconnecting the adapter when credential or room changed.
func (s *PlannerService) SetWebsocketConfig(ctx context.Context, cfg WebsocketConfig) error {
	return s.mutateSettings(ctx, func() error {
		s.settings.Websocket = cfg
		return nil
	})
}

// SetTelegramConfig changes the external notification sink credentials.
func (s *PlannerService) SetTelegramConfig(ctx context.Context, cfg TelegramConfig) error {
	return s.mutateSettings(ctx, func() error {
		s.settings.Telegram = cfg
		return nil
	})
}

// SetDebug toggles verbose sync logging.
func (s *PlannerService) SetDebug(ctx context.Context, debug bool) error {
	return s.mutateSettings(ctx, func() error {
		s.settings.Debug = debug
		return nil
	})
}

// adminMutation applies fn under the gate and additionally broadcasts the
// auth state, since peers must re-evaluate their lock against the new roster.
func (s *PlannerService) adminMutation(ctx context.Context, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireUnlockedLocked(); err != nil {
		return err
	}
	if err := fn(); err != nil {
		return err
	}
	s.persistSettingsLocked(ctx)
	s.publishSettingsLocked(ctx)
	s.publishAuthStateLocked(ctx)
	return nil
}

// AddAdmin appends a credential entry to the admin roster.
func (s *PlannerService) AddAdmin(ctx context.Context, admin Admin) error {
	return s.adminMutation(ctx, func() error {
		s.settings.Admins = append(s.settings.Admins, admin)
		return nil
	})
}

// UpdateAdmin replaces the roster entry at index.
func (s *PlannerService) UpdateAdmin(ctx context.Context, index int, admin Admin) error {
	return s.adminMutation(ctx, func() error {
		if index < 0 || index >= len(s.settings.Admins) {
			return ErrNotFound
		}
		s.settings.Admins[index] = admin
		return nil
	})
}

// RemoveAdmin drops the roster entry at index. Removing the last admin opens
// editing for everyone.
func (s *PlannerService) RemoveAdmin(ctx context.Context, index int) error {
	return s.adminMutation(ctx, func() error {
		if index < 0 || index >= len(s.settings.Admins) {
			return ErrNotFound
		}
		s.settings.Admins = append(s.settings.Admins[:index], s.settings.Admins[index+1:]...)
		return nil
	})
}
