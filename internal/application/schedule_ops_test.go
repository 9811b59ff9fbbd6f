package application

import (
	"context"
	"testing"
)

func TestPlannerService_SetScheduleByDate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("last call wins per key", func(t *testing.T) {
		t.Parallel()
		svc := serviceOnWeek(t, nil, "2024-01-01")

		if err := svc.SetScheduleByDate(ctx, "Ильвина", 0, "morning"); err != nil {
			t.Fatalf("set morning: %v", err)
		}
		if err := svc.SetScheduleByDate(ctx, "Ильвина", 0, "night"); err != nil {
			t.Fatalf("set night: %v", err)
		}

		if got := svc.ScheduleByDate("Ильвина", 0); got != "night" {
			t.Fatalf("expected latest write to win, got %q", got)
		}
		if entries := svc.Schedule(); len(entries) != 1 {
			t.Fatalf("expected a single entry, got %d", len(entries))
		}
	})

	t.Run("unknown shift type is rejected", func(t *testing.T) {
		t.Parallel()
		svc := serviceOnWeek(t, nil, "2024-01-01")

		if err := svc.SetScheduleByDate(ctx, "Ильвина", 0, "graveyard"); err != ErrNotFound {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("clearing removes the cell and its tags", func(t *testing.T) {
		t.Parallel()
		store := &memStore{}
		svc := serviceOnWeek(t, store, "2024-01-01")
		publisher := &recordingPublisher{}
		svc.SetPublisher(publisher)

		if err := svc.SetScheduleByDate(ctx, "Ильвина", 2, "day"); err != nil {
			t.Fatalf("set day: %v", err)
		}
		if err := svc.SetCellTagsByDate(ctx, "Ильвина", 2, []string{"important"}); err != nil {
			t.Fatalf("set tags: %v", err)
		}

		if err := svc.SetScheduleByDate(ctx, "Ильвина", 2, ShiftClear); err != nil {
			t.Fatalf("clear: %v", err)
		}

		if got := svc.ScheduleByDate("Ильвина", 2); got != "" {
			t.Fatalf("expected cleared cell, got %q", got)
		}
		if tags := svc.CellTagsByDate("Ильвина", 2); len(tags) != 0 {
			t.Fatalf("expected tags gone with the cell, got %v", tags)
		}
		if len(store.cellTags) != 0 {
			t.Fatalf("expected persisted tags to be removed, got %v", store.cellTags)
		}
		// Clearing publishes both streams.
		last := publisher.cellTags[len(publisher.cellTags)-1]
		if len(last) != 0 {
			t.Fatalf("expected empty cell tags broadcast, got %v", last)
		}
	})

	t.Run("composite keys use identity and calendar date", func(t *testing.T) {
		t.Parallel()
		store := &memStore{}
		svc := serviceOnWeek(t, store, "2024-01-01")

		if err := svc.SetScheduleByDate(ctx, "Alice", 0, "morning"); err != nil {
			t.Fatalf("set: %v", err)
		}
		if _, ok := store.schedule["Alice-2024-01-01"]; !ok {
			t.Fatalf("expected key Alice-2024-01-01, got %v", store.schedule)
		}
	})

	t.Run("locked service rejects mutation", func(t *testing.T) {
		t.Parallel()
		settings := DefaultSettings()
		settings.Admins = []Admin{{Name: "Admin", Password: "5521"}}
		auth := false
		svc := newTestService(t, &memStore{settings: &settings, auth: &auth}, nil)

		if err := svc.SetScheduleByDate(ctx, "Ильвина", 0, "morning"); err != ErrLocked {
			t.Fatalf("expected ErrLocked, got %v", err)
		}
	})
}

func TestPlannerService_ToggleCellTag(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	svc := serviceOnWeek(t, nil, "2024-01-01")

	if err := svc.ToggleCellTag(ctx, "Ильвина", 0, "important"); err != nil {
		t.Fatalf("toggle on: %v", err)
	}
	if err := svc.ToggleCellTag(ctx, "Ильвина", 0, "training"); err != nil {
		t.Fatalf("toggle second: %v", err)
	}
	if got := svc.CellTagsByDate("Ильвина", 0); len(got) != 2 {
		t.Fatalf("expected two tags, got %v", got)
	}

	if err := svc.ToggleCellTag(ctx, "Ильвина", 0, "important"); err != nil {
		t.Fatalf("toggle off: %v", err)
	}
	got := svc.CellTagsByDate("Ильвина", 0)
	if len(got) != 1 || got[0] != "training" {
		t.Fatalf("expected only training left, got %v", got)
	}

	if err := svc.ToggleCellTag(ctx, "Ильвина", 0, "training"); err != nil {
		t.Fatalf("toggle last off: %v", err)
	}
	if tags := svc.CellTags(); len(tags) != 0 {
		t.Fatalf("expected entry removed once empty, got %v", tags)
	}
}

func TestPlannerService_FlexibleShifts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	svc := serviceOnWeek(t, nil, "2024-01-01")

	if err := svc.SetScheduleByDate(ctx, "Ильвина", 0, "flexible"); err != nil {
		t.Fatalf("set flexible: %v", err)
	}
	if err := svc.SetFlexibleShift(ctx, "Ильвина", 0, FlexibleShift{Start: 11, End: 19}); err != nil {
		t.Fatalf("set range: %v", err)
	}

	data, ok := svc.FlexibleShiftByDate("Ильвина", 0)
	if !ok || data.Start != 11 || data.End != 19 {
		t.Fatalf("expected stored range, got %+v ok=%v", data, ok)
	}

	// Once the cell no longer holds a flexible type the orphaned range is
	// hidden from callers.
	if err := svc.SetScheduleByDate(ctx, "Ильвина", 0, "morning"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if _, ok := svc.FlexibleShiftByDate("Ильвина", 0); ok {
		t.Fatal("expected orphaned flexible data to be ignored")
	}
}

func TestPlannerService_BulkUpdateCells(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	svc := serviceOnWeek(t, nil, "2024-01-01")
	publisher := &recordingPublisher{}
	svc.SetPublisher(publisher)

	updates := []CellUpdate{
		{EmployeeID: "Ильвина", DayOffset: 0, ShiftType: "morning"},
		{EmployeeID: "Инесса", DayOffset: 0, ShiftType: "day"},
		{EmployeeID: "Альбина", DayOffset: 1, ShiftType: "night"},
	}
	if err := svc.BulkUpdateCells(ctx, updates); err != nil {
		t.Fatalf("bulk update: %v", err)
	}

	if len(publisher.schedules) != 1 {
		t.Fatalf("expected a single schedule broadcast for the batch, got %d", len(publisher.schedules))
	}
	if got := len(svc.Schedule()); got != 3 {
		t.Fatalf("expected three entries, got %d", got)
	}
}

func TestPlannerService_BulkUpdateCellsRejectsUnknownShiftType(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	svc := serviceOnWeek(t, nil, "2024-01-01")
	publisher := &recordingPublisher{}
	svc.SetPublisher(publisher)

	updates := []CellUpdate{
		{EmployeeID: "Ильвина", DayOffset: 0, ShiftType: "morning"},
		{EmployeeID: "Инесса", DayOffset: 0, ShiftType: "graveyard"},
	}
	if err := svc.BulkUpdateCells(ctx, updates); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	// One bad entry leaves the whole batch unapplied and unannounced.
	if got := len(svc.Schedule()); got != 0 {
		t.Fatalf("expected no entries after a rejected batch, got %d", got)
	}
	if len(publisher.schedules) != 0 {
		t.Fatalf("expected no broadcast, got %d", len(publisher.schedules))
	}
}

func TestPlannerService_ClearAll(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	svc := serviceOnWeek(t, nil, "2024-01-01")
	publisher := &recordingPublisher{}
	svc.SetPublisher(publisher)

	if err := svc.SetScheduleByDate(ctx, "Ильвина", 0, "morning"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := svc.ToggleCellTag(ctx, "Ильвина", 0, "important"); err != nil {
		t.Fatalf("seed tag: %v", err)
	}
	if err := svc.SetCurrentView(ctx, ViewModeTimeline); err != nil {
		t.Fatalf("switch view: %v", err)
	}

	if err := svc.ClearAll(ctx); err != nil {
		t.Fatalf("clear all: %v", err)
	}

	if len(svc.Schedule()) != 0 || len(svc.CellTags()) != 0 {
		t.Fatal("expected all data cleared")
	}
	view := svc.ViewState()
	if view.CurrentView != ViewModeGrid || view.SelectedDay != nil || view.BulkEditMode {
		t.Fatalf("expected view reset, got %+v", view)
	}
	lastSchedule := publisher.schedules[len(publisher.schedules)-1]
	lastTags := publisher.cellTags[len(publisher.cellTags)-1]
	if len(lastSchedule) != 0 || len(lastTags) != 0 {
		t.Fatal("expected empty maps to be broadcast")
	}
}
