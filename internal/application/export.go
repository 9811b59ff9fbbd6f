package application

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// ExportVersion tags export documents for forward compatibility.
const ExportVersion = "1.0"

// ExportDocument is the JSON interchange format for backup and transfer
// between installations.
type ExportDocument struct {
	Schedule    Schedule        `json:"schedule"`
	CellTags    CellTags        `json:"cellTags,omitempty"`
	Filters     map[string]bool `json:"filters,omitempty"`
	CurrentView ViewMode        `json:"currentView"`
	SelectedDay *int            `json:"selectedDay"`
	ExportDate  string          `json:"exportDate"`
	Version     string          `json:"version"`
}

// Export serializes the current schedule state.
func (s *PlannerService) Export(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	doc := ExportDocument{
		Schedule:    s.schedule.Clone(),
		CellTags:    s.cellTags.Clone(),
		CurrentView: s.view.CurrentView,
		SelectedDay: s.view.SelectedDay,
		ExportDate:  s.now().UTC().Format(time.RFC3339),
		Version:     ExportVersion,
	}
	s.mu.Unlock()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode export document: %w", err)
	}
	return data, nil
}

// Import applies an export document. Only fields present in the document are
// touched, a malformed document leaves every piece of existing state intact,
// and imported schedule and tag data is re-published so peers pick it up.
func (s *PlannerService) Import(ctx context.Context, data []byte) error {
	var doc struct {
		Schedule    Schedule  `json:"schedule"`
		CellTags    CellTags  `json:"cellTags"`
		CurrentView *ViewMode `json:"currentView"`
		SelectedDay *int      `json:"selectedDay"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: %v", ErrBadImport, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if doc.Schedule != nil {
		s.schedule = doc.Schedule.Clone()
		s.persistScheduleLocked(ctx)
		s.publishScheduleLocked(ctx)
	}
	if doc.CellTags != nil {
		s.cellTags = doc.CellTags.Clone()
		s.persistCellTagsLocked(ctx)
		s.publishCellTagsLocked(ctx)
	}
	if doc.CurrentView != nil {
		s.view.CurrentView = *doc.CurrentView
	}
	if doc.SelectedDay != nil {
		s.view.SelectedDay = doc.SelectedDay
	}
	if doc.CurrentView != nil || doc.SelectedDay != nil {
		s.persistViewLocked(ctx)
	}

	s.loggerWith(ctx, "Import").InfoContext(ctx, "import applied",
		"schedule_entries", len(doc.Schedule),
		"celltag_entries", len(doc.CellTags),
	)
	return nil
}
