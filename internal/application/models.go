package application

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Employee is a roster entry. Position is empty when unassigned.
type Employee struct {
	Name     string `json:"name"`
	Position string `json:"position"`
}

// UnmarshalJSON accepts both the current object form and the legacy bare
// string form, normalizing the latter on read so no downstream code has to
// branch on entry shape.
func (e *Employee) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var name string
		if err := json.Unmarshal(trimmed, &name); err != nil {
			return fmt.Errorf("decode employee name: %w", err)
		}
		e.Name = name
		e.Position = ""
		return nil
	}

	type plain Employee
	var decoded plain
	if err := json.Unmarshal(trimmed, &decoded); err != nil {
		return fmt.Errorf("decode employee: %w", err)
	}
	*e = Employee(decoded)
	return nil
}

// ShiftType describes one configurable shift kind. Start and End are nil for
// non-timed kinds (day off, vacation) and for flexible shifts whose times are
// stored per occurrence.
type ShiftType struct {
	Label        string `json:"label"`
	Time         string `json:"time,omitempty"`
	ShortLabel   string `json:"shortLabel"`
	Start        *int   `json:"start"`
	StartMinutes int    `json:"startMinutes,omitempty"`
	End          *int   `json:"end"`
	EndMinutes   int    `json:"endMinutes,omitempty"`
	Color        string `json:"color"`
	IsFlexible   bool   `json:"isFlexible,omitempty"`
}

// Tag is a short annotation that can be attached to a schedule cell.
type Tag struct {
	Label      string `json:"label"`
	ShortLabel string `json:"shortLabel"`
	Color      string `json:"color"`
}

// WorkingHours bounds the timeline view.
type WorkingHours struct {
	Start        int `json:"start"`
	StartMinutes int `json:"startMinutes"`
	End          int `json:"end"`
	EndMinutes   int `json:"endMinutes"`
}

// WebsocketConfig holds the sync channel credentials.
type WebsocketConfig struct {
	URL     string `json:"url"`
	APIKey  string `json:"apiKey"`
	RoomID  string `json:"roomId"`
	Enabled bool   `json:"enabled"`
}

// TelegramConfig holds the external notification sink credentials.
type TelegramConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"botToken"`
	ChatID   string `json:"chatId"`
}

// Admin is one entry of the client-side credential list guarding mutations.
type Admin struct {
	Name     string `json:"name"`
	Password string `json:"password"`
}

// Settings aggregates every shared configuration field. All of it travels
// over the sync channel except nothing here is view state.
type Settings struct {
	Employees    []Employee           `json:"employees"`
	Positions    []string             `json:"positions"`
	ShiftTypes   map[string]ShiftType `json:"shiftTypes"`
	Tags         map[string]Tag       `json:"tags"`
	WorkingHours WorkingHours         `json:"workingHours"`
	Websocket    WebsocketConfig      `json:"websocket"`
	Telegram     TelegramConfig       `json:"telegram"`
	Admins       []Admin              `json:"admins"`
	Debug        bool                 `json:"debug"`
}

// Clone returns a deep copy so callers can hand settings across goroutines
// without sharing mutable maps.
func (s Settings) Clone() Settings {
	out := s
	out.Employees = append([]Employee(nil), s.Employees...)
	out.Positions = append([]string(nil), s.Positions...)
	out.Admins = append([]Admin(nil), s.Admins...)
	if s.ShiftTypes != nil {
		out.ShiftTypes = make(map[string]ShiftType, len(s.ShiftTypes))
		for k, v := range s.ShiftTypes {
			out.ShiftTypes[k] = v
		}
	}
	if s.Tags != nil {
		out.Tags = make(map[string]Tag, len(s.Tags))
		for k, v := range s.Tags {
			out.Tags[k] = v
		}
	}
	return out
}

// Schedule maps composite date keys to shift type keys. No entry means the
// cell is unscheduled.
type Schedule map[string]string

// Clone returns an independent copy of the schedule map.
func (s Schedule) Clone() Schedule {
	out := make(Schedule, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// CellTags maps composite date keys to the tag keys attached to that cell.
// An entry is removed outright when its last tag is removed.
type CellTags map[string][]string

// Clone returns an independent copy including the tag slices.
func (c CellTags) Clone() CellTags {
	out := make(CellTags, len(c))
	for k, v := range c {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// FlexibleShift stores the per-occurrence time range of a flexible shift.
type FlexibleShift struct {
	Start        int `json:"start"`
	StartMinutes int `json:"startMinutes"`
	End          int `json:"end"`
	EndMinutes   int `json:"endMinutes"`
}

// FlexibleShifts maps composite date keys to per-occurrence time ranges.
// Orphaned entries whose schedule cell no longer references a flexible shift
// type are tolerated and simply ignored by readers.
type FlexibleShifts map[string]FlexibleShift

// Clone returns an independent copy of the flexible shift map.
func (f FlexibleShifts) Clone() FlexibleShifts {
	out := make(FlexibleShifts, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// ViewMode selects the active calendar rendering.
type ViewMode string

const (
	ViewModeGrid     ViewMode = "grid"
	ViewModeTimeline ViewMode = "timeline"
)

// PositionAll is the sentinel for an unfiltered employee list.
const PositionAll = "all"

// ViewState is the local, never-synchronized display state.
type ViewState struct {
	CurrentView      ViewMode `json:"currentView"`
	SelectedDay      *int     `json:"selectedDay"`
	StartDate        string   `json:"currentStartDate"`
	ViewPeriod       int      `json:"viewPeriod"`
	SelectedPosition string   `json:"selectedPosition"`
	BulkEditMode     bool     `json:"bulkEditMode"`
	SelectedCells    []string `json:"selectedCells,omitempty"`
}

// ConnectionState reflects the sync channel lifecycle.
type ConnectionState string

const (
	ConnectionDisconnected ConnectionState = "disconnected"
	ConnectionConnecting   ConnectionState = "connecting"
	ConnectionConnected    ConnectionState = "connected"
	ConnectionFailed       ConnectionState = "failed"
)

// Snapshot bundles the shared state exchanged during bootstrap catch-up.
type Snapshot struct {
	Settings Settings `json:"settings"`
	Schedule Schedule `json:"schedule"`
	CellTags CellTags `json:"cellTags"`
}
