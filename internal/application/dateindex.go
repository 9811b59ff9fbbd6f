package application

import (
	"fmt"
	"time"
)

const dateLayout = "2006-01-02"

// DateIndex converts rolling-window day offsets and employee identities into
// the composite keys used for every schedule and tag lookup. Keys are built
// from the employee name, never from a positional index, so they survive
// roster reordering and position filtering.
type DateIndex struct {
	startDate string
	now       func() time.Time
}

// NewDateIndex builds an index over the given window start date. A malformed
// start date is silently corrected to the Monday of the current week at
// lookup time; the mapper never surfaces date errors to callers.
func NewDateIndex(startDate string, now func() time.Time) DateIndex {
	if now == nil {
		now = time.Now
	}
	return DateIndex{startDate: startDate, now: now}
}

// MondayOf returns the Monday-aligned start of the week containing t.
func MondayOf(t time.Time) time.Time {
	day := t
	switch wd := t.Weekday(); wd {
	case time.Sunday:
		day = t.AddDate(0, 0, -6)
	default:
		day = t.AddDate(0, 0, -(int(wd) - 1))
	}
	return time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
}

func (d DateIndex) start() time.Time {
	parsed, err := time.Parse(dateLayout, d.startDate)
	if err != nil {
		return MondayOf(d.now())
	}
	return parsed
}

// StartDate returns the effective window start, after self-healing.
func (d DateIndex) StartDate() string {
	return d.start().Format(dateLayout)
}

// DateFor resolves a day offset against the window start date.
func (d DateIndex) DateFor(dayOffset int) string {
	return d.start().AddDate(0, 0, dayOffset).Format(dateLayout)
}

// Key builds the composite date key for one employee's one calendar day.
func (d DateIndex) Key(employeeID string, dayOffset int) string {
	return employeeID + "-" + d.DateFor(dayOffset)
}

// IsWeekend reports whether the offset lands on Saturday or Sunday.
func (d DateIndex) IsWeekend(dayOffset int) bool {
	wd := d.start().AddDate(0, 0, dayOffset).Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// EmployeeIDAt returns the stable identity of the employee at the given
// unfiltered roster index. Two employees sharing a display name collide;
// that ambiguity is inherited from the data model and deliberately not
// resolved here.
func EmployeeIDAt(employees []Employee, index int) string {
	if index < 0 || index >= len(employees) {
		return fmt.Sprintf("emp-%d", index)
	}
	return employees[index].Name
}

// FilterEmployees returns the roster restricted to one position, or the full
// roster for the PositionAll sentinel.
func FilterEmployees(employees []Employee, position string) []Employee {
	if position == "" || position == PositionAll {
		return append([]Employee(nil), employees...)
	}
	filtered := make([]Employee, 0, len(employees))
	for _, emp := range employees {
		if emp.Position == position {
			filtered = append(filtered, emp)
		}
	}
	return filtered
}

// ResolveEmployeeID maps a position-filtered display index back to the
// underlying stable identity, so composite keys are invariant under filter
// changes.
func ResolveEmployeeID(employees []Employee, position string, filteredIndex int) string {
	filtered := FilterEmployees(employees, position)
	if filteredIndex < 0 || filteredIndex >= len(filtered) {
		return fmt.Sprintf("emp-%d", filteredIndex)
	}
	return filtered[filteredIndex].Name
}
