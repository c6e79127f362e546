package attendance

import (
	"fmt"
	"sort"
	"time"

	"attendance-bridge/internal/protocol"
)

// Shift is a working schedule. Start and End are offsets from midnight; an
// End at or before Start means the shift runs past midnight.
type Shift struct {
	Name     string        `json:"name"`
	Start    time.Duration `json:"start"`
	End      time.Duration `json:"end"`
	GraceIn  time.Duration `json:"grace_in"`
	GraceOut time.Duration `json:"grace_out"`
}

// DefaultShift is a 09:00 to 17:00 day with ten minutes grace either side.
func DefaultShift() Shift {
	return Shift{
		Name:     "day",
		Start:    9 * time.Hour,
		End:      17 * time.Hour,
		GraceIn:  10 * time.Minute,
		GraceOut: 10 * time.Minute,
	}
}

// ParseClock parses an "HH:MM" wall clock into an offset from midnight.
func ParseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q, expected HH:MM", s)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// Overnight reports whether the shift ends on the following day.
func (s Shift) Overnight() bool {
	return s.End <= s.Start
}

// Validate checks the shift bounds.
func (s Shift) Validate() error {
	day := 24 * time.Hour
	if s.Start < 0 || s.Start >= day || s.End < 0 || s.End >= day {
		return fmt.Errorf("shift %q: start and end must be within one day", s.Name)
	}
	if s.GraceIn < 0 || s.GraceOut < 0 {
		return fmt.Errorf("shift %q: grace periods cannot be negative", s.Name)
	}
	return nil
}

// bounds returns the shift's start and end on the day beginning at midnight.
func (s Shift) bounds(midnight time.Time) (time.Time, time.Time) {
	start := midnight.Add(s.Start)
	end := midnight.Add(s.End)
	if s.Overnight() {
		end = end.AddDate(0, 0, 1)
	}
	return start, end
}

// shiftDay returns midnight of the day the punch's shift began. For an
// overnight shift, punches in the early hours belong to the previous day.
func (s Shift) shiftDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	if !s.Overnight() {
		return midnight
	}

	// split the day halfway through the off-duty gap
	cutoff := s.End + (s.Start-s.End)/2
	if t.Sub(midnight) < cutoff {
		return midnight.AddDate(0, 0, -1)
	}
	return midnight
}

// DaySummary is one employee's attendance for one shift day.
type DaySummary struct {
	EmployeeCode int           `json:"employee_code"`
	Date         string        `json:"date"`
	Shift        string        `json:"shift"`
	FirstIn      time.Time     `json:"first_in"`
	LastOut      time.Time     `json:"last_out,omitempty"`
	Punches      int           `json:"punches"`
	Worked       time.Duration `json:"worked"`
	Late         bool          `json:"late"`
	LateBy       time.Duration `json:"late_by,omitempty"`
	LeftEarly    bool          `json:"left_early"`
	EarlyBy      time.Duration `json:"early_by,omitempty"`
	MissingPunch bool          `json:"missing_punch"`
}

// Classify summarises the punches of one employee on one shift day. The
// earliest punch is the arrival and the latest the departure; a single
// punch is flagged as a missing punch. Break-out/break-in pairs are
// subtracted from the worked time.
func Classify(punches []Punch, shift Shift, loc *time.Location) DaySummary {
	if loc == nil {
		loc = time.UTC
	}
	if len(punches) == 0 {
		return DaySummary{Shift: shift.Name, MissingPunch: true}
	}

	sorted := append([]Punch(nil), punches...)
	Sort(sorted)

	day := shift.shiftDay(sorted[0].Timestamp, loc)
	start, end := shift.bounds(day)

	summary := DaySummary{
		EmployeeCode: sorted[0].EmployeeCode,
		Date:         day.Format("2006-01-02"),
		Shift:        shift.Name,
		FirstIn:      sorted[0].Timestamp.In(loc),
		Punches:      len(sorted),
	}

	if late := summary.FirstIn.Sub(start); late > shift.GraceIn {
		summary.Late = true
		summary.LateBy = late
	}

	if len(sorted) < 2 {
		summary.MissingPunch = true
		return summary
	}

	summary.LastOut = sorted[len(sorted)-1].Timestamp.In(loc)
	summary.Worked = summary.LastOut.Sub(summary.FirstIn) - breaks(sorted)

	if early := end.Sub(summary.LastOut); early > shift.GraceOut {
		summary.LeftEarly = true
		summary.EarlyBy = early
	}
	return summary
}

// breaks totals the time between each break-out and the following break-in.
func breaks(sorted []Punch) time.Duration {
	var total time.Duration
	var out time.Time
	for _, p := range sorted {
		switch p.Direction {
		case protocol.PunchBreakOut:
			out = p.Timestamp
		case protocol.PunchBreakIn:
			if !out.IsZero() {
				total += p.Timestamp.Sub(out)
				out = time.Time{}
			}
		}
	}
	return total
}

// Summarise groups punches by employee and shift day and classifies each
// group. Results are ordered by date, then employee code.
func Summarise(punches []Punch, shift Shift, loc *time.Location) []DaySummary {
	if loc == nil {
		loc = time.UTC
	}

	type key struct {
		employee int
		day      time.Time
	}
	groups := make(map[key][]Punch)
	for _, p := range punches {
		k := key{employee: p.EmployeeCode, day: shift.shiftDay(p.Timestamp, loc)}
		groups[k] = append(groups[k], p)
	}

	summaries := make([]DaySummary, 0, len(groups))
	for _, group := range groups {
		summaries = append(summaries, Classify(group, shift, loc))
	}

	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].Date != summaries[j].Date {
			return summaries[i].Date < summaries[j].Date
		}
		return summaries[i].EmployeeCode < summaries[j].EmployeeCode
	})
	return summaries
}
