package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule is a parsed five-field cron expression evaluated in a fixed
// location.
type Schedule struct {
	expr  string
	loc   *time.Location
	sched cron.Schedule
}

// ParseSchedule parses expr ("m h dom mon dow" or a descriptor such as
// @daily). A nil loc means UTC.
func ParseSchedule(expr string, loc *time.Location) (*Schedule, error) {
	if loc == nil {
		loc = time.UTC
	}
	expr = strings.TrimSpace(expr)
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	if spec, ok := sched.(*cron.SpecSchedule); ok {
		spec.Location = loc
	}
	return &Schedule{expr: expr, loc: loc, sched: sched}, nil
}

// String returns the expression the schedule was parsed from.
func (s *Schedule) String() string { return s.expr }

// Location returns the schedule's location.
func (s *Schedule) Location() *time.Location { return s.loc }

// Next returns the first activation strictly after from. ok is false when
// nothing matches within five years (e.g. "0 0 30 2 *").
func (s *Schedule) Next(from time.Time) (next time.Time, ok bool) {
	next = s.sched.Next(from)
	if next.IsZero() {
		return time.Time{}, false
	}
	return next.In(s.loc), true
}
