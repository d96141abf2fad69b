// Package schedule decides when the display updates: a fixed daily slot
// table with a small match window, fed by the server's clock rather than the
// local one.
package schedule

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"epdframe/internal/log"
)

const minutesPerDay = 24 * 60

// TimeSnapshot pairs a server-reported time with the local instant it was
// captured at. It is immutable; callers derive the current time by
// extrapolation instead of mutating shared state.
type TimeSnapshot struct {
	ServerTime time.Time
	CapturedAt time.Time
}

// NewSnapshot captures a snapshot of the given server time against clock.
func NewSnapshot(serverTime time.Time, clock clockwork.Clock) TimeSnapshot {
	return TimeSnapshot{ServerTime: serverTime, CapturedAt: clock.Now()}
}

// Valid reports whether the snapshot carries a usable server time.
func (s TimeSnapshot) Valid() bool {
	return !s.ServerTime.IsZero()
}

// Now extrapolates the server time by the local elapsed time since capture.
func (s TimeSnapshot) Now(clock clockwork.Clock) time.Time {
	return s.ServerTime.Add(clock.Since(s.CapturedAt))
}

// Scheduler holds the slot table. Slots are minutes-of-day in the configured
// timezone.
type Scheduler struct {
	slots          []int
	window         time.Duration
	emergencyRetry time.Duration
	loc            *time.Location
}

// New builds a Scheduler from "HH:MM" slot strings.
func New(slotSpecs []string, windowMinutes, emergencyRetryMinutes int, loc *time.Location) (*Scheduler, error) {
	if len(slotSpecs) == 0 {
		return nil, fmt.Errorf("schedule: no update slots configured")
	}
	if loc == nil {
		loc = time.Local
	}

	slots := make([]int, 0, len(slotSpecs))
	for _, spec := range slotSpecs {
		m, err := parseSlot(spec)
		if err != nil {
			return nil, err
		}
		slots = append(slots, m)
	}
	sort.Ints(slots)

	return &Scheduler{
		slots:          slots,
		window:         time.Duration(windowMinutes) * time.Minute,
		emergencyRetry: time.Duration(emergencyRetryMinutes) * time.Minute,
		loc:            loc,
	}, nil
}

// InUpdateWindow reports whether now falls within the match window of any
// slot. The window applies on both sides of the slot, so a device that wakes
// slightly early and again slightly late around the same slot will match
// twice; that double-update is a known property of the window scheme and is
// deliberately kept.
func (s *Scheduler) InUpdateWindow(now time.Time) bool {
	local := now.In(s.loc)
	minute := local.Hour()*60 + local.Minute()
	windowMin := int(s.window / time.Minute)

	for _, slot := range s.slots {
		d := minute - slot
		if d < 0 {
			d = -d
		}
		// Wrap across midnight.
		if wrapped := minutesPerDay - d; wrapped < d {
			d = wrapped
		}
		if d <= windowMin {
			return true
		}
	}
	return false
}

// NextWake returns the duration until the next slot strictly after now.
func (s *Scheduler) NextWake(now time.Time) time.Duration {
	local := now.In(s.loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.loc)

	var best time.Duration = -1
	for _, slot := range s.slots {
		at := midnight.Add(time.Duration(slot) * time.Minute)
		if !at.After(local) {
			at = at.Add(24 * time.Hour)
		}
		d := at.Sub(local)
		if best < 0 || d < best {
			best = d
		}
	}
	return best
}

// EmergencyRetry is how long to sleep after an update attempt with unknown
// time: update immediately, then retry on this short fixed interval until
// the server clock is reachable again.
func (s *Scheduler) EmergencyRetry() time.Duration {
	return s.emergencyRetry
}

// ResolveLocation loads an IANA timezone, falling back to the local zone on
// failure.
func ResolveLocation(name string) *time.Location {
	if name == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		log.Error("failed to load timezone; falling back to local", err, "name", name)
		return time.Local
	}
	return loc
}

func parseSlot(spec string) (int, error) {
	parts := strings.SplitN(spec, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("schedule: invalid slot %q, want HH:MM", spec)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("schedule: invalid slot hour in %q", spec)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("schedule: invalid slot minute in %q", spec)
	}
	return h*60 + m, nil
}
