package dispatch

import (
	"fmt"
	"time"
)

// Schedule is the CSE's own active window. Requests arriving outside it
// are refused in the preamble. The zero value is always active.
type Schedule struct {
	// Start and End are minutes since midnight, local time. Equal values
	// mean always active; Start > End wraps past midnight.
	Start int
	End   int
	set   bool
}

// ParseSchedule builds a Schedule from "HH:MM-HH:MM"; empty input means
// always active.
func ParseSchedule(window string) (Schedule, error) {
	if window == "" {
		return Schedule{}, nil
	}
	var sh, sm, eh, em int
	if _, err := fmt.Sscanf(window, "%d:%d-%d:%d", &sh, &sm, &eh, &em); err != nil {
		return Schedule{}, fmt.Errorf("invalid schedule window %q: %v", window, err)
	}
	if sh < 0 || sh > 23 || eh < 0 || eh > 23 || sm < 0 || sm > 59 || em < 0 || em > 59 {
		return Schedule{}, fmt.Errorf("invalid schedule window %q: out of range", window)
	}
	return Schedule{Start: sh*60 + sm, End: eh*60 + em, set: true}, nil
}

// ActiveAt reports whether the window includes t.
func (s Schedule) ActiveAt(t time.Time) bool {
	if !s.set || s.Start == s.End {
		return true
	}
	minutes := t.Hour()*60 + t.Minute()
	if s.Start < s.End {
		return minutes >= s.Start && minutes < s.End
	}
	// Window wraps midnight.
	return minutes >= s.Start || minutes < s.End
}
