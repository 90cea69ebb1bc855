package appointment

import (
	"time"

	"github.com/google/uuid"
)

// Overlaps is half-open interval intersection: [s1,e1) and [s2,e2) meet
// iff s1 < e2 and s2 < e1. Touching endpoints do not overlap.
func Overlaps(s1, e1, s2, e2 time.Time) bool {
	return s1.Before(e2) && s2.Before(e1)
}

// findConflict scans candidates linearly and returns the earliest one that
// still blocks its slot and intersects [start, end). exclude is skipped.
func findConflict(candidates []Appointment, start, end time.Time, exclude uuid.UUID) (Appointment, bool) {
	var (
		found Appointment
		ok    bool
	)
	for _, c := range candidates {
		if c.ID == exclude || !c.State.blocksSlot() {
			continue
		}
		if !c.Overlaps(start, end) {
			continue
		}
		if !ok || c.StartTime.Before(found.StartTime) {
			found, ok = c, true
		}
	}
	return found, ok
}

func validateWindow(start, end time.Time) error {
	if start.IsZero() {
		return validationError("start_time", "start_time is required")
	}
	if end.IsZero() {
		return validationError("end_time", "end_time is required")
	}
	if !end.After(start) {
		return validationError("end_time", "end_time must be after start_time")
	}
	return nil
}
