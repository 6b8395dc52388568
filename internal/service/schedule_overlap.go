package service

import "github.com/noah-isme/krs-api/internal/models"

// Overlaps reports whether two weekly meetings share any minute. Intervals are
// half-open, so a meeting ending at 10:00 does not clash with one starting at 10:00.
func Overlaps(a, b models.ScheduleEntry) bool {
	if a.DayOfWeek != b.DayOfWeek {
		return false
	}
	return a.StartTime < b.EndTime && b.StartTime < a.EndTime
}

// FindClash checks every candidate meeting, in order, against all existing
// meetings and returns the first collision, or nil when the candidate fits.
func FindClash(candidate, existing []models.ScheduleSlot) *models.ScheduleClash {
	for _, c := range candidate {
		for _, e := range existing {
			if Overlaps(c.ScheduleEntry, e.ScheduleEntry) {
				return &models.ScheduleClash{Candidate: c, Existing: e}
			}
		}
	}
	return nil
}

// withoutSection drops the meetings of one section, used to simulate leaving it.
func withoutSection(slots []models.ScheduleSlot, sectionID string) []models.ScheduleSlot {
	result := make([]models.ScheduleSlot, 0, len(slots))
	for _, slot := range slots {
		if slot.SectionID != sectionID {
			result = append(result, slot)
		}
	}
	return result
}
