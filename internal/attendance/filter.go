package attendance

import (
	"strconv"
	"strings"

	"attendancedesk/internal/academy"
)

// matchesQuery is the roster search box: a substring of the lesson id, the
// student id, or the student's name ignoring case.
func matchesQuery(rec academy.AttendanceRecord, q string) bool {
	if q == "" {
		return true
	}
	if rec.LessonID != nil && strings.Contains(strconv.FormatInt(*rec.LessonID, 10), q) {
		return true
	}
	if rec.StudentID != nil && strings.Contains(strconv.FormatInt(*rec.StudentID, 10), q) {
		return true
	}
	return rec.Student != nil && strings.Contains(strings.ToLower(rec.Student.Name), strings.ToLower(q))
}

func filterRoster(roster []academy.AttendanceRecord, q string) []academy.AttendanceRecord {
	q = strings.TrimSpace(q)
	out := make([]academy.AttendanceRecord, 0, len(roster))
	for _, rec := range roster {
		if matchesQuery(rec, q) {
			out = append(out, rec.Clone())
		}
	}
	return out
}
