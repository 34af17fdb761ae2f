package attendance

import (
	"context"
	"errors"

	"attendancedesk/internal/academy"
)

// Remote is the part of the academy backend the desk depends on.
// *academy.Client satisfies it.
type Remote interface {
	Lessons(ctx context.Context) ([]academy.Lesson, error)
	FetchAttendance(ctx context.Context, lessonID int64) ([]academy.AttendanceRecord, error)
	OpenSession(ctx context.Context, lessonID int64) (academy.Session, error)
	UpdateAttendance(ctx context.Context, id int64, rec academy.AttendanceRecord) (academy.AttendanceRecord, error)
}

// Existence is the outcome of probing a lesson for records.
type Existence int

const (
	// Unknown means the probe failed and nothing can be said.
	Unknown Existence = iota
	// Empty means the lesson has no records yet.
	Empty
	// NonEmpty means a roster already exists.
	NonEmpty
)

func (e Existence) String() string {
	switch e {
	case Empty:
		return "empty"
	case NonEmpty:
		return "non_empty"
	default:
		return "unknown"
	}
}

// Probe checks whether lessonID already has attendance records. A 404 is
// read as Empty; any other failure is Unknown.
func Probe(ctx context.Context, r Remote, lessonID int64) Existence {
	recs, err := r.FetchAttendance(ctx, lessonID)
	var res Existence
	switch {
	case errors.Is(err, academy.ErrNotFound):
		res = Empty
	case err != nil:
		res = Unknown
	case len(recs) == 0:
		res = Empty
	default:
		res = NonEmpty
	}
	probesTotal.WithLabelValues(res.String()).Inc()
	return res
}
