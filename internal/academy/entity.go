package academy

import (
	"errors"
	"fmt"
)

// Entity names a resource collection on the academy backend.
type Entity string

const (
	Courses      Entity = "courses"
	Students     Entity = "students"
	Instructors  Entity = "instructors"
	Lessons      Entity = "lessons"
	Exams        Entity = "exams"
	Attendance   Entity = "atten"
	StudentExams Entity = "stdExam"
	Recitations  Entity = "recitation"
	CourseFiles  Entity = "courseFiles"
)

// ErrUnknownEntity is returned for collection names the backend does not serve.
var ErrUnknownEntity = errors.New("academy: unknown entity")

var knownEntities = map[Entity]bool{
	Courses: true, Students: true, Instructors: true, Lessons: true, Exams: true,
	Attendance: true, StudentExams: true, Recitations: true, CourseFiles: true,
}

// Valid reports whether e is one of the backend collections.
func (e Entity) Valid() bool { return knownEntities[e] }

func (e Entity) check() error {
	if !e.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownEntity, string(e))
	}
	return nil
}
