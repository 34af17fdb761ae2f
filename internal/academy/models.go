package academy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Lesson is a scheduled lesson taught to one or more courses.
type Lesson struct {
	ID           int64       `json:"id,omitempty"`
	Title        string      `json:"lesson_title"`
	Date         string      `json:"lesson_date"`
	InstructorID int64       `json:"instructor_id"`
	CourseIDs    []int64     `json:"course_id"`
	Instructor   *Instructor `json:"instructors,omitempty"`
	Courses      []Course    `json:"courses,omitempty"`
}

// Label is the human-readable lesson option text used by the dashboard.
func (l Lesson) Label() string {
	return l.Title + " - " + l.Date
}

// Student is an enrolled learner. QRCode is the credential token scanned for attendance.
type Student struct {
	ID                  int64  `json:"id,omitempty"`
	Name                string `json:"name"`
	Email               string `json:"email"`
	QRCode              string `json:"qr_code,omitempty"`
	Certificate         string `json:"certificate,omitempty"`
	Image               string `json:"student_img,omitempty"`
	BirthDate           string `json:"birth_date,omitempty"`
	PhoneNumber         string `json:"phone_number,omitempty"`
	Address             string `json:"address,omitempty"`
	EnrollDate          string `json:"enroll_date,omitempty"`
	Notes               string `json:"notes,omitempty"`
	QuranMemorizedParts []int  `json:"quran_memorized_parts,omitempty"`
	QuranPassedParts    []int  `json:"quran_passed_parts,omitempty"`
}

// Instructor teaches lessons.
type Instructor struct {
	ID                      int64    `json:"id,omitempty"`
	Name                    string   `json:"name"`
	Email                   string   `json:"email"`
	Certificate             string   `json:"certificate,omitempty"`
	Image                   string   `json:"instructor_img,omitempty"`
	BirthDate               string   `json:"birth_date,omitempty"`
	PhoneNumber             string   `json:"phone_number,omitempty"`
	Address                 string   `json:"address,omitempty"`
	QuranMemorizedParts     []int    `json:"quran_memorized_parts,omitempty"`
	QuranPassedParts        []int    `json:"quran_passed_parts,omitempty"`
	ReligiousQualifications []string `json:"religious_qualifications,omitempty"`
}

// Course groups students and instructors. Students and Instructors arrive
// either as ids or as embedded objects, so they are kept raw.
type Course struct {
	ID              int64           `json:"id,omitempty"`
	Type            string          `json:"type"`
	Title           string          `json:"title"`
	Description     string          `json:"description,omitempty"`
	StartDate       string          `json:"start_date,omitempty"`
	ExpectedEndDate string          `json:"expected_end_date,omitempty"`
	StartTime       string          `json:"course_start_time,omitempty"`
	Level           string          `json:"level,omitempty"`
	Image           string          `json:"image,omitempty"`
	FilePath        string          `json:"file_path,omitempty"`
	FileName        string          `json:"file_name,omitempty"`
	Students        json.RawMessage `json:"students,omitempty"`
	Instructors     json.RawMessage `json:"instructors,omitempty"`
}

// CourseFile is a document attached to a course.
type CourseFile struct {
	ID       int64  `json:"id,omitempty"`
	CourseID int64  `json:"course_id"`
	FileName string `json:"file_name"`
	FilePath string `json:"file_path"`
}

// Exam belongs to a course.
type Exam struct {
	ID          int64   `json:"id,omitempty"`
	Title       string  `json:"title"`
	Date        string  `json:"exam_date"`
	MaxMark     float64 `json:"max_mark"`
	PassingMark float64 `json:"passing_mark"`
	CourseID    int64   `json:"course_id"`
}

// StudentExam is one student's mark in one exam.
type StudentExam struct {
	ID          int64   `json:"id,omitempty"`
	ExamID      int64   `json:"exam_id"`
	StudentID   int64   `json:"student_id"`
	StudentMark float64 `json:"student_mark"`
}

// Recitation tracks a student's memorization progress in a lesson.
type Recitation struct {
	ID                   int64  `json:"id,omitempty"`
	StudentID            int64  `json:"student_id"`
	CourseID             int64  `json:"course_id"`
	LessonID             int64  `json:"lesson_id"`
	RecitationPerPage    []int  `json:"recitation_per_page"`
	RecitationEvaluation string `json:"recitation_evaluation"`
	CurrentJuz           int    `json:"current_juz"`
	CurrentJuzPage       int    `json:"current_juz_page"`
	Notes                string `json:"recitation_notes,omitempty"`
	Homework             []int  `json:"homework,omitempty"`
	StudentName          string `json:"student_name,omitempty"`
	LessonTitle          string `json:"lesson_title,omitempty"`
}

// Presence is the tri-state attendance flag. The zero value is unset.
type Presence int8

const (
	PresenceUnset Presence = iota
	PresenceAbsent
	PresencePresent
)

func (p Presence) String() string {
	switch p {
	case PresencePresent:
		return "present"
	case PresenceAbsent:
		return "absent"
	default:
		return "unset"
	}
}

// MarshalJSON encodes present as 1, absent as 0 and unset as null.
func (p Presence) MarshalJSON() ([]byte, error) {
	switch p {
	case PresencePresent:
		return []byte("1"), nil
	case PresenceAbsent:
		return []byte("0"), nil
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON accepts null, 0/1, "0"/"1" and booleans.
func (p *Presence) UnmarshalJSON(b []byte) error {
	s := string(bytes.TrimSpace(b))
	switch s {
	case "null", `""`:
		*p = PresenceUnset
	case "1", `"1"`, "true":
		*p = PresencePresent
	case "0", `"0"`, "false":
		*p = PresenceAbsent
	default:
		return fmt.Errorf("academy: invalid presence %s", s)
	}
	return nil
}

// isoMillis matches the ISO strings the dashboard sends.
const isoMillis = "2006-01-02T15:04:05.000Z07:00"

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"15:04:05",
}

// Time is a lenient timestamp. Values the backend sends in an unknown layout
// decode as the zero time instead of failing the whole payload.
type Time struct {
	time.Time
}

// NewTime wraps t in UTC.
func NewTime(t time.Time) *Time {
	return &Time{Time: t.UTC()}
}

func (t Time) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(t.UTC().Format(isoMillis))), nil
}

func (t *Time) UnmarshalJSON(b []byte) error {
	s := string(b)
	if s == "null" {
		return nil
	}
	unq, err := strconv.Unquote(s)
	if err != nil {
		return nil
	}
	for _, layout := range timeLayouts {
		if parsed, err := time.Parse(layout, unq); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return nil
}

// AttendanceRecord is one student's attendance row for one lesson. LessonID
// and StudentID may be missing on the wire; see Normalize.
type AttendanceRecord struct {
	ID         int64    `json:"id,omitempty"`
	LessonID   *int64   `json:"lesson_id"`
	StudentID  *int64   `json:"student_id"`
	Presence   Presence `json:"student_attendance"`
	AttendedAt *Time    `json:"student_attendance_time"`
	Lesson     *Lesson  `json:"lesson,omitempty"`
	Student    *Student `json:"student,omitempty"`
}

// QRCode returns the student's credential token, if any.
func (r AttendanceRecord) QRCode() string {
	if r.Student == nil {
		return ""
	}
	return r.Student.QRCode
}

// Normalize fills the flat foreign keys from the nested objects. lessonID is
// the fallback when neither form carries a lesson; StudentID stays nil when
// there is no student reference at all.
func (r AttendanceRecord) Normalize(lessonID int64) AttendanceRecord {
	if r.LessonID == nil {
		id := lessonID
		if r.Lesson != nil && r.Lesson.ID != 0 {
			id = r.Lesson.ID
		}
		r.LessonID = &id
	}
	if r.StudentID == nil && r.Student != nil && r.Student.ID != 0 {
		id := r.Student.ID
		r.StudentID = &id
	}
	return r
}

// Matches reports whether the record belongs to studentID in lessonID.
func (r AttendanceRecord) Matches(studentID, lessonID int64) bool {
	return r.StudentID != nil && *r.StudentID == studentID &&
		r.LessonID != nil && *r.LessonID == lessonID
}

// Clone returns a deep enough copy for the working roster: the pointers the
// desk mutates are duplicated.
func (r AttendanceRecord) Clone() AttendanceRecord {
	if r.LessonID != nil {
		v := *r.LessonID
		r.LessonID = &v
	}
	if r.StudentID != nil {
		v := *r.StudentID
		r.StudentID = &v
	}
	if r.AttendedAt != nil {
		v := *r.AttendedAt
		r.AttendedAt = &v
	}
	return r
}

// ID64 is a helper for building optional ids.
func ID64(v int64) *int64 { return &v }
