package academy

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"strconv"
)

// Upload is a file attached to a form.
type Upload struct {
	Filename string
	Data     []byte
}

type formField struct {
	name  string
	value string
}

type formFile struct {
	field string
	Upload
}

// Form assembles a multipart/form-data payload. Field order is preserved;
// list values are sent as repeated "name[]" fields the way the backend
// expects them.
type Form struct {
	fields []formField
	files  []formFile
}

// NewForm returns an empty form.
func NewForm() *Form { return &Form{} }

// Set appends a single field.
func (f *Form) Set(name, value string) *Form {
	f.fields = append(f.fields, formField{name: name, value: value})
	return f
}

// SetInt appends a numeric field.
func (f *Form) SetInt(name string, v int64) *Form {
	return f.Set(name, strconv.FormatInt(v, 10))
}

// List appends one "name[]" field per value.
func (f *Form) List(name string, values ...string) *Form {
	for _, v := range values {
		f.Set(name+"[]", v)
	}
	return f
}

// IntList is List for numeric values.
func (f *Form) IntList(name string, values []int64) *Form {
	for _, v := range values {
		f.SetInt(name+"[]", v)
	}
	return f
}

// File attaches u under field. A nil or empty upload is skipped.
func (f *Form) File(field string, u *Upload) *Form {
	if u == nil || len(u.Data) == 0 {
		return f
	}
	f.files = append(f.files, formFile{field: field, Upload: *u})
	return f
}

// Values returns the values recorded for name in order.
func (f *Form) Values(name string) []string {
	var out []string
	for _, fld := range f.fields {
		if fld.name == name {
			out = append(out, fld.value)
		}
	}
	return out
}

func (f *Form) encode() (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for _, fld := range f.fields {
		if err := w.WriteField(fld.name, fld.value); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", fld.name, err)
		}
	}
	for _, file := range f.files {
		part, err := w.CreateFormFile(file.field, file.Filename)
		if err != nil {
			return nil, "", fmt.Errorf("create form file %s: %w", file.field, err)
		}
		if _, err := part.Write(file.Data); err != nil {
			return nil, "", fmt.Errorf("write file %s: %w", file.field, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

// CourseForm builds the course create/update payload.
func CourseForm(c Course, studentIDs, instructorIDs []int64, image, document *Upload) *Form {
	f := NewForm().
		Set("type", c.Type).
		Set("title", c.Title).
		Set("description", c.Description).
		Set("start_date", c.StartDate).
		Set("expected_end_date", c.ExpectedEndDate).
		Set("course_start_time", c.StartTime).
		Set("level", c.Level).
		Set("file_name", c.FileName).
		File("image", image).
		File("file_path", document)
	f.IntList("course_student_id", studentIDs)
	f.IntList("course_instructor_id", instructorIDs)
	return f
}

// InstructorForm builds the instructor create/update payload.
func InstructorForm(in Instructor, password, confirmation string, image *Upload) *Form {
	f := NewForm().
		Set("name", in.Name).
		Set("email", in.Email).
		Set("password", password).
		Set("password_confirmation", confirmation).
		Set("certificate", in.Certificate).
		Set("birth_date", in.BirthDate).
		Set("phone_number", in.PhoneNumber).
		Set("address", in.Address).
		List("religious_qualifications", in.ReligiousQualifications...)
	f.List("quran_memorized_parts", intStrings(in.QuranMemorizedParts)...)
	f.List("quran_passed_parts", intStrings(in.QuranPassedParts)...)
	return f.File("instructor_img", image)
}

// StudentForm builds the student create/update payload. The backend takes the
// Quran part lists as JSON arrays in a single field.
func StudentForm(s Student, password, confirmation string, image *Upload) *Form {
	return NewForm().
		Set("name", s.Name).
		Set("email", s.Email).
		Set("password", password).
		Set("password_confirmation", confirmation).
		Set("certificate", s.Certificate).
		Set("birth_date", s.BirthDate).
		Set("phone_number", s.PhoneNumber).
		Set("address", s.Address).
		Set("enroll_date", s.EnrollDate).
		Set("notes", s.Notes).
		File("student_img", image).
		Set("quran_memorized_parts", jsonInts(s.QuranMemorizedParts)).
		Set("quran_passed_parts", jsonInts(s.QuranPassedParts))
}

// CourseFileForm builds the course file upload payload.
func CourseFileForm(cf CourseFile, document *Upload) *Form {
	return NewForm().
		SetInt("course_id", cf.CourseID).
		Set("file_name", cf.FileName).
		File("file_path", document)
}

func intStrings(in []int) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = strconv.Itoa(v)
	}
	return out
}

func jsonInts(in []int) string {
	var b bytes.Buffer
	b.WriteByte('[')
	for i, v := range in {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(v))
	}
	b.WriteByte(']')
	return b.String()
}
