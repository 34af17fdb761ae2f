package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"attendancedesk/internal/academy"
)

// directoryCmds are thin wrappers over the academy backend for the records
// around attendance: students, lessons, recitations and course material.
func (a *app) directoryCmds() []*cobra.Command {
	return []*cobra.Command{
		a.getCmd(),
		a.deleteCmd(),
		a.studentsCmd(),
		a.lessonsCmd(),
		a.recitationsCmd(),
		a.reciteCmd(),
		a.addStudentCmd(),
		a.addInstructorCmd(),
		a.addCourseCmd(),
		a.attachFileCmd(),
	}
}

func (a *app) getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <entity> [id]",
		Short: "Print a backend collection, or one of its items, as JSON",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client()
			if err != nil {
				return err
			}
			entity := academy.Entity(args[0])
			var raw json.RawMessage
			if len(args) == 1 {
				raw, err = c.GetAll(cmd.Context(), entity)
			} else {
				id, perr := parseID(args[1])
				if perr != nil {
					return perr
				}
				raw, err = c.GetByID(cmd.Context(), entity, id)
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), raw)
		},
	}
}

func (a *app) deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <entity> <id>",
		Short: "Delete a backend record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[1])
			if err != nil {
				return err
			}
			c, err := a.client()
			if err != nil {
				return err
			}
			if err := c.Delete(cmd.Context(), academy.Entity(args[0]), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s %d\n", args[0], id)
			return nil
		},
	}
}

func (a *app) studentsCmd() *cobra.Command {
	var course int64
	cmd := &cobra.Command{
		Use:   "students",
		Short: "List students, or those enrolled in a course",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := a.client()
			if err != nil {
				return err
			}
			var students []academy.Student
			if course > 0 {
				students, err = c.CourseStudents(cmd.Context(), course)
			} else {
				students, err = c.Students(cmd.Context())
			}
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tEMAIL")
			for _, s := range students {
				fmt.Fprintf(w, "%d\t%s\t%s\n", s.ID, s.Name, s.Email)
			}
			return w.Flush()
		},
	}
	cmd.Flags().Int64Var(&course, "course", 0, "only students of this course")
	return cmd
}

func (a *app) lessonsCmd() *cobra.Command {
	var course int64
	cmd := &cobra.Command{
		Use:   "lessons",
		Short: "List lessons, or those of a course",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := a.client()
			if err != nil {
				return err
			}
			var lessons []academy.Lesson
			if course > 0 {
				lessons, err = c.CourseLessons(cmd.Context(), course)
			} else {
				lessons, err = c.Lessons(cmd.Context())
			}
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tLESSON")
			for _, l := range lessons {
				fmt.Fprintf(w, "%d\t%s\n", l.ID, l.Label())
			}
			return w.Flush()
		},
	}
	cmd.Flags().Int64Var(&course, "course", 0, "only lessons of this course")
	return cmd
}

func (a *app) recitationsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recitations <course>",
		Short: "List the recitations recorded for a course",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			course, err := parseID(args[0])
			if err != nil {
				return err
			}
			c, err := a.client()
			if err != nil {
				return err
			}
			recs, err := c.RecitationsByCourse(cmd.Context(), course)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "LESSON\tSTUDENT\tJUZ\tPAGE\tEVALUATION")
			for _, r := range recs {
				fmt.Fprintf(w, "%d\t%d\t%d\t%d\t%s\n", r.LessonID, r.StudentID, r.CurrentJuz, r.CurrentJuzPage, r.RecitationEvaluation)
			}
			return w.Flush()
		},
	}
}

func (a *app) reciteCmd() *cobra.Command {
	var (
		r      academy.Recitation
		update bool
	)
	cmd := &cobra.Command{
		Use:   "recite <course> <lesson> <student>",
		Short: "Record a student's recitation in a lesson",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]int64, len(args))
			for i, arg := range args {
				id, err := parseID(arg)
				if err != nil {
					return err
				}
				ids[i] = id
			}
			r.CourseID, r.LessonID, r.StudentID = ids[0], ids[1], ids[2]
			c, err := a.client()
			if err != nil {
				return err
			}
			if update {
				_, err = c.Update(cmd.Context(), academy.Recitations, 0, r)
			} else {
				err = c.CreateRecitation(cmd.Context(), r.CourseID, r.LessonID, r)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "recitation saved for student %d\n", r.StudentID)
			return nil
		},
	}
	cmd.Flags().StringVar(&r.RecitationEvaluation, "evaluation", "", "evaluation grade")
	cmd.Flags().IntVar(&r.CurrentJuz, "juz", 0, "current juz")
	cmd.Flags().IntVar(&r.CurrentJuzPage, "page", 0, "current page of the juz")
	cmd.Flags().IntSliceVar(&r.RecitationPerPage, "pages", nil, "pages recited")
	cmd.Flags().StringVar(&r.Notes, "notes", "", "notes")
	cmd.Flags().BoolVar(&update, "update", false, "replace the existing recitation")
	return cmd
}

func (a *app) addStudentCmd() *cobra.Command {
	var (
		s        academy.Student
		password string
		image    string
	)
	cmd := &cobra.Command{
		Use:   "add-student",
		Short: "Create a student",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			img, err := readUpload(image)
			if err != nil {
				return err
			}
			return a.create(cmd, academy.Students, academy.StudentForm(s, password, password, img))
		},
	}
	cmd.Flags().StringVar(&s.Name, "name", "", "full name")
	cmd.Flags().StringVar(&s.Email, "email", "", "email")
	cmd.Flags().StringVar(&password, "password", "", "initial password")
	cmd.Flags().StringVar(&s.EnrollDate, "enrolled", "", "enroll date (YYYY-MM-DD)")
	cmd.Flags().IntSliceVar(&s.QuranMemorizedParts, "memorized", nil, "memorized parts")
	cmd.Flags().StringVar(&image, "image", "", "photo file")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func (a *app) addInstructorCmd() *cobra.Command {
	var (
		in       academy.Instructor
		password string
		image    string
	)
	cmd := &cobra.Command{
		Use:   "add-instructor",
		Short: "Create an instructor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			img, err := readUpload(image)
			if err != nil {
				return err
			}
			return a.create(cmd, academy.Instructors, academy.InstructorForm(in, password, password, img))
		},
	}
	cmd.Flags().StringVar(&in.Name, "name", "", "full name")
	cmd.Flags().StringVar(&in.Email, "email", "", "email")
	cmd.Flags().StringVar(&password, "password", "", "initial password")
	cmd.Flags().StringSliceVar(&in.ReligiousQualifications, "qualification", nil, "religious qualifications")
	cmd.Flags().IntSliceVar(&in.QuranMemorizedParts, "memorized", nil, "memorized parts")
	cmd.Flags().StringVar(&image, "image", "", "photo file")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func (a *app) addCourseCmd() *cobra.Command {
	var (
		course      academy.Course
		students    []int64
		instructors []int64
	)
	cmd := &cobra.Command{
		Use:   "add-course",
		Short: "Create a course with its students and instructors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.create(cmd, academy.Courses, academy.CourseForm(course, students, instructors, nil, nil))
		},
	}
	cmd.Flags().StringVar(&course.Type, "type", "", "course type")
	cmd.Flags().StringVar(&course.Title, "title", "", "title")
	cmd.Flags().StringVar(&course.StartDate, "start", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&course.Level, "level", "", "level")
	cmd.Flags().Int64SliceVar(&students, "student", nil, "enrolled student ids")
	cmd.Flags().Int64SliceVar(&instructors, "instructor", nil, "instructor ids")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func (a *app) attachFileCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "attach-file <course> <file>",
		Short: "Upload a document to a course",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			course, err := parseID(args[0])
			if err != nil {
				return err
			}
			doc, err := readUpload(args[1])
			if err != nil {
				return err
			}
			if doc == nil || len(doc.Data) == 0 {
				return fmt.Errorf("file %q is empty", args[1])
			}
			if name == "" {
				name = strings.TrimSuffix(doc.Filename, filepath.Ext(doc.Filename))
			}
			form := academy.CourseFileForm(academy.CourseFile{CourseID: course, FileName: name}, doc)
			return a.create(cmd, academy.CourseFiles, form)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name (defaults to the file name)")
	return cmd
}

func (a *app) create(cmd *cobra.Command, entity academy.Entity, form *academy.Form) error {
	c, err := a.client()
	if err != nil {
		return err
	}
	raw, err := c.Create(cmd.Context(), entity, form)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), raw)
}

// readUpload loads path as a form upload; an empty path means no file.
func readUpload(path string) (*academy.Upload, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return &academy.Upload{Filename: filepath.Base(path), Data: data}, nil
}

func printJSON(w io.Writer, raw json.RawMessage) error {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
