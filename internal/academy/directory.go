package academy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ErrNoToken is returned when login succeeds without handing out a token.
var ErrNoToken = errors.New("academy: login response carried no token")

// Lessons lists every lesson.
func (c *Client) Lessons(ctx context.Context) ([]Lesson, error) {
	raw, err := c.GetAll(ctx, Lessons)
	if err != nil {
		return nil, err
	}
	return decodeList[Lesson](raw, "lessons")
}

// Students lists every student.
func (c *Client) Students(ctx context.Context) ([]Student, error) {
	raw, err := c.GetAll(ctx, Students)
	if err != nil {
		return nil, err
	}
	return decodeList[Student](raw, "students")
}

// CourseStudents lists the students enrolled in a course.
func (c *Client) CourseStudents(ctx context.Context, courseID int64) ([]Student, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/courses/"+itoa(courseID)+"/students", nil, &raw); err != nil {
		return nil, err
	}
	return decodeList[Student](raw, "students")
}

// CourseLessons lists the lessons of a course.
func (c *Client) CourseLessons(ctx context.Context, courseID int64) ([]Lesson, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/courses/"+itoa(courseID)+"/lessons", nil, &raw); err != nil {
		return nil, err
	}
	return decodeList[Lesson](raw, "lessons")
}

// RecitationsByCourse lists the recitation entries of a course.
func (c *Client) RecitationsByCourse(ctx context.Context, courseID int64) ([]Recitation, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/recitation/course/"+itoa(courseID), nil, &raw); err != nil {
		return nil, err
	}
	return decodeList[Recitation](raw, "recitations")
}

// CreateRecitation records a recitation for a lesson of a course.
func (c *Client) CreateRecitation(ctx context.Context, courseID, lessonID int64, r Recitation) error {
	path := "/recitation/store/" + itoa(courseID) + "/" + itoa(lessonID)
	return c.do(ctx, http.MethodPost, path, r, nil)
}

// Login exchanges instructor credentials for a bearer token.
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	body := map[string]string{"email": email, "password": password}
	var out struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, "/instructors/login", body, &out); err != nil {
		return "", fmt.Errorf("academy: login: %w", err)
	}
	if out.Token == "" {
		return "", ErrNoToken
	}
	return out.Token, nil
}
