package academy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// Session is the backend's answer to opening an attendance session: one
// record per student enrolled in the lesson's courses.
type Session struct {
	Message string             `json:"message"`
	Count   int                `json:"count"`
	Records []AttendanceRecord `json:"attendance"`
}

// FetchAttendance returns the existing records of a lesson. A lesson without
// a roster may answer 404, which surfaces as ErrNotFound.
func (c *Client) FetchAttendance(ctx context.Context, lessonID int64) ([]AttendanceRecord, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/atten/"+itoa(lessonID), nil, &raw); err != nil {
		return nil, err
	}
	recs, err := decodeList[AttendanceRecord](raw, "attendances")
	if err != nil {
		return nil, fmt.Errorf("academy: decode attendance for lesson %d: %w", lessonID, err)
	}
	return recs, nil
}

// OpenSession asks the backend to create the roster of a lesson. The call is
// side-effecting: every student currently enrolled gets an unset record.
func (c *Client) OpenSession(ctx context.Context, lessonID int64) (Session, error) {
	var out Session
	if err := c.do(ctx, http.MethodGet, "/atten/store/"+itoa(lessonID), nil, &out); err != nil {
		return Session{}, err
	}
	return out, nil
}

// UpdateAttendance writes one record. The backend's echo of the record is
// returned when it sends one; otherwise rec itself is.
func (c *Client) UpdateAttendance(ctx context.Context, id int64, rec AttendanceRecord) (AttendanceRecord, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodPost, "/atten/update/"+itoa(id), rec, &raw); err != nil {
		return AttendanceRecord{}, err
	}
	var wrapped struct {
		Attendance *AttendanceRecord `json:"attendance"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Attendance != nil && wrapped.Attendance.ID != 0 {
		return *wrapped.Attendance, nil
	}
	var direct AttendanceRecord
	if err := json.Unmarshal(raw, &direct); err == nil && direct.ID != 0 {
		return direct, nil
	}
	return rec, nil
}
