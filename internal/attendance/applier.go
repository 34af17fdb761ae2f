package attendance

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"attendancedesk/internal/academy"
	"attendancedesk/internal/qrtoken"
)

// Source is how a mark reached the desk.
type Source string

const (
	SourceQR     Source = "qr"
	SourceManual Source = "manual"
)

// Outcome of a mark attempt.
type Outcome string

const (
	OutcomeMarked   Outcome = "marked"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeFailed   Outcome = "failed"
	OutcomeRejected Outcome = "rejected"
)

// ScanDialog is the QR scanner dialog: open for one student at a time.
type ScanDialog struct {
	Open      bool  `json:"open"`
	StudentID int64 `json:"student_id,omitempty"`
}

// MarkResult describes one mark attempt.
type MarkResult struct {
	Outcome   Outcome                   `json:"outcome"`
	Source    Source                    `json:"source"`
	RecordID  int64                     `json:"record_id,omitempty"`
	StudentID int64                     `json:"student_id,omitempty"`
	LessonID  int64                     `json:"lesson_id,omitempty"`
	Detail    string                    `json:"detail,omitempty"`
	At        time.Time                 `json:"at"`
	Record    *academy.AttendanceRecord `json:"record,omitempty"`
}

// OpenScanner opens the scan dialog for studentID.
func (d *Desk) OpenScanner(studentID int64) {
	d.mu.Lock()
	d.scanner = ScanDialog{Open: true, StudentID: studentID}
	d.mu.Unlock()
}

// CloseScanner closes the scan dialog and forgets the student.
func (d *Desk) CloseScanner() {
	d.mu.Lock()
	d.scanner = ScanDialog{}
	d.mu.Unlock()
}

// MarkPresent marks the record of (studentID, lessonID) present. It is a
// no-op unless that lesson's roster is loaded and holds a matching record; a
// non-zero recordID must also name that record. The local record changes
// only after the backend accepted the update. The scan dialog is closed in
// every case.
func (d *Desk) MarkPresent(ctx context.Context, recordID, studentID, lessonID int64) MarkResult {
	return d.mark(ctx, SourceManual, recordID, studentID, lessonID)
}

// HandleScan marks the student selected in the scan dialog. A non-empty
// payload must pass the QR credential check.
func (d *Desk) HandleScan(ctx context.Context, payload string) MarkResult {
	d.mu.Lock()
	studentID, lessonID := d.scanner.StudentID, d.lessonID
	d.mu.Unlock()

	if payload != "" && !qrtoken.Valid(payload) {
		d.mu.Lock()
		d.scanner = ScanDialog{}
		d.postLocked(LevelWarning, "scanned code is not a valid student QR code", d.opts.NoticeTTL)
		d.mu.Unlock()
		res := MarkResult{Outcome: OutcomeRejected, Source: SourceQR, StudentID: studentID,
			LessonID: lessonID, Detail: "invalid qr payload", At: d.now()}
		d.report(ctx, res)
		return res
	}
	return d.mark(ctx, SourceQR, 0, studentID, lessonID)
}

func (d *Desk) mark(ctx context.Context, src Source, recordID, studentID, lessonID int64) MarkResult {
	d.markMu.Lock()
	defer d.markMu.Unlock()

	res := MarkResult{Source: src, RecordID: recordID, StudentID: studentID, LessonID: lessonID}
	defer func() {
		d.CloseScanner()
		d.report(ctx, res)
	}()

	d.mu.Lock()
	idx, detail := d.findLocked(recordID, studentID, lessonID)
	if idx < 0 {
		d.mu.Unlock()
		res.Outcome, res.Detail, res.At = OutcomeSkipped, detail, d.now()
		return res
	}
	seq := d.seq
	target := d.roster[idx].Clone()
	d.mu.Unlock()

	now := d.now()
	update := target.Clone()
	update.Presence = academy.PresencePresent
	update.AttendedAt = academy.NewTime(now)
	res.RecordID, res.At = target.ID, now

	if _, err := d.remote.UpdateAttendance(ctx, target.ID, update); err != nil {
		d.log.Warn("update attendance failed",
			zap.Int64("record_id", target.ID), zap.Int64("lesson_id", lessonID), zap.Error(err))
		d.mu.Lock()
		d.postLocked(LevelError, "failed to update attendance", d.opts.NoticeTTL)
		d.mu.Unlock()
		res.Outcome, res.Detail = OutcomeFailed, err.Error()
		return res
	}

	d.mu.Lock()
	// The roster may have been replaced while the update was in flight.
	if d.seq == seq {
		for i := range d.roster {
			if d.roster[i].ID == target.ID {
				d.roster[i].Presence = update.Presence
				d.roster[i].AttendedAt = update.AttendedAt
				break
			}
		}
	}
	d.postLocked(LevelSuccess, "attendance marked", d.opts.SuccessTTL)
	d.mu.Unlock()

	res.Outcome = OutcomeMarked
	res.Record = &update
	return res
}

// findLocked locates the record a mark applies to, or returns -1 with the
// reason it does not apply.
func (d *Desk) findLocked(recordID, studentID, lessonID int64) (int, string) {
	if studentID == 0 || lessonID == 0 {
		return -1, "no student or lesson selected"
	}
	if d.state != RosterReady || d.lessonID != lessonID {
		return -1, fmt.Sprintf("roster for lesson %d is not loaded", lessonID)
	}
	for i, rec := range d.roster {
		if !rec.Matches(studentID, lessonID) {
			continue
		}
		if recordID != 0 && rec.ID != recordID {
			return -1, fmt.Sprintf("record %d does not belong to student %d", recordID, studentID)
		}
		return i, ""
	}
	return -1, fmt.Sprintf("no record for student %d in lesson %d", studentID, lessonID)
}

func (d *Desk) report(ctx context.Context, res MarkResult) {
	marksTotal.WithLabelValues(string(res.Source), string(res.Outcome)).Inc()
	if d.opts.OnMark != nil {
		d.opts.OnMark(ctx, res)
	}
}
