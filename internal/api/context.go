package api

import (
	"context"
	"time"

	"go.uber.org/zap"

	"attendancedesk/internal/attendance"
	"attendancedesk/internal/journal"
	"attendancedesk/internal/queue"
)

type deviceKey struct{}

func withDevice(ctx context.Context, deviceID string) context.Context {
	return context.WithValue(ctx, deviceKey{}, deviceID)
}

// DeviceFrom returns the device a request was made by, if known.
func DeviceFrom(ctx context.Context) string {
	id, _ := ctx.Value(deviceKey{}).(string)
	return id
}

// ScanEvent converts a mark outcome into its journal form.
func ScanEvent(ctx context.Context, res attendance.MarkResult) journal.ScanEvent {
	return journal.ScanEvent{
		LessonID:   res.LessonID,
		StudentID:  res.StudentID,
		RecordID:   res.RecordID,
		DeviceID:   DeviceFrom(ctx),
		Source:     string(res.Source),
		Outcome:    string(res.Outcome),
		Detail:     res.Detail,
		OccurredAt: res.At.UTC(),
	}
}

// PublishMarks returns an attendance.Options.OnMark hook that puts every
// outcome on q for the journal worker. Publishing never blocks the mark for
// long and its failure is only logged.
func PublishMarks(q queue.Queue, log *zap.Logger) func(context.Context, attendance.MarkResult) {
	return func(ctx context.Context, res attendance.MarkResult) {
		evt := ScanEvent(ctx, res)
		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := queue.PublishJSON(pubCtx, q, journal.ScanMessageType, evt); err != nil {
			log.Warn("queue publish failed", zap.Error(err),
				zap.Int64("lesson_id", evt.LessonID), zap.Int64("student_id", evt.StudentID))
		}
	}
}
