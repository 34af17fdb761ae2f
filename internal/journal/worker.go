package journal

import (
	"context"

	"go.uber.org/zap"

	"attendancedesk/internal/queue"
)

// ScanMessageType tags journal messages on the queue.
const ScanMessageType = "scan"

// Recorder journals one event.
type Recorder interface {
	Record(ctx context.Context, evt ScanEvent) (ScanEvent, error)
}

// Drain records every scan message from q until ctx ends or the consumer
// channel closes. Events without a student or lesson, such as a scan with no
// student selected, are logged and dropped.
func Drain(ctx context.Context, q queue.Queue, rec Recorder, log *zap.Logger) error {
	messages, err := q.Consume(ctx)
	if err != nil {
		return err
	}
	log.Info("journal worker started")
	for msg := range messages {
		if msg.Type != ScanMessageType {
			log.Debug("ignoring message", zap.String("type", msg.Type))
			continue
		}
		var evt ScanEvent
		if err := msg.Decode(&evt); err != nil {
			log.Warn("bad scan message", zap.Error(err))
			continue
		}
		if evt.LessonID == 0 || evt.StudentID == 0 {
			log.Debug("dropping scan without student or lesson", zap.String("outcome", evt.Outcome))
			continue
		}
		saved, err := rec.Record(ctx, evt)
		if err != nil {
			log.Error("record scan failed", zap.Error(err),
				zap.Int64("lesson_id", evt.LessonID), zap.Int64("student_id", evt.StudentID))
			continue
		}
		log.Debug("scan recorded", zap.String("id", saved.ID), zap.String("outcome", saved.Outcome))
	}
	log.Info("journal worker stopped")
	return nil
}
