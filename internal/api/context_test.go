package api

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"attendancedesk/internal/academy"
	"attendancedesk/internal/attendance"
	"attendancedesk/internal/queue"
)

func TestPublishMarksDoesNotStallWhenQueueFull(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	q := queue.NewInMemory(2)
	opts := attendance.DefaultOptions()
	opts.OnMark = PublishMarks(q, zap.New(core))
	desk := attendance.NewDesk(&stubRemote{records: map[int64][]academy.AttendanceRecord{}}, opts, nil)

	for i := 0; i < 4; i++ {
		start := time.Now()
		res := desk.MarkPresent(context.Background(), 0, 5, 7)
		assert.Equal(t, attendance.OutcomeSkipped, res.Outcome)
		assert.Less(t, time.Since(start), 500*time.Millisecond, "mark %d", i)
	}

	full := logs.FilterMessage("queue publish failed").All()
	assert.Len(t, full, 2)
	for _, entry := range full {
		assert.Equal(t, queue.ErrFull.Error(), entry.ContextMap()["error"])
	}
}
