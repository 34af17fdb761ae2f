package attendance

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"time"

	"attendancedesk/internal/academy"
)

var errBoom = errors.New("boom")

type fakeRemote struct {
	mu       sync.Mutex
	lessons  []academy.Lesson
	records  map[int64][]academy.AttendanceRecord
	fetchErr map[int64]error
	sessions map[int64]academy.Session
	openErr  error
	// gate, when set for a lesson, blocks FetchAttendance until closed.
	gate      map[int64]chan struct{}
	waiting   map[int64]int
	updateErr error
	updates   []academy.AttendanceRecord
	opened    []int64
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		records:  map[int64][]academy.AttendanceRecord{},
		fetchErr: map[int64]error{},
		sessions: map[int64]academy.Session{},
		gate:     map[int64]chan struct{}{},
		waiting:  map[int64]int{},
	}
}

func (f *fakeRemote) Lessons(context.Context) ([]academy.Lesson, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]academy.Lesson{}, f.lessons...), nil
}

func (f *fakeRemote) FetchAttendance(ctx context.Context, lessonID int64) ([]academy.AttendanceRecord, error) {
	f.mu.Lock()
	gate := f.gate[lessonID]
	if gate != nil {
		f.waiting[lessonID]++
	}
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fetchErr[lessonID]; err != nil {
		return nil, err
	}
	return append([]academy.AttendanceRecord{}, f.records[lessonID]...), nil
}

func (f *fakeRemote) OpenSession(_ context.Context, lessonID int64) (academy.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened = append(f.opened, lessonID)
	if f.openErr != nil {
		return academy.Session{}, f.openErr
	}
	sess := f.sessions[lessonID]
	f.records[lessonID] = append([]academy.AttendanceRecord{}, sess.Records...)
	return sess, nil
}

func (f *fakeRemote) UpdateAttendance(_ context.Context, id int64, rec academy.AttendanceRecord) (academy.AttendanceRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, rec)
	if f.updateErr != nil {
		return academy.AttendanceRecord{}, f.updateErr
	}
	return rec, nil
}

// blocked reports whether a fetch for lessonID is waiting on its gate.
func (f *fakeRemote) blocked(lessonID int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.waiting[lessonID] > 0
}

func (f *fakeRemote) openedLessons() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64{}, f.opened...)
}

func (f *fakeRemote) updateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.updates)
}

// timers collects scheduled notice expiries so tests can fire them.
type timers struct {
	mu  sync.Mutex
	fns []scheduled
}

type scheduled struct {
	after time.Duration
	fn    func()
}

func (t *timers) after(d time.Duration, fn func()) {
	t.mu.Lock()
	t.fns = append(t.fns, scheduled{after: d, fn: fn})
	t.mu.Unlock()
}

func (t *timers) fire(i int) {
	t.mu.Lock()
	fn := t.fns[i].fn
	t.mu.Unlock()
	fn()
}

func newTestDesk(r Remote, opts Options) (*Desk, *timers) {
	d := NewDesk(r, opts, nil)
	tm := &timers{}
	d.after = tm.after
	d.now = func() time.Time { return time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC) }
	return d, tm
}

func validToken() string {
	return "eyJhbGciOiJIUzI1NiJ9." + base64.RawStdEncoding.EncodeToString([]byte(`{"student_id":5}`)) + ".sig"
}

func student(id int64, name, qr string) *academy.Student {
	return &academy.Student{ID: id, Name: name, Email: name + "@academy.test", QRCode: qr}
}
