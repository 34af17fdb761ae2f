// Package attendance holds the desk's working attendance state for the
// selected lesson: which lessons still need a roster, the roster itself, and
// the presence marks applied to it.
package attendance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"attendancedesk/internal/academy"
	"attendancedesk/internal/qrtoken"
)

// ErrNoLesson is returned by operations that need a selected lesson.
var ErrNoLesson = errors.New("attendance: no lesson selected")

// State is the roster lifecycle of the selected lesson.
type State int

const (
	NoLessonSelected State = iota
	Resolving
	RosterReady
	RosterCreationFailed
)

func (s State) String() string {
	switch s {
	case Resolving:
		return "resolving"
	case RosterReady:
		return "roster_ready"
	case RosterCreationFailed:
		return "roster_creation_failed"
	default:
		return "no_lesson_selected"
	}
}

// MarshalText renders the state by name in JSON.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText parses a state name; unknown names read as NoLessonSelected.
func (s *State) UnmarshalText(b []byte) error {
	switch string(b) {
	case "resolving":
		*s = Resolving
	case "roster_ready":
		*s = RosterReady
	case "roster_creation_failed":
		*s = RosterCreationFailed
	default:
		*s = NoLessonSelected
	}
	return nil
}

// Origin tells where an installed roster came from.
type Origin string

const (
	OriginNone     Origin = ""
	OriginExisting Origin = "existing"
	OriginCreated  Origin = "created"
)

// Options tunes a Desk.
type Options struct {
	// FailOpen lists lessons whose probe failed as missing a session.
	FailOpen         bool
	ProbeConcurrency int
	NoticeTTL        time.Duration
	SuccessTTL       time.Duration
	// OnMark receives every mark outcome, including skips.
	OnMark func(context.Context, MarkResult)
}

// DefaultOptions mirrors the dashboard's behavior.
func DefaultOptions() Options {
	return Options{
		FailOpen:         true,
		ProbeConcurrency: 8,
		NoticeTTL:        5 * time.Second,
		SuccessTTL:       3 * time.Second,
	}
}

// RosterLoadResult describes one SelectLesson or CreateSession call.
type RosterLoadResult struct {
	LessonID int64  `json:"lesson_id"`
	State    State  `json:"state"`
	Origin   Origin `json:"origin,omitempty"`
	Kept     int    `json:"kept"`
	Dropped  int    `json:"dropped"`
	Message  string `json:"message,omitempty"`
	Count    int    `json:"count,omitempty"`
	// Stale is set when a newer selection superseded this one; nothing was installed.
	Stale bool `json:"stale,omitempty"`
}

// Desk is the attendance working state of one operator console. It is safe
// for concurrent use. Remote calls are made without holding the state lock;
// each selection carries a sequence number so a late answer for an older
// selection is discarded.
type Desk struct {
	remote Remote
	opts   Options
	log    *zap.Logger
	now    func() time.Time
	after  func(time.Duration, func())

	mu        sync.Mutex
	seq       uint64
	state     State
	lessonID  int64
	origin    Origin
	roster    []academy.AttendanceRecord
	missing   []academy.Lesson
	lessons   map[int64]academy.Lesson
	notices   []Notice
	noticeSeq uint64
	scanner   ScanDialog
	// removals counts missing-set removals; removedAt keeps the count at
	// which each lesson left the set.
	removals  uint64
	removedAt map[int64]uint64

	// markMu keeps two marks from interleaving.
	markMu sync.Mutex
}

// NewDesk builds a desk over remote.
func NewDesk(remote Remote, opts Options, log *zap.Logger) *Desk {
	def := DefaultOptions()
	if opts.ProbeConcurrency <= 0 {
		opts.ProbeConcurrency = def.ProbeConcurrency
	}
	if opts.NoticeTTL <= 0 {
		opts.NoticeTTL = def.NoticeTTL
	}
	if opts.SuccessTTL <= 0 {
		opts.SuccessTTL = def.SuccessTTL
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Desk{
		remote:    remote,
		opts:      opts,
		log:       log.Named("attendance"),
		now:       time.Now,
		after:     func(d time.Duration, f func()) { time.AfterFunc(d, f) },
		lessons:   map[int64]academy.Lesson{},
		removedAt: map[int64]uint64{},
	}
}

// ListLessonsMissingSession probes every lesson and returns, in input order,
// those without a roster. Lessons whose probe failed are included when the
// desk fails open. The result becomes the desk's missing set.
func (d *Desk) ListLessonsMissingSession(ctx context.Context, lessons []academy.Lesson) ([]academy.Lesson, error) {
	d.mu.Lock()
	since := d.removals
	d.mu.Unlock()

	results := make([]Existence, len(lessons))
	var g errgroup.Group
	g.SetLimit(d.opts.ProbeConcurrency)
	for i, l := range lessons {
		g.Go(func() error {
			results[i] = Probe(ctx, d.remote, l.ID)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("attendance: probe lessons: %w", err)
	}

	d.mu.Lock()
	missing := make([]academy.Lesson, 0, len(lessons))
	for i, l := range lessons {
		// a session opened while this refresh ran outranks its answer
		if at, ok := d.removedAt[l.ID]; ok && at > since {
			continue
		}
		switch results[i] {
		case Empty:
			missing = append(missing, l)
		case Unknown:
			if d.opts.FailOpen {
				missing = append(missing, l)
			}
		}
	}
	d.missing = missing
	for _, l := range lessons {
		d.lessons[l.ID] = l
	}
	d.mu.Unlock()

	d.log.Debug("missing sessions resolved", zap.Int("lessons", len(lessons)), zap.Int("missing", len(missing)))
	return cloneLessons(missing), nil
}

// RefreshMissing fetches all lessons and recomputes the missing set.
func (d *Desk) RefreshMissing(ctx context.Context) ([]academy.Lesson, error) {
	lessons, err := d.remote.Lessons(ctx)
	if err != nil {
		return nil, fmt.Errorf("attendance: list lessons: %w", err)
	}
	return d.ListLessonsMissingSession(ctx, lessons)
}

// Lookup returns a lesson seen by the last refresh.
func (d *Desk) Lookup(lessonID int64) (academy.Lesson, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.lessons[lessonID]
	return l, ok
}

// SelectLesson makes lessonID the working lesson. An existing roster is
// installed as is; a lesson without one gets a session opened. A fetch error
// counts as no records. lessonID 0 clears the selection.
func (d *Desk) SelectLesson(ctx context.Context, lessonID int64) (RosterLoadResult, error) {
	seq, ok := d.begin(lessonID)
	if !ok {
		return RosterLoadResult{State: NoLessonSelected}, nil
	}

	recs, err := d.remote.FetchAttendance(ctx, lessonID)
	if err != nil {
		d.log.Debug("fetch attendance failed, opening a session",
			zap.Int64("lesson_id", lessonID), zap.Error(err))
		recs = nil
	}
	if len(recs) == 0 {
		d.mu.Lock()
		superseded := d.seq != seq
		d.mu.Unlock()
		if superseded {
			return RosterLoadResult{LessonID: lessonID, Stale: true}, nil
		}
		return d.createSession(ctx, lessonID, seq)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seq != seq {
		return RosterLoadResult{LessonID: lessonID, Stale: true}, nil
	}
	roster := make([]academy.AttendanceRecord, 0, len(recs))
	for _, rec := range recs {
		roster = append(roster, rec.Normalize(lessonID))
	}
	d.roster = roster
	d.state = RosterReady
	d.origin = OriginExisting
	return RosterLoadResult{LessonID: lessonID, State: RosterReady, Origin: OriginExisting, Kept: len(roster)}, nil
}

// CreateSession opens the lesson's roster on the backend and installs it.
// Records whose student carries a malformed QR credential are dropped.
func (d *Desk) CreateSession(ctx context.Context, lessonID int64) (RosterLoadResult, error) {
	if lessonID == 0 {
		return RosterLoadResult{}, ErrNoLesson
	}
	seq, _ := d.begin(lessonID)
	return d.createSession(ctx, lessonID, seq)
}

// begin starts a new selection and returns its sequence number. It reports
// false when lessonID clears the selection.
func (d *Desk) begin(lessonID int64) (uint64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seq++
	d.lessonID = lessonID
	d.roster = nil
	d.origin = OriginNone
	if lessonID == 0 {
		d.state = NoLessonSelected
		return d.seq, false
	}
	d.state = Resolving
	return d.seq, true
}

func (d *Desk) createSession(ctx context.Context, lessonID int64, seq uint64) (RosterLoadResult, error) {
	sess, err := d.remote.OpenSession(ctx, lessonID)

	d.mu.Lock()
	defer d.mu.Unlock()

	if err != nil {
		sessionsOpened.WithLabelValues("error").Inc()
		d.log.Warn("open session failed", zap.Int64("lesson_id", lessonID), zap.Error(err))
		if d.seq != seq {
			return RosterLoadResult{LessonID: lessonID, Stale: true}, nil
		}
		d.state = RosterCreationFailed
		d.postLocked(LevelError, "failed to create attendance session", d.opts.NoticeTTL)
		return RosterLoadResult{LessonID: lessonID, State: RosterCreationFailed},
			fmt.Errorf("attendance: open session for lesson %d: %w", lessonID, err)
	}
	sessionsOpened.WithLabelValues("ok").Inc()

	// The backend now has a roster whether or not this answer is still wanted.
	d.removeMissingLocked(lessonID)

	kept := make([]academy.AttendanceRecord, 0, len(sess.Records))
	for _, rec := range sess.Records {
		if tok := rec.QRCode(); tok != "" && !qrtoken.Valid(tok) {
			d.log.Warn("dropping record with malformed qr code",
				zap.Int64("lesson_id", lessonID), zap.Int64("record_id", rec.ID))
			continue
		}
		kept = append(kept, rec.Normalize(lessonID))
	}
	dropped := len(sess.Records) - len(kept)
	recordsDropped.Add(float64(dropped))

	res := RosterLoadResult{
		LessonID: lessonID,
		Origin:   OriginCreated,
		Kept:     len(kept),
		Dropped:  dropped,
		Message:  sess.Message,
		Count:    sess.Count,
	}
	if d.seq != seq {
		res.Stale = true
		return res, nil
	}

	d.roster = kept
	d.state = RosterReady
	d.origin = OriginCreated
	res.State = RosterReady

	d.postLocked(LevelInfo, fmt.Sprintf("%s (%d students enrolled)", sess.Message, sess.Count), d.opts.NoticeTTL)
	if dropped > 0 {
		d.postLocked(LevelWarning, fmt.Sprintf("%d record(s) skipped: invalid QR code", dropped), d.opts.NoticeTTL)
	}
	return res, nil
}

func (d *Desk) removeMissingLocked(lessonID int64) {
	d.removals++
	d.removedAt[lessonID] = d.removals
	out := d.missing[:0:0]
	for _, l := range d.missing {
		if l.ID != lessonID {
			out = append(out, l)
		}
	}
	d.missing = out
}

// Snapshot is a read-only copy of the desk state.
type Snapshot struct {
	State    State                      `json:"state"`
	LessonID int64                      `json:"lesson_id,omitempty"`
	Origin   Origin                     `json:"origin,omitempty"`
	Roster   []academy.AttendanceRecord `json:"roster"`
	Missing  []academy.Lesson           `json:"missing"`
	Notices  []Notice                   `json:"notices"`
	Scanner  ScanDialog                 `json:"scanner"`
}

// View returns the current state with the roster narrowed by query.
func (d *Desk) View(query string) Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Snapshot{
		State:    d.state,
		LessonID: d.lessonID,
		Origin:   d.origin,
		Roster:   filterRoster(d.roster, query),
		Missing:  cloneLessons(d.missing),
		Notices:  append([]Notice{}, d.notices...),
		Scanner:  d.scanner,
	}
}

func cloneLessons(in []academy.Lesson) []academy.Lesson {
	return append([]academy.Lesson{}, in...)
}
