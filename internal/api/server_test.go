package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"attendancedesk/internal/academy"
	"attendancedesk/internal/attendance"
	"attendancedesk/internal/auth"
	"attendancedesk/internal/config"
	"attendancedesk/internal/journal"
	"attendancedesk/internal/queue"
)

func init() { gin.SetMode(gin.TestMode) }

type stubRemote struct {
	mu        sync.Mutex
	lessons   []academy.Lesson
	records   map[int64][]academy.AttendanceRecord
	session   academy.Session
	updateErr error
	updates   int
}

func (s *stubRemote) Lessons(context.Context) ([]academy.Lesson, error) { return s.lessons, nil }

func (s *stubRemote) FetchAttendance(_ context.Context, id int64) ([]academy.AttendanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs, ok := s.records[id]
	if !ok {
		return nil, &academy.StatusError{Status: http.StatusNotFound}
	}
	return recs, nil
}

func (s *stubRemote) OpenSession(_ context.Context, id int64) (academy.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[id] = s.session.Records
	return s.session, nil
}

func (s *stubRemote) UpdateAttendance(_ context.Context, _ int64, rec academy.AttendanceRecord) (academy.AttendanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates++
	return rec, s.updateErr
}

type stubUpstream struct{ token string }

func (s stubUpstream) Login(_ context.Context, email, _ string) (string, error) {
	if email != "instructor@academy.test" {
		return "", &academy.StatusError{Status: http.StatusUnauthorized}
	}
	return s.token, nil
}

type stubJournal struct {
	mu      sync.Mutex
	devices map[string]string
	tokens  map[string]string
	scans   []journal.ScanEvent
	filter  journal.Filter
}

func (j *stubJournal) RegisterDevice(_ context.Context, id, role string) error {
	j.devices[id] = role
	return nil
}

func (j *stubJournal) SaveRefreshToken(_ context.Context, device, token string, _ time.Time) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.tokens[token] = device
	return nil
}

func (j *stubJournal) RedeemRefreshToken(_ context.Context, device, token string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	owner, ok := j.tokens[token]
	delete(j.tokens, token)
	if !ok || owner != device {
		return journal.ErrNotFound
	}
	return nil
}

func (j *stubJournal) Get(_ context.Context, id string) (journal.ScanEvent, error) {
	for _, evt := range j.scans {
		if evt.ID == id {
			return evt, nil
		}
	}
	return journal.ScanEvent{}, journal.ErrNotFound
}

func (j *stubJournal) List(_ context.Context, f journal.Filter) ([]journal.ScanEvent, error) {
	j.filter = f
	return j.scans, nil
}

type harness struct {
	router  *gin.Engine
	remote  *stubRemote
	journal *stubJournal
	creds   *auth.Credentials
	queue   *queue.InMemory
	token   string
}

func testConfig() config.App {
	return config.App{
		JWTIssuer:       "desk-test",
		JWTSigningKey:   "test-signing-key",
		AccessTTL:       time.Minute,
		RefreshTTL:      time.Hour,
		RateLimitPerMin: 1000,
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := testConfig()
	remote := &stubRemote{
		lessons: []academy.Lesson{{ID: 7, Title: "Tajweed", Date: "2026-10-01"}, {ID: 8, Title: "Hifz", Date: "2026-10-02"}},
		records: map[int64][]academy.AttendanceRecord{
			8: {{ID: 80, LessonID: academy.ID64(8), StudentID: academy.ID64(5), Student: &academy.Student{ID: 5, Name: "Amina"}}},
		},
		session: academy.Session{Message: "Attendance created", Count: 2, Records: []academy.AttendanceRecord{
			{ID: 70, Lesson: &academy.Lesson{ID: 7}, Student: &academy.Student{ID: 5, Name: "Amina"}},
			{ID: 71, Lesson: &academy.Lesson{ID: 7}, Student: &academy.Student{ID: 6, Name: "Bilal", QRCode: "%%"}},
		}},
	}
	q := queue.NewInMemory(16)
	opts := attendance.DefaultOptions()
	opts.OnMark = PublishMarks(q, zap.NewNop())
	desk := attendance.NewDesk(remote, opts, nil)

	j := &stubJournal{devices: map[string]string{}, tokens: map[string]string{}}
	creds := auth.NewCredentials("")
	srv := New(Deps{
		Config:      cfg,
		Desk:        desk,
		Upstream:    stubUpstream{token: "upstream-token"},
		Credentials: creds,
		Journal:     j,
		Health:      map[string]HealthCheck{"redis": func(context.Context) bool { return true }},
	})

	pair, err := auth.Issue("gate-1", auth.RoleConsole, cfg.JWTIssuer, cfg.JWTSigningKey, time.Minute, time.Hour)
	require.NoError(t, err)
	return &harness{router: srv.Router(), remote: remote, journal: j, creds: creds, queue: q, token: pair.AccessToken}
}

func (h *harness) do(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func TestHealthz(t *testing.T) {
	h := newHarness(t)
	w := h.do(http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","redis":true}`, w.Body.String())
}

func TestV1RequiresToken(t *testing.T) {
	h := newHarness(t)
	h.token = ""
	assert.Equal(t, http.StatusUnauthorized, h.do(http.MethodGet, "/v1/roster", nil).Code)
}

func TestRegisterDevice(t *testing.T) {
	h := newHarness(t)
	h.token = ""
	w := h.do(http.MethodPost, "/v1/devices/register", map[string]string{"device_id": "gate-2"})
	require.Equal(t, http.StatusCreated, w.Code)
	body := decode[map[string]any](t, w)
	assert.NotEmpty(t, body["access_token"])
	assert.Equal(t, auth.RoleScanner, h.journal.devices["gate-2"])

	w = h.do(http.MethodPost, "/v1/devices/register", map[string]string{"device_id": "x", "role": "admin"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRefreshDevice(t *testing.T) {
	h := newHarness(t)
	h.token = ""
	w := h.do(http.MethodPost, "/v1/devices/register", map[string]string{"device_id": "gate-2"})
	require.Equal(t, http.StatusCreated, w.Code)
	first := decode[map[string]any](t, w)
	refresh := first["refresh_token"].(string)

	h.token = refresh
	assert.Equal(t, http.StatusUnauthorized, h.do(http.MethodGet, "/v1/roster", nil).Code, "refresh token is not a bearer token")

	h.token = ""
	w = h.do(http.MethodPost, "/v1/devices/refresh", map[string]string{"refresh_token": first["access_token"].(string)})
	assert.Equal(t, http.StatusUnauthorized, w.Code, "access token cannot refresh")

	w = h.do(http.MethodPost, "/v1/devices/refresh", map[string]string{"refresh_token": refresh})
	require.Equal(t, http.StatusOK, w.Code)
	second := decode[map[string]any](t, w)
	assert.NotEqual(t, refresh, second["refresh_token"])

	h.token = second["access_token"].(string)
	assert.Equal(t, http.StatusOK, h.do(http.MethodGet, "/v1/roster", nil).Code)

	h.token = ""
	w = h.do(http.MethodPost, "/v1/devices/refresh", map[string]string{"refresh_token": refresh})
	assert.Equal(t, http.StatusUnauthorized, w.Code, "refresh tokens redeem once")
}

func TestConsoleRoutesRejectScanners(t *testing.T) {
	h := newHarness(t)
	cfg := testConfig()
	pair, err := auth.Issue("gate-9", auth.RoleScanner, cfg.JWTIssuer, cfg.JWTSigningKey, time.Minute, time.Hour)
	require.NoError(t, err)
	h.token = pair.AccessToken

	assert.Equal(t, http.StatusForbidden, h.do(http.MethodPut, "/v1/roster/lesson", map[string]int64{"lesson_id": 8}).Code)
	assert.Equal(t, http.StatusForbidden, h.do(http.MethodPost, "/v1/roster/lessons/7/session", nil).Code)
	assert.Equal(t, http.StatusForbidden, h.do(http.MethodPost, "/v1/upstream/login", map[string]string{"email": "instructor@academy.test", "password": "pw"}).Code)
	assert.Empty(t, h.creds.Token())

	assert.Equal(t, http.StatusOK, h.do(http.MethodGet, "/v1/roster", nil).Code)
}

func TestUpstreamLoginLogout(t *testing.T) {
	h := newHarness(t)
	w := h.do(http.MethodPost, "/v1/upstream/login", map[string]string{"email": "instructor@academy.test", "password": "pw"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "upstream-token", h.creds.Token())

	w = h.do(http.MethodPost, "/v1/upstream/login", map[string]string{"email": "nobody@academy.test", "password": "pw"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	assert.Equal(t, http.StatusNoContent, h.do(http.MethodPost, "/v1/upstream/logout", nil).Code)
	assert.Empty(t, h.creds.Token())
}

func TestPendingSelectAndMark(t *testing.T) {
	h := newHarness(t)

	w := h.do(http.MethodGet, "/v1/lessons/pending", nil)
	require.Equal(t, http.StatusOK, w.Code)
	pending := decode[struct {
		Lessons []academy.Lesson `json:"lessons"`
	}](t, w)
	require.Len(t, pending.Lessons, 1)
	assert.Equal(t, int64(7), pending.Lessons[0].ID)

	w = h.do(http.MethodPut, "/v1/roster/lesson", map[string]int64{"lesson_id": 7})
	require.Equal(t, http.StatusOK, w.Code)
	res := decode[attendance.RosterLoadResult](t, w)
	assert.Equal(t, 1, res.Kept)
	assert.Equal(t, 1, res.Dropped)
	assert.Equal(t, attendance.OriginCreated, res.Origin)

	w = h.do(http.MethodGet, "/v1/roster?q=ami", nil)
	require.Equal(t, http.StatusOK, w.Code)
	snap := decode[map[string]any](t, w)
	assert.Equal(t, "roster_ready", snap["state"])
	assert.Len(t, snap["roster"], 1)
	assert.Empty(t, snap["missing"])

	w = h.do(http.MethodPost, "/v1/roster/mark", map[string]int64{"student_id": 5, "lesson_id": 7})
	require.Equal(t, http.StatusOK, w.Code)
	mark := decode[attendance.MarkResult](t, w)
	assert.Equal(t, attendance.OutcomeMarked, mark.Outcome)
	assert.Equal(t, int64(70), mark.RecordID)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msgs, err := h.queue.Consume(ctx)
	require.NoError(t, err)
	msg := <-msgs
	assert.Equal(t, journal.ScanMessageType, msg.Type)
	var evt journal.ScanEvent
	require.NoError(t, msg.Decode(&evt))
	assert.Equal(t, "gate-1", evt.DeviceID)
	assert.Equal(t, "marked", evt.Outcome)
	assert.Equal(t, "manual", evt.Source)
}

func TestSelectZeroClears(t *testing.T) {
	h := newHarness(t)
	w := h.do(http.MethodPut, "/v1/roster/lesson", map[string]int64{"lesson_id": 0})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "no_lesson_selected", decode[map[string]any](t, w)["state"])

	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodPut, "/v1/roster/lesson", map[string]any{}).Code)
}

func TestScannerFlow(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, http.StatusOK, h.do(http.MethodPut, "/v1/roster/lesson", map[string]int64{"lesson_id": 8}).Code)

	w := h.do(http.MethodPost, "/v1/roster/scanner", map[string]int64{"student_id": 5})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"open":true,"student_id":5}`, w.Body.String())

	w = h.do(http.MethodPost, "/v1/roster/scan", map[string]string{"payload": "not json!"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, 0, h.remote.updates)

	h.do(http.MethodPost, "/v1/roster/scanner", map[string]int64{"student_id": 5})
	payload := "h." + base64.StdEncoding.EncodeToString([]byte(`{"id":5}`)) + ".s"
	w = h.do(http.MethodPost, "/v1/roster/scan", map[string]string{"payload": payload})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, attendance.OutcomeMarked, decode[attendance.MarkResult](t, w).Outcome)

	assert.Equal(t, http.StatusNoContent, h.do(http.MethodDelete, "/v1/roster/scanner", nil).Code)
}

func TestMarkFailureIsBadGateway(t *testing.T) {
	h := newHarness(t)
	h.remote.updateErr = assert.AnError
	require.Equal(t, http.StatusOK, h.do(http.MethodPut, "/v1/roster/lesson", map[string]int64{"lesson_id": 8}).Code)

	w := h.do(http.MethodPost, "/v1/roster/mark", map[string]int64{"student_id": 5, "lesson_id": 8})
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, attendance.OutcomeFailed, decode[attendance.MarkResult](t, w).Outcome)
}

func TestExportRoster(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, http.StatusConflict, h.do(http.MethodGet, "/v1/roster/export", nil).Code)

	require.Equal(t, http.StatusOK, h.do(http.MethodPut, "/v1/roster/lesson", map[string]int64{"lesson_id": 8}).Code)
	w := h.do(http.MethodGet, "/v1/roster/export", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "attendance-lesson-8.xlsx")
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("PK")), "xlsx is a zip archive")
}

func TestCreateSessionRoute(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodPost, "/v1/roster/lessons/abc/session", nil).Code)

	w := h.do(http.MethodPost, "/v1/roster/lessons/7/session", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "roster_ready", decode[map[string]any](t, w)["state"])
}

func TestValidateQR(t *testing.T) {
	h := newHarness(t)
	w := h.do(http.MethodPost, "/v1/qr/validate", map[string]string{"token": base64.StdEncoding.EncodeToString([]byte(`{"sid":5}`))})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"valid":true,"claims":{"sid":5}}`, w.Body.String())

	w = h.do(http.MethodPost, "/v1/qr/validate", map[string]string{"token": ""})
	assert.JSONEq(t, `{"valid":false}`, w.Body.String())
}

func TestListScans(t *testing.T) {
	h := newHarness(t)
	h.journal.scans = []journal.ScanEvent{{ID: "e1", LessonID: 7, StudentID: 5, Outcome: "marked"}}

	w := h.do(http.MethodGet, "/v1/scans?lesson_id=7&limit=10", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(7), h.journal.filter.LessonID)
	assert.Equal(t, 10, h.journal.filter.Limit)
	body := decode[struct {
		Scans []journal.ScanEvent `json:"scans"`
	}](t, w)
	require.Len(t, body.Scans, 1)
	assert.Equal(t, "e1", body.Scans[0].ID)
}

func TestGetScan(t *testing.T) {
	h := newHarness(t)
	h.journal.scans = []journal.ScanEvent{{ID: "e1", LessonID: 7, StudentID: 5, Outcome: "marked"}}

	w := h.do(http.MethodGet, "/v1/scans/e1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "e1", decode[journal.ScanEvent](t, w).ID)

	assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/v1/scans/nope", nil).Code)
}
