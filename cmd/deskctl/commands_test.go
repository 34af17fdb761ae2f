package main

import (
	"bytes"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeAcademy(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/lessons", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `[{"id":7,"lesson_title":"Tajweed","lesson_date":"2026-10-01"},{"id":8,"lesson_title":"Hifz","lesson_date":"2026-10-02"}]`)
	})
	mux.HandleFunc("/api/v1/atten/7", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("/api/v1/atten/8", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"attendances":[{"id":80,"lesson_id":8,"student_id":5,"student":{"id":5,"name":"Amina","email":"a@x.io"},"student_attendance":null}]}`)
	})
	mux.HandleFunc("/api/v1/atten/update/80", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"message":"updated"}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestPending(t *testing.T) {
	srv := fakeAcademy(t)
	out, err := run(t, "pending", "--upstream", srv.URL+"/api/v1")
	require.NoError(t, err)
	assert.Contains(t, out, "Tajweed - 2026-10-01")
	assert.NotContains(t, out, "Hifz")
}

func TestRosterAndMark(t *testing.T) {
	srv := fakeAcademy(t)
	out, err := run(t, "roster", "8", "--upstream", srv.URL+"/api/v1", "-q", "ami")
	require.NoError(t, err)
	assert.Contains(t, out, "Amina")
	assert.Contains(t, out, "unset")

	out, err = run(t, "mark", "8", "5", "--upstream", srv.URL+"/api/v1")
	require.NoError(t, err)
	assert.Equal(t, "marked\n", out)

	out, err = run(t, "mark", "8", "5", "--record", "42", "--upstream", srv.URL+"/api/v1")
	require.NoError(t, err)
	assert.Contains(t, out, "skipped")
}

func TestExport(t *testing.T) {
	srv := fakeAcademy(t)
	path := filepath.Join(t.TempDir(), "roster.xlsx")
	out, err := run(t, "export", "8", "-o", path, "--upstream", srv.URL+"/api/v1")
	require.NoError(t, err)
	assert.Contains(t, out, "wrote 1 rows")
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestQR(t *testing.T) {
	out, err := run(t, "qr", base64.StdEncoding.EncodeToString([]byte(`{"student_id":5}`)))
	require.NoError(t, err)
	assert.JSONEq(t, `{"student_id":5}`, out)

	_, err = run(t, "qr", "nope!")
	assert.Error(t, err)
}

func TestBadLessonID(t *testing.T) {
	_, err := run(t, "roster", "abc")
	assert.ErrorContains(t, err, "invalid id")
}
