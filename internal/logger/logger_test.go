package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureJSON(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	SetFormat("json")
	SetLevel("debug")
	t.Cleanup(func() {
		SetOutput(os.Stdout)
		SetFormat("text")
		SetLevel("info")
	})
	return &buf
}

func lastEntry(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.NotEmpty(t, lines)
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(lines[len(lines)-1], &entry))
	return entry
}

func TestSetLevel(t *testing.T) {
	defer SetLevel("info")

	SetLevel("warn")
	assert.Equal(t, logrus.WarnLevel, Logger.GetLevel())

	SetLevel("nonsense")
	assert.Equal(t, logrus.InfoLevel, Logger.GetLevel())
}

func TestWithContext(t *testing.T) {
	buf := captureJSON(t)

	ctx := ContextWithRequestID(context.Background(), "req-1")
	WithContext(ctx).WithField("service", "elaine").Info("Start requested")

	entry := lastEntry(t, buf)
	assert.Equal(t, "req-1", entry["request_id"])
	assert.Equal(t, "elaine", entry["service"])
	assert.Equal(t, "Start requested", entry["msg"])
}

func TestRequestLogger(t *testing.T) {
	buf := captureJSON(t)

	e := echo.New()
	e.Use(RequestLogger())
	e.GET("/boom", func(c echo.Context) error {
		GetLogger(c).Info("inside")
		return echo.NewHTTPError(http.StatusTeapot, "nope")
	})

	req := httptest.NewRequest(http.MethodGet, "/boom", nil)
	req.Header.Set(echo.HeaderXRequestID, "abc")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "abc", rec.Header().Get(echo.HeaderXRequestID))

	entry := lastEntry(t, buf)
	assert.Equal(t, "abc", entry["request_id"])
	assert.Equal(t, "warning", entry["level"])
	assert.EqualValues(t, http.StatusTeapot, entry["status"])
	assert.Contains(t, buf.String(), `"msg":"inside"`)
}
