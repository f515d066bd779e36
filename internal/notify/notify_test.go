package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GarussMisha/VK-masscan/internal/history"
	"github.com/GarussMisha/VK-masscan/internal/logging"
)

func testLogger() *logging.Logger {
	logger, _ := logging.New(logging.Config{
		Level:  logging.LevelError,
		Format: logging.FormatText,
		Output: "stderr",
	})
	return logger
}

func newTestNotifier(apiBase string) *Notifier {
	n := New("42:token", "777", true, testLogger())
	n.apiBase = apiBase
	return n
}

func TestSendSuccess(t *testing.T) {
	var gotPath, gotText, gotChat, gotMode string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, r.ParseForm())
		gotText = r.Form.Get("text")
		gotChat = r.Form.Get("chat_id")
		gotMode = r.Form.Get("parse_mode")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := newTestNotifier(srv.URL)
	ok := n.Send(context.Background(), "<b>hello</b>")

	assert.True(t, ok)
	assert.Equal(t, "/bot42:token/sendMessage", gotPath)
	assert.Equal(t, "<b>hello</b>", gotText)
	assert.Equal(t, "777", gotChat)
	assert.Equal(t, "HTML", gotMode)
}

func TestSendAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"ok":false,"description":"Bad Request"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	n := newTestNotifier(srv.URL)
	assert.False(t, n.Send(context.Background(), "msg"))
}

func TestSendTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused

	n := newTestNotifier(srv.URL)
	assert.False(t, n.Send(context.Background(), "msg"))
}

func TestSendFallbackOnCanceledContext(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := newTestNotifier(srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Primary attempt dies on the canceled context before reaching the
	// server; the fallback attempt without the context succeeds.
	ok := n.Send(ctx, "shutdown notice")
	assert.True(t, ok)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSendNoFallbackOnOtherErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := newTestNotifier(srv.URL)
	ok := n.Send(context.Background(), "msg")

	assert.False(t, ok)
	assert.Equal(t, int32(1), calls.Load(), "non-cancellation failures get no fallback")
}

func TestSendDisabled(t *testing.T) {
	n := New("", "", false, testLogger())
	n.apiBase = "http://127.0.0.1:0" // would fail if contacted

	assert.True(t, n.Send(context.Background(), "msg"))
}

func TestNewPortsFormatting(t *testing.T) {
	msg := NewPorts("192.0.2.1", []uint16{22, 8080}, map[uint16]string{
		22:   "ssh OpenSSH 9.6",
		8080: "",
	})

	assert.Contains(t, msg, "<b>New open ports</b>")
	assert.Contains(t, msg, "<code>192.0.2.1</code>")
	assert.Contains(t, msg, "<b>22</b> — ssh OpenSSH 9.6")
	assert.Contains(t, msg, "<b>8080</b> — unknown")
	assert.Regexp(t, `Time: \d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}`, msg)
}

func TestMessagesCarryEventTime(t *testing.T) {
	fixed := time.Date(2026, 8, 23, 14, 5, 1, 0, time.Local)
	now = func() time.Time { return fixed }
	defer func() { now = time.Now }()

	complete := ScanComplete("office", 3, 7, 90*time.Second)
	assert.Contains(t, complete, "Time: 2026-08-23 14:05:01")

	fresh := NewPorts("192.0.2.1", []uint16{22}, map[uint16]string{22: "ssh"})
	assert.Contains(t, fresh, "Time: 2026-08-23 14:05:01")
}

func TestChangedServicesFormatting(t *testing.T) {
	msg := ChangedServices("192.0.2.1", map[uint16]history.ServiceChange{
		443: {Old: "https nginx 1.22", New: "https nginx 1.24"},
		22:  {Old: "ssh", New: "ssh OpenSSH"},
	})

	assert.Contains(t, msg, "<b>Service changes</b>")
	// Ports listed in ascending order.
	assert.Less(t, strings.Index(msg, "<b>22</b>"), strings.Index(msg, "<b>443</b>"))
	assert.Contains(t, msg, "https nginx 1.22 → https nginx 1.24")
}

func TestFormattersEscapeHTML(t *testing.T) {
	msg := NewPorts("192.0.2.1", []uint16{80}, map[uint16]string{
		80: "http <weird & banner>",
	})
	assert.Contains(t, msg, "http &lt;weird &amp; banner&gt;")

	msg = ScanStarted("office <lab>", "10.0.0.0/8")
	assert.Contains(t, msg, "office &lt;lab&gt;")
}

func TestScheduleLifecycleFormatting(t *testing.T) {
	started := ScheduleStarted(3, "12h")
	assert.Contains(t, started, "<b>Schedule started</b>")
	assert.Contains(t, started, "Targets: 3")

	stopped := ScheduleStopped(7, 4242)
	assert.Contains(t, stopped, "<b>Schedule stopped</b>")
	assert.Contains(t, stopped, "Cycles completed: 7")
	assert.Contains(t, stopped, "Port checks: 4242")
}
