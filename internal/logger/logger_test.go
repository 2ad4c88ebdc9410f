package logger

import (
	"bytes"
	"os"
	"strings"
	"testing"
)

func capture(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w
	defer func() { os.Stdout = old }()

	fn()

	w.Close()
	var buf bytes.Buffer
	buf.ReadFrom(r)
	return buf.String()
}

func TestInfo_Success_Warn_Error_NoPanic(t *testing.T) {
	out := capture(t, func() {
		Info("TAG", "message")
		Success("TAG", "message")
		Warn("TAG", "message")
		Error("TAG", "message")
	})
	for _, level := range []string{"INFO", "OK", "WARN", "ERROR"} {
		if !strings.Contains(out, level) {
			t.Errorf("output missing level %s", level)
		}
	}
}

func TestBanner_NoPanic(t *testing.T) {
	out := capture(t, func() {
		Banner("v1.0.0")
		Banner("")
	})
	if !strings.Contains(out, "v1.0.0") || !strings.Contains(out, "dev") {
		t.Errorf("banner output = %q", out)
	}
}

func TestSectionAndStats_NoPanic(t *testing.T) {
	capture(t, func() {
		Section("Test")
		Stats("key", 42)
	})
}

func TestEvent_SortedAndQuoted(t *testing.T) {
	out := capture(t, func() {
		Event("TAG", "negotiated", map[string]interface{}{
			"status":  "countered",
			"price":   840.0,
			"message": "too low today",
		})
	})
	if !strings.Contains(out, `event=negotiated message="too low today" price=840 status=countered`) {
		t.Errorf("event line = %q", out)
	}
}

func TestEvent_NoFields(t *testing.T) {
	out := capture(t, func() {
		Event("TAG", "heartbeat", nil)
	})
	if !strings.Contains(out, "event=heartbeat") {
		t.Errorf("event line = %q", out)
	}
	if strings.Contains(out, "event=heartbeat ") {
		t.Errorf("trailing separator with no fields: %q", out)
	}
}
