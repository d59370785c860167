package log

import (
	"bytes"
	"os"
	"strings"
	"testing"
)

func TestDefaultLoglevel(t *testing.T) {
	if !IsLoggingEnabled(LOGLEVEL_ERRORS) || IsLoggingEnabled(LOGLEVEL_WARNINGS) {
		t.Error("default level is not LOGLEVEL_ERRORS:", loglevel.Load())
	}
}

func TestRandomStringIsRandom(t *testing.T) {
	a := GetLogToken()
	b := GetLogToken()
	if a == b {
		t.Fatal("strings are equal:", a, b)
	}
}

func TestLoglevelFilters(t *testing.T) {
	buf := new(bytes.Buffer)
	SetOutput(buf)
	defer SetOutput(os.Stderr)
	defer SetLoglevel(LOGLEVEL_ERRORS)

	SetLoglevel(LOGLEVEL_WARNINGS)
	Log(LOGLEVEL_DEBUG, "hidden message")
	Log(LOGLEVEL_WARNINGS, "visible", "message")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("debug message was logged at warning level:", out)
	}
	if !strings.Contains(out, "visible message") {
		t.Error("warning message missing:", out)
	}
	if !strings.Contains(out, `"level":"warn"`) {
		t.Error("wrong level in output:", out)
	}
}

func TestNoneDisablesEverything(t *testing.T) {
	defer SetLoglevel(LOGLEVEL_ERRORS)
	SetLoglevel(LOGLEVEL_NONE)

	if IsLoggingEnabled(LOGLEVEL_ERRORS) {
		t.Error("errors enabled at LOGLEVEL_NONE")
	}
	if Event(LOGLEVEL_ERRORS) != nil {
		t.Error("Event() returned non-nil event while disabled")
	}
	// Must not panic.
	Event(LOGLEVEL_DEBUG).Str("k", "v").Msg("nothing")
}

func TestFrames(t *testing.T) {
	s := Frames([][]byte{[]byte("echo"), {0x00, 'a', 0xff}, {}})
	if s != "[echo|.a.|]" {
		t.Error("unexpected formatting:", s)
	}
}
