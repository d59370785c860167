package log

import (
	"fmt"
	"io"
	"math/rand"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const (
	// Log absolutely nothing
	LOGLEVEL_NONE int = iota
	// Log situations that are not expected to happen and
	// are difficult to handle (e.g. a failed durable write)
	LOGLEVEL_ERRORS
	// Log non-critical situations that might happen, but shouldn't (e.g. a stale worker reply)
	LOGLEVEL_WARNINGS
	// Log situations that are expected, but important for the operation
	LOGLEVEL_INFO
	// Log everything
	LOGLEVEL_DEBUG
)

var (
	logger_mx sync.RWMutex
	logger    zerolog.Logger
	loglevel  atomic.Int32

	token_mx  sync.Mutex
	token_rng = rand.New(rand.NewSource(time.Now().UnixNano()))
)

func init() {
	logger = newLogger(os.Stderr)
	loglevel.Store(int32(LOGLEVEL_ERRORS))
}

func newLogger(w io.Writer) zerolog.Logger {
	return zerolog.New(w).Level(zerolog.DebugLevel).With().Timestamp().Str("component", "titanic").Logger()
}

func toZerolog(ll int) zerolog.Level {
	switch ll {
	case LOGLEVEL_ERRORS:
		return zerolog.ErrorLevel
	case LOGLEVEL_WARNINGS:
		return zerolog.WarnLevel
	case LOGLEVEL_INFO:
		return zerolog.InfoLevel
	case LOGLEVEL_DEBUG:
		return zerolog.DebugLevel
	default:
		return zerolog.Disabled
	}
}

// Set the global log level
func SetLoglevel(ll int) {
	loglevel.Store(int32(ll))
}

// Performance-enhancer: Prevent unnecessary log calls
func IsLoggingEnabled(ll int) bool {
	return ll > LOGLEVEL_NONE && int(loglevel.Load()) >= ll
}

// Send log output to w. The CLIs use this with a zerolog.ConsoleWriter.
func SetOutput(w io.Writer) {
	logger_mx.Lock()
	defer logger_mx.Unlock()
	logger = newLogger(w)
}

/*
Event starts a structured log event at level ll. It returns nil if ll is not enabled;
zerolog's Event methods are no-ops on a nil receiver, so callers may chain unconditionally:

	log.Event(log.LOGLEVEL_INFO).Str("ticket", id).Msg("Stored request")
*/
func Event(ll int) *zerolog.Event {
	if !IsLoggingEnabled(ll) {
		return nil
	}
	logger_mx.RLock()
	defer logger_mx.RUnlock()
	return logger.WithLevel(toZerolog(ll))
}

// Log the arguments, separated by spaces, at level ll.
func Log(ll int, what ...interface{}) {
	if !IsLoggingEnabled(ll) {
		return
	}
	Event(ll).Msg(strings.TrimSuffix(fmt.Sprintln(what...), "\n"))
}

func transformRuneToPrintable(r rune) rune {
	if r >= 32 && r < 127 {
		return r
	}
	return '.'
}

// Printable replaces non-printable bytes with '.' so that binary frames can be logged.
func Printable(b []byte) string {
	return strings.Map(transformRuneToPrintable, string(b))
}

// Frames formats a multi-part message as "[a|b|c]" with printable frames.
func Frames(frames [][]byte) string {
	parts := make([]string, len(frames))
	for i, f := range frames {
		parts[i] = Printable(f)
	}
	return "[" + strings.Join(parts, "|") + "]"
}

func mapToChar(i int) byte {
	i = i % (10 + 26 + 26)
	if i < 10 {
		return byte('0' + i)
	} else if i < 10+26 {
		return byte('A' + i - 10)
	} else if i < 10+26+26 {
		return byte('a' + i - 10 - 26)
	}
	return byte('_')
}

// Returns a short random alphanumeric string.
// This is used to assign special tokens to requests in order to track them across log lines.
func GetLogToken() string {
	token_mx.Lock()
	defer token_mx.Unlock()

	str := make([]byte, 6)
	for i := range str {
		str[i] = mapToChar(token_rng.Int())
	}
	return string(str)
}
