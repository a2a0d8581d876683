// Package logger is the structured sink for events a collector or dashboard
// consumes: one JSON object per line on stderr, leveled, with phone-number
// redaction on by default. Workers keep stdlib log.Printf for their
// operational chatter; the two streams are separated on purpose.
package logger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Level orders entry severities.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}

// ParseLevel reads a level name case-insensitively; anything unknown,
// including the empty string, is info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Debug emits a debug entry with alternating key/value fields.
func Debug(msg string, fields ...interface{}) { emit(LevelDebug, msg, fields) }

// Info emits an info entry with alternating key/value fields.
func Info(msg string, fields ...interface{}) { emit(LevelInfo, msg, fields) }

// Warn emits a warn entry with alternating key/value fields.
func Warn(msg string, fields ...interface{}) { emit(LevelWarn, msg, fields) }

// Error emits an error entry with alternating key/value fields.
func Error(msg string, fields ...interface{}) { emit(LevelError, msg, fields) }

// Configuration is read from the environment on first use rather than in
// init, so values loaded from .env by main are still honored:
// MORSEL_LOG_LEVEL picks the minimum level, MORSEL_LOG_REDACT=off disables
// redaction for local debugging.
var (
	setupOnce sync.Once
	minLevel  Level
	redactOn  bool
	outMu     sync.Mutex
)

func setup() {
	minLevel = ParseLevel(os.Getenv("MORSEL_LOG_LEVEL"))
	redactOn = os.Getenv("MORSEL_LOG_REDACT") != "off"
}

const timeLayout = "2006-01-02T15:04:05.000Z07:00"

// emit writes the entry with fields in call order: time, level, msg, then
// the caller's pairs. A dangling last element is kept under "extra".
func emit(level Level, msg string, kv []interface{}) {
	setupOnce.Do(setup)
	if level < minLevel {
		return
	}

	var b bytes.Buffer
	b.WriteByte('{')
	writeField(&b, "time", time.Now().UTC().Format(timeLayout))
	b.WriteByte(',')
	writeField(&b, "level", level.String())
	b.WriteByte(',')
	writeField(&b, "msg", msg)

	for i := 0; i+1 < len(kv); i += 2 {
		key := fmt.Sprint(kv[i])
		val := fmt.Sprint(kv[i+1])
		if redactOn {
			val = redactValue(key, val)
		}
		b.WriteByte(',')
		writeField(&b, key, val)
	}
	if len(kv)%2 == 1 {
		b.WriteByte(',')
		writeField(&b, "extra", fmt.Sprint(kv[len(kv)-1]))
	}
	b.WriteString("}\n")

	outMu.Lock()
	os.Stderr.Write(b.Bytes())
	outMu.Unlock()
}

func writeField(b *bytes.Buffer, key, val string) {
	k, _ := json.Marshal(key)
	v, _ := json.Marshal(val)
	b.Write(k)
	b.WriteByte(':')
	b.Write(v)
}

// phoneRun matches a bare international number embedded in free text.
var phoneRun = regexp.MustCompile(`\+?\d{7,15}`)

// redactValue hides phone digits. Fields whose key names a phone get
// digit-level masking, so separators cannot smuggle the number past the run
// matcher; other fields only have embedded runs replaced.
func redactValue(key, val string) string {
	k := strings.ToLower(key)
	if strings.Contains(k, "phone") || strings.Contains(k, "contact") || strings.Contains(k, "recipient") {
		return maskDigits(val)
	}
	return phoneRun.ReplaceAllStringFunc(val, RedactPhone)
}

// maskDigits stars every digit in the value, keeping separators, and leaves
// the last two visible when enough digits exist to stay anonymous.
func maskDigits(s string) string {
	total := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			total++
		}
	}
	if total == 0 {
		return s
	}
	keep := 2
	if total <= 5 {
		keep = 0
	}
	out := []rune(s)
	seen := 0
	for i, r := range out {
		if r >= '0' && r <= '9' {
			seen++
			if seen <= total-keep {
				out[i] = '*'
			}
		}
	}
	return string(out)
}
