package log

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", DebugLevel, false},
		{"INFO", InfoLevel, false},
		{"", InfoLevel, false},
		{"warning", WarnLevel, false},
		{"error", ErrorLevel, false},
		{"verbose", InfoLevel, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTextOutput(t *testing.T) {
	var buf bytes.Buffer
	l := New(LoggerConfig{Level: InfoLevel, Stderr: &buf})

	l.Debug("hidden")
	l.Info("built chunk", "name", "index", "modules", 3)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "INFO: built chunk name=index modules=3")
}

func TestWithFieldsAndJSON(t *testing.T) {
	var buf bytes.Buffer
	l := New(LoggerConfig{Level: DebugLevel, JSONOutput: true, Stderr: &buf})

	child := l.With("component", "resolver")
	child.Warn("module not found", "specifier", "./missing", "err", errors.New("boom"))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &entry))
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "module not found", entry["message"])
	assert.Equal(t, "resolver", entry["component"])
	assert.Equal(t, "./missing", entry["specifier"])
	assert.Equal(t, "boom", entry["err"])
}

func TestSetLevelAppliesToChildren(t *testing.T) {
	var buf bytes.Buffer
	l := New(LoggerConfig{Level: InfoLevel, Stderr: &buf})
	child := l.With("k", "v")

	l.SetLevel(ErrorLevel)
	child.Info("dropped")
	assert.Empty(t, buf.String())

	child.Error("kept")
	assert.Contains(t, buf.String(), "kept k=v")
}

func TestNop(t *testing.T) {
	l := Nop()
	l.Info("nothing")
	assert.NotNil(t, l.With("a", 1))
}

func TestTextQuotesValuesWithSpaces(t *testing.T) {
	var buf bytes.Buffer
	l := New(LoggerConfig{Level: InfoLevel, Stderr: &buf})

	l.Info("resolve failed", "specifier", "./a b")
	assert.Contains(t, buf.String(), `specifier="./a b"`)
}

func TestOddArgumentKeptAsExtra(t *testing.T) {
	var buf bytes.Buffer
	l := New(LoggerConfig{Level: InfoLevel, Stderr: &buf})

	l.Info("rebuilt", "src/index.js", "modules", 4)
	assert.Contains(t, buf.String(), "INFO: rebuilt src/index.js modules=4")
}

func TestJSONDurationInMilliseconds(t *testing.T) {
	var buf bytes.Buffer
	l := New(LoggerConfig{Level: InfoLevel, Stderr: &buf})
	l.SetJSONOutput(true)

	l.Info("build finished", "duration", 1500*time.Millisecond)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, float64(1500), entry["duration"])
	assert.Equal(t, "INFO", entry["level"])
}

func TestWithDoesNotShareBackingArray(t *testing.T) {
	var buf bytes.Buffer
	l := New(LoggerConfig{Level: InfoLevel, JSONOutput: true, Stderr: &buf})
	parent := l.With("a", 1)
	left := parent.With("side", "left")
	_ = parent.With("side", "right")

	left.Info("x")
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "left", entry["side"])
}

func TestSpinnerStartStop(t *testing.T) {
	var buf syncBuffer
	p := NewProgressSpinner("Building")
	p.writer = &buf
	p.color = false

	p.Start()
	p.Start()
	time.Sleep(200 * time.Millisecond)
	p.Message("Emitting")
	p.Stop()
	p.Stop()

	out := buf.String()
	assert.Contains(t, out, "Building")
	assert.True(t, strings.HasSuffix(out, "\r\033[K"))
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
