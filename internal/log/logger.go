// Package log is the leveled key-value logger shared by the bundler, the dev
// server and the CLI.
package log

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
)

// Level is a log severity.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR"}

// levelColors are ANSI codes: cyan, green, yellow, red.
var levelColors = [...]string{"\033[36m", "\033[32m", "\033[33m", "\033[31m"}

const colorReset = "\033[0m"

func (l Level) String() string {
	if l < DebugLevel || l > ErrorLevel {
		return "UNKNOWN"
	}
	return levelNames[l]
}

// ParseLevel parses "debug", "info", "warn" or "error".
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DebugLevel, nil
	case "", "info":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	}
	return InfoLevel, fmt.Errorf("unknown log level %q", s)
}

// Logger is the logging surface handed to every component. Arguments after
// the message are key-value pairs.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	// With returns a logger that prepends the given key-value pairs to every entry.
	With(args ...interface{}) Logger
	SetLevel(level Level)
	SetJSONOutput(enabled bool)
}

// LoggerConfig holds configuration for the logger
type LoggerConfig struct {
	Level      Level
	JSONOutput bool
	Stderr     io.Writer
}

// field is one key-value pair of an entry.
type field struct {
	key   string
	value interface{}
}

// entry is a single record handed to an encoder.
type entry struct {
	time   time.Time
	level  Level
	msg    string
	fields []field
}

type encoder interface {
	encode(w io.Writer, e entry)
}

// sink is shared between a logger and the children created by With.
type sink struct {
	mu    sync.Mutex
	level Level
	w     io.Writer
	enc   encoder
	color bool
}

func (s *sink) setEncoder(jsonOutput bool) {
	if jsonOutput {
		s.enc = jsonEncoder{}
	} else {
		s.enc = textEncoder{color: s.color}
	}
}

// DefaultLogger writes entries to a sink, as text or as JSON lines.
type DefaultLogger struct {
	sink   *sink
	fields []field
}

var (
	defaultLogger *DefaultLogger
	once          sync.Once
)

// New creates a logger writing to cfg.Stderr, or os.Stderr when unset.
func New(cfg LoggerConfig) *DefaultLogger {
	w := cfg.Stderr
	if w == nil {
		w = os.Stderr
	}
	s := &sink{level: cfg.Level, w: w, color: isTerminal(w)}
	s.setEncoder(cfg.JSONOutput)
	return &DefaultLogger{sink: s}
}

// Default returns the process-wide info level logger.
func Default() *DefaultLogger {
	once.Do(func() {
		defaultLogger = New(LoggerConfig{Level: InfoLevel})
	})
	return defaultLogger
}

func isTerminal(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// IsTTY checks if standard error is a terminal
func IsTTY() bool {
	return isTerminal(os.Stderr)
}

// toFields pairs up args. A leading odd argument is kept under "extra";
// pairs whose key is not a string are dropped.
func toFields(args []interface{}) []field {
	if len(args) == 0 {
		return nil
	}
	fields := make([]field, 0, len(args)/2+1)
	if len(args)%2 != 0 {
		fields = append(fields, field{key: "extra", value: args[0]})
		args = args[1:]
	}
	for i := 0; i+1 < len(args); i += 2 {
		if key, ok := args[i].(string); ok {
			fields = append(fields, field{key: key, value: args[i+1]})
		}
	}
	return fields
}

// plain renders a field value as the text encoder prints it.
func plain(v interface{}) string {
	switch v := v.(type) {
	case error:
		return v.Error()
	case fmt.Stringer:
		return v.String()
	case string:
		return v
	}
	return fmt.Sprint(v)
}

type textEncoder struct {
	color bool
}

func (t textEncoder) encode(w io.Writer, e entry) {
	var sb strings.Builder
	sb.WriteString(e.msg)
	for _, f := range e.fields {
		v := plain(f.value)
		if f.key == "extra" {
			sb.WriteString(" " + v)
			continue
		}
		if strings.ContainsAny(v, " \t\n\"") {
			v = strconv.Quote(v)
		}
		sb.WriteString(" " + f.key + "=" + v)
	}
	text := sb.String()
	if t.color {
		text = levelColors[e.level] + text + colorReset
	}
	fmt.Fprintf(w, "[%s] %s: %s\n", e.time.Format("2006-01-02 15:04:05"), e.level, text)
}

type jsonEncoder struct{}

func (jsonEncoder) encode(w io.Writer, e entry) {
	obj := make(map[string]interface{}, len(e.fields)+3)
	for _, f := range e.fields {
		switch v := f.value.(type) {
		case error:
			obj[f.key] = v.Error()
		case time.Duration:
			obj[f.key] = v.Milliseconds()
		case fmt.Stringer:
			obj[f.key] = v.String()
		default:
			obj[f.key] = v
		}
	}
	obj["timestamp"] = e.time.Format(time.RFC3339)
	obj["level"] = e.level.String()
	obj["message"] = e.msg
	data, err := json.Marshal(obj)
	if err != nil {
		data, _ = json.Marshal(map[string]string{"level": e.level.String(), "message": e.msg, "encode_error": err.Error()})
	}
	w.Write(append(data, '\n'))
}

func (l *DefaultLogger) log(level Level, msg string, args []interface{}) {
	s := l.sink
	s.mu.Lock()
	defer s.mu.Unlock()
	if level < s.level {
		return
	}
	fields := l.fields
	if extra := toFields(args); len(extra) > 0 {
		fields = append(fields[:len(fields):len(fields)], extra...)
	}
	s.enc.encode(s.w, entry{time: time.Now(), level: level, msg: msg, fields: fields})
}

func (l *DefaultLogger) Debug(msg string, args ...interface{}) { l.log(DebugLevel, msg, args) }
func (l *DefaultLogger) Info(msg string, args ...interface{})  { l.log(InfoLevel, msg, args) }
func (l *DefaultLogger) Warn(msg string, args ...interface{})  { l.log(WarnLevel, msg, args) }
func (l *DefaultLogger) Error(msg string, args ...interface{}) { l.log(ErrorLevel, msg, args) }

// With returns a child logger sharing this logger's sink.
func (l *DefaultLogger) With(args ...interface{}) Logger {
	fields := append(l.fields[:len(l.fields):len(l.fields)], toFields(args)...)
	return &DefaultLogger{sink: l.sink, fields: fields}
}

// SetLevel sets the minimum level for this logger and every child.
func (l *DefaultLogger) SetLevel(level Level) {
	l.sink.mu.Lock()
	l.sink.level = level
	l.sink.mu.Unlock()
}

// SetJSONOutput switches between text and JSON lines.
func (l *DefaultLogger) SetJSONOutput(enabled bool) {
	l.sink.mu.Lock()
	l.sink.setEncoder(enabled)
	l.sink.mu.Unlock()
}

type nopLogger struct{}

// Nop returns a logger that discards everything.
func Nop() Logger { return nopLogger{} }

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (n nopLogger) With(...interface{}) Logger { return n }
func (nopLogger) SetLevel(Level)               {}
func (nopLogger) SetJSONOutput(bool)           {}

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// ProgressSpinner animates a message with its elapsed time on standard
// error while a build runs.
type ProgressSpinner struct {
	mu      sync.Mutex
	message string
	writer  io.Writer
	color   bool
	started time.Time
	stop    chan struct{}
	stopped chan struct{}
}

// NewProgressSpinner creates a spinner; nothing is drawn until Start.
func NewProgressSpinner(message string) *ProgressSpinner {
	return &ProgressSpinner{
		message: message,
		writer:  os.Stderr,
		color:   IsTTY(),
	}
}

// Start begins the animation. Starting a running spinner does nothing.
func (p *ProgressSpinner) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stop != nil {
		return
	}
	p.started = time.Now()
	p.stop = make(chan struct{})
	p.stopped = make(chan struct{})
	go p.run(p.stop, p.stopped)
}

// Stop ends the animation and clears its line.
func (p *ProgressSpinner) Stop() {
	p.mu.Lock()
	stop, stopped := p.stop, p.stopped
	p.stop, p.stopped = nil, nil
	p.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-stopped
	fmt.Fprint(p.writer, "\r\033[K")
}

// Message replaces the text shown next to the spinner.
func (p *ProgressSpinner) Message(msg string) {
	p.mu.Lock()
	p.message = msg
	p.mu.Unlock()
}

func (p *ProgressSpinner) run(stop <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)
	ticker := time.NewTicker(80 * time.Millisecond)
	defer ticker.Stop()
	for frame := 0; ; frame++ {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		p.mu.Lock()
		glyph := spinnerFrames[frame%len(spinnerFrames)]
		elapsed := time.Since(p.started).Round(100 * time.Millisecond)
		if p.color {
			glyph = levelColors[DebugLevel] + glyph + colorReset
		}
		fmt.Fprintf(p.writer, "\r%s %s (%s)", glyph, p.message, elapsed)
		p.mu.Unlock()
	}
}
