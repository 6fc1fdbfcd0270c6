package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}

func (l Level) String() string {
	if l < LevelDebug || l > LevelFatal {
		return "INFO"
	}
	return levelNames[l]
}

// ParseLevel maps LOG_LEVEL values onto a Level. Unknown values mean info.
func ParseLevel(s string) Level {
	for i, name := range levelNames {
		if strings.EqualFold(s, name) {
			return Level(i)
		}
	}
	return LevelInfo
}

type palette struct {
	level    *color.Color
	category *color.Color
}

var palettes = map[Level]palette{
	LevelDebug: {color.New(color.FgCyan), color.New(color.FgCyan, color.Bold)},
	LevelInfo:  {color.New(color.FgGreen), color.New(color.FgGreen, color.Bold)},
	LevelWarn:  {color.New(color.FgYellow), color.New(color.FgYellow, color.Bold)},
	LevelError: {color.New(color.FgRed, color.Bold), color.New(color.FgRed, color.Bold)},
	LevelFatal: {color.New(color.FgRed, color.Bold), color.New(color.FgRed, color.Bold)},
}

var (
	clockColor  = color.New(color.FgBlue)
	sourceColor = color.New(color.FgMagenta)
)

// Entry is one JSON line in the log file.
type Entry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Category  string `json:"category"`
	Message   string `json:"message"`
	File      string `json:"file,omitempty"`
	Line      int    `json:"line,omitempty"`
}

type Logger struct {
	mu       sync.Mutex
	terminal io.Writer
	jsonOut  io.Writer
	file     *os.File
	min      Level
}

// NewLogger writes colored lines to stdout and JSON lines to
// logs/<service>-<date>.log.
func NewLogger(service string) *Logger {
	if err := os.MkdirAll("logs", 0755); err != nil {
		log.Fatal("Failed to create logs directory:", err)
	}

	path := filepath.Join("logs", fmt.Sprintf("%s-%s.log", service, time.Now().Format("2006-01-02")))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		log.Fatal("Failed to create log file:", err)
	}

	l := &Logger{
		terminal: os.Stdout,
		jsonOut:  f,
		file:     f,
		min:      ParseLevel(os.Getenv("LOG_LEVEL")),
	}
	l.Info("LOGGER", "Logging to "+path)
	return l
}

// NewWithWriter logs JSON lines to w only. Used by tests and one-shot commands.
func NewWithWriter(w io.Writer) *Logger {
	return &Logger{jsonOut: w, min: LevelDebug}
}

func (l *Logger) write(level Level, category, message string) {
	if level < l.min {
		return
	}

	e := Entry{
		Timestamp: time.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
		Level:     level.String(),
		Category:  strings.ToUpper(category),
		Message:   message,
	}
	if _, file, line, ok := runtime.Caller(2); ok {
		e.File, e.Line = filepath.Base(file), line
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.terminal != nil {
		fmt.Fprint(l.terminal, render(level, e))
	}
	if l.jsonOut != nil {
		b, _ := json.Marshal(e)
		l.jsonOut.Write(append(b, '\n'))
	}
}

// render produces "15:04:05 LEVEL [CATEGORY   ] message (file:line)".
func render(level Level, e Entry) string {
	p, ok := palettes[level]
	if !ok {
		p = palettes[LevelInfo]
	}

	var b strings.Builder
	b.WriteString(clockColor.Sprint(e.Timestamp[11:19]))
	b.WriteByte(' ')
	b.WriteString(p.level.Sprintf("%-5s", e.Level))
	b.WriteByte(' ')
	b.WriteString(p.category.Sprintf("[%-11s]", e.Category))
	b.WriteByte(' ')
	b.WriteString(e.Message)
	if e.File != "" && e.Line > 0 {
		b.WriteString(sourceColor.Sprintf(" (%s:%d)", e.File, e.Line))
	}
	b.WriteByte('\n')
	return b.String()
}

func (l *Logger) Debug(category, message string) { l.write(LevelDebug, category, message) }
func (l *Logger) Info(category, message string)  { l.write(LevelInfo, category, message) }
func (l *Logger) Warn(category, message string)  { l.write(LevelWarn, category, message) }
func (l *Logger) Error(category, message string) { l.write(LevelError, category, message) }

func (l *Logger) Fatal(category, message string) {
	l.write(LevelFatal, category, message)
	l.Close()
	os.Exit(1)
}

// Component helpers keep categories consistent across packages.

func (l *Logger) LogReservation(action, raffleID, message string) {
	l.write(LevelInfo, "RESERVATION", fmt.Sprintf("[%s] raffle=%s %s", action, raffleID, message))
}

func (l *Logger) LogSweep(released int, took time.Duration) {
	l.write(LevelInfo, "SWEEP", fmt.Sprintf("released %d expired holds in %s", released, took))
}

func (l *Logger) LogSale(action, reference, message string) {
	l.write(LevelInfo, "SALE", fmt.Sprintf("[%s] ref=%s %s", action, reference, message))
}

func (l *Logger) LogAPI(method, path string, status int, took time.Duration) {
	l.write(LevelInfo, "API", fmt.Sprintf("%s %s - %d (%s)", method, path, status, took))
}

func (l *Logger) LogKafka(action, topic, message string) {
	l.write(LevelInfo, "KAFKA", fmt.Sprintf("[%s] topic=%s %s", action, topic, message))
}

func (l *Logger) LogDatabase(operation, table, message string) {
	l.write(LevelInfo, "DATABASE", fmt.Sprintf("[%s] table=%s %s", operation, table, message))
}

func (l *Logger) LogSecurity(event, message string) {
	l.write(LevelWarn, "SECURITY", fmt.Sprintf("[%s] %s", event, message))
}

func (l *Logger) Close() {
	l.mu.Lock()
	f := l.file
	l.mu.Unlock()
	if f == nil {
		return
	}
	l.Info("LOGGER", "Closing log file")

	l.mu.Lock()
	defer l.mu.Unlock()
	l.file.Close()
	l.file = nil
	l.jsonOut = nil
}
