package util

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"

	jww "github.com/spf13/jwalterweatherman"
)

var (
	loggers = map[string]*Logger{}
	levels  = map[string]jww.Threshold{}

	loggersMux sync.Mutex

	// OutThreshold is the default console log level
	OutThreshold = jww.LevelError
)

// Logger wraps a jww notepad to avoid leaking implementation detail
type Logger struct {
	*jww.Notepad
	*Redactor
	name string
}

// NewLogger creates a logger with the given log area and adds it to the registry
func NewLogger(area string) *Logger {
	padded := area
	for len(padded) < 6 {
		padded += " "
	}

	level := LogLevelForArea(area)
	redactor := &Redactor{w: os.Stdout}
	notepad := jww.NewNotepad(level, jww.LevelFatal, redactor, io.Discard, padded, log.Ldate|log.Ltime)

	logger := &Logger{
		Notepad:  notepad,
		Redactor: redactor,
		name:     area,
	}

	loggersMux.Lock()
	defer loggersMux.Unlock()
	loggers[area] = logger

	return logger
}

// Name returns the logger's area
func (l *Logger) Name() string {
	return l.name
}

// Loggers invokes callback for each configured logger
func Loggers(cb func(string, *Logger)) {
	loggersMux.Lock()
	defer loggersMux.Unlock()

	for name, logger := range loggers {
		cb(name, logger)
	}
}

// LogLevelForArea gets the log level for given log area
func LogLevelForArea(area string) jww.Threshold {
	loggersMux.Lock()
	defer loggersMux.Unlock()
	return levelForArea(area)
}

// LogLevel sets log level for all loggers
func LogLevel(level string, areaLevels map[string]string) {
	// default level
	OutThreshold = LogLevelToThreshold(level)

	loggersMux.Lock()
	for area, lvl := range areaLevels {
		levels[strings.ToLower(area)] = LogLevelToThreshold(lvl)
	}
	loggersMux.Unlock()

	Loggers(func(name string, logger *Logger) {
		logger.SetStdoutThreshold(levelForArea(name))
	})
}

// levelForArea requires loggersMux to be held
func levelForArea(area string) jww.Threshold {
	level, ok := levels[strings.ToLower(area)]
	if !ok {
		level = OutThreshold
	}
	return level
}

// LogLevelToThreshold converts log level string to a jww Threshold
func LogLevelToThreshold(level string) jww.Threshold {
	switch strings.ToUpper(level) {
	case "FATAL":
		return jww.LevelFatal
	case "ERROR":
		return jww.LevelError
	case "WARN":
		return jww.LevelWarn
	case "INFO":
		return jww.LevelInfo
	case "DEBUG":
		return jww.LevelDebug
	case "TRACE":
		return jww.LevelTrace
	default:
		panic(fmt.Sprintf("invalid log level %s", level))
	}
}

// Redactor replaces secrets in log output
type Redactor struct {
	mu       sync.Mutex
	w        io.Writer
	redacted []string
}

// Redact adds items for redaction
func (l *Redactor) Redact(items ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			l.redacted = append(l.redacted, item)
		}
	}
}

func (l *Redactor) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := string(p)
	for _, r := range l.redacted {
		s = strings.ReplaceAll(s, r, "***")
	}

	if _, err := l.w.Write([]byte(s)); err != nil {
		return 0, err
	}

	return len(p), nil
}
