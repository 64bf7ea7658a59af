// Package logging provides the bracketed-component log convention shared by
// every RaveDigest binary: log.Printf("[component] message").
package logging

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"
)

// Logger writes bracketed-tag lines, or single-line JSON objects when JSON
// mode is enabled. It wraps the stdlib log package rather than replacing it;
// component tags are plain text either way.
type Logger struct {
	component string
	json      bool
}

// New returns a Logger for component, in plain-text or JSON mode.
func New(component string, jsonLogs bool) *Logger {
	return &Logger{component: component, json: jsonLogs}
}

// Infof logs at info level.
func (l *Logger) Infof(format string, args ...interface{}) {
	l.write("info", format, args...)
}

// Warnf logs at warn level.
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.write("warn", format, args...)
}

// Errorf logs at error level.
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.write("error", format, args...)
}

func (l *Logger) write(level, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if !l.json {
		log.Printf("[%s] %s", l.component, msg)
		return
	}
	line, err := json.Marshal(map[string]string{
		"component": l.component,
		"level":     level,
		"msg":       msg,
		"time":      time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		log.Printf("[%s] %s", l.component, msg)
		return
	}
	fmt.Fprintln(os.Stdout, string(line))
}
