package respwire

import (
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"
)

// Field represents a structured log field
type Field struct {
	Key   string
	Value interface{}
}

// Logger interface for custom logging implementations
type Logger interface {
	// Debug logs a debug message with optional fields
	Debug(msg string, fields ...Field)

	// Info logs an info message with optional fields
	Info(msg string, fields ...Field)

	// Error logs an error message with optional fields
	Error(msg string, fields ...Field)
}

// MetricsCollector interface for metrics collection
type MetricsCollector interface {
	// RecordCommandProcessed records a completed request with its round-trip time
	RecordCommandProcessed(cmd string, duration time.Duration)

	// RecordNetworkBytes records bytes sent and received for a request
	RecordNetworkBytes(bytes int64)

	// RecordError records an error event: "network", "timeout", "protocol" or "reply"
	RecordError(errorType string)
}

// defaultLogger writes through the standard log package. Debug lines are
// dropped unless WithDebugLogging is set; they fire per request.
type defaultLogger struct {
	debug bool
}

func (l *defaultLogger) Debug(msg string, fields ...Field) {
	if l.debug {
		l.output("DEBUG", msg, fields)
	}
}

func (l *defaultLogger) Info(msg string, fields ...Field) {
	l.output("INFO", msg, fields)
}

func (l *defaultLogger) Error(msg string, fields ...Field) {
	l.output("ERROR", msg, fields)
}

func (l *defaultLogger) output(level, msg string, fields []Field) {
	var b strings.Builder
	b.WriteString("respwire ")
	b.WriteString(level)
	b.WriteString(": ")
	b.WriteString(msg)
	for _, field := range fields {
		b.WriteByte(' ')
		b.WriteString(field.Key)
		b.WriteByte('=')
		b.WriteString(formatValue(field.Value))
	}
	log.Println(b.String())
}

// formatValue renders a field value, quoting it when it would not read
// back as a single token
func formatValue(v interface{}) string {
	var s string
	switch val := v.(type) {
	case string:
		s = val
	case error:
		s = val.Error()
	case fmt.Stringer:
		s = val.String()
	default:
		s = fmt.Sprint(val)
	}
	if s == "" || strings.ContainsAny(s, " \t\r\n\"=") {
		return strconv.Quote(s)
	}
	return s
}
