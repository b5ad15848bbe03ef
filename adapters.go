package respwire

import (
	"github.com/raniellyferreira/respwire/server"
)

// serverLogger adapts our Logger interface to server.Logger
type serverLogger struct {
	logger Logger
}

// ServerLogger returns logger as a server.Logger, so a server and the
// clients talking to it can share one logger
func ServerLogger(logger Logger) server.Logger {
	if logger == nil {
		logger = &defaultLogger{}
	}
	return &serverLogger{logger: logger}
}

func (sl *serverLogger) Debug(msg string, fields ...interface{}) {
	sl.logger.Debug(msg, convertFields(fields...)...)
}

func (sl *serverLogger) Info(msg string, fields ...interface{}) {
	sl.logger.Info(msg, convertFields(fields...)...)
}

func (sl *serverLogger) Error(msg string, fields ...interface{}) {
	sl.logger.Error(msg, convertFields(fields...)...)
}

func convertFields(fields ...interface{}) []Field {
	result := make([]Field, 0, len(fields)/2)
	for i := 0; i < len(fields)-1; i += 2 {
		if key, ok := fields[i].(string); ok {
			result = append(result, Field{
				Key:   key,
				Value: fields[i+1],
			})
		}
	}
	return result
}
