package observability

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// KafkaLogger adapts zerolog to kafka-go's Logger interface.
type KafkaLogger struct {
	logger zerolog.Logger
	level  zerolog.Level
}

var _ kafka.Logger = (*KafkaLogger)(nil)

// NewKafkaLogger creates a KafkaLogger that writes kafka-go's informational
// output at debug level, automatically adding a "component":"kafka-go" field.
func NewKafkaLogger(logger zerolog.Logger) *KafkaLogger {
	return &KafkaLogger{
		logger: logger.With().Str("component", "kafka-go").Logger(),
		level:  zerolog.DebugLevel,
	}
}

// NewKafkaErrorLogger creates a KafkaLogger for kafka-go's error output.
func NewKafkaErrorLogger(logger zerolog.Logger) *KafkaLogger {
	return &KafkaLogger{
		logger: logger.With().Str("component", "kafka-go").Logger(),
		level:  zerolog.ErrorLevel,
	}
}

// Printf implements kafka.Logger.
func (l *KafkaLogger) Printf(format string, args ...interface{}) {
	l.logger.WithLevel(l.level).Msg(fmt.Sprintf(format, args...))
}
