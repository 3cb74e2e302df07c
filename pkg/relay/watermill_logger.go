package relay

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/rs/zerolog"
)

// watermillLogger routes watermill's logging into zerolog. Watermill is
// chatty at info level, so info is demoted to debug.
type watermillLogger struct {
	logger zerolog.Logger
}

var _ watermill.LoggerAdapter = watermillLogger{}

func newWatermillLogger(l zerolog.Logger) watermill.LoggerAdapter {
	return watermillLogger{logger: l.With().Str("component", "watermill").Logger()}
}

func (w watermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	w.logger.Error().Err(err).Fields(map[string]interface{}(fields)).Msg(msg)
}

func (w watermillLogger) Info(msg string, fields watermill.LogFields) {
	w.logger.Debug().Fields(map[string]interface{}(fields)).Msg(msg)
}

func (w watermillLogger) Debug(msg string, fields watermill.LogFields) {
	w.logger.Trace().Fields(map[string]interface{}(fields)).Msg(msg)
}

func (w watermillLogger) Trace(msg string, fields watermill.LogFields) {
	w.logger.Trace().Fields(map[string]interface{}(fields)).Msg(msg)
}

func (w watermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return watermillLogger{logger: w.logger.With().Fields(map[string]interface{}(fields)).Logger()}
}
