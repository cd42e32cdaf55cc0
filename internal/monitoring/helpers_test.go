package monitoring

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type loggerState struct {
	logger zerolog.Logger
	level  zerolog.Level
}

func saveLogger() loggerState {
	return loggerState{logger: log.Logger, level: zerolog.GlobalLevel()}
}

func restoreLogger(s loggerState) {
	log.Logger = s.logger
	zerolog.SetGlobalLevel(s.level)
}
