// Package sdlog constructs named *zap.SugaredLogger values of the kind
// internal/disk and internal/logstore take as a constructor argument.
package sdlog

import (
	"go.uber.org/zap"
)

// New builds a production-profile sugared logger tagged with component,
// e.g. sdlog.New("disk"), sdlog.New("gc"), sdlog.New("alloc").
func New(component string) *zap.SugaredLogger {
	logger, err := zap.NewProduction()
	if err != nil {
		logger = zap.NewNop()
	}
	return logger.Sugar().Named(component)
}

// Nop returns a logger that discards everything, for callers that need a
// non-nil logger without production log noise.
func Nop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
