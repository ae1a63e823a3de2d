package logging

import (
	"go.uber.org/zap"
)

// New builds the process logger at level and installs it as the zap global.
// Callers should Sync it before exit.
func New(level string, verbose bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()

	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	if verbose {
		lvl.SetLevel(zap.DebugLevel)
	}
	cfg.Level = lvl
	cfg.OutputPaths = []string{"stdout"}
	cfg.ErrorOutputPaths = []string{"stdout"}
	cfg.Sampling = nil

	logger, err := cfg.Build(zap.AddCaller(), zap.AddStacktrace(zap.ErrorLevel))
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)

	return logger, nil
}
