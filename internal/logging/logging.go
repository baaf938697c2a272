package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the process logger. Production environments get JSON output.
func New(production bool, service string) (*zap.Logger, error) {
	var cfg zap.Config
	if production {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	l, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return l.With(zap.String("service", service)), nil
}

// Reconciliation returns the logger used for conditions that need a human.
// Entries carry page=true so alerting can route them apart from ordinary failures.
func Reconciliation(l *zap.Logger) *zap.Logger {
	return l.Named("reconciliation").With(zap.Bool("page", true))
}
