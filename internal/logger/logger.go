package logger

import (
	"strings"

	"go.uber.org/zap"
)

// New builds a zap logger for mode: "prod"/"production" logs JSON at info,
// anything else logs console output at debug.
func New(mode string) (*zap.Logger, error) {
	var cfg zap.Config
	switch strings.ToLower(mode) {
	case "prod", "production":
		cfg = zap.NewProductionConfig()
	default:
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	return cfg.Build()
}
