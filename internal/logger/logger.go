package logger

import (
	"fmt"

	"github.com/straye-as/sales-pipeline-api/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger creates a new structured logger
func NewLogger(cfg *config.LoggingConfig, appCfg *config.AppConfig) (*zap.Logger, error) {
	var zapCfg zap.Config

	if cfg.Format == "json" || appCfg.Environment == "production" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	zapCfg.InitialFields = map[string]interface{}{
		"app":         appCfg.Name,
		"environment": appCfg.Environment,
	}

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return logger, nil
}

// WithDeal scopes a logger to a single deal
func WithDeal(logger *zap.Logger, dealID int64) *zap.Logger {
	return logger.With(zap.Int64("deal_id", dealID))
}

// WithUser adds user context to logger
func WithUser(logger *zap.Logger, userID int64, role string) *zap.Logger {
	return logger.With(
		zap.Int64("user_id", userID),
		zap.String("user_role", role),
	)
}
