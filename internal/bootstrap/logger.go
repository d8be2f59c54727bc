package bootstrap

import (
	"hedged_mm/internal/config"
	"hedged_mm/pkg/logging"
)

// InitLogger builds the process logger from the system section and installs it globally.
func InitLogger(cfg *config.Config) (*logging.ZapLogger, error) {
	logger, err := logging.NewZapLoggerWithFile(cfg.System.LogLevel, logging.FileOptions{
		Path:       cfg.System.LogFile,
		MaxSizeMB:  cfg.System.LogMaxSizeMB,
		MaxBackups: cfg.System.LogMaxBackups,
		Compress:   true,
	})
	if err != nil {
		return nil, err
	}

	logging.SetGlobalLogger(logger.WithField("ticker", cfg.TradingParams().Ticker))
	return logger, nil
}
