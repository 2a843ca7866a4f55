package notify

import (
	"os"
	"time"

	"ndr-go/internal/config"
	"ndr-go/internal/ndr"
)

// NewNotifierFromConfig always logs notifications and additionally sends
// them to Telegram when enabled. Credentials are read from the environment
// variables named in cfg.
func NewNotifierFromConfig(cfg config.NotifyConfig, logger ndr.Logger) ndr.Notifier {
	logNotifier := NewLogNotifier(logger)
	if !cfg.Enabled {
		return logNotifier
	}

	telegram := NewTelegramNotifier(
		os.Getenv(cfg.TokenEnv),
		os.Getenv(cfg.ChatIDEnv),
		logger,
		WithAPIURL(cfg.APIURL),
		WithRatePerMinute(cfg.RatePerMinute),
		WithTimeout(time.Duration(cfg.TimeoutSeconds)*time.Second),
	)
	return MultiNotifier{logNotifier, telegram}
}
