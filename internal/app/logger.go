package app

import (
	"strings"

	"github.com/charlesng35/mailbridge/pkg/logger"
)

// ConfigureLogging initialises the global logger, defaulting to info level and json output.
func ConfigureLogging(cfg ServerConfig) error {
	level := strings.TrimSpace(cfg.LogLevel)
	if level == "" {
		level = "info"
	}
	format := strings.ToLower(strings.TrimSpace(cfg.LogFormat))
	if format == "" {
		format = "json"
	}
	return logger.Init(level, format)
}
