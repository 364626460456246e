package config

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Level is a log level as written in the configuration file. It accepts a
// level name or one of the numeric levels 10, 20, 30, 40, 50.
type Level slog.Level

func (l *Level) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: log_level must be a scalar", node.Line)
	}
	level, err := ParseLogLevel(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*l = Level(level)
	return nil
}

func (l *Level) Level() slog.Level {
	if l == nil {
		return slog.LevelInfo
	}
	return slog.Level(*l)
}

// ParseLogLevel converts a case-insensitive level name or numeric level to
// an [slog.Level].
//
// Accepted values:
//   - "debug" or 10
//   - "info" or 20
//   - "warn", "warning" or 30
//   - "error" or 40
//   - "critical" or 50, mapped to [slog.LevelError]
func ParseLogLevel(s string) (slog.Level, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if n, err := strconv.Atoi(s); err == nil {
		switch n {
		case 10:
			return slog.LevelDebug, nil
		case 20:
			return slog.LevelInfo, nil
		case 30:
			return slog.LevelWarn, nil
		case 40, 50:
			return slog.LevelError, nil
		default:
			return slog.LevelInfo, fmt.Errorf("invalid log level %d (allowed: 10, 20, 30, 40, 50)", n)
		}
	}

	switch s {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error", "critical":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (allowed: debug, info, warn, error, critical)", s)
	}
}
