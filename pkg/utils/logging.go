package utils

import (
	"fmt"
	"sort"
	"strings"
)

// LogLevel represents the logging level
type LogLevel int

const (
	TRACE LogLevel = iota
	DEBUG
	INFO
	WARN
	ERROR
	FATAL
)

// String returns the string representation of the log level
func (l LogLevel) String() string {
	switch l {
	case TRACE:
		return "TRACE"
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case FATAL:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// ParseLogLevel parses a string log level
func ParseLogLevel(level string) (LogLevel, error) {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "TRACE":
		return TRACE, nil
	case "DEBUG":
		return DEBUG, nil
	case "INFO":
		return INFO, nil
	case "WARN", "WARNING":
		return WARN, nil
	case "ERROR":
		return ERROR, nil
	case "FATAL", "CRITICAL":
		return FATAL, nil
	default:
		return INFO, fmt.Errorf("invalid log level: %s", level)
	}
}

// ParseComponentLevels parses "component:LEVEL,component:LEVEL" into a level map.
func ParseComponentLevels(spec string) (map[string]LogLevel, error) {
	levels := make(map[string]LogLevel)
	if strings.TrimSpace(spec) == "" {
		return levels, nil
	}

	for _, item := range strings.Split(spec, ",") {
		component, levelStr, ok := strings.Cut(strings.TrimSpace(item), ":")
		component = strings.TrimSpace(component)
		if !ok || component == "" {
			return nil, fmt.Errorf("invalid component level %q: want component:LEVEL", item)
		}
		level, err := ParseLogLevel(levelStr)
		if err != nil {
			return nil, fmt.Errorf("component %s: %w", component, err)
		}
		levels[component] = level
	}
	return levels, nil
}

// FormatComponentLevels is the inverse of ParseComponentLevels, sorted by component.
func FormatComponentLevels(levels map[string]LogLevel) string {
	components := make([]string, 0, len(levels))
	for component := range levels {
		components = append(components, component)
	}
	sort.Strings(components)

	parts := make([]string, 0, len(components))
	for _, component := range components {
		parts = append(parts, component+":"+levels[component].String())
	}
	return strings.Join(parts, ",")
}

// ParseLogFormat parses "text" or "json".
func ParseLogFormat(format string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	default:
		return FormatText, fmt.Errorf("invalid log format: %s", format)
	}
}
