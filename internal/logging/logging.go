package logging

import (
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Setup configures the process-wide logrus logger.
// format is "json" or "text"; an unknown level falls back to info.
func Setup(level, format string) {
	log.SetOutput(os.Stdout)

	lvl, err := log.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)

	if strings.EqualFold(format, "json") {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	if err != nil && level != "" {
		log.Warnf("unknown LOG_LEVEL %q, using info", level)
	}
}

// For returns a logger tagged with the component name.
func For(component string) *log.Entry {
	return log.WithField("component", component)
}
