// common functions used by the git-remote-ipfs binary
package common

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const version = "0.2.0"

var commit string

// Version returns the current version string
func Version() string {
	clen := 0
	if len(commit) > 7 {
		clen = 8
	}
	return fmt.Sprintf("v%s %s", version, commit[:clen])
}

// StringToLevel converts a string to a zerolog.Level that can be used with zerolog
func StringToLevel(input string) zerolog.Level {
	level, err := zerolog.ParseLevel(input)
	if err != nil {
		log.Error().Err(err).Msg("Could not parse log level, defaulting to \"info\"")
		return zerolog.InfoLevel
	}
	return level
}

// VerbosityToLevel maps the remote-helper "option verbosity N" scale onto
// zerolog levels. git sends 0 for --quiet, 1 by default, and a larger value
// for each extra -v.
func VerbosityToLevel(verbosity int) zerolog.Level {
	switch {
	case verbosity <= 0:
		return zerolog.ErrorLevel
	case verbosity == 1:
		return zerolog.InfoLevel
	default:
		return zerolog.DebugLevel
	}
}

// LogLevels returns the available logging levels
func LogLevels() []string {
	return []string{"trace", "debug", "info", "warn", "error", "fatal"}
}
