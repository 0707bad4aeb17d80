package common

import (
	"fmt"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"github.com/Unknwon/goconfig"
	"github.com/rs/zerolog/log"
)

// Config holds the contents of the per-repository helper configuration file.
// The file lives at <gitdir>/ipfs/config and is a single-section INI file.
// Keys are case-sensitive; unknown keys are ignored for forward compatibility.
type Config struct {
	URL           string  // daemon base URL
	Port          int     // daemon API port
	VersionPrefix string  // API path prefix
	Timeout       float64 // per-request timeout in seconds
	UnpinOld      bool    // unpin the prior CID after a mutable-name publish
	Republish     bool    // issue name/publish on push to a mutable name
	IPNSTTLString string  // lifetime passed to name/publish
	CIDVersion    int     // cid-version parameter to add
	IPFSChunker   string  // chunker parameter to add
	UserName      string  // HTTP basic auth user (optional)
	UserPassword  string  // HTTP basic auth password (optional)
}

const configSection = "IPFS"

// ConfigPath returns the helper config location inside a git directory.
func ConfigPath(gitDir string) string {
	return filepath.Join(gitDir, "ipfs", "config")
}

// LoadConfig is the primary way of loading the helper's config. A missing
// file is an error: the helper refuses to guess which daemon owns the remote.
func LoadConfig(gitDir string) (*Config, error) {
	defaults := Config{
		URL:           "http://127.0.0.1",
		Port:          5001,
		VersionPrefix: "api/v0",
		Timeout:       30.0,
		IPNSTTLString: "2h",
		IPFSChunker:   "size-262144",
	}

	path := ConfigPath(gitDir)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("no config file at %s - create one like:\n\n%s\n", path, exampleConfig())
	}
	ini, err := goconfig.LoadConfigFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not parse %s: %w", path, err)
	}

	config := &Config{}
	config.URL, _ = ini.GetValue(configSection, "URL")
	config.Port = ini.MustInt(configSection, "Port")
	config.VersionPrefix, _ = ini.GetValue(configSection, "VersionPrefix")
	config.Timeout = ini.MustFloat64(configSection, "Timeout")
	config.UnpinOld = ini.MustBool(configSection, "UnpinOld")
	config.Republish = ini.MustBool(configSection, "Republish")
	config.IPNSTTLString, _ = ini.GetValue(configSection, "IPNSTTLString")
	config.CIDVersion = ini.MustInt(configSection, "CIDVersion")
	config.IPFSChunker, _ = ini.GetValue(configSection, "IPFSChunker")
	config.UserName, _ = ini.GetValue(configSection, "UserName")
	config.UserPassword, _ = ini.GetValue(configSection, "UserPassword")

	// fill anything the file left unset
	if err = mergo.Merge(config, defaults); err != nil {
		log.Error().
			Err(err).
			Str("path", path).
			Msg("Could not merge configuration file with defaults, using defaults only.")
		return &defaults, nil
	}
	return config, nil
}

func exampleConfig() string {
	return "[IPFS]\n" +
		"URL = http://127.0.0.1\n" +
		"Port = 5001\n" +
		"Republish = false\n"
}
