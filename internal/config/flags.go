package config

import (
	"flag"
	"strings"
)

var (
	flagConfig  = flag.String("config", "", "Path to config file")
	flagDebug   = flag.Bool("debug", false, "Enable debug logging")
	flagSearch  = flag.String("search", "", "Comma-separated asset search paths, tried before configured ones")
	flagVPK     = flag.String("vpk", "", "Comma-separated VPK _dir archives, tried before configured ones")
	flagLogFile = flag.String("log-file", "", "Write logs to this file")
	flagWrite   = flag.String("write-config", "", "Write the effective config to this path")
)

// ParseFlags parses command-line flags. Call this early in main().
func ParseFlags() {
	flag.Parse()
}

// ConfigPath returns the explicit config path if provided via -config.
func ConfigPath() string {
	return *flagConfig
}

// WriteConfigPath returns the -write-config destination, if any.
func WriteConfigPath() string {
	return *flagWrite
}

// applyFlags applies CLI flag overrides to the config.
func applyFlags(cfg *Config) {
	if *flagDebug {
		cfg.Logging.Level = "debug"
	}
	if paths := splitList(*flagSearch); len(paths) > 0 {
		cfg.Assets.SearchPaths = append(paths, cfg.Assets.SearchPaths...)
	}
	if paths := splitList(*flagVPK); len(paths) > 0 {
		cfg.Assets.Archives = append(paths, cfg.Assets.Archives...)
	}
	if *flagLogFile != "" {
		cfg.Logging.File = *flagLogFile
	}
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
