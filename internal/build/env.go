package build

import (
	"os"
	"strings"
)

// SafeEnvVars is the whitelist of environment variables passed to the build
// script. API keys and other credentials never reach it.
var SafeEnvVars = []string{
	"PATH",
	"HOME",
	"USER",
	"SHELL",
	"TERM",
	"LANG",
	"LC_ALL",
	"LC_CTYPE",
	"TMPDIR",
	"TMP",
	"TEMP",
	"XDG_CACHE_HOME",
	"GOPATH",
	"GOROOT",
	"GOPROXY",
	"GOPRIVATE",
	"GOFLAGS",
	"GOCACHE",
	"GOMODCACHE",
	"CARGO_HOME",
	"RUSTUP_HOME",
	"NODE_PATH",
	"NPM_CONFIG_PREFIX",
	"PYTHONPATH",
	"VIRTUAL_ENV",
	"JAVA_HOME",
	"CC",
	"CXX",
}

// safeEnv builds a sanitized environment from lookup, plus extra entries.
func safeEnv(lookup func(string) string, extra []string) []string {
	env := make([]string, 0, len(SafeEnvVars)+len(extra)+1)
	hasPath := false
	for _, key := range SafeEnvVars {
		if val := lookup(key); val != "" {
			env = append(env, key+"="+val)
			if key == "PATH" {
				hasPath = true
			}
		}
	}
	if !hasPath {
		env = append(env, "PATH=/usr/local/bin:/usr/bin:/bin")
	}
	for _, e := range extra {
		if strings.Contains(e, "=") {
			env = append(env, e)
		}
	}
	return env
}

func buildSafeEnv(extra []string) []string {
	return safeEnv(os.Getenv, extra)
}
