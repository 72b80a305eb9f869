// Package version exposes build/version metadata for this module, used to
// populate the User-Agent header on outgoing REST calls.
package version

import (
	"fmt"
	"runtime/debug"
)

// Info describes the module's version and commit, as far as it can be
// determined from the build info embedded by `go build`.
type Info struct {
	Version string
	Commit  string
}

// BaseVersionControlURL is the canonical repository for this module.
const BaseVersionControlURL = "https://github.com/gojupyter/kernelclient"

// Detect reads build metadata embedded by `go build` (module version,
// vcs.revision) and falls back to "(devel)" when run via `go run` or in a
// test binary, where no such metadata is recorded.
//
// Source: https://github.com/Icinga/icingadb/blob/51068fff46364385f3c0165aab7b7393fa6a303b/pkg/version/version.go
func Detect() Info {
	info := Info{Version: "(devel)"}
	build, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	if build.Main.Version != "" {
		info.Version = build.Main.Version
	}
	for _, setting := range build.Settings {
		if setting.Key == "vcs.revision" {
			info.Commit = setting.Value
		}
	}
	return info
}

// UserAgent formats the User-Agent header value sent with every REST call.
func (v Info) UserAgent() string {
	if v.Commit == "" {
		return fmt.Sprintf("kernelclient/%s", v.Version)
	}
	const hashLen = 7
	commit := v.Commit
	if len(commit) > hashLen {
		commit = commit[:hashLen]
	}
	return fmt.Sprintf("kernelclient/%s (%s)", v.Version, commit)
}
