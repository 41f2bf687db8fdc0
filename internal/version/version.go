// Package version reports the mosaic release.
package version

import (
	_ "embed"
	"runtime/debug"
	"strings"
)

//go:embed VERSION
var versionContent string

// Override is set at link time with -ldflags "-X .../version.Override=v1.2.3".
var Override string

// Get returns the current version, with whitespace trimmed.
func Get() string {
	if Override != "" {
		return strings.TrimPrefix(Override, "v")
	}
	return strings.TrimSpace(versionContent)
}

// Revision returns the VCS revision the binary was built from, or "".
func Revision() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	var rev, dirty string
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			rev = s.Value
		case "vcs.modified":
			if s.Value == "true" {
				dirty = "-dirty"
			}
		}
	}
	if len(rev) > 12 {
		rev = rev[:12]
	}
	if rev == "" {
		return ""
	}
	return rev + dirty
}
