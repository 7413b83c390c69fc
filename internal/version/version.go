// Package version reports the tandem release and build revision.
package version

import (
	_ "embed"
	"runtime/debug"
	"strings"
)

//go:embed VERSION
var versionContent string

// Commit may be set at link time with -ldflags "-X .../version.Commit=abc123".
var Commit = ""

// Get returns the release version from the VERSION file.
func Get() string {
	return strings.TrimSpace(versionContent)
}

// Revision returns the VCS revision the binary was built from, if known.
func Revision() string {
	if Commit != "" {
		return Commit
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" {
			if len(s.Value) > 12 {
				return s.Value[:12]
			}
			return s.Value
		}
	}
	return ""
}

// String returns "tandem <version>" with the revision when known.
func String() string {
	s := "tandem " + Get()
	if rev := Revision(); rev != "" {
		s += " (" + rev + ")"
	}
	return s
}
