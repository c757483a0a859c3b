// Package version reports build information stamped in with ldflags:
//
//	go build -ldflags "-X github.com/teranos/reel/version.Version=v0.3.0 \
//	  -X github.com/teranos/reel/version.CommitHash=$(git rev-parse HEAD) \
//	  -X github.com/teranos/reel/version.BuildTime=$(date -u +%FT%TZ)"
package version

import (
	"fmt"
	"runtime"

	"github.com/Masterminds/semver/v3"
)

// Stamped at build time. Untagged builds keep the defaults.
var (
	Version    = "dev"
	CommitHash = "dev"
	BuildTime  = "unknown"
)

const shortHashLen = 7

// Info describes the running binary.
type Info struct {
	Version    string `json:"version"`
	CommitHash string `json:"commit_hash"`
	BuildTime  string `json:"build_time"`
	GoVersion  string `json:"go_version"`
	Platform   string `json:"platform"`
}

// Get reads the stamped build information.
func Get() Info {
	return Info{
		Version:    Version,
		CommitHash: CommitHash,
		BuildTime:  BuildTime,
		GoVersion:  runtime.Version(),
		Platform:   runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// semver parses Version; nil for untagged builds.
func (i Info) semver() *semver.Version {
	v, err := semver.NewVersion(i.Version)
	if err != nil {
		return nil
	}
	return v
}

// IsRelease reports whether Version is a tagged semantic version.
func (i Info) IsRelease() bool { return i.semver() != nil }

// Tag is "v<semver>" for releases and "dev-<short hash>" otherwise.
func (i Info) Tag() string {
	if v := i.semver(); v != nil {
		return "v" + v.String()
	}
	return "dev-" + i.Short()
}

// Short is the abbreviated commit hash.
func (i Info) Short() string {
	if len(i.CommitHash) > shortHashLen {
		return i.CommitHash[:shortHashLen]
	}
	return i.CommitHash
}

func (i Info) String() string {
	return fmt.Sprintf("reel %s (commit %s, built %s)", i.Tag(), i.Short(), i.BuildTime)
}
