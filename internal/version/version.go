// Package version carries build metadata stamped in by the linker:
//
//	go build -ldflags "-X github.com/customermindiq/affchat/internal/version.Version=1.0.0 \
//	  -X github.com/customermindiq/affchat/internal/version.Commit=$(git rev-parse HEAD) \
//	  -X github.com/customermindiq/affchat/internal/version.Date=$(date -u +%F)"
package version

import (
	"fmt"
	"runtime"
)

var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

const commitLen = 7

// Info is the human readable line printed by `affchat version`.
func Info() string {
	return fmt.Sprintf("affchat %s (commit: %s, built: %s, %s/%s)",
		Version, ShortCommit(), Date, runtime.GOOS, runtime.GOARCH)
}

// UserAgent identifies the client to the desk and to IRC servers.
func UserAgent() string {
	return "affchat/" + Version
}

// ShortCommit abbreviates Commit to the usual git prefix length.
func ShortCommit() string {
	if len(Commit) > commitLen {
		return Commit[:commitLen]
	}
	return Commit
}
