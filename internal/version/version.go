// Package version carries build metadata set via -ldflags at release time.
package version

// Version and Commit are overridden at build time with:
//
//	-ldflags "-X github.com/sentinelcp/control-plane/internal/version.Version=... -X .../Commit=..."
var (
	Version = "dev"
	Commit  = "unknown"
)
