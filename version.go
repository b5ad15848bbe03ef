package respwire

import (
	"strconv"

	"github.com/raniellyferreira/respwire/protocol"
)

// Version is the current version of the respwire library.
const Version = "1.0.0"

// Set with -ldflags "-X github.com/raniellyferreira/respwire.GitCommit=..."
var (
	GitCommit string
	BuildTime string
)

// VersionInfo returns the library version, the protocol generations it
// speaks and the build metadata when present
func VersionInfo() map[string]string {
	info := map[string]string{
		"version":   Version,
		"protocols": strconv.Itoa(int(protocol.RESP2)) + "," + strconv.Itoa(int(protocol.RESP3)),
		"default":   protocol.DefaultConfig().Protocol.String(),
	}

	if GitCommit != "" {
		info["commit"] = GitCommit
	}
	if BuildTime != "" {
		info["buildTime"] = BuildTime
	}
	return info
}
