package cow

import "golang.org/x/mod/semver"

// Version is the current version of the copy-on-write runtime.
const Version = "0.2.0"

// Info provides runtime information about the protocol implementation.
type Info struct {
	// Version is the runtime version string.
	Version string

	// Protocol names the ownership strategy in use.
	Protocol string
}

// GetInfo returns information about the copy-on-write runtime.
func GetInfo() Info {
	return Info{
		Version:  Version,
		Protocol: "copy-on-write fork (per-task ledger)",
	}
}

// AtLeast reports whether the runtime satisfies a minimum version
// constraint such as "v0.1.0". Program descriptions loaded by external
// tools declare the version they need and refuse to run on older
// runtimes. Invalid constraints are unsatisfiable.
func AtLeast(min string) bool {
	if !semver.IsValid(min) {
		return false
	}
	return semver.Compare("v"+Version, min) >= 0
}
