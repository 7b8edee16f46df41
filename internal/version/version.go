// Package version provides the hoster version and implementation name reported
// by the command line, the RPC system_* methods and telemetry.
// All versions follow semantic versioning (semver) conventions.
package version

// HosterVersion holds the current hoster version.
// Format: major.minor.patch[-prerelease][+build]
const HosterVersion = "0.1.0-dev"

// ImplName is the implementation name advertised to peers and telemetry.
const ImplName = "Runtime Hoster"

// ImplID is the short implementation identifier used in user agents.
const ImplID = "hoster"

// UserAgent returns the identifier sent with outbound telemetry requests.
func UserAgent() string {
	return ImplID + "/" + HosterVersion
}
