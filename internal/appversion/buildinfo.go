// Package appversion provides build-time version information for chatmux.
package appversion

// version is set at build time via -ldflags "-X chatmux/internal/appversion.version=...".
var version = "dev" //nolint:gochecknoglobals // ldflags requires package-level var

// String returns the current version.
func String() string {
	return version
}
