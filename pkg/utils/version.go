// Package utils holds small helpers shared across the relay that do not
// warrant a package of their own.
package utils

// Build identity, overridden at link time via -ldflags.
var (
	Version   = "dev"
	Sha       = "HEAD"
	Buildtime = "dev"
)
