package stacking

import (
	semver "github.com/Masterminds/semver/v3"
)

// fixedBy reports whether an event reported from version is covered by a fix
// released in fixedIn, i.e. version <= fixedIn. Missing or unparsable
// versions are never covered.
func fixedBy(version, fixedIn string) bool {
	if version == "" || fixedIn == "" {
		return false
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return false
	}
	f, err := semver.NewVersion(fixedIn)
	if err != nil {
		return false
	}
	return !v.GreaterThan(f)
}
