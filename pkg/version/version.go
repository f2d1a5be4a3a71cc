// Package version holds build-time version info injected via ldflags.
//
//	go build -ldflags "-X github.com/NicolasHaas/zyeachat/pkg/version.tag=v1.0.1
//	  -X github.com/NicolasHaas/zyeachat/pkg/version.commit=abc1234
//	  -X github.com/NicolasHaas/zyeachat/pkg/version.date=2026-10-19"
package version

import "runtime"

// Populated by -ldflags "-X ...". Defaults mark a local dev build.
var (
	tag    = ""
	commit = "unknown"
	date   = "unknown"
)

// String returns the tag, the short commit, or "dev".
func String() string {
	if tag != "" {
		return tag
	}
	if commit != "unknown" {
		return commit
	}
	return "dev"
}

// Full returns "tag (commit) built date" or a sensible fallback.
func Full() string {
	if tag != "" {
		return tag + " (" + commit + ") built " + date
	}
	if commit != "unknown" {
		return commit + " built " + date
	}
	return "dev"
}

// IsDev reports whether this is an untagged local build. Update checks are
// skipped for those.
func IsDev() bool { return tag == "" }

// UserAgent is sent with every backend request.
func UserAgent() string {
	return "zyeachat/" + String() + " (" + runtime.GOOS + "/" + runtime.GOARCH + ")"
}

// Tag returns the git tag, or empty string.
func Tag() string { return tag }

// Commit returns the short commit SHA.
func Commit() string { return commit }

// Date returns the build date.
func Date() string { return date }
