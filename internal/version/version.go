// Package version holds the release version reported by the CLI.
package version

// Current is the release version, without a leading "v".
const Current = "0.3.0"
