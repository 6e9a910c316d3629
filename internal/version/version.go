// Package version defines a version string that is used for:
// - building
// - the user agent and app version headers
// - tagging
package version

// Version is the latest version
// Update this when releasing
const Version = "4.0.0"
