//go:build release

package security

const releaseBuild = true
