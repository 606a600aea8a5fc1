// Package fsutil holds the filesystem primitives shared by backups,
// releases and the supervisor: tree copies with doublestar excludes,
// SHA-256 manifests, and an atomic directory swap for activating a staged
// release.
package fsutil
