// Package build turns the source tree into an immutable release.
//
// Install runs the dependency install (npm ci --include=dev by default) and
// requires the lockfile. Build runs the build command, checks that the
// entry file exists (types.ErrBuildIncomplete otherwise) and copies the
// output tree plus manifest files into ReleasesDir/<release-id> with a
// release.json describing it.
package build
