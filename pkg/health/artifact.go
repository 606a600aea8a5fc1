package health

import (
	"context"
	"fmt"
	"os"
	"time"
)

// ArtifactChecker is healthy when a required build artifact exists and is
// a non-empty regular file. The file size in bytes is the value.
type ArtifactChecker struct {
	Path string
}

// NewArtifactChecker creates a checker for path
func NewArtifactChecker(path string) *ArtifactChecker {
	return &ArtifactChecker{Path: path}
}

func (a *ArtifactChecker) Check(ctx context.Context) Result {
	start := time.Now()
	result := Result{CheckedAt: start}

	info, err := os.Stat(a.Path)
	switch {
	case err != nil:
		result.Message = fmt.Sprintf("artifact missing: %v", err)
	case !info.Mode().IsRegular():
		result.Message = fmt.Sprintf("artifact %s is not a regular file", a.Path)
	case info.Size() == 0:
		result.Message = fmt.Sprintf("artifact %s is empty", a.Path)
	default:
		size := float64(info.Size())
		result.Healthy = true
		result.Value = &size
		result.Message = fmt.Sprintf("%s present", a.Path)
	}

	result.Duration = time.Since(start)
	return result
}

func (a *ArtifactChecker) Type() CheckType {
	return CheckTypeArtifact
}
