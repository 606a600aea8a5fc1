package deploy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cuemby/portfolio-deploy/pkg/health"
	"github.com/cuemby/portfolio-deploy/pkg/types"
)

// versionFlags lists tools that do not understand --version
var versionFlags = map[string]string{
	"nginx": "-v",
}

// validateEnvironment checks required tools, the source tree and the state
// directories. Every failure matches types.ErrPrerequisiteMissing.
func (o *Orchestrator) validateEnvironment(ctx context.Context) error {
	for _, tool := range o.opts.RequiredTools {
		path, err := o.deps.Runner.LookPath(tool)
		if err != nil {
			return fmt.Errorf("%w: %s not found on PATH", types.ErrPrerequisiteMissing, tool)
		}

		flag := "--version"
		if f, ok := versionFlags[tool]; ok {
			flag = f
		}
		result := health.NewExecChecker(o.deps.Runner, []string{tool, flag}).Check(ctx)
		if !result.Healthy {
			return fmt.Errorf("%w: %s is not usable: %s", types.ErrPrerequisiteMissing, tool, result.Message)
		}
		o.logger.Debug().Str("tool", tool).Str("path", path).Str("version", result.Message).Msg("Tool available")
	}

	if o.opts.SourceDir != "" {
		info, err := os.Stat(o.opts.SourceDir)
		if err != nil || !info.IsDir() {
			return fmt.Errorf("%w: source directory %s", types.ErrPrerequisiteMissing, o.opts.SourceDir)
		}
		for _, name := range []string{o.opts.ManifestFile, o.opts.Lockfile} {
			if name == "" {
				continue
			}
			if _, err := os.Stat(filepath.Join(o.opts.SourceDir, name)); err != nil {
				return fmt.Errorf("%w: %s missing in %s", types.ErrPrerequisiteMissing, name, o.opts.SourceDir)
			}
		}
	}

	for _, dir := range o.opts.RequiredDirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("%w: cannot create %s: %v", types.ErrPrerequisiteMissing, dir, err)
		}
	}
	return nil
}
