package health

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

// PercentFunc samples a usage percentage
type PercentFunc func(ctx context.Context) (float64, error)

// SystemMemory samples used memory percent of the host
func SystemMemory(ctx context.Context) (float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return vm.UsedPercent, nil
}

// SystemCPU returns a sampler measuring overall CPU usage across window
func SystemCPU(window time.Duration) PercentFunc {
	return func(ctx context.Context) (float64, error) {
		pcts, err := cpu.PercentWithContext(ctx, window, false)
		if err != nil {
			return 0, err
		}
		if len(pcts) == 0 {
			return 0, fmt.Errorf("no cpu samples")
		}
		return pcts[0], nil
	}
}

// ThresholdChecker is healthy while a sampled percentage stays below its
// threshold
type ThresholdChecker struct {
	kind      CheckType
	sample    PercentFunc
	Threshold float64
}

// NewMemoryChecker checks host memory usage against threshold percent
func NewMemoryChecker(threshold float64) *ThresholdChecker {
	return &ThresholdChecker{kind: CheckTypeMemory, sample: SystemMemory, Threshold: threshold}
}

// NewCPUChecker checks host CPU usage, sampled over window, against
// threshold percent
func NewCPUChecker(threshold float64, window time.Duration) *ThresholdChecker {
	return &ThresholdChecker{kind: CheckTypeCPU, sample: SystemCPU(window), Threshold: threshold}
}

// WithSampler replaces the sampling function
func (c *ThresholdChecker) WithSampler(f PercentFunc) *ThresholdChecker {
	c.sample = f
	return c
}

func (c *ThresholdChecker) Check(ctx context.Context) Result {
	start := time.Now()

	pct, err := c.sample(ctx)
	if err != nil {
		return Result{
			Message:   fmt.Sprintf("%s sample failed: %v", c.kind, err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	result := Result{
		Healthy:   pct < c.Threshold,
		Value:     &pct,
		CheckedAt: start,
		Duration:  time.Since(start),
	}
	if result.Healthy {
		result.Message = fmt.Sprintf("%s usage %.1f%%", c.kind, pct)
	} else {
		result.Message = fmt.Sprintf("%s usage %.1f%% exceeds %.0f%%", c.kind, pct, c.Threshold)
	}
	return result
}

func (c *ThresholdChecker) Type() CheckType {
	return c.kind
}
