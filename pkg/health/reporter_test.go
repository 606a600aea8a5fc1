package health

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/portfolio-deploy/pkg/types"
)

func static(healthy bool, msg string) Checker {
	return CheckerFunc(func(context.Context) Result {
		return Result{Healthy: healthy, Message: msg}
	})
}

func TestReporter_AllHealthy(t *testing.T) {
	r := NewReporter("1.2.0", time.Second).
		Add("process", static(true, "HTTP 200 OK")).
		Add("artifacts", static(true, "present"))

	report := r.Run(context.Background())

	assert.Equal(t, types.HealthHealthy, report.Status)
	assert.True(t, report.Healthy())
	assert.Equal(t, "1.2.0", report.Version)
	assert.Len(t, report.Checks, 2)
	assert.Equal(t, "HTTP 200 OK", report.Checks["process"].Message)
	assert.GreaterOrEqual(t, report.Uptime, 0.0)
}

func TestReporter_OneUnhealthyFailsOverall(t *testing.T) {
	r := NewReporter("1.2.0", time.Second).
		Add("process", static(true, "ok")).
		Add("memory", static(false, "memory usage 95.0% exceeds 90%"))

	report := r.Run(context.Background())

	assert.Equal(t, types.HealthUnhealthy, report.Status)
	mem := report.Checks["memory"]
	assert.Equal(t, types.HealthUnhealthy, mem.Status)
	assert.Equal(t, "memory usage 95.0% exceeds 90%", mem.Error)
	assert.Equal(t, types.HealthHealthy, report.Checks["process"].Status)
}

func TestReporter_ChecksRunConcurrently(t *testing.T) {
	slow := CheckerFunc(func(ctx context.Context) Result {
		time.Sleep(100 * time.Millisecond)
		return Result{Healthy: true}
	})
	r := NewReporter("", time.Second)
	for _, name := range []string{"a", "b", "c", "d"} {
		r.Add(name, slow)
	}

	start := time.Now()
	report := r.Run(context.Background())
	assert.Less(t, time.Since(start), 350*time.Millisecond)
	assert.True(t, report.Healthy())
}

func TestReporter_TimeoutBoundsEachCheck(t *testing.T) {
	hang := CheckerFunc(func(ctx context.Context) Result {
		<-ctx.Done()
		return Result{Message: "timed out"}
	})
	r := NewReporter("", 30*time.Millisecond).Add("process", hang)

	report := r.Run(context.Background())
	require.Contains(t, report.Checks, "process")
	assert.False(t, report.Healthy())
}

func TestReporter_AddReplacesAndKeepsOrder(t *testing.T) {
	r := NewReporter("", 0).
		Add("process", static(false, "")).
		Add("cpu", static(true, "")).
		Add("process", static(true, ""))

	assert.Equal(t, []string{"process", "cpu"}, r.Names())
	assert.True(t, r.Run(context.Background()).Healthy())
}

func TestReporter_NoChecksIsHealthy(t *testing.T) {
	report := NewReporter("", 0).Run(context.Background())
	assert.True(t, report.Healthy())
	assert.Empty(t, report.Checks)
}
