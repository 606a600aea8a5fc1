package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/cuemby/portfolio-deploy/pkg/log"
	"github.com/cuemby/portfolio-deploy/pkg/types"
)

// ProcessLister reports the process manager's current table
type ProcessLister interface {
	List(ctx context.Context) ([]types.ProcessInfo, error)
}

// Collector polls the process manager and exports one series per worker
type Collector struct {
	lister   ProcessLister
	interval time.Duration
	logger   zerolog.Logger
	stopCh   chan struct{}

	Online   *prometheus.GaugeVec
	CPU      *prometheus.GaugeVec
	Memory   *prometheus.GaugeVec
	Restarts *prometheus.GaugeVec
}

// NewCollector creates a process collector and registers it on reg
func NewCollector(lister ProcessLister, interval time.Duration, reg prometheus.Registerer) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	labels := []string{"name", "pm_id"}
	c := &Collector{
		lister:   lister,
		interval: interval,
		logger:   log.WithComponent("process-collector"),
		stopCh:   make(chan struct{}),

		Online: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "process_online",
			Help:      "Whether a supervised process is online (1) or not (0)",
		}, labels),
		CPU: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "process_cpu_percent",
			Help:      "CPU usage of a supervised process",
		}, labels),
		Memory: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "process_memory_bytes",
			Help:      "Resident memory of a supervised process",
		}, labels),
		Restarts: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "process_restarts",
			Help:      "Restart count of a supervised process",
		}, labels),
	}
	reg.MustRegister(c.Online, c.CPU, c.Memory, c.Restarts)
	return c
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		// Collect immediately on start
		c.Collect(context.Background())

		for {
			select {
			case <-ticker.C:
				c.Collect(context.Background())
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

// Collect refreshes every series from one process listing. Processes that
// disappeared since the last pass are dropped.
func (c *Collector) Collect(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, c.interval)
	defer cancel()

	procs, err := c.lister.List(ctx)
	if err != nil {
		c.logger.Debug().Err(err).Msg("Failed to list processes")
		return
	}

	c.Online.Reset()
	c.CPU.Reset()
	c.Memory.Reset()
	c.Restarts.Reset()

	for _, p := range procs {
		id := strconv.Itoa(p.ID)
		c.Online.WithLabelValues(p.Name, id).Set(boolGauge(p.Status == types.ProcessOnline))
		c.CPU.WithLabelValues(p.Name, id).Set(p.CPU)
		c.Memory.WithLabelValues(p.Name, id).Set(float64(p.MemoryBytes))
		c.Restarts.WithLabelValues(p.Name, id).Set(float64(p.Restarts))
	}
}
