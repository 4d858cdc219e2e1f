package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"
)

var (
	procCPU = prometheus.NewGauge(
		prometheus.GaugeOpts{Namespace: namespace, Subsystem: "agent", Name: "cpu_percent", Help: "Agent process CPU percent"},
	)
	procRSS = prometheus.NewGauge(
		prometheus.GaugeOpts{Namespace: namespace, Subsystem: "agent", Name: "memory_rss_bytes", Help: "Agent process RSS bytes"},
	)
)

func init() {
	prometheus.MustRegister(procCPU, procRSS)
}

// SampleProcess records CPU and RSS of pid every interval until ctx ends or
// the process goes away.
func SampleProcess(ctx context.Context, pid int, interval time.Duration) {
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return
	}
	// baseline for CPU percent
	_, _ = p.CPUPercentWithContext(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer func() {
		procCPU.Set(0)
		procRSS.Set(0)
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ok, _ := p.IsRunningWithContext(ctx); !ok {
				return
			}
			if cpu, err := p.CPUPercentWithContext(ctx); err == nil {
				procCPU.Set(cpu)
			}
			if mi, err := p.MemoryInfoWithContext(ctx); err == nil && mi != nil {
				procRSS.Set(float64(mi.RSS))
			}
		}
	}
}
