package broker

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"golang.org/x/time/rate"

	"odin-stomp/internal/metrics"
)

// GuardConfig holds static, operator-configured admission limits: no
// auto-calculation from host capacity.
type GuardConfig struct {
	MaxConnections     int
	GlobalAcceptBurst  int
	GlobalAcceptRate   float64
	PerIPAcceptBurst   int
	PerIPAcceptRate    float64
	PerIPTTL           time.Duration
	CPURejectThreshold float64 // percent; 0 disables the check
	SampleInterval     time.Duration
}

// DefaultGuardConfig returns conservative defaults suitable for a single
// broker process.
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		MaxConnections:     10000,
		GlobalAcceptBurst:  300,
		GlobalAcceptRate:   50.0,
		PerIPAcceptBurst:   10,
		PerIPAcceptRate:    1.0,
		PerIPTTL:           5 * time.Minute,
		CPURejectThreshold: 90.0,
		SampleInterval:     15 * time.Second,
	}
}

type ipLimiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// ResourceGuard is the admission-control layer the event loop consults
// before Accept: a hard connection ceiling, a two-level (global + per-IP)
// token bucket on accept rate, and a CPU emergency brake. It has no
// background goroutine — sampling and IP-map cleanup piggyback on the
// event loop's own readiness tick, since the broker runs on a single
// thread of control.
type ResourceGuard struct {
	config GuardConfig
	log    zerolog.Logger

	global *rate.Limiter
	ipLim  map[string]*ipLimiterEntry

	conns       *ConnectionSet
	lastSample  time.Time
	currentCPU  float64
	cpuDisabled bool
}

// NewResourceGuard creates a ResourceGuard that reads live connection
// count from conns.
func NewResourceGuard(config GuardConfig, conns *ConnectionSet, log zerolog.Logger) *ResourceGuard {
	return &ResourceGuard{
		config: config,
		log:    log,
		global: rate.NewLimiter(rate.Limit(config.GlobalAcceptRate), config.GlobalAcceptBurst),
		ipLim:  make(map[string]*ipLimiterEntry),
		conns:  conns,
	}
}

// AllowAccept is consulted once per readiness tick before accepting a
// pending connection. It does not yet know the peer's address (accept(2)
// hasn't run), so only the connection-count ceiling, global rate, and CPU
// brake apply here; per-IP throttling is applied in AllowAcceptFromIP once
// the peer address is known.
func (g *ResourceGuard) AllowAccept() bool {
	if g.conns.Len() >= g.config.MaxConnections {
		g.log.Debug().Int("max_connections", g.config.MaxConnections).Msg("accept rejected: at connection limit")
		metrics.ConnectionsRejected.WithLabelValues("max_connections").Inc()
		return false
	}
	if g.config.CPURejectThreshold > 0 && !g.cpuDisabled && g.currentCPU > g.config.CPURejectThreshold {
		g.log.Debug().Float64("cpu_percent", g.currentCPU).Msg("accept rejected: CPU over threshold")
		metrics.ConnectionsRejected.WithLabelValues("cpu_overload").Inc()
		return false
	}
	if !g.global.Allow() {
		metrics.ConnectionsRejected.WithLabelValues("global_rate_limit").Inc()
		return false
	}
	return true
}

// AllowAcceptFromIP applies the per-IP sustained-rate check once the
// peer's address is known, creating that IP's bucket lazily.
func (g *ResourceGuard) AllowAcceptFromIP(ip string) bool {
	entry, ok := g.ipLim[ip]
	if !ok {
		entry = &ipLimiterEntry{limiter: rate.NewLimiter(rate.Limit(g.config.PerIPAcceptRate), g.config.PerIPAcceptBurst)}
		g.ipLim[ip] = entry
	}
	entry.lastAccess = time.Now()
	if !entry.limiter.Allow() {
		metrics.ConnectionsRejected.WithLabelValues("per_ip_rate_limit").Inc()
		return false
	}
	return true
}

// Tick samples host CPU usage (rate-limited to SampleInterval) and evicts
// stale per-IP buckets. Called once per event-loop iteration.
func (g *ResourceGuard) Tick(now time.Time) {
	if now.Sub(g.lastSample) < g.config.SampleInterval {
		return
	}
	g.lastSample = now

	percents, err := cpu.Percent(0, false)
	if err != nil || len(percents) == 0 {
		g.cpuDisabled = true
		g.log.Warn().Err(err).Msg("cpu sampling unavailable, disabling CPU admission check")
	} else {
		g.currentCPU = percents[0]
		metrics.CPUUsagePercent.Set(g.currentCPU)
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		g.log.Debug().Float64("cpu_percent", g.currentCPU).Float64("mem_used_percent", vm.UsedPercent).Msg("resource sample")
	}

	for ip, entry := range g.ipLim {
		if now.Sub(entry.lastAccess) > g.config.PerIPTTL {
			delete(g.ipLim, ip)
		}
	}
}
