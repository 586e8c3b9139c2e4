package scheduler

import (
	"context"
	"strconv"
	"sync"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "jobscheduler"

type tenantMetrics struct {
	running  prometheus.Gauge
	executed prometheus.Counter
	failed   prometheus.Counter
}

type metricsListener struct {
	registerer prometheus.Registerer

	mu      sync.RWMutex
	tenants map[int64]*tenantMetrics
}

// NewMetricsListener keeps per tenant gauges of running jobs and counters of
// executed and failed jobs. Collectors are registered on first use of a tenant.
func NewMetricsListener(registerer prometheus.Registerer) Listener {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &metricsListener{registerer: registerer, tenants: make(map[int64]*tenantMetrics)}
}

func (m *metricsListener) Name() string {
	return "metrics"
}

func (m *metricsListener) JobToBeExecuted(_ context.Context, jc map[string]interface{}) {
	if tm := m.of(jc); tm != nil {
		tm.running.Inc()
	}
}

func (m *metricsListener) JobExecutionVetoed(context.Context, map[string]interface{}) {}

func (m *metricsListener) JobWasExecuted(_ context.Context, jc map[string]interface{}, err error) {
	tm := m.of(jc)
	if tm == nil {
		return
	}
	tm.running.Dec()
	tm.executed.Inc()
	if err != nil {
		tm.failed.Inc()
	}
}

func (m *metricsListener) of(jc map[string]interface{}) *tenantMetrics {
	tenantID, ok := jc[ContextTenantID].(int64)
	if !ok {
		return nil
	}
	return m.metrics(tenantID)
}

// metrics double-checked so that a tenant is registered once
func (m *metricsListener) metrics(tenantID int64) *tenantMetrics {
	m.mu.RLock()
	tm, ok := m.tenants[tenantID]
	m.mu.RUnlock()
	if ok {
		return tm
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if tm, ok = m.tenants[tenantID]; ok {
		return tm
	}
	labels := prometheus.Labels{"tenant": strconv.FormatInt(tenantID, 10)}
	tm = &tenantMetrics{
		running: m.register(prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   metricsNamespace,
			Name:        "running_jobs",
			Help:        "Number of jobs currently running.",
			ConstLabels: labels,
		})).(prometheus.Gauge),
		executed: m.register(prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Name:        "executed_jobs_total",
			Help:        "Number of completed job executions.",
			ConstLabels: labels,
		})).(prometheus.Counter),
		failed: m.register(prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Name:        "failed_jobs_total",
			Help:        "Number of job executions that returned an error.",
			ConstLabels: labels,
		})).(prometheus.Counter),
	}
	m.tenants[tenantID] = tm
	return tm
}

// register 已注册时复用已有的采集器
func (m *metricsListener) register(c prometheus.Collector) prometheus.Collector {
	err := m.registerer.Register(c)
	if err == nil {
		return c
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		return are.ExistingCollector
	}
	// 注册失败时仍在进程内计数
	return c
}
