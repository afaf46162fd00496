package main

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/omegaup/replgrader/common"
	"github.com/omegaup/replgrader/grader"
	"github.com/omegaup/replgrader/sandbox"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/load"
	"github.com/shirou/gopsutil/mem"
)

var (
	counters = map[string]prometheus.Counter{
		common.MetricBatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "replgrader",
			Subsystem: "grader",
			Help:      "Number of graded batches",
			Name:      "batches",
		}),
	}

	gauges = map[string]prometheus.Gauge{
		"cpu_load1": prometheus.NewGauge(prometheus.GaugeOpts{
			Subsystem: "os",
			Help:      "CPU load 1",
			Name:      "cpu_load1",
		}),
		"cpu_load5": prometheus.NewGauge(prometheus.GaugeOpts{
			Subsystem: "os",
			Help:      "CPU load 5",
			Name:      "cpu_load5",
		}),
		"cpu_load15": prometheus.NewGauge(prometheus.GaugeOpts{
			Subsystem: "os",
			Help:      "CPU load 15",
			Name:      "cpu_load15",
		}),
		"mem_total": prometheus.NewGauge(prometheus.GaugeOpts{
			Subsystem: "os",
			Help:      "Total amount of RAM",
			Name:      "mem_total",
		}),
		"mem_used": prometheus.NewGauge(prometheus.GaugeOpts{
			Subsystem: "os",
			Help:      "RAM used by programs",
			Name:      "mem_used",
		}),
	}

	summaries = map[string]prometheus.Summary{
		common.MetricCaseDuration: prometheus.NewSummary(prometheus.SummaryOpts{
			Namespace:  "replgrader",
			Subsystem:  "grader",
			Help:       "Wall time of a test case, in seconds",
			Name:       "case_duration_seconds",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		}),
		common.MetricSandboxDuration: prometheus.NewSummary(prometheus.SummaryOpts{
			Namespace:  "replgrader",
			Subsystem:  "sandbox",
			Help:       "Wall time of a sandboxed run, in seconds",
			Name:       "run_duration_seconds",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		}),
		common.MetricSandboxMemory: prometheus.NewSummary(prometheus.SummaryOpts{
			Namespace:  "replgrader",
			Subsystem:  "sandbox",
			Help:       "Peak resident memory of a sandboxed run, in bytes",
			Name:       "peak_memory_bytes",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		}),
	}
)

func init() {
	for _, outcome := range []grader.Outcome{
		grader.OutcomePass,
		grader.OutcomeFail,
		grader.OutcomeSyntaxError,
		grader.OutcomeRuntimeError,
	} {
		tag := strings.ToLower(outcome.String())
		counters[common.MetricCasesPrefix+tag] = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "replgrader",
			Subsystem: "grader",
			Help:      fmt.Sprintf("Number of cases classified as %s", outcome),
			Name:      "cases_" + tag,
		})
	}
	for _, reason := range []sandbox.Reason{
		sandbox.ReasonTimeout,
		sandbox.ReasonMemoryLimitExceeded,
		sandbox.ReasonSignaled,
		sandbox.ReasonTransport,
		sandbox.ReasonNoResult,
	} {
		name := strings.ReplaceAll(string(reason), "-", "_")
		counters[common.MetricAbortedPrefix+string(reason)] = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "replgrader",
			Subsystem: "sandbox",
			Help:      fmt.Sprintf("Number of sandboxed runs aborted with %s", reason),
			Name:      "aborted_" + name,
		})
	}
}

type prometheusMetrics struct {
}

var _ common.Metrics = &prometheusMetrics{}

func (p *prometheusMetrics) GaugeAdd(name string, value float64) {
	if gauge, ok := gauges[name]; ok {
		gauge.Add(value)
	}
}

func (p *prometheusMetrics) CounterAdd(name string, value float64) {
	if counter, ok := counters[name]; ok {
		counter.Add(value)
	}
}

func (p *prometheusMetrics) SummaryObserve(name string, value float64) {
	if summary, ok := summaries[name]; ok {
		summary.Observe(value)
	}
}

func setupMetrics(ctx *common.Context) {
	if ctx.Config.Metrics.Port == 0 {
		return
	}
	for _, gauge := range gauges {
		prometheus.MustRegister(gauge)
	}
	for _, counter := range counters {
		prometheus.MustRegister(counter)
	}
	for _, summary := range summaries {
		prometheus.MustRegister(summary)
	}

	ctx.Metrics = &prometheusMetrics{}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	go func() {
		addr := fmt.Sprintf(":%d", ctx.Config.Metrics.Port)
		ctx.Log.Error(
			"http listen and serve",
			"err", http.ListenAndServe(addr, metricsMux),
		)
	}()
	gaugesUpdate()
}

func gaugesUpdate() {
	if s, err := load.Avg(); err == nil {
		gauges["cpu_load1"].Set(s.Load1)
		gauges["cpu_load5"].Set(s.Load5)
		gauges["cpu_load15"].Set(s.Load15)
	}
	if s, err := mem.VirtualMemory(); err == nil {
		gauges["mem_total"].Set(float64(s.Total))
		gauges["mem_used"].Set(float64(s.Used))
	}
}
