// Package metrics 提供Prometheus文本格式的监控指标
package metrics

import (
	"database/sql"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/paiban/bnpdive/pkg/scheduler/solver"
)

// 指标名称
const (
	HTTPRequestsTotal     = "bnpdive_http_requests_total"
	HTTPRequestDuration   = "bnpdive_http_request_duration_seconds"
	RunsTotal             = "bnpdive_runs_total"
	RunDuration           = "bnpdive_run_duration_seconds"
	CGIterationsTotal     = "bnpdive_cg_iterations_total"
	ColumnsAddedTotal     = "bnpdive_columns_added_total"
	MasterSolveSeconds    = "bnpdive_master_solve_seconds"
	PricingSolveSeconds   = "bnpdive_pricing_solve_seconds"
	DiveLevels            = "bnpdive_dive_levels"
	BestObjective         = "bnpdive_best_objective"
	UnmetDemand           = "bnpdive_unmet_demand"
	ActiveRuns            = "bnpdive_active_runs"
	DBConnections         = "bnpdive_db_connections"
	improvementScoreDelta = "bnpdive_improvement_objective_delta"
)

// Registry 指标注册表
type Registry struct {
	counters   map[string]*Counter
	gauges     map[string]*Gauge
	histograms map[string]*Histogram
	mu         sync.RWMutex
}

// Counter 计数器
type Counter struct {
	Name   string
	Help   string
	Labels []string
	values map[string]float64
	mu     sync.RWMutex
}

// Gauge 仪表盘
type Gauge struct {
	Name   string
	Help   string
	Labels []string
	values map[string]float64
	mu     sync.RWMutex
}

// Histogram 直方图
type Histogram struct {
	Name    string
	Help    string
	Labels  []string
	Buckets []float64
	counts  map[string][]uint64
	sums    map[string]float64
	mu      sync.RWMutex
}

var (
	registry *Registry
	once     sync.Once
)

// GetRegistry 获取全局注册表
func GetRegistry() *Registry {
	once.Do(func() {
		registry = NewRegistry()
	})
	return registry
}

// NewRegistry 创建注册了全部默认指标的注册表
func NewRegistry() *Registry {
	r := &Registry{
		counters:   make(map[string]*Counter),
		gauges:     make(map[string]*Gauge),
		histograms: make(map[string]*Histogram),
	}

	r.NewCounter(HTTPRequestsTotal, "HTTP请求总数", []string{"method", "path", "status"})
	r.NewHistogram(HTTPRequestDuration, "HTTP请求延迟",
		[]string{"method", "path"},
		[]float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10})

	r.NewCounter(RunsTotal, "求解次数", []string{"solver", "status"})
	r.NewHistogram(RunDuration, "求解耗时", []string{"solver"},
		[]float64{0.1, 1, 10, 60, 300, 900, 1800, 3600, 7200})
	r.NewCounter(CGIterationsTotal, "列生成迭代次数", []string{"phase"})
	r.NewCounter(ColumnsAddedTotal, "加入主问题的列数", []string{"phase"})
	r.NewCounter(MasterSolveSeconds, "主问题求解累计耗时", nil)
	r.NewCounter(PricingSolveSeconds, "定价子问题累计耗时", nil)

	r.NewGauge(DiveLevels, "最近一次下潜的层数", nil)
	r.NewGauge(BestObjective, "最近一次求解的目标值", []string{"solver"})
	r.NewGauge(UnmetDemand, "最近一次求解的未满足需求", []string{"solver"})
	r.NewGauge(improvementScoreDelta, "局部搜索带来的目标值下降", nil)
	r.NewGauge(ActiveRuns, "正在进行的求解数", nil)
	r.NewGauge(DBConnections, "数据库连接数", []string{"state"})
	return r
}

// NewCounter 创建计数器
func (r *Registry) NewCounter(name, help string, labels []string) *Counter {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := &Counter{Name: name, Help: help, Labels: labels, values: make(map[string]float64)}
	r.counters[name] = c
	return c
}

// NewGauge 创建仪表盘
func (r *Registry) NewGauge(name, help string, labels []string) *Gauge {
	r.mu.Lock()
	defer r.mu.Unlock()

	g := &Gauge{Name: name, Help: help, Labels: labels, values: make(map[string]float64)}
	r.gauges[name] = g
	return g
}

// NewHistogram 创建直方图
func (r *Registry) NewHistogram(name, help string, labels []string, buckets []float64) *Histogram {
	r.mu.Lock()
	defer r.mu.Unlock()

	h := &Histogram{
		Name:    name,
		Help:    help,
		Labels:  labels,
		Buckets: buckets,
		counts:  make(map[string][]uint64),
		sums:    make(map[string]float64),
	}
	r.histograms[name] = h
	return h
}

// GetCounter 获取计数器
func (r *Registry) GetCounter(name string) *Counter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.counters[name]
}

// GetGauge 获取仪表盘
func (r *Registry) GetGauge(name string) *Gauge {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.gauges[name]
}

// GetHistogram 获取直方图
func (r *Registry) GetHistogram(name string) *Histogram {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.histograms[name]
}

// Inc 增加计数
func (c *Counter) Inc(labelValues ...string) {
	c.Add(1, labelValues...)
}

// Add 增加指定值，负值被忽略
func (c *Counter) Add(value float64, labelValues ...string) {
	if value < 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[labelKey(labelValues)] += value
}

// Value 读取当前值
func (c *Counter) Value(labelValues ...string) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.values[labelKey(labelValues)]
}

// Set 设置值
func (g *Gauge) Set(value float64, labelValues ...string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.values[labelKey(labelValues)] = value
}

// Inc 增加
func (g *Gauge) Inc(labelValues ...string) {
	g.Add(1, labelValues...)
}

// Dec 减少
func (g *Gauge) Dec(labelValues ...string) {
	g.Add(-1, labelValues...)
}

// Add 增加指定值
func (g *Gauge) Add(value float64, labelValues ...string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.values[labelKey(labelValues)] += value
}

// Value 读取当前值
func (g *Gauge) Value(labelValues ...string) float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.values[labelKey(labelValues)]
}

// Observe 记录观测值
func (h *Histogram) Observe(value float64, labelValues ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	key := labelKey(labelValues)
	counts, ok := h.counts[key]
	if !ok {
		counts = make([]uint64, len(h.Buckets)+1)
		h.counts[key] = counts
	}
	// 只计入第一个满足的桶，输出时再累加
	i := sort.SearchFloat64s(h.Buckets, value)
	counts[i]++
	h.sums[key] += value
}

// Count 某组标签下的观测次数
func (h *Histogram) Count(labelValues ...string) uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var n uint64
	for _, c := range h.counts[labelKey(labelValues)] {
		n += c
	}
	return n
}

// 标签值中不会出现该分隔符
const labelSep = "\xff"

func labelKey(labels []string) string {
	return strings.Join(labels, labelSep)
}

func formatLabels(names []string, key string, extra ...string) string {
	var vals []string
	if key != "" || len(names) > 0 {
		vals = strings.Split(key, labelSep)
	}
	parts := make([]string, 0, len(names)+1)
	for i, name := range names {
		val := ""
		if i < len(vals) {
			val = vals[i]
		}
		parts = append(parts, fmt.Sprintf("%s=%s", name, strconv.Quote(val)))
	}
	parts = append(parts, extra...)
	if len(parts) == 0 {
		return ""
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// WriteTo 以Prometheus文本格式输出全部指标，按名称排序
func (r *Registry) WriteTo(w io.Writer) (int64, error) {
	var b strings.Builder
	r.mu.RLock()
	for _, name := range sortedKeys(r.counters) {
		c := r.counters[name]
		fmt.Fprintf(&b, "# HELP %s %s\n# TYPE %s counter\n", c.Name, c.Help, c.Name)
		c.mu.RLock()
		for _, key := range sortedKeys(c.values) {
			fmt.Fprintf(&b, "%s%s %s\n", c.Name, formatLabels(c.Labels, key), formatFloat(c.values[key]))
		}
		c.mu.RUnlock()
	}
	for _, name := range sortedKeys(r.gauges) {
		g := r.gauges[name]
		fmt.Fprintf(&b, "# HELP %s %s\n# TYPE %s gauge\n", g.Name, g.Help, g.Name)
		g.mu.RLock()
		for _, key := range sortedKeys(g.values) {
			fmt.Fprintf(&b, "%s%s %s\n", g.Name, formatLabels(g.Labels, key), formatFloat(g.values[key]))
		}
		g.mu.RUnlock()
	}
	for _, name := range sortedKeys(r.histograms) {
		h := r.histograms[name]
		fmt.Fprintf(&b, "# HELP %s %s\n# TYPE %s histogram\n", h.Name, h.Help, h.Name)
		h.mu.RLock()
		for _, key := range sortedKeys(h.counts) {
			counts := h.counts[key]
			var cumulative uint64
			for i, bucket := range h.Buckets {
				cumulative += counts[i]
				le := fmt.Sprintf("le=%q", formatFloat(bucket))
				fmt.Fprintf(&b, "%s_bucket%s %d\n", h.Name, formatLabels(h.Labels, key, le), cumulative)
			}
			cumulative += counts[len(h.Buckets)]
			fmt.Fprintf(&b, "%s_bucket%s %d\n", h.Name, formatLabels(h.Labels, key, `le="+Inf"`), cumulative)
			fmt.Fprintf(&b, "%s_sum%s %s\n", h.Name, formatLabels(h.Labels, key), formatFloat(h.sums[key]))
			fmt.Fprintf(&b, "%s_count%s %d\n", h.Name, formatLabels(h.Labels, key), cumulative)
		}
		h.mu.RUnlock()
	}
	r.mu.RUnlock()

	n, err := io.WriteString(w, b.String())
	return int64(n), err
}

// Handler 返回Prometheus格式的指标HTTP处理器
func Handler() http.Handler {
	return HandlerFor(GetRegistry())
}

// HandlerFor 返回指定注册表的指标处理器
func HandlerFor(r *Registry) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		r.WriteTo(w)
	})
}

// RecordRequestMetrics 记录请求指标
func RecordRequestMetrics(method, path string, status int, duration time.Duration) {
	GetRegistry().RecordRequest(method, path, status, duration)
}

// RecordRequest 记录一次HTTP请求
func (r *Registry) RecordRequest(method, path string, status int, duration time.Duration) {
	if c := r.GetCounter(HTTPRequestsTotal); c != nil {
		c.Inc(method, path, strconv.Itoa(status))
	}
	if h := r.GetHistogram(HTTPRequestDuration); h != nil {
		h.Observe(duration.Seconds(), method, path)
	}
}

// RecordRun 记录一次求解的结果；err 非空时只计失败次数
func RecordRun(res *solver.Result, name string, err error) {
	GetRegistry().RecordRun(res, name, err)
}

// RecordRun 记录一次求解
func (r *Registry) RecordRun(res *solver.Result, name string, err error) {
	status := "success"
	switch {
	case err != nil:
		status = "error"
	case res == nil || !res.Success:
		status = "no_integer"
	}
	r.GetCounter(RunsTotal).Inc(name, status)
	if res == nil {
		return
	}
	r.GetHistogram(RunDuration).Observe(res.Duration.Seconds(), name)

	st := res.Statistics
	r.GetCounter(CGIterationsTotal).Add(float64(st.RootIterations), "root")
	r.GetCounter(CGIterationsTotal).Add(float64(st.Iterations-st.RootIterations), "dive")
	r.GetCounter(ColumnsAddedTotal).Add(float64(st.RootColumnsAdded), "root")
	r.GetCounter(ColumnsAddedTotal).Add(float64(st.ColumnsAdded-st.RootColumnsAdded), "dive")
	r.GetCounter(MasterSolveSeconds).Add(st.MasterTime.Seconds())
	r.GetCounter(PricingSolveSeconds).Add(st.PricingTime.Seconds())
	r.GetGauge(DiveLevels).Set(float64(st.Levels))
	if res.Success {
		r.GetGauge(BestObjective).Set(float64(st.Objective), name)
		r.GetGauge(UnmetDemand).Set(float64(st.Unmet), name)
	}
	if res.Improvement != nil {
		r.GetGauge(improvementScoreDelta).Set(res.Improvement.InitialScore - res.Improvement.FinalScore)
	}
}

// RunStarted 标记一次求解开始，返回的函数在结束时调用
func (r *Registry) RunStarted() func() {
	g := r.GetGauge(ActiveRuns)
	g.Inc()
	return func() { g.Dec() }
}

// SetDBStats 记录数据库连接池状态
func SetDBStats(s sql.DBStats) {
	g := GetRegistry().GetGauge(DBConnections)
	g.Set(float64(s.OpenConnections), "open")
	g.Set(float64(s.InUse), "in_use")
	g.Set(float64(s.Idle), "idle")
}
