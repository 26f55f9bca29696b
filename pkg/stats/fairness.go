package stats

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/paiban/bnpdive/pkg/model"
)

// WorkloadMetrics 工作量与公平性指标
type WorkloadMetrics struct {
	HoursTarget int `json:"hours_target"` // 个人目标工时

	// 工时公平性
	WorkloadGini     float64 `json:"workload_gini"`     // 工时基尼系数 (0=完全公平, 1=完全不公平)
	WorkloadVariance float64 `json:"workload_variance"` // 工时方差
	WorkloadStdDev   float64 `json:"workload_std_dev"`  // 工时标准差
	AvgHours         float64 `json:"avg_hours"`
	MaxHours         float64 `json:"max_hours"`
	MinHours         float64 `json:"min_hours"`
	HoursRange       float64 `json:"hours_range"`
	TotalDeviation   int     `json:"total_deviation"` // 与目标工时偏差的绝对值之和

	// 班次类型公平性
	ShiftTypeDistribution map[string]float64 `json:"shift_type_distribution"` // 各班次类型占比 (%)
	NightShiftGini        float64            `json:"night_shift_gini"`
	WeekendShiftGini      float64            `json:"weekend_shift_gini"`

	People []PersonStat `json:"people"`
}

// PersonStat 个人统计
type PersonStat struct {
	Person        int `json:"person"`
	TotalHours    int `json:"total_hours"`
	ShiftCount    int `json:"shift_count"`
	NightShifts   int `json:"night_shifts"`
	WeekendShifts int `json:"weekend_shifts"`
	Sundays       int `json:"sundays"`
	Deviation     int `json:"deviation"` // 工时减目标工时
}

// FairnessAnalyzer 公平性分析器
type FairnessAnalyzer struct {
	inst *model.Instance
}

// NewFairnessAnalyzer 创建公平性分析器
func NewFairnessAnalyzer(inst *model.Instance) *FairnessAnalyzer {
	return &FairnessAnalyzer{inst: inst}
}

// Analyze 分析排班的工作量分布
func (f *FairnessAnalyzer) Analyze(s *model.Schedule) *WorkloadMetrics {
	inst := f.inst
	m := &WorkloadMetrics{
		HoursTarget:           inst.HoursTarget(),
		ShiftTypeDistribution: make(map[string]float64),
		People:                make([]PersonStat, inst.People),
	}
	if inst.People == 0 {
		return m
	}

	hours := make([]float64, inst.People)
	nights := make([]float64, inst.People)
	weekends := make([]float64, inst.People)
	typeCounts := make([]int, model.NumShifts)
	total := 0

	for p := 0; p < inst.People; p++ {
		ps := PersonStat{Person: p}
		for d := 0; d < inst.Days; d++ {
			wd := inst.Weekday(d)
			worked := false
			for sh := 0; sh < model.NumShifts; sh++ {
				t := s.Task(p, d, sh)
				if t == model.Unassigned {
					continue
				}
				worked = true
				ps.ShiftCount++
				ps.TotalHours += inst.Duration(t)
				typeCounts[sh]++
				if model.ShiftType(sh) == model.ShiftNight {
					ps.NightShifts++
				}
			}
			if worked && (wd == model.Saturday || wd == model.Sunday) {
				ps.WeekendShifts++
			}
			if worked && wd == model.Sunday {
				ps.Sundays++
			}
		}
		ps.Deviation = ps.TotalHours - m.HoursTarget
		m.TotalDeviation += absInt(ps.Deviation)
		m.People[p] = ps
		total += ps.ShiftCount

		hours[p] = float64(ps.TotalHours)
		nights[p] = float64(ps.NightShifts)
		weekends[p] = float64(ps.WeekendShifts)
	}

	m.AvgHours, m.WorkloadVariance = stat.PopMeanVariance(hours, nil)
	m.WorkloadStdDev = math.Sqrt(m.WorkloadVariance)
	m.MaxHours, m.MinHours = hoursRange(hours)
	m.HoursRange = m.MaxHours - m.MinHours
	m.WorkloadGini = Gini(hours)
	m.NightShiftGini = Gini(nights)
	m.WeekendShiftGini = Gini(weekends)

	if total > 0 {
		for sh, n := range typeCounts {
			m.ShiftTypeDistribution[model.ShiftType(sh).String()] = float64(n) / float64(total) * 100
		}
	}
	return m
}

func hoursRange(values []float64) (hi, lo float64) {
	hi, lo = values[0], values[0]
	for _, v := range values[1:] {
		hi = math.Max(hi, v)
		lo = math.Min(lo, v)
	}
	return hi, lo
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// Gini 基尼系数，全为 0 或空时为 0
func Gini(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}

	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	sum := 0.0
	for _, v := range sorted {
		sum += v
	}
	if sum == 0 {
		return 0
	}

	gini := 0.0
	for i, v := range sorted {
		gini += (2*float64(i+1) - float64(n) - 1) * v
	}
	gini = gini / (float64(n) * sum)
	return math.Max(0, math.Min(1, gini))
}
