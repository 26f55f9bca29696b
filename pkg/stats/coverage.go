// Package stats 提供排班统计分析功能
package stats

import (
	"math"

	"github.com/paiban/bnpdive/pkg/model"
)

// CoverageMetrics 覆盖率指标
type CoverageMetrics struct {
	// 整体覆盖
	TotalDemand     int     `json:"total_demand"`     // 总需求人次
	Covered         int     `json:"covered"`          // 已满足人次
	Unmet           int     `json:"unmet_demand"`     // 缺员
	Excess          int     `json:"excess_supply"`    // 超员
	OverallCoverage float64 `json:"overall_coverage"` // 整体覆盖率 (%)

	DailyCoverage     []DayCoverage      `json:"daily_coverage"`
	TaskCoverage      []TaskCoverage     `json:"task_coverage"`
	ShiftTypeCoverage map[string]float64 `json:"shift_type_coverage"`

	Understaffed []UnderstaffedSlot `json:"understaffed"`
}

// DayCoverage 每日覆盖情况
type DayCoverage struct {
	Day          int     `json:"day"`
	Weekday      int     `json:"weekday"`
	Demand       int     `json:"demand"`
	Covered      int     `json:"covered"`
	Excess       int     `json:"excess"`
	CoverageRate float64 `json:"coverage_rate"`
}

// TaskCoverage 每个任务的覆盖情况
type TaskCoverage struct {
	Task         int     `json:"task"`
	CODU         bool    `json:"codu"`
	Demand       int     `json:"demand"`
	Unmet        int     `json:"unmet"`
	Excess       int     `json:"excess"`
	CoverageRate float64 `json:"coverage_rate"`
}

// UnderstaffedSlot 人手不足的时段
type UnderstaffedSlot struct {
	Task     int    `json:"task"`
	Day      int    `json:"day"`
	Shift    string `json:"shift"`
	Required int    `json:"required"`
	Assigned int    `json:"assigned"`
	Shortage int    `json:"shortage"`
}

// CoverageAnalyzer 覆盖率分析器
type CoverageAnalyzer struct {
	inst *model.Instance
}

// NewCoverageAnalyzer 创建覆盖率分析器
func NewCoverageAnalyzer(inst *model.Instance) *CoverageAnalyzer {
	return &CoverageAnalyzer{inst: inst}
}

// Analyze 由最终排班分析覆盖率
func (c *CoverageAnalyzer) Analyze(s *model.Schedule) *CoverageMetrics {
	return c.analyze(s.Supply(c.inst))
}

// AnalyzeSlacks 由主问题松弛量分析覆盖率。不超过 ε 的松弛量视为 0，
// 其余四舍五入到整数
func (c *CoverageAnalyzer) AnalyzeSlacks(over, under []float64) *CoverageMetrics {
	supply := make([]int, c.inst.Slots())
	for k := range supply {
		sl := c.inst.SlotAt(k)
		supply[k] = c.inst.Demand(sl.Task, sl.Day, sl.Shift) + roundSlack(over[k]) - roundSlack(under[k])
	}
	return c.analyze(supply)
}

// SlackTotals 对超过 ε 的松弛量求和
func SlackTotals(over, under []float64) (unmet, excess float64) {
	for k := range over {
		if over[k] > model.Epsilon {
			excess += over[k]
		}
		if under[k] > model.Epsilon {
			unmet += under[k]
		}
	}
	return unmet, excess
}

func roundSlack(v float64) int {
	if v <= model.Epsilon {
		return 0
	}
	return int(math.Round(v))
}

func (c *CoverageAnalyzer) analyze(supply []int) *CoverageMetrics {
	inst := c.inst
	m := &CoverageMetrics{
		DailyCoverage:     make([]DayCoverage, inst.Days),
		TaskCoverage:      make([]TaskCoverage, inst.Tasks),
		ShiftTypeCoverage: make(map[string]float64),
	}
	for d := range m.DailyCoverage {
		m.DailyCoverage[d] = DayCoverage{Day: d, Weekday: int(inst.Weekday(d))}
	}
	for t := range m.TaskCoverage {
		m.TaskCoverage[t] = TaskCoverage{Task: t, CODU: inst.IsCODUTask(t)}
	}
	shiftDemand := make([]int, model.NumShifts)
	shiftCovered := make([]int, model.NumShifts)

	for k, got := range supply {
		sl := inst.SlotAt(k)
		need := inst.Demand(sl.Task, sl.Day, sl.Shift)
		covered := min(got, need)
		excess := max(got-need, 0)
		unmet := need - covered

		m.TotalDemand += need
		m.Covered += covered
		m.Unmet += unmet
		m.Excess += excess

		day := &m.DailyCoverage[sl.Day]
		day.Demand += need
		day.Covered += covered
		day.Excess += excess

		task := &m.TaskCoverage[sl.Task]
		task.Demand += need
		task.Unmet += unmet
		task.Excess += excess

		shiftDemand[sl.Shift] += need
		shiftCovered[sl.Shift] += covered

		if unmet > 0 {
			m.Understaffed = append(m.Understaffed, UnderstaffedSlot{
				Task:     sl.Task,
				Day:      sl.Day,
				Shift:    model.ShiftType(sl.Shift).String(),
				Required: need,
				Assigned: got,
				Shortage: unmet,
			})
		}
	}

	m.OverallCoverage = rate(m.Covered, m.TotalDemand)
	for d := range m.DailyCoverage {
		m.DailyCoverage[d].CoverageRate = rate(m.DailyCoverage[d].Covered, m.DailyCoverage[d].Demand)
	}
	for t := range m.TaskCoverage {
		tc := &m.TaskCoverage[t]
		tc.CoverageRate = rate(tc.Demand-tc.Unmet, tc.Demand)
	}
	for s := 0; s < model.NumShifts; s++ {
		m.ShiftTypeCoverage[model.ShiftType(s).String()] = rate(shiftCovered[s], shiftDemand[s])
	}
	return m
}

// rate 百分比，没有需求时为 100
func rate(covered, demand int) float64 {
	if demand == 0 {
		return 100
	}
	return float64(covered) / float64(demand) * 100
}
