// Package pricing 提供按人员划分的定价子问题。
//
// 子问题是一个混合整数规划，编码个人的排班规则：休息时间、技能资格、
// 连续上班与休息天数、周日上限、周末对称、目标工时、跨组与班次种类下限。
// 约束对所有目标策略相同，只有 work 变量的目标系数随策略变化。
package pricing

import (
	"fmt"
	"time"

	apperrors "github.com/paiban/bnpdive/pkg/errors"
	"github.com/paiban/bnpdive/pkg/model"
	"github.com/paiban/bnpdive/pkg/oracle"
)

// Result 子问题求解结果
type Result struct {
	Status oracle.Status
	// Found 是否得到一个排班
	Found bool
	// Slots 上班的时段下标（升序）
	Slots []int
	// Cost 排班的惩罚成本（周末、工时、跨组）
	Cost float64
	// Objective 子问题目标值
	Objective float64
	// ReducedCost 相对凸性对偶值的约简成本，仅 Price 计算
	ReducedCost float64
	Duration    time.Duration
}

// Subproblem 单个人员的定价子问题
type Subproblem struct {
	inst     *model.Instance
	person   int
	lp       *oracle.Model
	work     []int // 时段下标 -> oracle 列
	eligible []bool
	strategy ObjectiveStrategy
}

// Builder 按人员生成子问题
type Builder struct {
	inst *model.Instance
}

// NewBuilder 创建子问题构造器
func NewBuilder(inst *model.Instance) *Builder {
	return &Builder{inst: inst}
}

// rowBuilder 按实际非零元个数增长的行缓冲
type rowBuilder struct {
	lp   *oracle.Model
	coef []oracle.Entry
	err  error
}

func (rb *rowBuilder) add(col int, v float64) {
	rb.coef = append(rb.coef, oracle.Entry{Index: col, Value: v})
}

func (rb *rowBuilder) emit(name string, sense oracle.Sense, rhs float64) {
	if rb.err == nil {
		_, rb.err = rb.lp.AddRow(oracle.Row{Name: name, Sense: sense, RHS: rhs, Coefs: rb.coef})
	}
	rb.coef = rb.coef[:0]
}

// Build 为人员建立子问题，并按策略设置目标系数
func (b *Builder) Build(person int, strategy ObjectiveStrategy) (*Subproblem, error) {
	inst := b.inst
	sp := &Subproblem{
		inst:     inst,
		person:   person,
		lp:       oracle.NewModel(fmt.Sprintf("pricing_%d", person)),
		work:     make([]int, inst.Slots()),
		eligible: make([]bool, inst.Slots()),
	}

	rb := &rowBuilder{lp: sp.lp}
	addCol := func(name string, obj, upper float64, typ oracle.VarType) int {
		j, err := sp.lp.AddCol(oracle.Column{Name: name, Obj: obj, Upper: upper, Type: typ}, nil)
		if err != nil && rb.err == nil {
			rb.err = err
		}
		return j
	}

	for k := range sp.work {
		sl := inst.SlotAt(k)
		upper := 0.0
		if inst.IsEligible(person, sl.Task) {
			upper = 1
			sp.eligible[k] = true
		}
		sp.work[k] = addCol("work", 0, upper, oracle.Binary)
	}

	sundays := inst.Sundays()
	type weekendVars struct{ day, plus, minus int }
	var weekends []weekendVars
	for _, sun := range sundays {
		if sun == 0 {
			continue
		}
		weekends = append(weekends, weekendVars{
			day:   sun,
			plus:  addCol("w_plus", inst.Weights.Weekend, oracle.Inf, oracle.Integer),
			minus: addCol("w_min", inst.Weights.Weekend, oracle.Inf, oracle.Integer),
		})
	}
	hPlus := addCol("h_plus", inst.Weights.HoursOver, oracle.Inf, oracle.Integer)
	hMin := addCol("h_min", inst.Weights.HoursUnder, oracle.Inf, oracle.Integer)
	groupDev := make([]int, inst.Groups)
	for g := range groupDev {
		groupDev[g] = addCol("y_group", inst.GroupWeight(g), oracle.Inf, oracle.Integer)
	}

	addDay := func(d int, shifts ...int) {
		for t := 0; t < inst.Tasks; t++ {
			for _, s := range shifts {
				rb.add(sp.work[inst.SlotIndex(t, d, s)], 1)
			}
		}
	}
	night, morning, afternoon := int(model.ShiftNight), int(model.ShiftMorning), int(model.ShiftAfternoon)
	allShifts := []int{night, morning, afternoon}

	// 每天最多一个班
	for d := 0; d < inst.Days; d++ {
		addDay(d, allShifts...)
		rb.emit("one_shift", oracle.LessEqual, 1)
	}
	// 跨天的休息时间
	for d := 0; d+1 < inst.Days; d++ {
		addDay(d, morning, afternoon)
		addDay(d+1, night)
		rb.emit("rest_morning", oracle.LessEqual, 1)

		addDay(d, afternoon)
		addDay(d+1, night, morning)
		rb.emit("rest_afternoon", oracle.LessEqual, 1)
	}
	// 任意 7 天最多上 6 天
	for r := 0; r+7 <= inst.Days; r++ {
		for d := r; d < r+7; d++ {
			addDay(d, allShifts...)
		}
		rb.emit("max_consecutive", oracle.LessEqual, 6)
	}
	// 任意 6 天至少上 1 天
	for r := 0; r+6 <= inst.Days; r++ {
		for d := r; d < r+6; d++ {
			addDay(d, allShifts...)
		}
		rb.emit("max_days_off", oracle.GreaterEqual, 1)
	}
	// 周日上限
	if len(sundays) > 0 {
		for _, sun := range sundays {
			addDay(sun, allShifts...)
		}
		rb.emit("sundays", oracle.LessEqual, float64(inst.MaxSundays()))
	}
	// 周六周日对称
	for _, w := range weekends {
		addDay(w.day, allShifts...)
		for t := 0; t < inst.Tasks; t++ {
			for _, s := range allShifts {
				rb.add(sp.work[inst.SlotIndex(t, w.day-1, s)], -1)
			}
		}
		rb.add(w.plus, -1)
		rb.add(w.minus, 1)
		rb.emit("weekend", oracle.Equal, 0)
	}
	// 目标工时
	for k, j := range sp.work {
		rb.add(j, float64(inst.Duration(inst.SlotAt(k).Task)))
	}
	rb.add(hPlus, -1)
	rb.add(hMin, 1)
	rb.emit("hours", oracle.Equal, float64(inst.HoursTarget()))
	// 跨组
	for g := 0; g < inst.Groups; g++ {
		if inst.InGroup(person, g) {
			for k, j := range sp.work {
				if !inst.GroupAllows(g, inst.SlotAt(k).Task) {
					rb.add(j, 1)
				}
			}
		}
		rb.add(groupDev[g], -1)
		rb.emit("group", oracle.Equal, 0)
	}
	// 每种班次的最少次数
	if need := inst.MinShiftsPerType(); need > 0 {
		for _, s := range allShifts {
			for t := 0; t < inst.Tasks; t++ {
				if !inst.IsEligible(person, t) {
					continue
				}
				for d := 0; d < inst.Days; d++ {
					rb.add(sp.work[inst.SlotIndex(t, d, s)], 1)
				}
			}
			rb.emit("min_shift_type", oracle.GreaterEqual, float64(need))
		}
	}
	if rb.err != nil {
		return nil, apperrors.Wrap(rb.err, apperrors.CodeInternal, "建立定价子问题失败").WithField("person", person)
	}

	sp.Reprice(strategy)
	return sp, nil
}

// Person 子问题所属人员
func (sp *Subproblem) Person() int { return sp.person }

// NumRows 子问题行数
func (sp *Subproblem) NumRows() int { return sp.lp.NumRows() }

// Reprice 按策略重设 work 变量的目标系数，不可执行的时段系数为 0
func (sp *Subproblem) Reprice(strategy ObjectiveStrategy) {
	sp.strategy = strategy
	for k, j := range sp.work {
		c := 0.0
		if strategy != nil && sp.eligible[k] {
			c = strategy.Coefficient(k)
		}
		sp.lp.SetObj(j, c)
	}
}

// Solve 求解子问题。Cutoff 或超时无解返回 Found=false；
// 不可行、无界等状态视为致命错误
func (sp *Subproblem) Solve(params oracle.Params) (*Result, error) {
	sol := sp.lp.SolveMIP(params)
	res := &Result{Status: sol.Status, Duration: sol.Duration}
	switch sol.Status {
	case oracle.StatusOptimal, oracle.StatusTimeLimitWithIncumbent:
	case oracle.StatusCutoff, oracle.StatusTimeLimitNoIncumbent:
		return res, nil
	default:
		return res, apperrors.OracleFailure(fmt.Sprintf("pricing[%d]", sp.person), sol.Status.String())
	}

	res.Found = true
	res.Objective = sol.Objective
	for k, j := range sp.work {
		if sol.X[j] > 0.5 {
			res.Slots = append(res.Slots, k)
		}
	}
	res.Cost = sp.inst.PersonCost(sp.person, res.Slots)
	return res, nil
}

// Price 用对偶值定价：目标截断为凸性对偶 mu，约简成本为 cost - Σdual - mu
func (sp *Subproblem) Price(duals []float64, mu float64, params oracle.Params) (*Result, error) {
	sp.Reprice(DualStrategy{Duals: duals})
	res, err := sp.Solve(params.WithCutoff(mu))
	if err != nil || !res.Found {
		return res, err
	}
	rc := res.Cost - mu
	for _, k := range res.Slots {
		rc -= duals[k]
	}
	res.ReducedCost = rc
	return res, nil
}
