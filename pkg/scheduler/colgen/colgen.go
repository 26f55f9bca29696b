// Package colgen 实现主问题与定价子问题之间的列生成循环
package colgen

import (
	"context"
	"fmt"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/paiban/bnpdive/pkg/logger"
	"github.com/paiban/bnpdive/pkg/model"
	"github.com/paiban/bnpdive/pkg/oracle"
	"github.com/paiban/bnpdive/pkg/scheduler/master"
	"github.com/paiban/bnpdive/pkg/scheduler/pricing"
)

// Policy 迭代策略
type Policy int

const (
	// FullSweep 每轮求解一次主问题后为所有人员定价
	FullSweep Policy = iota
	// Sequential 每加入一列就重新求解主问题
	Sequential
)

// String 策略名
func (p Policy) String() string {
	if p == FullSweep {
		return "full_sweep"
	}
	return "sequential"
}

// ParsePolicy 解析策略名
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "full_sweep", "A", "a":
		return FullSweep, nil
	case "sequential", "B", "b", "":
		return Sequential, nil
	}
	return Sequential, fmt.Errorf("未知的列生成策略: %s", s)
}

// State 列生成状态
type State int

const (
	StatePricing State = iota
	StateMasterReoptimize
	StateConverged
	StateTimeExpired
)

// Stats 累计统计
type Stats struct {
	Iterations     int           `json:"iterations"`
	RootIterations int           `json:"root_iterations"`
	ColumnsAdded   int           `json:"columns_added"`
	RootColumns    int           `json:"root_columns"`
	MasterTime     time.Duration `json:"master_time"`
	PricingTime    time.Duration `json:"pricing_time"`
	RootTime       time.Duration `json:"root_time"`
	CGTime         time.Duration `json:"cg_time"`
	PricingCalls   int           `json:"pricing_calls"`
	RootBound      float64       `json:"root_bound"`
}

// Outcome 一次列生成调用的结果
type Outcome struct {
	// Solution 最后一次主问题求解，总是在最后一批列加入之后
	Solution   *master.Solution
	Final      State
	Iterations int
	Columns    int
}

// Options 列生成参数
type Options struct {
	Policy Policy
	// Pricing 单个子问题的求解参数（时间上限等）
	Pricing oracle.Params
	Log     *logger.DiveLogger
}

// Loop 列生成循环
type Loop struct {
	master *master.Master
	subs   []*pricing.Subproblem
	fixed  mapset.Set[int]
	stats  *Stats
	opts   Options
	log    *logger.DiveLogger

	needsRepricing []bool
	cursor         int
	state          State
}

// State 当前状态
func (l *Loop) State() State { return l.state }

// New 创建列生成循环。fixed 为已被分支固定的人员，由调用方维护
func New(m *master.Master, subs []*pricing.Subproblem, fixed mapset.Set[int], stats *Stats, opts Options) *Loop {
	log := opts.Log
	if log == nil {
		log = logger.NewDiveLogger(nil)
	}
	return &Loop{
		master:         m,
		subs:           subs,
		fixed:          fixed,
		stats:          stats,
		opts:           opts,
		log:            log,
		needsRepricing: make([]bool, len(subs)),
	}
}

// Run 交替求解主问题与定价子问题，直到没有改进列或超出 budget。
// root 为真时同时记入根节点统计
func (l *Loop) Run(ctx context.Context, budget time.Duration, root bool) (*Outcome, error) {
	start := time.Now()
	expired := func() bool {
		return time.Since(start) >= budget || ctx.Err() != nil
	}
	out := &Outcome{}
	defer func() {
		elapsed := time.Since(start)
		l.stats.CGTime += elapsed
		l.stats.Iterations += out.Iterations
		l.stats.ColumnsAdded += out.Columns
		if root {
			l.stats.RootTime += elapsed
			l.stats.RootIterations += out.Iterations
			l.stats.RootColumns += out.Columns
			if out.Solution != nil {
				l.stats.RootBound = out.Solution.Objective
			}
		}
	}()

	for {
		l.state = StateMasterReoptimize
		sol, err := l.master.SolveLP()
		if err != nil {
			return out, err
		}
		l.stats.MasterTime += sol.Duration
		out.Solution = sol
		out.Iterations++

		if expired() {
			out.Final = StateTimeExpired
			l.state = out.Final
			return out, nil
		}

		l.state = StatePricing
		var added int
		var timedOut bool
		if l.opts.Policy == FullSweep {
			added, timedOut, err = l.sweep(sol, expired)
		} else {
			added, timedOut, err = l.sequential(sol, expired)
		}
		if err != nil {
			return out, err
		}
		out.Columns += added
		l.log.Iteration(l.stats.Iterations+out.Iterations, sol.Objective, added)

		switch {
		case added > 0:
			// 重新求解主问题
		case timedOut:
			out.Final = StateTimeExpired
			l.state = out.Final
			return out, nil
		default:
			out.Final = StateConverged
			l.state = out.Final
			return out, nil
		}
	}
}

func (l *Loop) resetFlags() {
	for p := range l.needsRepricing {
		l.needsRepricing[p] = !l.fixed.Contains(p)
	}
}

// sweep 为每个未固定人员定价一次，加入所有改进列
func (l *Loop) sweep(sol *master.Solution, expired func() bool) (int, bool, error) {
	l.resetFlags()
	added := 0
	for p := range l.subs {
		if !l.needsRepricing[p] {
			continue
		}
		if expired() {
			return added, true, nil
		}
		ok, err := l.price(p, sol)
		if err != nil {
			return added, false, err
		}
		if ok {
			added++
		}
	}
	return added, false, nil
}

// sequential 从游标开始轮流定价，一旦加入一列立即返回以重新求解主问题。
// 连续为全部未固定人员定价都没有改进时收敛
func (l *Loop) sequential(sol *master.Solution, expired func() bool) (int, bool, error) {
	l.resetFlags()
	unfixed := len(l.subs) - l.fixed.Cardinality()
	for visited := 0; visited < unfixed; {
		p := l.cursor
		l.cursor = (l.cursor + 1) % len(l.subs)
		if !l.needsRepricing[p] {
			continue
		}
		if expired() {
			return 0, true, nil
		}
		ok, err := l.price(p, sol)
		if err != nil {
			return 0, false, err
		}
		if ok {
			return 1, false, nil
		}
		visited++
	}
	return 0, false, nil
}

// price 为人员 p 定价，约简成本低于 -Epsilon 时加入主问题
func (l *Loop) price(p int, sol *master.Solution) (bool, error) {
	l.needsRepricing[p] = false
	res, err := l.subs[p].Price(sol.CoverageDuals, sol.ConvexityDuals[p], l.opts.Pricing)
	l.stats.PricingCalls++
	if res != nil {
		l.stats.PricingTime += res.Duration
	}
	if err != nil {
		return false, err
	}
	if !res.Found || res.ReducedCost >= -model.Epsilon {
		return false, nil
	}
	id, err := l.master.AddColumn(p, res.Cost, res.Slots)
	if err != nil {
		return false, err
	}
	if col, ok := l.master.Pool().Get(id); ok {
		col.ReducedCost = res.ReducedCost
	}
	l.log.ColumnAdded(p, res.ReducedCost)
	return true, nil
}
