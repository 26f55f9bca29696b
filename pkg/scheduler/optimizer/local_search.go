// Package optimizer 提供整数排班的局部搜索改进：
// 逐人精确重优化的修复过程，加上按邻域规模 k 随机扰动的变邻域搜索
package optimizer

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/exp/rand"

	"github.com/paiban/bnpdive/pkg/logger"
	"github.com/paiban/bnpdive/pkg/model"
	"github.com/paiban/bnpdive/pkg/oracle"
	"github.com/paiban/bnpdive/pkg/scheduler/pricing"
)

// OptimizationConfig 优化配置
type OptimizationConfig struct {
	MaxIterations    int           `json:"max_iterations"`     // 最大扰动次数
	MaxTime          time.Duration `json:"max_time"`           // 最大运行时间
	MaxShake         int           `json:"max_shake"`          // 邻域规模 k 的上限
	MaxRepairPasses  int           `json:"max_repair_passes"`  // 单次修复的最大轮数，0 表示直到无改进
	PricingTimeLimit time.Duration `json:"pricing_time_limit"` // 单人子问题时间上限
	Seed             uint64        `json:"seed"`
	ParallelWorkers  int           `json:"parallel_workers"` // 并行岛屿数
}

// DefaultOptConfig 默认优化配置
func DefaultOptConfig() *OptimizationConfig {
	return &OptimizationConfig{
		MaxIterations:    200,
		MaxTime:          60 * time.Second,
		MaxShake:         10,
		PricingTimeLimit: 10 * time.Second,
		Seed:             1,
		ParallelWorkers:  4,
	}
}

// Solution 一个整数排班及其目标值
type Solution struct {
	Schedule   *model.Schedule
	Score      float64
	Evaluation model.Evaluation
}

func newSolution(inst *model.Instance, s *model.Schedule) *Solution {
	ev := model.Evaluate(inst, s)
	return &Solution{Schedule: s, Score: ev.Total, Evaluation: ev}
}

// Clone 深拷贝解
func (s *Solution) Clone() *Solution {
	c := *s
	c.Schedule = s.Schedule.Clone()
	c.Evaluation.PersonCosts = append([]float64(nil), s.Evaluation.PersonCosts...)
	return &c
}

// Stats 优化统计
type Stats struct {
	Iterations   int           `json:"iterations"`
	Improvements int           `json:"improvements"`
	Repairs      int           `json:"repairs"`
	InitialScore float64       `json:"initial_score"`
	FinalScore   float64       `json:"final_score"`
	Duration     time.Duration `json:"duration"`
}

// LocalSearchOptimizer 变邻域局部搜索
type LocalSearchOptimizer struct {
	config    *OptimizationConfig
	inst      *model.Instance
	builder   *pricing.Builder
	subs      []*pricing.Subproblem
	neighbors *NeighborhoodGenerator
	log       *logger.DiveLogger
	stats     Stats
	deadline  time.Time
}

// NewLocalSearchOptimizer 创建局部搜索优化器
func NewLocalSearchOptimizer(inst *model.Instance, config *OptimizationConfig, log *zerolog.Logger) *LocalSearchOptimizer {
	if config == nil {
		config = DefaultOptConfig()
	}
	o := &LocalSearchOptimizer{
		config:  config,
		inst:    inst,
		builder: pricing.NewBuilder(inst),
		subs:    make([]*pricing.Subproblem, inst.People),
		log:     logger.NewDiveLogger(log),
	}
	o.neighbors = NewNeighborhoodGenerator(o, rand.NewSource(config.Seed))
	return o
}

// Stats 返回最近一次 Optimize 的统计
func (o *LocalSearchOptimizer) Stats() Stats { return o.stats }

// Optimize 从整数排班出发做修复与扰动，返回找到的最好解。
// 超时或取消不是错误，返回当前最好解
func (o *LocalSearchOptimizer) Optimize(ctx context.Context, initial *model.Schedule) (*Solution, error) {
	start := time.Now()
	o.deadline = start.Add(o.config.MaxTime)
	o.stats = Stats{}

	base := newSolution(o.inst, initial.Clone())
	o.stats.InitialScore = base.Score
	o.log.Logger().Info().
		Int("max_iterations", o.config.MaxIterations).
		Dur("max_time", o.config.MaxTime).
		Float64("initial_score", base.Score).
		Msg("开始局部搜索优化")

	base, err := o.repair(ctx, base)
	if err != nil {
		return nil, err
	}

	maxK := min(max(o.config.MaxShake, 1), o.inst.People)
	k := 1
	for i := 0; i < o.config.MaxIterations; i++ {
		if o.expired(ctx) {
			break
		}
		o.stats.Iterations++

		cand, err := o.neighbors.Shake(base, k)
		if err != nil {
			return nil, err
		}
		if cand, err = o.repair(ctx, cand); err != nil {
			return nil, err
		}

		if cand.Score < base.Score-model.Epsilon {
			o.log.Improvement(i, k, cand.Score)
			base = cand
			o.stats.Improvements++
			k = 1
			continue
		}
		k++
		if k > maxK {
			k = 1
		}
	}

	o.stats.FinalScore = base.Score
	o.stats.Duration = time.Since(start)
	o.log.Logger().Info().
		Float64("initial", o.stats.InitialScore).
		Float64("final", base.Score).
		Int("iterations", o.stats.Iterations).
		Dur("elapsed", o.stats.Duration).
		Msg("局部搜索优化完成")
	return base, nil
}

// repair 逐人在其他人排班固定的情况下精确重优化，只接受严格改进，
// 重复直到一整轮没有改进
func (o *LocalSearchOptimizer) repair(ctx context.Context, cur *Solution) (*Solution, error) {
	for pass := 0; o.config.MaxRepairPasses == 0 || pass < o.config.MaxRepairPasses; pass++ {
		improved := false
		for p := 0; p < o.inst.People; p++ {
			if o.expired(ctx) {
				return cur, nil
			}
			remaining := pricing.RemainingDemand(o.inst, cur.Schedule, p)
			res, err := o.solvePerson(p, pricing.DualStrategy{Duals: pricing.SyntheticDuals(o.inst, remaining)})
			if err != nil {
				return nil, err
			}
			if !res.Found {
				continue
			}
			next := cur.Schedule.Clone()
			next.SetPersonSlots(o.inst, p, res.Slots)
			cand := newSolution(o.inst, next)
			if cand.Score < cur.Score-model.Epsilon {
				cur = cand
				improved = true
				o.stats.Repairs++
			}
		}
		if !improved {
			break
		}
	}
	return cur, nil
}

// solvePerson 以给定策略求解某人的子问题，子问题按需建立并复用
func (o *LocalSearchOptimizer) solvePerson(p int, strategy pricing.ObjectiveStrategy) (*pricing.Result, error) {
	sp := o.subs[p]
	if sp == nil {
		var err error
		if sp, err = o.builder.Build(p, nil); err != nil {
			return nil, err
		}
		o.subs[p] = sp
	}
	sp.Reprice(strategy)
	limit := time.Until(o.deadline)
	if o.config.PricingTimeLimit > 0 {
		limit = min(limit, o.config.PricingTimeLimit)
	}
	return sp.Solve(oracle.Params{TimeLimit: max(limit, time.Millisecond)})
}

func (o *LocalSearchOptimizer) expired(ctx context.Context) bool {
	return ctx.Err() != nil || !time.Now().Before(o.deadline)
}
