// Package diving 实现分支定价下潜：列生成得到线性最优后，
// 若主问题解不是整数，则固定一个或多个分数列为 1、删除同一人员的其他列，
// 再继续列生成，直到得到整数解或时间耗尽。不回溯。
package diving

import (
	"context"
	"errors"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	apperrors "github.com/paiban/bnpdive/pkg/errors"
	"github.com/paiban/bnpdive/pkg/logger"
	"github.com/paiban/bnpdive/pkg/model"
	"github.com/paiban/bnpdive/pkg/oracle"
	"github.com/paiban/bnpdive/pkg/scheduler/colgen"
	"github.com/paiban/bnpdive/pkg/scheduler/colpool"
	"github.com/paiban/bnpdive/pkg/scheduler/master"
	"github.com/paiban/bnpdive/pkg/scheduler/pricing"
)

// Options 下潜参数
type Options struct {
	CGPolicy  colgen.Policy
	Branching BranchingPolicy
	Threshold float64
	TotalTime time.Duration
	RootTime  time.Duration
	// NodeTime 全部人员都已固定时最后一次列生成的时间
	NodeTime time.Duration
	// PricingTimeLimit 单个定价子问题的时间上限，0 表示不限
	PricingTimeLimit time.Duration
	// SeedGreedy 用贪心构造的排班为每人预置一列
	SeedGreedy bool
	Logger     *zerolog.Logger
	RunID      string
}

// DefaultOptions 默认参数
func DefaultOptions() Options {
	return Options{
		CGPolicy:         colgen.Sequential,
		Branching:        Threshold,
		Threshold:        0.6,
		TotalTime:        3600 * time.Second,
		RootTime:         1800 * time.Second,
		NodeTime:         10 * time.Second,
		PricingTimeLimit: 60 * time.Second,
	}
}

// Decision 一次分支决定
type Decision struct {
	Level  int              `json:"level"`
	Person int              `json:"person"`
	Column colpool.ColumnID `json:"column"`
	Value  float64          `json:"value"`
}

// RunContext 一次求解的全部可变状态，沿调用链显式传递
type RunContext struct {
	Inst       *model.Instance
	Opts       Options
	Master     *master.Master
	Subs       []*pricing.Subproblem
	Loop       *colgen.Loop
	Fixed      mapset.Set[int]
	Decisions  []Decision
	Stats      colgen.Stats
	Start      time.Time
	NodeBudget time.Duration
	Bounds     []float64
	log        *logger.DiveLogger
}

// NewRunContext 建立主问题与全部定价子问题
func NewRunContext(inst *model.Instance, opts Options) (*RunContext, error) {
	if err := inst.Validate(); err != nil {
		return nil, err
	}
	m, err := master.New(inst)
	if err != nil {
		return nil, err
	}
	b := pricing.NewBuilder(inst)
	subs := make([]*pricing.Subproblem, inst.People)
	for p := range subs {
		if subs[p], err = b.Build(p, nil); err != nil {
			return nil, err
		}
	}
	if opts.RunID == "" {
		opts.RunID = uuid.New().String()
	}
	rc := &RunContext{
		Inst:       inst,
		Opts:       opts,
		Master:     m,
		Subs:       subs,
		Fixed:      mapset.NewSet[int](),
		Start:      time.Now(),
		NodeBudget: opts.NodeTime,
		log:        logger.NewDiveLogger(opts.Logger),
	}
	rc.Loop = colgen.New(m, subs, rc.Fixed, &rc.Stats, colgen.Options{
		Policy:  opts.CGPolicy,
		Pricing: oracle.Params{TimeLimit: opts.PricingTimeLimit},
		Log:     rc.log,
	})
	return rc, nil
}

func (rc *RunContext) elapsed() time.Duration { return time.Since(rc.Start) }

// ApplyBranch 为每个选中的列加一行固定约束，并记录分支决定
func ApplyBranch(rc *RunContext, level int, selected []master.AssignValue) error {
	for _, a := range selected {
		if err := rc.Master.AddBranchingRestriction(a.ID); err != nil {
			return err
		}
		rc.Fixed.Add(a.ID.Person)
		rc.Decisions = append(rc.Decisions, Decision{Level: level, Person: a.ID.Person, Column: a.ID, Value: a.Value})
	}
	return nil
}

// PruneColumns 删除已固定人员的其他列（含超列），并按剩余时间与未固定人数
// 重算下一层的列生成时间
func PruneColumns(rc *RunContext, selected []master.AssignValue) error {
	for _, a := range selected {
		for _, col := range rc.Master.Pool().ByPerson(a.ID.Person) {
			if col.ID == a.ID {
				continue
			}
			if err := rc.Master.DeleteColumn(col.ID); err != nil {
				return err
			}
		}
	}

	unfixed := rc.Inst.People - rc.Fixed.Cardinality()
	remaining := rc.Opts.TotalTime - rc.elapsed()
	if remaining < 0 {
		remaining = 0
	}
	if unfixed > 0 {
		rc.NodeBudget = remaining / time.Duration(unfixed)
	} else {
		rc.NodeBudget = min(rc.Opts.NodeTime, remaining)
	}
	return nil
}

// Result 下潜结果
type Result struct {
	RunID    string          `json:"run_id"`
	Integral bool            `json:"integral"`
	Schedule *model.Schedule `json:"schedule,omitempty"`
	// Objective 主问题目标值四舍五入
	Objective    int           `json:"objective"`
	RawObjective float64       `json:"raw_objective"`
	RootBound    float64       `json:"root_bound"`
	Gap          float64       `json:"gap"`
	Levels       int           `json:"levels"`
	LevelBounds  []float64     `json:"level_bounds"`
	Unmet        float64       `json:"unmet_demand"`
	Excess       float64       `json:"excess_supply"`
	Stats        colgen.Stats  `json:"stats"`
	Decisions    []Decision    `json:"decisions"`
	Duration     time.Duration `json:"duration"`
}

// Controller 下潜控制器
type Controller struct {
	opts Options
}

// NewController 创建控制器
func NewController(opts Options) *Controller {
	return &Controller{opts: opts}
}

// Run 求解一个算例。时间耗尽仍未得到整数解时返回 Integral=false 的结果而不是错误
func (c *Controller) Run(ctx context.Context, inst *model.Instance) (*Result, error) {
	rc, err := NewRunContext(inst, c.opts)
	if err != nil {
		return nil, err
	}
	return Dive(ctx, rc)
}

// Dive 在已建立的运行上下文上执行根节点列生成与逐层下潜
func Dive(ctx context.Context, rc *RunContext) (*Result, error) {
	opts := rc.Opts
	rc.log.StartRun(opts.RunID, rc.Inst.People, rc.Inst.Tasks, rc.Inst.Days)

	if opts.SeedGreedy {
		if err := seedGreedy(rc); err != nil {
			return nil, err
		}
	}

	out, err := rc.Loop.Run(ctx, min(opts.RootTime, opts.TotalTime), true)
	if err != nil {
		rc.logFailure(err)
		return nil, err
	}
	sol := out.Solution
	rc.Bounds = append(rc.Bounds, sol.Objective)

	level := 0
	for !IsIntegral(sol) {
		if rc.elapsed() >= opts.TotalTime || ctx.Err() != nil {
			break
		}
		selected := SelectBranch(sol, opts.Branching, opts.Threshold)
		if len(selected) == 0 {
			return nil, apperrors.New(apperrors.CodeInternal, "主问题解不是整数但没有可分支的列")
		}
		level++
		if err := ApplyBranch(rc, level, selected); err != nil {
			return nil, err
		}
		if err := PruneColumns(rc, selected); err != nil {
			return nil, err
		}

		out, err = rc.Loop.Run(ctx, rc.NodeBudget, false)
		if err != nil {
			rc.logFailure(err)
			return nil, err
		}
		sol = out.Solution
		rc.Bounds = append(rc.Bounds, sol.Objective)
		rc.log.DiveLevel(level, rc.Fixed.Cardinality(), sol.Objective, rc.NodeBudget)
	}

	res := rc.result(sol, level)
	rc.log.RunComplete(res.RunID, res.Integral, res.Objective, res.RootBound, res.Gap, res.Duration)
	return res, nil
}

func (rc *RunContext) logFailure(err error) {
	var app *apperrors.AppError
	if errors.As(err, &app) && app.Code == apperrors.CodeOracleFailure {
		stage, _ := app.Fields["stage"].(string)
		status, _ := app.Fields["status"].(string)
		rc.log.OracleFailure(stage, status)
	}
}

// seedGreedy 把贪心构造的排班作为初始列加入主问题
func seedGreedy(rc *RunContext) error {
	b := pricing.NewBuilder(rc.Inst)
	sched, err := b.Construct(oracle.Params{TimeLimit: rc.Opts.PricingTimeLimit})
	if err != nil {
		return err
	}
	for p := 0; p < rc.Inst.People; p++ {
		slots := sched.PersonSlots(rc.Inst, p)
		if _, err := rc.Master.AddColumn(p, rc.Inst.PersonCost(p, slots), slots); err != nil {
			return err
		}
	}
	return nil
}

func (rc *RunContext) result(sol *master.Solution, levels int) *Result {
	res := &Result{
		RunID:        rc.Opts.RunID,
		Integral:     IsIntegral(sol),
		Objective:    master.RoundObjective(sol.Objective),
		RawObjective: sol.Objective,
		RootBound:    rc.Stats.RootBound,
		Levels:       levels,
		LevelBounds:  rc.Bounds,
		Stats:        rc.Stats,
		Decisions:    rc.Decisions,
		Duration:     rc.elapsed(),
	}
	res.Unmet, res.Excess = sol.SlackTotals()
	if res.Objective > 0 {
		res.Gap = (float64(res.Objective) - res.RootBound) / float64(res.Objective)
	}
	if res.Integral {
		res.Schedule = ExtractSchedule(rc.Inst, rc.Master.Pool(), sol)
	}
	return res
}

// ExtractSchedule 由取值不小于 1-ε 的生成列得到最终排班
func ExtractSchedule(inst *model.Instance, pool *colpool.Pool, sol *master.Solution) *model.Schedule {
	sched := model.NewSchedule(inst.People, inst.Days)
	for _, a := range sol.Assign {
		if a.Super || a.Value < 1-model.Epsilon {
			continue
		}
		if col, ok := pool.Get(a.ID); ok {
			sched.SetPersonSlots(inst, a.ID.Person, col.Slots)
		}
	}
	return sched
}
