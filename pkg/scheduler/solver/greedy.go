// Package solver 提供对外的排班求解器：贪心构造与分支定价下潜
package solver

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/paiban/bnpdive/pkg/logger"
	"github.com/paiban/bnpdive/pkg/model"
	"github.com/paiban/bnpdive/pkg/oracle"
	"github.com/paiban/bnpdive/pkg/scheduler/diving"
	"github.com/paiban/bnpdive/pkg/scheduler/optimizer"
	"github.com/paiban/bnpdive/pkg/scheduler/pricing"
)

// Solver 求解器接口
type Solver interface {
	// Solve 执行排班求解
	Solve(ctx context.Context, inst *model.Instance) (*Result, error)
	// Name 返回求解器名称
	Name() string
}

// Result 求解结果
type Result struct {
	RunID       string           `json:"run_id"`
	Solver      string           `json:"solver"`
	Schedule    *model.Schedule  `json:"schedule,omitempty"`
	Evaluation  model.Evaluation `json:"evaluation"`
	Statistics  Statistics       `json:"statistics"`
	Dive        *diving.Result   `json:"dive,omitempty"`
	Improvement *optimizer.Stats `json:"improvement,omitempty"`
	Duration    time.Duration    `json:"duration"`
	Success     bool             `json:"success"`
	Message     string           `json:"message"`
}

// Statistics 求解统计
type Statistics struct {
	Objective         int           `json:"objective"`
	RootBound         float64       `json:"root_bound"`
	Gap               float64       `json:"gap"`
	Unmet             int           `json:"unmet_demand"`
	Excess            int           `json:"excess_supply"`
	TotalDemand       int           `json:"total_demand"`
	FillRate          float64       `json:"fill_rate"` // 已满足需求占比（%）
	TotalHours        int           `json:"total_hours"`
	AvgHoursPerPerson float64       `json:"avg_hours_per_person"`
	Iterations        int           `json:"iterations"`
	RootIterations    int           `json:"root_iterations"`
	ColumnsAdded      int           `json:"columns_added"`
	RootColumnsAdded  int           `json:"root_columns_added"`
	Levels            int           `json:"levels"`
	MasterTime        time.Duration `json:"master_time"`
	PricingTime       time.Duration `json:"pricing_time"`
	RootTime          time.Duration `json:"root_time"`
}

// fillScheduleStatistics 由最终排班计算目标值与工时统计
func fillScheduleStatistics(inst *model.Instance, res *Result) {
	res.Evaluation = model.Evaluate(inst, res.Schedule)
	st := &res.Statistics
	st.Objective = int(res.Evaluation.Total + 0.5)
	st.Unmet = res.Evaluation.Unmet
	st.Excess = res.Evaluation.Excess
	st.TotalDemand = inst.TotalDemand()
	if st.TotalDemand > 0 {
		st.FillRate = float64(st.TotalDemand-st.Unmet) / float64(st.TotalDemand) * 100
	}
	st.TotalHours = 0
	for p := 0; p < inst.People; p++ {
		st.TotalHours += res.Schedule.Hours(inst, p)
	}
	if inst.People > 0 {
		st.AvgHoursPerPerson = float64(st.TotalHours) / float64(inst.People)
	}
}

// GreedySolver 贪心构造求解器：按人员顺序各求解一次贪心子问题
type GreedySolver struct {
	pricingLimit time.Duration
	logger       *logger.DiveLogger
}

// NewGreedySolver 创建贪心求解器，pricingLimit 为单个子问题的时间上限
func NewGreedySolver(pricingLimit time.Duration, log *zerolog.Logger) *GreedySolver {
	return &GreedySolver{
		pricingLimit: pricingLimit,
		logger:       logger.NewDiveLogger(log),
	}
}

// Name 返回求解器名称
func (s *GreedySolver) Name() string {
	return "greedy"
}

// Solve 执行贪心构造
func (s *GreedySolver) Solve(ctx context.Context, inst *model.Instance) (*Result, error) {
	startTime := time.Now()
	if err := inst.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := &Result{RunID: uuid.New().String(), Solver: s.Name()}
	s.logger.StartRun(result.RunID, inst.People, inst.Tasks, inst.Days)

	sched, err := pricing.NewBuilder(inst).Construct(oracle.Params{TimeLimit: s.pricingLimit})
	if err != nil {
		return nil, err
	}
	result.Schedule = sched
	fillScheduleStatistics(inst, result)
	result.Statistics.Iterations = inst.People
	result.Success = true
	result.Duration = time.Since(startTime)
	result.Message = fmt.Sprintf("贪心构造完成，满足率 %.1f%%", result.Statistics.FillRate)

	s.logger.RunComplete(result.RunID, true, result.Statistics.Objective, 0, 0, result.Duration)
	return result, nil
}
