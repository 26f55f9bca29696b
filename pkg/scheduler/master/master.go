// Package master 维护受限主问题：覆盖约束、凸性约束、分支约束与动态列
package master

import (
	"math"
	"slices"
	"time"

	apperrors "github.com/paiban/bnpdive/pkg/errors"
	"github.com/paiban/bnpdive/pkg/model"
	"github.com/paiban/bnpdive/pkg/oracle"
	"github.com/paiban/bnpdive/pkg/scheduler/colpool"
)

// AssignValue 列变量取值
type AssignValue struct {
	ID    colpool.ColumnID
	Value float64
	Super bool
}

// Solution 一次主问题求解的快照，与后续求解互不影响
type Solution struct {
	Objective      float64
	Assign         []AssignValue // 按 oracle 列顺序
	CoverageDuals  []float64     // 按时段下标
	ConvexityDuals []float64     // 按人员
	Over, Under    []float64     // 按时段下标
	Duration       time.Duration

	byID map[colpool.ColumnID]float64
}

// Value 列变量取值，列不存在时返回 0
func (s *Solution) Value(id colpool.ColumnID) float64 { return s.byID[id] }

// SlackTotals 超过容差的缺员与超员总量
func (s *Solution) SlackTotals() (unmet, excess float64) {
	for k := range s.Under {
		if s.Under[k] > model.Epsilon {
			unmet += s.Under[k]
		}
		if s.Over[k] > model.Epsilon {
			excess += s.Over[k]
		}
	}
	return unmet, excess
}

// ConvexitySums 每个人员所有列变量取值之和
func (s *Solution) ConvexitySums(people int) []float64 {
	sums := make([]float64, people)
	for _, a := range s.Assign {
		sums[a.ID.Person] += a.Value
	}
	return sums
}

// Master 受限主问题
type Master struct {
	inst   *model.Instance
	lp     *oracle.Model
	pool   *colpool.Pool
	slots  int
	params oracle.Params

	branchRows int
	fixed      map[colpool.ColumnID]bool
	supers     []colpool.ColumnID
}

// New 建立主问题：每个时段一对超员/缺员变量，每人一个超列
func New(inst *model.Instance) (*Master, error) {
	slots := inst.Slots()
	m := &Master{
		inst:  inst,
		lp:    oracle.NewModel("master"),
		slots: slots,
		fixed: make(map[colpool.ColumnID]bool),
	}

	for k := 0; k < slots; k++ {
		if _, err := m.lp.AddCol(oracle.Column{Name: "over", Obj: inst.Weights.Overstaff, Upper: oracle.Inf}, nil); err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeInternal, "建立主问题失败")
		}
	}
	for k := 0; k < slots; k++ {
		task := inst.SlotAt(k).Task
		if _, err := m.lp.AddCol(oracle.Column{Name: "under", Obj: inst.UnderstaffWeight(task), Upper: oracle.Inf}, nil); err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeInternal, "建立主问题失败")
		}
	}

	for k := 0; k < slots; k++ {
		sl := inst.SlotAt(k)
		row := oracle.Row{
			Name:  "coverage",
			Sense: oracle.Equal,
			RHS:   float64(inst.Demand(sl.Task, sl.Day, sl.Shift)),
			Coefs: []oracle.Entry{{Index: slots + k, Value: 1}, {Index: k, Value: -1}},
		}
		if _, err := m.lp.AddRow(row); err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeInternal, "建立主问题失败")
		}
	}
	for p := 0; p < inst.People; p++ {
		if _, err := m.lp.AddRow(oracle.Row{Name: "convexity", Sense: oracle.Equal, RHS: 1}); err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeInternal, "建立主问题失败")
		}
	}

	m.pool = colpool.New(inst.People, 2*slots)
	for p := 0; p < inst.People; p++ {
		id := m.pool.NextID(p)
		if err := m.addVar(&colpool.Column{ID: id, Cost: inst.Weights.SupercolumnCost, Super: true}); err != nil {
			return nil, err
		}
		m.supers = append(m.supers, id)
	}
	return m, nil
}

func (m *Master) convexityRow(p int) int { return m.slots + p }

func (m *Master) addVar(col *colpool.Column) error {
	coefs := make([]oracle.Entry, 0, len(col.Slots)+1)
	for _, k := range col.Slots {
		coefs = append(coefs, oracle.Entry{Index: k, Value: 1})
	}
	coefs = append(coefs, oracle.Entry{Index: m.convexityRow(col.ID.Person), Value: 1})
	idx, err := m.lp.AddCol(oracle.Column{Name: col.ID.String(), Obj: col.Cost, Upper: 1}, coefs)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal, "添加列失败")
	}
	if got := m.pool.Add(col); got != idx {
		return apperrors.New(apperrors.CodeInternal, "列池与主问题列下标不一致")
	}
	return nil
}

// AddColumn 添加一个人员的新列
func (m *Master) AddColumn(person int, cost float64, slots []int) (colpool.ColumnID, error) {
	id := m.pool.NextID(person)
	err := m.addVar(&colpool.Column{ID: id, Cost: cost, Slots: append([]int(nil), slots...)})
	return id, err
}

// AddBranchingRestriction 增加一行把该列变量固定为 1
func (m *Master) AddBranchingRestriction(id colpool.ColumnID) error {
	idx, ok := m.pool.Index(id)
	if !ok {
		return apperrors.NotFound("列", id.String())
	}
	if _, err := m.lp.AddRow(oracle.Row{
		Name:  "branch_" + id.String(),
		Sense: oracle.Equal,
		RHS:   1,
		Coefs: []oracle.Entry{{Index: idx, Value: 1}},
	}); err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal, "添加分支约束失败")
	}
	m.fixed[id] = true
	m.branchRows++
	return nil
}

// DeleteColumn 删除列变量。被分支约束固定的列不能删除
func (m *Master) DeleteColumn(id colpool.ColumnID) error {
	if m.fixed[id] {
		return apperrors.New(apperrors.CodeInternal, "不能删除已固定的列").WithField("column", id.String())
	}
	idx, ok := m.pool.Index(id)
	if !ok {
		return apperrors.NotFound("列", id.String())
	}
	if err := m.lp.DeleteCols(idx, idx); err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal, "删除列失败")
	}
	m.pool.Remove(id)
	return nil
}

// SolveLP 求解线性松弛。非最优状态都视为致命错误
func (m *Master) SolveLP() (*Solution, error) {
	res := m.lp.SolveLP(m.params)
	if res.Status != oracle.StatusOptimal {
		return nil, apperrors.OracleFailure("master", res.Status.String())
	}

	sol := &Solution{
		Objective:      res.Objective,
		CoverageDuals:  append([]float64(nil), res.Duals[:m.slots]...),
		ConvexityDuals: append([]float64(nil), res.Duals[m.slots:m.slots+m.inst.People]...),
		Over:           append([]float64(nil), res.X[:m.slots]...),
		Under:          append([]float64(nil), res.X[m.slots:2*m.slots]...),
		Duration:       res.Duration,
		byID:           make(map[colpool.ColumnID]float64, m.pool.Len()),
	}
	m.pool.Each(func(idx int, col *colpool.Column) {
		v := res.X[idx]
		sol.Assign = append(sol.Assign, AssignValue{ID: col.ID, Value: v, Super: col.Super})
		sol.byID[col.ID] = v
	})
	return sol, nil
}

// Pool 列池
func (m *Master) Pool() *colpool.Pool { return m.pool }

// ColumnEntries 从 oracle 读回列变量的行系数（含覆盖行、凸性行与分支行）
func (m *Master) ColumnEntries(id colpool.ColumnID) ([]oracle.Entry, bool) {
	idx, ok := m.pool.Index(id)
	if !ok {
		return nil, false
	}
	return slices.Clone(m.lp.ColCoefs(idx)), true
}

// CoverageRows 覆盖约束行数，等于时段数；其后依次是每人一行凸性约束
func (m *Master) CoverageRows() int { return m.slots }

// Supercolumn 人员的超列标识
func (m *Master) Supercolumn(person int) colpool.ColumnID { return m.supers[person] }

// IsFixed 列是否已被分支约束固定
func (m *Master) IsFixed(id colpool.ColumnID) bool { return m.fixed[id] }

// NumRows 主问题行数
func (m *Master) NumRows() int { return m.lp.NumRows() }

// NumCols 主问题列数
func (m *Master) NumCols() int { return m.lp.NumCols() }

// BranchingRows 已添加的分支约束数
func (m *Master) BranchingRows() int { return m.branchRows }

// RoundObjective 目标值四舍五入为整数
func RoundObjective(obj float64) int { return int(math.Floor(obj + 0.5)) }
