package oracle

import (
	"errors"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"
)

const (
	feasTol       = 1e-9
	optTol        = 1e-9
	pivotTol      = 1e-9
	tieTol        = 1e-12
	phaseOneTol   = 1e-7
	refactorEvery = 50
	// 连续退化步数超过该值后改用 Bland 规则
	degenerateLimit = 50
)

var errSingularBasis = errors.New("基矩阵奇异")

// lpProblem 加入松弛变量与人工变量后的标准型：A x = b, lb <= x <= ub
type lpProblem struct {
	m       int
	nStruct int
	cols    [][]Entry
	cost    []float64
	lb, ub  []float64
	b       []float64
	art     []bool
	x0      []float64
	basis0  []int
}

// buildLP 生成标准型，lb/ub 覆盖结构变量的界
func (m *Model) buildLP(lb, ub []float64) *lpProblem {
	nRows := len(m.rows)
	p := &lpProblem{m: nRows, nStruct: len(m.cols), b: make([]float64, nRows)}
	for j, c := range m.cols {
		p.cols = append(p.cols, c.coefs)
		p.cost = append(p.cost, c.Obj)
		p.lb = append(p.lb, lb[j])
		p.ub = append(p.ub, ub[j])
		p.art = append(p.art, false)
		p.x0 = append(p.x0, lb[j])
	}

	activity := make([]float64, nRows)
	for j, c := range m.cols {
		if lb[j] == 0 {
			continue
		}
		for _, e := range c.coefs {
			activity[e.Index] += e.Value * lb[j]
		}
	}

	addVar := func(i int, coef, val float64, art bool) int {
		p.cols = append(p.cols, []Entry{{Index: i, Value: coef}})
		p.cost = append(p.cost, 0)
		p.lb = append(p.lb, 0)
		p.ub = append(p.ub, math.Inf(1))
		p.art = append(p.art, art)
		p.x0 = append(p.x0, val)
		return len(p.cols) - 1
	}

	p.basis0 = make([]int, nRows)
	for i, r := range m.rows {
		p.b[i] = r.rhs
		resid := r.rhs - activity[i]
		basic := -1
		switch r.sense {
		case LessEqual:
			j := addVar(i, 1, math.Max(resid, 0), false)
			if resid >= -feasTol {
				basic = j
			}
		case GreaterEqual:
			j := addVar(i, -1, math.Max(-resid, 0), false)
			if -resid >= -feasTol {
				basic = j
			}
		}
		if basic < 0 {
			coef := 1.0
			if resid < 0 {
				coef = -1
			}
			basic = addVar(i, coef, math.Abs(resid), true)
		}
		p.basis0[i] = basic
	}
	return p
}

func (p *lpProblem) hasArtificials() bool {
	for _, a := range p.art {
		if a {
			return true
		}
	}
	return false
}

// eta 乘积形式中的一个初等矩阵：单位阵第 r 列换成 w
type eta struct {
	r int
	w []float64
}

type simplex struct {
	p        *lpProblem
	x        []float64
	basis    []int
	pos      []int
	lu       *mat.LU
	etas     []eta
	iters    int
	maxIters int
	deadline time.Time

	sinceRefactor int
	degenerate    int
}

func newSimplex(p *lpProblem, params Params, start time.Time) *simplex {
	s := &simplex{
		p:        p,
		x:        append([]float64(nil), p.x0...),
		basis:    append([]int(nil), p.basis0...),
		pos:      make([]int, len(p.cols)),
		maxIters: params.IterationLimit,
		deadline: params.deadline(start),
	}
	if s.maxIters <= 0 {
		s.maxIters = 100*(p.m+len(p.cols)) + 10000
	}
	for j := range s.pos {
		s.pos[j] = -1
	}
	for i, j := range s.basis {
		s.pos[j] = i
	}
	return s
}

func (s *simplex) denseCol(j int) []float64 {
	v := make([]float64, s.p.m)
	for _, e := range s.p.cols[j] {
		v[e.Index] = e.Value
	}
	return v
}

// refactor 重新分解基矩阵并由非基变量重算基变量取值
func (s *simplex) refactor() error {
	m := s.p.m
	data := make([]float64, m*m)
	for k, j := range s.basis {
		for _, e := range s.p.cols[j] {
			data[e.Index*m+k] = e.Value
		}
	}
	lu := &mat.LU{}
	lu.Factorize(mat.NewDense(m, m, data))
	if math.IsInf(lu.Cond(), 1) {
		return errSingularBasis
	}
	s.lu = lu
	s.etas = s.etas[:0]
	s.sinceRefactor = 0

	rhs := append([]float64(nil), s.p.b...)
	for j := range s.p.cols {
		if s.pos[j] >= 0 || s.x[j] == 0 {
			continue
		}
		for _, e := range s.p.cols[j] {
			rhs[e.Index] -= e.Value * s.x[j]
		}
	}
	xB, err := s.solve(rhs, false)
	if err != nil {
		return err
	}
	for i, j := range s.basis {
		s.x[j] = xB[i]
	}
	return nil
}

// solve 求解 B x = rhs 或 B^T x = rhs，B = B0·E1·…·Ek
func (s *simplex) solve(rhs []float64, trans bool) ([]float64, error) {
	if !trans {
		x, err := s.solveBase(rhs, false)
		if err != nil {
			return nil, err
		}
		for _, e := range s.etas {
			xr := x[e.r] / e.w[e.r]
			for i, wi := range e.w {
				if i != e.r {
					x[i] -= wi * xr
				}
			}
			x[e.r] = xr
		}
		return x, nil
	}

	v := append([]float64(nil), rhs...)
	for k := len(s.etas) - 1; k >= 0; k-- {
		e := s.etas[k]
		sum := v[e.r]
		for i, wi := range e.w {
			if i != e.r {
				sum -= wi * v[i]
			}
		}
		v[e.r] = sum / e.w[e.r]
	}
	return s.solveBase(v, true)
}

func (s *simplex) solveBase(rhs []float64, trans bool) ([]float64, error) {
	dst := mat.NewVecDense(s.p.m, nil)
	if err := s.lu.SolveVecTo(dst, trans, mat.NewVecDense(s.p.m, rhs)); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) || math.IsInf(float64(cond), 1) {
			return nil, errSingularBasis
		}
	}
	return dst.RawVector().Data, nil
}

// duals 计算 y = B^-T c_B
func (s *simplex) duals(cost []float64) ([]float64, error) {
	cB := make([]float64, s.p.m)
	for i, j := range s.basis {
		cB[i] = cost[j]
	}
	return s.solve(cB, true)
}

func (s *simplex) reducedCost(j int, cost, y []float64) float64 {
	d := cost[j]
	for _, e := range s.p.cols[j] {
		d -= y[e.Index] * e.Value
	}
	return d
}

// run 以给定费用向量迭代至最优、无界或达到限制
func (s *simplex) run(cost []float64) (Status, []float64) {
	p := s.p
	if err := s.refactor(); err != nil {
		return StatusError, nil
	}
	for {
		if s.iters >= s.maxIters {
			return StatusResourceLimit, nil
		}
		if !s.deadline.IsZero() && time.Now().After(s.deadline) {
			return StatusTimeLimitNoIncumbent, nil
		}

		y, err := s.duals(cost)
		if err != nil {
			return StatusError, nil
		}

		bland := s.degenerate > degenerateLimit
		enter, dir, best := -1, 0.0, 0.0
		for j := range p.cols {
			if s.pos[j] >= 0 || p.ub[j]-p.lb[j] <= feasTol {
				continue
			}
			d := s.reducedCost(j, cost, y)
			var score, jdir float64
			switch {
			case d < -optTol && s.x[j] < p.ub[j]-feasTol:
				score, jdir = -d, 1
			case d > optTol && s.x[j] > p.lb[j]+feasTol:
				score, jdir = d, -1
			default:
				continue
			}
			if score > best {
				enter, dir, best = j, jdir, score
				if bland {
					break
				}
			}
		}
		if enter < 0 {
			if err := s.refactor(); err != nil {
				return StatusError, nil
			}
			y, err := s.duals(cost)
			if err != nil {
				return StatusError, nil
			}
			return StatusOptimal, y
		}

		w, err := s.solve(s.denseCol(enter), false)
		if err != nil {
			return StatusError, nil
		}

		// 比值检验：x_B(t) = x_B - dir*t*w
		tMin := p.ub[enter] - p.lb[enter]
		for i, bi := range s.basis {
			if math.Abs(w[i]) < pivotTol {
				continue
			}
			if t, ok := s.stepLimit(bi, -dir*w[i]); ok && t < tMin {
				tMin = t
			}
		}
		if math.IsInf(tMin, 1) {
			return StatusUnbounded, nil
		}

		leave := -1
		if tMin < p.ub[enter]-p.lb[enter]-tieTol {
			bestPivot := 0.0
			for i, bi := range s.basis {
				if math.Abs(w[i]) < pivotTol {
					continue
				}
				t, ok := s.stepLimit(bi, -dir*w[i])
				if !ok || t > tMin+tieTol {
					continue
				}
				if bland {
					if leave < 0 || bi < s.basis[leave] {
						leave = i
					}
				} else if math.Abs(w[i]) > bestPivot {
					leave, bestPivot = i, math.Abs(w[i])
				}
			}
		}

		s.iters++
		if tMin < tieTol {
			s.degenerate++
		} else {
			s.degenerate = 0
		}

		s.x[enter] += dir * tMin
		for i, bi := range s.basis {
			s.x[bi] -= dir * tMin * w[i]
		}
		if leave < 0 {
			// 进基变量直接从一个界翻到另一个界
			if dir > 0 {
				s.x[enter] = p.ub[enter]
			} else {
				s.x[enter] = p.lb[enter]
			}
			continue
		}

		out := s.basis[leave]
		if -dir*w[leave] < 0 {
			s.x[out] = p.lb[out]
		} else {
			s.x[out] = p.ub[out]
		}
		if err := s.pivot(leave, enter, out, w); err != nil {
			return StatusError, nil
		}
	}
}

// stepLimit 基变量以速率 rate 变化时到达其界的步长
func (s *simplex) stepLimit(j int, rate float64) (float64, bool) {
	p := s.p
	if rate < 0 {
		return math.Max((s.x[j]-p.lb[j])/-rate, 0), true
	}
	if math.IsInf(p.ub[j], 1) {
		return 0, false
	}
	return math.Max((p.ub[j]-s.x[j])/rate, 0), true
}

// pivot 用进基列 w = B^-1 a_enter 替换基矩阵第 r 列。更新以 eta 文件累积，
// 每 refactorEvery 次或主元过小时重新分解
func (s *simplex) pivot(r, enter, out int, w []float64) error {
	s.basis[r] = enter
	s.pos[enter] = r
	s.pos[out] = -1
	s.sinceRefactor++
	if s.sinceRefactor >= refactorEvery || math.Abs(w[r]) < pivotTol {
		return s.refactor()
	}
	s.etas = append(s.etas, eta{r: r, w: w})
	return nil
}

// solveLP 两阶段求解，lb/ub 覆盖结构变量的界
func (m *Model) solveLP(lb, ub []float64, params Params, start time.Time) Solution {
	p := m.buildLP(lb, ub)
	if p.m == 0 {
		return solveUnconstrained(p)
	}
	s := newSimplex(p, params, start)

	if p.hasArtificials() {
		phase1 := make([]float64, len(p.cols))
		for j, a := range p.art {
			if a {
				phase1[j] = 1
			}
		}
		status, _ := s.run(phase1)
		if status != StatusOptimal {
			return Solution{Status: status, Iterations: s.iters}
		}
		infeas := 0.0
		for j, a := range p.art {
			if a {
				infeas += s.x[j]
			}
		}
		if infeas > phaseOneTol*math.Max(1, maxAbs(p.b)) {
			return Solution{Status: StatusInfeasible, Iterations: s.iters}
		}
		for j, a := range p.art {
			if a {
				p.ub[j] = 0
				if s.pos[j] < 0 {
					s.x[j] = 0
				}
			}
		}
	}

	status, y := s.run(p.cost)
	sol := Solution{Status: status, Iterations: s.iters}
	if status != StatusOptimal {
		return sol
	}
	sol.X = make([]float64, p.nStruct)
	for j := 0; j < p.nStruct; j++ {
		sol.X[j] = clamp(s.x[j], p.lb[j], p.ub[j])
		sol.Objective += p.cost[j] * sol.X[j]
	}
	sol.Duals = y
	return sol
}

func solveUnconstrained(p *lpProblem) Solution {
	sol := Solution{Status: StatusOptimal, X: make([]float64, p.nStruct), Duals: []float64{}}
	for j := 0; j < p.nStruct; j++ {
		switch {
		case p.cost[j] >= 0:
			sol.X[j] = p.lb[j]
		case math.IsInf(p.ub[j], 1):
			return Solution{Status: StatusUnbounded}
		default:
			sol.X[j] = p.ub[j]
		}
		sol.Objective += p.cost[j] * sol.X[j]
	}
	return sol
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func maxAbs(v []float64) float64 {
	out := 0.0
	for _, x := range v {
		out = math.Max(out, math.Abs(x))
	}
	return out
}

// SolveLP 求解线性松弛（忽略整数性），返回原始解与对偶值
func (m *Model) SolveLP(params Params) Solution {
	start := time.Now()
	lb, ub := m.bounds()
	sol := m.solveLP(lb, ub, params, start)
	sol.Duration = time.Since(start)
	return sol
}

func (m *Model) bounds() ([]float64, []float64) {
	lb := make([]float64, len(m.cols))
	ub := make([]float64, len(m.cols))
	for j, c := range m.cols {
		lb[j], ub[j] = c.Lower, c.Upper
	}
	return lb, ub
}
