package oracle

import (
	"math"
	"time"

	"github.com/oleiade/lane/v2"
)

const (
	intTol = 1e-6
	// 同界节点优先深入，尽早得到可行解
	depthBias = 1e-9
)

type node struct {
	lb, ub []float64
	x      []float64
	bound  float64
	depth  int
}

type branchAndBound struct {
	model  *Model
	params Params
	start  time.Time

	limit        float64
	incumbent    []float64
	incumbentObj float64
	nodes        int
	iters        int
}

// SolveMIP 最优优先分支定界。启用 Cutoff 时只接受目标值严格小于截断值的解，
// 找不到时返回 StatusCutoff 而不是 StatusInfeasible
func (m *Model) SolveMIP(params Params) Solution {
	start := time.Now()
	bb := &branchAndBound{model: m, params: params, start: start, limit: math.Inf(1), incumbentObj: math.Inf(1)}
	if params.UseCutoff {
		bb.limit = params.Cutoff
	}
	sol := bb.run()
	sol.Duration = time.Since(start)
	sol.Nodes = bb.nodes
	sol.Iterations = bb.iters
	return sol
}

func (bb *branchAndBound) run() Solution {
	m := bb.model
	lb, ub := m.bounds()
	for j, c := range m.cols {
		if c.Type != Continuous {
			lb[j] = math.Ceil(lb[j] - intTol)
			ub[j] = math.Floor(ub[j] + intTol)
			if ub[j] < lb[j] {
				return Solution{Status: StatusInfeasible}
			}
		}
	}

	root := bb.solve(lb, ub)
	switch root.Status {
	case StatusOptimal:
	case StatusUnbounded:
		return Solution{Status: StatusInfeasibleOrUnbounded}
	default:
		return Solution{Status: root.Status}
	}
	if root.Objective >= bb.limit-optTol {
		return Solution{Status: StatusCutoff, Bound: root.Objective}
	}

	queue := lane.NewMinPriorityQueue[*node, float64]()
	if bb.accept(root.X, root.Objective) {
		return bb.result(StatusOptimal, root.Objective)
	}
	queue.Push(&node{lb: lb, ub: ub, x: root.X, bound: root.Objective}, root.Objective)

	for !queue.Empty() {
		nd, _, _ := queue.Pop()
		if nd.bound >= bb.limit-optTol {
			continue
		}
		if bb.timeUp() {
			return bb.stopped(StatusTimeLimitWithIncumbent, StatusTimeLimitNoIncumbent, nd.bound)
		}
		if bb.params.NodeLimit > 0 && bb.nodes >= bb.params.NodeLimit {
			return bb.stopped(StatusResourceLimit, StatusResourceLimit, nd.bound)
		}

		j := bb.branchVar(nd.x)
		v := nd.x[j]
		for _, side := range [2]bool{false, true} {
			clb := append([]float64(nil), nd.lb...)
			cub := append([]float64(nil), nd.ub...)
			if side {
				clb[j] = math.Ceil(v)
			} else {
				cub[j] = math.Floor(v)
			}
			child := bb.solve(clb, cub)
			switch child.Status {
			case StatusOptimal:
			case StatusInfeasible:
				continue
			case StatusTimeLimitNoIncumbent:
				return bb.stopped(StatusTimeLimitWithIncumbent, StatusTimeLimitNoIncumbent, nd.bound)
			default:
				return Solution{Status: StatusError}
			}
			if child.Objective >= bb.limit-optTol {
				continue
			}
			if bb.accept(child.X, child.Objective) {
				continue
			}
			depth := nd.depth + 1
			queue.Push(&node{lb: clb, ub: cub, x: child.X, bound: child.Objective, depth: depth},
				child.Objective-depthBias*float64(depth))
		}
	}

	if bb.incumbent == nil {
		if bb.params.UseCutoff {
			return Solution{Status: StatusCutoff, Bound: bb.limit}
		}
		return Solution{Status: StatusInfeasible}
	}
	return bb.result(StatusOptimal, bb.incumbentObj)
}

func (bb *branchAndBound) solve(lb, ub []float64) Solution {
	bb.nodes++
	sol := bb.model.solveLP(lb, ub, bb.params, bb.start)
	bb.iters += sol.Iterations
	return sol
}

func (bb *branchAndBound) timeUp() bool {
	return bb.params.TimeLimit > 0 && time.Since(bb.start) >= bb.params.TimeLimit
}

// accept 若 x 满足整数性则更新当前最优解
func (bb *branchAndBound) accept(x []float64, obj float64) bool {
	if bb.branchVar(x) >= 0 {
		return false
	}
	if obj < bb.incumbentObj {
		bb.incumbent = bb.round(x)
		bb.incumbentObj = obj
		bb.limit = math.Min(bb.limit, obj)
	}
	return true
}

// branchVar 选取最不整的整数变量，相同时取下标最小者，全部整数时返回 -1
func (bb *branchAndBound) branchVar(x []float64) int {
	best, bestDist := -1, intTol
	for j, c := range bb.model.cols {
		if c.Type == Continuous {
			continue
		}
		frac := x[j] - math.Floor(x[j])
		dist := math.Min(frac, 1-frac)
		if dist > bestDist {
			best, bestDist = j, dist
		}
	}
	return best
}

func (bb *branchAndBound) round(x []float64) []float64 {
	out := append([]float64(nil), x...)
	for j, c := range bb.model.cols {
		if c.Type != Continuous {
			out[j] = math.Round(out[j])
		}
	}
	return out
}

func (bb *branchAndBound) result(status Status, bound float64) Solution {
	obj := 0.0
	for j, c := range bb.model.cols {
		obj += c.Obj * bb.incumbent[j]
	}
	return Solution{Status: status, Objective: obj, X: bb.incumbent, Bound: bound}
}

func (bb *branchAndBound) stopped(with, without Status, bound float64) Solution {
	if bb.incumbent != nil {
		return bb.result(with, bound)
	}
	return Solution{Status: without, Bound: bound}
}
