package oracle

import "time"

// Params 求解参数，零值表示不限制
type Params struct {
	// TimeLimit 墙钟时间上限
	TimeLimit time.Duration
	// Cutoff 目标截断值，只接受目标值严格小于它的整数解
	Cutoff float64
	// UseCutoff 是否启用 Cutoff
	UseCutoff bool
	// NodeLimit 分支定界节点上限
	NodeLimit int
	// IterationLimit 单次线性松弛的单纯形迭代上限
	IterationLimit int
}

// WithCutoff 返回启用截断值的参数副本
func (p Params) WithCutoff(cutoff float64) Params {
	p.Cutoff = cutoff
	p.UseCutoff = true
	return p
}

func (p Params) deadline(start time.Time) time.Time {
	if p.TimeLimit <= 0 {
		return time.Time{}
	}
	return start.Add(p.TimeLimit)
}

// Solution 求解结果。每次求解都重新分配向量，不与上一次结果共享内存
type Solution struct {
	Status    Status
	Objective float64
	// X 原始解，长度等于列数
	X []float64
	// Duals 行对偶值，仅线性规划最优时有效
	Duals []float64
	// Iterations 单纯形迭代次数
	Iterations int
	// Nodes 分支定界节点数
	Nodes int
	// Bound 整数规划的下界
	Bound    float64
	Duration time.Duration
}
