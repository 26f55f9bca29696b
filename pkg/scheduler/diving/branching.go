package diving

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/paiban/bnpdive/pkg/model"
	"github.com/paiban/bnpdive/pkg/scheduler/master"
)

// BranchingPolicy 分支策略
type BranchingPolicy int

const (
	// LargestFractional 固定取值最大的一个分数变量
	LargestFractional BranchingPolicy = iota
	// Threshold 固定所有取值超过阈值的分数变量，没有时退回 LargestFractional
	Threshold
)

// String 策略名
func (b BranchingPolicy) String() string {
	if b == LargestFractional {
		return "largest"
	}
	return "threshold"
}

// ParseBranching 解析分支策略名
func ParseBranching(s string) (BranchingPolicy, error) {
	switch s {
	case "largest", "largest_fractional":
		return LargestFractional, nil
	case "threshold", "":
		return Threshold, nil
	}
	return Threshold, fmt.Errorf("未知的分支策略: %s", s)
}

// IsIntegral 所有列变量（含超列）都在 0 或 1 的容差范围内
func IsIntegral(sol *master.Solution) bool {
	for _, a := range sol.Assign {
		if a.Value > model.Epsilon && a.Value < 1-model.Epsilon {
			return false
		}
	}
	return true
}

// candidates 可分支的生成列：不含超列，取值在 (0, 1-ε) 之间。
// 按取值降序、人员升序、序号升序排列，每人只保留取值最大的一列
func candidates(sol *master.Solution) []master.AssignValue {
	var out []master.AssignValue
	for _, a := range sol.Assign {
		if a.Super || a.Value <= 0 || a.Value >= 1-model.Epsilon {
			continue
		}
		out = append(out, a)
	}
	slices.SortFunc(out, func(x, y master.AssignValue) int {
		if c := cmp.Compare(y.Value, x.Value); c != 0 {
			return c
		}
		if c := cmp.Compare(x.ID.Person, y.ID.Person); c != 0 {
			return c
		}
		return cmp.Compare(x.ID.Seq, y.ID.Seq)
	})
	seen := make(map[int]bool)
	uniq := out[:0]
	for _, a := range out {
		if !seen[a.ID.Person] {
			seen[a.ID.Person] = true
			uniq = append(uniq, a)
		}
	}
	return uniq
}

// SelectBranch 选出本层要固定为 1 的列
func SelectBranch(sol *master.Solution, policy BranchingPolicy, threshold float64) []master.AssignValue {
	cands := candidates(sol)
	if len(cands) == 0 {
		return nil
	}
	if policy == Threshold {
		var picked []master.AssignValue
		for _, a := range cands {
			if a.Value > threshold {
				picked = append(picked, a)
			}
		}
		if len(picked) > 0 {
			return picked
		}
	}
	return cands[:1]
}
