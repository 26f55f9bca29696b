package pricing

import (
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/paiban/bnpdive/pkg/model"
)

// ObjectiveStrategy 决定 work[t,d,s] 变量的目标系数，约束部分与策略无关
type ObjectiveStrategy interface {
	Name() string
	// Coefficient 时段 slot 的目标系数
	Coefficient(slot int) float64
}

// DualStrategy 用主问题覆盖约束对偶值定价：系数为 -dual
type DualStrategy struct {
	Duals []float64
}

// Name 策略名
func (DualStrategy) Name() string { return "dual" }

// Coefficient 返回 -dual[slot]
func (s DualStrategy) Coefficient(slot int) float64 { return -s.Duals[slot] }

// GreedyStrategy 构造初始解：仍有剩余需求的时段奖励缺员权重
type GreedyStrategy struct {
	Inst      *model.Instance
	Remaining []int
}

// Name 策略名
func (GreedyStrategy) Name() string { return "greedy" }

// Coefficient 剩余需求至少为 1 时为 -缺员权重，否则为 0
func (s GreedyStrategy) Coefficient(slot int) float64 {
	if s.Remaining[slot] >= 1 {
		return -s.Inst.UnderstaffWeight(s.Inst.SlotAt(slot).Task)
	}
	return 0
}

// RandomStrategy 扰动用的随机系数：-100 乘以 1 到 10 的均匀整数
type RandomStrategy struct {
	coefs []float64
}

// NewRandomStrategy 为 slots 个时段抽取随机系数
func NewRandomStrategy(slots int, src rand.Source) *RandomStrategy {
	u := distuv.Uniform{Min: 1, Max: 11, Src: src}
	s := &RandomStrategy{coefs: make([]float64, slots)}
	for k := range s.coefs {
		s.coefs[k] = -100 * math.Min(math.Floor(u.Rand()), 10)
	}
	return s
}

// Name 策略名
func (*RandomStrategy) Name() string { return "random" }

// Coefficient 返回抽取好的系数
func (s *RandomStrategy) Coefficient(slot int) float64 { return s.coefs[slot] }

// SyntheticDuals 给定其余人员的排班，为单人重优化构造对偶值：
// 剩余需求至少为 1 的时段取缺员权重，否则取负的超员权重
func SyntheticDuals(inst *model.Instance, remaining []int) []float64 {
	duals := make([]float64, len(remaining))
	for k, r := range remaining {
		if r >= 1 {
			duals[k] = inst.UnderstaffWeight(inst.SlotAt(k).Task)
		} else {
			duals[k] = -inst.Weights.Overstaff
		}
	}
	return duals
}
