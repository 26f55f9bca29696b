package optimizer

import (
	"slices"

	mapset "github.com/deckarep/golang-set/v2"
	"golang.org/x/exp/rand"

	"github.com/paiban/bnpdive/pkg/scheduler/pricing"
)

// NeighborhoodGenerator 生成第 k 个扰动邻域：随机选 k 个不同的人，
// 用随机目标系数重新求解他们的排班
type NeighborhoodGenerator struct {
	opt *LocalSearchOptimizer
	src rand.Source
	rng *rand.Rand
}

// NewNeighborhoodGenerator 创建邻域生成器
func NewNeighborhoodGenerator(opt *LocalSearchOptimizer, src rand.Source) *NeighborhoodGenerator {
	return &NeighborhoodGenerator{opt: opt, src: src, rng: rand.New(src)}
}

// Pick 随机选 k 个不同的人
func (n *NeighborhoodGenerator) Pick(k int) mapset.Set[int] {
	people := n.opt.inst.People
	picked := mapset.NewSetWithSize[int](k)
	for picked.Cardinality() < min(k, people) {
		picked.Add(n.rng.Intn(people))
	}
	return picked
}

// Shake 返回扰动后的新解，base 不变。子问题无解的人清空排班
func (n *NeighborhoodGenerator) Shake(base *Solution, k int) (*Solution, error) {
	inst := n.opt.inst
	next := base.Schedule.Clone()
	shaken := n.Pick(k).ToSlice()
	slices.Sort(shaken)
	for _, p := range shaken {
		res, err := n.opt.solvePerson(p, pricing.NewRandomStrategy(inst.Slots(), n.src))
		if err != nil {
			return nil, err
		}
		if res.Found {
			next.SetPersonSlots(inst, p, res.Slots)
		} else {
			next.ClearPerson(p)
		}
	}
	return newSolution(inst, next), nil
}
