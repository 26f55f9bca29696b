package pricing

import (
	"github.com/paiban/bnpdive/pkg/model"
	"github.com/paiban/bnpdive/pkg/oracle"
)

// RemainingDemand 需求减去排班 s 中其他人员（跳过 skip）的供给
func RemainingDemand(inst *model.Instance, s *model.Schedule, skip int) []int {
	remaining := make([]int, inst.Slots())
	for k := range remaining {
		sl := inst.SlotAt(k)
		remaining[k] = inst.Demand(sl.Task, sl.Day, sl.Shift)
	}
	if s == nil {
		return remaining
	}
	for p := 0; p < s.People(); p++ {
		if p == skip {
			continue
		}
		for _, k := range s.PersonSlots(inst, p) {
			remaining[k]--
		}
	}
	return remaining
}

// Construct 按人员顺序贪心构造排班：每人求解一次贪心子问题，
// 然后从剩余需求中扣除其覆盖的时段
func (b *Builder) Construct(params oracle.Params) (*model.Schedule, error) {
	inst := b.inst
	sched := model.NewSchedule(inst.People, inst.Days)
	remaining := RemainingDemand(inst, nil, -1)
	for p := 0; p < inst.People; p++ {
		sp, err := b.Build(p, GreedyStrategy{Inst: inst, Remaining: remaining})
		if err != nil {
			return nil, err
		}
		res, err := sp.Solve(params)
		if err != nil {
			return nil, err
		}
		if !res.Found {
			continue
		}
		sched.SetPersonSlots(inst, p, res.Slots)
		for _, k := range res.Slots {
			remaining[k]--
		}
	}
	return sched, nil
}
