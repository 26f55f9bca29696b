package model

// Unassigned 未分配任务
const Unassigned = -1

// Schedule 最终排班：(人员, 天, 班次) -> 任务，未分配为 -1
type Schedule struct {
	Assign [][][]int `json:"assign"` // [p][d][s]
}

// NewSchedule 创建空排班
func NewSchedule(people, days int) *Schedule {
	s := &Schedule{Assign: make([][][]int, people)}
	for p := range s.Assign {
		s.Assign[p] = emptyPerson(days)
	}
	return s
}

func emptyPerson(days int) [][]int {
	out := make([][]int, days)
	for d := range out {
		out[d] = []int{Unassigned, Unassigned, Unassigned}
	}
	return out
}

// People 人数
func (s *Schedule) People() int { return len(s.Assign) }

// Task 返回分配的任务
func (s *Schedule) Task(p, d, sh int) int { return s.Assign[p][d][sh] }

// Set 设置分配
func (s *Schedule) Set(p, d, sh, t int) { s.Assign[p][d][sh] = t }

// ClearPerson 清空某人的排班
func (s *Schedule) ClearPerson(p int) {
	s.Assign[p] = emptyPerson(len(s.Assign[p]))
}

// SetPersonSlots 用时段下标设置某人的排班
func (s *Schedule) SetPersonSlots(inst *Instance, p int, slots []int) {
	s.ClearPerson(p)
	for _, idx := range slots {
		sl := inst.SlotAt(idx)
		s.Assign[p][sl.Day][sl.Shift] = sl.Task
	}
}

// PersonSlots 返回某人上班的时段下标（升序）
func (s *Schedule) PersonSlots(inst *Instance, p int) []int {
	var out []int
	for t := 0; t < inst.Tasks; t++ {
		for d := range s.Assign[p] {
			for sh, task := range s.Assign[p][d] {
				if task == t {
					out = append(out, inst.SlotIndex(t, d, sh))
				}
			}
		}
	}
	return out
}

// Supply 每个时段的在岗人数
func (s *Schedule) Supply(inst *Instance) []int {
	supply := make([]int, inst.Slots())
	for p := range s.Assign {
		for d := range s.Assign[p] {
			for sh, t := range s.Assign[p][d] {
				if t != Unassigned {
					supply[inst.SlotIndex(t, d, sh)]++
				}
			}
		}
	}
	return supply
}

// Hours 某人的总工时
func (s *Schedule) Hours(inst *Instance, p int) int {
	h := 0
	for d := range s.Assign[p] {
		for _, t := range s.Assign[p][d] {
			if t != Unassigned {
				h += inst.Duration(t)
			}
		}
	}
	return h
}

// Clone 深拷贝
func (s *Schedule) Clone() *Schedule {
	c := &Schedule{Assign: make([][][]int, len(s.Assign))}
	for p := range s.Assign {
		c.Assign[p] = make([][]int, len(s.Assign[p]))
		for d := range s.Assign[p] {
			c.Assign[p][d] = append([]int(nil), s.Assign[p][d]...)
		}
	}
	return c
}

// Evaluation 排班的目标值分解
type Evaluation struct {
	Total       float64   `json:"total"`
	Unmet       int       `json:"unmet_demand"`
	Excess      int       `json:"excess_supply"`
	Coverage    float64   `json:"coverage_cost"`
	PersonCosts []float64 `json:"person_costs"`
}

// Evaluate 计算排班的完整目标值
func Evaluate(inst *Instance, s *Schedule) Evaluation {
	ev := Evaluation{PersonCosts: make([]float64, s.People())}
	supply := s.Supply(inst)
	for idx, got := range supply {
		sl := inst.SlotAt(idx)
		need := inst.Demand(sl.Task, sl.Day, sl.Shift)
		if got > need {
			ev.Excess += got - need
			ev.Coverage += inst.Weights.Overstaff * float64(got-need)
		} else if need > got {
			ev.Unmet += need - got
			ev.Coverage += inst.UnderstaffWeight(sl.Task) * float64(need-got)
		}
	}
	ev.Total = ev.Coverage
	for p := range s.Assign {
		ev.PersonCosts[p] = inst.PersonCost(p, s.PersonSlots(inst, p))
		ev.Total += ev.PersonCosts[p]
	}
	return ev
}
