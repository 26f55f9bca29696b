package model

import (
	"encoding/json"
	"math"
)

// Header 算例的标量参数
type Header struct {
	People     int `json:"nb_people" validate:"gte=1"`
	Groups     int `json:"nb_groups" validate:"gte=1"`
	GroupsCODU int `json:"nb_groups_codu" validate:"gte=0,ltefield=Groups"`
	Tasks      int `json:"nb_tasks" validate:"gte=1"`
	TasksCODU  int `json:"nb_tasks_codu" validate:"gte=0,ltefield=Tasks"`
	Days       int `json:"nb_days" validate:"gte=1"`
	Holidays   int `json:"nb_holidays" validate:"gte=0"`
	StartDay   int `json:"start_day" validate:"gte=0,lte=6"`
}

// Instance 排班算例，求解期间只读
type Instance struct {
	Header
	PeopleGroup [][]bool  `json:"people_group"` // [p][g]
	PeopleTask  [][]bool  `json:"people_task"`  // [p][t]
	GroupTask   [][]bool  `json:"group_task"`   // [g][t]
	Demands     [][][]int `json:"demands"`      // [t][d][s]
	Durations   []int     `json:"durations"`    // [t]
	Weights     Weights   `json:"weights"`
}

// UnmarshalJSON 以默认权重为底解码，weights 中未出现的字段保持默认值
func (inst *Instance) UnmarshalJSON(data []byte) error {
	type plain Instance
	aux := plain{Weights: DefaultWeights()}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*inst = Instance(aux)
	return nil
}

// NewInstance 按表头分配一个空算例（全部不可用、需求为 0、时长为 8）
func NewInstance(h Header) *Instance {
	inst := &Instance{Header: h, Weights: DefaultWeights()}
	inst.PeopleGroup = boolMatrix(h.People, h.Groups)
	inst.PeopleTask = boolMatrix(h.People, h.Tasks)
	inst.GroupTask = boolMatrix(h.Groups, h.Tasks)
	inst.Demands = make([][][]int, h.Tasks)
	for t := range inst.Demands {
		inst.Demands[t] = make([][]int, h.Days)
		for d := range inst.Demands[t] {
			inst.Demands[t][d] = make([]int, NumShifts)
		}
	}
	inst.Durations = make([]int, h.Tasks)
	for t := range inst.Durations {
		inst.Durations[t] = 8
	}
	return inst
}

func boolMatrix(rows, cols int) [][]bool {
	m := make([][]bool, rows)
	for i := range m {
		m[i] = make([]bool, cols)
	}
	return m
}

// IsEligible 人员是否可以执行任务
func (inst *Instance) IsEligible(p, t int) bool { return inst.PeopleTask[p][t] }

// InGroup 人员是否属于该组
func (inst *Instance) InGroup(p, g int) bool { return inst.PeopleGroup[p][g] }

// GroupAllows 组是否覆盖该任务
func (inst *Instance) GroupAllows(g, t int) bool { return inst.GroupTask[g][t] }

// Demand 时段需求
func (inst *Instance) Demand(t, d, s int) int { return inst.Demands[t][d][s] }

// Duration 任务时长（小时）
func (inst *Instance) Duration(t int) int { return inst.Durations[t] }

// IsCODUTask 前 TasksCODU 个任务为调度中心任务，其余为救护车任务
func (inst *Instance) IsCODUTask(t int) bool { return t < inst.TasksCODU }

// IsCODUGroup 前 GroupsCODU 个组为调度中心组
func (inst *Instance) IsCODUGroup(g int) bool { return g < inst.GroupsCODU }

// Slots 时段总数
func (inst *Instance) Slots() int { return inst.Tasks * inst.Days * NumShifts }

// SlotIndex 时段的线性下标
func (inst *Instance) SlotIndex(t, d, s int) int { return (t*inst.Days+d)*NumShifts + s }

// SlotAt 线性下标还原为时段
func (inst *Instance) SlotAt(idx int) Slot {
	s := idx % NumShifts
	rest := idx / NumShifts
	return Slot{Task: rest / inst.Days, Day: rest % inst.Days, Shift: s}
}

// Weekday 第 d 天是星期几
func (inst *Instance) Weekday(d int) Weekday { return Weekday((inst.StartDay + d) % 7) }

// Sundays 计划期内所有周日的下标
func (inst *Instance) Sundays() []int {
	var out []int
	for d := 6 - inst.StartDay; d < inst.Days; d += 7 {
		out = append(out, d)
	}
	return out
}

// Weekends 计划期内的周末数
func (inst *Instance) Weekends() int { return len(inst.Sundays()) }

// MaxSundays 最多可上班的周日数
func (inst *Instance) MaxSundays() int { return 3 * inst.Weekends() / 4 }

// HoursTarget 个人目标工时：28 天 140 小时按计划期缩放，每个假日减 7 小时
func (inst *Instance) HoursTarget() int {
	return int(140.0/28.0*float64(inst.Days)+0.5) - 7*inst.Holidays
}

// MinShiftsPerType 每种班次的最少次数。通常为 2；计划期可上班的天数
// （扣除超出周日上限的周日）不足 6 天时按每种班次一天折算，
// 按 夜、早、午 的顺序排班不违反休息规则，因此这个下限总是可行的
func (inst *Instance) MinShiftsPerType() int {
	available := inst.Days
	if blocked := inst.Weekends() - inst.MaxSundays(); blocked > 0 {
		available -= blocked
	}
	return min(2, available/NumShifts)
}

// TasksOf 人员可执行的任务
func (inst *Instance) TasksOf(p int) []int {
	var out []int
	for t := 0; t < inst.Tasks; t++ {
		if inst.PeopleTask[p][t] {
			out = append(out, t)
		}
	}
	return out
}

// UnderstaffWeight 任务的缺员权重
func (inst *Instance) UnderstaffWeight(t int) float64 {
	if inst.IsCODUTask(t) {
		return inst.Weights.UnderstaffCODU
	}
	return inst.Weights.UnderstaffAmbu
}

// GroupWeight 组的跨组权重
func (inst *Instance) GroupWeight(g int) float64 {
	if inst.IsCODUGroup(g) {
		return inst.Weights.GroupCODU
	}
	return inst.Weights.GroupAmbulance
}

// TotalDemand 需求总量
func (inst *Instance) TotalDemand() int {
	total := 0
	for t := range inst.Demands {
		for d := range inst.Demands[t] {
			for _, v := range inst.Demands[t][d] {
				total += v
			}
		}
	}
	return total
}

// PersonCost 个人排班的惩罚成本：周末不对称、工时偏差与跨组
// slots 为该人员上班的时段下标
func (inst *Instance) PersonCost(p int, slots []int) float64 {
	dayLoad := make([]int, inst.Days)
	hours := 0
	tasks := make([]int, 0, len(slots))
	for _, idx := range slots {
		sl := inst.SlotAt(idx)
		dayLoad[sl.Day]++
		hours += inst.Duration(sl.Task)
		tasks = append(tasks, sl.Task)
	}

	cost := 0.0
	for _, sun := range inst.Sundays() {
		if sun == 0 {
			continue
		}
		diff := dayLoad[sun] - dayLoad[sun-1]
		cost += inst.Weights.Weekend * math.Abs(float64(diff))
	}

	target := inst.HoursTarget()
	if hours > target {
		cost += inst.Weights.HoursOver * float64(hours-target)
	} else {
		cost += inst.Weights.HoursUnder * float64(target-hours)
	}

	for g := 0; g < inst.Groups; g++ {
		if !inst.InGroup(p, g) {
			continue
		}
		outside := 0
		for _, t := range tasks {
			if !inst.GroupAllows(g, t) {
				outside++
			}
		}
		cost += inst.GroupWeight(g) * float64(outside)
	}
	return cost
}

// NewFullyEligible 创建所有人员属于全部组、可执行全部任务、各组覆盖全部任务的算例
func NewFullyEligible(h Header) *Instance {
	inst := NewInstance(h)
	for p := 0; p < h.People; p++ {
		for g := 0; g < h.Groups; g++ {
			inst.PeopleGroup[p][g] = true
		}
		for t := 0; t < h.Tasks; t++ {
			inst.PeopleTask[p][t] = true
		}
	}
	for g := 0; g < h.Groups; g++ {
		for t := 0; t < h.Tasks; t++ {
			inst.GroupTask[g][t] = true
		}
	}
	return inst
}
