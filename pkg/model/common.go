// Package model 定义排班引擎的核心数据模型：算例、目标权重与最终排班
package model

import "fmt"

// Epsilon 整数性判断、约简成本准入与松弛量报告共用的容差
const Epsilon = 0.001

// NumShifts 每天的班次数
const NumShifts = 3

// ShiftType 班次类型
type ShiftType int

const (
	ShiftNight     ShiftType = iota // 夜班
	ShiftMorning                    // 早班
	ShiftAfternoon                  // 午班
)

// String 返回班次名称
func (s ShiftType) String() string {
	switch s {
	case ShiftNight:
		return "night"
	case ShiftMorning:
		return "morning"
	case ShiftAfternoon:
		return "afternoon"
	default:
		return fmt.Sprintf("shift(%d)", int(s))
	}
}

// Weekday 星期，周一为 0
type Weekday int

const (
	Monday Weekday = iota
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
	Sunday
)

// Weights 目标函数权重
type Weights struct {
	Overstaff       float64 `json:"overstaff" validate:"gte=0"`
	UnderstaffCODU  float64 `json:"understaff_codu" validate:"gte=0"`
	UnderstaffAmbu  float64 `json:"understaff_ambulance" validate:"gte=0"`
	HoursOver       float64 `json:"hours_over" validate:"gte=0"`
	HoursUnder      float64 `json:"hours_under" validate:"gte=0"`
	Weekend         float64 `json:"weekend" validate:"gte=0"`
	GroupCODU       float64 `json:"group_codu" validate:"gte=0"`
	GroupAmbulance  float64 `json:"group_ambulance" validate:"gte=0"`
	SupercolumnCost float64 `json:"supercolumn_cost" validate:"gt=0"`
}

// DefaultWeights 返回默认权重
func DefaultWeights() Weights {
	return Weights{
		Overstaff:       10,
		UnderstaffCODU:  100,
		UnderstaffAmbu:  1000,
		HoursOver:       1,
		HoursUnder:      1,
		Weekend:         10,
		GroupCODU:       10,
		GroupAmbulance:  20,
		SupercolumnCost: 10000,
	}
}

// Slot 一个 (任务, 天, 班次) 时段
type Slot struct {
	Task  int `json:"task"`
	Day   int `json:"day"`
	Shift int `json:"shift"`
}
