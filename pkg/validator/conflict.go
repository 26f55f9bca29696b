// Package validator 提供排班验证功能：按个人排班规则独立检查最终排班
package validator

import (
	"fmt"
	"sort"

	apperrors "github.com/paiban/bnpdive/pkg/errors"
	"github.com/paiban/bnpdive/pkg/model"
)

// ConflictType 冲突类型
type ConflictType string

const (
	ConflictOneShift    ConflictType = "one_shift"    // 同一天多个班
	ConflictRestTime    ConflictType = "rest_time"    // 休息时间不足
	ConflictSkill       ConflictType = "skill"        // 技能不匹配
	ConflictUnknownTask ConflictType = "unknown_task" // 任务编号越界
	ConflictConsecutive ConflictType = "consecutive"  // 连续天数过多
	ConflictDaysOff     ConflictType = "days_off"     // 连续休息过多
	ConflictSundays     ConflictType = "sundays"      // 周日过多
	ConflictShiftType   ConflictType = "shift_type"   // 某种班次过少
)

// Conflict 冲突信息
type Conflict struct {
	Type     ConflictType `json:"type"`
	Severity string       `json:"severity"` // error/warning
	Person   int          `json:"person"`
	Day      int          `json:"day"` // 个人整体规则为 -1
	Message  string       `json:"message"`
}

// DetectorConfig 检测器配置
type DetectorConfig struct {
	MaxConsecutiveDays int  // 任意连续窗口内最多上班天数，窗口为该值加一
	MaxDaysOff         int  // 最多连续休息天数
	CheckSkills        bool // 是否检查技能
	CheckShiftTypes    bool // 是否检查班次种类下限
}

// DefaultDetectorConfig 返回默认配置
func DefaultDetectorConfig() *DetectorConfig {
	return &DetectorConfig{
		MaxConsecutiveDays: 6,
		MaxDaysOff:         5,
		CheckSkills:        true,
		CheckShiftTypes:    true,
	}
}

// ConflictDetector 冲突检测器
type ConflictDetector struct {
	inst   *model.Instance
	config *DetectorConfig
}

// NewConflictDetector 创建冲突检测器
func NewConflictDetector(inst *model.Instance, config *DetectorConfig) *ConflictDetector {
	if config == nil {
		config = DefaultDetectorConfig()
	}
	return &ConflictDetector{inst: inst, config: config}
}

// DetectAll 检测所有冲突，按人员和日期排序。排班维度与算例不符时返回数据错误
func (d *ConflictDetector) DetectAll(s *model.Schedule) ([]Conflict, error) {
	if err := d.checkShape(s); err != nil {
		return nil, err
	}

	var conflicts []Conflict
	for p := 0; p < d.inst.People; p++ {
		conflicts = append(conflicts, d.DetectPerson(s, p)...)
	}
	sort.SliceStable(conflicts, func(i, j int) bool {
		if conflicts[i].Person != conflicts[j].Person {
			return conflicts[i].Person < conflicts[j].Person
		}
		return conflicts[i].Day < conflicts[j].Day
	})
	return conflicts, nil
}

// DetectPerson 检测一个人的冲突
func (d *ConflictDetector) DetectPerson(s *model.Schedule, p int) []Conflict {
	var conflicts []Conflict
	conflicts = append(conflicts, d.detectTaskViolations(s, p)...)
	conflicts = append(conflicts, d.detectRestTimeViolations(s, p)...)
	conflicts = append(conflicts, d.detectWindowViolations(s, p)...)
	conflicts = append(conflicts, d.detectSundayViolations(s, p)...)
	if d.config.CheckShiftTypes {
		conflicts = append(conflicts, d.detectShiftTypeViolations(s, p)...)
	}
	return conflicts
}

func (d *ConflictDetector) checkShape(s *model.Schedule) error {
	if s.People() != d.inst.People {
		return apperrors.DataError("排班人数 %d 与算例人数 %d 不符", s.People(), d.inst.People)
	}
	for p, days := range s.Assign {
		if len(days) != d.inst.Days {
			return apperrors.DataError("人员 %d 的排班天数 %d 与算例天数 %d 不符", p, len(days), d.inst.Days)
		}
		for day, shifts := range days {
			if len(shifts) != model.NumShifts {
				return apperrors.DataError("人员 %d 第 %d 天的班次数 %d 不是 %d", p, day, len(shifts), model.NumShifts)
			}
		}
	}
	return nil
}

func conflict(typ ConflictType, p, day int, format string, args ...interface{}) Conflict {
	return Conflict{Type: typ, Severity: "error", Person: p, Day: day, Message: fmt.Sprintf(format, args...)}
}

// works 某天是否上班
func works(s *model.Schedule, p, day int) bool {
	for sh := 0; sh < model.NumShifts; sh++ {
		if s.Task(p, day, sh) != model.Unassigned {
			return true
		}
	}
	return false
}

func (d *ConflictDetector) detectTaskViolations(s *model.Schedule, p int) []Conflict {
	var conflicts []Conflict
	for day := 0; day < d.inst.Days; day++ {
		count := 0
		for sh := 0; sh < model.NumShifts; sh++ {
			t := s.Task(p, day, sh)
			if t == model.Unassigned {
				continue
			}
			count++
			if t < 0 || t >= d.inst.Tasks {
				conflicts = append(conflicts, conflict(ConflictUnknownTask, p, day, "任务 %d 不存在", t))
				continue
			}
			if d.config.CheckSkills && !d.inst.IsEligible(p, t) {
				conflicts = append(conflicts, conflict(ConflictSkill, p, day,
					"不具备执行任务 %d 的资格（%s）", t, model.ShiftType(sh)))
			}
		}
		if count > 1 {
			conflicts = append(conflicts, conflict(ConflictOneShift, p, day, "同一天安排了 %d 个班", count))
		}
	}
	return conflicts
}

// detectRestTimeViolations 早班或午班后次日不能上夜班，午班后次日不能上早班
func (d *ConflictDetector) detectRestTimeViolations(s *model.Schedule, p int) []Conflict {
	night, morning, afternoon := int(model.ShiftNight), int(model.ShiftMorning), int(model.ShiftAfternoon)
	on := func(day, sh int) bool { return s.Task(p, day, sh) != model.Unassigned }

	var conflicts []Conflict
	for day := 0; day+1 < d.inst.Days; day++ {
		if on(day+1, night) && (on(day, morning) || on(day, afternoon)) {
			conflicts = append(conflicts, conflict(ConflictRestTime, p, day, "白班之后次日夜班"))
		}
		if on(day, afternoon) && on(day+1, morning) {
			conflicts = append(conflicts, conflict(ConflictRestTime, p, day, "午班之后次日早班"))
		}
	}
	return conflicts
}

func (d *ConflictDetector) detectWindowViolations(s *model.Schedule, p int) []Conflict {
	var conflicts []Conflict
	days := d.inst.Days
	worked := make([]int, days+1) // 前缀和
	for day := 0; day < days; day++ {
		worked[day+1] = worked[day]
		if works(s, p, day) {
			worked[day+1]++
		}
	}

	if w := d.config.MaxConsecutiveDays + 1; d.config.MaxConsecutiveDays > 0 {
		for r := 0; r+w <= days; r++ {
			if n := worked[r+w] - worked[r]; n > d.config.MaxConsecutiveDays {
				conflicts = append(conflicts, conflict(ConflictConsecutive, p, r,
					"第 %d 天起 %d 天内上班 %d 天", r, w, n))
			}
		}
	}
	if w := d.config.MaxDaysOff + 1; d.config.MaxDaysOff > 0 {
		for r := 0; r+w <= days; r++ {
			if worked[r+w] == worked[r] {
				conflicts = append(conflicts, conflict(ConflictDaysOff, p, r, "第 %d 天起连续 %d 天未上班", r, w))
			}
		}
	}
	return conflicts
}

func (d *ConflictDetector) detectSundayViolations(s *model.Schedule, p int) []Conflict {
	sundays := d.inst.Sundays()
	if len(sundays) == 0 {
		return nil
	}
	count := 0
	for _, day := range sundays {
		if works(s, p, day) {
			count++
		}
	}
	if limit := d.inst.MaxSundays(); count > limit {
		return []Conflict{conflict(ConflictSundays, p, -1, "上了 %d 个周日，上限 %d", count, limit)}
	}
	return nil
}

func (d *ConflictDetector) detectShiftTypeViolations(s *model.Schedule, p int) []Conflict {
	need := d.inst.MinShiftsPerType()
	if need == 0 {
		return nil
	}
	var conflicts []Conflict
	for sh := 0; sh < model.NumShifts; sh++ {
		count := 0
		for day := 0; day < d.inst.Days; day++ {
			t := s.Task(p, day, sh)
			if t >= 0 && t < d.inst.Tasks && d.inst.IsEligible(p, t) {
				count++
			}
		}
		if count < need {
			conflicts = append(conflicts, conflict(ConflictShiftType, p, -1,
				"%s 只有 %d 次，至少 %d 次", model.ShiftType(sh), count, need))
		}
	}
	return conflicts
}

// HasErrors 是否存在 error 级冲突
func HasErrors(conflicts []Conflict) bool {
	for _, c := range conflicts {
		if c.Severity == "error" {
			return true
		}
	}
	return false
}
