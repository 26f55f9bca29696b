package model

import (
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	apperrors "github.com/paiban/bnpdive/pkg/errors"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

func validateStruct(v interface{}) error {
	err := structValidator().Struct(v)
	if err == nil {
		return nil
	}
	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return apperrors.Wrap(err, apperrors.CodeDataError, "算例校验失败")
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fmt.Sprintf("%s 不满足 %s=%s (值 %v)", fe.Field(), fe.Tag(), fe.Param(), fe.Value()))
	}
	return apperrors.DataError("算例参数非法: %s", strings.Join(msgs, "; "))
}

func validateHeader(h Header) error {
	return validateStruct(h)
}

// Validate 校验算例：维度一致、需求非负、时长为正、每人至少可执行一个任务
func (inst *Instance) Validate() error {
	if err := validateHeader(inst.Header); err != nil {
		return err
	}
	if err := validateStruct(inst.Weights); err != nil {
		return err
	}

	var ve apperrors.ValidationErrors
	checkMatrix := func(name string, m [][]bool, rows, cols int) {
		if len(m) != rows {
			ve.Add(name, fmt.Sprintf("行数 %d, 期望 %d", len(m), rows))
			return
		}
		for i, row := range m {
			if len(row) != cols {
				ve.Add(fmt.Sprintf("%s[%d]", name, i), fmt.Sprintf("列数 %d, 期望 %d", len(row), cols))
			}
		}
	}
	checkMatrix("people_group", inst.PeopleGroup, inst.People, inst.Groups)
	checkMatrix("people_task", inst.PeopleTask, inst.People, inst.Tasks)
	checkMatrix("group_task", inst.GroupTask, inst.Groups, inst.Tasks)

	if len(inst.Demands) != inst.Tasks {
		ve.Add("demands", fmt.Sprintf("任务数 %d, 期望 %d", len(inst.Demands), inst.Tasks))
	} else {
		for t := range inst.Demands {
			if len(inst.Demands[t]) != inst.Days {
				ve.Add(fmt.Sprintf("demands[%d]", t), fmt.Sprintf("天数 %d, 期望 %d", len(inst.Demands[t]), inst.Days))
				continue
			}
			for d := range inst.Demands[t] {
				if len(inst.Demands[t][d]) != NumShifts {
					ve.Add(fmt.Sprintf("demands[%d][%d]", t, d), "班次数必须为 3")
					continue
				}
				for s, v := range inst.Demands[t][d] {
					if v < 0 {
						ve.Add(fmt.Sprintf("demands[%d][%d][%d]", t, d, s), "需求不能为负")
					}
				}
			}
		}
	}

	if len(inst.Durations) != inst.Tasks {
		ve.Add("durations", fmt.Sprintf("长度 %d, 期望 %d", len(inst.Durations), inst.Tasks))
	} else {
		for t, v := range inst.Durations {
			if v <= 0 {
				ve.Add(fmt.Sprintf("durations[%d]", t), "时长必须为正")
			}
		}
	}

	if !ve.HasErrors() {
		for p := 0; p < inst.People; p++ {
			if len(inst.TasksOf(p)) == 0 {
				ve.Add(fmt.Sprintf("people_task[%d]", p), "人员没有可执行的任务")
			}
		}
	}

	if ve.HasErrors() {
		return ve.ToDataError("算例数据非法")
	}
	return nil
}
