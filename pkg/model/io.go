package model

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"

	apperrors "github.com/paiban/bnpdive/pkg/errors"
)

// LoadInstance 从文件读取算例
func LoadInstance(path string) (*Instance, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeDataError, "无法打开算例文件").WithField("path", path)
	}
	defer f.Close()
	return ReadInstance(f)
}

type intReader struct {
	sc    *bufio.Scanner
	count int
}

func (r *intReader) next(what string) (int, error) {
	if !r.sc.Scan() {
		if err := r.sc.Err(); err != nil {
			return 0, apperrors.Wrap(err, apperrors.CodeDataError, "读取算例失败")
		}
		return 0, apperrors.DataError("算例数据不完整: 缺少 %s (已读 %d 个数)", what, r.count)
	}
	v, err := strconv.Atoi(r.sc.Text())
	if err != nil {
		return 0, apperrors.DataError("%s 不是整数: %q", what, r.sc.Text())
	}
	r.count++
	return v, nil
}

func (r *intReader) flag(what string) (bool, error) {
	v, err := r.next(what)
	if err != nil {
		return false, err
	}
	if v != 0 && v != 1 {
		return false, apperrors.DataError("%s 必须为 0 或 1, 实际 %d", what, v)
	}
	return v == 1, nil
}

// ReadInstance 解析空白分隔的整数格式：表头八个数，随后依次为
// people_group, people_task, group_task, demand[t][d][s], duration[t]
func ReadInstance(r io.Reader) (*Instance, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	sc.Split(bufio.ScanWords)
	in := &intReader{sc: sc}

	var h Header
	for _, f := range []struct {
		name string
		dst  *int
	}{
		{"nb_people", &h.People}, {"nb_groups", &h.Groups}, {"nb_groups_CODU", &h.GroupsCODU},
		{"nb_tasks", &h.Tasks}, {"nb_tasks_CODU", &h.TasksCODU}, {"nb_days", &h.Days},
		{"nb_holidays", &h.Holidays}, {"start_day", &h.StartDay},
	} {
		v, err := in.next(f.name)
		if err != nil {
			return nil, err
		}
		*f.dst = v
	}
	if err := validateHeader(h); err != nil {
		return nil, err
	}

	inst := NewInstance(h)
	var err error
	for p := 0; p < h.People; p++ {
		for g := 0; g < h.Groups; g++ {
			if inst.PeopleGroup[p][g], err = in.flag(fmt.Sprintf("people_group[%d][%d]", p, g)); err != nil {
				return nil, err
			}
		}
	}
	for p := 0; p < h.People; p++ {
		for t := 0; t < h.Tasks; t++ {
			if inst.PeopleTask[p][t], err = in.flag(fmt.Sprintf("people_task[%d][%d]", p, t)); err != nil {
				return nil, err
			}
		}
	}
	for g := 0; g < h.Groups; g++ {
		for t := 0; t < h.Tasks; t++ {
			if inst.GroupTask[g][t], err = in.flag(fmt.Sprintf("group_task[%d][%d]", g, t)); err != nil {
				return nil, err
			}
		}
	}
	for t := 0; t < h.Tasks; t++ {
		for d := 0; d < h.Days; d++ {
			for s := 0; s < NumShifts; s++ {
				if inst.Demands[t][d][s], err = in.next(fmt.Sprintf("demand[%d][%d][%d]", t, d, s)); err != nil {
					return nil, err
				}
			}
		}
	}
	for t := 0; t < h.Tasks; t++ {
		if inst.Durations[t], err = in.next(fmt.Sprintf("duration[%d]", t)); err != nil {
			return nil, err
		}
	}

	if err := inst.Validate(); err != nil {
		return nil, err
	}
	return inst, nil
}

// WriteInstance 以制表符分隔写出算例，格式与 ReadInstance 一致
func WriteInstance(w io.Writer, inst *Instance) error {
	bw := bufio.NewWriter(w)
	h := inst.Header
	fmt.Fprintf(bw, "%d\t%d\t%d\t%d\t%d\t%d\t%d\t%d\n",
		h.People, h.Groups, h.GroupsCODU, h.Tasks, h.TasksCODU, h.Days, h.Holidays, h.StartDay)
	writeFlags := func(rows [][]bool) {
		for _, row := range rows {
			for i, v := range row {
				if i > 0 {
					bw.WriteByte('\t')
				}
				if v {
					bw.WriteByte('1')
				} else {
					bw.WriteByte('0')
				}
			}
			bw.WriteByte('\n')
		}
	}
	writeFlags(inst.PeopleGroup)
	writeFlags(inst.PeopleTask)
	writeFlags(inst.GroupTask)
	for t := range inst.Demands {
		for d := range inst.Demands[t] {
			v := inst.Demands[t][d]
			fmt.Fprintf(bw, "%d\t%d\t%d\n", v[0], v[1], v[2])
		}
	}
	for t, dur := range inst.Durations {
		if t > 0 {
			bw.WriteByte('\t')
		}
		bw.WriteString(strconv.Itoa(dur))
	}
	bw.WriteByte('\n')
	return bw.Flush()
}
