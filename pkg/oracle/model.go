// Package oracle 提供纯 Go 的线性规划与混合整数规划求解器。
//
// 模型按列存储系数，支持增删行列、修改目标系数，
// 线性松弛用有界变量修正单纯形法求解，整数规划用最优优先分支定界。
// 只支持最小化。同一个 Model 不能并发使用。
//
// 基矩阵用稠密 LU 分解，换基以 eta 文件累积，每 50 次重新分解。
// m 行的模型每次分解需要 8·m² 字节内存与 O(m³) 计算：
// 1,000 行约 8 MB，5,000 行约 200 MB 且单次分解以秒计。
// 主问题行数为 任务数×天数×3 + 人数，实际可用规模大致在一两千行以内，
// 更大的算例只能在时间预算内给出部分结果。
package oracle

import (
	"cmp"
	"fmt"
	"math"
	"slices"
)

// Sense 约束方向
type Sense int

const (
	LessEqual Sense = iota
	Equal
	GreaterEqual
)

// VarType 变量类型
type VarType int

const (
	Continuous VarType = iota
	Binary
	Integer
)

// Inf 无上界
var Inf = math.Inf(1)

// Entry 稀疏系数，Index 为行或列下标
type Entry struct {
	Index int
	Value float64
}

// Column 列定义
type Column struct {
	Name  string
	Obj   float64
	Lower float64
	Upper float64
	Type  VarType
}

// Row 行定义，Coefs 的 Index 为列下标
type Row struct {
	Name  string
	Sense Sense
	RHS   float64
	Coefs []Entry
}

type column struct {
	Column
	coefs []Entry // Index 为行下标，按行升序
}

type row struct {
	name  string
	sense Sense
	rhs   float64
}

// Model 线性/混合整数模型
type Model struct {
	name string
	cols []column
	rows []row
}

// NewModel 创建空模型
func NewModel(name string) *Model {
	return &Model{name: name}
}

// Name 模型名
func (m *Model) Name() string { return m.name }

// NumRows 行数
func (m *Model) NumRows() int { return len(m.rows) }

// NumCols 列数
func (m *Model) NumCols() int { return len(m.cols) }

// AddCol 追加一列，coefs 的 Index 为行下标。返回新列下标
func (m *Model) AddCol(c Column, coefs []Entry) (int, error) {
	if math.IsInf(c.Lower, 0) || math.IsNaN(c.Lower) {
		return 0, fmt.Errorf("列 %q 的下界必须有限", c.Name)
	}
	if c.Type == Binary {
		c.Lower = math.Max(c.Lower, 0)
		c.Upper = math.Min(c.Upper, 1)
	}
	if c.Upper < c.Lower {
		return 0, fmt.Errorf("列 %q 的上界 %v 小于下界 %v", c.Name, c.Upper, c.Lower)
	}
	col := column{Column: c, coefs: make([]Entry, 0, len(coefs))}
	for _, e := range coefs {
		if e.Index < 0 || e.Index >= len(m.rows) {
			return 0, fmt.Errorf("列 %q 的行下标 %d 越界", c.Name, e.Index)
		}
		if e.Value != 0 {
			col.coefs = append(col.coefs, e)
		}
	}
	sortEntries(col.coefs)
	m.cols = append(m.cols, col)
	return len(m.cols) - 1, nil
}

// AddCols 批量追加列
func (m *Model) AddCols(cols []Column, coefs [][]Entry) error {
	if coefs != nil && len(coefs) != len(cols) {
		return fmt.Errorf("列数 %d 与系数组数 %d 不一致", len(cols), len(coefs))
	}
	for i, c := range cols {
		var ce []Entry
		if coefs != nil {
			ce = coefs[i]
		}
		if _, err := m.AddCol(c, ce); err != nil {
			return err
		}
	}
	return nil
}

// AddRow 追加一行，返回新行下标
func (m *Model) AddRow(r Row) (int, error) {
	for _, e := range r.Coefs {
		if e.Index < 0 || e.Index >= len(m.cols) {
			return 0, fmt.Errorf("行 %q 的列下标 %d 越界", r.Name, e.Index)
		}
	}
	idx := len(m.rows)
	m.rows = append(m.rows, row{name: r.Name, sense: r.Sense, rhs: r.RHS})
	for _, e := range r.Coefs {
		if e.Value == 0 {
			continue
		}
		col := &m.cols[e.Index]
		col.coefs = append(col.coefs, Entry{Index: idx, Value: e.Value})
	}
	return idx, nil
}

// AddRows 批量追加行
func (m *Model) AddRows(rows []Row) error {
	for _, r := range rows {
		if _, err := m.AddRow(r); err != nil {
			return err
		}
	}
	return nil
}

// DeleteRows 删除 [first, last] 区间的行，后续行下标前移
func (m *Model) DeleteRows(first, last int) error {
	if first < 0 || last >= len(m.rows) || first > last {
		return fmt.Errorf("行区间 [%d,%d] 非法", first, last)
	}
	width := last - first + 1
	m.rows = append(m.rows[:first], m.rows[last+1:]...)
	for j := range m.cols {
		kept := m.cols[j].coefs[:0]
		for _, e := range m.cols[j].coefs {
			switch {
			case e.Index < first:
				kept = append(kept, e)
			case e.Index > last:
				kept = append(kept, Entry{Index: e.Index - width, Value: e.Value})
			}
		}
		m.cols[j].coefs = kept
	}
	return nil
}

// DeleteCols 删除 [first, last] 区间的列，后续列下标前移
func (m *Model) DeleteCols(first, last int) error {
	if first < 0 || last >= len(m.cols) || first > last {
		return fmt.Errorf("列区间 [%d,%d] 非法", first, last)
	}
	m.cols = append(m.cols[:first], m.cols[last+1:]...)
	return nil
}

// SetObj 修改目标系数
func (m *Model) SetObj(j int, obj float64) {
	m.cols[j].Obj = obj
}

// SetObjs 批量修改目标系数，objs[k] 对应列 cols[k]
func (m *Model) SetObjs(cols []int, objs []float64) {
	for k, j := range cols {
		m.cols[j].Obj = objs[k]
	}
}

// SetBounds 修改变量上下界
func (m *Model) SetBounds(j int, lower, upper float64) {
	m.cols[j].Lower = lower
	m.cols[j].Upper = upper
}

// Col 返回列定义
func (m *Model) Col(j int) Column { return m.cols[j].Column }

// ColCoefs 返回列的稀疏系数（只读）
func (m *Model) ColCoefs(j int) []Entry { return m.cols[j].coefs }

// RowName 行名
func (m *Model) RowName(i int) string { return m.rows[i].name }

func (m *Model) isMIP() bool {
	for _, c := range m.cols {
		if c.Type != Continuous {
			return true
		}
	}
	return false
}

func sortEntries(es []Entry) {
	slices.SortFunc(es, func(a, b Entry) int { return cmp.Compare(a.Index, b.Index) })
}
