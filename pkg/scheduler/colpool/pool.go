// Package colpool 维护列池：列标识与主问题求解器列下标之间的双向映射
package colpool

import "fmt"

// ColumnID 列标识：(人员, 序号)
type ColumnID struct {
	Person int `json:"person"`
	Seq    int `json:"seq"`
}

// String 返回列名
func (id ColumnID) String() string { return fmt.Sprintf("x_%d_%d", id.Person, id.Seq) }

// Column 一个人员的候选排班
type Column struct {
	ID   ColumnID `json:"id"`
	Cost float64  `json:"cost"`
	// Slots 覆盖的时段下标（升序）
	Slots []int `json:"slots"`
	// Super 是否为占位超列
	Super bool `json:"super"`
	// ReducedCost 加入主问题时的约简成本，预置列与超列为 0
	ReducedCost float64 `json:"reduced_cost,omitempty"`
}

// Pool 列池。oracle 下标从 base 开始连续编号
type Pool struct {
	base    int
	columns map[ColumnID]*Column
	index   map[ColumnID]int
	ids     []ColumnID // 第 k 个元素对应 oracle 下标 base+k
	nextSeq []int
}

// New 创建列池，base 为第一列在 oracle 中的下标
func New(people, base int) *Pool {
	return &Pool{
		base:    base,
		columns: make(map[ColumnID]*Column),
		index:   make(map[ColumnID]int),
		nextSeq: make([]int, people),
	}
}

// NextID 为人员分配新的列标识
func (p *Pool) NextID(person int) ColumnID {
	id := ColumnID{Person: person, Seq: p.nextSeq[person]}
	p.nextSeq[person]++
	return id
}

// Add 追加一列，返回其 oracle 下标
func (p *Pool) Add(col *Column) int {
	idx := p.base + len(p.ids)
	p.columns[col.ID] = col
	p.index[col.ID] = idx
	p.ids = append(p.ids, col.ID)
	return idx
}

// Get 按标识取列
func (p *Pool) Get(id ColumnID) (*Column, bool) {
	c, ok := p.columns[id]
	return c, ok
}

// Index 列标识对应的 oracle 下标
func (p *Pool) Index(id ColumnID) (int, bool) {
	idx, ok := p.index[id]
	return idx, ok
}

// ID oracle 下标对应的列标识
func (p *Pool) ID(idx int) (ColumnID, bool) {
	k := idx - p.base
	if k < 0 || k >= len(p.ids) {
		return ColumnID{}, false
	}
	return p.ids[k], true
}

// Remove 删除列，其后各列的 oracle 下标减一。返回被删列原来的下标
func (p *Pool) Remove(id ColumnID) (int, bool) {
	idx, ok := p.index[id]
	if !ok {
		return 0, false
	}
	k := idx - p.base
	p.ids = append(p.ids[:k], p.ids[k+1:]...)
	for i := k; i < len(p.ids); i++ {
		p.index[p.ids[i]] = p.base + i
	}
	delete(p.index, id)
	delete(p.columns, id)
	return idx, true
}

// Len 列数
func (p *Pool) Len() int { return len(p.ids) }

// Base 第一列的 oracle 下标
func (p *Pool) Base() int { return p.base }

// ByPerson 人员的所有列，按 oracle 下标升序
func (p *Pool) ByPerson(person int) []*Column {
	var out []*Column
	for _, id := range p.ids {
		if id.Person == person {
			out = append(out, p.columns[id])
		}
	}
	return out
}

// Each 按 oracle 下标顺序遍历
func (p *Pool) Each(fn func(idx int, col *Column)) {
	for k, id := range p.ids {
		fn(p.base+k, p.columns[id])
	}
}
