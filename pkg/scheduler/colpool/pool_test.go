package colpool

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestPool_AddAndRemove(t *testing.T) {
	pool := New(2, 10)
	var ids []ColumnID
	for _, person := range []int{0, 1, 0, 1} {
		id := pool.NextID(person)
		pool.Add(&Column{ID: id, Cost: float64(person)})
		ids = append(ids, id)
	}

	want := []ColumnID{{0, 0}, {1, 0}, {0, 1}, {1, 1}}
	if diff := cmp.Diff(want, ids); diff != "" {
		t.Fatalf("ids mismatch (-want +got):\n%s", diff)
	}
	for k, id := range ids {
		if idx, _ := pool.Index(id); idx != 10+k {
			t.Errorf("Index(%v) = %d, expected %d", id, idx, 10+k)
		}
	}

	idx, ok := pool.Remove(ColumnID{1, 0})
	if !ok || idx != 11 {
		t.Fatalf("Remove() = %d, %v", idx, ok)
	}
	if _, ok := pool.Get(ColumnID{1, 0}); ok {
		t.Error("removed column still present")
	}

	// 后续列下标前移，双向映射保持一致
	for idx := pool.Base(); idx < pool.Base()+pool.Len(); idx++ {
		id, ok := pool.ID(idx)
		if !ok {
			t.Fatalf("ID(%d) missing", idx)
		}
		if back, _ := pool.Index(id); back != idx {
			t.Errorf("Index(ID(%d)) = %d", idx, back)
		}
	}
	if id, _ := pool.ID(12); id != (ColumnID{1, 1}) {
		t.Errorf("ID(12) = %v, expected x_1_1", id)
	}
	if _, ok := pool.ID(13); ok {
		t.Error("ID beyond range should be missing")
	}
}

func TestPool_ByPerson(t *testing.T) {
	pool := New(3, 0)
	for _, person := range []int{2, 0, 2, 1, 2} {
		pool.Add(&Column{ID: pool.NextID(person)})
	}
	got := pool.ByPerson(2)
	if len(got) != 3 {
		t.Fatalf("ByPerson(2) returned %d columns", len(got))
	}
	for k, col := range got {
		if col.ID.Seq != k {
			t.Errorf("column %d has seq %d", k, col.ID.Seq)
		}
	}
	if (ColumnID{2, 1}).String() != "x_2_1" {
		t.Error("unexpected column name")
	}
}
