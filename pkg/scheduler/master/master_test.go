package master

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"

	apperrors "github.com/paiban/bnpdive/pkg/errors"
	"github.com/paiban/bnpdive/pkg/model"
	"github.com/paiban/bnpdive/pkg/oracle"
	"github.com/paiban/bnpdive/pkg/scheduler/colpool"
)

func near(a, b float64) bool { return math.Abs(a-b) < 1e-6 }

func oneDay(people int, demand []int) *model.Instance {
	inst := model.NewFullyEligible(model.Header{People: people, Groups: 1, Tasks: 1, Days: 1})
	inst.Demands[0][0] = demand
	return inst
}

func TestNew_SupercolumnsOnly(t *testing.T) {
	inst := oneDay(2, []int{1, 1, 1})
	m, err := New(inst)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if m.NumRows() != 3+2 || m.NumCols() != 6+2 {
		t.Fatalf("rows=%d cols=%d, expected 5 and 8", m.NumRows(), m.NumCols())
	}

	sol, err := m.SolveLP()
	if err != nil {
		t.Fatalf("SolveLP() error: %v", err)
	}
	want := 2*10000.0 + 3*1000.0
	if !near(sol.Objective, want) {
		t.Errorf("Objective = %v, expected %v", sol.Objective, want)
	}
	for k, d := range sol.CoverageDuals {
		if !near(d, 1000) {
			t.Errorf("coverage dual %d = %v, expected 1000", k, d)
		}
	}
	for p, mu := range sol.ConvexityDuals {
		if !near(mu, 10000) {
			t.Errorf("convexity dual %d = %v, expected 10000", p, mu)
		}
	}
	unmet, excess := sol.SlackTotals()
	if !near(unmet, 3) || excess != 0 {
		t.Errorf("unmet=%v excess=%v", unmet, excess)
	}
}

func TestMaster_AddColumnAndBranch(t *testing.T) {
	inst := oneDay(2, []int{1, 1, 0})
	m, err := New(inst)
	if err != nil {
		t.Fatal(err)
	}
	night := inst.SlotIndex(0, 0, int(model.ShiftNight))
	morning := inst.SlotIndex(0, 0, int(model.ShiftMorning))

	a, _ := m.AddColumn(0, 3, []int{night})
	b, _ := m.AddColumn(1, 3, []int{morning})
	c, _ := m.AddColumn(1, 3, []int{night})

	first, err := m.SolveLP()
	if err != nil {
		t.Fatal(err)
	}
	if !near(first.Objective, 6) {
		t.Errorf("Objective = %v, expected 6", first.Objective)
	}
	for p, s := range first.ConvexitySums(inst.People) {
		if !near(s, 1) {
			t.Errorf("convexity sum of person %d = %v", p, s)
		}
	}
	if !near(first.Value(a), 1) || !near(first.Value(b), 1) {
		t.Errorf("a=%v b=%v, expected both 1", first.Value(a), first.Value(b))
	}

	second, _ := m.SolveLP()
	if !near(first.Objective, second.Objective) {
		t.Errorf("re-solve drifted: %v vs %v", first.Objective, second.Objective)
	}

	// 把人员 1 固定到夜班列：早班缺员 1000，夜班超员 10
	if err := m.AddBranchingRestriction(c); err != nil {
		t.Fatal(err)
	}
	fixed, err := m.SolveLP()
	if err != nil {
		t.Fatal(err)
	}
	if !near(fixed.Value(c), 1) {
		t.Errorf("fixed column value = %v", fixed.Value(c))
	}
	if fixed.Objective < first.Objective-1e-9 {
		t.Errorf("branching decreased the bound: %v < %v", fixed.Objective, first.Objective)
	}
	if err := m.DeleteColumn(c); !apperrors.Is(err, apperrors.CodeInternal) {
		t.Errorf("deleting a fixed column should fail, got %v", err)
	}

	if err := m.DeleteColumn(b); err != nil {
		t.Fatalf("DeleteColumn() error: %v", err)
	}
	if _, ok := m.Pool().Get(b); ok {
		t.Error("deleted column still in pool")
	}
	after, err := m.SolveLP()
	if err != nil {
		t.Fatal(err)
	}
	if !near(after.Objective, fixed.Objective) {
		t.Errorf("Objective = %v, expected %v", after.Objective, fixed.Objective)
	}
	for _, av := range after.Assign {
		if av.ID == b {
			t.Error("deleted column still in solution")
		}
	}
}

func TestMaster_ColumnEntries(t *testing.T) {
	inst := oneDay(2, []int{1, 1, 1})
	m, err := New(inst)
	if err != nil {
		t.Fatal(err)
	}
	slots := map[colpool.ColumnID][]int{}
	add := func(p int, s ...int) colpool.ColumnID {
		id, err := m.AddColumn(p, 3, s)
		if err != nil {
			t.Fatalf("AddColumn() error: %v", err)
		}
		slots[id] = s
		return id
	}
	a := add(0, 0)
	b := add(0, 1, 2)
	c := add(1, 2)
	if err := m.AddBranchingRestriction(c); err != nil {
		t.Fatal(err)
	}
	// 删除中间的列后，后面列的 oracle 下标前移，系数仍要对得上
	if err := m.DeleteColumn(b); err != nil {
		t.Fatal(err)
	}
	if _, ok := m.ColumnEntries(b); ok {
		t.Error("deleted column still readable")
	}

	branchRow := m.CoverageRows() + inst.People
	for _, id := range []colpool.ColumnID{a, c, m.Supercolumn(0), m.Supercolumn(1)} {
		var want []oracle.Entry
		for _, k := range slots[id] {
			want = append(want, oracle.Entry{Index: k, Value: 1})
		}
		want = append(want, oracle.Entry{Index: m.CoverageRows() + id.Person, Value: 1})
		if id == c {
			want = append(want, oracle.Entry{Index: branchRow, Value: 1})
		}

		got, ok := m.ColumnEntries(id)
		if !ok {
			t.Fatalf("column %v missing", id)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("entries of %v mismatch (-want +got):\n%s", id, diff)
		}
	}
}

func TestRoundObjective(t *testing.T) {
	tests := []struct {
		in   float64
		want int
	}{{2.4, 2}, {2.5, 3}, {1016.0000001, 1016}}
	for _, tt := range tests {
		if got := RoundObjective(tt.in); got != tt.want {
			t.Errorf("RoundObjective(%v) = %d, expected %d", tt.in, got, tt.want)
		}
	}
}
