package diving

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	apperrors "github.com/paiban/bnpdive/pkg/errors"
	"github.com/paiban/bnpdive/pkg/model"
	"github.com/paiban/bnpdive/pkg/scheduler/colgen"
	"github.com/paiban/bnpdive/pkg/scheduler/colpool"
	"github.com/paiban/bnpdive/pkg/scheduler/master"
)

func av(person, seq int, v float64) master.AssignValue {
	return master.AssignValue{ID: colpool.ColumnID{Person: person, Seq: seq}, Value: v}
}

func ids(vals []master.AssignValue) []colpool.ColumnID {
	var out []colpool.ColumnID
	for _, a := range vals {
		out = append(out, a.ID)
	}
	return out
}

func TestSelectBranch(t *testing.T) {
	super := master.AssignValue{ID: colpool.ColumnID{Person: 3, Seq: 0}, Value: 0.8, Super: true}
	tests := []struct {
		name      string
		assign    []master.AssignValue
		policy    BranchingPolicy
		threshold float64
		expected  []colpool.ColumnID
	}{
		{
			name:      "只有一个变量超过阈值",
			assign:    []master.AssignValue{av(0, 1, 0.3), av(1, 1, 0.7), av(2, 1, 0.55), av(2, 2, 0.45)},
			policy:    Threshold,
			threshold: 0.6,
			expected:  []colpool.ColumnID{{Person: 1, Seq: 1}},
		},
		{
			name:      "没有变量超过阈值时退回最大分数变量",
			assign:    []master.AssignValue{av(0, 1, 0.3), av(1, 1, 0.7), av(0, 2, 0.7)},
			policy:    Threshold,
			threshold: 0.9,
			expected:  []colpool.ColumnID{{Person: 0, Seq: 2}},
		},
		{
			name:      "多个变量超过阈值",
			assign:    []master.AssignValue{av(0, 1, 0.65), av(1, 1, 0.7), av(2, 1, 1)},
			policy:    Threshold,
			threshold: 0.6,
			expected:  []colpool.ColumnID{{Person: 1, Seq: 1}, {Person: 0, Seq: 1}},
		},
		{
			name:      "最大分数变量同值取人员编号小者",
			assign:    []master.AssignValue{av(2, 1, 0.5), av(1, 3, 0.5), av(1, 2, 0.5)},
			policy:    LargestFractional,
			expected:  []colpool.ColumnID{{Person: 1, Seq: 2}},
		},
		{
			name:      "超列不参与分支",
			assign:    []master.AssignValue{super, av(3, 1, 0.2)},
			policy:    Threshold,
			threshold: 0.6,
			expected:  []colpool.ColumnID{{Person: 3, Seq: 1}},
		},
		{
			name:     "整数解没有候选",
			assign:   []master.AssignValue{av(0, 1, 1), av(1, 0, 0)},
			policy:   LargestFractional,
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sol := &master.Solution{Assign: tt.assign}
			got := ids(SelectBranch(sol, tt.policy, tt.threshold))
			if diff := cmp.Diff(tt.expected, got); diff != "" {
				t.Errorf("SelectBranch() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestIsIntegral(t *testing.T) {
	tests := []struct {
		name     string
		assign   []master.AssignValue
		expected bool
	}{
		{"容差内", []master.AssignValue{av(0, 0, 0.9995), av(0, 1, 0.0005)}, true},
		{"分数超列", []master.AssignValue{{Value: 0.5, Super: true}, av(0, 1, 0.5)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsIntegral(&master.Solution{Assign: tt.assign}); got != tt.expected {
				t.Errorf("IsIntegral() = %v, expected %v", got, tt.expected)
			}
		})
	}
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.TotalTime = time.Minute
	opts.RootTime = time.Minute
	return opts
}

func oneDay(people int, demand []int) *model.Instance {
	inst := model.NewFullyEligible(model.Header{People: people, Groups: 1, Tasks: 1, Days: 1})
	inst.Demands[0][0] = demand
	return inst
}

func TestController_Scenarios(t *testing.T) {
	tests := []struct {
		name      string
		inst      *model.Instance
		policy    colgen.Policy
		unmet     float64
		objective int
	}{
		{"三人覆盖三个班", oneDay(3, []int{1, 1, 1}), colgen.Sequential, 0, 9},
		{"三人覆盖三个班（全量定价）", oneDay(3, []int{1, 1, 1}), colgen.FullSweep, 0, 9},
		// 每人每天最多一个班，两人最多覆盖两个班
		{"两人三个班", oneDay(2, []int{1, 1, 1}), colgen.Sequential, 1, 1006},
		{"需求超过供给", oneDay(1, []int{2, 0, 0}), colgen.Sequential, 1, 1003},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := testOptions()
			opts.CGPolicy = tt.policy
			res, err := NewController(opts).Run(context.Background(), tt.inst)
			if err != nil {
				t.Fatalf("Run() error: %v", err)
			}
			if !res.Integral || res.Schedule == nil {
				t.Fatalf("expected an integral schedule, got %+v", res)
			}
			if res.Unmet != tt.unmet {
				t.Errorf("Unmet = %v, expected %v", res.Unmet, tt.unmet)
			}
			if res.Objective != tt.objective {
				t.Errorf("Objective = %d, expected %d", res.Objective, tt.objective)
			}
			ev := model.Evaluate(tt.inst, res.Schedule)
			if float64(ev.Unmet) != tt.unmet {
				t.Errorf("schedule leaves %d unmet, master reports %v", ev.Unmet, res.Unmet)
			}
			if res.Stats.Iterations > 50 {
				t.Errorf("too many iterations: %d", res.Stats.Iterations)
			}
		})
	}
}

func TestController_MonotoneBounds(t *testing.T) {
	inst := model.NewFullyEligible(model.Header{People: 3, Groups: 1, Tasks: 1, Days: 7})
	for d := 0; d < 5; d++ {
		inst.Demands[0][d] = []int{1, 1, 0}
	}
	for _, branching := range []BranchingPolicy{LargestFractional, Threshold} {
		t.Run(branching.String(), func(t *testing.T) {
			opts := testOptions()
			opts.Branching = branching
			rc, err := NewRunContext(inst, opts)
			if err != nil {
				t.Fatal(err)
			}
			res, err := Dive(context.Background(), rc)
			if err != nil {
				t.Fatalf("Dive() error: %v", err)
			}
			if !res.Integral {
				t.Fatal("expected an integral solution within the time budget")
			}
			for k := 1; k < len(res.LevelBounds); k++ {
				if res.LevelBounds[k] < res.LevelBounds[k-1]-1e-6 {
					t.Errorf("bound decreased at level %d: %v -> %v", k, res.LevelBounds[k-1], res.LevelBounds[k])
				}
			}
			if res.LevelBounds[0] != res.RootBound {
				t.Errorf("RootBound = %v, first level bound %v", res.RootBound, res.LevelBounds[0])
			}
			if float64(res.Objective) < res.RootBound-0.5 {
				t.Errorf("objective %d below root bound %v", res.Objective, res.RootBound)
			}
			for _, dec := range res.Decisions {
				cols := rc.Master.Pool().ByPerson(dec.Person)
				if len(cols) != 1 || cols[0].ID != dec.Column {
					t.Errorf("person %d keeps %d columns after pruning", dec.Person, len(cols))
				}
			}
		})
	}
}

func TestPruneColumns(t *testing.T) {
	inst := oneDay(2, []int{1, 1, 0})
	opts := testOptions()
	rc, err := NewRunContext(inst, opts)
	if err != nil {
		t.Fatal(err)
	}
	a, _ := rc.Master.AddColumn(0, 3, []int{0})
	rc.Master.AddColumn(0, 3, []int{1})
	rc.Master.AddColumn(1, 3, []int{1})

	selected := []master.AssignValue{{ID: a, Value: 0.7}}
	if err := ApplyBranch(rc, 1, selected); err != nil {
		t.Fatal(err)
	}
	if err := PruneColumns(rc, selected); err != nil {
		t.Fatal(err)
	}

	cols := rc.Master.Pool().ByPerson(0)
	if len(cols) != 1 || cols[0].ID != a {
		t.Errorf("person 0 columns = %d, expected only the fixed one", len(cols))
	}
	if len(rc.Master.Pool().ByPerson(1)) != 2 {
		t.Error("unfixed person must keep its columns")
	}
	if !rc.Fixed.Contains(0) || rc.Fixed.Contains(1) {
		t.Error("fixed set mismatch")
	}
	if rc.NodeBudget <= 0 || rc.NodeBudget > opts.TotalTime {
		t.Errorf("NodeBudget = %v", rc.NodeBudget)
	}
	sol, err := rc.Master.SolveLP()
	if err != nil {
		t.Fatal(err)
	}
	if sol.Value(a) < 1-model.Epsilon {
		t.Errorf("fixed column value = %v", sol.Value(a))
	}
}

func TestController_InvalidInstance(t *testing.T) {
	inst := oneDay(2, []int{1, 1, 1})
	inst.PeopleTask[1][0] = false
	_, err := NewController(testOptions()).Run(context.Background(), inst)
	if !apperrors.Is(err, apperrors.CodeDataError) {
		t.Errorf("expected DATA_ERROR, got %v", err)
	}
}

func TestController_ZeroBudget(t *testing.T) {
	opts := testOptions()
	opts.TotalTime = 0
	res, err := NewController(opts).Run(context.Background(), oneDay(2, []int{1, 0, 0}))
	if err != nil {
		t.Fatal(err)
	}
	if res.Stats.Iterations != 1 || res.Levels != 0 {
		t.Errorf("iterations=%d levels=%d, expected a single master solve", res.Stats.Iterations, res.Levels)
	}
}

func TestParseBranching(t *testing.T) {
	if b, err := ParseBranching("largest"); err != nil || b != LargestFractional {
		t.Errorf("ParseBranching(largest) = %v, %v", b, err)
	}
	if _, err := ParseBranching("random"); err == nil {
		t.Error("expected error for unknown policy")
	}
}
