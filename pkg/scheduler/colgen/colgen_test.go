package colgen

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/paiban/bnpdive/pkg/model"
	"github.com/paiban/bnpdive/pkg/scheduler/colpool"
	"github.com/paiban/bnpdive/pkg/scheduler/master"
	"github.com/paiban/bnpdive/pkg/scheduler/pricing"
)

func setup(t *testing.T, inst *model.Instance, policy Policy) (*Loop, *master.Master, *Stats) {
	t.Helper()
	m, err := master.New(inst)
	if err != nil {
		t.Fatalf("master.New() error: %v", err)
	}
	b := pricing.NewBuilder(inst)
	subs := make([]*pricing.Subproblem, inst.People)
	for p := range subs {
		if subs[p], err = b.Build(p, nil); err != nil {
			t.Fatalf("Build(%d) error: %v", p, err)
		}
	}
	stats := &Stats{}
	return New(m, subs, mapset.NewSet[int](), stats, Options{Policy: policy}), m, stats
}

func oneDay(people int, demand []int) *model.Instance {
	inst := model.NewFullyEligible(model.Header{People: people, Groups: 1, Tasks: 1, Days: 1})
	inst.Demands[0][0] = demand
	return inst
}

func TestLoop_ConvergesThreePeople(t *testing.T) {
	for _, policy := range []Policy{FullSweep, Sequential} {
		t.Run(policy.String(), func(t *testing.T) {
			inst := oneDay(3, []int{1, 1, 1})
			loop, m, stats := setup(t, inst, policy)

			out, err := loop.Run(context.Background(), time.Minute, true)
			if err != nil {
				t.Fatalf("Run() error: %v", err)
			}
			if out.Final != StateConverged || loop.State() != StateConverged {
				t.Fatalf("Final = %v, expected converged", out.Final)
			}
			// 每人一个班，每人多 3 小时
			if math.Abs(out.Solution.Objective-9) > 1e-6 {
				t.Errorf("Objective = %v, expected 9", out.Solution.Objective)
			}
			if unmet, _ := out.Solution.SlackTotals(); unmet != 0 {
				t.Errorf("unmet = %v, expected 0", unmet)
			}
			for p, s := range out.Solution.ConvexitySums(inst.People) {
				if math.Abs(s-1) > model.Epsilon {
					t.Errorf("convexity sum of person %d = %v", p, s)
				}
			}
			if out.Columns == 0 || out.Iterations > 20 {
				t.Errorf("columns=%d iterations=%d", out.Columns, out.Iterations)
			}
			if stats.RootIterations != out.Iterations || stats.RootColumns != out.Columns {
				t.Errorf("root stats %+v do not match outcome %+v", stats, out)
			}
			if stats.RootBound != out.Solution.Objective {
				t.Errorf("RootBound = %v", stats.RootBound)
			}

			checkAdmittedColumns(t, m)
		})
	}
}

// checkAdmittedColumns 检查每个生成列：加入时约简成本低于 -ε，同一人员没有两列覆盖相同的时段集合，
// 且主问题中的列系数与定价得到的时段一致，另有一个凸性系数
func checkAdmittedColumns(t *testing.T, m *master.Master) {
	t.Helper()
	seen := make(map[int]map[string]colpool.ColumnID)
	m.Pool().Each(func(idx int, col *colpool.Column) {
		entries, ok := m.ColumnEntries(col.ID)
		if !ok {
			t.Fatalf("column %v missing from master", col.ID)
		}
		var coverage []int
		convexity := 0
		for _, e := range entries {
			switch {
			case e.Index < m.CoverageRows():
				if e.Value != 1 {
					t.Errorf("column %v coverage coefficient %v", col.ID, e.Value)
				}
				coverage = append(coverage, e.Index)
			case e.Index == m.CoverageRows()+col.ID.Person && e.Value == 1:
				convexity++
			}
		}
		if diff := cmp.Diff(col.Slots, coverage, cmpopts.EquateEmpty()); diff != "" {
			t.Errorf("column %v coverage rows differ from slots (-slots +rows):\n%s", col.ID, diff)
		}
		if convexity != 1 {
			t.Errorf("column %v has %d convexity entries", col.ID, convexity)
		}
		if col.Super {
			if len(col.Slots) != 0 {
				t.Errorf("supercolumn %v covers slots", col.ID)
			}
			return
		}

		if col.ReducedCost >= -model.Epsilon {
			t.Errorf("column %v admitted with reduced cost %v", col.ID, col.ReducedCost)
		}
		key := fmt.Sprint(col.Slots)
		if seen[col.ID.Person] == nil {
			seen[col.ID.Person] = make(map[string]colpool.ColumnID)
		}
		if prev, dup := seen[col.ID.Person][key]; dup {
			t.Errorf("columns %v and %v of person %d cover the same slots %s", prev, col.ID, col.ID.Person, key)
		}
		seen[col.ID.Person][key] = col.ID
	})
}

func TestLoop_SequentialSinglePerson(t *testing.T) {
	inst := oneDay(1, []int{1, 0, 0})
	loop, m, _ := setup(t, inst, Sequential)

	out, err := loop.Run(context.Background(), time.Minute, true)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if out.Final != StateConverged {
		t.Fatalf("Final = %v", out.Final)
	}
	if math.Abs(out.Solution.Objective-3) > 1e-6 {
		t.Errorf("Objective = %v, expected 3", out.Solution.Objective)
	}
	// 单人时也要在一整轮没有改进后才收敛
	if m.Pool().Len() < 2 || out.Iterations < 2 || out.Iterations > 6 {
		t.Errorf("pool=%d iterations=%d", m.Pool().Len(), out.Iterations)
	}
	checkAdmittedColumns(t, m)
}

func TestLoop_TimeBudget(t *testing.T) {
	inst := oneDay(2, []int{1, 1, 1})
	loop, _, stats := setup(t, inst, FullSweep)

	out, err := loop.Run(context.Background(), 0, false)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if out.Final != StateTimeExpired || out.Iterations != 1 || out.Columns != 0 {
		t.Errorf("got %+v, expected one master solve and no columns", out)
	}
	if out.Solution == nil {
		t.Fatal("expired run must still return the master solution")
	}
	if stats.RootIterations != 0 {
		t.Error("non-root call must not touch root stats")
	}
}

func TestLoop_SkipsFixedPeople(t *testing.T) {
	inst := oneDay(2, []int{1, 1, 0})
	loop, m, stats := setup(t, inst, FullSweep)
	loop.fixed.Add(1)

	if _, err := loop.Run(context.Background(), time.Minute, false); err != nil {
		t.Fatal(err)
	}
	if len(m.Pool().ByPerson(1)) != 1 {
		t.Error("fixed person must not receive new columns")
	}
	if stats.PricingCalls == 0 {
		t.Error("unfixed person should have been priced")
	}
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		in   string
		want Policy
		ok   bool
	}{
		{"full_sweep", FullSweep, true},
		{"sequential", Sequential, true},
		{"", Sequential, true},
		{"bogus", Sequential, false},
	}
	for _, tt := range tests {
		got, err := ParsePolicy(tt.in)
		if (err == nil) != tt.ok || got != tt.want {
			t.Errorf("ParsePolicy(%q) = %v, %v", tt.in, got, err)
		}
	}
}
