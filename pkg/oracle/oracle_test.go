package oracle

import (
	"math"
	"testing"
)

func near(a, b float64) bool { return math.Abs(a-b) < 1e-6 }

func mustCol(t *testing.T, m *Model, c Column) int {
	t.Helper()
	j, err := m.AddCol(c, nil)
	if err != nil {
		t.Fatalf("AddCol() error: %v", err)
	}
	return j
}

func mustRow(t *testing.T, m *Model, sense Sense, rhs float64, coefs ...Entry) int {
	t.Helper()
	i, err := m.AddRow(Row{Sense: sense, RHS: rhs, Coefs: coefs})
	if err != nil {
		t.Fatalf("AddRow() error: %v", err)
	}
	return i
}

func TestSolveLP(t *testing.T) {
	tests := []struct {
		name   string
		build  func(t *testing.T, m *Model)
		status Status
		obj    float64
	}{
		{
			name: "两个不等式",
			build: func(t *testing.T, m *Model) {
				x := mustCol(t, m, Column{Obj: -1, Upper: Inf})
				y := mustCol(t, m, Column{Obj: -1, Upper: Inf})
				mustRow(t, m, LessEqual, 4, Entry{x, 1}, Entry{y, 2})
				mustRow(t, m, LessEqual, 6, Entry{x, 3}, Entry{y, 1})
			},
			status: StatusOptimal,
			obj:    -2.8,
		},
		{
			name: "等式与大于等于",
			build: func(t *testing.T, m *Model) {
				x := mustCol(t, m, Column{Obj: 1, Upper: Inf})
				y := mustCol(t, m, Column{Obj: 1, Upper: Inf})
				mustRow(t, m, Equal, 2, Entry{x, 1}, Entry{y, 1})
				mustRow(t, m, GreaterEqual, 1, Entry{x, 1}, Entry{y, -1})
			},
			status: StatusOptimal,
			obj:    2,
		},
		{
			name: "冗余等式",
			build: func(t *testing.T, m *Model) {
				x := mustCol(t, m, Column{Obj: 1, Upper: Inf})
				y := mustCol(t, m, Column{Obj: 2, Upper: Inf})
				mustRow(t, m, Equal, 1, Entry{x, 1}, Entry{y, 1})
				mustRow(t, m, Equal, 2, Entry{x, 2}, Entry{y, 2})
			},
			status: StatusOptimal,
			obj:    1,
		},
		{
			name: "变量上界",
			build: func(t *testing.T, m *Model) {
				x := mustCol(t, m, Column{Obj: -1, Upper: 1})
				y := mustCol(t, m, Column{Obj: -1, Upper: 1})
				mustRow(t, m, LessEqual, 1.5, Entry{x, 1}, Entry{y, 1})
			},
			status: StatusOptimal,
			obj:    -1.5,
		},
		{
			name: "不可行",
			build: func(t *testing.T, m *Model) {
				x := mustCol(t, m, Column{Obj: 1, Upper: Inf})
				y := mustCol(t, m, Column{Obj: 1, Upper: Inf})
				mustRow(t, m, LessEqual, 1, Entry{x, 1}, Entry{y, 1})
				mustRow(t, m, GreaterEqual, 3, Entry{x, 1}, Entry{y, 1})
			},
			status: StatusInfeasible,
		},
		{
			name: "无界",
			build: func(t *testing.T, m *Model) {
				x := mustCol(t, m, Column{Obj: -1, Upper: Inf})
				y := mustCol(t, m, Column{Obj: 0, Upper: Inf})
				mustRow(t, m, LessEqual, 1, Entry{x, 1}, Entry{y, -1})
			},
			status: StatusUnbounded,
		},
		{
			name: "无约束行",
			build: func(t *testing.T, m *Model) {
				mustCol(t, m, Column{Obj: -2, Lower: 1, Upper: 3})
				mustCol(t, m, Column{Obj: 1, Lower: 1, Upper: 3})
			},
			status: StatusOptimal,
			obj:    -5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewModel(tt.name)
			tt.build(t, m)
			sol := m.SolveLP(Params{})
			if sol.Status != tt.status {
				t.Fatalf("Status = %s, expected %s", sol.Status, tt.status)
			}
			if tt.status == StatusOptimal && !near(sol.Objective, tt.obj) {
				t.Errorf("Objective = %v, expected %v", sol.Objective, tt.obj)
			}
		})
	}
}

func TestSolveLP_Duals(t *testing.T) {
	m := NewModel("duals")
	x := mustCol(t, m, Column{Obj: -1, Upper: Inf})
	y := mustCol(t, m, Column{Obj: -1, Upper: Inf})
	mustRow(t, m, LessEqual, 4, Entry{x, 1}, Entry{y, 2})
	mustRow(t, m, LessEqual, 6, Entry{x, 3}, Entry{y, 1})

	sol := m.SolveLP(Params{})
	if sol.Status != StatusOptimal {
		t.Fatalf("Status = %s", sol.Status)
	}
	if !near(sol.X[0], 1.6) || !near(sol.X[1], 1.2) {
		t.Errorf("X = %v, expected [1.6 1.2]", sol.X)
	}
	if len(sol.Duals) != 2 || !near(sol.Duals[0], -0.4) || !near(sol.Duals[1], -0.2) {
		t.Errorf("Duals = %v, expected [-0.4 -0.2]", sol.Duals)
	}
}

func TestSolveLP_Idempotent(t *testing.T) {
	m := NewModel("repeat")
	for j := 0; j < 4; j++ {
		mustCol(t, m, Column{Obj: float64(j + 1), Upper: 1})
	}
	mustRow(t, m, GreaterEqual, 2.5, Entry{0, 1}, Entry{1, 1}, Entry{2, 1}, Entry{3, 1})
	first := m.SolveLP(Params{})
	second := m.SolveLP(Params{})
	if first.Status != StatusOptimal || second.Status != StatusOptimal {
		t.Fatalf("Status = %s and %s, expected Optimal", first.Status, second.Status)
	}
	if !near(first.Objective, second.Objective) || !near(first.Objective, 4.5) {
		t.Errorf("objectives %v and %v, expected 4.5", first.Objective, second.Objective)
	}
	first.X[0] = 42
	if second.X[0] == 42 {
		t.Error("solutions must not share storage")
	}
}

func TestSolveLP_SingleBound(t *testing.T) {
	m := NewModel("single")
	x := mustCol(t, m, Column{Obj: -1, Upper: Inf})
	mustRow(t, m, LessEqual, 4, Entry{x, 1})
	sol := m.SolveLP(Params{})
	if sol.Status != StatusOptimal {
		t.Fatalf("Status = %s, expected Optimal", sol.Status)
	}
	if !near(sol.X[0], 4) || !near(sol.Duals[0], -1) {
		t.Errorf("x=%v dual=%v, expected 4 and -1", sol.X[0], sol.Duals[0])
	}
}

// 超过 refactorEvery 次换基，覆盖 eta 更新与中途重新分解
func TestSolveLP_ManyPivots(t *testing.T) {
	const n = 3 * refactorEvery
	m := NewModel("many")
	for j := 0; j < n; j++ {
		mustCol(t, m, Column{Obj: -float64(j%7 + 1), Upper: Inf})
	}
	for j := 0; j < n; j++ {
		mustRow(t, m, LessEqual, 1, Entry{j, 1})
	}
	want := 0.0
	for j := 0; j < n; j++ {
		want -= float64(j%7 + 1)
	}

	sol := m.SolveLP(Params{})
	if sol.Status != StatusOptimal {
		t.Fatalf("Status = %s, expected Optimal", sol.Status)
	}
	if sol.Iterations < n {
		t.Errorf("Iterations = %d, expected at least %d", sol.Iterations, n)
	}
	if !near(sol.Objective, want) {
		t.Errorf("Objective = %v, expected %v", sol.Objective, want)
	}
	for j, y := range sol.Duals {
		if !near(y, -float64(j%7+1)) {
			t.Fatalf("Duals[%d] = %v, expected %v", j, y, -float64(j%7+1))
		}
	}
}

// 等式指派问题：第一阶段需要多次换基移出人工变量，单位指派最优
func TestSolveLP_Assignment(t *testing.T) {
	const n = 8
	m := NewModel("assignment")
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			c := 0.0
			if i != j {
				c = 1 + math.Abs(float64(i-j))
			}
			mustCol(t, m, Column{Obj: c, Upper: Inf})
		}
	}
	for i := 0; i < n; i++ {
		row := make([]Entry, 0, n)
		col := make([]Entry, 0, n)
		for j := 0; j < n; j++ {
			row = append(row, Entry{i*n + j, 1})
			col = append(col, Entry{j*n + i, 1})
		}
		mustRow(t, m, Equal, 1, row...)
		mustRow(t, m, Equal, 1, col...)
	}

	sol := m.SolveLP(Params{})
	if sol.Status != StatusOptimal {
		t.Fatalf("Status = %s, expected Optimal", sol.Status)
	}
	if !near(sol.Objective, 0) {
		t.Errorf("Objective = %v, expected 0", sol.Objective)
	}
	for i := 0; i < n; i++ {
		if !near(sol.X[i*n+i], 1) {
			t.Errorf("X[%d][%d] = %v, expected 1", i, i, sol.X[i*n+i])
		}
	}
}

func TestModel_DeleteRowsAndCols(t *testing.T) {
	m := NewModel("delete")
	x := mustCol(t, m, Column{Obj: 1, Upper: Inf})
	y := mustCol(t, m, Column{Obj: 3, Upper: Inf})
	z := mustCol(t, m, Column{Obj: 2, Upper: Inf})
	mustRow(t, m, GreaterEqual, 1, Entry{x, 1})
	mustRow(t, m, GreaterEqual, 1, Entry{y, 1}, Entry{z, 1})
	mustRow(t, m, GreaterEqual, 5, Entry{x, 1}, Entry{y, 1}, Entry{z, 1})

	// 去掉第一行后最优为 z=1, x=4，目标 6
	if err := m.DeleteRows(0, 0); err != nil {
		t.Fatalf("DeleteRows() error: %v", err)
	}
	if m.NumRows() != 2 {
		t.Fatalf("NumRows() = %d, expected 2", m.NumRows())
	}
	if sol := m.SolveLP(Params{}); !near(sol.Objective, 6) {
		t.Errorf("after row delete Objective = %v, expected 6", sol.Objective)
	}

	// 删除 x 后只剩 y, z，最优为 z=5
	if err := m.DeleteCols(x, x); err != nil {
		t.Fatalf("DeleteCols() error: %v", err)
	}
	if m.NumCols() != 2 {
		t.Fatalf("NumCols() = %d, expected 2", m.NumCols())
	}
	if sol := m.SolveLP(Params{}); !near(sol.Objective, 10) {
		t.Errorf("after col delete Objective = %v, expected 10", sol.Objective)
	}
	if err := m.DeleteRows(1, 0); err == nil {
		t.Error("expected error for empty range")
	}
}

func knapsack(t *testing.T) *Model {
	m := NewModel("knapsack")
	for _, v := range []float64{5, 4, 3} {
		mustCol(t, m, Column{Obj: -v, Upper: 1, Type: Binary})
	}
	mustRow(t, m, LessEqual, 5, Entry{0, 2}, Entry{1, 3}, Entry{2, 1})
	mustRow(t, m, LessEqual, 11, Entry{0, 4}, Entry{1, 1}, Entry{2, 2})
	mustRow(t, m, LessEqual, 8, Entry{0, 3}, Entry{1, 4}, Entry{2, 2})
	return m
}

func TestSolveMIP(t *testing.T) {
	tests := []struct {
		name   string
		params Params
		status Status
		obj    float64
	}{
		{"无截断", Params{}, StatusOptimal, -9},
		{"截断值更差", Params{}.WithCutoff(-8.5), StatusOptimal, -9},
		{"截断值等于最优", Params{}.WithCutoff(-9), StatusCutoff, 0},
		{"截断值更优", Params{}.WithCutoff(-20), StatusCutoff, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sol := knapsack(t).SolveMIP(tt.params)
			if sol.Status != tt.status {
				t.Fatalf("Status = %s, expected %s", sol.Status, tt.status)
			}
			if tt.status != StatusOptimal {
				return
			}
			if !near(sol.Objective, tt.obj) {
				t.Errorf("Objective = %v, expected %v", sol.Objective, tt.obj)
			}
			for j, v := range sol.X {
				if v != 0 && v != 1 {
					t.Errorf("X[%d] = %v is not binary", j, v)
				}
			}
		})
	}
}

func TestSolveMIP_GeneralInteger(t *testing.T) {
	m := NewModel("int")
	x := mustCol(t, m, Column{Obj: -1, Upper: Inf, Type: Integer})
	mustRow(t, m, LessEqual, 7, Entry{x, 2})
	sol := m.SolveMIP(Params{})
	if sol.Status != StatusOptimal || sol.X[0] != 3 {
		t.Errorf("got %s x=%v, expected Optimal x=3", sol.Status, sol.X)
	}
}

func TestSolveMIP_Infeasible(t *testing.T) {
	m := NewModel("parity")
	x := mustCol(t, m, Column{Obj: 1, Upper: 1, Type: Binary})
	mustRow(t, m, Equal, 1, Entry{x, 2})
	if sol := m.SolveMIP(Params{}); sol.Status != StatusInfeasible {
		t.Errorf("Status = %s, expected Infeasible", sol.Status)
	}
}

func TestStatus_String(t *testing.T) {
	if StatusTimeLimitWithIncumbent.String() != "TimeLimitWithIncumbent" {
		t.Error("unexpected status text")
	}
	if Status(99).String() != "Unknown" {
		t.Error("unknown status should print Unknown")
	}
	if !StatusTimeLimitWithIncumbent.HasSolution() || StatusCutoff.HasSolution() {
		t.Error("HasSolution mismatch")
	}
}
