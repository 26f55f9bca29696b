package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/paiban/bnpdive/internal/config"
	"github.com/paiban/bnpdive/internal/metrics"
	"github.com/paiban/bnpdive/internal/repository"
	"github.com/paiban/bnpdive/pkg/model"
	"github.com/paiban/bnpdive/pkg/stats"
)

// memoryRuns 内存中的运行记录仓储
type memoryRuns struct {
	mu          sync.Mutex
	runs        map[uuid.UUID]*repository.Run
	assignments map[uuid.UUID][]repository.Assignment
}

func newMemoryRuns() *memoryRuns {
	return &memoryRuns{
		runs:        make(map[uuid.UUID]*repository.Run),
		assignments: make(map[uuid.UUID][]repository.Assignment),
	}
}

func (m *memoryRuns) Save(_ context.Context, run *repository.Run, as []repository.Assignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	m.runs[run.ID] = run
	m.assignments[run.ID] = as
	return nil
}

func (m *memoryRuns) GetByID(_ context.Context, id uuid.UUID) (*repository.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runs[id], nil
}

func (m *memoryRuns) GetAssignments(_ context.Context, id uuid.UUID) ([]repository.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.assignments[id], nil
}

func (m *memoryRuns) List(_ context.Context, f repository.ListFilter) ([]*repository.Run, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*repository.Run
	for _, r := range m.runs {
		if f.Solver == "" || r.Solver == f.Solver {
			out = append(out, r)
		}
	}
	return out, len(out), nil
}

func (m *memoryRuns) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.runs, id)
	delete(m.assignments, id)
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Name: "bnpdive", Env: "test"},
		API: config.APIConfig{
			SolveTimeout: time.Minute,
			MaxBodyBytes: 1 << 20,
			CORS:         config.CORSConfig{Enabled: true, Origins: []string{"*"}},
		},
		Diving: config.DivingConfig{
			CGPolicy:         "sequential",
			Branching:        "threshold",
			Threshold:        0.6,
			TotalTime:        time.Minute,
			RootTime:         time.Minute,
			NodeTime:         10 * time.Second,
			PricingTimeLimit: time.Minute,
		},
		Metrics: config.MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

func newTestHandler(cfg *config.Config, opts ...Option) *Handler {
	opts = append([]Option{WithMetrics(metrics.NewRegistry())}, opts...)
	h := NewHandler(cfg, opts...)
	h.RegisterRoutes()
	return h
}

func oneDay(people int, demand []int) *model.Instance {
	inst := model.NewFullyEligible(model.Header{People: people, Groups: 1, Tasks: 1, Days: 1})
	inst.Demands[0][0] = demand
	return inst
}

func do(h *Handler, method, target, contentType string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	h.Mux.ServeHTTP(rec, req)
	return rec
}

func postJSON(t *testing.T, h *Handler, target string, v interface{}) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return do(h, http.MethodPost, target, "application/json", body)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response: %v\n%s", err, rec.Body.String())
	}
	return v
}

type errorBody struct {
	Error   bool   `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func TestHealthAndVersion(t *testing.T) {
	h := newTestHandler(testConfig(), WithBuildInfo(BuildInfo{Version: "1.2.3"}))

	rec := do(h, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body := decode[map[string]interface{}](t, rec); body["status"] != "ok" || body["persistence"] != false {
		t.Errorf("unexpected health body %v", body)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}

	rec = do(h, http.MethodGet, "/version", "", nil)
	if got := decode[BuildInfo](t, rec); got.Version != "1.2.3" {
		t.Errorf("Version = %q", got.Version)
	}
}

func TestDive_JSON(t *testing.T) {
	tests := []struct {
		name    string
		solver  string
		options *DiveOptions
	}{
		{"贪心", "greedy", nil},
		{"下潜", "diving", nil},
		{"下潜全量列生成", "diving", &DiveOptions{CGPolicy: "full_sweep", Branching: "largest", TotalSeconds: 60}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runs := newMemoryRuns()
			h := newTestHandler(testConfig(), WithRunRepository(runs))

			rec := postJSON(t, h, "/api/v1/dive", DiveRequest{
				InstanceInput: InstanceInput{Instance: oneDay(3, []int{1, 1, 1})},
				Name:          "one_day",
				Solver:        tt.solver,
				Options:       tt.options,
			})
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
			}
			resp := decode[DiveResponse](t, rec)
			if !resp.Success || resp.Solver != tt.solver {
				t.Fatalf("unexpected response %+v", resp)
			}
			if resp.Statistics.Objective != 9 || resp.Statistics.Unmet != 0 {
				t.Errorf("Objective = %d, Unmet = %d", resp.Statistics.Objective, resp.Statistics.Unmet)
			}
			if resp.Coverage == nil || resp.Coverage.OverallCoverage != 100 {
				t.Errorf("unexpected coverage %+v", resp.Coverage)
			}
			if resp.Workload == nil || len(resp.Workload.People) != 3 {
				t.Errorf("unexpected workload %+v", resp.Workload)
			}
			if len(resp.Conflicts) != 0 {
				t.Errorf("unexpected conflicts %+v", resp.Conflicts)
			}
			if !resp.Persisted {
				t.Fatal("run was not persisted")
			}
			id := uuid.MustParse(resp.RunID)
			if run := runs.runs[id]; run == nil || run.InstanceName != "one_day" || run.Objective != 9 {
				t.Errorf("unexpected stored run %+v", run)
			}
			if got := len(runs.assignments[id]); got != 3 {
				t.Errorf("stored %d assignments, expected 3", got)
			}
		})
	}
}

func TestDive_PartialWeights(t *testing.T) {
	data, err := json.Marshal(oneDay(3, []int{1, 1, 1}))
	if err != nil {
		t.Fatal(err)
	}
	var inst map[string]interface{}
	if err := json.Unmarshal(data, &inst); err != nil {
		t.Fatal(err)
	}
	inst["weights"] = map[string]interface{}{"weekend": 25}

	h := newTestHandler(testConfig())
	rec := postJSON(t, h, "/api/v1/dive", map[string]interface{}{
		"instance": inst,
		"solver":   "greedy",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if resp := decode[DiveResponse](t, rec); !resp.Success || resp.Statistics.Objective != 9 {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestDive_TextBody(t *testing.T) {
	var buf bytes.Buffer
	if err := model.WriteInstance(&buf, oneDay(3, []int{1, 1, 1})); err != nil {
		t.Fatal(err)
	}
	h := newTestHandler(testConfig())

	rec := do(h, http.MethodPost, "/api/v1/dive?solver=greedy&name=text", "text/plain", buf.Bytes())
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	resp := decode[DiveResponse](t, rec)
	if resp.Name != "text" || resp.Statistics.Objective != 9 || resp.Persisted {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestDive_RunLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "solution.txt")
	h := newTestHandler(testConfig(), WithRunLog(stats.NewRunLog(path, stats.RunLogHeader{})))

	rec := postJSON(t, h, "/api/v1/dive", DiveRequest{
		InstanceInput: InstanceInput{Instance: oneDay(3, []int{1, 1, 1})},
		Name:          "one_day",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	content := string(data)
	for _, want := range []string{
		"Column generation method: one column for person p and reoptimize",
		"Beta = 0.6",
		"\none_day\t9\t",
	} {
		if !strings.Contains(content, want) {
			t.Errorf("run log missing %q:\n%s", want, content)
		}
	}
}

func TestDive_Errors(t *testing.T) {
	bad := oneDay(1, []int{1, 1, 1})
	bad.Demands[0] = nil
	badJSON, _ := json.Marshal(DiveRequest{InstanceInput: InstanceInput{Instance: bad}})

	var text bytes.Buffer
	if err := model.WriteInstance(&text, oneDay(1, []int{1, 1, 1})); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name        string
		target      string
		contentType string
		body        string
		status      int
		code        string
	}{
		{"请求体不是JSON", "/api/v1/dive", "application/json", "{", http.StatusBadRequest, "INVALID_INPUT"},
		{"缺少算例", "/api/v1/dive", "application/json", `{"name":"x"}`, http.StatusBadRequest, "INVALID_INPUT"},
		{"未知求解器", "/api/v1/dive", "application/json", `{"solver":"simplex","instance_text":"1"}`, http.StatusBadRequest, "VALIDATION_FAILED"},
		{"需求维度不符", "/api/v1/dive", "application/json", string(badJSON), http.StatusBadRequest, "DATA_ERROR"},
		{"文本算例不完整", "/api/v1/dive", "text/plain", "3 1 0 1 0", http.StatusBadRequest, "DATA_ERROR"},
		{"非法beta", "/api/v1/dive?beta=abc", "text/plain", text.String(), http.StatusBadRequest, "INVALID_INPUT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(testConfig())
			rec := do(h, http.MethodPost, tt.target, tt.contentType, []byte(tt.body))
			if rec.Code != tt.status {
				t.Fatalf("status = %d, expected %d: %s", rec.Code, tt.status, rec.Body.String())
			}
			if body := decode[errorBody](t, rec); !body.Error || body.Code != tt.code {
				t.Errorf("unexpected error body %+v", body)
			}
		})
	}
}

func TestAudit(t *testing.T) {
	inst := oneDay(1, []int{1, 1, 1})
	h := newTestHandler(testConfig())

	clash := model.NewSchedule(1, 1)
	clash.Set(0, 0, int(model.ShiftNight), 0)
	clash.Set(0, 0, int(model.ShiftMorning), 0)

	rec := postJSON(t, h, "/api/v1/audit", AuditRequest{InstanceInput: InstanceInput{Instance: inst}, Schedule: clash})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	resp := decode[AuditResponse](t, rec)
	if resp.Valid || len(resp.Conflicts) != 1 || resp.Conflicts[0].Type != "one_shift" {
		t.Errorf("unexpected audit %+v", resp)
	}
	if resp.Evaluation.Unmet != 1 {
		t.Errorf("Unmet = %d, expected 1", resp.Evaluation.Unmet)
	}

	rec = postJSON(t, h, "/api/v1/audit", AuditRequest{InstanceInput: InstanceInput{Instance: inst}, Schedule: model.NewSchedule(2, 1)})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("shape mismatch status = %d, expected 400", rec.Code)
	}

	rec = postJSON(t, h, "/api/v1/audit", AuditRequest{InstanceInput: InstanceInput{Instance: inst}})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing schedule status = %d, expected 400", rec.Code)
	}
}

func TestRuns(t *testing.T) {
	runs := newMemoryRuns()
	id := uuid.New()
	runs.Save(context.Background(), &repository.Run{ID: id, InstanceName: "a", Solver: "diving", Objective: 7},
		[]repository.Assignment{{Person: 0, Day: 0, Shift: 1, Task: 0}})
	h := newTestHandler(testConfig(), WithRunRepository(runs))

	rec := do(h, http.MethodGet, "/api/v1/runs?solver=diving&limit=10", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if list := decode[RunListResponse](t, rec); list.Total != 1 || list.Limit != 10 || list.Runs[0].Objective != 7 {
		t.Errorf("unexpected list %+v", list)
	}

	rec = do(h, http.MethodGet, "/api/v1/runs/"+id.String(), "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if detail := decode[RunDetailResponse](t, rec); detail.Run.InstanceName != "a" || len(detail.Assignments) != 1 {
		t.Errorf("unexpected detail %+v", detail)
	}

	tests := []struct {
		name   string
		target string
		status int
	}{
		{"不存在", "/api/v1/runs/" + uuid.New().String(), http.StatusNotFound},
		{"非法ID", "/api/v1/runs/abc", http.StatusBadRequest},
		{"非法limit", "/api/v1/runs?limit=-1", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := do(h, http.MethodGet, tt.target, "", nil); rec.Code != tt.status {
				t.Errorf("status = %d, expected %d", rec.Code, tt.status)
			}
		})
	}
}

func TestRuns_PersistenceDisabled(t *testing.T) {
	h := newTestHandler(testConfig())
	rec := do(h, http.MethodGet, "/api/v1/runs", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, expected 404", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.API.RateLimit = 1
	h := newTestHandler(cfg)

	if rec := do(h, http.MethodGet, "/health", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("first request status = %d", rec.Code)
	}
	rec := do(h, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, expected 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "1" {
		t.Error("missing Retry-After header")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := metrics.NewRegistry()
	h := NewHandler(testConfig(), WithMetrics(reg))
	h.RegisterRoutes()

	do(h, http.MethodGet, "/health", "", nil)
	do(h, http.MethodGet, "/api/v1/runs/"+uuid.New().String(), "", nil)

	rec := do(h, http.MethodGet, "/metrics", "", nil)
	body := rec.Body.String()
	for _, want := range []string{
		`bnpdive_http_requests_total{method="GET",path="/health",status="200"} 1`,
		`bnpdive_http_requests_total{method="GET",path="/api/v1/runs/{id}",status="404"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q:\n%s", want, body)
		}
	}
}

func TestCORS(t *testing.T) {
	cfg := testConfig()
	cfg.API.CORS.Origins = []string{"https://example.org"}
	h := newTestHandler(cfg)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/dive", nil)
	req.Header.Set("Origin", "https://example.org")
	rec := httptest.NewRecorder()
	h.Mux.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://example.org" {
		t.Errorf("Allow-Origin = %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://other.org")
	rec = httptest.NewRecorder()
	h.Mux.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Allow-Origin = %q, expected none", got)
	}
}
