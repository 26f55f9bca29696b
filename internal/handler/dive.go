package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/paiban/bnpdive/internal/repository"
	apperrors "github.com/paiban/bnpdive/pkg/errors"
	"github.com/paiban/bnpdive/pkg/logger"
	"github.com/paiban/bnpdive/pkg/model"
	"github.com/paiban/bnpdive/pkg/scheduler/colgen"
	"github.com/paiban/bnpdive/pkg/scheduler/diving"
	"github.com/paiban/bnpdive/pkg/scheduler/optimizer"
	"github.com/paiban/bnpdive/pkg/scheduler/solver"
	"github.com/paiban/bnpdive/pkg/stats"
	"github.com/paiban/bnpdive/pkg/validator"
)

// InstanceInput 算例输入：JSON 结构或文本格式二选一
type InstanceInput struct {
	Instance     *model.Instance `json:"instance,omitempty" validate:"-"`
	InstanceText string          `json:"instance_text,omitempty"`
}

// resolve 解析并校验算例
func (in InstanceInput) resolve() (*model.Instance, error) {
	switch {
	case in.Instance != nil:
		inst := in.Instance
		if err := inst.Validate(); err != nil {
			return nil, err
		}
		return inst, nil
	case strings.TrimSpace(in.InstanceText) != "":
		return model.ReadInstance(strings.NewReader(in.InstanceText))
	default:
		return nil, apperrors.InvalidInput("instance", "缺少算例")
	}
}

// DiveRequest 求解请求
type DiveRequest struct {
	InstanceInput
	Name    string       `json:"name,omitempty"`
	Solver  string       `json:"solver,omitempty" validate:"omitempty,oneof=diving greedy"`
	Options *DiveOptions `json:"options,omitempty"`
}

// DiveOptions 覆盖服务端默认的下潜参数
type DiveOptions struct {
	CGPolicy       string  `json:"cg_policy,omitempty" validate:"omitempty,oneof=sequential full_sweep"`
	Branching      string  `json:"branching,omitempty" validate:"omitempty,oneof=threshold largest largest_fractional"`
	Threshold      float64 `json:"threshold,omitempty" validate:"omitempty,gt=0,lte=1"`
	TotalSeconds   int     `json:"total_seconds,omitempty" validate:"gte=0"`
	RootSeconds    int     `json:"root_seconds,omitempty" validate:"gte=0"`
	NodeSeconds    int     `json:"node_seconds,omitempty" validate:"gte=0"`
	PricingSeconds int     `json:"pricing_seconds,omitempty" validate:"gte=0"`
	Improve        *bool   `json:"improve,omitempty"`
	SeedGreedy     *bool   `json:"seed_greedy,omitempty"`
}

// DiveResponse 求解响应
type DiveResponse struct {
	RunID       string                 `json:"run_id"`
	Name        string                 `json:"name,omitempty"`
	Solver      string                 `json:"solver"`
	Success     bool                   `json:"success"`
	Message     string                 `json:"message"`
	CGPolicy    string                 `json:"cg_policy,omitempty"`
	Branching   string                 `json:"branching,omitempty"`
	Statistics  solver.Statistics      `json:"statistics"`
	Improvement *optimizer.Stats       `json:"improvement,omitempty"`
	Schedule    *model.Schedule        `json:"schedule,omitempty"`
	Coverage    *stats.CoverageMetrics `json:"coverage,omitempty"`
	Workload    *stats.WorkloadMetrics `json:"workload,omitempty"`
	Conflicts   []validator.Conflict   `json:"conflicts,omitempty"`
	Decisions   []diving.Decision      `json:"decisions,omitempty"`
	Duration    string                 `json:"duration"`
	Persisted   bool                   `json:"persisted"`
}

// solveSetup 一次求解实际使用的参数
type solveSetup struct {
	solver solver.Solver
	opts   diving.Options
}

// Dive 求解算例。请求体为 JSON，或 Content-Type 为 text/plain 时直接为文本格式算例，
// 此时参数从查询串读取
func (h *Handler) Dive(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.config.API.MaxBodyBytes)

	req, err := h.decodeDiveRequest(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	inst, err := req.resolve()
	if err != nil {
		respondError(w, r, err)
		return
	}

	runID := uuid.New().String()
	ctx := context.WithValue(r.Context(), "run_id", runID)
	log := logger.WithContext(ctx)

	setup, err := h.buildSolver(req, runID, log)
	if err != nil {
		respondError(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, h.config.API.SolveTimeout)
	defer cancel()

	done := h.metrics.RunStarted()
	res, err := setup.solver.Solve(ctx, inst)
	done()
	h.metrics.RecordRun(res, setup.solver.Name(), err)
	if err != nil {
		respondError(w, r, err)
		return
	}

	resp := buildDiveResponse(inst, req, setup, res)
	if err := h.appendRunLog(req.Name, setup, res); err != nil {
		log.Warn().Err(err).Msg("写入运行日志失败")
	}
	if h.runs != nil {
		if err := h.persist(ctx, req.Name, setup, res); err != nil {
			log.Warn().Err(err).Msg("保存运行记录失败")
		} else {
			resp.Persisted = true
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

func (h *Handler) decodeDiveRequest(r *http.Request) (*DiveRequest, error) {
	req := &DiveRequest{}
	if strings.HasPrefix(r.Header.Get("Content-Type"), "text/plain") {
		inst, err := model.ReadInstance(r.Body)
		if err != nil {
			return nil, err
		}
		q := r.URL.Query()
		req.Instance = inst
		req.Name = q.Get("name")
		req.Solver = q.Get("solver")
		if req.Options, err = optionsFromQuery(q); err != nil {
			return nil, err
		}
	} else if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInvalidInput, "解析请求失败")
	}

	if err := h.validate.Struct(req); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeValidationFail, "请求参数非法").WithDetails(err.Error())
	}
	return req, nil
}

// optionsFromQuery 读取 policy、branching、beta、total、root、node、improve 查询参数
func optionsFromQuery(q url.Values) (*DiveOptions, error) {
	o := &DiveOptions{
		CGPolicy:  q.Get("policy"),
		Branching: q.Get("branching"),
	}
	var err error
	if v := q.Get("beta"); v != "" {
		if o.Threshold, err = strconv.ParseFloat(v, 64); err != nil {
			return nil, apperrors.InvalidInput("beta", err.Error())
		}
	}
	for _, f := range []struct {
		name string
		dst  *int
	}{{"total", &o.TotalSeconds}, {"root", &o.RootSeconds}, {"node", &o.NodeSeconds}} {
		if v := q.Get(f.name); v != "" {
			if *f.dst, err = strconv.Atoi(v); err != nil {
				return nil, apperrors.InvalidInput(f.name, err.Error())
			}
		}
	}
	if v := q.Get("improve"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, apperrors.InvalidInput("improve", err.Error())
		}
		o.Improve = &b
	}
	return o, nil
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// buildSolver 以服务端配置为基础叠加请求参数
func (h *Handler) buildSolver(req *DiveRequest, runID string, log *zerolog.Logger) (*solveSetup, error) {
	opts, err := h.config.Diving.DivingOptions(log)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "下潜参数配置错误")
	}
	opts.RunID = runID
	improve := h.config.Diving.ImproveConfig()

	if o := req.Options; o != nil {
		if o.CGPolicy != "" {
			if opts.CGPolicy, err = colgen.ParsePolicy(o.CGPolicy); err != nil {
				return nil, apperrors.InvalidInput("cg_policy", err.Error())
			}
		}
		if o.Branching != "" {
			if opts.Branching, err = diving.ParseBranching(o.Branching); err != nil {
				return nil, apperrors.InvalidInput("branching", err.Error())
			}
		}
		if o.Threshold > 0 {
			opts.Threshold = o.Threshold
		}
		if o.TotalSeconds > 0 {
			opts.TotalTime = seconds(o.TotalSeconds)
		}
		if o.RootSeconds > 0 {
			opts.RootTime = seconds(o.RootSeconds)
		}
		if o.NodeSeconds > 0 {
			opts.NodeTime = seconds(o.NodeSeconds)
		}
		if o.PricingSeconds > 0 {
			opts.PricingTimeLimit = seconds(o.PricingSeconds)
		}
		if o.SeedGreedy != nil {
			opts.SeedGreedy = *o.SeedGreedy
		}
		if o.Improve != nil {
			switch {
			case !*o.Improve:
				improve = nil
			case improve == nil:
				improve = optimizer.DefaultOptConfig()
			}
		}
	}

	setup := &solveSetup{opts: opts}
	if req.Solver == "greedy" {
		setup.solver = solver.NewGreedySolver(opts.PricingTimeLimit, log)
	} else {
		setup.solver = solver.NewDivingSolver(opts, improve)
	}
	return setup, nil
}

func buildDiveResponse(inst *model.Instance, req *DiveRequest, setup *solveSetup, res *solver.Result) *DiveResponse {
	resp := &DiveResponse{
		RunID:       res.RunID,
		Name:        req.Name,
		Solver:      res.Solver,
		Success:     res.Success,
		Message:     res.Message,
		Statistics:  res.Statistics,
		Improvement: res.Improvement,
		Schedule:    res.Schedule,
		Duration:    res.Duration.String(),
	}
	if res.Dive != nil {
		resp.CGPolicy = setup.opts.CGPolicy.String()
		resp.Branching = setup.opts.Branching.String()
		resp.Decisions = res.Dive.Decisions
	}
	if res.Schedule != nil {
		resp.Coverage = stats.NewCoverageAnalyzer(inst).Analyze(res.Schedule)
		resp.Workload = stats.NewFairnessAnalyzer(inst).Analyze(res.Schedule)
		// 求解器给出的排班维度总是与算例一致
		resp.Conflicts, _ = validator.NewConflictDetector(inst, nil).DetectAll(res.Schedule)
	}
	return resp
}

// appendRunLog 只记录下潜求解，表头取本次实际使用的策略
func (h *Handler) appendRunLog(name string, setup *solveSetup, res *solver.Result) error {
	if h.runLog == nil || res.Dive == nil {
		return nil
	}
	if name == "" {
		name = res.RunID
	}
	st := res.Statistics
	header := stats.RunLogHeader{
		CGPolicy:  setup.opts.CGPolicy.String(),
		Branching: setup.opts.Branching.String(),
		Threshold: setup.opts.Threshold,
	}
	return h.runLog.AppendWithHeader(header, stats.RunRecord{
		Instance:    name,
		Objective:   st.Objective,
		Elapsed:     res.Duration,
		MasterTime:  st.MasterTime,
		PricingTime: st.PricingTime,
		Columns:     st.ColumnsAdded,
		Unmet:       float64(st.Unmet),
		Excess:      float64(st.Excess),
	})
}

func (h *Handler) persist(ctx context.Context, name string, setup *solveSetup, res *solver.Result) error {
	id, err := uuid.Parse(res.RunID)
	if err != nil {
		id = uuid.New()
	}
	st := res.Statistics
	run := &repository.Run{
		ID:           id,
		InstanceName: name,
		Solver:       res.Solver,
		Success:      res.Success,
		Objective:    st.Objective,
		RootBound:    st.RootBound,
		Gap:          st.Gap,
		Unmet:        st.Unmet,
		Excess:       st.Excess,
		Iterations:   st.Iterations,
		Columns:      st.ColumnsAdded,
		Levels:       st.Levels,
		MasterTime:   st.MasterTime,
		PricingTime:  st.PricingTime,
		Duration:     res.Duration,
		Message:      res.Message,
	}
	if res.Dive != nil {
		run.CGPolicy = setup.opts.CGPolicy.String()
		run.Branching = setup.opts.Branching.String()
		run.Threshold = setup.opts.Threshold
	}

	var assignments []repository.Assignment
	if res.Schedule != nil {
		assignments = repository.AssignmentsFromSchedule(res.Schedule)
	}
	// 求解可能已用完请求的超时，保存使用独立的期限
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := h.runs.Save(saveCtx, run, assignments); err != nil {
		return fmt.Errorf("保存运行 %s: %w", run.ID, err)
	}
	return nil
}

// AuditRequest 排班检查请求
type AuditRequest struct {
	InstanceInput
	Schedule *model.Schedule `json:"schedule" validate:"required"`
}

// AuditResponse 排班检查响应
type AuditResponse struct {
	Valid      bool                   `json:"valid"`
	Conflicts  []validator.Conflict   `json:"conflicts"`
	Evaluation model.Evaluation       `json:"evaluation"`
	Coverage   *stats.CoverageMetrics `json:"coverage"`
	Workload   *stats.WorkloadMetrics `json:"workload"`
}

// Audit 按个人排班规则检查给定排班，并计算目标值与覆盖情况
func (h *Handler) Audit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.config.API.MaxBodyBytes)

	var req AuditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, apperrors.Wrap(err, apperrors.CodeInvalidInput, "解析请求失败"))
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		respondError(w, r, apperrors.Wrap(err, apperrors.CodeValidationFail, "请求参数非法").WithDetails(err.Error()))
		return
	}
	inst, err := req.resolve()
	if err != nil {
		respondError(w, r, err)
		return
	}

	conflicts, err := validator.NewConflictDetector(inst, nil).DetectAll(req.Schedule)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if conflicts == nil {
		conflicts = []validator.Conflict{}
	}
	respondJSON(w, http.StatusOK, &AuditResponse{
		Valid:      !validator.HasErrors(conflicts),
		Conflicts:  conflicts,
		Evaluation: model.Evaluate(inst, req.Schedule),
		Coverage:   stats.NewCoverageAnalyzer(inst).Analyze(req.Schedule),
		Workload:   stats.NewFairnessAnalyzer(inst).Analyze(req.Schedule),
	})
}
