package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/paiban/bnpdive/internal/repository"
	apperrors "github.com/paiban/bnpdive/pkg/errors"
)

// RunListResponse 运行记录列表
type RunListResponse struct {
	Runs   []*repository.Run `json:"runs"`
	Total  int               `json:"total"`
	Offset int               `json:"offset"`
	Limit  int               `json:"limit"`
}

// RunDetailResponse 单次运行详情
type RunDetailResponse struct {
	Run         *repository.Run         `json:"run"`
	Assignments []repository.Assignment `json:"assignments"`
}

const maxListLimit = 200

var errPersistenceDisabled = apperrors.New(apperrors.CodeNotFound, "未启用运行记录持久化")

// ListRuns 列出历史运行
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		respondError(w, r, errPersistenceDisabled)
		return
	}

	filter, err := listFilterFromQuery(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	runs, total, err := h.runs.List(r.Context(), filter)
	if err != nil {
		respondError(w, r, apperrors.Wrap(err, apperrors.CodeDatabaseError, "查询运行记录失败"))
		return
	}
	if runs == nil {
		runs = []*repository.Run{}
	}
	respondJSON(w, http.StatusOK, &RunListResponse{Runs: runs, Total: total, Offset: filter.Offset, Limit: filter.Limit})
}

func listFilterFromQuery(r *http.Request) (repository.ListFilter, error) {
	q := r.URL.Query()
	filter := repository.DefaultListFilter()
	filter.Status = q.Get("status")
	filter.Solver = q.Get("solver")
	filter.Search = q.Get("search")
	if v := q.Get("order_by"); v != "" {
		filter.OrderBy = v
	}
	if v := q.Get("order_dir"); v != "" {
		filter.OrderDir = v
	}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return filter, apperrors.InvalidInput("limit", "必须是正整数")
		}
		filter = filter.WithLimit(min(n, maxListLimit))
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return filter, apperrors.InvalidInput("offset", "必须是非负整数")
		}
		filter = filter.WithOffset(n)
	}
	return filter, nil
}

// GetRun 查询单次运行及其排班分配
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		respondError(w, r, errPersistenceDisabled)
		return
	}

	idParam := chi.URLParam(r, "id")
	id, err := uuid.Parse(idParam)
	if err != nil {
		respondError(w, r, apperrors.InvalidInput("id", "不是合法的 UUID"))
		return
	}

	run, err := h.runs.GetByID(r.Context(), id)
	if err != nil {
		respondError(w, r, apperrors.Wrap(err, apperrors.CodeDatabaseError, "查询运行记录失败"))
		return
	}
	if run == nil {
		respondError(w, r, apperrors.NotFound("运行记录", idParam))
		return
	}

	assignments, err := h.runs.GetAssignments(r.Context(), id)
	if err != nil {
		respondError(w, r, apperrors.Wrap(err, apperrors.CodeDatabaseError, "查询排班分配失败"))
		return
	}
	if assignments == nil {
		assignments = []repository.Assignment{}
	}
	respondJSON(w, http.StatusOK, &RunDetailResponse{Run: run, Assignments: assignments})
}
