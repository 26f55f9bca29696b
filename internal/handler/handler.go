// Package handler 提供HTTP请求处理器
package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/paiban/bnpdive/internal/config"
	"github.com/paiban/bnpdive/internal/metrics"
	"github.com/paiban/bnpdive/internal/repository"
	apperrors "github.com/paiban/bnpdive/pkg/errors"
	"github.com/paiban/bnpdive/pkg/logger"
	"github.com/paiban/bnpdive/pkg/stats"
)

// BuildInfo 构建信息
type BuildInfo struct {
	Version   string `json:"version"`
	BuildTime string `json:"build_time"`
	GitCommit string `json:"git_commit"`
}

// Handler HTTP处理器，持有路由与求解所需的依赖
type Handler struct {
	config   *config.Config
	runs     repository.RunRepositoryInterface
	runLog   *stats.RunLog
	metrics  *metrics.Registry
	limiter  *RateLimiter
	validate *validator.Validate
	build    BuildInfo

	Mux *chi.Mux
}

// Option 处理器可选项
type Option func(*Handler)

// WithRunRepository 启用运行记录持久化
func WithRunRepository(runs repository.RunRepositoryInterface) Option {
	return func(h *Handler) { h.runs = runs }
}

// WithRunLog 每次下潜结束后追加运行日志
func WithRunLog(l *stats.RunLog) Option {
	return func(h *Handler) { h.runLog = l }
}

// WithMetrics 使用指定的指标注册表
func WithMetrics(r *metrics.Registry) Option {
	return func(h *Handler) { h.metrics = r }
}

// WithBuildInfo 设置版本信息
func WithBuildInfo(b BuildInfo) Option {
	return func(h *Handler) { h.build = b }
}

// NewHandler 创建处理器
func NewHandler(cfg *config.Config, opts ...Option) *Handler {
	h := &Handler{
		config:   cfg,
		metrics:  metrics.GetRegistry(),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		build:    BuildInfo{Version: "dev", BuildTime: "unknown", GitCommit: "unknown"},
		Mux:      chi.NewRouter(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if cfg.API.RateLimit > 0 {
		h.limiter = NewRateLimiter(float64(cfg.API.RateLimit))
	}
	return h
}

// RegisterRoutes 注册全部路由
// 中间件执行顺序：recoverer -> requestID -> rateLimit -> cors -> logging -> handler
func (h *Handler) RegisterRoutes() {
	h.Mux.Use(h.recoverer)
	h.Mux.Use(h.requestID)
	h.Mux.Use(h.rateLimit)
	h.Mux.Use(h.cors)
	h.Mux.Use(h.logging)

	h.Mux.Get("/health", h.Health)
	h.Mux.Get("/version", h.Version)
	if h.config.Metrics.Enabled {
		h.Mux.Handle(h.config.Metrics.Path, metrics.HandlerFor(h.metrics))
	}

	h.Mux.Route("/api/v1", func(r chi.Router) {
		r.Get("/", h.Index)
		r.Post("/dive", h.Dive)
		r.Post("/audit", h.Audit)
		r.Route("/runs", func(r chi.Router) {
			r.Get("/", h.ListRuns)
			r.Get("/{id}", h.GetRun)
		})
	})
}

// Health 健康检查
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"service":     h.config.App.Name,
		"persistence": h.runs != nil,
	})
}

// Version 版本信息
func (h *Handler) Version(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.build)
}

// Index API 根路由
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"message": "分支定价下潜排班 API v1",
		"endpoints": map[string]string{
			"dive":  "POST /api/v1/dive",
			"audit": "POST /api/v1/audit",
			"runs":  "GET /api/v1/runs",
			"run":   "GET /api/v1/runs/{id}",
		},
	})
}

// respondJSON 返回JSON响应
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError 返回错误响应，非 AppError 按内部错误处理
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		appErr = apperrors.Wrap(err, apperrors.CodeInternal, "内部错误")
	}
	if appErr.HTTPStatus >= http.StatusInternalServerError {
		logger.WithContext(r.Context()).Error().Err(err).Str("code", string(appErr.Code)).Msg("请求处理失败")
	}
	respondJSON(w, appErr.HTTPStatus, map[string]interface{}{
		"error":   true,
		"code":    appErr.Code,
		"message": appErr.Message,
		"details": appErr.Details,
		"fields":  appErr.Fields,
	})
}
