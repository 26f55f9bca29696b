// bnpdive 排班下潜服务
// 主程序入口

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/paiban/bnpdive/internal/config"
	"github.com/paiban/bnpdive/internal/database"
	"github.com/paiban/bnpdive/internal/handler"
	"github.com/paiban/bnpdive/internal/metrics"
	"github.com/paiban/bnpdive/internal/repository"
	"github.com/paiban/bnpdive/pkg/logger"
	"github.com/paiban/bnpdive/pkg/stats"
)

// 构建信息（通过 ldflags 注入）
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	format := "console"
	if cfg.IsProduction() {
		format = "json"
	}
	logger.Init(logger.Config{
		Level:  cfg.App.LogLevel,
		Format: format,
		Output: "stdout",
	})

	fmt.Printf("bnpdive 排班下潜服务 v%s\n", Version)
	fmt.Printf("Build: %s (%s)\n", BuildTime, GitCommit)
	fmt.Println()

	opts := []handler.Option{
		handler.WithBuildInfo(handler.BuildInfo{Version: Version, BuildTime: BuildTime, GitCommit: GitCommit}),
	}
	if cfg.Diving.RunLog != "" {
		opts = append(opts, handler.WithRunLog(stats.NewRunLog(cfg.Diving.RunLog, stats.RunLogHeader{
			CGPolicy:  cfg.Diving.CGPolicy,
			Branching: cfg.Diving.Branching,
			Threshold: cfg.Diving.Threshold,
		})))
	}

	var db *database.DB
	if cfg.Database.Enabled {
		db, err = database.New(&cfg.Database)
		if err != nil {
			logger.Fatal().Err(err).Msg("数据库连接失败")
		}
		defer db.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err = db.Migrate(ctx)
		cancel()
		if err != nil {
			logger.Fatal().Err(err).Msg("数据库迁移失败")
		}
		opts = append(opts, handler.WithRunRepository(repository.NewRunRepository(db)))
	}

	h := handler.NewHandler(cfg, opts...)
	h.RegisterRoutes()

	server := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.App.Port),
		Handler:     h.Mux,
		ReadTimeout: cfg.API.Timeout,
		// 求解请求可能持续到求解超时
		WriteTimeout: cfg.API.SolveTimeout + cfg.API.Timeout,
		IdleTimeout:  120 * time.Second,
	}

	stopStats := make(chan struct{})
	if db != nil && cfg.Metrics.Enabled {
		go reportDBStats(db, stopStats)
	}

	// 启动服务器（非阻塞）
	go func() {
		logger.Info().
			Int("port", cfg.App.Port).
			Str("env", cfg.App.Env).
			Str("version", Version).
			Bool("persistence", cfg.Database.Enabled).
			Str("url", fmt.Sprintf("http://localhost:%d", cfg.App.Port)).
			Str("api_docs", fmt.Sprintf("http://localhost:%d/api/v1/", cfg.App.Port)).
			Msg("服务器启动")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("服务器启动失败")
			os.Exit(1)
		}
	}()

	// 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("正在关闭服务器...")
	close(stopStats)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("服务器关闭失败")
		os.Exit(1)
	}

	logger.Info().Msg("服务器已关闭")
}

// reportDBStats 定期把连接池状态写入指标
func reportDBStats(db *database.DB, stop <-chan struct{}) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			metrics.SetDBStats(db.Stats())
		case <-stop:
			return
		}
	}
}
