package optimizer

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/paiban/bnpdive/pkg/model"
)

// Island 一个独立的搜索（各自的随机种子与子问题）
type Island struct {
	ID        int
	Best      *Solution
	Err       error
	Optimizer *LocalSearchOptimizer
}

// IslandOptimizer 多个种子并行搜索，取最好的结果
type IslandOptimizer struct {
	config      *OptimizationConfig
	inst        *model.Instance
	log         *zerolog.Logger
	islandCount int
}

// NewIslandOptimizer 创建岛屿优化器，岛屿数取 config.ParallelWorkers
func NewIslandOptimizer(inst *model.Instance, config *OptimizationConfig, log *zerolog.Logger) *IslandOptimizer {
	if config == nil {
		config = DefaultOptConfig()
	}
	return &IslandOptimizer{
		config:      config,
		inst:        inst,
		log:         log,
		islandCount: max(config.ParallelWorkers, 1),
	}
}

// OptimizeIslands 并行运行各岛屿。任一岛屿出错时返回第一个错误
func (io *IslandOptimizer) OptimizeIslands(ctx context.Context, initial *model.Schedule) (*Solution, error) {
	islands := make([]*Island, io.islandCount)
	for i := range islands {
		cfg := *io.config
		cfg.Seed = io.config.Seed + uint64(i)
		islands[i] = &Island{ID: i, Optimizer: NewLocalSearchOptimizer(io.inst, &cfg, io.log)}
	}

	var wg sync.WaitGroup
	for _, island := range islands {
		wg.Add(1)
		go func(island *Island) {
			defer wg.Done()
			island.Best, island.Err = island.Optimizer.Optimize(ctx, initial)
		}(island)
	}
	wg.Wait()

	var best *Solution
	for _, island := range islands {
		if island.Err != nil {
			return nil, island.Err
		}
		if best == nil || island.Best.Score < best.Score {
			best = island.Best
		}
	}
	return best, nil
}
