// dive 命令行工具：求解算例、生成随机算例、检查排班

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	apperrors "github.com/paiban/bnpdive/pkg/errors"
	"github.com/paiban/bnpdive/pkg/generator"
	"github.com/paiban/bnpdive/pkg/logger"
	"github.com/paiban/bnpdive/pkg/model"
	"github.com/paiban/bnpdive/pkg/scheduler/colgen"
	"github.com/paiban/bnpdive/pkg/scheduler/diving"
	"github.com/paiban/bnpdive/pkg/scheduler/optimizer"
	"github.com/paiban/bnpdive/pkg/scheduler/solver"
	"github.com/paiban/bnpdive/pkg/stats"
	"github.com/paiban/bnpdive/pkg/validator"
)

const usage = `用法:
  dive run -instance F [-solver diving|greedy] [-policy sequential|full_sweep]
           [-branching threshold|largest] [-beta 0.6] [-total 3600s] [-root 1800s]
           [-node 10s] [-pricing 60s] [-log solution.txt] [-improve] [-improve-time 60s]
           [-seed-greedy] [-schedule-out S]
  dive generate -out F [-seed 1] [-people N] [-groups N] [-tasks N] [-days N]
  dive audit -instance F -schedule S
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run 分发子命令，返回进程退出码
func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}

	var err error
	switch args[0] {
	case "run":
		err = cmdRun(args[1:], stdout)
	case "generate":
		err = cmdGenerate(args[1:], stdout)
	case "audit":
		err = cmdAudit(args[1:], stdout)
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
		return 0
	default:
		fmt.Fprintf(stderr, "未知子命令: %s\n\n%s", args[0], usage)
		return 2
	}

	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "错误: %v\n", err)
		return 1
	}
	return 0
}

func initLogger(level string) {
	logger.Init(logger.Config{
		Level:      level,
		Format:     "console",
		Output:     "stderr",
		TimeFormat: time.TimeOnly,
	})
}

func cmdRun(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	var (
		instancePath = fs.String("instance", "", "算例文件")
		solverName   = fs.String("solver", "diving", "求解器: diving 或 greedy")
		policy       = fs.String("policy", "sequential", "列生成策略: sequential 或 full_sweep")
		branching    = fs.String("branching", "threshold", "分支策略: threshold 或 largest")
		beta         = fs.Float64("beta", 0.6, "threshold 分支的阈值")
		total        = fs.Duration("total", 3600*time.Second, "总时间")
		root         = fs.Duration("root", 1800*time.Second, "根节点列生成时间")
		node         = fs.Duration("node", 10*time.Second, "全部固定后最后一次列生成时间")
		pricing      = fs.Duration("pricing", 60*time.Second, "单个定价子问题时间上限")
		logPath      = fs.String("log", "solution.txt", "运行日志文件，为空则不写")
		improve      = fs.Bool("improve", false, "用局部搜索改进整数解")
		improveTime  = fs.Duration("improve-time", 60*time.Second, "局部搜索时间")
		seedGreedy   = fs.Bool("seed-greedy", false, "用贪心排班为每人预置一列")
		scheduleOut  = fs.String("schedule-out", "", "把最终排班写成 JSON")
		logLevel     = fs.String("log-level", "info", "日志级别")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *instancePath == "" {
		return apperrors.InvalidInput("instance", "必须指定算例文件")
	}
	initLogger(*logLevel)

	inst, err := model.LoadInstance(*instancePath)
	if err != nil {
		return err
	}

	opts := diving.DefaultOptions()
	if opts.CGPolicy, err = colgen.ParsePolicy(*policy); err != nil {
		return apperrors.InvalidInput("policy", err.Error())
	}
	if opts.Branching, err = diving.ParseBranching(*branching); err != nil {
		return apperrors.InvalidInput("branching", err.Error())
	}
	opts.Threshold = *beta
	opts.TotalTime = *total
	opts.RootTime = *root
	opts.NodeTime = *node
	opts.PricingTimeLimit = *pricing
	opts.SeedGreedy = *seedGreedy
	opts.Logger = logger.Get()

	var s solver.Solver
	switch *solverName {
	case "diving":
		var improveCfg *optimizer.OptimizationConfig
		if *improve {
			improveCfg = optimizer.DefaultOptConfig()
			improveCfg.MaxTime = *improveTime
			improveCfg.MaxIterations = 1 << 30
		}
		s = solver.NewDivingSolver(opts, improveCfg)
	case "greedy":
		s = solver.NewGreedySolver(opts.PricingTimeLimit, opts.Logger)
	default:
		return apperrors.InvalidInput("solver", *solverName)
	}

	ctx, stop := signalContext()
	defer stop()

	res, err := s.Solve(ctx, inst)
	if err != nil {
		return err
	}
	printSummary(out, filepath.Base(*instancePath), res)

	if *logPath != "" && res.Dive != nil {
		runLog := stats.NewRunLog(*logPath, stats.RunLogHeader{
			CGPolicy:  opts.CGPolicy.String(),
			Branching: opts.Branching.String(),
			Threshold: opts.Threshold,
		})
		st := res.Statistics
		if err := runLog.Append(stats.RunRecord{
			Instance:    filepath.Base(*instancePath),
			Objective:   st.Objective,
			Elapsed:     res.Duration,
			MasterTime:  st.MasterTime,
			PricingTime: st.PricingTime,
			Columns:     st.ColumnsAdded,
			Unmet:       float64(st.Unmet),
			Excess:      float64(st.Excess),
		}); err != nil {
			return err
		}
	}

	if !res.Success {
		return apperrors.NoIntegerSolution(res.Message)
	}
	if *scheduleOut != "" {
		return writeJSON(*scheduleOut, res.Schedule)
	}
	return nil
}

func printSummary(out io.Writer, name string, res *solver.Result) {
	st := res.Statistics
	fmt.Fprintf(out, "算例: %s\n", name)
	fmt.Fprintf(out, "求解器: %s\n", res.Solver)
	fmt.Fprintf(out, "结果: %s\n", res.Message)
	fmt.Fprintf(out, "目标值: %d\n", st.Objective)
	if res.Dive != nil {
		fmt.Fprintf(out, "根节点下界: %.3f\n", st.RootBound)
		fmt.Fprintf(out, "间隙: %.2f%%\n", st.Gap*100)
		fmt.Fprintf(out, "列生成迭代: %d (根节点 %d)\n", st.Iterations, st.RootIterations)
		fmt.Fprintf(out, "加入列数: %d (根节点 %d)\n", st.ColumnsAdded, st.RootColumnsAdded)
		fmt.Fprintf(out, "下潜层数: %d\n", st.Levels)
		fmt.Fprintf(out, "主问题耗时: %.3fs, 子问题耗时: %.3fs\n", st.MasterTime.Seconds(), st.PricingTime.Seconds())
	}
	fmt.Fprintf(out, "未满足需求: %d, 过剩供给: %d\n", st.Unmet, st.Excess)
	fmt.Fprintf(out, "总耗时: %.3fs\n", res.Duration.Seconds())
}

func cmdGenerate(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("generate", flag.ContinueOnError)
	var (
		outPath = fs.String("out", "", "输出算例文件")
		seed    = fs.Uint64("seed", 1, "随机种子")
		people  = fs.Int("people", 0, "人数，0 表示按默认范围随机")
		groups  = fs.Int("groups", 0, "小组数，0 表示按默认范围随机")
		tasks   = fs.Int("tasks", 0, "任务数，0 表示按默认范围随机")
		days    = fs.Int("days", 0, "天数，0 表示随机取 28 或 56")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *outPath == "" {
		return apperrors.InvalidInput("out", "必须指定输出文件")
	}

	cfg := generator.DefaultConfig()
	cfg.Seed = *seed
	if *people > 0 {
		cfg.PeopleMin, cfg.PeopleMax = *people, *people
	}
	if *groups > 0 {
		cfg.GroupsMin, cfg.GroupsMax = *groups, *groups
	}
	if *tasks > 0 {
		cfg.TasksMin, cfg.TasksMax = *tasks, *tasks
	}
	if *days > 0 {
		cfg.ShortDays, cfg.LongDays = *days, *days
	}

	inst, err := generator.New(cfg).Generate()
	if err != nil {
		return err
	}
	f, err := os.Create(*outPath)
	if err != nil {
		return fmt.Errorf("创建算例文件失败: %w", err)
	}
	if err := model.WriteInstance(f, inst); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(out, "已生成 %s: %d 人, %d 组, %d 任务, %d 天, 总需求 %d\n",
		*outPath, inst.People, inst.Groups, inst.Tasks, inst.Days, inst.TotalDemand())
	return nil
}

// errConflicts 排班存在冲突
var errConflicts = apperrors.New(apperrors.CodeInvalidSchedule, "排班违反个人排班规则")

func cmdAudit(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("audit", flag.ContinueOnError)
	var (
		instancePath = fs.String("instance", "", "算例文件")
		schedulePath = fs.String("schedule", "", "排班 JSON 文件")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *instancePath == "" || *schedulePath == "" {
		return apperrors.InvalidInput("instance/schedule", "必须同时指定算例与排班文件")
	}

	inst, err := model.LoadInstance(*instancePath)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(*schedulePath)
	if err != nil {
		return fmt.Errorf("读取排班文件失败: %w", err)
	}
	var s model.Schedule
	if err := json.Unmarshal(data, &s); err != nil {
		return apperrors.Wrap(err, apperrors.CodeInvalidInput, "解析排班文件失败")
	}

	conflicts, err := validator.NewConflictDetector(inst, nil).DetectAll(&s)
	if err != nil {
		return err
	}
	ev := model.Evaluate(inst, &s)
	fmt.Fprintf(out, "目标值: %.0f, 未满足需求: %d, 过剩供给: %d\n", ev.Total, ev.Unmet, ev.Excess)
	for _, c := range conflicts {
		day := "-"
		if c.Day >= 0 {
			day = fmt.Sprint(c.Day)
		}
		fmt.Fprintf(out, "人员 %d\t第 %s 天\t%s\t%s\n", c.Person, day, c.Type, c.Message)
	}
	if validator.HasErrors(conflicts) {
		return fmt.Errorf("%w: %d 处冲突", errConflicts, len(conflicts))
	}
	fmt.Fprintln(out, "排班满足全部个人排班规则")
	return nil
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// signalContext 收到中断信号时取消求解，已得到的结果照常输出
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
