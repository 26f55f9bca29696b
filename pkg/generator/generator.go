// Package generator 生成随机的排班算例。
//
// 人数、组数、任务数在给定区间内均匀抽取，计划期以一定概率为 28 天，否则 56 天。
// 每人、每个任务随机归属一个组；技能按统一的覆盖概率逐人逐任务抽取。
// 需求按每个任务的可用供给乘以利用率后服从泊松分布。
package generator

import (
	"math"

	"github.com/go-playground/validator/v10"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	apperrors "github.com/paiban/bnpdive/pkg/errors"
	"github.com/paiban/bnpdive/pkg/model"
)

// Config 生成参数
type Config struct {
	PeopleMin int `json:"people_min" validate:"gte=1"`
	PeopleMax int `json:"people_max" validate:"gtefield=PeopleMin"`
	GroupsMin int `json:"groups_min" validate:"gte=1"`
	GroupsMax int `json:"groups_max" validate:"gtefield=GroupsMin"`
	TasksMin  int `json:"tasks_min" validate:"gte=1"`
	TasksMax  int `json:"tasks_max" validate:"gtefield=TasksMin"`

	ShortDays     int     `json:"short_days" validate:"gte=1"`
	LongDays      int     `json:"long_days" validate:"gte=1"`
	ShortDaysProb float64 `json:"short_days_prob" validate:"gte=0,lte=1"`
	HolidaysMax   int     `json:"holidays_max" validate:"gte=0"`

	SkillCoverageMin  float64 `json:"skill_coverage_min" validate:"gt=0,lte=1"`
	SkillCoverageMax  float64 `json:"skill_coverage_max" validate:"gtefield=SkillCoverageMin,lte=1"`
	DemandCoverageMin float64 `json:"demand_coverage_min" validate:"gte=0"`
	DemandCoverageMax float64 `json:"demand_coverage_max" validate:"gtefield=DemandCoverageMin"`

	// MaxVariables 人数×任务数×天数×班次数的上限，超过时重新抽取规模
	MaxVariables int    `json:"max_variables" validate:"gte=1"`
	Seed         uint64 `json:"seed"`
}

// DefaultConfig 默认参数
func DefaultConfig() Config {
	return Config{
		PeopleMin:         250,
		PeopleMax:         350,
		GroupsMin:         5,
		GroupsMax:         15,
		TasksMin:          40,
		TasksMax:          80,
		ShortDays:         28,
		LongDays:          56,
		ShortDaysProb:     0.8,
		HolidaysMax:       2,
		SkillCoverageMin:  0.2,
		SkillCoverageMax:  1.0,
		DemandCoverageMin: 0.6,
		DemandCoverageMax: 1.2,
		MaxVariables:      3_000_000,
		Seed:              1,
	}
}

// maxResample 规模重抽的次数上限
const maxResample = 1000

var validate = validator.New()

// Generator 算例生成器
type Generator struct {
	cfg Config
	src rand.Source
}

// New 创建生成器
func New(cfg Config) *Generator {
	return &Generator{cfg: cfg, src: rand.NewSource(cfg.Seed)}
}

// uniformInt [lo, hi] 上的均匀整数
func (g *Generator) uniformInt(lo, hi int) int {
	if hi <= lo {
		return lo
	}
	u := distuv.Uniform{Min: float64(lo), Max: float64(hi + 1), Src: g.src}
	return min(int(math.Floor(u.Rand())), hi)
}

func (g *Generator) uniform(lo, hi float64) float64 {
	if hi <= lo {
		return lo
	}
	return distuv.Uniform{Min: lo, Max: hi, Src: g.src}.Rand()
}

func (g *Generator) bernoulli(p float64) bool {
	return distuv.Bernoulli{P: p, Src: g.src}.Rand() == 1
}

// Generate 生成一个算例
func (g *Generator) Generate() (*model.Instance, error) {
	if err := validate.Struct(g.cfg); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInvalidInput, "生成参数无效")
	}
	cfg := g.cfg

	h := model.Header{Days: cfg.LongDays}
	if g.bernoulli(cfg.ShortDaysProb) {
		h.Days = cfg.ShortDays
	}
	for i := 0; ; i++ {
		if i == maxResample {
			return nil, apperrors.New(apperrors.CodeInvalidInput, "无法在变量上限内抽取算例规模")
		}
		h.People = g.uniformInt(cfg.PeopleMin, cfg.PeopleMax)
		h.Groups = g.uniformInt(cfg.GroupsMin, cfg.GroupsMax)
		h.Tasks = g.uniformInt(cfg.TasksMin, cfg.TasksMax)
		if h.People*h.Tasks*h.Days*model.NumShifts <= cfg.MaxVariables {
			break
		}
	}
	h.GroupsCODU = h.Groups / 4
	h.TasksCODU = h.Tasks / 4
	h.Holidays = g.uniformInt(0, cfg.HolidaysMax)
	h.StartDay = g.uniformInt(0, 6)

	inst := model.NewInstance(h)
	for p := 0; p < h.People; p++ {
		inst.PeopleGroup[p][g.uniformInt(0, h.Groups-1)] = true
	}
	for t := 0; t < h.Tasks; t++ {
		inst.GroupTask[g.uniformInt(0, h.Groups-1)][t] = true
	}
	g.assignSkills(inst)
	g.assignDemands(inst)
	return inst, nil
}

// assignSkills 逐人逐任务按覆盖概率抽取技能；一个技能都没有的人随机补一个
func (g *Generator) assignSkills(inst *model.Instance) {
	coverage := g.uniform(g.cfg.SkillCoverageMin, g.cfg.SkillCoverageMax)
	for p := 0; p < inst.People; p++ {
		has := false
		for t := 0; t < inst.Tasks; t++ {
			if g.bernoulli(coverage) {
				inst.PeopleTask[p][t] = true
				has = true
			}
		}
		if !has {
			inst.PeopleTask[p][g.uniformInt(0, inst.Tasks-1)] = true
		}
	}
}

// assignDemands 每人对每个可执行任务贡献 1/任务数，再乘以出勤比例 17.5/28、
// 每天一个班 1/3 和利用率，得到每个时段的泊松均值
func (g *Generator) assignDemands(inst *model.Instance) {
	utilisation := g.uniform(g.cfg.DemandCoverageMin, g.cfg.DemandCoverageMax)
	taskCount := make([]int, inst.People)
	for p := range taskCount {
		taskCount[p] = len(inst.TasksOf(p))
	}
	for t := 0; t < inst.Tasks; t++ {
		supply := 0.0
		for p := 0; p < inst.People; p++ {
			if inst.IsEligible(p, t) {
				supply += 1 / float64(taskCount[p])
			}
		}
		lambda := supply * (17.5 / 28.0) * (1.0 / 3.0) * utilisation
		if lambda <= 0 {
			continue
		}
		dist := distuv.Poisson{Lambda: lambda, Src: g.src}
		for d := 0; d < inst.Days; d++ {
			for s := 0; s < model.NumShifts; s++ {
				inst.Demands[t][d][s] = int(dist.Rand())
			}
		}
	}
}
