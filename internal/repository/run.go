package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/paiban/bnpdive/pkg/model"
)

// Run 一次求解的摘要
type Run struct {
	ID           uuid.UUID     `json:"id"`
	InstanceName string        `json:"instance_name"`
	Solver       string        `json:"solver"`
	CGPolicy     string        `json:"cg_policy"`
	Branching    string        `json:"branching"`
	Threshold    float64       `json:"threshold"`
	Success      bool          `json:"success"`
	Objective    int           `json:"objective"`
	RootBound    float64       `json:"root_bound"`
	Gap          float64       `json:"gap"`
	Unmet        int           `json:"unmet_demand"`
	Excess       int           `json:"excess_supply"`
	Iterations   int           `json:"iterations"`
	Columns      int           `json:"columns_added"`
	Levels       int           `json:"levels"`
	MasterTime   time.Duration `json:"master_time"`
	PricingTime  time.Duration `json:"pricing_time"`
	Duration     time.Duration `json:"duration"`
	Message      string        `json:"message"`
	CreatedAt    time.Time     `json:"created_at"`
}

// Assignment 最终排班中的一个分配
type Assignment struct {
	Person int `json:"person"`
	Day    int `json:"day"`
	Shift  int `json:"shift"`
	Task   int `json:"task"`
}

// AssignmentsFromSchedule 展开排班中的全部分配
func AssignmentsFromSchedule(s *model.Schedule) []Assignment {
	var out []Assignment
	for p, days := range s.Assign {
		for d, shifts := range days {
			for sh, t := range shifts {
				if t != model.Unassigned {
					out = append(out, Assignment{Person: p, Day: d, Shift: sh, Task: t})
				}
			}
		}
	}
	return out
}

// ScheduleFromAssignments 由分配还原排班，越界的分配被忽略
func ScheduleFromAssignments(people, days int, as []Assignment) *model.Schedule {
	s := model.NewSchedule(people, days)
	for _, a := range as {
		if a.Person < 0 || a.Person >= people || a.Day < 0 || a.Day >= days || a.Shift < 0 || a.Shift >= model.NumShifts {
			continue
		}
		s.Set(a.Person, a.Day, a.Shift, a.Task)
	}
	return s
}

// RunRepositoryInterface 运行记录仓储接口
type RunRepositoryInterface interface {
	Save(ctx context.Context, run *Run, assignments []Assignment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Run, error)
	GetAssignments(ctx context.Context, runID uuid.UUID) ([]Assignment, error)
	List(ctx context.Context, filter ListFilter) ([]*Run, int, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// RunRepository 运行记录仓储实现
type RunRepository struct {
	db TxBeginner
}

// NewRunRepository 创建运行记录仓储
func NewRunRepository(db TxBeginner) *RunRepository {
	return &RunRepository{db: db}
}

const runColumns = `id, instance_name, solver, cg_policy, branching, threshold, success,
	objective, root_bound, gap, unmet_demand, excess_supply, iterations, columns_added, levels,
	master_ms, pricing_ms, duration_ms, message, created_at`

// Save 在一个事务中写入运行摘要和全部分配，分配用 COPY 批量写入
func (r *RunRepository) Save(ctx context.Context, run *Run, assignments []Assignment) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开始事务失败: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO dive_runs (` + runColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`
	_, err = tx.ExecContext(ctx, query,
		run.ID, run.InstanceName, run.Solver, run.CGPolicy, run.Branching, run.Threshold, run.Success,
		run.Objective, run.RootBound, run.Gap, run.Unmet, run.Excess, run.Iterations, run.Columns, run.Levels,
		run.MasterTime.Milliseconds(), run.PricingTime.Milliseconds(), run.Duration.Milliseconds(),
		run.Message, run.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("创建运行记录失败: %w", err)
	}

	if len(assignments) > 0 {
		stmt, err := tx.PrepareContext(ctx, pq.CopyIn("dive_assignments", "run_id", "person", "day", "shift", "task"))
		if err != nil {
			return fmt.Errorf("准备批量写入失败: %w", err)
		}
		for _, a := range assignments {
			if _, err := stmt.ExecContext(ctx, run.ID, a.Person, a.Day, a.Shift, a.Task); err != nil {
				stmt.Close()
				return fmt.Errorf("写入排班分配失败: %w", err)
			}
		}
		if _, err := stmt.ExecContext(ctx); err != nil {
			stmt.Close()
			return fmt.Errorf("提交批量写入失败: %w", err)
		}
		if err := stmt.Close(); err != nil {
			return fmt.Errorf("关闭批量写入失败: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("事务提交失败: %w", err)
	}
	return nil
}

// GetByID 根据ID获取运行记录，不存在时返回 nil
func (r *RunRepository) GetByID(ctx context.Context, id uuid.UUID) (*Run, error) {
	query := `SELECT ` + runColumns + ` FROM dive_runs WHERE id = $1`
	run, err := scanRun(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return run, err
}

// GetAssignments 获取运行的全部分配
func (r *RunRepository) GetAssignments(ctx context.Context, runID uuid.UUID) ([]Assignment, error) {
	query := `
		SELECT person, day, shift, task
		FROM dive_assignments
		WHERE run_id = $1
		ORDER BY person, day, shift
	`
	rows, err := r.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("查询排班分配失败: %w", err)
	}
	defer rows.Close()

	var out []Assignment
	for rows.Next() {
		var a Assignment
		if err := rows.Scan(&a.Person, &a.Day, &a.Shift, &a.Task); err != nil {
			return nil, fmt.Errorf("扫描排班分配失败: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// List 列出运行记录
func (r *RunRepository) List(ctx context.Context, filter ListFilter) ([]*Run, int, error) {
	where, args := buildRunWhere(filter)

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM dive_runs %s", where)
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("统计运行记录失败: %w", err)
	}

	orderBy, orderDir := sanitizeOrder(filter)
	query := fmt.Sprintf(`SELECT %s FROM dive_runs %s ORDER BY %s %s LIMIT $%d OFFSET $%d`,
		runColumns, where, orderBy, orderDir, len(args)+1, len(args)+2)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("查询运行记录失败: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, 0, err
		}
		runs = append(runs, run)
	}
	return runs, total, rows.Err()
}

// Delete 删除运行记录，分配随之级联删除
func (r *RunRepository) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM dive_runs WHERE id = $1", id); err != nil {
		return fmt.Errorf("删除运行记录失败: %w", err)
	}
	return nil
}

// buildRunWhere 按过滤器拼出 WHERE 子句和参数
func buildRunWhere(filter ListFilter) (string, []interface{}) {
	var conditions []string
	var args []interface{}

	switch filter.Status {
	case "success":
		conditions = append(conditions, "success = TRUE")
	case "failed":
		conditions = append(conditions, "success = FALSE")
	}
	if filter.Solver != "" {
		args = append(args, filter.Solver)
		conditions = append(conditions, fmt.Sprintf("solver = $%d", len(args)))
	}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		conditions = append(conditions, fmt.Sprintf("instance_name ILIKE $%d", len(args)))
	}

	if len(conditions) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(conditions, " AND "), args
}

var orderColumns = map[string]bool{
	"created_at":  true,
	"objective":   true,
	"gap":         true,
	"duration_ms": true,
}

// sanitizeOrder 排序列只允许白名单中的列
func sanitizeOrder(filter ListFilter) (string, string) {
	orderBy := "created_at"
	if orderColumns[filter.OrderBy] {
		orderBy = filter.OrderBy
	}
	orderDir := "DESC"
	if strings.EqualFold(filter.OrderDir, "asc") {
		orderDir = "ASC"
	}
	return orderBy, orderDir
}

// scanRun 扫描一行运行记录
func scanRun(row Scanner) (*Run, error) {
	run := &Run{}
	var masterMS, pricingMS, durationMS int64
	err := row.Scan(
		&run.ID, &run.InstanceName, &run.Solver, &run.CGPolicy, &run.Branching, &run.Threshold, &run.Success,
		&run.Objective, &run.RootBound, &run.Gap, &run.Unmet, &run.Excess, &run.Iterations, &run.Columns, &run.Levels,
		&masterMS, &pricingMS, &durationMS, &run.Message, &run.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("扫描运行记录失败: %w", err)
	}
	run.MasterTime = time.Duration(masterMS) * time.Millisecond
	run.PricingTime = time.Duration(pricingMS) * time.Millisecond
	run.Duration = time.Duration(durationMS) * time.Millisecond
	return run, nil
}
