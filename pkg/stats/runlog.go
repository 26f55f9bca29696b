package stats

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// RunLogHeader 运行日志文件头：列生成方式与分支方式
type RunLogHeader struct {
	CGPolicy  string
	Branching string
	Threshold float64
}

// RunRecord 运行日志中的一行
type RunRecord struct {
	Instance    string
	Objective   int
	Elapsed     time.Duration
	MasterTime  time.Duration
	PricingTime time.Duration
	Columns     int
	Unmet       float64
	Excess      float64
}

// RunLog 追加写入的制表符分隔运行日志。文件为空时先写表头
type RunLog struct {
	path   string
	header RunLogHeader
	mu     sync.Mutex
}

// NewRunLog 创建运行日志
func NewRunLog(path string, header RunLogHeader) *RunLog {
	return &RunLog{path: path, header: header}
}

// Path 日志文件路径
func (l *RunLog) Path() string { return l.path }

// Append 追加一行；文件为空时先写表头
func (l *RunLog) Append(rec RunRecord) error {
	return l.AppendWithHeader(l.header, rec)
}

// AppendWithHeader 同 Append，但文件为空时写入给定的表头
func (l *RunLog) AppendWithHeader(header RunLogHeader, rec RunRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("打开运行日志失败: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("读取运行日志状态失败: %w", err)
	}
	if info.Size() == 0 {
		if err := WriteRunLogHeader(f, header); err != nil {
			return err
		}
	}
	return WriteRunRecord(f, rec)
}

// WriteRunLogHeader 写表头块
func WriteRunLogHeader(w io.Writer, h RunLogHeader) error {
	cg := "one column per person"
	if h.CGPolicy == "sequential" {
		cg = "one column for person p and reoptimize"
	}
	branching := "Branching method: largest fractional variable"
	if h.Branching == "threshold" {
		branching = fmt.Sprintf("Branching method: value above threshold\nBeta = %g", h.Threshold)
	}
	_, err := fmt.Fprintf(w, "Column generation method: %s\n%s\n\n\n"+
		"Instance\tObj value\tComp time (s)\tTime master (s)\tTime subproblem (s)\tCols added total\tUnmet demand\tExcess supply",
		cg, branching)
	return err
}

// WriteRunRecord 写一行记录（以换行开头）
func WriteRunRecord(w io.Writer, r RunRecord) error {
	_, err := fmt.Fprintf(w, "\n%s\t%d\t%.3f\t%.3f\t%.3f\t%d\t%g\t%g",
		r.Instance, r.Objective, r.Elapsed.Seconds(), r.MasterTime.Seconds(), r.PricingTime.Seconds(),
		r.Columns, r.Unmet, r.Excess)
	return err
}
