package oracle

// Status 求解状态
type Status int

const (
	StatusOptimal Status = iota
	// StatusCutoff 没有目标值严格优于截断值的解
	StatusCutoff
	StatusInfeasible
	StatusUnbounded
	StatusInfeasibleOrUnbounded
	StatusTimeLimitWithIncumbent
	StatusTimeLimitNoIncumbent
	StatusResourceLimit
	StatusError
)

var statusNames = map[Status]string{
	StatusOptimal:                "Optimal",
	StatusCutoff:                 "Cutoff",
	StatusInfeasible:             "Infeasible",
	StatusUnbounded:              "Unbounded",
	StatusInfeasibleOrUnbounded:  "InfeasibleOrUnbounded",
	StatusTimeLimitWithIncumbent: "TimeLimitWithIncumbent",
	StatusTimeLimitNoIncumbent:   "TimeLimitNoIncumbent",
	StatusResourceLimit:          "ResourceLimit",
	StatusError:                  "Error",
}

// String 返回状态文本
func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "Unknown"
}

// HasSolution 状态是否附带可用的原始解
func (s Status) HasSolution() bool {
	return s == StatusOptimal || s == StatusTimeLimitWithIncumbent
}
