package result

import "strings"

const (
	successMessage     = "execution succeeded"
	failureMessage     = "execution failed"
	runtimeErrorPrefix = failureMessage + ", cause: "
)

// Aggregator folds case results into a Response.
// Cases are added in input order; Add returns false once processing must stop.
type Aggregator struct {
	outputs     []string
	maxTime     int64
	maxMemory   int64
	memoryKnown bool
	failure     string
	stopped     bool
}

// NewAggregator returns an empty aggregator sized for n cases.
func NewAggregator(n int) *Aggregator {
	if n < 0 {
		n = 0
	}
	return &Aggregator{outputs: make([]string, 0, n)}
}

// Add records one case. It returns false when the case failed and later cases
// must not run. Calls after a stop are ignored.
func (a *Aggregator) Add(r RunResult) bool {
	if a.stopped {
		return false
	}
	if r.TimeMs > a.maxTime {
		a.maxTime = r.TimeMs
	}
	if r.MemoryMeasured {
		a.memoryKnown = true
		if r.MemoryBytes > a.maxMemory {
			a.maxMemory = r.MemoryBytes
		}
	}
	if r.Failed() {
		a.failure = runtimeErrorPrefix + r.ErrorMessage
		a.stopped = true
		return false
	}
	a.outputs = append(a.outputs, strings.TrimRight(r.Stdout, "\r\n"))
	return true
}

// Finalize produces the response. Status is always set.
func (a *Aggregator) Finalize() Response {
	resp := Response{
		OutputList: append([]string{}, a.outputs...),
		Status:     StatusSuccess,
		JudgeInfo:  JudgeInfo{Time: a.maxTime},
	}
	if a.memoryKnown {
		mem := a.maxMemory
		resp.JudgeInfo.Memory = &mem
	}
	if a.failure != "" {
		resp.Status = StatusRuntimeError
		resp.Message = a.failure
		resp.JudgeInfo.Message = failureMessage
		return resp
	}
	resp.Message = successMessage
	resp.JudgeInfo.Message = successMessage
	return resp
}

// Aggregate folds a complete slice of results.
func Aggregate(results []RunResult) Response {
	agg := NewAggregator(len(results))
	for _, r := range results {
		if !agg.Add(r) {
			break
		}
	}
	return agg.Finalize()
}
