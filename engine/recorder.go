package engine

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/mykhaliev/agent-sim/logger"
	"github.com/mykhaliev/agent-sim/model"
)

// Recorder keeps results in the order they were logged and echoes each one
// to the console.
type Recorder struct {
	mu      sync.Mutex
	out     io.Writer
	now     func() time.Time
	results []model.TestResult
}

func NewRecorder(out io.Writer) *Recorder {
	return &Recorder{out: out, now: time.Now}
}

// Log records a result and prints it as "[PASS] name: PASS" plus an indented details line.
func (r *Recorder) Log(phase, test string, status model.Status, details string) model.TestResult {
	result := model.TestResult{
		Test:      test,
		Status:    status,
		Details:   details,
		Timestamp: r.now(),
		Phase:     phase,
	}

	r.mu.Lock()
	r.results = append(r.results, result)
	fmt.Fprintf(r.out, "[%s] %s: %s\n", status, test, status)
	if details != "" {
		fmt.Fprintf(r.out, "   %s\n", details)
	}
	r.mu.Unlock()

	if status == model.StatusPass {
		logger.Logger.Debug("Step passed", "phase", phase, "test", test)
	} else {
		logger.Logger.Warn("Step failed", "phase", phase, "test", test, "details", details)
	}
	return result
}

func (r *Recorder) Pass(phase, test, details string) model.TestResult {
	return r.Log(phase, test, model.StatusPass, details)
}

func (r *Recorder) Fail(phase, test string, err error) model.TestResult {
	return r.Log(phase, test, model.StatusFail, err.Error())
}

// Results returns a copy of everything recorded so far.
func (r *Recorder) Results() []model.TestResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.TestResult, len(r.results))
	copy(out, r.results)
	return out
}
